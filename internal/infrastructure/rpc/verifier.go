package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
	"github.com/EM-ade/realmkin-sub000/pkg/token"
)

// IChainVerifier admits externally supplied transfer signatures as ledger
// facts. Reading the same finalized signature twice yields the same fact.
type IChainVerifier interface {
	VerifyTransfer(ctx context.Context, signature, expectedRecipient string) (*domain.TransferFact, error)
}

// ChainVerifier resolves a signature against the chain at finalized
// commitment and extracts the effective reward-token transfer from the
// transaction's token balance deltas. Instruction data is never trusted;
// only balance movement counts.
type ChainVerifier struct {
	client         *SolanaClient
	rewardMint     string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         zerolog.Logger
}

func NewChainVerifier(client *SolanaClient, cfg *config.Config, logger zerolog.Logger) IChainVerifier {
	return &ChainVerifier{
		client:         client,
		rewardMint:     cfg.Solana.RewardMint,
		confirmTimeout: cfg.Solana.ConfirmTimeout,
		pollInterval:   cfg.Solana.ConfirmPollInterval,
		logger:         logger,
	}
}

func (v *ChainVerifier) VerifyTransfer(ctx context.Context, signature, expectedRecipient string) (*domain.TransferFact, error) {
	tx, err := v.awaitFinalized(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve transfer %s: %w", signature, err)
	}
	if tx == nil {
		return nil, &domain.InvalidTransferError{
			Signature: signature,
			Reason:    "transaction not found at finalized commitment",
		}
	}
	if tx.Meta == nil {
		return nil, &domain.InvalidTransferError{
			Signature: signature,
			Reason:    "transaction has no metadata",
		}
	}
	if tx.Meta.Err != nil {
		return nil, &domain.InvalidTransferError{
			Signature: signature,
			Reason:    "transaction failed on chain",
		}
	}

	deltas, err := v.tokenDeltas(tx.Meta)
	if err != nil {
		return nil, &domain.InvalidTransferError{
			Signature: signature,
			Reason:    err.Error(),
		}
	}

	recipientDelta, ok := deltas[expectedRecipient]
	if !ok || !recipientDelta.IsPositive() {
		v.logger.Warn().
			Str("signature", signature).
			Str("expected_recipient", expectedRecipient).
			Int("delta_count", len(deltas)).
			Msg("No reward token credit to expected recipient")
		return nil, &domain.InvalidTransferError{
			Signature: signature,
			Reason:    fmt.Sprintf("no %s credit to %s", token.Symbol, expectedRecipient),
		}
	}

	sender := ""
	for owner, delta := range deltas {
		if delta.IsNegative() {
			sender = owner
			break
		}
	}

	var timestamp time.Time
	if tx.BlockTime != nil {
		timestamp = time.Unix(*tx.BlockTime, 0).UTC()
	}

	fact := &domain.TransferFact{
		Signature: signature,
		Sender:    sender,
		Recipient: expectedRecipient,
		Amount:    recipientDelta,
		Slot:      tx.Slot,
		Timestamp: timestamp,
	}
	v.logger.Info().
		Str("signature", signature).
		Str("sender", sender).
		Str("recipient", expectedRecipient).
		Str("amount", fact.Amount.String()).
		Uint64("slot", tx.Slot).
		Msg("Transfer verified on chain")
	return fact, nil
}

// awaitFinalized reads the transaction at finalized commitment, polling up to
// the configured confirmation deadline when the signature has not reached
// finality yet. A broadcast-but-unfinalized transfer is never admitted.
func (v *ChainVerifier) awaitFinalized(ctx context.Context, signature string) (*domain.SolanaTransaction, error) {
	tx, err := v.client.GetTransaction(ctx, signature)
	if err != nil || tx != nil {
		return tx, err
	}

	deadline := time.Now().Add(v.confirmTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.pollInterval):
		}
		tx, err = v.client.GetTransaction(ctx, signature)
		if err != nil || tx != nil {
			return tx, err
		}
	}
	return nil, nil
}

// tokenDeltas computes per-owner reward-mint balance movement as post minus
// pre. Owners absent from one side count as zero on that side.
func (v *ChainVerifier) tokenDeltas(meta *domain.TransactionMeta) (map[string]decimal.Decimal, error) {
	deltas := make(map[string]decimal.Decimal)

	for _, balance := range meta.PreTokenBalances {
		if balance.Mint != v.rewardMint {
			continue
		}
		amount, err := token.FromRawString(balance.UITokenAmount.Amount, balance.UITokenAmount.Decimals)
		if err != nil {
			return nil, fmt.Errorf("unreadable pre-balance for %s: %v", balance.Owner, err)
		}
		deltas[balance.Owner] = deltas[balance.Owner].Sub(amount)
	}
	for _, balance := range meta.PostTokenBalances {
		if balance.Mint != v.rewardMint {
			continue
		}
		amount, err := token.FromRawString(balance.UITokenAmount.Amount, balance.UITokenAmount.Decimals)
		if err != nil {
			return nil, fmt.Errorf("unreadable post-balance for %s: %v", balance.Owner, err)
		}
		deltas[balance.Owner] = deltas[balance.Owner].Add(amount)
	}

	if len(deltas) == 0 {
		return nil, fmt.Errorf("no %s token movement in transaction", token.Symbol)
	}
	return deltas, nil
}
