package payout

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/rpc"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
	"github.com/EM-ade/realmkin-sub000/pkg/token"
)

// IPayoutExecutor moves reward tokens from the custodial wallet to a user
// wallet. Failures come back as *domain.PayoutError so callers can tell
// definitely-not-sent failures from ambiguous ones.
type IPayoutExecutor interface {
	Payout(ctx context.Context, destination domain.WalletAddress, amount decimal.Decimal) (string, error)
}

type Executor struct {
	client              *rpc.SolanaClient
	custodialKey        ed25519.PrivateKey
	custodialAddress    domain.WalletAddress
	rewardMint          domain.WalletAddress
	tokenDecimals       int
	confirmTimeout      time.Duration
	confirmPollInterval time.Duration
	logger              zerolog.Logger
}

func NewExecutor(client *rpc.SolanaClient, cfg *config.Config, logger zerolog.Logger) *Executor {
	e := &Executor{
		client:              client,
		tokenDecimals:       cfg.Solana.TokenDecimals,
		confirmTimeout:      cfg.Solana.ConfirmTimeout,
		confirmPollInterval: cfg.Solana.ConfirmPollInterval,
		logger:              logger,
	}

	// Bad custodial configuration is detected here but only reported when a
	// payout is attempted, as a Configuration-class failure.
	if key, err := parseCustodialKey(cfg.Solana.CustodialKey); err == nil {
		e.custodialKey = key
	}
	if addr, err := domain.ParseWalletAddress(cfg.Solana.CustodialAddress); err == nil {
		e.custodialAddress = addr
	}
	if mint, err := domain.ParseWalletAddress(cfg.Solana.RewardMint); err == nil {
		e.rewardMint = mint
	}
	return e
}

// parseCustodialKey accepts the standard 64-byte keypair encoding or a bare
// 32-byte seed, both base58.
func parseCustodialKey(encoded string) (ed25519.PrivateKey, error) {
	if encoded == "" {
		return nil, fmt.Errorf("custodial key is empty")
	}
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("custodial key is not base58: %v", err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("custodial key decoded to %d bytes", len(decoded))
	}
}

func (e *Executor) Payout(ctx context.Context, destination domain.WalletAddress, amount decimal.Decimal) (string, error) {
	if e.custodialKey == nil || e.custodialAddress.IsZero() || e.rewardMint.IsZero() {
		return "", &domain.PayoutError{
			Class:  domain.PayoutConfiguration,
			Detail: "CUSTODIAL_WALLET_UNCONFIGURED",
		}
	}

	rawAmount, err := token.ToBaseUnits(amount, e.tokenDecimals)
	if err != nil {
		return "", &domain.PayoutError{
			Class:  domain.PayoutConfiguration,
			Detail: "AMOUNT_NOT_REPRESENTABLE",
			Err:    err,
		}
	}

	sourceATA, err := deriveAssociatedTokenAddress(e.custodialAddress.Bytes(), e.rewardMint.Bytes())
	if err != nil {
		return "", &domain.PayoutError{
			Class:  domain.PayoutAddressDerivation,
			Detail: "SOURCE_ACCOUNT_DERIVATION_FAILED",
			Err:    err,
		}
	}
	destATA, err := deriveAssociatedTokenAddress(destination.Bytes(), e.rewardMint.Bytes())
	if err != nil {
		return "", &domain.PayoutError{
			Class:  domain.PayoutAddressDerivation,
			Detail: "DESTINATION_ACCOUNT_DERIVATION_FAILED",
			Err:    err,
		}
	}

	// The recent blockhash doubles as the anti-replay nonce: the network
	// accepts the signed transaction exactly once.
	blockhash, err := e.client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", &domain.PayoutError{
			Class:  domain.PayoutNetworkRejected,
			Detail: "BLOCKHASH_UNAVAILABLE",
			Err:    err,
		}
	}
	blockhashBytes, err := base58.Decode(blockhash.Blockhash)
	if err != nil || len(blockhashBytes) != 32 {
		return "", &domain.PayoutError{
			Class:  domain.PayoutNetworkRejected,
			Detail: "BLOCKHASH_UNREADABLE",
			Err:    err,
		}
	}
	var recentBlockhash [32]byte
	copy(recentBlockhash[:], blockhashBytes)

	message := buildTransferMessage(
		e.custodialAddress.Bytes(), sourceATA, destATA,
		destination.Bytes(), e.rewardMint.Bytes(), recentBlockhash,
		rawAmount,
	)
	signature := ed25519.Sign(e.custodialKey, message)

	var signedTx []byte
	signedTx = appendCompactU16(signedTx, 1)
	signedTx = append(signedTx, signature...)
	signedTx = append(signedTx, message...)

	e.logger.Info().
		Str("destination", destination.String()).
		Str("amount", amount.String()).
		Uint64("raw_amount", rawAmount).
		Msg("Submitting payout")

	txSignature, err := e.client.SendTransaction(ctx, base64.StdEncoding.EncodeToString(signedTx))
	if err != nil {
		var rpcErr *domain.RPCError
		if errors.As(err, &rpcErr) {
			// The node rejected the submission outright; nothing was queued.
			return "", &domain.PayoutError{
				Class:  domain.PayoutNetworkRejected,
				Detail: rpcErr.Message,
				Err:    err,
			}
		}
		// Transport failure: the transaction may or may not have reached the
		// network. Callers must re-verify before compensating.
		return "", &domain.PayoutError{
			Class:  domain.PayoutTimeout,
			Detail: "SUBMISSION_OUTCOME_UNKNOWN",
			Err:    err,
		}
	}

	confirmCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	if err := e.client.WaitForFinalized(confirmCtx, txSignature, e.confirmPollInterval); err != nil {
		var rpcErr *domain.RPCError
		if errors.As(err, &rpcErr) {
			return "", &domain.PayoutError{
				Class:     domain.PayoutNetworkRejected,
				Detail:    rpcErr.Message,
				Signature: txSignature,
				Err:       err,
			}
		}
		return "", &domain.PayoutError{
			Class:     domain.PayoutTimeout,
			Detail:    "CONFIRMATION_TIMED_OUT",
			Signature: txSignature,
			Err:       err,
		}
	}

	e.logger.Info().
		Str("signature", txSignature).
		Str("destination", destination.String()).
		Str("amount", amount.String()).
		Msg("Payout finalized")
	return txSignature, nil
}
