package claimservice

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/database"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/payout"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/rpc"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/balancerepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/claimrepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/historyrepo"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
	"github.com/EM-ade/realmkin-sub000/pkg/token"
)

type claimService struct {
	ledger            *database.Ledger
	balanceRepo       balancerepo.IBalanceRepository
	claimRepo         claimrepo.IClaimRepository
	historyRepo       historyrepo.IHistoryRepository
	executor          payout.IPayoutExecutor
	verifier          rpc.IChainVerifier
	events            domain.EventPublisher
	epsilon           decimal.Decimal
	idempotencyWindow time.Duration
	historyLimit      int
	now               func() time.Time
	logger            zerolog.Logger
}

func NewClaimService(
	ledger *database.Ledger,
	balanceRepo balancerepo.IBalanceRepository,
	claimRepo claimrepo.IClaimRepository,
	historyRepo historyrepo.IHistoryRepository,
	executor payout.IPayoutExecutor,
	verifier rpc.IChainVerifier,
	events domain.EventPublisher,
	cfg *config.Config,
	logger zerolog.Logger,
) IClaimService {
	epsilon, err := decimal.NewFromString(cfg.Settlement.Epsilon)
	if err != nil {
		epsilon = decimal.RequireFromString("0.001")
	}
	return &claimService{
		ledger:            ledger,
		balanceRepo:       balanceRepo,
		claimRepo:         claimRepo,
		historyRepo:       historyRepo,
		executor:          executor,
		verifier:          verifier,
		events:            events,
		epsilon:           epsilon,
		idempotencyWindow: cfg.Settlement.IdempotencyWindow,
		historyLimit:      cfg.Settlement.ClaimHistoryLimit,
		now:               time.Now,
		logger:            logger.With().Str("component", "claims").Logger(),
	}
}

func (s *claimService) Claim(ctx context.Context, ownerID string, req ClaimRequest) (*domain.ClaimResult, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.NewInvalidArgument("amount", "must be positive")
	}
	if req.IdempotencyKey == "" {
		return nil, domain.NewInvalidArgument("idempotency_key", "is required")
	}
	dest, err := domain.ParseWalletAddress(req.DestinationWallet)
	if err != nil {
		return nil, err
	}

	if prior, err := s.priorOutcome(ctx, ownerID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	now := s.now().UTC()
	claim := &domain.ClaimRecord{
		ClaimID:           uuid.New().String(),
		OwnerID:           ownerID,
		Amount:            req.Amount,
		DeductedAmount:    decimal.Zero,
		DestinationWallet: dest.String(),
		Status:            domain.ClaimStatusPending,
		CreatedAt:         now,
	}
	entry := &domain.HistoryEntry{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Kind:           domain.HistoryKindClaim,
		Status:         domain.HistoryStatusPending,
		Amount:         req.Amount,
		Token:          token.Symbol,
		Timestamp:      now,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: domain.HistoryMetadata{
			Claim: &domain.ClaimMetadata{
				ClaimID:           claim.ClaimID,
				DestinationWallet: dest.String(),
			},
		},
	}

	// The pending records land before any balance moves, so an interrupted
	// settlement is always visible to the reconciliation sweep.
	err = s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.claimRepo.CreateTx(ctx, tx, claim); err != nil {
			return err
		}
		return s.historyRepo.CreateTx(ctx, tx, entry)
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		if prior, lookupErr := s.priorOutcome(ctx, ownerID, req.IdempotencyKey); lookupErr == nil && prior != nil {
			return prior, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	var deducted decimal.Decimal
	err = s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		// A user with no balance record has never earned anything to claim.
		balance, err := s.balanceRepo.GetBalanceTx(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(balance.TotalBalance.Add(s.epsilon)) {
			return domain.ErrInsufficientBalance
		}
		// The rounding tolerance allows claiming a displayed balance that is
		// a hair above the stored one; the deduction is clamped so the
		// invariant holds exactly.
		deducted = decimal.Min(req.Amount, balance.TotalBalance)
		if _, err := s.balanceRepo.AdjustBalanceTx(ctx, tx, ownerID, deducted.Neg()); err != nil {
			return err
		}
		return s.claimRepo.SetDeductedTx(ctx, tx, claim.ClaimID, deducted)
	})
	if err != nil {
		code := domain.CodeOf(err)
		s.finalizeFailed(ctx, claim.ClaimID, entry.ID, string(code))
		if errors.Is(err, domain.ErrInsufficientBalance) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConcurrencyExhausted) {
			return s.failureResult(claim.ClaimID, code), nil
		}
		return nil, err
	}

	signature, payErr := s.executor.Payout(ctx, dest, deducted)
	if payErr == nil {
		s.completeClaim(ctx, claim.ClaimID, entry.ID, ownerID, signature)
		s.publish(domain.EventClaimSettled, ownerID, claim.ClaimID)
		s.publish(domain.EventBalanceChanged, ownerID, nil)
		return &domain.ClaimResult{
			Success:    true,
			ClaimID:    claim.ClaimID,
			TransferID: signature,
		}, nil
	}

	var pe *domain.PayoutError
	if !errors.As(payErr, &pe) {
		pe = &domain.PayoutError{
			Class:  domain.PayoutTimeout,
			Detail: "UNCLASSIFIED_PAYOUT_FAILURE",
			Err:    payErr,
		}
	}

	if !pe.DefinitelyNotSent() {
		return s.resolveAmbiguous(ctx, claim.ClaimID, entry.ID, ownerID, dest, deducted, pe), nil
	}

	// The transfer never reached the network, so crediting the deduction back
	// cannot double-pay.
	compErr := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := s.balanceRepo.AdjustBalanceTx(ctx, tx, ownerID, deducted); err != nil {
			return err
		}
		if err := s.claimRepo.FailTx(ctx, tx, claim.ClaimID, pe.Detail, s.now().UTC()); err != nil {
			return err
		}
		return s.historyRepo.FinalizeTx(ctx, tx, entry.ID, domain.HistoryStatusFailed, "", pe.Detail)
	})
	if compErr != nil {
		s.recordAnomaly(ctx, ownerID, deducted, compErr, pe)
		// The deduction stands until an operator restores it; the claim and
		// history records are still closed so the reconciliation sweep does not
		// escalate the same claim a second time.
		s.finalizeFailed(ctx, claim.ClaimID, entry.ID, pe.Detail)
	}

	s.publish(domain.EventClaimSettled, ownerID, claim.ClaimID)
	s.publish(domain.EventBalanceChanged, ownerID, nil)
	s.logger.Warn().
		Str("claim_id", claim.ClaimID).
		Str("owner_id", ownerID).
		Str("payout_class", string(pe.Class)).
		Str("payout_detail", pe.Detail).
		Msg("Claim failed, ledger compensated")
	return s.failureResult(claim.ClaimID, pe.Code()), nil
}

// resolveAmbiguous handles Timeout-class payout failures: the transfer may
// have landed, so the chain is consulted before anything is compensated. An
// unresolvable outcome leaves the claim pending for the reconciliation sweep.
func (s *claimService) resolveAmbiguous(ctx context.Context, claimID, entryID, ownerID string, dest domain.WalletAddress, deducted decimal.Decimal, pe *domain.PayoutError) *domain.ClaimResult {
	if pe.Signature != "" {
		fact, err := s.verifier.VerifyTransfer(ctx, pe.Signature, dest.String())
		if err == nil && token.WithinEpsilon(fact.Amount, deducted, s.epsilon) {
			s.completeClaim(ctx, claimID, entryID, ownerID, pe.Signature)
			s.publish(domain.EventClaimSettled, ownerID, claimID)
			return &domain.ClaimResult{
				Success:    true,
				ClaimID:    claimID,
				TransferID: pe.Signature,
			}
		}
	}

	if pe.Signature != "" {
		// Persist the signature so the sweep can resolve the outcome later.
		err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
			return s.claimRepo.RecordSubmissionTx(ctx, tx, claimID, pe.Signature)
		})
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("claim_id", claimID).
				Msg("Failed to record submitted transfer on pending claim")
		}
	}

	s.logger.Warn().
		Str("claim_id", claimID).
		Str("owner_id", ownerID).
		Str("signature", pe.Signature).
		Msg("Payout outcome unknown, claim left pending for reconciliation")
	return s.failureResult(claimID, domain.CodeNetworkTimeout)
}

func (s *claimService) completeClaim(ctx context.Context, claimID, entryID, ownerID, signature string) {
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		if err := s.claimRepo.CompleteTx(ctx, tx, claimID, signature, now); err != nil {
			return err
		}
		if err := s.historyRepo.FinalizeTx(ctx, tx, entryID, domain.HistoryStatusSuccess, signature, ""); err != nil {
			return err
		}
		return s.balanceRepo.StampLastClaimTx(ctx, tx, ownerID, now)
	})
	if err != nil {
		// The payout landed; the records stay pending until the sweep
		// re-finalizes them from chain state.
		s.logger.Error().
			Err(err).
			Str("claim_id", claimID).
			Str("signature", signature).
			Msg("Failed to finalize completed claim")
	}
}

func (s *claimService) finalizeFailed(ctx context.Context, claimID, entryID, errorCode string) {
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.claimRepo.FailTx(ctx, tx, claimID, errorCode, s.now().UTC()); err != nil {
			return err
		}
		return s.historyRepo.FinalizeTx(ctx, tx, entryID, domain.HistoryStatusFailed, "", errorCode)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("claim_id", claimID).
			Msg("Failed to finalize failed claim")
	}
}

// recordAnomaly escalates a failed compensation. The deduction committed and
// the payout definitively failed, so an operator has to restore the balance.
func (s *claimService) recordAnomaly(ctx context.Context, ownerID string, amount decimal.Decimal, ledgerErr error, pe *domain.PayoutError) {
	anomaly := &domain.SettlementAnomaly{
		ID:          uuid.New().String(),
		UserID:      ownerID,
		Amount:      amount,
		LedgerError: ledgerErr.Error(),
		PayoutError: pe.Error(),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.historyRepo.RecordAnomaly(ctx, anomaly); err != nil {
		s.logger.Error().
			Err(err).
			Str("owner_id", ownerID).
			Str("amount", amount.String()).
			Msg("Failed to record settlement anomaly")
		return
	}
	s.logger.Error().
		Str("anomaly_id", anomaly.ID).
		Str("owner_id", ownerID).
		Str("amount", amount.String()).
		Str("payout_error", pe.Error()).
		Msg("Settlement anomaly recorded, operator action required")
}

// priorOutcome returns the settled result for a repeated idempotency key, or
// nil when the key is fresh.
func (s *claimService) priorOutcome(ctx context.Context, ownerID, key string) (*domain.ClaimResult, error) {
	since := s.now().UTC().Add(-s.idempotencyWindow)
	entry, err := s.historyRepo.FindByIdempotencyKey(ctx, ownerID, key, since)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	claimID := ""
	if entry.Metadata.Claim != nil {
		claimID = entry.Metadata.Claim.ClaimID
	}
	switch entry.Status {
	case domain.HistoryStatusSuccess:
		return &domain.ClaimResult{
			Success:    true,
			ClaimID:    claimID,
			TransferID: entry.TransferID,
		}, nil
	case domain.HistoryStatusFailed:
		return s.failureResult(claimID, domain.ErrorCode(entry.ErrorCode)), nil
	default:
		return s.failureResult(claimID, domain.CodeSettlementPending), nil
	}
}

func (s *claimService) failureResult(claimID string, code domain.ErrorCode) *domain.ClaimResult {
	return &domain.ClaimResult{
		Success:   false,
		ClaimID:   claimID,
		ErrorCode: code,
		Message:   domain.MessageFor(code),
	}
}

func (s *claimService) publish(eventType domain.SettlementEventType, ownerID string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.SettlementEvent{
		Type:      eventType,
		OwnerID:   ownerID,
		Payload:   payload,
		Timestamp: s.now().UTC(),
	})
}

func (s *claimService) ClaimHistory(ctx context.Context, ownerID string, limit int) ([]domain.ClaimRecord, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	return s.claimRepo.ListByOwner(ctx, ownerID, limit)
}

func (s *claimService) Balance(ctx context.Context, ownerID string) (*domain.BalanceRecord, error) {
	balance, err := s.balanceRepo.GetBalance(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.BalanceRecord{
			UserID:       ownerID,
			TotalBalance: decimal.Zero,
			TotalStaked:  decimal.Zero,
		}, nil
	}
	return balance, err
}
