package historylog

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
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/rpc"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/balancerepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/claimrepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/historyrepo"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
	"github.com/EM-ade/realmkin-sub000/pkg/token"
)

const sweepBatchSize = 100

// timeoutErrorCode is written when a pending settlement is forced failed by
// the reconciliation sweep.
const timeoutErrorCode = "SETTLEMENT_TIMEOUT"

type historyService struct {
	ledger         *database.Ledger
	historyRepo    historyrepo.IHistoryRepository
	claimRepo      claimrepo.IClaimRepository
	balanceRepo    balancerepo.IBalanceRepository
	verifier       rpc.IChainVerifier
	events         domain.EventPublisher
	epsilon        decimal.Decimal
	pendingTimeout time.Duration
	sweepInterval  time.Duration
	defaultLimit   int
	now            func() time.Time
	logger         zerolog.Logger
}

func NewHistoryService(
	ledger *database.Ledger,
	historyRepo historyrepo.IHistoryRepository,
	claimRepo claimrepo.IClaimRepository,
	balanceRepo balancerepo.IBalanceRepository,
	verifier rpc.IChainVerifier,
	events domain.EventPublisher,
	cfg *config.Config,
	logger zerolog.Logger,
) IHistoryService {
	epsilon, err := decimal.NewFromString(cfg.Settlement.Epsilon)
	if err != nil {
		epsilon = decimal.RequireFromString("0.001")
	}
	return &historyService{
		ledger:         ledger,
		historyRepo:    historyRepo,
		claimRepo:      claimRepo,
		balanceRepo:    balanceRepo,
		verifier:       verifier,
		events:         events,
		epsilon:        epsilon,
		pendingTimeout: cfg.Settlement.PendingTimeout,
		sweepInterval:  cfg.Settlement.SweepInterval,
		defaultLimit:   cfg.Settlement.ClaimHistoryLimit,
		now:            time.Now,
		logger:         logger.With().Str("component", "reconciliation").Logger(),
	}
}

func (s *historyService) History(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.historyRepo.ListByOwner(ctx, ownerID, limit)
}

// StartReconciliation runs the stale-pending sweep on a ticker until the
// context is cancelled. An entry pending past the settlement timeout is
// evidence of an interrupted settlement; each one is resolved against chain
// state and forced terminal.
func (s *historyService) StartReconciliation(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.sweepInterval).
		Dur("pending_timeout", s.pendingTimeout).
		Msg("Starting settlement reconciliation")

	// Entries left pending by a previous process are picked up immediately.
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial reconciliation sweep failed")
	}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Settlement reconciliation stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Reconciliation sweep failed")
			}
		}
	}
}

// SweepOnce resolves one batch of stale pending entries and returns how many
// it forced terminal.
func (s *historyService) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.pendingTimeout)
	entries, err := s.historyRepo.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range entries {
		entry := &entries[i]
		if entry.Kind != domain.HistoryKindClaim || entry.Metadata.Claim == nil {
			// Only claim settlements span multiple transactions; anything
			// else pending this long is malformed and closed as failed.
			s.forceFailed(ctx, entry, timeoutErrorCode)
			resolved++
			continue
		}
		if s.resolveClaim(ctx, entry) {
			resolved++
		}
	}
	if resolved > 0 {
		s.logger.Info().
			Int("resolved", resolved).
			Int("batch", len(entries)).
			Msg("Reconciliation sweep resolved stale settlements")
	}
	return resolved, nil
}

// resolveClaim decides the fate of one stale pending claim. Returns false
// when the outcome is still ambiguous and the entry is left for a later
// sweep or an operator.
func (s *historyService) resolveClaim(ctx context.Context, entry *domain.HistoryEntry) bool {
	claim, err := s.claimRepo.GetClaim(ctx, entry.Metadata.Claim.ClaimID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("entry_id", entry.ID).
			Str("claim_id", entry.Metadata.Claim.ClaimID).
			Msg("Stale pending entry references unloadable claim")
		return false
	}
	if claim.Status != domain.ClaimStatusPending {
		// The claim settled but its history entry did not; align them.
		s.alignEntry(ctx, entry, claim)
		return true
	}

	if claim.PayoutTransferID != "" {
		return s.resolveSubmitted(ctx, entry, claim)
	}

	if claim.DeductedAmount.IsZero() {
		// Interrupted before any balance moved; closing it loses nothing.
		s.failClaim(ctx, entry, claim, timeoutErrorCode, decimal.Zero)
		return true
	}

	// Balance was deducted and no signature was recorded: the payout outcome
	// is unknowable from here. Escalate instead of guessing.
	s.escalate(ctx, claim, "deducted claim has no recorded transfer signature")
	s.failClaim(ctx, entry, claim, timeoutErrorCode, decimal.Zero)
	return true
}

// resolveSubmitted re-verifies a recorded signature. By the time a claim is
// stale its blockhash has long expired, so a transfer absent at finalized
// commitment can no longer land and compensation is safe.
func (s *historyService) resolveSubmitted(ctx context.Context, entry *domain.HistoryEntry, claim *domain.ClaimRecord) bool {
	fact, err := s.verifier.VerifyTransfer(ctx, claim.PayoutTransferID, claim.DestinationWallet)
	if err == nil {
		if !token.WithinEpsilon(fact.Amount, claim.DeductedAmount, s.epsilon) {
			s.escalate(ctx, claim, "on-chain amount does not match the deduction")
		}
		s.completeClaim(ctx, entry, claim)
		return true
	}

	var invalid *domain.InvalidTransferError
	if errors.As(err, &invalid) {
		s.failClaim(ctx, entry, claim, timeoutErrorCode, claim.DeductedAmount)
		return true
	}

	// Transient verification failure; try again next sweep.
	s.logger.Warn().
		Err(err).
		Str("claim_id", claim.ClaimID).
		Str("signature", claim.PayoutTransferID).
		Msg("Could not re-verify stale claim, deferring")
	return false
}

func (s *historyService) completeClaim(ctx context.Context, entry *domain.HistoryEntry, claim *domain.ClaimRecord) {
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		if err := s.claimRepo.CompleteTx(ctx, tx, claim.ClaimID, claim.PayoutTransferID, now); err != nil {
			return err
		}
		if err := s.historyRepo.FinalizeTx(ctx, tx, entry.ID, domain.HistoryStatusSuccess, claim.PayoutTransferID, ""); err != nil {
			return err
		}
		return s.balanceRepo.StampLastClaimTx(ctx, tx, claim.OwnerID, now)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("claim_id", claim.ClaimID).
			Msg("Failed to complete reconciled claim")
		return
	}
	s.publish(claim.OwnerID)
	s.logger.Info().
		Str("claim_id", claim.ClaimID).
		Str("signature", claim.PayoutTransferID).
		Msg("Stale claim reconciled as completed")
}

// failClaim fails the claim and its entry, crediting compensation back when
// an amount was deducted.
func (s *historyService) failClaim(ctx context.Context, entry *domain.HistoryEntry, claim *domain.ClaimRecord, errorCode string, compensation decimal.Decimal) {
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		if compensation.IsPositive() {
			if _, err := s.balanceRepo.AdjustBalanceTx(ctx, tx, claim.OwnerID, compensation); err != nil {
				return err
			}
		}
		if err := s.claimRepo.FailTx(ctx, tx, claim.ClaimID, errorCode, s.now().UTC()); err != nil {
			return err
		}
		return s.historyRepo.FinalizeTx(ctx, tx, entry.ID, domain.HistoryStatusFailed, "", errorCode)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("claim_id", claim.ClaimID).
			Msg("Failed to fail reconciled claim")
		return
	}
	s.publish(claim.OwnerID)
	s.logger.Info().
		Str("claim_id", claim.ClaimID).
		Str("compensation", compensation.String()).
		Msg("Stale claim reconciled as failed")
}

// alignEntry finalizes a history entry whose claim already settled.
func (s *historyService) alignEntry(ctx context.Context, entry *domain.HistoryEntry, claim *domain.ClaimRecord) {
	status := domain.HistoryStatusFailed
	transferID := ""
	errorCode := claim.ErrorCode
	if claim.Status == domain.ClaimStatusCompleted {
		status = domain.HistoryStatusSuccess
		transferID = claim.PayoutTransferID
		errorCode = ""
	}
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		return s.historyRepo.FinalizeTx(ctx, tx, entry.ID, status, transferID, errorCode)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("entry_id", entry.ID).
			Msg("Failed to align history entry with settled claim")
	}
}

func (s *historyService) forceFailed(ctx context.Context, entry *domain.HistoryEntry, errorCode string) {
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		return s.historyRepo.FinalizeTx(ctx, tx, entry.ID, domain.HistoryStatusFailed, "", errorCode)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("entry_id", entry.ID).
			Msg("Failed to force stale entry terminal")
	}
}

func (s *historyService) escalate(ctx context.Context, claim *domain.ClaimRecord, reason string) {
	anomaly := &domain.SettlementAnomaly{
		ID:          uuid.New().String(),
		UserID:      claim.OwnerID,
		Amount:      claim.DeductedAmount,
		LedgerError: reason,
		PayoutError: claim.ErrorCode,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.historyRepo.RecordAnomaly(ctx, anomaly); err != nil {
		s.logger.Error().
			Err(err).
			Str("claim_id", claim.ClaimID).
			Msg("Failed to record reconciliation anomaly")
		return
	}
	s.logger.Error().
		Str("anomaly_id", anomaly.ID).
		Str("claim_id", claim.ClaimID).
		Str("reason", reason).
		Msg("Reconciliation anomaly recorded, operator action required")
}

func (s *historyService) publish(ownerID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.SettlementEvent{
		Type:      domain.EventBalanceChanged,
		OwnerID:   ownerID,
		Timestamp: s.now().UTC(),
	})
}
