package stakeservice

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
	"github.com/EM-ade/realmkin-sub000/internal/repositories/historyrepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/stakerepo"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
	"github.com/EM-ade/realmkin-sub000/pkg/token"
)

type stakeService struct {
	ledger            *database.Ledger
	balanceRepo       balancerepo.IBalanceRepository
	stakeRepo         stakerepo.IStakeRepository
	historyRepo       historyrepo.IHistoryRepository
	verifier          rpc.IChainVerifier
	events            domain.EventPublisher
	aprTable          map[string]float64
	maxWeight         float64
	epsilon           decimal.Decimal
	custodialAddress  string
	idempotencyWindow time.Duration
	now               func() time.Time
	logger            zerolog.Logger
}

func NewStakeService(
	ledger *database.Ledger,
	balanceRepo balancerepo.IBalanceRepository,
	stakeRepo stakerepo.IStakeRepository,
	historyRepo historyrepo.IHistoryRepository,
	verifier rpc.IChainVerifier,
	events domain.EventPublisher,
	cfg *config.Config,
	logger zerolog.Logger,
) IStakeService {
	epsilon, err := decimal.NewFromString(cfg.Settlement.Epsilon)
	if err != nil {
		epsilon = decimal.RequireFromString("0.001")
	}
	return &stakeService{
		ledger:            ledger,
		balanceRepo:       balanceRepo,
		stakeRepo:         stakeRepo,
		historyRepo:       historyRepo,
		verifier:          verifier,
		events:            events,
		aprTable:          cfg.Staking.APRTable,
		maxWeight:         cfg.Staking.MaxWeight,
		epsilon:           epsilon,
		custodialAddress:  cfg.Solana.CustodialAddress,
		idempotencyWindow: cfg.Settlement.IdempotencyWindow,
		now:               time.Now,
		logger:            logger.With().Str("component", "staking").Logger(),
	}
}

func (s *stakeService) CreateStake(ctx context.Context, ownerID, ownerWallet string, req StakeRequest) (*domain.StakeRecord, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.NewInvalidArgument("amount", "must be positive")
	}
	lockDuration, ok := req.LockPeriod.LockDuration()
	if !ok {
		return nil, domain.NewInvalidArgument("lock_period", "unsupported lock period")
	}
	if req.DepositTransferID == "" {
		return nil, domain.NewInvalidArgument("deposit_transfer_id", "is required")
	}
	if req.IdempotencyKey == "" {
		return nil, domain.NewInvalidArgument("idempotency_key", "is required")
	}

	if prior, err := s.priorStake(ctx, ownerID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	// Verify first, mutate second. No record exists until the deposit is a
	// finalized on-chain fact.
	fact, err := s.verifier.VerifyTransfer(ctx, req.DepositTransferID, s.custodialAddress)
	if err != nil {
		return nil, err
	}
	if !token.WithinEpsilon(fact.Amount, req.Amount, s.epsilon) {
		return nil, domain.NewInvalidArgument("amount", "does not match the verified deposit amount")
	}
	if ownerWallet != "" && fact.Sender != ownerWallet {
		return nil, domain.NewInvalidArgument("deposit_transfer_id", "deposit was not sent from the caller's wallet")
	}

	now := s.now().UTC()
	stake := &domain.StakeRecord{
		StakeID:               uuid.New().String(),
		OwnerID:               ownerID,
		Amount:                req.Amount,
		LockPeriod:            req.LockPeriod,
		StartTime:             now,
		UnlockTime:            now.Add(lockDuration),
		Status:                domain.StakeStatusActive,
		RewardsEarned:         decimal.Zero,
		LastRewardUpdate:      now,
		OriginatingTransferID: req.DepositTransferID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err = s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.balanceRepo.CreateIfAbsentTx(ctx, tx, ownerID); err != nil {
			return err
		}
		if err := s.stakeRepo.CreateTx(ctx, tx, stake); err != nil {
			return err
		}
		if err := s.balanceRepo.AdjustTotalStakedTx(ctx, tx, ownerID, req.Amount); err != nil {
			return err
		}
		return s.historyRepo.CreateTx(ctx, tx, &domain.HistoryEntry{
			ID:             uuid.New().String(),
			OwnerID:        ownerID,
			Kind:           domain.HistoryKindStake,
			Status:         domain.HistoryStatusSuccess,
			Amount:         req.Amount,
			Token:          token.Symbol,
			Timestamp:      now,
			TransferID:     req.DepositTransferID,
			IdempotencyKey: req.IdempotencyKey,
			Metadata: domain.HistoryMetadata{
				Stake: &domain.StakeMetadata{
					StakeID:               stake.StakeID,
					LockPeriod:            string(req.LockPeriod),
					OriginatingTransferID: req.DepositTransferID,
				},
			},
		})
	})
	if errors.Is(err, domain.ErrDuplicateTransfer) {
		return nil, domain.NewInvalidArgument("deposit_transfer_id", "transfer already backs another stake")
	}
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		if prior, lookupErr := s.priorStake(ctx, ownerID, req.IdempotencyKey); lookupErr == nil && prior != nil {
			return prior, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.publish(domain.EventStakeChanged, ownerID, stake.StakeID)
	s.logger.Info().
		Str("stake_id", stake.StakeID).
		Str("owner_id", ownerID).
		Str("amount", req.Amount.String()).
		Str("lock_period", string(req.LockPeriod)).
		Str("deposit_transfer_id", req.DepositTransferID).
		Msg("Stake created")
	return stake, nil
}

func (s *stakeService) UserStakes(ctx context.Context, ownerID string) ([]StakeView, error) {
	stakes, err := s.stakeRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	views := make([]StakeView, 0, len(stakes))
	for _, stake := range stakes {
		view := StakeView{StakeRecord: stake, PendingReward: decimal.Zero}
		if stake.Status != domain.StakeStatusCompleted {
			view.PendingReward = pendingReward(&stake, s.apy(stake.LockPeriod), s.maxWeight, now)
		}
		views = append(views, view)
	}
	return views, nil
}

// UpdateRewards banks the pending accrual into rewardsEarned without paying
// it out.
func (s *stakeService) UpdateRewards(ctx context.Context, ownerID, stakeID string) (decimal.Decimal, error) {
	var banked decimal.Decimal
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		stake, err := s.ownedStakeTx(ctx, tx, ownerID, stakeID)
		if err != nil {
			return err
		}
		if stake.Status == domain.StakeStatusCompleted {
			return domain.ErrWrongStakeStatus
		}

		now := s.now().UTC()
		pending := pendingReward(stake, s.apy(stake.LockPeriod), s.maxWeight, now)
		banked = stake.RewardsEarned.Add(pending)
		return s.stakeRepo.UpdateRewardsTx(ctx, tx, stakeID, banked, now)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return banked, nil
}

// ClaimRewards banks the pending accrual and credits it to the owner's
// balance in the same ledger transaction. Principal stays locked.
func (s *stakeService) ClaimRewards(ctx context.Context, ownerID, stakeID, idempotencyKey string) (decimal.Decimal, error) {
	if idempotencyKey == "" {
		return decimal.Zero, domain.NewInvalidArgument("idempotency_key", "is required")
	}
	if prior, found, err := s.priorAmount(ctx, ownerID, idempotencyKey); err != nil {
		return decimal.Zero, err
	} else if found {
		return prior, nil
	}

	var claimed decimal.Decimal
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		stake, err := s.ownedStakeTx(ctx, tx, ownerID, stakeID)
		if err != nil {
			return err
		}
		if stake.Status == domain.StakeStatusCompleted {
			return domain.ErrWrongStakeStatus
		}

		now := s.now().UTC()
		claimed = pendingReward(stake, s.apy(stake.LockPeriod), s.maxWeight, now)
		if err := s.stakeRepo.UpdateRewardsTx(ctx, tx, stakeID, stake.RewardsEarned.Add(claimed), now); err != nil {
			return err
		}
		if err := s.balanceRepo.CreateIfAbsentTx(ctx, tx, ownerID); err != nil {
			return err
		}
		if _, err := s.balanceRepo.AdjustBalanceTx(ctx, tx, ownerID, claimed); err != nil {
			return err
		}
		return s.historyRepo.CreateTx(ctx, tx, &domain.HistoryEntry{
			ID:             uuid.New().String(),
			OwnerID:        ownerID,
			Kind:           domain.HistoryKindStakingClaim,
			Status:         domain.HistoryStatusSuccess,
			Amount:         claimed,
			Token:          token.Symbol,
			Timestamp:      now,
			IdempotencyKey: idempotencyKey,
			Metadata: domain.HistoryMetadata{
				Stake: &domain.StakeMetadata{
					StakeID:    stakeID,
					LockPeriod: string(stake.LockPeriod),
				},
			},
		})
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		if prior, found, lookupErr := s.priorAmount(ctx, ownerID, idempotencyKey); lookupErr == nil && found {
			return prior, nil
		}
		return decimal.Zero, err
	}
	if err != nil {
		return decimal.Zero, err
	}

	s.publish(domain.EventBalanceChanged, ownerID, nil)
	return claimed, nil
}

// RequestUnstake gates on lock expiry, flushes pending rewards, and moves the
// stake to unstaking. The principal leaves custody only in CompleteUnstake.
func (s *stakeService) RequestUnstake(ctx context.Context, ownerID, stakeID string) error {
	err := s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		stake, err := s.ownedStakeTx(ctx, tx, ownerID, stakeID)
		if err != nil {
			return err
		}
		if stake.Status != domain.StakeStatusActive {
			return domain.ErrWrongStakeStatus
		}

		now := s.now().UTC()
		if !stake.Unlocked(now) {
			return domain.ErrStillLocked
		}

		pending := pendingReward(stake, s.apy(stake.LockPeriod), s.maxWeight, now)
		if err := s.stakeRepo.UpdateRewardsTx(ctx, tx, stakeID, stake.RewardsEarned.Add(pending), now); err != nil {
			return err
		}
		return s.stakeRepo.TransitionStatusTx(ctx, tx, stakeID, domain.StakeStatusActive, domain.StakeStatusUnstaking, now)
	})
	if err != nil {
		return err
	}

	s.publish(domain.EventStakeChanged, ownerID, stakeID)
	s.logger.Info().
		Str("stake_id", stakeID).
		Str("owner_id", ownerID).
		Msg("Unstake requested")
	return nil
}

// CompleteUnstake admits the custodial payout of the principal and closes the
// stake. The supplied transfer must credit the requesting user's own wallet.
func (s *stakeService) CompleteUnstake(ctx context.Context, ownerID, ownerWallet, stakeID, payoutTransferID string) error {
	if payoutTransferID == "" {
		return domain.NewInvalidArgument("payout_transfer_id", "is required")
	}
	if ownerWallet == "" {
		return domain.NewInvalidArgument("wallet", "caller has no linked wallet")
	}

	stake, err := s.stakeRepo.GetStake(ctx, stakeID)
	if err != nil {
		return err
	}
	if stake.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	if stake.Status != domain.StakeStatusUnstaking {
		return domain.ErrWrongStakeStatus
	}

	fact, err := s.verifier.VerifyTransfer(ctx, payoutTransferID, ownerWallet)
	if err != nil {
		return err
	}
	if !token.WithinEpsilon(fact.Amount, stake.Amount, s.epsilon) {
		return domain.NewInvalidArgument("payout_transfer_id", "transfer amount does not match the stake principal")
	}

	err = s.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		if err := s.stakeRepo.TransitionStatusTx(ctx, tx, stakeID, domain.StakeStatusUnstaking, domain.StakeStatusCompleted, now); err != nil {
			return err
		}
		if err := s.balanceRepo.AdjustTotalStakedTx(ctx, tx, ownerID, stake.Amount.Neg()); err != nil {
			return err
		}
		return s.historyRepo.CreateTx(ctx, tx, &domain.HistoryEntry{
			ID:         uuid.New().String(),
			OwnerID:    ownerID,
			Kind:       domain.HistoryKindUnstake,
			Status:     domain.HistoryStatusSuccess,
			Amount:     stake.Amount,
			Token:      token.Symbol,
			Timestamp:  now,
			TransferID: payoutTransferID,
			Metadata: domain.HistoryMetadata{
				Unstake: &domain.UnstakeMetadata{
					StakeID:          stakeID,
					PayoutTransferID: payoutTransferID,
				},
			},
		})
	})
	if err != nil {
		return err
	}

	s.publish(domain.EventStakeChanged, ownerID, stakeID)
	s.logger.Info().
		Str("stake_id", stakeID).
		Str("owner_id", ownerID).
		Str("payout_transfer_id", payoutTransferID).
		Msg("Unstake completed")
	return nil
}

func (s *stakeService) GlobalMetrics(ctx context.Context) (*domain.StakingMetrics, error) {
	return s.balanceRepo.GlobalStakingMetrics(ctx)
}

func (s *stakeService) apy(period domain.LockPeriod) float64 {
	return s.aprTable[string(period)]
}

func (s *stakeService) ownedStakeTx(ctx context.Context, tx *sql.Tx, ownerID, stakeID string) (*domain.StakeRecord, error) {
	stake, err := s.stakeRepo.GetStakeTx(ctx, tx, stakeID)
	if err != nil {
		return nil, err
	}
	if stake.OwnerID != ownerID {
		// Existence of other users' stakes is not disclosed.
		return nil, domain.ErrNotFound
	}
	return stake, nil
}

// priorStake resolves a repeated stake-creation idempotency key to the stake
// it already created.
func (s *stakeService) priorStake(ctx context.Context, ownerID, key string) (*domain.StakeRecord, error) {
	entry, err := s.historyRepo.FindByIdempotencyKey(ctx, ownerID, key, s.now().UTC().Add(-s.idempotencyWindow))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.Metadata.Stake == nil {
		return nil, domain.NewInvalidArgument("idempotency_key", "reused across operation kinds")
	}
	return s.stakeRepo.GetStake(ctx, entry.Metadata.Stake.StakeID)
}

// priorAmount resolves a repeated reward-claim idempotency key to the amount
// already credited.
func (s *stakeService) priorAmount(ctx context.Context, ownerID, key string) (decimal.Decimal, bool, error) {
	entry, err := s.historyRepo.FindByIdempotencyKey(ctx, ownerID, key, s.now().UTC().Add(-s.idempotencyWindow))
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return entry.Amount, true, nil
}

func (s *stakeService) publish(eventType domain.SettlementEventType, ownerID string, payload interface{}) {
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
