package stakeservice

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// StakeRequest creates a locked position backed by an already-sent deposit.
// DepositTransferID must resolve on chain to a transfer of Amount to the
// custodial stake address.
type StakeRequest struct {
	Amount            decimal.Decimal
	LockPeriod        domain.LockPeriod
	DepositTransferID string
	IdempotencyKey    string
}

// StakeView is a stake record enriched with the reward accrued but not yet
// banked, computed at read time.
type StakeView struct {
	domain.StakeRecord
	PendingReward decimal.Decimal `json:"pending_reward"`
}

// IStakeService drives the stake lifecycle. Every chain-dependent mutation
// verifies the transfer first and mutates second.
type IStakeService interface {
	CreateStake(ctx context.Context, ownerID, ownerWallet string, req StakeRequest) (*domain.StakeRecord, error)
	UserStakes(ctx context.Context, ownerID string) ([]StakeView, error)
	UpdateRewards(ctx context.Context, ownerID, stakeID string) (decimal.Decimal, error)
	ClaimRewards(ctx context.Context, ownerID, stakeID, idempotencyKey string) (decimal.Decimal, error)
	RequestUnstake(ctx context.Context, ownerID, stakeID string) error
	CompleteUnstake(ctx context.Context, ownerID, ownerWallet, stakeID, payoutTransferID string) error
	GlobalMetrics(ctx context.Context) (*domain.StakingMetrics, error)
}
