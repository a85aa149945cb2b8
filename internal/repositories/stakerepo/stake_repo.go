package stakerepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// IStakeRepository owns stake records. Status transitions are guarded on the
// expected current status so forward-only lifecycle rules hold under
// concurrent requests.
type IStakeRepository interface {
	GetStake(ctx context.Context, stakeID string) (*domain.StakeRecord, error)
	GetStakeTx(ctx context.Context, tx *sql.Tx, stakeID string) (*domain.StakeRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.StakeRecord, error)
	CreateTx(ctx context.Context, tx *sql.Tx, stake *domain.StakeRecord) error
	UpdateRewardsTx(ctx context.Context, tx *sql.Tx, stakeID string, rewardsEarned decimal.Decimal, at time.Time) error
	TransitionStatusTx(ctx context.Context, tx *sql.Tx, stakeID string, from, to domain.StakeStatus, at time.Time) error
}
