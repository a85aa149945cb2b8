package balancerepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// IBalanceRepository owns balance records. Mutating methods take *sql.Tx so
// they can only run inside a ledger transaction.
type IBalanceRepository interface {
	GetBalance(ctx context.Context, userID string) (*domain.BalanceRecord, error)
	GetBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (*domain.BalanceRecord, error)
	CreateIfAbsentTx(ctx context.Context, tx *sql.Tx, userID string) error
	AdjustBalanceTx(ctx context.Context, tx *sql.Tx, userID string, delta decimal.Decimal) (*domain.BalanceRecord, error)
	AdjustTotalStakedTx(ctx context.Context, tx *sql.Tx, userID string, delta decimal.Decimal) error
	StampLastClaimTx(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error
	GlobalStakingMetrics(ctx context.Context) (*domain.StakingMetrics, error)
}
