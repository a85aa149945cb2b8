package balancerepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

const (
	queryGetBalance = `
		SELECT user_id, total_balance, total_staked, last_claim_at, version, updated_at
		FROM balances
		WHERE user_id = $1`

	queryInsertBalance = `
		INSERT INTO balances (user_id, total_balance, total_staked, version, updated_at)
		VALUES ($1, '0', '0', 1, $2)`

	queryUpdateBalance = `
		UPDATE balances
		SET total_balance = $1, version = version + 1, updated_at = $2
		WHERE user_id = $3 AND version = $4`

	queryUpdateTotalStaked = `
		UPDATE balances
		SET total_staked = $1, version = version + 1, updated_at = $2
		WHERE user_id = $3 AND version = $4`

	queryStampLastClaim = `
		UPDATE balances
		SET last_claim_at = $1, updated_at = $2
		WHERE user_id = $3`

	queryStakingMetrics = `
		SELECT COALESCE(SUM(CAST(amount AS REAL)), 0), COUNT(DISTINCT owner_id)
		FROM stakes
		WHERE status != 'completed'`
)

type BalanceRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) IBalanceRepository {
	return &BalanceRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBalance(row rowScanner) (*domain.BalanceRecord, error) {
	var record domain.BalanceRecord
	var totalBalance, totalStaked string
	var lastClaimAt sql.NullTime

	err := row.Scan(&record.UserID, &totalBalance, &totalStaked, &lastClaimAt, &record.Version, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan balance: %w", err)
	}

	record.TotalBalance, err = decimal.NewFromString(totalBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_balance %q: %w", totalBalance, err)
	}
	record.TotalStaked, err = decimal.NewFromString(totalStaked)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_staked %q: %w", totalStaked, err)
	}
	if lastClaimAt.Valid {
		record.LastClaimAt = lastClaimAt.Time
	}
	return &record, nil
}

func (r *BalanceRepository) GetBalance(ctx context.Context, userID string) (*domain.BalanceRecord, error) {
	return scanBalance(r.db.QueryRowContext(ctx, queryGetBalance, userID))
}

func (r *BalanceRepository) GetBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (*domain.BalanceRecord, error) {
	return scanBalance(tx.QueryRowContext(ctx, queryGetBalance, userID))
}

func (r *BalanceRepository) CreateIfAbsentTx(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := r.GetBalanceTx(ctx, tx, userID)
	if err == nil {
		return nil
	}
	if err != domain.ErrNotFound {
		return err
	}

	if _, err := tx.ExecContext(ctx, queryInsertBalance, userID, time.Now()); err != nil {
		return fmt.Errorf("failed to create balance record: %w", err)
	}
	return nil
}

// AdjustBalanceTx applies delta to the user's balance inside the enclosing
// ledger transaction. A result below zero fails the whole transaction with
// ErrInsufficientBalance. The version guard turns a lost update into
// ErrConcurrentModification so the ledger layer can retry with fresh reads.
func (r *BalanceRepository) AdjustBalanceTx(ctx context.Context, tx *sql.Tx, userID string, delta decimal.Decimal) (*domain.BalanceRecord, error) {
	record, err := r.GetBalanceTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := record.TotalBalance.Add(delta)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, delta %s", domain.ErrInsufficientBalance, record.TotalBalance, delta)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, queryUpdateBalance, newBalance.String(), now, userID, record.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return nil, domain.ErrConcurrentModification
	}

	record.TotalBalance = newBalance
	record.Version++
	record.UpdatedAt = now
	return record, nil
}

func (r *BalanceRepository) AdjustTotalStakedTx(ctx context.Context, tx *sql.Tx, userID string, delta decimal.Decimal) error {
	record, err := r.GetBalanceTx(ctx, tx, userID)
	if err != nil {
		return err
	}

	newStaked := record.TotalStaked.Add(delta)
	if newStaked.IsNegative() {
		newStaked = decimal.Zero
	}

	result, err := tx.ExecContext(ctx, queryUpdateTotalStaked, newStaked.String(), time.Now(), userID, record.Version)
	if err != nil {
		return fmt.Errorf("failed to update total_staked: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

func (r *BalanceRepository) StampLastClaimTx(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, queryStampLastClaim, at, at, userID); err != nil {
		return fmt.Errorf("failed to stamp last claim: %w", err)
	}
	return nil
}

func (r *BalanceRepository) GlobalStakingMetrics(ctx context.Context) (*domain.StakingMetrics, error) {
	var totalLocked float64
	var totalStakers int64
	err := r.db.QueryRowContext(ctx, queryStakingMetrics).Scan(&totalLocked, &totalStakers)
	if err != nil {
		return nil, fmt.Errorf("failed to query staking metrics: %w", err)
	}

	return &domain.StakingMetrics{
		TotalValueLocked: decimal.NewFromFloat(totalLocked),
		TotalStakers:     totalStakers,
	}, nil
}
