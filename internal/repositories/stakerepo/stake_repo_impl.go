package stakerepo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

const (
	queryGetStake = `
		SELECT stake_id, owner_id, amount, lock_period, start_time, unlock_time,
		       status, rewards_earned, last_reward_update, originating_transfer_id,
		       created_at, updated_at
		FROM stakes
		WHERE stake_id = $1`

	queryListByOwner = `
		SELECT stake_id, owner_id, amount, lock_period, start_time, unlock_time,
		       status, rewards_earned, last_reward_update, originating_transfer_id,
		       created_at, updated_at
		FROM stakes
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	queryInsertStake = `
		INSERT INTO stakes (
			stake_id, owner_id, amount, lock_period, start_time, unlock_time,
			status, rewards_earned, last_reward_update, originating_transfer_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	queryUpdateRewards = `
		UPDATE stakes
		SET rewards_earned = $1, last_reward_update = $2, updated_at = $3
		WHERE stake_id = $4 AND status != 'completed'`

	queryTransitionStatus = `
		UPDATE stakes
		SET status = $1, updated_at = $2
		WHERE stake_id = $3 AND status = $4`
)

type StakeRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) IStakeRepository {
	return &StakeRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStake(row rowScanner) (*domain.StakeRecord, error) {
	var record domain.StakeRecord
	var amount, rewardsEarned string

	err := row.Scan(
		&record.StakeID, &record.OwnerID, &amount, &record.LockPeriod,
		&record.StartTime, &record.UnlockTime, &record.Status, &rewardsEarned,
		&record.LastRewardUpdate, &record.OriginatingTransferID,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stake: %w", err)
	}

	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stake amount %q: %w", amount, err)
	}
	record.RewardsEarned, err = decimal.NewFromString(rewardsEarned)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rewards_earned %q: %w", rewardsEarned, err)
	}
	return &record, nil
}

func (r *StakeRepository) GetStake(ctx context.Context, stakeID string) (*domain.StakeRecord, error) {
	return scanStake(r.db.QueryRowContext(ctx, queryGetStake, stakeID))
}

func (r *StakeRepository) GetStakeTx(ctx context.Context, tx *sql.Tx, stakeID string) (*domain.StakeRecord, error) {
	return scanStake(tx.QueryRowContext(ctx, queryGetStake, stakeID))
}

func (r *StakeRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.StakeRecord, error) {
	rows, err := r.db.QueryContext(ctx, queryListByOwner, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stakes: %w", err)
	}
	defer rows.Close()

	var stakes []domain.StakeRecord
	for rows.Next() {
		record, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stake rows: %w", err)
	}
	return stakes, nil
}

func (r *StakeRepository) CreateTx(ctx context.Context, tx *sql.Tx, stake *domain.StakeRecord) error {
	_, err := tx.ExecContext(ctx, queryInsertStake,
		stake.StakeID, stake.OwnerID, stake.Amount.String(), stake.LockPeriod,
		stake.StartTime, stake.UnlockTime, stake.Status, stake.RewardsEarned.String(),
		stake.LastRewardUpdate, stake.OriginatingTransferID,
		stake.CreatedAt, stake.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTransfer
		}
		return fmt.Errorf("failed to insert stake: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *StakeRepository) UpdateRewardsTx(ctx context.Context, tx *sql.Tx, stakeID string, rewardsEarned decimal.Decimal, at time.Time) error {
	result, err := tx.ExecContext(ctx, queryUpdateRewards, rewardsEarned.String(), at, at, stakeID)
	if err != nil {
		return fmt.Errorf("failed to update stake rewards: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWrongStakeStatus
	}
	return nil
}

// TransitionStatusTx moves a stake between lifecycle states. The WHERE guard
// on the current status makes a repeated or out-of-order transition report
// ErrWrongStakeStatus instead of silently clobbering state.
func (r *StakeRepository) TransitionStatusTx(ctx context.Context, tx *sql.Tx, stakeID string, from, to domain.StakeStatus, at time.Time) error {
	result, err := tx.ExecContext(ctx, queryTransitionStatus, to, at, stakeID, from)
	if err != nil {
		return fmt.Errorf("failed to transition stake status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWrongStakeStatus
	}
	return nil
}
