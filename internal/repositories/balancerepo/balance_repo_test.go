package balancerepo_test

import (
	"context"
	"database/sql"
	"math/rand"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/database"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/balancerepo"
)

func newFixture(t *testing.T) (*sql.DB, balancerepo.IBalanceRepository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, database.InitSchema(db))
	t.Cleanup(func() { db.Close() })
	return db, balancerepo.New(db, zerolog.Nop())
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("transaction body failed: %v", err)
	}
	require.NoError(t, tx.Commit())
}

func TestGetBalanceNotFound(t *testing.T) {
	_, repo := newFixture(t)
	_, err := repo.GetBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	db, repo := newFixture(t)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) error {
		if err := repo.CreateIfAbsentTx(ctx, tx, "user-1"); err != nil {
			return err
		}
		return repo.CreateIfAbsentTx(ctx, tx, "user-1")
	})

	record, err := repo.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, record.TotalBalance.IsZero())
	assert.True(t, record.TotalStaked.IsZero())
	assert.Equal(t, int64(1), record.Version)
}

func TestAdjustBalance(t *testing.T) {
	db, repo := newFixture(t)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) error {
		return repo.CreateIfAbsentTx(ctx, tx, "user-1")
	})
	inTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.AdjustBalanceTx(ctx, tx, "user-1", decimal.RequireFromString("500"))
		return err
	})
	inTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.AdjustBalanceTx(ctx, tx, "user-1", decimal.RequireFromString("-120.5"))
		return err
	})

	record, err := repo.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, record.TotalBalance.Equal(decimal.RequireFromString("379.5")))
	assert.Equal(t, int64(3), record.Version, "each adjustment bumps the version guard")
}

func TestAdjustBalanceRejectsOverdraft(t *testing.T) {
	db, repo := newFixture(t)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) error {
		if err := repo.CreateIfAbsentTx(ctx, tx, "user-1"); err != nil {
			return err
		}
		_, err := repo.AdjustBalanceTx(ctx, tx, "user-1", decimal.RequireFromString("100"))
		return err
	})

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = repo.AdjustBalanceTx(ctx, tx, "user-1", decimal.RequireFromString("-100.01"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	tx.Rollback()

	record, err := repo.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, record.TotalBalance.Equal(decimal.RequireFromString("100")), "rejected overdraft must not change the balance")
}

func TestAdjustTotalStakedClampsAtZero(t *testing.T) {
	db, repo := newFixture(t)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) error {
		return repo.CreateIfAbsentTx(ctx, tx, "user-1")
	})
	inTx(t, db, func(tx *sql.Tx) error {
		return repo.AdjustTotalStakedTx(ctx, tx, "user-1", decimal.RequireFromString("50"))
	})
	inTx(t, db, func(tx *sql.Tx) error {
		return repo.AdjustTotalStakedTx(ctx, tx, "user-1", decimal.RequireFromString("-80"))
	})

	record, err := repo.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, record.TotalStaked.IsZero())
}

func TestStampLastClaim(t *testing.T) {
	db, repo := newFixture(t)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) error {
		return repo.CreateIfAbsentTx(ctx, tx, "user-1")
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inTx(t, db, func(tx *sql.Tx) error {
		return repo.StampLastClaimTx(ctx, tx, "user-1", at)
	})

	record, err := repo.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, record.LastClaimAt.Equal(at))
}

// TestBalanceStaysNonNegativeUnderRandomSequences drives a random interleaving
// of reward credits, claim deductions, compensations, and stake adjustments
// through the repository and checks the committed balance against a model
// after every transaction. A deduction past the balance must be rejected and
// leave no trace.
func TestBalanceStaysNonNegativeUnderRandomSequences(t *testing.T) {
	db, repo := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	inTx(t, db, func(tx *sql.Tx) error {
		return repo.CreateIfAbsentTx(ctx, tx, "user-1")
	})

	model := decimal.Zero
	lastDeduction := decimal.Zero

	for i := 0; i < 400; i++ {
		amount := decimal.New(int64(rng.Intn(2000)+1), -1) // 0.1 .. 200.0

		switch rng.Intn(4) {
		case 0: // reward claim credits the balance
			inTx(t, db, func(tx *sql.Tx) error {
				_, err := repo.AdjustBalanceTx(ctx, tx, "user-1", amount)
				return err
			})
			model = model.Add(amount)

		case 1: // claim deducts, overdrafts roll back untouched
			tx, err := db.Begin()
			require.NoError(t, err)
			_, err = repo.AdjustBalanceTx(ctx, tx, "user-1", amount.Neg())
			if amount.GreaterThan(model) {
				assert.ErrorIs(t, err, domain.ErrInsufficientBalance, "op %d: overdraft of %s against %s must be rejected", i, amount, model)
				require.NoError(t, tx.Rollback())
			} else {
				require.NoError(t, err, "op %d: deduction of %s from %s", i, amount, model)
				require.NoError(t, tx.Commit())
				model = model.Sub(amount)
				lastDeduction = amount
			}

		case 2: // compensation credits a failed claim's deduction back
			if lastDeduction.IsPositive() {
				credit := lastDeduction
				inTx(t, db, func(tx *sql.Tx) error {
					_, err := repo.AdjustBalanceTx(ctx, tx, "user-1", credit)
					return err
				})
				model = model.Add(credit)
				lastDeduction = decimal.Zero
			}

		case 3: // staking tracks its own column, the balance never moves
			delta := amount
			if rng.Intn(2) == 0 {
				delta = delta.Neg()
			}
			inTx(t, db, func(tx *sql.Tx) error {
				return repo.AdjustTotalStakedTx(ctx, tx, "user-1", delta)
			})
		}

		record, err := repo.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, record.TotalBalance.IsNegative(), "op %d: committed balance went negative: %s", i, record.TotalBalance)
		assert.True(t, record.TotalBalance.Equal(model), "op %d: committed balance %s diverged from model %s", i, record.TotalBalance, model)
		assert.False(t, record.TotalStaked.IsNegative(), "op %d: total_staked went negative: %s", i, record.TotalStaked)
	}
}

func TestGlobalStakingMetrics(t *testing.T) {
	db, repo := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	insert := `INSERT INTO stakes (
		stake_id, owner_id, amount, lock_period, start_time, unlock_time,
		status, rewards_earned, last_reward_update, originating_transfer_id,
		created_at, updated_at
	) VALUES ($1, $2, $3, '30d', $4, $4, $5, '0', $4, $6, $4, $4)`

	_, err := db.Exec(insert, "s1", "alice", "100", now, "active", "t1")
	require.NoError(t, err)
	_, err = db.Exec(insert, "s2", "alice", "50", now, "unstaking", "t2")
	require.NoError(t, err)
	_, err = db.Exec(insert, "s3", "bob", "200", now, "active", "t3")
	require.NoError(t, err)
	_, err = db.Exec(insert, "s4", "carol", "999", now, "completed", "t4")
	require.NoError(t, err)

	metrics, err := repo.GlobalStakingMetrics(ctx)
	require.NoError(t, err)
	assert.True(t, metrics.TotalValueLocked.Equal(decimal.RequireFromString("350")), "completed stakes are excluded, got %s", metrics.TotalValueLocked)
	assert.Equal(t, int64(2), metrics.TotalStakers)
}
