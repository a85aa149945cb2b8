package stakeservice

import (
	"context"
	"database/sql"
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
	"github.com/EM-ade/realmkin-sub000/internal/repositories/historyrepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/stakerepo"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

const (
	custodialWallet = "custodial-stake-wallet"
	ownerWallet     = "owner-wallet"
	ownerID         = "user-1"
)

type stubVerifier struct {
	fact          *domain.TransferFact
	err           error
	calls         int
	lastRecipient string
}

func (v *stubVerifier) VerifyTransfer(_ context.Context, signature, expectedRecipient string) (*domain.TransferFact, error) {
	v.calls++
	v.lastRecipient = expectedRecipient
	if v.err != nil {
		return nil, v.err
	}
	fact := *v.fact
	fact.Signature = signature
	return &fact, nil
}

type stakeFixture struct {
	db       *sql.DB
	svc      *stakeService
	verifier *stubVerifier
	balances balancerepo.IBalanceRepository
	clock    time.Time
}

func newStakeFixture(t *testing.T) *stakeFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, database.InitSchema(db))
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	cfg := &config.Config{}
	cfg.Staking.APRTable = map[string]float64{"flexible": 5, "30d": 12, "60d": 18, "90d": 25}
	cfg.Staking.MaxWeight = 2.0
	cfg.Settlement.Epsilon = "0.001"
	cfg.Settlement.IdempotencyWindow = 24 * time.Hour
	cfg.Solana.CustodialAddress = custodialWallet

	verifier := &stubVerifier{}
	balances := balancerepo.New(db, logger)
	f := &stakeFixture{
		db:       db,
		verifier: verifier,
		balances: balances,
		clock:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	svc := NewStakeService(
		database.NewLedger(db, 3, logger),
		balances,
		stakerepo.New(db, logger),
		historyrepo.New(db, logger),
		verifier,
		nil,
		cfg,
		logger,
	).(*stakeService)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}

func depositFact(amount string) *domain.TransferFact {
	return &domain.TransferFact{
		Sender:    ownerWallet,
		Recipient: custodialWallet,
		Amount:    decimal.RequireFromString(amount),
		Slot:      100,
	}
}

func (f *stakeFixture) createStake(t *testing.T, amount string, period domain.LockPeriod) *domain.StakeRecord {
	t.Helper()
	f.verifier.fact = depositFact(amount)
	f.verifier.err = nil
	stake, err := f.svc.CreateStake(context.Background(), ownerID, ownerWallet, StakeRequest{
		Amount:            decimal.RequireFromString(amount),
		LockPeriod:        period,
		DepositTransferID: "deposit-" + string(period),
		IdempotencyKey:    "stake-key-" + string(period),
	})
	require.NoError(t, err)
	return stake
}

func (f *stakeFixture) stakeCount(t *testing.T) int {
	t.Helper()
	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM stakes`).Scan(&count))
	return count
}

func TestCreateStake(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriod90)

	assert.Equal(t, domain.StakeStatusActive, stake.Status)
	assert.True(t, stake.UnlockTime.Equal(f.clock.Add(90*24*time.Hour)))
	assert.Equal(t, custodialWallet, f.verifier.lastRecipient, "deposit must credit the custodial address")

	balance, err := f.balances.GetBalance(context.Background(), ownerID)
	require.NoError(t, err)
	assert.True(t, balance.TotalStaked.Equal(decimal.RequireFromString("1000")))

	var kind, status string
	require.NoError(t, f.db.QueryRow(`SELECT kind, status FROM history_entries`).Scan(&kind, &status))
	assert.Equal(t, "stake", kind)
	assert.Equal(t, "success", status)
}

func TestCreateStakeAmountMismatchCreatesNothing(t *testing.T) {
	f := newStakeFixture(t)
	f.verifier.fact = depositFact("1000")

	_, err := f.svc.CreateStake(context.Background(), ownerID, ownerWallet, StakeRequest{
		Amount:            decimal.RequireFromString("900"),
		LockPeriod:        domain.LockPeriod30,
		DepositTransferID: "deposit-1",
		IdempotencyKey:    "key-1",
	})
	var invalid *domain.InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, f.stakeCount(t))
}

func TestCreateStakeRejectsForeignDeposit(t *testing.T) {
	f := newStakeFixture(t)
	f.verifier.fact = depositFact("1000")
	f.verifier.fact.Sender = "someone-else"

	_, err := f.svc.CreateStake(context.Background(), ownerID, ownerWallet, StakeRequest{
		Amount:            decimal.RequireFromString("1000"),
		LockPeriod:        domain.LockPeriod30,
		DepositTransferID: "deposit-1",
		IdempotencyKey:    "key-1",
	})
	var invalid *domain.InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, f.stakeCount(t))
}

func TestCreateStakeRejectsUnverifiableDeposit(t *testing.T) {
	f := newStakeFixture(t)
	f.verifier.err = &domain.InvalidTransferError{Signature: "deposit-1", Reason: "transaction not found at finalized commitment"}

	_, err := f.svc.CreateStake(context.Background(), ownerID, ownerWallet, StakeRequest{
		Amount:            decimal.RequireFromString("1000"),
		LockPeriod:        domain.LockPeriod30,
		DepositTransferID: "deposit-1",
		IdempotencyKey:    "key-1",
	})
	var invalid *domain.InvalidTransferError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, f.stakeCount(t))
}

func TestCreateStakeIdempotentReplay(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriod60)
	verifierCalls := f.verifier.calls

	replay, err := f.svc.CreateStake(context.Background(), ownerID, ownerWallet, StakeRequest{
		Amount:            decimal.RequireFromString("1000"),
		LockPeriod:        domain.LockPeriod60,
		DepositTransferID: "deposit-60d",
		IdempotencyKey:    "stake-key-60d",
	})
	require.NoError(t, err)
	assert.Equal(t, stake.StakeID, replay.StakeID)
	assert.Equal(t, verifierCalls, f.verifier.calls, "a replayed request must not hit the chain again")
	assert.Equal(t, 1, f.stakeCount(t))
}

func TestCreateStakeRejectsReusedDeposit(t *testing.T) {
	f := newStakeFixture(t)
	f.createStake(t, "1000", domain.LockPeriod60)

	f.verifier.fact = depositFact("1000")
	_, err := f.svc.CreateStake(context.Background(), ownerID, ownerWallet, StakeRequest{
		Amount:            decimal.RequireFromString("1000"),
		LockPeriod:        domain.LockPeriod60,
		DepositTransferID: "deposit-60d",
		IdempotencyKey:    "another-key",
	})
	var invalid *domain.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, f.stakeCount(t))
}

func TestRequestUnstakeStillLocked(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriod90)

	f.clock = f.clock.Add(45 * 24 * time.Hour)
	err := f.svc.RequestUnstake(context.Background(), ownerID, stake.StakeID)
	assert.ErrorIs(t, err, domain.ErrStillLocked)

	views, err := f.svc.UserStakes(context.Background(), ownerID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, domain.StakeStatusActive, views[0].Status, "a rejected unstake must not change the stake")
}

func TestUnstakeLifecycle(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriod90)
	ctx := context.Background()

	f.clock = f.clock.Add(91 * 24 * time.Hour)
	require.NoError(t, f.svc.RequestUnstake(ctx, ownerID, stake.StakeID))

	views, err := f.svc.UserStakes(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, domain.StakeStatusUnstaking, views[0].Status)
	assert.True(t, views[0].RewardsEarned.IsPositive(), "pending accrual is banked when unstaking starts")

	// A second request finds the stake no longer active.
	assert.ErrorIs(t, f.svc.RequestUnstake(ctx, ownerID, stake.StakeID), domain.ErrWrongStakeStatus)

	f.verifier.fact = &domain.TransferFact{
		Sender:    custodialWallet,
		Recipient: ownerWallet,
		Amount:    decimal.RequireFromString("1000"),
	}
	require.NoError(t, f.svc.CompleteUnstake(ctx, ownerID, ownerWallet, stake.StakeID, "payout-1"))
	assert.Equal(t, ownerWallet, f.verifier.lastRecipient, "the principal must return to the owner's own wallet")

	views, err = f.svc.UserStakes(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.StakeStatusCompleted, views[0].Status)

	balance, err := f.balances.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.TotalStaked.IsZero())

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM history_entries WHERE kind = 'unstake' AND status = 'success'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCompleteUnstakeAmountMismatch(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriodFlexible)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestUnstake(ctx, ownerID, stake.StakeID))

	f.verifier.fact = &domain.TransferFact{
		Sender:    custodialWallet,
		Recipient: ownerWallet,
		Amount:    decimal.RequireFromString("900"),
	}
	err := f.svc.CompleteUnstake(ctx, ownerID, ownerWallet, stake.StakeID, "payout-1")
	var invalid *domain.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)

	views, err := f.svc.UserStakes(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.StakeStatusUnstaking, views[0].Status)
}

func TestCompleteUnstakeRequiresUnstakingStatus(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriodFlexible)

	err := f.svc.CompleteUnstake(context.Background(), ownerID, ownerWallet, stake.StakeID, "payout-1")
	assert.ErrorIs(t, err, domain.ErrWrongStakeStatus)
}

func TestUpdateRewardsBanksAccrual(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriod30)
	ctx := context.Background()

	f.clock = f.clock.Add(10 * 24 * time.Hour)
	banked, err := f.svc.UpdateRewards(ctx, ownerID, stake.StakeID)
	require.NoError(t, err)
	assert.True(t, banked.IsPositive())

	// Banking twice at the same instant adds nothing.
	again, err := f.svc.UpdateRewards(ctx, ownerID, stake.StakeID)
	require.NoError(t, err)
	assert.True(t, again.Equal(banked))

	balance, err := f.balances.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.TotalBalance.IsZero(), "UpdateRewards banks without crediting the balance")
}

func TestClaimRewardsCreditsBalance(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriod30)
	ctx := context.Background()

	f.clock = f.clock.Add(10 * 24 * time.Hour)
	claimed, err := f.svc.ClaimRewards(ctx, ownerID, stake.StakeID, "reward-key-1")
	require.NoError(t, err)
	assert.True(t, claimed.IsPositive())

	balance, err := f.balances.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.TotalBalance.Equal(claimed))

	// A replayed key returns the original amount without crediting again.
	replay, err := f.svc.ClaimRewards(ctx, ownerID, stake.StakeID, "reward-key-1")
	require.NoError(t, err)
	assert.True(t, replay.Equal(claimed))

	balance, err = f.balances.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.TotalBalance.Equal(claimed), "idempotent replay must not double-credit")
}

func TestStakesOfOtherOwnersAreHidden(t *testing.T) {
	f := newStakeFixture(t)
	stake := f.createStake(t, "1000", domain.LockPeriod30)

	_, err := f.svc.UpdateRewards(context.Background(), "someone-else", stake.StakeID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
