package historylog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/database"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/balancerepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/claimrepo"
	"github.com/EM-ade/realmkin-sub000/internal/repositories/historyrepo"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

const ownerID = "user-1"

type stubVerifier struct {
	fact *domain.TransferFact
	err  error
}

func (v *stubVerifier) VerifyTransfer(_ context.Context, signature, expectedRecipient string) (*domain.TransferFact, error) {
	if v.err != nil {
		return nil, v.err
	}
	fact := *v.fact
	fact.Signature = signature
	fact.Recipient = expectedRecipient
	return &fact, nil
}

type sweepFixture struct {
	db       *sql.DB
	svc      *historyService
	verifier *stubVerifier
	ledger   *database.Ledger
	claims   claimrepo.IClaimRepository
	history  historyrepo.IHistoryRepository
	balances balancerepo.IBalanceRepository
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, database.InitSchema(db))
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	cfg := &config.Config{}
	cfg.Settlement.Epsilon = "0.001"
	cfg.Settlement.PendingTimeout = 10 * time.Minute
	cfg.Settlement.SweepInterval = time.Minute
	cfg.Settlement.ClaimHistoryLimit = 10

	verifier := &stubVerifier{err: errors.New("connection refused")}
	ledger := database.NewLedger(db, 3, logger)
	claims := claimrepo.New(db, logger)
	history := historyrepo.New(db, logger)
	balances := balancerepo.New(db, logger)

	svc := NewHistoryService(ledger, history, claims, balances, verifier, nil, cfg, logger).(*historyService)
	return &sweepFixture{
		db:       db,
		svc:      svc,
		verifier: verifier,
		ledger:   ledger,
		claims:   claims,
		history:  history,
		balances: balances,
	}
}

// staleClaim plants a claim and its history entry as an interrupted
// settlement would have left them, an hour in the past.
func (f *sweepFixture) staleClaim(t *testing.T, deducted, transferID string) (*domain.ClaimRecord, string) {
	t.Helper()
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	claim := &domain.ClaimRecord{
		ClaimID:           uuid.New().String(),
		OwnerID:           ownerID,
		Amount:            decimal.RequireFromString("50"),
		DeductedAmount:    decimal.Zero,
		DestinationWallet: "dest-wallet",
		Status:            domain.ClaimStatusPending,
		CreatedAt:         past,
	}
	entry := &domain.HistoryEntry{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Kind:      domain.HistoryKindClaim,
		Status:    domain.HistoryStatusPending,
		Amount:    claim.Amount,
		Token:     "MKIN",
		Timestamp: past,
		Metadata: domain.HistoryMetadata{
			Claim: &domain.ClaimMetadata{
				ClaimID:           claim.ClaimID,
				DestinationWallet: claim.DestinationWallet,
			},
		},
	}

	err := f.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		if err := f.balances.CreateIfAbsentTx(ctx, tx, ownerID); err != nil {
			return err
		}
		if err := f.claims.CreateTx(ctx, tx, claim); err != nil {
			return err
		}
		if deducted != "0" {
			if err := f.claims.SetDeductedTx(ctx, tx, claim.ClaimID, decimal.RequireFromString(deducted)); err != nil {
				return err
			}
		}
		if transferID != "" {
			if err := f.claims.RecordSubmissionTx(ctx, tx, claim.ClaimID, transferID); err != nil {
				return err
			}
		}
		return f.history.CreateTx(ctx, tx, entry)
	})
	require.NoError(t, err)
	return claim, entry.ID
}

func (f *sweepFixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	record, err := f.balances.GetBalance(context.Background(), ownerID)
	require.NoError(t, err)
	return record.TotalBalance
}

func (f *sweepFixture) anomalyCount(t *testing.T) int {
	t.Helper()
	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM settlement_anomalies`).Scan(&count))
	return count
}

func TestSweepClosesUndeductedClaim(t *testing.T) {
	f := newSweepFixture(t)
	claim, entryID := f.staleClaim(t, "0", "")

	resolved, err := f.svc.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := f.claims.GetClaim(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusFailed, got.Status)
	assert.Equal(t, "SETTLEMENT_TIMEOUT", got.ErrorCode)

	entry, err := f.history.GetEntry(context.Background(), entryID)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryStatusFailed, entry.Status)
	assert.True(t, f.balance(t).IsZero(), "nothing was deducted, nothing is credited back")
	assert.Equal(t, 0, f.anomalyCount(t))
}

func TestSweepEscalatesDeductedClaimWithoutSignature(t *testing.T) {
	f := newSweepFixture(t)
	claim, _ := f.staleClaim(t, "50", "")

	resolved, err := f.svc.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := f.claims.GetClaim(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusFailed, got.Status)

	// The payout outcome is unknowable, so the balance is not touched and an
	// operator is paged instead.
	assert.True(t, f.balance(t).IsZero())
	assert.Equal(t, 1, f.anomalyCount(t))
}

func TestSweepCompensatesVanishedSubmission(t *testing.T) {
	f := newSweepFixture(t)
	claim, entryID := f.staleClaim(t, "50", "sig-x")
	f.verifier.err = &domain.InvalidTransferError{
		Signature: "sig-x",
		Reason:    "transaction not found at finalized commitment",
	}

	resolved, err := f.svc.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := f.claims.GetClaim(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusFailed, got.Status)
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("50")), "an expired submission is compensated in full")

	entry, err := f.history.GetEntry(context.Background(), entryID)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryStatusFailed, entry.Status)
	assert.Equal(t, "SETTLEMENT_TIMEOUT", entry.ErrorCode)
}

func TestSweepCompletesLandedSubmission(t *testing.T) {
	f := newSweepFixture(t)
	claim, entryID := f.staleClaim(t, "50", "sig-x")
	f.verifier.err = nil
	f.verifier.fact = &domain.TransferFact{Amount: decimal.RequireFromString("50")}

	resolved, err := f.svc.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := f.claims.GetClaim(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusCompleted, got.Status)
	assert.Equal(t, "sig-x", got.PayoutTransferID)
	assert.True(t, f.balance(t).IsZero(), "a landed payout is never compensated")

	entry, err := f.history.GetEntry(context.Background(), entryID)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryStatusSuccess, entry.Status)
	assert.Equal(t, "sig-x", entry.TransferID)
}

func TestSweepDefersOnTransientVerificationFailure(t *testing.T) {
	f := newSweepFixture(t)
	claim, _ := f.staleClaim(t, "50", "sig-x")

	resolved, err := f.svc.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	got, err := f.claims.GetClaim(context.Background(), claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusPending, got.Status, "an unverifiable claim waits for the next sweep")
	assert.True(t, f.balance(t).IsZero())
}

func TestSweepForcesNonClaimPendingFailed(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	entry := &domain.HistoryEntry{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Kind:      domain.HistoryKindStake,
		Status:    domain.HistoryStatusPending,
		Amount:    decimal.RequireFromString("10"),
		Token:     "MKIN",
		Timestamp: past,
	}
	err := f.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		return f.history.CreateTx(ctx, tx, entry)
	})
	require.NoError(t, err)

	resolved, err := f.svc.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := f.history.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryStatusFailed, got.Status)
	assert.Equal(t, "SETTLEMENT_TIMEOUT", got.ErrorCode)
}

func TestSweepAlignsEntryWithSettledClaim(t *testing.T) {
	f := newSweepFixture(t)
	claim, entryID := f.staleClaim(t, "50", "")
	ctx := context.Background()

	// The claim settled but the crash landed between the two finalizations.
	err := f.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		return f.claims.CompleteTx(ctx, tx, claim.ClaimID, "sig-y", time.Now().UTC())
	})
	require.NoError(t, err)

	resolved, err := f.svc.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	entry, err := f.history.GetEntry(ctx, entryID)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryStatusSuccess, entry.Status)
	assert.Equal(t, "sig-y", entry.TransferID)
}

func TestSweepIgnoresFreshPending(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	entry := &domain.HistoryEntry{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Kind:      domain.HistoryKindClaim,
		Status:    domain.HistoryStatusPending,
		Amount:    decimal.RequireFromString("10"),
		Token:     "MKIN",
		Timestamp: time.Now().UTC(),
		Metadata: domain.HistoryMetadata{
			Claim: &domain.ClaimMetadata{ClaimID: uuid.New().String()},
		},
	}
	err := f.ledger.RunLedgerTransaction(ctx, func(tx *sql.Tx) error {
		return f.history.CreateTx(ctx, tx, entry)
	})
	require.NoError(t, err)

	resolved, err := f.svc.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	got, err := f.history.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HistoryStatusPending, got.Status, "in-flight settlements are left alone")
}
