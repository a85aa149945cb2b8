package claimrepo

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
	queryGetClaim = `
		SELECT claim_id, owner_id, amount, deducted_amount, destination_wallet,
		       status, payout_transfer_id, error_code, created_at, completed_at
		FROM claims
		WHERE claim_id = $1`

	queryListByOwner = `
		SELECT claim_id, owner_id, amount, deducted_amount, destination_wallet,
		       status, payout_transfer_id, error_code, created_at, completed_at
		FROM claims
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	queryListStalePending = `
		SELECT claim_id, owner_id, amount, deducted_amount, destination_wallet,
		       status, payout_transfer_id, error_code, created_at, completed_at
		FROM claims
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	queryInsertClaim = `
		INSERT INTO claims (
			claim_id, owner_id, amount, deducted_amount, destination_wallet,
			status, payout_transfer_id, error_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	querySetDeducted = `
		UPDATE claims SET deducted_amount = $1 WHERE claim_id = $2`

	queryRecordSubmission = `
		UPDATE claims SET payout_transfer_id = $1 WHERE claim_id = $2 AND status = 'pending'`

	queryCompleteClaim = `
		UPDATE claims
		SET status = 'completed', payout_transfer_id = $1, completed_at = $2
		WHERE claim_id = $3 AND status = 'pending'`

	queryFailClaim = `
		UPDATE claims
		SET status = 'failed', error_code = $1, completed_at = $2
		WHERE claim_id = $3 AND status = 'pending'`
)

type ClaimRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) IClaimRepository {
	return &ClaimRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(row rowScanner) (*domain.ClaimRecord, error) {
	var record domain.ClaimRecord
	var amount, deducted string
	var transferID, errorCode sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&record.ClaimID, &record.OwnerID, &amount, &deducted,
		&record.DestinationWallet, &record.Status, &transferID, &errorCode,
		&record.CreatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan claim: %w", err)
	}

	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse claim amount %q: %w", amount, err)
	}
	record.DeductedAmount, err = decimal.NewFromString(deducted)
	if err != nil {
		return nil, fmt.Errorf("failed to parse deducted amount %q: %w", deducted, err)
	}
	record.PayoutTransferID = transferID.String
	record.ErrorCode = errorCode.String
	if completedAt.Valid {
		record.CompletedAt = completedAt.Time
	}
	return &record, nil
}

func (r *ClaimRepository) GetClaim(ctx context.Context, claimID string) (*domain.ClaimRecord, error) {
	return scanClaim(r.db.QueryRowContext(ctx, queryGetClaim, claimID))
}

func (r *ClaimRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.ClaimRecord, error) {
	rows, err := r.db.QueryContext(ctx, queryListByOwner, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ListStalePending returns claims stuck in pending past the settlement
// timeout, the reconciliation sweep's work queue.
func (r *ClaimRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.ClaimRecord, error) {
	rows, err := r.db.QueryContext(ctx, queryListStalePending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

func collectClaims(rows *sql.Rows) ([]domain.ClaimRecord, error) {
	var claims []domain.ClaimRecord
	for rows.Next() {
		record, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claim rows: %w", err)
	}
	return claims, nil
}

func (r *ClaimRepository) CreateTx(ctx context.Context, tx *sql.Tx, claim *domain.ClaimRecord) error {
	_, err := tx.ExecContext(ctx, queryInsertClaim,
		claim.ClaimID, claim.OwnerID, claim.Amount.String(), claim.DeductedAmount.String(),
		claim.DestinationWallet, claim.Status,
		sql.NullString{String: claim.PayoutTransferID, Valid: claim.PayoutTransferID != ""},
		sql.NullString{String: claim.ErrorCode, Valid: claim.ErrorCode != ""},
		claim.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

func (r *ClaimRepository) SetDeductedTx(ctx context.Context, tx *sql.Tx, claimID string, deducted decimal.Decimal) error {
	if _, err := tx.ExecContext(ctx, querySetDeducted, deducted.String(), claimID); err != nil {
		return fmt.Errorf("failed to set deducted amount: %w", err)
	}
	return nil
}

// RecordSubmissionTx stores the submitted signature on a still-pending claim
// so the reconciliation sweep can re-verify it on chain.
func (r *ClaimRepository) RecordSubmissionTx(ctx context.Context, tx *sql.Tx, claimID, transferID string) error {
	if _, err := tx.ExecContext(ctx, queryRecordSubmission, transferID, claimID); err != nil {
		return fmt.Errorf("failed to record submitted transfer: %w", err)
	}
	return nil
}

func (r *ClaimRepository) CompleteTx(ctx context.Context, tx *sql.Tx, claimID, transferID string, at time.Time) error {
	return r.finalize(ctx, tx, queryCompleteClaim, transferID, at, claimID)
}

func (r *ClaimRepository) FailTx(ctx context.Context, tx *sql.Tx, claimID, errorCode string, at time.Time) error {
	return r.finalize(ctx, tx, queryFailClaim, errorCode, at, claimID)
}

// finalize performs the single pending -> terminal transition. The status
// guard makes finalizing twice report ErrWrongStakeStatus-like failure
// instead of rewriting a terminal record.
func (r *ClaimRepository) finalize(ctx context.Context, tx *sql.Tx, query, value string, at time.Time, claimID string) error {
	result, err := tx.ExecContext(ctx, query, value, at, claimID)
	if err != nil {
		return fmt.Errorf("failed to finalize claim: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("claim %s is not pending", claimID)
	}
	return nil
}
