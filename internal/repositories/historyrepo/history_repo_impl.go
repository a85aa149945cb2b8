package historyrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

const (
	queryGetEntry = `
		SELECT id, owner_id, kind, status, amount, token, timestamp,
		       transfer_id, error_code, idempotency_key, metadata
		FROM history_entries
		WHERE id = $1`

	queryListByOwner = `
		SELECT id, owner_id, kind, status, amount, token, timestamp,
		       transfer_id, error_code, idempotency_key, metadata
		FROM history_entries
		WHERE owner_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	queryFindByIdempotencyKey = `
		SELECT id, owner_id, kind, status, amount, token, timestamp,
		       transfer_id, error_code, idempotency_key, metadata
		FROM history_entries
		WHERE owner_id = $1 AND idempotency_key = $2 AND timestamp >= $3
		LIMIT 1`

	queryListStalePending = `
		SELECT id, owner_id, kind, status, amount, token, timestamp,
		       transfer_id, error_code, idempotency_key, metadata
		FROM history_entries
		WHERE status = 'pending' AND timestamp < $1
		ORDER BY timestamp
		LIMIT $2`

	queryInsertEntry = `
		INSERT INTO history_entries (
			id, owner_id, kind, status, amount, token, timestamp,
			transfer_id, error_code, idempotency_key, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	queryFinalizeEntry = `
		UPDATE history_entries
		SET status = $1, transfer_id = $2, error_code = $3
		WHERE id = $4 AND status = 'pending'`

	queryInsertAnomaly = `
		INSERT INTO settlement_anomalies (id, user_id, amount, ledger_error, payout_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

type HistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) IHistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.HistoryEntry, error) {
	var entry domain.HistoryEntry
	var amount, metadata string
	var transferID, errorCode, idempotencyKey sql.NullString

	err := row.Scan(
		&entry.ID, &entry.OwnerID, &entry.Kind, &entry.Status, &amount,
		&entry.Token, &entry.Timestamp, &transferID, &errorCode,
		&idempotencyKey, &metadata,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan history entry: %w", err)
	}

	entry.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse history amount %q: %w", amount, err)
	}
	entry.TransferID = transferID.String
	entry.ErrorCode = errorCode.String
	entry.IdempotencyKey = idempotencyKey.String
	if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse history metadata: %w", err)
	}
	return &entry, nil
}

func (r *HistoryRepository) GetEntry(ctx context.Context, id string) (*domain.HistoryEntry, error) {
	return scanEntry(r.db.QueryRowContext(ctx, queryGetEntry, id))
}

func (r *HistoryRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, queryListByOwner, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *HistoryRepository) FindByIdempotencyKey(ctx context.Context, ownerID, key string, since time.Time) (*domain.HistoryEntry, error) {
	return scanEntry(r.db.QueryRowContext(ctx, queryFindByIdempotencyKey, ownerID, key, since))
}

func (r *HistoryRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, queryListStalePending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return entries, nil
}

func (r *HistoryRepository) CreateTx(ctx context.Context, tx *sql.Tx, entry *domain.HistoryEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal history metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, queryInsertEntry,
		entry.ID, entry.OwnerID, entry.Kind, entry.Status, entry.Amount.String(),
		entry.Token, entry.Timestamp,
		sql.NullString{String: entry.TransferID, Valid: entry.TransferID != ""},
		sql.NullString{String: entry.ErrorCode, Valid: entry.ErrorCode != ""},
		sql.NullString{String: entry.IdempotencyKey, Valid: entry.IdempotencyKey != ""},
		string(metadata),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// FinalizeTx performs the single permitted mutation: pending -> terminal.
func (r *HistoryRepository) FinalizeTx(ctx context.Context, tx *sql.Tx, id string, status domain.HistoryStatus, transferID, errorCode string) error {
	if status == domain.HistoryStatusPending {
		return fmt.Errorf("cannot finalize history entry %s to pending", id)
	}

	result, err := tx.ExecContext(ctx, queryFinalizeEntry,
		status,
		sql.NullString{String: transferID, Valid: transferID != ""},
		sql.NullString{String: errorCode, Valid: errorCode != ""},
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize history entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("history entry %s is not pending", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *HistoryRepository) RecordAnomaly(ctx context.Context, anomaly *domain.SettlementAnomaly) error {
	_, err := r.db.ExecContext(ctx, queryInsertAnomaly,
		anomaly.ID, anomaly.UserID, anomaly.Amount.String(),
		anomaly.LedgerError, anomaly.PayoutError, anomaly.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record settlement anomaly: %w", err)
	}
	return nil
}
