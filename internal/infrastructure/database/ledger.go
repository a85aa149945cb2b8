package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// Ledger wraps the store with the transactional contract every settlement
// path relies on: a consistent snapshot, all-or-nothing commit, and bounded
// retry on write conflict.
type Ledger struct {
	db          *sql.DB
	logger      zerolog.Logger
	maxAttempts int
}

func NewLedger(db *sql.DB, maxAttempts int, logger zerolog.Logger) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Ledger{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// DB exposes the underlying handle for plain indexed reads outside
// transactions.
func (l *Ledger) DB() *sql.DB { return l.db }

// RunLedgerTransaction executes fn inside a serializable transaction and
// commits all of its writes atomically or none. On a write conflict the
// whole fn is retried with fresh reads, up to the bounded attempt count;
// beyond that the caller gets ErrConcurrencyExhausted. Any other error from
// fn rolls back and is returned as-is.
func (l *Ledger) RunLedgerTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := l.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isWriteConflict(err) {
			return err
		}

		lastErr = err
		l.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("Ledger transaction conflict, retrying")
	}

	return fmt.Errorf("%w after %d attempts: %v", domain.ErrConcurrencyExhausted, l.maxAttempts, lastErr)
}

func (l *Ledger) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// isWriteConflict classifies errors that warrant a transparent retry with
// fresh reads: Postgres serialization/deadlock aborts, sqlite lock
// contention in the test fixtures, and the optimistic version guard.
func isWriteConflict(err error) bool {
	if errors.Is(err, domain.ErrConcurrentModification) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
