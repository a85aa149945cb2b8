package historyrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// IHistoryRepository owns the append-only transaction history and the
// settlement anomaly escalation records.
type IHistoryRepository interface {
	GetEntry(ctx context.Context, id string) (*domain.HistoryEntry, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string, since time.Time) (*domain.HistoryEntry, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.HistoryEntry, error)
	CreateTx(ctx context.Context, tx *sql.Tx, entry *domain.HistoryEntry) error
	FinalizeTx(ctx context.Context, tx *sql.Tx, id string, status domain.HistoryStatus, transferID, errorCode string) error
	RecordAnomaly(ctx context.Context, anomaly *domain.SettlementAnomaly) error
}
