package historylog

import (
	"context"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// IHistoryService exposes the settlement audit trail and runs the stale
// pending reconciliation loop.
type IHistoryService interface {
	History(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error)
	StartReconciliation(ctx context.Context) error
	SweepOnce(ctx context.Context) (int, error)
}
