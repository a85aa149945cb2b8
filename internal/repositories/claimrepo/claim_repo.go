package claimrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

type IClaimRepository interface {
	GetClaim(ctx context.Context, claimID string) (*domain.ClaimRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.ClaimRecord, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.ClaimRecord, error)
	CreateTx(ctx context.Context, tx *sql.Tx, claim *domain.ClaimRecord) error
	SetDeductedTx(ctx context.Context, tx *sql.Tx, claimID string, deducted decimal.Decimal) error
	RecordSubmissionTx(ctx context.Context, tx *sql.Tx, claimID, transferID string) error
	CompleteTx(ctx context.Context, tx *sql.Tx, claimID, transferID string, at time.Time) error
	FailTx(ctx context.Context, tx *sql.Tx, claimID, errorCode string, at time.Time) error
}
