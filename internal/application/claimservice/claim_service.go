package claimservice

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// ClaimRequest is one balance-to-chain conversion attempt. IdempotencyKey is
// caller-supplied; retrying with the same key returns the prior outcome
// instead of settling twice.
type ClaimRequest struct {
	Amount            decimal.Decimal
	DestinationWallet string
	IdempotencyKey    string
}

// IClaimService settles reward claims: deduct off-chain balance, pay out on
// chain, compensate the ledger when the payout definitively failed.
type IClaimService interface {
	Claim(ctx context.Context, ownerID string, req ClaimRequest) (*domain.ClaimResult, error)
	ClaimHistory(ctx context.Context, ownerID string, limit int) ([]domain.ClaimRecord, error)
	Balance(ctx context.Context, ownerID string) (*domain.BalanceRecord, error)
}
