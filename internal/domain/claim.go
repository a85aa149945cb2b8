package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusCompleted ClaimStatus = "completed"
	ClaimStatusFailed    ClaimStatus = "failed"
)

// ClaimRecord tracks one balance-to-chain conversion. Created in pending
// before any mutation; terminal once status leaves pending.
type ClaimRecord struct {
	ClaimID           string          `json:"claim_id" db:"claim_id"`
	OwnerID           string          `json:"owner_id" db:"owner_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	DeductedAmount    decimal.Decimal `json:"-" db:"deducted_amount"`
	DestinationWallet string          `json:"destination_wallet" db:"destination_wallet"`
	Status            ClaimStatus     `json:"status" db:"status"`
	PayoutTransferID  string          `json:"payout_transfer_id,omitempty" db:"payout_transfer_id"`
	ErrorCode         string          `json:"error_code,omitempty" db:"error_code"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	CompletedAt       time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// ClaimResult is the outcome returned to the caller.
type ClaimResult struct {
	Success    bool      `json:"success"`
	ClaimID    string    `json:"claim_id"`
	TransferID string    `json:"transfer_id,omitempty"`
	ErrorCode  ErrorCode `json:"error_code,omitempty"`
	Message    string    `json:"message,omitempty"`
}
