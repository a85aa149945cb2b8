package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type HistoryKind string

const (
	HistoryKindClaim        HistoryKind = "claim"
	HistoryKindStake        HistoryKind = "stake"
	HistoryKindUnstake      HistoryKind = "unstake"
	HistoryKindStakingClaim HistoryKind = "staking_claim"
	HistoryKindWithdrawal   HistoryKind = "withdrawal"
	HistoryKindTransfer     HistoryKind = "transfer"
	HistoryKindRevenueShare HistoryKind = "revenue_share"
)

type HistoryStatus string

const (
	HistoryStatusPending HistoryStatus = "pending"
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusFailed  HistoryStatus = "failed"
)

// HistoryMetadata is the typed per-kind metadata union. Exactly one field is
// set, matching the entry's kind, so each settlement path can only write the
// fields it owns.
type HistoryMetadata struct {
	Claim   *ClaimMetadata   `json:"claim,omitempty"`
	Stake   *StakeMetadata   `json:"stake,omitempty"`
	Unstake *UnstakeMetadata `json:"unstake,omitempty"`
}

type ClaimMetadata struct {
	ClaimID           string `json:"claim_id"`
	DestinationWallet string `json:"destination_wallet"`
}

type StakeMetadata struct {
	StakeID               string `json:"stake_id"`
	LockPeriod            string `json:"lock_period"`
	OriginatingTransferID string `json:"originating_transfer_id,omitempty"`
}

type UnstakeMetadata struct {
	StakeID          string `json:"stake_id"`
	PayoutTransferID string `json:"payout_transfer_id,omitempty"`
}

// HistoryEntry is the append-only audit record. The only permitted mutation
// is the single pending -> terminal status transition. An entry left pending
// beyond the settlement timeout is evidence of an interrupted settlement and
// must be reconciled against chain state before being trusted.
type HistoryEntry struct {
	ID             string          `json:"id" db:"id"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	Kind           HistoryKind     `json:"kind" db:"kind"`
	Status         HistoryStatus   `json:"status" db:"status"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Token          string          `json:"token" db:"token"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	TransferID     string          `json:"transfer_id,omitempty" db:"transfer_id"`
	ErrorCode      string          `json:"error_code,omitempty" db:"error_code"`
	IdempotencyKey string          `json:"-" db:"idempotency_key"`
	Metadata       HistoryMetadata `json:"metadata" db:"metadata"`
}

// SettlementAnomaly records a compensation failure: the ledger deduction
// committed, the payout definitively failed, and the compensating credit
// could not be written. Always escalated to an operator, never auto-retried.
type SettlementAnomaly struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	LedgerError string          `json:"ledger_error" db:"ledger_error"`
	PayoutError string          `json:"payout_error" db:"payout_error"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
