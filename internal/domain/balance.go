package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceRecord is the per-user reward balance. TotalBalance never goes
// negative in a committed state; it is mutated only inside ledger
// transactions.
type BalanceRecord struct {
	UserID       string          `json:"user_id" db:"user_id"`
	TotalBalance decimal.Decimal `json:"total_balance" db:"total_balance"`
	TotalStaked  decimal.Decimal `json:"total_staked" db:"total_staked"`
	LastClaimAt  time.Time       `json:"last_claim_at,omitempty" db:"last_claim_at"`
	Version      int64           `json:"-" db:"version"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// StakingMetrics is the global aggregate exposed on the metrics endpoint.
type StakingMetrics struct {
	TotalValueLocked decimal.Decimal `json:"total_value_locked"`
	TotalStakers     int64           `json:"total_stakers"`
}
