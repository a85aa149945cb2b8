package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LockPeriod string

const (
	LockPeriodFlexible LockPeriod = "flexible"
	LockPeriod30       LockPeriod = "30d"
	LockPeriod60       LockPeriod = "60d"
	LockPeriod90       LockPeriod = "90d"
)

// LockDuration returns the lock duration for a period. Flexible stakes have
// no lock.
func (p LockPeriod) LockDuration() (time.Duration, bool) {
	switch p {
	case LockPeriodFlexible:
		return 0, true
	case LockPeriod30:
		return 30 * 24 * time.Hour, true
	case LockPeriod60:
		return 60 * 24 * time.Hour, true
	case LockPeriod90:
		return 90 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// MaxLockDuration is the longest supported lock, used as the anchor of the
// duration-weight interpolation.
const MaxLockDuration = 90 * 24 * time.Hour

type StakeStatus string

const (
	StakeStatusActive    StakeStatus = "active"
	StakeStatusUnstaking StakeStatus = "unstaking"
	StakeStatusCompleted StakeStatus = "completed"
)

// StakeRecord is one locked position. Amount is fixed at creation;
// RewardsEarned only grows until the record completes. Transitions are
// forward-only: active -> unstaking -> completed.
type StakeRecord struct {
	StakeID               string          `json:"stake_id" db:"stake_id"`
	OwnerID               string          `json:"owner_id" db:"owner_id"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	LockPeriod            LockPeriod      `json:"lock_period" db:"lock_period"`
	StartTime             time.Time       `json:"start_time" db:"start_time"`
	UnlockTime            time.Time       `json:"unlock_time" db:"unlock_time"`
	Status                StakeStatus     `json:"status" db:"status"`
	RewardsEarned         decimal.Decimal `json:"rewards_earned" db:"rewards_earned"`
	LastRewardUpdate      time.Time       `json:"last_reward_update" db:"last_reward_update"`
	OriginatingTransferID string          `json:"originating_transfer_id" db:"originating_transfer_id"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// Unlocked reports whether the lock has expired at the given instant.
func (s *StakeRecord) Unlocked(now time.Time) bool {
	return !now.Before(s.UnlockTime)
}
