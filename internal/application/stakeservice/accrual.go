package stakeservice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

var (
	daysPerYear      = decimal.NewFromInt(365)
	percent          = decimal.NewFromInt(100)
	secondsPerDay    = decimal.NewFromInt(86400)
	maxLockSecondsDD = decimal.NewFromFloat(domain.MaxLockDuration.Seconds())
)

// durationWeight linearly interpolates the reward multiplier from 1.0 for a
// flexible stake to maxWeight at the longest supported lock.
func durationWeight(period domain.LockPeriod, maxWeight float64) decimal.Decimal {
	lock, ok := period.LockDuration()
	if !ok {
		return decimal.NewFromInt(1)
	}
	ratio := decimal.NewFromFloat(lock.Seconds()).Div(maxLockSecondsDD)
	return decimal.NewFromInt(1).Add(decimal.NewFromFloat(maxWeight - 1).Mul(ratio))
}

// accruedReward computes the total reward accrued since startTime:
// amount * (apy/365/100) * daysElapsed * weight. Days elapsed is fractional,
// so accrual is continuous rather than stepped.
func accruedReward(amount decimal.Decimal, apy float64, elapsed time.Duration, weight decimal.Decimal) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	dailyRate := decimal.NewFromFloat(apy).Div(daysPerYear).Div(percent)
	daysElapsed := decimal.NewFromFloat(elapsed.Seconds()).Div(secondsPerDay)
	return amount.Mul(dailyRate).Mul(daysElapsed).Mul(weight)
}

// pendingReward is the accrued-to-date reward not yet banked into
// rewardsEarned. Never negative.
func pendingReward(stake *domain.StakeRecord, apy, maxWeight float64, now time.Time) decimal.Decimal {
	weight := durationWeight(stake.LockPeriod, maxWeight)
	accrued := accruedReward(stake.Amount, apy, now.Sub(stake.StartTime), weight)
	pending := accrued.Sub(stake.RewardsEarned)
	if pending.IsNegative() {
		return decimal.Zero
	}
	return pending
}
