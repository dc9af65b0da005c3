package prediction

import (
	"github.com/shopspring/decimal"
)

// Tier is a coarse band of an agent's balance used to price bets.
type Tier string

const (
	TierStrong   Tier = "strong"
	TierHealthy  Tier = "healthy"
	TierWeak     Tier = "weak"
	TierCritical Tier = "critical"
)

var (
	strongFloor  = decimal.NewFromInt(1500)
	healthyFloor = decimal.NewFromInt(700)
	weakFloor    = decimal.NewFromInt(200)
)

// TierFor buckets a balance.
func TierFor(balance decimal.Decimal) Tier {
	switch {
	case balance.GreaterThanOrEqual(strongFloor):
		return TierStrong
	case balance.GreaterThanOrEqual(healthyFloor):
		return TierHealthy
	case balance.GreaterThanOrEqual(weakFloor):
		return TierWeak
	default:
		return TierCritical
	}
}

// Payout odds. Backing the likely outcome pays little; bankrupt always pays
// the most within a tier.
var oddsTable = map[Tier]map[Prediction]decimal.Decimal{
	TierStrong: {
		PredictUp:       decimal.RequireFromString("1.30"),
		PredictDown:     decimal.RequireFromString("2.50"),
		PredictBankrupt: decimal.RequireFromString("10.00"),
		PredictSurvive:  decimal.RequireFromString("1.05"),
	},
	TierHealthy: {
		PredictUp:       decimal.RequireFromString("1.80"),
		PredictDown:     decimal.RequireFromString("2.00"),
		PredictBankrupt: decimal.RequireFromString("8.00"),
		PredictSurvive:  decimal.RequireFromString("1.15"),
	},
	TierWeak: {
		PredictUp:       decimal.RequireFromString("2.20"),
		PredictDown:     decimal.RequireFromString("1.60"),
		PredictBankrupt: decimal.RequireFromString("5.00"),
		PredictSurvive:  decimal.RequireFromString("1.50"),
	},
	TierCritical: {
		PredictUp:       decimal.RequireFromString("3.00"),
		PredictDown:     decimal.RequireFromString("1.40"),
		PredictBankrupt: decimal.RequireFromString("3.50"),
		PredictSurvive:  decimal.RequireFromString("2.50"),
	},
}

// Odds prices a prediction against the agent's current balance.
func Odds(p Prediction, balance decimal.Decimal) decimal.Decimal {
	return oddsTable[TierFor(balance)][p]
}

// Payout is floor(amount × odds).
func Payout(amount int64, odds decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(odds).Floor().IntPart()
}
