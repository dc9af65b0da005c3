// Package prediction is the side ledger of user bets on agent outcomes.
package prediction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StartingPoints is granted on a user's first interaction.
const StartingPoints int64 = 1000

// Bet amount bounds, inclusive.
const (
	MinBet int64 = 10
	MaxBet int64 = 500
)

// Prediction is what a user expects an agent to do in the next epoch.
type Prediction string

const (
	PredictUp       Prediction = "up"
	PredictDown     Prediction = "down"
	PredictBankrupt Prediction = "bankrupt"
	PredictSurvive  Prediction = "survive"
)

// Predictions lists every prediction kind.
func Predictions() []Prediction {
	return []Prediction{PredictUp, PredictDown, PredictBankrupt, PredictSurvive}
}

// ParsePrediction converts raw input into a Prediction.
func ParsePrediction(value string) (Prediction, error) {
	for _, p := range Predictions() {
		if string(p) == value {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid prediction %q", value)
}

// Result is the settled outcome of a bet.
type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
)

// Bet is one user's stake on one agent for one epoch.
type Bet struct {
	ID         int64           `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	AgentID    string          `json:"agent_id" db:"agent_id"`
	Epoch      int64           `json:"epoch" db:"epoch"`
	Prediction Prediction      `json:"prediction" db:"prediction"`
	Amount     int64           `json:"amount" db:"amount"`
	Odds       decimal.Decimal `json:"odds" db:"odds"`
	Result     *Result         `json:"result" db:"result"`
	Payout     *int64          `json:"payout" db:"payout"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	SettledAt  *time.Time      `json:"settled_at" db:"settled_at"`
}

// Open reports whether the bet has not been settled.
func (b Bet) Open() bool {
	return b.Result == nil
}

// UserPoints is a user's points balance and betting record.
type UserPoints struct {
	UserID     string `json:"user_id" db:"user_id"`
	Points     int64  `json:"points" db:"points"`
	TotalBets  int64  `json:"total_bets" db:"total_bets"`
	TotalWon   int64  `json:"total_won" db:"total_won"`
	TotalLost  int64  `json:"total_lost" db:"total_lost"`
	WinStreak  int64  `json:"win_streak" db:"win_streak"`
	BestStreak int64  `json:"best_streak" db:"best_streak"`
}

// ActiveLine aggregates open bets for one (agent, prediction) pair.
type ActiveLine struct {
	AgentID    string     `json:"agent_id" db:"agent_id"`
	Prediction Prediction `json:"prediction" db:"prediction"`
	Bets       int64      `json:"bets" db:"bets"`
	Staked     int64      `json:"staked" db:"staked"`
}

// Settlement is the outcome of settling one bet.
type Settlement struct {
	BetID      int64      `json:"bet_id"`
	UserID     string     `json:"user_id"`
	AgentID    string     `json:"agent_id"`
	Prediction Prediction `json:"prediction"`
	Amount     int64      `json:"amount"`
	Odds       string     `json:"odds"`
	Result     Result     `json:"result"`
	Payout     int64      `json:"payout"`
	Applied    bool       `json:"applied"`
}
