package narrative

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/talgya/agent-economy/internal/economy"
)

var (
	bigSwing   = decimal.RequireFromString("0.10")
	smallSwing = decimal.RequireFromString("0.02")
)

// NetDelta sums the balance changes txs apply to agentID.
func NetDelta(agentID string, txs []economy.Transaction) decimal.Decimal {
	delta := decimal.Zero
	for _, tx := range txs {
		delta = delta.Add(tx.DeltaFor(agentID))
	}
	return delta
}

// InferMood picks a mood from the sign and size of the agent's epoch.
// a is the post-epoch state; txs are the epoch's transactions.
func InferMood(a economy.Agent, txs []economy.Transaction) Mood {
	if a.Status == economy.StatusBankrupt {
		return MoodDesperate
	}
	for _, tx := range txs {
		if tx.From != nil && *tx.From == a.ID && (tx.Type == economy.TxTheft || tx.Type == economy.TxScam) {
			return MoodAngry
		}
	}

	delta := NetDelta(a.ID, txs)
	before := a.Balance.Sub(delta)
	ratio := decimal.Zero
	if before.IsPositive() {
		ratio = delta.Div(before)
	}

	switch {
	case ratio.GreaterThanOrEqual(bigSwing):
		return MoodExcited
	case ratio.LessThanOrEqual(bigSwing.Neg()):
		if a.Status == economy.StatusStruggling {
			return MoodDesperate
		}
		return MoodWorried
	case a.Status == economy.StatusStruggling && delta.IsPositive():
		return MoodHopeful
	case ratio.GreaterThan(smallSwing):
		return MoodConfident
	case ratio.LessThan(smallSwing.Neg()):
		return MoodWorried
	}

	switch a.Archetype {
	case economy.ArchTrader, economy.ArchArbitrageur, economy.ArchInvestor, economy.ArchMarketMaker, economy.ArchOracle:
		return MoodStrategic
	}
	return MoodNeutral
}

// ParseMood accepts a mood name, falling back to ok=false for anything else.
func ParseMood(v string) (Mood, bool) {
	switch m := Mood(v); m {
	case MoodExcited, MoodWorried, MoodConfident, MoodDesperate, MoodStrategic, MoodAngry, MoodHopeful, MoodNeutral:
		return m, true
	}
	return "", false
}

// Highlights describes the agent's largest movements this epoch, biggest
// first, at most n lines.
func Highlights(agentID string, txs []economy.Transaction, names map[string]string, n int) []string {
	var mine []economy.Transaction
	for _, tx := range txs {
		if tx.Involves(agentID) && tx.Type != economy.TxUpkeep {
			mine = append(mine, tx)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		return mine[i].Amount.GreaterThan(mine[j].Amount)
	})
	if len(mine) > n {
		mine = mine[:n]
	}

	out := make([]string, 0, len(mine))
	for _, tx := range mine {
		out = append(out, describe(agentID, tx, names))
	}
	return out
}

// Activity lists every transaction touching the agent in booking order.
func Activity(agentID string, txs []economy.Transaction, names map[string]string) []string {
	var out []string
	for _, tx := range txs {
		if tx.Involves(agentID) {
			out = append(out, describe(agentID, tx, names))
		}
	}
	return out
}

func describe(agentID string, tx economy.Transaction, names map[string]string) string {
	verb, prep := "gained", "from"
	if tx.DeltaFor(agentID).IsNegative() {
		verb, prep = "lost", "to"
	}
	line := fmt.Sprintf("%s %s (%s)", verb, tx.Amount.StringFixed(2), tx.Note)
	if cp := tx.Counterparty(agentID); cp != "" {
		name := names[cp]
		if name == "" {
			name = cp
		}
		line = fmt.Sprintf("%s %s %s %s (%s)", verb, tx.Amount.StringFixed(2), prep, name, tx.Note)
	}
	return line
}
