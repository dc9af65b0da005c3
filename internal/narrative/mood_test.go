package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/agent-economy/internal/economy"
)

func TestInferMood(t *testing.T) {
	market := func(to string, amount string) economy.Transaction {
		return economy.Transaction{To: ptr(to), Amount: d(amount), Type: economy.TxTrade}
	}
	loss := func(from string, amount string) economy.Transaction {
		return economy.Transaction{From: ptr(from), Amount: d(amount), Type: economy.TxLoss}
	}

	cases := []struct {
		name  string
		agent economy.Agent
		txs   []economy.Transaction
		want  Mood
	}{
		{"bankrupt", agent("x", "X", economy.ArchSaver, "0", economy.StatusBankrupt), nil, MoodDesperate},
		{"big win", agent("x", "X", economy.ArchSaver, "1200", economy.StatusActive), []economy.Transaction{market("x", "200")}, MoodExcited},
		{"big loss", agent("x", "X", economy.ArchSaver, "800", economy.StatusActive), []economy.Transaction{loss("x", "200")}, MoodWorried},
		{"big loss struggling", agent("x", "X", economy.ArchSaver, "150", economy.StatusStruggling), []economy.Transaction{loss("x", "100")}, MoodDesperate},
		{"recovering", agent("x", "X", economy.ArchSaver, "150", economy.StatusStruggling), []economy.Transaction{market("x", "5")}, MoodHopeful},
		{"small win", agent("x", "X", economy.ArchSaver, "1050", economy.StatusActive), []economy.Transaction{market("x", "50")}, MoodConfident},
		{"flat trader", agent("x", "X", economy.ArchTrader, "1000", economy.StatusActive), nil, MoodStrategic},
		{"flat artist", agent("x", "X", economy.ArchArtist, "1000", economy.StatusActive), nil, MoodNeutral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferMood(tc.agent, tc.txs))
		})
	}
}

func TestParseMood(t *testing.T) {
	m, ok := ParseMood("hopeful")
	assert.True(t, ok)
	assert.Equal(t, MoodHopeful, m)

	_, ok = ParseMood("Hopeful")
	assert.False(t, ok)
}

func TestHighlightsSkipUpkeepAndOrderBySize(t *testing.T) {
	txs := []economy.Transaction{
		{From: ptr("x"), Amount: d("1"), Type: economy.TxUpkeep, Note: "upkeep"},
		{From: ptr("x"), To: ptr("y"), Amount: d("20"), Type: economy.TxRent, Note: "rent"},
		{To: ptr("x"), Amount: d("90"), Type: economy.TxInterest, Note: "interest"},
		{From: ptr("y"), To: ptr("z"), Amount: d("500"), Type: economy.TxTrade, Note: "unrelated"},
	}
	got := Highlights("x", txs, map[string]string{"y": "Lord Rentwell"}, 3)
	assert.Equal(t, []string{
		"gained 90.00 (interest)",
		"lost 20.00 to Lord Rentwell (rent)",
	}, got)

	assert.Len(t, Activity("x", txs, nil), 3)
	assert.Equal(t, "+69.00", signed(NetDelta("x", txs)))
	assert.Equal(t, "-20.00", signed(d("-20")))
}
