package prediction_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/entropy"
	"github.com/talgya/agent-economy/internal/errs"
	"github.com/talgya/agent-economy/internal/persistence"
	"github.com/talgya/agent-economy/internal/prediction"
)

func setup(t *testing.T) (*persistence.DB, *prediction.Service) {
	t.Helper()
	ctx := context.Background()
	db, err := persistence.Open(ctx, filepath.Join(t.TempDir(), "economy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = economy.NewEngine(db, entropy.Fixed(3), nil).InitializeAgents(ctx)
	require.NoError(t, err)
	return db, prediction.NewService(db, nil)
}

type move struct {
	balance string
	status  economy.Status
}

// commit writes epoch n directly, moving the listed agents and carrying the
// rest forward unchanged.
func commit(t *testing.T, db *persistence.DB, n int64, moves map[string]move) {
	t.Helper()
	ctx := context.Background()
	agents, err := db.LoadAgents(ctx)
	require.NoError(t, err)

	rec := economy.EpochRecord{Epoch: economy.Epoch{Number: n, Event: economy.EventNormal, Seed: n, CreatedAt: time.Now().UTC()}}
	for _, a := range agents {
		if m, ok := moves[a.ID]; ok {
			a.Balance = decimal.RequireFromString(m.balance)
			a.Status = m.status
		}
		rec.Agents = append(rec.Agents, a)
		rec.Snapshots = append(rec.Snapshots, economy.Snapshot{AgentID: a.ID, Epoch: n, Balance: a.Balance, Status: a.Status})
	}
	require.NoError(t, db.CommitEpoch(ctx, rec))
}

func TestOddsTable(t *testing.T) {
	balances := []string{"5000", "1500", "900", "250", "50"}
	for _, b := range balances {
		bal := decimal.RequireFromString(b)
		bankrupt := prediction.Odds(prediction.PredictBankrupt, bal)
		for _, p := range prediction.Predictions() {
			assert.True(t, prediction.Odds(p, bal).IsPositive(), "%s at %s", p, b)
			if p != prediction.PredictBankrupt {
				assert.True(t, bankrupt.GreaterThan(prediction.Odds(p, bal)), "%s at %s", p, b)
			}
		}
	}

	strong := decimal.NewFromInt(1600)
	assert.Equal(t, prediction.TierStrong, prediction.TierFor(strong))
	assert.Equal(t, "10", prediction.Odds(prediction.PredictBankrupt, strong).String())
	assert.True(t, prediction.Odds(prediction.PredictUp, strong).LessThan(prediction.Odds(prediction.PredictDown, strong)))
	assert.Equal(t, prediction.TierCritical, prediction.TierFor(decimal.NewFromInt(199)))
}

func TestPayoutFloors(t *testing.T) {
	assert.Equal(t, int64(1000), prediction.Payout(100, decimal.RequireFromString("10.00")))
	assert.Equal(t, int64(34), prediction.Payout(33, decimal.RequireFromString("1.05")))
}

func TestSettlePaysBankruptcyAtTenToOne(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	placed, err := svc.PlaceBet(ctx, "alice", "market_maker", "bankrupt", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(900), placed.Remaining)
	assert.Equal(t, int64(1), placed.Bet.Epoch)
	assert.True(t, placed.Odds.Equal(decimal.NewFromInt(10)))

	commit(t, db, 1, map[string]move{"market_maker": {"0.50", economy.StatusBankrupt}})

	settled, err := svc.Settle(ctx, 1)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, prediction.ResultWin, settled[0].Result)
	assert.Equal(t, int64(1000), settled[0].Payout)
	assert.True(t, settled[0].Applied)

	up, err := svc.Points(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1900), up.Points)
	assert.Equal(t, int64(1), up.WinStreak)
	assert.Equal(t, int64(1000), up.TotalWon)

	bets, err := svc.UserBets(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	require.NotNil(t, bets[0].Payout)
	assert.Equal(t, int64(1000), *bets[0].Payout)
}

func TestSettleTwicePaysOnce(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	_, err := svc.PlaceBet(ctx, "bob", "saver", "up", 50)
	require.NoError(t, err)
	commit(t, db, 1, map[string]move{"saver": {"1100", economy.StatusActive}})

	first, err := svc.Settle(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, prediction.ResultWin, first[0].Result)

	second, err := svc.Settle(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, second)

	up, err := svc.Points(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1000-50)+first[0].Payout, up.Points)
}

func TestSettleComparesAgainstPriorClose(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	commit(t, db, 1, map[string]move{"trader": {"1300", economy.StatusActive}})

	_, err := svc.PlaceBet(ctx, "carol", "trader", "down", 100)
	require.NoError(t, err)
	_, err = svc.PlaceBet(ctx, "carol", "saver", "survive", 100)
	require.NoError(t, err)

	// Trader flat against epoch 1, so "down" loses even though 1300 > start.
	commit(t, db, 2, map[string]move{"saver": {"150", economy.StatusStruggling}})

	settled, err := svc.Settle(ctx, 2)
	require.NoError(t, err)
	require.Len(t, settled, 2)

	byAgent := map[string]prediction.Settlement{}
	for _, s := range settled {
		byAgent[s.AgentID] = s
	}
	assert.Equal(t, prediction.ResultLose, byAgent["trader"].Result)
	assert.Zero(t, byAgent["trader"].Payout)
	assert.Equal(t, prediction.ResultWin, byAgent["saver"].Result)

	up, err := svc.Points(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(100), up.TotalLost)
	assert.Equal(t, int64(1), up.BestStreak)
}

func TestSettleRequiresCommittedEpoch(t *testing.T) {
	_, svc := setup(t)
	_, err := svc.Settle(context.Background(), 4)
	assert.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestPlaceBetValidation(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	_, err := svc.PlaceBet(ctx, "dan", "saver", "up", prediction.MinBet-1)
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, err = svc.PlaceBet(ctx, "dan", "saver", "up", prediction.MaxBet+1)
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, err = svc.PlaceBet(ctx, "dan", "saver", "sideways", 50)
	assert.True(t, errs.HasReason(err, errs.ReasonInvalidPrediction))

	_, err = svc.PlaceBet(ctx, "", "saver", "up", 50)
	assert.True(t, errs.Is(err, errs.CodeValidation))

	_, err = svc.PlaceBet(ctx, "dan", "nobody", "up", 50)
	assert.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestPlaceBetRejectsBankruptAgent(t *testing.T) {
	db, svc := setup(t)
	commit(t, db, 1, map[string]move{"gambler": {"0", economy.StatusBankrupt}})

	_, err := svc.PlaceBet(context.Background(), "erin", "gambler", "survive", 50)
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestPlaceBetOnePerAgentPerEpoch(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	_, err := svc.PlaceBet(ctx, "frank", "hacker", "up", 100)
	require.NoError(t, err)
	_, err = svc.PlaceBet(ctx, "frank", "hacker", "down", 100)
	assert.True(t, errs.HasReason(err, errs.ReasonDuplicateBet))

	up, err := svc.Points(ctx, "frank")
	require.NoError(t, err)
	assert.Equal(t, int64(900), up.Points)

	epoch, lines, err := svc.ActiveSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(100), lines[0].Staked)
}

func TestPlaceBetInsufficientPoints(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()
	require.NoError(t, db.SetPoints(ctx, "gina", 5))

	_, err := svc.PlaceBet(ctx, "gina", "saver", "up", 10)
	assert.True(t, errs.Is(err, errs.CodeInsufficientPoints))

	up, err := svc.Points(ctx, "gina")
	require.NoError(t, err)
	assert.Equal(t, int64(5), up.Points)

	bets, err := svc.UserBets(ctx, "gina", 10)
	require.NoError(t, err)
	assert.Empty(t, bets)
}

func TestOutcomeWins(t *testing.T) {
	o := prediction.Outcome{Before: decimal.NewFromInt(100), After: decimal.NewFromInt(100)}
	assert.False(t, o.Wins(prediction.PredictUp))
	assert.False(t, o.Wins(prediction.PredictDown))
	assert.True(t, o.Wins(prediction.PredictSurvive))
	assert.False(t, o.Wins(prediction.PredictBankrupt))
}

// lateStore reports the epoch before the latest commit once, as a reader
// would if an epoch committed right after it looked.
type lateStore struct {
	*persistence.DB
	stale int
}

func (s *lateStore) MaxEpoch(ctx context.Context) (int64, error) {
	n, err := s.DB.MaxEpoch(ctx)
	if s.stale > 0 && n > 0 {
		s.stale--
		return n - 1, err
	}
	return n, err
}

func TestPlaceBetRetargetsWhenEpochCommitsFirst(t *testing.T) {
	db, _ := setup(t)
	ctx := context.Background()
	commit(t, db, 1, map[string]move{"saver": {"1600", economy.StatusActive}})

	svc := prediction.NewService(&lateStore{DB: db, stale: 1}, nil)
	placed, err := svc.PlaceBet(ctx, "ivy", "saver", "up", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), placed.Bet.Epoch)
	assert.Equal(t, prediction.Odds(prediction.PredictUp, decimal.NewFromInt(1600)).String(), placed.Odds.String())

	stale, err := db.OpenBets(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, stale)
	open, err := db.OpenBets(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Equal(t, prediction.StartingPoints-100, placed.Remaining)
}
