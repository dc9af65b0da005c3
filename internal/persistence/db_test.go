package persistence

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
	"github.com/talgya/agent-economy/internal/narrative"
	"github.com/talgya/agent-economy/internal/prediction"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "economy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seededDB(t *testing.T) (*DB, *economy.Engine) {
	t.Helper()
	db := openTestDB(t)
	eng := economy.NewEngine(db, entropy.Fixed(11), nil)
	_, err := eng.InitializeAgents(context.Background())
	require.NoError(t, err)
	return db, eng
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "economy.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping(context.Background()))
}

func TestInitializeAgentsPersistsRosterOnce(t *testing.T) {
	db, eng := seededDB(t)
	ctx := context.Background()

	agents, err := db.LoadAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, len(economy.Personas()))

	_, err = eng.InitializeAgents(ctx)
	require.NoError(t, err)

	snaps, err := db.Snapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, len(agents))

	gambler, err := db.GetAgent(ctx, "gambler")
	require.NoError(t, err)
	assert.Equal(t, economy.ArchGambler, gambler.Archetype)
	assert.True(t, gambler.Balance.Equal(gambler.StartingBalance))

	_, err = db.GetAgent(ctx, "nobody")
	assert.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestCommitEpochRoundTrip(t *testing.T) {
	db, eng := seededDB(t)
	ctx := context.Background()

	res, err := eng.RunEpoch(ctx, 1, economy.RunOptions{})
	require.NoError(t, err)

	maxEpoch, err := db.MaxEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), maxEpoch)

	ep, err := db.GetEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, res.Event, ep.Event)
	assert.Equal(t, int64(11), ep.Seed)
	assert.Equal(t, len(res.Transactions), ep.TxCount)

	txs, err := db.EpochTransactions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, len(res.Transactions))
	for i, tx := range txs {
		assert.Equal(t, res.Transactions[i].Seq, tx.Seq)
		assert.True(t, res.Transactions[i].Amount.Equal(tx.Amount))
		assert.Equal(t, res.Transactions[i].From, tx.From)
	}

	agents, err := db.LoadAgents(ctx)
	require.NoError(t, err)
	before, err := db.Snapshots(ctx, 0)
	require.NoError(t, err)
	prior := make([]economy.Agent, len(before))
	for i, s := range before {
		prior[i] = economy.Agent{ID: s.AgentID, Balance: s.Balance}
	}
	require.NoError(t, economy.CheckConservation(prior, agents, txs))

	snaps, err := db.Snapshots(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, snaps, len(agents))
}

func TestCommitEpochRejectsDuplicateNumber(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	rec := economy.EpochRecord{Epoch: economy.Epoch{Number: 1, Event: economy.EventNormal, CreatedAt: time.Now().UTC()}}
	require.NoError(t, db.CommitEpoch(ctx, rec))

	err := db.CommitEpoch(ctx, rec)
	require.Error(t, err)
	assert.True(t, errs.HasReason(err, errs.ReasonEpochStale))
}

func TestCommitEpochRollsBackOnFailure(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	ghost := "ghost"
	rec := economy.EpochRecord{
		Epoch: economy.Epoch{Number: 1, Event: economy.EventNormal, CreatedAt: time.Now().UTC()},
		Transactions: []economy.Transaction{{
			Epoch:     1,
			Seq:       1,
			To:        &ghost,
			Amount:    decimal.NewFromInt(5),
			Type:      economy.TxTrade,
			CreatedAt: time.Now().UTC(),
		}},
	}
	require.Error(t, db.CommitEpoch(ctx, rec))

	maxEpoch, err := db.MaxEpoch(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxEpoch)
}

func TestListTransactionsFilters(t *testing.T) {
	db, eng := seededDB(t)
	ctx := context.Background()
	for n := int64(1); n <= 2; n++ {
		_, err := eng.RunEpoch(ctx, n, economy.RunOptions{})
		require.NoError(t, err)
	}

	one := int64(1)
	txs, err := db.ListTransactions(ctx, TxFilter{AgentID: "trader", Epoch: &one, Limit: 500})
	require.NoError(t, err)
	for _, tx := range txs {
		assert.Equal(t, int64(1), tx.Epoch)
		assert.True(t, tx.Involves("trader"))
	}

	upkeep, err := db.ListTransactions(ctx, TxFilter{Type: economy.TxUpkeep, Limit: 500})
	require.NoError(t, err)
	assert.NotEmpty(t, upkeep)
	assert.GreaterOrEqual(t, upkeep[0].Epoch, upkeep[len(upkeep)-1].Epoch)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.LatestEpoch)
	assert.Equal(t, len(economy.Personas()), stats.Agents)
	assert.Equal(t, stats.Agents, stats.Active+stats.Struggling+stats.Bankrupt)
}

func TestDiaryUniquePerAgentEpoch(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	entry := narrative.DiaryEntry{
		AgentID:    "saver",
		Epoch:      1,
		Content:    "Another quiet day.",
		Mood:       narrative.MoodNeutral,
		Highlights: narrative.StringList{"earned interest"},
		CreatedAt:  time.Now().UTC(),
	}
	ok, err := db.InsertDiary(ctx, entry)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.InsertDiary(ctx, entry)
	require.NoError(t, err)
	assert.False(t, ok)

	has, err := db.HasDiaries(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)

	one := int64(1)
	entries, err := db.ListDiaries(ctx, narrative.DiaryFilter{Epoch: &one})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, narrative.StringList{"earned interest"}, entries[0].Highlights)
}

func TestPostsAndReplies(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	epoch := int64(3)
	first := narrative.SocialPost{ID: "p1", AgentID: "hacker", Content: "too easy", PostType: narrative.PostBrag, SourceEpoch: &epoch, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.InsertPost(ctx, first))

	id, ok, err := db.LatestPostID(ctx, "hacker")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1", id)

	reply := narrative.SocialPost{ID: "p2", AgentID: "saver", Content: "give it back", ReplyTo: &id, PostType: narrative.PostCallout, SourceEpoch: &epoch, CreatedAt: time.Now().UTC().Add(time.Second)}
	require.NoError(t, db.InsertPost(ctx, reply))

	posted, err := db.PostedAbout(ctx, "saver", 3)
	require.NoError(t, err)
	assert.True(t, posted)

	posts, err := db.RecentPosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID)
	require.NotNil(t, posts[0].ReplyTo)
	assert.Equal(t, "p1", *posts[0].ReplyTo)
}

func newBet(user, agent string, amount int64) prediction.Bet {
	return prediction.Bet{
		UserID:     user,
		AgentID:    agent,
		Epoch:      1,
		Prediction: prediction.PredictUp,
		Amount:     amount,
		Odds:       decimal.RequireFromString("1.5"),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestPlaceBetDebitsAndGrants(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	remaining, bet, err := db.PlaceBet(ctx, newBet("alice", "gambler", 100))
	require.NoError(t, err)
	assert.Equal(t, prediction.StartingPoints-100, remaining)
	assert.NotZero(t, bet.ID)

	stored, err := db.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	assert.True(t, stored.Open())
	assert.Equal(t, "1.5", stored.Odds.String())

	up, err := db.EnsurePoints(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), up.TotalBets)
}

func TestPlaceBetRejectsDuplicateOpenBet(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	_, _, err := db.PlaceBet(ctx, newBet("alice", "gambler", 50))
	require.NoError(t, err)

	_, _, err = db.PlaceBet(ctx, newBet("alice", "gambler", 50))
	require.Error(t, err)
	assert.True(t, errs.HasReason(err, errs.ReasonDuplicateBet))

	up, err := db.EnsurePoints(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, prediction.StartingPoints-50, up.Points, "second bet must not debit")
}

func TestPlaceBetInsufficientPoints(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()
	require.NoError(t, db.SetPoints(ctx, "bob", 5))

	_, _, err := db.PlaceBet(ctx, newBet("bob", "saver", 10))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeInsufficientPoints))

	up, err := db.EnsurePoints(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(5), up.Points)
	assert.Zero(t, up.TotalBets)

	bets, err := db.BetsForUser(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, bets)
}

func TestSettleBetIsIdempotent(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	_, bet, err := db.PlaceBet(ctx, newBet("carol", "oracle", 100))
	require.NoError(t, err)

	applied, err := db.SettleBet(ctx, bet, prediction.ResultWin, 150, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = db.SettleBet(ctx, bet, prediction.ResultWin, 150, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)

	up, err := db.EnsurePoints(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, prediction.StartingPoints-100+150, up.Points)
	assert.Equal(t, int64(150), up.TotalWon)
	assert.Equal(t, int64(1), up.WinStreak)
	assert.Equal(t, int64(1), up.BestStreak)

	open, err := db.OpenBets(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, open)

	stored, err := db.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Result)
	assert.Equal(t, prediction.ResultWin, *stored.Result)
	require.NotNil(t, stored.SettledAt)
}

func TestSettleLossResetsStreak(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	_, win, err := db.PlaceBet(ctx, newBet("dave", "saver", 20))
	require.NoError(t, err)
	_, err = db.SettleBet(ctx, win, prediction.ResultWin, 30, time.Now().UTC())
	require.NoError(t, err)

	_, loss, err := db.PlaceBet(ctx, newBet("dave", "miner", 40))
	require.NoError(t, err)
	_, err = db.SettleBet(ctx, loss, prediction.ResultLose, 0, time.Now().UTC())
	require.NoError(t, err)

	up, err := db.EnsurePoints(ctx, "dave")
	require.NoError(t, err)
	assert.Zero(t, up.WinStreak)
	assert.Equal(t, int64(1), up.BestStreak)
	assert.Equal(t, int64(40), up.TotalLost)

	board, err := db.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, board)
	assert.Equal(t, "dave", board[0].UserID)
}

func TestActiveSummaryGroupsOpenBets(t *testing.T) {
	db, _ := seededDB(t)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u3"} {
		_, _, err := db.PlaceBet(ctx, newBet(user, "gambler", 25))
		require.NoError(t, err)
	}
	lines, err := db.ActiveSummary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(3), lines[0].Bets)
	assert.Equal(t, int64(75), lines[0].Staked)
}

func TestPlaceBetRejectsCommittedEpoch(t *testing.T) {
	db, eng := seededDB(t)
	ctx := context.Background()
	_, err := eng.RunEpoch(ctx, 1, economy.RunOptions{})
	require.NoError(t, err)

	_, _, err = db.PlaceBet(ctx, newBet("hana", "saver", 50))
	require.Error(t, err)
	assert.True(t, errs.HasReason(err, errs.ReasonEpochStale))

	up, err := db.EnsurePoints(ctx, "hana")
	require.NoError(t, err)
	assert.Equal(t, prediction.StartingPoints, up.Points, "stale bet must not debit")
	open, err := db.OpenBets(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, open)
}
