package economy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agent-economy/internal/errs"
)

type memStore struct {
	mu        sync.Mutex
	agents    map[string]Agent
	epochs    []Epoch
	txs       []Transaction
	snapshots []Snapshot
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{agents: map[string]Agent{}}
}

func (m *memStore) MaxEpoch(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.epochs) == 0 {
		return 0, nil
	}
	return m.epochs[len(m.epochs)-1].Number, nil
}

func (m *memStore) LoadAgents(context.Context) ([]Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Agent, 0, len(m.agents))
	for _, p := range personas {
		if a, ok := m.agents[p.ID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) InsertAgentIfAbsent(_ context.Context, a Agent, snap Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return false, nil
	}
	m.agents[a.ID] = a
	m.snapshots = append(m.snapshots, snap)
	return true, nil
}

func (m *memStore) CommitEpoch(_ context.Context, rec EpochRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, e := range m.epochs {
		if e.Number == rec.Epoch.Number {
			return errors.New("UNIQUE constraint failed: epochs.number")
		}
	}
	m.epochs = append(m.epochs, rec.Epoch)
	m.txs = append(m.txs, rec.Transactions...)
	for _, a := range rec.Agents {
		m.agents[a.ID] = a
	}
	m.snapshots = append(m.snapshots, rec.Snapshots...)
	return nil
}

type fixedSeed int64

func (f fixedSeed) Seed() int64 { return int64(f) }

func TestInitializeAgentsIsIdempotent(t *testing.T) {
	store := newMemStore()
	eng := NewEngine(store, fixedSeed(1), nil)
	ctx := context.Background()

	agents, err := eng.InitializeAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, len(personas))
	assert.Len(t, store.snapshots, len(personas))

	g := store.agents["gambler"]
	g.Balance = decimal.NewFromInt(5)
	store.agents["gambler"] = g

	again, err := eng.InitializeAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, again, len(personas))
	assert.Len(t, store.snapshots, len(personas), "no new epoch-0 snapshots")
	assert.Equal(t, "5", store.agents["gambler"].Balance.String(), "existing agents are not reset")
}

func TestRunEpochAdvancesSequentially(t *testing.T) {
	store := newMemStore()
	eng := NewEngine(store, fixedSeed(5), NewCycle(5))
	ctx := context.Background()
	_, err := eng.InitializeAgents(ctx)
	require.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		n, err := eng.NextEpochNumber(ctx)
		require.NoError(t, err)
		require.Equal(t, want, n)

		res, err := eng.RunEpoch(ctx, n, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, n, res.Epoch)
		assert.Equal(t, int64(5), res.Seed)
		assert.NotNil(t, res.Bankruptcies)
		assert.Len(t, res.PriorAgents, len(personas))
	}
	assert.Len(t, store.epochs, 3)
	assert.Len(t, store.snapshots, 4*len(personas))
}

func TestRunEpochRejectsStaleNumber(t *testing.T) {
	store := newMemStore()
	eng := NewEngine(store, fixedSeed(5), nil)
	ctx := context.Background()
	_, err := eng.InitializeAgents(ctx)
	require.NoError(t, err)

	_, err = eng.RunEpoch(ctx, 1, RunOptions{})
	require.NoError(t, err)

	_, err = eng.RunEpoch(ctx, 1, RunOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeConflict))
	assert.True(t, errs.HasReason(err, errs.ReasonEpochStale))
	assert.Len(t, store.epochs, 1)
}

func TestRunEpochHonorsPinnedEventAndSeed(t *testing.T) {
	store := newMemStore()
	eng := NewEngine(store, fixedSeed(5), nil)
	ctx := context.Background()
	_, err := eng.InitializeAgents(ctx)
	require.NoError(t, err)

	event := EventRecession
	seed := int64(777)
	res, err := eng.RunEpoch(ctx, 1, RunOptions{Event: &event, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, EventRecession, res.Event)
	assert.Equal(t, seed, res.Seed)
	assert.Equal(t, EventRecession, store.epochs[0].Event)
	assert.Equal(t, seed, store.epochs[0].Seed)
}

func TestRunEpochWithoutAgentsFails(t *testing.T) {
	eng := NewEngine(newMemStore(), fixedSeed(1), nil)
	_, err := eng.RunEpoch(context.Background(), 1, RunOptions{})
	assert.True(t, errs.Is(err, errs.CodeValidation))
}

func TestRunEpochCommitFailureIsPersistenceError(t *testing.T) {
	store := newMemStore()
	eng := NewEngine(store, fixedSeed(1), nil)
	ctx := context.Background()
	_, err := eng.InitializeAgents(ctx)
	require.NoError(t, err)

	store.commitErr = errors.New("disk I/O error")
	_, err = eng.RunEpoch(ctx, 1, RunOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodePersistence))
	assert.Empty(t, store.txs)
}
