package economy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/talgya/agent-economy/internal/errs"
)

// Store is the ledger surface the engine needs.
type Store interface {
	MaxEpoch(ctx context.Context) (int64, error)
	LoadAgents(ctx context.Context) ([]Agent, error)
	InsertAgentIfAbsent(ctx context.Context, a Agent, snapshot Snapshot) (bool, error)
	CommitEpoch(ctx context.Context, rec EpochRecord) error
}

// EpochRecord is everything CommitEpoch writes for one epoch.
type EpochRecord struct {
	Epoch        Epoch
	Transactions []Transaction
	Agents       []Agent
	Snapshots    []Snapshot
}

// SeedSource supplies a fresh seed for each epoch.
type SeedSource interface {
	Seed() int64
}

// RunOptions pin parts of an epoch. Zero values draw fresh.
type RunOptions struct {
	Event *Event
	Seed  *int64
}

// EpochResult is returned from a committed epoch. Its JSON form is the
// trigger response; the full transaction list is served by the ledger reads.
type EpochResult struct {
	Epoch            int64         `json:"epoch"`
	Event            Event         `json:"event"`
	TransactionCount int           `json:"transactionCount"`
	Bankruptcies     []string      `json:"bankruptcies"`
	Seed             int64         `json:"seed"`
	CommittedAt      time.Time     `json:"committed_at"`
	Transactions     []Transaction `json:"-"`
	Agents           []Agent       `json:"-"`
	PriorAgents      []Agent       `json:"-"`
}

// Engine advances the economy one epoch at a time. It does not serialize
// concurrent callers; the orchestration layer holds a lock around RunEpoch.
type Engine struct {
	store Store
	seeds SeedSource
	cycle *Cycle
	now   func() time.Time
}

// NewEngine wires an engine. cycle may be nil for flat event weights.
func NewEngine(store Store, seeds SeedSource, cycle *Cycle) *Engine {
	return &Engine{store: store, seeds: seeds, cycle: cycle, now: time.Now}
}

// NextEpochNumber returns 1 + the highest committed epoch, or 1 when none exist.
func (e *Engine) NextEpochNumber(ctx context.Context) (int64, error) {
	maxEpoch, err := e.store.MaxEpoch(ctx)
	if err != nil {
		return 0, errs.Persistence(err, "read latest epoch")
	}
	return maxEpoch + 1, nil
}

// RunEpoch simulates and commits epoch n. n must equal NextEpochNumber; a
// stale number is rejected rather than retried.
func (e *Engine) RunEpoch(ctx context.Context, n int64, opts RunOptions) (*EpochResult, error) {
	next, err := e.NextEpochNumber(ctx)
	if err != nil {
		return nil, err
	}
	if n != next {
		return nil, errs.Conflict(errs.ReasonEpochStale, "epoch %d requested but next epoch is %d", n, next).
			WithDetail("next_epoch", next)
	}

	agents, err := e.store.LoadAgents(ctx)
	if err != nil {
		return nil, errs.Persistence(err, "load agents")
	}
	if len(agents) == 0 {
		return nil, errs.Validation("no agents initialized")
	}

	seed := e.seedFor(opts)
	event := e.eventFor(n, seed, opts)
	out := Simulate(agents, n, event, seed)

	if err := CheckConservation(agents, out.Agents, out.Transactions); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "ledger does not reconcile")
	}

	now := e.now().UTC()
	for i := range out.Transactions {
		out.Transactions[i].CreatedAt = now
	}
	snapshots := make([]Snapshot, 0, len(out.Agents))
	for _, a := range out.Agents {
		snapshots = append(snapshots, Snapshot{AgentID: a.ID, Epoch: n, Balance: a.Balance, Status: a.Status})
	}

	rec := EpochRecord{
		Epoch: Epoch{
			Number:       n,
			Event:        event,
			Seed:         seed,
			TxCount:      len(out.Transactions),
			Bankruptcies: len(out.NewlyBankrupt),
			CreatedAt:    now,
		},
		Transactions: out.Transactions,
		Agents:       out.Agents,
		Snapshots:    snapshots,
	}
	if err := e.store.CommitEpoch(ctx, rec); err != nil {
		if errs.As(err) != nil {
			return nil, err
		}
		return nil, errs.Persistence(err, fmt.Sprintf("commit epoch %d", n))
	}

	slog.Info("epoch committed",
		"epoch", n,
		"event", event.String(),
		"seed", seed,
		"transactions", len(out.Transactions),
		"bankruptcies", len(out.NewlyBankrupt),
		"minted", out.Minted.StringFixed(2),
		"destroyed", out.Destroyed.StringFixed(2),
	)

	bankrupt := out.NewlyBankrupt
	if bankrupt == nil {
		bankrupt = []string{}
	}
	return &EpochResult{
		Epoch:            n,
		Event:            event,
		TransactionCount: len(out.Transactions),
		Bankruptcies:     bankrupt,
		Seed:             seed,
		CommittedAt:      now,
		Transactions:     out.Transactions,
		Agents:           out.Agents,
		PriorAgents:      agents,
	}, nil
}

func (e *Engine) seedFor(opts RunOptions) int64 {
	if opts.Seed != nil {
		return *opts.Seed
	}
	if e.seeds != nil {
		return e.seeds.Seed()
	}
	return e.now().UnixNano()
}

func (e *Engine) eventFor(n, seed int64, opts RunOptions) Event {
	if opts.Event != nil {
		return *opts.Event
	}
	// Separate stream from the rules so pinning the event does not shift them.
	r := rand.New(rand.NewSource(seed ^ 0x5eed))
	return DrawEvent(r, e.cycle.Phase(n))
}

// InitializeAgents creates any roster agent that does not exist yet, with an
// epoch-0 snapshot of its seed balance. Existing agents are never reset.
func (e *Engine) InitializeAgents(ctx context.Context) ([]Agent, error) {
	now := e.now().UTC()
	created := 0
	for _, p := range Personas() {
		a := p.NewAgent(now)
		ok, err := e.store.InsertAgentIfAbsent(ctx, a, Snapshot{AgentID: a.ID, Epoch: 0, Balance: a.Balance, Status: a.Status})
		if err != nil {
			return nil, errs.Persistence(err, fmt.Sprintf("insert agent %s", a.ID))
		}
		if ok {
			created++
		}
	}

	agents, err := e.store.LoadAgents(ctx)
	if err != nil {
		return nil, errs.Persistence(err, "load agents")
	}
	slog.Info("agents initialized", "created", created, "total", len(agents))
	return agents, nil
}
