package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/llm"
	"github.com/talgya/agent-economy/internal/metrics"
)

// Writer produces the text. *llm.Client and llm.TemplateWriter both satisfy it.
type Writer interface {
	WriteDiary(ctx context.Context, dc llm.DiaryContext) (llm.DiaryReply, error)
	WritePost(ctx context.Context, pc llm.PostContext) (string, error)
}

// Store is the persistence surface narrative generation needs.
type Store interface {
	MaxEpoch(ctx context.Context) (int64, error)
	GetEpoch(ctx context.Context, n int64) (economy.Epoch, error)
	LoadAgents(ctx context.Context) ([]economy.Agent, error)
	EpochTransactions(ctx context.Context, epoch int64) ([]economy.Transaction, error)
	Snapshots(ctx context.Context, epoch int64) ([]economy.Snapshot, error)
	InsertDiary(ctx context.Context, d DiaryEntry) (bool, error)
	InsertPost(ctx context.Context, p SocialPost) error
	PostedAbout(ctx context.Context, agentID string, epoch int64) (bool, error)
	LatestPostID(ctx context.Context, agentID string) (string, bool, error)
}

// Options tune a Generator. Zero values take defaults.
type Options struct {
	Timeout     time.Duration // Per writer call
	Concurrency int
	MaxPosts    int // Per social pass
	Metrics     *metrics.Recorder
}

// Generator writes diaries and social posts from committed epochs. Every unit
// of work fails independently; nothing here touches balances.
type Generator struct {
	store   Store
	writer  Writer
	opts    Options
	now     func() time.Time
	newID   func() string
	metrics *metrics.Recorder
}

// NewGenerator wires a generator.
func NewGenerator(store Store, writer Writer, opts Options) *Generator {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = 6
	}
	return &Generator{
		store:   store,
		writer:  writer,
		opts:    opts,
		now:     time.Now,
		newID:   newPostID,
		metrics: opts.Metrics,
	}
}

// EpochFacts are the committed facts of one epoch.
type EpochFacts struct {
	Epoch        int64
	Event        economy.Event
	Agents       []economy.Agent // Post-epoch state
	Transactions []economy.Transaction
}

// Report summarizes a narrative pass.
type Report struct {
	Epoch     int64    `json:"epoch"`
	Generated int      `json:"generated"`
	Existing  int      `json:"existing,omitempty"`
	Errors    []string `json:"errors"`
}

// LoadFacts reads a committed epoch back from the store.
func (g *Generator) LoadFacts(ctx context.Context, epoch int64) (EpochFacts, error) {
	ep, err := g.store.GetEpoch(ctx, epoch)
	if err != nil {
		return EpochFacts{}, err
	}
	agents, err := g.store.LoadAgents(ctx)
	if err != nil {
		return EpochFacts{}, fmt.Errorf("load agents: %w", err)
	}
	txs, err := g.store.EpochTransactions(ctx, epoch)
	if err != nil {
		return EpochFacts{}, err
	}

	// Agents reflect the latest epoch; pin balances to this epoch's close.
	snaps, err := g.store.Snapshots(ctx, epoch)
	if err != nil {
		return EpochFacts{}, err
	}
	byID := make(map[string]economy.Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.AgentID] = s
	}
	for i := range agents {
		if s, ok := byID[agents[i].ID]; ok {
			agents[i].Balance = s.Balance
			agents[i].Status = s.Status
		}
	}
	return EpochFacts{Epoch: epoch, Event: ep.Event, Agents: agents, Transactions: txs}, nil
}

// GenerateDiaries writes one entry per agent that took part in the epoch.
// Callers check for existing diaries first; an entry that already exists is
// counted but not rewritten. The returned error combines per-agent failures.
func (g *Generator) GenerateDiaries(ctx context.Context, facts EpochFacts) (Report, error) {
	report := Report{Epoch: facts.Epoch, Errors: []string{}}
	names := nameIndex(facts.Agents)

	type outcome struct {
		agentID  string
		inserted bool
		err      error
	}
	results := make([]outcome, len(facts.Agents))

	sem := semaphore.NewWeighted(int64(g.opts.Concurrency))
	var eg errgroup.Group
	for i, a := range facts.Agents {
		i, a := i, a
		results[i].agentID = a.ID
		if a.Status == economy.StatusBankrupt && !involved(a.ID, facts.Transactions) {
			results[i].err = errSkip
			continue
		}
		eg.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i].err = err
				return nil
			}
			defer sem.Release(1)
			results[i].inserted, results[i].err = g.writeDiary(ctx, facts, a, names)
			return nil
		})
	}
	_ = eg.Wait()

	var errs error
	for _, r := range results {
		switch {
		case r.err == errSkip:
		case r.err != nil:
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.agentID, r.err))
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", r.agentID, r.err))
			g.metrics.NarrativeUnit("diary", false)
		case r.inserted:
			report.Generated++
			g.metrics.NarrativeUnit("diary", true)
		default:
			report.Existing++
		}
	}

	slog.Info("diaries generated",
		"epoch", facts.Epoch,
		"generated", report.Generated,
		"existing", report.Existing,
		"failed", len(report.Errors),
	)
	return report, errs
}

func (g *Generator) writeDiary(ctx context.Context, facts EpochFacts, a economy.Agent, names map[string]string) (bool, error) {
	mood := InferMood(a, facts.Transactions)
	highlights := Highlights(a.ID, facts.Transactions, names, 3)
	delta := NetDelta(a.ID, facts.Transactions)

	dc := llm.DiaryContext{
		Name:       a.Name,
		Archetype:  a.Archetype.String(),
		Voice:      voiceOf(a.ID),
		Epoch:      facts.Epoch,
		Event:      facts.Event.String(),
		Balance:    a.Balance.StringFixed(2),
		Delta:      signed(delta),
		Status:     string(a.Status),
		Mood:       string(mood),
		Highlights: highlights,
		Activity:   Activity(a.ID, facts.Transactions, names),
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	reply, err := g.writer.WriteDiary(callCtx, dc)
	if err != nil {
		return false, err
	}
	if m, ok := ParseMood(reply.Mood); ok {
		mood = m
	}

	return g.store.InsertDiary(ctx, DiaryEntry{
		AgentID:    a.ID,
		Epoch:      facts.Epoch,
		Content:    reply.Content,
		Mood:       mood,
		Highlights: StringList(highlights),
		CreatedAt:  g.now().UTC(),
	})
}

func nameIndex(agents []economy.Agent) map[string]string {
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	return names
}

func involved(agentID string, txs []economy.Transaction) bool {
	for _, tx := range txs {
		if tx.Involves(agentID) {
			return true
		}
	}
	return false
}

func voiceOf(agentID string) string {
	if p, ok := economy.PersonaByID(agentID); ok {
		return p.Voice
	}
	return "plain-spoken"
}
