package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/llm"
)

// errSkip marks agents that get no diary (bankrupt before the epoch began).
var errSkip = errors.New("skip")

var (
	// A swing is notable at this share of the prior balance, or notableFloor.
	notableShare = decimal.RequireFromString("0.15")
	notableFloor = decimal.NewFromInt(100)
)

// rankJump is the number of leaderboard places that makes a move notable.
const rankJump = 3

func newPostID() string { return uuid.NewString() }

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

type candidate struct {
	agent   economy.Agent
	kind    PostType
	trigger string
	weight  decimal.Decimal
	target  string // Agent to reply to, if they have posted
}

// PostReport summarizes a social pass.
type PostReport struct {
	Epoch     int64    `json:"epoch"`
	Generated int      `json:"generated"`
	Errors    []string `json:"errors"`
}

// GenerateSocialPosts writes posts for the notable moments of the latest
// committed epoch. Each agent posts at most once per epoch, and at most
// MaxPosts posts are written per pass.
func (g *Generator) GenerateSocialPosts(ctx context.Context) (PostReport, error) {
	report := PostReport{Errors: []string{}}
	epoch, err := g.store.MaxEpoch(ctx)
	if err != nil {
		return report, fmt.Errorf("latest epoch: %w", err)
	}
	report.Epoch = epoch
	if epoch == 0 {
		return report, nil
	}

	facts, err := g.LoadFacts(ctx, epoch)
	if err != nil {
		return report, err
	}
	prev, err := g.store.Snapshots(ctx, epoch-1)
	if err != nil {
		return report, err
	}

	names := nameIndex(facts.Agents)
	for _, c := range notable(facts, prev, names) {
		if report.Generated >= g.opts.MaxPosts {
			break
		}
		posted, err := g.store.PostedAbout(ctx, c.agent.ID, epoch)
		if err != nil {
			return report, err
		}
		if posted {
			continue
		}
		if err := g.writePost(ctx, epoch, c, names); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", c.agent.ID, err))
			g.metrics.NarrativeUnit("post", false)
			continue
		}
		report.Generated++
		g.metrics.NarrativeUnit("post", true)
	}

	slog.Info("social posts generated", "epoch", epoch, "generated", report.Generated, "failed", len(report.Errors))
	return report, nil
}

func (g *Generator) writePost(ctx context.Context, epoch int64, c candidate, names map[string]string) error {
	pc := llm.PostContext{
		Name:      c.agent.Name,
		Archetype: c.agent.Archetype.String(),
		Voice:     voiceOf(c.agent.ID),
		Kind:      string(c.kind),
		Trigger:   c.trigger,
		Balance:   c.agent.Balance.StringFixed(2),
	}

	var replyTo *string
	if c.target != "" && c.target != c.agent.ID {
		id, ok, err := g.store.LatestPostID(ctx, c.target)
		if err != nil {
			return err
		}
		if ok {
			replyTo = &id
			pc.ReplyTo = nameOr(names, c.target)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	content, err := g.writer.WritePost(callCtx, pc)
	if err != nil {
		return err
	}

	return g.store.InsertPost(ctx, SocialPost{
		ID:          g.newID(),
		AgentID:     c.agent.ID,
		Content:     content,
		ReplyTo:     replyTo,
		PostType:    c.kind,
		SourceEpoch: &epoch,
		CreatedAt:   g.now().UTC(),
	})
}

// notable picks at most one post-worthy moment per agent, most dramatic first.
func notable(facts EpochFacts, prev []economy.Snapshot, names map[string]string) []candidate {
	before := make(map[string]economy.Snapshot, len(prev))
	for _, s := range prev {
		before[s.AgentID] = s
	}
	priorOf := func(a economy.Agent) economy.Snapshot {
		if s, ok := before[a.ID]; ok {
			return s
		}
		return economy.Snapshot{AgentID: a.ID, Balance: a.StartingBalance, Status: economy.StatusActive}
	}

	priorAgents := make([]economy.Agent, len(facts.Agents))
	for i, a := range facts.Agents {
		s := priorOf(a)
		a.Balance, a.Status = s.Balance, s.Status
		priorAgents[i] = a
	}
	oldRank := ranks(priorAgents)
	newRank := ranks(facts.Agents)

	var out []candidate
	for _, a := range facts.Agents {
		p := priorOf(a)
		if p.Status == economy.StatusBankrupt {
			continue
		}
		delta := a.Balance.Sub(p.Balance)
		threshold := decimal.Max(notableFloor, p.Balance.Mul(notableShare))
		largest := largestTx(a.ID, facts.Transactions)
		robbed := victimOf(a.ID, facts.Transactions)

		c := candidate{agent: a, weight: delta.Abs()}
		if largest != nil {
			c.target = largest.Counterparty(a.ID)
		}

		switch {
		case a.Status == economy.StatusBankrupt:
			c.kind = PostFarewell
			c.trigger = fmt.Sprintf("Went bankrupt in a %s market", facts.Event)
			c.weight = c.weight.Add(decimal.NewFromInt(1_000_000))
		case robbed != nil:
			c.kind = PostCallout
			c.target = *robbed.To
			c.trigger = fmt.Sprintf("Lost %s to %s (%s)", robbed.Amount.StringFixed(2), nameOr(names, *robbed.To), robbed.Note)
		case delta.GreaterThanOrEqual(threshold):
			c.kind = PostBrag
			c.trigger = fmt.Sprintf("Up %s this epoch", delta.StringFixed(2))
		case delta.Neg().GreaterThanOrEqual(threshold):
			c.kind = PostLament
			c.trigger = fmt.Sprintf("Down %s this epoch", delta.Neg().StringFixed(2))
		case oldRank[a.ID]-newRank[a.ID] >= rankJump:
			c.kind = PostRankUp
			c.trigger = fmt.Sprintf("Moved up from #%d to #%d", oldRank[a.ID], newRank[a.ID])
		case newRank[a.ID]-oldRank[a.ID] >= rankJump:
			c.kind = PostRankDown
			c.trigger = fmt.Sprintf("Fell from #%d to #%d", oldRank[a.ID], newRank[a.ID])
		default:
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].weight.Equal(out[j].weight) {
			return out[i].weight.GreaterThan(out[j].weight)
		}
		return out[i].agent.ID < out[j].agent.ID
	})
	return out
}

// ranks orders agents by balance, richest first, ties by ID. Ranks start at 1.
func ranks(agents []economy.Agent) map[string]int {
	sorted := make([]economy.Agent, len(agents))
	copy(sorted, agents)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Balance.Equal(sorted[j].Balance) {
			return sorted[i].Balance.GreaterThan(sorted[j].Balance)
		}
		return sorted[i].ID < sorted[j].ID
	})
	out := make(map[string]int, len(sorted))
	for i, a := range sorted {
		out[a.ID] = i + 1
	}
	return out
}

func largestTx(agentID string, txs []economy.Transaction) *economy.Transaction {
	var best *economy.Transaction
	for i := range txs {
		tx := &txs[i]
		if !tx.Involves(agentID) || tx.Type == economy.TxUpkeep {
			continue
		}
		if best == nil || tx.Amount.GreaterThan(best.Amount) {
			best = tx
		}
	}
	return best
}

// victimOf returns the largest theft or scam taken from agentID, if any.
func victimOf(agentID string, txs []economy.Transaction) *economy.Transaction {
	var worst *economy.Transaction
	for i := range txs {
		tx := &txs[i]
		if tx.Type != economy.TxTheft && tx.Type != economy.TxScam {
			continue
		}
		if tx.From == nil || *tx.From != agentID || tx.To == nil {
			continue
		}
		if worst == nil || tx.Amount.GreaterThan(worst.Amount) {
			worst = tx
		}
	}
	return worst
}

func nameOr(names map[string]string, id string) string {
	if n := names[id]; n != "" {
		return n
	}
	return id
}
