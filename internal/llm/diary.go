package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/talgya/agent-economy/internal/errs"
)

// DiaryContext is the compact view of one agent's epoch handed to the writer.
type DiaryContext struct {
	Name       string
	Archetype  string
	Voice      string
	Epoch      int64
	Event      string
	Balance    string
	Delta      string
	Status     string
	Mood       string
	Highlights []string
	Activity   []string // One line per transaction involving the agent
}

// DiaryReply is a written diary entry.
type DiaryReply struct {
	Content string `json:"entry"`
	Mood    string `json:"mood"`
}

const diarySystem = `You write the private diaries of autonomous agents in a small simulated economy.
Each agent has a fixed archetype and personality. Write in the first person, in the agent's voice,
about what actually happened to them this epoch. 60-120 words. No hashtags. Do not invent numbers
that are not in the facts you are given.

Respond ONLY with a JSON object: {"entry": "...", "mood": "..."}
mood must be one of: excited, worried, confident, desperate, strategic, angry, hopeful, neutral.`

// WriteDiary asks the model for one agent's diary entry.
func (c *Client) WriteDiary(ctx context.Context, dc DiaryContext) (DiaryReply, error) {
	if !c.Enabled() {
		return DiaryReply{}, errDisabled()
	}

	reply, err := c.Complete(ctx, diarySystem, buildDiaryPrompt(dc), 400)
	if err != nil {
		return DiaryReply{}, fmt.Errorf("diary for %s: %w", dc.Name, err)
	}

	var out DiaryReply
	if err := decodeObject(reply, &out); err != nil {
		return DiaryReply{}, errs.Upstream(err, "diary for "+dc.Name)
	}
	out.Content = clip(out.Content, 1200)
	if out.Content == "" {
		return DiaryReply{}, errs.Newf(errs.CodeUpstream, "diary for %s: empty entry", dc.Name)
	}
	return out, nil
}

func buildDiaryPrompt(dc DiaryContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, the %s. Personality: %s.\n", dc.Name, dc.Archetype, dc.Voice)
	fmt.Fprintf(&b, "Epoch %d. Market condition: %s.\n", dc.Epoch, dc.Event)
	fmt.Fprintf(&b, "Balance now %s (change %s). Status: %s. You feel %s.\n\n", dc.Balance, dc.Delta, dc.Status, dc.Mood)

	if len(dc.Highlights) > 0 {
		b.WriteString("Highlights:\n")
		for _, h := range dc.Highlights {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}

	if len(dc.Activity) > 0 {
		b.WriteString("Everything that touched your wallet:\n")
		for _, a := range dc.Activity {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Nothing touched your wallet this epoch.\n\n")
	}

	b.WriteString("Write tonight's diary entry as JSON.")
	return b.String()
}
