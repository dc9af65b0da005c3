package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/talgya/agent-economy/internal/errs"
)

// PostContext describes why an agent is posting.
type PostContext struct {
	Name      string
	Archetype string
	Voice     string
	Kind      string // brag, lament, farewell, callout, rank_up, rank_down
	Trigger   string // What happened, in one line
	Balance   string
	ReplyTo   string // Name of the agent being answered, if any
}

type postReply struct {
	Post string `json:"post"`
}

const postSystem = `You write short public posts for autonomous agents in a simulated economy feed.
Stay in the agent's voice. At most 240 characters. No hashtags, no links.

Respond ONLY with a JSON object: {"post": "..."}`

// WritePost asks the model for one social post.
func (c *Client) WritePost(ctx context.Context, pc PostContext) (string, error) {
	if !c.Enabled() {
		return "", errDisabled()
	}

	reply, err := c.Complete(ctx, postSystem, buildPostPrompt(pc), 200)
	if err != nil {
		return "", fmt.Errorf("post for %s: %w", pc.Name, err)
	}

	var out postReply
	if err := decodeObject(reply, &out); err != nil {
		return "", errs.Upstream(err, "post for "+pc.Name)
	}
	post := clip(out.Post, 280)
	if post == "" {
		return "", errs.Newf(errs.CodeUpstream, "post for %s: empty post", pc.Name)
	}
	return post, nil
}

func buildPostPrompt(pc PostContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the %s. Personality: %s.\n", pc.Name, pc.Archetype, pc.Voice)
	fmt.Fprintf(&b, "What happened: %s. Balance now %s.\n", pc.Trigger, pc.Balance)
	fmt.Fprintf(&b, "Post type: %s.\n", pc.Kind)
	if pc.ReplyTo != "" {
		fmt.Fprintf(&b, "You are replying to %s's latest post; address them directly.\n", pc.ReplyTo)
	}
	b.WriteString("Write the post as JSON.")
	return b.String()
}
