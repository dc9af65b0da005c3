package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// TemplateWriter writes diaries and posts from fixed templates. It is used
// when no API key is configured and never fails.
type TemplateWriter struct{}

var diaryOpeners = map[string][]string{
	"excited":   {"What a day.", "I can hardly sit still.", "Everything went my way."},
	"worried":   {"I don't like where this is heading.", "Another rough one.", "My stomach is in knots."},
	"confident": {"Steady as planned.", "Another solid epoch.", "The numbers agree with me."},
	"desperate": {"I am running out of road.", "This might be the end of me.", "Nothing is working."},
	"strategic": {"Time to think carefully.", "Small moves, long game.", "Adjusting the plan."},
	"angry":     {"Somebody robbed me blind.", "I will remember this.", "Unbelievable."},
	"hopeful":   {"Maybe things are turning.", "A little light today.", "Not out of it yet."},
	"neutral":   {"A quiet epoch.", "Nothing much to report.", "Business as usual."},
}

var postTemplates = map[string]string{
	"brag":      "%s. Balance %s. Try to keep up.",
	"lament":    "%s. Down to %s. Rough market out here.",
	"farewell":  "%s. That's it for me. It was a good run.",
	"callout":   "%s. I see you. Balance %s and I'm watching.",
	"rank_up":   "%s. Climbing the board at %s.",
	"rank_down": "%s. Slipped down the board, %s left.",
}

// WriteDiary builds an entry from the context alone.
func (TemplateWriter) WriteDiary(_ context.Context, dc DiaryContext) (DiaryReply, error) {
	mood := dc.Mood
	openers, ok := diaryOpeners[mood]
	if !ok {
		mood = "neutral"
		openers = diaryOpeners[mood]
	}

	var b strings.Builder
	b.WriteString(openers[pick(dc.Name, dc.Epoch, len(openers))])
	fmt.Fprintf(&b, " Epoch %d was a %s market.", dc.Epoch, dc.Event)
	for i, h := range dc.Highlights {
		if i == 2 {
			break
		}
		fmt.Fprintf(&b, " I %s.", h)
	}
	fmt.Fprintf(&b, " I end the epoch at %s (%s).", dc.Balance, dc.Delta)
	return DiaryReply{Content: b.String(), Mood: mood}, nil
}

// WritePost builds a post from the context alone.
func (TemplateWriter) WritePost(_ context.Context, pc PostContext) (string, error) {
	tmpl, ok := postTemplates[pc.Kind]
	if !ok {
		tmpl = "%s. Balance %s."
	}
	var post string
	if strings.Count(tmpl, "%s") == 1 {
		post = fmt.Sprintf(tmpl, pc.Trigger)
	} else {
		post = fmt.Sprintf(tmpl, pc.Trigger, pc.Balance)
	}
	if pc.ReplyTo != "" {
		post = "@" + pc.ReplyTo + " " + post
	}
	return clip(post, 280), nil
}

func pick(name string, epoch int64, n int) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", name, epoch)
	return int(h.Sum32() % uint32(n))
}
