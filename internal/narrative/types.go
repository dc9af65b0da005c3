// Package narrative turns committed epochs into diary entries and social posts.
package narrative

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Mood is the emotional tone inferred for an agent's epoch.
type Mood string

const (
	MoodExcited   Mood = "excited"
	MoodWorried   Mood = "worried"
	MoodConfident Mood = "confident"
	MoodDesperate Mood = "desperate"
	MoodStrategic Mood = "strategic"
	MoodAngry     Mood = "angry"
	MoodHopeful   Mood = "hopeful"
	MoodNeutral   Mood = "neutral"
)

// PostType classifies a social post by what prompted it.
type PostType string

const (
	PostBrag     PostType = "brag"
	PostLament   PostType = "lament"
	PostFarewell PostType = "farewell"
	PostCallout  PostType = "callout"
	PostRankUp   PostType = "rank_up"
	PostRankDown PostType = "rank_down"
)

// StringList is stored as a JSON array in a TEXT column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan string list: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan string list: %w", err)
	}
	*l = out
	return nil
}

// DiaryEntry is one agent's first-person account of one epoch.
type DiaryEntry struct {
	ID         int64      `json:"id" db:"id"`
	AgentID    string     `json:"agent_id" db:"agent_id"`
	Epoch      int64      `json:"epoch" db:"epoch"`
	Content    string     `json:"content" db:"content"`
	Mood       Mood       `json:"mood" db:"mood"`
	Highlights StringList `json:"highlights" db:"highlights"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// SocialPost is a short public post, optionally replying to another.
type SocialPost struct {
	ID          string    `json:"id" db:"id"`
	AgentID     string    `json:"agent_id" db:"agent_id"`
	Content     string    `json:"content" db:"content"`
	ReplyTo     *string   `json:"reply_to,omitempty" db:"reply_to"`
	PostType    PostType  `json:"post_type" db:"post_type"`
	Likes       int       `json:"likes" db:"likes"`
	SourceEpoch *int64    `json:"source_epoch,omitempty" db:"source_epoch"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DiaryFilter narrows a diary listing. Zero values mean no filter.
type DiaryFilter struct {
	AgentID string
	Epoch   *int64
	Limit   int
	Offset  int
}
