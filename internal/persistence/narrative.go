package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/talgya/agent-economy/internal/narrative"
)

// HasDiaries reports whether any diary exists for the epoch.
func (db *DB) HasDiaries(ctx context.Context, epoch int64) (bool, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM diaries WHERE epoch = ?`, epoch); err != nil {
		return false, fmt.Errorf("count diaries: %w", err)
	}
	return n > 0, nil
}

// InsertDiary stores an entry. It reports false when the agent already has
// an entry for that epoch.
func (db *DB) InsertDiary(ctx context.Context, d narrative.DiaryEntry) (bool, error) {
	res, err := db.conn.NamedExecContext(ctx, `INSERT OR IGNORE INTO diaries
		(agent_id, epoch, content, mood, highlights, created_at)
		VALUES (:agent_id, :epoch, :content, :mood, :highlights, :created_at)`, d)
	if err != nil {
		return false, fmt.Errorf("insert diary %s/%d: %w", d.AgentID, d.Epoch, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDiaries returns matching entries, newest first.
func (db *DB) ListDiaries(ctx context.Context, f narrative.DiaryFilter) ([]narrative.DiaryEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Epoch != nil {
		where = append(where, "epoch = ?")
		args = append(args, *f.Epoch)
	}

	q := `SELECT id, agent_id, epoch, content, mood, highlights, created_at FROM diaries`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY epoch DESC, id DESC LIMIT ? OFFSET ?"
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, clampLimit(f.Limit, 20, 50), offset)

	var entries []narrative.DiaryEntry
	if err := db.conn.SelectContext(ctx, &entries, q, args...); err != nil {
		return nil, fmt.Errorf("select diaries: %w", err)
	}
	return entries, nil
}

// InsertPost stores a social post.
func (db *DB) InsertPost(ctx context.Context, p narrative.SocialPost) error {
	_, err := db.conn.NamedExecContext(ctx, `INSERT INTO social_posts
		(id, agent_id, content, reply_to, post_type, likes, source_epoch, created_at)
		VALUES (:id, :agent_id, :content, :reply_to, :post_type, :likes, :source_epoch, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	return nil
}

// RecentPosts returns the latest posts, newest first.
func (db *DB) RecentPosts(ctx context.Context, limit int) ([]narrative.SocialPost, error) {
	var posts []narrative.SocialPost
	err := db.conn.SelectContext(ctx, &posts, `SELECT id, agent_id, content, reply_to, post_type, likes, source_epoch, created_at
		FROM social_posts ORDER BY created_at DESC, rowid DESC LIMIT ?`, clampLimit(limit, 30, 100))
	if err != nil {
		return nil, fmt.Errorf("select posts: %w", err)
	}
	return posts, nil
}

// PostedAbout reports whether the agent already posted about the epoch.
func (db *DB) PostedAbout(ctx context.Context, agentID string, epoch int64) (bool, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM social_posts WHERE agent_id = ? AND source_epoch = ?`, agentID, epoch)
	if err != nil {
		return false, fmt.Errorf("count posts: %w", err)
	}
	return n > 0, nil
}

// LatestPostID returns the ID of the agent's most recent post, if any.
func (db *DB) LatestPostID(ctx context.Context, agentID string) (string, bool, error) {
	var id string
	err := db.conn.GetContext(ctx, &id, `SELECT id FROM social_posts WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select latest post: %w", err)
	}
	return id, true, nil
}
