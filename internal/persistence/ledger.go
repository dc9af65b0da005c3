package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/errs"
)

const agentColumns = `id, name, archetype, balance, starting_balance, status, total_earned, total_spent, created_at`

// LoadAgents returns every agent ordered by ID.
func (db *DB) LoadAgents(ctx context.Context) ([]economy.Agent, error) {
	var agents []economy.Agent
	err := db.conn.SelectContext(ctx, &agents, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select agents: %w", err)
	}
	return agents, nil
}

// GetAgent returns one agent or a NotFound error.
func (db *DB) GetAgent(ctx context.Context, id string) (economy.Agent, error) {
	var a economy.Agent
	err := db.conn.GetContext(ctx, &a, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return a, errs.NotFound("agent %q not found", id)
	}
	if err != nil {
		return a, fmt.Errorf("select agent %s: %w", id, err)
	}
	return a, nil
}

// InsertAgentIfAbsent creates the agent and its starting snapshot. It reports
// false and changes nothing when the agent already exists.
func (db *DB) InsertAgentIfAbsent(ctx context.Context, a economy.Agent, snap economy.Snapshot) (bool, error) {
	inserted := false
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `INSERT OR IGNORE INTO agents (`+agentColumns+`)
			VALUES (:id, :name, :archetype, :balance, :starting_balance, :status, :total_earned, :total_spent, :created_at)`, a)
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		inserted = true
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO balance_snapshots (agent_id, epoch, balance, status)
			VALUES (:agent_id, :epoch, :balance, :status)`, snap); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	})
	return inserted, err
}

// MaxEpoch returns the highest committed epoch number, or 0.
func (db *DB) MaxEpoch(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := db.conn.GetContext(ctx, &n, `SELECT MAX(number) FROM epochs`); err != nil {
		return 0, fmt.Errorf("select max epoch: %w", err)
	}
	return n.Int64, nil
}

// CommitEpoch writes an epoch atomically. The epoch row goes first so a
// concurrent claim on the same number fails before anything else is written.
func (db *DB) CommitEpoch(ctx context.Context, rec economy.EpochRecord) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO epochs (number, event, seed, tx_count, bankruptcies, created_at)
			VALUES (:number, :event, :seed, :tx_count, :bankruptcies, :created_at)`, rec.Epoch)
		if isUniqueViolation(err) {
			return errs.Conflict(errs.ReasonEpochStale, "epoch %d already committed", rec.Epoch.Number)
		}
		if err != nil {
			return fmt.Errorf("insert epoch: %w", err)
		}

		txStmt, err := tx.PreparexContext(ctx, `INSERT INTO transactions
			(epoch, seq, from_agent, to_agent, amount, type, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer txStmt.Close()
		for _, t := range rec.Transactions {
			if _, err := txStmt.ExecContext(ctx, t.Epoch, t.Seq, t.From, t.To, t.Amount, t.Type, t.Note, t.CreatedAt); err != nil {
				return fmt.Errorf("insert transaction %d: %w", t.Seq, err)
			}
		}

		agentStmt, err := tx.PreparexContext(ctx, `UPDATE agents
			SET balance = ?, status = ?, total_earned = ?, total_spent = ?
			WHERE id = ?`)
		if err != nil {
			return err
		}
		defer agentStmt.Close()
		for _, a := range rec.Agents {
			if _, err := agentStmt.ExecContext(ctx, a.Balance, a.Status, a.TotalEarned, a.TotalSpent, a.ID); err != nil {
				return fmt.Errorf("update agent %s: %w", a.ID, err)
			}
		}

		snapStmt, err := tx.PreparexContext(ctx, `INSERT INTO balance_snapshots (agent_id, epoch, balance, status)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer snapStmt.Close()
		for _, s := range rec.Snapshots {
			if _, err := snapStmt.ExecContext(ctx, s.AgentID, s.Epoch, s.Balance, s.Status); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", s.AgentID, err)
			}
		}
		return nil
	})
}

// GetEpoch returns one committed epoch or a NotFound error.
func (db *DB) GetEpoch(ctx context.Context, n int64) (economy.Epoch, error) {
	var e economy.Epoch
	err := db.conn.GetContext(ctx, &e, `SELECT number, event, seed, tx_count, bankruptcies, created_at
		FROM epochs WHERE number = ?`, n)
	if errors.Is(err, sql.ErrNoRows) {
		return e, errs.NotFound("epoch %d not found", n)
	}
	if err != nil {
		return e, fmt.Errorf("select epoch %d: %w", n, err)
	}
	return e, nil
}

// ListEpochs returns the most recent epochs, newest first.
func (db *DB) ListEpochs(ctx context.Context, limit int) ([]economy.Epoch, error) {
	var epochs []economy.Epoch
	err := db.conn.SelectContext(ctx, &epochs, `SELECT number, event, seed, tx_count, bankruptcies, created_at
		FROM epochs ORDER BY number DESC LIMIT ?`, clampLimit(limit, 20, 200))
	if err != nil {
		return nil, fmt.Errorf("select epochs: %w", err)
	}
	return epochs, nil
}

// TxFilter narrows a transaction listing. Zero values mean no filter.
type TxFilter struct {
	AgentID string
	Epoch   *int64
	Type    economy.TxType
	Limit   int
}

// ListTransactions returns matching transactions, newest first.
func (db *DB) ListTransactions(ctx context.Context, f TxFilter) ([]economy.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.AgentID != "" {
		where = append(where, "(from_agent = ? OR to_agent = ?)")
		args = append(args, f.AgentID, f.AgentID)
	}
	if f.Epoch != nil {
		where = append(where, "epoch = ?")
		args = append(args, *f.Epoch)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}

	q := `SELECT id, epoch, seq, from_agent, to_agent, amount, type, note, created_at FROM transactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY epoch DESC, seq DESC LIMIT ?"
	args = append(args, clampLimit(f.Limit, 50, 500))

	var txs []economy.Transaction
	if err := db.conn.SelectContext(ctx, &txs, q, args...); err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	return txs, nil
}

// EpochTransactions returns every transaction of one epoch in booking order.
func (db *DB) EpochTransactions(ctx context.Context, epoch int64) ([]economy.Transaction, error) {
	var txs []economy.Transaction
	err := db.conn.SelectContext(ctx, &txs, `SELECT id, epoch, seq, from_agent, to_agent, amount, type, note, created_at
		FROM transactions WHERE epoch = ? ORDER BY seq`, epoch)
	if err != nil {
		return nil, fmt.Errorf("select epoch %d transactions: %w", epoch, err)
	}
	return txs, nil
}

// Snapshots returns every agent's snapshot at the close of epoch.
func (db *DB) Snapshots(ctx context.Context, epoch int64) ([]economy.Snapshot, error) {
	var snaps []economy.Snapshot
	err := db.conn.SelectContext(ctx, &snaps, `SELECT agent_id, epoch, balance, status
		FROM balance_snapshots WHERE epoch = ? ORDER BY agent_id`, epoch)
	if err != nil {
		return nil, fmt.Errorf("select snapshots %d: %w", epoch, err)
	}
	return snaps, nil
}

// AgentHistory returns an agent's snapshots, oldest first.
func (db *DB) AgentHistory(ctx context.Context, agentID string, limit int) ([]economy.Snapshot, error) {
	var snaps []economy.Snapshot
	err := db.conn.SelectContext(ctx, &snaps, `SELECT agent_id, epoch, balance, status FROM (
			SELECT agent_id, epoch, balance, status FROM balance_snapshots
			WHERE agent_id = ? ORDER BY epoch DESC LIMIT ?
		) ORDER BY epoch`, agentID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("select history %s: %w", agentID, err)
	}
	return snaps, nil
}

// Stats is the economy-wide summary.
type Stats struct {
	LatestEpoch     int64           `json:"latest_epoch"`
	Agents          int             `json:"agents"`
	Active          int             `json:"active"`
	Struggling      int             `json:"struggling"`
	Bankrupt        int             `json:"bankrupt"`
	MoneySupply     decimal.Decimal `json:"money_supply"`
	Transactions    int64           `json:"transactions"`
	Diaries         int64           `json:"diaries"`
	Posts           int64           `json:"posts"`
	OpenPredictions int64           `json:"open_predictions"`
	RichestAgent    string          `json:"richest_agent,omitempty"`
	LargestTxAmount decimal.Decimal `json:"largest_transaction"`
}

// Stats aggregates counts across the ledger.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	agents, err := db.LoadAgents(ctx)
	if err != nil {
		return s, err
	}
	s.Agents = len(agents)
	s.MoneySupply = decimal.Zero
	richest := decimal.NewFromInt(-1)
	for _, a := range agents {
		s.MoneySupply = s.MoneySupply.Add(a.Balance)
		switch a.Status {
		case economy.StatusActive:
			s.Active++
		case economy.StatusStruggling:
			s.Struggling++
		case economy.StatusBankrupt:
			s.Bankrupt++
		}
		if a.Balance.GreaterThan(richest) {
			richest = a.Balance
			s.RichestAgent = a.ID
		}
	}

	if s.LatestEpoch, err = db.MaxEpoch(ctx); err != nil {
		return s, err
	}
	counts := []struct {
		dst *int64
		q   string
	}{
		{&s.Transactions, `SELECT COUNT(*) FROM transactions`},
		{&s.Diaries, `SELECT COUNT(*) FROM diaries`},
		{&s.Posts, `SELECT COUNT(*) FROM social_posts`},
		{&s.OpenPredictions, `SELECT COUNT(*) FROM predictions WHERE result IS NULL`},
	}
	for _, c := range counts {
		if err := db.conn.GetContext(ctx, c.dst, c.q); err != nil {
			return s, fmt.Errorf("count: %w", err)
		}
	}

	// Amounts are TEXT; the CAST is only used to pick the row.
	var largest sql.NullString
	if err := db.conn.GetContext(ctx, &largest,
		`SELECT amount FROM transactions ORDER BY CAST(amount AS REAL) DESC LIMIT 1`); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("select largest transaction: %w", err)
	}
	s.LargestTxAmount = decimal.Zero
	if largest.Valid {
		if d, err := decimal.NewFromString(largest.String); err == nil {
			s.LargestTxAmount = d
		}
	}
	return s, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
