package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/errs"
	"github.com/talgya/agent-economy/internal/prediction"
)

const pointsColumns = `user_id, points, total_bets, total_won, total_lost, win_streak, best_streak`

const betColumns = `id, user_id, agent_id, epoch, prediction, amount, odds, result, payout, created_at, settled_at`

func ensurePoints(ctx context.Context, tx *sqlx.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_points (user_id, points, created_at) VALUES (?, ?, ?)`,
		userID, prediction.StartingPoints, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("grant starting points: %w", err)
	}
	return nil
}

// EnsurePoints returns the user's points, granting the starting balance on
// first use.
func (db *DB) EnsurePoints(ctx context.Context, userID string) (prediction.UserPoints, error) {
	var up prediction.UserPoints
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensurePoints(ctx, tx, userID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &up, `SELECT `+pointsColumns+` FROM user_points WHERE user_id = ?`, userID)
	})
	if err != nil {
		return up, fmt.Errorf("ensure points %s: %w", userID, err)
	}
	return up, nil
}

// SetPoints overwrites a user's points balance, creating the row if needed.
func (db *DB) SetPoints(ctx context.Context, userID string, points int64) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensurePoints(ctx, tx, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE user_points SET points = ? WHERE user_id = ?`, points, userID)
		return err
	})
}

// PlaceBet debits the stake and records the bet in one transaction. It fails
// with a duplicate_bet conflict when an open bet exists for the same user,
// agent and epoch, with epoch_number_stale when bet.Epoch has already been
// committed, and with INSUFFICIENT_POINTS when the balance is short.
// Returns the remaining points and the stored bet.
func (db *DB) PlaceBet(ctx context.Context, bet prediction.Bet) (int64, prediction.Bet, error) {
	var remaining int64
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensurePoints(ctx, tx, bet.UserID); err != nil {
			return err
		}

		// The write above holds the database lock, so no epoch can commit
		// between this check and the insert.
		var committed int
		if err := tx.GetContext(ctx, &committed, `SELECT COUNT(*) FROM epochs WHERE number = ?`, bet.Epoch); err != nil {
			return fmt.Errorf("check epoch: %w", err)
		}
		if committed > 0 {
			return errs.Conflict(errs.ReasonEpochStale, "epoch %d already committed", bet.Epoch).
				WithDetail("epoch", bet.Epoch)
		}
		var status string
		if err := tx.GetContext(ctx, &status, `SELECT status FROM agents WHERE id = ?`, bet.AgentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.NotFound("agent %s not found", bet.AgentID)
			}
			return fmt.Errorf("check agent: %w", err)
		}
		if economy.Status(status) == economy.StatusBankrupt {
			return errs.Validation("agent %s is bankrupt", bet.AgentID).WithDetail("agent_id", bet.AgentID)
		}

		var open int
		if err := tx.GetContext(ctx, &open, `SELECT COUNT(*) FROM predictions
			WHERE user_id = ? AND agent_id = ? AND epoch = ? AND result IS NULL`,
			bet.UserID, bet.AgentID, bet.Epoch); err != nil {
			return fmt.Errorf("check open bets: %w", err)
		}
		if open > 0 {
			return duplicateBet(bet)
		}

		res, err := tx.ExecContext(ctx, `UPDATE user_points
			SET points = points - ?, total_bets = total_bets + 1
			WHERE user_id = ? AND points >= ?`, bet.Amount, bet.UserID, bet.Amount)
		if err != nil {
			return fmt.Errorf("debit points: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			var have int64
			if err := tx.GetContext(ctx, &have, `SELECT points FROM user_points WHERE user_id = ?`, bet.UserID); err != nil {
				return fmt.Errorf("read points: %w", err)
			}
			return errs.Newf(errs.CodeInsufficientPoints, "bet of %d exceeds balance of %d points", bet.Amount, have).
				WithReason(errs.ReasonInsufficientPoints).
				WithDetail("points", have).
				WithDetail("amount", bet.Amount)
		}

		res, err = tx.ExecContext(ctx, `INSERT INTO predictions
			(user_id, agent_id, epoch, prediction, amount, odds, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bet.UserID, bet.AgentID, bet.Epoch, bet.Prediction, bet.Amount, bet.Odds, bet.CreatedAt)
		if isUniqueViolation(err) {
			return duplicateBet(bet)
		}
		if err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}
		if bet.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		return tx.GetContext(ctx, &remaining, `SELECT points FROM user_points WHERE user_id = ?`, bet.UserID)
	})
	return remaining, bet, err
}

func duplicateBet(bet prediction.Bet) error {
	return errs.Conflict(errs.ReasonDuplicateBet, "open bet already exists for %s in epoch %d", bet.AgentID, bet.Epoch).
		WithDetail("agent_id", bet.AgentID).
		WithDetail("epoch", bet.Epoch)
}

// OpenBets returns unsettled bets for an epoch in placement order.
func (db *DB) OpenBets(ctx context.Context, epoch int64) ([]prediction.Bet, error) {
	var bets []prediction.Bet
	err := db.conn.SelectContext(ctx, &bets, `SELECT `+betColumns+` FROM predictions
		WHERE epoch = ? AND result IS NULL ORDER BY id`, epoch)
	if err != nil {
		return nil, fmt.Errorf("select open bets: %w", err)
	}
	return bets, nil
}

// SettleBet resolves one bet and updates the user's record. It reports false
// without changing anything if the bet was already settled.
func (db *DB) SettleBet(ctx context.Context, bet prediction.Bet, result prediction.Result, payout int64, at time.Time) (bool, error) {
	applied := false
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE predictions SET result = ?, payout = ?, settled_at = ?
			WHERE id = ? AND result IS NULL`, result, payout, at, bet.ID)
		if err != nil {
			return fmt.Errorf("update bet %d: %w", bet.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		applied = true

		if result == prediction.ResultWin {
			_, err = tx.ExecContext(ctx, `UPDATE user_points
				SET points = points + ?,
				    total_won = total_won + ?,
				    win_streak = win_streak + 1,
				    best_streak = MAX(best_streak, win_streak + 1)
				WHERE user_id = ?`, payout, payout, bet.UserID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE user_points
				SET total_lost = total_lost + ?, win_streak = 0
				WHERE user_id = ?`, bet.Amount, bet.UserID)
		}
		if err != nil {
			return fmt.Errorf("update points %s: %w", bet.UserID, err)
		}
		return nil
	})
	return applied, err
}

// BetsForUser returns a user's bets, newest first.
func (db *DB) BetsForUser(ctx context.Context, userID string, limit int) ([]prediction.Bet, error) {
	var bets []prediction.Bet
	err := db.conn.SelectContext(ctx, &bets, `SELECT `+betColumns+` FROM predictions
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, clampLimit(limit, 50, 200))
	if err != nil {
		return nil, fmt.Errorf("select bets %s: %w", userID, err)
	}
	return bets, nil
}

// GetBet returns one bet or a NotFound error.
func (db *DB) GetBet(ctx context.Context, id int64) (prediction.Bet, error) {
	var b prediction.Bet
	err := db.conn.GetContext(ctx, &b, `SELECT `+betColumns+` FROM predictions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return b, errs.NotFound("bet %d not found", id)
	}
	if err != nil {
		return b, fmt.Errorf("select bet %d: %w", id, err)
	}
	return b, nil
}

// Leaderboard ranks users by points.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]prediction.UserPoints, error) {
	var rows []prediction.UserPoints
	err := db.conn.SelectContext(ctx, &rows, `SELECT `+pointsColumns+` FROM user_points
		ORDER BY points DESC, best_streak DESC, user_id LIMIT ?`, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}
	return rows, nil
}

// ActiveSummary aggregates open bets on an epoch by agent and prediction.
func (db *DB) ActiveSummary(ctx context.Context, epoch int64) ([]prediction.ActiveLine, error) {
	var lines []prediction.ActiveLine
	err := db.conn.SelectContext(ctx, &lines, `SELECT agent_id, prediction, COUNT(*) AS bets, SUM(amount) AS staked
		FROM predictions WHERE epoch = ? AND result IS NULL
		GROUP BY agent_id, prediction ORDER BY staked DESC, agent_id, prediction`, epoch)
	if err != nil {
		return nil, fmt.Errorf("select active summary: %w", err)
	}
	return lines, nil
}
