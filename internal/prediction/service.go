package prediction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/errs"
	"github.com/talgya/agent-economy/internal/metrics"
)

// Store is the persistence the prediction market needs.
type Store interface {
	GetAgent(ctx context.Context, id string) (economy.Agent, error)
	LoadAgents(ctx context.Context) ([]economy.Agent, error)
	MaxEpoch(ctx context.Context) (int64, error)
	GetEpoch(ctx context.Context, n int64) (economy.Epoch, error)
	Snapshots(ctx context.Context, epoch int64) ([]economy.Snapshot, error)

	EnsurePoints(ctx context.Context, userID string) (UserPoints, error)
	PlaceBet(ctx context.Context, bet Bet) (int64, Bet, error)
	OpenBets(ctx context.Context, epoch int64) ([]Bet, error)
	SettleBet(ctx context.Context, bet Bet, result Result, payout int64, at time.Time) (bool, error)
	BetsForUser(ctx context.Context, userID string, limit int) ([]Bet, error)
	Leaderboard(ctx context.Context, limit int) ([]UserPoints, error)
	ActiveSummary(ctx context.Context, epoch int64) ([]ActiveLine, error)
}

// Service places and settles bets. Bets never touch the agent ledger.
type Service struct {
	store   Store
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewService wires the market to its store. rec may be nil.
func NewService(store Store, rec *metrics.Recorder) *Service {
	return &Service{store: store, metrics: rec, now: time.Now}
}

const maxRetarget = 3

// Placement is the result of a successful bet.
type Placement struct {
	Bet       Bet             `json:"bet"`
	Remaining int64           `json:"remaining_points"`
	Odds      decimal.Decimal `json:"odds"`
}

// PlaceBet stakes amount points on the agent's outcome in the next epoch.
func (s *Service) PlaceBet(ctx context.Context, userID, agentID, prediction string, amount int64) (Placement, error) {
	if userID == "" {
		return Placement{}, errs.Validation("user id is required")
	}
	p, err := ParsePrediction(prediction)
	if err != nil {
		return Placement{}, errs.Validation("prediction must be one of up, down, bankrupt, survive").
			WithReason(errs.ReasonInvalidPrediction).
			WithDetail("prediction", prediction)
	}
	if amount < MinBet || amount > MaxBet {
		return Placement{}, errs.Validation("amount must be between %d and %d", MinBet, MaxBet).
			WithDetail("amount", amount)
	}

	var (
		bet       Bet
		odds      decimal.Decimal
		remaining int64
	)
	// An epoch can commit between choosing the target and the insert; the
	// store rejects that as stale and the bet is retargeted at the new next
	// epoch with odds from the new balance.
	for attempt := 0; ; attempt++ {
		agent, err := s.store.GetAgent(ctx, agentID)
		if err != nil {
			return Placement{}, err
		}
		if agent.Status == economy.StatusBankrupt {
			return Placement{}, errs.Validation("agent %s is bankrupt", agentID).WithDetail("agent_id", agentID)
		}

		latest, err := s.store.MaxEpoch(ctx)
		if err != nil {
			return Placement{}, errs.Persistence(err, "read latest epoch")
		}

		odds = Odds(p, agent.Balance)
		remaining, bet, err = s.store.PlaceBet(ctx, Bet{
			UserID:     userID,
			AgentID:    agentID,
			Epoch:      latest + 1,
			Prediction: p,
			Amount:     amount,
			Odds:       odds,
			CreatedAt:  s.now().UTC(),
		})
		if err == nil {
			break
		}
		if errs.HasReason(err, errs.ReasonEpochStale) && attempt < maxRetarget {
			slog.Debug("bet target epoch committed, retargeting", "agent", agentID, "epoch", latest+1)
			continue
		}
		if errs.As(err) != nil {
			return Placement{}, err
		}
		return Placement{}, errs.Persistence(err, "place bet")
	}

	s.metrics.BetPlaced(string(p))
	slog.Info("bet placed",
		"user", userID,
		"agent", agentID,
		"epoch", bet.Epoch,
		"prediction", p,
		"amount", amount,
		"odds", odds.String(),
	)
	return Placement{Bet: bet, Remaining: remaining, Odds: odds}, nil
}

// Outcome is what actually happened to an agent over one epoch.
type Outcome struct {
	Before   decimal.Decimal
	After    decimal.Decimal
	Bankrupt bool
}

// Wins reports whether p came true. A flat balance is neither up nor down.
func (o Outcome) Wins(p Prediction) bool {
	switch p {
	case PredictUp:
		return o.After.GreaterThan(o.Before)
	case PredictDown:
		return o.After.LessThan(o.Before)
	case PredictBankrupt:
		return o.Bankrupt
	case PredictSurvive:
		return !o.Bankrupt
	}
	return false
}

// Settle resolves every open bet on a committed epoch. Bets already settled
// are left alone, so calling Settle twice pays out once.
func (s *Service) Settle(ctx context.Context, epoch int64) ([]Settlement, error) {
	if _, err := s.store.GetEpoch(ctx, epoch); err != nil {
		return nil, err
	}
	bets, err := s.store.OpenBets(ctx, epoch)
	if err != nil {
		return nil, errs.Persistence(err, "load open bets")
	}
	out := []Settlement{}
	if len(bets) == 0 {
		return out, nil
	}

	outcomes, err := s.outcomes(ctx, epoch)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	for _, bet := range bets {
		o, ok := outcomes[bet.AgentID]
		if !ok {
			return out, errs.Newf(errs.CodeInternal, "no snapshot for agent %s in epoch %d", bet.AgentID, epoch)
		}
		result, payout := ResultLose, int64(0)
		if o.Wins(bet.Prediction) {
			result, payout = ResultWin, Payout(bet.Amount, bet.Odds)
		}

		applied, err := s.store.SettleBet(ctx, bet, result, payout, at)
		if err != nil {
			return out, errs.Persistence(err, fmt.Sprintf("settle bet %d", bet.ID))
		}
		if applied {
			s.metrics.BetSettled(string(result))
		}
		out = append(out, Settlement{
			BetID:      bet.ID,
			UserID:     bet.UserID,
			AgentID:    bet.AgentID,
			Prediction: bet.Prediction,
			Amount:     bet.Amount,
			Odds:       bet.Odds.String(),
			Result:     result,
			Payout:     payout,
			Applied:    applied,
		})
	}

	slog.Info("bets settled", "epoch", epoch, "bets", len(out))
	return out, nil
}

// outcomes compares each agent's close of epoch against the close of the
// epoch before it, falling back to the starting balance.
func (s *Service) outcomes(ctx context.Context, epoch int64) (map[string]Outcome, error) {
	after, err := s.store.Snapshots(ctx, epoch)
	if err != nil {
		return nil, errs.Persistence(err, "load snapshots")
	}
	before, err := s.store.Snapshots(ctx, epoch-1)
	if err != nil {
		return nil, errs.Persistence(err, "load prior snapshots")
	}
	agents, err := s.store.LoadAgents(ctx)
	if err != nil {
		return nil, errs.Persistence(err, "load agents")
	}

	prior := make(map[string]decimal.Decimal, len(agents))
	for _, a := range agents {
		prior[a.ID] = a.StartingBalance
	}
	for _, snap := range before {
		prior[snap.AgentID] = snap.Balance
	}

	out := make(map[string]Outcome, len(after))
	for _, snap := range after {
		out[snap.AgentID] = Outcome{
			Before:   prior[snap.AgentID],
			After:    snap.Balance,
			Bankrupt: snap.Status == economy.StatusBankrupt,
		}
	}
	return out, nil
}

// Points returns the user's balance, granting starting points on first use.
func (s *Service) Points(ctx context.Context, userID string) (UserPoints, error) {
	if userID == "" {
		return UserPoints{}, errs.Validation("user id is required")
	}
	return s.store.EnsurePoints(ctx, userID)
}

// UserBets returns the user's bets, newest first.
func (s *Service) UserBets(ctx context.Context, userID string, limit int) ([]Bet, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	return s.store.BetsForUser(ctx, userID, limit)
}

// Leaderboard ranks users by points.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]UserPoints, error) {
	return s.store.Leaderboard(ctx, limit)
}

// ActiveSummary aggregates the open bets on the upcoming epoch.
func (s *Service) ActiveSummary(ctx context.Context) (int64, []ActiveLine, error) {
	latest, err := s.store.MaxEpoch(ctx)
	if err != nil {
		return 0, nil, err
	}
	lines, err := s.store.ActiveSummary(ctx, latest+1)
	return latest + 1, lines, err
}
