package api

import (
	"net/http"
)

type placeBetRequest struct {
	UserID     string `json:"user_id" validate:"omitempty,max=64"`
	AgentID    string `json:"agent_id" validate:"required,max=64"`
	Prediction string `json:"prediction" validate:"required"`
	Amount     int64  `json:"amount" validate:"required"`
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	user := req.UserID
	if user == "" {
		var err error
		if user, err = userID(r); err != nil {
			writeError(w, err)
			return
		}
	}

	placed, err := s.Market.PlaceBet(r.Context(), user, req.AgentID, req.Prediction, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, placed)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	board, err := s.Market.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"leaderboard": board})
}

func (s *Server) handleMyBets(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	bets, err := s.Market.UserBets(r.Context(), user, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"user_id": user, "bets": bets})
}

func (s *Server) handleActiveBets(w http.ResponseWriter, r *http.Request) {
	epoch, lines, err := s.Market.ActiveSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"epoch": epoch, "active": lines})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	points, err := s.Market.Points(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, points)
}
