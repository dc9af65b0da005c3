package api

import (
	"net/http"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/errs"
)

type epochRequest struct {
	Event string `json:"event" validate:"omitempty,oneof=normal boom recession opportunity"`
	Seed  *int64 `json:"seed"`
}

func (req epochRequest) options() (economy.RunOptions, error) {
	opts := economy.RunOptions{Seed: req.Seed}
	if req.Event != "" {
		ev, err := economy.ParseEvent(req.Event)
		if err != nil {
			return opts, errs.Validation("%v", err)
		}
		opts.Event = &ev
	}
	return opts, nil
}

type epochTarget struct {
	Epoch *int64 `json:"epoch" validate:"omitempty,min=1"`
}

func (s *Server) handleInitAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Engine.InitializeAgents(r.Context())
	if err != nil {
		writeError(w, errs.Persistence(err, "initialize agents"))
		return
	}
	writeJSON(w, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleRunEpoch(w http.ResponseWriter, r *http.Request) {
	var req epochRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Runner.RunEpoch(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	var req epochRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := s.Runner.RunCycle(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleGenerateDiaries(w http.ResponseWriter, r *http.Request) {
	var req epochTarget
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.Runner.GenerateDiaries(r.Context(), req.Epoch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleGenerateSocial(w http.ResponseWriter, r *http.Request) {
	report, err := s.Runner.GenerateSocialPosts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req epochTarget
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	epoch, settled, err := s.Runner.Settle(r.Context(), req.Epoch)
	if err != nil {
		writeError(w, err)
		return
	}

	won, paid := 0, int64(0)
	for _, st := range settled {
		if st.Payout > 0 {
			won++
			paid += st.Payout
		}
	}
	writeJSON(w, map[string]any{
		"epoch":       epoch,
		"settled":     len(settled),
		"wins":        won,
		"paid_out":    paid,
		"settlements": settled,
	})
}
