package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/errs"
	"github.com/talgya/agent-economy/internal/narrative"
	"github.com/talgya/agent-economy/internal/persistence"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(r.Context()); err != nil {
		writeError(w, errs.Persistence(err, "database unreachable"))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	latest, err := s.DB.MaxEpoch(ctx)
	if err != nil {
		writeError(w, errs.Persistence(err, "read latest epoch"))
		return
	}
	agents, err := s.DB.LoadAgents(ctx)
	if err != nil {
		writeError(w, errs.Persistence(err, "load agents"))
		return
	}

	status := map[string]any{
		"name":            "agent-economy",
		"latest_epoch":    latest,
		"next_epoch":      latest + 1,
		"agents":          len(agents),
		"initialized":     len(agents) > 0,
		"llm_enabled":     s.LLMEnabled,
		"entropy_enabled": s.EntropyEnabled,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
	}
	if s.Runner != nil {
		status["tasks"] = map[string]any{
			"pending": s.Runner.Tasks().Pending(),
			"recent":  s.Runner.Tasks().Recent(),
		}
	}
	writeJSON(w, status)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.DB.LoadAgents(r.Context())
	if err != nil {
		writeError(w, errs.Persistence(err, "load agents"))
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		want, err := economy.ParseStatus(status)
		if err != nil {
			writeError(w, errs.Validation("unknown status %q", status))
			return
		}
		filtered := agents[:0]
		for _, a := range agents {
			if a.Status == want {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}
	writeJSON(w, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}

	agent, err := s.DB.GetAgent(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := s.DB.AgentHistory(ctx, id, limit)
	if err != nil {
		writeError(w, errs.Persistence(err, "load history"))
		return
	}
	txs, err := s.DB.ListTransactions(ctx, persistence.TxFilter{AgentID: id, Limit: limit})
	if err != nil {
		writeError(w, errs.Persistence(err, "load transactions"))
		return
	}

	resp := map[string]any{
		"agent":        agent,
		"history":      history,
		"transactions": txs,
	}
	if p, ok := economy.PersonaByID(id); ok {
		resp["voice"] = p.Voice
	}
	writeJSON(w, resp)
}

func (s *Server) handleEpochs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	epochs, err := s.DB.ListEpochs(r.Context(), limit)
	if err != nil {
		writeError(w, errs.Persistence(err, "list epochs"))
		return
	}
	writeJSON(w, map[string]any{"epochs": epochs})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := persistence.TxFilter{AgentID: q.Get("agent")}

	var err error
	if f.Epoch, err = queryInt64Ptr(r, "epoch"); err != nil {
		writeError(w, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeError(w, err)
		return
	}
	if t := q.Get("type"); t != "" {
		f.Type = economy.TxType(t)
		if !f.Type.IsValid() {
			writeError(w, errs.Validation("unknown transaction type %q", t))
			return
		}
	}

	txs, err := s.DB.ListTransactions(r.Context(), f)
	if err != nil {
		writeError(w, errs.Persistence(err, "list transactions"))
		return
	}
	writeJSON(w, map[string]any{"transactions": txs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.Stats(r.Context())
	if err != nil {
		writeError(w, errs.Persistence(err, "compute stats"))
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 30)
	if err != nil {
		writeError(w, err)
		return
	}
	posts, err := s.DB.RecentPosts(r.Context(), limit)
	if err != nil {
		writeError(w, errs.Persistence(err, "load feed"))
		return
	}
	writeJSON(w, map[string]any{"posts": posts})
}

func (s *Server) handleDiaries(w http.ResponseWriter, r *http.Request) {
	f := narrative.DiaryFilter{AgentID: r.URL.Query().Get("agent")}

	var err error
	if f.Epoch, err = queryInt64Ptr(r, "epoch"); err != nil {
		writeError(w, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit", 20); err != nil {
		writeError(w, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, err)
		return
	}

	diaries, err := s.DB.ListDiaries(r.Context(), f)
	if err != nil {
		writeError(w, errs.Persistence(err, "list diaries"))
		return
	}
	writeJSON(w, map[string]any{"diaries": diaries})
}
