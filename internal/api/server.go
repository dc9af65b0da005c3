// Package api provides the HTTP API for the economy.
// GET endpoints are public (read-only observation) apart from bet placement.
// Control endpoints require a bearer token.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/engine"
	"github.com/talgya/agent-economy/internal/errs"
	"github.com/talgya/agent-economy/internal/metrics"
	"github.com/talgya/agent-economy/internal/persistence"
	"github.com/talgya/agent-economy/internal/prediction"
)

// Server serves the economy over HTTP.
type Server struct {
	DB       *persistence.DB
	Engine   *economy.Engine
	Runner   *engine.Runner
	Market   *prediction.Service
	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer // Nil disables /metrics
	Port     int
	AdminKey string // Bearer token for control endpoints. Empty = disabled.
	Origins  []string

	BetLimiter      Limiter
	GenerateLimiter Limiter

	// TrustProxy keys rate limits on the user header and X-Forwarded-For.
	// Leave off unless a gateway in front sets both.
	TrustProxy bool

	LLMEnabled     bool
	EntropyEnabled bool

	started time.Time
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		requestLogger,
		s.cors,
	)

	r.Get("/healthz", s.handleHealth)
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (anyone can check in on the economy).
		r.Get("/status", s.handleStatus)
		r.Get("/agents", s.handleAgents)
		r.Get("/agents/{id}", s.handleAgentDetail)
		r.Get("/epochs", s.handleEpochs)
		r.Get("/transactions", s.handleTransactions)
		r.Get("/stats", s.handleStats)
		r.Get("/feed", s.handleFeed)
		r.Get("/diaries", s.handleDiaries)

		r.Get("/predictions/leaderboard", s.handleLeaderboard)
		r.Get("/predictions/mine", s.handleMyBets)
		r.Get("/predictions/active", s.handleActiveBets)
		r.Get("/points", s.handlePoints)
		r.With(s.rateLimit("bets", s.BetLimiter)).Post("/predictions", s.handlePlaceBet)

		// Control endpoints.
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/agents/init", s.handleInitAgents)
			r.Post("/epoch", s.handleRunEpoch)
			r.Post("/epoch/cycle", s.handleRunCycle)
			r.Post("/predictions/settle", s.handleSettle)
			r.With(s.rateLimit("generate", s.GenerateLimiter)).Post("/diaries/generate", s.handleGenerateDiaries)
			r.With(s.rateLimit("generate", s.GenerateLimiter)).Post("/social/generate", s.handleGenerateSocial)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errs.NotFound("no route for %s %s", r.Method, r.URL.Path))
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "", "metrics", s.Gatherer != nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("HTTP API stopped")
	return nil
}

// cors adds CORS headers for configured frontend origins.
// Localhost dev servers are always allowed.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range s.Origins {
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken reports whether the request carries the admin token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly rejects requests without the bearer token before any handler runs.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, errs.New(errs.CodeUnauthorized, "control endpoints disabled (no ECON_ADMIN_KEY set)"))
			return
		}
		if !s.checkBearerToken(r) {
			writeError(w, errs.New(errs.CodeUnauthorized, "unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

type apiError struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeError renders err as {"error": {...}} with the status its code maps to.
// Internal failures are logged and replaced with a public message.
func writeError(w http.ResponseWriter, err error) {
	typed := errs.As(err)
	if typed == nil {
		typed = errs.Wrap(errs.CodeInternal, err, "unexpected error")
	}
	meta := errs.MetadataFor(typed.Code())

	body := apiError{Code: string(typed.Code()), Reason: typed.Reason(), Message: meta.PublicMessage}
	switch typed.Code() {
	case errs.CodeValidation, errs.CodeUnauthorized, errs.CodeNotFound, errs.CodeConflict,
		errs.CodeInsufficientPoints, errs.CodeRateLimit:
		if m := typed.Message(); m != "" {
			body.Message = m
		}
	}
	if meta.DetailsAllowed {
		if d := typed.Details(); len(d) > 0 {
			body.Details = d
		}
	}
	if meta.HTTPStatus >= http.StatusInternalServerError {
		slog.Error("request failed", "code", typed.Code(), "error", err)
	}

	writeJSONStatus(w, meta.HTTPStatus, map[string]apiError{"error": body})
}
