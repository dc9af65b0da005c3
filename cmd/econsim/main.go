// Command econsim runs the agent economy: the ledger, the epoch engine,
// the narrative generator, the prediction market and the HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/talgya/agent-economy/internal/api"
	"github.com/talgya/agent-economy/internal/config"
	"github.com/talgya/agent-economy/internal/economy"
	"github.com/talgya/agent-economy/internal/engine"
	"github.com/talgya/agent-economy/internal/entropy"
	"github.com/talgya/agent-economy/internal/llm"
	"github.com/talgya/agent-economy/internal/lock"
	"github.com/talgya/agent-economy/internal/metrics"
	"github.com/talgya/agent-economy/internal/narrative"
	"github.com/talgya/agent-economy/internal/persistence"
	"github.com/talgya/agent-economy/internal/prediction"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.App))

	if err := run(cfg); err != nil {
		slog.Error("econsim exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(app config.AppConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: app.SlogLevel()}
	if strings.EqualFold(app.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("agent economy starting",
		"port", cfg.App.Port,
		"db", cfg.DB.Path,
		"redis", cfg.Redis.Enabled(),
		"epoch_interval", cfg.Economy.EpochInterval,
	)

	// ── Database ──────────────────────────────────────────────────────
	db, err := persistence.Open(ctx, cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DB.Path)

	// ── Metrics ───────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	// ── Coordination: Redis when configured, in-process otherwise ─────
	var (
		epochLock       lock.Lock   = lock.NewLocalLock()
		betLimiter      api.Limiter = api.NewMemoryLimiter(cfg.RateLimit.BetLimit, cfg.RateLimit.Window)
		generateLimiter api.Limiter = api.NewMemoryLimiter(cfg.RateLimit.GenerateLimit, cfg.RateLimit.Window)
	)
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		rl, err := lock.NewRedisLock(rdb, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		if err != nil {
			return err
		}
		epochLock = rl
		betLimiter = api.NewRedisLimiter(rdb, "econ:rl", cfg.RateLimit.BetLimit, cfg.RateLimit.Window)
		generateLimiter = api.NewRedisLimiter(rdb, "econ:rl", cfg.RateLimit.GenerateLimit, cfg.RateLimit.Window)
		slog.Info("redis connected", "lock_key", cfg.Redis.LockKey)
	}

	// ── Economy ───────────────────────────────────────────────────────
	seeds := entropy.NewClient(cfg.Entropy.RandomOrgKey)
	eng := economy.NewEngine(db, seeds, economy.NewCycle(cfg.Economy.CycleSeed))
	slog.Info("entropy source", "random_org", seeds.Enabled())

	// ── Narrative ─────────────────────────────────────────────────────
	var writer narrative.Writer = llm.TemplateWriter{}
	llmClient := llm.NewClient(llm.Options{
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
		MaxPerMinute: cfg.LLM.MaxPerMinute,
	})
	if llmClient.Enabled() {
		writer = llmClient
		slog.Info("LLM narrative enabled", "model", cfg.LLM.Model)
	} else {
		slog.Info("LLM disabled (no ANTHROPIC_API_KEY), using template narrative")
	}
	gen := narrative.NewGenerator(db, writer, narrative.Options{
		Timeout:     cfg.LLM.Timeout,
		Concurrency: cfg.LLM.Concurrency,
		MaxPosts:    cfg.Economy.MaxPostsPerRun,
		Metrics:     rec,
	})

	// ── Prediction market ─────────────────────────────────────────────
	market := prediction.NewService(db, rec)

	// ── Runner ────────────────────────────────────────────────────────
	runner := engine.NewRunner(engine.Config{
		Engine:    eng,
		Lock:      epochLock,
		Ledger:    db,
		Narrative: gen,
		Market:    market,
		Metrics:   rec,
	})
	runner.Start(ctx)

	if cfg.Economy.EpochInterval > 0 {
		sched := engine.NewScheduler(cfg.Economy.EpochInterval, func(ctx context.Context, tick uint64) error {
			_, err := runner.RunCycle(ctx, economy.RunOptions{})
			return err
		})
		go sched.Run(ctx)
		slog.Info("in-process scheduler enabled", "interval", cfg.Economy.EpochInterval)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	srv := &api.Server{
		DB:              db,
		Engine:          eng,
		Runner:          runner,
		Market:          market,
		Metrics:         rec,
		Gatherer:        reg,
		Port:            cfg.App.Port,
		AdminKey:        cfg.Admin.Key,
		Origins:         cfg.App.Origins(),
		BetLimiter:      betLimiter,
		GenerateLimiter: generateLimiter,
		TrustProxy:      cfg.App.TrustProxy,
		LLMEnabled:      llmClient.Enabled(),
		EntropyEnabled:  seeds.Enabled(),
	}
	if cfg.Admin.Key == "" {
		slog.Warn("ECON_ADMIN_KEY not set, control endpoints are disabled")
	}

	err = srv.ListenAndServe(ctx)
	slog.Info("agent economy stopped")
	return err
}
