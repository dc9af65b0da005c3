// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "ECON"

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Admin     AdminConfig
	LLM       LLMConfig
	Entropy   EntropyConfig
	Economy   EconomyConfig
	RateLimit RateLimitConfig
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Port        int    `envconfig:"ECON_PORT" default:"8080"`
	LogLevel    string `envconfig:"ECON_LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"ECON_LOG_FORMAT" default:"text"`
	CORSOrigins string `envconfig:"ECON_CORS_ORIGINS"`
	TrustProxy  bool   `envconfig:"ECON_TRUST_PROXY" default:"false"`
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (a AppConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Origins splits CORSOrigins into a trimmed list.
func (a AppConfig) Origins() []string {
	var out []string
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

type DBConfig struct {
	Path string `envconfig:"ECON_DB_PATH" default:"data/economy.db"`
}

type RedisConfig struct {
	URL     string        `envconfig:"ECON_REDIS_URL"`
	LockKey string        `envconfig:"ECON_REDIS_LOCK_KEY" default:"econ:epoch:lock"`
	LockTTL time.Duration `envconfig:"ECON_REDIS_LOCK_TTL" default:"10m"`
}

// Enabled reports whether a Redis URL was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

type AdminConfig struct {
	Key string `envconfig:"ECON_ADMIN_KEY"`
}

type LLMConfig struct {
	APIKey       string        `envconfig:"ANTHROPIC_API_KEY"`
	Model        string        `envconfig:"ECON_LLM_MODEL" default:"claude-haiku-4-5-20251001"`
	Timeout      time.Duration `envconfig:"ECON_LLM_TIMEOUT" default:"20s"`
	MaxPerMinute int           `envconfig:"ECON_LLM_MAX_PER_MINUTE" default:"30"`
	Concurrency  int           `envconfig:"ECON_LLM_CONCURRENCY" default:"4"`
}

type EntropyConfig struct {
	RandomOrgKey string `envconfig:"RANDOM_ORG_API_KEY"`
}

type EconomyConfig struct {
	EpochInterval  time.Duration `envconfig:"ECON_EPOCH_INTERVAL" default:"0s"`
	CycleSeed      int64         `envconfig:"ECON_CYCLE_SEED" default:"42"`
	MaxPostsPerRun int           `envconfig:"ECON_MAX_POSTS_PER_RUN" default:"6"`
}

type RateLimitConfig struct {
	Window        time.Duration `envconfig:"ECON_RATE_LIMIT_WINDOW" default:"1h"`
	BetLimit      int           `envconfig:"ECON_RATE_LIMIT_BETS" default:"60"`
	GenerateLimit int           `envconfig:"ECON_RATE_LIMIT_GENERATE" default:"10"`
}
