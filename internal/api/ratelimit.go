// Rate limiting for bet placement and text generation endpoints.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talgya/agent-economy/internal/errs"
)

// Limiter admits or rejects one request for key. When rejected, retryAfter
// is the time until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// MemoryLimiter tracks request counts per key in fixed windows.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	maxRate int           // max requests per window
	window  time.Duration // time window
	now     func() time.Time
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewMemoryLimiter creates a limiter allowing maxRate requests per window.
func NewMemoryLimiter(maxRate int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		maxRate: maxRate,
		window:  window,
		now:     time.Now,
	}
}

// Allow checks if key is within its limit.
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.lastReset) >= rl.window {
		rl.buckets[key] = &bucket{tokens: rl.maxRate - 1, lastReset: now}
		rl.cleanup(now)
		if rl.maxRate <= 0 {
			return false, rl.window, nil
		}
		return true, 0, nil
	}

	if b.tokens > 0 {
		b.tokens--
		return true, 0, nil
	}
	return false, rl.window - now.Sub(b.lastReset), nil
}

// cleanup drops stale buckets. Called with mu held.
func (rl *MemoryLimiter) cleanup(now time.Time) {
	if len(rl.buckets) < 1024 {
		return
	}
	for key, b := range rl.buckets {
		if now.Sub(b.lastReset) > 2*rl.window {
			delete(rl.buckets, key)
		}
	}
}

// counter is the subset of *redis.Client used by RedisLimiter.
type counter interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisLimiter shares fixed-window counters across instances.
type RedisLimiter struct {
	client counter
	prefix string
	limit  int64
	window time.Duration
}

// NewRedisLimiter creates a limiter keyed under prefix.
func NewRedisLimiter(client counter, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

// Allow opens the window with SET NX EX, so the counter and its TTL are
// created together, then increments it. INCR keeps an existing TTL.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := fmt.Sprintf("%s:%s", rl.prefix, key)
	if err := rl.client.SetNX(ctx, k, 0, rl.window).Err(); err != nil {
		return false, 0, fmt.Errorf("open window %s: %w", k, err)
	}
	count, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", k, err)
	}
	if count <= rl.limit {
		return true, 0, nil
	}

	ttl, err := rl.client.TTL(ctx, k).Result()
	if err != nil {
		return false, rl.window, nil
	}
	if ttl < 0 {
		// The window expired between SETNX and INCR and INCR recreated the
		// key without a TTL. Give it one so the caller is not locked out.
		if err := rl.client.Expire(ctx, k, rl.window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire %s: %w", k, err)
		}
		ttl = rl.window
	}
	return false, ttl, nil
}

// rateLimit wraps a route with limiter, keyed by s.callerKey. A nil
// limiter admits everything.
func (s *Server) rateLimit(scope string, limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + s.callerKey(r)
			ok, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				writeError(w, errs.Wrap(errs.CodeInternal, err, "rate limiting"))
				return
			}
			if !ok {
				s.Metrics.RateLimited(scope)
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				writeError(w, errs.New(errs.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey identifies the caller. By default only the connection address
// counts, since clients can set any header. With TrustProxy the gateway in
// front is expected to set the user header and append to X-Forwarded-For.
func (s *Server) callerKey(r *http.Request) string {
	if s.TrustProxy {
		if user := strings.TrimSpace(r.Header.Get(userHeader)); user != "" {
			return "user:" + user
		}
		if ip := forwardedFor(r); ip != "" {
			return "ip:" + ip
		}
	}
	return "ip:" + remoteIP(r)
}

// forwardedFor returns the last X-Forwarded-For hop, the one the trusted
// proxy appended. Earlier hops are client supplied.
func forwardedFor(r *http.Request) string {
	parts := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(parts) - 1; i >= 0; i-- {
		if ip := strings.TrimSpace(parts[i]); ip != "" {
			return ip
		}
	}
	return ""
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
