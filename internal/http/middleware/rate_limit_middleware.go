package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/clinic-survey-relay/internal/http/response"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
)

// Policy admits Limit requests per Window for one key.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return p
}

type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// MemoryLimiter is a per-process GCRA limiter. Each key stores only its
// theoretical arrival time, so a full window of requests may arrive at once
// and budget then returns at Limit per Window.
type MemoryLimiter struct {
	mu        sync.Mutex
	tat       map[string]time.Time
	nextSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{tat: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, policy Policy) (Decision, error) {
	policy = policy.normalized()
	interval := policy.Window / time.Duration(policy.Limit)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.After(l.nextSweep) {
		for k, t := range l.tat {
			if t.Before(now) {
				delete(l.tat, k)
			}
		}
		l.nextSweep = now.Add(policy.Window)
	}

	tat := l.tat[key]
	if tat.Before(now) {
		tat = now
	}
	next := tat.Add(interval)
	if allowAt := next.Add(-policy.Window); now.Before(allowAt) {
		return Decision{RetryAfter: allowAt.Sub(now), ResetAt: tat}, nil
	}
	l.tat[key] = next
	remaining := int((policy.Window - next.Sub(now)) / interval)
	return Decision{Allowed: true, Remaining: max(remaining, 0), ResetAt: next}, nil
}

// RedisFixedWindowLimiter counts requests per key in fixed windows shared by
// every process on the same redis. Bursts at a window edge can reach twice
// the limit.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	policy = policy.normalized()
	now := l.now()
	slot := now.UnixNano() / int64(policy.Window)
	resetAt := time.Unix(0, (slot+1)*int64(policy.Window))
	counterKey := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, counterKey)
		pipe.PExpire(ctx, counterKey, policy.Window+time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}
	remaining := policy.Limit - int(incr.Val())
	if remaining >= 0 {
		return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
	}
	return Decision{ResetAt: resetAt, RetryAfter: max(resetAt.Sub(now), time.Second)}, nil
}

// RateLimiter applies one policy to requests keyed by client IP.
type RateLimiter struct {
	limiter Limiter
	policy  Policy
	mode    FailureMode
	scope   string
}

// NewRateLimiter limits per client IP within this process.
func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return NewDistributedRateLimiter(NewMemoryLimiter(), limit, window, FailClosed, scope)
}

func NewDistributedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  Policy{Limit: limit, Window: window}.normalized(),
		mode:    mode,
		scope:   scope,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := rl.limiter.Allow(ctx, rl.scope+":"+clientIP(r), rl.policy)
			switch {
			case err != nil && rl.mode == FailOpen:
				observability.RecordRateLimitDecision(ctx, rl.scope, "backend_error")
				slog.WarnContext(ctx, "rate limiter unavailable, allowing request", "scope", rl.scope, "error", err)
				next.ServeHTTP(w, r)
			case err != nil:
				observability.RecordRateLimitDecision(ctx, rl.scope, "backend_error")
				rl.reject(w, r, Decision{RetryAfter: rl.policy.Window, ResetAt: time.Now().Add(rl.policy.Window)})
			case !decision.Allowed:
				observability.RecordRateLimitDecision(ctx, rl.scope, "deny")
				rl.reject(w, r, decision)
			default:
				observability.RecordRateLimitDecision(ctx, rl.scope, "allow")
				rl.setHeaders(w.Header(), decision)
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, d Decision) {
	rl.setHeaders(w.Header(), d)
	secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
	response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
}

func (rl *RateLimiter) setHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(rl.policy.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// clientIP relies on chi's RealIP having already rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return addr
}
