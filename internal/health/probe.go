package health

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
)

type CheckResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner runs readiness checks concurrently with a shared timeout. The
// last answer is reused for cacheTTL so a busy load balancer does not turn
// into a ping storm against the stores.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu        sync.Mutex
	cachedAt  time.Time
	lastReady bool
	last      []CheckResult
	now       func() time.Time
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers, now: time.Now}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	if p.cacheTTL > 0 && !p.cachedAt.IsZero() && p.now().Sub(p.cachedAt) < p.cacheTTL {
		ready, results := p.lastReady, append([]CheckResult(nil), p.last...)
		p.mu.Unlock()
		return ready, results
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	results := make([]CheckResult, len(p.checkers))
	var wg sync.WaitGroup
	for i, checker := range p.checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			started := p.now()
			res := checker.Check(ctx)
			res.DurationMS = p.now().Sub(started).Milliseconds()
			results[i] = res
		}(i, checker)
	}
	wg.Wait()

	ready := true
	for _, res := range results {
		if !res.Healthy {
			ready = false
		}
	}
	p.mu.Lock()
	p.cachedAt = p.now()
	p.lastReady = ready
	p.last = append([]CheckResult(nil), results...)
	p.mu.Unlock()
	return ready, results
}

type DBChecker struct{ db *gorm.DB }

func NewDBChecker(db *gorm.DB) DBChecker { return DBChecker{db: db} }

func (c DBChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "local_store"}
	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Healthy = true
	return res
}

type RelayChecker struct{ store relay.Store }

func NewRelayChecker(store relay.Store) RelayChecker { return RelayChecker{store: store} }

func (c RelayChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "relay"}
	if err := c.store.Ping(ctx); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Healthy = true
	return res
}
