package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
)

const surveyTokenNamespace = "survey.tokens"

type NegativeLookupCacheStore interface {
	Get(ctx context.Context, namespace, key string) (bool, error)
	Set(ctx context.Context, namespace, key string, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

type NoopNegativeLookupCacheStore struct{}

func NewNoopNegativeLookupCacheStore() *NoopNegativeLookupCacheStore {
	return &NoopNegativeLookupCacheStore{}
}

func (s *NoopNegativeLookupCacheStore) Get(context.Context, string, string) (bool, error) {
	return false, nil
}

func (s *NoopNegativeLookupCacheStore) Set(context.Context, string, string, time.Duration) error {
	return nil
}

func (s *NoopNegativeLookupCacheStore) Delete(context.Context, string, string) error { return nil }

func (s *NoopNegativeLookupCacheStore) InvalidateNamespace(context.Context, string) error {
	return nil
}

type InMemoryNegativeLookupCacheStore struct {
	mu    sync.RWMutex
	store map[string]map[string]time.Time
	now   func() time.Time
}

func NewInMemoryNegativeLookupCacheStore() *InMemoryNegativeLookupCacheStore {
	return &InMemoryNegativeLookupCacheStore{
		store: make(map[string]map[string]time.Time),
		now:   time.Now,
	}
}

func (s *InMemoryNegativeLookupCacheStore) Get(_ context.Context, namespace, key string) (bool, error) {
	namespace, key = normalizeNamespace(namespace), hashLookupKey(key)
	now := s.now().UTC()
	s.mu.RLock()
	expiresAt, ok := s.store[namespace][key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !now.Before(expiresAt) {
		s.mu.Lock()
		s.deleteLocked(namespace, key)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *InMemoryNegativeLookupCacheStore) Set(_ context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	namespace, key = normalizeNamespace(namespace), hashLookupKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.store[namespace]
	if !ok {
		ns = make(map[string]time.Time)
		s.store[namespace] = ns
	}
	ns[key] = s.now().UTC().Add(ttl)
	return nil
}

func (s *InMemoryNegativeLookupCacheStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(normalizeNamespace(namespace), hashLookupKey(key))
	return nil
}

func (s *InMemoryNegativeLookupCacheStore) deleteLocked(namespace, key string) {
	ns, ok := s.store[namespace]
	if !ok {
		return
	}
	delete(ns, key)
	if len(ns) == 0 {
		delete(s.store, namespace)
	}
}

func (s *InMemoryNegativeLookupCacheStore) InvalidateNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, normalizeNamespace(namespace))
	return nil
}

func normalizeNamespace(namespace string) string {
	v := strings.ToLower(strings.TrimSpace(namespace))
	if v == "" {
		return "default"
	}
	return v
}

func hashLookupKey(key string) string {
	return security.SurveyTokenFingerprint(key)
}

// UnknownTokenCache remembers tokens that resolved to nothing so repeated
// guesses on the public endpoint skip both stores. Cache failures are logged
// and treated as a miss.
type UnknownTokenCache struct {
	store  NegativeLookupCacheStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewUnknownTokenCache(store NegativeLookupCacheStore, ttl time.Duration, logger *slog.Logger) *UnknownTokenCache {
	if store == nil {
		store = NewNoopNegativeLookupCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UnknownTokenCache{store: store, ttl: ttl, logger: logger}
}

func (c *UnknownTokenCache) KnownMissing(ctx context.Context, token string) bool {
	if c == nil {
		return false
	}
	hit, err := c.store.Get(ctx, surveyTokenNamespace, token)
	if err != nil {
		c.logger.WarnContext(ctx, "negative lookup cache read failed", "error", err)
		observability.RecordNegativeLookupEvent(ctx, "error")
		return false
	}
	if hit {
		observability.RecordNegativeLookupEvent(ctx, "hit")
	} else {
		observability.RecordNegativeLookupEvent(ctx, "miss")
	}
	return hit
}

func (c *UnknownTokenCache) RememberMissing(ctx context.Context, token string) {
	if c == nil {
		return
	}
	if err := c.store.Set(ctx, surveyTokenNamespace, token, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "negative lookup cache write failed", "error", err)
		observability.RecordNegativeLookupEvent(ctx, "error")
		return
	}
	observability.RecordNegativeLookupEvent(ctx, "store")
}

func (c *UnknownTokenCache) Forget(ctx context.Context, token string) {
	if c == nil {
		return
	}
	if err := c.store.Delete(ctx, surveyTokenNamespace, token); err != nil {
		c.logger.WarnContext(ctx, "negative lookup cache delete failed", "error", err)
	}
}
