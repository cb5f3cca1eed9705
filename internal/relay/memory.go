package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
)

const memorySubscriptionBuffer = 64

// InMemoryStore is a single-process relay used by tests and by clinic
// installs that run without Redis.
type InMemoryStore struct {
	mu          sync.Mutex
	records     map[string]domain.RelayRecord
	snapshots   map[string]memorySnapshot
	subscribers map[string]map[*memorySubscription]struct{}
	logger      *slog.Logger
	now         func() time.Time
}

type memorySnapshot struct {
	snap      domain.SessionSnapshot
	expiresAt time.Time
}

func NewInMemoryStore(logger *slog.Logger) *InMemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryStore{
		records:     make(map[string]domain.RelayRecord),
		snapshots:   make(map[string]memorySnapshot),
		subscribers: make(map[string]map[*memorySubscription]struct{}),
		logger:      logger,
		now:         time.Now,
	}
}

func (s *InMemoryStore) Insert(_ context.Context, rec domain.RelayRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	s.records[rec.ID] = rec
	subs := make([]*memorySubscription, 0, len(s.subscribers[rec.OwnerID]))
	for sub := range s.subscribers[rec.OwnerID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.events <- rec:
		default:
			s.logger.Warn("relay subscriber backlog full, dropping push", "owner_id", rec.OwnerID, "record_id", rec.ID)
		}
	}
	return nil
}

func (s *InMemoryStore) ListUnconsumed(_ context.Context, ownerID string) ([]domain.RelayRecord, error) {
	s.mu.Lock()
	out := make([]domain.RelayRecord, 0)
	for _, rec := range s.records {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) CountUnconsumed(ctx context.Context, ownerID string) (int64, error) {
	recs, err := s.ListUnconsumed(ctx, ownerID)
	return int64(len(recs)), err
}

func (s *InMemoryStore) Delete(_ context.Context, recordID string) error {
	s.mu.Lock()
	delete(s.records, recordID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Subscribe(_ context.Context, ownerID string, onInsert func(domain.RelayRecord)) (Subscription, error) {
	sub := &memorySubscription{
		events: make(chan domain.RelayRecord, memorySubscriptionBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	if s.subscribers[ownerID] == nil {
		s.subscribers[ownerID] = make(map[*memorySubscription]struct{})
	}
	s.subscribers[ownerID][sub] = struct{}{}
	s.mu.Unlock()

	sub.detach = func() {
		s.mu.Lock()
		delete(s.subscribers[ownerID], sub)
		if len(s.subscribers[ownerID]) == 0 {
			delete(s.subscribers, ownerID)
		}
		s.mu.Unlock()
	}
	go sub.run(onInsert)
	return sub, nil
}

func (s *InMemoryStore) PutSessionSnapshot(_ context.Context, token string, snap domain.SessionSnapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = minSnapshotTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[security.SurveyTokenFingerprint(token)] = memorySnapshot{snap: snap, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) GetSessionSnapshot(_ context.Context, token string) (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveSnapshot(security.SurveyTokenFingerprint(token))
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	snap := entry.snap
	return &snap, nil
}

func (s *InMemoryStore) TransitionSnapshot(_ context.Context, token string, to domain.SessionStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := security.SurveyTokenFingerprint(token)
	entry, ok := s.liveSnapshot(key)
	if !ok {
		return false, ErrSnapshotNotFound
	}
	if !applyTransition(&entry.snap, to, at) {
		return false, nil
	}
	s.snapshots[key] = entry
	return true, nil
}

func (s *InMemoryStore) ReopenSnapshot(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := security.SurveyTokenFingerprint(token)
	entry, ok := s.liveSnapshot(key)
	if !ok {
		return ErrSnapshotNotFound
	}
	if reopen(&entry.snap) {
		s.snapshots[key] = entry
	}
	return nil
}

func (s *InMemoryStore) DeleteSessionSnapshot(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.snapshots, security.SurveyTokenFingerprint(token))
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

// liveSnapshot must be called with s.mu held.
func (s *InMemoryStore) liveSnapshot(key string) (memorySnapshot, bool) {
	entry, ok := s.snapshots[key]
	if !ok {
		return memorySnapshot{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.snapshots, key)
		return memorySnapshot{}, false
	}
	return entry, true
}

type memorySubscription struct {
	events chan domain.RelayRecord
	stop   chan struct{}
	done   chan struct{}
	detach func()
	once   sync.Once
}

func (m *memorySubscription) run(onInsert func(domain.RelayRecord)) {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case rec := <-m.events:
			onInsert(rec)
		}
	}
}

func (m *memorySubscription) Close() error {
	m.once.Do(func() {
		m.detach()
		close(m.stop)
	})
	<-m.done
	return nil
}
