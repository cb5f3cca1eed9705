package relaysync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/clinic-survey-relay/internal/database"
	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

const testOwnerID = "clinic-1"

var errInjected = errors.New("injected failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	db        *gorm.DB
	sessions  repository.SessionRepository
	responses repository.ResponseRepository
	relay     relay.Store
	notifier  *service.ChangeNotifier
}

func newHarness(t *testing.T, store relay.Store) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.Options{DSN: dsn, LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if store == nil {
		store = relay.NewInMemoryStore(discardLogger())
	}
	return &harness{
		db:        db,
		sessions:  repository.NewSessionRepository(db),
		responses: repository.NewResponseRepository(db),
		relay:     store,
		notifier:  service.NewChangeNotifier(),
	}
}

func (h *harness) ingestor(responses repository.ResponseRepository, store relay.Store) *Ingestor {
	if responses == nil {
		responses = h.responses
	}
	if store == nil {
		store = h.relay
	}
	return NewIngestor(testOwnerID, responses, store, h.notifier, discardLogger())
}

func (h *harness) seedSession(t *testing.T, id, token string, expiresAt time.Time) {
	t.Helper()
	name := "Kim"
	err := h.sessions.Create(context.Background(), &domain.Session{
		ID:             id,
		Token:          token,
		TemplateID:     "T1",
		RespondentName: &name,
		Status:         domain.SessionStatusPending,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("seed session %s: %v", id, err)
	}
}

func (h *harness) stage(t *testing.T, rec domain.RelayRecord) {
	t.Helper()
	if err := h.relay.Insert(context.Background(), rec); err != nil {
		t.Fatalf("stage relay record %s: %v", rec.ID, err)
	}
}

func (h *harness) responseCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(&domain.Response{}).Count(&n).Error; err != nil {
		t.Fatalf("count responses: %v", err)
	}
	return n
}

func (h *harness) relayCount(t *testing.T) int64 {
	t.Helper()
	n, err := h.relay.CountUnconsumed(context.Background(), testOwnerID)
	if err != nil {
		t.Fatalf("count relay records: %v", err)
	}
	return n
}

func relayRecord(id string, sessionID *string) domain.RelayRecord {
	name := "Kim"
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.RelayRecord{
		ID:             id,
		OwnerID:        testOwnerID,
		SessionID:      sessionID,
		TemplateID:     "T1",
		RespondentName: &name,
		Answers:        []domain.Answer{{QuestionID: "q1", Value: domain.TextAnswer("fine")}},
		SubmittedAt:    now,
		CreatedAt:      now,
	}
}

func strPtr(v string) *string { return &v }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type failingResponses struct {
	repository.ResponseRepository
	fail atomic.Bool
}

func (f *failingResponses) CreateWithCompletion(ctx context.Context, resp *domain.Response, policy repository.CompletionPolicy) (repository.StoreOutcome, error) {
	if f.fail.Load() {
		return repository.StoreOutcome{}, errInjected
	}
	return f.ResponseRepository.CreateWithCompletion(ctx, resp, policy)
}

type failingDelete struct {
	relay.Store
	fail atomic.Bool
}

func (f *failingDelete) Delete(ctx context.Context, recordID string) error {
	if f.fail.Load() {
		return errInjected
	}
	return f.Store.Delete(ctx, recordID)
}

// deafRelay accepts subscriptions but never delivers, like a channel that
// lost its connection without noticing.
type deafRelay struct {
	relay.Store
}

type deafSubscription struct{}

func (deafSubscription) Close() error { return nil }

func (deafRelay) Subscribe(context.Context, string, func(domain.RelayRecord)) (relay.Subscription, error) {
	return deafSubscription{}, nil
}
