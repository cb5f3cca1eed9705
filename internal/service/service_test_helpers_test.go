package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/clinic-survey-relay/internal/database"
	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
)

const testOwnerID = "clinic-1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServiceTestDB(t *testing.T) *gorm.DB {
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
	return db
}

// flakyRelay wraps a relay store and fails selected operations.
type flakyRelay struct {
	relay.Store
	mu         sync.Mutex
	failPut    bool
	failInsert bool
	failGet    bool
}

var errRelayDown = errors.New("relay down")

func (f *flakyRelay) set(apply func(*flakyRelay)) {
	f.mu.Lock()
	apply(f)
	f.mu.Unlock()
}

func (f *flakyRelay) PutSessionSnapshot(ctx context.Context, token string, snap domain.SessionSnapshot, ttl time.Duration) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return errRelayDown
	}
	return f.Store.PutSessionSnapshot(ctx, token, snap, ttl)
}

func (f *flakyRelay) Insert(ctx context.Context, rec domain.RelayRecord) error {
	f.mu.Lock()
	fail := f.failInsert
	f.mu.Unlock()
	if fail {
		return errRelayDown
	}
	return f.Store.Insert(ctx, rec)
}

func (f *flakyRelay) GetSessionSnapshot(ctx context.Context, token string) (*domain.SessionSnapshot, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, errRelayDown
	}
	return f.Store.GetSessionSnapshot(ctx, token)
}

type fixture struct {
	db          *gorm.DB
	sessionRepo repository.SessionRepository
	responses   repository.ResponseRepository
	relay       *flakyRelay
	notifier    *ChangeNotifier
	templates   *TemplateService
	sessions    *SessionService
	resolution  *ResolutionService
	submissions *SubmissionService
	responseSvc *ResponseService
	clock       *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newClinicFixture wires the services the way the clinic profile does: local
// store available, relay mirroring enabled.
func newClinicFixture(t *testing.T) *fixture {
	t.Helper()
	db := newServiceTestDB(t)
	f := &fixture{
		db:          db,
		sessionRepo: repository.NewSessionRepository(db),
		responses:   repository.NewResponseRepository(db),
		relay:       &flakyRelay{Store: relay.NewInMemoryStore(discardLogger())},
		notifier:    NewChangeNotifier(),
		clock:       &testClock{now: time.Now().UTC()},
	}
	templateRepo := repository.NewTemplateRepository(db)
	unknown := NewUnknownTokenCache(NewInMemoryNegativeLookupCacheStore(), time.Minute, discardLogger())
	f.templates = NewTemplateService(templateRepo, f.notifier)
	f.sessions = NewSessionService(f.sessionRepo, f.templates, f.relay, security.NewTokenGenerator(nil), unknown, f.notifier,
		SessionServiceConfig{
			OwnerID:           testOwnerID,
			DefaultTTL:        24 * time.Hour,
			SnapshotGrace:     time.Hour,
			RemoteRespondents: true,
			PublicBaseURL:     "https://clinic.example.org",
		}, discardLogger())
	f.sessions.now = f.clock.Now
	f.resolution = NewResolutionService(f.sessionRepo, templateRepo, f.relay, f.sessions, unknown, discardLogger())
	f.submissions = NewSubmissionService(f.responses, f.templates, f.resolution, f.relay, f.notifier, discardLogger())
	f.submissions.now = f.clock.Now
	f.responseSvc = NewResponseService(f.responses, f.notifier)
	return f
}

// remoteServices builds the relay-only view of the same relay store, as a
// public web process without local store access would.
func (f *fixture) remoteServices(t *testing.T) (*ResolutionService, *SubmissionService) {
	t.Helper()
	lifecycle := NewSessionService(nil, nil, f.relay, nil, nil, nil, SessionServiceConfig{
		OwnerID:           testOwnerID,
		RemoteRespondents: true,
	}, discardLogger())
	lifecycle.now = f.clock.Now
	resolution := NewResolutionService(nil, nil, f.relay, lifecycle, nil, discardLogger())
	submissions := NewSubmissionService(nil, nil, resolution, f.relay, nil, discardLogger())
	submissions.now = f.clock.Now
	return resolution, submissions
}

func (f *fixture) seedTemplate(t *testing.T, id string, active bool) {
	t.Helper()
	_, err := f.templates.Save(context.Background(), TemplateInput{
		ID:     id,
		Name:   "Template " + id,
		Active: &active,
		Questions: []domain.Question{
			{ID: "q1", Text: "How do you feel today?", Type: domain.QuestionText, Required: true},
			{ID: "q2", Text: "Pain level", Type: domain.QuestionScale, ScaleConfig: &domain.ScaleConfig{Min: 0, Max: 10}},
		},
	})
	if err != nil {
		t.Fatalf("seed template %s: %v", id, err)
	}
}

func (f *fixture) createSession(t *testing.T, templateID, name string, ttl *time.Duration) *CreatedSession {
	t.Helper()
	created, err := f.sessions.CreateSession(context.Background(), CreateSessionInput{
		TemplateID: templateID,
		Respondent: domain.RespondentRef{Name: &name},
		TTL:        ttl,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return created
}

func validAnswers() []domain.Answer {
	return []domain.Answer{
		{QuestionID: "q1", Value: domain.TextAnswer("better")},
		{QuestionID: "q2", Value: domain.NumberAnswer(2)},
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func countResponses(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Response{}).Count(&n).Error; err != nil {
		t.Fatalf("count responses: %v", err)
	}
	return n
}
