package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
)

const (
	maxTokenAttempts = 5
	mirrorRetryBatch = 50
)

type SessionServiceConfig struct {
	OwnerID           string
	DefaultTTL        time.Duration
	SnapshotGrace     time.Duration
	RemoteRespondents bool
	PublicBaseURL     string
}

type CreateSessionInput struct {
	TemplateID string
	Respondent domain.RespondentRef
	// TTL overrides the configured default when set. Zero is allowed and
	// yields a session that is already expired.
	TTL       *time.Duration
	CreatedBy *string
}

type CreatedSession struct {
	Session       domain.Session `json:"session"`
	Link          string         `json:"link"`
	RelayMirrored bool           `json:"relay_mirrored"`
}

type SessionService struct {
	sessions  repository.SessionRepository
	templates *TemplateService
	relay     relay.Store
	tokens    *security.TokenGenerator
	unknown   *UnknownTokenCache
	notifier  *ChangeNotifier
	cfg       SessionServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionService(
	sessions repository.SessionRepository,
	templates *TemplateService,
	relayStore relay.Store,
	tokens *security.TokenGenerator,
	unknown *UnknownTokenCache,
	notifier *ChangeNotifier,
	cfg SessionServiceConfig,
	logger *slog.Logger,
) *SessionService {
	if tokens == nil {
		tokens = security.NewTokenGenerator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		sessions:  sessions,
		templates: templates,
		relay:     relayStore,
		tokens:    tokens,
		unknown:   unknown,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateSession issues a token-bearing session for an active template. The
// local write decides success; mirroring to the relay afterwards is
// best-effort. A failed mirror leaves RelayMirrored false and RetryMirrors
// picks the session up later.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*CreatedSession, error) {
	tpl, err := s.templates.RequireActive(ctx, in.TemplateID)
	if err != nil {
		observability.RecordSessionCreated(ctx, false, "rejected")
		return nil, err
	}

	ttl := s.cfg.DefaultTTL
	if in.TTL != nil {
		ttl = *in.TTL
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSessionTTL, ttl)
	}
	now := s.now().UTC()
	respondent := in.Respondent.Normalize()
	session := domain.Session{
		ID:             uuid.NewString(),
		TemplateID:     tpl.ID,
		PatientID:      respondent.PatientID,
		RespondentName: respondent.Name,
		Status:         domain.SessionStatusPending,
		ExpiresAt:      now.Add(ttl),
		CreatedBy:      in.CreatedBy,
	}
	if err := s.insertWithFreshToken(ctx, &session); err != nil {
		observability.RecordSessionCreated(ctx, false, "error")
		return nil, err
	}
	s.unknown.Forget(ctx, session.Token)

	link, err := security.BuildSurveyLink(session.Token, s.cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	out := &CreatedSession{Session: session, Link: link}
	if s.cfg.RemoteRespondents && s.relay != nil {
		if err := s.mirror(ctx, session, *tpl); err != nil {
			s.logger.WarnContext(ctx, "session created without relay mirror, will retry",
				"session_id", session.ID, "error", err)
		} else {
			out.RelayMirrored = true
			out.Session.RelayMirrored = true
			if err := s.sessions.MarkMirrored(ctx, session.ID); err != nil {
				s.logger.WarnContext(ctx, "recording relay mirror failed", "session_id", session.ID, "error", err)
			}
		}
	}
	observability.RecordSessionCreated(ctx, out.RelayMirrored, "created")
	s.notifier.Notify(ChangeSessions, session.ID)
	return out, nil
}

func (s *SessionService) insertWithFreshToken(ctx context.Context, session *domain.Session) error {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := s.tokens.Generate()
		if err != nil {
			return err
		}
		// The unique index is the real guard; the lookup only skips a doomed insert.
		if inUse, err := s.sessions.TokenInUse(ctx, token); err == nil && inUse {
			s.logger.InfoContext(ctx, "survey token collision, drawing again", "attempt", attempt+1)
			continue
		}
		session.Token = token
		err = s.sessions.Create(ctx, session)
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: create session: %v", ErrStorageWriteFailed, err)
		}
		s.logger.InfoContext(ctx, "survey token collision, drawing again", "attempt", attempt+1)
	}
	return fmt.Errorf("%w: no unique token after %d attempts", ErrStorageWriteFailed, maxTokenAttempts)
}

func (s *SessionService) mirror(ctx context.Context, session domain.Session, tpl domain.Template) error {
	tplSnap, err := tpl.Snapshot()
	if err != nil {
		return err
	}
	snap := domain.SessionSnapshot{
		SessionID:      session.ID,
		OwnerID:        s.cfg.OwnerID,
		TemplateID:     session.TemplateID,
		PatientID:      session.PatientID,
		RespondentName: session.RespondentName,
		Status:         session.Status,
		ExpiresAt:      session.ExpiresAt,
		Template:       tplSnap,
	}
	ttl := session.ExpiresAt.Sub(s.now()) + s.cfg.SnapshotGrace
	if err := s.relay.PutSessionSnapshot(ctx, session.Token, snap, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	return nil
}

// RetryMirrors puts relay snapshots for pending sessions whose mirror failed
// at creation. It stops at the first relay error; the remaining sessions are
// tried again on the next call.
func (s *SessionService) RetryMirrors(ctx context.Context) (int64, error) {
	if !s.cfg.RemoteRespondents || s.relay == nil || s.sessions == nil {
		return 0, nil
	}
	pending, err := s.sessions.ListUnmirrored(ctx, s.now(), mirrorRetryBatch)
	if err != nil {
		return 0, fmt.Errorf("list unmirrored sessions: %w", err)
	}
	var mirrored int64
	for _, session := range pending {
		tpl, err := s.templates.load(ctx, session.TemplateID)
		if errors.Is(err, ErrTemplateNotFound) {
			s.logger.WarnContext(ctx, "session template gone, not mirroring", "session_id", session.ID)
			continue
		}
		if err != nil {
			return mirrored, err
		}
		if err := s.mirror(ctx, session, *tpl); err != nil {
			return mirrored, err
		}
		if err := s.sessions.MarkMirrored(ctx, session.ID); err != nil {
			return mirrored, fmt.Errorf("%w: mark mirrored: %v", ErrStorageWriteFailed, err)
		}
		s.unknown.Forget(ctx, session.Token)
		mirrored++
	}
	if mirrored > 0 {
		s.logger.InfoContext(ctx, "relay mirrors restored", "count", mirrored)
	}
	return mirrored, nil
}

// ApplyExpiry is the read-side expiry check. The returned session reflects
// the expiry even when persisting it fails; the next reader retries. When
// another writer moved the row out of pending first, the stored row wins.
func (s *SessionService) ApplyExpiry(ctx context.Context, session domain.Session) domain.Session {
	expired, changed := domain.ExpireIfStale(session, s.now())
	if !changed {
		return session
	}
	if s.sessions != nil {
		updated, err := s.sessions.MarkExpired(ctx, session.ID)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "persisting session expiry failed", "session_id", session.ID, "error", err)
		case !updated:
			if stored, err := s.sessions.FindByID(ctx, session.ID); err == nil && stored.Status != domain.SessionStatusPending {
				return *stored
			}
		}
	}
	if s.relay != nil && s.cfg.RemoteRespondents {
		if _, err := s.relay.TransitionSnapshot(ctx, session.Token, domain.SessionStatusExpired, s.now()); err != nil && !errors.Is(err, relay.ErrSnapshotNotFound) {
			s.logger.WarnContext(ctx, "persisting snapshot expiry failed", "session_id", session.ID, "error", err)
		}
	}
	return expired
}

// MarkCompleted is the only pending to completed write path outside the
// response transaction. Losing a race yields ErrAlreadyTerminal.
func (s *SessionService) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	changed, err := s.sessions.MarkCompleted(ctx, sessionID, at)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: mark completed: %v", ErrStorageWriteFailed, err)
	}
	if !changed {
		return ErrAlreadyTerminal
	}
	s.notifier.Notify(ChangeSessions, sessionID)
	return nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	current := s.ApplyExpiry(ctx, *session)
	return &current, nil
}

// DeleteSession is the explicit clinic-side cleanup. The relay snapshot is
// dropped too so the link stops resolving remotely.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if _, err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrStorageWriteFailed, err)
	}
	if s.relay != nil {
		if err := s.relay.DeleteSessionSnapshot(ctx, session.Token); err != nil {
			s.logger.WarnContext(ctx, "relay snapshot delete failed", "session_id", sessionID, "error", err)
		}
	}
	s.notifier.Notify(ChangeSessions, sessionID)
	return nil
}

// CleanupExpired removes never-completed sessions whose deadline passed
// before the retention cutoff.
func (s *SessionService) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	n, err := s.sessions.CleanupExpired(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("%w: cleanup expired sessions: %v", ErrStorageWriteFailed, err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions removed", "count", n, "cutoff", cutoff)
		s.notifier.Notify(ChangeSessions, "")
	}
	return n, nil
}
