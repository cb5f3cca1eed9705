package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
)

type ResolutionStatus string

const (
	ResolutionValid            ResolutionStatus = "valid"
	ResolutionNotFound         ResolutionStatus = "not_found"
	ResolutionExpired          ResolutionStatus = "expired"
	ResolutionAlreadyCompleted ResolutionStatus = "already_completed"
)

const (
	sourceLocal = "local"
	sourceRelay = "relay"
	sourceCache = "cache"
)

type Resolution struct {
	Status   ResolutionStatus         `json:"status"`
	Session  *domain.Session          `json:"session,omitempty"`
	Template *domain.TemplateSnapshot `json:"template,omitempty"`
	// OwnerID is only known for relay resolutions.
	OwnerID string `json:"-"`
	Source  string `json:"-"`
}

// ResolutionService answers "what does this token point at" for the public
// page. The local store is used whenever this process has one; otherwise the
// relay snapshot stands in for it.
type ResolutionService struct {
	sessions  repository.SessionRepository
	templates repository.TemplateRepository
	relay     relay.Store
	lifecycle *SessionService
	unknown   *UnknownTokenCache
	logger    *slog.Logger
}

func NewResolutionService(
	sessions repository.SessionRepository,
	templates repository.TemplateRepository,
	relayStore relay.Store,
	lifecycle *SessionService,
	unknown *UnknownTokenCache,
	logger *slog.Logger,
) *ResolutionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolutionService{
		sessions:  sessions,
		templates: templates,
		relay:     relayStore,
		lifecycle: lifecycle,
		unknown:   unknown,
		logger:    logger,
	}
}

func (s *ResolutionService) Resolve(ctx context.Context, rawToken string) (Resolution, error) {
	token := security.NormalizeSurveyToken(rawToken)
	if !security.IsWellFormedSurveyToken(token) {
		observability.RecordResolution(ctx, sourceCache, string(ResolutionNotFound))
		return Resolution{Status: ResolutionNotFound, Source: sourceCache}, nil
	}
	if s.unknown.KnownMissing(ctx, token) {
		observability.RecordResolution(ctx, sourceCache, string(ResolutionNotFound))
		return Resolution{Status: ResolutionNotFound, Source: sourceCache}, nil
	}

	var (
		res Resolution
		err error
	)
	if s.sessions != nil {
		res, err = s.resolveLocal(ctx, token)
	} else {
		res, err = s.resolveRelay(ctx, token)
	}
	if err != nil {
		observability.RecordResolution(ctx, res.Source, "error")
		return Resolution{}, err
	}
	if res.Status == ResolutionNotFound {
		s.unknown.RememberMissing(ctx, token)
	}
	observability.RecordResolution(ctx, res.Source, string(res.Status))
	return res, nil
}

func (s *ResolutionService) resolveLocal(ctx context.Context, token string) (Resolution, error) {
	session, err := s.sessions.FindByToken(ctx, token)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return Resolution{Status: ResolutionNotFound, Source: sourceLocal}, nil
	}
	if err != nil {
		return Resolution{Source: sourceLocal}, err
	}
	current := s.lifecycle.ApplyExpiry(ctx, *session)
	res := Resolution{Status: statusOf(current), Session: &current, Source: sourceLocal}
	if res.Status != ResolutionValid {
		return res, nil
	}
	tpl, err := s.templates.FindByID(ctx, current.TemplateID)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		s.logger.WarnContext(ctx, "session references a missing template", "session_id", current.ID, "template_id", current.TemplateID)
		return Resolution{Status: ResolutionNotFound, Source: sourceLocal}, nil
	}
	if err != nil {
		return Resolution{Source: sourceLocal}, err
	}
	snap, err := tpl.Snapshot()
	if err != nil {
		return Resolution{Source: sourceLocal}, err
	}
	res.Template = &snap
	return res, nil
}

func (s *ResolutionService) resolveRelay(ctx context.Context, token string) (Resolution, error) {
	if s.relay == nil {
		return Resolution{Source: sourceRelay}, ErrRelayUnreachable
	}
	snap, err := s.relay.GetSessionSnapshot(ctx, token)
	if errors.Is(err, relay.ErrSnapshotNotFound) {
		return Resolution{Status: ResolutionNotFound, Source: sourceRelay}, nil
	}
	if err != nil {
		return Resolution{Source: sourceRelay}, fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	current := s.lifecycle.ApplyExpiry(ctx, snap.Session(token))
	res := Resolution{Status: statusOf(current), Session: &current, OwnerID: snap.OwnerID, Source: sourceRelay}
	if res.Status == ResolutionValid {
		tpl := snap.Template
		res.Template = &tpl
	}
	return res, nil
}

func statusOf(session domain.Session) ResolutionStatus {
	switch session.Status {
	case domain.SessionStatusCompleted:
		return ResolutionAlreadyCompleted
	case domain.SessionStatusExpired:
		return ResolutionExpired
	default:
		return ResolutionValid
	}
}
