package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
)

const (
	PathDirect = "direct"
	PathRelay  = "relay"
	PathKiosk  = "kiosk"
)

type SubmitResult struct {
	ResponseID      string `json:"response_id,omitempty"`
	AlreadyRecorded bool   `json:"already_recorded"`
	Path            string `json:"path"`
}

type KioskSubmission struct {
	// ResponseID lets the device retry safely; a new id is drawn when empty.
	ResponseID string
	TemplateID string
	Respondent domain.RespondentRef
	Answers    []domain.Answer
}

// SubmissionService records answers. With a local store it writes there
// directly; without one it stages a relay record for the owning clinic.
type SubmissionService struct {
	responses  repository.ResponseRepository
	templates  *TemplateService
	resolution *ResolutionService
	relay      relay.Store
	notifier   *ChangeNotifier
	logger     *slog.Logger
	now        func() time.Time
}

func NewSubmissionService(
	responses repository.ResponseRepository,
	templates *TemplateService,
	resolution *ResolutionService,
	relayStore relay.Store,
	notifier *ChangeNotifier,
	logger *slog.Logger,
) *SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionService{
		responses:  responses,
		templates:  templates,
		resolution: resolution,
		relay:      relayStore,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit records answers for the session behind token. A session that was
// already completed reports AlreadyRecorded instead of an error.
func (s *SubmissionService) Submit(ctx context.Context, token string, answers []domain.Answer) (SubmitResult, error) {
	res, err := s.resolution.Resolve(ctx, token)
	if err != nil {
		return SubmitResult{}, err
	}
	path := PathDirect
	if res.Source == sourceRelay {
		path = PathRelay
	}
	switch res.Status {
	case ResolutionNotFound:
		observability.RecordSubmission(ctx, path, "not_found")
		return SubmitResult{}, ErrSessionNotFound
	case ResolutionExpired:
		observability.RecordSubmission(ctx, path, "expired")
		return SubmitResult{}, ErrSessionExpired
	case ResolutionAlreadyCompleted:
		observability.RecordSubmission(ctx, path, "already_recorded")
		return SubmitResult{AlreadyRecorded: true, Path: path}, nil
	}
	if err := domain.ValidateAnswersFor(res.Template.Questions, answers); err != nil {
		observability.RecordSubmission(ctx, path, "invalid")
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}

	var out SubmitResult
	if path == PathRelay {
		out, err = s.submitViaRelay(ctx, token, res, answers)
	} else {
		out, err = s.submitDirect(ctx, res, answers)
	}
	switch {
	case err != nil:
		observability.RecordSubmission(ctx, path, "error")
	case out.AlreadyRecorded:
		observability.RecordSubmission(ctx, path, "already_recorded")
	default:
		observability.RecordSubmission(ctx, path, "accepted")
	}
	return out, err
}

func (s *SubmissionService) submitDirect(ctx context.Context, res Resolution, answers []domain.Answer) (SubmitResult, error) {
	session := res.Session
	encoded, err := domain.EncodeAnswers(answers)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}
	resp := &domain.Response{
		ID:             uuid.NewString(),
		SessionID:      &session.ID,
		PatientID:      session.PatientID,
		TemplateID:     session.TemplateID,
		RespondentName: session.RespondentName,
		AnswersJSON:    encoded,
		SubmittedAt:    s.now().UTC(),
	}
	if _, err := s.responses.CreateWithCompletion(ctx, resp, repository.RequirePending); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateResponse):
			return SubmitResult{AlreadyRecorded: true, Path: PathDirect}, nil
		case errors.Is(err, repository.ErrSessionNotPending):
			return s.afterLostRace(ctx, session.Token)
		default:
			return SubmitResult{}, fmt.Errorf("%w: store response: %v", ErrStorageWriteFailed, err)
		}
	}
	if s.relay != nil {
		if _, err := s.relay.TransitionSnapshot(ctx, session.Token, domain.SessionStatusCompleted, resp.SubmittedAt); err != nil && !errors.Is(err, relay.ErrSnapshotNotFound) {
			s.logger.WarnContext(ctx, "relay snapshot completion failed", "session_id", session.ID, "error", err)
		}
	}
	s.notifier.Notify(ChangeResponses, resp.ID)
	s.notifier.Notify(ChangeSessions, session.ID)
	return SubmitResult{ResponseID: resp.ID, Path: PathDirect}, nil
}

// afterLostRace re-reads a session whose pending guard failed to tell a
// concurrent completion apart from a concurrent expiry.
func (s *SubmissionService) afterLostRace(ctx context.Context, token string) (SubmitResult, error) {
	res, err := s.resolution.Resolve(ctx, token)
	if err != nil {
		return SubmitResult{}, err
	}
	if res.Status == ResolutionExpired {
		return SubmitResult{}, ErrSessionExpired
	}
	return SubmitResult{AlreadyRecorded: true, Path: PathDirect}, nil
}

// submitViaRelay claims the relay snapshot before staging the record so a
// second remote submit sees the session as completed. If staging fails the
// claim is released.
func (s *SubmissionService) submitViaRelay(ctx context.Context, token string, res Resolution, answers []domain.Answer) (SubmitResult, error) {
	session := res.Session
	submittedAt := s.now().UTC()
	claimed, err := s.relay.TransitionSnapshot(ctx, token, domain.SessionStatusCompleted, submittedAt)
	if err != nil {
		if errors.Is(err, relay.ErrSnapshotNotFound) {
			return SubmitResult{}, ErrSessionNotFound
		}
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	if !claimed {
		again, err := s.resolution.Resolve(ctx, token)
		if err == nil && again.Status == ResolutionExpired {
			return SubmitResult{}, ErrSessionExpired
		}
		return SubmitResult{AlreadyRecorded: true, Path: PathRelay}, nil
	}

	rec := domain.RelayRecord{
		ID:             uuid.NewString(),
		OwnerID:        res.OwnerID,
		SessionID:      &session.ID,
		TemplateID:     session.TemplateID,
		PatientID:      session.PatientID,
		RespondentName: session.RespondentName,
		Answers:        answers,
		SubmittedAt:    submittedAt,
		CreatedAt:      submittedAt,
	}
	if err := s.relay.Insert(ctx, rec); err != nil {
		if reopenErr := s.relay.ReopenSnapshot(context.WithoutCancel(ctx), token); reopenErr != nil {
			s.logger.ErrorContext(ctx, "relay snapshot left completed after failed insert",
				"session_id", session.ID, "error", reopenErr)
		}
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	return SubmitResult{ResponseID: rec.ID, Path: PathRelay}, nil
}

// SubmitKiosk records a walk-in response that has no session. Retrying with
// the same ResponseID is a no-op.
func (s *SubmissionService) SubmitKiosk(ctx context.Context, in KioskSubmission) (SubmitResult, error) {
	if s.responses == nil {
		return SubmitResult{}, ErrLocalStoreUnavailable
	}
	tpl, err := s.templates.RequireActive(ctx, in.TemplateID)
	if err != nil {
		return SubmitResult{}, err
	}
	questions, err := tpl.Questions()
	if err != nil {
		return SubmitResult{}, err
	}
	if err := domain.ValidateAnswersFor(questions, in.Answers); err != nil {
		observability.RecordSubmission(ctx, PathKiosk, "invalid")
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}
	encoded, err := domain.EncodeAnswers(in.Answers)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}
	id := strings.TrimSpace(in.ResponseID)
	if id == "" {
		id = uuid.NewString()
	}
	respondent := in.Respondent.Normalize()
	resp := &domain.Response{
		ID:             id,
		PatientID:      respondent.PatientID,
		TemplateID:     tpl.ID,
		RespondentName: respondent.Name,
		AnswersJSON:    encoded,
		SubmittedAt:    s.now().UTC(),
	}
	if _, err := s.responses.CreateWithCompletion(ctx, resp, repository.RequirePending); err != nil {
		if errors.Is(err, repository.ErrDuplicateResponse) {
			observability.RecordSubmission(ctx, PathKiosk, "already_recorded")
			return SubmitResult{ResponseID: id, AlreadyRecorded: true, Path: PathKiosk}, nil
		}
		observability.RecordSubmission(ctx, PathKiosk, "error")
		return SubmitResult{}, fmt.Errorf("%w: store kiosk response: %v", ErrStorageWriteFailed, err)
	}
	observability.RecordSubmission(ctx, PathKiosk, "accepted")
	s.notifier.Notify(ChangeResponses, id)
	return SubmitResult{ResponseID: id, Path: PathKiosk}, nil
}
