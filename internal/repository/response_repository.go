package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
)

var (
	ErrResponseNotFound      = errors.New("response not found")
	ErrDuplicateResponse     = errors.New("response already recorded")
	ErrSessionNotPending     = errors.New("session is not pending")
	ErrResponseAlreadyLinked = errors.New("response already linked to another patient")
)

// CompletionPolicy decides what happens to the session row when a response
// is stored in the same transaction.
type CompletionPolicy int

const (
	// CompleteIfPending completes a pending session and otherwise keeps the
	// response without touching the session. Used by relay ingestion, where
	// the respondent already finished and the answers must not be lost.
	CompleteIfPending CompletionPolicy = iota
	// RequirePending aborts the whole write unless the session is pending.
	// Used by direct submissions so a second submit cannot land.
	RequirePending
)

type StoreOutcome struct {
	SessionCompleted bool
}

type ResponseRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Response, error)
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Response, error)
	List(ctx context.Context, req PageRequest) (PageResult[domain.Response], error)
	CreateWithCompletion(ctx context.Context, resp *domain.Response, policy CompletionPolicy) (StoreOutcome, error)
	LinkPatient(ctx context.Context, responseID, patientID string) (bool, error)
}

type GormResponseRepository struct{ db *gorm.DB }

func NewResponseRepository(db *gorm.DB) ResponseRepository { return &GormResponseRepository{db: db} }

func (r *GormResponseRepository) FindByID(ctx context.Context, id string) (*domain.Response, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormResponseRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Response, error) {
	return r.findOne(ctx, "find_by_session_id", "session_id = ?", sessionID)
}

func (r *GormResponseRepository) findOne(ctx context.Context, op, query string, arg any) (*domain.Response, error) {
	var resp domain.Response
	err := r.db.WithContext(ctx).Where(query, arg).First(&resp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "response", op, "not_found")
			return nil, ErrResponseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "response", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "response", op, "success")
	return &resp, nil
}

func (r *GormResponseRepository) List(ctx context.Context, req PageRequest) (PageResult[domain.Response], error) {
	req = normalizePageRequest(req)
	result := PageResult[domain.Response]{Page: req.Page, PageSize: req.PageSize}
	q := r.db.WithContext(ctx).Model(&domain.Response{})
	if err := q.Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "response", "list", "error")
		return result, err
	}
	var items []domain.Response
	err := q.Order("submitted_at DESC").Order("id").
		Offset(req.offset()).Limit(req.PageSize).
		Find(&items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "response", "list", "error")
		return result, err
	}
	result.Items = items
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "response", "list", "success")
	return result, nil
}

// CreateWithCompletion inserts the response and, when it carries a session id,
// completes that session inside the same transaction so a completed session
// is never visible without its response.
func (r *GormResponseRepository) CreateWithCompletion(ctx context.Context, resp *domain.Response, policy CompletionPolicy) (StoreOutcome, error) {
	var out StoreOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(resp).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateResponse
			}
			return err
		}
		if resp.SessionID == nil {
			return nil
		}
		res := tx.Model(&domain.Session{}).
			Where("id = ? AND status = ?", *resp.SessionID, domain.SessionStatusPending).
			Updates(map[string]any{"status": domain.SessionStatusCompleted, "completed_at": resp.SubmittedAt.UTC()})
		if res.Error != nil {
			return res.Error
		}
		out.SessionCompleted = res.RowsAffected > 0
		if !out.SessionCompleted && policy == RequirePending {
			return ErrSessionNotPending
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateResponse):
			observability.RecordRepositoryOperation(ctx, "response", "create_with_completion", "duplicate")
		case errors.Is(err, ErrSessionNotPending):
			observability.RecordRepositoryOperation(ctx, "response", "create_with_completion", "session_not_pending")
		default:
			observability.RecordRepositoryOperation(ctx, "response", "create_with_completion", "error")
		}
		return StoreOutcome{}, err
	}
	observability.RecordRepositoryOperation(ctx, "response", "create_with_completion", "success")
	return out, nil
}

// LinkPatient attaches a clinic patient to a response recorded without one.
// Re-linking to the same patient is a no-op.
func (r *GormResponseRepository) LinkPatient(ctx context.Context, responseID, patientID string) (bool, error) {
	resp, err := r.FindByID(ctx, responseID)
	if err != nil {
		return false, err
	}
	if resp.PatientID != nil {
		if *resp.PatientID == patientID {
			observability.RecordRepositoryOperation(ctx, "response", "link_patient", "unchanged")
			return false, nil
		}
		observability.RecordRepositoryOperation(ctx, "response", "link_patient", "conflict")
		return false, ErrResponseAlreadyLinked
	}
	res := r.db.WithContext(ctx).Model(&domain.Response{}).
		Where("id = ? AND patient_id IS NULL", responseID).
		Update("patient_id", patientID)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "response", "link_patient", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "response", "link_patient", "conflict")
		return false, ErrResponseAlreadyLinked
	}
	observability.RecordRepositoryOperation(ctx, "response", "link_patient", "success")
	return true, nil
}
