package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	FindByToken(ctx context.Context, token string) (*domain.Session, error)
	TokenInUse(ctx context.Context, token string) (bool, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
	ListUnmirrored(ctx context.Context, now time.Time, limit int) ([]domain.Session, error)
	MarkMirrored(ctx context.Context, id string) error
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormSessionRepository) FindByToken(ctx context.Context, token string) (*domain.Session, error) {
	return r.findOne(ctx, "find_by_token", "token = ?", token)
}

func (r *GormSessionRepository) findOne(ctx context.Context, op, query string, arg any) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where(query, arg).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", op, "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", op, "success")
	return &s, nil
}

func (r *GormSessionRepository) TokenInUse(ctx context.Context, token string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).Where("token = ?", token).Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "token_in_use", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "token_in_use", "success")
	return count > 0, nil
}

// MarkCompleted moves a pending session to completed. It reports false when
// the row exists but is no longer pending, and ErrSessionNotFound when it does
// not exist.
func (r *GormSessionRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	at = at.UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusPending).
		Updates(map[string]any{"status": domain.SessionStatusCompleted, "completed_at": at})
	return r.guardedResult(ctx, "mark_completed", id, res)
}

func (r *GormSessionRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusPending).
		Update("status", domain.SessionStatusExpired)
	return r.guardedResult(ctx, "mark_expired", id, res)
}

func (r *GormSessionRepository) guardedResult(ctx context.Context, op, id string, res *gorm.DB) (bool, error) {
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", op, "error")
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		observability.RecordRepositoryOperation(ctx, "session", op, "success")
		return true, nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		observability.RecordRepositoryOperation(ctx, "session", op, "not_found")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "session", op, "unchanged")
	return false, nil
}

func (r *GormSessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "delete", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "delete", "success")
	return res.RowsAffected > 0, nil
}

// CleanupExpired removes sessions that never completed and whose deadline
// passed before the cutoff. Completed sessions are kept alongside their
// responses.
func (r *GormSessionRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status <> ? AND expires_at <= ?", domain.SessionStatusCompleted, before.UTC()).
		Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}

// ListUnmirrored returns pending, unexpired sessions that have no relay
// snapshot yet, soonest deadline first.
func (r *GormSessionRepository) ListUnmirrored(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = MaxPageSize
	}
	var out []domain.Session
	err := r.db.WithContext(ctx).
		Where("relay_mirrored = ? AND status = ? AND expires_at > ?", false, domain.SessionStatusPending, now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_unmirrored", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_unmirrored", "success")
	return out, nil
}

func (r *GormSessionRepository) MarkMirrored(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", id).
		Update("relay_mirrored", true).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "mark_mirrored", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "mark_mirrored", "success")
	return nil
}
