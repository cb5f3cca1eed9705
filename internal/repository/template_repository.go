package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
)

var ErrTemplateNotFound = errors.New("template not found")

type TemplateRepository interface {
	Save(ctx context.Context, t *domain.Template) error
	FindByID(ctx context.Context, id string) (*domain.Template, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Template, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type GormTemplateRepository struct{ db *gorm.DB }

func NewTemplateRepository(db *gorm.DB) TemplateRepository { return &GormTemplateRepository{db: db} }

func (r *GormTemplateRepository) Save(ctx context.Context, t *domain.Template) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "questions", "active", "updated_at"}),
	}).Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "template", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "template", "save", "success")
	return nil
}

func (r *GormTemplateRepository) FindByID(ctx context.Context, id string) (*domain.Template, error) {
	var t domain.Template
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "template", "find_by_id", "not_found")
			return nil, ErrTemplateNotFound
		}
		observability.RecordRepositoryOperation(ctx, "template", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "template", "find_by_id", "success")
	return &t, nil
}

func (r *GormTemplateRepository) List(ctx context.Context, activeOnly bool) ([]domain.Template, error) {
	var templates []domain.Template
	q := r.db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&templates).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "template", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "template", "list", "success")
	return templates, nil
}

func (r *GormTemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	res := r.db.WithContext(ctx).Model(&domain.Template{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "template", "set_active", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "template", "set_active", "not_found")
		return ErrTemplateNotFound
	}
	observability.RecordRepositoryOperation(ctx, "template", "set_active", "success")
	return nil
}
