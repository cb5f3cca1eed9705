package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
)

type TemplateInput struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	Questions   []domain.Question `json:"questions"`
	Active      *bool             `json:"active,omitempty"`
}

type TemplateView struct {
	domain.TemplateSnapshot
	Active bool `json:"active"`
}

type TemplateService struct {
	templates repository.TemplateRepository
	notifier  *ChangeNotifier
}

func NewTemplateService(templates repository.TemplateRepository, notifier *ChangeNotifier) *TemplateService {
	return &TemplateService{templates: templates, notifier: notifier}
}

// Save creates a template, or replaces it when in.ID names an existing one.
func (s *TemplateService) Save(ctx context.Context, in TemplateInput) (*TemplateView, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if err := domain.ValidateQuestions(in.Questions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	tpl := &domain.Template{ID: id, Name: name, Description: in.Description, Active: active}
	if err := tpl.SetQuestions(in.Questions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if err := s.templates.Save(ctx, tpl); err != nil {
		return nil, fmt.Errorf("%w: save template: %v", ErrStorageWriteFailed, err)
	}
	s.notifier.Notify(ChangeTemplates, tpl.ID)
	return templateView(*tpl)
}

func (s *TemplateService) Get(ctx context.Context, id string) (*TemplateView, error) {
	tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return templateView(*tpl)
}

func (s *TemplateService) List(ctx context.Context, activeOnly bool) ([]TemplateView, error) {
	templates, err := s.templates.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]TemplateView, 0, len(templates))
	for _, tpl := range templates {
		v, err := templateView(tpl)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *TemplateService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.templates.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return ErrTemplateNotFound
		}
		return err
	}
	s.notifier.Notify(ChangeTemplates, id)
	return nil
}

// RequireActive loads a template that new sessions or kiosk submissions may
// use.
func (s *TemplateService) RequireActive(ctx context.Context, id string) (*domain.Template, error) {
	tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, ErrTemplateInactive
	}
	return tpl, nil
}

func (s *TemplateService) load(ctx context.Context, id string) (*domain.Template, error) {
	tpl, err := s.templates.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return tpl, nil
}

func templateView(tpl domain.Template) (*TemplateView, error) {
	snap, err := tpl.Snapshot()
	if err != nil {
		return nil, err
	}
	return &TemplateView{TemplateSnapshot: snap, Active: tpl.Active}, nil
}
