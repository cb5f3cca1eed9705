package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
)

type ResponseService struct {
	responses repository.ResponseRepository
	notifier  *ChangeNotifier
}

func NewResponseService(responses repository.ResponseRepository, notifier *ChangeNotifier) *ResponseService {
	return &ResponseService{responses: responses, notifier: notifier}
}

func (s *ResponseService) List(ctx context.Context, req repository.PageRequest) (repository.PageResult[domain.ResponseView], error) {
	page, err := s.responses.List(ctx, req)
	if err != nil {
		return repository.PageResult[domain.ResponseView]{}, err
	}
	return repository.MapPage(page, func(resp domain.Response) (domain.ResponseView, error) {
		v, err := resp.View()
		if err != nil {
			return domain.ResponseView{}, fmt.Errorf("response %s: %w", resp.ID, err)
		}
		return v, nil
	})
}

func (s *ResponseService) Get(ctx context.Context, id string) (*domain.ResponseView, error) {
	resp, err := s.responses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrResponseNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	v, err := resp.View()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LinkPatient attaches a clinic patient to a response that was recorded with
// only a free-text respondent. It reports whether anything changed.
func (s *ResponseService) LinkPatient(ctx context.Context, responseID, patientID string) (bool, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return false, ErrInvalidPatientID
	}
	changed, err := s.responses.LinkPatient(ctx, responseID, patientID)
	switch {
	case errors.Is(err, repository.ErrResponseNotFound):
		return false, ErrResponseNotFound
	case errors.Is(err, repository.ErrResponseAlreadyLinked):
		return false, ErrResponseAlreadyLinked
	case err != nil:
		return false, fmt.Errorf("%w: link patient: %v", ErrStorageWriteFailed, err)
	}
	if changed {
		s.notifier.Notify(ChangeResponses, responseID)
	}
	return changed, nil
}
