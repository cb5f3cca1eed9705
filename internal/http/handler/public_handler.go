package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/response"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

// PublicHandler serves the respondent page. The token is the only
// credential, so responses never carry clinic identifiers such as patient
// ids.
type PublicHandler struct {
	resolution  *service.ResolutionService
	submissions *service.SubmissionService
}

func NewPublicHandler(resolution *service.ResolutionService, submissions *service.SubmissionService) *PublicHandler {
	return &PublicHandler{resolution: resolution, submissions: submissions}
}

type publicSession struct {
	ID             string               `json:"id"`
	Status         domain.SessionStatus `json:"status"`
	RespondentName *string              `json:"respondent_name,omitempty"`
	ExpiresAt      time.Time            `json:"expires_at"`
}

type publicSurvey struct {
	Status   service.ResolutionStatus `json:"status"`
	Session  publicSession            `json:"session"`
	Template *domain.TemplateSnapshot `json:"template"`
}

func (h *PublicHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolution.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	switch res.Status {
	case service.ResolutionNotFound:
		writeTerminal(w, r, http.StatusNotFound, "NOT_FOUND", "survey not found", res.Status)
	case service.ResolutionExpired:
		writeTerminal(w, r, http.StatusGone, "EXPIRED", "this survey link has expired", res.Status)
	case service.ResolutionAlreadyCompleted:
		writeTerminal(w, r, http.StatusConflict, "ALREADY_COMPLETED", "this survey was already completed", res.Status)
	default:
		response.JSON(w, r, http.StatusOK, publicSurvey{
			Status: res.Status,
			Session: publicSession{
				ID:             res.Session.ID,
				Status:         res.Session.Status,
				RespondentName: res.Session.RespondentName,
				ExpiresAt:      res.Session.ExpiresAt,
			},
			Template: res.Template,
		})
	}
}

func writeTerminal(w http.ResponseWriter, r *http.Request, status int, code, message string, state service.ResolutionStatus) {
	response.Error(w, r, status, code, message, map[string]any{"status": state})
}

type submitRequest struct {
	Answers []domain.Answer `json:"answers"`
}

func (h *PublicHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := domain.ValidateAnswers(req.Answers); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_ANSWERS", err.Error(), nil)
		return
	}
	out, err := h.submissions.Submit(r.Context(), chi.URLParam(r, "token"), req.Answers)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if out.AlreadyRecorded {
		response.JSON(w, r, http.StatusOK, out)
		return
	}
	observability.Audit(r, "survey.submitted", "response_id", out.ResponseID, "path", out.Path)
	response.JSON(w, r, http.StatusCreated, out)
}
