package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/response"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

type ClinicHandler struct {
	templates   *service.TemplateService
	sessions    *service.SessionService
	responses   *service.ResponseService
	submissions *service.SubmissionService
	retention   time.Duration
}

func NewClinicHandler(
	templates *service.TemplateService,
	sessions *service.SessionService,
	responses *service.ResponseService,
	submissions *service.SubmissionService,
	cleanupRetention time.Duration,
) *ClinicHandler {
	return &ClinicHandler{
		templates:   templates,
		sessions:    sessions,
		responses:   responses,
		submissions: submissions,
		retention:   cleanupRetention,
	}
}

func (h *ClinicHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var in service.TemplateInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		in.ID = id
	}
	view, err := h.templates.Save(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "template.saved", "template_id", view.ID, "active", view.Active)
	response.JSON(w, r, http.StatusCreated, view)
}

func (h *ClinicHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	views, err := h.templates.List(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *ClinicHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	view, err := h.templates.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

func (h *ClinicHandler) ActivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setTemplateActive(w, r, true)
}

func (h *ClinicHandler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setTemplateActive(w, r, false)
}

func (h *ClinicHandler) setTemplateActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	if err := h.templates.SetActive(r.Context(), id, active); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "template.activation_changed", "template_id", id, "active", active)
	response.JSON(w, r, http.StatusOK, map[string]any{"id": id, "active": active})
}

type createSessionRequest struct {
	TemplateID     string   `json:"template_id"`
	PatientID      *string  `json:"patient_id,omitempty"`
	RespondentName *string  `json:"respondent_name,omitempty"`
	TTLHours       *float64 `json:"ttl_hours,omitempty"`
	CreatedBy      *string  `json:"created_by,omitempty"`
}

type createSessionResponse struct {
	SessionID     string    `json:"session_id"`
	Token         string    `json:"token"`
	Link          string    `json:"link"`
	ExpiresAt     time.Time `json:"expires_at"`
	RelayMirrored bool      `json:"relay_mirrored"`
}

func (h *ClinicHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "template_id is required", nil)
		return
	}
	in := service.CreateSessionInput{
		TemplateID: req.TemplateID,
		Respondent: domain.RespondentRef{PatientID: req.PatientID, Name: req.RespondentName},
		CreatedBy:  req.CreatedBy,
	}
	if req.TTLHours != nil {
		hours := *req.TTLHours
		if math.IsNaN(hours) || math.IsInf(hours, 0) || hours < 0 || hours > 24*365 {
			response.Error(w, r, http.StatusBadRequest, "INVALID_TTL", "ttl_hours must be between 0 and 8760", nil)
			return
		}
		ttl := time.Duration(hours * float64(time.Hour))
		in.TTL = &ttl
	}
	created, err := h.sessions.CreateSession(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "session.created",
		"session_id", created.Session.ID,
		"template_id", created.Session.TemplateID,
		"relay_mirrored", created.RelayMirrored,
	)
	response.JSON(w, r, http.StatusCreated, createSessionResponse{
		SessionID:     created.Session.ID,
		Token:         created.Session.Token,
		Link:          created.Link,
		ExpiresAt:     created.Session.ExpiresAt,
		RelayMirrored: created.RelayMirrored,
	})
}

func (h *ClinicHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, session)
}

func (h *ClinicHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.DeleteSession(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "session.deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ClinicHandler) CleanupExpiredSessions(w http.ResponseWriter, r *http.Request) {
	retention := h.retention
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			response.Error(w, r, http.StatusBadRequest, "INVALID_QUERY", "older_than must be a non-negative duration", nil)
			return
		}
		retention = d
	}
	removed, err := h.sessions.CleanupExpired(r.Context(), retention)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "session.cleanup", "removed", removed, "retention", retention.String())
	response.JSON(w, r, http.StatusOK, map[string]any{"removed": removed})
}

func (h *ClinicHandler) ListResponses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := repository.PageRequest{}
	var err error
	if raw := q.Get("page"); raw != "" {
		if req.Page, err = strconv.Atoi(raw); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_QUERY", "page must be an integer", nil)
			return
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if req.PageSize, err = strconv.Atoi(raw); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_QUERY", "page_size must be an integer", nil)
			return
		}
	}
	page, err := h.responses.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *ClinicHandler) GetResponse(w http.ResponseWriter, r *http.Request) {
	view, err := h.responses.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}

type linkPatientRequest struct {
	PatientID string `json:"patient_id"`
}

func (h *ClinicHandler) LinkPatient(w http.ResponseWriter, r *http.Request) {
	var req linkPatientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	changed, err := h.responses.LinkPatient(r.Context(), id, req.PatientID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if changed {
		observability.Audit(r, "response.patient_linked", "response_id", id)
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"id": id, "changed": changed})
}

type kioskRequest struct {
	ResponseID     string          `json:"response_id,omitempty"`
	TemplateID     string          `json:"template_id"`
	PatientID      *string         `json:"patient_id,omitempty"`
	RespondentName *string         `json:"respondent_name,omitempty"`
	Answers        []domain.Answer `json:"answers"`
}

// SubmitKiosk records an in-clinic response without a session.
func (h *ClinicHandler) SubmitKiosk(w http.ResponseWriter, r *http.Request) {
	var req kioskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := domain.ValidateAnswers(req.Answers); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_ANSWERS", err.Error(), nil)
		return
	}
	out, err := h.submissions.SubmitKiosk(r.Context(), service.KioskSubmission{
		ResponseID: req.ResponseID,
		TemplateID: req.TemplateID,
		Respondent: domain.RespondentRef{PatientID: req.PatientID, Name: req.RespondentName},
		Answers:    req.Answers,
	})
	if err != nil {
		if errors.Is(err, service.ErrTemplateNotFound) || errors.Is(err, service.ErrTemplateInactive) {
			observability.Audit(r, "kiosk.rejected", "template_id", req.TemplateID)
		}
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.AlreadyRecorded {
		status = http.StatusOK
	} else {
		observability.Audit(r, "survey.submitted", "response_id", out.ResponseID, "path", out.Path)
	}
	response.JSON(w, r, status, out)
}
