package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/clinic-survey-relay/internal/http/response"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var serviceErrors = []errorMapping{
	{service.ErrTemplateNotFound, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "template not found"},
	{service.ErrTemplateInactive, http.StatusUnprocessableEntity, "TEMPLATE_INACTIVE", "template is inactive"},
	{service.ErrInvalidTemplate, http.StatusBadRequest, "INVALID_TEMPLATE", ""},
	{service.ErrInvalidSessionTTL, http.StatusBadRequest, "INVALID_TTL", "ttl must not be negative"},
	{service.ErrSessionNotFound, http.StatusNotFound, "NOT_FOUND", "survey not found"},
	{service.ErrSessionExpired, http.StatusGone, "EXPIRED", "this survey link has expired"},
	{service.ErrAlreadyTerminal, http.StatusConflict, "ALREADY_COMPLETED", "this survey was already completed"},
	{service.ErrInvalidAnswers, http.StatusBadRequest, "INVALID_ANSWERS", ""},
	{service.ErrResponseNotFound, http.StatusNotFound, "RESPONSE_NOT_FOUND", "response not found"},
	{service.ErrResponseAlreadyLinked, http.StatusConflict, "ALREADY_LINKED", "response is linked to another patient"},
	{service.ErrInvalidPatientID, http.StatusBadRequest, "INVALID_PATIENT_ID", "patient_id is required"},
	{service.ErrRelayUnreachable, http.StatusServiceUnavailable, "RELAY_UNREACHABLE", "relay is temporarily unreachable, try again shortly"},
	{service.ErrLocalStoreUnavailable, http.StatusServiceUnavailable, "LOCAL_STORE_UNAVAILABLE", "this deployment has no local store"},
	{service.ErrStorageWriteFailed, http.StatusInternalServerError, "STORAGE_WRITE_FAILED", "could not save, try again"},
}

// writeServiceError maps service sentinels onto the response envelope.
// Messages of validation errors are passed through; everything else uses a
// fixed message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range serviceErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		if m.status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "request failed", "code", m.code, "error", err)
		}
		response.Error(w, r, m.status, m.code, msg, nil)
		return
	}
	slog.ErrorContext(r.Context(), "unexpected request error", "error", err)
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", bodyErrorMessage(err), nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "body must contain a single JSON object", nil)
		return false
	}
	return true
}

func bodyErrorMessage(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)
	}
	if errors.Is(err, io.EOF) {
		return "body is required"
	}
	return err.Error()
}
