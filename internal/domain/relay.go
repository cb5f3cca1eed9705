package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedRelayRecord = errors.New("malformed relay record")

// RelayRecord is a transient staging copy of a Response plus routing metadata.
// It lives in the relay store only until the owning clinic ingests it.
type RelayRecord struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	SessionID      *string   `json:"session_id,omitempty"`
	TemplateID     string    `json:"template_id"`
	PatientID      *string   `json:"patient_id,omitempty"`
	RespondentName *string   `json:"respondent_name,omitempty"`
	Answers        []Answer  `json:"answers"`
	Synced         bool      `json:"synced"`
	SubmittedAt    time.Time `json:"submitted_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r RelayRecord) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("%w: missing id", ErrMalformedRelayRecord)
	case strings.TrimSpace(r.OwnerID) == "":
		return fmt.Errorf("%w: record %s missing owner_id", ErrMalformedRelayRecord, r.ID)
	case strings.TrimSpace(r.TemplateID) == "":
		return fmt.Errorf("%w: record %s missing template_id", ErrMalformedRelayRecord, r.ID)
	case r.SubmittedAt.IsZero():
		return fmt.Errorf("%w: record %s missing submitted_at", ErrMalformedRelayRecord, r.ID)
	}
	if err := ValidateAnswers(r.Answers); err != nil {
		return fmt.Errorf("%w: record %s: %v", ErrMalformedRelayRecord, r.ID, err)
	}
	return nil
}

// ToResponse converts the staging copy into the durable row. The record id
// becomes the response id so repeated deliveries map onto one row.
func (r RelayRecord) ToResponse() (Response, error) {
	answers, err := EncodeAnswers(r.Answers)
	if err != nil {
		return Response{}, err
	}
	return Response{
		ID:             r.ID,
		SessionID:      r.SessionID,
		PatientID:      r.PatientID,
		TemplateID:     r.TemplateID,
		RespondentName: r.RespondentName,
		AnswersJSON:    answers,
		SubmittedAt:    r.SubmittedAt.UTC(),
	}, nil
}

func EncodeRelayRecord(r RelayRecord) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRelayRecord parses a relay payload and fails on unknown fields or an
// invalid shape instead of passing partial data along.
func DecodeRelayRecord(raw []byte) (RelayRecord, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	var rec RelayRecord
	if err := dec.Decode(&rec); err != nil {
		return RelayRecord{}, fmt.Errorf("%w: %v", ErrMalformedRelayRecord, err)
	}
	if err := rec.Validate(); err != nil {
		return RelayRecord{}, err
	}
	return rec, nil
}

// SessionSnapshot is what the relay keeps so a remote respondent can resolve a
// token without reaching the clinic store.
type SessionSnapshot struct {
	SessionID      string           `json:"session_id"`
	OwnerID        string           `json:"owner_id"`
	TemplateID     string           `json:"template_id"`
	PatientID      *string          `json:"patient_id,omitempty"`
	RespondentName *string          `json:"respondent_name,omitempty"`
	Status         SessionStatus    `json:"status"`
	ExpiresAt      time.Time        `json:"expires_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Template       TemplateSnapshot `json:"template"`
}

func (s SessionSnapshot) Session(token string) Session {
	return Session{
		ID:             s.SessionID,
		Token:          token,
		TemplateID:     s.TemplateID,
		PatientID:      s.PatientID,
		RespondentName: s.RespondentName,
		Status:         s.Status,
		ExpiresAt:      s.ExpiresAt,
		CompletedAt:    s.CompletedAt,
	}
}
