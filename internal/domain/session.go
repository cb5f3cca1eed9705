package domain

import "time"

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired
}

// Session is one offer to complete one survey instance. ExpiresAt is fixed at
// creation; Status only ever moves out of pending.
type Session struct {
	ID             string        `gorm:"primaryKey;size:36" json:"id"`
	Token          string        `gorm:"size:16;uniqueIndex;not null" json:"token"`
	TemplateID     string        `gorm:"size:36;index;not null" json:"template_id"`
	PatientID      *string       `gorm:"size:64;index" json:"patient_id,omitempty"`
	RespondentName *string       `gorm:"size:255" json:"respondent_name,omitempty"`
	Status         SessionStatus `gorm:"size:16;index;not null" json:"status"`
	ExpiresAt      time.Time     `gorm:"index;not null" json:"expires_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	CreatedBy      *string       `gorm:"size:64" json:"created_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`

	// RelayMirrored records that the relay holds a snapshot for this session.
	// Pending sessions without one are re-mirrored once the relay is back.
	RelayMirrored bool `gorm:"not null;default:false;index" json:"relay_mirrored"`
}

func (s Session) Respondent() RespondentRef {
	return RespondentRef{PatientID: s.PatientID, Name: s.RespondentName}
}

// ExpireIfStale returns a copy of s with status expired when it is still
// pending at or past its deadline, so a zero ttl is never answerable. The bool
// reports whether the copy differs from s and the caller should persist the
// transition.
func ExpireIfStale(s Session, now time.Time) (Session, bool) {
	if s.Status != SessionStatusPending || now.Before(s.ExpiresAt) {
		return s, false
	}
	s.Status = SessionStatusExpired
	return s, true
}

// RespondentRef identifies who answers a survey: a known patient, a free-text
// name, or neither for anonymous walk-ins.
type RespondentRef struct {
	PatientID *string `json:"patient_id,omitempty"`
	Name      *string `json:"respondent_name,omitempty"`
}

func (r RespondentRef) Normalize() RespondentRef {
	return RespondentRef{PatientID: trimmedOrNil(r.PatientID), Name: trimmedOrNil(r.Name)}
}
