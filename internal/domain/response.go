package domain

import "time"

// Response is the durable record of submitted answers. At most one Response
// exists per non-null SessionID; the unique index backs that up at the
// storage layer.
type Response struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID      *string   `gorm:"size:36;uniqueIndex" json:"session_id,omitempty"`
	PatientID      *string   `gorm:"size:64;index" json:"patient_id,omitempty"`
	TemplateID     string    `gorm:"size:36;index;not null" json:"template_id"`
	RespondentName *string   `gorm:"size:255" json:"respondent_name,omitempty"`
	AnswersJSON    string    `gorm:"column:answers;type:text;not null" json:"-"`
	SubmittedAt    time.Time `gorm:"index;not null" json:"submitted_at"`
}

func (r Response) Answers() ([]Answer, error) {
	return DecodeAnswers(r.AnswersJSON)
}

// ResponseView is the decoded form handed to callers outside the storage
// boundary.
type ResponseView struct {
	ID             string    `json:"id"`
	SessionID      *string   `json:"session_id,omitempty"`
	PatientID      *string   `json:"patient_id,omitempty"`
	TemplateID     string    `json:"template_id"`
	RespondentName *string   `json:"respondent_name,omitempty"`
	Answers        []Answer  `json:"answers"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

func (r Response) View() (ResponseView, error) {
	answers, err := r.Answers()
	if err != nil {
		return ResponseView{}, err
	}
	return ResponseView{
		ID:             r.ID,
		SessionID:      r.SessionID,
		PatientID:      r.PatientID,
		TemplateID:     r.TemplateID,
		RespondentName: r.RespondentName,
		Answers:        answers,
		SubmittedAt:    r.SubmittedAt,
	}, nil
}
