package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedQuestions = errors.New("malformed template questions")

type QuestionType string

const (
	QuestionText           QuestionType = "text"
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionScale          QuestionType = "scale"
	QuestionYesNo          QuestionType = "yes_no"
)

type ScaleConfig struct {
	Min      int     `json:"min"`
	Max      int     `json:"max"`
	MinLabel *string `json:"minLabel,omitempty"`
	MaxLabel *string `json:"maxLabel,omitempty"`
}

type Question struct {
	ID          string       `json:"id"`
	Text        string       `json:"question_text"`
	Type        QuestionType `json:"question_type"`
	Options     []string     `json:"options,omitempty"`
	ScaleConfig *ScaleConfig `json:"scale_config,omitempty"`
	Required    bool         `json:"required"`
}

// Template is the clinic-authoritative survey definition. Questions are kept
// as a JSON text column and decoded on demand.
type Template struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Description   *string   `gorm:"size:1024" json:"description,omitempty"`
	QuestionsJSON string    `gorm:"column:questions;type:text;not null" json:"-"`
	Active        bool      `gorm:"not null" json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (t Template) Questions() ([]Question, error) {
	if t.QuestionsJSON == "" {
		return nil, nil
	}
	var qs []Question
	if err := json.Unmarshal([]byte(t.QuestionsJSON), &qs); err != nil {
		return nil, fmt.Errorf("%w: template %s: %v", ErrMalformedQuestions, t.ID, err)
	}
	return qs, nil
}

func (t *Template) SetQuestions(qs []Question) error {
	for i, q := range qs {
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrMalformedQuestions, i)
		}
	}
	raw, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	t.QuestionsJSON = string(raw)
	return nil
}

// TemplateSnapshot is the denormalized copy mirrored to the relay so a remote
// page can render without the local store. It is advisory only.
type TemplateSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

func (t Template) Snapshot() (TemplateSnapshot, error) {
	qs, err := t.Questions()
	if err != nil {
		return TemplateSnapshot{}, err
	}
	if qs == nil {
		qs = []Question{}
	}
	return TemplateSnapshot{ID: t.ID, Name: t.Name, Description: t.Description, Questions: qs}, nil
}
