package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedAnswers = errors.New("malformed answers")

type AnswerKind int

const (
	AnswerText AnswerKind = iota + 1
	AnswerList
	AnswerNumber
)

// AnswerValue holds exactly one of a text, a list of texts, or a number.
// Decoding rejects any other JSON shape.
type AnswerValue struct {
	kind   AnswerKind
	text   string
	list   []string
	number float64
}

func TextAnswer(v string) AnswerValue { return AnswerValue{kind: AnswerText, text: v} }
func NumberAnswer(v float64) AnswerValue { return AnswerValue{kind: AnswerNumber, number: v} }
func ListAnswer(v ...string) AnswerValue { return AnswerValue{kind: AnswerList, list: append([]string{}, v...)} }
func (v AnswerValue) Kind() AnswerKind { return v.kind }
func (v AnswerValue) Text() string { return v.text }
func (v AnswerValue) List() []string { return append([]string(nil), v.list...) }
func (v AnswerValue) Number() float64 { return v.number }
func (v AnswerValue) IsZero() bool { return v.kind == 0 }

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case AnswerText:
		return json.Marshal(v.text)
	case AnswerList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case AnswerNumber:
		return json.Marshal(v.number)
	default:
		return nil, fmt.Errorf("%w: empty answer value", ErrMalformedAnswers)
	}
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty value", ErrMalformedAnswers)
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
		}
		*v = TextAnswer(s)
	case '[':
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("%w: list values must be strings", ErrMalformedAnswers)
		}
		*v = ListAnswer(list...)
	case 'n', 't', 'f', '{':
		return fmt.Errorf("%w: unsupported value %s", ErrMalformedAnswers, truncate(string(trimmed), 32))
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
		}
		*v = NumberAnswer(n)
	}
	return nil
}

type Answer struct {
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"answer"`
}

// ValidateAnswers checks structural well-formedness only; it does not apply
// template semantics.
func ValidateAnswers(answers []Answer) error {
	seen := make(map[string]struct{}, len(answers))
	for i, a := range answers {
		id := strings.TrimSpace(a.QuestionID)
		if id == "" {
			return fmt.Errorf("%w: answer %d has no question_id", ErrMalformedAnswers, i)
		}
		if a.Value.IsZero() {
			return fmt.Errorf("%w: answer %q has no value", ErrMalformedAnswers, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate question_id %q", ErrMalformedAnswers, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func EncodeAnswers(answers []Answer) (string, error) {
	if answers == nil {
		answers = []Answer{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodeAnswers(raw string) ([]Answer, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var answers []Answer
	if err := dec.Decode(&answers); err != nil {
		if errors.Is(err, ErrMalformedAnswers) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
	}
	if err := ValidateAnswers(answers); err != nil {
		return nil, err
	}
	return answers, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
