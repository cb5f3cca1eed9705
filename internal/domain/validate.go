package domain

import (
	"fmt"
	"slices"
	"strings"
)

// ValidateQuestions checks a template definition before it is stored.
func ValidateQuestions(qs []Question) error {
	if len(qs) == 0 {
		return fmt.Errorf("%w: template has no questions", ErrMalformedQuestions)
	}
	seen := make(map[string]struct{}, len(qs))
	for i, q := range qs {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return fmt.Errorf("%w: question %d has no id", ErrMalformedQuestions, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrMalformedQuestions, id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("%w: question %q has no text", ErrMalformedQuestions, id)
		}
		switch q.Type {
		case QuestionText, QuestionYesNo:
		case QuestionSingleChoice, QuestionMultipleChoice:
			if len(q.Options) == 0 {
				return fmt.Errorf("%w: question %q needs options", ErrMalformedQuestions, id)
			}
		case QuestionScale:
			if q.ScaleConfig == nil || q.ScaleConfig.Min >= q.ScaleConfig.Max {
				return fmt.Errorf("%w: question %q needs a scale with min < max", ErrMalformedQuestions, id)
			}
		default:
			return fmt.Errorf("%w: question %q has unknown type %q", ErrMalformedQuestions, id, q.Type)
		}
	}
	return nil
}

// ValidateAnswersFor checks submitted answers against the questions they
// claim to answer. Content is not interpreted beyond shape and range.
func ValidateAnswersFor(qs []Question, answers []Answer) error {
	if err := ValidateAnswers(answers); err != nil {
		return err
	}
	byID := make(map[string]Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	answered := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return fmt.Errorf("%w: unknown question %q", ErrMalformedAnswers, a.QuestionID)
		}
		if err := checkAnswerShape(q, a.Value); err != nil {
			return err
		}
		answered[a.QuestionID] = struct{}{}
	}
	for _, q := range qs {
		if _, ok := answered[q.ID]; q.Required && !ok {
			return fmt.Errorf("%w: required question %q unanswered", ErrMalformedAnswers, q.ID)
		}
	}
	return nil
}

func checkAnswerShape(q Question, v AnswerValue) error {
	switch q.Type {
	case QuestionScale:
		if v.Kind() != AnswerNumber {
			return fmt.Errorf("%w: question %q expects a number", ErrMalformedAnswers, q.ID)
		}
		if q.ScaleConfig != nil && (v.Number() < float64(q.ScaleConfig.Min) || v.Number() > float64(q.ScaleConfig.Max)) {
			return fmt.Errorf("%w: question %q answer out of range", ErrMalformedAnswers, q.ID)
		}
	case QuestionMultipleChoice:
		if v.Kind() != AnswerList {
			return fmt.Errorf("%w: question %q expects a list", ErrMalformedAnswers, q.ID)
		}
		for _, item := range v.List() {
			if !slices.Contains(q.Options, item) {
				return fmt.Errorf("%w: question %q has unknown option %q", ErrMalformedAnswers, q.ID, item)
			}
		}
	case QuestionSingleChoice:
		if v.Kind() != AnswerText || !slices.Contains(q.Options, v.Text()) {
			return fmt.Errorf("%w: question %q expects one of its options", ErrMalformedAnswers, q.ID)
		}
	default:
		if v.Kind() != AnswerText {
			return fmt.Errorf("%w: question %q expects text", ErrMalformedAnswers, q.ID)
		}
	}
	return nil
}
