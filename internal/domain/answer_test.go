package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAnswerValueDecodeShapes(t *testing.T) {
	raw := `[{"question_id":"q1","answer":"yes"},{"question_id":"q2","answer":["a","b"]},{"question_id":"q3","answer":7}]`
	answers, err := DecodeAnswers(raw)
	if err != nil {
		t.Fatalf("decode answers: %v", err)
	}
	if len(answers) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(answers))
	}
	if answers[0].Value.Kind() != AnswerText || answers[0].Value.Text() != "yes" {
		t.Fatalf("unexpected text answer: %+v", answers[0].Value)
	}
	if answers[1].Value.Kind() != AnswerList || strings.Join(answers[1].Value.List(), ",") != "a,b" {
		t.Fatalf("unexpected list answer: %+v", answers[1].Value)
	}
	if answers[2].Value.Kind() != AnswerNumber || answers[2].Value.Number() != 7 {
		t.Fatalf("unexpected number answer: %+v", answers[2].Value)
	}

	encoded, err := EncodeAnswers(answers)
	if err != nil {
		t.Fatalf("encode answers: %v", err)
	}
	if encoded != raw {
		t.Fatalf("expected canonical encoding %s, got %s", raw, encoded)
	}
}

func TestDecodeAnswersRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{{`,
		"object value":     `[{"question_id":"q1","answer":{"x":1}}]`,
		"bool value":       `[{"question_id":"q1","answer":true}]`,
		"null value":       `[{"question_id":"q1","answer":null}]`,
		"mixed list":       `[{"question_id":"q1","answer":["a",1]}]`,
		"missing question": `[{"answer":"x"}]`,
		"unknown field":    `[{"question_id":"q1","answer":"x","extra":1}]`,
		"duplicate":        `[{"question_id":"q1","answer":"x"},{"question_id":"q1","answer":"y"}]`,
		"missing value":    `[{"question_id":"q1"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeAnswers(raw); !errors.Is(err, ErrMalformedAnswers) {
				t.Fatalf("expected ErrMalformedAnswers, got %v", err)
			}
		})
	}
}

func TestRelayRecordDecodeIsStrict(t *testing.T) {
	sid := "session-1"
	rec := RelayRecord{
		ID:          "rec-1",
		OwnerID:     "clinic-1",
		SessionID:   &sid,
		TemplateID:  "T1",
		Answers:     []Answer{{QuestionID: "q1", Value: TextAnswer("fine")}},
		SubmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
	}
	raw, err := EncodeRelayRecord(rec)
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	got, err := DecodeRelayRecord(raw)
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if got.ID != rec.ID || got.SessionID == nil || *got.SessionID != sid || !got.SubmittedAt.Equal(rec.SubmittedAt) {
		t.Fatalf("unexpected decoded record: %+v", got)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	generic["surprise"] = true
	tampered, _ := json.Marshal(generic)
	if _, err := DecodeRelayRecord(tampered); !errors.Is(err, ErrMalformedRelayRecord) {
		t.Fatalf("expected unknown field rejection, got %v", err)
	}

	delete(generic, "surprise")
	generic["owner_id"] = ""
	missingOwner, _ := json.Marshal(generic)
	if _, err := DecodeRelayRecord(missingOwner); !errors.Is(err, ErrMalformedRelayRecord) {
		t.Fatalf("expected missing owner rejection, got %v", err)
	}
}

func TestRelayRecordToResponseKeepsIdentity(t *testing.T) {
	sid := "s-9"
	rec := RelayRecord{
		ID:          "rec-9",
		OwnerID:     "clinic",
		SessionID:   &sid,
		TemplateID:  "T1",
		Answers:     []Answer{{QuestionID: "q1", Value: NumberAnswer(3)}},
		SubmittedAt: time.Now(),
	}
	resp, err := rec.ToResponse()
	if err != nil {
		t.Fatalf("to response: %v", err)
	}
	if resp.ID != rec.ID || resp.SessionID != rec.SessionID {
		t.Fatalf("expected response to keep record identity, got %+v", resp)
	}
	view, err := resp.View()
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Answers) != 1 || view.Answers[0].Value.Number() != 3 {
		t.Fatalf("unexpected view answers: %+v", view.Answers)
	}
}

func TestTemplateQuestionsRoundTripAndMalformed(t *testing.T) {
	tpl := Template{ID: "T1", Name: "Intake"}
	if err := tpl.SetQuestions([]Question{{ID: "q1", Text: "How are you?", Type: QuestionText}}); err != nil {
		t.Fatalf("set questions: %v", err)
	}
	snap, err := tpl.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Questions) != 1 || snap.Questions[0].ID != "q1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if err := tpl.SetQuestions([]Question{{Text: "no id"}}); !errors.Is(err, ErrMalformedQuestions) {
		t.Fatalf("expected missing id rejection, got %v", err)
	}
	tpl.QuestionsJSON = "{broken"
	if _, err := tpl.Questions(); !errors.Is(err, ErrMalformedQuestions) {
		t.Fatalf("expected malformed questions error, got %v", err)
	}
}
