package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
)

func TestSubmitDirectStoresResponseAndCompletesSession(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", nil)
	events, cancel := f.notifier.Subscribe()
	defer cancel()

	out, err := f.submissions.Submit(context.Background(), created.Session.Token, validAnswers())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.AlreadyRecorded || out.Path != PathDirect || out.ResponseID == "" {
		t.Fatalf("unexpected result: %+v", out)
	}
	resp, err := f.responses.FindBySessionID(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("response missing: %v", err)
	}
	if resp.TemplateID != "T1" || resp.RespondentName == nil || *resp.RespondentName != "Kim" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	session, err := f.sessionRepo.FindByID(context.Background(), created.Session.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.Status != domain.SessionStatusCompleted || session.CompletedAt == nil {
		t.Fatalf("expected completed session, got %+v", session)
	}
	snap, err := f.relay.GetSessionSnapshot(context.Background(), created.Session.Token)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected relay snapshot completed, got %s", snap.Status)
	}
	select {
	case ev := <-events:
		if ev.Kind != ChangeResponses {
			t.Fatalf("expected responses change first, got %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestSubmitTwiceRecordsOnce(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", nil)

	var wg sync.WaitGroup
	results := make([]SubmitResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.submissions.Submit(context.Background(), created.Session.Token, validAnswers())
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if !results[i].AlreadyRecorded {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted submission, got %d", accepted)
	}
	if n := countResponses(t, f.db); n != 1 {
		t.Fatalf("expected exactly one response row, got %d", n)
	}
}

func TestSubmitRejections(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	ctx := context.Background()

	if _, err := f.submissions.Submit(ctx, "NOPE0000", validAnswers()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	live := f.createSession(t, "T1", "Kim", nil)
	bad := []domain.Answer{{QuestionID: "q2", Value: domain.NumberAnswer(5)}}
	if _, err := f.submissions.Submit(ctx, live.Session.Token, bad); !errors.Is(err, ErrInvalidAnswers) {
		t.Fatalf("expected ErrInvalidAnswers for missing required answer, got %v", err)
	}

	stale := f.createSession(t, "T1", "Lee", durationPtr(time.Minute))
	f.clock.Advance(2 * time.Minute)
	if _, err := f.submissions.Submit(ctx, stale.Session.Token, validAnswers()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if n := countResponses(t, f.db); n != 0 {
		t.Fatalf("rejected submissions must not store responses, got %d", n)
	}
}

func TestSubmitViaRelayStagesRecordOnce(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", nil)
	_, remote := f.remoteServices(t)
	ctx := context.Background()

	out, err := remote.Submit(ctx, created.Session.Token, validAnswers())
	if err != nil {
		t.Fatalf("remote submit: %v", err)
	}
	if out.Path != PathRelay || out.AlreadyRecorded {
		t.Fatalf("unexpected result: %+v", out)
	}
	again, err := remote.Submit(ctx, created.Session.Token, validAnswers())
	if err != nil {
		t.Fatalf("second remote submit: %v", err)
	}
	if !again.AlreadyRecorded {
		t.Fatal("second remote submit must report already recorded")
	}

	recs, err := f.relay.ListUnconsumed(ctx, testOwnerID)
	if err != nil {
		t.Fatalf("list relay: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one staged record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ID != out.ResponseID || rec.SessionID == nil || *rec.SessionID != created.Session.ID || rec.TemplateID != "T1" {
		t.Fatalf("unexpected relay record: %+v", rec)
	}
	if n := countResponses(t, f.db); n != 0 {
		t.Fatalf("remote submit must not touch the local store, got %d responses", n)
	}
}

func TestSubmitViaRelayReleasesClaimOnInsertFailure(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", nil)
	resolution, remote := f.remoteServices(t)
	ctx := context.Background()

	f.relay.set(func(r *flakyRelay) { r.failInsert = true })
	if _, err := remote.Submit(ctx, created.Session.Token, validAnswers()); !errors.Is(err, ErrRelayUnreachable) {
		t.Fatalf("expected ErrRelayUnreachable, got %v", err)
	}
	res, err := resolution.Resolve(ctx, created.Session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != ResolutionValid {
		t.Fatalf("failed submit must leave the session answerable, got %s", res.Status)
	}

	f.relay.set(func(r *flakyRelay) { r.failInsert = false })
	if _, err := remote.Submit(ctx, created.Session.Token, validAnswers()); err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
}

func TestSubmitKioskIsIdempotentByResponseID(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	ctx := context.Background()
	name := "Walk-in"
	in := KioskSubmission{
		ResponseID: "kiosk-1",
		TemplateID: "T1",
		Respondent: domain.RespondentRef{Name: &name},
		Answers:    validAnswers(),
	}

	first, err := f.submissions.SubmitKiosk(ctx, in)
	if err != nil {
		t.Fatalf("kiosk submit: %v", err)
	}
	if first.AlreadyRecorded || first.ResponseID != "kiosk-1" {
		t.Fatalf("unexpected first result: %+v", first)
	}
	second, err := f.submissions.SubmitKiosk(ctx, in)
	if err != nil {
		t.Fatalf("kiosk retry: %v", err)
	}
	if !second.AlreadyRecorded {
		t.Fatal("expected retry to be reported as already recorded")
	}
	if n := countResponses(t, f.db); n != 1 {
		t.Fatalf("expected one kiosk response, got %d", n)
	}

	_, remote := f.remoteServices(t)
	if _, err := remote.SubmitKiosk(ctx, in); !errors.Is(err, ErrLocalStoreUnavailable) {
		t.Fatalf("expected ErrLocalStoreUnavailable without a local store, got %v", err)
	}
}
