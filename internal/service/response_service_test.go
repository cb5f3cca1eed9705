package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
)

func TestResponseServiceListAndGet(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"Kim", "Lee", "Ana"} {
		created := f.createSession(t, "T1", name, nil)
		out, err := f.submissions.Submit(ctx, created.Session.Token, validAnswers())
		if err != nil {
			t.Fatalf("submit for %s: %v", name, err)
		}
		ids = append(ids, out.ResponseID)
	}

	page, err := f.responseSvc.List(ctx, repository.PageRequest{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.TotalPages, len(page.Items))
	}
	if len(page.Items[0].Answers) != 2 {
		t.Fatalf("expected decoded answers, got %+v", page.Items[0].Answers)
	}

	view, err := f.responseSvc.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.ID != ids[0] {
		t.Fatalf("unexpected response %s", view.ID)
	}
	if _, err := f.responseSvc.Get(ctx, "missing"); !errors.Is(err, ErrResponseNotFound) {
		t.Fatalf("expected ErrResponseNotFound, got %v", err)
	}
}

func TestResponseServiceLinkPatient(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	ctx := context.Background()
	created := f.createSession(t, "T1", "Kim", nil)
	out, err := f.submissions.Submit(ctx, created.Session.Token, validAnswers())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.responseSvc.LinkPatient(ctx, out.ResponseID, "  "); !errors.Is(err, ErrInvalidPatientID) {
		t.Fatalf("expected ErrInvalidPatientID, got %v", err)
	}
	changed, err := f.responseSvc.LinkPatient(ctx, out.ResponseID, "P-7")
	if err != nil || !changed {
		t.Fatalf("first link: changed=%v err=%v", changed, err)
	}
	changed, err = f.responseSvc.LinkPatient(ctx, out.ResponseID, "P-7")
	if err != nil || changed {
		t.Fatalf("repeat link should be a no-op: changed=%v err=%v", changed, err)
	}
	if _, err := f.responseSvc.LinkPatient(ctx, out.ResponseID, "P-8"); !errors.Is(err, ErrResponseAlreadyLinked) {
		t.Fatalf("expected ErrResponseAlreadyLinked, got %v", err)
	}
	if _, err := f.responseSvc.LinkPatient(ctx, "missing", "P-7"); !errors.Is(err, ErrResponseNotFound) {
		t.Fatalf("expected ErrResponseNotFound, got %v", err)
	}
}
