package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
)

func TestResolveLocalValidSession(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", nil)

	res, err := f.resolution.Resolve(context.Background(), " "+created.Session.Token+" ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != ResolutionValid || res.Source != sourceLocal {
		t.Fatalf("unexpected resolution: status=%s source=%s", res.Status, res.Source)
	}
	if res.Session == nil || res.Session.ID != created.Session.ID {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if res.Template == nil || res.Template.ID != "T1" {
		t.Fatalf("expected template snapshot, got %+v", res.Template)
	}
}

func TestResolveLocalTemplateIsAuthoritative(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", nil)
	active := true
	if _, err := f.templates.Save(context.Background(), TemplateInput{
		ID:        "T1",
		Name:      "Renamed",
		Active:    &active,
		Questions: []domain.Question{{ID: "q1", Text: "Anything else?", Type: domain.QuestionText}},
	}); err != nil {
		t.Fatalf("update template: %v", err)
	}

	res, err := f.resolution.Resolve(context.Background(), created.Session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Template.Name != "Renamed" {
		t.Fatalf("expected local template to win over relay snapshot, got %q", res.Template.Name)
	}
}

func TestResolveUnknownTokenIsCached(t *testing.T) {
	f := newClinicFixture(t)
	ctx := context.Background()

	for _, token := range []string{"", "short", "ABCD-123"} {
		res, err := f.resolution.Resolve(ctx, token)
		if err != nil || res.Status != ResolutionNotFound {
			t.Fatalf("malformed token %q: status=%s err=%v", token, res.Status, err)
		}
	}

	res, err := f.resolution.Resolve(ctx, "ZZZZ9999")
	if err != nil || res.Status != ResolutionNotFound || res.Source != sourceLocal {
		t.Fatalf("first lookup: status=%s source=%s err=%v", res.Status, res.Source, err)
	}
	res, err = f.resolution.Resolve(ctx, "zzzz9999")
	if err != nil || res.Status != ResolutionNotFound || res.Source != sourceCache {
		t.Fatalf("second lookup should hit the negative cache: status=%s source=%s err=%v", res.Status, res.Source, err)
	}
}

func TestResolveExpiryIsMonotonic(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", durationPtr(time.Hour))
	f.clock.Advance(2 * time.Hour)

	for i := 0; i < 3; i++ {
		res, err := f.resolution.Resolve(context.Background(), created.Session.Token)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Status != ResolutionExpired {
			t.Fatalf("iteration %d: expected expired, got %s", i, res.Status)
		}
	}
	snap, err := f.relay.GetSessionSnapshot(context.Background(), created.Session.Token)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != domain.SessionStatusExpired {
		t.Fatalf("expected expiry mirrored to relay snapshot, got %s", snap.Status)
	}
}

func TestResolveRemoteUsesRelaySnapshot(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", nil)
	remote, _ := f.remoteServices(t)

	res, err := remote.Resolve(context.Background(), created.Session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != ResolutionValid || res.Source != sourceRelay || res.OwnerID != testOwnerID {
		t.Fatalf("unexpected remote resolution: %+v", res)
	}
	if res.Template == nil || len(res.Template.Questions) != 2 {
		t.Fatalf("expected template from snapshot, got %+v", res.Template)
	}

	res, err = remote.Resolve(context.Background(), "NOPE0000")
	if err != nil || res.Status != ResolutionNotFound {
		t.Fatalf("unknown remote token: status=%s err=%v", res.Status, err)
	}
}

func TestResolveRemoteExpiryAndOutage(t *testing.T) {
	f := newClinicFixture(t)
	f.seedTemplate(t, "T1", true)
	created := f.createSession(t, "T1", "Kim", durationPtr(0))
	remote, _ := f.remoteServices(t)

	res, err := remote.Resolve(context.Background(), created.Session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != ResolutionExpired {
		t.Fatalf("expected expired via relay, got %s", res.Status)
	}

	f.relay.set(func(r *flakyRelay) { r.failGet = true })
	if _, err := remote.Resolve(context.Background(), created.Session.Token); !errors.Is(err, ErrRelayUnreachable) {
		t.Fatalf("expected ErrRelayUnreachable, got %v", err)
	}
}
