package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryNegativeLookupCacheStoreGetSetDelete(t *testing.T) {
	store := NewInMemoryNegativeLookupCacheStore()
	ctx := context.Background()

	if err := store.Set(ctx, surveyTokenNamespace, "ZZZZ0000", time.Minute); err != nil {
		t.Fatalf("set negative cache: %v", err)
	}
	ok, err := store.Get(ctx, " Survey.Tokens ", "ZZZZ0000")
	if err != nil {
		t.Fatalf("get negative cache: %v", err)
	}
	if !ok {
		t.Fatal("expected hit with differently-cased namespace")
	}
	if err := store.Delete(ctx, surveyTokenNamespace, "zzzz0000"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := store.Get(ctx, surveyTokenNamespace, "ZZZZ0000"); ok {
		t.Fatal("expected miss after delete")
	}

	if err := store.Set(ctx, surveyTokenNamespace, "YYYY0000", time.Minute); err != nil {
		t.Fatalf("set negative cache: %v", err)
	}
	if err := store.InvalidateNamespace(ctx, surveyTokenNamespace); err != nil {
		t.Fatalf("invalidate negative cache namespace: %v", err)
	}
	if ok, _ := store.Get(ctx, surveyTokenNamespace, "YYYY0000"); ok {
		t.Fatal("expected negative cache miss after invalidate")
	}
}

func TestInMemoryNegativeLookupCacheStoreExpiry(t *testing.T) {
	store := NewInMemoryNegativeLookupCacheStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Set(ctx, surveyTokenNamespace, "ABCD0000", 30*time.Second); err != nil {
		t.Fatalf("set negative cache: %v", err)
	}
	now = now.Add(31 * time.Second)
	ok, err := store.Get(ctx, surveyTokenNamespace, "ABCD0000")
	if err != nil {
		t.Fatalf("get negative cache: %v", err)
	}
	if ok {
		t.Fatal("expected negative cache entry to expire")
	}
	if len(store.store) != 0 {
		t.Fatalf("expected expired namespace to be dropped, got %v", store.store)
	}
}

func TestNoopNegativeLookupCacheStoreAlwaysMisses(t *testing.T) {
	store := NewNoopNegativeLookupCacheStore()
	ctx := context.Background()
	if err := store.Set(ctx, surveyTokenNamespace, "404", time.Minute); err != nil {
		t.Fatalf("set noop negative cache: %v", err)
	}
	ok, err := store.Get(ctx, surveyTokenNamespace, "404")
	if err != nil {
		t.Fatalf("get noop negative cache: %v", err)
	}
	if ok {
		t.Fatal("expected noop negative cache miss")
	}
}

type failingNegativeStore struct{ NoopNegativeLookupCacheStore }

func (failingNegativeStore) Get(context.Context, string, string) (bool, error) {
	return true, errors.New("cache down")
}

func TestUnknownTokenCacheFailsOpen(t *testing.T) {
	cache := NewUnknownTokenCache(failingNegativeStore{}, time.Minute, discardLogger())
	if cache.KnownMissing(context.Background(), "ABCD1234") {
		t.Fatal("a failing cache must never report a token as missing")
	}

	var nilCache *UnknownTokenCache
	if nilCache.KnownMissing(context.Background(), "ABCD1234") {
		t.Fatal("nil cache must miss")
	}
	nilCache.RememberMissing(context.Background(), "ABCD1234")
}

func TestUnknownTokenCacheRememberAndForget(t *testing.T) {
	ctx := context.Background()
	cache := NewUnknownTokenCache(NewInMemoryNegativeLookupCacheStore(), time.Minute, discardLogger())
	cache.RememberMissing(ctx, "ABCD1234")
	if !cache.KnownMissing(ctx, "abcd1234") {
		t.Fatal("expected remembered token to be known missing")
	}
	cache.Forget(ctx, "ABCD1234")
	if cache.KnownMissing(ctx, "ABCD1234") {
		t.Fatal("expected forgotten token to miss")
	}
}
