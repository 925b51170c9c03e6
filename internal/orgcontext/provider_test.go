package orgcontext

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	byNumber map[string]Context
	calls    int
	failWith error
}

func (f *fakeStore) FetchByNumber(_ context.Context, dialedNumber string) (Context, error) {
	f.calls++
	if f.failWith != nil {
		return Context{}, f.failWith
	}
	c, ok := f.byNumber[dialedNumber]
	if !ok {
		return Context{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func TestCachedProvider_ResolveKnownNumber(t *testing.T) {
	store := &fakeStore{byNumber: map[string]Context{
		"+14155551212": {ID: "acme-salon", DisplayName: "Acme Salon", Greeting: "Welcome to Acme Salon!"},
	}}
	p := NewCachedProvider(store, time.Minute, 16, "default")

	c, err := p.Resolve(context.Background(), "415-555-1212")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if c.ID != "acme-salon" {
		t.Errorf("got ID %q, want %q", c.ID, "acme-salon")
	}
	if c.DialedNumber != "+14155551212" {
		t.Errorf("got DialedNumber %q, want normalized form", c.DialedNumber)
	}
}

func TestCachedProvider_UnmappedNumberReturnsDefault(t *testing.T) {
	store := &fakeStore{byNumber: map[string]Context{}}
	p := NewCachedProvider(store, time.Minute, 16, "default-org")

	c, err := p.Resolve(context.Background(), "4155559999")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if c.ID != "default-org" {
		t.Errorf("got ID %q, want %q", c.ID, "default-org")
	}
	if len(c.Services) != 0 {
		t.Errorf("expected empty services for default context, got %d", len(c.Services))
	}
	if c.Greeting == "" {
		t.Error("expected a generic greeting for default context")
	}
}

func TestCachedProvider_InvalidNumberErrors(t *testing.T) {
	store := &fakeStore{}
	p := NewCachedProvider(store, time.Minute, 16, "default")

	if _, err := p.Resolve(context.Background(), "not-a-number"); err == nil {
		t.Error("expected error for unnormalizable number")
	}
}

func TestCachedProvider_CachesAcrossCalls(t *testing.T) {
	store := &fakeStore{byNumber: map[string]Context{
		"+14155551212": {ID: "acme-salon"},
	}}
	p := NewCachedProvider(store, time.Minute, 16, "default")

	if _, err := p.Resolve(context.Background(), "4155551212"); err != nil {
		t.Fatalf("first Resolve error: %v", err)
	}
	if _, err := p.Resolve(context.Background(), "4155551212"); err != nil {
		t.Fatalf("second Resolve error: %v", err)
	}

	if store.calls != 1 {
		t.Errorf("expected store to be hit once (cache warm on second call), got %d calls", store.calls)
	}
}

func TestCachedProvider_StoreErrorFallsBackToDefault(t *testing.T) {
	store := &fakeStore{failWith: context.DeadlineExceeded}
	p := NewCachedProvider(store, time.Minute, 16, "default")

	c, err := p.Resolve(context.Background(), "4155551212")
	if err != nil {
		t.Fatalf("expected Resolve to degrade gracefully, got error: %v", err)
	}
	if c.ID != "default" {
		t.Errorf("got ID %q, want default fallback", c.ID)
	}
}

func TestCachedProvider_Invalidate(t *testing.T) {
	store := &fakeStore{byNumber: map[string]Context{
		"+14155551212": {ID: "acme-salon"},
	}}
	p := NewCachedProvider(store, time.Minute, 16, "default")

	p.Resolve(context.Background(), "4155551212")
	p.Invalidate("4155551212")
	p.Resolve(context.Background(), "4155551212")

	if store.calls != 2 {
		t.Errorf("expected store to be hit twice after invalidation, got %d calls", store.calls)
	}
}
