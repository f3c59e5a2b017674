package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetOrFetchFreshHit(t *testing.T) {
	t.Parallel()

	c := New()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return "facility-a", nil
	}

	res, err := c.GetOrFetch(context.Background(), "facility", time.Hour, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if res.Value != "facility-a" || res.Stale {
		t.Errorf("first fetch = %+v", res)
	}

	now = now.Add(30 * time.Minute)
	res, err = c.GetOrFetch(context.Background(), "facility", time.Hour, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (fresh hit must not re-fetch)", calls)
	}
	if res.Stale {
		t.Error("fresh hit reported as stale")
	}
}

func TestGetOrFetchExpiryRefetches(t *testing.T) {
	t.Parallel()

	c := New()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	if _, err := c.GetOrFetch(context.Background(), "chargers", 15*time.Minute, fetch); err != nil {
		t.Fatal(err)
	}
	now = now.Add(15 * time.Minute)
	res, err := c.GetOrFetch(context.Background(), "chargers", 15*time.Minute, fetch)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 after TTL elapsed", calls)
	}
	if res.Value != 2 || res.Stale {
		t.Errorf("refetched result = %+v", res)
	}
}

func TestGetOrFetchStaleFallback(t *testing.T) {
	t.Parallel()

	c := New()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	fetched := now
	if _, err := c.GetOrFetch(context.Background(), "subscription", time.Minute, func(ctx context.Context) (any, error) {
		return "sub-1", nil
	}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Hour)
	res, err := c.GetOrFetch(context.Background(), "subscription", time.Minute, func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream 502")
	})
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v, want stale fallback", err)
	}
	if res.Value != "sub-1" || !res.Stale {
		t.Errorf("fallback result = %+v, want stale sub-1", res)
	}
	if !res.FetchedAt.Equal(fetched) {
		t.Errorf("FetchedAt = %v, want original fetch time %v", res.FetchedAt, fetched)
	}
}

func TestGetOrFetchPropagatesWithoutEntry(t *testing.T) {
	t.Parallel()

	c := New()
	wantErr := errors.New("upstream 502")
	_, err := c.GetOrFetch(context.Background(), "facility", time.Hour, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetOrFetch() error = %v, want %v", err, wantErr)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	c := New()
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	if _, err := c.GetOrFetch(context.Background(), "facility", time.Hour, fetch); err != nil {
		t.Fatal(err)
	}
	c.Invalidate("facility")
	if _, err := c.GetOrFetch(context.Background(), "facility", time.Hour, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 after Invalidate", calls)
	}
}
