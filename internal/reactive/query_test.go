package reactive

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFetch_CachesWithinStaleTime(t *testing.T) {
	c := NewQueryClient()
	calls := 0
	fn := func(ctx context.Context) (string, error) { calls++; return "v1", nil }

	_, err := Fetch(context.Background(), c, "key1", QueryOptions{StaleTime: time.Minute, Retry: 0}, fn)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	_, err = Fetch(context.Background(), c, "key1", QueryOptions{StaleTime: time.Minute, Retry: 0}, fn)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached second fetch, got %d calls", calls)
	}
}

func TestFetch_RetriesOnFailureThenSucceeds(t *testing.T) {
	c := NewQueryClient()
	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}
	v, err := fetchWithRetry(context.Background(), 3, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 2 {
		t.Fatalf("expected success on 2nd attempt, got v=%q calls=%d", v, calls)
	}
	_ = c
}

func TestInvalidate_ClearsCache(t *testing.T) {
	c := NewQueryClient()
	calls := 0
	fn := func(ctx context.Context) (string, error) { calls++; return "v", nil }
	_, _ = Fetch(context.Background(), c, "k", QueryOptions{StaleTime: time.Minute}, fn)
	if err := c.Invalidate("k"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = Fetch(context.Background(), c, "k", QueryOptions{StaleTime: time.Minute}, fn)
	if calls != 2 {
		t.Fatalf("expected re-fetch after invalidate, got %d calls", calls)
	}
}

func TestMutation_OnSuccessInvalidatesClient(t *testing.T) {
	c := NewQueryClient()
	fetches := 0
	_, _ = Fetch(context.Background(), c, "k", QueryOptions{StaleTime: time.Minute}, func(ctx context.Context) (string, error) {
		fetches++
		return "v", nil
	})
	m := NewMutation[string, string](c, func(ctx context.Context, vars string) (string, error) {
		return "written:" + vars, nil
	}).Invalidates("k")
	if _, err := m.Mutate(context.Background(), "x"); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	_, _ = Fetch(context.Background(), c, "k", QueryOptions{StaleTime: time.Minute}, func(ctx context.Context) (string, error) {
		fetches++
		return "v", nil
	})
	if fetches != 2 {
		t.Fatalf("expected mutation to invalidate cache, triggering re-fetch; got %d fetches", fetches)
	}
}
