package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var fast = Policy{MaxAttempts: 3, Delay: time.Millisecond}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	locked := errors.New("database is locked")
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("upsert subscription: %w", locked)
	})
	if !errors.Is(err, locked) {
		t.Fatalf("err = %v, want wrapped %v", err, locked)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	boom := errors.New("UNIQUE constraint failed: subscriptions.user_id")
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoCustomPredicate(t *testing.T) {
	p := fast
	p.Retryable = func(error) bool { return true }
	calls := 0
	_ = Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("anything")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoSingleAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 0, Delay: time.Millisecond}
	calls := 0
	_ = Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("prepared statement \"s1\" already exists")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Delay: time.Hour}
	calls := 0
	err := Do(ctx, p, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExponentialBackoffGrows(t *testing.T) {
	p := Policy{MaxAttempts: 4, Delay: 10 * time.Millisecond, Backoff: Exponential, MaxDelay: 25 * time.Millisecond}
	b := p.backoff()

	var got []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		got = append(got, d)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fast, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != 42 {
		t.Errorf("v = %d, want 42", v)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("bind: prepared statement has been finalized"), true},
		{errors.New("no such table: users"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
