package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialDelays(t *testing.T) {
	p := Exponential(3, time.Second)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBudget(t *testing.T) {
	// 2+4+8 units of backoff plus four 30s attempts.
	if got := Exponential(3, time.Second).Budget(30 * time.Second); got != 134*time.Second {
		t.Errorf("Budget = %v, want 2m14s", got)
	}
	if got := Exponential(10, time.Second).Budget(300 * time.Second); got != 5346*time.Second {
		t.Errorf("Budget = %v, want 5346s", got)
	}
	if got := Fixed(0, time.Minute).Budget(time.Second); got != time.Second {
		t.Errorf("Budget = %v, want 1s", got)
	}
}

func TestDo_StopsAtFirstSuccess(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), Exponential(5, time.Millisecond), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || calls != 3 {
		t.Fatalf("attempts = %d calls = %d, want 3", n, calls)
	}
}

func TestDo_ExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	var seen []int
	n, err := Do(context.Background(), Fixed(2, time.Millisecond), func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if n != 3 || len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("attempts = %d seen = %v, want 3 calls", n, seen)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	bad := errors.New("bad input")
	calls := 0
	n, err := Do(context.Background(), Fixed(5, time.Millisecond), func(context.Context, int) error {
		calls++
		return Permanent(bad)
	})
	if calls != 1 || n != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if err != bad {
		t.Fatalf("err = %v, want unwrapped bad", err)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Fixed(3, time.Hour), func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d err = %v, want single call with error", calls, err)
	}
}

func TestZeroRetriesMeansOneAttempt(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), Exponential(0, time.Millisecond), func(context.Context, int) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
