package resilience

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func newStringGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestExecute_PrimarySuccess(t *testing.T) {
	fg := newStringGroup()

	res, served, err := Execute(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		return "from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "from primary" || served != "primary" {
		t.Errorf("got (%q, %q), want (from primary, primary)", res, served)
	}
}

func TestExecute_Failover(t *testing.T) {
	fg := newStringGroup()

	res, served, err := Execute(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "from secondary" || served != "secondary" {
		t.Errorf("got (%q, %q), want (from secondary, secondary)", res, served)
	}
}

func TestExecute_AllFail(t *testing.T) {
	fg := newStringGroup()

	_, served, err := Execute(context.Background(), fg, func(context.Context, string) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the backend error", err)
	}
	if served != "" {
		t.Errorf("served = %q, want empty", served)
	}
}

func TestExecute_SkipsOpenBreaker(t *testing.T) {
	fg := newStringGroup()
	ctx := context.Background()

	var primaryCalls int
	fn := func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			primaryCalls++
			return "", errTest
		}
		return v, nil
	}
	for range 3 {
		if _, _, err := Execute(ctx, fg, fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// MaxFailures is 2: the third call skips the primary.
	if primaryCalls != 2 {
		t.Errorf("primary calls = %d, want 2", primaryCalls)
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Errorf("primary breaker = %v, want open", fg.Breaker("primary").State())
	}
}

func TestExecute_StopsOnCancelledContext(t *testing.T) {
	fg := newStringGroup()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, _, err := Execute(ctx, fg, func(context.Context, string) (string, error) {
		called = true
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn called with cancelled context")
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	fg := newStringGroup()
	fg.AddFallback("local", "local")

	want := []string{"primary", "secondary", "local"}
	if got := fg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
}
