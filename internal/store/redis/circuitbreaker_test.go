package redis

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is advanced manually so tests never sleep.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, reset)
	cb.now = clk.now
	return cb, clk
}

var errFail = errors.New("fail")

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected Open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen || called {
		t.Errorf("expected rejected call, got err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Second)
	var transitions []State
	cb.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", cb.CurrentState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)

	cb.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected Open after failed probe, got %v", cb.CurrentState())
	}
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected cool-down restart, got %v", err)
	}
}

func TestCircuitBreaker_IgnoredErrorsAreSuccess(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	errMiss := errors.New("miss")
	isMiss := func(err error) bool { return errors.Is(err, errMiss) }

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return errMiss }, isMiss); err != errMiss {
			t.Fatalf("expected errMiss passthrough, got %v", err)
		}
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("ignored errors tripped the breaker: %v", cb.CurrentState())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
