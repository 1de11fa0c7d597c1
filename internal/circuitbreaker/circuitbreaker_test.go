package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var errUpstream = errors.New("upstream 503")

type transition struct{ from, to State }

func newTestBreaker(clock clockwork.Clock, got *[]transition) *CircuitBreaker {
	return New(Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Component:        "forecast_api",
		Clock:            clock,
		OnStateChange: func(component string, from, to State) {
			*got = append(*got, transition{from, to})
		},
	})
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []transition
	cb := newTestBreaker(clockwork.NewFakeClock(), &transitions)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Call(ctx, fail); !errors.Is(err, errUpstream) {
			t.Fatalf("Call() #%d error = %v, want upstream error", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Call(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Call() while open error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn was called while circuit open")
	}
	if len(transitions) != 1 || transitions[0] != (transition{StateClosed, StateOpen}) {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

func TestCircuitBreaker_HalfOpenTrialCall(t *testing.T) {
	var transitions []transition
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)
	clock.Advance(time.Minute + time.Second)

	if err := cb.Call(ctx, succeed); err != nil {
		t.Fatalf("trial Call() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() after successful trial call = %v, want closed", cb.State())
	}
	want := []transition{{StateClosed, StateOpen}, {StateOpen, StateHalfOpen}, {StateHalfOpen, StateClosed}}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_FailedTrialCallReopens(t *testing.T) {
	var transitions []transition
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)
	clock.Advance(2 * time.Minute)
	_ = cb.Call(ctx, fail)

	if cb.State() != StateOpen {
		t.Errorf("State() after failed trial call = %v, want open", cb.State())
	}
	if err := cb.Call(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("Call() immediately after failed trial call error = %v, want ErrOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	var transitions []transition
	cb := newTestBreaker(clockwork.NewFakeClock(), &transitions)
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, succeed)
	_ = cb.Call(ctx, fail)
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed (failures not consecutive)", cb.State())
	}
}

func TestCircuitBreaker_CanceledCallerNotCounted(t *testing.T) {
	var transitions []transition
	cb := newTestBreaker(clockwork.NewFakeClock(), &transitions)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, func() error { return context.Canceled })
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
