package breaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)}
	b := New("test", max, reset)
	b.now = clk.now
	return b, clk
}

var errFail = errors.New("fail")

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.State() != StateClosed {
		t.Errorf("expected Closed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.State() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}

	clk.advance(1500 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}

	clk.advance(2 * time.Second)
	b.Execute(func() error { return errFail })

	if b.State() != StateOpen {
		t.Errorf("expected Open after failed probe, got %v", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("reopened breaker should reject, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	if b.State() != StateClosed {
		t.Errorf("expected Closed (counter should have reset), got %v", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []State
	b, clk := newTestBreaker(1, time.Second)
	b.OnStateChange = func(name string, from, to State) {
		if name != "test" {
			t.Errorf("name = %q", name)
		}
		transitions = append(transitions, to)
	}

	b.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)
	b.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}
