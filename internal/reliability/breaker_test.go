package reliability

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})

	_ = b.Do(func() error { return errUpstream })
	if b.State() != BreakerClosed {
		t.Fatalf("State() = %q, want closed after one failure", b.State())
	}
	_ = b.Do(func() error { return errUpstream })
	if b.State() != BreakerOpen {
		t.Fatalf("State() = %q, want open", b.State())
	}

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Do() error = %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Fatalf("fn called while breaker open")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2})
	_ = b.Do(func() error { return errUpstream })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errUpstream })
	if b.State() != BreakerClosed {
		t.Fatalf("State() = %q, want closed", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Second})
	b.now = func() time.Time { return now }

	_ = b.Do(func() error { return errUpstream })
	if b.State() != BreakerOpen {
		t.Fatalf("State() = %q, want open", b.State())
	}

	now = now.Add(2 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("State() = %q, want half_open after reset timeout", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe Do() error = %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("State() = %q, want closed after successful probe", b.State())
	}
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	errClient := errors.New("bad request")
	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		Counts:      func(err error) bool { return !errors.Is(err, errClient) },
	})
	_ = b.Do(func() error { return errClient })
	if b.State() != BreakerClosed {
		t.Fatalf("State() = %q, want closed for uncounted error", b.State())
	}
}

func TestNilBreakerRunsFn(t *testing.T) {
	var b *Breaker
	if err := b.Do(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("Do() error = %v, want errUpstream", err)
	}
}
