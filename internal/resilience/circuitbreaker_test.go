package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test"})
	if b.threshold != 5 {
		t.Errorf("threshold = %d, want 5", b.threshold)
	}
	if b.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", b.cooldown)
	}
	if b.State() != "closed" {
		t.Errorf("initial state = %q, want closed", b.State())
	}
}

func TestClosedAllowsCalls(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test", Threshold: 3})
	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !called {
		t.Fatal("fn not called in closed state")
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test", Threshold: 3, Cooldown: time.Hour})
	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errTest }); !errors.Is(err, errTest) {
			t.Fatalf("call %d: err = %v, want errTest", i, err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}

	// An open breaker rejects without calling fn.
	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn called while breaker open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test", Threshold: 2, Cooldown: time.Hour})
	b.Do(func() error { return errTest })
	b.Do(func() error { return nil })
	b.Do(func() error { return errTest })
	if b.State() != "closed" {
		t.Fatalf("state = %q, want closed after non-consecutive failures", b.State())
	}
}

func TestHalfOpenProbeCloses(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test", Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.Do(func() error { return errTest })
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// After the cooldown one probe is admitted; success closes the breaker.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("state = %q, want closed after successful probe", b.State())
	}
}

func TestHalfOpenProbeReopens(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test", Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.Do(func() error { return errTest })

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("probe err = %v, want errTest", err)
	}
	if b.State() != "open" {
		t.Fatalf("state = %q, want open after failed probe", b.State())
	}

	// A re-opened breaker rejects immediately again.
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestSingleProbeDuringHalfOpen(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test", Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.Do(func() error { return errTest })

	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	go func() {
		b.Do(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	// While the probe is in flight, other callers are rejected.
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("concurrent call err = %v, want ErrOpen", err)
	}
	close(release)
}
