package reset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
)

type fakeLine struct {
	values []int
	closed bool
}

func (f *fakeLine) SetValue(v int) error { f.values = append(f.values, v); return nil }
func (f *fakeLine) Close() error         { f.closed = true; return nil }

func withFakeLine(t *testing.T) *fakeLine {
	t.Helper()
	fl := &fakeLine{}
	prev := openLineFn
	openLineFn = func(chip string, offset int) (outputLine, error) { return fl, nil }
	t.Cleanup(func() { openLineFn = prev })
	return fl
}

func TestPulse(t *testing.T) {
	fl := withFakeLine(t)
	clk := clock.NewMock()
	l, err := Open(Config{Chip: "gpiochip0", Line: 17, Pulse: 50 * time.Millisecond, Boot: time.Second, Clock: clk})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Pulse(context.Background()) }()

	// Advance until the pulse returns; the mock needs timers to be armed first.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Pulse: %v", err)
			}
			if diff := cmp.Diff([]int{0, 1}, fl.values); diff != "" {
				t.Fatalf("line values mismatch (-want +got):\n%s", diff)
			}
			if err := l.Close(); err != nil || !fl.closed {
				t.Fatalf("Close: err=%v closed=%v", err, fl.closed)
			}
			return
		case <-deadline:
			t.Fatalf("Pulse did not return")
		case <-time.After(time.Millisecond):
			clk.Add(100 * time.Millisecond)
		}
	}
}

func TestPulseCancelledStillReleases(t *testing.T) {
	fl := withFakeLine(t)
	l, err := Open(Config{Chip: "gpiochip0", Line: 1, Pulse: time.Hour, Clock: clock.NewMock()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Pulse(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if diff := cmp.Diff([]int{0, 1}, fl.values); diff != "" {
		t.Fatalf("line values mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenValidation(t *testing.T) {
	withFakeLine(t)
	if _, err := Open(Config{Line: 3}); err == nil {
		t.Fatalf("Open without chip succeeded")
	}
	if _, err := Open(Config{Chip: "gpiochip0", Line: -1}); err == nil {
		t.Fatalf("Open with negative line succeeded")
	}
}
