package backoff

import (
	"testing"
	"time"
)

func TestNextIsBoundedByMax(t *testing.T) {
	b := New(5)
	for i := 0; i < 50; i++ {
		if d := b.Next(); d > 5*time.Second {
			t.Fatalf("delay %v exceeded max", d)
		}
	}
}

func TestResetZeroesWindow(t *testing.T) {
	b := New(30)
	for i := 0; i < 10; i++ {
		b.Next()
	}
	b.Reset()
	d := b.Next()
	if d > time.Second {
		t.Fatalf("expected small delay right after reset, got %v", d)
	}
}

func TestWindowIsMonotonicBounded(t *testing.T) {
	b := New(30)
	var prevHigh time.Duration
	for i := 0; i < 5; i++ {
		b.Next()
		// the sampling window ceiling never shrinks between calls until Reset
		high := b.duration + 500*time.Millisecond
		if high < prevHigh {
			t.Fatalf("window shrank without reset: %v < %v", high, prevHigh)
		}
		prevHigh = high
	}
}
