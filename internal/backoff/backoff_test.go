package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}

	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := b.Next(i + 1); got != w*time.Millisecond {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w*time.Millisecond, got)
		}
	}
}

func TestNextJitterStaysInBounds(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		got := b.Next(1)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestFixed(t *testing.T) {
	b := Fixed(5 * time.Millisecond)
	if b.Next(1) != 5*time.Millisecond || b.Next(10) != 5*time.Millisecond {
		t.Fatalf("fixed backoff drifted: %v %v", b.Next(1), b.Next(10))
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Fixed(time.Hour).Sleep(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
