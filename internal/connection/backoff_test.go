package connection

import (
	"testing"
	"time"
)

func TestBackoff_ExponentialPhase(t *testing.T) {
	p := BackoffPolicy{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 6,
		LongRetry:   5 * time.Minute,
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
	}

	for attempt, wantDelay := range want {
		delay, exponential := p.Delay(attempt)
		if !exponential {
			t.Errorf("attempt %d: expected exponential phase", attempt)
		}
		if delay != wantDelay {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, delay, wantDelay)
		}
	}
}

func TestBackoff_LongRetryPhase(t *testing.T) {
	p := BackoffPolicy{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 3,
		LongRetry:   5 * time.Minute,
	}

	for _, attempt := range []int{3, 4, 100} {
		delay, exponential := p.Delay(attempt)
		if exponential {
			t.Errorf("attempt %d: should be in long-retry phase", attempt)
		}
		if delay != 5*time.Minute {
			t.Errorf("attempt %d: delay = %v, want 5m", attempt, delay)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	p := BackoffPolicy{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 6,
		LongRetry:   5 * time.Minute,
		Jitter:      0.2,
	}

	for i := 0; i < 100; i++ {
		delay, _ := p.Delay(2) // nominal 4s
		if delay < 3200*time.Millisecond || delay > 4800*time.Millisecond {
			t.Fatalf("jittered delay %v outside [3.2s, 4.8s]", delay)
		}
	}
}

func TestBackoff_OverflowClampsToMax(t *testing.T) {
	p := BackoffPolicy{
		Base:        time.Second,
		Max:         time.Minute,
		MaxAttempts: 80,
		LongRetry:   5 * time.Minute,
	}

	// Shifting far enough to overflow must still yield the cap.
	delay, exponential := p.Delay(70)
	if !exponential {
		t.Fatal("expected exponential phase")
	}
	if delay != time.Minute {
		t.Errorf("delay = %v, want 1m", delay)
	}
}
