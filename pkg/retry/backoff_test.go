package retry

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		// 50ms doubling up to the 5s cap.
		expected := []time.Duration{
			50 * time.Millisecond,
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			1600 * time.Millisecond,
			3200 * time.Millisecond,
			5 * time.Second,
			5 * time.Second,
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()

			if base < exp-time.Millisecond || base > exp+time.Millisecond {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		samples := make([]time.Duration, 20)
		for i := range samples {
			samples[i] = b.Peek()
		}

		upper := time.Duration(float64(InitialBackoff)*(1+JitterFactor)) + time.Millisecond
		for i, s := range samples {
			if s < InitialBackoff || s > upper {
				t.Errorf("Sample %d: %v out of range [%v, %v]", i, s, InitialBackoff, upper)
			}
		}

		allSame := true
		for i := 1; i < len(samples); i++ {
			if samples[i] != samples[0] {
				allSame = false
				break
			}
		}
		if allSame {
			t.Error("All jittered samples are identical")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("Backoff should have increased")
		}

		b.Reset()

		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    10 * time.Millisecond,
			Max:        30 * time.Millisecond,
			Multiplier: 3,
		})

		if d := b.Next(); d != 10*time.Millisecond {
			t.Errorf("first Next() = %v, want 10ms (no jitter)", d)
		}
		if d := b.Next(); d != 30*time.Millisecond {
			t.Errorf("second Next() = %v, want 30ms", d)
		}
		if d := b.Next(); d != 30*time.Millisecond {
			t.Errorf("third Next() = %v, want capped 30ms", d)
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		b.Next()
		if b.Current() != time.Second {
			t.Errorf("Current() = %v, want 1s", b.Current())
		}
	})
}
