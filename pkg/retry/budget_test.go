package retry

import (
	"testing"
	"time"
)

func TestBudget(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("FirstAttemptImmediate", func(t *testing.T) {
		b := NewBudget(10 * time.Second)
		b.Begin(start)

		if b.Exhausted(start) {
			t.Error("fresh budget reported exhausted")
		}
		if w := b.Wait(start, 3*time.Second); w != 0 {
			t.Errorf("Wait before first attempt = %v, want 0", w)
		}
		if n := b.Attempt(); n != 1 {
			t.Errorf("Attempt() = %d, want 1", n)
		}
		if w := b.Wait(start, 3*time.Second); w != 3*time.Second {
			t.Errorf("Wait after first attempt = %v, want 3s", w)
		}
	})

	t.Run("WaitClippedToRemaining", func(t *testing.T) {
		b := NewBudget(10 * time.Second)
		b.Begin(start)
		b.Attempt()

		now := start.Add(8 * time.Second)
		if r := b.Remaining(now); r != 2*time.Second {
			t.Errorf("Remaining = %v, want 2s", r)
		}
		if w := b.Wait(now, 5*time.Second); w != 2*time.Second {
			t.Errorf("Wait = %v, want clipped 2s", w)
		}
	})

	t.Run("Exhausted", func(t *testing.T) {
		b := NewBudget(10 * time.Second)
		b.Begin(start)
		b.Attempt()

		if b.Exhausted(start.Add(9 * time.Second)) {
			t.Error("exhausted before window end")
		}
		if !b.Exhausted(start.Add(10 * time.Second)) {
			t.Error("not exhausted at window end")
		}
		if e := b.Elapsed(start.Add(15 * time.Second)); e != 15*time.Second {
			t.Errorf("Elapsed = %v, want 15s", e)
		}
		if r := b.Remaining(start.Add(15 * time.Second)); r != 0 {
			t.Errorf("Remaining = %v, want 0", r)
		}
	})

	t.Run("ZeroTotalSingleAttempt", func(t *testing.T) {
		b := NewBudget(0)
		b.Begin(start)

		if b.Exhausted(start) {
			t.Error("zero budget must allow one attempt")
		}
		b.Attempt()
		if !b.Exhausted(start) {
			t.Error("zero budget must be exhausted after one attempt")
		}
	})

	t.Run("BeginResets", func(t *testing.T) {
		b := NewBudget(time.Second)
		b.Begin(start)
		b.Attempt()
		b.Attempt()

		later := start.Add(time.Hour)
		b.Begin(later)
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after Begin, want 0", b.Attempts())
		}
		if b.Exhausted(later) {
			t.Error("restarted budget reported exhausted")
		}
		if !b.Started() {
			t.Error("Started() = false after Begin")
		}
	})
}
