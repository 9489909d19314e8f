package session

import (
	"testing"
	"time"
)

func TestDebouncer_FiresAfterWindow(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 1)
	d := newDebouncer(func() { fired <- struct{}{} })
	d.arm(20 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("debouncer never fired")
	}
}

func TestDebouncer_ReArmReplacesSchedule(t *testing.T) {
	t.Parallel()

	fired := make(chan time.Time, 2)
	d := newDebouncer(func() { fired <- time.Now() })

	start := time.Now()
	d.arm(30 * time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	d.arm(50 * time.Millisecond)

	select {
	case at := <-fired:
		if elapsed := at.Sub(start); elapsed < 60*time.Millisecond {
			t.Errorf("fired after %v; re-arm should have pushed past 65ms", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("debouncer never fired")
	}

	select {
	case <-fired:
		t.Fatal("debouncer fired twice for one schedule")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_BoundaryReArmSuppressesStaleFire(t *testing.T) {
	t.Parallel()

	fired := make(chan time.Time, 2)
	d := newDebouncer(func() { fired <- time.Now() })

	// Re-arm exactly at the first window's boundary, when its fire may
	// already be in flight. A stale fire sneaking past the re-arm would
	// commit audio without a fresh window of silence.
	d.arm(10 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	rearmed := time.Now()
	d.arm(100 * time.Millisecond)

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case at := <-fired:
			if at.Before(rearmed) {
				// The first schedule completed before the re-arm; that
				// fire is real, not stale.
				continue
			}
			if early := at.Sub(rearmed); early < 90*time.Millisecond {
				t.Fatalf("fired %v after re-arm; want the full window", early)
			}
			return
		case <-deadline:
			t.Fatal("debouncer never fired after re-arm")
		}
	}
}

func TestDebouncer_StopCancels(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 1)
	d := newDebouncer(func() { fired <- struct{}{} })
	d.arm(30 * time.Millisecond)
	d.stop()

	select {
	case <-fired:
		t.Fatal("debouncer fired after stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_StopWithoutArm(t *testing.T) {
	t.Parallel()

	d := newDebouncer(func() {})
	d.stop()
	d.arm(10 * time.Millisecond)
	d.stop()
}
