package session

import (
	"sync"
	"time"
)

// debouncer is a cancellable one-shot timer that can be re-armed. Each arm
// replaces the previous schedule, so at most one fire is delivered per
// schedule: a fire already in flight when arm or stop changes the schedule
// is discarded by a generation check. fire runs on the timer goroutine;
// callers route it back into the session mailbox rather than touching
// session state directly.
type debouncer struct {
	fire func()

	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

func newDebouncer(fire func()) *debouncer {
	return &debouncer{fire: fire}
}

// arm schedules fire after d, replacing any pending schedule.
func (b *debouncer) arm(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.t != nil {
		b.t.Stop()
	}
	b.gen++
	gen := b.gen
	b.t = time.AfterFunc(d, func() {
		b.mu.Lock()
		live := gen == b.gen
		b.mu.Unlock()
		if live {
			b.fire()
		}
	})
}

// stop cancels any pending schedule, including a fire already in flight.
func (b *debouncer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	if b.t != nil {
		b.t.Stop()
		b.t = nil
	}
}
