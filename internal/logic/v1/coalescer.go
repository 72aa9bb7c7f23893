package v1

import (
	"sync"
	"time"

	"github.com/duynhne/profile-sync/internal/core/domain"
)

// Coalescer buffers per-field edits and forwards at most one write per field
// key after a quiet period. A burst of keystrokes on the same field collapses
// into a single trailing-edge write carrying the last value; different keys
// debounce independently so name, phone and address save on their own
// schedules.
type Coalescer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*pendingSave
	write   func(key string, patch domain.Patch)
	closed  bool

	// inflight counts writes that passed the closed check and are running
	// outside the mutex. Close waits on it before returning.
	inflight sync.WaitGroup
}

type pendingSave struct {
	timer *time.Timer
	patch domain.Patch
}

// NewCoalescer creates a coalescer. write is invoked exactly once per quiet
// window per key, from the timer goroutine.
func NewCoalescer(delay time.Duration, write func(key string, patch domain.Patch)) *Coalescer {
	return &Coalescer{
		delay:   delay,
		pending: make(map[string]*pendingSave),
		write:   write,
	}
}

// Schedule resets any pending timer for key and arms a new one. Only the
// last-scheduled patch within a quiet window is ever sent; an in-flight
// network write, once started, is not affected.
func (c *Coalescer) Schedule(key string, patch domain.Patch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if prev, ok := c.pending[key]; ok {
		prev.timer.Stop()
		autosaveSuperseded.Inc()
	}

	p := &pendingSave{patch: patch}
	p.timer = time.AfterFunc(c.delay, func() {
		c.fire(key, p)
	})
	c.pending[key] = p
}

// ScheduleImmediate bypasses debouncing for toggle-style settings; the write
// happens synchronously relative to the caller.
func (c *Coalescer) ScheduleImmediate(key string, patch domain.Patch) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	// A pending debounced write for the same key is superseded by the toggle.
	if prev, ok := c.pending[key]; ok {
		prev.timer.Stop()
		delete(c.pending, key)
		autosaveSuperseded.Inc()
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.write(key, patch)
}

// fire runs on timer expiry. The entry is only sent if it is still the
// current one for its key; a newer Schedule or Close wins the race.
func (c *Coalescer) fire(key string, p *pendingSave) {
	c.mu.Lock()
	if c.closed || c.pending[key] != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.write(key, p.patch)
}

// Pending reports how many field keys currently have an armed timer.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels every outstanding timer and waits for writes already past
// the closed check. After Close returns no write runs against the session.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
	c.mu.Unlock()
	c.inflight.Wait()
}
