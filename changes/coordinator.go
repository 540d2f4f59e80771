package changes

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/c0deZ3R0/go-rental-sync/metrics"
)

// Config holds the Coordinator's collaborators. Zero values are replaced by
// the wall clock and a no-op metrics collector.
type Config struct {
	Clock   clock.Clock
	Metrics metrics.Collector
}

// Coordinator owns the current State and the waiters parked on it. The state
// check and the waiter registration in WaitForChange, and the state change and
// waiter release in Advance and Reset, happen under one mutex, so a change can
// never slip between a client reading the version and registering to wait.
type Coordinator struct {
	mu      sync.Mutex
	clock   clock.Clock
	metrics metrics.Collector
	state   State
	waiters *registry
}

// NewCoordinator creates a coordinator at version 0.
func NewCoordinator(config Config) *Coordinator {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	c := &Coordinator{
		clock:   config.Clock,
		metrics: metrics.OrNoOp(config.Metrics),
		waiters: newRegistry(),
	}
	c.state = State{Version: 0, UpdatedAt: c.now()}
	return c
}

// Get returns the current state.
func (c *Coordinator) Get() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Advance increments the version, stamps it with the current time and releases
// every pending waiter with the new state.
func (c *Coordinator) Advance() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(c.state.Version+1, "advance")
}

// Reset sets the version back to 0 and releases waiters like Advance does.
//
// Clients holding a baseline above 0 are not told about the reset: their
// next long-poll will treat versions 1, 2, ... as already seen until the
// counter passes their baseline again. Only expose Reset to trusted callers.
func (c *Coordinator) Reset() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(0, "reset")
}

// Pending returns the number of parked waiters.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters.len()
}

// WaitForChange returns the current state as soon as its version is greater
// than since. If it already is, it returns without blocking. Otherwise it
// waits until Advance or Reset runs, timeout elapses or ctx is done. The
// boolean result is false on timeout or cancellation.
//
// A resolution that lands concurrently with the timeout or the cancellation
// wins: the state is returned rather than discarded.
func (c *Coordinator) WaitForChange(ctx context.Context, since int64, timeout time.Duration) (State, bool) {
	c.mu.Lock()
	if c.state.Version > since {
		s := c.state
		c.mu.Unlock()
		c.metrics.RecordLongPoll(metrics.OutcomeImmediate)
		return s, true
	}
	w := newWaiter()
	c.waiters.add(w)
	c.metrics.SetPendingWaiters(c.waiters.len())
	c.mu.Unlock()

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	var outcome string
	select {
	case s := <-w.result:
		c.metrics.RecordLongPoll(metrics.OutcomeChanged)
		return s, true
	case <-timer.Chan():
		outcome = metrics.OutcomeTimeout
	case <-ctx.Done():
		outcome = metrics.OutcomeCancelled
	}

	c.mu.Lock()
	removed := c.waiters.remove(w)
	c.metrics.SetPendingWaiters(c.waiters.len())
	c.mu.Unlock()

	if !removed {
		// Resolved between the wake-up and re-acquiring the lock.
		c.metrics.RecordLongPoll(metrics.OutcomeChanged)
		return <-w.result, true
	}
	c.metrics.RecordLongPoll(outcome)
	return State{}, false
}

func (c *Coordinator) setLocked(version int64, kind string) State {
	now := c.now()
	if now.Before(c.state.UpdatedAt) {
		now = c.state.UpdatedAt
	}
	c.state = State{Version: version, UpdatedAt: now}
	c.waiters.resolveAll(c.state)
	c.metrics.SetPendingWaiters(0)
	c.metrics.RecordStateChange(kind)
	return c.state
}

func (c *Coordinator) now() time.Time {
	// Drop the monotonic reading so states compare with ==.
	return c.clock.Now().UTC().Round(0)
}
