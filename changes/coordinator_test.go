package changes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitTestTimeout bounds every blocking step in these tests.
const waitTestTimeout = 5 * time.Second

func newTestCoordinator() *Coordinator {
	return NewCoordinator(Config{})
}

func TestAdvanceIncrementsByOne(t *testing.T) {
	c := newTestCoordinator()
	initial := c.Get()
	require.Equal(t, int64(0), initial.Version)

	prev := initial
	for i := 1; i <= 20; i++ {
		s := c.Advance()
		assert.Equal(t, int64(i), s.Version)
		assert.False(t, s.UpdatedAt.Before(prev.UpdatedAt), "updatedAt went backwards")
		assert.Equal(t, s, c.Get())
		prev = s
	}
}

// scriptedClock returns the queued times from Now, repeating the last one.
type scriptedClock struct {
	clock.Clock
	times []time.Time
}

func (c *scriptedClock) Now() time.Time {
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func TestAdvanceTimestampNeverGoesBackwards(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := &scriptedClock{
		Clock: clock.WallClock,
		times: []time.Time{start, start.Add(time.Second), start.Add(-time.Minute)},
	}
	c := NewCoordinator(Config{Clock: clk})

	first := c.Advance()
	second := c.Advance()

	assert.Equal(t, start.Add(time.Second), first.UpdatedAt)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, int64(2), second.Version)
}

func TestWaitForChangeReturnsImmediatelyWhenAhead(t *testing.T) {
	c := newTestCoordinator()
	c.Advance()
	c.Advance()

	start := time.Now()
	s, ok := c.WaitForChange(context.Background(), 1, time.Minute)
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Version)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, c.Pending())
}

func TestWaitForChangeTimesOut(t *testing.T) {
	c := newTestCoordinator()

	start := time.Now()
	_, ok := c.WaitForChange(context.Background(), 0, 80*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Zero(t, c.Pending(), "timed out waiter must be deregistered")
}

func TestWaitForChangeTimeoutWithTestClock(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	c := NewCoordinator(Config{Clock: clk})

	done := make(chan bool)
	go func() {
		_, ok := c.WaitForChange(context.Background(), 0, 30*time.Second)
		done <- ok
	}()

	require.NoError(t, clk.WaitAdvance(30*time.Second, waitTestTimeout, 1))
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(waitTestTimeout):
		t.Fatal("waiter did not time out")
	}
	assert.Zero(t, c.Pending())
}

func TestWaitForChangeCancelled(t *testing.T) {
	c := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := c.WaitForChange(ctx, 0, time.Minute)
		done <- ok
	}()

	require.Eventually(t, func() bool { return c.Pending() == 1 }, waitTestTimeout, time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(waitTestTimeout):
		t.Fatal("cancelled waiter did not return")
	}
	assert.Zero(t, c.Pending())
}

func TestAdvanceResolvesAllWaitersOnce(t *testing.T) {
	const n = 50
	c := newTestCoordinator()

	results := make(chan State, n*2)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, ok := c.WaitForChange(context.Background(), 0, waitTestTimeout)
			if ok {
				results <- s
			}
		}()
	}

	require.Eventually(t, func() bool { return c.Pending() == n }, waitTestTimeout, time.Millisecond)
	advanced := c.Advance()
	wg.Wait()
	close(results)

	var got []State
	for s := range results {
		got = append(got, s)
	}
	require.Len(t, got, n)
	for _, s := range got {
		assert.Equal(t, advanced, s)
	}
	assert.Zero(t, c.Pending())
}

func TestResetResolvesWaitersAndDoesNotRefire(t *testing.T) {
	c := newTestCoordinator()
	c.Advance()
	c.Advance()

	done := make(chan State, 1)
	go func() {
		s, ok := c.WaitForChange(context.Background(), 2, waitTestTimeout)
		if ok {
			done <- s
		}
		close(done)
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, waitTestTimeout, time.Millisecond)

	reset := c.Reset()
	assert.Equal(t, int64(0), reset.Version)
	s, ok := <-done
	require.True(t, ok, "waiter was not resolved by reset")
	assert.Equal(t, reset, s)

	_, fired := c.WaitForChange(context.Background(), 0, 50*time.Millisecond)
	assert.False(t, fired, "waiting from 0 after a reset must block until the next change")
}

func TestWaitForChangeReleasedByLaterAdvance(t *testing.T) {
	c := newTestCoordinator()

	go func() {
		time.Sleep(100 * time.Millisecond)
		c.Advance()
	}()

	start := time.Now()
	s, ok := c.WaitForChange(context.Background(), 0, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Version)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConcurrentAdvanceAndWait(t *testing.T) {
	c := newTestCoordinator()
	const waiters, advances = 40, 40

	var waitersWG, advancersWG sync.WaitGroup
	var failures sync.Map
	for i := 0; i < waiters; i++ {
		waitersWG.Add(1)
		go func(i int) {
			defer waitersWG.Done()
			since := c.Get().Version
			s, ok := c.WaitForChange(context.Background(), since, waitTestTimeout)
			if !ok || s.Version <= since {
				failures.Store(i, s)
			}
		}(i)
	}
	for i := 0; i < advances; i++ {
		advancersWG.Add(1)
		go func() {
			defer advancersWG.Done()
			c.Advance()
		}()
	}
	advancersWG.Wait()
	assert.Equal(t, int64(advances), c.Get().Version)

	// Waiters that parked after the last advance need one more change.
	done := make(chan struct{})
	go func() {
		waitersWG.Wait()
		close(done)
	}()
	deadline := time.After(waitTestTimeout)
	for {
		select {
		case <-done:
			failures.Range(func(k, v interface{}) bool {
				t.Errorf("waiter %v: got %+v", k, v)
				return true
			})
			return
		case <-time.After(20 * time.Millisecond):
			if c.Pending() > 0 {
				c.Advance()
			}
		case <-deadline:
			t.Fatal("concurrent waiters did not finish")
		}
	}
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, ClampTimeout(0))
	assert.Equal(t, MinTimeout, ClampTimeout(10*time.Millisecond))
	assert.Equal(t, MaxTimeout, ClampTimeout(time.Hour))
	assert.Equal(t, 5*time.Second, ClampTimeout(5*time.Second))
}
