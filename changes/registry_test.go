package changes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := newRegistry()
	w := newWaiter()
	r.add(w)

	assert.True(t, r.remove(w))
	assert.False(t, r.remove(w))
	assert.Zero(t, r.len())
}

func TestRegistryResolveAll(t *testing.T) {
	r := newRegistry()
	a, b := newWaiter(), newWaiter()
	r.add(a)
	r.add(b)

	s := State{Version: 1, UpdatedAt: time.Unix(100, 0).UTC()}
	assert.Equal(t, 2, r.resolveAll(s))
	assert.Zero(t, r.len())
	assert.Equal(t, s, <-a.result)
	assert.Equal(t, s, <-b.result)

	// Resolved waiters are gone: removing them reports false.
	assert.False(t, r.remove(a))
}
