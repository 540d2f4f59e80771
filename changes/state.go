// Package changes tracks the "has anything changed" version of the listing
// data set and lets long-poll clients wait for it to move past a baseline.
package changes

import "time"

// State is a snapshot of the change counter. A given Version is always
// reported with the UpdatedAt it was produced with.
type State struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Long-poll timeout bounds applied by ClampTimeout.
const (
	MinTimeout     = time.Second
	MaxTimeout     = 60 * time.Second
	DefaultTimeout = 25 * time.Second
)

// ClampTimeout normalizes a caller supplied long-poll timeout into
// [MinTimeout, MaxTimeout]. A zero duration means DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}
