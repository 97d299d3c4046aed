// Package coarsetime is a clock for timestamps that tolerate a 50ms error:
// connection activity, idle durations and acquire waits. Reading it is an
// atomic load instead of a clock call.
package coarsetime

import (
	"sync/atomic"
	"time"
)

// Resolution is the refresh interval of the clock.
const Resolution = 50 * time.Millisecond

var now atomic.Pointer[time.Time]

func init() {
	refresh()

	ticker := time.NewTicker(Resolution)
	go func() {
		for range ticker.C {
			refresh()
		}
	}()
}

func refresh() {
	t := time.Now()
	now.Store(&t)
}

// Now returns the current time, at most Resolution late.
func Now() time.Time {
	return *now.Load()
}

// Since returns the coarse time elapsed since t. It is never negative.
func Since(t time.Time) time.Duration {
	return max(Now().Sub(t), 0)
}
