// Package lifecycle tracks whether the bridge is shutting down.
package lifecycle

import "sync/atomic"

// Lifecycle is a one-way draining flag: once set, readiness fails and new
// calls are refused for the rest of the process. The zero value is serving.
type Lifecycle struct {
	draining atomic.Bool
}

// Drain marks the bridge as shutting down. It reports whether this call
// started the drain.
func (l *Lifecycle) Drain() bool {
	if l == nil {
		return false
	}
	return l.draining.CompareAndSwap(false, true)
}

func (l *Lifecycle) Draining() bool {
	return l != nil && l.draining.Load()
}
