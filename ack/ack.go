// Package ack carries "finished" acknowledgments pushed by overlay pages and
// external players back to the goroutine waiting on them.
package ack

import (
	"context"
	"time"
)

// Latch holds at most one pending acknowledgment.
type Latch struct {
	ch chan struct{}
}

// New returns an empty latch.
func New() *Latch { return &Latch{ch: make(chan struct{}, 1)} }

// Signal records an acknowledgment. Extra signals while one is pending are
// dropped.
func (l *Latch) Signal() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Reset discards a stale acknowledgment left over from an earlier wait.
func (l *Latch) Reset() {
	select {
	case <-l.ch:
	default:
	}
}

// Wait blocks until an acknowledgment arrives, timeout elapses or ctx is
// done. It reports whether the acknowledgment was received. A non-positive
// timeout waits only on ctx.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) bool {
	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-l.ch:
		return true
	case <-expire:
		return false
	case <-ctx.Done():
		return false
	}
}
