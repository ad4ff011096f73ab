// File: internal/concurrency/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer is a single cancellable deadline. At most one wait is outstanding:
// arming again aborts the previous wait first.

package concurrency

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-httpc/api"
)

// TimerStats counts timer transitions.
type TimerStats struct {
	Armed     int64
	Fired     int64
	Cancelled int64
}

// Timer delivers handlers through an executor, never on the runtime timer goroutine.
type Timer struct {
	exec api.Executor

	mu      sync.Mutex
	gen     uint64
	t       *time.Timer
	handler func(error)
	closed  bool

	armed     atomic.Int64
	fired     atomic.Int64
	cancelled atomic.Int64
}

// NewTimer creates an idle timer bound to exec.
func NewTimer(exec api.Executor) *Timer {
	return &Timer{exec: exec}
}

// AsyncWait arms the timer for d. A wait that is still outstanding receives
// ErrOperationAborted; handler receives nil when d elapses.
func (tm *Timer) AsyncWait(d time.Duration, handler func(error)) error {
	if handler == nil {
		return ErrNilTask
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return ErrTimerClosed
	}
	tm.cancelLocked()
	tm.gen++
	gen := tm.gen
	tm.handler = handler
	tm.t = time.AfterFunc(d, func() { tm.fire(gen) })
	tm.armed.Add(1)
	return nil
}

// Cancel aborts the outstanding wait, if any.
func (tm *Timer) Cancel() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.cancelLocked()
}

// Pending reports whether a wait is outstanding.
func (tm *Timer) Pending() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.handler != nil
}

// Close cancels the outstanding wait and rejects further waits.
func (tm *Timer) Close() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.cancelLocked()
	tm.closed = true
}

// Stats returns transition counters.
func (tm *Timer) Stats() TimerStats {
	return TimerStats{
		Armed:     tm.armed.Load(),
		Fired:     tm.fired.Load(),
		Cancelled: tm.cancelled.Load(),
	}
}

func (tm *Timer) fire(gen uint64) {
	tm.mu.Lock()
	if gen != tm.gen || tm.handler == nil {
		tm.mu.Unlock()
		return
	}
	h := tm.handler
	tm.handler = nil
	tm.t = nil
	tm.mu.Unlock()

	tm.fired.Add(1)
	tm.deliver(h, nil)
}

func (tm *Timer) cancelLocked() {
	if tm.handler == nil {
		return
	}
	h := tm.handler
	tm.handler = nil
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
	tm.gen++
	tm.cancelled.Add(1)
	tm.deliver(h, ErrOperationAborted)
}

func (tm *Timer) deliver(h func(error), err error) {
	// A stopped executor swallows the handler; nothing is waiting on it.
	_ = tm.exec.Post(func() { h(err) })
}
