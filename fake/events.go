// File: fake/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Recording EventReactor for tests. Nothing is polled: armed callbacks stay
// pending until the test fires them.

package fake

import (
	"sync"

	"github.com/momentics/hioload-httpc/reactor"
)

// Arm is one recorded arm call.
type Arm struct {
	FD       int
	Interest reactor.Interest
}

// EventReactor implements reactor.EventReactor in memory.
type EventReactor struct {
	mu        sync.Mutex
	arms      []Arm
	pending   map[Arm]func()
	forgotten []int
	closed    bool
}

var _ reactor.EventReactor = (*EventReactor)(nil)

// NewEventReactor returns an empty recording reactor.
func NewEventReactor() *EventReactor {
	return &EventReactor{pending: make(map[Arm]func())}
}

func (f *EventReactor) ArmRead(fd int, cb func()) error {
	return f.arm(Arm{FD: fd, Interest: reactor.InterestRead}, cb)
}

func (f *EventReactor) ArmWrite(fd int, cb func()) error {
	return f.arm(Arm{FD: fd, Interest: reactor.InterestWrite}, cb)
}

func (f *EventReactor) arm(a Arm, cb func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return reactor.ErrReactorClosed
	}
	f.arms = append(f.arms, a)
	// Same as epoll: an armed direction keeps its first callback.
	if _, ok := f.pending[a]; !ok {
		f.pending[a] = cb
	}
	return nil
}

// Forget drops pending callbacks for fd.
func (f *EventReactor) Forget(fd int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, fd)
	for a := range f.pending {
		if a.FD == fd {
			delete(f.pending, a)
		}
	}
}

// Close rejects further arms and drops pending callbacks.
func (f *EventReactor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.pending = make(map[Arm]func())
	return nil
}

// Fire runs the pending callback for fd and direction once. It reports
// whether one was armed.
func (f *EventReactor) Fire(fd int, in reactor.Interest) bool {
	a := Arm{FD: fd, Interest: in}
	f.mu.Lock()
	cb, ok := f.pending[a]
	delete(f.pending, a)
	f.mu.Unlock()
	if ok {
		cb()
	}
	return ok
}

// Arms returns every arm call in order.
func (f *EventReactor) Arms() []Arm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Arm(nil), f.arms...)
}

// Forgotten returns the fds passed to Forget in order.
func (f *EventReactor) Forgotten() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.forgotten...)
}

// Closed reports whether Close was called.
func (f *EventReactor) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
