// File: engine/multi.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multi drives many transfers without blocking. It is not safe for
// concurrent use: the caller serializes every call. Socket interest changes
// and timer hints are reported through callbacks; finished transfers are
// queued for InfoRead.

package engine

import (
	"math"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
)

// timeoutUnset marks that no timer hint has been reported yet.
const timeoutUnset int64 = math.MinInt64

const scratchSize = 64 << 10

// SocketFunc is told whenever the interest of a transfer socket changes.
// Returning an error aborts the transfer with AbortedByCallback.
type SocketFunc func(t *Transfer, fd int, what PollAction) error

// TimerFunc receives the delay in milliseconds after which SocketAction
// must be called with SocketTimeout; -1 means no tick is needed.
type TimerFunc func(timeoutMs int64)

// Message reports a finished transfer.
type Message struct {
	Transfer *Transfer
	Result   Code
}

// Multi is the multi-transfer handle.
type Multi struct {
	transfers map[uuid.UUID]*Transfer
	sockets   map[int]*Transfer
	done      *queue.Queue // of Message
	running   int

	socketFn     SocketFunc
	timerFn      TimerFunc
	lastTimeout  int64
	timerDepth   int
	maxTransfers int

	cache   *dnsCache
	scratch []byte
	inAPI   bool
	closed  bool
}

// NewMulti creates a multi handle. GlobalInit must have succeeded.
func NewMulti() (*Multi, error) {
	if !global.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return &Multi{
		transfers:    make(map[uuid.UUID]*Transfer),
		sockets:      make(map[int]*Transfer),
		done:         queue.New(),
		lastTimeout:  timeoutUnset,
		maxTransfers: global.maxTransfers,
		cache:        global.cache,
		scratch:      make([]byte, scratchSize),
	}, nil
}

// SetSocketFunc installs the socket interest callback.
func (m *Multi) SetSocketFunc(fn SocketFunc) MultiCode {
	switch {
	case m == nil || m.closed:
		return MultiBadHandle
	case fn == nil:
		return MultiBadArgument
	}
	m.socketFn = fn
	return MultiOK
}

// SetTimerFunc installs the timer hint callback.
func (m *Multi) SetTimerFunc(fn TimerFunc) MultiCode {
	switch {
	case m == nil || m.closed:
		return MultiBadHandle
	case fn == nil:
		return MultiBadArgument
	}
	m.timerFn = fn
	return MultiOK
}

// SetMaxTransfers caps concurrently added transfers.
func (m *Multi) SetMaxTransfers(n int) MultiCode {
	switch {
	case m == nil || m.closed:
		return MultiBadHandle
	case n <= 0:
		return MultiBadArgument
	}
	m.maxTransfers = n
	return MultiOK
}

// Add registers t and schedules an immediate tick to start it.
func (m *Multi) Add(t *Transfer) MultiCode {
	switch {
	case m == nil || m.closed:
		return MultiBadHandle
	case t == nil:
		return MultiBadEasyHandle
	case m.inAPI:
		return MultiRecursiveAPICall
	case t.multi != nil:
		return MultiAddedAlready
	case len(m.transfers) >= m.maxTransfers:
		return MultiMaxTransfers
	}
	t.multi = m
	m.transfers[t.id] = t
	m.running++

	m.inAPI = true
	t.begin(m, time.Now())
	m.inAPI = false

	m.updateTimer()
	return MultiOK
}

// Remove detaches t, aborting it if it has not finished. Pending
// completion messages for t are discarded.
func (m *Multi) Remove(t *Transfer) MultiCode {
	switch {
	case m == nil || m.closed:
		return MultiBadHandle
	case t == nil || t.multi != m:
		return MultiBadEasyHandle
	case m.inAPI:
		return MultiRecursiveAPICall
	}
	m.inAPI = true
	if t.state != stateDone {
		t.abort(m)
		m.running--
	}
	m.inAPI = false

	delete(m.transfers, t.id)
	t.multi = nil
	m.purge(t)
	m.updateTimer()
	return MultiOK
}

// SocketAction reports readiness ev on fd, or a timer tick when fd is
// SocketTimeout, and returns the number of unfinished transfers.
func (m *Multi) SocketAction(fd int, ev PollAction) (int, MultiCode) {
	switch {
	case m == nil || m.closed:
		return 0, MultiBadHandle
	case m.inAPI:
		return m.running, MultiRecursiveAPICall
	}
	now := time.Now()
	code := MultiOK

	m.inAPI = true
	if fd != SocketTimeout {
		if t, ok := m.sockets[fd]; ok {
			t.step(m, ev, now)
		} else {
			code = MultiBadSocket
		}
	} else {
		// The caller's timer has expired; the next hint must be reported
		// even when it repeats the previous value.
		m.lastTimeout = timeoutUnset
	}
	for _, t := range m.due(now) {
		t.step(m, PollNone, now)
	}
	m.inAPI = false

	m.updateTimer()
	return m.running, code
}

// InfoRead pops the next completion message.
func (m *Multi) InfoRead() (Message, bool) {
	if m == nil || m.done.Length() == 0 {
		return Message{}, false
	}
	return m.done.Remove().(Message), true
}

// Running returns the number of unfinished transfers.
func (m *Multi) Running() int { return m.running }

// Len returns the number of added transfers, finished or not.
func (m *Multi) Len() int { return len(m.transfers) }

// Close aborts and detaches every transfer. Socket callbacks are not
// invoked; hook-owned sockets are still released.
func (m *Multi) Close() MultiCode {
	if m == nil || m.closed {
		return MultiBadHandle
	}
	m.closed = true
	for id, t := range m.transfers {
		t.abort(nil)
		t.multi = nil
		delete(m.transfers, id)
	}
	m.sockets = make(map[int]*Transfer)
	m.done = queue.New()
	m.running = 0
	return MultiOK
}

func (m *Multi) due(now time.Time) []*Transfer {
	var out []*Transfer
	for _, t := range m.transfers {
		if t.due(now) {
			out = append(out, t)
		}
	}
	return out
}

// setInterest records and reports a socket interest change.
func (m *Multi) setInterest(t *Transfer, what PollAction) {
	if t.fd < 0 || what == t.interest {
		return
	}
	fd := t.fd
	if what == PollRemove {
		delete(m.sockets, fd)
		t.interest = PollNone
	} else {
		m.sockets[fd] = t
		t.interest = what
	}
	if m.socketFn == nil {
		return
	}
	if err := m.socketFn(t, fd, what); err != nil && what != PollRemove && t.cbErr == nil {
		t.cbErr = err
	}
}

// complete queues the completion message of t.
func (m *Multi) complete(t *Transfer, code Code) {
	if m == nil {
		return
	}
	m.running--
	m.done.Add(Message{Transfer: t, Result: code})
}

// purge drops queued messages that refer to t.
func (m *Multi) purge(t *Transfer) {
	n := m.done.Length()
	for i := 0; i < n; i++ {
		msg := m.done.Remove().(Message)
		if msg.Transfer != t {
			m.done.Add(msg)
		}
	}
}

// nextTimeout returns the delay until the earliest transfer wake-up.
func (m *Multi) nextTimeout(now time.Time) int64 {
	var at time.Time
	for _, t := range m.transfers {
		if w, ok := t.nextWake(); ok && (at.IsZero() || w.Before(at)) {
			at = w
		}
	}
	if at.IsZero() {
		return -1
	}
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// updateTimer reports the next timeout when it changed. A zero hint from
// inside a timer callback is raised to 1ms to bound recursion.
func (m *Multi) updateTimer() {
	if m.timerFn == nil || m.closed {
		return
	}
	ms := m.nextTimeout(time.Now())
	if ms == 0 && m.timerDepth > 0 {
		ms = 1
	}
	if ms == m.lastTimeout && ms != 0 {
		return
	}
	m.lastTimeout = ms
	m.timerDepth++
	m.timerFn(ms)
	m.timerDepth--
}
