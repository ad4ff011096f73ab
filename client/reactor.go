// File: client/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor bridges the transfer engine with the readiness reactor and the
// worker pool. Every engine call, registry change and socket bookkeeping
// step runs as a strand task, so the engine never sees concurrent calls.
// Finalization of completed transfers runs on the pool, outside the strand.

package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-httpc/api"
	"github.com/momentics/hioload-httpc/engine"
	"github.com/momentics/hioload-httpc/internal/concurrency"
	"github.com/momentics/hioload-httpc/reactor"
)

// socketEntry is the per-fd bookkeeping of the Reactor.
type socketEntry struct {
	conn     *Connection
	interest engine.PollAction
}

// ReactorStats is a snapshot of Reactor counters.
type ReactorStats struct {
	Registered  int64
	Completed   int64
	Failed      int64
	Active      int
	Sockets     int
	TimerArmed  int64
	TimerFired  int64
	StrandTasks int64
}

// Reactor owns the engine multi handle. Fields below the strand line are
// touched only from strand tasks, or from close once the pool is joined.
type Reactor struct {
	pool   *concurrency.ThreadPool
	events reactor.EventReactor
	strand *concurrency.Strand
	timer  *concurrency.Timer
	logger *slog.Logger

	closing atomic.Bool

	registered atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	active     atomic.Int64
	nsockets   atomic.Int64

	// strand
	multi    *engine.Multi
	registry map[uuid.UUID]*Connection
	sockets  map[int]*socketEntry
}

// newReactor wires a multi handle to pool and events. maxTransfers <= 0
// keeps the engine budget.
func newReactor(pool *concurrency.ThreadPool, events reactor.EventReactor, maxTransfers int, logger *slog.Logger) (*Reactor, error) {
	if pool == nil || events == nil {
		return nil, api.SetupError("reactor needs a pool and an event reactor", api.ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}
	multi, err := engine.NewMulti()
	if err != nil {
		return nil, api.SetupError("cannot create multi handle", err)
	}
	r := &Reactor{
		pool:     pool,
		events:   events,
		logger:   logger.With("component", "client.reactor"),
		multi:    multi,
		registry: make(map[uuid.UUID]*Connection),
		sockets:  make(map[int]*socketEntry),
	}
	r.strand = concurrency.NewStrand(pool, r.logger)
	r.timer = concurrency.NewTimer(r.strand)

	setup := []struct {
		what string
		code engine.MultiCode
	}{
		{"socket callback", multi.SetSocketFunc(r.onSocket)},
		{"timer callback", multi.SetTimerFunc(r.onTimer)},
	}
	if maxTransfers > 0 {
		setup = append(setup, struct {
			what string
			code engine.MultiCode
		}{"max transfers", multi.SetMaxTransfers(maxTransfers)})
	}
	for _, s := range setup {
		if s.code != engine.MultiOK {
			multi.Close()
			return nil, api.SetupError("cannot install "+s.what, s.code.Err()).
				WithCode(int(s.code))
		}
	}
	return r, nil
}

// handleRequest schedules conn on the strand. The error reports only that
// the strand could not accept the task.
func (r *Reactor) handleRequest(method api.Method, conn *Connection) error {
	if r.closing.Load() {
		return api.ErrClientClosed
	}
	if err := r.strand.Post(func() { r.submit(method, conn) }); err != nil {
		return fmt.Errorf("%w: %v", api.ErrClientClosed, err)
	}
	return nil
}

// submit configures and registers conn. Runs on the strand.
func (r *Reactor) submit(method api.Method, conn *Connection) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("submit panicked", "id", conn.ID(), "panic", p)
			if _, ok := r.registry[conn.ID()]; ok {
				r.multi.Remove(conn.Transfer())
				r.unregister(conn)
			}
			conn.fail(api.NewError(api.KindScheduling, fmt.Sprintf("submit panicked: %v", p)))
		}
	}()
	if r.closing.Load() {
		conn.fail(api.ErrClientClosed)
		return
	}
	if err := conn.configure(method); err != nil {
		r.failed.Add(1)
		conn.fail(err)
		return
	}

	// Register first: Add may report socket interest or even complete
	// the transfer before it returns.
	id := conn.ID()
	r.registry[id] = conn
	r.active.Add(1)
	conn.setState(StateRegistered)
	if code := r.multi.Add(conn.Transfer()); code != engine.MultiOK {
		r.unregister(conn)
		r.failed.Add(1)
		conn.fail(api.SchedulingError("cannot add transfer: " + code.String()).
			WithCode(int(code)).
			WithContext("id", id.String()))
		return
	}
	// A zero timer hint may already have drained and finalized it.
	conn.advance(StateRegistered, StateActive)
	r.registered.Add(1)
	r.logger.Debug("transfer registered", "id", id, "method", method.String())
}

func (r *Reactor) unregister(conn *Connection) {
	if _, ok := r.registry[conn.ID()]; ok {
		delete(r.registry, conn.ID())
		r.active.Add(-1)
	}
}

// onSocket records socket interest and arms the readiness reactor.
func (r *Reactor) onSocket(t *engine.Transfer, fd int, what engine.PollAction) error {
	if what == engine.PollRemove {
		if _, ok := r.sockets[fd]; ok {
			delete(r.sockets, fd)
			r.nsockets.Add(-1)
		}
		return nil
	}
	entry, ok := r.sockets[fd]
	if !ok {
		conn, found := r.registry[t.ID()]
		if !found {
			return fmt.Errorf("socket %d: transfer %s not registered", fd, t.ID())
		}
		entry = &socketEntry{conn: conn}
		r.sockets[fd] = entry
		r.nsockets.Add(1)
	}
	entry.interest = what
	return r.arm(entry.conn, fd, what)
}

// arm requests readiness callbacks for what; each fires performOp on the strand.
func (r *Reactor) arm(conn *Connection, fd int, what engine.PollAction) error {
	var errs []error
	if what.Readable() {
		errs = append(errs, r.events.ArmRead(fd, r.strand.Wrap(func() {
			r.performOp(conn, fd, engine.PollIn)
		})))
	}
	if what.Writable() {
		errs = append(errs, r.events.ArmWrite(fd, r.strand.Wrap(func() {
			r.performOp(conn, fd, engine.PollOut)
		})))
	}
	return errors.Join(errs...)
}

// onTimer reprograms the tick timer from an engine hint.
func (r *Reactor) onTimer(ms int64) {
	r.timer.Cancel()
	switch {
	case ms > 0:
		if err := r.timer.AsyncWait(time.Duration(ms)*time.Millisecond, r.timerFired); err != nil {
			r.logger.Debug("timer arm", "err", err)
		}
	case ms == 0:
		r.timerFired(nil)
	}
}

// timerFired drives a timeout tick. Runs on the strand.
func (r *Reactor) timerFired(err error) {
	if err != nil || r.closing.Load() {
		return
	}
	if _, code := r.multi.SocketAction(engine.SocketTimeout, engine.PollNone); code != engine.MultiOK {
		r.logger.Warn("timeout action", "code", code.String())
	}
	r.checkHandles()
}

// performOp reports readiness on fd and re-arms the socket while the
// engine still wants it. Runs on the strand.
func (r *Reactor) performOp(conn *Connection, fd int, action engine.PollAction) {
	if r.closing.Load() {
		return
	}
	running, code := r.multi.SocketAction(fd, action)
	switch code {
	case engine.MultiOK:
	case engine.MultiBadSocket:
		r.logger.Debug("stale readiness", "fd", fd, "action", action.String())
	default:
		r.logger.Warn("socket action", "fd", fd, "code", code.String())
	}
	r.checkHandles()
	if running <= 0 {
		r.timer.Cancel()
	}

	entry, ok := r.sockets[fd]
	if !ok || entry.conn != conn || entry.interest == engine.PollNone {
		return
	}
	if err := r.arm(conn, fd, entry.interest); err != nil {
		r.logger.Warn("re-arm", "fd", fd, "err", err)
	}
}

// checkHandles drains completion messages and hands each finished
// Connection to the pool for finalization. Runs on the strand.
func (r *Reactor) checkHandles() {
	for {
		msg, ok := r.multi.InfoRead()
		if !ok {
			return
		}
		id := msg.Transfer.ID()
		conn, found := r.registry[id]
		if code := r.multi.Remove(msg.Transfer); code != engine.MultiOK {
			r.logger.Warn("remove finished transfer", "id", id, "code", code.String())
		}
		if !found {
			r.logger.Error("finished transfer not registered", "id", id)
			continue
		}
		r.unregister(conn)
		if msg.Result == engine.OK {
			r.completed.Add(1)
		} else {
			r.failed.Add(1)
		}

		result := msg.Result
		if err := r.pool.Post(func() { conn.buildResponse(result) }); err != nil {
			conn.buildResponse(result)
		}
	}
}

// close abandons every registered transfer and releases the engine, the
// timer and the readiness reactor. The pool must be stopped first.
func (r *Reactor) close() error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	r.timer.Close()
	for id, conn := range r.registry {
		if code := r.multi.Remove(conn.Transfer()); code != engine.MultiOK {
			r.logger.Debug("remove on close", "id", id, "code", code.String())
		}
		delete(r.registry, id)
		r.active.Add(-1)
		conn.fail(api.ErrClientClosed)
	}
	r.sockets = make(map[int]*socketEntry)
	r.nsockets.Store(0)
	var errs []error
	if code := r.multi.Close(); code != engine.MultiOK {
		errs = append(errs, code.Err())
	}
	if err := r.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event reactor: %w", err))
	}
	return errors.Join(errs...)
}

// Stats returns Reactor counters.
func (r *Reactor) Stats() ReactorStats {
	ts := r.timer.Stats()
	return ReactorStats{
		Registered:  r.registered.Load(),
		Completed:   r.completed.Load(),
		Failed:      r.failed.Load(),
		Active:      int(r.active.Load()),
		Sockets:     int(r.nsockets.Load()),
		TimerArmed:  ts.Armed,
		TimerFired:  ts.Fired,
		StrandTasks: r.strand.Stats().Executed,
	}
}
