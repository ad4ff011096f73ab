// File: client/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is the per-request transfer state: engine handle, socket,
// request and completion promise. The caller owns it until submission, the
// reactor registry owns it until its completion is drained, and the
// finalize task owns it until the promise is fulfilled.

package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpc/api"
	"github.com/momentics/hioload-httpc/engine"
	"github.com/momentics/hioload-httpc/reactor"
)

// ConnState is the lifecycle position of a Connection.
type ConnState int32

const (
	StateCreated ConnState = iota
	StateQueued
	StateConfigured
	StateRegistered
	StateActive
	StateCompleted
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateConfigured:
		return "configured"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// transferDefaults are client-wide transfer options.
type transferDefaults struct {
	timeout        time.Duration
	connectTimeout time.Duration
	maxResponse    int64
	userAgent      string
}

// Connection must be obtained from a Response or created by the client.
type Connection struct {
	events   reactor.EventReactor
	transfer *engine.Transfer
	socket   atomic.Int32
	state    atomic.Int32
	defaults transferDefaults
	method   api.Method

	mu      sync.Mutex
	request *Request
	future  *Future
	onDone  func(id uuid.UUID, err error)
}

func newConnection(events reactor.EventReactor) *Connection {
	c := &Connection{
		events:   events,
		transfer: engine.NewTransfer(),
	}
	c.socket.Store(-1)
	c.state.Store(int32(StateCompleted))
	return c
}

// init resets the connection for req and returns the future of the new
// request. onDone runs once the request settles, before the future resolves.
func (c *Connection) init(d transferDefaults, req *Request, onDone func(id uuid.UUID, err error)) *Future {
	c.transfer.Reset()
	c.socket.Store(-1)
	c.defaults = d
	f := newFuture()
	c.mu.Lock()
	c.request = req
	c.future = f
	c.onDone = onDone
	c.mu.Unlock()
	c.setState(StateCreated)
	return f
}

// ID returns the identity of the current transfer.
func (c *Connection) ID() uuid.UUID { return c.transfer.ID() }

// Socket returns the open socket, -1 when none.
func (c *Connection) Socket() int { return int(c.socket.Load()) }

// Transfer returns the engine handle.
func (c *Connection) Transfer() *engine.Transfer { return c.transfer }

// State returns the lifecycle state.
func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

func (c *Connection) setState(s ConnState) { c.state.Store(int32(s)) }

// advance moves from to to, unless the state changed meanwhile.
func (c *Connection) advance(from, to ConnState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// idle reports whether the connection can take a new request.
func (c *Connection) idle() bool {
	s := c.State()
	return s == StateCompleted || s == StateFailed
}

// configure applies the request to the transfer handle.
func (c *Connection) configure(method api.Method) error {
	if !method.Valid() {
		return api.ConfigurationError("unknown method", api.ErrInvalidArgument).
			WithContext("method", int(method))
	}
	c.mu.Lock()
	req := c.request
	c.mu.Unlock()
	if req == nil {
		return api.ConfigurationError("no request attached", api.ErrInvalidArgument)
	}
	timeout := c.defaults.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	t := c.transfer
	steps := []struct {
		option string
		apply  func() engine.Code
	}{
		{"method", func() engine.Code { return t.SetMethod(method.String()) }},
		{"url", func() engine.Code { return t.SetURL(req.URL) }},
		{"header", func() engine.Code { return t.SetHeader(req.Header) }},
		{"body", func() engine.Code { return t.SetBody(req.Body) }},
		{"timeout", func() engine.Code { return t.SetTimeout(timeout) }},
		{"connect timeout", func() engine.Code { return t.SetConnectTimeout(c.defaults.connectTimeout) }},
		{"max response size", func() engine.Code { return t.SetMaxResponseSize(c.defaults.maxResponse) }},
		{"user agent", func() engine.Code { return t.SetUserAgent(c.defaults.userAgent) }},
		{"open socket", func() engine.Code { return t.SetOpenSocketFunc(c.openSocket) }},
		{"close socket", func() engine.Code { return t.SetCloseSocketFunc(c.closeSocket) }},
	}
	for _, s := range steps {
		if code := s.apply(); code != engine.OK {
			return api.NewError(api.KindConfiguration, "cannot set "+s.option+": "+code.String()).
				WithCode(int(code)).
				WithContext("method", method.String()).
				WithContext("url", req.URL)
		}
	}
	c.method = method
	c.setState(StateConfigured)
	return nil
}

// openSocket is the engine socket factory for this connection.
func (c *Connection) openSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	c.socket.Store(int32(fd))
	return fd, nil
}

// closeSocket stops readiness tracking before releasing fd.
func (c *Connection) closeSocket(fd int) error {
	if c.events != nil {
		c.events.Forget(fd)
	}
	c.socket.CompareAndSwap(int32(fd), -1)
	return unix.Close(fd)
}

// buildResponse converts the terminal engine result into the promise value.
func (c *Connection) buildResponse(code engine.Code) {
	t := c.transfer
	if code != engine.OK {
		msg := t.ErrorMessage()
		if msg == "" {
			msg = code.String()
		}
		err := api.TransferError(int(code), msg).
			WithContext("engine", code.String()).
			WithContext("method", c.method.String())
		if u := t.URL(); u != nil {
			err.WithContext("url", u.String())
		}
		c.fail(err)
		return
	}

	r := t.Response()
	resp := &Response{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Proto:      r.Proto,
		Header:     r.Header,
		Body:       t.Body(),
		Info:       t.Info(),
		Connection: c,
	}
	c.settle(StateCompleted, resp, nil)
}

// fail resolves the promise with err.
func (c *Connection) fail(err error) {
	c.settle(StateFailed, nil, err)
}

// settle resolves the current future once. The first caller claims it;
// later callers find no future and return.
func (c *Connection) settle(s ConnState, resp *Response, err error) {
	c.mu.Lock()
	f, done := c.future, c.onDone
	if f == nil {
		c.mu.Unlock()
		return
	}
	id := c.ID()
	c.future, c.onDone, c.request = nil, nil, nil
	c.setState(s)
	c.mu.Unlock()

	if done != nil {
		done(id, err)
	}
	f.fulfill(resp, err)
}
