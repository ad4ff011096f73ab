// File: client/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client is the public façade: it owns the worker pool, the readiness
// reactor and the transfer Reactor, and turns requests into futures.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-httpc/api"
	"github.com/momentics/hioload-httpc/control"
	"github.com/momentics/hioload-httpc/engine"
	"github.com/momentics/hioload-httpc/internal/concurrency"
	"github.com/momentics/hioload-httpc/reactor"
)

const (
	metricSubmitted   = "requests.submitted"
	metricSucceeded   = "requests.succeeded"
	metricFailed      = "requests.failed"
	metricRateLimited = "requests.rate_limited"
)

// Stats is a snapshot of client activity.
type Stats struct {
	Submitted   int64
	Succeeded   int64
	Failed      int64
	RateLimited int64
	InFlight    int
	Pool        concurrency.PoolStats
	Reactor     ReactorStats
}

// Client issues asynchronous HTTP requests. It is safe for concurrent use.
type Client struct {
	cfg      control.Config
	defaults transferDefaults
	logger   *slog.Logger

	pool    *concurrency.ThreadPool
	events  reactor.EventReactor
	reactor *Reactor
	limiter *rate.Limiter

	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	mu       sync.Mutex
	closed   bool
	inflight map[uuid.UUID]*Connection
}

// New starts a client. Every failure is reported as a setup error.
func New(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, api.SetupError("invalid configuration", err)
	}
	if err := engine.GlobalInit(); err != nil {
		return nil, api.SetupError("engine global init", err)
	}

	poolOpts := []concurrency.PoolOption{concurrency.WithPoolLogger(o.logger)}
	if len(o.cfg.Affinity) > 0 {
		poolOpts = append(poolOpts, concurrency.WithAffinity(o.cfg.Affinity...))
	}
	pool := concurrency.NewThreadPool(o.cfg.Threads, poolOpts...)

	events, err := reactor.NewReactor(pool, o.logger)
	if err != nil {
		return nil, api.SetupError("event reactor", err)
	}
	r, err := newReactor(pool, events, o.cfg.MaxTransfers, o.logger)
	if err != nil {
		_ = events.Close()
		return nil, err
	}

	c := &Client{
		cfg: o.cfg,
		defaults: transferDefaults{
			timeout:        o.cfg.Timeout,
			connectTimeout: o.cfg.ConnectTimeout,
			maxResponse:    o.cfg.MaxResponseSize,
			userAgent:      o.cfg.UserAgent,
		},
		logger:   o.logger.With("component", "client"),
		pool:     pool,
		events:   events,
		reactor:  r,
		metrics:  control.NewMetricsRegistry(),
		probes:   control.NewDebugProbes(),
		inflight: make(map[uuid.UUID]*Connection),
	}
	if rl := o.cfg.RateLimit; rl.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst)
	}
	c.metrics.Set("threads", pool.Size())
	c.metrics.Set("user_agent", o.cfg.UserAgent)
	c.registerProbes()

	if err := pool.Start(o.threadInit); err != nil {
		_ = r.close()
		return nil, api.SetupError("start thread pool", err)
	}
	c.logger.Info("client started", "threads", pool.Size(), "max_transfers", o.cfg.MaxTransfers)
	return c, nil
}

func (c *Client) registerProbes() {
	c.probes.RegisterProbe("client", func() any { return c.Stats() })
	c.probes.RegisterProbe("threadpool", func() any { return c.pool.Stats() })
	c.probes.RegisterProbe("reactor", func() any { return c.reactor.Stats() })
	c.probes.RegisterProbe("config", func() any { return c.cfg })
	control.RegisterPlatformProbes(c.probes)
}

// Close stops the workers and abandons every unfinished request: its
// future resolves with api.ErrClientClosed. Close is idempotent and must
// not be called from a thread-init hook.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.pool.Stop()
	err := c.reactor.close()

	c.mu.Lock()
	pending := make([]*Connection, 0, len(c.inflight))
	for _, conn := range c.inflight {
		pending = append(pending, conn)
	}
	c.mu.Unlock()
	for _, conn := range pending {
		conn.fail(api.ErrClientClosed)
	}

	c.logger.Info("client closed", "abandoned", len(pending))
	if err != nil {
		return fmt.Errorf("client close: %w", err)
	}
	return nil
}

// AsyncDo submits req with method and returns its future. Submission
// failures resolve the future instead of being returned.
func (c *Client) AsyncDo(method api.Method, req *Request) *Future {
	if req == nil {
		return failedFuture(api.ConfigurationError("nil request", api.ErrInvalidArgument))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return failedFuture(api.ErrClientClosed)
	}
	conn := req.Connection
	switch {
	case conn == nil:
		conn = newConnection(c.events)
	case conn.events != c.events:
		c.mu.Unlock()
		return failedFuture(api.SchedulingError("connection belongs to another client"))
	case !conn.idle():
		c.mu.Unlock()
		return failedFuture(api.SchedulingError("connection is in use"))
	}
	f := conn.init(c.defaults, req, c.untrack)
	c.inflight[conn.ID()] = conn
	conn.setState(StateQueued)
	c.mu.Unlock()

	c.metrics.Add(metricSubmitted, 1)
	c.logger.Debug("request submitted", "method", method.String(), "url", req.URL)

	if c.limiter != nil {
		res := c.limiter.Reserve()
		if !res.OK() {
			conn.fail(api.SchedulingError("rate limit cannot admit request"))
			return f
		}
		if d := res.Delay(); d > 0 {
			c.metrics.Add(metricRateLimited, 1)
			time.AfterFunc(d, func() { c.dispatch(method, conn) })
			return f
		}
	}
	c.dispatch(method, conn)
	return f
}

// Do submits req and waits for its outcome or for ctx to end.
func (c *Client) Do(ctx context.Context, method api.Method, req *Request) (*Response, error) {
	return c.AsyncDo(method, req).Wait(ctx)
}

func (c *Client) dispatch(method api.Method, conn *Connection) {
	if err := c.reactor.handleRequest(method, conn); err != nil {
		if !errors.Is(err, api.ErrClientClosed) {
			err = api.SchedulingError(err.Error())
		}
		conn.fail(err)
	}
}

// untrack runs once per settled request, before its future resolves.
func (c *Client) untrack(id uuid.UUID, err error) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
	if err != nil {
		c.metrics.Add(metricFailed, 1)
	} else {
		c.metrics.Add(metricSucceeded, 1)
	}
}

// Stats returns a snapshot of client counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	inflight := len(c.inflight)
	c.mu.Unlock()
	return Stats{
		Submitted:   c.metrics.Counter(metricSubmitted),
		Succeeded:   c.metrics.Counter(metricSucceeded),
		Failed:      c.metrics.Counter(metricFailed),
		RateLimited: c.metrics.Counter(metricRateLimited),
		InFlight:    inflight,
		Pool:        c.pool.Stats(),
		Reactor:     c.reactor.Stats(),
	}
}

// Metrics returns counters and gauges as a flat map.
func (c *Client) Metrics() map[string]any {
	return c.metrics.GetSnapshot()
}

// DebugState evaluates every registered debug probe.
func (c *Client) DebugState() map[string]any {
	return c.probes.DumpState()
}
