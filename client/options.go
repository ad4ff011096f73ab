// File: client/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-httpc/control"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	cfg        control.Config
	threadInit func()
	logger     *slog.Logger
}

func defaultOptions() options {
	return options{
		cfg:    control.DefaultConfig(),
		logger: slog.Default(),
	}
}

// WithConfig replaces every configurable value with cfg. Options given
// after it still apply.
func WithConfig(cfg control.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithThreads sets the number of worker threads. Zero means one per CPU.
func WithThreads(n int) Option {
	return func(o *options) { o.cfg.Threads = n }
}

// WithThreadInit runs fn once on every worker thread before it serves tasks.
// fn must not call Client.Close.
func WithThreadInit(fn func()) Option {
	return func(o *options) { o.threadInit = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds each whole transfer. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.Timeout = d }
}

// WithConnectTimeout bounds name resolution plus connection setup.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.ConnectTimeout = d }
}

// WithMaxResponseSize caps header plus body bytes per response.
func WithMaxResponseSize(n int64) Option {
	return func(o *options) { o.cfg.MaxResponseSize = n }
}

// WithMaxTransfers caps the transfers registered at once. Submissions above
// the cap resolve with a scheduling error.
func WithMaxTransfers(n int) Option {
	return func(o *options) { o.cfg.MaxTransfers = n }
}

// WithUserAgent sets the User-Agent sent when a request carries none.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.cfg.UserAgent = ua }
}

// WithRateLimit delays submissions to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) { o.cfg.RateLimit = control.RateLimit{RPS: rps, Burst: burst} }
}

// WithAffinity pins worker threads round-robin to cpus.
func WithAffinity(cpus ...int) Option {
	return func(o *options) { o.cfg.Affinity = append([]int(nil), cpus...) }
}
