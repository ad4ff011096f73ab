// File: internal/cli/fetch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-httpc/api"
	"github.com/momentics/hioload-httpc/client"
	"github.com/momentics/hioload-httpc/control"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Method         string
	Threads        int
	Repeat         int
	Headers        []string
	Data           string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Config         string
	RPS            float64
	Burst          int
}

// FetchResult is the outcome of one request.
type FetchResult struct {
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	Bytes  int    `json:"bytes"`
	Millis int64  `json:"ms"`
	Error  string `json:"error,omitempty"`
}

func (r FetchResult) String() string {
	if r.Error != "" {
		return fmt.Sprintf("ERR %s: %s", r.URL, r.Error)
	}
	return fmt.Sprintf("%d %d %dms %s", r.Status, r.Bytes, r.Millis, r.URL)
}

// FetchSummary closes the output of a fetch run.
type FetchSummary struct {
	Requests  int           `json:"requests"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

func (s FetchSummary) String() string {
	return fmt.Sprintf("%d requests, %d ok, %d failed in %s", s.Requests, s.Succeeded, s.Failed, s.Elapsed.Round(time.Millisecond))
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Issue requests concurrently and print their outcome",
		Long: `Submit every request at once, wait for all of them and print one line
per result followed by a summary. The exit code is 1 when any request failed.

Example:
  httpc fetch http://127.0.0.1:8080/ --repeat 100 --threads 4
  httpc fetch -X POST -d 'hello' -H 'Content-Type: text/plain' http://127.0.0.1:8080/echo`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Method, "method", "X", "GET", "request method")
	f.IntVarP(&opts.Threads, "threads", "t", 0, "worker threads (default: config or one per CPU)")
	f.IntVarP(&opts.Repeat, "repeat", "n", 1, "requests per URL")
	f.StringArrayVarP(&opts.Headers, "header", "H", nil, "request header 'Key: Value' (repeatable)")
	f.StringVarP(&opts.Data, "data", "d", "", "request body")
	f.DurationVar(&opts.Timeout, "timeout", 0, "per-request timeout (default: config)")
	f.DurationVar(&opts.ConnectTimeout, "connect-timeout", 0, "connect timeout (default: config)")
	f.StringVarP(&opts.Config, "config", "c", "", "YAML client configuration file")
	f.Float64Var(&opts.RPS, "rps", 0, "submission rate limit in requests per second")
	f.IntVar(&opts.Burst, "burst", 1, "rate limit burst")
	return cmd
}

func runFetch(cmd *cobra.Command, opts *FetchOptions, urls []string) error {
	cfg, err := fetchConfig(cmd, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	method, err := api.ParseMethod(opts.Method)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid method", err)
	}
	header, err := parseHeaders(opts.Headers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid header", err)
	}
	if opts.Repeat < 1 {
		return NewExitError(ExitCommandError, "repeat must be >= 1")
	}

	c, err := client.New(client.WithConfig(cfg), client.WithLogger(slog.Default()))
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start client", err)
	}
	defer closeClient(c)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	type pending struct {
		url   string
		start time.Time
		fut   *client.Future
	}
	start := time.Now()
	var all []pending
	for _, u := range urls {
		for i := 0; i < opts.Repeat; i++ {
			req := client.NewRequest(u)
			for k, v := range header {
				req.Header[k] = append([]string(nil), v...)
			}
			if opts.Data != "" {
				req.WithBody([]byte(opts.Data))
			}
			all = append(all, pending{url: u, start: time.Now(), fut: c.AsyncDo(method, req)})
		}
	}
	slog.Debug("requests submitted", "count", len(all), "method", method.String())

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	summary := FetchSummary{Requests: len(all)}
	for _, p := range all {
		res := FetchResult{URL: p.url}
		resp, err := p.fut.Wait(ctx)
		res.Millis = time.Since(p.start).Milliseconds()
		if err != nil {
			res.Error = err.Error()
			summary.Failed++
		} else {
			res.Status = resp.StatusCode
			res.Bytes = len(resp.Body)
			summary.Succeeded++
		}
		if err := out.Emit(res); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
	}
	summary.Elapsed = time.Since(start)
	if err := out.Emit(summary); err != nil {
		return WrapExitError(ExitCommandError, "write output", err)
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d requests failed", summary.Failed, summary.Requests))
	}
	return nil
}

// closeClient closes c and logs a failure; the command result is already decided.
func closeClient(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("client close failed", "err", err)
	}
}

// fetchConfig layers explicitly set flags over the config file.
func fetchConfig(cmd *cobra.Command, opts *FetchOptions) (control.Config, error) {
	cfg := control.DefaultConfig()
	if opts.Config != "" {
		loaded, err := control.LoadConfig(opts.Config)
		if err != nil {
			return control.Config{}, err
		}
		cfg = loaded
	}
	f := cmd.Flags()
	if f.Changed("threads") {
		cfg.Threads = opts.Threads
	}
	if f.Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	if f.Changed("connect-timeout") {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}
	if f.Changed("rps") {
		cfg.RateLimit = control.RateLimit{RPS: opts.RPS, Burst: opts.Burst}
	}
	return cfg, cfg.Validate()
}

func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range raw {
		k, v, ok := strings.Cut(line, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q is not 'Key: Value'", api.ErrInvalidArgument, line)
		}
		h.Add(k, strings.TrimSpace(v))
	}
	return h, nil
}
