// File: engine/multi_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// harness drives a Multi with poll(2) the way an event loop would.
type harness struct {
	m        *Multi
	interest map[int]PollAction
	timeout  int64
	timerLog []int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	require.NoError(t, GlobalInit())
	m, err := NewMulti()
	require.NoError(t, err)
	h := &harness{m: m, interest: make(map[int]PollAction), timeout: -1}
	require.Equal(t, MultiOK, m.SetSocketFunc(func(_ *Transfer, fd int, what PollAction) error {
		if what == PollRemove {
			delete(h.interest, fd)
		} else {
			h.interest[fd] = what
		}
		return nil
	}))
	require.Equal(t, MultiOK, m.SetTimerFunc(func(ms int64) {
		h.timeout = ms
		h.timerLog = append(h.timerLog, ms)
	}))
	t.Cleanup(func() { m.Close() })
	return h
}

// run loops until no transfer is running and returns the drained messages.
func (h *harness) run(t *testing.T, limit time.Duration) []Message {
	t.Helper()
	deadline := time.Now().Add(limit)
	var msgs []Message
	drain := func() {
		for {
			msg, ok := h.m.InfoRead()
			if !ok {
				return
			}
			msgs = append(msgs, msg)
		}
	}
	for h.m.Running() > 0 {
		require.True(t, time.Now().Before(deadline), "transfers still running")

		pfds := make([]unix.PollFd, 0, len(h.interest))
		for fd, what := range h.interest {
			var ev int16
			if what.Readable() {
				ev |= unix.POLLIN
			}
			if what.Writable() {
				ev |= unix.POLLOUT
			}
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: ev})
		}
		wait := int64(10)
		if h.timeout >= 0 && h.timeout < wait {
			wait = h.timeout
		}
		if _, err := unix.Poll(pfds, int(wait)); err != nil && !errors.Is(err, unix.EINTR) {
			require.NoError(t, err)
		}

		fired := false
		for _, p := range pfds {
			if p.Revents == 0 {
				continue
			}
			fired = true
			ev := PollNone
			readable := p.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
			writable := p.Revents&(unix.POLLOUT|unix.POLLERR) != 0
			switch {
			case readable && writable:
				ev = PollInOut
			case readable:
				ev = PollIn
			case writable:
				ev = PollOut
			}
			h.m.SocketAction(int(p.Fd), ev)
		}
		if !fired {
			h.m.SocketAction(SocketTimeout, PollNone)
		}
		drain()
	}
	drain()
	return msgs
}

func newGet(t *testing.T, rawURL string) *Transfer {
	t.Helper()
	tr := NewTransfer()
	require.Equal(t, OK, tr.SetURL(rawURL))
	require.Equal(t, OK, tr.SetTimeout(5*time.Second))
	return tr
}

func refusedURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr + "/"
}

func TestMulti_Get200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, r.Close)
		w.Header().Set("X-Server", "test")
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	h := newHarness(t)
	tr := newGet(t, srv.URL+"/hello")
	require.Equal(t, MultiOK, h.m.Add(tr))

	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	assert.Same(t, tr, msgs[0].Transfer)
	require.Equal(t, OK, msgs[0].Result, tr.ErrorMessage())

	assert.Equal(t, 200, tr.Response().StatusCode)
	assert.Equal(t, "test", tr.Response().Header.Get("X-Server"))
	assert.Equal(t, "ok", string(tr.Body()))
	info := tr.Info()
	assert.Positive(t, info.BytesSent)
	assert.Positive(t, info.BytesReceived)
	assert.Equal(t, -1, tr.Socket())
	assert.Empty(t, h.interest)

	require.Equal(t, MultiOK, h.m.Remove(tr))
	assert.Zero(t, h.m.Len())
}

func TestMulti_PostEchoAndChunked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		for _, c := range b {
			_, _ = w.Write([]byte{c})
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	h := newHarness(t)
	tr := newGet(t, srv.URL)
	require.Equal(t, OK, tr.SetMethod(http.MethodPost))
	require.Equal(t, OK, tr.SetBody([]byte("payload")))
	require.Equal(t, MultiOK, h.m.Add(tr))

	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	require.Equal(t, OK, msgs[0].Result, tr.ErrorMessage())
	assert.Equal(t, "payload", string(tr.Body()))
}

func TestMulti_RequestBodySurvivesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("stored:" + string(b)))
	}))
	defer srv.Close()

	h := newHarness(t)
	tr := newGet(t, srv.URL)
	require.Equal(t, OK, tr.SetMethod(http.MethodPut))
	require.Equal(t, OK, tr.SetBody([]byte("v1")))
	require.Equal(t, MultiOK, h.m.Add(tr))
	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	require.Equal(t, OK, msgs[0].Result, tr.ErrorMessage())
	assert.Equal(t, "stored:v1", string(tr.Body()))

	// Re-adding sends the same payload again, not the previous response.
	require.Equal(t, MultiOK, h.m.Remove(tr))
	require.Equal(t, MultiOK, h.m.Add(tr))
	msgs = h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	require.Equal(t, OK, msgs[0].Result, tr.ErrorMessage())
	assert.Equal(t, "stored:v1", string(tr.Body()))
}

func TestMulti_Head(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
	}))
	defer srv.Close()

	h := newHarness(t)
	tr := newGet(t, srv.URL)
	require.Equal(t, OK, tr.SetMethod(http.MethodHead))
	require.Equal(t, MultiOK, h.m.Add(tr))

	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	require.Equal(t, OK, msgs[0].Result, tr.ErrorMessage())
	assert.Empty(t, tr.Body())
}

func TestMulti_ManyTransfers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Query().Get("i"))
	}))
	defer srv.Close()

	h := newHarness(t)
	const n = 20
	trs := make([]*Transfer, n)
	for i := range trs {
		trs[i] = newGet(t, fmt.Sprintf("%s/?i=%d", srv.URL, i))
		require.Equal(t, MultiOK, h.m.Add(trs[i]))
	}
	assert.Equal(t, n, h.m.Running())

	msgs := h.run(t, 10*time.Second)
	require.Len(t, msgs, n)
	for i, tr := range trs {
		require.Equal(t, OK, tr.Result(), tr.ErrorMessage())
		assert.Equal(t, fmt.Sprint(i), string(tr.Body()))
	}
}

func TestMulti_ConnectionRefused(t *testing.T) {
	h := newHarness(t)
	tr := newGet(t, refusedURL(t))
	require.Equal(t, MultiOK, h.m.Add(tr))

	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	assert.Equal(t, CouldNotConnect, msgs[0].Result)
	assert.Contains(t, tr.ErrorMessage(), "connection refused")
}

func TestMulti_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h := newHarness(t)
	tr := newGet(t, srv.URL)
	require.Equal(t, OK, tr.SetTimeout(50*time.Millisecond))
	require.Equal(t, MultiOK, h.m.Add(tr))

	start := time.Now()
	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	assert.Equal(t, OperationTimedOut, msgs[0].Result)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Contains(t, h.timerLog, int64(-1))
}

func TestMulti_EmptyReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 1024)
		_, _ = c.Read(buf)
		c.Close()
	}()

	h := newHarness(t)
	tr := newGet(t, "http://"+ln.Addr().String()+"/")
	require.Equal(t, MultiOK, h.m.Add(tr))

	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	assert.Equal(t, GotNothing, msgs[0].Result)
}

func TestMulti_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	h := newHarness(t)
	tr := newGet(t, srv.URL)
	require.Equal(t, OK, tr.SetMaxResponseSize(100))
	require.Equal(t, MultiOK, h.m.Add(tr))

	msgs := h.run(t, 5*time.Second)
	require.Len(t, msgs, 1)
	assert.Equal(t, FilesizeExceeded, msgs[0].Result)
}

func TestMulti_UnresolvableHost(t *testing.T) {
	h := newHarness(t)
	tr := newGet(t, "http://host.invalid/")
	require.Equal(t, OK, tr.SetConnectTimeout(3*time.Second))
	require.Equal(t, MultiOK, h.m.Add(tr))

	msgs := h.run(t, 10*time.Second)
	require.Len(t, msgs, 1)
	// Without a reachable resolver the lookup may outlive the connect timeout.
	assert.Contains(t, []Code{CouldNotResolveHost, OperationTimedOut}, msgs[0].Result)
}

func TestMulti_NoURL(t *testing.T) {
	h := newHarness(t)
	tr := NewTransfer()
	require.Equal(t, MultiOK, h.m.Add(tr))

	msg, ok := h.m.InfoRead()
	require.True(t, ok)
	assert.Equal(t, URLMalformat, msg.Result)
	assert.Zero(t, h.m.Running())
}

func TestMulti_RemoveInFlight(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	h := newHarness(t)
	tr := newGet(t, "http://"+ln.Addr().String()+"/")
	require.Equal(t, MultiOK, h.m.Add(tr))
	for i := 0; i < 5; i++ {
		h.m.SocketAction(SocketTimeout, PollNone)
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, 1, h.m.Running())

	require.Equal(t, MultiOK, h.m.Remove(tr))
	assert.Zero(t, h.m.Running())
	assert.Equal(t, -1, tr.Socket())
	assert.Empty(t, h.interest)
	_, ok := h.m.InfoRead()
	assert.False(t, ok)
	assert.Equal(t, int64(-1), h.timeout)
}

func TestMulti_HandleErrors(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, MultiBadEasyHandle, h.m.Remove(NewTransfer()))
	assert.Equal(t, MultiBadEasyHandle, h.m.Add(nil))
	assert.Equal(t, MultiBadArgument, h.m.SetMaxTransfers(0))

	tr := newGet(t, refusedURL(t))
	require.Equal(t, MultiOK, h.m.Add(tr))
	assert.Equal(t, MultiAddedAlready, h.m.Add(tr))

	_, code := h.m.SocketAction(12345, PollIn)
	assert.Equal(t, MultiBadSocket, code)
}

func TestMulti_MaxTransfers(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, MultiOK, h.m.SetMaxTransfers(1))
	require.Equal(t, MultiOK, h.m.Add(newGet(t, refusedURL(t))))
	assert.Equal(t, MultiMaxTransfers, h.m.Add(newGet(t, refusedURL(t))))
}

func TestMulti_RecursiveCallRejected(t *testing.T) {
	require.NoError(t, GlobalInit())
	m, err := NewMulti()
	require.NoError(t, err)
	defer m.Close()

	var nested []MultiCode
	m.SetSocketFunc(func(*Transfer, int, PollAction) error {
		nested = append(nested, m.Add(NewTransfer()))
		return nil
	})
	m.SetTimerFunc(func(int64) {})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	tr := newGet(t, "http://"+ln.Addr().String()+"/")
	require.Equal(t, MultiOK, m.Add(tr))
	for i := 0; i < 10 && len(nested) == 0; i++ {
		m.SocketAction(SocketTimeout, PollNone)
		time.Sleep(2 * time.Millisecond)
	}
	require.NotEmpty(t, nested)
	assert.Equal(t, MultiRecursiveAPICall, nested[0])
}

func TestMulti_CloseReleasesSockets(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	require.NoError(t, GlobalInit())
	m, err := NewMulti()
	require.NoError(t, err)
	m.SetSocketFunc(func(*Transfer, int, PollAction) error { return nil })
	m.SetTimerFunc(func(int64) {})

	var closed []int
	tr := newGet(t, "http://"+ln.Addr().String()+"/")
	tr.SetCloseSocketFunc(func(fd int) error {
		closed = append(closed, fd)
		return unix.Close(fd)
	})
	require.Equal(t, MultiOK, m.Add(tr))
	for i := 0; i < 10 && tr.Socket() < 0; i++ {
		m.SocketAction(SocketTimeout, PollNone)
		time.Sleep(2 * time.Millisecond)
	}
	require.GreaterOrEqual(t, tr.Socket(), 0)

	assert.Equal(t, MultiOK, m.Close())
	assert.Len(t, closed, 1)
	assert.Equal(t, MultiBadHandle, m.Close())
	assert.Equal(t, MultiBadHandle, m.Add(NewTransfer()))
}

func TestGlobalInit_RunsOnce(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, GlobalInit())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, GlobalInitRuns())
	assert.Positive(t, MaxTransfers())
}

func TestTransfer_Setters(t *testing.T) {
	tr := NewTransfer()
	first := tr.ID()
	assert.Equal(t, URLMalformat, tr.SetURL("::nope"))
	assert.Equal(t, URLMalformat, tr.SetURL("/relative"))
	assert.Equal(t, UnsupportedProtocol, tr.SetURL("https://example.com/"))
	assert.Equal(t, URLMalformat, tr.SetURL("http://example.com:99999/"))
	assert.Equal(t, BadFunctionArgument, tr.SetMethod("GET X"))
	assert.Equal(t, BadFunctionArgument, tr.SetHeader(http.Header{"Bad Key": {"v"}}))
	assert.Equal(t, OK, tr.SetURL("http://example.com/"))
	assert.Equal(t, http.MethodGet, tr.Method())

	tr.Reset()
	assert.NotEqual(t, first, tr.ID())
	assert.Nil(t, tr.URL())
}
