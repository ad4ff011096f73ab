// File: engine/transfer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transfer is one request/response exchange driven by a Multi. Options are
// set while the transfer is detached; runtime state is only touched by the
// owning Multi.

package engine

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const defaultConnectTimeout = 300 * time.Second

// OpenSocketFunc creates a stream socket for the given address family
// (unix.AF_INET or unix.AF_INET6). The engine switches it to non-blocking.
type OpenSocketFunc func(family int) (fd int, err error)

// CloseSocketFunc releases a socket created by OpenSocketFunc.
type CloseSocketFunc func(fd int) error

type transferState int

const (
	stateIdle transferState = iota
	stateResolve
	stateConnect
	stateSend
	stateRecv
	stateDone
)

func (s transferState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateResolve:
		return "resolve"
	case stateConnect:
		return "connect"
	case stateSend:
		return "send"
	case stateRecv:
		return "recv"
	case stateDone:
		return "done"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Info holds per-transfer timings and counters.
type Info struct {
	RemoteAddr    netip.AddrPort
	ConnectTime   time.Duration
	TotalTime     time.Duration
	BytesSent     int64
	BytesReceived int64
}

// Transfer is the per-request engine handle.
type Transfer struct {
	id uuid.UUID

	method         string
	url            *url.URL
	header         http.Header
	body           []byte
	timeout        time.Duration
	connectTimeout time.Duration
	maxResponse    int64
	userAgent      string
	openSocket     OpenSocketFunc
	closeSocket    CloseSocketFunc

	multi    *Multi
	state    transferState
	fd       int
	interest PollAction
	cbErr    error

	lookup    *lookup
	pollDelay time.Duration
	wakeAt    time.Time
	addrs     []netip.Addr
	addrIdx   int
	connErr   error

	start           time.Time
	deadline        time.Time
	connectDeadline time.Time

	wbuf []byte
	woff int
	rbuf []byte
	dec  responseDecoder

	resp     *http.Response
	respBody []byte
	result   Code
	errMsg   string
	info     Info
}

// NewTransfer returns a detached transfer with default options.
func NewTransfer() *Transfer {
	t := &Transfer{fd: -1}
	t.Reset()
	return t
}

// Reset restores default options, clears all results and assigns a fresh
// identity. It must not be called while the transfer is added to a Multi.
func (t *Transfer) Reset() {
	*t = Transfer{
		id:             uuid.New(),
		method:         http.MethodGet,
		header:         make(http.Header),
		connectTimeout: defaultConnectTimeout,
		fd:             -1,
	}
}

// ID returns the transfer identity.
func (t *Transfer) ID() uuid.UUID { return t.id }

// SetMethod sets the request method token.
func (t *Transfer) SetMethod(method string) Code {
	if method == "" || strings.ContainsAny(method, " \r\n\t") {
		return BadFunctionArgument
	}
	t.method = method
	return OK
}

// SetURL parses and validates the target. Only plain http is supported.
func (t *Transfer) SetURL(raw string) Code {
	u, err := url.Parse(raw)
	if err != nil {
		return URLMalformat
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
	case "":
		return URLMalformat
	default:
		return UnsupportedProtocol
	}
	if u.Hostname() == "" {
		return URLMalformat
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err != nil || n <= 0 || n > 65535 {
			return URLMalformat
		}
	}
	t.url = u
	return OK
}

// SetHeader replaces the caller headers.
func (t *Transfer) SetHeader(h http.Header) Code {
	for k, vs := range h {
		if k == "" || strings.ContainsAny(k, " :\r\n") {
			return BadFunctionArgument
		}
		for _, v := range vs {
			if strings.ContainsAny(v, "\r\n") {
				return BadFunctionArgument
			}
		}
	}
	t.header = h.Clone()
	if t.header == nil {
		t.header = make(http.Header)
	}
	return OK
}

// SetBody sets the request payload.
func (t *Transfer) SetBody(b []byte) Code {
	t.body = b
	return OK
}

// SetTimeout bounds the whole transfer. Zero disables it.
func (t *Transfer) SetTimeout(d time.Duration) Code {
	if d < 0 {
		return BadFunctionArgument
	}
	t.timeout = d
	return OK
}

// SetConnectTimeout bounds resolution plus connection setup. Zero restores
// the default.
func (t *Transfer) SetConnectTimeout(d time.Duration) Code {
	if d < 0 {
		return BadFunctionArgument
	}
	if d == 0 {
		d = defaultConnectTimeout
	}
	t.connectTimeout = d
	return OK
}

// SetMaxResponseSize caps the response body. Zero disables the cap.
func (t *Transfer) SetMaxResponseSize(n int64) Code {
	if n < 0 {
		return BadFunctionArgument
	}
	t.maxResponse = n
	return OK
}

// SetUserAgent sets the User-Agent sent when the caller headers carry none.
func (t *Transfer) SetUserAgent(ua string) Code {
	if strings.ContainsAny(ua, "\r\n") {
		return BadFunctionArgument
	}
	t.userAgent = ua
	return OK
}

// SetOpenSocketFunc installs the socket factory.
func (t *Transfer) SetOpenSocketFunc(fn OpenSocketFunc) Code {
	t.openSocket = fn
	return OK
}

// SetCloseSocketFunc installs the socket release hook.
func (t *Transfer) SetCloseSocketFunc(fn CloseSocketFunc) Code {
	t.closeSocket = fn
	return OK
}

// Method returns the configured method.
func (t *Transfer) Method() string { return t.method }

// URL returns the configured target, nil if unset.
func (t *Transfer) URL() *url.URL { return t.url }

// Result returns the terminal code; OK until the transfer finished.
func (t *Transfer) Result() Code { return t.result }

// ErrorMessage returns the detailed message of a failed transfer.
func (t *Transfer) ErrorMessage() string { return t.errMsg }

// Response returns the parsed response head of a successful transfer.
func (t *Transfer) Response() *http.Response { return t.resp }

// Body returns the response payload of a successful transfer.
func (t *Transfer) Body() []byte { return t.respBody }

// Info returns timings and counters.
func (t *Transfer) Info() Info { return t.info }

// Socket returns the current socket, -1 when none is open.
func (t *Transfer) Socket() int { return t.fd }

// begin validates the transfer and starts resolution.
func (t *Transfer) begin(m *Multi, now time.Time) {
	t.start = now
	t.result = OK
	t.errMsg = ""
	t.resp, t.respBody = nil, nil
	t.info = Info{}
	t.rbuf = t.rbuf[:0]
	t.woff = 0
	t.addrs, t.addrIdx, t.connErr = nil, 0, nil
	if t.url == nil {
		t.state = stateResolve
		t.fail(m, URLMalformat, "No URL set")
		return
	}
	if t.timeout > 0 {
		t.deadline = now.Add(t.timeout)
	} else {
		t.deadline = time.Time{}
	}
	t.connectDeadline = now.Add(t.connectTimeout)
	t.wbuf = encodeRequest(t.method, t.url, t.header, t.body, t.userAgent)
	t.dec.reset(t.method)

	t.state = stateResolve
	t.lookup = m.cache.start(t.url.Hostname())
	t.pollDelay = 0
	t.wakeAt = now
}

// nextWake returns the earliest instant the transfer needs a timer tick.
func (t *Transfer) nextWake() (time.Time, bool) {
	var at time.Time
	consider := func(x time.Time) {
		if !x.IsZero() && (at.IsZero() || x.Before(at)) {
			at = x
		}
	}
	switch t.state {
	case stateDone, stateIdle:
		return time.Time{}, false
	case stateResolve:
		consider(t.wakeAt)
		consider(t.connectDeadline)
	case stateConnect:
		consider(t.connectDeadline)
	}
	consider(t.deadline)
	return at, !at.IsZero()
}

// due reports whether a timer tick at now has work for t.
func (t *Transfer) due(now time.Time) bool {
	at, ok := t.nextWake()
	return ok && !at.After(now)
}

// step advances the state machine. ev is PollNone for timer ticks.
func (t *Transfer) step(m *Multi, ev PollAction, now time.Time) {
	if t.state == stateDone || t.state == stateIdle {
		return
	}
	if !t.deadline.IsZero() && !now.Before(t.deadline) {
		t.fail(m, OperationTimedOut, fmt.Sprintf("Operation timed out after %d milliseconds with %d bytes received",
			now.Sub(t.start).Milliseconds(), t.info.BytesReceived))
		return
	}
	if (t.state == stateResolve || t.state == stateConnect) && !now.Before(t.connectDeadline) {
		t.fail(m, OperationTimedOut, fmt.Sprintf("Connection timed out after %d milliseconds",
			now.Sub(t.start).Milliseconds()))
		return
	}

	switch t.state {
	case stateResolve:
		if !t.wakeAt.After(now) {
			t.stepResolve(m, now)
		}
	case stateConnect:
		if ev != PollNone {
			t.stepConnect(m, now)
		}
	case stateSend:
		if ev.Writable() {
			t.stepSend(m, now)
		}
	case stateRecv:
		if ev.Readable() {
			t.stepRecv(m, now)
		}
	}

	if t.cbErr != nil && t.state != stateDone {
		err := t.cbErr
		t.cbErr = nil
		t.fail(m, AbortedByCallback, err.Error())
	}
}

func (t *Transfer) stepResolve(m *Multi, now time.Time) {
	res, ok := t.lookup.poll()
	if !ok {
		switch {
		case t.pollDelay == 0:
			t.pollDelay = minResolvePoll
		case t.pollDelay < maxResolvePoll:
			t.pollDelay *= 2
		}
		if t.pollDelay > maxResolvePoll {
			t.pollDelay = maxResolvePoll
		}
		t.wakeAt = now.Add(t.pollDelay)
		return
	}
	t.lookup = nil
	t.wakeAt = time.Time{}
	if res.err != nil || len(res.addrs) == 0 {
		t.fail(m, CouldNotResolveHost, "Could not resolve host: "+t.url.Hostname())
		return
	}
	t.addrs = res.addrs
	t.connectNext(m, now)
}

// connectNext tries the remaining addresses until one connects or is pending.
func (t *Transfer) connectNext(m *Multi, now time.Time) {
	port := portOf(t.url)
	for t.addrIdx < len(t.addrs) {
		addr := t.addrs[t.addrIdx]
		t.addrIdx++

		fd, err := t.open(addr)
		if err != nil {
			t.connErr = err
			continue
		}
		t.fd = fd
		t.info.RemoteAddr = netip.AddrPortFrom(addr, port)

		err = unix.Connect(fd, sockaddr(addr, port))
		switch {
		case err == nil:
			t.connected(m, now)
			return
		case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
			t.state = stateConnect
			m.setInterest(t, PollOut)
			return
		default:
			t.connErr = err
			t.dropSocket(m)
		}
	}
	msg := fmt.Sprintf("Failed to connect to %s port %d", t.url.Hostname(), port)
	if t.connErr != nil {
		msg += ": " + t.connErr.Error()
	}
	t.fail(m, CouldNotConnect, msg)
}

func (t *Transfer) stepConnect(m *Multi, now time.Time) {
	soerr, err := unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr == 0 {
		t.connected(m, now)
		return
	}
	if err == nil {
		err = unix.Errno(soerr)
	}
	t.connErr = err
	t.dropSocket(m)
	t.connectNext(m, now)
}

func (t *Transfer) connected(m *Multi, now time.Time) {
	t.info.ConnectTime = now.Sub(t.start)
	t.state = stateSend
	t.stepSend(m, now)
}

func (t *Transfer) stepSend(m *Multi, now time.Time) {
	for t.woff < len(t.wbuf) {
		n, err := unix.Write(t.fd, t.wbuf[t.woff:])
		if n > 0 {
			t.woff += n
			t.info.BytesSent += int64(n)
		}
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				m.setInterest(t, PollOut)
				return
			}
			t.fail(m, SendError, "Failed sending data to the peer: "+err.Error())
			return
		}
	}
	t.state = stateRecv
	m.setInterest(t, PollIn)
}

func (t *Transfer) stepRecv(m *Multi, now time.Time) {
	eof := false
	for {
		n, err := unix.Read(t.fd, m.scratch)
		if n > 0 {
			t.rbuf = append(t.rbuf, m.scratch[:n]...)
			t.info.BytesReceived += int64(n)
		}
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
			default:
				t.fail(m, RecvError, "Recv failure: "+err.Error())
				return
			}
			break
		}
		if n == 0 {
			eof = true
			break
		}
	}
	if t.maxResponse > 0 && int64(len(t.rbuf)) > t.maxResponse+maxHeaderBytes {
		t.fail(m, FilesizeExceeded, fmt.Sprintf("Exceeded the maximum allowed file size (%d)", t.maxResponse))
		return
	}

	st, resp, body, code, msg := t.dec.decode(t.rbuf, eof)
	switch st {
	case decodeMore:
		m.setInterest(t, PollIn)
	case decodeFailed:
		t.fail(m, code, msg)
	case decodeDone:
		if t.maxResponse > 0 && int64(len(body)) > t.maxResponse {
			t.fail(m, FilesizeExceeded, fmt.Sprintf("Exceeded the maximum allowed file size (%d) with %d bytes", t.maxResponse, len(body)))
			return
		}
		t.resp, t.respBody = resp, body
		t.rbuf = nil
		t.finish(m, OK, "")
	}
}

// open creates and prepares a non-blocking socket for addr.
func (t *Transfer) open(addr netip.Addr) (int, error) {
	family := unix.AF_INET
	if addr.Is6() {
		family = unix.AF_INET6
	}
	var (
		fd  int
		err error
	)
	if t.openSocket != nil {
		fd, err = t.openSocket(family)
	} else {
		fd, err = unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
		if err == nil {
			unix.CloseOnExec(fd)
		}
	}
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		t.release(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	return fd, nil
}

// dropSocket reports removal and releases the current socket.
func (t *Transfer) dropSocket(m *Multi) {
	if t.fd < 0 {
		return
	}
	if m != nil {
		m.setInterest(t, PollRemove)
	}
	t.release(t.fd)
	t.fd = -1
}

func (t *Transfer) release(fd int) {
	if t.closeSocket != nil {
		_ = t.closeSocket(fd)
		return
	}
	_ = unix.Close(fd)
}

// finish records the terminal result and queues the completion message.
func (t *Transfer) finish(m *Multi, code Code, msg string) {
	if t.state == stateDone {
		return
	}
	t.dropSocket(m)
	if t.lookup != nil {
		t.lookup.stop()
		t.lookup = nil
	}
	t.state = stateDone
	t.result = code
	t.errMsg = msg
	t.info.TotalTime = time.Since(t.start)
	m.complete(t, code)
}

func (t *Transfer) fail(m *Multi, code Code, msg string) {
	t.finish(m, code, msg)
}

// abort tears the transfer down without queueing a completion.
func (t *Transfer) abort(m *Multi) {
	t.dropSocket(m)
	if t.lookup != nil {
		t.lookup.stop()
		t.lookup = nil
	}
	if t.state != stateDone {
		t.state = stateIdle
	}
}

func portOf(u *url.URL) uint16 {
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return uint16(n)
	}
	return 80
}

func sockaddr(addr netip.Addr, port uint16) unix.Sockaddr {
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(port), Addr: addr.As16()}
	if z := addr.Zone(); z != "" {
		if n, err := strconv.Atoi(z); err == nil {
			sa.ZoneId = uint32(n)
		}
	}
	return sa
}
