//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor. Every fd is registered EPOLLONESHOT with the
// union of its armed directions; after an event the directions still armed
// are re-registered.

package reactor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpc/api"
)

const maxEvents = 128

type fdState struct {
	read       func()
	write      func()
	registered bool
}

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	exec   api.Executor
	logger *slog.Logger
	epfd   int
	wakefd int

	mu     sync.Mutex
	fds    map[int]*fdState
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewReactor constructs the epoll reactor and starts its poll goroutine.
// Ready callbacks are posted to exec.
func NewReactor(exec api.Executor, logger *slog.Logger) (EventReactor, error) {
	if exec == nil {
		return nil, fmt.Errorf("reactor: %w: nil executor", api.ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	r := &linuxReactor{
		exec:   exec,
		logger: logger.With("component", "reactor"),
		epfd:   epfd,
		wakefd: wakefd,
		fds:    make(map[int]*fdState),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

func (r *linuxReactor) ArmRead(fd int, cb func()) error {
	return r.arm(fd, InterestRead, cb)
}

func (r *linuxReactor) ArmWrite(fd int, cb func()) error {
	return r.arm(fd, InterestWrite, cb)
}

func (r *linuxReactor) arm(fd int, dir Interest, cb func()) error {
	if cb == nil {
		return fmt.Errorf("reactor: %w: nil callback", api.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReactorClosed
	}
	st := r.fds[fd]
	if st == nil {
		st = &fdState{}
		r.fds[fd] = st
	}
	switch dir {
	case InterestRead:
		if st.read != nil {
			return nil
		}
		st.read = cb
	case InterestWrite:
		if st.write != nil {
			return nil
		}
		st.write = cb
	}
	if err := r.syncLocked(fd, st); err != nil {
		if dir == InterestRead {
			st.read = nil
		} else {
			st.write = nil
		}
		return err
	}
	return nil
}

// syncLocked pushes the armed directions of fd into epoll.
func (r *linuxReactor) syncLocked(fd int, st *fdState) error {
	var events uint32
	if st.read != nil {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if st.write != nil {
		events |= unix.EPOLLOUT
	}
	if events == 0 {
		// ONESHOT already disabled the fd; nothing to push.
		return nil
	}
	ev := unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if st.registered {
		op = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(r.epfd, op, fd, &ev)
	if err != nil && op == unix.EPOLL_CTL_MOD && errors.Is(err, unix.ENOENT) {
		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll ctl fd=%d: %w", fd, err)
	}
	st.registered = true
	return nil
}

func (r *linuxReactor) Forget(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.fds[fd]
	if !ok {
		return
	}
	delete(r.fds, fd)
	if st.registered {
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil &&
			!errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
			r.logger.Warn("epoll ctl del", "fd", fd, "err", err)
		}
	}
}

func (r *linuxReactor) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.fds = make(map[int]*fdState)
		r.mu.Unlock()

		var one = [8]byte{1}
		if _, werr := unix.Write(r.wakefd, one[:]); werr != nil {
			r.logger.Warn("wake poll loop", "err", werr)
		}
		<-r.done
		err = errors.Join(unix.Close(r.wakefd), unix.Close(r.epfd))
	})
	return err
}

// loop blocks in epoll_wait and dispatches readiness until Close.
func (r *linuxReactor) loop() {
	defer close(r.done)
	var events [maxEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(r.epfd, events[:], -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.logger.Error("epoll wait", "err", err)
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakefd {
				if r.drainWake() {
					return
				}
				continue
			}
			r.dispatch(fd, events[i].Events)
		}
	}
}

// drainWake consumes the eventfd counter and reports whether Close was requested.
func (r *linuxReactor) drainWake() bool {
	var buf [8]byte
	_, _ = unix.Read(r.wakefd, buf[:])
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *linuxReactor) dispatch(fd int, ev uint32) {
	r.mu.Lock()
	st := r.fds[fd]
	if st == nil {
		r.mu.Unlock()
		return
	}
	failed := ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0
	var fired []func()
	if st.read != nil && (failed || ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0) {
		fired = append(fired, st.read)
		st.read = nil
	}
	if st.write != nil && (failed || ev&unix.EPOLLOUT != 0) {
		fired = append(fired, st.write)
		st.write = nil
	}
	if err := r.syncLocked(fd, st); err != nil {
		r.logger.Warn("re-arm", "fd", fd, "err", err)
	}
	r.mu.Unlock()

	for _, cb := range fired {
		if err := r.exec.Post(cb); err != nil {
			r.logger.Debug("readiness dropped", "fd", fd, "err", err)
		}
	}
}
