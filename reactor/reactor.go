// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface. Operations are arm-once:
// a callback fires at most once per arm and must be re-armed to fire again.

package reactor

import "errors"

// ErrReactorClosed is returned by arm calls after Close.
var ErrReactorClosed = errors.New("reactor: closed")

// Interest names one readiness direction.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// EventReactor multiplexes socket readiness onto an executor.
type EventReactor interface {
	// ArmRead requests a single callback once fd becomes readable.
	// Arming a direction that is already armed keeps the earlier callback.
	ArmRead(fd int, cb func()) error

	// ArmWrite requests a single callback once fd becomes writable.
	ArmWrite(fd int, cb func()) error

	// Forget drops pending callbacks for fd and stops watching it.
	// It must be called before fd is closed.
	Forget(fd int)

	// Close stops the poll loop and releases OS resources.
	Close() error
}
