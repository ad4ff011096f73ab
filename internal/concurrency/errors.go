// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"errors"

	"github.com/momentics/hioload-httpc/api"
)

var (
	// ErrPoolStopped indicates the pool has been shut down
	ErrPoolStopped = errors.New("thread pool is stopped")

	// ErrPoolRunning indicates Start was called twice
	ErrPoolRunning = errors.New("thread pool is already running")

	// ErrNilTask rejects a nil task
	ErrNilTask = errors.New("nil task")

	// ErrTimerClosed indicates the timer has been closed
	ErrTimerClosed = errors.New("timer is closed")

	// ErrOperationAborted is delivered to a cancelled timer wait
	ErrOperationAborted = api.ErrOperationAborted

	// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")
)
