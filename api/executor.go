// Package api
// Author: momentics
//
// Executor contract for task dispatch onto the worker pool.

package api

// Executor abstracts parallel task execution.
type Executor interface {
	// Post schedules task for execution by any worker.
	Post(task func()) error
}
