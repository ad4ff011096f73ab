// File: client/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Future is the read side of the one-shot completion promise carried by a
// Connection.

package client

import (
	"context"
	"sync"
)

// Future resolves exactly once with a response or an error.
type Future struct {
	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// failedFuture returns a future already resolved with err.
func failedFuture(err error) *Future {
	f := newFuture()
	f.fulfill(nil, err)
	return f
}

// fulfill stores the outcome; only the first call has an effect.
func (f *Future) fulfill(resp *Response, err error) bool {
	set := false
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
		set = true
	})
	return set
}

// Done is closed once the future resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Ready reports whether the future resolved.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future resolves.
func (f *Future) Get() (*Response, error) {
	<-f.done
	return f.resp, f.err
}

// Wait blocks until the future resolves or ctx ends. Abandoning the wait
// does not cancel the request.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
