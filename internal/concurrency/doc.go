// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-httpc: a fixed worker pool whose
// goroutines own OS threads, a strand that serializes tasks on top of it,
// and a single-shot cancellable timer that delivers through an executor.
package concurrency
