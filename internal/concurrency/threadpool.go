// File: internal/concurrency/threadpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ThreadPool runs N worker goroutines, each locked to its own OS thread,
// over one shared FIFO task queue. A liveness guard keeps idle workers
// parked instead of exiting until Stop releases it.

package concurrency

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

const (
	poolIdle int32 = iota
	poolRunning
	poolStopped
)

// PoolStats is a snapshot of ThreadPool counters.
type PoolStats struct {
	Workers   int
	Posted    int64
	Completed int64
	Dropped   int64
	Active    int
	Peak      int
}

// PoolOption configures a ThreadPool.
type PoolOption func(*ThreadPool)

// WithAffinity pins worker i to cpus[i%len(cpus)].
func WithAffinity(cpus ...int) PoolOption {
	return func(tp *ThreadPool) { tp.cpus = append([]int(nil), cpus...) }
}

// WithPoolLogger sets the logger used for recovered panics and pinning failures.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(tp *ThreadPool) {
		if l != nil {
			tp.logger = l
		}
	}
}

// ThreadPool must not be copied after first use.
type ThreadPool struct {
	size   int
	cpus   []int
	logger *slog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	tasks *queue.Queue // of func()
	guard bool
	state int32
	wg    sync.WaitGroup

	posted    atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64
	active    atomic.Int32
	peak      atomic.Int32
}

// NewThreadPool creates a stopped pool of size workers.
// If size <= 0, defaults to runtime.NumCPU().
func NewThreadPool(size int, opts ...PoolOption) *ThreadPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	tp := &ThreadPool{
		size:   size,
		logger: slog.Default(),
		tasks:  queue.New(),
	}
	tp.cond = sync.NewCond(&tp.mu)
	for _, o := range opts {
		o(tp)
	}
	tp.logger = tp.logger.With("component", "threadpool")
	return tp
}

// Size returns the configured number of workers.
func (tp *ThreadPool) Size() int { return tp.size }

// Start spawns the workers. init, when non-nil, runs once on every worker
// thread before it serves tasks. Tasks posted before Start run once the
// workers are up.
func (tp *ThreadPool) Start(init func()) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	switch tp.state {
	case poolRunning:
		return ErrPoolRunning
	case poolStopped:
		return ErrPoolStopped
	}
	tp.state = poolRunning
	tp.guard = true
	for i := 0; i < tp.size; i++ {
		w := &worker{id: i, pool: tp}
		tp.wg.Add(1)
		go w.run(init)
	}
	return nil
}

// Stop releases the liveness guard, wakes all workers and waits for them to
// exit. A worker finishes the task it is running; tasks still queued are
// discarded and counted as dropped. Calling Stop again is a no-op.
// Stop must not be called from a pool task.
func (tp *ThreadPool) Stop() {
	tp.mu.Lock()
	if tp.state == poolStopped {
		tp.mu.Unlock()
		return
	}
	wasRunning := tp.state == poolRunning
	tp.state = poolStopped
	tp.guard = false
	if n := tp.tasks.Length(); n > 0 {
		tp.dropped.Add(int64(n))
		tp.tasks = queue.New()
	}
	tp.cond.Broadcast()
	tp.mu.Unlock()

	if wasRunning {
		tp.wg.Wait()
	}
}

// Running reports whether Start has been called and Stop has not.
func (tp *ThreadPool) Running() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.state == poolRunning
}

// Post enqueues task for execution by any worker.
func (tp *ThreadPool) Post(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.state == poolStopped {
		return ErrPoolStopped
	}
	tp.tasks.Add(task)
	tp.posted.Add(1)
	tp.cond.Signal()
	return nil
}

// Stats returns a snapshot of pool counters.
func (tp *ThreadPool) Stats() PoolStats {
	return PoolStats{
		Workers:   tp.size,
		Posted:    tp.posted.Load(),
		Completed: tp.completed.Load(),
		Dropped:   tp.dropped.Load(),
		Active:    int(tp.active.Load()),
		Peak:      int(tp.peak.Load()),
	}
}

// next blocks until a task is available or the guard is released.
func (tp *ThreadPool) next() (func(), bool) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for tp.tasks.Length() == 0 {
		if !tp.guard {
			return nil, false
		}
		tp.cond.Wait()
	}
	if tp.state == poolStopped {
		return nil, false
	}
	return tp.tasks.Remove().(func()), true
}

// worker runs tasks on its own locked OS thread.
type worker struct {
	id   int
	pool *ThreadPool
}

func (w *worker) run(init func()) {
	tp := w.pool
	defer tp.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(tp.cpus) > 0 {
		cpu := tp.cpus[w.id%len(tp.cpus)]
		if err := PinCurrentThread(cpu); err != nil {
			tp.logger.Warn("pin worker", "worker", w.id, "cpu", cpu, "err", err)
		}
	}
	if init != nil {
		w.safeExecute(init)
	}
	for {
		task, ok := tp.next()
		if !ok {
			return
		}
		tp.enter()
		w.safeExecute(task)
		tp.leave()
	}
}

func (tp *ThreadPool) enter() {
	n := tp.active.Add(1)
	for {
		p := tp.peak.Load()
		if n <= p || tp.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (tp *ThreadPool) leave() {
	tp.active.Add(-1)
	tp.completed.Add(1)
}

// safeExecute runs the task, recovering from panics to keep the worker alive.
func (w *worker) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("task panicked", "worker", w.id, "panic", r)
		}
	}()
	task()
}
