// File: internal/concurrency/strand.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Strand serializes tasks on top of an executor: tasks posted through the
// same strand run one at a time, in FIFO order, on whichever worker picks
// the strand up.

package concurrency

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-httpc/api"
)

// strandBatch bounds how many tasks one drain runs before yielding the worker.
const strandBatch = 64

// StrandStats is a snapshot of strand instrumentation.
type StrandStats struct {
	Executed      int64
	Pending       int
	MaxConcurrent int
}

// Strand implements api.Executor.
type Strand struct {
	exec   api.Executor
	logger *slog.Logger

	mu        sync.Mutex
	pending   *queue.Queue // of func()
	scheduled bool

	executing     atomic.Int32
	maxConcurrent atomic.Int32
	executed      atomic.Int64
}

var _ api.Executor = (*Strand)(nil)

// NewStrand binds a strand to exec.
func NewStrand(exec api.Executor, logger *slog.Logger) *Strand {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strand{
		exec:    exec,
		logger:  logger.With("component", "strand"),
		pending: queue.New(),
	}
}

// Post enqueues task behind every task previously posted to this strand.
func (s *Strand) Post(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	s.mu.Lock()
	s.pending.Add(task)
	if s.scheduled {
		s.mu.Unlock()
		return nil
	}
	s.scheduled = true
	s.mu.Unlock()

	if err := s.exec.Post(s.drain); err != nil {
		s.mu.Lock()
		s.scheduled = false
		s.pending = queue.New()
		s.mu.Unlock()
		return err
	}
	return nil
}

// Wrap returns a func that posts fn through the strand.
func (s *Strand) Wrap(fn func()) func() {
	return func() {
		if err := s.Post(fn); err != nil {
			s.logger.Debug("wrapped task dropped", "err", err)
		}
	}
}

// Stats returns strand instrumentation counters.
func (s *Strand) Stats() StrandStats {
	s.mu.Lock()
	pending := s.pending.Length()
	s.mu.Unlock()
	return StrandStats{
		Executed:      s.executed.Load(),
		Pending:       pending,
		MaxConcurrent: int(s.maxConcurrent.Load()),
	}
}

func (s *Strand) drain() {
	for i := 0; i < strandBatch; i++ {
		s.mu.Lock()
		if s.pending.Length() == 0 {
			s.scheduled = false
			s.mu.Unlock()
			return
		}
		task := s.pending.Remove().(func())
		s.mu.Unlock()
		s.run(task)
	}

	// More work remains: requeue so other pool tasks get a turn.
	if err := s.exec.Post(s.drain); err != nil {
		s.mu.Lock()
		s.scheduled = false
		s.mu.Unlock()
		s.logger.Debug("strand requeue failed", "err", err)
	}
}

func (s *Strand) run(task func()) {
	n := s.executing.Add(1)
	for {
		m := s.maxConcurrent.Load()
		if n <= m || s.maxConcurrent.CompareAndSwap(m, n) {
			break
		}
	}
	defer func() {
		s.executing.Add(-1)
		s.executed.Add(1)
		if r := recover(); r != nil {
			s.logger.Error("strand task panicked", "panic", r)
		}
	}()
	task()
}
