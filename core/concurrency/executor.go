// File: core/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches blocking tasks (disk I/O) across a fixed set of worker
// goroutines fed from one unbounded FIFO. Close drains queued tasks before the
// workers exit, so a submitted task always runs exactly once.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-serverkit/api"
)

var _ api.Executor = (*Executor)(nil)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue // of TaskFunc
	closed bool
	wg     sync.WaitGroup

	numWorkers int
	log        zerolog.Logger

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

// NewExecutor creates a new Executor with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int, logger zerolog.Logger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		tasks:      queue.New(),
		numWorkers: numWorkers,
		log:        logger.With().Str("component", "executor").Logger(),
	}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.run(i)
	}
	return e
}

// Submit enqueues a task for execution, returning ErrExecutorClosed if executor is closed.
func (e *Executor) Submit(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.tasks.Add(TaskFunc(task))
	e.totalTasks.Add(1)
	e.cond.Signal()
	return nil
}

// NumWorkers returns the number of worker goroutines.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Close stops accepting tasks, runs what is queued and waits for workers to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.cond.Broadcast()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	completed := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": completed,
		"pending_tasks":   total - completed,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.numWorkers),
	}
}

// run is the main loop for a worker.
func (e *Executor) run(id int) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.tasks.Length() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.tasks.Length() == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks.Remove().(TaskFunc)
		e.mu.Unlock()

		e.executeTask(id, task)
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (e *Executor) executeTask(id int, task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.log.Error().Int("worker", id).Interface("panic", r).Msg("task panicked")
		}
		e.completedTasks.Add(1)
	}()
	task()
}
