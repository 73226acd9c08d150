// File: core/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is the single-goroutine reactor a worker context runs on. Any
// goroutine may Submit work; the work always executes on the loop goroutine,
// in submission order, in batches of up to batchSize tasks per wake-up.

package concurrency

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-serverkit/api"
)

// Ensure compile-time interface compliance.
var _ api.Loop = (*EventLoop)(nil)

// EventLoop runs submitted closures on one goroutine.
type EventLoop struct {
	mu     sync.Mutex
	inbox  *queue.Queue // of func(), unbounded so cross-goroutine hand-offs never block
	closed bool

	wake      chan struct{}
	batchSize int
	quitCh    chan struct{} // closed on Stop()
	doneCh    chan struct{} // closed after Run() exits
	running   atomic.Bool
	log       zerolog.Logger
}

// NewEventLoop creates a new EventLoop. batchSize bounds how many tasks run
// between two checks of the stop signal.
func NewEventLoop(batchSize int, logger zerolog.Logger) *EventLoop {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &EventLoop{
		inbox:     queue.New(),
		wake:      make(chan struct{}, 1),
		batchSize: batchSize,
		quitCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       logger.With().Str("component", "eventloop").Logger(),
	}
}

// Submit queues fn for execution on the loop goroutine. Safe for concurrent use.
func (el *EventLoop) Submit(fn func()) error {
	if fn == nil {
		return api.ErrInvalidArgument
	}
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return api.ErrLoopClosed
	}
	el.inbox.Add(fn)
	el.mu.Unlock()

	select {
	case el.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call submits fn and waits until it has run.
// It must not be called from the loop goroutine.
func (el *EventLoop) Call(fn func()) error {
	done := make(chan struct{})
	if err := el.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-el.doneCh:
		return api.ErrLoopClosed
	}
}

// AfterFunc runs fn on the loop goroutine once d has elapsed.
func (el *EventLoop) AfterFunc(d time.Duration, fn func()) api.Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		_ = el.Submit(func() {
			if lt.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return lt
}

// loopTimer guards fn with a flag so Stop from the loop goroutine wins even
// when the expiry is already queued in the inbox.
type loopTimer struct {
	t     *time.Timer
	fired atomic.Bool
}

func (lt *loopTimer) Stop() bool {
	lt.t.Stop()
	return lt.fired.CompareAndSwap(false, true)
}

// Pending returns approximate count of tasks waiting in the inbox.
func (el *EventLoop) Pending() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.inbox.Length()
}

// Run executes tasks until Stop is called. It blocks the calling goroutine,
// which becomes the loop goroutine.
func (el *EventLoop) Run() {
	if !el.running.CompareAndSwap(false, true) {
		return // Already running
	}
	defer close(el.doneCh)

	batch := make([]func(), 0, el.batchSize)
	for {
		select {
		case <-el.quitCh:
			if n := el.Pending(); n > 0 {
				el.log.Debug().Int("dropped", n).Msg("loop stopped with queued tasks")
			}
			return
		default:
		}

		batch = el.drain(batch[:0])
		if len(batch) == 0 {
			select {
			case <-el.quitCh:
			case <-el.wake:
			}
			continue
		}
		for i, fn := range batch {
			batch[i] = nil
			fn()
		}
	}
}

func (el *EventLoop) drain(batch []func()) []func() {
	el.mu.Lock()
	defer el.mu.Unlock()
	for len(batch) < el.batchSize && el.inbox.Length() > 0 {
		batch = append(batch, el.inbox.Remove().(func()))
	}
	return batch
}

// Stop signals the Run loop to exit and waits for completion. Tasks still
// queued are discarded. It must not be called from the loop goroutine.
func (el *EventLoop) Stop() {
	el.mu.Lock()
	already := el.closed
	el.closed = true
	el.mu.Unlock()
	if !already {
		close(el.quitCh)
	}
	if el.running.Load() {
		<-el.doneCh
	}
}

// Done is closed once Run has returned.
func (el *EventLoop) Done() <-chan struct{} {
	return el.doneCh
}
