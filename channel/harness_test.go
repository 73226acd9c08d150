package channel

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-serverkit/api"
	"github.com/momentics/hioload-serverkit/core/concurrency"
	"github.com/momentics/hioload-serverkit/pool"
)

const testChunk = 1024

// harness runs channels on a real loop goroutine; tests touch channel state
// only inside do.
type harness struct {
	t    *testing.T
	loop *concurrency.EventLoop
	exec api.Executor
	pool *pool.Pool
	dir  string
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, nil)
}

// newHarnessWith uses exec for mover jobs, or a real executor when nil.
func newHarnessWith(t *testing.T, exec api.Executor) *harness {
	t.Helper()
	loop := concurrency.NewEventLoop(0, zerolog.Nop())
	go loop.Run()

	var real *concurrency.Executor
	if exec == nil {
		real = concurrency.NewExecutor(2, zerolog.Nop())
		exec = real
	}
	p, err := pool.New(pool.Config{ChunkSize: testChunk, Allocator: pool.HeapAllocator{}})
	require.NoError(t, err)

	h := &harness{t: t, loop: loop, exec: exec, pool: p, dir: t.TempDir()}
	t.Cleanup(func() {
		if real != nil {
			real.Close()
		}
		loop.Stop()
		_ = p.Close()
	})
	return h
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(fn))
}

// violation runs fn on the loop and returns the contract violation it raised.
func (h *harness) violation(fn func()) *api.ContractViolation {
	h.t.Helper()
	var cv *api.ContractViolation
	h.do(func() {
		defer func() {
			cv, _ = recover().(*api.ContractViolation)
		}()
		fn()
	})
	require.NotNil(h.t, cv, "expected a contract violation")
	return cv
}

func (h *harness) fileBuffered(mutate func(*Config)) *FileBufferedChannel {
	h.t.Helper()
	cfg := DefaultConfig()
	cfg.BufferDir = h.dir
	cfg.Threshold = 1024
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewFileBuffered(Deps{Pool: h.pool, Loop: h.loop, Executor: h.exec, Logger: zerolog.Nop()}, cfg)
	require.NoError(h.t, err)
	return c
}

func (h *harness) activeBlocks() int {
	var n int
	h.do(func() { n = h.pool.Inspect().ActiveBlocks })
	return n
}

func (h *harness) mode(c Channel) Mode {
	var m Mode
	h.do(func() { m = c.Mode() })
	return m
}

func (h *harness) waitMode(c Channel, want Mode) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.mode(c) == want }, 5*time.Second, time.Millisecond,
		"channel never reached %s", want)
}

// readAvailable reads until the channel would block, returning whether EOF was hit.
func (h *harness) readAvailable(c Channel, out *[]byte) (eof bool) {
	h.t.Helper()
	h.do(func() {
		for {
			b, err := c.Read()
			switch {
			case err == nil:
				*out = append(*out, b.Bytes()...)
				b.Release()
				continue
			case errors.Is(err, io.EOF):
				eof = true
			case !errors.Is(err, ErrWouldBlock):
				h.t.Errorf("read: %v", err)
				eof = true
			}
			return
		}
	})
	return eof
}

// readToEOF drains c, which must have had CloseWrite called.
func (h *harness) readToEOF(c Channel) []byte {
	h.t.Helper()
	var out []byte
	deadline := time.Now().Add(5 * time.Second)
	for !h.readAvailable(c, &out) {
		if time.Now().After(deadline) {
			h.t.Fatalf("no EOF after %d bytes", len(out))
		}
		time.Sleep(time.Millisecond)
	}
	return out
}

// readN drains exactly n bytes.
func (h *harness) readN(c Channel, n int) []byte {
	h.t.Helper()
	var out []byte
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n {
		h.readAvailable(c, &out)
		if time.Now().After(deadline) {
			h.t.Fatalf("read %d of %d bytes", len(out), n)
		}
		time.Sleep(time.Millisecond)
	}
	require.Len(h.t, out, n)
	return out
}

func randomBytes(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	rng.Read(p)
	return p
}

// gateExecutor holds submitted tasks until the test runs them.
type gateExecutor struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
}

func (g *gateExecutor) Submit(task func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return concurrency.ErrExecutorClosed
	}
	g.tasks = append(g.tasks, task)
	return nil
}

func (g *gateExecutor) NumWorkers() int { return 1 }

func (g *gateExecutor) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

func (g *gateExecutor) runAll() int {
	g.mu.Lock()
	tasks := g.tasks
	g.tasks = nil
	g.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

func (g *gateExecutor) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
