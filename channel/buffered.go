// File: channel/buffered.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"io"

	"github.com/momentics/hioload-serverkit/api"
	"github.com/momentics/hioload-serverkit/pool"
)

// BufferedChannel is a memory-only channel: writes always land in pooled
// buffers and reads hand them out in write order.
type BufferedChannel struct {
	pool       *pool.Pool
	mem        bufferQueue
	eof        bool
	closed     bool
	onReadable func()
	onClose    []func()
	stats      Stats
}

// NewBuffered creates a memory-only channel drawing from p.
func NewBuffered(p *pool.Pool) *BufferedChannel {
	return &BufferedChannel{pool: p, mem: newBufferQueue()}
}

func (c *BufferedChannel) checkOpen(op string) {
	if c.closed {
		api.Violation(op, "channel is closed")
	}
}

func (c *BufferedChannel) Write(p []byte) (int, error) {
	c.checkOpen("write")
	if c.eof {
		api.Violation("write", "write after end of stream")
	}
	n, err := c.mem.write(c.pool, p)
	c.stats.BytesWritten += int64(n)
	if n > 0 {
		c.notifyReadable()
	}
	return n, err
}

func (c *BufferedChannel) WriteBuffer(b pool.Buffer) error {
	c.checkOpen("write")
	if c.eof {
		api.Violation("write", "write after end of stream")
	}
	if b.Len() == 0 {
		return nil
	}
	b.Retain()
	c.mem.push(b)
	c.stats.BytesWritten += int64(b.Len())
	c.notifyReadable()
	return nil
}

func (c *BufferedChannel) Read() (pool.Buffer, error) {
	c.checkOpen("read")
	if c.mem.len() == 0 {
		if c.eof {
			return pool.Buffer{}, io.EOF
		}
		return pool.Buffer{}, ErrWouldBlock
	}
	b := c.mem.pop()
	c.stats.BytesRead += int64(b.Len())
	return b, nil
}

func (c *BufferedChannel) CloseWrite() {
	c.checkOpen("close write")
	if !c.eof {
		c.eof = true
		c.notifyReadable()
	}
}

// Close releases every queued buffer. It is idempotent.
func (c *BufferedChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.mem.releaseAll()
	for _, fn := range c.onClose {
		fn()
	}
	return nil
}

func (c *BufferedChannel) Mode() Mode {
	if c.closed {
		return ModeClosed
	}
	return ModeMemory
}

func (c *BufferedChannel) Pending() int64 { return c.mem.bytes }

func (c *BufferedChannel) Stats() Stats { return c.stats }

// OnReadable registers fn to run whenever new data or end of stream becomes readable.
func (c *BufferedChannel) OnReadable(fn func()) { c.onReadable = fn }

func (c *BufferedChannel) OnClose(fn func()) { c.onClose = append(c.onClose, fn) }

func (c *BufferedChannel) notifyReadable() {
	if c.onReadable != nil {
		c.onReadable()
	}
}
