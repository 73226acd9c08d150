package channel

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-serverkit/pool"
)

func TestBufferedChannelRoundTrip(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(1))
	c := NewBuffered(h.pool)

	var want []byte
	var readable int
	h.do(func() {
		c.OnReadable(func() { readable++ })
		for i := 0; i < 200; i++ {
			p := randomBytes(rng, 1+rng.Intn(3000))
			n, err := c.Write(p)
			assert.NoError(t, err)
			assert.Equal(t, len(p), n)
			want = append(want, p...)
		}
		assert.Equal(t, int64(len(want)), c.Pending())
		c.CloseWrite()
	})

	got := h.readToEOF(c)
	assert.True(t, bytes.Equal(want, got))
	assert.Equal(t, 201, readable)

	h.do(func() {
		_, err := c.Read()
		assert.ErrorIs(t, err, io.EOF, "EOF is permanent")
		assert.Equal(t, int64(len(want)), c.Stats().BytesRead)
		assert.Equal(t, ModeMemory, c.Mode())
	})
	assert.Equal(t, 0, h.activeBlocks())
}

func TestBufferedChannelPacksSmallWrites(t *testing.T) {
	h := newHarness(t)
	c := NewBuffered(h.pool)
	h.do(func() {
		for i := 0; i < 50; i++ {
			_, err := c.Write([]byte("0123456789"))
			assert.NoError(t, err)
		}
		assert.Equal(t, 1, c.mem.len(), "500 bytes fit one chunk")
		assert.Equal(t, int64(500), c.Pending())
	})
	assert.Equal(t, 1, h.activeBlocks())
	h.do(func() { assert.NoError(t, c.Close()) })
	assert.Equal(t, 0, h.activeBlocks())
}

func TestBufferedChannelWouldBlock(t *testing.T) {
	h := newHarness(t)
	c := NewBuffered(h.pool)
	h.do(func() {
		_, err := c.Read()
		assert.ErrorIs(t, err, ErrWouldBlock)

		_, err = c.Write([]byte("x"))
		assert.NoError(t, err)
		b, err := c.Read()
		assert.NoError(t, err)
		assert.Equal(t, "x", string(b.Bytes()))
		b.Release()

		_, err = c.Read()
		assert.ErrorIs(t, err, ErrWouldBlock)
	})
}

func TestBufferedChannelWriteBufferTakesReference(t *testing.T) {
	h := newHarness(t)
	c := NewBuffered(h.pool)
	h.do(func() {
		b, err := h.pool.Acquire()
		assert.NoError(t, err)
		b = b.Slice(0, 5)
		copy(b.Bytes(), "hello")

		assert.NoError(t, c.WriteBuffer(b))
		assert.Equal(t, 2, b.RefCount())
		b.Release()

		got, err := c.Read()
		assert.NoError(t, err)
		assert.Equal(t, "hello", string(got.Bytes()))
		got.Release()

		assert.NoError(t, c.WriteBuffer(pool.Buffer{}), "empty buffers are ignored")
	})
	assert.Equal(t, 0, h.activeBlocks())
}

func TestBufferedChannelMisuse(t *testing.T) {
	h := newHarness(t)
	c := NewBuffered(h.pool)
	h.do(func() { c.CloseWrite() })
	cv := h.violation(func() { _, _ = c.Write([]byte("late")) })
	assert.Equal(t, "write", cv.Op)

	h.do(func() {
		var closes int
		c.OnClose(func() { closes++ })
		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
		assert.Equal(t, ModeClosed, c.Mode())
		assert.Equal(t, 1, closes, "close hook runs once")
	})
	h.violation(func() { _, _ = c.Read() })
	h.violation(func() { c.CloseWrite() })
}
