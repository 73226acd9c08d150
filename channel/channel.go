// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import "github.com/momentics/hioload-serverkit/pool"

// Channel is the read/write contract shared by every buffered transport.
//
// Misuse (I/O after Close, Write after CloseWrite, a bad buffer handle) panics
// with *api.ContractViolation. A disk failure is not misuse: a channel in
// ModeError stays inert and its Read and Write return an error wrapping
// ErrChannelErrored until it is closed.
type Channel interface {
	// Write copies p into pooled buffers. It never blocks.
	Write(p []byte) (int, error)
	// WriteBuffer enqueues b without copying; the channel takes its own reference.
	WriteBuffer(b pool.Buffer) error
	// Read returns the next buffer in write order; the caller owns the returned
	// reference. ErrWouldBlock means nothing is readable yet, io.EOF that the
	// stream ended and was drained.
	Read() (pool.Buffer, error)
	// CloseWrite marks the end of the stream.
	CloseWrite()
	// Close releases every resource. Any later call except Close panics.
	Close() error

	Mode() Mode
	Pending() int64
	OnReadable(fn func())
	// OnClose adds fn to the hooks run, in registration order, by the first Close.
	OnClose(fn func())
}

var (
	_ Channel = (*BufferedChannel)(nil)
	_ Channel = (*FileBufferedChannel)(nil)
)

// Stats are byte and event counters of a channel.
type Stats struct {
	BytesWritten  int64
	BytesRead     int64
	Spills        int64
	BytesMoved    int64
	BytesReadBack int64
}
