// Package pool: batching of buffer references without locks.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BufferBatch groups buffer references handed across a goroutine boundary in one
// message. Whoever holds the batch owns every reference in it.

package pool

// BufferBatch is a minimal batch of Buffer references.
type BufferBatch struct {
	buffers []Buffer
	bytes   int
}

// NewBufferBatch creates a new batch with given capacity.
func NewBufferBatch(capacity int) *BufferBatch {
	return &BufferBatch{
		buffers: make([]Buffer, 0, capacity),
	}
}

// Append adds a buffer reference to the batch.
func (b *BufferBatch) Append(buf Buffer) {
	b.buffers = append(b.buffers, buf)
	b.bytes += buf.Len()
}

// Len returns number of buffers in the batch.
func (b *BufferBatch) Len() int {
	return len(b.buffers)
}

// Bytes returns the total payload length.
func (b *BufferBatch) Bytes() int {
	return b.bytes
}

// Get retrieves the buffer at idx.
func (b *BufferBatch) Get(idx int) Buffer {
	return b.buffers[idx]
}

// Underlying returns the underlying slice.
func (b *BufferBatch) Underlying() []Buffer {
	return b.buffers
}

// Release drops every reference and empties the batch.
func (b *BufferBatch) Release() {
	for i, buf := range b.buffers {
		buf.Release()
		b.buffers[i] = Buffer{}
	}
	b.Reset()
}

// Reset clears the batch retaining underlying storage.
func (b *BufferBatch) Reset() {
	b.buffers = b.buffers[:0]
	b.bytes = 0
}
