// File: channel/queue.go
// Author: momentics <momentics@gmail.com>
//
// FIFO of pooled buffers with tail packing: small writes are appended into the
// spare room of the last chunk while the queue still owns it exclusively.

package channel

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-serverkit/pool"
)

type bufferQueue struct {
	q     *queue.Queue // of pool.Buffer, sealed buffers
	tail  pool.Buffer  // logically after q; written by us only, still growable
	bytes int64
}

func newBufferQueue() bufferQueue {
	return bufferQueue{q: queue.New()}
}

func (bq *bufferQueue) len() int {
	n := bq.q.Length()
	if !bq.tail.IsZero() {
		n++
	}
	return n
}

func (bq *bufferQueue) seal() {
	if !bq.tail.IsZero() {
		bq.q.Add(bq.tail)
		bq.tail = pool.Buffer{}
	}
}

// push appends a reference the queue now owns.
func (bq *bufferQueue) push(b pool.Buffer) {
	bq.seal()
	bq.q.Add(b)
	bq.bytes += int64(b.Len())
}

// write copies data into pooled memory. On allocation failure it returns the
// count stored so far together with the error.
func (bq *bufferQueue) write(p *pool.Pool, data []byte) (int, error) {
	written := 0
	for len(data) > 0 {
		if !bq.tail.IsZero() && bq.tail.Available() > 0 {
			n := min(bq.tail.Available(), len(data))
			old := bq.tail.Len()
			bq.tail = bq.tail.Expand(n)
			copy(bq.tail.Bytes()[old:], data[:n])
			data = data[n:]
			written += n
			bq.bytes += int64(n)
			continue
		}
		b, err := p.Acquire()
		if err != nil {
			return written, err
		}
		bq.seal()
		n := min(b.Len(), len(data))
		b = b.Slice(0, n)
		copy(b.Bytes(), data[:n])
		bq.tail = b
		data = data[n:]
		written += n
		bq.bytes += int64(n)
	}
	return written, nil
}

// pop removes the head buffer. The caller takes over its reference.
func (bq *bufferQueue) pop() pool.Buffer {
	var b pool.Buffer
	if bq.q.Length() > 0 {
		b = bq.q.Remove().(pool.Buffer)
	} else {
		b, bq.tail = bq.tail, pool.Buffer{}
	}
	bq.bytes -= int64(b.Len())
	return b
}

// popBatch moves head buffers into a batch until it holds at least limit bytes.
func (bq *bufferQueue) popBatch(limit int) *pool.BufferBatch {
	batch := pool.NewBufferBatch(min(bq.len(), 64))
	for bq.len() > 0 && batch.Bytes() < limit {
		batch.Append(bq.pop())
	}
	return batch
}

// prepend puts bufs, in order, before everything queued.
func (bq *bufferQueue) prepend(bufs []pool.Buffer) {
	if len(bufs) == 0 {
		return
	}
	q := queue.New()
	for _, b := range bufs {
		q.Add(b)
		bq.bytes += int64(b.Len())
	}
	for bq.q.Length() > 0 {
		q.Add(bq.q.Remove())
	}
	bq.q = q
}

func (bq *bufferQueue) releaseAll() {
	for bq.len() > 0 {
		bq.pop().Release()
	}
}
