// File: channel/mover.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mover jobs run on an executor goroutine. A job exclusively owns the buffers in
// its batch from dispatch until the loop collects its result; it touches them
// only through views resolved on the loop before dispatch.

package channel

import (
	"context"

	"github.com/momentics/hioload-serverkit/pool"
)

type jobKind uint8

const (
	jobMove     jobKind = iota // memory -> disk
	jobReadBack                // disk -> memory
)

func (k jobKind) String() string {
	if k == jobMove {
		return "move"
	}
	return "read-back"
}

type moverJob struct {
	kind     jobKind
	file     *backingFile
	offset   int64
	batch    *pool.BufferBatch
	views    [][]byte
	truncate bool // read-back only: truncate the file to 0 once read

	ctx    context.Context
	cancel context.CancelFunc
	done   chan jobResult // capacity 1, the worker never blocks on it
}

type jobResult struct {
	n         int64
	err       error
	truncated bool
	canceled  bool
}

func newMoverJob(kind jobKind, file *backingFile, offset int64, batch *pool.BufferBatch, truncate bool) *moverJob {
	views := make([][]byte, batch.Len())
	for i, b := range batch.Underlying() {
		views[i] = b.Bytes()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &moverJob{
		kind:     kind,
		file:     file,
		offset:   offset,
		batch:    batch,
		views:    views,
		truncate: truncate,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan jobResult, 1),
	}
}

func (j *moverJob) run() {
	var res jobResult
	switch j.kind {
	case jobMove:
		res = j.move()
	case jobReadBack:
		res = j.readBack()
	}
	j.cancel()
	j.done <- res
}

// move appends the views at offset. A failed or canceled move is rolled back
// by truncating to offset, so a partial copy is never read as data.
func (j *moverJob) move() (res jobResult) {
	off := j.offset
	for _, v := range j.views {
		if j.ctx.Err() != nil {
			res.canceled = true
			break
		}
		if err := j.file.writeAt(v, off); err != nil {
			res.err = err
			break
		}
		off += int64(len(v))
	}
	if res.err == nil && !res.canceled {
		res.n = off - j.offset
		return res
	}
	if off > j.offset {
		if err := j.file.truncate(j.offset); err != nil && res.err == nil {
			res.err = err
		}
	}
	return res
}

func (j *moverJob) readBack() (res jobResult) {
	off := j.offset
	for _, v := range j.views {
		if j.ctx.Err() != nil {
			res.canceled = true
			return res
		}
		if err := j.file.readAt(v, off); err != nil {
			res.err = err
			return res
		}
		off += int64(len(v))
	}
	res.n = off - j.offset
	if j.truncate {
		if err := j.file.truncate(0); err != nil {
			res.err = err
			return res
		}
		res.truncated = true
	}
	return res
}
