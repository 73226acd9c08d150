// File: channel/file_buffered.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FileBufferedChannel keeps pending bytes in pooled memory until they exceed a
// threshold, then streams them through a background mover into an overflow file.
// All methods must be called on the owning loop goroutine; only mover jobs run
// elsewhere and they report back through Loop.Submit.

package channel

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-serverkit/api"
	"github.com/momentics/hioload-serverkit/pool"
)

// moveBatchBytes bounds how much memory one move job takes off the queue.
const moveBatchBytes = 1 << 20

// Deps are the collaborators a FileBufferedChannel runs on.
type Deps struct {
	Pool     *pool.Pool
	Loop     api.Loop
	Executor api.Executor
	Logger   zerolog.Logger
}

// FileBufferedChannel is a channel with threshold-triggered disk overflow.
//
// The logical stream is the unread file region [readOffset, writeOffset),
// followed by the bytes owned by an in-flight job, followed by the memory queue.
type FileBufferedChannel struct {
	cfg  Config
	pool *pool.Pool
	loop api.Loop
	exec api.Executor
	log  zerolog.Logger

	mode Mode
	mem  bufferQueue
	eof  bool
	err  error

	file        *backingFile
	readOffset  int64
	writeOffset int64
	job         *moverJob
	inflight    int64
	moverArmed  bool
	revertTimer api.Timer

	onModeChange func(from, to Mode)
	onError      func(error)
	onReadable   func()
	onClose      []func()

	stats Stats
}

// NewFileBuffered creates a channel in ModeMemory. No file is created until
// the first spill.
func NewFileBuffered(deps Deps, cfg Config) (*FileBufferedChannel, error) {
	if deps.Pool == nil || deps.Loop == nil || deps.Executor == nil {
		return nil, fmt.Errorf("%w: file buffered channel needs a pool, a loop and an executor", api.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FileBufferedChannel{
		cfg:  cfg,
		pool: deps.Pool,
		loop: deps.Loop,
		exec: deps.Executor,
		log:  deps.Logger.With().Str("component", "file_buffered_channel").Logger(),
		mode: ModeMemory,
		mem:  newBufferQueue(),
	}, nil
}

// Config returns the channel configuration.
func (c *FileBufferedChannel) Config() Config { return c.cfg }

// OnModeChange registers an observer of every mode transition.
func (c *FileBufferedChannel) OnModeChange(fn func(from, to Mode)) { c.onModeChange = fn }

// OnError registers the observer that receives the disk failure, once.
func (c *FileBufferedChannel) OnError(fn func(error)) { c.onError = fn }

func (c *FileBufferedChannel) OnReadable(fn func()) { c.onReadable = fn }

func (c *FileBufferedChannel) OnClose(fn func()) { c.onClose = append(c.onClose, fn) }

func (c *FileBufferedChannel) Mode() Mode { return c.mode }

// Err returns the failure that put the channel in ModeError. From then on Read
// and Write return ErrChannelErrored wrapping it instead of panicking.
func (c *FileBufferedChannel) Err() error { return c.err }

func (c *FileBufferedChannel) Stats() Stats { return c.stats }

// FilePath returns the overflow file path, or "" when none exists.
func (c *FileBufferedChannel) FilePath() string {
	if c.file == nil {
		return ""
	}
	return c.file.path
}

// Pending returns unconsumed bytes across disk, the in-flight job and memory.
func (c *FileBufferedChannel) Pending() int64 {
	return c.writeOffset - c.readOffset + c.inflight + c.mem.bytes
}

func (c *FileBufferedChannel) checkOpen(op string) {
	if c.mode == ModeClosed {
		api.Violation(op, "channel is closed")
	}
}

func (c *FileBufferedChannel) checkWritable(op string) {
	c.checkOpen(op)
	if c.eof {
		api.Violation(op, "write after end of stream")
	}
}

func (c *FileBufferedChannel) erroredErr() error {
	return fmt.Errorf("%w: %w", ErrChannelErrored, c.err)
}

func (c *FileBufferedChannel) Write(p []byte) (int, error) {
	c.checkWritable("write")
	if c.mode == ModeError {
		return 0, c.erroredErr()
	}
	n, err := c.mem.write(c.pool, p)
	c.stats.BytesWritten += int64(n)
	if n > 0 {
		c.afterWrite()
	}
	if err == nil && c.mode == ModeError {
		err = c.erroredErr()
	}
	return n, err
}

func (c *FileBufferedChannel) WriteBuffer(b pool.Buffer) error {
	c.checkWritable("write")
	if c.mode == ModeError {
		return c.erroredErr()
	}
	if b.Len() == 0 {
		return nil
	}
	b.Retain()
	c.mem.push(b)
	c.stats.BytesWritten += int64(b.Len())
	c.afterWrite()
	return nil
}

func (c *FileBufferedChannel) afterWrite() {
	switch c.mode {
	case ModeMemory:
		if c.Pending() > c.cfg.Threshold {
			c.beginDrainToDisk()
		}
	case ModeDrainingToDisk:
		c.kickMover()
	case ModeDisk:
		if c.Pending() >= c.cfg.Threshold {
			c.cancelRevert()
		}
		c.kickMover()
	}
	c.notifyReadable()
}

// CloseWrite marks the end of the stream.
func (c *FileBufferedChannel) CloseWrite() {
	c.checkOpen("close write")
	if c.eof {
		return
	}
	c.eof = true
	c.notifyReadable()
}

// Read returns the next buffer in write order. Disk data is served in pieces
// of at most MaxDiskChunkReadSize bytes (and never more than a chunk payload).
func (c *FileBufferedChannel) Read() (pool.Buffer, error) {
	c.checkOpen("read")
	if c.mode == ModeError {
		return pool.Buffer{}, c.erroredErr()
	}
	if c.readOffset < c.writeOffset {
		return c.readDisk()
	}
	if c.job != nil {
		// the job's bytes come before anything still in memory
		return pool.Buffer{}, ErrWouldBlock
	}
	if c.mem.len() > 0 {
		b := c.mem.pop()
		c.stats.BytesRead += int64(b.Len())
		c.afterRead()
		return b, nil
	}
	if c.eof {
		return pool.Buffer{}, io.EOF
	}
	return pool.Buffer{}, ErrWouldBlock
}

func (c *FileBufferedChannel) readDisk() (pool.Buffer, error) {
	limit := c.pool.PayloadSize()
	if m := c.cfg.MaxDiskChunkReadSize; m > 0 && m < limit {
		limit = m
	}
	n := int(min(int64(limit), c.writeOffset-c.readOffset))

	b, err := c.pool.Acquire()
	if err != nil {
		return pool.Buffer{}, err
	}
	b = b.Slice(0, n)
	if err := c.file.readAt(b.Bytes(), c.readOffset); err != nil {
		b.Release()
		c.fail(err)
		return pool.Buffer{}, c.erroredErr()
	}
	c.readOffset += int64(n)
	c.stats.BytesRead += int64(n)
	c.afterRead()
	return b, nil
}

func (c *FileBufferedChannel) afterRead() {
	if c.mode == ModeDisk {
		c.evaluateRevert()
	}
}

// StartMover lets a pending drain to disk proceed when AutoStartMover is off.
// It stays in effect until the channel is back in ModeMemory.
func (c *FileBufferedChannel) StartMover() {
	c.checkOpen("start mover")
	if c.moverArmed {
		return
	}
	c.moverArmed = true
	if c.mode == ModeDrainingToDisk {
		c.kickMover()
	}
}

func (c *FileBufferedChannel) beginDrainToDisk() {
	c.stats.Spills++
	if c.file == nil {
		f, err := createBackingFile(c.cfg.BufferDir)
		if err != nil {
			c.fail(err)
			return
		}
		c.file = f
		c.log.Debug().Str("path", f.path).Msg("created overflow file")
	}
	c.setMode(ModeDrainingToDisk)
	if c.cfg.AutoStartMover {
		c.moverArmed = true
	}
	c.kickMover()
}

// kickMover starts the next move when possible and completes DRAINING_TO_DISK
// once memory is empty.
func (c *FileBufferedChannel) kickMover() {
	if !c.moverArmed || c.job != nil {
		return
	}
	if c.mem.len() > 0 {
		c.startMove()
		return
	}
	if c.mode == ModeDrainingToDisk {
		c.setMode(ModeDisk)
	}
	if c.mode == ModeDisk {
		c.evaluateRevert()
	}
}

func (c *FileBufferedChannel) startMove() {
	batch := c.mem.popBatch(moveBatchBytes)
	job := newMoverJob(jobMove, c.file, c.writeOffset, batch, false)
	c.inflight = int64(batch.Bytes())
	c.dispatch(job)
}

func (c *FileBufferedChannel) finishMove(job *moverJob, res jobResult) {
	job.batch.Release()
	if res.err != nil {
		c.fail(res.err)
		return
	}
	c.writeOffset += res.n
	c.stats.BytesMoved += res.n
	if c.mode == ModeDrainingToMemory {
		c.startReadBack()
	} else {
		c.kickMover()
	}
	c.notifyReadable()
}

// evaluateRevert applies hysteresis: the channel leaves ModeDisk only after
// pending bytes stayed below threshold for DelayInFileModeSwitching.
func (c *FileBufferedChannel) evaluateRevert() {
	if c.mode != ModeDisk {
		return
	}
	if c.Pending() >= c.cfg.Threshold {
		c.cancelRevert()
		return
	}
	d := c.cfg.DelayInFileModeSwitching
	if d <= 0 {
		c.beginDrainToMemory()
		return
	}
	if c.revertTimer != nil {
		return
	}
	c.revertTimer = c.loop.AfterFunc(d, func() {
		c.revertTimer = nil
		if c.mode == ModeDisk && c.Pending() < c.cfg.Threshold {
			c.beginDrainToMemory()
		}
	})
}

func (c *FileBufferedChannel) cancelRevert() {
	if c.revertTimer != nil {
		c.revertTimer.Stop()
		c.revertTimer = nil
	}
}

func (c *FileBufferedChannel) beginDrainToMemory() {
	c.setMode(ModeDrainingToMemory)
	if c.job == nil {
		c.startReadBack()
	}
}

// startReadBack hands the whole unread file region to a read-back job.
func (c *FileBufferedChannel) startReadBack() {
	n := c.writeOffset - c.readOffset
	payload := int64(c.pool.PayloadSize())
	batch := pool.NewBufferBatch(int((n + payload - 1) / payload))
	for rem := n; rem > 0; {
		b, err := c.pool.Acquire()
		if err != nil {
			batch.Release()
			c.log.Warn().Err(err).Int64("bytes", n).Msg("read-back postponed, pool cannot serve it")
			c.setMode(ModeDisk)
			return
		}
		sz := min(rem, payload)
		batch.Append(b.Slice(0, int(sz)))
		rem -= sz
	}
	job := newMoverJob(jobReadBack, c.file, c.readOffset, batch, c.cfg.AutoTruncateFile)
	c.inflight = n
	c.readOffset = c.writeOffset
	c.dispatch(job)
}

func (c *FileBufferedChannel) finishReadBack(job *moverJob, res jobResult) {
	if res.err != nil {
		job.batch.Release()
		c.fail(res.err)
		return
	}
	c.mem.prepend(job.batch.Underlying())
	job.batch.Reset()
	c.stats.BytesReadBack += res.n
	if res.truncated {
		c.readOffset, c.writeOffset = 0, 0
	}
	c.moverArmed = false
	c.setMode(ModeMemory)
	if c.Pending() > c.cfg.Threshold {
		c.beginDrainToDisk()
	}
	c.notifyReadable()
}

func (c *FileBufferedChannel) dispatch(job *moverJob) {
	c.job = job
	c.log.Debug().Stringer("job", job.kind).Int64("offset", job.offset).Int("bytes", job.batch.Bytes()).Msg("mover job dispatched")
	err := c.exec.Submit(func() {
		job.run()
		// if the loop is gone the result stays in job.done for WaitMover
		_ = c.loop.Submit(func() { c.collect(job) })
	})
	if err == nil {
		return
	}
	c.job = nil
	c.inflight = 0
	switch job.kind {
	case jobMove:
		c.mem.prepend(job.batch.Underlying())
		job.batch.Reset()
	case jobReadBack:
		c.readOffset = job.offset
		job.batch.Release()
	}
	c.fail(&api.IOError{Op: "dispatch " + job.kind.String(), Path: job.file.path, Err: err})
}

// collect finalizes job on the loop. It is a no-op for a job already collected.
func (c *FileBufferedChannel) collect(job *moverJob) {
	if c.job != job {
		return
	}
	res := <-job.done
	c.job = nil
	c.inflight = 0

	switch c.mode {
	case ModeClosed:
		job.batch.Release()
		if err := c.teardownFile(); err != nil {
			c.log.Warn().Err(err).Msg("overflow file teardown")
		}
		return
	case ModeError:
		job.batch.Release()
		return
	}
	if res.canceled {
		job.batch.Release()
		return
	}
	if job.kind == jobMove {
		c.finishMove(job, res)
	} else {
		c.finishReadBack(job, res)
	}
}

// WaitMover blocks until the in-flight job, if any, has finished and been
// collected. Use it on the loop goroutine during shutdown.
func (c *FileBufferedChannel) WaitMover() {
	for c.job != nil {
		c.collect(c.job)
	}
}

// fail moves the channel to ModeError and reports err once.
func (c *FileBufferedChannel) fail(err error) {
	if c.mode == ModeError || c.mode == ModeClosed {
		return
	}
	c.err = err
	c.cancelRevert()
	c.setMode(ModeError)

	var ioErr *api.IOError
	ev := c.log.Error().Err(err)
	if errors.As(err, &ioErr) {
		ev = ev.Str("path", ioErr.Path).Bool("disk_full", ioErr.DiskFull())
	}
	ev.Msg("channel disk failure")

	if c.onError != nil {
		c.onError(err)
	}
}

// Close releases memory, aborts an in-flight job at its next checkpoint and
// removes the overflow file. It is idempotent.
func (c *FileBufferedChannel) Close() error {
	if c.mode == ModeClosed {
		return nil
	}
	c.cancelRevert()
	c.setMode(ModeClosed)
	c.mem.releaseAll()
	for _, fn := range c.onClose {
		fn()
	}
	if c.job != nil {
		c.job.cancel()
		return nil
	}
	return c.teardownFile()
}

func (c *FileBufferedChannel) teardownFile() error {
	if c.file == nil {
		return nil
	}
	err := c.file.destroy(c.cfg.AutoTruncateFile)
	c.file = nil
	c.readOffset, c.writeOffset = 0, 0
	return err
}

func (c *FileBufferedChannel) setMode(to Mode) {
	from := c.mode
	if from == to {
		return
	}
	c.mode = to
	c.log.Debug().Stringer("from", from).Stringer("to", to).Int64("pending", c.Pending()).Msg("mode change")
	if c.onModeChange != nil {
		c.onModeChange(from, to)
	}
}

func (c *FileBufferedChannel) notifyReadable() {
	if c.onReadable != nil {
		c.onReadable()
	}
}
