package channel

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-serverkit/api"
	"github.com/momentics/hioload-serverkit/pool"
)

// faultyFile wraps a real descriptor and injects failures by call count.
type faultyFile struct {
	fileHandle
	writes      int
	failWriteAt int         // 1-based WriteAt call that fails, 0 = never
	afterWrite  func(n int) // runs after each successful WriteAt
	truncateErr error
}

var errInjected = errors.New("injected fault")

func (f *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	f.writes++
	if f.writes == f.failWriteAt {
		return 0, errInjected
	}
	n, err := f.fileHandle.WriteAt(p, off)
	if err == nil && f.afterWrite != nil {
		f.afterWrite(f.writes)
	}
	return n, err
}

func (f *faultyFile) Truncate(size int64) error {
	if f.truncateErr != nil {
		return f.truncateErr
	}
	return f.fileHandle.Truncate(size)
}

// moverFixture is a backing file that already holds a 64 byte prefix.
type moverFixture struct {
	pool   *pool.Pool
	file   *backingFile
	faulty *faultyFile
	prefix []byte
}

func newMoverFixture(t *testing.T) *moverFixture {
	t.Helper()
	p, err := pool.New(pool.Config{ChunkSize: testChunk, Allocator: pool.HeapAllocator{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	bf, err := createBackingFile(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bf.destroy(false) })

	prefix := bytes.Repeat([]byte("p"), 64)
	require.NoError(t, bf.writeAt(prefix, 0))

	faulty := &faultyFile{fileHandle: bf.f}
	bf.f = faulty
	return &moverFixture{pool: p, file: bf, faulty: faulty, prefix: prefix}
}

func (fx *moverFixture) batch(t *testing.T, fill ...byte) *pool.BufferBatch {
	t.Helper()
	batch := pool.NewBufferBatch(len(fill))
	for _, c := range fill {
		b, err := fx.pool.Acquire()
		require.NoError(t, err)
		b = b.Slice(0, 100)
		copy(b.Bytes(), bytes.Repeat([]byte{c}, 100))
		batch.Append(b)
	}
	return batch
}

func (fx *moverFixture) size(t *testing.T) int64 {
	t.Helper()
	st, err := os.Stat(fx.file.path)
	require.NoError(t, err)
	return st.Size()
}

func runJob(t *testing.T, job *moverJob) jobResult {
	t.Helper()
	go job.run()
	select {
	case res := <-job.done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("mover job did not finish")
		return jobResult{}
	}
}

func TestMoveAppendsAtOffset(t *testing.T) {
	fx := newMoverFixture(t)
	batch := fx.batch(t, 'a', 'b', 'c')
	defer batch.Release()

	res := runJob(t, newMoverJob(jobMove, fx.file, int64(len(fx.prefix)), batch, false))
	require.NoError(t, res.err)
	assert.False(t, res.canceled)
	assert.Equal(t, int64(300), res.n)
	assert.Equal(t, int64(364), fx.size(t))
}

func TestMoveWriteFailureRollsBack(t *testing.T) {
	fx := newMoverFixture(t)
	fx.faulty.failWriteAt = 2
	batch := fx.batch(t, 'a', 'b', 'c')
	defer batch.Release()

	res := runJob(t, newMoverJob(jobMove, fx.file, int64(len(fx.prefix)), batch, false))
	var ioErr *api.IOError
	require.ErrorAs(t, res.err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
	assert.ErrorIs(t, res.err, errInjected)
	assert.Zero(t, res.n)
	assert.Equal(t, int64(len(fx.prefix)), fx.size(t), "the first view is truncated away")

	got := make([]byte, len(fx.prefix))
	require.NoError(t, fx.file.readAt(got, 0))
	assert.Equal(t, fx.prefix, got, "data before the job offset is untouched")
}

func TestMoveCanceledMidBatchRollsBack(t *testing.T) {
	fx := newMoverFixture(t)
	batch := fx.batch(t, 'a', 'b', 'c')
	defer batch.Release()

	job := newMoverJob(jobMove, fx.file, int64(len(fx.prefix)), batch, false)
	fx.faulty.afterWrite = func(n int) {
		if n == 1 {
			job.cancel()
		}
	}
	res := runJob(t, job)
	assert.True(t, res.canceled)
	assert.NoError(t, res.err)
	assert.Zero(t, res.n)
	assert.Equal(t, 1, fx.faulty.writes, "no view is written after cancel")
	assert.Equal(t, int64(len(fx.prefix)), fx.size(t))
}

func TestMoveRollbackTruncateFailureKeepsWriteError(t *testing.T) {
	fx := newMoverFixture(t)
	fx.faulty.failWriteAt = 3
	fx.faulty.truncateErr = errors.New("truncate refused")
	batch := fx.batch(t, 'a', 'b', 'c')
	defer batch.Release()

	res := runJob(t, newMoverJob(jobMove, fx.file, int64(len(fx.prefix)), batch, false))
	var ioErr *api.IOError
	require.ErrorAs(t, res.err, &ioErr)
	assert.Equal(t, "write", ioErr.Op, "the first failure is the one reported")
}

func TestMoveCanceledMidBatchTruncateFailure(t *testing.T) {
	fx := newMoverFixture(t)
	fx.faulty.truncateErr = errors.New("truncate refused")
	batch := fx.batch(t, 'a', 'b')
	defer batch.Release()

	job := newMoverJob(jobMove, fx.file, int64(len(fx.prefix)), batch, false)
	fx.faulty.afterWrite = func(int) { job.cancel() }
	res := runJob(t, job)
	assert.True(t, res.canceled)
	var ioErr *api.IOError
	require.ErrorAs(t, res.err, &ioErr)
	assert.Equal(t, "truncate", ioErr.Op)
}

func TestReadBackFillsViewsAndTruncates(t *testing.T) {
	fx := newMoverFixture(t)
	src := fx.batch(t, 'a', 'b')
	res := runJob(t, newMoverJob(jobMove, fx.file, int64(len(fx.prefix)), src, false))
	src.Release()
	require.NoError(t, res.err)

	dst := fx.batch(t, 0, 0)
	defer dst.Release()
	res = runJob(t, newMoverJob(jobReadBack, fx.file, int64(len(fx.prefix)), dst, true))
	require.NoError(t, res.err)
	assert.True(t, res.truncated)
	assert.Equal(t, int64(200), res.n)
	assert.Equal(t, bytes.Repeat([]byte("a"), 100), dst.Get(0).Bytes())
	assert.Equal(t, bytes.Repeat([]byte("b"), 100), dst.Get(1).Bytes())
	assert.Zero(t, fx.size(t))
}

func TestReadBackCanceled(t *testing.T) {
	fx := newMoverFixture(t)
	dst := fx.batch(t, 0)
	defer dst.Release()

	job := newMoverJob(jobReadBack, fx.file, 0, dst, true)
	job.cancel()
	res := runJob(t, job)
	assert.True(t, res.canceled)
	assert.False(t, res.truncated)
	assert.NoError(t, res.err)
	assert.Equal(t, int64(len(fx.prefix)), fx.size(t), "a canceled read-back leaves the file alone")
}

func TestReadBackShortFile(t *testing.T) {
	fx := newMoverFixture(t)
	dst := fx.batch(t, 0)
	defer dst.Release()

	// 100 bytes requested, only the 64 byte prefix exists
	res := runJob(t, newMoverJob(jobReadBack, fx.file, 0, dst, true))
	var ioErr *api.IOError
	require.ErrorAs(t, res.err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.False(t, res.truncated)
	assert.Equal(t, int64(len(fx.prefix)), fx.size(t))
}

func TestReadBackTruncateFailure(t *testing.T) {
	fx := newMoverFixture(t)
	fx.faulty.truncateErr = errors.New("truncate refused")
	dst := pool.NewBufferBatch(1)
	b, err := fx.pool.Acquire()
	require.NoError(t, err)
	dst.Append(b.Slice(0, len(fx.prefix)))
	defer dst.Release()

	res := runJob(t, newMoverJob(jobReadBack, fx.file, 0, dst, true))
	var ioErr *api.IOError
	require.ErrorAs(t, res.err, &ioErr)
	assert.Equal(t, "truncate", ioErr.Op)
	assert.False(t, res.truncated)
	assert.Equal(t, fx.prefix, dst.Get(0).Bytes())
}
