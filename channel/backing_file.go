// File: channel/backing_file.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Overflow file of a FileBufferedChannel. Positional I/O only, so the mover
// may append while the loop reads an earlier region of the same descriptor.

package channel

import (
	"errors"
	"io"
	"os"

	"github.com/momentics/hioload-serverkit/api"
)

const backingFilePattern = "fbc-*.buf"

// fileHandle is the slice of *os.File a backing file uses.
type fileHandle interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Close() error
}

type backingFile struct {
	f    fileHandle
	path string
}

func createBackingFile(dir string) (*backingFile, error) {
	f, err := os.CreateTemp(dir, backingFilePattern)
	if err != nil {
		return nil, &api.IOError{Op: "create", Path: dir, Err: err}
	}
	return &backingFile{f: f, path: f.Name()}, nil
}

func (bf *backingFile) writeAt(p []byte, off int64) error {
	if _, err := bf.f.WriteAt(p, off); err != nil {
		return &api.IOError{Op: "write", Path: bf.path, Err: err}
	}
	return nil
}

// readAt fills p completely or fails.
func (bf *backingFile) readAt(p []byte, off int64) error {
	n, err := bf.f.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &api.IOError{Op: "read", Path: bf.path, Err: err}
}

func (bf *backingFile) truncate(size int64) error {
	if err := bf.f.Truncate(size); err != nil {
		return &api.IOError{Op: "truncate", Path: bf.path, Err: err}
	}
	return nil
}

// destroy closes and unlinks the file, truncating it first when asked.
func (bf *backingFile) destroy(truncate bool) error {
	var errs []error
	if truncate {
		if err := bf.truncate(0); err != nil {
			errs = append(errs, err)
		}
	}
	if err := bf.f.Close(); err != nil {
		errs = append(errs, &api.IOError{Op: "close", Path: bf.path, Err: err})
	}
	if err := os.Remove(bf.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, &api.IOError{Op: "remove", Path: bf.path, Err: err})
	}
	return errors.Join(errs...)
}
