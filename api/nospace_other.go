//go:build !unix

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"
	"syscall"
)

// errDiskFullWindows is ERROR_DISK_FULL.
const errDiskFullWindows = syscall.Errno(112)

func isNoSpace(err error) bool {
	return errors.Is(err, errDiskFullWindows)
}
