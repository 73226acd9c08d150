//go:build unix

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}
