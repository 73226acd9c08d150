// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import "errors"

var (
	// ErrWouldBlock is returned by Read when no data is available yet.
	ErrWouldBlock = errors.New("channel: no data available")

	// ErrChannelErrored wraps the disk failure that put a channel in ModeError.
	ErrChannelErrored = errors.New("channel: disk failure")
)
