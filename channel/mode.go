// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

// Mode is the storage state of a channel.
type Mode int

const (
	ModeMemory Mode = iota
	ModeDrainingToDisk
	ModeDisk
	ModeDrainingToMemory
	ModeClosed
	ModeError
)

func (m Mode) String() string {
	switch m {
	case ModeMemory:
		return "MEMORY"
	case ModeDrainingToDisk:
		return "DRAINING_TO_DISK"
	case ModeDisk:
		return "DISK"
	case ModeDrainingToMemory:
		return "DRAINING_TO_MEMORY"
	case ModeClosed:
		return "CLOSED"
	case ModeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
