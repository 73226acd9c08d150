// Package channel
// Author: momentics <momentics@gmail.com>
//
// Ordered byte-stream channels over pooled buffers.
//
// BufferedChannel keeps everything in pool memory. FileBufferedChannel adds a
// threshold-triggered overflow file: a background mover copies queued buffers to
// disk on an executor goroutine and hands them back to the loop, reads are served
// from the file while it holds data, and a hysteresis timer decides when the
// channel falls back to memory.
//
// Channels are confined to the goroutine of the loop that owns their pool.
package channel
