// Package api
// Author: momentics
//
// Loop contract: the reactor handle a worker context runs on.

package api

import "time"

// Loop is an event loop that runs closures on a single goroutine. Pool and
// channel state owned by a worker is only touched from that goroutine.
type Loop interface {
    // Submit schedules fn on the loop goroutine. Safe from any goroutine.
    Submit(fn func()) error

    // AfterFunc schedules fn on the loop goroutine once d has elapsed.
    AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
    // Stop prevents the callback from running. It reports false if the
    // callback already ran or was already stopped.
    Stop() bool
}
