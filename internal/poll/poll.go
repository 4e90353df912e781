// internal/poll/poll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-worker readiness primitive. A Waiter blocks until the socket can
// make progress on one of the waited-for conditions, or until the
// owner posts a wakeup. Two implementations share this contract: a
// self-pipe plus poll(2) on Unix, and a WSA event object on Windows.

package poll

import "github.com/momentics/asock/api"

// Mask is a bitset over the conditions a worker can wait for.
type Mask int

const (
	// WaitConnect waits for an in-progress connect to complete.
	WaitConnect Mask = 1 << iota
	// WaitRead waits for the socket to become readable.
	WaitRead
	// WaitWrite waits for the socket to become writable.
	WaitWrite
	// WaitAccept waits for an inbound connection on a listener.
	WaitAccept
	// WaitClose waits for the remote close notification.
	WaitClose
)

// Error-slot indices of Result.Errors, one per mask bit.
const (
	IdxConnect = iota
	IdxRead
	IdxWrite
	IdxAccept
	IdxClose
	// EventCount is the number of distinct wait conditions.
	EventCount
)

// Result reports one wait round: which conditions triggered and the
// per-condition error codes. A zero Triggered mask means the wait was
// interrupted (wakeup, EINTR) without any socket condition becoming
// ready; the caller decides whether to cancel or continue.
type Result struct {
	Triggered Mask
	Errors    [EventCount]api.ErrorCode
}
