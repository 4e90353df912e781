//go:build linux
// +build linux

// internal/poll/poll_linux.go
// Author: momentics <momentics@gmail.com>

package poll

import "golang.org/x/sys/unix"

// POLLRDHUP reports a peer shutdown before the stream is drained,
// which is what the close wait maps to on Linux.
const pollRDHUP = unix.POLLRDHUP
