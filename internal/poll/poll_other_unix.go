//go:build unix && !linux
// +build unix,!linux

// internal/poll/poll_other_unix.go
// Author: momentics <momentics@gmail.com>

package poll

// Platforms without POLLRDHUP observe remote close via POLLHUP only.
const pollRDHUP = 0
