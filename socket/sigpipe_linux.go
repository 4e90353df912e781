//go:build linux
// +build linux

// socket/sigpipe_linux.go
// Author: momentics <momentics@gmail.com>

package socket

import "golang.org/x/sys/unix"

// Linux suppresses SIGPIPE per send call.
const msgNoSignal = unix.MSG_NOSIGNAL

func setNoSigpipe(fd sysFD) {}
