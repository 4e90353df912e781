//go:build darwin || dragonfly || freebsd || netbsd || openbsd
// +build darwin dragonfly freebsd netbsd openbsd

// socket/sigpipe_nosigpipe.go
// Author: momentics <momentics@gmail.com>

package socket

import "golang.org/x/sys/unix"

// The BSDs suppress SIGPIPE per socket instead of per send call.
const msgNoSignal = 0

func setNoSigpipe(fd sysFD) {
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}
