//go:build unix
// +build unix

// internal/poll/waiter_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness-syscall variant. The worker blocks in poll(2) on the
// socket and the read end of a self-pipe; the owner cancels the wait
// by writing one byte into the pipe. The pipe is drained on every wake
// to keep the level-triggered poll well-defined, and multiple wakeups
// posted before the worker observes one coalesce into a single wake.

package poll

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/asock/api"
)

// Waiter is the per-worker wakeup primitive and readiness wait.
type Waiter struct {
	pipe [2]int
}

// New creates the self-pipe. Both ends are non-blocking so a full pipe
// coalesces wakeups instead of blocking the owner.
func New() (*Waiter, error) {
	w := &Waiter{pipe: [2]int{-1, -1}}
	if err := unix.Pipe(w.pipe[:]); err != nil {
		return nil, err
	}
	for _, fd := range w.pipe {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

// Wakeup interrupts a pending Wait. Idempotent: a byte already in the
// pipe means a wake is pending and nothing more is needed.
func (w *Waiter) Wakeup() {
	buf := []byte{0}
	for {
		_, err := unix.Write(w.pipe[1], buf)
		if err != unix.EINTR {
			return
		}
	}
}

// Close releases the pipe.
func (w *Waiter) Close() {
	for i, fd := range w.pipe {
		if fd != -1 {
			unix.Close(fd)
			w.pipe[i] = -1
		}
	}
}

// drain empties the pipe after a wake.
func (w *Waiter) drain() {
	buf := make([]byte, 128)
	for {
		n, err := unix.Read(w.pipe[0], buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

// Wait performs one blocking poll(2) round on fd for the conditions in
// waiting. It returns a zero Triggered mask when the round was
// interrupted by a wakeup or EINTR; any other syscall failure aborts
// the wait with an error. The caller must not hold its mutex.
func (w *Waiter) Wait(fd int, waiting Mask) (Result, error) {
	var res Result

	fds := []unix.PollFd{
		{Fd: int32(w.pipe[0]), Events: unix.POLLIN},
	}
	if fd >= 0 {
		var events int16
		if waiting&(WaitRead|WaitAccept) != 0 {
			events |= unix.POLLIN
		}
		if waiting&(WaitWrite|WaitConnect) != 0 {
			events |= unix.POLLOUT
		}
		if waiting&WaitClose != 0 {
			events |= pollRDHUP
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}

	n, err := unix.Poll(fds, -1)
	if err == unix.EINTR {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if fds[0].Revents&unix.POLLIN != 0 {
		w.drain()
	}
	if n <= 0 || len(fds) < 2 {
		return res, nil
	}

	revents := Mask(0)
	re := fds[1].Revents
	readable := re&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0
	writable := re&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0
	hup := re&(unix.POLLHUP|pollRDHUP) != 0
	failed := re&unix.POLLERR != 0

	if waiting&WaitConnect != 0 {
		if writable {
			revents |= WaitConnect
			res.Errors[IdxConnect] = sockError(fd)
		}
	} else {
		if waiting&WaitAccept != 0 && readable {
			revents |= WaitAccept
		} else if waiting&WaitRead != 0 && readable {
			revents |= WaitRead
		}
		if waiting&WaitWrite != 0 && writable {
			revents |= WaitWrite
		}
		if waiting&WaitClose != 0 && (hup || failed) {
			revents |= WaitClose
			if failed {
				res.Errors[IdxClose] = sockError(fd)
			}
		}
	}

	res.Triggered = revents
	return res, nil
}

// sockError probes the pending socket-level error.
func sockError(fd int) api.ErrorCode {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return api.FromSyscallError(err)
	}
	return api.ErrorCode(code)
}
