//go:build unix
// +build unix

// api/errors_unix.go
// Author: momentics <momentics@gmail.com>
//
// POSIX errno bindings. On Unix platforms the normalized space is the
// platform errno space itself, so translation is the identity.

package api

import (
	"errors"

	"golang.org/x/sys/unix"
)

const (
	EACCES          = ErrorCode(unix.EACCES)
	EADDRINUSE      = ErrorCode(unix.EADDRINUSE)
	EAFNOSUPPORT    = ErrorCode(unix.EAFNOSUPPORT)
	EAGAIN          = ErrorCode(unix.EAGAIN)
	EALREADY        = ErrorCode(unix.EALREADY)
	EBADF           = ErrorCode(unix.EBADF)
	ECONNABORTED    = ErrorCode(unix.ECONNABORTED)
	ECONNREFUSED    = ErrorCode(unix.ECONNREFUSED)
	ECONNRESET      = ErrorCode(unix.ECONNRESET)
	EFAULT          = ErrorCode(unix.EFAULT)
	EHOSTUNREACH    = ErrorCode(unix.EHOSTUNREACH)
	EINPROGRESS     = ErrorCode(unix.EINPROGRESS)
	EINTR           = ErrorCode(unix.EINTR)
	EINVAL          = ErrorCode(unix.EINVAL)
	EISCONN         = ErrorCode(unix.EISCONN)
	EMFILE          = ErrorCode(unix.EMFILE)
	EMSGSIZE        = ErrorCode(unix.EMSGSIZE)
	ENETRESET       = ErrorCode(unix.ENETRESET)
	ENETUNREACH     = ErrorCode(unix.ENETUNREACH)
	ENFILE          = ErrorCode(unix.ENFILE)
	ENOBUFS         = ErrorCode(unix.ENOBUFS)
	ENOMEM          = ErrorCode(unix.ENOMEM)
	ENOTCONN        = ErrorCode(unix.ENOTCONN)
	ENOTSOCK        = ErrorCode(unix.ENOTSOCK)
	EOPNOTSUPP      = ErrorCode(unix.EOPNOTSUPP)
	EPERM           = ErrorCode(unix.EPERM)
	EPIPE           = ErrorCode(unix.EPIPE)
	EPROTONOSUPPORT = ErrorCode(unix.EPROTONOSUPPORT)
	ESHUTDOWN       = ErrorCode(unix.ESHUTDOWN)
	ETIMEDOUT       = ErrorCode(unix.ETIMEDOUT)
)

// FromPlatformCode normalizes a raw platform error number, such as the
// value probed via SO_ERROR. The identity on Unix.
func FromPlatformCode(code int) ErrorCode {
	return ErrorCode(code)
}

// FromSyscallError normalizes an error returned by a socket syscall.
// Unknown errors map to EINVAL, nil maps to ErrNone.
func FromSyscallError(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return ErrorCode(errno)
	}
	return EINVAL
}
