// api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Normalized error code space of the socket runtime. Codes are POSIX
// errno values augmented with getaddrinfo-style EAI_* codes; platform
// specific errors are folded into this space by the errors_unix.go and
// errors_windows.go bindings. Unknown codes pass through unchanged so
// ErrorString and ErrorDescription can still render them numerically.

package api

import (
	"errors"
	"net"
	"strconv"
)

// ErrorCode is a normalized socket error. Zero means success.
type ErrorCode int

// ErrNone is the success code.
const ErrNone ErrorCode = 0

// Name-resolution codes. Values follow the glibc netdb.h convention of
// negative numbers so they never collide with errno values.
const (
	EAI_BADFLAGS   ErrorCode = -1
	EAI_NONAME     ErrorCode = -2
	EAI_AGAIN      ErrorCode = -3
	EAI_FAIL       ErrorCode = -4
	EAI_NODATA     ErrorCode = -5
	EAI_FAMILY     ErrorCode = -6
	EAI_SOCKTYPE   ErrorCode = -7
	EAI_SERVICE    ErrorCode = -8
	EAI_ADDRFAMILY ErrorCode = -9
	EAI_MEMORY     ErrorCode = -10
	EAI_SYSTEM     ErrorCode = -11
	EAI_OVERFLOW   ErrorCode = -12
)

type errorEntry struct {
	code        ErrorCode
	name        string
	description string
}

// The table names the codes the runtime defines; other platform codes
// pass through and render numerically. Descriptions are translatable
// display text; consumers show them verbatim.
var errorTable = []errorEntry{
	{EACCES, "EACCES", "Permission denied"},
	{EADDRINUSE, "EADDRINUSE", "Local address in use"},
	{EAFNOSUPPORT, "EAFNOSUPPORT", "The specified address family is not supported"},
	{EINPROGRESS, "EINPROGRESS", "Operation in progress"},
	{EINVAL, "EINVAL", "Invalid argument passed"},
	{EMFILE, "EMFILE", "Process file table overflow"},
	{ENFILE, "ENFILE", "System limit of open files exceeded"},
	{ENOBUFS, "ENOBUFS", "Out of memory"},
	{ENOMEM, "ENOMEM", "Out of memory"},
	{EPERM, "EPERM", "Permission denied"},
	{EPROTONOSUPPORT, "EPROTONOSUPPORT", "Protocol not supported"},
	{EAGAIN, "EAGAIN", "Resource temporarily unavailable"},
	{EALREADY, "EALREADY", "Operation already in progress"},
	{EBADF, "EBADF", "Bad file descriptor"},
	{ECONNREFUSED, "ECONNREFUSED", "Connection refused by server"},
	{EFAULT, "EFAULT", "Socket address outside address space"},
	{EINTR, "EINTR", "Interrupted by signal"},
	{EISCONN, "EISCONN", "Socket already connected"},
	{ENETUNREACH, "ENETUNREACH", "Network unreachable"},
	{ENOTSOCK, "ENOTSOCK", "File descriptor not a socket"},
	{ETIMEDOUT, "ETIMEDOUT", "Connection attempt timed out"},
	{EHOSTUNREACH, "EHOSTUNREACH", "No route to host"},
	{ENOTCONN, "ENOTCONN", "Socket not connected"},
	{ENETRESET, "ENETRESET", "Connection reset by network"},
	{EOPNOTSUPP, "EOPNOTSUPP", "Operation not supported"},
	{ESHUTDOWN, "ESHUTDOWN", "Socket has been shut down"},
	{EMSGSIZE, "EMSGSIZE", "Message too large"},
	{ECONNABORTED, "ECONNABORTED", "Connection aborted"},
	{ECONNRESET, "ECONNRESET", "Connection reset by peer"},
	{EPIPE, "EPIPE", "Local endpoint has been closed"},

	{EAI_ADDRFAMILY, "EAI_ADDRFAMILY", "Network host does not have any network addresses in the requested address family"},
	{EAI_AGAIN, "EAI_AGAIN", "Temporary failure in name resolution"},
	{EAI_BADFLAGS, "EAI_BADFLAGS", "Invalid value for ai_flags"},
	{EAI_FAIL, "EAI_FAIL", "Nonrecoverable failure in name resolution"},
	{EAI_FAMILY, "EAI_FAMILY", "The ai_family member is not supported"},
	{EAI_MEMORY, "EAI_MEMORY", "Memory allocation failure"},
	{EAI_NODATA, "EAI_NODATA", "No address associated with nodename"},
	{EAI_NONAME, "EAI_NONAME", "Neither nodename nor servname provided, or not known"},
	{EAI_OVERFLOW, "EAI_OVERFLOW", "Argument buffer overflow"},
	{EAI_SERVICE, "EAI_SERVICE", "The servname parameter is not supported for ai_socktype"},
	{EAI_SOCKTYPE, "EAI_SOCKTYPE", "The ai_socktype member is not supported"},
	{EAI_SYSTEM, "EAI_SYSTEM", "Other system error"},
}

// ErrorString returns the symbolic name of a code, or its decimal
// representation when the code is not in the table. Total for every
// input.
func ErrorString(code ErrorCode) string {
	for i := range errorTable {
		if errorTable[i].code == code {
			return errorTable[i].name
		}
	}
	return strconv.Itoa(int(code))
}

// ErrorDescription returns "NAME - description" for known codes and
// the decimal representation otherwise. Total for every input.
func ErrorDescription(code ErrorCode) string {
	for i := range errorTable {
		if errorTable[i].code == code {
			return errorTable[i].name + " - " + errorTable[i].description
		}
	}
	return strconv.Itoa(int(code))
}

// Error carries a normalized code through interfaces that expect a Go
// error, such as the net.Conn adapter.
type Error struct {
	Code ErrorCode
	Op   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return ErrorDescription(e.Code)
	}
	return e.Op + ": " + ErrorDescription(e.Code)
}

// Temporary reports whether the operation may succeed if retried.
func (e *Error) Temporary() bool {
	return e.Code == EAGAIN || e.Code == EINTR || e.Code == EAI_AGAIN
}

// NewError wraps a code into a Go error. Returns nil for ErrNone.
func NewError(op string, code ErrorCode) error {
	if code == ErrNone {
		return nil
	}
	return &Error{Code: code, Op: op}
}

// FromResolveError folds a resolver failure into the EAI_* space.
func FromResolveError(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return EAI_NONAME
		case dnsErr.IsTimeout, dnsErr.IsTemporary:
			return EAI_AGAIN
		default:
			return EAI_FAIL
		}
	}
	return EAI_FAIL
}
