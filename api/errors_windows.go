//go:build windows
// +build windows

// api/errors_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows bindings of the normalized code space. Winsock reports
// WSA* codes; convertWSAError folds them to the nearest POSIX
// equivalent. The constant values follow the UCRT errno numbering so
// that the normalized space stays stable and distinct from the raw
// WSA range.

package api

import (
	"errors"

	"golang.org/x/sys/windows"
)

const (
	EPERM           ErrorCode = 1
	EINTR           ErrorCode = 4
	EBADF           ErrorCode = 9
	EAGAIN          ErrorCode = 11
	ENOMEM          ErrorCode = 12
	EACCES          ErrorCode = 13
	EFAULT          ErrorCode = 14
	EINVAL          ErrorCode = 22
	ENFILE          ErrorCode = 23
	EMFILE          ErrorCode = 24
	EPIPE           ErrorCode = 32
	EADDRINUSE      ErrorCode = 100
	EAFNOSUPPORT    ErrorCode = 102
	EALREADY        ErrorCode = 103
	ECONNABORTED    ErrorCode = 106
	ECONNREFUSED    ErrorCode = 107
	ECONNRESET      ErrorCode = 108
	EHOSTUNREACH    ErrorCode = 110
	EINPROGRESS     ErrorCode = 112
	EISCONN         ErrorCode = 113
	EMSGSIZE        ErrorCode = 115
	ENETRESET       ErrorCode = 117
	ENETUNREACH     ErrorCode = 118
	ENOBUFS         ErrorCode = 119
	ENOTCONN        ErrorCode = 126
	ENOTSOCK        ErrorCode = 128
	EOPNOTSUPP      ErrorCode = 130
	EPROTONOSUPPORT ErrorCode = 135
	ETIMEDOUT       ErrorCode = 138
	ESHUTDOWN       ErrorCode = 141
)

// winsock error numbers folded below.
const (
	wsaBase            = 10000
	wsaEINTR           = wsaBase + 4
	wsaEBADF           = wsaBase + 9
	wsaEACCES          = wsaBase + 13
	wsaEFAULT          = wsaBase + 14
	wsaEINVAL          = wsaBase + 22
	wsaEMFILE          = wsaBase + 24
	wsaEWOULDBLOCK     = wsaBase + 35
	wsaEINPROGRESS     = wsaBase + 36
	wsaEALREADY        = wsaBase + 37
	wsaENOTSOCK        = wsaBase + 38
	wsaEMSGSIZE        = wsaBase + 40
	wsaEPROTONOSUPPORT = wsaBase + 43
	wsaEOPNOTSUPP      = wsaBase + 45
	wsaEAFNOSUPPORT    = wsaBase + 47
	wsaEADDRINUSE      = wsaBase + 48
	wsaENETUNREACH     = wsaBase + 51
	wsaENETRESET       = wsaBase + 52
	wsaECONNABORTED    = wsaBase + 53
	wsaECONNRESET      = wsaBase + 54
	wsaENOBUFS         = wsaBase + 55
	wsaEISCONN         = wsaBase + 56
	wsaENOTCONN        = wsaBase + 57
	wsaESHUTDOWN       = wsaBase + 58
	wsaETIMEDOUT       = wsaBase + 60
	wsaECONNREFUSED    = wsaBase + 61
	wsaEHOSTUNREACH    = wsaBase + 65
	wsaHostNotFound    = wsaBase + 1001
	wsaTryAgain        = wsaBase + 1002
	wsaNoRecovery      = wsaBase + 1003
	wsaNoData          = wsaBase + 1004
)

func convertWSAError(code int) ErrorCode {
	switch code {
	case wsaEINTR:
		return EINTR
	case wsaEBADF:
		return EBADF
	case wsaEACCES:
		return EACCES
	case wsaEFAULT:
		return EFAULT
	case wsaEINVAL:
		return EINVAL
	case wsaEMFILE:
		return EMFILE
	case wsaEWOULDBLOCK:
		return EAGAIN
	case wsaEINPROGRESS:
		return EINPROGRESS
	case wsaEALREADY:
		return EALREADY
	case wsaENOTSOCK:
		return ENOTSOCK
	case wsaEMSGSIZE:
		return EMSGSIZE
	case wsaEPROTONOSUPPORT:
		return EPROTONOSUPPORT
	case wsaEOPNOTSUPP:
		return EOPNOTSUPP
	case wsaEAFNOSUPPORT:
		return EAFNOSUPPORT
	case wsaEADDRINUSE:
		return EADDRINUSE
	case wsaENETUNREACH:
		return ENETUNREACH
	case wsaENETRESET:
		return ENETRESET
	case wsaECONNABORTED:
		return ECONNABORTED
	case wsaECONNRESET:
		return ECONNRESET
	case wsaENOBUFS:
		return ENOBUFS
	case wsaEISCONN:
		return EISCONN
	case wsaENOTCONN:
		return ENOTCONN
	case wsaESHUTDOWN:
		return ESHUTDOWN
	case wsaETIMEDOUT:
		return ETIMEDOUT
	case wsaECONNREFUSED:
		return ECONNREFUSED
	case wsaEHOSTUNREACH:
		return EHOSTUNREACH
	case wsaHostNotFound:
		return EAI_NONAME
	case wsaTryAgain:
		return EAI_AGAIN
	case wsaNoRecovery:
		return EAI_FAIL
	case wsaNoData:
		return EAI_NODATA
	}
	return ErrorCode(code)
}

// FromPlatformCode normalizes a raw Winsock error number, such as an
// entry of WSANETWORKEVENTS.iErrorCode.
func FromPlatformCode(code int) ErrorCode {
	if code == 0 {
		return ErrNone
	}
	return convertWSAError(code)
}

// FromSyscallError normalizes an error returned by a socket syscall.
// Unknown errors map to EINVAL, nil maps to ErrNone.
func FromSyscallError(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var errno windows.Errno
	if errors.As(err, &errno) {
		return convertWSAError(int(errno))
	}
	return EINVAL
}
