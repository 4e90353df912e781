//go:build unix
// +build unix

// socket/sock_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw descriptor plumbing on Unix platforms. Every socket the runtime
// creates is non-blocking and close-on-exec; the worker performs the
// waits, the owner performs the I/O syscalls directly.

package socket

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/asock/api"
)

type sysFD = int

const invalidFD sysFD = -1

func ipToSockaddr(ip net.IP, zone string, port int) unix.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: port, ZoneId: uint32(zoneIndex(zone))}
	copy(sa.Addr[:], ip.To16())
	return sa
}

func sockaddrToIPPort(sa unix.Sockaddr) (net.IP, string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return ip, "", a.Port
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return ip, zoneName(int(a.ZoneId)), a.Port
	}
	return nil, "", 0
}

// sysSocket creates a non-blocking stream socket for the family of ip.
func sysSocket(ip net.IP) (sysFD, error) {
	family := unix.AF_INET6
	if ip.To4() != nil {
		family = unix.AF_INET
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return invalidFD, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return invalidFD, err
	}
	return fd, nil
}

// sysConnect issues the non-blocking connect. EINPROGRESS is the
// expected start-of-connection result.
func sysConnect(fd sysFD, ip net.IP, zone string, port int) api.ErrorCode {
	return api.FromSyscallError(unix.Connect(fd, ipToSockaddr(ip, zone, port)))
}

func sysClose(fd sysFD) {
	unix.Close(fd)
}

func sysRead(fd sysFD, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func sysPeek(fd sysFD, buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(fd, buf, unix.MSG_PEEK)
	return n, err
}

// sysPeekPending reports whether unread data remains on the socket.
func sysPeekPending(fd sysFD) bool {
	var b [1]byte
	n, err := sysPeek(fd, b[:])
	return err == nil && n > 0
}

func sysWrite(fd sysFD, buf []byte) (int, error) {
	return unix.SendmsgN(fd, buf, nil, nil, msgNoSignal)
}

func sysAccept(fd sysFD) (sysFD, error) {
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		return invalidFD, err
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return invalidFD, err
	}
	return nfd, nil
}

func sysBind(fd sysFD, ip net.IP, port int) error {
	return unix.Bind(fd, ipToSockaddr(ip, "", port))
}

func sysListen(fd sysFD, backlog int) error {
	return unix.Listen(fd, backlog)
}

func sysLocalAddr(fd sysFD) (net.IP, string, int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, "", 0, err
	}
	ip, zone, port := sockaddrToIPPort(sa)
	return ip, zone, port, nil
}

func sysPeerAddr(fd sysFD) (net.IP, string, int, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, "", 0, err
	}
	ip, zone, port := sockaddrToIPPort(sa)
	return ip, zone, port, nil
}

// applyFlagsFD applies the option bits selected by mask to fd.
func applyFlagsFD(fd sysFD, flags, mask Flags) api.ErrorCode {
	if mask&FlagNodelay != 0 {
		value := 0
		if flags&FlagNodelay != 0 {
			value = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, value); err != nil {
			return api.FromSyscallError(err)
		}
	}
	if mask&FlagKeepalive != 0 {
		value := 0
		if flags&FlagKeepalive != 0 {
			value = 1
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, value); err != nil {
			return api.FromSyscallError(err)
		}
	}
	return api.ErrNone
}

// applyBufferSizes applies the configured kernel buffer sizes; -1
// leaves the respective default untouched.
func applyBufferSizes(fd sysFD, sizeRead, sizeWrite int) api.ErrorCode {
	if sizeRead != -1 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, sizeRead); err != nil {
			return api.FromSyscallError(err)
		}
	}
	if sizeWrite != -1 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sizeWrite); err != nil {
			return api.FromSyscallError(err)
		}
	}
	return api.ErrNone
}
