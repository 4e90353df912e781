//go:build windows
// +build windows

// socket/sock_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw descriptor plumbing on Windows. Winsock entry points without an
// x/sys/windows wrapper (recv, send, accept, ioctlsocket) are resolved
// from ws2_32.dll. WSAStartup runs once on first use.

package socket

import (
	"net"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/asock/api"
)

type sysFD = windows.Handle

const invalidFD sysFD = windows.InvalidHandle

const msgPeek = 0x2

var (
	modws2_32       = windows.NewLazySystemDLL("ws2_32.dll")
	procrecv        = modws2_32.NewProc("recv")
	procsend        = modws2_32.NewProc("send")
	procaccept      = modws2_32.NewProc("accept")
	procioctlsocket = modws2_32.NewProc("ioctlsocket")

	wsaOnce sync.Once
)

func wsaStartup() {
	wsaOnce.Do(func() {
		var data windows.WSAData
		windows.WSAStartup(uint32(0x202), &data)
	})
}

func ioctlNonblock(fd sysFD) error {
	nonblock := uint32(1)
	const fionbio = 0x8004667e
	r, _, e := procioctlsocket.Call(uintptr(fd), uintptr(fionbio), uintptr(unsafe.Pointer(&nonblock)))
	if int32(r) != 0 {
		return e
	}
	return nil
}

func ipToSockaddr(ip net.IP, zone string, port int) windows.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &windows.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &windows.SockaddrInet6{Port: port, ZoneId: uint32(zoneIndex(zone))}
	copy(sa.Addr[:], ip.To16())
	return sa
}

func sockaddrToIPPort(sa windows.Sockaddr) (net.IP, string, int) {
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return ip, "", a.Port
	case *windows.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return ip, zoneName(int(a.ZoneId)), a.Port
	}
	return nil, "", 0
}

// sysSocket creates a non-blocking stream socket for the family of ip.
func sysSocket(ip net.IP) (sysFD, error) {
	wsaStartup()
	family := windows.AF_INET6
	if ip.To4() != nil {
		family = windows.AF_INET
	}
	fd, err := windows.Socket(family, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return invalidFD, err
	}
	if err := ioctlNonblock(fd); err != nil {
		windows.Closesocket(fd)
		return invalidFD, err
	}
	return fd, nil
}

// sysConnect issues the non-blocking connect. Winsock reports the
// in-progress state as WSAEWOULDBLOCK; normalize it to EINPROGRESS.
func sysConnect(fd sysFD, ip net.IP, zone string, port int) api.ErrorCode {
	err := windows.Connect(fd, ipToSockaddr(ip, zone, port))
	code := api.FromSyscallError(err)
	if code == api.EAGAIN {
		code = api.EINPROGRESS
	}
	return code
}

func sysClose(fd sysFD) {
	windows.Closesocket(fd)
}

func sysRecv(fd sysFD, buf []byte, flags int32) (int, error) {
	var p *byte
	if len(buf) > 0 {
		p = &buf[0]
	}
	r, _, e := procrecv.Call(uintptr(fd), uintptr(unsafe.Pointer(p)), uintptr(len(buf)), uintptr(flags))
	n := int(int32(r))
	if n < 0 {
		return -1, e
	}
	return n, nil
}

func sysRead(fd sysFD, buf []byte) (int, error) {
	return sysRecv(fd, buf, 0)
}

func sysPeek(fd sysFD, buf []byte) (int, error) {
	return sysRecv(fd, buf, msgPeek)
}

// sysPeekPending reports whether unread data remains on the socket.
func sysPeekPending(fd sysFD) bool {
	var b [1]byte
	n, err := sysPeek(fd, b[:])
	return err == nil && n > 0
}

func sysWrite(fd sysFD, buf []byte) (int, error) {
	var p *byte
	if len(buf) > 0 {
		p = &buf[0]
	}
	r, _, e := procsend.Call(uintptr(fd), uintptr(unsafe.Pointer(p)), uintptr(len(buf)), 0)
	n := int(int32(r))
	if n < 0 {
		return -1, e
	}
	return n, nil
}

func sysAccept(fd sysFD) (sysFD, error) {
	r, _, e := procaccept.Call(uintptr(fd), 0, 0)
	nfd := sysFD(r)
	if nfd == invalidFD {
		return invalidFD, e
	}
	if err := ioctlNonblock(nfd); err != nil {
		windows.Closesocket(nfd)
		return invalidFD, err
	}
	return nfd, nil
}

func sysBind(fd sysFD, ip net.IP, port int) error {
	return windows.Bind(fd, ipToSockaddr(ip, "", port))
}

func sysListen(fd sysFD, backlog int) error {
	return windows.Listen(fd, backlog)
}

func sysLocalAddr(fd sysFD) (net.IP, string, int, error) {
	sa, err := windows.Getsockname(fd)
	if err != nil {
		return nil, "", 0, err
	}
	ip, zone, port := sockaddrToIPPort(sa)
	return ip, zone, port, nil
}

func sysPeerAddr(fd sysFD) (net.IP, string, int, error) {
	sa, err := windows.Getpeername(fd)
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
		if err := windows.SetsockoptInt(fd, windows.IPPROTO_TCP, windows.TCP_NODELAY, value); err != nil {
			return api.FromSyscallError(err)
		}
	}
	if mask&FlagKeepalive != 0 {
		value := 0
		if flags&FlagKeepalive != 0 {
			value = 1
		}
		if err := windows.SetsockoptInt(fd, windows.SOL_SOCKET, windows.SO_KEEPALIVE, value); err != nil {
			return api.FromSyscallError(err)
		}
	}
	return api.ErrNone
}

// applyBufferSizes applies the configured kernel buffer sizes; -1
// leaves the respective default untouched.
func applyBufferSizes(fd sysFD, sizeRead, sizeWrite int) api.ErrorCode {
	if sizeRead != -1 {
		if err := windows.SetsockoptInt(fd, windows.SOL_SOCKET, windows.SO_RCVBUF, sizeRead); err != nil {
			return api.FromSyscallError(err)
		}
	}
	if sizeWrite != -1 {
		if err := windows.SetsockoptInt(fd, windows.SOL_SOCKET, windows.SO_SNDBUF, sizeWrite); err != nil {
			return api.FromSyscallError(err)
		}
	}
	return api.ErrNone
}

func setNoSigpipe(fd sysFD) {}

const msgNoSignal = 0
