// socket/listen.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Passive sockets: Listen binds a wildcard address and arms the worker
// for accept readiness; Accept spawns a peer socket already in the
// connected state.

package socket

import (
	"net"

	"github.com/momentics/asock/api"
	"github.com/momentics/asock/internal/poll"
)

// listenCandidates returns the wildcard addresses to try binding, in
// the order a passive getaddrinfo would yield them.
func listenCandidates(family Family) []net.IP {
	switch family {
	case FamilyV4:
		return []net.IP{net.IPv4zero}
	case FamilyV6:
		return []net.IP{net.IPv6unspecified}
	}
	return []net.IP{net.IPv6unspecified, net.IPv4zero}
}

// Listen puts the socket into the listening state on the first
// bindable wildcard address. A port of 0 lets the system choose one;
// LocalPort reports the choice. Inbound connections surface as
// connection events; the owner then calls Accept.
func (s *Socket) Listen(family Family, port int) api.ErrorCode {
	if s.State() != StateNone {
		return api.EALREADY
	}
	if port < 0 || port > 65535 {
		return api.EINVAL
	}
	switch family {
	case FamilyUnspec, FamilyV4, FamilyV6:
	default:
		return api.EINVAL
	}
	// A worker left over from an earlier connection is of no use to a
	// listener; it is armed differently.
	s.detachWorker()
	s.family = family

	lastErr := api.EAFNOSUPPORT
	for _, ip := range listenCandidates(family) {
		fd, err := sysSocket(ip)
		if err != nil {
			lastErr = api.FromSyscallError(err)
			continue
		}
		if err := sysBind(fd, ip, port); err != nil {
			lastErr = api.FromSyscallError(err)
			sysClose(fd)
			continue
		}
		s.fd = fd
		break
	}
	if s.fd == invalidFD {
		return lastErr
	}

	if err := sysListen(s.fd, 1); err != nil {
		sysClose(s.fd)
		s.fd = invalidFD
		return api.FromSyscallError(err)
	}

	s.state = StateListening

	s.worker = newWorker()
	s.worker.setSocket(s, false)
	s.worker.mu.Lock()
	s.worker.waiting = poll.WaitAccept
	code := s.worker.startLocked()
	s.worker.mu.Unlock()
	if code != api.ErrNone {
		s.Close()
		s.worker = nil
		return code
	}
	return api.ErrNone
}

// Accept takes one pending inbound connection and returns it as a new
// socket in the connected state, with its own worker armed for read
// and write readiness and no handler set yet. The accept readiness bit
// is re-armed first so further connection events keep flowing.
func (s *Socket) Accept() (*Socket, api.ErrorCode) {
	if w := s.worker; w != nil {
		w.mu.Lock()
		w.waiting |= poll.WaitAccept
		w.wakeupLocked()
		w.mu.Unlock()
	}

	fd, err := sysAccept(s.lockedFD())
	if err != nil {
		return nil, api.FromSyscallError(err)
	}

	setNoSigpipe(fd)
	applyBufferSizes(fd, s.bufferSizes[0], s.bufferSizes[1])

	peer := New(s.dispatcher, nil)
	peer.bufferSizes = s.bufferSizes
	peer.flags = s.flags
	peer.trace = s.trace
	peer.fd = fd
	peer.state = StateConnected

	peer.worker = newWorker()
	peer.worker.setSocket(peer, false)
	peer.worker.mu.Lock()
	peer.worker.waiting = poll.WaitRead | poll.WaitWrite
	code := peer.worker.startLocked()
	peer.worker.mu.Unlock()
	if code != api.ErrNone {
		peer.worker = nil
		sysClose(fd)
		return nil, code
	}

	return peer, api.ErrNone
}
