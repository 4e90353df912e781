// socket/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Owner-facing socket handle. Methods are called from the owner's
// event-loop goroutine and never block; the per-socket worker performs
// the waits and posts lifecycle events into the dispatcher. Fields the
// worker also touches (descriptor, state, masks, callback, flags) are
// accessed under the worker mutex.

package socket

import (
	"time"

	"github.com/momentics/asock/api"
	"github.com/momentics/asock/dispatch"
	"github.com/momentics/asock/internal/poll"
)

// State of a socket as observed by the owner.
type State int

const (
	// StateNone is the initial and post-close state.
	StateNone State = iota
	// StateListening accepts inbound connections.
	StateListening
	// StateConnecting resolves and tries addresses.
	StateConnecting
	// StateConnected serves data.
	StateConnected
	// StateClosing means the remote close was observed.
	StateClosing
	// StateClosed means a connect attempt failed terminally.
	StateClosed
)

// Family restricts name resolution to one address family.
type Family int

const (
	// FamilyUnspec accepts both IPv4 and IPv6 addresses.
	FamilyUnspec Family = iota
	// FamilyV4 restricts to IPv4.
	FamilyV4
	// FamilyV6 restricts to IPv6.
	FamilyV6
)

// Flags are the socket option bits the runtime exposes.
type Flags int

const (
	// FlagNodelay disables Nagle's algorithm (TCP_NODELAY).
	FlagNodelay Flags = 1 << iota
	// FlagKeepalive enables TCP keepalives (SO_KEEPALIVE).
	FlagKeepalive
)

// rotateWait is the polite pause granted to a worker stuck inside a
// blocking resolution call before it is detached to the reaper.
const rotateWait = 100 * time.Millisecond

// Socket is a single TCP endpoint handle.
type Socket struct {
	dispatcher *dispatch.Dispatcher
	handler    *dispatch.Handler
	id         api.SourceID

	fd    sysFD
	state State

	host   string
	port   int
	family Family

	flags       Flags
	bufferSizes [2]int
	readCB      api.Callback
	trace       api.Trace

	worker *worker
}

// Option customizes socket construction.
type Option func(*Socket)

// WithFlags sets the initial option bits.
func WithFlags(f Flags) Option {
	return func(s *Socket) { s.flags = f }
}

// WithBufferSizes sets the kernel buffer size preferences; -1 keeps
// the system default.
func WithBufferSizes(read, write int) Option {
	return func(s *Socket) { s.bufferSizes = [2]int{read, write} }
}

// WithTrace installs the optional trace hook.
func WithTrace(t api.Trace) Option {
	return func(s *Socket) { s.trace = t }
}

// New creates a socket in StateNone. The handler may be nil and set
// later via SetEventHandler.
func New(d *dispatch.Dispatcher, h *dispatch.Handler, opts ...Option) *Socket {
	s := &Socket{
		dispatcher:  d,
		handler:     h,
		id:          dispatch.NextSourceID(),
		fd:          invalidFD,
		bufferSizes: [2]int{-1, -1},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the socket's stable event-source identity.
func (s *Socket) ID() api.SourceID {
	return s.id
}

func (s *Socket) traceEvent(name string, fields map[string]any) {
	if s.trace != nil {
		s.trace.Event(name, fields)
	}
}

// Connect starts resolving host and connecting to port. It returns
// EINPROGRESS when the attempt started, EISCONN when the socket is not
// in StateNone, and EINVAL for a bad port or family. The outcome
// arrives as connection events.
func (s *Socket) Connect(host string, port int, family Family) api.ErrorCode {
	if s.State() != StateNone {
		return api.EISCONN
	}
	if port < 1 || port > 65535 {
		return api.EINVAL
	}
	switch family {
	case FamilyUnspec, FamilyV4, FamilyV6:
	default:
		return api.EINVAL
	}

	// A still-running worker may be inside a blocking resolution call.
	// Nudge it, wait briefly, and rotate to a fresh worker if it does
	// not reach its idle wait.
	if w := s.worker; w != nil {
		w.mu.Lock()
		if w.started && !w.threadwait {
			w.wakeupLocked()
			w.mu.Unlock()
			time.Sleep(rotateWait)

			w.mu.Lock()
			stuck := !w.threadwait
			w.mu.Unlock()
			if stuck {
				s.detachWorker()
			}
		} else {
			w.mu.Unlock()
		}
	}
	if s.worker == nil {
		s.worker = newWorker()
		s.worker.setSocket(s, false)
	}

	w := s.worker
	w.mu.Lock()
	s.state = StateConnecting
	s.host = host
	s.port = port
	s.family = family
	code := w.connectLocked()
	if code != api.ErrNone {
		s.state = StateNone
		w.mu.Unlock()
		s.worker = nil
		return code
	}
	w.mu.Unlock()

	return api.EINPROGRESS
}

// lockedFD snapshots the descriptor under the worker mutex.
func (s *Socket) lockedFD() sysFD {
	w := s.worker
	if w == nil {
		return s.fd
	}
	w.mu.Lock()
	fd := s.fd
	w.mu.Unlock()
	return fd
}

// armWait asks the worker to re-arm one readiness bit after the owner
// observed EAGAIN.
func (s *Socket) armWait(bit poll.Mask) {
	w := s.worker
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.waiting&bit == 0 {
		w.waiting |= bit
		w.wakeupLocked()
	}
	w.mu.Unlock()
}

// flushPendingClose delivers a latched close notification once the
// owner has drained the stream to end-of-file.
func (s *Socket) flushPendingClose() {
	w := s.worker
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.triggered&poll.WaitClose != 0 {
		w.sendCloseEvent()
	}
	w.mu.Unlock()
}

// Read receives bytes without blocking. Returns the byte count and 0,
// or -1 and the error code; EAGAIN re-arms the read readiness bit so a
// read event follows when data arrives.
func (s *Socket) Read(buf []byte) (int, api.ErrorCode) {
	n, err := sysRead(s.lockedFD(), buf)
	if err != nil {
		code := api.FromSyscallError(err)
		if code == api.EAGAIN {
			s.armWait(poll.WaitRead)
		}
		return -1, code
	}
	if n == 0 && len(buf) > 0 {
		s.flushPendingClose()
	}
	return n, api.ErrNone
}

// Peek is Read without consuming the received bytes.
func (s *Socket) Peek(buf []byte) (int, api.ErrorCode) {
	n, err := sysPeek(s.lockedFD(), buf)
	if err != nil {
		code := api.FromSyscallError(err)
		if code == api.EAGAIN {
			s.armWait(poll.WaitRead)
		}
		return -1, code
	}
	return n, api.ErrNone
}

// Write sends bytes without blocking. Returns the accepted byte count
// and 0, or -1 and the error code; EAGAIN re-arms the write readiness
// bit so a write event follows when buffer space frees up.
func (s *Socket) Write(buf []byte) (int, api.ErrorCode) {
	n, err := sysWrite(s.lockedFD(), buf)
	if err != nil {
		code := api.FromSyscallError(err)
		if code == api.EAGAIN {
			s.armWait(poll.WaitWrite)
		}
		return -1, code
	}
	return n, api.ErrNone
}

// Close tears the connection down and resets the socket to StateNone.
// Idempotent; always succeeds. Pending events of the current handler
// are dropped, so no event for this socket is delivered after Close
// returns.
func (s *Socket) Close() api.ErrorCode {
	var fd sysFD
	if w := s.worker; w != nil {
		w.mu.Lock()
		fd = s.fd
		s.fd = invalidFD
		w.pendingHost = ""
		w.pendingPort = ""
		w.hasPending = false
		if fd != invalidFD {
			sysClose(fd)
		}
		s.state = StateNone
		w.triggered = 0
		for i := range w.triggeredErrors {
			w.triggeredErrors[i] = 0
		}
		if !w.threadwait {
			w.wakeupLocked()
		}
		w.mu.Unlock()
	} else {
		fd = s.fd
		s.fd = invalidFD
		if fd != invalidFD {
			sysClose(fd)
		}
		s.state = StateNone
	}

	if s.handler != nil {
		s.dispatcher.RemovePendingHandler(s.handler)
	}
	return api.ErrNone
}

// Release ends the socket's life: closes it if needed, detaches the
// worker (to the reaper when it is still inside a blocking call), and
// drops any queued events referencing this source.
func (s *Socket) Release() {
	if s.State() != StateNone {
		s.Close()
	}
	s.detachWorker()
	s.dispatcher.RemovePendingSource(s.id)
}

// detachWorker severs the socket/worker link. A worker that already
// finished is joined here; one still inside a blocking call moves to
// the reaper.
func (s *Socket) detachWorker() {
	w := s.worker
	if w == nil {
		return
	}
	w.mu.Lock()
	w.setSocket(nil, true)
	switch {
	case w.finished:
		w.mu.Unlock()
		<-w.done
		if w.waiter != nil {
			w.waiter.Close()
		}
	case !w.started:
		w.mu.Unlock()
		if w.waiter != nil {
			w.waiter.Close()
		}
	default:
		w.quit = true
		w.wakeupLocked()
		w.mu.Unlock()
		reap(w)
	}
	s.worker = nil

	Cleanup(false)
}

// SetEventHandler reassigns the consumer. Queued events that
// referenced the old handler are re-targeted; a nil handler drops
// them. When a handler is installed on a connected socket that had
// none, the readiness level is unknown to the new consumer, so one
// write and one read event are synthesized to let it drive I/O; while
// closing, any
// already-triggered events are flushed to the new handler.
func (s *Socket) SetEventHandler(h *dispatch.Handler) {
	w := s.worker
	if w != nil {
		w.mu.Lock()
	}

	if h == nil {
		s.dispatcher.RemovePendingHandler(s.handler)
	} else if s.handler != nil {
		s.dispatcher.UpdatePending(s.handler, s.id, h, s.id)
	}
	hadHandler := s.handler != nil
	s.handler = h

	if w != nil {
		if h != nil && !hadHandler && s.state == StateConnected {
			s.dispatcher.Send(h, api.SocketEvent{Source: s.id, Kind: api.EventWrite})
			s.dispatcher.Send(h, api.SocketEvent{Source: s.id, Kind: api.EventRead})
			w.waiting &^= poll.WaitRead | poll.WaitWrite
			w.wakeupLocked()
		} else if h != nil && s.state == StateClosing {
			w.sendEvents()
		}
		w.mu.Unlock()
	}
}

// SetFlags applies the difference between the current and the new
// option bits.
func (s *Socket) SetFlags(flags Flags) {
	w := s.worker
	if w != nil {
		w.mu.Lock()
	}
	if s.fd != invalidFD {
		applyFlagsFD(s.fd, flags, flags^s.flags)
	}
	s.flags = flags
	if w != nil {
		w.mu.Unlock()
	}
}

// SetBufferSizes stores the kernel buffer preferences (-1 keeps the
// system default) and applies them to an existing descriptor. Sockets
// returned by Accept inherit them.
func (s *Socket) SetBufferSizes(sizeRead, sizeWrite int) {
	w := s.worker
	if w != nil {
		w.mu.Lock()
	}
	s.bufferSizes = [2]int{sizeRead, sizeWrite}
	if s.fd != invalidFD {
		applyBufferSizes(s.fd, sizeRead, sizeWrite)
	}
	if w != nil {
		w.mu.Unlock()
	}
}

// SetSynchronousReadCallback installs cb, invoked by the worker
// immediately before each read event is posted.
func (s *Socket) SetSynchronousReadCallback(cb api.Callback) {
	w := s.worker
	if w != nil {
		w.mu.Lock()
	}
	s.readCB = cb
	if w != nil {
		w.mu.Unlock()
	}
}

// State returns the current state under the worker mutex.
func (s *Socket) State() State {
	w := s.worker
	if w == nil {
		return s.state
	}
	w.mu.Lock()
	st := s.state
	w.mu.Unlock()
	return st
}

// PeerHost returns the host string passed to Connect.
func (s *Socket) PeerHost() string {
	return s.host
}

// LocalIP returns the bound local address, or "" when unavailable.
func (s *Socket) LocalIP(stripZoneIndex bool) string {
	ip, zone, _, err := sysLocalAddr(s.lockedFD())
	if err != nil {
		return ""
	}
	return FormatIPPort(ip, zone, 0, false, stripZoneIndex)
}

// PeerIP returns the connected peer address, or "" when unavailable.
func (s *Socket) PeerIP(stripZoneIndex bool) string {
	ip, zone, _, err := sysPeerAddr(s.lockedFD())
	if err != nil {
		return ""
	}
	return FormatIPPort(ip, zone, 0, false, stripZoneIndex)
}

// LocalPort returns the bound local port.
func (s *Socket) LocalPort() (int, api.ErrorCode) {
	_, _, port, err := sysLocalAddr(s.lockedFD())
	if err != nil {
		return -1, api.FromSyscallError(err)
	}
	return port, api.ErrNone
}

// RemotePort returns the connected peer's port.
func (s *Socket) RemotePort() (int, api.ErrorCode) {
	_, _, port, err := sysPeerAddr(s.lockedFD())
	if err != nil {
		return -1, api.FromSyscallError(err)
	}
	return port, api.ErrNone
}

// AddressFamily reports the family the socket is actually bound to.
func (s *Socket) AddressFamily() Family {
	ip, _, _, err := sysLocalAddr(s.lockedFD())
	if err != nil || ip == nil {
		return FamilyUnspec
	}
	if ip.To4() != nil {
		return FamilyV4
	}
	return FamilyV6
}
