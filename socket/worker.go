// socket/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-socket worker. Each active socket owns one goroutine that
// performs every operation that can block: name resolution, the
// sequential connect loop over the resolved addresses, and the
// readiness waits of the service phase. The worker and the owner share
// the worker mutex; it guards the socket's descriptor and state, the
// staged host/port, and the waiting/triggered masks. The mutex is
// released around the two blocking calls (resolution and the readiness
// wait).

package socket

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/momentics/asock/api"
	"github.com/momentics/asock/internal/poll"
)

type worker struct {
	mu   sync.Mutex
	cond *sync.Cond

	sock   *Socket
	waiter *poll.Waiter

	// Staged connect parameters, owned by the worker until consumed.
	pendingHost string
	pendingPort string
	hasPending  bool

	started    bool
	quit       bool
	finished   bool
	threadwait bool

	// The conditions we are waiting for, and the ones observed but not
	// yet delivered. Only the worker clears triggered bits.
	waiting         poll.Mask
	triggered       poll.Mask
	triggeredErrors [poll.EventCount]api.ErrorCode

	done chan struct{}
}

func newWorker() *worker {
	w := &worker{done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// setSocket binds or clears the back-reference. Staged parameters and
// the waiting mask belong to the previous binding and are dropped.
func (w *worker) setSocket(s *Socket, alreadyLocked bool) {
	if !alreadyLocked {
		w.mu.Lock()
		defer w.mu.Unlock()
	}
	w.sock = s
	w.pendingHost = ""
	w.pendingPort = ""
	w.hasPending = false
	w.waiting = 0
}

// connectLocked stages the socket's host and port for the worker and
// starts (or wakes) it. Caller holds w.mu.
func (w *worker) connectLocked() api.ErrorCode {
	w.pendingHost = w.sock.host
	w.pendingPort = strconv.Itoa(w.sock.port)
	w.hasPending = true
	return w.startLocked()
}

// startLocked spawns the worker goroutine on first use; subsequent
// calls reset the waiting mask and wake the idle worker. Caller holds
// w.mu.
func (w *worker) startLocked() api.ErrorCode {
	if w.started {
		w.waiting = 0
		w.wakeupLocked()
		return api.ErrNone
	}
	if w.waiter == nil {
		waiter, err := poll.New()
		if err != nil {
			return api.FromSyscallError(err)
		}
		w.waiter = waiter
	}
	w.started = true
	go w.run()
	return api.ErrNone
}

// wakeupLocked cancels a readiness wait or the idle wait. Idempotent;
// wakeups posted before the worker observes one coalesce. Caller holds
// w.mu.
func (w *worker) wakeupLocked() {
	if !w.started || w.finished {
		return
	}
	if w.threadwait {
		w.threadwait = false
		w.cond.Signal()
		return
	}
	w.waiter.Wakeup()
}

// idleLoop blocks on the condition variable until there is an
// instruction (a staged connect or a non-empty waiting mask). Returns
// false when the worker should exit. Caller holds w.mu.
func (w *worker) idleLoop() bool {
	if w.quit {
		return false
	}
	for w.sock == nil || (w.waiting == 0 && !w.hasPending) {
		w.threadwait = true
		w.cond.Wait()
		if w.quit {
			return false
		}
	}
	return true
}

// lock re-acquires the mutex after a blocking call and reports whether
// the worker should continue with the current socket.
func (w *worker) lock() bool {
	w.mu.Lock()
	return !w.quit && w.sock != nil
}

// doWait blocks until one of the waited-for conditions triggers.
// Returns false on cancellation (quit, socket detached or closed) or
// on a readiness-primitive failure. Caller holds w.mu; the mutex is
// released around each blocking round.
func (w *worker) doWait(add poll.Mask) bool {
	w.waiting |= add

	for {
		waiting := w.waiting
		fd := w.sock.fd
		w.mu.Unlock()

		res, err := w.waiter.Wait(fd, waiting)

		w.mu.Lock()
		if w.quit || w.sock == nil || w.sock.fd == invalidFD {
			return false
		}
		if err != nil {
			return false
		}

		if res.Triggered&poll.WaitConnect != 0 && w.waiting&poll.WaitConnect != 0 {
			w.triggered |= poll.WaitConnect
			w.triggeredErrors[poll.IdxConnect] = res.Errors[poll.IdxConnect]
			w.waiting &^= poll.WaitConnect
		}
		if res.Triggered&poll.WaitRead != 0 && w.waiting&poll.WaitRead != 0 {
			w.triggered |= poll.WaitRead
			w.triggeredErrors[poll.IdxRead] = res.Errors[poll.IdxRead]
			w.waiting &^= poll.WaitRead
		}
		if res.Triggered&poll.WaitWrite != 0 && w.waiting&poll.WaitWrite != 0 {
			w.triggered |= poll.WaitWrite
			w.triggeredErrors[poll.IdxWrite] = res.Errors[poll.IdxWrite]
			w.waiting &^= poll.WaitWrite
		}
		if res.Triggered&poll.WaitAccept != 0 && w.waiting&poll.WaitAccept != 0 {
			w.triggered |= poll.WaitAccept
			w.triggeredErrors[poll.IdxAccept] = res.Errors[poll.IdxAccept]
			w.waiting &^= poll.WaitAccept
		}
		if res.Triggered&poll.WaitClose != 0 && w.waiting&poll.WaitClose != 0 {
			w.triggered |= poll.WaitClose
			w.triggeredErrors[poll.IdxClose] = res.Errors[poll.IdxClose]
			w.waiting &^= poll.WaitClose
		}

		if w.triggered != 0 || w.waiting == 0 {
			return true
		}
	}
}

// sendEvent posts one event for the bound socket. Caller holds w.mu.
func (w *worker) sendEvent(kind api.EventKind, code api.ErrorCode, data string) {
	s := w.sock
	if s == nil || s.handler == nil {
		return
	}
	s.dispatcher.Send(s.handler, api.SocketEvent{Source: s.id, Kind: kind, Err: code, Data: data})
}

// sendEvents delivers the triggered conditions as events, clearing
// their bits. Caller holds w.mu.
func (w *worker) sendEvents() {
	if w.sock == nil || w.sock.handler == nil {
		return
	}
	if w.triggered&poll.WaitRead != 0 {
		if w.sock.readCB != nil {
			w.sock.readCB()
		}
		w.sendEvent(api.EventRead, w.triggeredErrors[poll.IdxRead], "")
		w.triggered &^= poll.WaitRead
	}
	if w.triggered&poll.WaitWrite != 0 {
		w.sendEvent(api.EventWrite, w.triggeredErrors[poll.IdxWrite], "")
		w.triggered &^= poll.WaitWrite
	}
	if w.triggered&poll.WaitAccept != 0 {
		w.sendEvent(api.EventConnection, w.triggeredErrors[poll.IdxAccept], "")
		w.triggered &^= poll.WaitAccept
	}
	if w.triggered&poll.WaitClose != 0 {
		w.sendCloseEvent()
	}
}

// sendCloseEvent emits the terminal close notification. The close
// notification may be observed while unread data is still queued on
// the socket; emitting the close then would lose the tail of the
// stream, so residual data turns the notification into a read (or
// stays latched until the owner drains). Caller holds w.mu.
func (w *worker) sendCloseEvent() {
	if w.sock == nil || w.sock.handler == nil {
		return
	}
	if w.triggeredErrors[poll.IdxClose] == 0 && sysPeekPending(w.sock.fd) {
		if w.waiting&poll.WaitRead == 0 {
			// A read event is already on its way; keep the close
			// latched until the stream is drained.
			return
		}
		w.sendEvent(api.EventRead, 0, "")
		w.waiting &^= poll.WaitRead
		return
	}
	w.sendEvent(api.EventClose, w.triggeredErrors[poll.IdxClose], "")
	w.triggered &^= poll.WaitClose
}

// lookupIPAddr is the blocking resolver call; a variable so tests can
// pin the resolution result.
var lookupIPAddr = func(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// resolveHost performs the blocking name resolution and filters the
// result by the requested address family.
func resolveHost(host string, family Family) ([]net.IPAddr, api.ErrorCode) {
	addrs, err := lookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, api.FromResolveError(err)
	}
	if family == FamilyUnspec {
		return addrs, api.ErrNone
	}
	filtered := addrs[:0]
	for _, a := range addrs {
		v4 := a.IP.To4() != nil
		if (family == FamilyV4) == v4 {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return nil, api.EAI_NODATA
	}
	return filtered, api.ErrNone
}

// doConnect runs the connecting phase: consume the staged host/port,
// resolve without the lock, then try each address in order. Returns
// true when the socket reached the connected state. Caller holds w.mu.
func (w *worker) doConnect() bool {
	if !w.hasPending {
		if w.sock.state == StateConnecting {
			w.sock.state = StateClosed
		}
		return false
	}

	host := w.pendingHost
	portStr := w.pendingPort
	w.pendingHost = ""
	w.pendingPort = ""
	w.hasPending = false

	family := w.sock.family
	port, perr := strconv.Atoi(portStr)
	w.sock.traceEvent("resolve", map[string]any{"host": host, "port": port})

	w.mu.Unlock()
	var addrs []net.IPAddr
	code := api.EINVAL
	if perr == nil {
		addrs, code = resolveHost(host, family)
	}

	if !w.lock() {
		if w.sock != nil && w.sock.state == StateConnecting {
			w.sock.state = StateClosed
		}
		return false
	}

	// If the state left connecting, Close was called. If another
	// connect is staged, Close then Connect were called. Either way
	// this attempt is stale.
	if w.sock.state != StateConnecting || w.hasPending {
		return false
	}

	if code != api.ErrNone {
		w.sendEvent(api.EventConnection, code, "")
		w.sock.state = StateClosed
		return false
	}

	for i := range addrs {
		switch w.tryConnectAddr(addrs[i], port, i == len(addrs)-1) {
		case -1:
			// A cancelled attempt must not disturb the state an owner
			// Close already reset.
			if w.sock != nil && w.sock.state == StateConnecting {
				w.sock.state = StateClosed
			}
			return false
		case 1:
			return true
		}
	}

	// Every failed attempt on the last address already reported a
	// connection event; only an empty address list still needs one.
	if len(addrs) == 0 {
		w.sendEvent(api.EventConnection, api.ECONNABORTED, "")
	}
	w.sock.state = StateClosed
	return false
}

// tryConnectAddr attempts one resolved address. Returns 1 when
// connected, 0 to continue with the next address, -1 when the attempt
// was cancelled. Caller holds w.mu.
func (w *worker) tryConnectAddr(addr net.IPAddr, port int, last bool) int {
	failureKind := api.EventConnectionNext
	if last {
		failureKind = api.EventConnection
	}

	w.sendEvent(api.EventHostAddress, 0, FormatIPPort(addr.IP, addr.Zone, port, true, false))

	fd, err := sysSocket(addr.IP)
	if err != nil {
		w.sendEvent(failureKind, api.FromSyscallError(err), "")
		return 0
	}

	setNoSigpipe(fd)
	applyFlagsFD(fd, w.sock.flags, w.sock.flags)
	applyBufferSizes(fd, w.sock.bufferSizes[0], w.sock.bufferSizes[1])

	code := sysConnect(fd, addr.IP, addr.Zone, port)
	if code == api.EINPROGRESS {
		w.sock.fd = fd
		for {
			ok := w.doWait(poll.WaitConnect)
			if w.triggered&poll.WaitConnect != 0 {
				w.triggered &^= poll.WaitConnect
				code = w.triggeredErrors[poll.IdxConnect]
				break
			}
			if !ok {
				// Close only while the descriptor is still ours; an
				// owner Close has already taken it out and closed it.
				if w.sock != nil && w.sock.fd == fd {
					sysClose(fd)
					w.sock.fd = invalidFD
				}
				return -1
			}
		}
	}

	if code != api.ErrNone {
		w.sendEvent(failureKind, code, "")
		w.sock.fd = invalidFD
		sysClose(fd)
		return 0
	}

	w.sock.fd = fd
	w.sock.state = StateConnected
	w.sock.traceEvent("connected", map[string]any{"addr": FormatIPPort(addr.IP, addr.Zone, port, true, false)})
	w.sendEvent(api.EventConnection, 0, "")

	w.waiting |= poll.WaitRead | poll.WaitWrite
	return 1
}

// run is the worker goroutine body: idle-wait for an instruction, then
// serve the connecting phase or the service phase until cancelled.
func (w *worker) run() {
	w.mu.Lock()
	for {
		if !w.idleLoop() {
			break
		}

		if w.sock.state == StateListening {
			for w.idleLoop() {
				if w.sock.fd == invalidFD {
					w.waiting = 0
					break
				}
				if !w.doWait(0) {
					break
				}
				w.sendEvents()
			}
			continue
		}

		if w.sock.state == StateConnecting {
			if !w.doConnect() {
				continue
			}
		}

		// Data phase: the remote close notification is always of
		// interest once connected.
		w.waiting |= poll.WaitClose
		for w.idleLoop() {
			if w.sock.fd == invalidFD {
				w.waiting = 0
				break
			}
			ok := w.doWait(0)
			if w.triggered&poll.WaitClose != 0 && w.sock != nil {
				w.sock.state = StateClosing
			}
			if !ok {
				break
			}
			w.sendEvents()
		}
	}
	w.finished = true
	w.mu.Unlock()
	close(w.done)
}
