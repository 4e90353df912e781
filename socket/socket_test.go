// socket/socket_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end tests over real loopback sockets: connect/echo, refusal,
// sequential address fallback, unresolvable names, remote close with
// residual data, owner close during connect, and listen/accept.

package socket

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/momentics/asock/api"
	"github.com/momentics/asock/dispatch"
)

const eventTimeout = 5 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []api.SocketEvent
	ch     chan api.SocketEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan api.SocketEvent, 256)}
}

func (r *recorder) OnSocketEvent(ev api.SocketEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.ch <- ev:
	default:
	}
}

func (r *recorder) snapshot() []api.SocketEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.SocketEvent(nil), r.events...)
}

// waitKind consumes delivered events until one of the wanted kind
// arrives.
func (r *recorder) waitKind(t *testing.T, kind api.EventKind) api.SocketEvent {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v; saw %v", kind, r.snapshot())
		}
	}
}

// startLoop runs a dispatcher event loop for the duration of the test.
func startLoop(t *testing.T, d *dispatch.Dispatcher) {
	t.Helper()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		d.Run(stop)
		close(done)
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
}

// readDrain reads from s until want bytes arrived, re-arming on EAGAIN
// and waiting for read events in between.
func readDrain(t *testing.T, s *Socket, rec *recorder, want int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(eventTimeout)
	for len(out) < want {
		n, code := s.Read(buf)
		switch code {
		case api.ErrNone:
			if n == 0 {
				t.Fatalf("unexpected EOF after %d bytes", len(out))
			}
			out = append(out, buf[:n]...)
		case api.EAGAIN:
			if time.Now().After(deadline) {
				t.Fatalf("timed out reading, got %d of %d bytes", len(out), want)
			}
			rec.waitKind(t, api.EventRead)
		default:
			t.Fatalf("read failed: %s", api.ErrorDescription(code))
		}
	}
	return out
}

// TestConnectEcho runs the loopback echo scenario: connect, observe
// hostaddress/connection/write events, exchange PING/PONG.
func TestConnectEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		if _, err := conn.Read(buf); err != nil {
			serverDone <- err
			return
		}
		_, err = conn.Write([]byte("PONG"))
		serverDone <- err
	}()

	d := dispatch.New()
	startLoop(t, d)
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))
	defer s.Release()

	var readCBCalls int
	var cbMu sync.Mutex
	s.SetSynchronousReadCallback(func() {
		cbMu.Lock()
		readCBCalls++
		cbMu.Unlock()
	})

	code := s.Connect("127.0.0.1", port, FamilyV4)
	assert.Equal(t, api.EINPROGRESS, code)

	ha := rec.waitKind(t, api.EventHostAddress)
	assert.Equal(t, FormatIPPort(net.ParseIP("127.0.0.1"), "", port, true, false), ha.Data)

	conn := rec.waitKind(t, api.EventConnection)
	assert.Equal(t, api.ErrNone, conn.Err)
	assert.Equal(t, StateConnected, s.State())

	wr := rec.waitKind(t, api.EventWrite)
	assert.Equal(t, api.ErrNone, wr.Err)

	s.SetFlags(FlagNodelay | FlagKeepalive)
	s.SetBufferSizes(64*1024, 64*1024)

	n, code := s.Write([]byte("PING"))
	assert.Equal(t, api.ErrNone, code)
	assert.Equal(t, 4, n)

	got := readDrain(t, s, rec, 4)
	assert.Equal(t, "PONG", string(got))
	assert.NilError(t, <-serverDone)

	cbMu.Lock()
	calls := readCBCalls
	cbMu.Unlock()
	assert.Assert(t, calls >= 1, "synchronous read callback not invoked")

	assert.Assert(t, s.LocalIP(false) != "")
	assert.Assert(t, s.PeerIP(false) != "")
	rp, code := s.RemotePort()
	assert.Equal(t, api.ErrNone, code)
	assert.Equal(t, port, rp)
	assert.Equal(t, FamilyV4, s.AddressFamily())
	assert.Equal(t, "127.0.0.1", s.PeerHost())

	assert.Equal(t, api.ErrNone, s.Close())
	assert.Equal(t, StateNone, s.State())
}

// TestConnectRefused covers the refusal scenario: hostaddress followed
// by a terminal connection failure.
func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := dispatch.New()
	startLoop(t, d)
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))
	defer s.Release()

	assert.Equal(t, api.EINPROGRESS, s.Connect("127.0.0.1", port, FamilyV4))

	rec.waitKind(t, api.EventHostAddress)
	conn := rec.waitKind(t, api.EventConnection)
	assert.Equal(t, api.ECONNREFUSED, conn.Err)
}

// TestConnectArgumentErrors verifies synchronous argument validation.
func TestConnectArgumentErrors(t *testing.T) {
	d := dispatch.New()
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))

	assert.Equal(t, api.EINVAL, s.Connect("127.0.0.1", 0, FamilyV4))
	assert.Equal(t, api.EINVAL, s.Connect("::1", 65536, FamilyV6))
	assert.Equal(t, api.EINVAL, s.Connect("127.0.0.1", 21, Family(42)))
	assert.Equal(t, StateNone, s.State())
}

// TestConnectUnresolvable covers the unresolvable-name scenario: a
// single connection event carrying an EAI code, no hostaddress.
func TestConnectUnresolvable(t *testing.T) {
	d := dispatch.New()
	startLoop(t, d)
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))
	defer s.Release()

	assert.Equal(t, api.EINPROGRESS, s.Connect("no.such.host.invalid", 80, FamilyUnspec))

	conn := rec.waitKind(t, api.EventConnection)
	assert.Assert(t, conn.Err < 0, "expected an EAI_* code, got %s", api.ErrorString(conn.Err))
	for _, ev := range rec.snapshot() {
		if ev.Kind == api.EventHostAddress {
			t.Fatalf("unexpected hostaddress event for unresolvable name")
		}
	}
}

// TestSequentialFallback covers the multi-address scenario: the first
// resolved address fails, the next one connects.
func TestSequentialFallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
	}()

	prev := lookupIPAddr
	lookupIPAddr = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{
			{IP: net.ParseIP("::1")},
			{IP: net.ParseIP("127.0.0.1")},
		}, nil
	}
	defer func() { lookupIPAddr = prev }()

	d := dispatch.New()
	startLoop(t, d)
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))
	defer s.Release()

	assert.Equal(t, api.EINPROGRESS, s.Connect("dualstack.test", port, FamilyUnspec))

	first := rec.waitKind(t, api.EventHostAddress)
	assert.Equal(t, FormatIPPort(net.ParseIP("::1"), "", port, true, false), first.Data)

	next := rec.waitKind(t, api.EventConnectionNext)
	assert.Assert(t, next.Err != api.ErrNone)

	second := rec.waitKind(t, api.EventHostAddress)
	assert.Equal(t, FormatIPPort(net.ParseIP("127.0.0.1"), "", port, true, false), second.Data)

	conn := rec.waitKind(t, api.EventConnection)
	assert.Equal(t, api.ErrNone, conn.Err)
}

// drainHandler is a consumer that drains the stream on every read
// event and records how much had been read when close arrived.
type drainHandler struct {
	s  *Socket
	mu sync.Mutex

	data         []byte
	bytesAtClose int
	closeCh      chan api.ErrorCode
}

func (h *drainHandler) OnSocketEvent(ev api.SocketEvent) {
	switch ev.Kind {
	case api.EventRead:
		buf := make([]byte, 64)
		for {
			n, code := h.s.Read(buf)
			if code != api.ErrNone || n == 0 {
				return
			}
			h.mu.Lock()
			h.data = append(h.data, buf[:n]...)
			h.mu.Unlock()
		}
	case api.EventClose:
		h.mu.Lock()
		h.bytesAtClose = len(h.data)
		h.mu.Unlock()
		h.closeCh <- ev.Err
	}
}

// TestRemoteCloseAfterPartialRead covers the residual-data scenario:
// the peer writes five bytes and closes; the close event must not
// arrive before every byte was readable.
func TestRemoteCloseAfterPartialRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("ABCDE"))
		conn.Close()
	}()

	d := dispatch.New()
	startLoop(t, d)
	h := &drainHandler{closeCh: make(chan api.ErrorCode, 1)}
	s := New(d, dispatch.NewHandler(h))
	h.s = s
	defer s.Release()

	assert.Equal(t, api.EINPROGRESS, s.Connect("127.0.0.1", port, FamilyV4))

	select {
	case code := <-h.closeCh:
		assert.Equal(t, api.ErrNone, code)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for close event")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, "ABCDE", string(h.data))
	assert.Equal(t, 5, h.bytesAtClose, "close event arrived with unread data")
}

// TestCloseDuringConnect covers the owner-close scenario: no event of
// the cancelled attempt is delivered once Close returned.
func TestCloseDuringConnect(t *testing.T) {
	d := dispatch.New()
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))

	// TEST-NET-3: the connect blocks or fails, it never succeeds.
	assert.Equal(t, api.EINPROGRESS, s.Connect("203.0.113.1", 12345, FamilyV4))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, api.ErrNone, s.Close())
	assert.Equal(t, StateNone, s.State())

	// Close dropped this handler's pending events; nothing to deliver.
	assert.Assert(t, !d.DispatchOne())
	assert.Equal(t, 0, len(rec.snapshot()))

	// Idempotent.
	assert.Equal(t, api.ErrNone, s.Close())
	assert.Equal(t, StateNone, s.State())

	s.Release()
	Cleanup(true)
	assert.Equal(t, 0, ReaperSize())
}

// TestListenAccept covers the passive side: listen on an ephemeral
// port, observe the inbound connection event, accept a peer socket in
// the connected state, and exchange bytes through it.
func TestListenAccept(t *testing.T) {
	d := dispatch.New()
	startLoop(t, d)
	lnRec := newRecorder()
	ls := New(d, dispatch.NewHandler(lnRec))
	defer ls.Release()

	assert.Equal(t, api.ErrNone, ls.Listen(FamilyV4, 0))
	assert.Equal(t, StateListening, ls.State())

	port, code := ls.LocalPort()
	assert.Equal(t, api.ErrNone, code)
	assert.Assert(t, port >= 1 && port <= 65535)

	client, err := net.Dial("tcp", FormatIPPort(net.ParseIP("127.0.0.1"), "", port, true, false))
	assert.NilError(t, err)
	defer client.Close()

	inbound := lnRec.waitKind(t, api.EventConnection)
	assert.Equal(t, api.ErrNone, inbound.Err)

	peer, code := ls.Accept()
	assert.Equal(t, api.ErrNone, code)
	assert.Assert(t, peer != nil)
	defer peer.Release()
	assert.Equal(t, StateConnected, peer.State())

	// Installing a handler on the connected peer synthesizes one write
	// and one read so the new consumer can drive I/O.
	peerRec := newRecorder()
	peer.SetEventHandler(dispatch.NewHandler(peerRec))
	peerRec.waitKind(t, api.EventWrite)
	peerRec.waitKind(t, api.EventRead)

	_, err = client.Write([]byte("hello"))
	assert.NilError(t, err)
	got := readDrain(t, peer, peerRec, 5)
	assert.Equal(t, "hello", string(got))

	n, code := peer.Write([]byte("world"))
	assert.Equal(t, api.ErrNone, code)
	assert.Equal(t, 5, n)
	buf := make([]byte, 5)
	_, err = client.Read(buf)
	assert.NilError(t, err)
	assert.Equal(t, "world", string(buf))

	cp, code := peer.RemotePort()
	assert.Equal(t, api.ErrNone, code)
	assert.Equal(t, client.(*net.TCPConn).LocalAddr().(*net.TCPAddr).Port, cp)
}

// TestPeek verifies peeking returns readable data without consuming
// it.
func TestPeek(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("peekaboo"))
		buf := make([]byte, 1)
		conn.Read(buf)
		conn.Close()
	}()

	d := dispatch.New()
	startLoop(t, d)
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))
	defer s.Release()

	assert.Equal(t, api.EINPROGRESS, s.Connect("127.0.0.1", port, FamilyV4))
	rec.waitKind(t, api.EventConnection)

	// Arm via the EAGAIN path, then wait for the data to arrive.
	buf := make([]byte, 16)
	deadline := time.Now().Add(eventTimeout)
	for {
		n, code := s.Peek(buf)
		if code == api.ErrNone && n == 8 {
			assert.Equal(t, "peekaboo", string(buf[:n]))
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("peek never saw full payload (n=%d code=%s)", n, api.ErrorString(code))
		}
		time.Sleep(time.Millisecond)
	}

	// Peek consumed nothing: a read still returns the payload.
	n, code := s.Read(buf)
	assert.Equal(t, api.ErrNone, code)
	assert.Equal(t, "peekaboo", string(buf[:n]))
}

// TestWriteBackpressure verifies EAGAIN on write arms the write
// readiness bit and a write event eventually follows.
func TestWriteBackpressure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	drain := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-drain
		buf := make([]byte, 64*1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	d := dispatch.New()
	startLoop(t, d)
	rec := newRecorder()
	s := New(d, dispatch.NewHandler(rec))
	defer s.Release()
	s.SetBufferSizes(8*1024, 8*1024)

	assert.Equal(t, api.EINPROGRESS, s.Connect("127.0.0.1", port, FamilyV4))
	rec.waitKind(t, api.EventConnection)
	rec.waitKind(t, api.EventWrite)

	// Fill the pipe until the kernel pushes back.
	chunk := make([]byte, 32*1024)
	sawEAGAIN := false
	deadline := time.Now().Add(eventTimeout)
	for !sawEAGAIN {
		n, code := s.Write(chunk)
		switch code {
		case api.ErrNone:
			assert.Assert(t, n > 0 && n <= len(chunk))
		case api.EAGAIN:
			sawEAGAIN = true
		default:
			t.Fatalf("write failed: %s", api.ErrorDescription(code))
		}
		if time.Now().After(deadline) {
			t.Fatal("kernel buffers never filled")
		}
	}

	// Once the peer drains, the armed write bit must fire.
	close(drain)
	wr := rec.waitKind(t, api.EventWrite)
	assert.Equal(t, api.ErrNone, wr.Err)

	assert.Equal(t, api.ErrNone, s.Close())
}

// TestCloseIdempotentFresh verifies close on a never-connected socket.
func TestCloseIdempotentFresh(t *testing.T) {
	d := dispatch.New()
	s := New(d, dispatch.NewHandler(newRecorder()))
	assert.Equal(t, api.ErrNone, s.Close())
	assert.Equal(t, api.ErrNone, s.Close())
	assert.Equal(t, StateNone, s.State())
}

// TestListenArgumentErrors verifies synchronous validation of Listen.
func TestListenArgumentErrors(t *testing.T) {
	d := dispatch.New()
	s := New(d, dispatch.NewHandler(newRecorder()))
	assert.Equal(t, api.EINVAL, s.Listen(FamilyV4, -1))
	assert.Equal(t, api.EINVAL, s.Listen(FamilyV4, 65536))
	assert.Equal(t, api.EINVAL, s.Listen(Family(9), 0))

	assert.Equal(t, api.ErrNone, s.Listen(FamilyV4, 0))
	defer s.Release()
	assert.Equal(t, api.EALREADY, s.Listen(FamilyV4, 0))
	assert.Equal(t, api.EISCONN, s.Connect("127.0.0.1", 21, FamilyV4))
}
