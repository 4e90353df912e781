// transport/netconn.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT
//
// net.Conn adapter over an asynchronous Socket. The adapter installs
// its own event handler, turns read/write events into wakeups, and
// blocks the caller until the non-blocking syscall can make progress.
// The dispatcher loop must run on a different goroutine than the one
// calling Read or Write.

package transport

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/momentics/asock/api"
	"github.com/momentics/asock/dispatch"
	"github.com/momentics/asock/socket"
)

// NetConn adapts a connected Socket to the blocking net.Conn contract.
type NetConn struct {
	sock    *socket.Socket
	handler *dispatch.Handler

	readable chan struct{}
	writable chan struct{}
	closed   chan struct{}
	once     sync.Once
}

// NewNetConn wraps a connected socket. The adapter takes over the
// socket's event handler; the caller keeps ownership of the socket
// itself and must keep the dispatcher loop running.
func NewNetConn(d *dispatch.Dispatcher, s *socket.Socket) *NetConn {
	c := &NetConn{
		sock:     s,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	c.handler = dispatch.NewHandler(connSink{c})
	s.SetEventHandler(c.handler)
	return c
}

// connSink receives socket events on the dispatcher loop.
type connSink struct {
	c *NetConn
}

func (s connSink) OnSocketEvent(ev api.SocketEvent) {
	switch ev.Kind {
	case api.EventRead:
		s.c.signal(s.c.readable)
	case api.EventWrite:
		s.c.signal(s.c.writable)
	case api.EventClose:
		// Wake a blocked reader; the syscall reports the final state.
		s.c.signal(s.c.readable)
		s.c.signal(s.c.writable)
	}
}

func (c *NetConn) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Read blocks until at least one byte arrives, EOF, or the connection
// is torn down.
func (c *NetConn) Read(b []byte) (int, error) {
	for {
		n, code := c.sock.Read(b)
		switch {
		case code == api.ErrNone && n == 0 && len(b) > 0:
			return 0, io.EOF
		case code == api.ErrNone:
			return n, nil
		case code == api.EAGAIN:
			select {
			case <-c.readable:
			case <-c.closed:
				return 0, net.ErrClosed
			}
		default:
			return 0, api.NewError("read", code)
		}
	}
}

// Write blocks until the whole buffer is accepted or the connection is
// torn down.
func (c *NetConn) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, code := c.sock.Write(b[written:])
		switch {
		case code == api.ErrNone:
			written += n
		case code == api.EAGAIN:
			select {
			case <-c.writable:
			case <-c.closed:
				return written, net.ErrClosed
			}
		default:
			return written, api.NewError("write", code)
		}
	}
	return written, nil
}

// Close tears down the underlying socket and wakes blocked callers.
func (c *NetConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.sock.Close()
	})
	return nil
}

// LocalAddr returns the bound local endpoint.
func (c *NetConn) LocalAddr() net.Addr {
	return c.addr(c.sock.LocalIP(false), c.sock.LocalPort)
}

// RemoteAddr returns the connected peer endpoint.
func (c *NetConn) RemoteAddr() net.Addr {
	return c.addr(c.sock.PeerIP(false), c.sock.RemotePort)
}

func (c *NetConn) addr(host string, port func() (int, api.ErrorCode)) net.Addr {
	p, code := port()
	if code != api.ErrNone {
		return nil
	}
	return &net.TCPAddr{IP: net.ParseIP(host), Port: p}
}

// SetDeadline is unsupported: the runtime carries no timeouts, owners
// wrap calls with their own timers.
func (c *NetConn) SetDeadline(t time.Time) error {
	return api.NewError("set deadline", api.EOPNOTSUPP)
}

// SetReadDeadline is unsupported.
func (c *NetConn) SetReadDeadline(t time.Time) error {
	return api.NewError("set read deadline", api.EOPNOTSUPP)
}

// SetWriteDeadline is unsupported.
func (c *NetConn) SetWriteDeadline(t time.Time) error {
	return api.NewError("set write deadline", api.EOPNOTSUPP)
}

var _ net.Conn = (*NetConn)(nil)
