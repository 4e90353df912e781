// dispatch/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-consumer socket event queue. Workers push events, each push
// wakes the event loop once, and the loop delivers at most one event
// per wake so other event-loop work is never starved. Pending
// events can be dropped or re-targeted when a handler or source
// departs, so no queued event ever outlives its consumer.

package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/asock/api"
)

var sourceIDs atomic.Uint64

// NextSourceID allocates a process-unique source identity.
func NextSourceID() api.SourceID {
	return api.SourceID(sourceIDs.Add(1))
}

// Handler binds a consumer's SocketEventHandler to a stable identity.
// Pending events reference the Handler, not the consumer value, so a
// consumer can be re-parented without losing in-flight events.
type Handler struct {
	sink api.SocketEventHandler
}

// NewHandler wraps a consumer event sink.
func NewHandler(sink api.SocketEventHandler) *Handler {
	return &Handler{sink: sink}
}

type pendingEvent struct {
	handler *Handler
	ev      api.SocketEvent
}

// Dispatcher is the single-consumer queue between socket workers and
// the consumer's event loop.
type Dispatcher struct {
	mu   sync.Mutex
	q    *queue.Queue
	wake chan struct{}
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		q:    queue.New(),
		wake: make(chan struct{}, 1024),
	}
}

// Send enqueues an event for a handler and wakes the loop once. Send
// never blocks the producer: when the wake buffer is full the loop is
// already far behind and DispatchOne re-arms the wake while the queue
// stays non-empty.
func (d *Dispatcher) Send(h *Handler, ev api.SocketEvent) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.q.Add(pendingEvent{handler: h, ev: ev})
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.q.Length()
}

// DispatchOne pops and delivers at most one event. The lock is
// released before the handler callback runs, so the callback may call
// back into sockets and the dispatcher. Returns false when the queue
// was empty.
func (d *Dispatcher) DispatchOne() bool {
	d.mu.Lock()
	if d.q.Length() == 0 {
		d.mu.Unlock()
		return false
	}
	p := d.q.Remove().(pendingEvent)
	remaining := d.q.Length()
	d.mu.Unlock()

	if remaining > 0 {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}

	p.handler.sink.OnSocketEvent(p.ev)
	return true
}

// Run drains wakes until stop is closed, delivering at most one event
// per wake. This is the consumer's event loop entry point.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-d.wake:
			d.DispatchOne()
		}
	}
}

// filter keeps the queued events for which keep returns true,
// preserving order. Caller holds d.mu.
func (d *Dispatcher) filter(keep func(pendingEvent) bool) {
	n := d.q.Length()
	for i := 0; i < n; i++ {
		p := d.q.Remove().(pendingEvent)
		if keep(p) {
			d.q.Add(p)
		}
	}
}

// RemovePendingHandler drops every queued event destined for h. Called
// when a consumer departs.
func (d *Dispatcher) RemovePendingHandler(h *Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter(func(p pendingEvent) bool { return p.handler != h })
}

// RemovePendingSource drops every queued event originating from src.
// Called when a socket departs.
func (d *Dispatcher) RemovePendingSource(src api.SourceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter(func(p pendingEvent) bool { return p.ev.Source != src })
}

// UpdatePending re-targets queued events matching (oldHandler, oldSrc)
// to (newHandler, newSrc) in place, preserving order. Used when a
// consumer changes identity while events are in flight.
func (d *Dispatcher) UpdatePending(oldHandler *Handler, oldSrc api.SourceID, newHandler *Handler, newSrc api.SourceID) {
	if newHandler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.q.Length()
	for i := 0; i < n; i++ {
		p := d.q.Remove().(pendingEvent)
		if p.handler == oldHandler && p.ev.Source == oldSrc {
			p.handler = newHandler
			p.ev.Source = newSrc
		}
		d.q.Add(p)
	}
}
