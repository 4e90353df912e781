// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Introspection over a live socket runtime. RuntimeProbes is bound to
// the pieces it inspects at construction; Snapshot samples the
// built-in gauges (dispatcher backlog, reaper occupancy) together with
// whatever extra probes the embedder registered.

package control

import (
	"sync"

	"github.com/momentics/asock/dispatch"
	"github.com/momentics/asock/socket"
)

// Probe samples one runtime gauge.
type Probe func() any

// Built-in gauge names reported by every Snapshot.
const (
	ProbeDispatcherPending = "dispatcher.pending"
	ProbeReaperSize        = "reaper.size"
)

// RuntimeProbes exposes the observable state of a socket runtime.
type RuntimeProbes struct {
	dispatcher *dispatch.Dispatcher

	mu    sync.RWMutex
	extra map[string]Probe
}

// NewRuntimeProbes binds a probe set to the dispatcher it should
// observe. The reaper is process-wide and needs no binding.
func NewRuntimeProbes(d *dispatch.Dispatcher) *RuntimeProbes {
	return &RuntimeProbes{
		dispatcher: d,
		extra:      make(map[string]Probe),
	}
}

// Register adds an embedder-supplied gauge under name. A built-in name
// is shadowed by the registered probe.
func (p *RuntimeProbes) Register(name string, fn Probe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extra[name] = fn
}

// Snapshot samples every gauge: the built-in runtime ones first, then
// the registered extras.
func (p *RuntimeProbes) Snapshot() map[string]any {
	out := map[string]any{
		ProbeDispatcherPending: p.dispatcher.Pending(),
		ProbeReaperSize:        socket.ReaperSize(),
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, fn := range p.extra {
		out[name] = fn()
	}
	return out
}
