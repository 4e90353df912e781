// api/trace.go
// Author: momentics <momentics@gmail.com>
//
// Optional trace hook. The runtime itself never logs; embedders that
// want visibility into worker phase transitions install a Trace and
// receive structured events. See control.ZapTrace for a ready sink.

package api

// Trace receives structured runtime events. Implementations must be
// safe for concurrent use; Event is called from worker goroutines.
type Trace interface {
	Event(name string, fields map[string]any)
}
