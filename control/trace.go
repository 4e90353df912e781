// control/trace.go
// Author: momentics <momentics@gmail.com>
//
// zap-backed sink for the runtime's optional trace hook.

package control

import (
	"go.uber.org/zap"

	"github.com/momentics/asock/api"
)

// ZapTrace forwards runtime trace events to a zap logger at debug
// level. Safe for concurrent use; events arrive from worker
// goroutines.
type ZapTrace struct {
	L *zap.Logger
}

// NewZapTrace wraps a logger. A nil logger yields a no-op tracer.
func NewZapTrace(l *zap.Logger) *ZapTrace {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapTrace{L: l}
}

// Event implements api.Trace.
func (t *ZapTrace) Event(name string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	t.L.Debug(name, zf...)
}

var _ api.Trace = (*ZapTrace)(nil)
