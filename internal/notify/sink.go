// Package notify implements a narrow best-effort notification fan-out,
// wired as an optional Event Emitter subscriber for status-change and
// failure events only.
package notify

import (
	"context"

	"github.com/delinoio/delidev/internal/events"
)

// Sink delivers one event to an external channel. Implementations must
// never block the emitter for long and should treat delivery failure as
// non-fatal to the caller.
type Sink interface {
	Notify(ctx context.Context, evt events.Event) error
}

// Interesting reports whether evt is one this package's sinks care about:
// task status changes, and failed execution progress only. Full agent
// stream/log relay stays on the websocket hub.
func Interesting(evt events.Event) bool {
	if evt.Kind == events.KindTaskStatusChanged {
		return true
	}
	return evt.Kind == events.KindExecutionProgress && evt.Phase == events.PhaseFailed
}
