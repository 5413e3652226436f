package browser

import (
	"log/slog"

	"github.com/neboloop/pagepilot/internal/events"
)

// EventBus carries session signals from transports to the registry. It
// implements SessionEvents.
type EventBus struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewEventBus creates a bus with in-order delivery.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session-events")
	return &EventBus{bus: events.New(logger), logger: logger}
}

// SessionLost announces that tab's session ended for reason.
func (b *EventBus) SessionLost(tab TabID, reason string) {
	if err := b.bus.EmitSessionLost(string(tab), reason); err != nil {
		b.logger.Warn("dropped session-lost event", "tab", tab, "error", err)
	}
}

// TabClosed announces that tab was closed.
func (b *EventBus) TabClosed(tab TabID) {
	if err := b.bus.EmitTabClosed(string(tab)); err != nil {
		b.logger.Warn("dropped tab-closed event", "tab", tab, "error", err)
	}
}

// OnSessionLost implements SessionEvents.
func (b *EventBus) OnSessionLost(fn func(tab TabID, reason string)) func() {
	return b.bus.OnSessionLost(func(e events.SessionLost) {
		fn(TabID(e.TabID), e.Reason)
	})
}

// OnTabClosed implements SessionEvents.
func (b *EventBus) OnTabClosed(fn func(tab TabID)) func() {
	return b.bus.OnTabClosed(func(e events.TabClosed) {
		fn(TabID(e.TabID))
	})
}

// Close stops delivery.
func (b *EventBus) Close() {
	b.bus.Close()
}
