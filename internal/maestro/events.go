package maestro

import (
	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/eventbus"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// SubscribeToEvents registers handler for the given event types and
// returns the subscription ID.
func (m *Maestro) SubscribeToEvents(eventTypes []types.EventType, agentID string, handler eventbus.Handler) (string, error) {
	if m.isClosed() {
		return "", ErrShutdown
	}
	return m.bus.Subscribe(eventTypes, agentID, handler)
}

// UnsubscribeFromEvents removes a subscription and reports whether it existed.
func (m *Maestro) UnsubscribeFromEvents(id string) (bool, error) {
	if m.isClosed() {
		return false, ErrShutdown
	}
	return m.bus.Unsubscribe(id), nil
}

// GetEventHistory returns retained events matching filter in publish order.
func (m *Maestro) GetEventHistory(filter types.EventFilter) ([]types.ChoreographyEvent, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.bus.History(filter), nil
}

// GetEventsByCorrelation returns the retained events of one correlation ID
// in publish order.
func (m *Maestro) GetEventsByCorrelation(correlationID string) ([]types.ChoreographyEvent, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.bus.ByCorrelation(correlationID), nil
}

// Subscriptions lists live subscriptions.
func (m *Maestro) Subscriptions() ([]eventbus.Subscription, error) {
	if m.isClosed() {
		return nil, ErrShutdown
	}
	return m.bus.Subscriptions(), nil
}
