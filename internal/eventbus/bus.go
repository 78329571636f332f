// Package eventbus provides the in-process publish/subscribe channel for
// choreography events, with bounded history and correlation lookup.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const (
	// DefaultHistorySize is the number of events retained for history queries.
	DefaultHistorySize = 10000

	// DefaultQueueSize is the per-subscriber delivery buffer.
	DefaultQueueSize = 256
)

var (
	ErrClosed       = errors.New("event bus closed")
	ErrInvalidEvent = errors.New("invalid event")
)

// Handler receives events for a subscription. A returned error is logged
// and counted; it never reaches the publisher.
type Handler func(ctx context.Context, event types.ChoreographyEvent) error

// Subscription describes a live subscription.
type Subscription struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id,omitempty"`
	Types     []types.EventType `json:"types"`
	CreatedAt time.Time         `json:"created_at"`

	// Dropped counts events discarded because the subscriber's queue was
	// full. A non-zero value means the subscriber may have missed terminal
	// events and should reconcile from History.
	Dropped uint64 `json:"dropped"`
}

// Bus is an in-process event bus. Publish is synchronous for history and
// asynchronous for delivery; each subscription has its own FIFO queue and
// delivery goroutine so a slow or failing subscriber affects only itself.
type Bus struct {
	mu            sync.RWMutex
	history       []*types.ChoreographyEvent
	maxHistory    int
	byCorrelation map[string][]*types.ChoreographyEvent
	subs          map[string]*subscriber
	seq           uint64
	closed        bool

	queueSize int
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize sets the history capacity.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// WithQueueSize sets the per-subscriber delivery buffer.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a bus.
func New(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		maxHistory:    DefaultHistorySize,
		byCorrelation: make(map[string][]*types.ChoreographyEvent),
		subs:          make(map[string]*subscriber),
		queueSize:     DefaultQueueSize,
		logger:        slog.Default(),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records the event in history and schedules delivery to every
// subscription whose type set contains the event type. ID, Timestamp and
// Sequence are assigned here when unset. The stored event is returned.
func (b *Bus) Publish(ctx context.Context, event types.ChoreographyEvent) (types.ChoreographyEvent, error) {
	if event.Payload == nil {
		return event, fmt.Errorf("%w: payload is required", ErrInvalidEvent)
	}
	if event.Type == "" {
		event.Type = event.Payload.EventType()
	}
	if event.Type != event.Payload.EventType() {
		return event, fmt.Errorf("%w: type %q does not match payload %q", ErrInvalidEvent, event.Type, event.Payload.EventType())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return event, ErrClosed
	}

	b.seq++
	event.Sequence = b.seq
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	stored := event
	b.append(&stored)
	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()

	// Enqueue under the lock so per-subscriber order equals publish order.
	for _, sub := range b.subs {
		if !sub.accepts(event.Type) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			sub.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
			b.logger.Warn("subscriber queue full, dropping event",
				slog.String("subscription_id", sub.info.ID),
				slog.String("event_type", string(event.Type)),
				slog.String("event_id", event.ID))
		}
	}

	return event, nil
}

// append adds to history, evicting the oldest event at capacity. Caller
// holds b.mu.
func (b *Bus) append(ev *types.ChoreographyEvent) {
	b.history = append(b.history, ev)
	if ev.CorrelationID != "" {
		b.byCorrelation[ev.CorrelationID] = append(b.byCorrelation[ev.CorrelationID], ev)
	}
	for len(b.history) > b.maxHistory {
		b.evictOldest()
	}
}

func (b *Bus) evictOldest() {
	old := b.history[0]
	b.history[0] = nil
	b.history = b.history[1:]
	if old.CorrelationID == "" {
		return
	}
	// The evicted event is the oldest overall, so it heads its correlation list.
	list := b.byCorrelation[old.CorrelationID]
	if len(list) <= 1 {
		delete(b.byCorrelation, old.CorrelationID)
		return
	}
	list[0] = nil
	b.byCorrelation[old.CorrelationID] = list[1:]
}

// SetHistorySize changes the history capacity, evicting the oldest events
// if the new capacity is smaller.
func (b *Bus) SetHistorySize(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxHistory = n
	for len(b.history) > b.maxHistory {
		b.evictOldest()
	}
}

// Subscribe registers handler for the given event types. An empty type set
// matches nothing.
func (b *Bus) Subscribe(eventTypes []types.EventType, agentID string, handler Handler) (string, error) {
	if handler == nil {
		return "", errors.New("handler is required")
	}
	for _, t := range eventTypes {
		if !t.Valid() {
			return "", fmt.Errorf("unknown event type %q", t)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}

	sub := newSubscriber(Subscription{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Types:     append([]types.EventType(nil), eventTypes...),
		CreatedAt: b.now(),
	}, handler, b.queueSize, b.logger)
	b.subs[sub.info.ID] = sub
	metrics.Subscriptions.Inc()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run(b.ctx)
	}()

	return sub.info.ID, nil
}

// Unsubscribe removes a subscription. Events already queued for it are
// discarded. It reports whether the subscription existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub.stop)
		metrics.Subscriptions.Dec()
	}
	b.mu.Unlock()
	return ok
}

// Subscriptions lists live subscriptions.
func (b *Bus) Subscriptions() []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.snapshot())
	}
	return out
}

// History returns retained events matching filter in publish order. A
// positive Limit keeps the most recent matches.
func (b *Bus) History(filter types.EventFilter) []types.ChoreographyEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	source := b.history
	if filter.CorrelationID != "" {
		source = b.byCorrelation[filter.CorrelationID]
	}

	out := make([]types.ChoreographyEvent, 0)
	for _, ev := range source {
		if filter.Match(ev) {
			out = append(out, *ev)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// ByCorrelation returns retained events with the correlation id, in publish
// order.
func (b *Bus) ByCorrelation(correlationID string) []types.ChoreographyEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.byCorrelation[correlationID]
	out := make([]types.ChoreographyEvent, len(list))
	for i, ev := range list {
		out[i] = *ev
	}
	return out
}

// Len returns the number of retained events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Close stops all delivery goroutines and drops history. Publish and
// Subscribe fail with ErrClosed afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.stop)
		delete(b.subs, id)
		metrics.Subscriptions.Dec()
	}
	b.history = nil
	b.byCorrelation = make(map[string][]*types.ChoreographyEvent)
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
