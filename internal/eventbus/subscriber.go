package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/Violet-Site-Systems/VEXEL-sub003/internal/metrics"
	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

type subscriber struct {
	info    Subscription
	handler Handler
	queue   chan types.ChoreographyEvent
	stop    chan struct{}
	logger  *slog.Logger

	// events discarded because queue was full
	dropped atomic.Uint64
}

func newSubscriber(info Subscription, h Handler, queueSize int, logger *slog.Logger) *subscriber {
	return &subscriber{
		info:    info,
		handler: h,
		queue:   make(chan types.ChoreographyEvent, queueSize),
		stop:    make(chan struct{}),
		logger:  logger.With(slog.String("subscription_id", info.ID)),
	}
}

// snapshot returns the subscription with its current drop count.
func (s *subscriber) snapshot() Subscription {
	info := s.info
	info.Dropped = s.dropped.Load()
	return info
}

func (s *subscriber) accepts(t types.EventType) bool {
	return slices.Contains(s.info.Types, t)
}

// run delivers queued events until the subscription is stopped or the bus
// context ends.
func (s *subscriber) run(ctx context.Context) {
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			// stop wins over pending deliveries
			select {
			case <-s.stop:
				return
			default:
			}
			s.deliver(ctx, ev)
		}
	}
}

func (s *subscriber) deliver(ctx context.Context, ev types.ChoreographyEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberErrors.WithLabelValues("panic").Inc()
			s.logger.Error("subscriber panicked",
				slog.String("event_type", string(ev.Type)),
				slog.String("event_id", ev.ID),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := s.handler(ctx, ev); err != nil {
		metrics.SubscriberErrors.WithLabelValues("error").Inc()
		s.logger.Warn("subscriber handler failed",
			slog.String("event_type", string(ev.Type)),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()))
	}
}
