package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

// DefaultMirrorChannel is the Redis channel events are mirrored to.
const DefaultMirrorChannel = "maestro:events"

// RedisMirror republishes bus events as JSON on a Redis pub/sub channel so
// processes outside the orchestrator can follow execution progress.
type RedisMirror struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisMirror creates a mirror. An empty channel uses DefaultMirrorChannel.
func NewRedisMirror(client redis.UniversalClient, channel string) *RedisMirror {
	if channel == "" {
		channel = DefaultMirrorChannel
	}
	return &RedisMirror{client: client, channel: channel}
}

// Attach subscribes the mirror to every event type on the bus.
func (m *RedisMirror) Attach(b *Bus) (string, error) {
	return b.Subscribe(types.AllEventTypes(), "", m.Handle)
}

// Handle publishes one event. It is a Handler.
func (m *RedisMirror) Handle(ctx context.Context, ev types.ChoreographyEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.channel, err)
	}
	return nil
}
