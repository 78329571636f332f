package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

func started(execID, correlationID string) types.ChoreographyEvent {
	return types.NewEvent("test", correlationID, &types.WorkflowStartedPayload{ExecutionID: execID, WorkflowID: "wf"})
}

type collector struct {
	mu     sync.Mutex
	events []types.ChoreographyEvent
}

func (c *collector) handle(_ context.Context, ev types.ChoreographyEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) snapshot() []types.ChoreographyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ChoreographyEvent(nil), c.events...)
}

func TestPublish_AssignsIdentity(t *testing.T) {
	bus := New()
	defer bus.Close()

	ev, err := bus.Publish(context.Background(), started("e1", "c1"))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, uint64(1), ev.Sequence)
	assert.Equal(t, types.EventWorkflowStarted, ev.Type)
}

func TestPublish_RejectsMismatchedType(t *testing.T) {
	bus := New()
	defer bus.Close()

	ev := started("e1", "c1")
	ev.Type = types.EventWorkflowFailed
	_, err := bus.Publish(context.Background(), ev)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = bus.Publish(context.Background(), types.ChoreographyEvent{Type: types.EventWorkflowStarted})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestSubscribe_FiltersByType(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	var starts, none collector
	_, err := bus.Subscribe([]types.EventType{types.EventWorkflowStarted}, "", starts.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(nil, "", none.handle)
	require.NoError(t, err)

	_, err = bus.Publish(ctx, started("e1", "c1"))
	require.NoError(t, err)
	_, err = bus.Publish(ctx, types.NewEvent("", "c1", &types.AgentDeregisteredPayload{AgentID: "a"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(starts.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.EventWorkflowStarted, starts.snapshot()[0].Type)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, none.snapshot(), "empty type set must match nothing")
}

func TestSubscribe_RejectsUnknownType(t *testing.T) {
	bus := New()
	defer bus.Close()

	_, err := bus.Subscribe([]types.EventType{"workflow:exploded"}, "", func(context.Context, types.ChoreographyEvent) error { return nil })
	assert.Error(t, err)
}

func TestSubscriber_DeliveryOrder(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	var c collector
	_, err := bus.Subscribe([]types.EventType{types.EventWorkflowStarted}, "", c.handle)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := bus.Publish(ctx, started(fmt.Sprintf("e%d", i), "c"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(c.snapshot()) == 100 }, time.Second, 5*time.Millisecond)
	for i, ev := range c.snapshot() {
		assert.Equal(t, uint64(i+1), ev.Sequence)
	}
}

func TestSubscriber_FailureIsolation(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	all := []types.EventType{types.EventWorkflowStarted}
	_, err := bus.Subscribe(all, "", func(context.Context, types.ChoreographyEvent) error {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(all, "", func(context.Context, types.ChoreographyEvent) error {
		return errors.New("handler failed")
	})
	require.NoError(t, err)

	var healthy collector
	_, err = bus.Subscribe(all, "", healthy.handle)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := bus.Publish(ctx, started("e", "c"))
		require.NoError(t, err, "subscriber failures must not reach the publisher")
	}

	require.Eventually(t, func() bool { return len(healthy.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestSubscriber_SlowConsumerDropsOnlyItsOwn(t *testing.T) {
	bus := New(WithQueueSize(1))
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	_, err := bus.Subscribe([]types.EventType{types.EventWorkflowStarted}, "", func(context.Context, types.ChoreographyEvent) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, _ = bus.Publish(ctx, started("e", "c"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)
	assert.Equal(t, 10, bus.Len())
}

func TestSubscriptions_ReportDropsPerSubscriber(t *testing.T) {
	bus := New(WithQueueSize(1))
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	slowID, err := bus.Subscribe([]types.EventType{types.EventWorkflowStarted}, "", func(context.Context, types.ChoreographyEvent) error {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	idleID, err := bus.Subscribe([]types.EventType{types.EventWorkflowCompleted}, "", func(context.Context, types.ChoreographyEvent) error {
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := bus.Publish(ctx, started("e", "c"))
		require.NoError(t, err)
	}

	drops := map[string]uint64{}
	for _, s := range bus.Subscriptions() {
		drops[s.ID] = s.Dropped
	}
	// one event in the handler at most, one in the queue
	assert.GreaterOrEqual(t, drops[slowID], uint64(8))
	assert.Zero(t, drops[idleID])

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return uint64(delivered)+drops[slowID] == 10
	}, time.Second, 5*time.Millisecond)
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	var c collector
	id, err := bus.Subscribe([]types.EventType{types.EventWorkflowStarted}, "agent-1", c.handle)
	require.NoError(t, err)
	require.Len(t, bus.Subscriptions(), 1)
	assert.Equal(t, "agent-1", bus.Subscriptions()[0].AgentID)

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))

	_, err = bus.Publish(ctx, started("e", "c"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.snapshot())
}

func TestHistory_EvictsOldest(t *testing.T) {
	bus := New(WithHistorySize(3))
	defer bus.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := bus.Publish(ctx, started(fmt.Sprintf("e%d", i), fmt.Sprintf("c%d", i%2)))
		require.NoError(t, err)
	}

	hist := bus.History(types.EventFilter{})
	require.Len(t, hist, 3)
	assert.Equal(t, uint64(3), hist[0].Sequence)
	assert.Equal(t, uint64(5), hist[2].Sequence)

	// c0 held e0, e2, e4; e0 was evicted.
	c0 := bus.ByCorrelation("c0")
	require.Len(t, c0, 2)
	assert.Equal(t, uint64(3), c0[0].Sequence)
	assert.Equal(t, uint64(5), c0[1].Sequence)

	bus.SetHistorySize(1)
	assert.Equal(t, 1, bus.Len())
	assert.Empty(t, bus.ByCorrelation("c1"))
}

func TestHistory_Filter(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	_, _ = bus.Publish(ctx, started("e1", "a"))
	_, _ = bus.Publish(ctx, types.NewEvent("", "a", &types.StepStartedPayload{ExecutionID: "e1", StepID: "s"}))
	_, _ = bus.Publish(ctx, started("e2", "b"))
	_, _ = bus.Publish(ctx, started("e3", "a"))

	t.Run("by type", func(t *testing.T) {
		got := bus.History(types.EventFilter{Types: []types.EventType{types.EventStepStarted}})
		require.Len(t, got, 1)
		assert.Equal(t, uint64(2), got[0].Sequence)
	})

	t.Run("by time range", func(t *testing.T) {
		from := time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)
		to := time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC)
		got := bus.History(types.EventFilter{Since: from, Until: to})
		require.Len(t, got, 2)
		assert.Equal(t, uint64(2), got[0].Sequence)
		assert.Equal(t, uint64(3), got[1].Sequence)
	})

	t.Run("by correlation keeps order and isolation", func(t *testing.T) {
		got := bus.ByCorrelation("a")
		require.Len(t, got, 3)
		for i, want := range []uint64{1, 2, 4} {
			assert.Equal(t, want, got[i].Sequence)
			assert.Equal(t, "a", got[i].CorrelationID)
		}
		assert.Empty(t, bus.ByCorrelation("missing"))
	})

	t.Run("limit keeps most recent", func(t *testing.T) {
		got := bus.History(types.EventFilter{Limit: 2})
		require.Len(t, got, 2)
		assert.Equal(t, uint64(4), got[1].Sequence)
	})
}

func TestClose(t *testing.T) {
	bus := New()
	_, err := bus.Subscribe([]types.EventType{types.EventWorkflowStarted}, "", func(context.Context, types.ChoreographyEvent) error { return nil })
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	_, err = bus.Publish(context.Background(), started("e", "c"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = bus.Subscribe(nil, "", func(context.Context, types.ChoreographyEvent) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, bus.Len())
}

func TestEventJSONRoundTripKeepsPayloadType(t *testing.T) {
	bus := New()
	defer bus.Close()

	ev, err := bus.Publish(context.Background(), types.NewEvent("agent-1", "c", &types.StepFailedPayload{
		ExecutionID: "e1", StepID: "s1", AgentID: "agent-1", Error: "timeout",
	}))
	require.NoError(t, err)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded types.ChoreographyEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	payload, ok := decoded.Payload.(*types.StepFailedPayload)
	require.True(t, ok, "payload type %T", decoded.Payload)
	assert.Equal(t, "timeout", payload.Error)
	assert.Equal(t, ev.Sequence, decoded.Sequence)
}
