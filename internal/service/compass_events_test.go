package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestCompassEventsReachOtherNodesOnly(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := NewCompassEventPublisher(client, nil, "gema:compass", testLogger())
	receiver := NewCompassEventPublisher(client, nil, "gema:compass", testLogger())
	require.NotEqual(t, sender.NodeID(), receiver.NodeID())

	received := make(chan CompassEvent, 4)
	echoed := make(chan CompassEvent, 4)
	receiver.Start(ctx, func(event CompassEvent) { received <- event })
	sender.Start(ctx, func(event CompassEvent) { echoed <- event })

	require.Eventually(t, func() bool {
		return len(server.PubSubChannels("gema:compass:events")) == 1 &&
			server.PubSubNumSub("gema:compass:events")["gema:compass:events"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.Publish(ctx, CompassEvent{Type: EventEngineReset, ExerciseID: 9}))

	select {
	case event := <-received:
		require.Equal(t, EventEngineReset, event.Type)
		require.Equal(t, uint(9), event.ExerciseID)
		require.Equal(t, sender.NodeID(), event.Source)
		require.NotEmpty(t, event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case event := <-echoed:
		t.Fatalf("node received its own event %s", event.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCompassEventsWithoutTransports(t *testing.T) {
	publisher := NewCompassEventPublisher(nil, nil, "", testLogger())
	require.NoError(t, publisher.Publish(context.Background(), CompassEvent{Type: EventConflictDetected}))
	publisher.Start(context.Background(), func(CompassEvent) {})
}
