package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-engine/pkg/models"
)

func setupRelay(t *testing.T) (*miniredis.Miniredis, *redis.Client, *StreamRelay) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return mr, rdb, NewStreamRelay(rdb, "handoff-notifications", logger)
}

func TestStreamRelay_PublishAppendsToStream(t *testing.T) {
	_, rdb, relay := setupRelay(t)
	ctx := context.Background()

	event := models.HandoffEvent{
		Type:           models.EventHandoffInitiated,
		HandoffID:      "h1",
		ConversationID: "conv-1",
		AgentID:        "a1",
		Priority:       models.PriorityHigh,
		Reason:         models.ReasonNegativeSentiment,
		OccurredAt:     time.Now(),
	}
	require.NoError(t, relay.Publish(ctx, event))

	messages, err := rdb.XRange(ctx, HandoffEventsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 1)

	values := messages[0].Values
	assert.Equal(t, "handoff_initiated", values["type"])
	assert.Equal(t, "h1", values["handoff_id"])
	assert.Equal(t, "conv-1", values["conversation_id"])
	assert.Equal(t, "a1", values["agent_id"])
	assert.Equal(t, "high", values["priority"])

	var decoded models.HandoffEvent
	require.NoError(t, json.Unmarshal([]byte(values["event_data"].(string)), &decoded))
	assert.Equal(t, event.Type, decoded.Type)
	assert.Equal(t, event.HandoffID, decoded.HandoffID)
}

func TestStreamRelay_StartCreatesConsumerGroup(t *testing.T) {
	_, rdb, relay := setupRelay(t)
	ctx := context.Background()

	events := make(chan models.HandoffEvent)
	require.NoError(t, relay.Start(ctx, events))
	defer relay.Stop()

	// The group exists: creating it again must report BUSYGROUP.
	err := rdb.XGroupCreateMkStream(ctx, HandoffEventsStream, "handoff-notifications", "$").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUSYGROUP")

	// A second relay starting against the same stream tolerates the
	// existing group.
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	second := NewStreamRelay(rdb, "handoff-notifications", logger)
	require.NoError(t, second.Start(ctx, events))
	second.Stop()
}

func TestStreamRelay_RelaysDispatcherEvents(t *testing.T) {
	_, rdb, relay := setupRelay(t)
	ctx := context.Background()

	events := make(chan models.HandoffEvent, 1)
	require.NoError(t, relay.Start(ctx, events))
	defer relay.Stop()

	events <- models.HandoffEvent{
		Type:           models.EventHandoffQueued,
		ConversationID: "conv-1",
		Priority:       models.PriorityMedium,
		OccurredAt:     time.Now(),
	}

	require.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, HandoffEventsStream).Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	messages, err := rdb.XRange(ctx, HandoffEventsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "handoff_queued", messages[0].Values["type"])
}
