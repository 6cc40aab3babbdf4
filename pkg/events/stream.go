// Package events relays dispatcher lifecycle events onto a Redis stream so
// downstream consumers (notification delivery, analytics) can attach through
// a consumer group instead of registering in-process listeners.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/models"
)

const HandoffEventsStream = "handoff_events"

type StreamRelay struct {
	rdb           *redis.Client
	consumerGroup string
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewStreamRelay(rdb *redis.Client, consumerGroup string, logger *logrus.Logger) *StreamRelay {
	return &StreamRelay{
		rdb:           rdb,
		consumerGroup: consumerGroup,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start creates the consumer group and begins forwarding events from the
// dispatcher channel to the stream.
func (r *StreamRelay) Start(ctx context.Context, events <-chan models.HandoffEvent) error {
	if err := r.createConsumerGroup(ctx); err != nil {
		return err
	}

	go r.relayLoop(ctx, events)

	r.logger.WithField("stream", HandoffEventsStream).Info("Event stream relay started")
	return nil
}

func (r *StreamRelay) Stop() {
	close(r.stopCh)
}

func (r *StreamRelay) createConsumerGroup(ctx context.Context) error {
	// Idempotent: BUSYGROUP means a previous instance already created it.
	err := r.rdb.XGroupCreateMkStream(ctx, HandoffEventsStream, r.consumerGroup, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	r.logger.WithField("consumer_group", r.consumerGroup).Info("Consumer group ready")
	return nil
}

func (r *StreamRelay) relayLoop(ctx context.Context, events <-chan models.HandoffEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case event := <-events:
			if err := r.Publish(ctx, event); err != nil {
				r.logger.WithError(err).WithFields(logrus.Fields{
					"event_type":      event.Type,
					"conversation_id": event.ConversationID,
				}).Error("Failed to publish handoff event")
			}
		}
	}
}

// Publish appends one event to the stream.
func (r *StreamRelay) Publish(ctx context.Context, event models.HandoffEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff event: %w", err)
	}

	messageID, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: HandoffEventsStream,
		Values: map[string]interface{}{
			"type":            string(event.Type),
			"handoff_id":      event.HandoffID,
			"conversation_id": event.ConversationID,
			"agent_id":        event.AgentID,
			"priority":        string(event.Priority),
			"occurred_at":     event.OccurredAt.UnixMilli(),
			"event_data":      string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add event to stream: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"event_type":      event.Type,
		"conversation_id": event.ConversationID,
		"message_id":      messageID,
	}).Debug("Published handoff event to stream")

	return nil
}
