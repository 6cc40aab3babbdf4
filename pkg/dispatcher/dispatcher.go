// Package dispatcher owns the handoff state machine:
//
//	REQUESTED -> ACTIVE -> {COMPLETED | CANCELLED}
//	REQUESTED -> QUEUED -> ACTIVE -> {COMPLETED | CANCELLED}
//
// All dispatch decisions run under one mutex and agent reservation is an
// atomic compare-and-swap on the store, so two concurrent initiations can
// never claim the same agent or violate the one-entry-per-conversation
// invariant.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/metrics"
	"handoff-engine/pkg/models"
	"handoff-engine/pkg/quality"
	"handoff-engine/pkg/registry"
	"handoff-engine/pkg/store"
)

const eventBufferSize = 64

type Dispatcher struct {
	mu sync.Mutex

	registry *registry.Registry
	handoffs store.HandoffStore
	queue    store.QueueStore
	quality  *quality.Aggregator
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	events chan models.HandoffEvent

	defaultLanguage string

	now   func() time.Time
	newID func() string
}

// InitiateResult is the outcome of one initiation attempt.
type InitiateResult struct {
	Success   bool          `json:"success"`
	Queued    bool          `json:"queued,omitempty"`
	HandoffID string        `json:"handoff_id,omitempty"`
	Agent     *models.Agent `json:"agent,omitempty"`
	Message   string        `json:"message"`
}

func New(reg *registry.Registry, stores store.Stores, agg *quality.Aggregator, logger *logrus.Logger, m *metrics.Metrics, defaultLanguage string) *Dispatcher {
	return &Dispatcher{
		registry:        reg,
		handoffs:        stores.Handoffs,
		queue:           stores.Queue,
		quality:         agg,
		logger:          logger,
		metrics:         m,
		events:          make(chan models.HandoffEvent, eventBufferSize),
		defaultLanguage: defaultLanguage,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
}

// Events exposes the lifecycle event channel consumed by the stream relay
// and any in-process subscribers.
func (d *Dispatcher) Events() <-chan models.HandoffEvent {
	return d.events
}

// Initiate assigns an available agent to the conversation or, when the pool
// is exhausted, queues the request keyed by conversation id. A conversation
// that already has an active handoff gets its existing record back; a
// conversation already queued is promoted if capacity freed up, otherwise its
// waiting snapshot is refreshed.
func (d *Dispatcher) Initiate(ctx context.Context, conversationID string, eval models.HandoffEvaluation, conv models.Conversation) (InitiateResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lang := d.conversationLanguage(conv)

	if existing, err := d.handoffs.GetByConversation(ctx, conversationID); err == nil {
		agent, _ := d.registry.Get(ctx, existing.AgentID)
		return InitiateResult{
			Success:   true,
			HandoffID: existing.ID,
			Agent:     &agent,
			Message:   confirmationMessage(lang, agent.Name),
		}, nil
	}

	// A conversation may hold a place in exactly one of the active set and
	// the queue. If it is already waiting, a successful assignment below is
	// a promotion and must consume the queue entry.
	_, queueErr := d.queue.Get(ctx, conversationID)
	alreadyQueued := queueErr == nil

	rec, agent, assigned, err := d.assign(ctx, conversationID, eval)
	if err != nil {
		d.metrics.HandoffFailures.Inc()
		d.quality.RecordFailure()
		return InitiateResult{}, err
	}

	if assigned {
		eventType := models.EventHandoffInitiated
		if alreadyQueued {
			eventType = models.EventHandoffPromoted
			if err := d.queue.Delete(ctx, conversationID); err != nil && err != store.ErrQueueEntryNotFound {
				d.logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to dequeue assigned handoff")
			}
		}
		d.metrics.HandoffsInitiated.WithLabelValues("assigned").Inc()
		d.emit(models.HandoffEvent{
			Type:           eventType,
			HandoffID:      rec.ID,
			ConversationID: conversationID,
			AgentID:        agent.ID,
			Priority:       rec.Priority,
			Reason:         rec.Reason,
			OccurredAt:     d.now(),
		})
		d.refreshGauges(ctx)

		d.logger.WithFields(logrus.Fields{
			"handoff_id":      rec.ID,
			"conversation_id": conversationID,
			"agent_id":        agent.ID,
			"priority":        rec.Priority,
		}).Info("Handoff initiated")

		return InitiateResult{
			Success:   true,
			HandoffID: rec.ID,
			Agent:     &agent,
			Message:   confirmationMessage(lang, agent.Name),
		}, nil
	}

	entry := models.QueuedHandoff{
		ConversationID: conversationID,
		Evaluation:     eval,
		Conversation:   conv,
		Priority:       eval.Priority,
		QueuedAt:       d.now(),
	}
	if err := d.queue.Put(ctx, entry); err != nil {
		d.metrics.HandoffFailures.Inc()
		d.quality.RecordFailure()
		return InitiateResult{}, fmt.Errorf("failed to queue handoff: %w", err)
	}

	// Re-queueing only refreshes the waiting snapshot; the conversation was
	// already counted and announced when it first queued.
	if !alreadyQueued {
		d.metrics.HandoffsInitiated.WithLabelValues("queued").Inc()
		d.emit(models.HandoffEvent{
			Type:           models.EventHandoffQueued,
			ConversationID: conversationID,
			Priority:       eval.Priority,
			Reason:         eval.Reason,
			OccurredAt:     d.now(),
		})

		d.logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"priority":        eval.Priority,
		}).Info("Handoff queued, no agents available")
	}
	d.refreshGauges(ctx)

	return InitiateResult{
		Success: false,
		Queued:  true,
		Message: queuedMessage(lang),
	}, nil
}

// assign tries find-then-reserve until an agent is claimed or the pool has
// no available agents left. Each failed reservation means another dispatch
// claimed that agent first, so the pool is re-read.
func (d *Dispatcher) assign(ctx context.Context, conversationID string, eval models.HandoffEvaluation) (models.HandoffRecord, models.Agent, bool, error) {
	for {
		agent, found, err := d.registry.FindAvailable(ctx, eval.Priority)
		if err != nil {
			return models.HandoffRecord{}, models.Agent{}, false, fmt.Errorf("failed to find available agent: %w", err)
		}
		if !found {
			return models.HandoffRecord{}, models.Agent{}, false, nil
		}

		reserved, err := d.registry.Reserve(ctx, agent.ID)
		if err != nil {
			return models.HandoffRecord{}, models.Agent{}, false, fmt.Errorf("failed to reserve agent: %w", err)
		}
		if !reserved {
			continue
		}

		rec := models.HandoffRecord{
			ID:             d.newID(),
			ConversationID: conversationID,
			AgentID:        agent.ID,
			Priority:       eval.Priority,
			Reason:         eval.Reason,
			Status:         models.HandoffActive,
			StartedAt:      d.now(),
		}
		if err := d.handoffs.Put(ctx, rec); err != nil {
			// Give the agent back before reporting the failure.
			if relErr := d.registry.Release(ctx, agent.ID); relErr != nil {
				d.logger.WithError(relErr).WithField("agent_id", agent.ID).Error("Failed to release agent after store error")
			}
			return models.HandoffRecord{}, models.Agent{}, false, fmt.Errorf("failed to store handoff: %w", err)
		}

		agent.Status = models.AgentBusy
		return rec, agent, true, nil
	}
}

// ProcessQueue walks the queue in insertion order and promotes entries while
// agents are available. First-queued wins even when a higher-priority request
// arrived later.
// TODO: drain by priority class before insertion order.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.queue.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list queue: %w", err)
	}

	promoted := 0
	for _, entry := range entries {
		rec, agent, assigned, err := d.assign(ctx, entry.ConversationID, entry.Evaluation)
		if err != nil {
			return promoted, err
		}
		if !assigned {
			break
		}

		if err := d.queue.Delete(ctx, entry.ConversationID); err != nil && err != store.ErrQueueEntryNotFound {
			d.logger.WithError(err).WithField("conversation_id", entry.ConversationID).Error("Failed to dequeue promoted handoff")
		}

		d.metrics.QueueWaitDuration.Observe(d.now().Sub(entry.QueuedAt).Seconds())
		d.emit(models.HandoffEvent{
			Type:           models.EventHandoffPromoted,
			HandoffID:      rec.ID,
			ConversationID: entry.ConversationID,
			AgentID:        agent.ID,
			Priority:       rec.Priority,
			Reason:         rec.Reason,
			OccurredAt:     d.now(),
		})

		d.logger.WithFields(logrus.Fields{
			"handoff_id":      rec.ID,
			"conversation_id": entry.ConversationID,
			"agent_id":        agent.ID,
			"queued_for":      d.now().Sub(entry.QueuedAt),
		}).Info("Promoted queued handoff")

		promoted++
	}

	if promoted > 0 {
		d.refreshGauges(ctx)
	}
	return promoted, nil
}

// Complete transitions an active handoff to completed, releases its agent,
// feeds the quality aggregator and drops the record from the active set.
// An unknown id is a silent no-op (found=false): double completion must not
// double-free an agent.
func (d *Dispatcher) Complete(ctx context.Context, handoffID string, feedback *models.HandoffFeedback) (models.HandoffRecord, bool, error) {
	rec, found, err := d.finish(ctx, handoffID, models.HandoffCompleted, feedback)
	if err != nil || !found {
		return rec, found, err
	}

	d.quality.Record(rec)
	d.metrics.HandoffsCompleted.Inc()
	d.metrics.HandoffDuration.Observe(rec.Duration.Seconds())
	d.emit(models.HandoffEvent{
		Type:           models.EventHandoffCompleted,
		HandoffID:      rec.ID,
		ConversationID: rec.ConversationID,
		AgentID:        rec.AgentID,
		Priority:       rec.Priority,
		Reason:         rec.Reason,
		OccurredAt:     d.now(),
	})

	d.logger.WithFields(logrus.Fields{
		"handoff_id": rec.ID,
		"agent_id":   rec.AgentID,
		"duration":   rec.Duration,
	}).Info("Handoff completed")

	// Capacity just freed up; drain the queue before returning.
	if _, err := d.ProcessQueue(ctx); err != nil {
		d.logger.WithError(err).Error("Failed to process queue after completion")
	}

	return rec, true, nil
}

// Cancel transitions an active handoff to cancelled and releases its agent.
// Unknown ids no-op exactly like Complete; cancellations never count as
// failures in the quality aggregate.
func (d *Dispatcher) Cancel(ctx context.Context, handoffID string) (models.HandoffRecord, bool, error) {
	rec, found, err := d.finish(ctx, handoffID, models.HandoffCancelled, nil)
	if err != nil || !found {
		return rec, found, err
	}

	d.metrics.HandoffsCancelled.Inc()
	d.emit(models.HandoffEvent{
		Type:           models.EventHandoffCancelled,
		HandoffID:      rec.ID,
		ConversationID: rec.ConversationID,
		AgentID:        rec.AgentID,
		Priority:       rec.Priority,
		Reason:         rec.Reason,
		OccurredAt:     d.now(),
	})

	d.logger.WithFields(logrus.Fields{
		"handoff_id": rec.ID,
		"agent_id":   rec.AgentID,
	}).Info("Handoff cancelled")

	if _, err := d.ProcessQueue(ctx); err != nil {
		d.logger.WithError(err).Error("Failed to process queue after cancellation")
	}

	return rec, true, nil
}

// finish performs the shared terminal transition under the dispatch mutex.
func (d *Dispatcher) finish(ctx context.Context, handoffID string, terminal models.HandoffStatus, feedback *models.HandoffFeedback) (models.HandoffRecord, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := d.handoffs.Get(ctx, handoffID)
	if err == store.ErrHandoffNotFound {
		return models.HandoffRecord{}, false, nil
	}
	if err != nil {
		return models.HandoffRecord{}, false, fmt.Errorf("failed to load handoff: %w", err)
	}

	now := d.now()
	rec.Status = terminal
	rec.CompletedAt = &now
	rec.Duration = now.Sub(rec.StartedAt)
	rec.Feedback = feedback

	if err := d.registry.Release(ctx, rec.AgentID); err != nil {
		return models.HandoffRecord{}, false, fmt.Errorf("failed to release agent: %w", err)
	}

	// Dropping the record from the active set is what makes the terminal
	// transition exactly-once: a second complete or cancel finds nothing.
	if err := d.handoffs.Delete(ctx, handoffID); err != nil && err != store.ErrHandoffNotFound {
		return models.HandoffRecord{}, false, fmt.Errorf("failed to drop handoff: %w", err)
	}

	d.refreshGauges(ctx)
	return rec, true, nil
}

// GetHandoff is a pure lookup of an active handoff.
func (d *Dispatcher) GetHandoff(ctx context.Context, handoffID string) (models.HandoffRecord, error) {
	return d.handoffs.Get(ctx, handoffID)
}

// GetQueuedHandoff is a pure lookup of a queued request by conversation id.
func (d *Dispatcher) GetQueuedHandoff(ctx context.Context, conversationID string) (models.QueuedHandoff, error) {
	return d.queue.Get(ctx, conversationID)
}

// ActiveHandoffs lists the active set.
func (d *Dispatcher) ActiveHandoffs(ctx context.Context) ([]models.HandoffRecord, error) {
	return d.handoffs.List(ctx)
}

// QueuedHandoffs lists the queue in insertion order.
func (d *Dispatcher) QueuedHandoffs(ctx context.Context) ([]models.QueuedHandoff, error) {
	return d.queue.List(ctx)
}

func (d *Dispatcher) emit(event models.HandoffEvent) {
	select {
	case d.events <- event:
	default:
		d.logger.WithField("event_type", event.Type).Warn("Event buffer full, dropping handoff event")
	}
}

func (d *Dispatcher) refreshGauges(ctx context.Context) {
	if active, err := d.handoffs.List(ctx); err == nil {
		d.metrics.ActiveHandoffs.Set(float64(len(active)))
	}
	if queued, err := d.queue.Len(ctx); err == nil {
		d.metrics.QueuedHandoffs.Set(float64(queued))
	}
}
