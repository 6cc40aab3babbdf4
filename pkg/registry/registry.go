// Package registry manages the pool of human agents available to receive
// handoffs. Selection never mutates: the dispatcher confirms a provisional
// pick with an atomic Reserve, so concurrent initiations cannot double-book
// an agent.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/metrics"
	"handoff-engine/pkg/models"
	"handoff-engine/pkg/store"
)

type Registry struct {
	agents  store.AgentStore
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func New(agents store.AgentStore, logger *logrus.Logger, m *metrics.Metrics) *Registry {
	return &Registry{agents: agents, logger: logger, metrics: m}
}

// Add registers an agent. Missing priority defaults to medium; new agents
// start available.
func (r *Registry) Add(ctx context.Context, agent models.Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if agent.Priority == "" {
		agent.Priority = models.PriorityMedium
	}
	agent.Status = models.AgentAvailable
	if agent.AddedAt.IsZero() {
		agent.AddedAt = time.Now()
	}

	if err := r.agents.Add(ctx, agent); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"agent_id": agent.ID,
		"priority": agent.Priority,
	}).Info("Agent added to pool")

	r.refreshGauges(ctx)
	return nil
}

func (r *Registry) Remove(ctx context.Context, agentID string) error {
	if err := r.agents.Remove(ctx, agentID); err != nil {
		return err
	}

	r.logger.WithField("agent_id", agentID).Info("Agent removed from pool")
	r.refreshGauges(ctx)
	return nil
}

// FindAvailable returns the best available agent without reserving it.
// Ranking is by the agent's own priority-handling class descending with
// insertion order as the tie-break; the requested priority is recorded for
// observability only. The returned agent is provisional until Reserve
// confirms it.
func (r *Registry) FindAvailable(ctx context.Context, requested models.Priority) (models.Agent, bool, error) {
	agents, err := r.agents.List(ctx)
	if err != nil {
		return models.Agent{}, false, err
	}

	var best models.Agent
	found := false
	for _, agent := range agents {
		if agent.Status != models.AgentAvailable {
			continue
		}
		if !found || agent.Priority.Rank() > best.Priority.Rank() {
			best = agent
			found = true
		}
	}

	if found {
		r.logger.WithFields(logrus.Fields{
			"agent_id":           best.ID,
			"agent_priority":     best.Priority,
			"requested_priority": requested,
		}).Debug("Selected available agent")
	}

	return best, found, nil
}

// Reserve atomically flips an available agent to busy. A false return means
// the agent was claimed or removed since it was selected.
func (r *Registry) Reserve(ctx context.Context, agentID string) (bool, error) {
	reserved, err := r.agents.ReserveIfAvailable(ctx, agentID)
	if err != nil {
		return false, err
	}
	if reserved {
		r.refreshGauges(ctx)
	}
	return reserved, nil
}

// Release returns a busy agent to the available pool.
func (r *Registry) Release(ctx context.Context, agentID string) error {
	if err := r.agents.Release(ctx, agentID); err != nil {
		return err
	}
	r.refreshGauges(ctx)
	return nil
}

// Get returns an agent by id.
func (r *Registry) Get(ctx context.Context, agentID string) (models.Agent, error) {
	return r.agents.Get(ctx, agentID)
}

// Status returns the pool snapshot: totals and utilization.
func (r *Registry) Status(ctx context.Context) (models.PoolStatus, error) {
	agents, err := r.agents.List(ctx)
	if err != nil {
		return models.PoolStatus{}, err
	}

	status := models.PoolStatus{Total: len(agents)}
	for _, agent := range agents {
		if agent.Status == models.AgentBusy {
			status.Busy++
		} else {
			status.Available++
		}
	}
	if status.Total > 0 {
		status.Utilization = float64(status.Busy) / float64(status.Total)
	}
	return status, nil
}

func (r *Registry) refreshGauges(ctx context.Context) {
	status, err := r.Status(ctx)
	if err != nil {
		r.logger.WithError(err).Debug("Failed to refresh agent pool gauges")
		return
	}
	r.metrics.AgentsAvailable.Set(float64(status.Available))
	r.metrics.AgentsBusy.Set(float64(status.Busy))
}
