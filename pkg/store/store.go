// Package store defines the repository interfaces behind the handoff engine.
// The dispatcher and registry are written against these interfaces so the
// same policy runs over the in-memory reference backend or a shared Redis
// backend for multi-instance deployments.
package store

import (
	"context"
	"errors"

	"handoff-engine/pkg/models"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrDuplicateAgent     = errors.New("agent already registered")
	ErrHandoffNotFound    = errors.New("handoff not found")
	ErrQueueEntryNotFound = errors.New("queued handoff not found")
)

// AgentStore tracks the agent pool. Reservation is a single atomic
// compare-and-swap so two concurrent dispatch attempts can never both claim
// the same agent.
type AgentStore interface {
	Add(ctx context.Context, agent models.Agent) error
	Remove(ctx context.Context, agentID string) error
	Get(ctx context.Context, agentID string) (models.Agent, error)
	// List returns agents in insertion order.
	List(ctx context.Context) ([]models.Agent, error)
	// ReserveIfAvailable flips an available agent to busy. It returns false
	// without error when the agent is already busy or gone.
	ReserveIfAvailable(ctx context.Context, agentID string) (bool, error)
	Release(ctx context.Context, agentID string) error
}

// HandoffStore holds the active handoff records.
type HandoffStore interface {
	Put(ctx context.Context, rec models.HandoffRecord) error
	Get(ctx context.Context, handoffID string) (models.HandoffRecord, error)
	GetByConversation(ctx context.Context, conversationID string) (models.HandoffRecord, error)
	List(ctx context.Context) ([]models.HandoffRecord, error)
	Delete(ctx context.Context, handoffID string) error
}

// QueueStore holds evaluated-but-unassigned requests keyed by conversation
// id, at most one entry per conversation.
type QueueStore interface {
	Put(ctx context.Context, entry models.QueuedHandoff) error
	Get(ctx context.Context, conversationID string) (models.QueuedHandoff, error)
	// List returns entries in queued-at order (first queued first).
	List(ctx context.Context) ([]models.QueuedHandoff, error)
	Delete(ctx context.Context, conversationID string) error
	Len(ctx context.Context) (int, error)
}

// Stores bundles the three repositories a dispatcher needs.
type Stores struct {
	Agents   AgentStore
	Handoffs HandoffStore
	Queue    QueueStore
}
