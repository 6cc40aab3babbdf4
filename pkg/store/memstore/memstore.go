// Package memstore is the in-memory reference backend. It preserves the
// original in-process semantics and doubles as the unit-test fake.
package memstore

import (
	"context"
	"sync"

	"handoff-engine/pkg/models"
	"handoff-engine/pkg/store"
)

type Store struct {
	mu sync.Mutex

	agents     map[string]models.Agent
	agentOrder []string

	handoffs map[string]models.HandoffRecord
	byConv   map[string]string

	queue      map[string]models.QueuedHandoff
	queueOrder []string
}

// New returns the three repository views over one shared mutex-guarded state.
func New() store.Stores {
	s := &Store{
		agents:   make(map[string]models.Agent),
		handoffs: make(map[string]models.HandoffRecord),
		byConv:   make(map[string]string),
		queue:    make(map[string]models.QueuedHandoff),
	}
	return store.Stores{Agents: s, Handoffs: (*handoffView)(s), Queue: (*queueView)(s)}
}

// --- AgentStore ---

func (s *Store) Add(ctx context.Context, agent models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agent.ID]; exists {
		return store.ErrDuplicateAgent
	}
	s.agents[agent.ID] = agent
	s.agentOrder = append(s.agentOrder, agent.ID)
	return nil
}

func (s *Store) Remove(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agentID]; !exists {
		return store.ErrAgentNotFound
	}
	delete(s.agents, agentID)
	for i, id := range s.agentOrder {
		if id == agentID {
			s.agentOrder = append(s.agentOrder[:i], s.agentOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, agentID string) (models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[agentID]
	if !exists {
		return models.Agent{}, store.ErrAgentNotFound
	}
	return agent, nil
}

func (s *Store) List(ctx context.Context) ([]models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]models.Agent, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		agents = append(agents, s.agents[id])
	}
	return agents, nil
}

func (s *Store) ReserveIfAvailable(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[agentID]
	if !exists || agent.Status != models.AgentAvailable {
		return false, nil
	}
	agent.Status = models.AgentBusy
	s.agents[agentID] = agent
	return true, nil
}

func (s *Store) Release(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[agentID]
	if !exists {
		// Agent removed while busy; releasing is then a no-op.
		return nil
	}
	agent.Status = models.AgentAvailable
	s.agents[agentID] = agent
	return nil
}

// --- HandoffStore ---

type handoffView Store

func (v *handoffView) Put(ctx context.Context, rec models.HandoffRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.handoffs[rec.ID] = rec
	v.byConv[rec.ConversationID] = rec.ID
	return nil
}

func (v *handoffView) Get(ctx context.Context, handoffID string) (models.HandoffRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, exists := v.handoffs[handoffID]
	if !exists {
		return models.HandoffRecord{}, store.ErrHandoffNotFound
	}
	return rec, nil
}

func (v *handoffView) GetByConversation(ctx context.Context, conversationID string) (models.HandoffRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id, exists := v.byConv[conversationID]
	if !exists {
		return models.HandoffRecord{}, store.ErrHandoffNotFound
	}
	return v.handoffs[id], nil
}

func (v *handoffView) List(ctx context.Context) ([]models.HandoffRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	recs := make([]models.HandoffRecord, 0, len(v.handoffs))
	for _, rec := range v.handoffs {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (v *handoffView) Delete(ctx context.Context, handoffID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, exists := v.handoffs[handoffID]
	if !exists {
		return store.ErrHandoffNotFound
	}
	delete(v.handoffs, handoffID)
	delete(v.byConv, rec.ConversationID)
	return nil
}

// --- QueueStore ---

type queueView Store

func (v *queueView) Put(ctx context.Context, entry models.QueuedHandoff) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.queue[entry.ConversationID]; !exists {
		v.queueOrder = append(v.queueOrder, entry.ConversationID)
	}
	v.queue[entry.ConversationID] = entry
	return nil
}

func (v *queueView) Get(ctx context.Context, conversationID string) (models.QueuedHandoff, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, exists := v.queue[conversationID]
	if !exists {
		return models.QueuedHandoff{}, store.ErrQueueEntryNotFound
	}
	return entry, nil
}

func (v *queueView) List(ctx context.Context) ([]models.QueuedHandoff, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries := make([]models.QueuedHandoff, 0, len(v.queueOrder))
	for _, id := range v.queueOrder {
		entries = append(entries, v.queue[id])
	}
	return entries, nil
}

func (v *queueView) Delete(ctx context.Context, conversationID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.queue[conversationID]; !exists {
		return store.ErrQueueEntryNotFound
	}
	delete(v.queue, conversationID)
	for i, id := range v.queueOrder {
		if id == conversationID {
			v.queueOrder = append(v.queueOrder[:i], v.queueOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (v *queueView) Len(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queue), nil
}
