// Package redisstore backs the handoff repositories with Redis so multiple
// service instances can share one agent pool, active set and queue. Agent
// reservation is a Lua compare-and-swap, giving the same atomicity guarantee
// as the in-memory backend's mutex.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/metrics"
	"handoff-engine/pkg/models"
	"handoff-engine/pkg/store"
)

const (
	agentKeyPrefix   = "handoff:agent:"
	agentIndexKey    = "handoff:agents"
	activeHandoffKey = "handoff:active"
	handoffByConvKey = "handoff:active_by_conversation"
	queueEntriesKey  = "handoff:queue"
	queueIndexKey    = "handoff:queue_order"
)

// reserveScript flips an available agent to busy in one round trip.
const reserveScript = `
if redis.call("HGET", KEYS[1], "status") == ARGV[1] then
	redis.call("HSET", KEYS[1], "status", ARGV[2])
	return 1
end
return 0
`

// releaseScript only touches the status field of an agent that still exists,
// so releasing a removed agent does not resurrect its key.
const releaseScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("HSET", KEYS[1], "status", ARGV[1])
	return 1
end
return 0
`

type Store struct {
	rdb     *redis.Client
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// New returns the three repository views over one Redis client.
func New(rdb *redis.Client, logger *logrus.Logger, m *metrics.Metrics) store.Stores {
	s := &Store{rdb: rdb, logger: logger, metrics: m}
	return store.Stores{Agents: s, Handoffs: (*handoffView)(s), Queue: (*queueView)(s)}
}

func (s *Store) observe(operation string, start time.Time) {
	s.metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func agentKey(agentID string) string {
	return agentKeyPrefix + agentID
}

// --- AgentStore ---

func (s *Store) Add(ctx context.Context, agent models.Agent) error {
	defer s.observe("agent_add", time.Now())

	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}

	// HSETNX on the data field doubles as the duplicate check.
	created, err := s.rdb.HSetNX(ctx, agentKey(agent.ID), "data", data).Result()
	if err != nil {
		return fmt.Errorf("failed to add agent: %w", err)
	}
	if !created {
		return store.ErrDuplicateAgent
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, agentKey(agent.ID), "status", string(agent.Status))
	pipe.ZAdd(ctx, agentIndexKey, &redis.Z{
		Score:  float64(agent.AddedAt.UnixNano()),
		Member: agent.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index agent: %w", err)
	}

	return nil
}

func (s *Store) Remove(ctx context.Context, agentID string) error {
	defer s.observe("agent_remove", time.Now())

	pipe := s.rdb.Pipeline()
	delCmd := pipe.Del(ctx, agentKey(agentID))
	pipe.ZRem(ctx, agentIndexKey, agentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove agent: %w", err)
	}
	if delCmd.Val() == 0 {
		return store.ErrAgentNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, agentID string) (models.Agent, error) {
	defer s.observe("agent_get", time.Now())

	fields, err := s.rdb.HGetAll(ctx, agentKey(agentID)).Result()
	if err != nil {
		return models.Agent{}, fmt.Errorf("failed to get agent: %w", err)
	}
	if len(fields) == 0 {
		return models.Agent{}, store.ErrAgentNotFound
	}
	return decodeAgent(fields)
}

func (s *Store) List(ctx context.Context) ([]models.Agent, error) {
	defer s.observe("agent_list", time.Now())

	ids, err := s.rdb.ZRange(ctx, agentIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agent ids: %w", err)
	}

	agents := make([]models.Agent, 0, len(ids))
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, agentKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load agent %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Index entry outlived the agent hash; skip the orphan.
			continue
		}
		agent, err := decodeAgent(fields)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

func (s *Store) ReserveIfAvailable(ctx context.Context, agentID string) (bool, error) {
	defer s.observe("agent_reserve", time.Now())

	result, err := s.rdb.Eval(ctx, reserveScript, []string{agentKey(agentID)},
		string(models.AgentAvailable), string(models.AgentBusy)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve agent: %w", err)
	}

	reserved := result.(int64) == 1
	s.logger.WithFields(logrus.Fields{
		"agent_id": agentID,
		"reserved": reserved,
	}).Debug("Agent reservation attempt")

	return reserved, nil
}

func (s *Store) Release(ctx context.Context, agentID string) error {
	defer s.observe("agent_release", time.Now())

	err := s.rdb.Eval(ctx, releaseScript, []string{agentKey(agentID)},
		string(models.AgentAvailable)).Err()
	if err != nil {
		return fmt.Errorf("failed to release agent: %w", err)
	}
	return nil
}

func decodeAgent(fields map[string]string) (models.Agent, error) {
	var agent models.Agent
	if err := json.Unmarshal([]byte(fields["data"]), &agent); err != nil {
		return models.Agent{}, fmt.Errorf("invalid agent record: %w", err)
	}
	// Status lives in its own field so reservation can CAS it without
	// rewriting the JSON blob.
	agent.Status = models.AgentStatus(fields["status"])
	return agent, nil
}

// --- HandoffStore ---

type handoffView Store

func (v *handoffView) observe(operation string, start time.Time) {
	(*Store)(v).observe(operation, start)
}

func (v *handoffView) Put(ctx context.Context, rec models.HandoffRecord) error {
	defer v.observe("handoff_put", time.Now())

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}

	pipe := v.rdb.Pipeline()
	pipe.HSet(ctx, activeHandoffKey, rec.ID, data)
	pipe.HSet(ctx, handoffByConvKey, rec.ConversationID, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store handoff: %w", err)
	}
	return nil
}

func (v *handoffView) Get(ctx context.Context, handoffID string) (models.HandoffRecord, error) {
	defer v.observe("handoff_get", time.Now())

	data, err := v.rdb.HGet(ctx, activeHandoffKey, handoffID).Result()
	if err == redis.Nil {
		return models.HandoffRecord{}, store.ErrHandoffNotFound
	}
	if err != nil {
		return models.HandoffRecord{}, fmt.Errorf("failed to get handoff: %w", err)
	}

	var rec models.HandoffRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return models.HandoffRecord{}, fmt.Errorf("invalid handoff record: %w", err)
	}
	return rec, nil
}

func (v *handoffView) GetByConversation(ctx context.Context, conversationID string) (models.HandoffRecord, error) {
	defer v.observe("handoff_get_by_conversation", time.Now())

	id, err := v.rdb.HGet(ctx, handoffByConvKey, conversationID).Result()
	if err == redis.Nil {
		return models.HandoffRecord{}, store.ErrHandoffNotFound
	}
	if err != nil {
		return models.HandoffRecord{}, fmt.Errorf("failed to resolve conversation handoff: %w", err)
	}
	return v.Get(ctx, id)
}

func (v *handoffView) List(ctx context.Context) ([]models.HandoffRecord, error) {
	defer v.observe("handoff_list", time.Now())

	entries, err := v.rdb.HGetAll(ctx, activeHandoffKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list handoffs: %w", err)
	}

	recs := make([]models.HandoffRecord, 0, len(entries))
	for id, data := range entries {
		var rec models.HandoffRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("invalid handoff record %s: %w", id, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (v *handoffView) Delete(ctx context.Context, handoffID string) error {
	defer v.observe("handoff_delete", time.Now())

	rec, err := v.Get(ctx, handoffID)
	if err != nil {
		return err
	}

	pipe := v.rdb.Pipeline()
	pipe.HDel(ctx, activeHandoffKey, handoffID)
	pipe.HDel(ctx, handoffByConvKey, rec.ConversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete handoff: %w", err)
	}
	return nil
}

// --- QueueStore ---

type queueView Store

func (v *queueView) observe(operation string, start time.Time) {
	(*Store)(v).observe(operation, start)
}

func (v *queueView) Put(ctx context.Context, entry models.QueuedHandoff) error {
	defer v.observe("queue_put", time.Now())

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	pipe := v.rdb.Pipeline()
	pipe.HSet(ctx, queueEntriesKey, entry.ConversationID, data)
	// NX keeps the original position when a waiting conversation is
	// re-queued with a fresh snapshot.
	pipe.ZAddNX(ctx, queueIndexKey, &redis.Z{
		Score:  float64(entry.QueuedAt.UnixNano()),
		Member: entry.ConversationID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue handoff: %w", err)
	}
	return nil
}

func (v *queueView) Get(ctx context.Context, conversationID string) (models.QueuedHandoff, error) {
	defer v.observe("queue_get", time.Now())

	data, err := v.rdb.HGet(ctx, queueEntriesKey, conversationID).Result()
	if err == redis.Nil {
		return models.QueuedHandoff{}, store.ErrQueueEntryNotFound
	}
	if err != nil {
		return models.QueuedHandoff{}, fmt.Errorf("failed to get queue entry: %w", err)
	}

	var entry models.QueuedHandoff
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return models.QueuedHandoff{}, fmt.Errorf("invalid queue entry: %w", err)
	}
	return entry, nil
}

func (v *queueView) List(ctx context.Context) ([]models.QueuedHandoff, error) {
	defer v.observe("queue_list", time.Now())

	ids, err := v.rdb.ZRange(ctx, queueIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue order: %w", err)
	}

	entries := make([]models.QueuedHandoff, 0, len(ids))
	for _, id := range ids {
		entry, err := v.Get(ctx, id)
		if err == store.ErrQueueEntryNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (v *queueView) Delete(ctx context.Context, conversationID string) error {
	defer v.observe("queue_delete", time.Now())

	pipe := v.rdb.Pipeline()
	delCmd := pipe.HDel(ctx, queueEntriesKey, conversationID)
	pipe.ZRem(ctx, queueIndexKey, conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	if delCmd.Val() == 0 {
		return store.ErrQueueEntryNotFound
	}
	return nil
}

func (v *queueView) Len(ctx context.Context) (int, error) {
	defer v.observe("queue_len", time.Now())

	count, err := v.rdb.ZCard(ctx, queueIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(count), nil
}
