// Package leader elects a single queue reconciler among service instances
// sharing the Redis backend, so the periodic drain runs once per cluster
// rather than once per pod.
package leader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/config"
	"handoff-engine/pkg/metrics"
)

const LeaderKey = "handoff:reconciler_leader"

const electionInterval = 5 * time.Second

type Election struct {
	rdb      *redis.Client
	config   *config.Config
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	isLeader atomic.Bool
	stopCh   chan struct{}
}

func NewElection(rdb *redis.Client, cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) *Election {
	return &Election{
		rdb:     rdb,
		config:  cfg,
		logger:  logger,
		metrics: m,
		stopCh:  make(chan struct{}),
	}
}

func (e *Election) Start(ctx context.Context) {
	e.logger.Info("Starting reconciler leader election")
	go e.electionLoop(ctx)
}

func (e *Election) Stop() {
	close(e.stopCh)
	if e.isLeader.Load() {
		e.resign(context.Background())
	}
}

// IsLeader verifies leadership against Redis rather than trusting local
// state, so a pod that lost its TTL stops reconciling immediately.
func (e *Election) IsLeader(ctx context.Context) bool {
	currentLeader, err := e.rdb.Get(ctx, LeaderKey).Result()
	if err != nil {
		e.isLeader.Store(false)
		return false
	}

	actual := currentLeader == e.config.InstanceID
	if e.isLeader.Load() != actual {
		e.isLeader.Store(actual)
		if actual {
			e.logger.Info("Confirmed reconciler leadership")
		} else {
			e.logger.Info("Reconciler leadership lost")
		}
	}
	return actual
}

func (e *Election) electionLoop(ctx context.Context) {
	ticker := time.NewTicker(electionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tryAcquire(ctx)
		}
	}
}

func (e *Election) tryAcquire(ctx context.Context) {
	start := time.Now()
	defer func() {
		e.metrics.LeaderElectionDuration.Observe(time.Since(start).Seconds())
	}()

	result := e.rdb.SetArgs(ctx, LeaderKey, e.config.InstanceID, redis.SetArgs{
		Mode: "NX",
		TTL:  e.config.LeaderElectionTTLDuration(),
	})
	if result.Err() != nil && result.Err() != redis.Nil {
		e.logger.WithError(result.Err()).Error("Failed to attempt leader election")
		return
	}

	if result.Val() == "OK" {
		if !e.isLeader.Load() {
			e.logger.Info("Became reconciler leader")
			e.metrics.LeaderChanges.Inc()
			e.isLeader.Store(true)
		}
		e.renew(ctx)
		return
	}

	if e.isLeader.Load() {
		currentLeader, err := e.rdb.Get(ctx, LeaderKey).Result()
		if err != nil || currentLeader != e.config.InstanceID {
			e.logger.Info("Lost reconciler leadership")
			e.isLeader.Store(false)
		} else {
			e.renew(ctx)
		}
	}
}

func (e *Election) renew(ctx context.Context) {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("EXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	result := e.rdb.Eval(ctx, script, []string{LeaderKey}, e.config.InstanceID, e.config.LeaderElectionTTL)
	if result.Err() != nil {
		e.logger.WithError(result.Err()).Error("Failed to renew reconciler leadership")
		e.isLeader.Store(false)
		return
	}
	if result.Val().(int64) == 0 {
		e.logger.Warn("Leadership renewal failed, no longer leader")
		e.isLeader.Store(false)
	}
}

func (e *Election) resign(ctx context.Context) {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

	if err := e.rdb.Eval(ctx, script, []string{LeaderKey}, e.config.InstanceID).Err(); err != nil {
		e.logger.WithError(err).Error("Failed to resign reconciler leadership")
	} else {
		e.logger.Info("Resigned reconciler leadership")
	}
	e.isLeader.Store(false)
}
