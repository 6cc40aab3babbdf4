package leader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-engine/pkg/config"
	"handoff-engine/pkg/metrics"
)

func setupElection(t *testing.T, mr *miniredis.Miniredis, instanceID string) *Election {
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		InstanceID:        instanceID,
		LeaderElectionTTL: 10,
	}
	return NewElection(rdb, cfg, logger, metrics.NewMetricsWith(prometheus.NewRegistry()))
}

func TestElection_AcquiresWhenKeyFree(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	e := setupElection(t, mr, "pod-1")
	ctx := context.Background()

	e.tryAcquire(ctx)

	assert.True(t, e.IsLeader(ctx))
	val, err := mr.Get(LeaderKey)
	require.NoError(t, err)
	assert.Equal(t, "pod-1", val)
	assert.Greater(t, mr.TTL(LeaderKey).Seconds(), float64(0))
}

func TestElection_SecondInstanceDoesNotSteal(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	first := setupElection(t, mr, "pod-1")
	second := setupElection(t, mr, "pod-2")
	ctx := context.Background()

	first.tryAcquire(ctx)
	second.tryAcquire(ctx)

	assert.True(t, first.IsLeader(ctx))
	assert.False(t, second.IsLeader(ctx))

	val, err := mr.Get(LeaderKey)
	require.NoError(t, err)
	assert.Equal(t, "pod-1", val)
}

func TestElection_IsLeaderVerifiesAgainstRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	e := setupElection(t, mr, "pod-1")
	ctx := context.Background()

	e.tryAcquire(ctx)
	require.True(t, e.IsLeader(ctx))

	// The key expiring out from under us revokes leadership immediately.
	mr.Del(LeaderKey)
	assert.False(t, e.IsLeader(ctx))
}

func TestElection_TakeoverAfterExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	first := setupElection(t, mr, "pod-1")
	second := setupElection(t, mr, "pod-2")
	ctx := context.Background()

	first.tryAcquire(ctx)
	require.True(t, first.IsLeader(ctx))

	mr.FastForward(11 * time.Second)

	second.tryAcquire(ctx)
	assert.True(t, second.IsLeader(ctx))
	assert.False(t, first.IsLeader(ctx))
}

func TestElection_StopResignsLeadership(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	e := setupElection(t, mr, "pod-1")
	ctx := context.Background()

	e.tryAcquire(ctx)
	require.True(t, e.IsLeader(ctx))

	e.Stop()

	assert.False(t, mr.Exists(LeaderKey))
}

func TestElection_ConcurrentLeadershipChecks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	e := setupElection(t, mr, "pod-1")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.IsLeader(ctx)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		e.tryAcquire(ctx)
	}
	wg.Wait()

	assert.True(t, e.IsLeader(ctx))
}
