// Package quality maintains process-lifetime running aggregates over handoff
// outcomes. State starts at zero and is never reset while the process lives.
package quality

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/models"
	"handoff-engine/pkg/registry"
)

type Aggregator struct {
	mu sync.Mutex

	successes int
	failures  int

	meanResolution   time.Duration
	meanSatisfaction float64

	registry *registry.Registry
	logger   *logrus.Logger
}

func NewAggregator(reg *registry.Registry, logger *logrus.Logger) *Aggregator {
	return &Aggregator{registry: reg, logger: logger}
}

// Record folds one completed handoff into the running means. It must be
// called exactly once per completion; the dispatcher owns that guarantee.
func (a *Aggregator) Record(rec models.HandoffRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successes++
	n := float64(a.successes)

	a.meanResolution = time.Duration(
		(float64(a.meanResolution)*(n-1) + float64(rec.Duration)) / n,
	)

	if rec.Feedback != nil {
		a.meanSatisfaction = (a.meanSatisfaction*(n-1) + rec.Feedback.Satisfaction) / n
	}

	a.logger.WithFields(logrus.Fields{
		"handoff_id":   rec.ID,
		"duration":     rec.Duration,
		"successes":    a.successes,
		"had_feedback": rec.Feedback != nil,
	}).Debug("Recorded completed handoff")
}

// RecordFailure counts an internal error during handoff initiation. Normal
// cancellations are not failures and never reach here.
func (a *Aggregator) RecordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures++
}

// Statistics returns the aggregate snapshot plus the current agent pool
// status. Resolution time is reported in whole minutes and satisfaction to
// one decimal.
func (a *Aggregator) Statistics(ctx context.Context) (models.QualityStatistics, error) {
	pool, err := a.registry.Status(ctx)
	if err != nil {
		return models.QualityStatistics{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	stats := models.QualityStatistics{
		SuccessfulHandoffs:   a.successes,
		FailedHandoffs:       a.failures,
		AvgResolutionMinutes: int(math.Round(a.meanResolution.Minutes())),
		CustomerSatisfaction: math.Round(a.meanSatisfaction*10) / 10,
		AgentPool:            pool,
	}

	if total := a.successes + a.failures; total > 0 {
		stats.SuccessRatePercent = math.Round(float64(a.successes)/float64(total)*10000) / 100
	}

	return stats, nil
}
