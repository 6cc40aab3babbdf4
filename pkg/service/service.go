package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/config"
	"handoff-engine/pkg/dispatcher"
	"handoff-engine/pkg/evaluator"
	"handoff-engine/pkg/events"
	"handoff-engine/pkg/handlers"
	"handoff-engine/pkg/leader"
	"handoff-engine/pkg/metrics"
	"handoff-engine/pkg/quality"
	"handoff-engine/pkg/registry"
	"handoff-engine/pkg/sentiment"
	"handoff-engine/pkg/server"
	"handoff-engine/pkg/store"
	"handoff-engine/pkg/store/memstore"
	"handoff-engine/pkg/store/redisstore"
)

// Service assembles the handoff engine and owns its lifecycle: the HTTP
// server, the queue reconcile loop and the event relay.
type Service struct {
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	stores     store.Stores
	classifier *sentiment.Classifier
	evaluator  *evaluator.Evaluator
	registry   *registry.Registry
	quality    *quality.Aggregator
	dispatcher *dispatcher.Dispatcher

	election *leader.Election
	relay    *events.StreamRelay
	server   *http.Server
	stopCh   chan struct{}
}

// New builds the service. rdb may be nil when the memory backend is
// configured; the redis backend requires it.
func New(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics, rdb *goredis.Client) (*Service, error) {
	s := &Service{
		config:  cfg,
		logger:  logger,
		metrics: m,
		stopCh:  make(chan struct{}),
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		s.stores = memstore.New()
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		s.stores = redisstore.New(rdb, logger, m)
		s.election = leader.NewElection(rdb, cfg, logger, m)
		if cfg.EventsStreamEnabled {
			s.relay = events.NewStreamRelay(rdb, cfg.EventsConsumerGroup, logger)
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	s.classifier = sentiment.NewClassifier(cfg.DefaultLanguage)
	if cfg.LexiconFile != "" {
		if err := s.classifier.LoadLexiconFile(cfg.LexiconFile); err != nil {
			return nil, fmt.Errorf("failed to load lexicon overrides: %w", err)
		}
	}

	s.evaluator = evaluator.New(evaluator.DefaultRuleConfig(cfg))
	s.registry = registry.New(s.stores.Agents, logger, m)
	s.quality = quality.NewAggregator(s.registry, logger)
	s.dispatcher = dispatcher.New(s.registry, s.stores, s.quality, logger, m, cfg.DefaultLanguage)

	handler := handlers.NewHandler(
		s.classifier, s.evaluator, s.dispatcher, s.registry, s.quality,
		logger, m, cfg.StoreBackend, s.isLeader,
	)
	s.server = server.NewHTTPServer(cfg, handler, logger)

	return s, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"instance_id":   s.config.InstanceID,
		"store_backend": s.config.StoreBackend,
	}).Info("Starting handoff engine")

	if s.election != nil {
		s.election.Start(ctx)
	}

	if s.relay != nil {
		if err := s.relay.Start(ctx, s.dispatcher.Events()); err != nil {
			return fmt.Errorf("failed to start event relay: %w", err)
		}
	} else {
		go s.logEvents(ctx)
	}

	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	go s.reconcileLoop(ctx)

	s.logger.Info("Handoff engine started successfully")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping handoff engine")

	close(s.stopCh)
	if s.election != nil {
		s.election.Stop()
	}
	if s.relay != nil {
		s.relay.Stop()
	}

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			return err
		}
	}

	s.logger.Info("Handoff engine stopped")
	return nil
}

// Dispatcher exposes the dispatcher for embedding callers.
func (s *Service) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

func (s *Service) isLeader() bool {
	if s.election == nil {
		// Single-instance memory backend always reconciles.
		return true
	}
	return s.election.IsLeader(context.Background())
}

// reconcileLoop periodically re-attempts queued handoffs. Capacity changes
// also trigger a drain from the dispatcher itself; the ticker covers agents
// added while the queue is non-empty.
func (s *Service) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.QueueReconcileInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.isLeader() {
				continue
			}
			if promoted, err := s.dispatcher.ProcessQueue(ctx); err != nil {
				s.logger.WithError(err).Error("Queue reconciliation failed")
			} else if promoted > 0 {
				s.logger.WithField("promoted", promoted).Info("Queue reconciliation promoted handoffs")
			}
		}
	}
}

// logEvents drains dispatcher events when no stream relay is configured so
// the channel never fills up.
func (s *Service) logEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event := <-s.dispatcher.Events():
			s.logger.WithFields(logrus.Fields{
				"event_type":      event.Type,
				"conversation_id": event.ConversationID,
				"handoff_id":      event.HandoffID,
				"agent_id":        event.AgentID,
			}).Debug("Handoff event")
		}
	}
}
