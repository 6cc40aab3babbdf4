package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/config"
	"handoff-engine/pkg/handlers"
)

func NewHTTPServer(cfg *config.Config, handler *handlers.Handler, logger *logrus.Logger) *http.Server {
	router := NewRouter(handler, logger)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter wires the REST surface. Split from NewHTTPServer so handler
// tests can drive the full routing table through httptest.
func NewRouter(handler *handlers.Handler, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Handoff lifecycle
	router.HandleFunc("/evaluate", handler.Evaluate).Methods("POST")
	router.HandleFunc("/initiate", handler.Initiate).Methods("POST")
	router.HandleFunc("/complete", handler.Complete).Methods("POST")
	router.HandleFunc("/cancel/{handoffId}", handler.Cancel).Methods("POST")
	router.HandleFunc("/status/{handoffId}", handler.Status).Methods("GET")
	router.HandleFunc("/queue", handler.Queue).Methods("GET")
	router.HandleFunc("/active", handler.Active).Methods("GET")

	// Agent pool
	router.HandleFunc("/agents", handler.AddAgent).Methods("POST")
	router.HandleFunc("/agents/status", handler.AgentStatus).Methods("GET")
	router.HandleFunc("/agents/{agentId}", handler.RemoveAgent).Methods("DELETE")

	// Quality metrics
	router.HandleFunc("/statistics", handler.Statistics).Methods("GET")

	// Operational endpoints
	router.HandleFunc("/health", handler.Health).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(loggingMiddleware(logger))

	return router
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}
