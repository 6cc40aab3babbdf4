package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"handoff-engine/pkg/dispatcher"
	"handoff-engine/pkg/evaluator"
	"handoff-engine/pkg/metrics"
	"handoff-engine/pkg/models"
	"handoff-engine/pkg/quality"
	"handoff-engine/pkg/registry"
	"handoff-engine/pkg/sentiment"
	"handoff-engine/pkg/store"
)

// Handler exposes the handoff engine over REST. Authentication happens
// upstream; handlers assume an authenticated caller.
type Handler struct {
	classifier *sentiment.Classifier
	evaluator  *evaluator.Evaluator
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	quality    *quality.Aggregator
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	backend      string
	isLeaderFunc func() bool
}

func NewHandler(
	classifier *sentiment.Classifier,
	eval *evaluator.Evaluator,
	disp *dispatcher.Dispatcher,
	reg *registry.Registry,
	agg *quality.Aggregator,
	logger *logrus.Logger,
	m *metrics.Metrics,
	backend string,
	isLeaderFunc func() bool,
) *Handler {
	return &Handler{
		classifier:   classifier,
		evaluator:    eval,
		dispatcher:   disp,
		registry:     reg,
		quality:      agg,
		logger:       logger,
		metrics:      m,
		backend:      backend,
		isLeaderFunc: isLeaderFunc,
	}
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// badRequest reports a caller error with the offending field.
func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	h.respond(w, http.StatusBadRequest, envelope{Success: false, Error: message})
}

// internalError logs the real error and returns a generic message; raw
// error text never reaches the client.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("Request failed")
	h.respond(w, http.StatusInternalServerError, envelope{Success: false, Error: "internal server error"})
}

// Evaluate runs the rule chain over a conversation. When the caller omits the
// sentiment, the built-in classifier scores the conversation first.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Conversation *models.Conversation    `json:"conversation"`
		Sentiment    *models.SentimentResult `json:"sentiment"`
		Language     string                  `json:"language,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if request.Conversation == nil {
		h.badRequest(w, "conversation is required")
		return
	}

	sent := models.SentimentResult{}
	if request.Sentiment != nil {
		sent = *request.Sentiment
	} else {
		sent = h.classifier.ClassifyConversation(*request.Conversation, request.Language)
	}

	eval := h.evaluator.Evaluate(*request.Conversation, sent)

	reason := "none"
	if eval.ShouldHandoff {
		reason = string(eval.Reason)
	}
	h.metrics.Evaluations.WithLabelValues(reason).Inc()

	h.respond(w, http.StatusOK, envelope{Success: true, Data: eval})
}

// Initiate assigns or queues a handoff for an evaluated conversation.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ConversationID string                    `json:"conversationId"`
		Evaluation     *models.HandoffEvaluation `json:"evaluation"`
		Conversation   *models.Conversation      `json:"conversation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if request.ConversationID == "" {
		h.badRequest(w, "conversationId is required")
		return
	}
	if request.Evaluation == nil {
		h.badRequest(w, "evaluation is required")
		return
	}

	conv := models.Conversation{ID: request.ConversationID}
	if request.Conversation != nil {
		conv = *request.Conversation
	}

	result, err := h.dispatcher.Initiate(r.Context(), request.ConversationID, *request.Evaluation, conv)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, envelope{Success: true, Data: result, Message: result.Message})
}

// Complete finishes a handoff. An unknown id is reported as found=false with
// a 200, matching the dispatcher's silent no-op contract.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var request struct {
		HandoffID string                  `json:"handoffId"`
		Feedback  *models.HandoffFeedback `json:"feedback,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if request.HandoffID == "" {
		h.badRequest(w, "handoffId is required")
		return
	}

	rec, found, err := h.dispatcher.Complete(r.Context(), request.HandoffID, request.Feedback)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	data := map[string]interface{}{"found": found}
	if found {
		data["handoff"] = rec
	}
	h.respond(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Cancel aborts an active handoff; unknown ids no-op like Complete.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	handoffID := mux.Vars(r)["handoffId"]
	if handoffID == "" {
		h.badRequest(w, "handoffId is required")
		return
	}

	rec, found, err := h.dispatcher.Cancel(r.Context(), handoffID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	data := map[string]interface{}{"found": found}
	if found {
		data["handoff"] = rec
	}
	h.respond(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Status returns one active handoff or 404.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	handoffID := mux.Vars(r)["handoffId"]

	rec, err := h.dispatcher.GetHandoff(r.Context(), handoffID)
	if err == store.ErrHandoffNotFound {
		h.respond(w, http.StatusNotFound, envelope{Success: false, Error: "handoff not found"})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, envelope{Success: true, Data: rec})
}

// Queue lists queued handoff requests in insertion order.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.dispatcher.QueuedHandoffs(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, envelope{Success: true, Data: entries})
}

// Active lists active handoffs.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	recs, err := h.dispatcher.ActiveHandoffs(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, envelope{Success: true, Data: recs})
}

// AddAgent registers a human agent in the pool.
func (h *Handler) AddAgent(w http.ResponseWriter, r *http.Request) {
	var request struct {
		AgentID  string   `json:"agentId"`
		Name     string   `json:"name"`
		Skills   []string `json:"skills,omitempty"`
		Priority string   `json:"priority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if request.AgentID == "" {
		h.badRequest(w, "agentId is required")
		return
	}
	if request.Name == "" {
		h.badRequest(w, "name is required")
		return
	}

	agent := models.Agent{
		ID:       request.AgentID,
		Name:     request.Name,
		Skills:   request.Skills,
		Priority: models.Priority(request.Priority),
	}

	err := h.registry.Add(r.Context(), agent)
	if err == store.ErrDuplicateAgent {
		h.badRequest(w, "agent already registered")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, envelope{Success: true, Message: "agent added"})
}

// RemoveAgent drops an agent from the pool.
func (h *Handler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]

	err := h.registry.Remove(r.Context(), agentID)
	if err == store.ErrAgentNotFound {
		h.respond(w, http.StatusNotFound, envelope{Success: false, Error: "agent not found"})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, envelope{Success: true, Message: "agent removed"})
}

// AgentStatus returns the agent pool snapshot.
func (h *Handler) AgentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.Status(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, envelope{Success: true, Data: status})
}

// Statistics returns the quality metrics snapshot.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.quality.Statistics(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, envelope{Success: true, Data: stats})
}

// Health reports liveness plus a few operational gauges.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	queued, err := h.dispatcher.QueuedHandoffs(r.Context())
	if err != nil {
		h.respond(w, http.StatusServiceUnavailable, envelope{Success: false, Error: "health check failed"})
		return
	}

	h.respond(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
		"status":        "healthy",
		"store_backend": h.backend,
		"queued":        len(queued),
		"is_leader":     h.isLeaderFunc(),
		"timestamp":     time.Now(),
	}})
}
