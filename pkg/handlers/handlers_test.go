package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-engine/pkg/dispatcher"
	"handoff-engine/pkg/evaluator"
	"handoff-engine/pkg/handlers"
	"handoff-engine/pkg/metrics"
	"handoff-engine/pkg/models"
	"handoff-engine/pkg/quality"
	"handoff-engine/pkg/registry"
	"handoff-engine/pkg/sentiment"
	"handoff-engine/pkg/server"
	"handoff-engine/pkg/store/memstore"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func setupRouter(t *testing.T) *mux.Router {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := metrics.NewMetricsWith(prometheus.NewRegistry())

	stores := memstore.New()
	reg := registry.New(stores.Agents, logger, m)
	agg := quality.NewAggregator(reg, logger)
	disp := dispatcher.New(reg, stores, agg, logger, m, "ar")

	ruleCfg := evaluator.RuleConfig{
		NegativeThreshold: -0.3,
		MaxBotAttempts:    3,
		BotMessageLimit:   10,
		TimeLimit:         30 * time.Minute,
		ComplexityWindow:  3,
		EscalationPhrases: []string{"talk to a human", "اريد التحدث مع موظف"},
	}

	handler := handlers.NewHandler(
		sentiment.NewClassifier("ar"),
		evaluator.New(ruleCfg),
		disp,
		reg,
		agg,
		logger,
		m,
		"memory",
		func() bool { return true },
	)
	return server.NewRouter(handler, logger)
}

func doJSON(t *testing.T, router *mux.Router, method, path string, payload interface{}) (*httptest.ResponseRecorder, response) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func addAgent(t *testing.T, router *mux.Router, id, name string) {
	t.Helper()
	rr, resp := doJSON(t, router, http.MethodPost, "/agents", map[string]interface{}{
		"agentId": id,
		"name":    name,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, resp.Success)
}

func TestHandlers_AddAgentValidation(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/agents", map[string]interface{}{"name": "Sara"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "agentId is required", resp.Error)

	rr, resp = doJSON(t, router, http.MethodPost, "/agents", map[string]interface{}{"agentId": "a1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "name is required", resp.Error)
}

func TestHandlers_AddAgentDuplicate(t *testing.T) {
	router := setupRouter(t)
	addAgent(t, router, "a1", "Sara")

	rr, resp := doJSON(t, router, http.MethodPost, "/agents", map[string]interface{}{
		"agentId": "a1",
		"name":    "Sara",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "agent already registered", resp.Error)
}

func TestHandlers_AgentStatus(t *testing.T) {
	router := setupRouter(t)
	addAgent(t, router, "a1", "Sara")

	rr, resp := doJSON(t, router, http.MethodGet, "/agents/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var pool models.PoolStatus
	require.NoError(t, json.Unmarshal(resp.Data, &pool))
	assert.Equal(t, 1, pool.Total)
	assert.Equal(t, 1, pool.Available)
}

func TestHandlers_RemoveAgent(t *testing.T) {
	router := setupRouter(t)
	addAgent(t, router, "a1", "Sara")

	rr, _ := doJSON(t, router, http.MethodDelete, "/agents/a1", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, resp := doJSON(t, router, http.MethodDelete, "/agents/a1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "agent not found", resp.Error)
}

func TestHandlers_EvaluateClassifiesWhenSentimentOmitted(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/evaluate", map[string]interface{}{
		"conversation": models.Conversation{
			ID: "conv-1",
			Messages: []models.Message{
				{Sender: models.SenderUser, Content: "سيء جداً الخدمة", Timestamp: time.Now()},
			},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var eval models.HandoffEvaluation
	require.NoError(t, json.Unmarshal(resp.Data, &eval))
	assert.True(t, eval.ShouldHandoff)
	assert.Equal(t, models.ReasonNegativeSentiment, eval.Reason)
	assert.Equal(t, models.PriorityHigh, eval.Priority)
}

func TestHandlers_EvaluateRequiresConversation(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/evaluate", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "conversation is required", resp.Error)
}

func TestHandlers_InitiateValidation(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/initiate", map[string]interface{}{
		"evaluation": models.HandoffEvaluation{ShouldHandoff: true},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "conversationId is required", resp.Error)

	rr, resp = doJSON(t, router, http.MethodPost, "/initiate", map[string]interface{}{
		"conversationId": "conv-1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "evaluation is required", resp.Error)
}

func TestHandlers_InitiateQueuesOnEmptyPool(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/initiate", map[string]interface{}{
		"conversationId": "conv-1",
		"evaluation": models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonNegativeSentiment,
			Priority:      models.PriorityHigh,
			Confidence:    0.8,
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var result dispatcher.InitiateResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.False(t, result.Success)
	assert.True(t, result.Queued)

	rr, resp = doJSON(t, router, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []models.QueuedHandoff
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "conv-1", entries[0].ConversationID)
}

func TestHandlers_HandoffLifecycle(t *testing.T) {
	router := setupRouter(t)
	addAgent(t, router, "a1", "Sara")

	rr, resp := doJSON(t, router, http.MethodPost, "/initiate", map[string]interface{}{
		"conversationId": "conv-1",
		"evaluation": models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonNegativeSentiment,
			Priority:      models.PriorityHigh,
			Confidence:    0.8,
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var result dispatcher.InitiateResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.True(t, result.Success)
	require.NotEmpty(t, result.HandoffID)

	rr, resp = doJSON(t, router, http.MethodGet, "/status/"+result.HandoffID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec models.HandoffRecord
	require.NoError(t, json.Unmarshal(resp.Data, &rec))
	assert.Equal(t, models.HandoffActive, rec.Status)

	rr, resp = doJSON(t, router, http.MethodPost, "/complete", map[string]interface{}{
		"handoffId": result.HandoffID,
		"feedback":  models.HandoffFeedback{Satisfaction: 5},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var completed struct {
		Found   bool                 `json:"found"`
		Handoff models.HandoffRecord `json:"handoff"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &completed))
	assert.True(t, completed.Found)
	assert.Equal(t, models.HandoffCompleted, completed.Handoff.Status)

	// Second completion is a silent no-op with found=false.
	rr, resp = doJSON(t, router, http.MethodPost, "/complete", map[string]interface{}{
		"handoffId": result.HandoffID,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &completed))
	assert.False(t, completed.Found)

	rr, _ = doJSON(t, router, http.MethodGet, "/status/"+result.HandoffID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, resp = doJSON(t, router, http.MethodGet, "/statistics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats models.QualityStatistics
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 1, stats.SuccessfulHandoffs)
	assert.Equal(t, float64(5), stats.CustomerSatisfaction)
}

func TestHandlers_CancelUnknownHandoff(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodPost, "/cancel/missing", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var cancelled struct {
		Found bool `json:"found"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &cancelled))
	assert.False(t, cancelled.Found)
}

func TestHandlers_ActiveEmpty(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodGet, "/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []models.HandoffRecord
	require.NoError(t, json.Unmarshal(resp.Data, &recs))
	assert.Empty(t, recs)
}

func TestHandlers_Health(t *testing.T) {
	router := setupRouter(t)

	rr, resp := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var health struct {
		Status       string `json:"status"`
		StoreBackend string `json:"store_backend"`
		Queued       int    `json:"queued"`
		IsLeader     bool   `json:"is_leader"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.StoreBackend)
	assert.True(t, health.IsLeader)
}
