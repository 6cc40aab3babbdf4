package models

import "time"

// SenderRole identifies who authored a message in a conversation.
type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderBot   SenderRole = "bot"
	SenderAgent SenderRole = "agent"
)

// Message is a single immutable conversation turn. Conversations are owned by
// the chat pipeline; this subsystem only reads them.
type Message struct {
	Sender    SenderRole `json:"sender"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

// Conversation is the append-only message history for one chat session.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// LastMessage returns the most recent message, or false for an empty conversation.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// BotMessageCount returns how many turns the bot has taken.
func (c Conversation) BotMessageCount() int {
	count := 0
	for _, m := range c.Messages {
		if m.Sender == SenderBot {
			count++
		}
	}
	return count
}

// SentimentLabel is the coarse polarity of a message or conversation.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// SentimentResult is the classifier output for one evaluation call. It is
// created fresh per call and never persisted.
type SentimentResult struct {
	Label      SentimentLabel `json:"label"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Magnitude  float64        `json:"magnitude"`
	Emotions   EmotionTally   `json:"emotions"`
	Language   string         `json:"language"`
}

// EmotionTally counts keyword hits per emotion bucket.
type EmotionTally struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Urgent   int `json:"urgent"`
}

// HandoffReason explains why the evaluator requested a handoff.
type HandoffReason string

const (
	ReasonNegativeSentiment   HandoffReason = "negative_sentiment"
	ReasonUrgentKeywords      HandoffReason = "urgent_keywords"
	ReasonHighComplexity      HandoffReason = "high_complexity"
	ReasonEscalationRequest   HandoffReason = "escalation_request"
	ReasonCustomerComplaint   HandoffReason = "customer_complaint"
	ReasonMessageLimitReached HandoffReason = "message_limit_exceeded"
	ReasonTimeLimitReached    HandoffReason = "time_limit_exceeded"
)

// Priority is the coarse urgency tier driving evaluation outcome and agent
// selection order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for agent selection, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// HandoffEvaluation is the evaluator verdict for one conversation, consumed
// immediately by the dispatcher.
type HandoffEvaluation struct {
	ShouldHandoff bool          `json:"should_handoff"`
	Reason        HandoffReason `json:"reason,omitempty"`
	Priority      Priority      `json:"priority"`
	Confidence    float64       `json:"confidence"`
}

// AgentStatus is the availability state of a human agent.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
)

// Agent is a human agent registered in the pool. Status flips only through
// the dispatcher's reserve/release path.
type Agent struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Skills   []string    `json:"skills,omitempty"`
	Priority Priority    `json:"priority"`
	Status   AgentStatus `json:"status"`
	AddedAt  time.Time   `json:"added_at"`
}

// HandoffStatus is the lifecycle state of a handoff record.
type HandoffStatus string

const (
	HandoffActive    HandoffStatus = "active"
	HandoffCompleted HandoffStatus = "completed"
	HandoffCancelled HandoffStatus = "cancelled"
)

// HandoffFeedback is the optional outcome feedback supplied on completion.
type HandoffFeedback struct {
	Satisfaction float64 `json:"satisfaction"`
	Comment      string  `json:"comment,omitempty"`
}

// HandoffRecord tracks one bot-to-human transfer from reservation to terminal
// state. Transitions to completed/cancelled happen exactly once, after which
// the record leaves the active set.
type HandoffRecord struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	AgentID        string           `json:"agent_id"`
	Priority       Priority         `json:"priority"`
	Reason         HandoffReason    `json:"reason"`
	Status         HandoffStatus    `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Duration       time.Duration    `json:"duration,omitempty"`
	Feedback       *HandoffFeedback `json:"feedback,omitempty"`
}

// QueuedHandoff holds an evaluated request waiting for agent capacity. The
// conversation id is the queue key: at most one entry per conversation.
type QueuedHandoff struct {
	ConversationID string            `json:"conversation_id"`
	Evaluation     HandoffEvaluation `json:"evaluation"`
	Conversation   Conversation      `json:"conversation"`
	Priority       Priority          `json:"priority"`
	QueuedAt       time.Time         `json:"queued_at"`
}

// PoolStatus is a point-in-time snapshot of the agent pool.
type PoolStatus struct {
	Total       int     `json:"total"`
	Available   int     `json:"available"`
	Busy        int     `json:"busy"`
	Utilization float64 `json:"utilization"`
}

// QualityStatistics is the aggregator snapshot returned by GET /statistics.
type QualityStatistics struct {
	SuccessfulHandoffs   int        `json:"successful_handoffs"`
	FailedHandoffs       int        `json:"failed_handoffs"`
	SuccessRatePercent   float64    `json:"success_rate_percent"`
	AvgResolutionMinutes int        `json:"avg_resolution_minutes"`
	CustomerSatisfaction float64    `json:"customer_satisfaction"`
	AgentPool            PoolStatus `json:"agent_pool"`
}

// HandoffEventType labels dispatcher lifecycle events for downstream consumers.
type HandoffEventType string

const (
	EventHandoffInitiated HandoffEventType = "handoff_initiated"
	EventHandoffQueued    HandoffEventType = "handoff_queued"
	EventHandoffPromoted  HandoffEventType = "handoff_promoted"
	EventHandoffCompleted HandoffEventType = "handoff_completed"
	EventHandoffCancelled HandoffEventType = "handoff_cancelled"
)

// HandoffEvent is the explicit message-passing replacement for listener
// registration: the dispatcher publishes these on a channel and a relay
// forwards them to the event stream when one is configured.
type HandoffEvent struct {
	Type           HandoffEventType `json:"type"`
	HandoffID      string           `json:"handoff_id,omitempty"`
	ConversationID string           `json:"conversation_id"`
	AgentID        string           `json:"agent_id,omitempty"`
	Priority       Priority         `json:"priority"`
	Reason         HandoffReason    `json:"reason,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
