package evaluator

import (
	"math"
	"strings"
	"time"

	"handoff-engine/pkg/models"
)

// rule is one policy in the evaluation chain. Rules run in slice order and
// the first match wins, so earlier rules dominate later ones.
type rule struct {
	name  string
	check func(conv models.Conversation, sent models.SentimentResult, now time.Time) (models.HandoffEvaluation, bool)
}

func (e *Evaluator) buildRules() []rule {
	return []rule{
		{name: "sentiment", check: e.checkSentiment},
		{name: "complexity", check: e.checkComplexity},
		{name: "escalation", check: e.checkEscalation},
		{name: "fallback", check: e.checkFallback},
	}
}

// checkSentiment fires on strongly negative polarity or any urgency hit.
func (e *Evaluator) checkSentiment(conv models.Conversation, sent models.SentimentResult, now time.Time) (models.HandoffEvaluation, bool) {
	if sent.Score < e.cfg.NegativeThreshold {
		return models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonNegativeSentiment,
			Priority:      models.PriorityHigh,
			Confidence:    math.Min(math.Abs(sent.Score), 1),
		}, true
	}
	if sent.Emotions.Urgent > 0 {
		return models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonUrgentKeywords,
			Priority:      models.PriorityHigh,
			Confidence:    0.8,
		}, true
	}
	return models.HandoffEvaluation{}, false
}

// checkComplexity fires when recent messages carry complexity signals and the
// bot has already had its configured number of attempts.
func (e *Evaluator) checkComplexity(conv models.Conversation, sent models.SentimentResult, now time.Time) (models.HandoffEvaluation, bool) {
	if conv.BotMessageCount() < e.cfg.MaxBotAttempts {
		return models.HandoffEvaluation{}, false
	}

	start := len(conv.Messages) - e.cfg.ComplexityWindow
	if start < 0 {
		start = 0
	}
	for _, m := range conv.Messages[start:] {
		if containsAny(m.Content, e.cfg.ComplexityKeywords) {
			return models.HandoffEvaluation{
				ShouldHandoff: true,
				Reason:        models.ReasonHighComplexity,
				Priority:      models.PriorityMedium,
				Confidence:    0.7,
			}, true
		}
	}
	return models.HandoffEvaluation{}, false
}

// checkEscalation inspects only the most recent message for an explicit
// request for a human or complaint phrasing.
func (e *Evaluator) checkEscalation(conv models.Conversation, sent models.SentimentResult, now time.Time) (models.HandoffEvaluation, bool) {
	last, ok := conv.LastMessage()
	if !ok {
		return models.HandoffEvaluation{}, false
	}

	if containsAny(last.Content, e.cfg.EscalationPhrases) {
		return models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonEscalationRequest,
			Priority:      models.PriorityHigh,
			Confidence:    0.9,
		}, true
	}
	if containsAny(last.Content, e.cfg.ComplaintPhrases) {
		return models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonCustomerComplaint,
			Priority:      models.PriorityHigh,
			Confidence:    0.8,
		}, true
	}
	return models.HandoffEvaluation{}, false
}

// checkFallback caps how long the bot may keep a conversation, by message
// count then by wall-clock age.
func (e *Evaluator) checkFallback(conv models.Conversation, sent models.SentimentResult, now time.Time) (models.HandoffEvaluation, bool) {
	if conv.BotMessageCount() >= e.cfg.BotMessageLimit {
		return models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonMessageLimitReached,
			Priority:      models.PriorityLow,
			Confidence:    0.6,
		}, true
	}
	if !conv.CreatedAt.IsZero() && now.Sub(conv.CreatedAt) >= e.cfg.TimeLimit {
		return models.HandoffEvaluation{
			ShouldHandoff: true,
			Reason:        models.ReasonTimeLimitReached,
			Priority:      models.PriorityLow,
			Confidence:    0.5,
		}, true
	}
	return models.HandoffEvaluation{}, false
}

func containsAny(text string, phrases []string) bool {
	lowered := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lowered, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
