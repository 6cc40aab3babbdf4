package evaluator

import (
	"time"

	"handoff-engine/pkg/config"
	"handoff-engine/pkg/models"
)

// RuleConfig carries every evaluation threshold and keyword list. Nothing in
// the rule chain is hardcoded; ordering and thresholds are testable
// independent of code changes.
type RuleConfig struct {
	NegativeThreshold  float64
	MaxBotAttempts     int
	BotMessageLimit    int
	TimeLimit          time.Duration
	ComplexityWindow   int
	ComplexityKeywords []string
	EscalationPhrases  []string
	ComplaintPhrases   []string
}

// DefaultRuleConfig derives rule thresholds from service configuration and
// fills in the built-in Arabic/English phrase lists.
func DefaultRuleConfig(cfg *config.Config) RuleConfig {
	return RuleConfig{
		NegativeThreshold: cfg.NegativeSentimentThreshold,
		MaxBotAttempts:    cfg.MaxBotAttempts,
		BotMessageLimit:   cfg.BotMessageLimit,
		TimeLimit:         cfg.ConversationTimeLimit(),
		ComplexityWindow:  cfg.ComplexityWindow,
		ComplexityKeywords: []string{
			"فاتورة", "استرداد", "تقني", "قانوني", "عقد", "اشتراك",
			"refund", "invoice", "technical", "legal", "contract", "api", "integration",
		},
		EscalationPhrases: []string{
			"اريد التحدث مع موظف", "أريد التحدث مع موظف", "اريد انسان", "موظف بشري", "خدمة العملاء",
			"talk to a human", "speak to a human", "real person", "human agent", "speak to someone",
		},
		ComplaintPhrases: []string{
			"شكوى", "اشتكي", "أشتكي", "غير مقبول", "سوف الغي", "سألغي",
			"complaint", "complain", "unacceptable", "cancel my", "report you",
		},
	}
}

// Evaluator decides whether a conversation needs a human agent. Evaluate is
// a pure function over the conversation, the sentiment result and the
// configured rule chain.
type Evaluator struct {
	cfg   RuleConfig
	rules []rule
	now   func() time.Time
}

func New(cfg RuleConfig) *Evaluator {
	e := &Evaluator{cfg: cfg, now: time.Now}
	e.rules = e.buildRules()
	return e
}

// Evaluate applies the rule chain in fixed priority order, short-circuiting
// on the first match. A non-match returns shouldHandoff=false with low
// priority and zero confidence.
func (e *Evaluator) Evaluate(conv models.Conversation, sent models.SentimentResult) models.HandoffEvaluation {
	now := e.now()
	for _, r := range e.rules {
		if eval, ok := r.check(conv, sent, now); ok {
			return eval
		}
	}
	return models.HandoffEvaluation{
		ShouldHandoff: false,
		Priority:      models.PriorityLow,
		Confidence:    0,
	}
}
