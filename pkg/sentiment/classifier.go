package sentiment

import (
	"math"
	"strings"
	"unicode"

	"handoff-engine/pkg/models"
)

// Classifier scores text for polarity and urgency using per-language keyword
// dictionaries. Classification is a pure function over the loaded lexicons.
type Classifier struct {
	lexicons    map[string]Lexicon
	defaultLang string
}

const maxConfidence = 0.9

func NewClassifier(defaultLang string) *Classifier {
	if defaultLang == "" {
		defaultLang = "ar"
	}
	return &Classifier{
		lexicons:    builtinLexicons(),
		defaultLang: defaultLang,
	}
}

// Classify scores a single text. langHint may be empty, in which case the
// language is detected from the script and falls back to the configured
// default.
func (c *Classifier) Classify(text, langHint string) models.SentimentResult {
	lang := c.resolveLanguage(text, langHint)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		// Nothing to score: neutral, half confidence rather than an error.
		return models.SentimentResult{
			Label:      models.SentimentNeutral,
			Score:      0,
			Confidence: 0.5,
			Magnitude:  0,
			Language:   lang,
		}
	}

	lex, ok := c.lexicons[lang]
	if !ok {
		lex = c.lexicons[c.defaultLang]
	}

	lowered := strings.ToLower(trimmed)
	tokens := tokenize(trimmed)
	if len(tokens) == 0 {
		// Punctuation-only input carries no words to score.
		return models.SentimentResult{
			Label:      models.SentimentNeutral,
			Score:      0,
			Confidence: 0.5,
			Magnitude:  0,
			Language:   lang,
		}
	}

	tally := models.EmotionTally{
		Positive: countHits(lowered, tokens, lex.Positive),
		Negative: countHits(lowered, tokens, lex.Negative),
		Urgent:   countHits(lowered, tokens, lex.Urgent),
	}

	var score float64
	if lang == "ar" {
		// Signed keyword tally normalized by token count, split across the
		// positive and negative buckets.
		score = float64(tally.Positive-tally.Negative) / float64(len(tokens))
	} else {
		score = clamp(float64(tally.Positive-tally.Negative)*0.2, -1, 1)
	}

	magnitude := math.Abs(score)

	label := models.SentimentNeutral
	switch {
	case score > 0.05:
		label = models.SentimentPositive
	case score < -0.05:
		label = models.SentimentNegative
	}

	// Confidence grows with magnitude relative to message length but never
	// reaches certainty.
	hits := float64(tally.Positive + tally.Negative)
	confidence := 0.5 + magnitude*0.5 + hits/float64(len(tokens))*0.1
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	return models.SentimentResult{
		Label:      label,
		Score:      score,
		Confidence: confidence,
		Magnitude:  magnitude,
		Emotions:   tally,
		Language:   lang,
	}
}

// ClassifyConversation scores the concatenated user messages of a
// conversation, which is what the evaluator consumes when no standalone
// sentiment is supplied.
func (c *Classifier) ClassifyConversation(conv models.Conversation, langHint string) models.SentimentResult {
	var parts []string
	for _, m := range conv.Messages {
		if m.Sender == models.SenderUser {
			parts = append(parts, m.Content)
		}
	}
	return c.Classify(strings.Join(parts, " "), langHint)
}

func (c *Classifier) resolveLanguage(text, hint string) string {
	if hint != "" {
		return hint
	}
	if containsArabic(text) {
		return "ar"
	}
	return c.defaultLang
}

func containsArabic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		// Marks stay attached so Arabic diacritics do not split tokens.
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsMark(r)
	})
}

// countHits matches a single-word keyword when a token contains it, which
// tolerates Arabic prefixes (e.g. the definite article) and English suffixes.
// Multi-word keywords are matched against the whole text.
func countHits(text string, tokens, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		kwLower := strings.ToLower(kw)
		if strings.ContainsRune(kwLower, ' ') {
			count += strings.Count(text, kwLower)
			continue
		}
		for _, tok := range tokens {
			if strings.Contains(tok, kwLower) {
				count++
			}
		}
	}
	return count
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
