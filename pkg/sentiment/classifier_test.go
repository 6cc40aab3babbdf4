package sentiment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-engine/pkg/models"
)

func TestClassifier_ArabicNegative(t *testing.T) {
	c := NewClassifier("ar")

	result := c.Classify("سيء جداً الخدمة", "")

	assert.Equal(t, "ar", result.Language)
	assert.Equal(t, models.SentimentNegative, result.Label)
	assert.Less(t, result.Score, 0.0)
	assert.Equal(t, 1, result.Emotions.Negative)
	assert.Equal(t, result.Magnitude, -result.Score)
}

func TestClassifier_ArabicPositive(t *testing.T) {
	c := NewClassifier("ar")

	result := c.Classify("شكرا الخدمة ممتاز", "")

	assert.Equal(t, models.SentimentPositive, result.Label)
	assert.Greater(t, result.Score, 0.0)
	assert.Equal(t, 2, result.Emotions.Positive)
}

func TestClassifier_ArabicScoreNormalizedByTokens(t *testing.T) {
	c := NewClassifier("ar")

	// One negative hit over three tokens.
	result := c.Classify("سيء جداً الخدمة", "")
	assert.InDelta(t, -1.0/3.0, result.Score, 0.001)
}

func TestClassifier_UrgentKeywords(t *testing.T) {
	c := NewClassifier("ar")

	result := c.Classify("عاجل ارجو الرد فوراً", "")
	assert.Equal(t, 2, result.Emotions.Urgent)

	result = c.Classify("this is urgent, respond immediately", "en")
	assert.Equal(t, 2, result.Emotions.Urgent)
}

func TestClassifier_EnglishPolarity(t *testing.T) {
	c := NewClassifier("en")

	result := c.Classify("this is terrible, worst support ever", "")
	assert.Equal(t, models.SentimentNegative, result.Label)
	assert.Equal(t, "en", result.Language)

	result = c.Classify("great service, thanks a lot", "")
	assert.Equal(t, models.SentimentPositive, result.Label)
}

func TestClassifier_EmptyTextIsNeutral(t *testing.T) {
	c := NewClassifier("ar")

	for _, text := range []string{"", "   ", "\n\t"} {
		result := c.Classify(text, "")
		assert.Equal(t, models.SentimentNeutral, result.Label)
		assert.Equal(t, 0.0, result.Score)
		assert.Equal(t, 0.5, result.Confidence)
		assert.Equal(t, 0.0, result.Magnitude)
	}
}

func TestClassifier_PunctuationOnlyIsNeutral(t *testing.T) {
	c := NewClassifier("ar")

	for _, text := range []string{"!!! ???", "...", "؟!", "-- ~~ **"} {
		result := c.Classify(text, "en")
		assert.Equal(t, models.SentimentNeutral, result.Label)
		assert.Equal(t, 0.0, result.Score)
		assert.Equal(t, 0.5, result.Confidence)
		assert.Equal(t, 0.0, result.Magnitude)
	}
}

func TestClassifier_ConfidenceNeverReachesCertainty(t *testing.T) {
	c := NewClassifier("ar")

	// Every token is a hit; confidence must still cap below certainty.
	result := c.Classify("سيء فظيع معطل", "")
	assert.LessOrEqual(t, result.Confidence, 0.9)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestClassifier_LanguageDetection(t *testing.T) {
	c := NewClassifier("en")

	// Arabic script wins over the default.
	result := c.Classify("الخدمة سيء", "")
	assert.Equal(t, "ar", result.Language)

	// Explicit hint wins over detection.
	result = c.Classify("hello there", "en")
	assert.Equal(t, "en", result.Language)

	// No script signal falls back to the configured default.
	result = c.Classify("12345", "")
	assert.Equal(t, "en", result.Language)
}

func TestClassifier_ClassifyConversationUsesUserMessagesOnly(t *testing.T) {
	c := NewClassifier("en")

	conv := models.Conversation{
		Messages: []models.Message{
			{Sender: models.SenderBot, Content: "great to meet you, I love helping"},
			{Sender: models.SenderUser, Content: "this is terrible and broken"},
		},
	}

	result := c.ClassifyConversation(conv, "en")
	assert.Equal(t, models.SentimentNegative, result.Label)
	assert.Equal(t, 0, result.Emotions.Positive)
}

func TestClassifier_LexiconOverrideFile(t *testing.T) {
	c := NewClassifier("en")

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	content := []byte("languages:\n  en:\n    negative:\n      - dreadful\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	require.NoError(t, c.LoadLexiconFile(path))

	result := c.Classify("that was dreadful", "en")
	assert.Equal(t, models.SentimentNegative, result.Label)

	// The override replaced the built-in negative list.
	result = c.Classify("that was terrible", "en")
	assert.Equal(t, models.SentimentNeutral, result.Label)
}

func TestClassifier_LexiconFileMissing(t *testing.T) {
	c := NewClassifier("en")
	err := c.LoadLexiconFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
