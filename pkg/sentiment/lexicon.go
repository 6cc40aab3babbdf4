package sentiment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lexicon is the keyword dictionary for one language.
type Lexicon struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
	Urgent   []string `yaml:"urgent"`
}

// lexiconFile is the YAML override format: language tag -> word lists.
// Lists present in the file replace the built-in list for that language.
type lexiconFile struct {
	Languages map[string]Lexicon `yaml:"languages"`
}

func builtinLexicons() map[string]Lexicon {
	return map[string]Lexicon{
		"ar": {
			Positive: []string{
				"ممتاز", "رائع", "شكرا", "جيد", "سعيد", "احسنت", "حلو", "تمام",
			},
			Negative: []string{
				"سيء", "فظيع", "مشكلة", "خطأ", "غاضب", "زعلان", "بطيء", "لا يعمل", "معطل",
			},
			Urgent: []string{
				"عاجل", "فورا", "الان", "الآن", "ضروري", "مستعجل", "طارئ",
			},
		},
		"en": {
			Positive: []string{
				"great", "good", "thank", "excellent", "awesome", "perfect", "happy", "love",
			},
			Negative: []string{
				"bad", "terrible", "awful", "problem", "broken", "angry", "slow",
				"useless", "wrong", "worst", "hate", "disappointed",
			},
			Urgent: []string{
				"urgent", "urgently", "immediately", "asap", "now", "emergency", "critical",
			},
		},
	}
}

// LoadLexiconFile merges a YAML override file into the built-in dictionaries.
func (c *Classifier) LoadLexiconFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read lexicon file: %w", err)
	}

	var file lexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse lexicon file: %w", err)
	}

	for lang, override := range file.Languages {
		lex := c.lexicons[lang]
		if len(override.Positive) > 0 {
			lex.Positive = override.Positive
		}
		if len(override.Negative) > 0 {
			lex.Negative = override.Negative
		}
		if len(override.Urgent) > 0 {
			lex.Urgent = override.Urgent
		}
		c.lexicons[lang] = lex
	}

	return nil
}
