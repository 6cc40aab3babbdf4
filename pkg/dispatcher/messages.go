package dispatcher

import (
	"fmt"
	"unicode"

	"handoff-engine/pkg/models"
)

// conversationLanguage picks the customer-facing message language from the
// most recent user message's script, falling back to the configured default.
func (d *Dispatcher) conversationLanguage(conv models.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if m.Sender != models.SenderUser {
			continue
		}
		if containsArabic(m.Content) {
			return "ar"
		}
		return "en"
	}
	return d.defaultLanguage
}

func confirmationMessage(lang, agentName string) string {
	if lang == "ar" {
		return fmt.Sprintf("تم تحويل المحادثة إلى %s وسيتابع معك الآن.", agentName)
	}
	return fmt.Sprintf("You are now connected to %s, who will assist you from here.", agentName)
}

func queuedMessage(lang string) string {
	if lang == "ar" {
		return "جميع الموظفين مشغولون حالياً، سيتم تحويلك إلى أول موظف متاح."
	}
	return "All of our agents are currently busy. You will be connected to the first available agent."
}

func containsArabic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}
