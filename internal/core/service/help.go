package service

import (
	"fmt"
	"strings"
)

// HelpText renders the static !help reply for the assistant name and alias.
func HelpText(name, alias string) string {
	alias = strings.ToLower(alias)
	if alias == "" {
		alias = "ai"
	}

	var b strings.Builder
	b.WriteString("Multi-User AI Chat Help\n\n")

	b.WriteString("═══ BASIC COMMANDS ═══\n")
	b.WriteString("• Type naturally to chat with other users\n")
	b.WriteString("• Use !help to see this help message\n\n")

	fmt.Fprintf(&b, "═══ AI ASSISTANT (%s) ═══\n", strings.ToUpper(name))
	fmt.Fprintf(&b, "• Trigger %s by mentioning:\n", name)
	fmt.Fprintf(&b, "  → @ai, @bot, @%s\n", alias)
	fmt.Fprintf(&b, "  → hey ai, hey %s\n", alias)
	fmt.Fprintf(&b, "  → ai: your question\n")
	fmt.Fprintf(&b, "• %s answers questions and joins the conversation\n", name)
	fmt.Fprintf(&b, "• Example: \"Hey %s, what's the weather like?\"\n\n", name)

	b.WriteString("═══ USER INTERACTION ═══\n")
	b.WriteString("• @username - Mention specific users\n")
	b.WriteString("• See online users in the sidebar\n")
	b.WriteString("• Real-time typing indicators\n")
	b.WriteString("• Message history is preserved\n\n")

	b.WriteString("═══ TIPS ═══\n")
	b.WriteString("• Be respectful and have fun!\n")
	fmt.Fprintf(&b, "• %s is here to help with questions or just chat\n", name)
	b.WriteString("• All messages are visible to everyone in the room\n\n")

	fmt.Fprintf(&b, "Need more help? Just ask %s: \"Hey %s, how do I...?\"", name, name)
	return b.String()
}
