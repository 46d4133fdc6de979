package upstream

import (
	"strings"

	"smartrouter/internal/chat"
)

// splitSystem separates system-role messages from the conversation. The
// joined system text becomes a provider-appropriate system prompt; adapters
// that cannot carry one drop it.
func splitSystem(messages []chat.Message) (system string, convo []chat.Message) {
	var sys []string
	convo = make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == chat.RoleSystem {
			if strings.TrimSpace(m.Text) != "" {
				sys = append(sys, m.Text)
			}
			continue
		}
		convo = append(convo, m)
	}
	return strings.Join(sys, "\n"), convo
}

// mergeTurns collapses consecutive same-role messages into one. Providers
// on the Anthropic protocol reject back-to-back same-role turns. This is a
// single accumulation pass; the per-run parts are joined once, so long
// histories do not hit quadratic string growth.
func mergeTurns(convo []chat.Message) []chat.Message {
	if len(convo) < 2 {
		return convo
	}
	out := make([]chat.Message, 0, len(convo))
	run := []string{convo[0].Text}
	role := convo[0].Role
	flush := func() {
		out = append(out, chat.Message{Role: role, Text: strings.Join(run, "\n")})
	}
	for _, m := range convo[1:] {
		if m.Role == role {
			run = append(run, m.Text)
			continue
		}
		flush()
		role = m.Role
		run = []string{m.Text}
	}
	flush()
	return out
}

// ensureLeadingUser guarantees the first conversation turn is user-authored,
// inserting a placeholder when the history starts with an assistant turn.
// Several providers reject assistant-first conversations.
func ensureLeadingUser(convo []chat.Message) []chat.Message {
	if len(convo) == 0 {
		return []chat.Message{{Role: chat.RoleUser, Text: "(continue)"}}
	}
	if convo[0].Role == chat.RoleAssistant {
		return append([]chat.Message{{Role: chat.RoleUser, Text: "(continue)"}}, convo...)
	}
	return convo
}

// shapeConversation applies the common provider shaping pipeline.
func shapeConversation(messages []chat.Message) (system string, convo []chat.Message) {
	system, convo = splitSystem(messages)
	convo = mergeTurns(convo)
	convo = ensureLeadingUser(convo)
	return system, convo
}
