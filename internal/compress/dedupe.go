package compress

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// dedupeMessages drops repeated assistant messages. System, user, and tool
// messages always survive, as does any assistant message whose tool calls
// are answered by a later tool message: removing one of those would orphan
// its tool result.
func (p *Pipeline) dedupeMessages(msgs []Message) ([]Message, int) {
	// For each tool call id, the latest index of a tool message that
	// references it.
	lastRef := make(map[string]int)
	for i, m := range msgs {
		if m.Role == RoleTool && m.ToolCallID != "" {
			lastRef[m.ToolCallID] = i
		}
	}

	seen := make(map[string]bool)
	out := make([]Message, 0, len(msgs))
	removed := 0

	for i, m := range msgs {
		if m.Role != RoleAssistant {
			out = append(out, m)
			continue
		}
		if answeredLater(m, i, lastRef) {
			out = append(out, m)
			continue
		}
		h := hashMessage(&m)
		if seen[h] {
			removed++
			continue
		}
		seen[h] = true
		out = append(out, m)
	}
	return out, removed
}

func answeredLater(m Message, idx int, lastRef map[string]int) bool {
	for _, tc := range m.ToolCalls {
		if j, ok := lastRef[tc.ID]; ok && j > idx {
			return true
		}
	}
	return false
}

// hashMessage fingerprints a message over every field that affects meaning.
func hashMessage(m *Message) string {
	var b strings.Builder
	b.WriteString(m.Role)
	b.WriteByte('|')
	b.WriteString(m.Text())
	b.WriteByte('|')
	b.WriteString(m.ToolCallID)
	b.WriteByte('|')
	b.WriteString(m.Name)
	for _, tc := range m.ToolCalls {
		b.WriteByte('|')
		b.WriteString(tc.ID)
		b.WriteByte(':')
		b.WriteString(tc.Function.Name)
		b.WriteByte(':')
		b.WriteString(tc.Function.Arguments)
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
