package compress

import "encoding/json"

// Message is an OpenAI-style chat message. Content is a pointer because
// assistant tool-call messages carry an explicit null content on the wire.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one entry of an assistant message's tool_calls array.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the invoked function; Arguments is raw JSON text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Text returns the message content, or "" for null content.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// SetText replaces the message content, preserving null as null only when
// the new text is empty and the content was already null.
func (m *Message) SetText(s string) {
	if m.Content == nil && s == "" {
		return
	}
	m.Content = &s
}

// ParseMessages decodes a raw messages array.
func ParseMessages(raw json.RawMessage) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// TotalContentLen sums the content lengths of all messages, including tool
// call arguments. Used by the should-compress check.
func TotalContentLen(msgs []Message) int {
	total := 0
	for i := range msgs {
		total += len(msgs[i].Text())
		for _, tc := range msgs[i].ToolCalls {
			total += len(tc.Function.Arguments)
		}
	}
	return total
}

// LastUserText returns the content of the last user message, or "".
func LastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

// SystemText returns the concatenated content of all system messages.
func SystemText(msgs []Message) string {
	var out string
	for i := range msgs {
		if msgs[i].Role == RoleSystem {
			if out != "" {
				out += "\n"
			}
			out += msgs[i].Text()
		}
	}
	return out
}
