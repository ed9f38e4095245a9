package compress

import (
	"bytes"
	"encoding/json"
	"strings"
)

// compactJSON minifies JSON payloads where they are known to live: assistant
// tool-call arguments and tool results that look like JSON documents.
// Anything that fails to parse is left untouched.
func (p *Pipeline) compactJSON(msgs []Message) ([]Message, int) {
	compacted := 0
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case RoleAssistant:
			for j := range m.ToolCalls {
				args := m.ToolCalls[j].Function.Arguments
				if min, ok := compactString(args); ok && min != args {
					m.ToolCalls[j].Function.Arguments = min
					compacted++
				}
			}
		case RoleTool:
			t := strings.TrimSpace(m.Text())
			if !bracketed(t) {
				continue
			}
			if min, ok := compactString(t); ok && min != m.Text() {
				m.SetText(min)
				compacted++
			}
		}
	}
	return msgs, compacted
}

func compactString(s string) (string, bool) {
	if s == "" || !json.Valid([]byte(s)) {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return "", false
	}
	return buf.String(), true
}

func bracketed(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']')
}
