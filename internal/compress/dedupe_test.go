package compress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dedupePipeline() *Pipeline {
	return NewPipeline(Config{Dedup: true, MinContentBytes: 1})
}

func TestDedupe_DropsRepeatedAssistantMessages(t *testing.T) {
	p := dedupePipeline()

	msgs := []Message{
		user("question"),
		{Role: RoleAssistant, Content: str("Working on it.")},
		user("still there?"),
		{Role: RoleAssistant, Content: str("Working on it.")},
		{Role: RoleAssistant, Content: str("Working on it.")},
		{Role: RoleAssistant, Content: str("Done.")},
	}
	out, removed := p.dedupeMessages(msgs)

	assert.Equal(t, 2, removed)
	require.Len(t, out, 4)
	assert.Equal(t, "Done.", out[3].Text())
}

func TestDedupe_NeverTouchesNonAssistantRoles(t *testing.T) {
	p := dedupePipeline()

	msgs := []Message{
		user("same"),
		user("same"),
		{Role: RoleSystem, Content: str("same")},
		{Role: RoleTool, ToolCallID: "x", Content: str("same")},
		{Role: RoleTool, ToolCallID: "x", Content: str("same")},
	}
	out, removed := p.dedupeMessages(msgs)

	assert.Equal(t, 0, removed)
	assert.Len(t, out, 5)
}

func TestDedupe_PreservesToolCallPairs(t *testing.T) {
	p := dedupePipeline()

	tcMsg := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
		ID:       "call_9",
		Function: FunctionCall{Name: "search", Arguments: `{"q":"go"}`},
	}}}

	msgs := []Message{
		user("look this up"),
		tcMsg,
		tcMsg,
		{Role: RoleTool, ToolCallID: "call_9", Content: str("results")},
	}
	out, removed := p.dedupeMessages(msgs)

	// Both copies precede the tool result, so both are protected even
	// though they hash identically.
	assert.Equal(t, 0, removed)
	assert.Len(t, out, 4)
}

func TestDedupe_UnansweredToolCallsStillDeduped(t *testing.T) {
	p := dedupePipeline()

	tcMsg := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
		ID:       "call_orphan",
		Function: FunctionCall{Name: "noop", Arguments: "{}"},
	}}}

	msgs := []Message{user("go"), tcMsg, tcMsg}
	out, removed := p.dedupeMessages(msgs)

	assert.Equal(t, 1, removed)
	assert.Len(t, out, 2)
}

func TestDedupe_DifferentToolCallArgsNotDeduped(t *testing.T) {
	p := dedupePipeline()

	a := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
		ID: "c1", Function: FunctionCall{Name: "f", Arguments: `{"n":1}`},
	}}}
	b := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
		ID: "c1", Function: FunctionCall{Name: "f", Arguments: `{"n":2}`},
	}}}

	out, removed := p.dedupeMessages([]Message{a, b})
	assert.Equal(t, 0, removed)
	assert.Len(t, out, 2)
}

func TestHashMessage_FieldSensitivity(t *testing.T) {
	m1 := Message{Role: RoleAssistant, Content: str("x")}
	m2 := Message{Role: RoleAssistant, Content: str("x"), Name: "bot"}
	m3 := Message{Role: RoleAssistant, Content: str("x")}

	assert.NotEqual(t, hashMessage(&m1), hashMessage(&m2))
	assert.Equal(t, hashMessage(&m1), hashMessage(&m3))
}
