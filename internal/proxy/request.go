package proxy

import (
	"encoding/json"

	"blockrun/internal/compress"
	"blockrun/internal/routing"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxMessages bounds the messages array. Anything past this is a malformed
// client, not a real conversation.
const maxMessages = 200

// ChatRequest is a validated chat-completion request. Body always holds the
// current serialized form, so dedup keys and upstream payloads stay in sync
// with any compression applied to Messages.
type ChatRequest struct {
	Body      []byte
	Model     string
	MaxTokens int
	Stream    bool
	Messages  []compress.Message
}

// ParseChatRequest validates the raw body and decodes the message list.
// Validation failures come back as 400-class APIErrors before any routing or
// payment work happens.
func ParseChatRequest(body []byte) (*ChatRequest, *APIError) {
	if !gjson.ValidBytes(body) {
		return nil, badRequest("request body is not valid JSON")
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() {
		return nil, badRequest("missing required field: messages")
	}
	if !messages.IsArray() {
		return nil, badRequest("messages must be an array")
	}
	count := len(messages.Array())
	if count == 0 {
		return nil, badRequest("messages must not be empty")
	}
	if count > maxMessages {
		return nil, badRequest("too many messages: %d (max %d)", count, maxMessages)
	}

	if mt := gjson.GetBytes(body, "max_tokens"); mt.Exists() {
		if mt.Type != gjson.Number || mt.Int() < 0 {
			return nil, badRequest("max_tokens must be a non-negative integer")
		}
	}

	msgs, err := compress.ParseMessages(json.RawMessage(messages.Raw))
	if err != nil {
		return nil, badRequest("invalid messages: %v", err)
	}

	return &ChatRequest{
		Body:      body,
		Model:     gjson.GetBytes(body, "model").String(),
		MaxTokens: int(gjson.GetBytes(body, "max_tokens").Int()),
		Stream:    gjson.GetBytes(body, "stream").Bool(),
		Messages:  msgs,
	}, nil
}

// RouteInputs extracts the classification inputs: the last user message and
// the concatenated system text.
func (r *ChatRequest) RouteInputs() (prompt, system string) {
	return compress.LastUserText(r.Messages), compress.SystemText(r.Messages)
}

// RouteOptions interprets the model field. The profile keywords select tier
// routing; any other non-empty value is an explicit model override.
func (r *ChatRequest) RouteOptions() routing.RouteOptions {
	if r.Model == "" {
		return routing.RouteOptions{Profile: routing.ProfileAuto}
	}
	if profile, ok := routing.ParseProfile(r.Model); ok {
		return routing.RouteOptions{Profile: profile}
	}
	return routing.RouteOptions{Profile: routing.ProfileAuto, ForceModel: r.Model}
}

// ApplyMessages re-injects a transformed message list into the body.
func (r *ChatRequest) ApplyMessages(msgs []compress.Message) error {
	encoded, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	body, err := sjson.SetRawBytes(r.Body, "messages", encoded)
	if err != nil {
		return err
	}
	r.Body = body
	r.Messages = msgs
	return nil
}

// BodyForModel returns the request body with the model field substituted for
// one upstream attempt.
func (r *ChatRequest) BodyForModel(model string) ([]byte, error) {
	return sjson.SetBytes(r.Body, "model", model)
}
