package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"blockrun/internal/compress"
	"blockrun/internal/dedup"
	"blockrun/internal/routing"
	"blockrun/internal/usagedb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// --- test fixtures ---

type stubSigner struct {
	mu     sync.Mutex
	signed int
}

func (s *stubSigner) Sign(amountUSD float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signed++
	return "test-payment", nil
}

func (s *stubSigner) Address() string { return "0x00000000000000000000000000000000DeaDBeef" }

func (s *stubSigner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signed
}

type upstreamCall struct {
	Model  string
	Body   []byte
	Header http.Header
}

// fakeUpstream records every attempt and answers via the handler. A nil
// response from the handler simulates a network failure.
type fakeUpstream struct {
	mu      sync.Mutex
	calls   []upstreamCall
	handler func(call upstreamCall) *http.Response
}

func newRecordingUpstream(handler func(call upstreamCall) *http.Response) *fakeUpstream {
	return &fakeUpstream{handler: handler}
}

func (f *fakeUpstream) Do(ctx context.Context, body []byte, header http.Header) (*http.Response, error) {
	call := upstreamCall{
		Model:  gjson.GetBytes(body, "model").String(),
		Body:   append([]byte(nil), body...),
		Header: header.Clone(),
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler := f.handler
	f.mu.Unlock()

	resp := handler(call)
	if resp == nil {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}
	return resp, nil
}

func (f *fakeUpstream) snapshot() []upstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upstreamCall(nil), f.calls...)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []usagedb.Record
}

func (c *captureRecorder) RecordDispatch(rec usagedb.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureRecorder) last() usagedb.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recs) == 0 {
		return usagedb.Record{}
	}
	return c.recs[len(c.recs)-1]
}

func newTestDispatcher(t *testing.T, up UpstreamClient, mutate func(*DispatchConfig)) (*Dispatcher, *stubSigner, *captureRecorder) {
	t.Helper()

	cfg := DispatchConfig{
		MaxRequestBytes:           512 * 1024,
		CompressionThresholdBytes: 64 * 1024,
		AutoCompress:              true,
		MaxFallbackAttempts:       3,
		AttemptTimeout:            30 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	router, err := routing.NewRouter(routing.DefaultScoringConfig(), routing.DefaultOverrides(), routing.DefaultCatalog())
	require.NoError(t, err)

	signer := &stubSigner{}
	recorder := &captureRecorder{}
	d := NewDispatcher(cfg, router,
		compress.NewPipeline(compress.DefaultConfig()),
		dedup.NewCache(dedup.DefaultConfig()),
		signer, up, recorder)
	return d, signer, recorder
}

func chatBody(t *testing.T, model, content string, maxTokens int) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]interface{}{
			{"role": "user", "content": content},
		},
	})
	require.NoError(t, err)
	return body
}

func doRequest(d *Dispatcher, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.HandleChatCompletions(w, req)
	return w
}

// --- dispatch tests ---

func TestDispatch_SimplePromptSingleCall(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"choices":[{"message":{"content":"Hello!"}}]}`)
	})
	d, signer, recorder := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "auto", "Hi", 50))

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "Hello!")
	assert.Len(t, up.snapshot(), 1)
	assert.Equal(t, 1, signer.count())

	rec := recorder.last()
	assert.Contains(t, []string{"simple", "medium"}, rec.Tier)
	assert.Equal(t, "auto", rec.Profile)
}

func TestDispatch_PaymentHeaderAttached(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"ok":true}`)
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	doRequest(d, chatBody(t, "auto", "Hi", 50))

	calls := up.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "test-payment", calls[0].Header.Get("X-Payment"))
}

func TestDispatch_DedupReplayWithinTTL(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"choices":[{"message":{"content":"cached answer"}}]}`)
	})
	d, signer, recorder := newTestDispatcher(t, up, nil)

	body := chatBody(t, "auto", "What is the capital of France?", 50)

	first := doRequest(d, body)
	second := doRequest(d, body)

	require.Equal(t, 200, first.Code)
	require.Equal(t, 200, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Len(t, up.snapshot(), 1, "second request must be served from cache")
	assert.Equal(t, 1, signer.count(), "cached replay must not sign a payment")
	assert.Equal(t, usagedb.DedupHit, recorder.last().DedupState)
}

func TestDispatch_CoalescesConcurrentDuplicates(t *testing.T) {
	release := make(chan struct{})
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		<-release
		return jsonResponse(200, `{"choices":[{"message":{"content":"shared"}}]}`)
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	body := chatBody(t, "auto", "Summarize the plot of Hamlet", 100)

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = doRequest(d, body)
		}(i)
	}

	// Let both goroutines reach the dedup check before the origin finishes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Len(t, up.snapshot(), 1, "duplicates must coalesce onto one dispatch")
	assert.Equal(t, results[0].Body.String(), results[1].Body.String())
	assert.Equal(t, 200, results[0].Code)
	assert.Equal(t, 200, results[1].Code)
}

func TestDispatch_FallbackOnServerError(t *testing.T) {
	var firstModel string
	var mu sync.Mutex
	up := newRecordingUpstream(nil)
	up.handler = func(call upstreamCall) *http.Response {
		mu.Lock()
		defer mu.Unlock()
		if firstModel == "" {
			firstModel = call.Model
		}
		if call.Model == firstModel {
			return jsonResponse(500, `{"error":{"message":"boom","type":"provider_error"}}`)
		}
		return jsonResponse(200, fmt.Sprintf(`{"model":%q,"ok":true}`, call.Model))
	}
	d, _, recorder := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "auto", "Prove step by step that sqrt(2) is irrational", 500))

	require.Equal(t, 200, w.Code)
	calls := up.snapshot()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].Model, calls[1].Model)
	assert.Contains(t, w.Body.String(), calls[1].Model)

	rec := recorder.last()
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, "reasoning", rec.Tier, "proof prompt walks the reasoning chain")
}

func TestDispatch_BillingErrorTriggersFallback(t *testing.T) {
	up := newRecordingUpstream(nil)
	first := true
	var mu sync.Mutex
	up.handler = func(call upstreamCall) *http.Response {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			return jsonResponse(402, `{"error":{"message":"out of funds","type":"insufficient_funds"}}`)
		}
		return jsonResponse(200, `{"ok":true}`)
	}
	d, _, _ := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "auto", "Hi", 50))

	require.Equal(t, 200, w.Code)
	assert.Len(t, up.snapshot(), 2)
}

func TestDispatch_NonRetryableUpstreamErrorSurfaces(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(400, `{"error":{"message":"bad params","type":"invalid_request_error"}}`)
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "auto", "Hi", 50))

	assert.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "bad params")
	assert.Len(t, up.snapshot(), 1, "client errors must not burn fallbacks")
}

func TestDispatch_EmergencyModelAfterChainFails(t *testing.T) {
	emergency := routing.DefaultCatalog().EmergencyModel
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		if call.Model == emergency {
			return jsonResponse(200, `{"rescued":true}`)
		}
		return jsonResponse(503, `{"error":{"message":"down","type":"provider_error"}}`)
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	// Premium medium chain has no free models, so the emergency model is a
	// distinct final attempt.
	w := doRequest(d, chatBody(t, "premium", "Summarize this paragraph for me please", 100))

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "rescued")
	calls := up.snapshot()
	assert.Equal(t, emergency, calls[len(calls)-1].Model)
}

func TestDispatch_ExhaustionReturnsLastUpstreamError(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(500, `{"error":{"message":"everything is on fire","type":"provider_error"}}`)
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "auto", "Hi", 50))

	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), "everything is on fire")
	// Chain capped at 3 attempts plus one emergency attempt.
	assert.Len(t, up.snapshot(), 4)
}

func TestDispatch_NetworkErrorRetries(t *testing.T) {
	up := newRecordingUpstream(nil)
	attempt := 0
	var mu sync.Mutex
	up.handler = func(call upstreamCall) *http.Response {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		if attempt == 1 {
			return nil // connection error
		}
		return jsonResponse(200, `{"ok":true}`)
	}
	d, _, _ := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "auto", "Hi", 50))

	require.Equal(t, 200, w.Code)
	assert.Len(t, up.snapshot(), 2)
}

// --- size and shape tests ---

func TestDispatch_OversizeBodyRejectedBeforeUpstream(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{}`)
	})
	d, signer, _ := newTestDispatcher(t, up, func(cfg *DispatchConfig) {
		cfg.MaxRequestBytes = 200 * 1024
		cfg.AutoCompress = false
	})

	w := doRequest(d, chatBody(t, "auto", strings.Repeat("x", 300*1024), 50))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, ErrTypeRequestTooLarge, gjson.Get(w.Body.String(), "error.type").String())
	assert.Empty(t, up.snapshot(), "no upstream call for an oversize body")
	assert.Zero(t, signer.count(), "no payment attempt for an oversize body")
}

func TestDispatch_HardCapRejectsRunawayBody(t *testing.T) {
	up := newRecordingUpstream(nil)
	d, signer, _ := newTestDispatcher(t, up, func(cfg *DispatchConfig) {
		cfg.MaxRequestBytes = 10 * 1024
	})

	w := doRequest(d, chatBody(t, "auto", strings.Repeat("x", 64*1024), 50))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, signer.count())
}

func TestDispatch_BadRequestShapes(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{}`)
	})
	d, signer, _ := newTestDispatcher(t, up, nil)

	manyMessages := func() []byte {
		msgs := make([]map[string]interface{}, 201)
		for i := range msgs {
			msgs[i] = map[string]interface{}{"role": "user", "content": "hi"}
		}
		body, _ := json.Marshal(map[string]interface{}{"model": "auto", "messages": msgs})
		return body
	}

	cases := []struct {
		name string
		body []byte
	}{
		{"malformed json", []byte(`{"model": "auto", "messages": [`)},
		{"missing messages", []byte(`{"model":"auto"}`)},
		{"empty messages", []byte(`{"model":"auto","messages":[]}`)},
		{"201 messages", manyMessages()},
		{"negative max_tokens", []byte(`{"model":"auto","max_tokens":-1,"messages":[{"role":"user","content":"hi"}]}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(d, tc.body)
			assert.Equal(t, 400, w.Code)
			assert.Equal(t, ErrTypeBadRequest, gjson.Get(w.Body.String(), "error.type").String())
		})
	}
	assert.Empty(t, up.snapshot())
	assert.Zero(t, signer.count(), "shape errors must not reach the signer")
}

func TestDispatch_ExactlyTwoHundredMessagesAccepted(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"ok":true}`)
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	msgs := make([]map[string]interface{}, 200)
	for i := range msgs {
		msgs[i] = map[string]interface{}{"role": "user", "content": "hi"}
	}
	body, _ := json.Marshal(map[string]interface{}{"model": "auto", "messages": msgs})

	w := doRequest(d, body)
	assert.Equal(t, 200, w.Code)
}

func TestDispatch_UnknownModelRejected(t *testing.T) {
	up := newRecordingUpstream(nil)
	d, _, _ := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "nonexistent/model-9000", "Hi", 50))

	assert.Equal(t, 400, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "model")
	assert.Empty(t, up.snapshot())
}

// --- profile tests ---

func TestDispatch_PremiumProfileReportsZeroSavings(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"ok":true}`)
	})
	d, _, recorder := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "premium", "Write a haiku about rivers", 100))

	require.Equal(t, 200, w.Code)
	rec := recorder.last()
	assert.Equal(t, "premium", rec.Profile)
	assert.Zero(t, rec.Savings)
}

func TestDispatch_ExplicitModelBypassesClassification(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"ok":true}`)
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	w := doRequest(d, chatBody(t, "openai/gpt-5-mini", "Hi", 50))

	require.Equal(t, 200, w.Code)
	calls := up.snapshot()
	require.NotEmpty(t, calls)
	assert.Equal(t, "openai/gpt-5-mini", calls[0].Model)
}

// --- compression tests ---

func TestDispatch_CompressionPreservesToolPairing(t *testing.T) {
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"ok":true}`)
	})
	d, _, _ := newTestDispatcher(t, up, func(cfg *DispatchConfig) {
		cfg.CompressionThresholdBytes = 1024
	})

	big := strings.Repeat("The quick brown fox jumps over the lazy dog.  \n\n\n\n", 1400)
	body, err := json.Marshal(map[string]interface{}{
		"model":      "auto",
		"max_tokens": 100,
		"messages": []map[string]interface{}{
			{"role": "assistant", "content": nil, "tool_calls": []map[string]interface{}{
				{"id": "call_123", "type": "function", "function": map[string]interface{}{
					"name":      "get_weather",
					"arguments": `{"city": "Berlin"}`,
				}},
			}},
			{"role": "tool", "tool_call_id": "call_123", "content": `{"temp": 21}`},
			{"role": "user", "content": big},
		},
	})
	require.NoError(t, err)

	w := doRequest(d, body)
	require.Equal(t, 200, w.Code)

	calls := up.snapshot()
	require.Len(t, calls, 1)
	sent := calls[0].Body
	assert.Less(t, len(sent), len(body), "large request must shrink")

	msgs := gjson.GetBytes(sent, "messages").Array()
	assistantIdx, toolIdx := -1, -1
	for i, m := range msgs {
		if m.Get("tool_calls.0.id").String() == "call_123" {
			assistantIdx = i
		}
		if m.Get("tool_call_id").String() == "call_123" {
			toolIdx = i
		}
	}
	require.GreaterOrEqual(t, assistantIdx, 0, "assistant tool call must survive compression")
	require.Greater(t, toolIdx, assistantIdx, "tool result must follow its tool call")
	assert.Equal(t, "get_weather", msgs[assistantIdx].Get("tool_calls.0.function.name").String())
	assert.Contains(t, msgs[assistantIdx].Get("tool_calls.0.function.arguments").String(), "Berlin")
}

// --- streaming tests ---

func TestDispatch_StreamingPassthrough(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"
	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       io.NopCloser(strings.NewReader(stream)),
		}
	})
	d, _, _ := newTestDispatcher(t, up, nil)

	body := chatBody(t, "auto", "Hi", 50)
	w := doRequest(d, body)

	require.Equal(t, 200, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, stream, w.Body.String())
	assert.True(t, w.Flushed, "SSE chunks must be flushed as received")

	// The streamed response is replayable for retries within the TTL.
	second := doRequest(d, body)
	assert.Equal(t, stream, second.Body.String())
	assert.Len(t, up.snapshot(), 1)
}
