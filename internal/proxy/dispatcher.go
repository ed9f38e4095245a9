package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"blockrun/internal/compress"
	"blockrun/internal/dedup"
	"blockrun/internal/metrics"
	"blockrun/internal/routing"
	"blockrun/internal/usagedb"
	"blockrun/internal/wallet"

	"github.com/google/uuid"
)

// upstreamErrorReadLimit caps how much of an upstream error body is read
// for classification and surfacing.
const upstreamErrorReadLimit = 64 * 1024

// DispatchConfig bounds the dispatch pipeline.
type DispatchConfig struct {
	// MaxRequestBytes rejects request bodies above this size with 413.
	MaxRequestBytes int

	// CompressionThresholdBytes triggers compression above this body size.
	CompressionThresholdBytes int

	// AutoCompress enables the compression pipeline for large requests.
	AutoCompress bool

	// MaxFallbackAttempts caps chain attempts, not counting the emergency
	// model.
	MaxFallbackAttempts int

	// AttemptTimeout is the per-attempt upstream deadline.
	AttemptTimeout time.Duration
}

// Dispatcher owns the request pipeline: validate, compress, dedup, route,
// and iterate the fallback chain with payment headers attached.
type Dispatcher struct {
	config   DispatchConfig
	router   *routing.Router
	pipeline *compress.Pipeline
	cache    *dedup.Cache
	signer   wallet.Signer
	upstream UpstreamClient
	recorder usagedb.Recorder
}

// NewDispatcher wires a dispatcher. A nil recorder records nothing.
func NewDispatcher(cfg DispatchConfig, router *routing.Router, pipeline *compress.Pipeline,
	cache *dedup.Cache, signer wallet.Signer, upstream UpstreamClient, recorder usagedb.Recorder) *Dispatcher {

	if recorder == nil {
		recorder = usagedb.NopRecorder{}
	}
	if cfg.AttemptTimeout < 30*time.Second {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Dispatcher{
		config:   cfg,
		router:   router,
		pipeline: pipeline,
		cache:    cache,
		signer:   signer,
		upstream: upstream,
		recorder: recorder,
	}
}

// HandleChatCompletions is the POST /v1/chat/completions handler.
func (d *Dispatcher) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	started := time.Now()

	// Hard read cap well above the configured limit so a runaway body is cut
	// off early instead of buffered in full.
	r.Body = http.MaxBytesReader(w, r.Body, int64(2*d.config.MaxRequestBytes))
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.RequestCount.WithLabelValues("too_large").Inc()
			writeAPIError(w, requestTooLarge("request body exceeds %d bytes", d.config.MaxRequestBytes))
			return
		}
		metrics.RequestCount.WithLabelValues("bad_request").Inc()
		writeAPIError(w, badRequest("failed to read request body: %v", err))
		return
	}

	req, apiErr := ParseChatRequest(body)
	if apiErr != nil {
		metrics.RequestCount.WithLabelValues("bad_request").Inc()
		writeAPIError(w, apiErr)
		return
	}

	if apiErr := d.compressIfNeeded(req); apiErr != nil {
		metrics.RequestCount.WithLabelValues("too_large").Inc()
		writeAPIError(w, apiErr)
		return
	}

	// Dedup claim loop: serve a cached or coalesced response, or win the
	// in-flight slot and dispatch.
	key := dedup.Key(req.Body)
	for {
		if cached, ok := d.cache.GetCached(key); ok {
			log.Printf("[Dispatch] %s dedup hit key=%s", requestID, key)
			metrics.DedupEvents.WithLabelValues(usagedb.DedupHit).Inc()
			metrics.RequestCount.WithLabelValues("dedup_hit").Inc()
			d.writeStored(w, cached)
			d.record(requestID, started, nil, cached.Status, 0, usagedb.DedupHit)
			return
		}
		if waiter, ok := d.cache.GetInflight(key); ok {
			log.Printf("[Dispatch] %s coalesced key=%s", requestID, key)
			resp := <-waiter
			metrics.DedupEvents.WithLabelValues(usagedb.DedupCoalesced).Inc()
			metrics.RequestCount.WithLabelValues("dedup_coalesced").Inc()
			d.writeStored(w, resp)
			d.record(requestID, started, nil, resp.Status, 0, usagedb.DedupCoalesced)
			return
		}
		if d.cache.MarkInflight(key) {
			break
		}
	}
	metrics.DedupEvents.WithLabelValues(usagedb.DedupMiss).Inc()

	prompt, system := req.RouteInputs()
	decision, err := d.router.Route(prompt, system, req.MaxTokens, req.RouteOptions())
	if err != nil {
		d.cache.RemoveInflight(key)
		metrics.RequestCount.WithLabelValues("bad_request").Inc()
		writeAPIError(w, badRequest("%v", err))
		return
	}
	metrics.RoutingDecisions.WithLabelValues(decision.Tier.String(), decision.Profile.String()).Inc()

	d.dispatch(w, r, req, &decision, key, requestID, started)
}

// compressIfNeeded runs the compression pipeline on large bodies and
// enforces the post-compression size limit.
func (d *Dispatcher) compressIfNeeded(req *ChatRequest) *APIError {
	if d.config.AutoCompress && len(req.Body) > d.config.CompressionThresholdBytes {
		if d.pipeline.ShouldCompress(req.Messages) {
			before := len(req.Body)
			msgs, stats := d.pipeline.Compress(req.Messages)
			if err := req.ApplyMessages(msgs); err != nil {
				return internalError("re-encode compressed messages: %v", err)
			}
			if saved := before - len(req.Body); saved > 0 {
				metrics.CompressionSavedBytes.Add(float64(saved))
			}
			log.Printf("[Dispatch] compressed request %d -> %d bytes (saved %d chars)",
				before, len(req.Body), stats.SavedChars())
		}
	}

	if len(req.Body) > d.config.MaxRequestBytes {
		return requestTooLarge("request body is %d bytes after compression (max %d)",
			len(req.Body), d.config.MaxRequestBytes)
	}
	return nil
}

// dispatch iterates the fallback chain and streams the first successful
// response. The in-flight dedup entry is always resolved exactly once.
func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, req *ChatRequest,
	decision *routing.Decision, key, requestID string, started time.Time) {

	chain := decision.Chain
	if len(chain) > d.config.MaxFallbackAttempts {
		chain = chain[:d.config.MaxFallbackAttempts]
	}

	// Emergency free model of last resort, one attempt, unless it already
	// appears in the chain.
	emergency := d.router.Catalog().EmergencyModel
	onChain := false
	for _, m := range chain {
		if m == emergency {
			onChain = true
			break
		}
	}
	if !onChain && emergency != "" {
		chain = append(append([]string(nil), chain...), emergency)
	}

	header := outboundHeaders(r.Header)
	var lastErr *UpstreamError

	for i, model := range chain {
		outcome, upErr, apiErr := d.attempt(w, req, decision, model, header, key)
		switch {
		case apiErr != nil:
			// Signer failure or similar: internal, never retried.
			d.cache.RemoveInflight(key)
			metrics.RequestCount.WithLabelValues("internal").Inc()
			writeAPIError(w, apiErr)
			d.record(requestID, started, decision, apiErr.Status, i+1, usagedb.DedupMiss)
			return
		case outcome != nil:
			// Bytes reached the client; the dedup entry is resolved inside
			// the attempt.
			metrics.FallbackAttempts.Observe(float64(i + 1))
			metrics.RequestCount.WithLabelValues("ok").Inc()
			metrics.EstimatedCost.Add(decision.CostEstimate)
			d.record(requestID, started, decision, outcome.Status, i+1, usagedb.DedupMiss)
			log.Printf("[Dispatch] %s ok model=%s attempt=%d status=%d bytes=%d",
				requestID, model, i+1, outcome.Status, len(outcome.Body))
			return
		case !upErr.Retryable():
			// Non-retryable upstream rejection: surface it as-is.
			d.cache.RemoveInflight(key)
			metrics.RequestCount.WithLabelValues("upstream_rejected").Inc()
			d.writeUpstreamBody(w, upErr)
			d.record(requestID, started, decision, upErr.Status, i+1, usagedb.DedupMiss)
			return
		default:
			log.Printf("[Dispatch] %s attempt %d failed model=%s: %v", requestID, i+1, model, upErr)
			lastErr = upErr
		}
	}

	// Every model failed, emergency included.
	d.cache.RemoveInflight(key)
	metrics.RequestCount.WithLabelValues("exhausted").Inc()
	if lastErr != nil && len(lastErr.Body) > 0 {
		status := lastErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(lastErr.Body)
		d.record(requestID, started, decision, status, len(chain), usagedb.DedupMiss)
		return
	}
	writeAPIError(w, &APIError{
		Status:  http.StatusBadGateway,
		Type:    ErrTypeExhausted,
		Message: "all fallback models failed",
	})
	d.record(requestID, started, decision, http.StatusBadGateway, len(chain), usagedb.DedupMiss)
}

// attempt issues one upstream call. On success the response is streamed to
// the client and captured for the dedup cache, and the returned outcome is
// non-nil. On a classified upstream failure the UpstreamError is returned
// with nothing written to the client.
func (d *Dispatcher) attempt(w http.ResponseWriter, req *ChatRequest, decision *routing.Decision,
	model string, header http.Header, key string) (*dedup.CachedResponse, *UpstreamError, *APIError) {

	body, err := req.BodyForModel(model)
	if err != nil {
		return nil, nil, internalError("substitute model: %v", err)
	}

	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = 1024
	}
	cost := routing.CalculateCost(d.router.Catalog().Pricing, model, decision.EstimatedInputTokens, maxOut)

	payment, err := d.signer.Sign(cost)
	if err != nil {
		return nil, nil, internalError("sign payment: %v", err)
	}
	metrics.PaymentsSigned.Inc()

	attemptHeader := outboundHeaders(header)
	attemptHeader.Set(wallet.HeaderName, payment)

	// The attempt context is detached from the client's: a client disconnect
	// must not abort an upstream call whose response populates the cache for
	// coalesced waiters.
	ctx, cancel := context.WithTimeout(context.Background(), d.config.AttemptTimeout)
	defer cancel()

	attemptStart := time.Now()
	resp, err := d.upstream.Do(ctx, body, attemptHeader)
	if err != nil {
		errType := ErrTypeUpstreamNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			errType = ErrTypeUpstreamTimeout
		}
		return nil, &UpstreamError{Status: 0, Type: errType, Message: err.Error()}, nil
	}
	defer resp.Body.Close()
	metrics.UpstreamLatency.WithLabelValues(model).Observe(time.Since(attemptStart).Seconds())

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, upstreamErrorReadLimit))
		return nil, classifyUpstream(resp.StatusCode, errBody), nil
	}

	return d.forward(w, resp, key), nil, nil
}

// forward streams the upstream response to the client while capturing up to
// the cache body limit. Client write failures stop client writes but not the
// upstream read, so the capture still completes and coalesced waiters get a
// real response. An upstream read failure mid-stream terminates the client
// response and wakes waiters with the synthetic retry error.
func (d *Dispatcher) forward(w http.ResponseWriter, resp *http.Response, key string) *dedup.CachedResponse {
	storedHeader := make(http.Header)
	copyHeaderValues(storedHeader, resp.Header)
	copyResponseHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	streaming := strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")

	var capture bytes.Buffer
	overflow := false
	clientOK := true
	buf := make([]byte, 32*1024)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if !overflow {
				if capture.Len()+n > d.cache.MaxBodyBytes() {
					overflow = true
					capture.Reset()
				} else {
					capture.Write(buf[:n])
				}
			}
			if clientOK {
				if _, werr := w.Write(buf[:n]); werr != nil {
					clientOK = false
				} else if streaming && flusher != nil {
					flusher.Flush()
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[Dispatch] upstream read failed mid-stream key=%s: %v", key, err)
			d.cache.RemoveInflight(key)
			return &dedup.CachedResponse{Status: resp.StatusCode, Header: storedHeader}
		}
	}

	stored := &dedup.CachedResponse{
		Status: resp.StatusCode,
		Header: storedHeader,
		Body:   capture.Bytes(),
	}
	if overflow {
		// Too large to replay; waiters retry instead of getting a truncated
		// body.
		d.cache.RemoveInflight(key)
		return stored
	}
	d.cache.Complete(key, stored)
	return stored
}

// writeStored replays a cached or coalesced response.
func (d *Dispatcher) writeStored(w http.ResponseWriter, resp *dedup.CachedResponse) {
	copyResponseHeaders(w, resp.Header)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// writeUpstreamBody surfaces a non-retryable upstream error verbatim.
func (d *Dispatcher) writeUpstreamBody(w http.ResponseWriter, upErr *UpstreamError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(upErr.Status)
	_, _ = w.Write(upErr.Body)
}

func (d *Dispatcher) record(requestID string, started time.Time, decision *routing.Decision,
	status, attempts int, dedupState string) {

	rec := usagedb.Record{
		RequestID:  requestID,
		CreatedAt:  started,
		Attempts:   attempts,
		Status:     status,
		LatencyMS:  time.Since(started).Milliseconds(),
		DedupState: dedupState,
	}
	if decision != nil {
		rec.Model = decision.Model
		rec.Tier = decision.Tier.String()
		rec.Profile = decision.Profile.String()
		rec.Method = decision.Method
		rec.InputTokens = decision.EstimatedInputTokens
		rec.CostEstimate = decision.CostEstimate
		rec.BaselineCost = decision.BaselineCost
		rec.Savings = decision.Savings
	}
	if err := d.recorder.RecordDispatch(rec); err != nil {
		log.Printf("[Dispatch] usage record failed: %v", err)
	}
}

func copyHeaderValues(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
}
