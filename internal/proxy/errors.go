package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Error type strings carried in the JSON error envelope.
const (
	ErrTypeBadRequest       = "bad_request"
	ErrTypeRequestTooLarge  = "request_too_large"
	ErrTypeDedupFailed      = "dedup_origin_failed"
	ErrTypeProviderError    = "provider_error"
	ErrTypeUpstreamTimeout  = "upstream_timeout"
	ErrTypeUpstreamNetwork  = "upstream_network"
	ErrTypeExhausted        = "exhausted"
	ErrTypeInternal         = "internal"
	ErrTypeInsufficientFund = "insufficient_funds"
	ErrTypeBillingError     = "billing_error"
)

// APIError is an error the proxy surfaces directly to the client as a JSON
// envelope. Size and shape errors are created before any payment attempt.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func badRequest(format string, args ...interface{}) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Type:    ErrTypeBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

func requestTooLarge(format string, args ...interface{}) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Type:    ErrTypeRequestTooLarge,
		Message: fmt.Sprintf(format, args...),
	}
}

func internalError(format string, args ...interface{}) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Type:    ErrTypeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// writeAPIError writes the standard error envelope.
func writeAPIError(w http.ResponseWriter, apiErr *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)

	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]string{
			"message": apiErr.Message,
			"type":    apiErr.Type,
		},
	})
	_, _ = w.Write(body)
}

// UpstreamError classifies a failed upstream attempt. Body holds the raw
// upstream error payload so the last one can be surfaced after exhaustion.
type UpstreamError struct {
	Status  int
	Type    string
	Message string
	Body    []byte
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("upstream %d", e.Status)
}

// Retryable reports whether the next model in the fallback chain should be
// tried. Billing failures, rate limits, size rejections, and server errors
// are all worth a different model; anything else is the client's problem.
func (e *UpstreamError) Retryable() bool {
	switch e.Status {
	case http.StatusPaymentRequired,
		http.StatusRequestTimeout,
		http.StatusRequestEntityTooLarge,
		http.StatusTooManyRequests:
		return true
	}
	if e.Status >= 500 {
		return true
	}
	switch e.Type {
	case ErrTypeProviderError, ErrTypeInsufficientFund, ErrTypeBillingError,
		ErrTypeUpstreamTimeout, ErrTypeUpstreamNetwork:
		return true
	}
	return false
}

// classifyUpstream builds an UpstreamError from an upstream error response.
func classifyUpstream(status int, body []byte) *UpstreamError {
	return &UpstreamError{
		Status:  status,
		Type:    gjson.GetBytes(body, "error.type").String(),
		Message: gjson.GetBytes(body, "error.message").String(),
		Body:    body,
	}
}
