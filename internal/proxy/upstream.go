package proxy

import (
	"bytes"
	"context"
	"net/http"
	"time"
)

// UpstreamClient issues one chat-completion attempt against the inference
// endpoint. Implementations must be safe for concurrent use.
type UpstreamClient interface {
	Do(ctx context.Context, body []byte, header http.Header) (*http.Response, error)
}

// HTTPUpstream is the production UpstreamClient over net/http. The client
// carries no overall timeout; per-attempt deadlines come from the context so
// streaming responses are not cut off mid-body.
type HTTPUpstream struct {
	url    string
	client *http.Client
}

// NewHTTPUpstream creates an upstream client for the given endpoint URL.
func NewHTTPUpstream(url string) *HTTPUpstream {
	return &HTTPUpstream{
		url: url,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Do sends the body to the upstream endpoint with the given headers.
func (u *HTTPUpstream) Do(ctx context.Context, body []byte, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", "application/json")
	return u.client.Do(req)
}

// hopByHopHeaders are stripped in both directions, per RFC 7230. Content
// headers are dropped too since the body is re-encoded per attempt.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Host":                true,
}

// outboundHeaders copies the client's headers minus hop-by-hop and
// client-auth headers. The payment header is attached separately per attempt.
func outboundHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		if http.CanonicalHeaderKey(key) == "Authorization" {
			continue
		}
		out[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return out
}

// copyResponseHeaders forwards upstream response headers to the client,
// minus hop-by-hop headers.
func copyResponseHeaders(dst http.ResponseWriter, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Header().Add(key, v)
		}
	}
}
