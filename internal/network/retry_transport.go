package network

import (
	"bytes"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// RetryingRoundTripper wraps an http.RoundTripper and retries network
// errors and retryable status codes with jittered exponential backoff.
// Request bodies are buffered so attempts can be replayed, so it is
// only suitable for small payloads.
type RetryingRoundTripper struct {
	base   http.RoundTripper
	config RetryConfig
	rng    *rand.Rand
}

// NewRetryingRoundTripper creates a RetryingRoundTripper.
// If base is nil, http.DefaultTransport is used.
func NewRetryingRoundTripper(base http.RoundTripper, config RetryConfig) *RetryingRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryingRoundTripper{
		base:   base,
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt < t.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(t.backoff(attempt)):
			}
		}
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		resp, err = t.base.RoundTrip(req)
		if err != nil {
			continue
		}
		if !retryableStatus(resp.StatusCode) || attempt == t.config.MaxAttempts-1 {
			return resp, nil
		}
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// backoff returns the delay before the given attempt, doubling from
// BaseDelay with up to 25% jitter, capped at MaxDelay.
func (t *RetryingRoundTripper) backoff(attempt int) time.Duration {
	d := t.config.BaseDelay << (attempt - 1)
	if t.config.MaxDelay > 0 && d > t.config.MaxDelay {
		d = t.config.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(t.rng.Int63n(int64(d)/4 + 1))
	return d + jitter
}
