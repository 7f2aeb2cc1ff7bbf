package network

import (
	"net/http"
	"time"
)

// RetryConfig controls transport-level retries for outbound HTTP.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// DefaultRetryConfig suits the custody signing API: short POSTs whose
// effect is a pure signature, safe to repeat.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// NewHTTPClient creates an HTTP client that retries transient
// failures at the transport layer.
func NewHTTPClient(config RetryConfig, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewRetryingRoundTripper(nil, config),
		Timeout:   timeout,
	}
}
