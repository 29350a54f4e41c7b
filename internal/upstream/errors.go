package upstream

import (
	"fmt"
	"time"
)

// UpstreamError is a non-2xx answer from the upstream API. The body is kept
// verbatim so callers can relay exactly what the upstream produced.
type UpstreamError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, string(e.Body))
}

// NetworkError means no HTTP response was received: connection failure,
// deadline exceeded, or the circuit breaker refusing the call.
type NetworkError struct {
	Method  string
	Path    string
	Timeout bool
	After   time.Duration
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("upstream %s %s timed out after %s", e.Method, e.Path, e.After)
	}
	return fmt.Sprintf("upstream %s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DecodeError is a successful status whose body is not valid JSON
type DecodeError struct {
	Path       string
	StatusCode int
	Body       []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("upstream %s returned %d with a non-JSON body", e.Path, e.StatusCode)
}
