package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/circuitbreaker"
)

const (
	HeaderAPIKey        = "X-CAP-API-KEY"
	HeaderSessionToken  = "CST"
	HeaderSecurityToken = "X-SECURITY-TOKEN"

	DefaultTimeout = 10 * time.Second
)

var errServerFailure = errors.New("upstream server error")

// Issues raw HTTP requests against the upstream base URL. It knows nothing
// about sessions: callers attach whatever headers the call needs.
type Client struct {
	baseURL        string
	timeout        time.Duration
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
}

type Config struct {
	BaseURL        string
	Timeout        time.Duration // Default: 10 seconds
	HTTPClient     *http.Client
	CircuitBreaker *circuitbreaker.CircuitBreaker // optional
}

// Raw upstream answer, whatever its status
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base url %q: scheme and host are required", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:        base.String(),
		timeout:        cfg.Timeout,
		httpClient:     httpClient,
		circuitBreaker: cfg.CircuitBreaker,
	}, nil
}

// Sends the described call. A non-nil Response is returned for every HTTP
// answer, including 4xx and 5xx; only transport failures produce an error.
func (c *Client) Do(ctx context.Context, d Descriptor, header http.Header) (*Response, error) {
	if c.circuitBreaker == nil {
		return c.send(ctx, d, header)
	}

	var resp *Response
	err := c.circuitBreaker.Call(func() error {
		var sendErr error
		resp, sendErr = c.send(ctx, d, header)
		if sendErr != nil {
			// The caller gave up; the upstream may be perfectly healthy
			if ctx.Err() != nil {
				return circuitbreaker.Ignore(sendErr)
			}
			return sendErr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return errServerFailure
		}
		return nil
	})

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return nil, &NetworkError{Method: d.Method, Path: d.Path, Err: err}
	case errors.Is(err, errServerFailure):
		return resp, nil
	case err != nil:
		return nil, err
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, d Descriptor, header http.Header) (*Response, error) {
	var body io.Reader
	if d.Body != nil {
		payload, err := json.Marshal(d.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body for %s %s: %w", d.Method, d.Path, err)
		}
		body = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, d.Method, c.baseURL+d.Target(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s %s: %w", d.Method, d.Path, err)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if d.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.networkError(d, err, time.Since(start))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.networkError(d, err, time.Since(start))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

func (c *Client) networkError(d Descriptor, err error, elapsed time.Duration) *NetworkError {
	timeout := errors.Is(err, context.DeadlineExceeded)

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}

	return &NetworkError{
		Method:  d.Method,
		Path:    d.Path,
		Timeout: timeout,
		After:   elapsed,
		Err:     err,
	}
}

// Returns the configured per-call timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Returns the breaker guarding this client, or nil
func (c *Client) CircuitBreaker() *circuitbreaker.CircuitBreaker {
	return c.circuitBreaker
}
