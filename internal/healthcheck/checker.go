package healthcheck

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/upstream"
)

// Sends unauthenticated requests to the upstream
type Prober interface {
	Do(ctx context.Context, d upstream.Descriptor, header http.Header) (*upstream.Response, error)
}

// Periodically probes an unauthenticated upstream endpoint. It never logs in,
// so probing does not consume or rotate the trading session.
type Checker struct {
	mu          sync.RWMutex
	prober      Prober
	status      Status
	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	stopChan    chan struct{}
	running     bool
}

// Holds health checker configuration
type Config struct {
	Target      string        // Shown in status output, usually the upstream base URL
	Endpoint    string        // Probe path (default: "/time")
	Interval    time.Duration // How often to check (default: 30s)
	Timeout     time.Duration // Probe timeout (default: 5s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
}

func NewChecker(prober Prober, cfg Config) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/time"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	return &Checker{
		prober: prober,
		status: Status{
			Target:    cfg.Target,
			IsHealthy: true, // Assume healthy until probes say otherwise
			LastCheck: time.Now(),
		},
		endpoint:    cfg.Endpoint,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		stopChan:    make(chan struct{}),
	}
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Printf("Starting upstream health checks on %s (interval: %v)", c.endpoint, c.interval)

	go func() {
		c.Check()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Check()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		log.Printf("Health checker stopped")
	}
}

// Runs a single probe and records the result
func (c *Checker) Check() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.prober.Do(ctx, upstream.Descriptor{Method: http.MethodGet, Path: c.endpoint}, http.Header{})
	latency := time.Since(start)

	if err != nil {
		c.recordFailure(0, latency, err.Error())
		return
	}

	// Consider 2xx and 3xx as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(resp.StatusCode, latency)
	} else {
		c.recordFailure(resp.StatusCode, latency, http.StatusText(resp.StatusCode))
	}
}

func (c *Checker) recordSuccess(code int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.status.LastCheck = now
	c.status.LastSuccess = now
	c.status.LastStatusCode = code
	c.status.LastLatency = latency
	c.status.LastError = ""
	c.status.FailureCount = 0

	if !c.status.IsHealthy {
		log.Printf("Upstream %s is now healthy", c.status.Target)
		c.status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(code int, latency time.Duration, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.status.LastCheck = now
	c.status.LastFailure = now
	c.status.LastStatusCode = code
	c.status.LastLatency = latency
	c.status.LastError = reason
	c.status.FailureCount++

	if c.status.IsHealthy && c.status.FailureCount >= c.maxFailures {
		log.Printf("Upstream %s is now unhealthy (failures: %d, last error: %s)", c.status.Target, c.status.FailureCount, reason)
		c.status.IsHealthy = false
	}
}

// Returns a copy of the current status
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Healthy while no probe has failed, degraded while failures stay below the
// threshold, unhealthy after that
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case !c.status.IsHealthy:
		return Unhealthy
	case c.status.FailureCount > 0:
		return Degraded
	default:
		return Healthy
	}
}
