package healthcheck

import "time"

type Status struct {
	Target         string        `json:"target"`
	IsHealthy      bool          `json:"is_healthy"`
	LastCheck      time.Time     `json:"last_check"`
	LastSuccess    time.Time     `json:"last_success"`
	LastFailure    time.Time     `json:"last_failure"`
	LastStatusCode int           `json:"last_status_code"`
	LastLatency    time.Duration `json:"last_latency_ns"`
	LastError      string        `json:"last_error,omitempty"`
	FailureCount   int           `json:"failure_count"`
}

// Represents overall health of the upstream
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}
