package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/capital-proxy/internal/circuitbreaker"
	"github.com/aman-churiwal/capital-proxy/internal/proxy"
	"github.com/aman-churiwal/capital-proxy/internal/session"
	"github.com/gin-gonic/gin"
)

// The parts of session.Manager the admin surface drives
type SessionController interface {
	Status() session.Status
	Login(ctx context.Context) error
}

// Handles system-related endpoints
type SystemHandler struct {
	breaker *circuitbreaker.CircuitBreaker
	session SessionController
}

func NewSystemHandler(breaker *circuitbreaker.CircuitBreaker, session SessionController) *SystemHandler {
	return &SystemHandler{
		breaker: breaker,
		session: session,
	}
}

// Returns the status of the upstream circuit breaker
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Circuit breaker not configured"})
		return
	}

	metrics := h.breaker.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"name":              metrics.Name,
		"state":             metrics.State.String(),
		"failure_count":     metrics.FailureCount,
		"success_count":     metrics.SuccessCount,
		"last_failure_time": metrics.LastFailureTime,
		"last_state_change": metrics.LastStateChange,
	})
}

// Manually resets the circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Circuit breaker not configured"})
		return
	}

	h.breaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"state":   h.breaker.State().String(),
	})
}

// Handles GET /admin/session
func (h *SystemHandler) SessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Status())
}

// Handles POST /admin/session/refresh. Forces a fresh upstream login.
func (h *SystemHandler) RefreshSession(c *gin.Context) {
	if err := h.session.Login(c.Request.Context()); err != nil {
		c.JSON(proxy.StatusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Session renewed",
		"session": h.session.Status(),
	})
}
