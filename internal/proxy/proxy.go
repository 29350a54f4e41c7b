package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/aman-churiwal/capital-proxy/internal/circuitbreaker"
	"github.com/aman-churiwal/capital-proxy/internal/routes"
	"github.com/aman-churiwal/capital-proxy/internal/session"
	"github.com/aman-churiwal/capital-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
)

// Context key under which the matched route name is stored for later middleware
const RouteKey = "proxy_route"

// Relays local requests to the upstream through the session manager and
// writes the result back to the client
type Relay struct {
	session routes.Session
	routes  []routes.Route
}

func New(s routes.Session) *Relay {
	return &Relay{
		session: s,
		routes:  routes.Table(),
	}
}

// Registers every route of the table on the given group
func (r *Relay) Register(group gin.IRoutes) {
	for _, route := range r.routes {
		group.Handle(route.Method, route.Path, r.handler(route))
	}
	log.Printf("Registered %d proxy routes", len(r.routes))
}

func (r *Relay) Routes() []routes.Route {
	return r.routes
}

func (r *Relay) handler(route routes.Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(RouteKey, route.Name)

		body, err := route.Handle(c, r.session)
		if err != nil {
			writeError(c, route, err)
			return
		}

		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}

// Returns the status the relay answers with for err
func StatusFor(err error) int {
	var (
		authErr       *session.AuthenticationError
		upstreamErr   *upstream.UpstreamError
		networkErr    *upstream.NetworkError
		decodeErr     *upstream.DecodeError
		validationErr *routes.ValidationError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return upstreamStatus(authErr.StatusCode)
	case errors.As(err, &upstreamErr):
		return upstreamStatus(upstreamErr.StatusCode)
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.As(err, &networkErr):
		switch {
		case errors.Is(networkErr, circuitbreaker.ErrCircuitOpen):
			return http.StatusServiceUnavailable
		case networkErr.Timeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	case errors.As(err, &decodeErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, route routes.Route, err error) {
	status := StatusFor(err)
	requestID := c.GetString("request_id")

	var (
		authErr       *session.AuthenticationError
		upstreamErr   *upstream.UpstreamError
		validationErr *routes.ValidationError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(status, gin.H{
			"error":  validationErr.Message,
			"fields": validationErr.Fields,
		})
		return
	case errors.As(err, &authErr):
		log.Printf("[%s] %s: upstream login failed with status %d", requestID, route.Name, authErr.StatusCode)
		writeRaw(c, status, authErr.Body, err)
		return
	case errors.As(err, &upstreamErr):
		writeRaw(c, status, upstreamErr.Body, err)
		return
	}

	log.Printf("[%s] %s failed: %v", requestID, route.Name, err)
	c.JSON(status, gin.H{
		"error": http.StatusText(status),
		"cause": err.Error(),
	})
}

// Passes the upstream body through untouched
func writeRaw(c *gin.Context, status int, body []byte, err error) {
	if len(body) == 0 {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	contentType := "text/plain; charset=utf-8"
	if json.Valid(body) {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(status, contentType, body)
}

// Upstream statuses outside the valid range would make the response unwritable
func upstreamStatus(code int) int {
	if code < 100 || code > 599 {
		return http.StatusBadGateway
	}
	return code
}
