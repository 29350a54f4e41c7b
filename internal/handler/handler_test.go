package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/circuitbreaker"
	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/aman-churiwal/capital-proxy/internal/repository"
	"github.com/aman-churiwal/capital-proxy/internal/service"
	"github.com/aman-churiwal/capital-proxy/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func request(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type stubKeyManager struct {
	keys      map[uuid.UUID]*models.APIKey
	updated   uuid.UUID
	tier      *string
	createdBy string
}

func (s *stubKeyManager) Create(ctx context.Context, name, createdBy, tier string) (string, *models.APIKey, error) {
	if tier == "gold" {
		return "", nil, service.ErrUnknownTier
	}
	s.createdBy = createdBy
	k := &models.APIKey{ID: uuid.New(), Name: name, Tier: tier}
	s.keys[k.ID] = k
	return "cg_secret", k, nil
}

func (s *stubKeyManager) Get(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	return s.keys[id], nil
}

func (s *stubKeyManager) List(ctx context.Context) ([]models.APIKey, error) {
	var out []models.APIKey
	for _, k := range s.keys {
		out = append(out, *k)
	}
	return out, nil
}

func (s *stubKeyManager) Update(ctx context.Context, id uuid.UUID, tier *string, isActive *bool) error {
	s.updated = id
	s.tier = tier
	return nil
}

func (s *stubKeyManager) Delete(ctx context.Context, id uuid.UUID) error {
	delete(s.keys, id)
	return nil
}

func newKeyRouter(keys *stubKeyManager) *gin.Engine {
	h := NewAPIKeyHandler(keys)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("email", "admin@example.com")
	})
	router.POST("/keys", h.Create)
	router.GET("/keys", h.List)
	router.GET("/keys/:id", h.Get)
	router.PUT("/keys/:id", h.Update)
	router.DELETE("/keys/:id", h.Delete)
	return router
}

func TestAPIKeyHandler_Create(t *testing.T) {
	keys := &stubKeyManager{keys: map[uuid.UUID]*models.APIKey{}}
	router := newKeyRouter(keys)

	w := request(router, http.MethodPost, "/keys", `{"name":"bot","tier":"premium"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Key string `json:"key"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Key != "cg_secret" {
		t.Errorf("key = %q", body.Key)
	}
	if keys.createdBy != "admin@example.com" {
		t.Errorf("createdBy = %q, want the admin email", keys.createdBy)
	}

	if w := request(router, http.MethodPost, "/keys", `{"name":"bot","tier":"gold"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown tier: status = %d, want 400", w.Code)
	}
	if w := request(router, http.MethodPost, "/keys", `{"tier":"basic"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", w.Code)
	}
}

func TestAPIKeyHandler_ByID(t *testing.T) {
	id := uuid.New()
	keys := &stubKeyManager{keys: map[uuid.UUID]*models.APIKey{id: {ID: id, Name: "bot"}}}
	router := newKeyRouter(keys)

	if w := request(router, http.MethodGet, "/keys/"+id.String(), ""); w.Code != http.StatusOK {
		t.Errorf("get: status = %d", w.Code)
	}
	if w := request(router, http.MethodGet, "/keys/"+uuid.NewString(), ""); w.Code != http.StatusNotFound {
		t.Errorf("get unknown: status = %d, want 404", w.Code)
	}
	if w := request(router, http.MethodGet, "/keys/not-a-uuid", ""); w.Code != http.StatusBadRequest {
		t.Errorf("get malformed: status = %d, want 400", w.Code)
	}

	if w := request(router, http.MethodPut, "/keys/"+id.String(), `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty update: status = %d, want 400", w.Code)
	}
	if w := request(router, http.MethodPut, "/keys/"+id.String(), `{"tier":"premium"}`); w.Code != http.StatusOK {
		t.Errorf("update: status = %d", w.Code)
	}
	if keys.updated != id || keys.tier == nil || *keys.tier != "premium" {
		t.Errorf("update reached service with %v %v", keys.updated, keys.tier)
	}

	if w := request(router, http.MethodDelete, "/keys/"+id.String(), ""); w.Code != http.StatusOK {
		t.Errorf("delete: status = %d", w.Code)
	}
	if len(keys.keys) != 0 {
		t.Error("key not deleted")
	}
}

type stubAnalytics struct {
	filter   repository.CallLogFilter
	from, to time.Time
}

func (s *stubAnalytics) GetSummary(ctx context.Context, from, to time.Time) (*service.AnalyticsSummary, error) {
	s.from, s.to = from, to
	return &service.AnalyticsSummary{TotalRequests: 7}, nil
}

func (s *stubAnalytics) GetAPIKeyStats(ctx context.Context, id uuid.UUID, from, to time.Time) (*service.AnalyticsSummary, error) {
	return &service.AnalyticsSummary{}, nil
}

func (s *stubAnalytics) GetTimeSeriesData(ctx context.Context, from, to time.Time) ([]repository.HourlyStat, error) {
	return nil, nil
}

func (s *stubAnalytics) GetLogs(ctx context.Context, filter repository.CallLogFilter) ([]models.CallLog, error) {
	s.filter = filter
	return []models.CallLog{}, nil
}

func TestAnalyticsHandler(t *testing.T) {
	analytics := &stubAnalytics{}
	h := NewAnalyticsHandler(analytics)
	router := gin.New()
	router.GET("/analytics", h.GetSummary)
	router.GET("/logs", h.GetLogs)

	w := request(router, http.MethodGet, "/analytics?from=2026-01-01T00:00:00Z&to=1767312000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !analytics.from.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) || analytics.to.Unix() != 1767312000 {
		t.Errorf("range = %s..%s", analytics.from, analytics.to)
	}

	if w := request(router, http.MethodGet, "/analytics?from=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad from: status = %d, want 400", w.Code)
	}

	keyID := uuid.New()
	w = request(router, http.MethodGet, "/logs?status=502&route=positions.list&limit=5000&offset=20&api_key_id="+keyID.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("logs: status = %d", w.Code)
	}
	f := analytics.filter
	if f.StatusCode == nil || *f.StatusCode != 502 || f.Route != "positions.list" || f.Limit != 100 || f.Offset != 20 {
		t.Errorf("filter = %+v", f)
	}
	if f.APIKeyID == nil || *f.APIKeyID != keyID {
		t.Errorf("APIKeyID = %v", f.APIKeyID)
	}
}

type stubAuth struct {
	enabled bool
}

func (s stubAuth) Enabled() bool { return s.enabled }

func (s stubAuth) Login(email, password string) (string, time.Time, error) {
	if password != "s3cret" {
		return "", time.Time{}, service.ErrInvalidCredentials
	}
	return "signed", time.Now().Add(time.Hour), nil
}

func TestAuthHandler_Login(t *testing.T) {
	router := gin.New()
	router.POST("/login", NewAuthHandler(stubAuth{enabled: true}).Login)

	w := request(router, http.MethodPost, "/login", `{"email":"admin@example.com","password":"s3cret"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"token":"signed"`) {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}

	w = request(router, http.MethodPost, "/login", `{"email":"admin@example.com","password":"nope"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", w.Code)
	}

	w = request(router, http.MethodPost, "/login", `{"email":"not-an-email","password":"s3cret"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed email: status = %d, want 400", w.Code)
	}

	disabled := gin.New()
	disabled.POST("/login", NewAuthHandler(stubAuth{}).Login)
	if w := request(disabled, http.MethodPost, "/login", `{}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled: status = %d, want 503", w.Code)
	}
}

type stubSession struct {
	loginErr error
	logins   int
}

func (s *stubSession) Status() session.Status {
	return session.Status{State: "valid"}
}

func (s *stubSession) Login(ctx context.Context) error {
	s.logins++
	return s.loginErr
}

func TestSystemHandler(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{MaxFailures: 1})
	breaker.Call(func() error { return errors.New("down") })

	sess := &stubSession{}
	h := NewSystemHandler(breaker, sess)
	router := gin.New()
	router.GET("/circuit-breaker", h.CircuitBreakerStatus)
	router.POST("/circuit-breaker/reset", h.ResetCircuitBreaker)
	router.GET("/session", h.SessionStatus)
	router.POST("/session/refresh", h.RefreshSession)

	w := request(router, http.MethodGet, "/circuit-breaker", "")
	if !strings.Contains(w.Body.String(), `"state":"open"`) {
		t.Errorf("breaker status = %s", w.Body.String())
	}

	request(router, http.MethodPost, "/circuit-breaker/reset", "")
	if breaker.State() != circuitbreaker.StateClosed {
		t.Errorf("State() = %s after reset", breaker.State())
	}

	if w := request(router, http.MethodGet, "/session", ""); !strings.Contains(w.Body.String(), `"state":"valid"`) {
		t.Errorf("session status = %s", w.Body.String())
	}

	if w := request(router, http.MethodPost, "/session/refresh", ""); w.Code != http.StatusOK || sess.logins != 1 {
		t.Errorf("refresh: status = %d, logins = %d", w.Code, sess.logins)
	}

	sess.loginErr = &session.AuthenticationError{StatusCode: http.StatusForbidden}
	if w := request(router, http.MethodPost, "/session/refresh", ""); w.Code != http.StatusForbidden {
		t.Errorf("rejected refresh: status = %d, want 403", w.Code)
	}
}
