package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/config"
	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/aman-churiwal/capital-proxy/internal/proxy"
	"github.com/aman-churiwal/capital-proxy/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubKeys struct {
	keys map[string]*models.APIKey
	mu   sync.Mutex
	used []uuid.UUID
}

func (s *stubKeys) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	return s.keys[key], nil
}

func (s *stubKeys) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = append(s.used, id)
}

func ok(c *gin.Context) {
	c.Status(http.StatusOK)
}

func do(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyValidator(t *testing.T) {
	key := &models.APIKey{ID: uuid.New(), Tier: "premium"}
	keys := &stubKeys{keys: map[string]*models.APIKey{"cg_good": key}}

	tests := []struct {
		name       string
		header     string
		required   bool
		wantStatus int
	}{
		{"valid key", "cg_good", true, http.StatusOK},
		{"unknown key", "cg_bad", false, http.StatusUnauthorized},
		{"missing key optional", "", false, http.StatusOK},
		{"missing key required", "", true, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			var seen any
			router.GET("/", APIKeyValidator(keys, tt.required), func(c *gin.Context) {
				seen, _ = c.Get(APIKeyIDContextKey)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := do(router, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.header == "cg_good" && seen != key.ID {
				t.Errorf("api_key_id = %v, want %v", seen, key.ID)
			}
		})
	}
}

type stubTokens struct {
	claims jwt.MapClaims
	err    error
}

func (s stubTokens) ValidateToken(token string) (jwt.MapClaims, error) {
	return s.claims, s.err
}

func TestRequireAuth(t *testing.T) {
	admin := stubTokens{claims: jwt.MapClaims{"email": "admin@example.com", "role": "admin"}}

	tests := []struct {
		name       string
		tokens     stubTokens
		header     string
		wantStatus int
	}{
		{"valid token", admin, "Bearer abc", http.StatusOK},
		{"missing header", admin, "", http.StatusUnauthorized},
		{"wrong scheme", admin, "Basic abc", http.StatusUnauthorized},
		{"invalid token", stubTokens{err: errors.New("expired")}, "Bearer abc", http.StatusUnauthorized},
		{"not an admin", stubTokens{claims: jwt.MapClaims{"role": "viewer"}}, "Bearer abc", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/", RequireAuth(tt.tokens), ok)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			if w := do(router, req); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	var seen string
	router.GET("/", RequestID(), func(c *gin.Context) {
		seen = c.GetString("request_id")
	})

	w := do(router, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || w.Header().Get(RequestIDHeader) != seen {
		t.Errorf("generated id %q, header %q", seen, w.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	do(router, req)
	if seen != "abc-123" {
		t.Errorf("request_id = %q, want the caller's id", seen)
	}
}

func TestCORS_Preflight(t *testing.T) {
	router := gin.New()
	router.Use(CORS())
	router.GET("/", ok)

	w := do(router, httptest.NewRequest(http.MethodOptions, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin")
	}
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery())
	router.GET("/", func(c *gin.Context) {
		panic("boom")
	})

	if w := do(router, httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

type captureSink struct {
	entries []*models.CallLog
}

func (s *captureSink) Record(entry *models.CallLog) {
	s.entries = append(s.entries, entry)
}

func TestCallLogger(t *testing.T) {
	sink := &captureSink{}
	keyID := uuid.New()

	router := gin.New()
	router.GET("/proxy/positions", RequestID(), func(c *gin.Context) {
		c.Set(APIKeyIDContextKey, keyID)
		c.Next()
	}, CallLogger(sink), func(c *gin.Context) {
		c.Set(proxy.RouteKey, "positions.list")
		c.Status(http.StatusTeapot)
	})

	do(router, httptest.NewRequest(http.MethodGet, "/proxy/positions", nil))

	if len(sink.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(sink.entries))
	}
	got := sink.entries[0]
	if got.Route != "positions.list" || got.StatusCode != http.StatusTeapot || got.Method != http.MethodGet {
		t.Errorf("entry = %+v", got)
	}
	if got.APIKeyID == nil || *got.APIKeyID != keyID {
		t.Errorf("APIKeyID = %v, want %v", got.APIKeyID, keyID)
	}
	if got.RequestID == "" {
		t.Error("RequestID not recorded")
	}
}

// Counts per key in memory
type countingLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func (l *countingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}

func (l *countingLimiter) Remaining(ctx context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.limit - l.counts[key]; r > 0 {
		return r, nil
	}
	return 0, nil
}

func (l *countingLimiter) Limit() int { return l.limit }

func (l *countingLimiter) Window() time.Duration { return time.Minute }

func (l *countingLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	return time.Now().Add(time.Minute), nil
}

func TestRateLimitWithTier(t *testing.T) {
	tiers := []config.RateLimiterTier{
		{Name: "basic", RequestsPerMinute: 2, Algorithm: config.AlgorithmFixedWindow},
		{Name: "premium", RequestsPerMinute: 3, Algorithm: config.AlgorithmSlidingWindow},
	}
	created := map[string]string{}
	factory := func(algorithm string, limit int, window time.Duration) ratelimit.Limiter {
		created[algorithm] = algorithm
		return &countingLimiter{limit: limit, counts: map[string]int{}}
	}

	premium := &models.APIKey{ID: uuid.New(), Tier: "premium"}
	router := gin.New()
	router.GET("/anon", rateLimitWith(factory, tiers), ok)
	router.GET("/keyed", func(c *gin.Context) {
		c.Set(APIKeyContextKey, premium)
		c.Next()
	}, rateLimitWith(factory, tiers), ok)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = do(router, httptest.NewRequest(http.MethodGet, "/anon", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Errorf("third anonymous request: status = %d, want 429", last.Code)
	}
	if last.Header().Get("X-RateLimit-Tier") != "basic" || last.Header().Get("Retry-After") == "" {
		t.Errorf("headers = %v", last.Header())
	}

	for i := 0; i < 3; i++ {
		last = do(router, httptest.NewRequest(http.MethodGet, "/keyed", nil))
		if last.Code != http.StatusOK {
			t.Fatalf("premium request %d: status = %d", i+1, last.Code)
		}
	}
	if last.Header().Get("X-RateLimit-Limit") != "3" || last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("headers = %v", last.Header())
	}
	if do(router, httptest.NewRequest(http.MethodGet, "/keyed", nil)).Code != http.StatusTooManyRequests {
		t.Error("fourth premium request was admitted")
	}

	if created[config.AlgorithmSlidingWindow] == "" || created[config.AlgorithmFixedWindow] == "" {
		t.Errorf("limiters built for %v", created)
	}
}

func TestResolveTier_UnknownTierFallsBack(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	key := &models.APIKey{ID: uuid.New(), Tier: "gold"}
	c.Set(APIKeyContextKey, key)

	tier, id := resolveTier(c, nil)
	if tier.Name != "basic" || tier.RequestsPerMinute != 60 {
		t.Errorf("tier = %+v, want the basic fallback", tier)
	}
	if id != key.ID.String() {
		t.Errorf("key = %q, want the API key ID", id)
	}
}
