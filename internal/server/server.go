package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/circuitbreaker"
	"github.com/aman-churiwal/capital-proxy/internal/config"
	"github.com/aman-churiwal/capital-proxy/internal/handler"
	"github.com/aman-churiwal/capital-proxy/internal/healthcheck"
	"github.com/aman-churiwal/capital-proxy/internal/metrics"
	"github.com/aman-churiwal/capital-proxy/internal/middleware"
	"github.com/aman-churiwal/capital-proxy/internal/proxy"
	"github.com/aman-churiwal/capital-proxy/internal/repository"
	"github.com/aman-churiwal/capital-proxy/internal/service"
	"github.com/aman-churiwal/capital-proxy/internal/session"
	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

// Collaborators built by main. Only Manager is required.
type Deps struct {
	Manager  *session.Manager
	Breaker  *circuitbreaker.CircuitBreaker
	Health   *healthcheck.Checker
	Metrics  *metrics.Collector
	Redis    *storage.RedisClient
	Postgres *storage.Postgres
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Deps
	relay      *proxy.Relay
	startedAt  time.Time
	httpServer *http.Server

	authService   *service.AuthService
	apiKeyService *service.APIKeyService
	analytics     *service.AnalyticsService
	recorder      *service.CallRecorder
	retention     *service.RetentionScheduler
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Manager == nil {
		return nil, errors.New("server: session manager is required")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		deps:      deps,
		relay:     proxy.New(deps.Manager),
		startedAt: time.Now(),
		authService: service.NewAuthService(
			cfg.Auth.AdminEmail,
			cfg.Auth.AdminPasswordHash,
			cfg.Auth.JWTSecret,
			cfg.Auth.TokenTTL.Std(),
		),
	}

	if deps.Postgres != nil {
		if err := s.initializeStorageServices(); err != nil {
			return nil, err
		}
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// API keys, call log and analytics all live in Postgres
func (s *Server) initializeStorageServices() error {
	var cache service.Cache
	if s.deps.Redis != nil {
		cache = s.deps.Redis
	}

	tierNames := make([]string, 0, len(s.config.RateLimitTiers))
	for _, tier := range s.config.RateLimitTiers {
		tierNames = append(tierNames, tier.Name)
	}

	s.apiKeyService = service.NewAPIKeyService(repository.NewAPIKeyRepository(s.deps.Postgres), cache, tierNames)

	callLogs := repository.NewCallLogRepository(s.deps.Postgres)
	s.analytics = service.NewAnalyticsService(callLogs)
	s.recorder = service.NewCallRecorder(
		callLogs,
		s.config.CallLog.BufferSize,
		s.config.CallLog.BatchSize,
		s.config.CallLog.FlushInterval.Std(),
	)

	retention, err := service.NewRetentionScheduler(s.analytics, s.config.CallLog.CleanupSchedule, s.config.CallLog.RetentionDays)
	if err != nil {
		return err
	}
	s.retention = retention

	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	s.setupAdminRoutes()
	s.setupProxyRoutes()
}

func (s *Server) setupAdminRoutes() {
	authHandler := handler.NewAuthHandler(s.authService)
	systemHandler := handler.NewSystemHandler(s.deps.Breaker, s.deps.Manager)

	s.router.POST("/admin/login", authHandler.Login)

	admin := s.router.Group("/admin")
	if s.authService.Enabled() {
		admin.Use(middleware.RequireAuth(s.authService))
	} else {
		log.Println("Warning: admin credentials not configured, /admin endpoints are disabled")
		admin.Use(func(c *gin.Context) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Admin API is not configured"})
			c.Abort()
		})
	}

	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/session", systemHandler.SessionStatus)
		admin.POST("/session/refresh", systemHandler.RefreshSession)
		admin.GET("/circuit-breaker", systemHandler.CircuitBreakerStatus)
		admin.POST("/circuit-breaker/reset", systemHandler.ResetCircuitBreaker)
	}

	if s.apiKeyService != nil {
		apiKeyHandler := handler.NewAPIKeyHandler(s.apiKeyService)
		admin.POST("/keys", apiKeyHandler.Create)
		admin.GET("/keys", apiKeyHandler.List)
		admin.GET("/keys/:id", apiKeyHandler.Get)
		admin.PUT("/keys/:id", apiKeyHandler.Update)
		admin.DELETE("/keys/:id", apiKeyHandler.Delete)
	}

	if s.analytics != nil {
		analyticsHandler := handler.NewAnalyticsHandler(s.analytics)
		admin.GET("/analytics", analyticsHandler.GetSummary)
		admin.GET("/analytics/timeseries", analyticsHandler.GetTimeSeries)
		admin.GET("/analytics/keys/:id", analyticsHandler.GetAPIKeyStats)
		admin.GET("/logs", analyticsHandler.GetLogs)
	}
}

func (s *Server) setupProxyRoutes() {
	group := s.router.Group("/proxy")

	// Registered first so rejected calls are recorded too
	if s.recorder != nil {
		group.Use(middleware.CallLogger(s.recorder))
	}
	if s.apiKeyService != nil {
		group.Use(middleware.APIKeyValidator(s.apiKeyService, s.config.Auth.RequireAPIKey))
	}
	if s.deps.Redis != nil {
		group.Use(middleware.RateLimitWithTier(s.deps.Redis, s.config.RateLimitTiers))
	} else {
		log.Println("Redis not configured, per-client rate limits are off")
	}

	s.relay.Register(group)
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}

	status := "healthy"
	statusCode := http.StatusOK

	if s.deps.Health != nil {
		upstreamHealth := s.deps.Health.OverallHealth()
		checks["upstream"] = gin.H{
			"status":  upstreamHealth.String(),
			"details": s.deps.Health.Status(),
		}
		switch upstreamHealth {
		case healthcheck.Unhealthy:
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		case healthcheck.Degraded:
			status = "degraded"
		}
	}

	if s.deps.Redis != nil {
		redisHealthy := true
		if err := s.deps.Redis.Ping(ctx); err != nil {
			redisHealthy = false
			log.Printf("Redis health check failed: %v", err)
			if statusCode == http.StatusOK {
				status = "degraded"
			}
		}
		checks["redis"] = redisHealthy
	}

	if s.deps.Postgres != nil {
		dbHealthy := true
		if err := s.deps.Postgres.Ping(ctx); err != nil {
			dbHealthy = false
			log.Printf("Database health check failed: %v", err)
			if statusCode == http.StatusOK {
				status = "degraded"
			}
		}
		checks["database"] = dbHealthy
	}

	if s.deps.Breaker != nil {
		checks["circuit_breaker"] = s.deps.Breaker.State().String()
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "capital-proxy",
		"version":   version,
		"timestamp": time.Now().Unix(),
		"session":   s.deps.Manager.Status(),
		"checks":    checks,
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	response := gin.H{
		"proxy":     "running",
		"upstream":  s.config.Upstream.BaseURL,
		"routes":    len(s.relay.Routes()),
		"session":   s.deps.Manager.Status(),
		"uptime":    time.Since(s.startedAt).Seconds(),
		"timestamp": time.Now().Unix(),
	}

	if s.apiKeyService != nil {
		if active, err := s.apiKeyService.CountActive(c.Request.Context()); err == nil {
			response["active_api_keys"] = active
		}
	}
	if s.recorder != nil {
		response["dropped_call_logs"] = s.recorder.Dropped()
	}

	c.JSON(http.StatusOK, response)
}

// Starts background workers and serves HTTP until Shutdown
func (s *Server) Run(addr string) error {
	if s.deps.Health != nil && !s.config.HealthCheck.Disabled {
		s.deps.Health.Start()
	}
	if s.recorder != nil {
		s.recorder.Start()
	}
	if s.retention != nil {
		s.retention.Start()
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.Upstream.Timeout.Std() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting Capital proxy on %s", addr)
	log.Printf("Environment: %s, upstream: %s", s.config.Server.Environment, s.config.Upstream.BaseURL)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stops accepting requests, then flushes and stops background workers
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	var errs []error

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if s.deps.Health != nil {
		s.deps.Health.Stop()
	}
	if s.retention != nil {
		s.retention.Stop()
	}
	if s.recorder != nil {
		if err := s.recorder.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("call recorder: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
