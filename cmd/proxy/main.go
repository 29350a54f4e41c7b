package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/circuitbreaker"
	"github.com/aman-churiwal/capital-proxy/internal/config"
	"github.com/aman-churiwal/capital-proxy/internal/healthcheck"
	"github.com/aman-churiwal/capital-proxy/internal/metrics"
	"github.com/aman-churiwal/capital-proxy/internal/ratelimit"
	"github.com/aman-churiwal/capital-proxy/internal/server"
	"github.com/aman-churiwal/capital-proxy/internal/session"
	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/aman-churiwal/capital-proxy/internal/upstream"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var redis *storage.RedisClient
	if cfg.Redis.Enabled() {
		redis, err = storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		log.Println("Connected to redis successfully")
	}

	var postgres *storage.Postgres
	if cfg.Database.Enabled() {
		postgres, err = storage.NewPostgres(cfg.Database.DSN, !cfg.IsProduction())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("Connected to database successfully")
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            "capital",
		MaxFailures:     cfg.Upstream.CircuitBreaker.MaxFailures,
		Timeout:         cfg.Upstream.CircuitBreaker.Timeout.Std(),
		HalfOpenSuccess: cfg.Upstream.CircuitBreaker.HalfOpenSuccess,
	})

	client, err := upstream.New(upstream.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		Timeout:        cfg.Upstream.Timeout.Std(),
		CircuitBreaker: breaker,
	})
	if err != nil {
		log.Fatalf("Failed to create upstream client: %v", err)
	}

	gate, err := ratelimit.NewGate(cfg.Admission.Algorithm, cfg.Admission.Capacity, cfg.Admission.Window.Std(), redis)
	if err != nil {
		log.Fatalf("Failed to create admission gate: %v", err)
	}

	collector := metrics.NewCollector(gate)

	manager, err := session.NewManager(session.Config{
		Client:      client,
		Credentials: config.EnvCredentials{Fallback: cfg.Upstream},
		Gate:        gate,
		Policy: session.ExpiryPolicy{
			Validity: cfg.Session.Validity.Std(),
			Buffer:   cfg.Session.Buffer.Std(),
		},
		MaxAuthRetries: cfg.Session.MaxAuthRetries,
		Observer:       collector,
	})
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	// Warm-up login. Calls retry the login lazily, so a failure here is not fatal.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.Upstream.Timeout.Std())
	if err := manager.EnsureValidSession(warmCtx); err != nil {
		log.Printf("Warning: initial upstream login failed: %v", err)
	}
	warmCancel()

	health := healthcheck.NewChecker(client, healthcheck.Config{
		Target:      cfg.Upstream.BaseURL,
		Endpoint:    cfg.HealthCheck.Endpoint,
		Interval:    cfg.HealthCheck.Interval.Std(),
		Timeout:     cfg.HealthCheck.Timeout.Std(),
		MaxFailures: cfg.HealthCheck.MaxFailures,
	})

	srv, err := server.New(cfg, server.Deps{
		Manager:  manager,
		Breaker:  breaker,
		Health:   health,
		Metrics:  collector,
		Redis:    redis,
		Postgres: postgres,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
