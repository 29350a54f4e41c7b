package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "https://demo-api-capital.backend-capital.com/api/v1"

	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
)

type Config struct {
	Server         ServerConfig      `json:"server" yaml:"server"`
	Upstream       UpstreamConfig    `json:"upstream" yaml:"upstream"`
	Session        SessionConfig     `json:"session" yaml:"session"`
	Admission      AdmissionConfig   `json:"admission" yaml:"admission"`
	Redis          RedisConfig       `json:"redis" yaml:"redis"`
	Database       DatabaseConfig    `json:"database" yaml:"database"`
	Auth           AuthConfig        `json:"auth" yaml:"auth"`
	RateLimitTiers []RateLimiterTier `json:"rate_limit_tiers" yaml:"rate_limit_tiers"`
	CallLog        CallLogConfig     `json:"call_log" yaml:"call_log"`
	HealthCheck    HealthCheckConfig `json:"health_check" yaml:"health_check"`
}

type ServerConfig struct {
	Port        string `json:"port" yaml:"port"`
	Environment string `json:"environment" yaml:"environment"`
}

type UpstreamConfig struct {
	BaseURL        string               `json:"base_url" yaml:"base_url"`
	APIKey         string               `json:"api_key" yaml:"api_key"`
	Identifier     string               `json:"identifier" yaml:"identifier"`
	Password       string               `json:"password" yaml:"password"`
	Timeout        Duration             `json:"timeout" yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	MaxFailures     int      `json:"max_failures" yaml:"max_failures"`
	Timeout         Duration `json:"timeout" yaml:"timeout"`
	HalfOpenSuccess int      `json:"half_open_success" yaml:"half_open_success"`
}

type SessionConfig struct {
	Validity       Duration `json:"validity" yaml:"validity"`
	Buffer         Duration `json:"buffer" yaml:"buffer"`
	MaxAuthRetries int      `json:"max_auth_retries" yaml:"max_auth_retries"`
}

// Outbound admission control towards the upstream
type AdmissionConfig struct {
	Algorithm string   `json:"algorithm" yaml:"algorithm"` // concurrency, sliding_window or redis_sliding_window
	Capacity  int      `json:"capacity" yaml:"capacity"`
	Window    Duration `json:"window" yaml:"window"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type DatabaseConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

type AuthConfig struct {
	JWTSecret         string   `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL          Duration `json:"token_ttl" yaml:"token_ttl"`
	AdminEmail        string   `json:"admin_email" yaml:"admin_email"`
	AdminPasswordHash string   `json:"admin_password_hash" yaml:"admin_password_hash"`
	RequireAPIKey     bool     `json:"require_api_key" yaml:"require_api_key"`
}

// Inbound per-client limit applied to /proxy routes
type RateLimiterTier struct {
	Name              string `json:"name" yaml:"name"`
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute"`
	Algorithm         string `json:"algorithm" yaml:"algorithm"`
}

type CallLogConfig struct {
	BufferSize      int      `json:"buffer_size" yaml:"buffer_size"`
	BatchSize       int      `json:"batch_size" yaml:"batch_size"`
	FlushInterval   Duration `json:"flush_interval" yaml:"flush_interval"`
	RetentionDays   int      `json:"retention_days" yaml:"retention_days"`
	CleanupSchedule string   `json:"cleanup_schedule" yaml:"cleanup_schedule"`
}

type HealthCheckConfig struct {
	Disabled    bool     `json:"disabled" yaml:"disabled"`
	Endpoint    string   `json:"endpoint" yaml:"endpoint"`
	Interval    Duration `json:"interval" yaml:"interval"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	MaxFailures int      `json:"max_failures" yaml:"max_failures"`
}

// Reads the config file (JSON, or YAML for .yaml/.yml), applies environment
// overrides and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := decode(path, file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Environment, "ENVIRONMENT")
	setString(&c.Upstream.BaseURL, "CAPITAL_BASE_URL")
	setString(&c.Upstream.APIKey, "CAPITAL_API_KEY")
	setString(&c.Upstream.Identifier, "CAPITAL_IDENTIFIER")
	setString(&c.Upstream.Password, "CAPITAL_PASSWORD")
	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Redis.Host, "REDIS_HOST")
	setString(&c.Redis.Port, "REDIS_PORT")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.AdminEmail, "ADMIN_EMAIL")
	setString(&c.Auth.AdminPasswordHash, "ADMIN_PASSWORD_HASH")

	if v, err := strconv.ParseBool(os.Getenv("REQUIRE_API_KEY")); err == nil {
		c.Auth.RequireAPIKey = v
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = Duration(10 * time.Second)
	}
	if c.Upstream.CircuitBreaker.MaxFailures <= 0 {
		c.Upstream.CircuitBreaker.MaxFailures = 5
	}
	if c.Upstream.CircuitBreaker.Timeout <= 0 {
		c.Upstream.CircuitBreaker.Timeout = Duration(30 * time.Second)
	}
	if c.Upstream.CircuitBreaker.HalfOpenSuccess <= 0 {
		c.Upstream.CircuitBreaker.HalfOpenSuccess = 1
	}

	if c.Session.Validity <= 0 {
		c.Session.Validity = Duration(15 * time.Minute)
	}
	if c.Session.Buffer <= 0 {
		c.Session.Buffer = Duration(time.Minute)
	}
	if c.Session.MaxAuthRetries <= 0 {
		c.Session.MaxAuthRetries = 1
	}

	if c.Admission.Algorithm == "" {
		c.Admission.Algorithm = "concurrency"
	}
	if c.Admission.Capacity <= 0 {
		c.Admission.Capacity = 25
	}
	if c.Admission.Window <= 0 {
		c.Admission.Window = Duration(time.Minute)
	}

	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}

	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = Duration(24 * time.Hour)
	}

	if len(c.RateLimitTiers) == 0 {
		c.RateLimitTiers = []RateLimiterTier{
			{Name: "basic", RequestsPerMinute: 60, Algorithm: AlgorithmFixedWindow},
			{Name: "premium", RequestsPerMinute: 300, Algorithm: AlgorithmSlidingWindow},
			{Name: "enterprise", RequestsPerMinute: 1000, Algorithm: AlgorithmTokenBucket},
		}
	}

	if c.CallLog.BufferSize <= 0 {
		c.CallLog.BufferSize = 1000
	}
	if c.CallLog.BatchSize <= 0 {
		c.CallLog.BatchSize = 100
	}
	if c.CallLog.FlushInterval <= 0 {
		c.CallLog.FlushInterval = Duration(5 * time.Second)
	}
	if c.CallLog.RetentionDays <= 0 {
		c.CallLog.RetentionDays = 30
	}
	if c.CallLog.CleanupSchedule == "" {
		c.CallLog.CleanupSchedule = "0 3 * * *"
	}

	if c.HealthCheck.Endpoint == "" {
		c.HealthCheck.Endpoint = "/time"
	}
	if c.HealthCheck.Interval <= 0 {
		c.HealthCheck.Interval = Duration(30 * time.Second)
	}
	if c.HealthCheck.Timeout <= 0 {
		c.HealthCheck.Timeout = Duration(5 * time.Second)
	}
	if c.HealthCheck.MaxFailures <= 0 {
		c.HealthCheck.MaxFailures = 3
	}
}

// Reports every problem found, joined into one error
func (c *Config) Validate() error {
	var errs []error

	if c.Upstream.APIKey == "" {
		errs = append(errs, errors.New("upstream api key is required (CAPITAL_API_KEY)"))
	}
	if c.Upstream.Identifier == "" {
		errs = append(errs, errors.New("upstream identifier is required (CAPITAL_IDENTIFIER)"))
	}
	if c.Upstream.Password == "" {
		errs = append(errs, errors.New("upstream password is required (CAPITAL_PASSWORD)"))
	}
	if c.Session.Buffer >= c.Session.Validity {
		errs = append(errs, fmt.Errorf("session buffer %s must be shorter than validity %s", c.Session.Buffer, c.Session.Validity))
	}

	switch c.Admission.Algorithm {
	case "concurrency", "sliding_window":
	case "redis_sliding_window":
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("redis_sliding_window admission requires redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown admission algorithm %q", c.Admission.Algorithm))
	}

	for _, tier := range c.RateLimitTiers {
		if tier.RequestsPerMinute <= 0 {
			errs = append(errs, fmt.Errorf("rate limit tier %q needs a positive requests_per_minute", tier.Name))
		}
	}

	if c.Auth.RequireAPIKey && !c.Database.Enabled() {
		errs = append(errs, errors.New("require_api_key needs a database to store keys"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Duration accepts "30s" style strings or a number of seconds
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v * float64(time.Second))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}
