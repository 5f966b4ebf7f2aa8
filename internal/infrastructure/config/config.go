package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/performance-control-loop/internal/service/alerting"
	"github.com/davidleathers/performance-control-loop/internal/service/analytics"
	"github.com/davidleathers/performance-control-loop/internal/service/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/predictive"
	"github.com/davidleathers/performance-control-loop/internal/service/scheduler"
)

// EnvPrefix marks environment overrides. A double underscore separates
// levels, so PCL_SERVER__PORT sets server.port.
const EnvPrefix = "PCL_"

// DefaultPath is read when Load is given an empty path.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"required"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server        ServerConfig        `koanf:"server"`
	Feed          FeedConfig          `koanf:"feed"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Executor      ExecutorConfig      `koanf:"executor"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	Telemetry     TelemetryConfig     `koanf:"telemetry"`
	Security      SecurityConfig      `koanf:"security"`

	Analytics    analytics.Config    `koanf:"analytics"`
	Predictive   predictive.Config   `koanf:"predictive"`
	Alerting     alerting.Config     `koanf:"alerting"`
	Optimization optimization.Config `koanf:"optimization"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// FeedConfig picks the metrics feed backend.
type FeedConfig struct {
	Backend  string `koanf:"backend" validate:"oneof=memory redis"`
	Capacity int    `koanf:"capacity" validate:"min=1"`
}

type DatabaseConfig struct {
	Enabled         bool          `koanf:"enabled"`
	URL             string        `koanf:"url" validate:"required_if=Enabled true"`
	MaxConns        int32         `koanf:"max_conns" validate:"min=1"`
	MinConns        int32         `koanf:"min_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled      bool          `koanf:"enabled"`
	URL          string        `koanf:"url" validate:"required_if=Enabled true"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db" validate:"min=0"`
	PoolSize     int           `koanf:"pool_size" validate:"min=1"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	KeyPrefix    string        `koanf:"key_prefix"`
}

// NotificationsConfig drives the outbound webhook sink. An empty URL leaves
// notifications on the log sink only.
type NotificationsConfig struct {
	WebhookURL    string        `koanf:"webhook_url" validate:"omitempty,url"`
	Secret        string        `koanf:"secret"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSecond float64       `koanf:"rate_per_second" validate:"gt=0"`
	Burst         int           `koanf:"burst" validate:"min=1"`
}

// ExecutorConfig points optimization actions at a remote actuator. An empty
// URL runs actions in dry-run mode.
type ExecutorConfig struct {
	URL     string        `koanf:"url" validate:"omitempty,url"`
	Secret  string        `koanf:"secret"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// SchedulerConfig sets the tier of each built-in trigger.
type SchedulerConfig struct {
	Enabled      bool           `koanf:"enabled"`
	Alerts       scheduler.Tier `koanf:"alerts"`
	Optimization scheduler.Tier `koanf:"optimization"`
	Summary      scheduler.Tier `koanf:"summary"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	ServiceName  string        `koanf:"service_name" validate:"required"`
	OTLPEndpoint string        `koanf:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplingRate float64       `koanf:"sampling_rate" validate:"min=0,max=1"`
	Timeout      time.Duration `koanf:"timeout"`
}

type SecurityConfig struct {
	JWTSecret string          `koanf:"jwt_secret"`
	Issuer    string          `koanf:"issuer"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second" validate:"min=1"`
	BurstSize         int `koanf:"burst_size" validate:"min=1"`
}

// Default is the configuration used before any file or env override.
func Default() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Feed: FeedConfig{
			Backend:  "memory",
			Capacity: 1000,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "pcl:",
		},
		Notifications: NotificationsConfig{
			Timeout:       10 * time.Second,
			RatePerSecond: 1,
			Burst:         5,
		},
		Executor: ExecutorConfig{
			Timeout: time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Alerts:       scheduler.TierHigh,
			Optimization: scheduler.TierLow,
			Summary:      scheduler.TierDaily,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "performance-control-loop",
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
			Timeout:      30 * time.Second,
		},
		Security: SecurityConfig{
			Issuer: "performance-control-loop",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
		Analytics:    analytics.DefaultConfig(),
		Predictive:   predictive.DefaultConfig(),
		Alerting:     alerting.DefaultConfig(),
		Optimization: optimization.DefaultConfig(),
	}
}

// Load layers struct defaults, the YAML file at path (optional) and PCL_
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

var validate = validator.New()

// Validate checks field constraints and the few cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Optimization.SafetyThreshold <= 0 {
		return fmt.Errorf("invalid config: optimization.safety_threshold must be positive")
	}
	if c.Optimization.SuccessThreshold <= 0 || c.Optimization.SuccessThreshold > 1 {
		return fmt.Errorf("invalid config: optimization.success_threshold must be in (0, 1]")
	}
	if c.Feed.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("invalid config: feed.backend redis requires redis.enabled")
	}
	return nil
}
