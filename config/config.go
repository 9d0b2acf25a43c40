package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LOYALTY_DATABASE_PATH.
const EnvPrefix = "LOYALTY"

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Auth      AuthConfig
	Vouchers  VoucherConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	CORS      CORSConfig
	Scenarios ScenarioConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string // development, production
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the SQLite location. ":memory:" keeps everything in
// process.
type DatabaseConfig struct {
	Path string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration // lifetime of tokens issued by the dev helper
}

// VoucherConfig holds redemption settings
type VoucherConfig struct {
	Validity    time.Duration
	CodeRetries int
}

// RedisConfig holds the display balance cache settings
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	Enabled        bool
	ExpiryInterval time.Duration
}

// CORSConfig holds allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string
}

// ScenarioConfig toggles the demo scenario endpoints
type ScenarioConfig struct {
	Enabled bool
}

// IsProduction reports whether the app runs with production checks.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Load reads configuration from an optional YAML file and LOYALTY_*
// environment variables. An empty path searches for config.yaml in the
// working directory and /etc/loyalty.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/loyalty")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults and env vars apply
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
		Vouchers: VoucherConfig{
			Validity:    v.GetDuration("vouchers.validity"),
			CodeRetries: v.GetInt("vouchers.code_retries"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			ExpiryInterval: v.GetDuration("scheduler.expiry_interval"),
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetStringSlice("cors.allowed_origins"),
		},
		Scenarios: ScenarioConfig{
			Enabled: v.GetBool("scenarios.enabled"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DevJWTSecret signs tokens when no secret is configured. Refused in
// production.
const DevJWTSecret = "loyalty-dev-secret-do-not-use-in-production"

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "loyalty-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "loyalty.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Auth.JWTSecret == "" && !cfg.IsProduction() {
		cfg.Auth.JWTSecret = DevJWTSecret
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "loyalty-engine"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Vouchers.Validity == 0 {
		cfg.Vouchers.Validity = 30 * 24 * time.Hour
	}
	if cfg.Vouchers.CodeRetries == 0 {
		cfg.Vouchers.CodeRetries = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 5 * time.Minute
	}
	if cfg.Scheduler.ExpiryInterval == 0 {
		cfg.Scheduler.ExpiryInterval = time.Hour
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Vouchers.Validity <= 0 {
		return fmt.Errorf("vouchers.validity must be positive")
	}
	if c.Vouchers.CodeRetries <= 0 {
		return fmt.Errorf("vouchers.code_retries must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.ExpiryInterval < time.Second {
		return fmt.Errorf("scheduler.expiry_interval must be at least 1s, got %s", c.Scheduler.ExpiryInterval)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	// Production-specific validations
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required in production")
		}
		if c.Auth.JWTSecret == DevJWTSecret || len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters and not the development secret in production")
		}
		if c.Database.Path == ":memory:" {
			return fmt.Errorf("database.path cannot be :memory: in production")
		}
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("cors.allowed_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Scenarios.Enabled {
			return fmt.Errorf("scenarios.enabled must be false in production")
		}
	}
	return nil
}
