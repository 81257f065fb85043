package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds server settings. Values are applied in order: defaults, the
// optional YAML file, a .env file, then process environment.
type Config struct {
	Env             string        `yaml:"env"`
	Debug           bool          `yaml:"debug"`
	Port            string        `yaml:"port"`
	DBPath          string        `yaml:"db_path"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HeartbeatConfig holds the two freshness thresholds. ViewerActive decides the
// fast/slow hint sent to EAs, ClientConnected drives the account list indicator.
type HeartbeatConfig struct {
	Interval        time.Duration `yaml:"interval"`
	ViewerActive    time.Duration `yaml:"viewer_active"`
	ClientConnected time.Duration `yaml:"client_connected"`
}

// RateLimitConfig limits EA ingestion calls per account, and per client IP
// ahead of API-key authentication
type RateLimitConfig struct {
	EAPerMinute int `yaml:"ea_per_minute"`
	EABurst     int `yaml:"ea_burst"`
	IPPerMinute int `yaml:"ip_per_minute"`
	IPBurst     int `yaml:"ip_burst"`
}

func Default() *Config {
	return &Config{
		Env:             "development",
		Port:            "8080",
		DBPath:          "eatrack.db",
		JWTSecret:       "eatrack-secret-key",
		TokenTTL:        24 * time.Hour,
		ShutdownTimeout: 5 * time.Second,
		Heartbeat: HeartbeatConfig{
			Interval:        30 * time.Second,
			ViewerActive:    60 * time.Second,
			ClientConnected: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			EAPerMinute: 600,
			EABurst:     20,
			IPPerMinute: 1200,
			IPBurst:     40,
		},
	}
}

// Load builds a Config. path may be empty, in which case only defaults and the
// environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	_ = godotenv.Load()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if val := os.Getenv("ENV"); val != "" {
		c.Env = val
	}
	if val := os.Getenv("DEBUG"); val != "" {
		if debug, err := strconv.ParseBool(val); err == nil {
			c.Debug = debug
		}
	}
	if val := os.Getenv("PORT"); val != "" {
		c.Port = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		c.DBPath = val
	}
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWTSecret = val
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":                  &c.TokenTTL,
		"VIEWER_ACTIVE_THRESHOLD":    &c.Heartbeat.ViewerActive,
		"CLIENT_CONNECTED_THRESHOLD": &c.Heartbeat.ClientConnected,
		"HEARTBEAT_INTERVAL":         &c.Heartbeat.Interval,
	}
	for name, dst := range durations {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = d
	}

	limits := map[string]*int{
		"EA_RATE_LIMIT_PER_MINUTE": &c.RateLimit.EAPerMinute,
		"IP_RATE_LIMIT_PER_MINUTE": &c.RateLimit.IPPerMinute,
	}
	for name, dst := range limits {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Heartbeat.ViewerActive <= 0 || c.Heartbeat.ClientConnected <= 0 {
		return fmt.Errorf("heartbeat thresholds must be positive")
	}
	if c.RateLimit.EAPerMinute < 0 || c.RateLimit.IPPerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
