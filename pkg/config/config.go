package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. HUTCH_SERVER_PORT, HUTCH_WORKER_IMAGE.
const EnvPrefix = "hutch"

// Config is the full gateway configuration. Values are layered:
// code defaults, then the optional YAML file, then environment
// variables with the HUTCH_ prefix.
type Config struct {
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT"`

	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	CORS    CORSConfig    `yaml:"cors"`
	Limits  LimitsConfig  `yaml:"limits"`
	Policy  PolicyConfig  `yaml:"policy"`
	Auth    AuthConfig    `yaml:"auth"`
	Session SessionConfig `yaml:"session"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// ServerConfig controls the public HTTP listener.
type ServerConfig struct {
	Host      string `yaml:"host" envconfig:"HOST"`
	Port      int    `yaml:"port" envconfig:"PORT"`
	PublicURL string `yaml:"public_url" envconfig:"PUBLIC_URL"`

	// Read/idle timeouts for the listener. The write timeout stays
	// unset: hijacked WebSocket tunnels inherit socket deadlines, and
	// a write deadline would kill long-lived HMR connections.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL"`
	JSON  bool   `yaml:"json" envconfig:"JSON"`
}

// CORSConfig controls cross-origin access for the API surface.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
}

// LimitsConfig controls request-side backpressure.
type LimitsConfig struct {
	// MaxBodyBytes caps request bodies; file maps can be large.
	MaxBodyBytes int64 `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`

	// RatePerMinute and RateBurst drive the per-IP token bucket
	// applied to the /api/ prefix only.
	RatePerMinute int `yaml:"rate_per_minute" envconfig:"RATE_PER_MINUTE"`
	RateBurst     int `yaml:"rate_burst" envconfig:"RATE_BURST"`
}

// PolicyConfig locates the external policy store / identity provider.
type PolicyConfig struct {
	BaseURL    string        `yaml:"base_url" envconfig:"BASE_URL"`
	ServiceKey string        `yaml:"service_key" envconfig:"SERVICE_KEY"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// AuthConfig controls the authentication pipeline.
type AuthConfig struct {
	// DevBypass stubs a wildcard-permission user. Honored only when
	// Environment is not "production"; see Config.DevBypassActive.
	DevBypass bool `yaml:"dev_bypass" envconfig:"DEV_BYPASS"`
}

// SessionConfig controls session lifecycle and the port pool.
type SessionConfig struct {
	MaxSessions int `yaml:"max_sessions" envconfig:"MAX_SESSIONS"`

	PortMin int `yaml:"port_min" envconfig:"PORT_MIN"`
	PortMax int `yaml:"port_max" envconfig:"PORT_MAX"`

	// IdleTimeoutMS is the idle window before the reaper stops a
	// session, in milliseconds.
	IdleTimeoutMS   int           `yaml:"idle_timeout_ms" envconfig:"IDLE_TIMEOUT_MS"`
	ReapInterval    time.Duration `yaml:"reap_interval" envconfig:"REAP_INTERVAL"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout" envconfig:"READY_TIMEOUT"`
	MonitorInterval time.Duration `yaml:"monitor_interval" envconfig:"MONITOR_INTERVAL"`

	// WorkDirBase is the host directory under which per-session work
	// directories are created.
	WorkDirBase string `yaml:"workdir_base" envconfig:"WORKDIR_BASE"`

	LogRingCap     int `yaml:"log_ring_cap" envconfig:"LOG_RING_CAP"`
	LogTailDefault int `yaml:"log_tail_default" envconfig:"LOG_TAIL_DEFAULT"`
}

// IdleTimeout returns the reap window as a duration.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

// WorkerConfig describes the worker containers the driver launches.
type WorkerConfig struct {
	Image   string   `yaml:"image" envconfig:"IMAGE"`
	Network string   `yaml:"network" envconfig:"NETWORK"`
	DNS     []string `yaml:"dns" envconfig:"DNS"`

	MemoryMB            int64  `yaml:"memory_mb" envconfig:"MEMORY_MB"`
	MemoryReservationMB int64  `yaml:"memory_reservation_mb" envconfig:"MEMORY_RESERVATION_MB"`
	CPUPercent          int    `yaml:"cpu_percent" envconfig:"CPU_PERCENT"`
	CPUShares           int64  `yaml:"cpu_shares" envconfig:"CPU_SHARES"`
	PidsLimit           int64  `yaml:"pids_limit" envconfig:"PIDS_LIMIT"`
	DiskMB              int64  `yaml:"disk_mb" envconfig:"DISK_MB"`
	EnableDiskQuota     bool   `yaml:"enable_disk_quota" envconfig:"ENABLE_DISK_QUOTA"`
	BlkioWeight         uint16 `yaml:"blkio_weight" envconfig:"BLKIO_WEIGHT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			PublicURL:         "http://localhost:8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"http://localhost:3000"},
			AllowCredentials: true,
		},
		Limits: LimitsConfig{
			MaxBodyBytes:  10 * 1024 * 1024,
			RatePerMinute: 100,
			RateBurst:     20,
		},
		Policy: PolicyConfig{
			BaseURL: "http://localhost:9090",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			MaxSessions:     50,
			PortMin:         4200,
			PortMax:         4299,
			IdleTimeoutMS:   300000,
			ReapInterval:    30 * time.Second,
			ReadyTimeout:    30 * time.Second,
			MonitorInterval: 10 * time.Second,
			WorkDirBase:     filepath.Join(os.TempDir(), "hutch-sessions"),
			LogRingCap:      500,
			LogTailDefault:  100,
		},
		Worker: WorkerConfig{
			Image:               "hutch-worker:latest",
			Network:             "hutch-previews",
			MemoryMB:            256,
			MemoryReservationMB: 128,
			CPUPercent:          25,
			CPUShares:           256,
			PidsLimit:           64,
			DiskMB:              100,
			EnableDiskQuota:     false,
			BlkioWeight:         300,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then HUTCH_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Session.PortMin < 1 || c.Session.PortMax > 65535 {
		return fmt.Errorf("port range [%d, %d] out of bounds", c.Session.PortMin, c.Session.PortMax)
	}
	if c.Session.PortMin > c.Session.PortMax {
		return fmt.Errorf("port range inverted: min %d > max %d", c.Session.PortMin, c.Session.PortMax)
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("max sessions must be positive, got %d", c.Session.MaxSessions)
	}
	if c.Session.IdleTimeoutMS <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %dms", c.Session.IdleTimeoutMS)
	}
	if c.Session.ReadyTimeout <= 0 {
		return fmt.Errorf("ready timeout must be positive, got %s", c.Session.ReadyTimeout)
	}
	if c.Session.LogRingCap < 1 {
		return fmt.Errorf("log ring cap must be positive, got %d", c.Session.LogRingCap)
	}
	if c.Worker.Image == "" {
		return fmt.Errorf("worker image must not be empty")
	}
	if c.Worker.MemoryMB < 4 {
		return fmt.Errorf("worker memory %dMB too small", c.Worker.MemoryMB)
	}
	if c.Worker.CPUPercent < 1 || c.Worker.CPUPercent > 100 {
		return fmt.Errorf("worker cpu percent must be in [1, 100], got %d", c.Worker.CPUPercent)
	}
	if c.Limits.MaxBodyBytes < 1 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.Limits.MaxBodyBytes)
	}
	if c.Limits.RatePerMinute < 1 {
		return fmt.Errorf("rate per minute must be positive, got %d", c.Limits.RatePerMinute)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// DevBypassActive reports whether the development auth bypass is in
// effect. The flag is ignored in production regardless of its value.
func (c *Config) DevBypassActive() bool {
	return c.Auth.DevBypass && c.Environment != "production"
}
