// Package config loads application configuration from environment
// variables, prefixed VK_.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/psychon7/vibe-kanban/pkg/observability"
	"github.com/psychon7/vibe-kanban/pkg/storage"
)

// Catalog strategies.
const (
	StrategyJoin   = "join"
	StrategyStatic = "static"
)

// Ownership strategies for the own-variant permission keys.
const (
	OwnershipAlways = "always"
	OwnershipField  = "field"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Redis         RedisConfig
	Authz         AuthzConfig
	Invitations   InvitationConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Ops server for probes and metrics, on its own port.
	OpsPort string

	// BaseURL is the public URL used in invitation accept links.
	BaseURL string
}

// RedisConfig holds the optional cache tier settings.
type RedisConfig struct {
	URL string
}

// AuthzConfig selects the permission catalog strategy.
type AuthzConfig struct {
	// Strategy is "join" (catalog tables) or "static" (fixed in-code
	// tiers).
	Strategy string

	// LocalMode injects a fixed admin principal instead of reading
	// identity headers, and treats every caller as the owner of every
	// resource. Single-tenant installs only.
	LocalMode bool

	// AllowRoleManagement mounts the catalog mutation endpoints.
	AllowRoleManagement bool

	// OwnershipStrategy is "always" (every caller owns every
	// resource) or "field" (a created_by column decides). Local mode
	// always behaves as "always".
	OwnershipStrategy string

	// PermissionCacheSize is the local LRU capacity for resolved
	// grants.
	PermissionCacheSize int

	// PermissionCacheTTL bounds staleness of the shared Redis tier.
	PermissionCacheTTL time.Duration
}

// InvitationConfig tunes the invitation lifecycle.
type InvitationConfig struct {
	TTL           time.Duration
	SweepSchedule string
	WebhookURL    string
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Redis:         RedisConfig{URL: getEnv("VK_REDIS_URL", "")},
		Authz:         loadAuthzConfig(),
		Invitations:   loadInvitationConfig(),
		Observability: loadObservabilityConfig(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("VK_HOST", "0.0.0.0"),
		Port:            getEnv("VK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("VK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("VK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("VK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("VK_SHUTDOWN_TIMEOUT", 30*time.Second),
		OpsPort:         getEnv("VK_OPS_PORT", "9090"),
		BaseURL:         getEnv("VK_BASE_URL", "http://localhost:8080"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Driver = getEnv("VK_DB_DRIVER", storage.DriverPostgres)
	cfg.DSN = getEnv("VK_DB_DSN", "")
	if maxConns := getEnvInt("VK_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("VK_DB_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if lifetime := getEnvDuration("VK_DB_CONN_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	return cfg
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		Strategy:            getEnv("VK_AUTHZ_STRATEGY", StrategyJoin),
		LocalMode:           getEnvBool("VK_LOCAL_MODE", false),
		AllowRoleManagement: getEnvBool("VK_ALLOW_ROLE_MANAGEMENT", false),
		OwnershipStrategy:   getEnv("VK_OWNERSHIP_STRATEGY", OwnershipAlways),
		PermissionCacheSize: getEnvInt("VK_PERMISSION_CACHE_SIZE", 1024),
		PermissionCacheTTL:  getEnvDuration("VK_PERMISSION_CACHE_TTL", 30*time.Second),
	}
}

func loadInvitationConfig() InvitationConfig {
	return InvitationConfig{
		TTL:           getEnvDuration("VK_INVITATION_TTL", 7*24*time.Hour),
		SweepSchedule: getEnv("VK_INVITATION_SWEEP_SCHEDULE", "@hourly"),
		WebhookURL:    getEnv("VK_INVITATION_WEBHOOK_URL", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("VK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("VK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("VK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("VK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("VK_OTEL_SERVICE_NAME", "vibe-kanban"),
		OTelServiceVersion: getEnv("VK_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("VK_OTEL_INSECURE", true),
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	switch c.Authz.Strategy {
	case StrategyJoin, StrategyStatic:
	default:
		return fmt.Errorf("invalid authz strategy: %q", c.Authz.Strategy)
	}
	switch c.Authz.OwnershipStrategy {
	case OwnershipAlways, OwnershipField:
	default:
		return fmt.Errorf("invalid ownership strategy: %q", c.Authz.OwnershipStrategy)
	}
	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Server.Port == c.Server.OpsPort {
		return fmt.Errorf("server and ops ports must differ")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
