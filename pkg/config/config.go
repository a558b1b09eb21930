package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/idsync/pkg/assertion"
	"github.com/platinummonkey/idsync/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Provider holds identity-provider settings, loaded from the YAML file
	// named by IDSYNC_PROVIDER_CONFIG_FILE.
	Provider ProviderConfig

	// Reconcile configuration
	Reconcile ReconcileConfig

	// Session configuration
	Session SessionConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int

	// CacheEnabled turns on the record read-through cache.
	CacheEnabled bool
	// CacheTTL bounds staleness of cached records.
	CacheTTL time.Duration
}

// ProviderConfig holds identity-provider settings
type ProviderConfig struct {
	SAML *assertion.SAMLConfig `yaml:"saml"`
	OIDC *assertion.OIDCConfig `yaml:"oidc"`

	// AllowLoginFallback permits the non-SSO login path when set.
	AllowLoginFallback bool `yaml:"allow_login_fallback"`
}

// ReconcileConfig holds the reconciliation engine settings
type ReconcileConfig struct {
	// FieldMapping is the comma-separated list of
	// "localField=providerField" rules.
	FieldMapping string
	// UsernameFields is the comma-separated, ordered list of local fields
	// account names are derived from.
	UsernameFields string
	// CapitalizeUsername upper-cases each contributing field value.
	CapitalizeUsername bool
	// DefaultGroup is added to every account unconditionally.
	DefaultGroup string
	// ExternalIDProperty is the account field carrying the provider name
	// identifier.
	ExternalIDProperty string
	// AccountNamespace is the namespace all accounts are created in.
	AccountNamespace string
	// AccountClass is the record class for accounts.
	AccountClass string
	// GroupNamespace is the namespace group records live in.
	GroupNamespace string
	// ManagedGroupsProperty is the account field recording provider-managed
	// groups.
	ManagedGroupsProperty string
}

// FieldMappingRules splits FieldMapping into individual rules.
func (c ReconcileConfig) FieldMappingRules() []string {
	return splitList(c.FieldMapping)
}

// UsernameFieldOrder splits UsernameFields into the ordered field list.
func (c ReconcileConfig) UsernameFieldOrder() []string {
	return splitList(c.UsernameFields)
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// SessionConfig holds login session settings
type SessionConfig struct {
	TTL time.Duration
	// CookieName carries the session ID to the browser.
	CookieName string
	// CookieSecure sets the Secure flag on the session cookie.
	CookieSecure bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Reconcile:     loadReconcileConfig(),
		Session:       loadSessionConfig(),
		Observability: loadObservabilityConfig(),
	}

	providerFile := getEnv("IDSYNC_PROVIDER_CONFIG_FILE", "")
	if providerFile != "" {
		provider, err := loadProviderConfig(providerFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load provider config: %w", err)
		}
		cfg.Provider = *provider
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IDSYNC_HOST", "0.0.0.0"),
		Port:            getEnv("IDSYNC_PORT", "8080"),
		BaseURL:         getEnv("IDSYNC_BASE_URL", "http://localhost:8080"),
		ReadTimeout:     getEnvDuration("IDSYNC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IDSYNC_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDSYNC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IDSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("IDSYNC_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("IDSYNC_POSTGRES_URL", ""),
		MaxConns:    getEnvInt("IDSYNC_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("IDSYNC_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("IDSYNC_POSTGRES_TIMEOUT", 30*time.Second),
		MaxLifetime: getEnvDuration("IDSYNC_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("IDSYNC_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("IDSYNC_REDIS_URL", "localhost:6379"),
		Password:     getEnv("IDSYNC_REDIS_PASSWORD", ""),
		DB:           getEnvInt("IDSYNC_REDIS_DB", 0),
		PoolSize:     getEnvInt("IDSYNC_REDIS_POOL_SIZE", 10),
		MaxRetries:   getEnvInt("IDSYNC_REDIS_MAX_RETRIES", 3),
		CacheEnabled: getEnvBool("IDSYNC_CACHE_ENABLED", true),
		CacheTTL:     getEnvDuration("IDSYNC_CACHE_TTL", 5*time.Minute),
	}
}

// loadReconcileConfig loads reconciliation settings from environment
func loadReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		FieldMapping:          getEnv("IDSYNC_FIELD_MAPPING", "email=email,first_name=firstName,last_name=lastName"),
		UsernameFields:        getEnv("IDSYNC_USERNAME_FIELDS", "first_name,last_name"),
		CapitalizeUsername:    getEnvBool("IDSYNC_CAPITALIZE_USERNAME", true),
		DefaultGroup:          getEnv("IDSYNC_DEFAULT_GROUP", "ExternalUsers"),
		ExternalIDProperty:    getEnv("IDSYNC_EXTERNAL_ID_PROPERTY", "external_id"),
		AccountNamespace:      getEnv("IDSYNC_ACCOUNT_NAMESPACE", "users"),
		AccountClass:          getEnv("IDSYNC_ACCOUNT_CLASS", "account"),
		GroupNamespace:        getEnv("IDSYNC_GROUP_NAMESPACE", "groups"),
		ManagedGroupsProperty: getEnv("IDSYNC_MANAGED_GROUPS_PROPERTY", "managed_groups"),
	}
}

// loadSessionConfig loads session settings from environment
func loadSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:          getEnvDuration("IDSYNC_SESSION_TTL", 12*time.Hour),
		CookieName:   getEnv("IDSYNC_SESSION_COOKIE", "idsync_session"),
		CookieSecure: getEnvBool("IDSYNC_SESSION_COOKIE_SECURE", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("IDSYNC_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("IDSYNC_METRICS_ENABLED", true),
	}
}

// loadProviderConfig reads identity-provider settings from a YAML file
func loadProviderConfig(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var provider ProviderConfig
	if err := yaml.Unmarshal(data, &provider); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &provider, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Reconcile.AccountNamespace == "" {
		return fmt.Errorf("account namespace is required")
	}
	if c.Reconcile.ExternalIDProperty == "" {
		return fmt.Errorf("external ID property is required")
	}
	if c.Reconcile.ManagedGroupsProperty == "" {
		return fmt.Errorf("managed groups property is required")
	}
	if len(c.Reconcile.UsernameFieldOrder()) == 0 {
		return fmt.Errorf("at least one username field is required")
	}

	if c.Provider.SAML == nil && c.Provider.OIDC == nil {
		return fmt.Errorf("at least one identity provider (saml or oidc) is required")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
