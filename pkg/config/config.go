package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuditConfig tunes the recorder, the read caches and retention
type AuditConfig struct {
	// Recorder
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration

	// Username lookups
	UserCacheSize int
	UserCacheTTL  time.Duration

	// Field registry overrides (YAML)
	RegistryFile   string
	RegistryReload bool

	// Export
	MaxExportRows int

	// Retention
	RetentionDays      int
	RetentionSchedule  string
	ArchiveBeforePurge bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64

	// Environment names the deployment, e.g. "production" or "staging"
	Environment string
}

// OTel returns the OpenTelemetry settings of the named binary component
func (o ObservabilityConfig) OTel(component string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		Insecure:       o.OTelInsecure,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Environment:    o.Environment,
		Component:      component,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SHINA_AUDIT_HOST", "0.0.0.0"),
		Port:            getEnv("SHINA_AUDIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SHINA_AUDIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SHINA_AUDIT_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("SHINA_AUDIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHINA_AUDIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SHINA_AUDIT_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.PostgresURL = getEnv("SHINA_AUDIT_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("SHINA_AUDIT_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("SHINA_AUDIT_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("SHINA_AUDIT_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("SHINA_AUDIT_POSTGRES_TIMEOUT", cfg.PostgresTimeout)

	cfg.S3Endpoint = getEnv("SHINA_AUDIT_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("SHINA_AUDIT_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("SHINA_AUDIT_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("SHINA_AUDIT_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("SHINA_AUDIT_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3ForcePathStyle = getEnvBool("SHINA_AUDIT_S3_FORCE_PATH_STYLE", cfg.S3ForcePathStyle)

	cfg.RedisURL = getEnv("SHINA_AUDIT_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("SHINA_AUDIT_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("SHINA_AUDIT_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if poolSize := getEnvInt("SHINA_AUDIT_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	cfg.CacheEnabled = getEnvBool("SHINA_AUDIT_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("SHINA_AUDIT_DISTINCT_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL[storage.CacheDistinctValues] = ttl
	}

	return cfg
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Workers:            getEnvInt("SHINA_AUDIT_WORKERS", 4),
		QueueSize:          getEnvInt("SHINA_AUDIT_QUEUE_SIZE", 1024),
		WriteTimeout:       getEnvDuration("SHINA_AUDIT_RECORD_TIMEOUT", 10*time.Second),
		UserCacheSize:      getEnvInt("SHINA_AUDIT_USER_CACHE_SIZE", 1000),
		UserCacheTTL:       getEnvDuration("SHINA_AUDIT_USER_CACHE_TTL", 10*time.Minute),
		RegistryFile:       getEnv("SHINA_AUDIT_REGISTRY_FILE", ""),
		RegistryReload:     getEnvBool("SHINA_AUDIT_REGISTRY_RELOAD", true),
		MaxExportRows:      getEnvInt("SHINA_AUDIT_MAX_EXPORT_ROWS", 10000),
		RetentionDays:      getEnvInt("SHINA_AUDIT_RETENTION_DAYS", 365),
		RetentionSchedule:  getEnv("SHINA_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		ArchiveBeforePurge: getEnvBool("SHINA_AUDIT_ARCHIVE_BEFORE_PURGE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SHINA_AUDIT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SHINA_AUDIT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SHINA_AUDIT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SHINA_AUDIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SHINA_AUDIT_OTEL_SERVICE_NAME", "shina-audit"),
		OTelServiceVersion: getEnv("SHINA_AUDIT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SHINA_AUDIT_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("SHINA_AUDIT_OTEL_SAMPLE_RATIO", 1),
		Environment:        getEnv("SHINA_AUDIT_ENV", "development"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return errors.New("postgres URL is required")
	}

	if c.Audit.Workers < 1 {
		return fmt.Errorf("audit workers must be at least 1, got %d", c.Audit.Workers)
	}
	if c.Audit.QueueSize < 0 {
		return fmt.Errorf("audit queue size must not be negative, got %d", c.Audit.QueueSize)
	}
	if c.Audit.MaxExportRows < 1 {
		return fmt.Errorf("max export rows must be positive, got %d", c.Audit.MaxExportRows)
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("retention days must be positive, got %d", c.Audit.RetentionDays)
	}
	if c.Audit.ArchiveBeforePurge && !c.Storage.ArchiveEnabled() {
		return errors.New("S3 bucket is required when archiving before purge")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns host:port for the API server
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// HealthAddr returns host:port for the health/metrics server
func (s ServerConfig) HealthAddr() string {
	return s.Host + ":" + s.HealthPort
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

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
