package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SHINA_TEST_STR", "custom")
	t.Setenv("SHINA_TEST_BOOL", "1")
	t.Setenv("SHINA_TEST_INT", "42")
	t.Setenv("SHINA_TEST_BAD_INT", "forty")
	t.Setenv("SHINA_TEST_DURATION", "90s")

	assert.Equal(t, "custom", getEnv("SHINA_TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("SHINA_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("SHINA_TEST_BOOL", false))
	assert.True(t, getEnvBool("SHINA_TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("SHINA_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("SHINA_TEST_BAD_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("SHINA_TEST_DURATION", time.Second))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SHINA_AUDIT_POSTGRES_URL", "postgres://localhost/shina")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HealthAddr())
	assert.Equal(t, 4, cfg.Audit.Workers)
	assert.Equal(t, 1024, cfg.Audit.QueueSize)
	assert.Equal(t, 10000, cfg.Audit.MaxExportRows)
	assert.Equal(t, 365, cfg.Audit.RetentionDays)
	assert.Equal(t, "0 3 * * *", cfg.Audit.RetentionSchedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "shina-audit", cfg.Observability.OTelServiceName)
	assert.Equal(t, 5*time.Minute, cfg.Storage.TTL(storage.CacheDistinctValues, 0))
}

func TestObservabilityConfig_OTel(t *testing.T) {
	t.Setenv("SHINA_AUDIT_POSTGRES_URL", "postgres://localhost/shina")
	t.Setenv("SHINA_AUDIT_ENV", "production")
	t.Setenv("SHINA_AUDIT_OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	otelCfg := cfg.Observability.OTel("retention")
	assert.Equal(t, "shina-audit", otelCfg.ServiceName)
	assert.Equal(t, "production", otelCfg.Environment)
	assert.Equal(t, "retention", otelCfg.Component)
	assert.InDelta(t, 0.25, otelCfg.SampleRatio, 1e-9)
	assert.True(t, otelCfg.Insecure)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SHINA_AUDIT_POSTGRES_URL", "postgres://primary/shina")
	t.Setenv("SHINA_AUDIT_POSTGRES_REPLICA_URLS", "postgres://r1/shina")
	t.Setenv("SHINA_AUDIT_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("SHINA_AUDIT_WORKERS", "8")
	t.Setenv("SHINA_AUDIT_REGISTRY_FILE", "/etc/shina/fields.yaml")
	t.Setenv("SHINA_AUDIT_DISTINCT_CACHE_TTL", "30s")
	t.Setenv("SHINA_AUDIT_LOG_LEVEL", "debug")
	t.Setenv("SHINA_AUDIT_S3_BUCKET", "audit-archive")
	t.Setenv("SHINA_AUDIT_ARCHIVE_BEFORE_PURGE", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://r1/shina", cfg.Storage.PostgresReplicaURLs)
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, 8, cfg.Audit.Workers)
	assert.Equal(t, "/etc/shina/fields.yaml", cfg.Audit.RegistryFile)
	assert.Equal(t, 30*time.Second, cfg.Storage.TTL(storage.CacheDistinctValues, 0))
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Audit.ArchiveBeforePurge)
}

func validConfig() Config {
	st := storage.DefaultConfig()
	st.PostgresURL = "postgres://localhost/shina"
	return Config{
		Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage: st,
		Audit: AuditConfig{
			Workers:       2,
			QueueSize:     10,
			MaxExportRows: 100,
			RetentionDays: 30,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing server port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "missing health port", mutate: func(c *Config) { c.Server.HealthPort = "" }, wantErr: "health port is required"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = "8080" }, wantErr: "server port and health port must be different"},
		{name: "missing postgres", mutate: func(c *Config) { c.Storage.PostgresURL = "" }, wantErr: "postgres URL is required"},
		{name: "zero workers", mutate: func(c *Config) { c.Audit.Workers = 0 }, wantErr: "audit workers must be at least 1, got 0"},
		{name: "zero retention", mutate: func(c *Config) { c.Audit.RetentionDays = 0 }, wantErr: "retention days must be positive, got 0"},
		{name: "archive without bucket", mutate: func(c *Config) { c.Audit.ArchiveBeforePurge = true }, wantErr: "S3 bucket is required when archiving before purge"},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "shina-audit"
			},
			wantErr: "OpenTelemetry endpoint is required when OTel is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
