package storage

import "time"

// Config holds the connection settings for every audit backend
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // comma-separated
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// S3 archive config
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
}

// Cache names used as CacheTTL keys
const (
	CacheDistinctValues = "distinct_values"
	CacheUsernames      = "usernames"
)

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			CacheDistinctValues: 5 * time.Minute,
			CacheUsernames:      10 * time.Minute,
		},
	}
}

// TTL returns the configured TTL for a cache, or fallback when unset
func (c Config) TTL(cache string, fallback time.Duration) time.Duration {
	if ttl, ok := c.CacheTTL[cache]; ok && ttl > 0 {
		return ttl
	}
	return fallback
}

// ArchiveEnabled reports whether an S3 archive bucket is configured
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}
