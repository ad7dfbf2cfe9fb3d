// Package storage holds the backend configuration shared by the audit store,
// the Redis cache and the S3 archive. The concrete clients live in
// pkg/storage/postgres.
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/shina?sslmode=disable"
//	cfg.PostgresReplicaURLs = "postgres://replica-1/shina,postgres://replica-2/shina"
//	cfg.RedisURL = "redis://localhost:6379/0"
//	cfg.S3Bucket = "shina-audit-archive"
//
// Writes always go to the primary. Reads are spread across replicas when any
// are configured and fall back to the primary otherwise.
package storage
