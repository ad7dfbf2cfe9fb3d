// Package config loads the audit service configuration from SHINA_AUDIT_*
// environment variables.
//
// Server:
//
//	SHINA_AUDIT_HOST="0.0.0.0"
//	SHINA_AUDIT_PORT="8080"
//	SHINA_AUDIT_HEALTH_PORT="9090"
//
// Storage:
//
//	SHINA_AUDIT_POSTGRES_URL="postgres://localhost/shina?sslmode=disable"
//	SHINA_AUDIT_POSTGRES_REPLICA_URLS="postgres://replica/shina"
//	SHINA_AUDIT_REDIS_URL="redis://localhost:6379/0"
//	SHINA_AUDIT_S3_BUCKET="shina-audit-archive"
//
// Audit:
//
//	SHINA_AUDIT_WORKERS="4"
//	SHINA_AUDIT_QUEUE_SIZE="1024"
//	SHINA_AUDIT_REGISTRY_FILE="/etc/shina/audit-fields.yaml"
//	SHINA_AUDIT_MAX_EXPORT_ROWS="10000"
//	SHINA_AUDIT_RETENTION_DAYS="365"
//
// Observability:
//
//	SHINA_AUDIT_LOG_LEVEL="info"
//	SHINA_AUDIT_OTEL_ENABLED="false"
//
// LoadConfig validates the result and returns an error describing the first
// invalid setting.
package config
