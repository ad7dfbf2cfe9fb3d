package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage/postgres"
)

var tracer = observability.Tracer("audit")

// Store is the append-only audit log
type Store interface {
	// Append persists rec in its own transaction and fills in ID and CreatedAt
	Append(ctx context.Context, rec *Record) error

	// Get returns one record or ErrNotFound
	Get(ctx context.Context, id int64) (*Record, error)

	// FindByEntity returns the full history of one entity, newest first
	FindByEntity(ctx context.Context, entityType string, entityID int64) ([]Record, error)

	// Search returns one page of records matching filter
	Search(ctx context.Context, filter Filter, page PageRequest) (Page[Record], error)

	FindByUser(ctx context.Context, userID int64, page PageRequest) (Page[Record], error)
	FindByDateRange(ctx context.Context, start, end time.Time, page PageRequest) (Page[Record], error)
	FindByUserAndDateRange(ctx context.Context, userID int64, start, end time.Time, page PageRequest) (Page[Record], error)

	// DistinctEntityTypes and DistinctActions return sorted values
	DistinctEntityTypes(ctx context.Context) ([]string, error)
	DistinctActions(ctx context.Context) ([]string, error)

	// PurgeOlderThan deletes records created before cutoff
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionStore is the part of the store used by retention sweeps
type RetentionStore interface {
	// ListOlderThan returns up to limit records created before cutoff with an
	// id greater than afterID, in id order
	ListOlderThan(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]Record, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

const recordColumns = `id, entity_type, entity_id, action, old_value, new_value,
		user_id, username, ip_address, user_agent, created_at`

// Schema creates the audit table and the indexes its queries rely on
const Schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id          BIGSERIAL PRIMARY KEY,
	entity_type VARCHAR(100) NOT NULL,
	entity_id   BIGINT,
	action      VARCHAR(20) NOT NULL,
	old_value   JSONB,
	new_value   JSONB,
	user_id     BIGINT,
	username    VARCHAR(100),
	ip_address  VARCHAR(45),
	user_agent  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs (entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs (user_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs (action);
CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at DESC, id DESC);
`

// sortColumns maps API sort fields to columns
var sortColumns = map[string]string{
	"id":         "id",
	"createdAt":  "created_at",
	"entityType": "entity_type",
	"entityId":   "entity_id",
	"action":     "action",
	"userId":     "user_id",
	"username":   "username",
}

// DBStore implements Store on PostgreSQL. Writes go to the primary and
// queries to a replica.
type DBStore struct {
	conns   *postgres.ConnectionManager
	metrics *observability.Metrics
	now     func() time.Time
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(conns *postgres.ConnectionManager, metrics *observability.Metrics) *DBStore {
	return &DBStore{
		conns:   conns,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the audit table if it does not exist
func (s *DBStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.conns.Primary().ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Append persists rec in its own transaction on the primary
func (s *DBStore) Append(ctx context.Context, rec *Record) (err error) {
	ctx, span := s.startSpan(ctx, "append",
		attribute.String("audit.entity_type", rec.EntityType),
		attribute.String("audit.action", string(rec.Action)))
	defer func(start time.Time) { s.finish(span, "append", start, err) }(time.Now())

	if err := rec.Validate(); err != nil {
		return err
	}

	oldJSON, err := marshalSnapshot(rec.OldValue)
	if err != nil {
		return fmt.Errorf("failed to marshal old value: %w", err)
	}
	newJSON, err := marshalSnapshot(rec.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal new value: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO audit_logs (
			entity_type, entity_id, action, old_value, new_value,
			user_id, username, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		rec.EntityType, rec.EntityID, string(rec.Action), oldJSON, newJSON,
		rec.UserID, rec.Username, rec.IPAddress, rec.UserAgent, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit log: %w", err)
	}
	return nil
}

// Get retrieves one audit record by ID
func (s *DBStore) Get(ctx context.Context, id int64) (rec *Record, err error) {
	ctx, span := s.startSpan(ctx, "get", attribute.Int64("audit.id", id))
	defer func(start time.Time) { s.finish(span, "get", start, ignoreNotFound(err)) }(time.Now())

	row := s.conns.Replica().QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM audit_logs WHERE id = $1", id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindByEntity returns the history of one entity, newest first
func (s *DBStore) FindByEntity(ctx context.Context, entityType string, entityID int64) (records []Record, err error) {
	ctx, span := s.startSpan(ctx, "find_by_entity",
		attribute.String("audit.entity_type", entityType),
		attribute.Int64("audit.entity_id", entityID))
	defer func(start time.Time) { s.finish(span, "find_by_entity", start, err) }(time.Now())

	rows, err := s.conns.Replica().QueryContext(ctx,
		"SELECT "+recordColumns+` FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Search returns one page of records matching filter. The free-text term
// matches the username only, case-insensitively.
func (s *DBStore) Search(ctx context.Context, filter Filter, page PageRequest) (result Page[Record], err error) {
	ctx, span := s.startSpan(ctx, "search")
	defer func(start time.Time) { s.finish(span, "search", start, err) }(time.Now())

	page = page.Normalize()
	where, args := buildWhere(filter)

	var total int64
	if err := s.conns.Replica().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return Page[Record]{}, fmt.Errorf("failed to count audit logs: %w", err)
	}
	span.SetAttributes(attribute.Int64("audit.total", total))

	if total == 0 || int64(page.Offset()) >= total {
		return NewPage[Record](nil, page, total), nil
	}

	argCount := len(args)
	query := "SELECT " + recordColumns + " FROM audit_logs" + where + orderBy(page.Sort)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
	args = append(args, page.Size, page.Offset())

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return Page[Record]{}, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return Page[Record]{}, err
	}
	return NewPage(records, page, total), nil
}

// FindByUser returns the records written by one user
func (s *DBStore) FindByUser(ctx context.Context, userID int64, page PageRequest) (Page[Record], error) {
	return s.Search(ctx, Filter{UserID: &userID}, page)
}

// FindByDateRange returns the records created within [start, end]
func (s *DBStore) FindByDateRange(ctx context.Context, start, end time.Time, page PageRequest) (Page[Record], error) {
	return s.Search(ctx, Filter{From: &start, To: &end}, page)
}

// FindByUserAndDateRange combines the user and date range filters
func (s *DBStore) FindByUserAndDateRange(ctx context.Context, userID int64, start, end time.Time, page PageRequest) (Page[Record], error) {
	return s.Search(ctx, Filter{UserID: &userID, From: &start, To: &end}, page)
}

// DistinctEntityTypes returns every entity type present in the log
func (s *DBStore) DistinctEntityTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "distinct_entity_types", "entity_type")
}

// DistinctActions returns every action present in the log
func (s *DBStore) DistinctActions(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "distinct_actions", "action")
}

func (s *DBStore) distinct(ctx context.Context, operation, column string) (values []string, err error) {
	ctx, span := s.startSpan(ctx, operation)
	defer func(start time.Time) { s.finish(span, operation, start, err) }(time.Now())

	rows, err := s.conns.Replica().QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT %s FROM audit_logs ORDER BY %s", column, column))
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct %s: %w", column, err)
	}
	defer rows.Close()

	values = make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", column, err)
	}
	return values, nil
}

// PurgeOlderThan deletes records created before cutoff. It only touches old
// rows so it can run alongside appends.
func (s *DBStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	ctx, span := s.startSpan(ctx, "purge", attribute.String("audit.cutoff", cutoff.Format(time.RFC3339)))
	defer func(start time.Time) { s.finish(span, "purge", start, err) }(time.Now())

	result, err := s.conns.Primary().ExecContext(ctx, "DELETE FROM audit_logs WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}

	deleted, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged audit logs: %w", err)
	}
	span.SetAttributes(attribute.Int64("audit.deleted", deleted))
	return deleted, nil
}

// ListOlderThan pages through records older than cutoff by id
func (s *DBStore) ListOlderThan(ctx context.Context, cutoff time.Time, afterID int64, limit int) (records []Record, err error) {
	ctx, span := s.startSpan(ctx, "list_older_than")
	defer func(start time.Time) { s.finish(span, "list_older_than", start, err) }(time.Now())

	rows, err := s.conns.Primary().QueryContext(ctx,
		"SELECT "+recordColumns+` FROM audit_logs
		WHERE created_at < $1 AND id > $2
		ORDER BY id
		LIMIT $3`, cutoff, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired audit logs: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *DBStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "audit.store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("db.system", "postgresql"))...))
}

func (s *DBStore) finish(span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.metrics.ObserveStore(operation, start, err)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// likeEscaper makes LIKE wildcards in a search term match literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildWhere turns a filter into a WHERE clause and its arguments
func buildWhere(filter Filter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.EntityType != "" {
		where += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, filter.EntityType)
		argCount++
	}

	if filter.EntityID != nil {
		where += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, *filter.EntityID)
		argCount++
	}

	if filter.Action != "" {
		where += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.UserID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if term := strings.TrimSpace(filter.Search); term != "" {
		where += fmt.Sprintf(` AND LOWER(username) LIKE $%d ESCAPE '\'`, argCount)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(term))+"%")
		argCount++
	}

	if filter.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}

	if filter.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.To)
	}

	return where, args
}

// orderBy renders the sort of a page. Unknown fields are dropped and id
// DESC is appended as the tiebreak unless id is already sorted on.
func orderBy(sort []SortOrder) string {
	var parts []string
	hasID := false
	for _, o := range sort {
		column, ok := sortColumns[o.Field]
		if !ok {
			continue
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, column+" "+dir)
		if column == "id" {
			hasID = true
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "created_at DESC")
	}
	if !hasID {
		parts = append(parts, "id DESC")
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func marshalSnapshot(s Snapshot) (interface{}, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec              Record
		action           string
		oldJSON, newJSON []byte
	)

	err := row.Scan(
		&rec.ID, &rec.EntityType, &rec.EntityID, &action, &oldJSON, &newJSON,
		&rec.UserID, &rec.Username, &rec.IPAddress, &rec.UserAgent, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan audit log: %w", err)
	}
	rec.Action = Action(action)

	if len(oldJSON) > 0 {
		if err := json.Unmarshal(oldJSON, &rec.OldValue); err != nil {
			return rec, fmt.Errorf("failed to unmarshal old value of audit log %d: %w", rec.ID, err)
		}
	}
	if len(newJSON) > 0 {
		if err := json.Unmarshal(newJSON, &rec.NewValue); err != nil {
			return rec, fmt.Errorf("failed to unmarshal new value of audit log %d: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return records, nil
}
