package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/shinamagazin/shina-audit/pkg/async"
	"github.com/shinamagazin/shina-audit/pkg/contextkeys"
	"github.com/shinamagazin/shina-audit/pkg/observability"
)

// RecorderConfig sizes the background writer
type RecorderConfig struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// Recorder persists audit records in the background. Every Log method
// returns immediately; failures are logged and counted, never returned.
type Recorder struct {
	store    Store
	users    UserDirectory
	registry *FieldRegistry
	pool     *async.WorkerPool
	logger   *observability.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
	now      func() time.Time
}

// NewRecorder starts the worker pool that writes audit records. users may be
// nil, in which case records carry no username. Fields the registry marks
// sensitive are masked before a record is queued.
func NewRecorder(ctx context.Context, store Store, users UserDirectory, registry *FieldRegistry,
	cfg RecorderConfig, logger *observability.Logger, metrics *observability.Metrics) *Recorder {

	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	poolCtx := observability.WithLogger(context.WithoutCancel(ctx), logger)
	r := &Recorder{
		store:    store,
		users:    users,
		registry: registry,
		pool:     async.NewWorkerPoolWithQueue(poolCtx, cfg.Workers, cfg.QueueSize, "audit recorder", cfg.WriteTimeout),
		logger:   logger.WithField("component", "audit_recorder"),
		metrics:  metrics,
		timeout:  cfg.WriteTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}

	go r.drainErrors()
	return r
}

// LogCreate records the creation of an entity
func (r *Recorder) LogCreate(ctx context.Context, entityType string, entityID int64, newValue interface{}, userID *int64) {
	meta := requestMetaFrom(ctx)
	r.dispatch(ctx, ActionCreate, entityType, &entityID, nil, newValue, userID, meta.IPAddress, meta.UserAgent)
}

// LogUpdate records a change of an entity
func (r *Recorder) LogUpdate(ctx context.Context, entityType string, entityID int64, oldValue, newValue interface{}, userID *int64) {
	meta := requestMetaFrom(ctx)
	r.dispatch(ctx, ActionUpdate, entityType, &entityID, oldValue, newValue, userID, meta.IPAddress, meta.UserAgent)
}

// LogDelete records the removal of an entity
func (r *Recorder) LogDelete(ctx context.Context, entityType string, entityID int64, oldValue interface{}, userID *int64) {
	meta := requestMetaFrom(ctx)
	r.dispatch(ctx, ActionDelete, entityType, &entityID, oldValue, nil, userID, meta.IPAddress, meta.UserAgent)
}

// LogWithContext records a change with explicit client metadata, for callers
// that run outside the request that caused the change.
func (r *Recorder) LogWithContext(ctx context.Context, entityType string, entityID *int64, action Action,
	oldValue, newValue interface{}, userID *int64, ipAddress, userAgent string) {
	r.dispatch(ctx, action, entityType, entityID, oldValue, newValue, userID, ipAddress, userAgent)
}

// Pending returns the number of records not yet persisted
func (r *Recorder) Pending() int {
	return r.pool.Pending()
}

// Close stops accepting records and waits up to timeout for queued writes
func (r *Recorder) Close(timeout time.Duration) error {
	return r.pool.Shutdown(timeout)
}

func (r *Recorder) dispatch(ctx context.Context, action Action, entityType string, entityID *int64,
	oldValue, newValue interface{}, userID *int64, ipAddress, userAgent string) {

	log := r.logger.WithFields(map[string]interface{}{
		"entity_type": entityType,
		"action":      string(action),
	})
	if entityID != nil {
		log = log.WithField("entity_id", *entityID)
	}
	defer observability.RecoverPanic(log, "audit dispatch")

	sensitive := r.sensitiveFields(entityType, oldValue, newValue)
	rec := &Record{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OldValue:   Mask(normalize(oldValue), sensitive),
		NewValue:   Mask(normalize(newValue), sensitive),
		UserID:     userID,
		IPAddress:  stringPtr(ipAddress),
		UserAgent:  stringPtr(userAgent),
		CreatedAt:  r.now(),
	}
	if err := rec.Validate(); err != nil {
		log.WithError(err).Error("audit record rejected")
		r.countFailure(rec)
		return
	}

	task := func(taskCtx context.Context) error {
		r.write(taskCtx, log, rec)
		return nil
	}

	if r.pool.TrySubmit(task) {
		r.setQueueDepth()
		return
	}

	// Queue full or pool closed: write on a supervised goroutine instead of
	// blocking the caller.
	if r.metrics != nil {
		r.metrics.AuditDispatchOverflow.Inc()
	}
	detached := observability.WithLogger(context.WithoutCancel(ctx), log)
	async.SafeGoNoError(detached, r.timeout, "audit write", func(taskCtx context.Context) {
		r.write(taskCtx, log, rec)
	})
}

// write resolves the username and appends rec. It never returns an error.
func (r *Recorder) write(ctx context.Context, log *observability.Logger, rec *Record) {
	start := time.Now()
	defer r.setQueueDepth()

	if rec.UserID != nil && r.users != nil {
		name, found, err := r.users.Username(ctx, *rec.UserID)
		switch {
		case err != nil:
			log.WithError(err).WithField("user_id", *rec.UserID).Warn("username lookup failed, recording without username")
		case found:
			rec.Username = stringPtr(name)
		}
	}

	if err := r.store.Append(ctx, rec); err != nil {
		log.WithError(err).Error("failed to persist audit record")
		r.countFailure(rec)
		return
	}

	if r.metrics != nil {
		r.metrics.AuditRecordsTotal.WithLabelValues(rec.EntityType, string(rec.Action)).Inc()
		r.metrics.AuditRecordDuration.Observe(time.Since(start).Seconds())
	}
	log.WithField("audit_id", rec.ID).Debug("audit record persisted")
}

func (r *Recorder) countFailure(rec *Record) {
	if r.metrics != nil {
		r.metrics.AuditRecordFailures.WithLabelValues(rec.EntityType, string(rec.Action)).Inc()
	}
}

func (r *Recorder) setQueueDepth() {
	if r.metrics != nil {
		r.metrics.AuditQueueDepth.Set(float64(r.pool.Pending()))
	}
}

func (r *Recorder) drainErrors() {
	for err := range r.pool.Errors() {
		r.logger.WithError(err).Error("audit worker failed")
	}
}

// sensitiveFields merges the registry's sensitive fields for entityType with
// those declared by Auditable values
func (r *Recorder) sensitiveFields(entityType string, values ...interface{}) []string {
	var names []string
	if r.registry != nil {
		names = r.registry.SensitiveFields(entityType)
	}
	for _, v := range values {
		if entity, ok := v.(Auditable); ok && !isNil(entity) {
			names = mergeNames(names, entity.SensitiveFields())
		}
	}
	return names
}

// normalize converts an arbitrary value into a snapshot. Maps and structs
// are flattened to their fields, anything else is wrapped under "value".
func normalize(v interface{}) Snapshot {
	switch val := v.(type) {
	case nil:
		return nil
	case Snapshot:
		return val.Clone()
	case map[string]interface{}:
		return Snapshot(val).Clone()
	case Auditable:
		return Snapshot(val.AuditMap()).Clone()
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct, reflect.Map:
		data, err := json.Marshal(rv.Interface())
		if err == nil {
			var out Snapshot
			if err := json.Unmarshal(data, &out); err == nil && out != nil {
				return out
			}
		}
		return Snapshot{"value": fmt.Sprint(rv.Interface())}
	default:
		return Snapshot{"value": rv.Interface()}
	}
}

// requestMetaFrom returns the client metadata captured by RequestContextMiddleware
func requestMetaFrom(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	if meta, ok := ctx.Value(contextkeys.RequestMetaKey).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{}
}
