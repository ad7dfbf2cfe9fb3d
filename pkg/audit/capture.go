package audit

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/shinamagazin/shina-audit/pkg/contextkeys"
	"github.com/shinamagazin/shina-audit/pkg/observability"
)

// Auditable is implemented by domain entities that take part in auditing
type Auditable interface {
	AuditEntityType() string
	AuditEntityID() int64
	// AuditMap projects the entity onto its audited fields
	AuditMap() map[string]interface{}
	// SensitiveFields names the fields masked before storage
	SensitiveFields() []string
}

// Loader fetches the persisted version of an entity. It returns nil and no
// error when the entity does not exist.
type Loader func(ctx context.Context, id int64) (Auditable, error)

// Sink receives captured changes. *Recorder is the production Sink.
type Sink interface {
	LogWithContext(ctx context.Context, entityType string, entityID *int64, action Action,
		oldValue, newValue interface{}, userID *int64, ipAddress, userAgent string)
}

// Hook turns entity lifecycle events into audit records. It never panics and
// never returns an error to the business operation.
type Hook struct {
	sink     Sink
	registry *FieldRegistry
	loaders  map[string]Loader
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewHook creates a capture hook. loaders maps an entity type to the function
// that fetches its persisted version for updates.
func NewHook(sink Sink, registry *FieldRegistry, loaders map[string]Loader,
	logger *observability.Logger, metrics *observability.Metrics) *Hook {

	if logger == nil {
		logger = observability.NopLogger()
	}
	copied := make(map[string]Loader, len(loaders))
	for k, v := range loaders {
		copied[k] = v
	}
	return &Hook{
		sink:     sink,
		registry: registry,
		loaders:  copied,
		logger:   logger.WithField("component", "audit_hook"),
		metrics:  metrics,
	}
}

// OnCreate records a newly persisted entity
func (h *Hook) OnCreate(ctx context.Context, entity Auditable) {
	h.capture(ctx, ActionCreate, entity, func() (Snapshot, Snapshot, error) {
		return nil, h.snapshot(entity), nil
	})
}

// OnUpdate records a pending update. The old state is read from the
// persisted version because pending already holds the new values. The event
// is skipped when no persisted version exists.
func (h *Hook) OnUpdate(ctx context.Context, pending Auditable) {
	h.capture(ctx, ActionUpdate, pending, func() (Snapshot, Snapshot, error) {
		load, ok := h.loaders[pending.AuditEntityType()]
		if !ok {
			return nil, nil, errSkip("no_loader")
		}
		current, err := load(ctx, pending.AuditEntityID())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load persisted %s: %w", pending.AuditEntityType(), err)
		}
		if isNil(current) {
			return nil, nil, errSkip("not_found")
		}
		return h.snapshot(current), h.snapshot(pending), nil
	})
}

// OnDelete records an entity about to be removed
func (h *Hook) OnDelete(ctx context.Context, entity Auditable) {
	h.capture(ctx, ActionDelete, entity, func() (Snapshot, Snapshot, error) {
		return h.snapshot(entity), nil, nil
	})
}

type skipError string

func (e skipError) Error() string { return "capture skipped: " + string(e) }

func errSkip(reason string) error { return skipError(reason) }

func (h *Hook) capture(ctx context.Context, action Action, entity Auditable, snapshots func() (Snapshot, Snapshot, error)) {
	if isNil(entity) {
		return
	}

	var entityType string
	log := h.logger.WithField("action", string(action))
	defer observability.RecoverPanicWithCallback(log, "audit capture", func(interface{}) {
		h.skipped(entityType, "panic")
	})

	entityType = entity.AuditEntityType()
	entityID := entity.AuditEntityID()
	log = log.WithFields(map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
	})

	oldValue, newValue, err := snapshots()
	if err != nil {
		if reason, ok := err.(skipError); ok {
			log.WithField("reason", string(reason)).Warn("audit capture skipped")
			h.skipped(entityType, string(reason))
			return
		}
		log.WithError(err).Error("audit capture failed")
		h.skipped(entityType, "load_failed")
		return
	}

	meta := requestMetaFrom(ctx)
	h.sink.LogWithContext(ctx, entityType, &entityID, action, snapshotValue(oldValue), snapshotValue(newValue),
		CurrentActor(ctx), meta.IPAddress, meta.UserAgent)
}

// snapshot projects entity and masks every field marked sensitive by the
// entity or the registry
func (h *Hook) snapshot(entity Auditable) Snapshot {
	fields := Snapshot(entity.AuditMap())
	if fields == nil {
		fields = Snapshot{}
	}

	sensitive := entity.SensitiveFields()
	if h.registry != nil {
		sensitive = mergeNames(sensitive, h.registry.SensitiveFields(entity.AuditEntityType()))
	}
	return Mask(fields, sensitive)
}

func (h *Hook) skipped(entityType, reason string) {
	if h.metrics != nil {
		h.metrics.AuditCaptureSkipped.WithLabelValues(entityType, reason).Inc()
	}
}

// snapshotValue keeps a nil snapshot as an untyped nil
func snapshotValue(s Snapshot) interface{} {
	if s == nil {
		return nil
	}
	return s
}

func mergeNames(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, n := range a {
		seen[n] = struct{}{}
	}
	for _, n := range b {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// actor is satisfied by the authenticated principal stored in the context
type actor interface {
	ActorID() (int64, bool)
}

// CurrentActor returns the id of the authenticated principal in ctx, or nil
// for system changes. It never panics.
func CurrentActor(ctx context.Context) (id *int64) {
	defer func() {
		if recover() != nil {
			id = nil
		}
	}()

	if ctx == nil {
		return nil
	}
	p, ok := ctx.Value(contextkeys.PrincipalKey).(actor)
	if !ok || isNil(p) {
		return nil
	}
	if v, ok := p.ActorID(); ok {
		return &v
	}
	return nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
