// Package audit records an immutable trail of entity changes for the shop
// and serves it back as searchable history, per-change detail and exports.
//
// # Overview
//
// Every CREATE, UPDATE and DELETE of a business entity becomes one Record
// holding the old and new field snapshots, the acting user and the client
// IP and user agent. Records are written off the request path and never
// fail the change that produced them.
//
// # Capture
//
// Entities implement Auditable. A Hook turns persistence events into
// recorder calls, masking sensitive fields and reloading the stored
// version on update:
//
//	hook := audit.NewHook(recorder, registry, map[string]audit.Loader{
//		"Product": loadProduct,
//	}, logger, metrics)
//	hook.OnUpdate(ctx, product)
//
// Explicit calls are also available:
//
//	recorder.LogUpdate(ctx, "Customer", id, before, after, audit.CurrentActor(ctx))
//
// Services running out of process submit a ChangeEvent to
// POST /v1/audit-logs/events, which requires the AUDIT_WRITE permission.
//
// # Reading
//
// Service answers search, entity history, user activity and date range
// queries. Detail expands a record into FieldChanges with labels and
// display-formatted values from the FieldRegistry, plus DeviceInfo parsed
// from the user agent and a UI link to the entity.
//
// # Retention
//
// Retention.CleanupOldLogs deletes records past the retention window,
// optionally writing them to object storage as one NDJSON file per day
// first.
package audit
