package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shinamagazin/shina-audit/pkg/async"
	"github.com/shinamagazin/shina-audit/pkg/observability"
)

const (
	defaultArchiveBatch = 1000
	archiveWorkers      = 4
	archiveTimeout      = 30 * time.Second
	archivePrefix       = "audit-logs"
)

// ObjectWriter stores archive objects. *postgres.S3Client satisfies it.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// RetentionResult summarizes one retention sweep
type RetentionResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived int       `json:"archived"`
	Objects  int       `json:"objects"`
	Purged   int64     `json:"purged"`
}

// Retention deletes records older than the retention window, optionally
// copying them to object storage first. Nothing is deleted when an archive
// upload fails.
type Retention struct {
	store     RetentionStore
	archive   ObjectWriter
	logger    *observability.Logger
	metrics   *observability.Metrics
	batchSize int
	now       func() time.Time
}

// NewRetention creates a retention sweeper. archive may be nil.
func NewRetention(store RetentionStore, archive ObjectWriter, logger *observability.Logger,
	metrics *observability.Metrics) *Retention {

	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Retention{
		store:     store,
		archive:   archive,
		logger:    logger,
		metrics:   metrics,
		batchSize: defaultArchiveBatch,
		now:       time.Now,
	}
}

// CleanupOldLogs removes records created more than daysToKeep days ago
func (r *Retention) CleanupOldLogs(ctx context.Context, daysToKeep int) (RetentionResult, error) {
	if daysToKeep <= 0 {
		return RetentionResult{}, fmt.Errorf("days to keep must be positive, got %d", daysToKeep)
	}

	result := RetentionResult{Cutoff: r.now().UTC().AddDate(0, 0, -daysToKeep)}
	log := r.logger.WithField("cutoff", result.Cutoff.Format(time.RFC3339))

	if r.archive != nil {
		archived, objects, err := r.archiveOlderThan(ctx, result.Cutoff)
		result.Archived, result.Objects = archived, objects
		if err != nil {
			return result, fmt.Errorf("archive failed, nothing purged: %w", err)
		}
		log.WithFields(map[string]interface{}{
			"archived": archived,
			"objects":  objects,
		}).Info("audit records archived")
	}

	purged, err := r.store.PurgeOlderThan(ctx, result.Cutoff)
	if err != nil {
		return result, err
	}
	result.Purged = purged

	if r.metrics != nil {
		r.metrics.RetentionPurgedTotal.Add(float64(purged))
		r.metrics.RetentionLastRun.SetToCurrentTime()
	}
	log.WithField("purged", purged).Info("audit retention sweep complete")
	return result, nil
}

// archiveObject is one NDJSON file of records created on the same UTC day
type archiveObject struct {
	key     string
	records []Record
}

func (r *Retention) archiveOlderThan(ctx context.Context, cutoff time.Time) (archived, objects int, err error) {
	var afterID int64
	for {
		batch, err := r.store.ListOlderThan(ctx, cutoff, afterID, r.batchSize)
		if err != nil {
			return archived, objects, err
		}
		if len(batch) == 0 {
			return archived, objects, nil
		}

		groups := groupByDay(batch)
		errs := async.Batch(ctx, groups, archiveWorkers, "audit archive upload", archiveTimeout,
			func(ctx context.Context, obj archiveObject) error {
				return r.upload(ctx, obj)
			})
		if len(errs) > 0 {
			return archived, objects, errors.Join(errs...)
		}

		archived += len(batch)
		objects += len(groups)
		if r.metrics != nil {
			r.metrics.RetentionArchivedTotal.Add(float64(len(batch)))
		}

		afterID = batch[len(batch)-1].ID
		if len(batch) < r.batchSize {
			return archived, objects, nil
		}
	}
}

func (r *Retention) upload(ctx context.Context, obj archiveObject) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, rec := range obj.records {
		if err := encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", rec.ID, err)
		}
	}
	if err := r.archive.PutObject(ctx, obj.key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return fmt.Errorf("failed to upload %s: %w", obj.key, err)
	}
	return nil
}

// groupByDay splits records into one archive object per UTC creation day,
// keeping their order
func groupByDay(records []Record) []archiveObject {
	var objects []archiveObject
	index := make(map[string]int)

	for _, rec := range records {
		day := rec.CreatedAt.UTC().Format("2006/01/02")
		i, ok := index[day]
		if !ok {
			i = len(objects)
			index[day] = i
			objects = append(objects, archiveObject{
				key: fmt.Sprintf("%s/%s/%s.ndjson", archivePrefix, day, uuid.NewString()),
			})
		}
		objects[i].records = append(objects[i].records, rec)
	}
	return objects
}
