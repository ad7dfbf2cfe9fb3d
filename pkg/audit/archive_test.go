package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinamagazin/shina-audit/pkg/observability"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}}
}

func (b *memBucket) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

var retentionNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func seedRetention(store *memStore) {
	store.seed(
		Record{EntityType: "Product", Action: ActionCreate, NewValue: Snapshot{"n": 1}, CreatedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		Record{EntityType: "Product", Action: ActionCreate, NewValue: Snapshot{"n": 2}, CreatedAt: time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)},
		Record{EntityType: "Sale", Action: ActionCreate, NewValue: Snapshot{"n": 3}, CreatedAt: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
		Record{EntityType: "Sale", Action: ActionCreate, NewValue: Snapshot{"n": 4}, CreatedAt: time.Date(2024, 6, 29, 9, 0, 0, 0, time.UTC)},
	)
}

func newTestRetention(store RetentionStore, bucket ObjectWriter) (*Retention, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRetention(store, bucket, observability.NopLogger(), metrics)
	r.now = func() time.Time { return retentionNow }
	return r, metrics
}

func TestRetention_PurgeWithoutArchive(t *testing.T) {
	store := newMemStore()
	seedRetention(store)
	r, metrics := newTestRetention(store, nil)

	result, err := r.CleanupOldLogs(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, retentionNow.AddDate(0, 0, -30), result.Cutoff)
	assert.Equal(t, int64(3), result.Purged)
	assert.Zero(t, result.Archived)
	assert.Len(t, store.all(), 1)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RetentionPurgedTotal))
}

func TestRetention_ArchivesPerDayBeforePurge(t *testing.T) {
	store := newMemStore()
	seedRetention(store)
	bucket := newMemBucket()
	r, metrics := newTestRetention(store, bucket)
	r.batchSize = 2

	result, err := r.CleanupOldLogs(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Archived)
	assert.Equal(t, 2, result.Objects)
	assert.Equal(t, int64(3), result.Purged)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RetentionArchivedTotal))

	var day1, day2 int
	for key, data := range bucket.objects {
		lines := countLines(t, data)
		switch {
		case strings.HasPrefix(key, "audit-logs/2024/03/01/"):
			day1 += lines
		case strings.HasPrefix(key, "audit-logs/2024/03/02/"):
			day2 += lines
		default:
			t.Fatalf("unexpected key %s", key)
		}
		assert.True(t, strings.HasSuffix(key, ".ndjson"))
	}
	assert.Equal(t, 2, day1)
	assert.Equal(t, 1, day2)
}

func TestRetention_ArchiveFailureKeepsRecords(t *testing.T) {
	store := newMemStore()
	seedRetention(store)
	bucket := newMemBucket()
	bucket.err = errBoom
	r, _ := newTestRetention(store, bucket)

	_, err := r.CleanupOldLogs(context.Background(), 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, store.all(), 4)
}

func TestRetention_RejectsNonPositiveDays(t *testing.T) {
	r, _ := newTestRetention(newMemStore(), nil)

	_, err := r.CleanupOldLogs(context.Background(), 0)
	assert.Error(t, err)
}

func TestGroupByDay(t *testing.T) {
	records := []Record{
		{ID: 1, CreatedAt: time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)},
		{ID: 2, CreatedAt: time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)},
		{ID: 3, CreatedAt: time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)},
	}

	groups := groupByDay(records)
	require.Len(t, groups, 2)
	assert.Equal(t, []int64{1, 3}, []int64{groups[0].records[0].ID, groups[0].records[1].ID})
	assert.Len(t, groups[1].records, 1)
	assert.NotEqual(t, groups[0].key, groups[1].key)
}

func countLines(t *testing.T, data []byte) int {
	t.Helper()
	n := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		n++
	}
	return n
}
