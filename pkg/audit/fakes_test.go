package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests
type memStore struct {
	mu        sync.Mutex
	records   []Record
	nextID    int64
	appendErr error
	appended  chan struct{}
}

func newMemStore() *memStore {
	return &memStore{appended: make(chan struct{}, 100)}
}

func (m *memStore) Append(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.appended <- struct{}{} }()

	if m.appendErr != nil {
		return m.appendErr
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memStore) all() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *memStore) Get(ctx context.Context, id int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) FindByEntity(ctx context.Context, entityType string, entityID int64) ([]Record, error) {
	page, err := m.Search(ctx, Filter{EntityType: entityType, EntityID: &entityID}, PageRequest{Size: MaxPageSize})
	return page.Content, err
}

func (m *memStore) Search(ctx context.Context, filter Filter, page PageRequest) (Page[Record], error) {
	page = page.Normalize()

	m.mu.Lock()
	var matched []Record
	for _, r := range m.records {
		if filter.EntityType != "" && r.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != nil && (r.EntityID == nil || *r.EntityID != *filter.EntityID) {
			continue
		}
		if filter.Action != "" && string(r.Action) != filter.Action {
			continue
		}
		if filter.UserID != nil && (r.UserID == nil || *r.UserID != *filter.UserID) {
			continue
		}
		if term := strings.ToLower(strings.TrimSpace(filter.Search)); term != "" &&
			(r.Username == nil || !strings.Contains(strings.ToLower(*r.Username), term)) {
			continue
		}
		if filter.From != nil && r.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, r)
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return NewPage(matched[start:end], page, total), nil
}

func (m *memStore) FindByUser(ctx context.Context, userID int64, page PageRequest) (Page[Record], error) {
	return m.Search(ctx, Filter{UserID: &userID}, page)
}

func (m *memStore) FindByDateRange(ctx context.Context, start, end time.Time, page PageRequest) (Page[Record], error) {
	return m.Search(ctx, Filter{From: &start, To: &end}, page)
}

func (m *memStore) FindByUserAndDateRange(ctx context.Context, userID int64, start, end time.Time, page PageRequest) (Page[Record], error) {
	return m.Search(ctx, Filter{UserID: &userID, From: &start, To: &end}, page)
}

func (m *memStore) DistinctEntityTypes(ctx context.Context) ([]string, error) {
	return m.distinct(func(r Record) string { return r.EntityType }), nil
}

func (m *memStore) DistinctActions(ctx context.Context) ([]string, error) {
	return m.distinct(func(r Record) string { return string(r.Action) }), nil
}

func (m *memStore) distinct(field func(Record) string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, r := range m.records {
		v := field(r)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

func (m *memStore) ListOlderThan(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.CreatedAt.Before(cutoff) && r.ID > afterID {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// staticUsers is a UserDirectory backed by a map
type staticUsers struct {
	mu    sync.Mutex
	names map[int64]string
	calls int
	err   error
}

func (s *staticUsers) Username(ctx context.Context, userID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", false, s.err
	}
	name, ok := s.names[userID]
	return name, ok, nil
}

// testPrincipal satisfies the actor interface
type testPrincipal struct {
	id int64
}

func (p *testPrincipal) ActorID() (int64, bool) { return p.id, p.id != 0 }

type panickyPrincipal struct{}

func (panickyPrincipal) ActorID() (int64, bool) { panic("broken principal") }

// product is a sample Auditable entity
type product struct {
	ID       int64
	Name     string
	Price    int
	Password string
}

func (p *product) AuditEntityType() string { return "Product" }
func (p *product) AuditEntityID() int64    { return p.ID }
func (p *product) AuditMap() map[string]interface{} {
	return map[string]interface{}{"name": p.Name, "price": p.Price, "password": p.Password}
}
func (p *product) SensitiveFields() []string { return []string{"password"} }

var errBoom = errors.New("boom")

// waitAppended blocks until n appends were attempted or the deadline passes
func (m *memStore) waitAppended(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-m.appended:
		case <-deadline:
			return false
		}
	}
	return true
}

// seed inserts records without signalling appended
func (m *memStore) seed(recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.nextID++
		if rec.ID == 0 {
			rec.ID = m.nextID
		}
		m.records = append(m.records, rec)
	}
}

// mapCache is an in-process DistinctCache
type mapCache struct {
	mu     sync.Mutex
	values map[string][]string
	gets   int
}

func newMapCache() *mapCache {
	return &mapCache{values: map[string][]string{}}
}

func (c *mapCache) Get(ctx context.Context, key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.values[key]
	return v, ok
}

func (c *mapCache) Set(ctx context.Context, key string, values []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = values
}

func (c *mapCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[string][]string{}
}
