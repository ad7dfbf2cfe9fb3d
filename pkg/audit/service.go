package audit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shinamagazin/shina-audit/pkg/observability"
)

const (
	// DefaultExportRows is the row cap used when the caller gives none
	DefaultExportRows = 10000

	exportPageSize    = MaxPageSize
	exportConcurrency = 4
)

// ActivityFilter narrows a user's activity feed
type ActivityFilter struct {
	EntityType string
	Action     string
	From       *time.Time
	To         *time.Time
}

// Service is the read side of the audit trail used by the HTTP handlers
type Service struct {
	store         Store
	registry      *FieldRegistry
	cache         DistinctCache
	logger        *observability.Logger
	maxExportRows int
}

// NewService creates a query service. cache may be nil.
func NewService(store Store, registry *FieldRegistry, cache DistinctCache, maxExportRows int,
	logger *observability.Logger) *Service {

	if registry == nil {
		registry = DefaultFieldRegistry()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if maxExportRows <= 0 {
		maxExportRows = DefaultExportRows
	}
	return &Service{
		store:         store,
		registry:      registry,
		cache:         cache,
		logger:        logger,
		maxExportRows: maxExportRows,
	}
}

// Search returns one page of records matching filter
func (s *Service) Search(ctx context.Context, filter Filter, page PageRequest) (Page[Record], error) {
	return s.store.Search(ctx, filter, page)
}

// EntityHistory returns every record of one entity, newest first
func (s *Service) EntityHistory(ctx context.Context, entityType string, entityID int64) ([]Record, error) {
	return s.store.FindByEntity(ctx, entityType, entityID)
}

// UserHistory returns the records written by one user
func (s *Service) UserHistory(ctx context.Context, userID int64, page PageRequest) (Page[Record], error) {
	return s.store.FindByUser(ctx, userID, page)
}

// DateRange returns the records created between start and end inclusive
func (s *Service) DateRange(ctx context.Context, start, end time.Time, page PageRequest) (Page[Record], error) {
	return s.store.FindByDateRange(ctx, start, end, page)
}

// UserActivity returns the activity feed of one user
func (s *Service) UserActivity(ctx context.Context, userID int64, filter ActivityFilter,
	page PageRequest) (Page[UserActivity], error) {

	var records Page[Record]
	var err error
	if filter.EntityType == "" && filter.Action == "" && filter.From != nil && filter.To != nil {
		records, err = s.store.FindByUserAndDateRange(ctx, userID, *filter.From, *filter.To, page)
	} else {
		records, err = s.store.Search(ctx, Filter{
			UserID:     &userID,
			EntityType: filter.EntityType,
			Action:     filter.Action,
			From:       filter.From,
			To:         filter.To,
		}, page)
	}
	if err != nil {
		return Page[UserActivity]{}, err
	}
	return MapPage(records, BuildUserActivity), nil
}

// Detail returns one record with field changes, device info and entity link
func (s *Service) Detail(ctx context.Context, id int64) (Detail, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return BuildDetail(s.registry, *rec), nil
}

// EntityTypes returns the distinct entity types present in the log
func (s *Service) EntityTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, distinctEntityTypesKey, s.store.DistinctEntityTypes)
}

// Actions returns the distinct actions present in the log
func (s *Service) Actions(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, distinctActionsKey, s.store.DistinctActions)
}

func (s *Service) distinct(ctx context.Context, key string, load func(context.Context) ([]string, error)) ([]string, error) {
	if s.cache != nil {
		if values, ok := s.cache.Get(ctx, key); ok {
			return values, nil
		}
	}

	values, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, values)
	}
	return values, nil
}

// ExportRows returns up to maxRecords rows matching filter in display order.
// maxRecords is clamped to the configured export cap.
func (s *Service) ExportRows(ctx context.Context, filter Filter, maxRecords int) ([]ExportRow, error) {
	if maxRecords <= 0 || maxRecords > s.maxExportRows {
		maxRecords = s.maxExportRows
	}

	first, err := s.store.Search(ctx, filter, PageRequest{Page: 0, Size: exportPageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to load export page 0: %w", err)
	}

	limit := int(first.TotalElements)
	if limit > maxRecords {
		limit = maxRecords
	}
	pageCount := (limit + exportPageSize - 1) / exportPageSize

	pages := make([][]Record, pageCount)
	if pageCount > 0 {
		pages[0] = first.Content
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for i := 1; i < pageCount; i++ {
		i := i
		g.Go(func() error {
			page, err := s.store.Search(gctx, filter, PageRequest{Page: i, Size: exportPageSize})
			if err != nil {
				return fmt.Errorf("failed to load export page %d: %w", i, err)
			}
			pages[i] = page.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]ExportRow, 0, limit)
	for _, content := range pages {
		for _, rec := range content {
			if len(rows) == limit {
				break
			}
			rows = append(rows, NewExportRow(rec))
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"rows":  len(rows),
		"pages": pageCount,
	}).Debug("audit export assembled")

	return rows, nil
}
