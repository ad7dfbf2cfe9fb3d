package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/shinamagazin/shina-audit/pkg/observability"
	"github.com/shinamagazin/shina-audit/pkg/storage"
)

// UserDirectory resolves a user id to the username stored with audit records
type UserDirectory interface {
	// Username reports false when the user does not exist
	Username(ctx context.Context, userID int64) (string, bool, error)
}

// DBUserDirectory reads usernames from the users table
type DBUserDirectory struct {
	db *sql.DB
}

// NewDBUserDirectory creates a directory over db
func NewDBUserDirectory(db *sql.DB) *DBUserDirectory {
	return &DBUserDirectory{db: db}
}

// Username looks up one user
func (d *DBUserDirectory) Username(ctx context.Context, userID int64) (string, bool, error) {
	var username string
	err := d.db.QueryRowContext(ctx, "SELECT username FROM users WHERE id = $1", userID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up user %d: %w", userID, err)
	}
	return username, true, nil
}

// CachedUserDirectory keeps recently resolved usernames in an expiring LRU.
// Unknown users are not cached so a user created later resolves on the next write.
type CachedUserDirectory struct {
	next    UserDirectory
	cache   *lru.LRU[int64, string]
	metrics *observability.Metrics
}

// NewCachedUserDirectory wraps next with a cache of size entries living ttl
func NewCachedUserDirectory(next UserDirectory, size int, ttl time.Duration, metrics *observability.Metrics) *CachedUserDirectory {
	if size < 1 {
		size = 1
	}
	return &CachedUserDirectory{
		next:    next,
		cache:   lru.NewLRU[int64, string](size, nil, ttl),
		metrics: metrics,
	}
}

// Username returns the cached name or asks the wrapped directory
func (c *CachedUserDirectory) Username(ctx context.Context, userID int64) (string, bool, error) {
	if name, ok := c.cache.Get(userID); ok {
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.WithLabelValues(storage.CacheUsernames).Inc()
		}
		return name, true, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(storage.CacheUsernames).Inc()
	}

	name, found, err := c.next.Username(ctx, userID)
	if err != nil || !found {
		return name, found, err
	}
	c.cache.Add(userID, name)
	return name, true, nil
}

// Forget drops a cached username, e.g. after the user is renamed
func (c *CachedUserDirectory) Forget(userID int64) {
	c.cache.Remove(userID)
}
