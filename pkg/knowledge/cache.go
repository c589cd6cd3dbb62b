package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lessonforge/pkg/persistence"
)

// ErrNoCachedQueries is returned when no fresh cached queries exist.
var ErrNoCachedQueries = errors.New("no cached queries found")

// QueryCache persists generated retrieval queries per (topic, scene, mode) so
// reruns over the same scene skip query formulation.
type QueryCache struct {
	db  *persistence.DB
	ttl time.Duration
	now func() time.Time
}

// NewQueryCache creates a cache. A zero ttl never expires entries.
func NewQueryCache(db *persistence.DB, ttl time.Duration) *QueryCache {
	return &QueryCache{db: db, ttl: ttl, now: time.Now}
}

// Get returns the cached queries or ErrNoCachedQueries.
func (c *QueryCache) Get(ctx context.Context, topic string, sceneIndex int, mode Mode) ([]string, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoCachedQueries
	}

	var raw string
	var created any
	err := c.db.QueryRowContext(ctx, `
		SELECT queries, created_at
		FROM query_cache
		WHERE topic = ? AND scene_index = ? AND mode = ?
	`, topic, sceneIndex, string(mode)).Scan(&raw, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCachedQueries
		}
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}

	if c.ttl > 0 {
		ts := persistence.ParseTime(created)
		if !ts.IsZero() && c.now().Sub(ts) > c.ttl {
			return nil, ErrNoCachedQueries
		}
	}

	var queries []string
	if err := json.Unmarshal([]byte(raw), &queries); err != nil {
		return nil, fmt.Errorf("corrupt cached queries: %w", err)
	}
	return queries, nil
}

// Put stores queries, replacing any previous entry.
func (c *QueryCache) Put(ctx context.Context, topic string, sceneIndex int, mode Mode, queries []string) error {
	if c == nil || c.db == nil {
		return nil
	}
	raw, err := json.Marshal(queries)
	if err != nil {
		return fmt.Errorf("failed to marshal queries: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO query_cache (topic, scene_index, mode, queries, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, topic, sceneIndex, string(mode), string(raw), c.now().UTC().Format(persistence.TimestampFormat))
	if err != nil {
		return fmt.Errorf("failed to store queries: %w", err)
	}
	return nil
}

// CleanOld removes entries older than the given duration.
func (c *QueryCache) CleanOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := c.now().Add(-olderThan).UTC().Format(persistence.TimestampFormat)
	res, err := c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean query cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
