package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motionmatch/internal/motion/database"
)

// CacheInfo describes a stored motion database cache without its blob.
type CacheInfo struct {
	CacheID     string `json:"cache_id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	BuildID     string `json:"build_id"`
	BlobBytes   int64  `json:"blob_bytes"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

var _ database.CacheStore = (*DB)(nil)

// SaveCache inserts or replaces the cache stored under e.Name. The cache_id
// and created_at of an existing row are kept.
func (db *DB) SaveCache(e *database.CacheEntry) error {
	if e == nil || e.Name == "" {
		return fmt.Errorf("cache entry requires a name")
	}
	now := time.Now().UnixNano()
	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO motion_caches (
				cache_id, name, fingerprint, build_id, blob, blob_bytes, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				fingerprint = excluded.fingerprint,
				build_id    = excluded.build_id,
				blob        = excluded.blob,
				blob_bytes  = excluded.blob_bytes,
				updated_at  = excluded.updated_at`,
			uuid.New().String(), e.Name, e.Fingerprint, e.BuildID, e.Blob, len(e.Blob), now, now,
		)
		return err
	})
}

// LoadCache returns the cache stored under name, or database.ErrCacheMiss.
func (db *DB) LoadCache(name string) (*database.CacheEntry, error) {
	e := &database.CacheEntry{Name: name}
	err := db.QueryRow(`
		SELECT fingerprint, build_id, blob FROM motion_caches WHERE name = ?`, name,
	).Scan(&e.Fingerprint, &e.BuildID, &e.Blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache %q: %w", name, err)
	}
	return e, nil
}

// ListCaches returns the stored caches ordered by name.
func (db *DB) ListCaches() ([]CacheInfo, error) {
	rows, err := db.Query(`
		SELECT cache_id, name, fingerprint, build_id, blob_bytes, created_at, updated_at
		FROM motion_caches ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var caches []CacheInfo
	for rows.Next() {
		var c CacheInfo
		if err := rows.Scan(&c.CacheID, &c.Name, &c.Fingerprint, &c.BuildID, &c.BlobBytes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		caches = append(caches, c)
	}
	return caches, rows.Err()
}

// DeleteCache removes the cache stored under name. Deleting a missing cache
// returns database.ErrCacheMiss.
func (db *DB) DeleteCache(name string) error {
	res, err := db.Exec(`DELETE FROM motion_caches WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete cache %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return database.ErrCacheMiss
	}
	return nil
}
