package retrieval

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/storage"
)

var embedCacheMigrations = []storage.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS embed_cache (
    content_hash TEXT PRIMARY KEY,
    file_path TEXT NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    model_name TEXT NOT NULL,
    cached_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    hit_count INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_embed_cache_file ON embed_cache(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_embed_cache_model ON embed_cache(model_name)`,
	}},
}

// ContentHash keys a cache entry: sha-256 over model name plus chunk
// content, so switching embedding models never reuses stale vectors.
func ContentHash(content, modelName string) string {
	sum := sha256.Sum256([]byte(modelName + ":" + content))
	return hex.EncodeToString(sum[:])
}

// EmbedCache tracks which chunks the code index has already embedded, so
// reindex runs skip unchanged content.
type EmbedCache struct {
	db *storage.DB
}

// CacheEntry is one embedded chunk record.
type CacheEntry struct {
	ContentHash string `json:"content_hash"`
	FilePath    string `json:"file_path"`
	ChunkIndex  int    `json:"chunk_index"`
	ModelName   string `json:"model_name"`
	CachedAt    string `json:"cached_at"`
	HitCount    int    `json:"hit_count"`
}

// OpenEmbedCache opens (or creates) embed_cache.db at path.
func OpenEmbedCache(ctx context.Context, path string) (*EmbedCache, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, embedCacheMigrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &EmbedCache{db: db}, nil
}

// OpenEmbedCacheMemory opens an in-memory cache for tests.
func OpenEmbedCacheMemory(ctx context.Context) (*EmbedCache, error) {
	db, err := storage.OpenMemory()
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db, embedCacheMigrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &EmbedCache{db: db}, nil
}

// Close closes the underlying database.
func (c *EmbedCache) Close() error { return c.db.Close() }

// Has reports whether contentHash is cached.
func (c *EmbedCache) Has(ctx context.Context, contentHash string) (bool, error) {
	var one int
	err := c.db.Handle().QueryRowContext(ctx,
		"SELECT 1 FROM embed_cache WHERE content_hash = ?", contentHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, derrors.StorageUnavailable(err)
	}
	return true, nil
}

// Get returns the entry and bumps its hit count; nil when absent.
func (c *EmbedCache) Get(ctx context.Context, contentHash string) (*CacheEntry, error) {
	err := c.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE embed_cache SET hit_count = hit_count + 1 WHERE content_hash = ?",
			contentHash)
		return err
	})
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}

	var entry CacheEntry
	err = c.db.Handle().QueryRowContext(ctx,
		`SELECT content_hash, file_path, chunk_index, model_name, cached_at, hit_count
         FROM embed_cache WHERE content_hash = ?`, contentHash).
		Scan(&entry.ContentHash, &entry.FilePath, &entry.ChunkIndex,
			&entry.ModelName, &entry.CachedAt, &entry.HitCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, derrors.StorageUnavailable(err)
	}
	return &entry, nil
}

// Put inserts or replaces an entry.
func (c *EmbedCache) Put(ctx context.Context, contentHash, filePath string, chunkIndex int, modelName string) error {
	err := c.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO embed_cache
             (content_hash, file_path, chunk_index, model_name)
             VALUES (?, ?, ?, ?)`,
			contentHash, filePath, chunkIndex, modelName)
		return err
	})
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// Invalidate removes all entries for a file. Returns the rows removed.
func (c *EmbedCache) Invalidate(ctx context.Context, filePath string) (int64, error) {
	var removed int64
	err := c.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM embed_cache WHERE file_path = ?", filePath)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, derrors.StorageUnavailable(err)
	}
	return removed, nil
}

// Clear drops every entry. A full index rebuild invalidates all cached
// chunk hashes at once.
func (c *EmbedCache) Clear(ctx context.Context) error {
	err := c.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM embed_cache")
		return err
	})
	if err != nil {
		return derrors.StorageUnavailable(err)
	}
	return nil
}

// CacheStats summarizes the cache.
type CacheStats struct {
	TotalEntries int      `json:"total_entries"`
	TotalHits    int      `json:"total_hits"`
	Models       []string `json:"models"`
}

// Stats counts entries and hits across all models.
func (c *EmbedCache) Stats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{Models: []string{}}
	if err := c.db.Handle().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embed_cache").Scan(&stats.TotalEntries); err != nil {
		return CacheStats{}, derrors.StorageUnavailable(err)
	}
	if err := c.db.Handle().QueryRowContext(ctx,
		"SELECT COALESCE(SUM(hit_count), 0) FROM embed_cache").Scan(&stats.TotalHits); err != nil {
		return CacheStats{}, derrors.StorageUnavailable(err)
	}

	rows, err := c.db.Handle().QueryContext(ctx,
		"SELECT DISTINCT model_name FROM embed_cache ORDER BY model_name")
	if err != nil {
		return CacheStats{}, derrors.StorageUnavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		if err := rows.Scan(&model); err != nil {
			return CacheStats{}, derrors.StorageUnavailable(err)
		}
		stats.Models = append(stats.Models, model)
	}
	return stats, rows.Err()
}

// Prune removes entries older than the given number of days.
func (c *EmbedCache) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	var removed int64
	err := c.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM embed_cache
             WHERE cached_at < strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ? || ' days')`,
			-olderThanDays)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, derrors.StorageUnavailable(err)
	}
	return removed, nil
}
