package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// MemoryCache is a process-local cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Person
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Person)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Person, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[key]
	return p, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, p Person) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = p
	return nil
}

// RedisCache stores entries as JSON under a key prefix with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. ttl of zero keeps entries forever.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "potoo-mailer:directory:", ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Person, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Person{}, false, nil
	}
	if err != nil {
		return Person{}, false, fmt.Errorf("redis get: %w", err)
	}
	var p Person
	if err := json.Unmarshal(raw, &p); err != nil {
		return Person{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, p Person) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SQLiteCache persists entries in a local SQLite file (ldap_cache_file).
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens or creates the cache file.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)
	const schema = `CREATE TABLE IF NOT EXISTS directory_cache (
		key TEXT PRIMARY KEY,
		entry TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (Person, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT entry FROM directory_cache WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, false, nil
	}
	if err != nil {
		return Person{}, false, fmt.Errorf("sqlite get: %w", err)
	}
	var p Person
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Person{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return p, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, p Person) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO directory_cache (key, entry, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET entry = excluded.entry, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
