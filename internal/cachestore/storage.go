package cachestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DefaultLRUEntries bounds the in-memory front of each cache when the caller
// passes a non-positive size.
const DefaultLRUEntries = 256

// ErrCacheNotFound reports an operation on a cache that does not exist.
var ErrCacheNotFound = errors.New("cache not found")

// Entry is one stored response.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

func (e *Entry) clone() *Entry {
	cp := *e
	cp.Header = e.Header.Clone()
	cp.Body = append([]byte(nil), e.Body...)
	return &cp
}

// Storage holds every named cache in one SQLite database.
type Storage struct {
	db      *sql.DB
	path    string
	lruSize int

	mu     sync.Mutex
	fronts map[string]*lru.Cache[string, *Entry]
}

// Open opens or creates the cache database at path.
func Open(path string, lruEntries int) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if lruEntries <= 0 {
		lruEntries = DefaultLRUEntries
	}

	query := url.Values{}
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", "busy_timeout(5000)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return &Storage{
		db:      db,
		path:    path,
		lruSize: lruEntries,
		fronts:  make(map[string]*lru.Cache[string, *Entry]),
	}, nil
}

// Path returns the database location.
func (s *Storage) Path() string { return s.path }

// Close releases the database handle.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Open returns the named cache, creating it when absent.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if name == "" {
		return nil, errors.New("cache name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &Cache{storage: s, name: name, front: s.front(name)}, nil
}

// Has reports whether the named cache exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM caches WHERE name = ?`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup cache %q: %w", name, err)
	}
	return exists > 0, nil
}

// Keys lists every cache name in sorted order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named cache and its entries. It reports whether a cache
// was removed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	// Handles opened before the delete share this front, so empty it
	// rather than only forgetting it.
	s.mu.Lock()
	if front, ok := s.fronts[name]; ok {
		front.Purge()
		delete(s.fronts, name)
	}
	s.mu.Unlock()

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Storage) front(name string) *lru.Cache[string, *Entry] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if front, ok := s.fronts[name]; ok {
		return front
	}
	front, err := lru.New[string, *Entry](s.lruSize)
	if err != nil {
		// lru.New only fails for non-positive sizes, which Open rules out.
		panic(err)
	}
	s.fronts[name] = front
	return front
}

// Cache is a handle on one named cache.
type Cache struct {
	storage *Storage
	name    string
	front   *lru.Cache[string, *Entry]
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Match returns the entry stored for key.
func (c *Cache) Match(ctx context.Context, key string) (*Entry, bool, error) {
	if entry, ok := c.front.Get(key); ok {
		return entry.clone(), true, nil
	}

	row := c.storage.db.QueryRowContext(ctx,
		`SELECT url, status, header_json, body, stored_at FROM cache_entries WHERE cache_name = ? AND url = ?`,
		c.name, key,
	)
	var (
		entry      Entry
		headerJSON sql.NullString
		storedAt   string
	)
	if err := row.Scan(&entry.URL, &entry.Status, &headerJSON, &entry.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("match %s in %s: %w", key, c.name, err)
	}
	if headerJSON.Valid && headerJSON.String != "" {
		if err := json.Unmarshal([]byte(headerJSON.String), &entry.Header); err != nil {
			return nil, false, fmt.Errorf("decode cached headers: %w", err)
		}
	}
	if entry.Header == nil {
		entry.Header = make(http.Header)
	}
	if ts, err := time.Parse(time.RFC3339Nano, storedAt); err == nil {
		entry.StoredAt = ts
	}
	c.front.Add(key, entry.clone())
	return &entry, true, nil
}

// Put stores entry under its URL, replacing any previous response.
func (c *Cache) Put(ctx context.Context, entry *Entry) error {
	return c.PutAll(ctx, []*Entry{entry})
}

// PutAll stores every entry in one transaction. Either all entries are stored
// or none are.
func (c *Cache) PutAll(ctx context.Context, entries []*Entry) error {
	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM caches WHERE name = ?`, c.name).Scan(&exists); err != nil {
		return fmt.Errorf("lookup cache %q: %w", c.name, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrCacheNotFound, c.name)
	}

	stored := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.URL == "" {
			continue
		}
		cp := entry.clone()
		if cp.StoredAt.IsZero() {
			cp.StoredAt = time.Now().UTC()
		}
		headerJSON, err := json.Marshal(cp.Header)
		if err != nil {
			return fmt.Errorf("encode cached headers: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cache_entries (cache_name, url, status, header_json, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(cache_name, url) DO UPDATE SET
				status = excluded.status,
				header_json = excluded.header_json,
				body = excluded.body,
				stored_at = excluded.stored_at`,
			c.name, cp.URL, cp.Status, string(headerJSON), cp.Body, cp.StoredAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("store %s in %s: %w", cp.URL, c.name, err)
		}
		stored = append(stored, cp)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache write: %w", err)
	}
	for _, entry := range stored {
		c.front.Add(entry.URL, entry)
	}
	return nil
}

// Delete removes the entry for key. Missing entries are ignored.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.front.Remove(key)
	if _, err := c.storage.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = ? AND url = ?`, c.name, key); err != nil {
		return fmt.Errorf("delete %s from %s: %w", key, c.name, err)
	}
	return nil
}

// Keys lists the URLs stored in the cache in sorted order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.storage.db.QueryContext(ctx,
		`SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY url`, c.name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
