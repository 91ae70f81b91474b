package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS caches (
	name TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	cache_name TEXT NOT NULL,
	key TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL,
	body BLOB,
	stored_at TEXT NOT NULL,
	PRIMARY KEY (cache_name, key)
);`

// sqliteStorage 将全部命名缓存保存在同一个 SQLite 文件中。
type sqliteStorage struct {
	db *sql.DB
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

// OpenSQLiteStorage 打开（必要时创建）path 指向的 SQLite 缓存库；":memory:" 用于测试。
func OpenSQLiteStorage(path string) (Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite 单写者；":memory:" 还要求所有查询共享同一连接
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ensureCache(ctx, s.db, name); err != nil {
		return nil, err
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY name`)
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
	return names, rows.Err()
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache_name = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Close closes the underlying SQLite database.
func (s *sqliteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (c *sqliteCache) Name() string {
	return c.name
}

func (c *sqliteCache) Match(ctx context.Context, key string) (*Snapshot, error) {
	var (
		status   int
		header   string
		body     []byte
		storedAt string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE cache_name = ? AND key = ?`,
		c.name, key,
	).Scan(&status, &header, &body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("match entry: %w", err)
	}

	snap := &Snapshot{Status: status, Body: body, Header: http.Header{}}
	if err := json.Unmarshal([]byte(header), &snap.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if parsed, err := time.Parse(timeFormat, storedAt); err == nil {
		snap.StoredAt = parsed
	}
	return snap, nil
}

func (c *sqliteCache) Put(ctx context.Context, key string, snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot required")
	}
	header, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	if err := ensureCache(ctx, c.db, c.name); err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO entries (cache_name, key, status, header, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (cache_name, key) DO UPDATE SET
	status = excluded.status,
	header = excluded.header,
	body = excluded.body,
	stored_at = excluded.stored_at`,
		c.name, key, snap.Status, string(header), snap.Body, storedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

func (c *sqliteCache) Remove(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE cache_name = ? AND key = ?`, c.name, key); err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key FROM entries WHERE cache_name = ? ORDER BY key`, c.name)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
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

func ensureCache(ctx context.Context, db *sql.DB, name string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		name, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("ensure cache: %w", err)
	}
	return nil
}
