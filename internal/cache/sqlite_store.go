package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generations (
	name       TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	generation TEXT NOT NULL,
	method     TEXT NOT NULL,
	url        TEXT NOT NULL,
	payload    BLOB NOT NULL,
	PRIMARY KEY (generation, method, url)
);`

// SQLiteMemory 作为 path 传入时使用进程内数据库，主要用于测试。
const SQLiteMemory = ":memory:"

// NewSQLiteStorage 打开位于 path 的 SQLite 数据库并确保表结构存在。
func NewSQLiteStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("sqlite storage path is required")
	}

	dsn := path + "?_pragma=busy_timeout(5000)"
	if path != SQLiteMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite storage: %w", err)
	}
	// SQLite 同一时刻只允许一个写者；内存库也依赖单连接保持同一份数据。
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	defer tx.Rollback()

	entries, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE generation = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete generation %s entries: %w", name, err)
	}
	marker, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}

	removedEntries, _ := entries.RowsAffected()
	removedMarker, _ := marker.RowsAffected()
	return removedEntries > 0 || removedMarker > 0, nil
}

func (s *sqliteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM generations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
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

func (s *sqliteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (c *sqliteCache) Name() string {
	return c.name
}

func (c *sqliteCache) Match(ctx context.Context, key Key) (*Entry, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM entries WHERE generation = ? AND method = ? AND url = ?`,
		c.name, key.Method, key.URL).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite match: %w", err)
	}
	rec, err := decodeRecord(payload)
	if err != nil {
		return nil, err
	}
	return rec.Entry, nil
}

func (c *sqliteCache) Put(ctx context.Context, key Key, entry *Entry) error {
	if err := validateEntry(key, entry); err != nil {
		return err
	}
	payload, err := encodeRecord(key, entry)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO entries (generation, method, url, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT (generation, method, url) DO UPDATE SET payload = excluded.payload`,
		c.name, key.Method, key.URL, payload)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]Key, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT method, url FROM entries WHERE generation = ?`, c.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var key Key
		if err := rows.Scan(&key.Method, &key.URL); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortKeys(keys)
	return keys, nil
}
