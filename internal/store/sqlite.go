package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	_ "modernc.org/sqlite"
)

// schemaSQL creates the single entries table. The composite primary key gives
// per-(region, key) uniqueness; INSERT OR REPLACE implements last-write-wins.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	region     TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	is_json    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (region, key)
);
`

// Compile-time interface check.
var _ ContentStore = (*SQLiteStore)(nil)

// SQLiteStore is the production [ContentStore], backed by an embedded SQLite
// database (modernc.org/sqlite, no cgo). Content is durable across process
// restarts and fully usable offline.
//
// Safe for concurrent use: WAL mode allows multiple readers alongside a
// single writer, and a busy timeout makes concurrent writers wait instead of
// failing immediately.
type SQLiteStore struct {
	db     *sql.DB
	dir    string // directory holding the database file; "" for in-memory
	closed atomic.Bool
}

// OpenSQLite opens (creating if necessary) the store database at path.
// Pass ":memory:" for a volatile database, e.g. in tests.
//
// An error here means the store never becomes ready; callers should surface
// it rather than retry.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := ""
	if path != "" && path != ":memory:" && !strings.Contains(path, "://") {
		dir = filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("store: create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite supports one writer at a time but multiple readers in WAL mode.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialise schema: %w", err)
	}

	return &SQLiteStore{db: db, dir: dir}, nil
}

// ready returns ErrNotReady when the store has been closed.
func (s *SQLiteStore) ready() error {
	if s.closed.Load() {
		return ErrNotReady
	}
	return nil
}

// put writes or overwrites an entry, refreshing its creation timestamp.
func (s *SQLiteStore) put(ctx context.Context, region Region, key string, payload []byte, isJSON bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !region.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRegion, region)
	}
	j := 0
	if isJSON {
		j = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (region, key, payload, is_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(region), key, payload, j, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", region, key, err)
	}
	return nil
}

// PutBytes writes or overwrites a binary entry.
func (s *SQLiteStore) PutBytes(ctx context.Context, region Region, key string, payload []byte) error {
	return s.put(ctx, region, key, payload, false)
}

// PutJSON marshals value and writes or overwrites the entry.
func (s *SQLiteStore) PutJSON(ctx context.Context, region Region, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", region, key, err)
	}
	return s.put(ctx, region, key, data, true)
}

// GetBytes returns the payload under (region, key), or false when absent.
func (s *SQLiteStore) GetBytes(ctx context.Context, region Region, key string) ([]byte, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM entries WHERE region = ? AND key = ?`,
		string(region), key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", region, key, err)
	}
	return payload, true, nil
}

// GetJSON unmarshals the stored JSON value into out, or returns false when
// the key is absent.
func (s *SQLiteStore) GetJSON(ctx context.Context, region Region, key string, out any) (bool, error) {
	payload, ok, err := s.GetBytes(ctx, region, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("store: unmarshal %s/%s: %w", region, key, err)
	}
	return true, nil
}

// Delete removes the entry under (region, key). Absent keys succeed silently.
func (s *SQLiteStore) Delete(ctx context.Context, region Region, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE region = ? AND key = ?`,
		string(region), key,
	); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", region, key, err)
	}
	return nil
}

// Keys returns all keys present in region.
func (s *SQLiteStore) Keys(ctx context.Context, region Region) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM entries WHERE region = ?`, string(region),
	)
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", region, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: keys %s: %w", region, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", region, err)
	}
	return keys, nil
}

// ClearAll wipes every region.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("store: clear all: %w", err)
	}
	return nil
}

// Usage reports the database size (page_count × page_size) as UsedBytes and
// the capacity of the volume holding the database as QuotaBytes. Both are
// best-effort: a telemetry failure yields zeros, never an error.
func (s *SQLiteStore) Usage(ctx context.Context) (Usage, error) {
	if err := s.ready(); err != nil {
		return Usage{}, err
	}

	var u Usage

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err == nil {
			u.UsedBytes = uint64(pageCount) * uint64(pageSize)
		}
	}

	if s.dir != "" {
		if du, err := disk.Usage(s.dir); err == nil {
			u.QuotaBytes = du.Total
		}
	}

	return u, nil
}

// Close releases the database. Subsequent operations fail with [ErrNotReady].
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
