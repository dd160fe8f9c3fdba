package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const createRecordsTable = `CREATE TABLE IF NOT EXISTS kv_records (
    k          VARCHAR(255)    NOT NULL PRIMARY KEY,
    version    BIGINT UNSIGNED NOT NULL,
    value      JSON            NOT NULL,
    expires_at DATETIME        NOT NULL,
    INDEX idx_kv_records_expires_at (expires_at)
)`

// MySQLStore keeps records as rows of the kv_records table.  Expired rows
// are invisible to reads; they are overwritten by the next Put.
type MySQLStore struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
}

// NewMySQLStore returns a store bound to db.  Call EnsureSchema once before
// first use.
func NewMySQLStore(db *sql.DB, opts Options) *MySQLStore {
	return &MySQLStore{db: db, opts: opts.withDefaults(), now: time.Now}
}

// EnsureSchema creates the kv_records table when it does not exist.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createRecordsTable); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

func (s *MySQLStore) expiresAt() time.Time {
	return s.now().UTC().Add(s.opts.TTL).Truncate(time.Second)
}

func (s *MySQLStore) Get(ctx context.Context, key string) (VersionedRecord, error) {
	const q = `SELECT version, value FROM kv_records WHERE k = ? AND expires_at > UTC_TIMESTAMP()`
	var (
		rec   VersionedRecord
		value []byte
	)
	err := s.db.QueryRowContext(ctx, q, s.opts.scoped(key)).Scan(&rec.Version, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionedRecord{}, ErrNotFound
	}
	if err != nil {
		return VersionedRecord{}, unavailable("get", err)
	}
	rec.Value = value
	return rec, nil
}

func (s *MySQLStore) Put(ctx context.Context, key string, rec VersionedRecord) error {
	const q = `INSERT INTO kv_records (k, version, value, expires_at) VALUES (?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE version = VALUES(version), value = VALUES(value), expires_at = VALUES(expires_at)`
	if _, err := s.db.ExecContext(ctx, q, s.opts.scoped(key), rec.Version, string(rec.Value), s.expiresAt()); err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (s *MySQLStore) PutIfVersion(ctx context.Context, key string, expected uint64, rec VersionedRecord) error {
	const q = `UPDATE kv_records SET version = ?, value = ?, expires_at = ?
               WHERE k = ? AND version = ? AND expires_at > UTC_TIMESTAMP()`
	full := s.opts.scoped(key)
	res, err := s.db.ExecContext(ctx, q, rec.Version, string(rec.Value), s.expiresAt(), full, expected)
	if err != nil {
		return unavailable("put if version", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("put if version", err)
	}
	if n > 0 {
		return nil
	}
	// Nothing updated: either the row is gone or another writer moved the
	// version forward.
	var current uint64
	err = s.db.QueryRowContext(ctx,
		`SELECT version FROM kv_records WHERE k = ? AND expires_at > UTC_TIMESTAMP()`, full,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable("put if version", err)
	}
	return ErrConflict
}

func (s *MySQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_records WHERE k = ?`, s.opts.scoped(key)); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *MySQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	const q = `SELECT k FROM kv_records WHERE k LIKE ? AND expires_at > UTC_TIMESTAMP()`
	rows, err := s.db.QueryContext(ctx, q, escapeLike(s.opts.scoped(prefix))+"%")
	if err != nil {
		return nil, unavailable("keys", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("keys", err)
		}
		keys = append(keys, s.opts.unscoped(k))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("keys", err)
	}
	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
