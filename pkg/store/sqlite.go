// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const kvTable = "vigil_kv"

// SQLiteKV is a durable KV backend over a single SQLite table. SQLite
// serializes writes per database, which satisfies the KV contract's per-key
// write ordering.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV creates a SQLite-backed KV store and ensures schema.
func NewSQLiteKV(db *sql.DB) (*SQLiteKV, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureKVSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteKV{db: db}, nil
}

// OpenSQLiteKV opens (or creates) the database at path and returns a KV
// backed by it.
func OpenSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	kv, err := NewSQLiteKV(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

func ensureKVSchema(db *sql.DB) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL
	);`, kvTable)
	_, err := db.Exec(stmt)
	return err
}

// Set implements KV.
func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (k, v) VALUES (?, ?)
			ON CONFLICT(k) DO UPDATE SET v = excluded.v`, kvTable),
		key, value)
	return err
}

// Get implements KV.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT v FROM %s WHERE k = ?", kvTable), key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

// Delete implements KV.
func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE k = ?", kvTable), key)
	return err
}

// ScanPrefix implements KV using a half-open key range.
func (s *SQLiteKV) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	query := fmt.Sprintf("SELECT k, v FROM %s WHERE k >= ?", kvTable)
	args := []any{prefix}
	if end := prefixEnd(prefix); end != "" {
		query += " AND k < ?"
		args = append(args, end)
	}
	query += " ORDER BY k ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
