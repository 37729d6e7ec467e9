// Package store implements the key-value collaborator the engine persists
// through: records addressed by (partition key, sort key), range queries by
// sort-key prefix, and atomic field updates.
//
// The backing store is SQLite. Record bodies are JSON documents; counter
// increments and field sets are applied with json_set inside a single UPDATE
// so they are atomic under the store's single-writer connection.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record matches the requested key pair
var ErrNotFound = errors.New("record not found")

// sqlNow stamps updated_at with millisecond precision; CURRENT_TIMESTAMP only
// resolves to seconds, which is too coarse for recency ordering of writes
// landing in the same second.
const sqlNow = "strftime('%Y-%m-%d %H:%M:%f','now')"

// Record is one stored item
type Record struct {
	PartitionKey string
	SortKey      string
	Body         []byte // JSON document
	Content      string // plain text indexed for full-text search, may be empty
	UpdatedAt    time.Time
}

// Store wraps a SQLite database connection
type Store struct {
	conn *sql.DB
}

// Open creates a store at dbPath and initializes the schema
func Open(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open with WAL mode for concurrent reads
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		partition_key TEXT NOT NULL,
		sort_key TEXT NOT NULL,
		body TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(partition_key, sort_key)
	);

	CREATE INDEX IF NOT EXISTS idx_records_partition ON records(partition_key, sort_key);

	-- FTS5 over record content (porter stemming for natural language)
	CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
		content,
		content=records,
		content_rowid=id,
		tokenize='porter unicode61'
	);

	-- Triggers to keep FTS in sync
	CREATE TRIGGER IF NOT EXISTS records_ai AFTER INSERT ON records BEGIN
		INSERT INTO records_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS records_ad AFTER DELETE ON records BEGIN
		INSERT INTO records_fts(records_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;

	CREATE TRIGGER IF NOT EXISTS records_au AFTER UPDATE ON records BEGIN
		INSERT INTO records_fts(records_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO records_fts(rowid, content) VALUES (new.id, new.content);
	END;
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Get returns the record for an exact key pair
func (s *Store) Get(ctx context.Context, partitionKey, sortKey string) (*Record, error) {
	var r Record
	err := s.conn.QueryRowContext(ctx, `
		SELECT partition_key, sort_key, body, content, updated_at
		FROM records
		WHERE partition_key = ? AND sort_key = ?
	`, partitionKey, sortKey).Scan(&r.PartitionKey, &r.SortKey, &r.Body, &r.Content, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &r, nil
}

// Put upserts a record
func (s *Store) Put(ctx context.Context, r Record) error {
	if r.PartitionKey == "" || r.SortKey == "" {
		return errors.New("partition key and sort key are required")
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO records (partition_key, sort_key, body, content, updated_at)
		VALUES (?, ?, ?, ?, %[1]s)
		ON CONFLICT(partition_key, sort_key) DO UPDATE SET
			body = excluded.body,
			content = excluded.content,
			updated_at = %[1]s
	`, sqlNow), r.PartitionKey, r.SortKey, string(r.Body), r.Content)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Query returns all records in a partition whose sort key begins with prefix,
// ordered by sort key ascending. An empty prefix returns the whole partition.
func (s *Store) Query(ctx context.Context, partitionKey, sortKeyPrefix string) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT partition_key, sort_key, body, content, updated_at
		FROM records
		WHERE partition_key = ? AND sort_key LIKE ? || '%'
		ORDER BY sort_key ASC
	`, partitionKey, sortKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// QueryDesc is Query ordered by record recency, most recently written first,
// with an optional limit (limit <= 0 means no limit). Every write path bumps
// updated_at, so this is last-activity order; ties fall back to descending
// sort key.
func (s *Store) QueryDesc(ctx context.Context, partitionKey, sortKeyPrefix string, limit int) ([]Record, error) {
	query := `
		SELECT partition_key, sort_key, body, content, updated_at
		FROM records
		WHERE partition_key = ? AND sort_key LIKE ? || '%'
		ORDER BY updated_at DESC, sort_key DESC
	`
	args := []interface{}{partitionKey, sortKeyPrefix}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// IncrementFields atomically adds deltas to numeric top-level fields of the
// record body. Missing fields start at zero. Returns ErrNotFound when the
// record does not exist.
func (s *Store) IncrementFields(ctx context.Context, partitionKey, sortKey string, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}

	expr := "body"
	args := make([]interface{}, 0, len(deltas)+2)
	for _, field := range sortedKeys(deltas) {
		path := "$." + field
		expr = fmt.Sprintf("json_set(%s, '%s', COALESCE(json_extract(body, '%s'), 0) + ?)", expr, path, path)
		args = append(args, deltas[field])
	}
	args = append(args, partitionKey, sortKey)

	result, err := s.conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE records
		SET body = %s, updated_at = %s
		WHERE partition_key = ? AND sort_key = ?
	`, expr, sqlNow), args...)
	if err != nil {
		return fmt.Errorf("increment fields: %w", err)
	}
	return requireRow(result)
}

// SetFields atomically sets top-level fields of the record body. Values are
// JSON-encoded so types survive the round trip. Returns ErrNotFound when the
// record does not exist.
func (s *Store) SetFields(ctx context.Context, partitionKey, sortKey string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	expr := "body"
	args := make([]interface{}, 0, len(fields)+2)
	for _, field := range sortedFieldKeys(fields) {
		encoded, err := json.Marshal(fields[field])
		if err != nil {
			return fmt.Errorf("encode field %s: %w", field, err)
		}
		expr = fmt.Sprintf("json_set(%s, '$.%s', json(?))", expr, field)
		args = append(args, string(encoded))
	}
	args = append(args, partitionKey, sortKey)

	result, err := s.conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE records
		SET body = %s, updated_at = %s
		WHERE partition_key = ? AND sort_key = ?
	`, expr, sqlNow), args...)
	if err != nil {
		return fmt.Errorf("set fields: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.PartitionKey, &r.SortKey, &r.Body, &r.Content, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFieldKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
