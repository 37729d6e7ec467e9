package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SearchResult is a single full-text match
type SearchResult struct {
	PartitionKey string
	SortKey      string
	Body         []byte
	Snippet      string
}

// Search performs a full-text search over record content within a partition.
// Results are ordered by sort key descending (most recent first for records
// with index-ordered sort keys). An empty partition key searches everywhere.
func (s *Store) Search(ctx context.Context, partitionKey, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 100
	}

	// FTS5 chokes on punctuation-heavy queries; fall back to LIKE for exact
	// substring matching in that case.
	hasSpecialChars := strings.ContainsAny(query, "-_@#$%&")

	var rows *sql.Rows
	var err error

	if hasSpecialChars {
		sqlQuery := `
			SELECT r.partition_key, r.sort_key, r.body, r.content
			FROM records r
			WHERE r.content LIKE '%' || ? || '%'
		`
		args := []interface{}{query}
		if partitionKey != "" {
			sqlQuery += " AND r.partition_key = ?"
			args = append(args, partitionKey)
		}
		sqlQuery += " ORDER BY r.sort_key DESC LIMIT ?"
		args = append(args, limit)

		rows, err = s.conn.QueryContext(ctx, sqlQuery, args...)
	} else {
		sqlQuery := `
			SELECT r.partition_key, r.sort_key, r.body,
				snippet(records_fts, -1, '', '', '...', 64) as snippet
			FROM records_fts
			JOIN records r ON records_fts.rowid = r.id
			WHERE records_fts MATCH ?
		`
		args := []interface{}{query}
		if partitionKey != "" {
			sqlQuery += " AND r.partition_key = ?"
			args = append(args, partitionKey)
		}
		sqlQuery += " ORDER BY r.sort_key DESC LIMIT ?"
		args = append(args, limit)

		rows, err = s.conn.QueryContext(ctx, sqlQuery, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.PartitionKey, &r.SortKey, &r.Body, &r.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}
