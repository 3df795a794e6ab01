// Package storage holds what the SQL-backed result stores share: the
// result table layout and duration conversions.
package storage

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultTable is the result table name used when none is configured.
const DefaultTable = "crawl_results"

// ResultColumns lists the result table columns in scan order, id first.
const ResultColumns = "id, crawl_id, url, depth, links_found, relevance_score, context_snippet, duration_sec, total_duration_sec"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TableName returns table, or DefaultTable when empty, after checking it is
// a plain SQL identifier.
func TableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Seconds converts d to fractional seconds for storage.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// FromSeconds converts stored fractional seconds back to a Duration.
func FromSeconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
