package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StatusCounts tallies records per processing status; absent statuses are
// reported under "-".
func (s *Store) StatusCounts(ctx context.Context, table string) (map[string]int, error) {
	switch table {
	case "folder_state", "potree_metacloud_state":
	default:
		return nil, fmt.Errorf("status counts: unknown table %q", table)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT processing_status, COUNT(1) FROM `+table+` GROUP BY processing_status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status sql.NullString
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		key := "-"
		if status.Valid {
			key = status.String
		}
		counts[key] += n
	}
	return counts, rows.Err()
}

// Snapshot writes a consistent copy of the database to dest using VACUUM
// INTO. dest must not exist.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if dest == "" {
		return fmt.Errorf("snapshot: empty destination")
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot: %s already exists", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("snapshot: ensure directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("snapshot to %s: %w", dest, err)
	}
	return nil
}

// SnapshotName returns a timestamped file name for a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return "backup_local_" + t.Format("2006_01_02_150405") + ".db"
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
