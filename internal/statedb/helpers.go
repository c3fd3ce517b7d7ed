package statedb

import (
	"database/sql"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/state"
)

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func intPtr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := time.Unix(ni.Int64, 0).UTC()
	return &t
}

// statusPtr keeps unknown stored values visible so boundary validation can
// reject them instead of silently treating them as absent.
func statusPtr(ns sql.NullString) *state.Status {
	if !ns.Valid {
		return nil
	}
	if parsed, ok := state.ParseStatus(ns.String); ok {
		return &parsed
	}
	raw := state.Status(ns.String)
	return &raw
}

type rowScanner interface {
	Scan(dest ...any) error
}
