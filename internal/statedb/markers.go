package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/EPFL-ENAC/AddLidar/internal/state"
)

const markerColumns = `mission_key, fp, output_path, last_checked, last_processed,
    processing_time, processing_status, error_message, error_detail`

func scanMarker(row rowScanner) (*state.MarkerRecord, error) {
	var (
		rec            state.MarkerRecord
		lastChecked    int64
		lastProcessed  sql.NullInt64
		processingTime sql.NullInt64
		status         sql.NullString
		errMessage     sql.NullString
		errDetail      sql.NullString
	)
	if err := row.Scan(
		&rec.MissionKey, &rec.Fingerprint, &rec.OutputPath, &lastChecked, &lastProcessed,
		&processingTime, &status, &errMessage, &errDetail,
	); err != nil {
		return nil, err
	}
	rec.LastChecked = unixTime(lastChecked)
	rec.LastProcessed = timePtr(lastProcessed)
	rec.ProcessingTime = intPtr(processingTime)
	rec.Status = statusPtr(status)
	rec.ErrorMessage = stringPtr(errMessage)
	rec.ErrorDetail = stringPtr(errDetail)
	return &rec, nil
}

// GetMarker fetches the marker-file record of a mission.
func (s *Store) GetMarker(ctx context.Context, missionKey string) (*state.MarkerRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+markerColumns+` FROM potree_metacloud_state WHERE mission_key = ?`, missionKey)
	rec, err := scanMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get marker %s: %w", missionKey, err)
	}
	return rec, nil
}

// ListMarkers returns marker records ordered by most recently checked.
func (s *Store) ListMarkers(ctx context.Context, opts ListOptions) ([]state.MarkerRecord, int, error) {
	var clauses []string
	var args []any
	if opts.Mission != "" {
		clauses = append(clauses, "mission_key = ?")
		args = append(args, opts.Mission)
	}
	if opts.Status != nil {
		clauses = append(clauses, "processing_status = ?")
		args = append(args, string(*opts.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM potree_metacloud_state`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count markers: %w", err)
	}

	limit, offset := opts.window()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+markerColumns+` FROM potree_metacloud_state`+where+` ORDER BY last_checked DESC, mission_key LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	var out []state.MarkerRecord
	for rows.Next() {
		rec, err := scanMarker(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan marker: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate markers: %w", err)
	}
	return out, total, nil
}

// UpsertMarker creates or re-arms the marker record of a mission.
func (s *Store) UpsertMarker(ctx context.Context, in state.MarkerUpsert) error {
	if strings.TrimSpace(in.MissionKey) == "" {
		return fmt.Errorf("upsert marker: empty mission key")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO potree_metacloud_state (mission_key, fp, output_path, last_checked, processing_status)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(mission_key) DO UPDATE SET
             fp = excluded.fp,
             output_path = excluded.output_path,
             last_checked = excluded.last_checked,
             last_processed = NULL,
             processing_status = excluded.processing_status`,
		in.MissionKey, in.Fingerprint, in.OutputPath, s.unixNow(), string(state.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("upsert marker %s: %w", in.MissionKey, err)
	}
	return nil
}

// TouchMarker updates last_checked only.
func (s *Store) TouchMarker(ctx context.Context, missionKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE potree_metacloud_state SET last_checked = ? WHERE mission_key = ?`, s.unixNow(), missionKey)
	if err != nil {
		return fmt.Errorf("touch marker %s: %w", missionKey, err)
	}
	return requireAffected(res, missionKey)
}

// UpdateMarkerStatus applies a status write-back.
func (s *Store) UpdateMarkerStatus(ctx context.Context, missionKey string, update state.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	sets, args := s.statusAssignments(update)
	if update.OutputPath != nil {
		sets = append(sets, "output_path = ?")
		args = append(args, *update.OutputPath)
	}
	args = append(args, missionKey)
	res, err := s.db.ExecContext(ctx, `UPDATE potree_metacloud_state SET `+strings.Join(sets, ", ")+` WHERE mission_key = ?`, args...)
	if err != nil {
		return fmt.Errorf("update marker %s: %w", missionKey, err)
	}
	return requireAffected(res, missionKey)
}
