package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/EPFL-ENAC/AddLidar/internal/state"
)

const folderColumns = `folder_key, mission_key, fp, output_path, size_kb, file_count,
    last_checked, last_processed, processing_time, processing_status, error_message, error_detail`

// ListOptions filters list queries. Prefix matches folder keys by leading
// text; Mission matches mission_key exactly.
type ListOptions struct {
	Prefix  string
	Mission string
	Status  *state.Status
	Limit   int
	Offset  int
}

func (o ListOptions) window() (int, int) {
	limit := o.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := o.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func scanFolder(row rowScanner) (*state.FolderRecord, error) {
	var (
		rec            state.FolderRecord
		lastChecked    int64
		lastProcessed  sql.NullInt64
		processingTime sql.NullInt64
		status         sql.NullString
		errMessage     sql.NullString
		errDetail      sql.NullString
	)
	if err := row.Scan(
		&rec.FolderKey, &rec.MissionKey, &rec.Fingerprint, &rec.OutputPath, &rec.SizeKB, &rec.FileCount,
		&lastChecked, &lastProcessed, &processingTime, &status, &errMessage, &errDetail,
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

// GetFolder fetches one folder record by exact key.
func (s *Store) GetFolder(ctx context.Context, folderKey string) (*state.FolderRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folder_state WHERE folder_key = ?`, folderKey)
	rec, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get folder %s: %w", folderKey, err)
	}
	return rec, nil
}

// ListFolders returns folder records ordered by most recently checked, plus
// the total number of matching rows.
func (s *Store) ListFolders(ctx context.Context, opts ListOptions) ([]state.FolderRecord, int, error) {
	where, args := folderFilter(opts)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM folder_state`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count folders: %w", err)
	}

	limit, offset := opts.window()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folder_state`+where+` ORDER BY last_checked DESC, folder_key LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var out []state.FolderRecord
	for rows.Next() {
		rec, err := scanFolder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate folders: %w", err)
	}
	return out, total, nil
}

func folderFilter(opts ListOptions) (string, []any) {
	var clauses []string
	var args []any
	if opts.Prefix != "" {
		clauses = append(clauses, `folder_key LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(opts.Prefix)+"%")
	}
	if opts.Mission != "" {
		clauses = append(clauses, `mission_key = ?`)
		args = append(args, opts.Mission)
	}
	if opts.Status != nil {
		clauses = append(clauses, `processing_status = ?`)
		args = append(args, string(*opts.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}

// MissionHasFolders reports whether at least one folder record exists for the mission.
func (s *Store) MissionHasFolders(ctx context.Context, missionKey string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM folder_state WHERE mission_key = ?`, missionKey).Scan(&count); err != nil {
		return false, fmt.Errorf("count mission folders: %w", err)
	}
	return count > 0, nil
}

// UpsertFolder creates the record or re-arms an existing one: new stats,
// status forced to pending, last_processed cleared, last_checked set to now.
func (s *Store) UpsertFolder(ctx context.Context, in state.FolderUpsert) error {
	mission, _, err := state.SplitFolderKey(in.FolderKey)
	if err != nil {
		return err
	}
	if in.MissionKey == "" {
		in.MissionKey = mission
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO folder_state (folder_key, mission_key, fp, output_path, size_kb, file_count, last_checked, processing_status)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(folder_key) DO UPDATE SET
             mission_key = excluded.mission_key,
             fp = excluded.fp,
             output_path = excluded.output_path,
             size_kb = excluded.size_kb,
             file_count = excluded.file_count,
             last_checked = excluded.last_checked,
             last_processed = NULL,
             processing_status = excluded.processing_status`,
		in.FolderKey, in.MissionKey, in.Fingerprint, in.OutputPath, in.SizeKB, in.FileCount,
		s.unixNow(), string(state.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("upsert folder %s: %w", in.FolderKey, err)
	}
	return nil
}

// TouchFolder updates last_checked only.
func (s *Store) TouchFolder(ctx context.Context, folderKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE folder_state SET last_checked = ? WHERE folder_key = ?`, s.unixNow(), folderKey)
	if err != nil {
		return fmt.Errorf("touch folder %s: %w", folderKey, err)
	}
	return requireAffected(res, folderKey)
}

// UpdateFolderStatus applies a status write-back.
func (s *Store) UpdateFolderStatus(ctx context.Context, folderKey string, update state.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	sets, args := s.statusAssignments(update)
	if update.SizeKB != nil {
		sets = append(sets, "size_kb = ?")
		args = append(args, *update.SizeKB)
	}
	if update.FileCount != nil {
		sets = append(sets, "file_count = ?")
		args = append(args, *update.FileCount)
	}
	if update.OutputPath != nil {
		sets = append(sets, "output_path = ?")
		args = append(args, *update.OutputPath)
	}
	args = append(args, folderKey)
	res, err := s.db.ExecContext(ctx, `UPDATE folder_state SET `+strings.Join(sets, ", ")+` WHERE folder_key = ?`, args...)
	if err != nil {
		return fmt.Errorf("update folder %s: %w", folderKey, err)
	}
	return requireAffected(res, folderKey)
}

// statusAssignments builds the SET list shared by both record kinds. A
// pending status is a re-arm: last_processed is cleared and last_checked
// refreshed. Any other status is
// a processing outcome and stamps last_processed. Success clears stale errors
// unless the caller sends new ones.
func (s *Store) statusAssignments(update state.StatusUpdate) ([]string, []any) {
	now := s.unixNow()
	sets := []string{"processing_status = ?"}
	args := []any{string(update.Status)}
	if update.Status == state.StatusPending {
		sets = append(sets, "last_processed = NULL", "last_checked = ?")
	} else {
		sets = append(sets, "last_processed = ?")
	}
	args = append(args, now)
	if update.Fingerprint != nil {
		sets = append(sets, "fp = ?")
		args = append(args, *update.Fingerprint)
	}
	if update.ProcessingTime != nil {
		sets = append(sets, "processing_time = ?")
		args = append(args, *update.ProcessingTime)
	}
	switch {
	case update.ErrorMessage != nil:
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	case update.Status == state.StatusSuccess:
		sets = append(sets, "error_message = NULL")
	}
	switch {
	case update.ErrorDetail != nil:
		sets = append(sets, "error_detail = ?")
		args = append(args, *update.ErrorDetail)
	case update.Status == state.StatusSuccess:
		sets = append(sets, "error_detail = NULL")
	}
	return sets, args
}

func requireAffected(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", key, err)
	}
	if n == 0 {
		return state.ErrNotFound
	}
	return nil
}
