package stateapi

import (
	"fmt"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
)

// Folder is the wire form of a folder record. Keys match the stored columns.
type Folder struct {
	FolderKey        string  `json:"folder_key"`
	MissionKey       string  `json:"mission_key"`
	Fingerprint      string  `json:"fp"`
	OutputPath       string  `json:"output_path"`
	SizeKB           int64   `json:"size_kb"`
	FileCount        int64   `json:"file_count"`
	LastChecked      int64   `json:"last_checked"`
	LastProcessed    *int64  `json:"last_processed"`
	ProcessingTime   *int64  `json:"processing_time"`
	ProcessingStatus *string `json:"processing_status"`
	ErrorMessage     *string `json:"error_message"`
	ErrorDetail      *string `json:"error_detail,omitempty"`
}

// Marker is the wire form of a marker-file record.
type Marker struct {
	MissionKey       string  `json:"mission_key"`
	Fingerprint      string  `json:"fp"`
	OutputPath       string  `json:"output_path"`
	LastChecked      int64   `json:"last_checked"`
	LastProcessed    *int64  `json:"last_processed"`
	ProcessingTime   *int64  `json:"processing_time"`
	ProcessingStatus *string `json:"processing_status"`
	ErrorMessage     *string `json:"error_message"`
	ErrorDetail      *string `json:"error_detail,omitempty"`
}

// QueryResult wraps list responses.
type QueryResult[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// StatusUpdateRequest is the PUT body for both record kinds.
type StatusUpdateRequest struct {
	Fingerprint      *string `json:"fingerprint,omitempty"`
	ProcessingStatus string  `json:"processing_status"`
	ProcessingTime   *int64  `json:"processing_time,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	ErrorDetail      *string `json:"error_detail,omitempty"`
	SizeKB           *int64  `json:"size_kb,omitempty"`
	FileCount        *int64  `json:"file_count,omitempty"`
	OutputPath       *string `json:"output_path,omitempty"`
}

// FolderCreateRequest is the POST /folder_state body.
type FolderCreateRequest struct {
	FolderKey        string `json:"folder_key"`
	MissionKey       string `json:"mission_key"`
	Fingerprint      string `json:"fingerprint"`
	SizeKB           int64  `json:"size_kb"`
	FileCount        int64  `json:"file_count"`
	OutputPath       string `json:"output_path"`
	ProcessingStatus string `json:"processing_status,omitempty"`
}

// MarkerCreateRequest is the POST /potree_metacloud_state body.
type MarkerCreateRequest struct {
	MissionKey       string `json:"mission_key"`
	Fingerprint      string `json:"fingerprint"`
	OutputPath       string `json:"output_path"`
	ProcessingStatus string `json:"processing_status,omitempty"`
}

// UpdateResponse acknowledges a write.
type UpdateResponse struct {
	Message string `json:"message"`
}

// FolderFromRecord converts a typed record to its wire form.
func FolderFromRecord(rec state.FolderRecord) Folder {
	return Folder{
		FolderKey:        rec.FolderKey,
		MissionKey:       rec.MissionKey,
		Fingerprint:      rec.Fingerprint,
		OutputPath:       rec.OutputPath,
		SizeKB:           rec.SizeKB,
		FileCount:        rec.FileCount,
		LastChecked:      rec.LastChecked.Unix(),
		LastProcessed:    unixPtr(rec.LastProcessed),
		ProcessingTime:   rec.ProcessingTime,
		ProcessingStatus: statusString(rec.Status),
		ErrorMessage:     rec.ErrorMessage,
		ErrorDetail:      rec.ErrorDetail,
	}
}

// Record converts the wire form back to a validated typed record. Unknown
// statuses and malformed keys are rejected with services.ErrMalformedRecord.
func (f Folder) Record() (*state.FolderRecord, error) {
	status, err := parseStatus(f.ProcessingStatus)
	if err != nil {
		return nil, fmt.Errorf("folder %q: %w", f.FolderKey, err)
	}
	rec := &state.FolderRecord{
		FolderKey:      f.FolderKey,
		MissionKey:     f.MissionKey,
		Fingerprint:    f.Fingerprint,
		SizeKB:         f.SizeKB,
		FileCount:      f.FileCount,
		OutputPath:     f.OutputPath,
		Status:         status,
		LastChecked:    time.Unix(f.LastChecked, 0).UTC(),
		LastProcessed:  timePtr(f.LastProcessed),
		ProcessingTime: f.ProcessingTime,
		ErrorMessage:   f.ErrorMessage,
		ErrorDetail:    f.ErrorDetail,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkerFromRecord converts a typed record to its wire form.
func MarkerFromRecord(rec state.MarkerRecord) Marker {
	return Marker{
		MissionKey:       rec.MissionKey,
		Fingerprint:      rec.Fingerprint,
		OutputPath:       rec.OutputPath,
		LastChecked:      rec.LastChecked.Unix(),
		LastProcessed:    unixPtr(rec.LastProcessed),
		ProcessingTime:   rec.ProcessingTime,
		ProcessingStatus: statusString(rec.Status),
		ErrorMessage:     rec.ErrorMessage,
		ErrorDetail:      rec.ErrorDetail,
	}
}

// Record converts the wire form back to a validated typed record.
func (m Marker) Record() (*state.MarkerRecord, error) {
	status, err := parseStatus(m.ProcessingStatus)
	if err != nil {
		return nil, fmt.Errorf("marker %q: %w", m.MissionKey, err)
	}
	rec := &state.MarkerRecord{
		MissionKey:     m.MissionKey,
		Fingerprint:    m.Fingerprint,
		OutputPath:     m.OutputPath,
		Status:         status,
		LastChecked:    time.Unix(m.LastChecked, 0).UTC(),
		LastProcessed:  timePtr(m.LastProcessed),
		ProcessingTime: m.ProcessingTime,
		ErrorMessage:   m.ErrorMessage,
		ErrorDetail:    m.ErrorDetail,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update converts the request to a typed status update.
func (r StatusUpdateRequest) Update() (state.StatusUpdate, error) {
	status, ok := state.ParseStatus(r.ProcessingStatus)
	if !ok {
		return state.StatusUpdate{}, fmt.Errorf("%w: unknown processing_status %q", services.ErrMalformedRecord, r.ProcessingStatus)
	}
	return state.StatusUpdate{
		Fingerprint:    r.Fingerprint,
		Status:         status,
		ProcessingTime: r.ProcessingTime,
		ErrorMessage:   r.ErrorMessage,
		ErrorDetail:    r.ErrorDetail,
		SizeKB:         r.SizeKB,
		FileCount:      r.FileCount,
		OutputPath:     r.OutputPath,
	}, nil
}

// UpdateRequestFrom builds the PUT body for a typed update.
func UpdateRequestFrom(u state.StatusUpdate) StatusUpdateRequest {
	return StatusUpdateRequest{
		Fingerprint:      u.Fingerprint,
		ProcessingStatus: string(u.Status),
		ProcessingTime:   u.ProcessingTime,
		ErrorMessage:     u.ErrorMessage,
		ErrorDetail:      u.ErrorDetail,
		SizeKB:           u.SizeKB,
		FileCount:        u.FileCount,
		OutputPath:       u.OutputPath,
	}
}

func parseStatus(value *string) (*state.Status, error) {
	if value == nil {
		return nil, nil
	}
	status, ok := state.ParseStatus(*value)
	if !ok {
		return nil, fmt.Errorf("%w: unknown processing_status %q", services.ErrMalformedRecord, *value)
	}
	return &status, nil
}

func statusString(s *state.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

func timePtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
