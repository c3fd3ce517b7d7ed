package state

import (
	"context"
	"errors"
)

// ErrNotFound reports that no record exists for a key. It drives the create
// path and is not a failure for the scanner.
var ErrNotFound = errors.New("record not found")

// Store is the state backend consumed by the scanner. Implementations must
// surface transport failures as errors wrapping services.ErrConnectivity so
// the scanner can treat them as per-unit failures.
type Store interface {
	GetFolder(ctx context.Context, folderKey string) (*FolderRecord, error)
	UpsertFolder(ctx context.Context, in FolderUpsert) error
	TouchFolder(ctx context.Context, folderKey string) error
	MissionHasFolders(ctx context.Context, missionKey string) (bool, error)

	GetMarker(ctx context.Context, missionKey string) (*MarkerRecord, error)
	UpsertMarker(ctx context.Context, in MarkerUpsert) error
	TouchMarker(ctx context.Context, missionKey string) error
}

// StatusWriter is the write-back surface used by the external processor.
type StatusWriter interface {
	UpdateFolderStatus(ctx context.Context, folderKey string, update StatusUpdate) error
	UpdateMarkerStatus(ctx context.Context, missionKey string, update StatusUpdate) error
}
