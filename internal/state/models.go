package state

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// Status represents the processing lifecycle of a tracked unit.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusEmpty   Status = "empty"
)

// SchemaVersion is the current record schema version. Versions only ever add
// optional fields.
const SchemaVersion = 2

var allStatuses = []Status{StatusPending, StatusSuccess, StatusFailed, StatusEmpty}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// Complete reports whether the status marks a finished unit that needs no
// further processing while its fingerprint holds.
func (s *Status) Complete() bool {
	if s == nil {
		return false
	}
	return *s == StatusSuccess || *s == StatusEmpty
}

// String renders the status, using "-" for an absent value.
func (s *Status) String() string {
	if s == nil {
		return "-"
	}
	return string(*s)
}

// StatusPtr returns a pointer to s.
func StatusPtr(s Status) *Status { return &s }

// FolderRecord is the stored state of one mission/capture directory.
type FolderRecord struct {
	FolderKey      string
	MissionKey     string
	Fingerprint    string
	SizeKB         int64
	FileCount      int64
	OutputPath     string
	Status         *Status
	LastChecked    time.Time
	LastProcessed  *time.Time
	ProcessingTime *int64
	ErrorMessage   *string
	ErrorDetail    *string
}

// MarkerRecord is the stored state of a mission's marker file.
type MarkerRecord struct {
	MissionKey     string
	Fingerprint    string
	OutputPath     string
	Status         *Status
	LastChecked    time.Time
	LastProcessed  *time.Time
	ProcessingTime *int64
	ErrorMessage   *string
	ErrorDetail    *string
}

// FolderUpsert carries the fields the scanner writes when a folder is
// (re)armed for processing. Status is always forced to pending.
type FolderUpsert struct {
	FolderKey   string
	MissionKey  string
	Fingerprint string
	SizeKB      int64
	FileCount   int64
	OutputPath  string
}

// MarkerUpsert carries the fields the scanner writes for a marker file.
type MarkerUpsert struct {
	MissionKey  string
	Fingerprint string
	OutputPath  string
}

// StatusUpdate is the write-back payload used by the external processor and
// by the scanner when it re-arms an existing record. Nil fields are left
// unchanged.
type StatusUpdate struct {
	Fingerprint    *string
	Status         Status
	ProcessingTime *int64
	ErrorMessage   *string
	ErrorDetail    *string

	// Re-arm only.
	SizeKB     *int64
	FileCount  *int64
	OutputPath *string
}

// Validate rejects unknown statuses.
func (u StatusUpdate) Validate() error {
	if _, ok := ParseStatus(string(u.Status)); !ok {
		return fmt.Errorf("%w: unknown status %q", services.ErrMalformedRecord, u.Status)
	}
	return nil
}

// SplitFolderKey validates a two-segment folder key and returns its parts.
func SplitFolderKey(key string) (mission, capture string, err error) {
	cleaned := path.Clean(strings.TrimSpace(key))
	parts := strings.Split(cleaned, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == "." || parts[0] == ".." || parts[1] == ".." {
		return "", "", fmt.Errorf("%w: folder key %q must be mission/capture", services.ErrMalformedRecord, key)
	}
	return parts[0], parts[1], nil
}

// Validate checks the invariants every folder record must satisfy.
func (r *FolderRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil folder record", services.ErrMalformedRecord)
	}
	mission, _, err := SplitFolderKey(r.FolderKey)
	if err != nil {
		return err
	}
	if r.MissionKey != "" && r.MissionKey != mission {
		return fmt.Errorf("%w: folder %q has mission %q", services.ErrMalformedRecord, r.FolderKey, r.MissionKey)
	}
	if r.Status != nil {
		if _, ok := ParseStatus(string(*r.Status)); !ok {
			return fmt.Errorf("%w: folder %q has unknown status %q", services.ErrMalformedRecord, r.FolderKey, *r.Status)
		}
	}
	return nil
}

// Validate checks the invariants every marker record must satisfy.
func (r *MarkerRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil marker record", services.ErrMalformedRecord)
	}
	if strings.TrimSpace(r.MissionKey) == "" || strings.Contains(r.MissionKey, "/") {
		return fmt.Errorf("%w: invalid mission key %q", services.ErrMalformedRecord, r.MissionKey)
	}
	if r.Status != nil {
		if _, ok := ParseStatus(string(*r.Status)); !ok {
			return fmt.Errorf("%w: mission %q has unknown status %q", services.ErrMalformedRecord, r.MissionKey, *r.Status)
		}
	}
	return nil
}
