// Package state defines the typed per-unit records tracked by the scanner and
// the Store interface every state backend implements.
//
// Two entities exist: FolderRecord (one per mission/capture directory) and
// MarkerRecord (one per mission marker file). Both share the Status lifecycle:
// created pending, moved to success/failed/empty by the external processor,
// re-armed to pending by the scanner whenever the fingerprint changes or the
// prior run did not complete. Records are never deleted.
//
// The schema is versioned with additive optional fields only; ErrorDetail is
// the v2 addition and is nil for records written by v1 producers.
package state
