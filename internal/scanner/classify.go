package scanner

import "github.com/EPFL-ENAC/AddLidar/internal/state"

// Classification is the change decision for one unit.
type Classification string

const (
	ClassNew               Classification = "new"
	ClassChanged           Classification = "changed"
	ClassIncomplete        Classification = "incomplete"
	ClassUnchangedComplete Classification = "unchanged_complete"
)

// NeedsProcessing reports whether the unit belongs in the change list.
func (c Classification) NeedsProcessing() bool {
	return c == ClassNew || c == ClassChanged || c == ClassIncomplete
}

// Classify decides a unit's classification from whether a record exists,
// whether its fingerprint matches the freshly computed one, and its stored
// status. A nil status is incomplete.
func Classify(recordPresent, fingerprintMatches bool, status *state.Status) Classification {
	switch {
	case !recordPresent:
		return ClassNew
	case !fingerprintMatches:
		return ClassChanged
	case !status.Complete():
		return ClassIncomplete
	default:
		return ClassUnchangedComplete
	}
}
