// Package scanner walks the two-level capture tree, fingerprints every unit,
// compares it with its stored record and decides what needs processing.
//
// A unit is either a capture folder (mission/capture) or a mission's marker
// file. Each unit is classified as new, changed, incomplete or
// unchanged-complete. The first three are re-armed to pending in the store
// and returned in the change list; the last only has last_checked touched.
// Per-unit failures are captured in the Report and never stop the walk.
package scanner
