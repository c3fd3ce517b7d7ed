// Package services defines shared utilities consumed by the scan phases and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, unit keys, and phase names for
//     logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the connectivity / filesystem / submission / configuration
//     taxonomy the scan driver reasons about.
//
// Use these helpers when wiring new scan logic so failure handling stays
// uniform: configuration errors abort the run, everything else is logged
// against the unit and the scan moves on.
package services
