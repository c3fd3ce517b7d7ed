// Package logging builds the slog loggers used across lidarscan.
//
// Two formats are supported: a compact console format for operators
// (coloured level labels when the destination is a terminal) and JSON for
// log shippers. Logs default to stderr so that stdout stays free for
// exported job manifests. Field names are fixed constants so scan output
// can be grepped by run_id, unit_key or phase.
package logging
