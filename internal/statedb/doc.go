// Package statedb persists folder and marker-file records in SQLite.
//
// It backs the local record service (lidarscan serve) and the direct
// --state-db mode of the scan command. The schema is versioned through
// embedded, additive migrations tracked in schema_migrations; timestamps are
// stored as unix seconds to stay compatible with existing databases.
package statedb
