// Package stateapi exposes folder and marker-file records over HTTP.
//
// The routes mirror the record service the scanner talks to in production
// (mounted under /sqlite): folder_state and potree_metacloud_state, each
// with get, create, status update and last_checked touch endpoints, plus
// paginated list endpoints. Wire types live here as well so the HTTP client
// and the server agree on field names.
package stateapi
