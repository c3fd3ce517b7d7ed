// Package dispatch turns change lists into batch Jobs on the orchestration
// API.
//
// One Job is rendered per unit kind per run from a text/template manifest
// (embedded defaults, overridable by path). Folders go to the compression
// worker; marker files go to the point-cloud conversion worker. The Job runs
// in Indexed completion mode with parallelism == completions ==
// min(len(units), ceiling); each worker index takes every completions-th unit
// from UNITS_JSON.
//
// Submission is at-least-once. Job names carry a second-resolution
// timestamp, there is no deduplication key, and state records are never
// rolled back when submission fails: pending units are simply picked up
// again by the next scan.
package dispatch
