// Package scanrun executes one complete scan: folders first, then marker
// files, each followed by a single batch dispatch.
//
// Run wires the state backend (local SQLite or the HTTP record service), the
// orchestration client, the optional host-local lock, metrics and events
// around scanner.Detector and dispatch.Dispatcher. Configuration problems
// (missing templates, no cluster credentials when submission is required)
// abort before any tree is walked. Per-unit failures never abort the run.
package scanrun
