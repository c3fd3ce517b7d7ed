// Package metrics records scan outcomes as Prometheus metrics and pushes
// them to a Pushgateway at the end of a run. A scan is a short-lived batch
// process, so there is nothing to scrape.
package metrics
