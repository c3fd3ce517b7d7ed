// Package main hosts the lidarscan CLI entrypoint and command graph.
//
// scan walks the capture tree once, records state and submits batch jobs;
// schedule repeats that on an interval; serve exposes the local state
// database over HTTP for workers; state inspects and snapshots records;
// config scaffolds a configuration file.
package main
