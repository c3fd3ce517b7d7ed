package main

import (
	"github.com/spf13/cobra"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
)

// scanFlags holds the flags shared by scan and schedule.
type scanFlags struct {
	sourceRoot  string
	archiveRoot string
	backendURL  string
	stateDB     string
	volumeClaim string
	namespace   string
	kubeconfig  string
	maxJobs     int
	parallelism int
	logLevel    string
	dryRun      bool
	exportOnly  bool
}

func (f *scanFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.sourceRoot, "source-root", "", "Root of the capture tree (mission/capture)")
	flags.StringVar(&f.archiveRoot, "archive-root", "", "Root where compressed archives are written")
	flags.StringVar(&f.backendURL, "backend-url", "", "Record service base URL")
	flags.StringVar(&f.stateDB, "state-db", "", "Use a local SQLite state database instead of the record service")
	flags.StringVar(&f.volumeClaim, "volume-claim", "", "Shared volume claim mounted into worker jobs")
	flags.StringVar(&f.namespace, "namespace", "", "Namespace jobs are created in")
	flags.StringVar(&f.kubeconfig, "kubeconfig", "", "Kubeconfig used when not running in-cluster")
	flags.IntVar(&f.maxJobs, "max-jobs", 0, "Maximum units dispatched per kind (0 = unlimited)")
	flags.IntVar(&f.parallelism, "parallelism", 0, "Worker parallelism ceiling per job")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "Classify only; no state changes and no job submission")
	flags.BoolVar(&f.exportOnly, "export-only", false, "Print job manifests instead of submitting them")
}

// overrides returns only the flags the user actually set.
func (f *scanFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	changed := cmd.Flags().Changed
	if changed("source-root") {
		o.SourceRoot = &f.sourceRoot
	}
	if changed("archive-root") {
		o.ArchiveRoot = &f.archiveRoot
	}
	if changed("backend-url") {
		o.BackendURL = &f.backendURL
	}
	if changed("state-db") {
		o.StateDB = &f.stateDB
	}
	if changed("volume-claim") {
		o.VolumeClaim = &f.volumeClaim
	}
	if changed("namespace") {
		o.Namespace = &f.namespace
	}
	if changed("kubeconfig") {
		o.Kubeconfig = &f.kubeconfig
	}
	if changed("max-jobs") {
		o.MaxJobs = &f.maxJobs
	}
	if changed("parallelism") {
		o.Parallelism = &f.parallelism
	}
	if changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	return o
}
