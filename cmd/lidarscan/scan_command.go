package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/EPFL-ENAC/AddLidar/internal/scanrun"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the capture tree once and queue changed units",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configWith(flags.overrides(cmd))
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx, cancel := scanContext(cmd.Context())
			defer cancel()

			res, err := scanrun.Run(runCtx, cfg, scanrun.Options{
				DryRun:     flags.dryRun,
				ExportOnly: flags.exportOnly,
				Preview:    cmd.OutOrStdout(),
				Logger:     logger,
			})
			if errors.Is(err, scanrun.ErrLocked) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: %v; skipping this scan\n", err)
				return nil
			}
			if res == nil || res.Finished.IsZero() {
				return err
			}

			// Manifests own stdout in export-only mode.
			out := cmd.OutOrStdout()
			if flags.exportOnly {
				out = cmd.ErrOrStderr()
			}
			if jsonOutput && !flags.exportOnly {
				if jerr := writeJSON(cmd, summaryJSON(res)); jerr != nil {
					return jerr
				}
			} else {
				printSummary(out, res)
			}
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")
	return cmd
}

type kindSummary struct {
	Scanned           int    `json:"scanned"`
	New               int    `json:"new"`
	Changed           int    `json:"changed"`
	Incomplete        int    `json:"incomplete"`
	UnchangedComplete int    `json:"unchanged_complete"`
	Skipped           int    `json:"skipped"`
	Failed            int    `json:"failed"`
	Queued            int    `json:"queued"`
	Deferred          int    `json:"deferred"`
	JobName           string `json:"job_name,omitempty"`
	Error             string `json:"error,omitempty"`
}

type runSummary struct {
	RunID   string      `json:"run_id"`
	DryRun  bool        `json:"dry_run"`
	Folders kindSummary `json:"folders"`
	Markers kindSummary `json:"markers"`
}

func passSummary(p scanrun.Pass) kindSummary {
	s := p.Report.Summary()
	ks := kindSummary{
		Scanned:           s.Scanned,
		New:               s.New,
		Changed:           s.Changed,
		Incomplete:        s.Incomplete,
		UnchangedComplete: s.UnchangedComplete,
		Skipped:           s.Skipped,
		Failed:            s.Failed,
		Queued:            p.Dispatch.Units,
		Deferred:          p.Deferred,
		JobName:           p.Dispatch.JobName,
	}
	if p.Err != nil {
		ks.Error = p.Err.Error()
	}
	return ks
}

func summaryJSON(res *scanrun.Result) runSummary {
	return runSummary{
		RunID:   res.RunID,
		DryRun:  res.DryRun,
		Folders: passSummary(res.Folders),
		Markers: passSummary(res.Markers),
	}
}

func printSummary(w io.Writer, res *scanrun.Result) {
	folders, markers := passSummary(res.Folders), passSummary(res.Markers)
	headers := []string{"Kind", "Scanned", "New", "Changed", "Incomplete", "Complete", "Skipped", "Failed", "Queued", "Deferred", "Job"}
	row := func(kind string, s kindSummary) []string {
		job := s.JobName
		if job == "" {
			job = "-"
		}
		if s.Error != "" {
			job = "failed"
		}
		return []string{
			kind,
			formatCount(s.Scanned),
			formatCount(s.New),
			formatCount(s.Changed),
			formatCount(s.Incomplete),
			formatCount(s.UnchangedComplete),
			formatCount(s.Skipped),
			formatCount(s.Failed),
			formatCount(s.Queued),
			formatCount(s.Deferred),
			job,
		}
	}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}
	fmt.Fprintln(w, renderTable(w, headers, [][]string{row("folders", folders), row("markers", markers)}, aligns))
	mode := ""
	if res.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Run %s finished in %s%s\n", res.RunID, res.Finished.Sub(res.Started).Round(time.Millisecond), mode)
	for _, p := range []scanrun.Pass{res.Folders, res.Markers} {
		for _, f := range p.Report.Failures() {
			fmt.Fprintf(w, "  %s %s [%s]: %v\n", f.Unit.Kind, f.Unit.Key, f.Phase, f.Err)
		}
	}
}

func scanContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
