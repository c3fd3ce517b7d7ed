package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/stateapi"
	"github.com/EPFL-ENAC/AddLidar/internal/stateclient"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and back up tracked records",
	}
	stateCmd.AddCommand(newStateListCommand(ctx))
	stateCmd.AddCommand(newStateSnapshotCommand(ctx))
	return stateCmd
}

type listFlags struct {
	limit      int
	offset     int
	stateDB    string
	backendURL string
	jsonOutput bool
}

func (f *listFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	if cmd.Flags().Changed("state-db") {
		o.StateDB = &f.stateDB
	}
	if cmd.Flags().Changed("backend-url") {
		o.BackendURL = &f.backendURL
	}
	return o
}

func newStateListCommand(ctx *commandContext) *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:       "list [folders|markers]",
		Short:     "List folder or marker records",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"folders", "markers"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "folders"
			if len(args) == 1 {
				kind = strings.ToLower(strings.TrimSpace(args[0]))
			}
			cfg, err := ctx.configWith(flags.overrides(cmd))
			if err != nil {
				return err
			}
			switch kind {
			case "folders":
				records, total, err := listFolders(cmd.Context(), cfg, flags.limit, flags.offset)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return writeJSON(cmd, folderWire(records, total))
				}
				printFolders(cmd, records, total)
			case "markers":
				records, total, err := listMarkers(cmd.Context(), cfg, flags.limit, flags.offset)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return writeJSON(cmd, markerWire(records, total))
				}
				printMarkers(cmd, records, total)
			default:
				return fmt.Errorf("unknown record kind %q (want folders or markers)", kind)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.limit, "limit", 100, "Maximum records to show")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "Records to skip")
	cmd.Flags().StringVar(&flags.stateDB, "state-db", "", "Read a local SQLite state database")
	cmd.Flags().StringVar(&flags.backendURL, "backend-url", "", "Record service base URL")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newStateSnapshotCommand(ctx *commandContext) *cobra.Command {
	var stateDB string

	cmd := &cobra.Command{
		Use:   "snapshot <dest>",
		Short: "Write a consistent copy of the local state database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var o config.Overrides
			if cmd.Flags().Changed("state-db") {
				o.StateDB = &stateDB
			}
			cfg, err := ctx.configWith(o)
			if err != nil {
				return err
			}
			if cfg.Paths.StateDB == "" {
				return fmt.Errorf("%w: snapshot requires paths.state_db or --state-db", services.ErrConfiguration)
			}
			dest, err := snapshotTarget(args[0], time.Now())
			if err != nil {
				return err
			}
			db, err := statedb.Open(cfg.Paths.StateDB)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Snapshot(cmd.Context(), dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDB, "state-db", "", "SQLite state database path")
	return cmd
}

// snapshotTarget resolves dest; an existing directory gets a timestamped
// file name inside it.
func snapshotTarget(dest string, now time.Time) (string, error) {
	expanded, err := config.ExpandPath(dest)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(expanded); err == nil && info.IsDir() {
		return filepath.Join(expanded, statedb.SnapshotName(now)), nil
	}
	return expanded, nil
}

func listFolders(ctx context.Context, cfg *config.Config, limit, offset int) ([]state.FolderRecord, int, error) {
	if cfg.Paths.StateDB != "" {
		db, err := statedb.Open(cfg.Paths.StateDB)
		if err != nil {
			return nil, 0, err
		}
		defer db.Close()
		return db.ListFolders(ctx, statedb.ListOptions{Limit: limit, Offset: offset})
	}
	client, err := remoteClient(cfg)
	if err != nil {
		return nil, 0, err
	}
	page, err := client.ListFolders(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	records := make([]state.FolderRecord, 0, len(page.Data))
	for _, f := range page.Data {
		rec, err := f.Record()
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	return records, page.Count, nil
}

func listMarkers(ctx context.Context, cfg *config.Config, limit, offset int) ([]state.MarkerRecord, int, error) {
	if cfg.Paths.StateDB != "" {
		db, err := statedb.Open(cfg.Paths.StateDB)
		if err != nil {
			return nil, 0, err
		}
		defer db.Close()
		return db.ListMarkers(ctx, statedb.ListOptions{Limit: limit, Offset: offset})
	}
	client, err := remoteClient(cfg)
	if err != nil {
		return nil, 0, err
	}
	page, err := client.ListMarkers(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	records := make([]state.MarkerRecord, 0, len(page.Data))
	for _, m := range page.Data {
		rec, err := m.Record()
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	return records, page.Count, nil
}

func remoteClient(cfg *config.Config) (*stateclient.Client, error) {
	return stateclient.New(cfg.Backend.URL, stateclient.WithTimeout(time.Duration(cfg.Backend.TimeoutSeconds)*time.Second))
}

func folderWire(records []state.FolderRecord, total int) stateapi.QueryResult[stateapi.Folder] {
	out := stateapi.QueryResult[stateapi.Folder]{Data: make([]stateapi.Folder, 0, len(records)), Count: total}
	for _, rec := range records {
		out.Data = append(out.Data, stateapi.FolderFromRecord(rec))
	}
	return out
}

func markerWire(records []state.MarkerRecord, total int) stateapi.QueryResult[stateapi.Marker] {
	out := stateapi.QueryResult[stateapi.Marker]{Data: make([]stateapi.Marker, 0, len(records)), Count: total}
	for _, rec := range records {
		out.Data = append(out.Data, stateapi.MarkerFromRecord(rec))
	}
	return out
}

func printFolders(cmd *cobra.Command, records []state.FolderRecord, total int) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No folder records")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.FolderKey,
			rec.Status.String(),
			formatCount(rec.SizeKB),
			formatCount(rec.FileCount),
			formatTime(rec.LastChecked),
			formatTimePtr(rec.LastProcessed),
			valueOrDash(rec.ErrorMessage),
		})
	}
	headers := []string{"Folder", "Status", "Size (KB)", "Files", "Last Checked", "Last Processed", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft}
	fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
	fmt.Fprintf(out, "%s of %s records\n", formatCount(len(records)), formatCount(total))
}

func printMarkers(cmd *cobra.Command, records []state.MarkerRecord, total int) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No marker records")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.MissionKey,
			rec.Status.String(),
			rec.OutputPath,
			formatTime(rec.LastChecked),
			formatTimePtr(rec.LastProcessed),
			valueOrDash(rec.ErrorMessage),
		})
	}
	headers := []string{"Mission", "Status", "Output", "Last Checked", "Last Processed", "Error"}
	fmt.Fprintln(out, renderTable(out, headers, rows, nil))
	fmt.Fprintf(out, "%s of %s records\n", formatCount(len(records)), formatCount(total))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func valueOrDash(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "-"
	}
	return *s
}
