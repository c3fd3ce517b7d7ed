package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
	"github.com/EPFL-ENAC/AddLidar/internal/fingerprint"
	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
)

// StatsFunc measures a capture folder.
type StatsFunc func(ctx context.Context, path string) (fingerprint.Stats, error)

// FileDigestFunc fingerprints a marker file.
type FileDigestFunc func(ctx context.Context, path string) (string, error)

// Options configures a Detector.
type Options struct {
	SourceRoot   string
	ArchiveRoot  string
	PotreeRoot   string
	MarkerSuffix string
	DryRun       bool
	Logger       *slog.Logger

	Stats      StatsFunc
	FileDigest FileDigestFunc
}

// OptionsFromConfig derives detector options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, dryRun bool, logger *slog.Logger) Options {
	return Options{
		SourceRoot:   cfg.Paths.SourceRoot,
		ArchiveRoot:  cfg.Paths.ArchiveRoot,
		PotreeRoot:   cfg.PotreeRoot(),
		MarkerSuffix: cfg.Scan.MarkerSuffix,
		DryRun:       dryRun,
		Logger:       logger,
	}
}

// Detector classifies units against the store.
type Detector struct {
	store        state.Store
	sourceRoot   string
	archiveRoot  string
	potreeRoot   string
	markerSuffix string
	dryRun       bool
	logger       *slog.Logger
	stats        StatsFunc
	fileDigest   FileDigestFunc
}

// New builds a Detector over store.
func New(store state.Store, opts Options) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: scanner requires a state store", services.ErrConfiguration)
	}
	if strings.TrimSpace(opts.SourceRoot) == "" || strings.TrimSpace(opts.ArchiveRoot) == "" {
		return nil, fmt.Errorf("%w: scanner requires source and archive roots", services.ErrConfiguration)
	}
	d := &Detector{
		store:        store,
		sourceRoot:   opts.SourceRoot,
		archiveRoot:  opts.ArchiveRoot,
		potreeRoot:   opts.PotreeRoot,
		markerSuffix: opts.MarkerSuffix,
		dryRun:       opts.DryRun,
		logger:       logging.NewComponentLogger(opts.Logger, "scanner"),
		stats:        opts.Stats,
		fileDigest:   opts.FileDigest,
	}
	if d.potreeRoot == "" {
		d.potreeRoot = filepath.Join(filepath.Dir(d.archiveRoot), "Potree")
	}
	if d.markerSuffix == "" {
		d.markerSuffix = ".metacloud"
	}
	if d.stats == nil {
		d.stats = fingerprint.DirectoryStats
	}
	if d.fileDigest == nil {
		d.fileDigest = fingerprint.File
	}
	return d, nil
}

// DryRun reports whether the detector skips all store mutations.
func (d *Detector) DryRun() bool { return d.dryRun }

// ScanFolders walks mission/capture directories. The returned error is set
// only when the source root itself cannot be listed; unit failures live in
// the report.
func (d *Detector) ScanFolders(ctx context.Context) (Report, error) {
	report := Report{Kind: KindFolder}
	missions, err := listDirs(d.sourceRoot)
	if err != nil {
		return report, services.Wrap(services.ErrFilesystem, PhaseWalk, d.sourceRoot, "list source root", err)
	}

	for _, mission := range missions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		missionPath := filepath.Join(d.sourceRoot, mission)
		captures, err := listDirs(missionPath)
		if err != nil {
			res := Result{
				Unit:  Unit{Kind: KindFolder, Key: mission, MissionKey: mission, SourcePath: missionPath},
				Phase: PhaseWalk,
				Err:   services.Wrap(services.ErrFilesystem, PhaseWalk, mission, "list mission", err),
			}
			d.logFailure(ctx, res)
			report.add(res)
			continue
		}
		for _, capture := range captures {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			res := d.scanFolder(ctx, mission, capture)
			report.add(res)
		}
	}
	d.logReport(report)
	return report, nil
}

func (d *Detector) scanFolder(ctx context.Context, mission, capture string) Result {
	key := mission + "/" + capture
	unit := Unit{
		Kind:       KindFolder,
		Key:        key,
		MissionKey: mission,
		SourcePath: filepath.Join(d.sourceRoot, mission, capture),
		OutputPath: filepath.Join(d.archiveRoot, mission, capture+".tar.gz"),
	}
	ctx = services.WithUnitKey(ctx, key)

	stats, err := d.stats(ctx, unit.SourcePath)
	if err != nil {
		return d.fail(ctx, unit, PhaseStats, err)
	}
	unit.Fingerprint = stats.Fingerprint
	unit.SizeKB = stats.SizeKB
	unit.FileCount = stats.FileCount

	rec, err := d.store.GetFolder(ctx, key)
	present := true
	if errors.Is(err, state.ErrNotFound) {
		present, rec = false, nil
	} else if err != nil {
		return d.fail(ctx, unit, PhaseStateGet, err)
	}

	var status *state.Status
	matches := false
	if present {
		status = rec.Status
		matches = rec.Fingerprint == unit.Fingerprint
	}
	class := Classify(present, matches, status)
	res := Result{Unit: unit, Classification: class}

	if d.dryRun {
		d.logClassified(ctx, res, status)
		return res
	}
	if class.NeedsProcessing() {
		err := d.store.UpsertFolder(ctx, state.FolderUpsert{
			FolderKey:   key,
			MissionKey:  mission,
			Fingerprint: unit.Fingerprint,
			SizeKB:      unit.SizeKB,
			FileCount:   unit.FileCount,
			OutputPath:  unit.OutputPath,
		})
		if err != nil {
			return d.failClassified(ctx, res, PhaseStateUpsert, err)
		}
	} else if err := d.store.TouchFolder(ctx, key); err != nil {
		return d.failClassified(ctx, res, PhaseStateTouch, err)
	}
	d.logClassified(ctx, res, status)
	return res
}

// ScanMarkers looks for one marker file per mission. Missions without any
// folder record are skipped before any marker-state call is made.
func (d *Detector) ScanMarkers(ctx context.Context) (Report, error) {
	report := Report{Kind: KindMarker}
	missions, err := listDirs(d.sourceRoot)
	if err != nil {
		return report, services.Wrap(services.ErrFilesystem, PhaseWalk, d.sourceRoot, "list source root", err)
	}

	for _, mission := range missions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		missionPath := filepath.Join(d.sourceRoot, mission)
		markerPath, err := d.findMarker(missionPath)
		if err != nil {
			res := Result{
				Unit:  Unit{Kind: KindMarker, Key: mission, MissionKey: mission, SourcePath: missionPath},
				Phase: PhaseWalk,
				Err:   services.Wrap(services.ErrFilesystem, PhaseWalk, mission, "list mission", err),
			}
			d.logFailure(ctx, res)
			report.add(res)
			continue
		}
		if markerPath == "" {
			d.logger.Debug("no marker file in mission", logging.String(logging.FieldUnitKey, mission))
			continue
		}
		report.add(d.scanMarker(ctx, mission, markerPath))
	}
	d.logReport(report)
	return report, nil
}

func (d *Detector) scanMarker(ctx context.Context, mission, markerPath string) Result {
	unit := Unit{
		Kind:       KindMarker,
		Key:        mission,
		MissionKey: mission,
		SourcePath: markerPath,
		OutputPath: filepath.Join(d.potreeRoot, mission),
	}
	ctx = services.WithUnitKey(ctx, mission)

	digest, err := d.fileDigest(ctx, markerPath)
	if err != nil {
		return d.fail(ctx, unit, PhaseFingerprint, err)
	}
	unit.Fingerprint = digest

	known, err := d.store.MissionHasFolders(ctx, mission)
	if err != nil {
		return d.fail(ctx, unit, PhaseMissionCheck, err)
	}
	if !known {
		d.logger.Info("marker file skipped; mission has no folder records",
			logging.String(logging.FieldUnitKey, mission),
			logging.String(logging.FieldUnitKind, string(KindMarker)),
		)
		return Result{Unit: unit, Skipped: true}
	}

	rec, err := d.store.GetMarker(ctx, mission)
	present := true
	if errors.Is(err, state.ErrNotFound) {
		present, rec = false, nil
	} else if err != nil {
		return d.fail(ctx, unit, PhaseStateGet, err)
	}

	var status *state.Status
	matches := false
	if present {
		status = rec.Status
		matches = rec.Fingerprint == digest
	}
	class := Classify(present, matches, status)
	res := Result{Unit: unit, Classification: class}

	if d.dryRun {
		d.logClassified(ctx, res, status)
		return res
	}
	if class.NeedsProcessing() {
		err := d.store.UpsertMarker(ctx, state.MarkerUpsert{
			MissionKey:  mission,
			Fingerprint: digest,
			OutputPath:  unit.OutputPath,
		})
		if err != nil {
			return d.failClassified(ctx, res, PhaseStateUpsert, err)
		}
	} else if err := d.store.TouchMarker(ctx, mission); err != nil {
		return d.failClassified(ctx, res, PhaseStateTouch, err)
	}
	d.logClassified(ctx, res, status)
	return res
}

// findMarker returns the first regular file in listing order carrying the
// marker suffix, or "" when there is none.
func (d *Detector) findMarker(missionPath string) (string, error) {
	entries, err := os.ReadDir(missionPath)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), d.markerSuffix) {
			continue
		}
		path := filepath.Join(missionPath, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return path, nil
	}
	return "", nil
}

// listDirs returns the names of directories (following symlinks) directly
// under root, in listing order.
func listDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(filepath.Join(root, entry.Name())); err == nil && info.IsDir() {
				names = append(names, entry.Name())
			}
		}
	}
	return names, nil
}

func (d *Detector) fail(ctx context.Context, unit Unit, phase string, err error) Result {
	res := Result{Unit: unit, Phase: phase, Err: classify(phase, unit.Key, err)}
	d.logFailure(ctx, res)
	return res
}

func (d *Detector) failClassified(ctx context.Context, res Result, phase string, err error) Result {
	res.Phase = phase
	res.Err = classify(phase, res.Unit.Key, err)
	d.logFailure(ctx, res)
	return res
}

// classify keeps an existing failure marker and tags unmarked errors as
// connectivity failures, which is what an unclassified store error means.
func classify(phase, key string, err error) error {
	if services.Kind(err) != "unknown" {
		return fmt.Errorf("%s: %s: %w", phase, key, err)
	}
	marker := services.ErrConnectivity
	if phase == PhaseStats {
		marker = services.ErrStats
	} else if phase == PhaseFingerprint || phase == PhaseWalk {
		marker = services.ErrFilesystem
	}
	return services.Wrap(marker, phase, key, "", err)
}

func (d *Detector) logFailure(ctx context.Context, res Result) {
	logging.WarnWithContext(logging.WithContext(ctx, d.logger), "unit failed; continuing with next unit", "unit_failed",
		logging.String(logging.FieldUnitKey, res.Unit.Key),
		logging.String(logging.FieldUnitKind, string(res.Unit.Kind)),
		logging.String(logging.FieldPhase, res.Phase),
		logging.ErrorKind(res.Err),
		logging.Error(res.Err),
		logging.String(logging.FieldErrorHint, "the next scan retries this unit"),
		logging.String(logging.FieldImpact, "unit not queued in this pass"),
	)
}

func (d *Detector) logClassified(ctx context.Context, res Result, prior *state.Status) {
	level := slog.LevelDebug
	if res.Classification.NeedsProcessing() {
		level = slog.LevelInfo
	}
	logging.WithContext(ctx, d.logger).Log(ctx, level, "unit classified",
		logging.String(logging.FieldUnitKey, res.Unit.Key),
		logging.String(logging.FieldUnitKind, string(res.Unit.Kind)),
		logging.String(logging.FieldClassification, string(res.Classification)),
		logging.String("prior_status", prior.String()),
		logging.String("fingerprint", res.Unit.Fingerprint),
		logging.Int64("size_kb", res.Unit.SizeKB),
		logging.Int64("file_count", res.Unit.FileCount),
		logging.Bool("dry_run", d.dryRun),
	)
}

func (d *Detector) logReport(report Report) {
	s := report.Summary()
	d.logger.Info("scan pass complete",
		logging.String(logging.FieldUnitKind, string(report.Kind)),
		logging.Int("scanned", s.Scanned),
		logging.Int("changes", len(report.Changes)),
		logging.Int("new", s.New),
		logging.Int("changed", s.Changed),
		logging.Int("incomplete", s.Incomplete),
		logging.Int("unchanged_complete", s.UnchangedComplete),
		logging.Int("skipped", s.Skipped),
		logging.Int("failed", s.Failed),
	)
}
