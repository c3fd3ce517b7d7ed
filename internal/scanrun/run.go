package scanrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EPFL-ENAC/AddLidar/internal/cluster"
	"github.com/EPFL-ENAC/AddLidar/internal/config"
	"github.com/EPFL-ENAC/AddLidar/internal/dispatch"
	"github.com/EPFL-ENAC/AddLidar/internal/events"
	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/metrics"
	"github.com/EPFL-ENAC/AddLidar/internal/scanner"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
)

// Options configures a single run. The injection fields are optional; when
// nil they are built from the configuration.
type Options struct {
	// DryRun classifies without touching state or submitting jobs.
	DryRun bool
	// ExportOnly writes job manifests to Preview instead of submitting.
	// State updates still happen.
	ExportOnly bool
	Preview    io.Writer
	Logger     *slog.Logger

	Store     state.Store
	Submitter dispatch.Submitter
	Publisher events.Publisher
	Clock     func() time.Time
}

// Pass is the outcome for one unit kind.
type Pass struct {
	Report   scanner.Report
	Dispatch dispatch.Outcome
	// Deferred counts changes left pending by the max-jobs cap.
	Deferred int
	Err      error
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Folders  Pass
	Markers  Pass
	Started  time.Time
	Finished time.Time
	DryRun   bool
}

// Run performs one scan. A returned error wrapping services.ErrConfiguration
// means nothing was scanned. Submission failures are returned joined after
// both passes completed; their units remain pending in state.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", services.ErrConfiguration)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.NewComponentLogger(opts.Logger, "scanrun").With(logging.String(logging.FieldRunID, runID))
	res := &Result{RunID: runID, Started: now(), DryRun: opts.DryRun}

	release, err := acquireLock(cfg.Scan.LockFile)
	defer release()
	if err != nil {
		return res, err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return res, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	dispatcher, err := newDispatcher(cfg, opts, runID, logger)
	if err != nil {
		return res, err
	}

	store := opts.Store
	if store == nil {
		s, closer, err := OpenStore(cfg)
		if err != nil {
			return res, err
		}
		defer closer.Close()
		store = s
	}

	detector, err := scanner.New(store, scanner.OptionsFromConfig(cfg, opts.DryRun, opts.Logger))
	if err != nil {
		return res, err
	}

	publisher := opts.Publisher
	if publisher == nil {
		publisher = connectEvents(cfg, opts.Logger, logger)
	}
	defer publisher.Close()
	recorder := metrics.NewRecorder()

	logger.Info("scan started",
		logging.String(logging.FieldEventType, "scan_started"),
		logging.String("source_root", cfg.Paths.SourceRoot),
		logging.String("archive_root", cfg.Paths.ArchiveRoot),
		logging.Bool("dry_run", opts.DryRun),
		logging.Bool("export_only", opts.ExportOnly),
		logging.Int("max_jobs", cfg.Jobs.MaxJobs),
	)

	r := runner{
		cfg:        cfg,
		opts:       opts,
		runID:      runID,
		dispatcher: dispatcher,
		publisher:  publisher,
		recorder:   recorder,
		logger:     logger,
	}

	res.Folders, err = r.pass(ctx, scanner.KindFolder, detector.ScanFolders)
	if err != nil {
		return res, err
	}
	res.Markers, err = r.pass(ctx, scanner.KindMarker, detector.ScanMarkers)
	if err != nil {
		return res, err
	}

	res.Finished = now()
	recorder.ObserveRun(res.Finished.Sub(res.Started), res.Finished)
	if err := recorder.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName); err != nil {
		logging.WarnWithContext(logger, "metrics push failed", "metrics_push_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check metrics.pushgateway_url"),
			logging.String(logging.FieldImpact, "run metrics not recorded"),
		)
	}
	r.publish(ctx, events.Event{
		Type:   events.TypeScanFinished,
		RunID:  runID,
		Count:  len(res.Folders.Report.Changes) + len(res.Markers.Report.Changes),
		Failed: len(res.Folders.Report.Failures()) + len(res.Markers.Report.Failures()),
		DryRun: opts.DryRun,
	})

	fs, ms := res.Folders.Report.Summary(), res.Markers.Report.Summary()
	logger.Info("scan finished",
		logging.String(logging.FieldEventType, "scan_finished"),
		logging.Int("folders_scanned", fs.Scanned),
		logging.Int("folders_queued", res.Folders.Dispatch.Units),
		logging.Int("folders_deferred", res.Folders.Deferred),
		logging.Int("folders_failed", fs.Failed),
		logging.Int("markers_scanned", ms.Scanned),
		logging.Int("markers_queued", res.Markers.Dispatch.Units),
		logging.Int("markers_deferred", res.Markers.Deferred),
		logging.Int("markers_failed", ms.Failed),
		logging.Duration("elapsed", res.Finished.Sub(res.Started)),
	)
	return res, errors.Join(res.Folders.Err, res.Markers.Err)
}

type runner struct {
	cfg        *config.Config
	opts       Options
	runID      string
	dispatcher *dispatch.Dispatcher
	publisher  events.Publisher
	recorder   *metrics.Recorder
	logger     *slog.Logger
}

func (r runner) pass(ctx context.Context, kind scanner.UnitKind, scan func(context.Context) (scanner.Report, error)) (Pass, error) {
	report, err := scan(ctx)
	p := Pass{Report: report, Dispatch: dispatch.Outcome{Kind: kind}}
	if err != nil {
		return p, err
	}
	r.recorder.ObserveReport(report)

	units := dispatch.Limit(report.Changes, r.cfg.Jobs.MaxJobs)
	p.Deferred = len(report.Changes) - len(units)
	if p.Deferred > 0 {
		r.logger.Info("max-jobs cap reached; remaining units stay pending",
			logging.String(logging.FieldUnitKind, string(kind)),
			logging.Int("queued", len(units)),
			logging.Int("deferred", p.Deferred),
		)
	}

	if r.opts.DryRun {
		batch := dispatch.Plan(kind, units, r.cfg.Jobs.Parallelism)
		p.Dispatch = dispatch.Outcome{Kind: kind, Units: len(units), Parallelism: batch.Parallelism}
		r.logger.Info("dry run; job not submitted",
			logging.String(logging.FieldUnitKind, string(kind)),
			logging.Int("units", len(units)),
			logging.Int("parallelism", batch.Parallelism),
		)
		return p, nil
	}

	out, err := r.dispatcher.Dispatch(ctx, kind, units)
	p.Dispatch = out
	r.recorder.ObserveDispatch(out, err)
	if len(units) == 0 {
		return p, nil
	}
	ev := events.Event{
		RunID:      r.runID,
		Kind:       string(kind),
		JobName:    out.JobName,
		Units:      unitKeys(units),
		Count:      len(units),
		ExportOnly: r.opts.ExportOnly,
	}
	switch {
	case err != nil:
		if services.IsFatal(err) {
			return p, err
		}
		p.Err = err
		ev.Type = events.TypeJobFailed
		ev.Error = err.Error()
	case out.Previewed:
		ev.Type = events.TypeJobExported
	default:
		ev.Type = events.TypeJobSubmitted
	}
	r.publish(ctx, ev)
	return p, nil
}

func (r runner) publish(ctx context.Context, ev events.Event) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		logging.WarnWithContext(r.logger, "event publish failed", "event_publish_failed",
			logging.String("type", ev.Type),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check events.nats_url"),
			logging.String(logging.FieldImpact, "downstream consumers miss this event"),
		)
	}
}

func newDispatcher(cfg *config.Config, opts Options, runID string, logger *slog.Logger) (*dispatch.Dispatcher, error) {
	dopts := dispatch.OptionsFromConfig(cfg)
	dopts.ExportOnly = opts.ExportOnly || opts.DryRun
	dopts.Preview = opts.Preview
	dopts.RunID = runID
	dopts.Clock = opts.Clock
	dopts.Logger = opts.Logger

	submitter := opts.Submitter
	if submitter == nil && !dopts.ExportOnly {
		client, source, err := cluster.NewClientset(cfg.Cluster.Kubeconfig)
		if err != nil {
			return nil, err
		}
		logger.Debug("orchestration client ready", logging.String("credentials", string(source)))
		submitter = dispatch.NewKubeSubmitter(client, cfg.Cluster.Namespace)
	}
	return dispatch.New(submitter, dopts)
}

func connectEvents(cfg *config.Config, base, logger *slog.Logger) events.Publisher {
	publisher, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, base)
	if err != nil {
		logging.WarnWithContext(logger, "event publisher unavailable", "events_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check events.nats_url"),
			logging.String(logging.FieldImpact, "dispatch events not published this run"),
		)
		return events.Noop{}
	}
	return publisher
}

func unitKeys(units []scanner.Unit) []string {
	keys := make([]string, 0, len(units))
	for _, u := range units {
		keys = append(keys, u.Key)
	}
	return keys
}
