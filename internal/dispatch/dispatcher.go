package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/template"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/scanner"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// DefaultParallelism is the ceiling used when none is configured.
const DefaultParallelism = 4

// timestampLayout is YYYYMMDDHHMMSS.
const timestampLayout = "20060102150405"

// Batch is one planned Job: the units of a single kind and the worker
// parallelism to run them with.
type Batch struct {
	Kind        scanner.UnitKind
	Units       []scanner.Unit
	Parallelism int
}

// Plan sizes a batch. Parallelism is min(len(units), ceiling); a ceiling
// below one falls back to DefaultParallelism.
func Plan(kind scanner.UnitKind, units []scanner.Unit, ceiling int) Batch {
	if ceiling < 1 {
		ceiling = DefaultParallelism
	}
	return Batch{Kind: kind, Units: units, Parallelism: min(len(units), ceiling)}
}

// Limit keeps the first n units. An n below one keeps everything.
func Limit(units []scanner.Unit, n int) []scanner.Unit {
	if n < 1 || len(units) <= n {
		return units
	}
	return units[:n]
}

// Outcome describes what Dispatch did.
type Outcome struct {
	Kind        scanner.UnitKind
	JobName     string
	Units       int
	Parallelism int
	Previewed   bool
	Submitted   bool
}

// Options configures a Dispatcher.
type Options struct {
	Namespace   string
	VolumeClaim string
	BackendURL  string
	SourceRoot  string
	ArchiveRoot string
	PotreeRoot  string
	Parallelism int

	CompressionImage    config.Image
	PotreeImage         config.Image
	CompressionTemplate string
	PotreeTemplate      string

	// ExportOnly writes manifests to Preview instead of submitting.
	ExportOnly bool
	Preview    io.Writer

	RunID  string
	Clock  func() time.Time
	Logger *slog.Logger
}

// OptionsFromConfig derives dispatcher options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Namespace:           cfg.Cluster.Namespace,
		VolumeClaim:         cfg.Cluster.VolumeClaim,
		BackendURL:          cfg.Backend.URL,
		SourceRoot:          cfg.Paths.SourceRoot,
		ArchiveRoot:         cfg.Paths.ArchiveRoot,
		PotreeRoot:          cfg.PotreeRoot(),
		Parallelism:         cfg.Jobs.Parallelism,
		CompressionImage:    cfg.Jobs.CompressionImage,
		PotreeImage:         cfg.Jobs.PotreeImage,
		CompressionTemplate: cfg.Jobs.CompressionTemplate,
		PotreeTemplate:      cfg.Jobs.PotreeTemplate,
	}
}

// Dispatcher renders and submits one Job per unit kind.
type Dispatcher struct {
	opts      Options
	submitter Submitter
	templates map[scanner.UnitKind]*template.Template
	images    map[scanner.UnitKind]string
	logger    *slog.Logger
	now       func() time.Time
}

// New loads both job templates up front so a missing template fails the run
// before any scanning. The submitter may be nil in export-only mode.
func New(submitter Submitter, opts Options) (*Dispatcher, error) {
	if submitter == nil && !opts.ExportOnly {
		return nil, fmt.Errorf("%w: dispatcher requires an orchestration client unless export-only", services.ErrConfiguration)
	}
	compression, err := LoadTemplate(scanner.KindFolder, opts.CompressionTemplate)
	if err != nil {
		return nil, err
	}
	potree, err := LoadTemplate(scanner.KindMarker, opts.PotreeTemplate)
	if err != nil {
		return nil, err
	}
	if opts.Preview == nil {
		opts.Preview = os.Stdout
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		opts:      opts,
		submitter: submitter,
		templates: map[scanner.UnitKind]*template.Template{
			scanner.KindFolder: compression,
			scanner.KindMarker: potree,
		},
		images: map[scanner.UnitKind]string{
			scanner.KindFolder: opts.CompressionImage.Reference(),
			scanner.KindMarker: opts.PotreeImage.Reference(),
		},
		logger: logging.NewComponentLogger(opts.Logger, "dispatch"),
		now:    now,
	}, nil
}

// JobName returns <prefix>-YYYYMMDDHHMMSS for kind at t.
func JobName(kind scanner.UnitKind, t time.Time) string {
	prefix := "lidar-compression"
	if kind == scanner.KindMarker {
		prefix = "potree-conversion"
	}
	return prefix + "-" + t.Format(timestampLayout)
}

// Render produces the manifest for a batch without submitting it.
func (d *Dispatcher) Render(batch Batch) (string, []byte, error) {
	tmpl, ok := d.templates[batch.Kind]
	if !ok {
		return "", nil, fmt.Errorf("%w: no job template for %q", services.ErrConfiguration, batch.Kind)
	}
	now := d.now()
	name := JobName(batch.Kind, now)
	data := TemplateData{
		JobName:     name,
		Namespace:   d.opts.Namespace,
		RunID:       d.opts.RunID,
		Timestamp:   now.Format(timestampLayout),
		Kind:        string(batch.Kind),
		Parallelism: batch.Parallelism,
		Units:       templateUnits(batch.Units),
		SourceRoot:  d.opts.SourceRoot,
		ArchiveRoot: d.opts.ArchiveRoot,
		PotreeRoot:  d.opts.PotreeRoot,
		VolumeClaim: d.opts.VolumeClaim,
		BackendURL:  d.opts.BackendURL,
		Image:       d.images[batch.Kind],
	}
	manifest, err := render(tmpl, data)
	if err != nil {
		return "", nil, err
	}
	return name, manifest, nil
}

// Dispatch renders one Job for units and either previews or submits it. An
// empty unit list is a no-op. State records are left untouched on failure;
// the units stay pending for the next scan.
func (d *Dispatcher) Dispatch(ctx context.Context, kind scanner.UnitKind, units []scanner.Unit) (Outcome, error) {
	batch := Plan(kind, units, d.opts.Parallelism)
	out := Outcome{Kind: kind, Units: len(units), Parallelism: batch.Parallelism}
	if len(units) == 0 {
		d.logger.Debug("no units to dispatch", logging.String(logging.FieldUnitKind, string(kind)))
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	name, manifest, err := d.Render(batch)
	if err != nil {
		return out, err
	}
	out.JobName = name
	job, err := DecodeJob(manifest)
	if err != nil {
		return out, err
	}

	logger := logging.WithContext(ctx, d.logger).With(
		logging.String("job_name", name),
		logging.String(logging.FieldUnitKind, string(kind)),
		logging.Int("units", len(units)),
		logging.Int("parallelism", batch.Parallelism),
	)

	if d.opts.ExportOnly {
		if _, err := fmt.Fprintf(d.opts.Preview, "---\n%s", manifest); err != nil {
			return out, fmt.Errorf("write job preview: %w", err)
		}
		out.Previewed = true
		logger.Info("job manifest exported", logging.String(logging.FieldEventType, "job_exported"))
		return out, nil
	}

	created, err := d.submitter.Submit(ctx, job)
	if err != nil {
		logging.ErrorWithContext(logger, "job submission failed", "job_submit_failed",
			logging.ErrorKind(err),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "units remain pending and are resubmitted by the next scan"),
		)
		return out, err
	}
	if created != "" {
		out.JobName = created
	}
	out.Submitted = true
	logger.Info("job submitted", logging.String(logging.FieldEventType, "job_submitted"))
	return out, nil
}
