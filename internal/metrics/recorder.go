package metrics

import (
	"context"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/EPFL-ENAC/AddLidar/internal/dispatch"
	"github.com/EPFL-ENAC/AddLidar/internal/scanner"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

const namespace = "lidarscan"

// Recorder holds the per-run metric set on a private registry.
type Recorder struct {
	reg         *prom.Registry
	units       *prom.GaugeVec
	failures    *prom.GaugeVec
	jobs        *prom.CounterVec
	dispatched  *prom.GaugeVec
	duration    prom.Gauge
	lastSuccess prom.Gauge
}

// NewRecorder constructs and registers the scan metrics.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prom.NewRegistry(),
		units: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "units",
			Help:      "Units seen in the last scan by kind and classification",
		}, []string{"kind", "classification"}),
		failures: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_failures",
			Help:      "Units that failed in the last scan by kind and error kind",
		}, []string{"kind", "error_kind"}),
		jobs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Batch jobs by kind and result",
		}, []string{"kind", "result"}),
		dispatched: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatched_units",
			Help:      "Units handed to the orchestration API in the last scan",
		}, []string{"kind"}),
		duration: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last scan",
		}),
		lastSuccess: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_completion_timestamp_seconds",
			Help:      "Unix time the last scan finished",
		}),
	}
	r.reg.MustRegister(r.units, r.failures, r.jobs, r.dispatched, r.duration, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prom.Registry { return r.reg }

// ObserveReport sets unit gauges from a scan pass.
func (r *Recorder) ObserveReport(report scanner.Report) {
	kind := string(report.Kind)
	s := report.Summary()
	r.units.WithLabelValues(kind, string(scanner.ClassNew)).Set(float64(s.New))
	r.units.WithLabelValues(kind, string(scanner.ClassChanged)).Set(float64(s.Changed))
	r.units.WithLabelValues(kind, string(scanner.ClassIncomplete)).Set(float64(s.Incomplete))
	r.units.WithLabelValues(kind, string(scanner.ClassUnchangedComplete)).Set(float64(s.UnchangedComplete))
	r.units.WithLabelValues(kind, "skipped").Set(float64(s.Skipped))

	byKind := map[string]int{}
	for _, res := range report.Failures() {
		byKind[services.Kind(res.Err)]++
	}
	for errKind, n := range byKind {
		r.failures.WithLabelValues(kind, errKind).Set(float64(n))
	}
}

// ObserveDispatch counts one dispatch attempt.
func (r *Recorder) ObserveDispatch(out dispatch.Outcome, err error) {
	kind := string(out.Kind)
	switch {
	case err != nil:
		r.jobs.WithLabelValues(kind, "failed").Inc()
	case out.Submitted:
		r.jobs.WithLabelValues(kind, "submitted").Inc()
		r.dispatched.WithLabelValues(kind).Set(float64(out.Units))
	case out.Previewed:
		r.jobs.WithLabelValues(kind, "exported").Inc()
	}
}

// ObserveRun records the run duration and completion time.
func (r *Recorder) ObserveRun(elapsed time.Duration, finished time.Time) {
	r.duration.Set(elapsed.Seconds())
	r.lastSuccess.Set(float64(finished.Unix()))
}

// Push replaces the job's metric group on the Pushgateway.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("%w: push metrics to %s: %w", services.ErrConnectivity, url, err)
	}
	return nil
}
