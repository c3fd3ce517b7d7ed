package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/EPFL-ENAC/AddLidar/internal/dispatch"
	"github.com/EPFL-ENAC/AddLidar/internal/metrics"
	"github.com/EPFL-ENAC/AddLidar/internal/scanner"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

func TestRecorderObservesReportAndDispatch(t *testing.T) {
	r := metrics.NewRecorder()
	report := scanner.Report{
		Kind: scanner.KindFolder,
		Results: []scanner.Result{
			{Classification: scanner.ClassNew},
			{Classification: scanner.ClassNew},
			{Classification: scanner.ClassUnchangedComplete},
			{Err: services.ErrConnectivity},
		},
	}
	r.ObserveReport(report)
	r.ObserveDispatch(dispatch.Outcome{Kind: scanner.KindFolder, Units: 2, Submitted: true}, nil)
	r.ObserveDispatch(dispatch.Outcome{Kind: scanner.KindMarker}, errors.New("boom"))

	expected := `
# HELP lidarscan_jobs_total Batch jobs by kind and result
# TYPE lidarscan_jobs_total counter
lidarscan_jobs_total{kind="folder",result="submitted"} 1
lidarscan_jobs_total{kind="marker",result="failed"} 1
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "lidarscan_jobs_total"); err != nil {
		t.Fatalf("jobs_total mismatch: %v", err)
	}
	n, err := testutil.GatherAndCount(r.Registry(), "lidarscan_units")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 unit series, got %d", n)
	}
	expectedFailures := `
# HELP lidarscan_unit_failures Units that failed in the last scan by kind and error kind
# TYPE lidarscan_unit_failures gauge
lidarscan_unit_failures{error_kind="connectivity",kind="folder"} 1
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expectedFailures), "lidarscan_unit_failures"); err != nil {
		t.Fatalf("unit_failures mismatch: %v", err)
	}
}

func TestPushSendsToGateway(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotMethod = req.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := metrics.NewRecorder()
	r.ObserveRun(2*time.Second, time.Unix(1_700_000_000, 0))
	if err := r.Push(context.Background(), srv.URL, "lidarscan"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/metrics/job/lidarscan" {
		t.Fatalf("push request %s %s", gotMethod, gotPath)
	}
}

func TestPushFailureIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := metrics.NewRecorder().Push(context.Background(), srv.URL, "lidarscan")
	if !errors.Is(err, services.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	if err := metrics.NewRecorder().Push(context.Background(), "", "lidarscan"); err != nil {
		t.Fatalf("Push: %v", err)
	}
}
