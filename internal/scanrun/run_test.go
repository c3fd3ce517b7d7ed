package scanrun_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
	"github.com/EPFL-ENAC/AddLidar/internal/dispatch"
	"github.com/EPFL-ENAC/AddLidar/internal/events"
	"github.com/EPFL-ENAC/AddLidar/internal/scanrun"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
	"github.com/EPFL-ENAC/AddLidar/internal/testsupport"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func tickingClock() func() time.Time {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	return func() time.Time {
		t := now
		now = now.Add(time.Second)
		return t
	}
}

func makeCaptures(t *testing.T, cfg *config.Config, mission string, n int) {
	t.Helper()
	for i := range n {
		testsupport.MakeCapture(t, cfg.Paths.SourceRoot, mission, fmt.Sprintf("capture_%02d", i), "points.las")
	}
}

func TestRunExportOnlyPrintsOneJobForFiveUnits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	makeCaptures(t, cfg, "0001_Mission", 5)
	var preview bytes.Buffer
	pub := &recordingPublisher{}

	res, err := scanrun.Run(context.Background(), cfg, scanrun.Options{
		ExportOnly: true,
		Preview:    &preview,
		Publisher:  pub,
		Clock:      tickingClock(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := res.Folders.Dispatch
	if !out.Previewed || out.Submitted || out.Units != 5 || out.Parallelism != 4 {
		t.Fatalf("folder outcome = %+v", out)
	}
	if n := strings.Count(preview.String(), "kind: Job"); n != 1 {
		t.Fatalf("expected one job manifest, got %d", n)
	}

	db, err := statedb.Open(cfg.Paths.StateDB)
	if err != nil {
		t.Fatalf("reopen state db: %v", err)
	}
	defer db.Close()
	counts, err := db.StatusCounts(context.Background(), "folder_state")
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[string(state.StatusPending)] != 5 {
		t.Fatalf("export-only must still record pending state: %v", counts)
	}

	types := pub.types()
	if len(types) != 2 || types[0] != events.TypeJobExported || types[1] != events.TypeScanFinished {
		t.Fatalf("events = %v", types)
	}
}

func TestRunMaxJobsLeavesRemainderPending(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxJobs(2))
	makeCaptures(t, cfg, "m", 5)
	store := testsupport.NewMemoryStore()
	client := fake.NewSimpleClientset()

	res, err := scanrun.Run(context.Background(), cfg, scanrun.Options{
		Store:     store,
		Submitter: dispatch.NewKubeSubmitter(client, cfg.Cluster.Namespace),
		Publisher: &recordingPublisher{},
		Clock:     tickingClock(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Folders.Dispatch.Units != 2 || res.Folders.Deferred != 3 {
		t.Fatalf("dispatched %d deferred %d", res.Folders.Dispatch.Units, res.Folders.Deferred)
	}
	for _, key := range store.FolderKeys() {
		rec, _ := store.Folder(key)
		if *rec.Status != state.StatusPending {
			t.Fatalf("%s status %s", key, rec.Status.String())
		}
	}
	if len(store.FolderKeys()) != 5 {
		t.Fatalf("expected 5 records, got %d", len(store.FolderKeys()))
	}

	// The deferred units are still incomplete and are picked up next time.
	res, err = scanrun.Run(context.Background(), cfg, scanrun.Options{
		Store:     store,
		Submitter: dispatch.NewKubeSubmitter(client, cfg.Cluster.Namespace),
		Publisher: &recordingPublisher{},
		Clock:     func() time.Time { return time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(res.Folders.Report.Changes) != 5 {
		t.Fatalf("pending units should be re-listed, got %d", len(res.Folders.Report.Changes))
	}
}

func TestRunDryRunMakesNoChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	makeCaptures(t, cfg, "m", 3)
	testsupport.MakeMarker(t, cfg.Paths.SourceRoot, "m", "m.metacloud", "cloud")
	store := testsupport.NewMemoryStore()
	store.SeedFolder(state.FolderRecord{FolderKey: "m/capture_00", Fingerprint: "stale", Status: state.StatusPtr(state.StatusSuccess)})
	client := fake.NewSimpleClientset()
	var preview bytes.Buffer

	res, err := scanrun.Run(context.Background(), cfg, scanrun.Options{
		DryRun:    true,
		Preview:   &preview,
		Store:     store,
		Submitter: dispatch.NewKubeSubmitter(client, cfg.Cluster.Namespace),
		Publisher: &recordingPublisher{},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Folders.Report.Changes) != 3 || len(res.Markers.Report.Changes) != 1 {
		t.Fatalf("changes folders=%d markers=%d", len(res.Folders.Report.Changes), len(res.Markers.Report.Changes))
	}
	if n := store.Mutations(); n != 0 {
		t.Fatalf("dry run mutated state: %v", store.Calls())
	}
	if n := len(client.Actions()); n != 0 {
		t.Fatalf("dry run called the orchestration API %d times", n)
	}
	if preview.Len() != 0 {
		t.Fatalf("dry run wrote manifests")
	}
}

func TestRunDispatchesMarkersAfterFolders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	makeCaptures(t, cfg, "m", 1)
	testsupport.MakeMarker(t, cfg.Paths.SourceRoot, "m", "m.metacloud", "cloud")
	testsupport.MakeMarker(t, cfg.Paths.SourceRoot, "orphan", "o.metacloud", "cloud")
	client := fake.NewSimpleClientset()

	res, err := scanrun.Run(context.Background(), cfg, scanrun.Options{
		Submitter: dispatch.NewKubeSubmitter(client, cfg.Cluster.Namespace),
		Publisher: &recordingPublisher{},
		Clock:     tickingClock(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Folders.Dispatch.Submitted || !res.Markers.Dispatch.Submitted {
		t.Fatalf("outcomes folders=%+v markers=%+v", res.Folders.Dispatch, res.Markers.Dispatch)
	}
	if res.Markers.Dispatch.Units != 1 {
		t.Fatalf("orphan marker dispatched: %+v", res.Markers.Dispatch)
	}
	if s := res.Markers.Report.Summary(); s.Skipped != 1 {
		t.Fatalf("marker summary = %+v", s)
	}
	var names []string
	for _, a := range client.Actions() {
		if create, ok := a.(k8stesting.CreateAction); ok {
			names = append(names, create.GetObject().(interface{ GetName() string }).GetName())
		}
	}
	if len(names) != 2 || !strings.HasPrefix(names[0], "lidar-compression-") || !strings.HasPrefix(names[1], "potree-conversion-") {
		t.Fatalf("created jobs = %v", names)
	}
}

func TestRunSubmissionFailureKeepsUnitsPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	makeCaptures(t, cfg, "m", 2)
	store := testsupport.NewMemoryStore()
	client := fake.NewSimpleClientset()
	client.PrependReactor("create", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})
	pub := &recordingPublisher{}

	res, err := scanrun.Run(context.Background(), cfg, scanrun.Options{
		Store:     store,
		Submitter: dispatch.NewKubeSubmitter(client, cfg.Cluster.Namespace),
		Publisher: pub,
		Clock:     tickingClock(),
	})
	if !errors.Is(err, services.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if res.Folders.Err == nil {
		t.Fatal("folder pass error not recorded")
	}
	for _, key := range store.FolderKeys() {
		rec, _ := store.Folder(key)
		if *rec.Status != state.StatusPending {
			t.Fatalf("%s rolled back to %s", key, rec.Status.String())
		}
	}
	if types := pub.types(); types[0] != events.TypeJobFailed {
		t.Fatalf("events = %v", types)
	}
}

func TestRunMissingTemplateAbortsBeforeScanning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Jobs.CompressionTemplate = filepath.Join(testsupport.BaseDir(cfg), "missing.yaml")
	makeCaptures(t, cfg, "m", 1)
	store := testsupport.NewMemoryStore()

	_, err := scanrun.Run(context.Background(), cfg, scanrun.Options{
		ExportOnly: true,
		Store:      store,
		Publisher:  &recordingPublisher{},
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if n := len(store.Calls()); n != 0 {
		t.Fatalf("store consulted %d times before configuration check", n)
	}
}

func TestRunRespectsHostLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Scan.LockFile = filepath.Join(testsupport.BaseDir(cfg), "scan.lock")
	held := flock.New(cfg.Scan.LockFile)
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	_, err = scanrun.Run(context.Background(), cfg, scanrun.Options{
		ExportOnly: true,
		Store:      testsupport.NewMemoryStore(),
		Publisher:  &recordingPublisher{},
	})
	if !errors.Is(err, scanrun.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}
