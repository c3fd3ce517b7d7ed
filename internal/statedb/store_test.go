package statedb_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time         { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func openStore(t *testing.T) (*statedb.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"), statedb.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func TestOpenAppliesMigrations(t *testing.T) {
	store, _ := openStore(t)
	versions, err := store.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 || versions[0] != "001_initial" || versions[1] != "002_error_detail" {
		t.Fatalf("unexpected migrations %v", versions)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := statedb.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := store.UpsertFolder(ctx, state.FolderUpsert{FolderKey: "M1/C1", Fingerprint: "fp"}); err != nil {
		t.Fatalf("UpsertFolder: %v", err)
	}
	_ = store.Close()

	reopened, err := statedb.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	rec, err := reopened.GetFolder(ctx, "M1/C1")
	if err != nil {
		t.Fatalf("GetFolder after reopen: %v", err)
	}
	if rec.MissionKey != "M1" {
		t.Fatalf("expected mission derived from key, got %q", rec.MissionKey)
	}
}

func TestFolderLifecycle(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()

	if _, err := store.GetFolder(ctx, "M1/C1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.TouchFolder(ctx, "M1/C1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on touch, got %v", err)
	}

	in := state.FolderUpsert{FolderKey: "M1/C1", MissionKey: "M1", Fingerprint: "fp1", SizeKB: 12, FileCount: 3, OutputPath: "/zip/M1/C1.tar.gz"}
	if err := store.UpsertFolder(ctx, in); err != nil {
		t.Fatalf("UpsertFolder: %v", err)
	}
	rec, err := store.GetFolder(ctx, "M1/C1")
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if rec.Fingerprint != "fp1" || rec.SizeKB != 12 || rec.FileCount != 3 || rec.OutputPath != in.OutputPath {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Status == nil || *rec.Status != state.StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if !rec.LastChecked.Equal(clock.now) {
		t.Fatalf("last_checked = %v, want %v", rec.LastChecked, clock.now)
	}

	message := "tar failed"
	elapsed := int64(42)
	if err := store.UpdateFolderStatus(ctx, "M1/C1", state.StatusUpdate{Status: state.StatusFailed, ErrorMessage: &message, ProcessingTime: &elapsed}); err != nil {
		t.Fatalf("UpdateFolderStatus failed: %v", err)
	}
	clock.Advance(time.Hour)
	if err := store.UpdateFolderStatus(ctx, "M1/C1", state.StatusUpdate{Status: state.StatusSuccess}); err != nil {
		t.Fatalf("UpdateFolderStatus success: %v", err)
	}
	rec, _ = store.GetFolder(ctx, "M1/C1")
	if !rec.Status.Complete() {
		t.Fatalf("expected complete status, got %s", rec.Status)
	}
	if rec.ErrorMessage != nil {
		t.Fatalf("expected error cleared on success, got %q", *rec.ErrorMessage)
	}
	if rec.LastProcessed == nil || !rec.LastProcessed.Equal(clock.now) {
		t.Fatalf("unexpected last_processed %v", rec.LastProcessed)
	}
	if rec.ProcessingTime == nil || *rec.ProcessingTime != 42 {
		t.Fatalf("expected processing time kept, got %v", rec.ProcessingTime)
	}

	clock.Advance(time.Hour)
	if err := store.TouchFolder(ctx, "M1/C1"); err != nil {
		t.Fatalf("TouchFolder: %v", err)
	}
	rec, _ = store.GetFolder(ctx, "M1/C1")
	if !rec.LastChecked.Equal(clock.now) || *rec.Status != state.StatusSuccess {
		t.Fatalf("touch must only move last_checked: %+v", rec)
	}

	in.Fingerprint = "fp2"
	in.SizeKB = 20
	if err := store.UpsertFolder(ctx, in); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	rec, _ = store.GetFolder(ctx, "M1/C1")
	if rec.Fingerprint != "fp2" || rec.SizeKB != 20 || *rec.Status != state.StatusPending {
		t.Fatalf("expected re-armed record, got %+v", rec)
	}
	if rec.LastProcessed != nil {
		t.Fatalf("re-arm must clear last_processed, got %v", rec.LastProcessed)
	}
}

func TestUpdateStatusRejectsUnknownAndMissing(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if err := store.UpdateFolderStatus(ctx, "M1/C1", state.StatusUpdate{Status: state.StatusSuccess}); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateFolderStatus(ctx, "M1/C1", state.StatusUpdate{Status: "done"}); !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("expected malformed record, got %v", err)
	}
	if err := store.UpsertFolder(ctx, state.FolderUpsert{FolderKey: "not-two-segments"}); !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("expected malformed key rejection, got %v", err)
	}
}

func TestPendingUpdateRefreshesStats(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if err := store.UpsertFolder(ctx, state.FolderUpsert{FolderKey: "M1/C1", Fingerprint: "a", SizeKB: 1, FileCount: 1}); err != nil {
		t.Fatalf("UpsertFolder: %v", err)
	}
	fp, size, count := "b", int64(9), int64(4)
	if err := store.UpdateFolderStatus(ctx, "M1/C1", state.StatusUpdate{Status: state.StatusPending, Fingerprint: &fp, SizeKB: &size, FileCount: &count}); err != nil {
		t.Fatalf("UpdateFolderStatus: %v", err)
	}
	rec, _ := store.GetFolder(ctx, "M1/C1")
	if rec.Fingerprint != "b" || rec.SizeKB != 9 || rec.FileCount != 4 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.LastProcessed != nil {
		t.Fatalf("re-arm must not stamp last_processed, got %v", rec.LastProcessed)
	}
}

func TestMissionHasFoldersAndListing(t *testing.T) {
	store, clock := openStore(t)
	ctx := context.Background()
	for _, key := range []string{"M1/C1", "M1/C10", "M2/C1"} {
		clock.Advance(time.Minute)
		if err := store.UpsertFolder(ctx, state.FolderUpsert{FolderKey: key, Fingerprint: "fp"}); err != nil {
			t.Fatalf("UpsertFolder %s: %v", key, err)
		}
	}

	has, err := store.MissionHasFolders(ctx, "M1")
	if err != nil || !has {
		t.Fatalf("expected M1 to have folders, got %v %v", has, err)
	}
	has, err = store.MissionHasFolders(ctx, "M3")
	if err != nil || has {
		t.Fatalf("expected M3 empty, got %v %v", has, err)
	}

	recs, total, err := store.ListFolders(ctx, statedb.ListOptions{Prefix: "M1/C1"})
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if total != 2 || len(recs) != 2 || recs[0].FolderKey != "M1/C10" {
		t.Fatalf("unexpected prefix listing total=%d %+v", total, recs)
	}

	recs, total, err = store.ListFolders(ctx, statedb.ListOptions{Mission: "M2", Limit: 10})
	if err != nil || total != 1 || recs[0].FolderKey != "M2/C1" {
		t.Fatalf("unexpected mission listing total=%d %+v err=%v", total, recs, err)
	}

	recs, total, err = store.ListFolders(ctx, statedb.ListOptions{Limit: 1, Offset: 1})
	if err != nil || total != 3 || len(recs) != 1 || recs[0].FolderKey != "M1/C10" {
		t.Fatalf("unexpected page total=%d %+v err=%v", total, recs, err)
	}
}

func TestMarkerLifecycle(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	if _, err := store.GetMarker(ctx, "M1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpsertMarker(ctx, state.MarkerUpsert{MissionKey: "M1", Fingerprint: "h1", OutputPath: "/Potree/M1"}); err != nil {
		t.Fatalf("UpsertMarker: %v", err)
	}
	detail := "converter exited 2"
	if err := store.UpdateMarkerStatus(ctx, "M1", state.StatusUpdate{Status: state.StatusFailed, ErrorDetail: &detail}); err != nil {
		t.Fatalf("UpdateMarkerStatus: %v", err)
	}
	rec, err := store.GetMarker(ctx, "M1")
	if err != nil {
		t.Fatalf("GetMarker: %v", err)
	}
	if *rec.Status != state.StatusFailed || rec.ErrorDetail == nil || *rec.ErrorDetail != detail {
		t.Fatalf("unexpected marker %+v", rec)
	}
	if err := store.TouchMarker(ctx, "M1"); err != nil {
		t.Fatalf("TouchMarker: %v", err)
	}
	if err := store.TouchMarker(ctx, "M2"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	recs, total, err := store.ListMarkers(ctx, statedb.ListOptions{})
	if err != nil || total != 1 || recs[0].MissionKey != "M1" {
		t.Fatalf("unexpected marker listing %+v %d %v", recs, total, err)
	}
}

func TestStatusCounts(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	_ = store.UpsertFolder(ctx, state.FolderUpsert{FolderKey: "M1/C1", Fingerprint: "a"})
	_ = store.UpsertFolder(ctx, state.FolderUpsert{FolderKey: "M1/C2", Fingerprint: "b"})
	_ = store.UpdateFolderStatus(ctx, "M1/C2", state.StatusUpdate{Status: state.StatusEmpty})

	counts, err := store.StatusCounts(ctx, "folder_state")
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts["pending"] != 1 || counts["empty"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if _, err := store.StatusCounts(ctx, "sqlite_master"); err == nil {
		t.Fatal("expected unknown table to be rejected")
	}
}

func TestSnapshotProducesReadableCopy(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	if err := store.UpsertFolder(ctx, state.FolderUpsert{FolderKey: "M1/C1", Fingerprint: "fp"}); err != nil {
		t.Fatalf("UpsertFolder: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "snapshots", statedb.SnapshotName(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
	if filepath.Base(dest) != "backup_local_2025_01_02_030405.db" {
		t.Fatalf("unexpected snapshot name %q", filepath.Base(dest))
	}
	if err := store.Snapshot(ctx, dest); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if err := store.Snapshot(ctx, dest); err == nil {
		t.Fatal("expected existing destination to be rejected")
	}

	db, err := sql.Open("sqlite", dest)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM folder_state").Scan(&count); err != nil {
		t.Fatalf("query snapshot: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row in snapshot, got %d", count)
	}
}
