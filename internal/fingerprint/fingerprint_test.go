package fingerprint_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/fingerprint"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func seedCapture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.laz"), "aaaa", baseTime)
	writeFile(t, filepath.Join(dir, "b.laz"), "bbbbbbbb", baseTime)
	writeFile(t, filepath.Join(dir, "sub", "c.json"), "{}", baseTime)
	return dir
}

func mustDirectory(t *testing.T, dir string) string {
	t.Helper()
	fp, err := fingerprint.Directory(context.Background(), dir)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	return fp
}

func TestDirectoryIsDeterministic(t *testing.T) {
	dir := seedCapture(t)
	first := mustDirectory(t, dir)
	second := mustDirectory(t, dir)
	if first != second {
		t.Fatalf("expected identical digests, got %s and %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256, got %q", first)
	}
}

func TestDirectoryIgnoresCreationOrder(t *testing.T) {
	a := t.TempDir()
	writeFile(t, filepath.Join(a, "x"), "1", baseTime)
	writeFile(t, filepath.Join(a, "y"), "22", baseTime)

	b := t.TempDir()
	writeFile(t, filepath.Join(b, "y"), "22", baseTime)
	writeFile(t, filepath.Join(b, "x"), "1", baseTime)

	if mustDirectory(t, a) != mustDirectory(t, b) {
		t.Fatal("expected digest to be independent of creation order")
	}
}

func TestDirectoryDetectsMetadataChanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{"size", func(t *testing.T, dir string) {
			writeFile(t, filepath.Join(dir, "a.laz"), "aaaaa", baseTime)
		}},
		{"mtime", func(t *testing.T, dir string) {
			later := baseTime.Add(time.Second)
			if err := os.Chtimes(filepath.Join(dir, "a.laz"), later, later); err != nil {
				t.Fatalf("chtimes: %v", err)
			}
		}},
		{"rename", func(t *testing.T, dir string) {
			src := filepath.Join(dir, "a.laz")
			dst := filepath.Join(dir, "renamed.laz")
			if err := os.Rename(src, dst); err != nil {
				t.Fatalf("rename: %v", err)
			}
			if err := os.Chtimes(dst, baseTime, baseTime); err != nil {
				t.Fatalf("chtimes: %v", err)
			}
		}},
		{"new file", func(t *testing.T, dir string) {
			writeFile(t, filepath.Join(dir, "sub", "d.json"), "", baseTime)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := seedCapture(t)
			before := mustDirectory(t, dir)
			tc.mutate(t, dir)
			if after := mustDirectory(t, dir); after == before {
				t.Fatalf("expected digest to change after %s", tc.name)
			}
		})
	}
}

func TestDirectoryMissesSameSizeSameMtimeEdits(t *testing.T) {
	dir := seedCapture(t)
	before := mustDirectory(t, dir)
	writeFile(t, filepath.Join(dir, "a.laz"), "zzzz", baseTime)
	if after := mustDirectory(t, dir); after != before {
		t.Fatal("metadata fingerprint is expected to miss content-only edits")
	}
}

func TestDirectoryGoldenDigests(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]time.Time
		want  string
	}{
		{
			// a.las|3|1691294035.5249321
			name:  "fractional mtime",
			files: map[string]time.Time{"a.las": time.Unix(1691294035, 524932225)},
			want:  "a9c05004eca67e630ea67a00dc9376684cd8c7eda5a9464968e2628c2c47530d",
		},
		{
			// b.las|5|1700000000.0
			name:  "whole second mtime",
			files: map[string]time.Time{"b.las": time.Unix(1700000000, 0)},
			want:  "551f1445292efa05670a9e73ce1ab57cd045e7505023a1bbaef4d48239a33c9b",
		},
		{
			name: "nested mixed",
			files: map[string]time.Time{
				"a.las":     time.Unix(1691294035, 524932225),
				"sub/b.las": time.Unix(1700000000, 0),
			},
			want: "15016b4dfb687909cd1d8869c30600b2db1c97cfbb1eec0b77717bb1e91c8bef",
		},
	}
	sizes := map[string]string{"a.las": "abc", "b.las": "abcde"}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for rel, mtime := range tc.files {
				writeFile(t, filepath.Join(dir, filepath.FromSlash(rel)), sizes[filepath.Base(rel)], mtime)
			}
			if got := mustDirectory(t, dir); got != tc.want {
				t.Fatalf("digest = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDirectoryMissingPath(t *testing.T) {
	_, err := fingerprint.Directory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, services.ErrFilesystem) {
		t.Fatalf("expected filesystem error, got %v", err)
	}
}

func TestFileDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.metacloud")
	writeFile(t, path, "hello", baseTime)
	got, err := fingerprint.File(context.Background(), path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("unexpected digest %s", got)
	}
}

func TestFileMissingIsError(t *testing.T) {
	fp, err := fingerprint.File(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatalf("expected error, got digest %q", fp)
	}
	if !errors.Is(err, services.ErrFilesystem) {
		t.Fatalf("expected filesystem marker, got %v", err)
	}
	if fp != "" {
		t.Fatalf("expected empty digest on failure, got %q", fp)
	}
}

func TestDirectoryStats(t *testing.T) {
	dir := seedCapture(t)
	stats, err := fingerprint.DirectoryStats(context.Background(), dir)
	if err != nil {
		t.Fatalf("DirectoryStats: %v", err)
	}
	if stats.FileCount != 3 {
		t.Fatalf("expected 3 files, got %d", stats.FileCount)
	}
	if stats.SizeKB <= 0 {
		t.Fatalf("expected positive disk usage, got %d", stats.SizeKB)
	}
	if stats.Fingerprint != mustDirectory(t, dir) {
		t.Fatal("expected stats fingerprint to match Directory")
	}
}

func TestDirectoryStatsFailureIsStatsError(t *testing.T) {
	_, err := fingerprint.DirectoryStats(context.Background(), filepath.Join(t.TempDir(), "gone"))
	if !errors.Is(err, services.ErrStats) {
		t.Fatalf("expected stats error, got %v", err)
	}
}
