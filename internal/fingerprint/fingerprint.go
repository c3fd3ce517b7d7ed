package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

const chunkSize = 4096

type manifestEntry struct {
	rel   string
	size  int64
	mtime float64
}

// File returns the hex SHA-256 of the file content. A missing or unreadable
// file is an error wrapping services.ErrFilesystem, never an empty digest.
func File(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", services.ErrFilesystem, path, err)
	}
	defer file.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return "", fmt.Errorf("%w: hash %s: %w", services.ErrFilesystem, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Directory returns the metadata fingerprint of every regular file below
// base. Entries are sorted by relative path so the digest does not depend on
// directory listing order.
func Directory(ctx context.Context, base string) (string, error) {
	entries, err := collectManifest(ctx, base)
	if err != nil {
		return "", err
	}
	return hashManifest(entries), nil
}

func collectManifest(ctx context.Context, base string) ([]manifestEntry, error) {
	base = resolveRoot(base)
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", services.ErrFilesystem, base, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", services.ErrFilesystem, base)
	}

	var entries []manifestEntry
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, manifestEntry{
			rel:   filepath.ToSlash(relativePath(base, path)),
			size:  fi.Size(),
			mtime: statMtime(fi.ModTime()),
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: walk %s: %w", services.ErrFilesystem, base, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func hashManifest(entries []manifestEntry) string {
	h := sha256.New()
	for _, e := range entries {
		_, _ = io.WriteString(h, e.rel)
		_, _ = io.WriteString(h, "|")
		_, _ = io.WriteString(h, strconv.FormatInt(e.size, 10))
		_, _ = io.WriteString(h, "|")
		_, _ = io.WriteString(h, formatMtime(e.mtime))
		_, _ = io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// statMtime is whole seconds plus nanoseconds scaled by 1e-9, rounded in
// that order. The inner conversion keeps the multiply from being fused.
func statMtime(t time.Time) float64 {
	return float64(t.Unix()) + float64(float64(t.Nanosecond())*1e-9)
}

// formatMtime prints the shortest round-trip decimal; whole seconds keep a
// trailing ".0". Existing stored digests depend on this exact text.
func formatMtime(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// resolveRoot follows a symlinked root so the walk descends into its target.
func resolveRoot(base string) string {
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		return resolved
	}
	return base
}

func relativePath(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}
