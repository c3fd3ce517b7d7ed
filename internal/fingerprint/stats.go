package fingerprint

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// Stats is the per-folder measurement persisted by the scanner.
type Stats struct {
	Fingerprint string
	SizeKB      int64
	FileCount   int64
}

type inode struct {
	dev uint64
	ino uint64
}

// DirectoryStats returns the directory fingerprint together with disk usage
// in KiB (as reported by `du -sk`) and the number of regular files. Any
// failure wraps services.ErrStats; callers treat it as a per-unit failure.
func DirectoryStats(ctx context.Context, base string) (Stats, error) {
	digest, err := Directory(ctx, base)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: fingerprint %s: %w", services.ErrStats, base, err)
	}
	sizeKB, count, err := diskUsage(ctx, base)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: usage %s: %w", services.ErrStats, base, err)
	}
	return Stats{Fingerprint: digest, SizeKB: sizeKB, FileCount: count}, nil
}

// diskUsage sums allocated 512-byte blocks for every entry below base,
// counting hard-linked inodes once, and converts to KiB rounding each entry
// up like du does.
func diskUsage(ctx context.Context, base string) (int64, int64, error) {
	base = resolveRoot(base)
	seen := make(map[inode]struct{})
	var kb, files int64
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil {
			return &fs.PathError{Op: "lstat", Path: path, Err: err}
		}
		key := inode{dev: uint64(st.Dev), ino: uint64(st.Ino)}
		if st.Nlink > 1 && !d.IsDir() {
			if _, dup := seen[key]; dup {
				return nil
			}
			seen[key] = struct{}{}
		}
		kb += (int64(st.Blocks) + 1) / 2
		if d.Type().IsRegular() {
			files++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return kb, files, nil
}
