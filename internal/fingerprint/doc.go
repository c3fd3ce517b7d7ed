// Package fingerprint computes deterministic digests for tracked units.
//
// Two strategies exist:
//   - File: SHA-256 over the file content, streamed in fixed-size chunks.
//     Used for mission marker files.
//   - Directory: SHA-256 over a sorted manifest of (relative path, size,
//     modification time) for every regular file in the subtree. This is a
//     metadata fingerprint; a content edit that preserves both size and
//     mtime is not detected.
//
// DirectoryStats pairs the directory digest with disk usage in KiB and the
// regular-file count, the three values persisted per capture folder.
package fingerprint
