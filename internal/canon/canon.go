// Package canon canonicalizes filesystem paths into an absolute,
// symlink-resolved, cleaned form, giving every other package a single
// stable, comparable representation of a file path to key on.
package canon

import (
	"os"
	"path/filepath"
)

// Path resolves p to an absolute, symlink-resolved, cleaned form. If
// the file doesn't exist (a header deleted between discovery and
// canonicalization, for instance), it falls back to Abs+Clean so
// callers still get a stable, comparable path.
func Path(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return filepath.Clean(resolved)
	}
	return filepath.Clean(abs)
}

// Exists reports whether the canonical path currently exists on disk.
func Exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ModTime returns p's modification time in Unix seconds, or 0 if p
// does not exist or cannot be stat'd.
func ModTime(p string) int64 {
	info, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return info.ModTime().Unix()
}
