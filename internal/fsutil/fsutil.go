// Package fsutil wraps the directory-fd-based durability primitives the
// retrieve loop's finalization sequence needs: opening the destination
// directory, creating a hidden part file inside it, syncing file and
// directory, and atomically renaming into place.
// The directory-fd path is POSIX-only; durable_other.go supplies a
// path-based fallback for any other GOOS.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is an open handle on the destination directory, used so renames
// and directory fsyncs can be directory-relative where the platform
// supports it.
type Dir struct {
	path string
	impl dirImpl
}

// dirImpl is implemented per-GOOS in durable_unix.go / durable_other.go.
type dirImpl interface {
	close() error
	fdatasync() error
	rename(oldBasename, newBasename string) error
}

// OpenDir opens dirPath for use by a single retrieval's finalization
// step. The returned Dir must be closed exactly once.
func OpenDir(dirPath string) (*Dir, error) {
	impl, err := openDirImpl(dirPath)
	if err != nil {
		return nil, fmt.Errorf("fsutil: open directory %s: %w", dirPath, err)
	}
	return &Dir{path: dirPath, impl: impl}, nil
}

// Close releases the directory handle. Safe to call on a nil *Dir.
func (d *Dir) Close() error {
	if d == nil || d.impl == nil {
		return nil
	}
	return d.impl.close()
}

// Fdatasync flushes the directory's metadata so a prior Rename is
// durable across a crash.
func (d *Dir) Fdatasync() error {
	if d == nil || d.impl == nil {
		return nil
	}
	return d.impl.fdatasync()
}

// Path returns the directory path this Dir was opened from.
func (d *Dir) Path() string { return d.path }

// Rename atomically moves oldBasename to newBasename within the
// directory, using a directory-fd-relative rename where supported.
func (d *Dir) Rename(oldBasename, newBasename string) error {
	return d.impl.rename(oldBasename, newBasename)
}

// CreateTempFile creates a hidden, uniquely named, writable temp file
// named ".<dest_basename>.<random>" in dirPath. Callers defer this
// until the first response is confirmed streamable, so failed
// validations never touch the destination directory.
func CreateTempFile(dirPath, destBasename string) (*os.File, error) {
	pattern := "." + destBasename + ".*"
	f, err := os.CreateTemp(dirPath, pattern)
	if err != nil {
		return nil, fmt.Errorf("fsutil: create temp file in %s: %w", dirPath, err)
	}
	return f, nil
}

// Fsync flushes f's data and metadata to stable storage.
func Fsync(f *os.File) error {
	return f.Sync()
}

// TryUnlink removes path, ignoring a not-exist error.
func TryUnlink(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Split mirrors filepath.Split, defaulting an empty directory to ".".
// Exposed for internal/retrieval to compute the destination directory
// and basename once per call.
func Split(destPath string) (dir, base string) {
	dir, base = filepath.Split(destPath)
	if dir == "" {
		dir = "."
	}
	return dir, base
}
