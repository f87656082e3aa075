//go:build unix

package fsutil

import (
	"os"

	"golang.org/x/sys/unix"
)

type unixDir struct {
	fd int
}

func openDirImpl(path string) (dirImpl, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	return &unixDir{fd: fd}, nil
}

func (d *unixDir) close() error {
	return unix.Close(d.fd)
}

func (d *unixDir) fdatasync() error {
	return unix.Fdatasync(d.fd)
}

func (d *unixDir) rename(oldBasename, newBasename string) error {
	return unix.Renameat(d.fd, oldBasename, d.fd, newBasename)
}

// Fchmod sets the final 0644 permission bits directly on the open part
// file descriptor, avoiding a path-based chmod race. Temp files are
// created 0600; the published file gets the usual 0644.
func Fchmod(f *os.File) error {
	return unix.Fchmod(int(f.Fd()), 0o644)
}
