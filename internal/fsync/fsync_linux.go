//go:build linux

package fsync

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fdatasync forces f's data (not necessarily its metadata, e.g. mtime) to
// stable storage. Cheaper than f.Sync() for a WAL segment whose size isn't
// changing on this call — the same optimization dgraph-io/badger applies
// to its value log.
func Fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
