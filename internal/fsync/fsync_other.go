//go:build !linux

package fsync

import "os"

// Fdatasync falls back to a full Sync on platforms without fdatasync(2).
func Fdatasync(f *os.File) error {
	return f.Sync()
}
