// Package dberrors defines the error kinds the storage and recovery core
// surfaces upward, wrapped with call-site context via github.com/pkg/errors
// so a stack trace survives up to the caller that finally logs or reports
// it. Not every failure reaches the caller as one of these kinds: the
// result of UnpinPage after a finished page access is ignored by the hash
// index, recovery and cmd/coredemo; recovery's undo pass logs a warning
// and stops a prev_lsn chain it cannot read; a checkpoint file that fails
// to parse loads as an empty checkpoint with a warning; the directory
// fsync after a checkpoint rename is not checked; and DiskManager.Sync and
// Close return the underlying OS error.
package dberrors

import "github.com/pkg/errors"

// Sentinel kinds. Callers compare with errors.Is, never string matching.
var (
	// ErrNotFound: a page was expected resident (unpin, flush) but is not.
	ErrNotFound = errors.New("dberrors: page not resident")

	// ErrExhausted: every frame is pinned and the replacer has no victim.
	ErrExhausted = errors.New("dberrors: buffer pool exhausted")

	// ErrInUse: an attempt to delete a page with a nonzero pin count.
	ErrInUse = errors.New("dberrors: page in use")

	// ErrIncompleteRecord: log deserialization hit a partial tail record.
	// Recoverable: the caller should reload more bytes and retry.
	ErrIncompleteRecord = errors.New("dberrors: incomplete log record")

	// ErrCorruption: an unknown record type or a size exceeding the
	// buffered window. Fatal to the current operation.
	ErrCorruption = errors.New("dberrors: log corruption")

	// ErrIoError: surfaced from the disk manager. Fatal to the current
	// operation.
	ErrIoError = errors.New("dberrors: io error")
)

// Wrap attaches call-site context to a sentinel kind while keeping it
// discoverable via errors.Is/errors.Cause.
func Wrap(kind error, format string, args ...any) error {
	return errors.Wrapf(kind, format, args...)
}
