package logmgr

import (
	"coredb/internal/dberrors"
	"coredb/pkg/diskmanager"
	"coredb/pkg/logrecord"

	"github.com/pkg/errors"
)

// Reader sequentially scans the durable log file from the start,
// windowing reads through a fixed buffer and reloading on
// dberrors.ErrIncompleteRecord, per spec §4.F/§7. Used by recovery's
// redo pass; independent of any running LogManager.
type Reader struct {
	dm     diskmanager.DiskManager
	buf    []byte
	window int // bytes currently valid in buf
	offset int64
}

// NewReader creates a log reader with a windowChunk-sized read buffer.
func NewReader(dm diskmanager.DiskManager, windowChunk int) *Reader {
	if windowChunk <= 0 {
		windowChunk = DefaultBufferSize
	}
	return &Reader{dm: dm, buf: make([]byte, windowChunk)}
}

// Next returns the next record in the log and the file offset at which
// it begins (recovery's lsn_mapping value), or (nil, 0, nil) at EOF.
func (r *Reader) Next() (*logrecord.Record, int64, error) {
	for {
		recordStart := r.offset - int64(r.window)
		rec, consumed, err := logrecord.Deserialize(r.buf[:r.window])
		if err == nil {
			copy(r.buf, r.buf[consumed:r.window])
			r.window -= consumed
			return rec, recordStart, nil
		}
		if !errors.Is(err, dberrors.ErrIncompleteRecord) {
			return nil, 0, err
		}

		if r.window == len(r.buf) {
			return nil, 0, dberrors.Wrap(dberrors.ErrCorruption, "log record exceeds reader window of %d bytes", len(r.buf))
		}

		n, ok, readErr := r.dm.ReadLog(r.buf[r.window:], r.offset)
		if readErr != nil {
			return nil, 0, dberrors.Wrap(dberrors.ErrIoError, "read log at offset %d", r.offset)
		}
		if n == 0 {
			if !ok {
				// clean EOF, or a torn trailing write that never grew into
				// a full record — either way, end of usable log.
				return nil, 0, nil
			}
		}
		r.offset += int64(n)
		r.window += n
	}
}

// ReadAt decodes a single record starting at the given log file offset,
// used by recovery's undo phase to follow prev_lsn chains via
// lsn_mapping rather than scanning sequentially.
func ReadAt(dm diskmanager.DiskManager, offset int64) (*logrecord.Record, error) {
	header := make([]byte, logrecord.HeaderSize)
	n, ok, err := dm.ReadLog(header, offset)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.ErrIoError, "read log header at offset %d", offset)
	}
	if !ok || n < logrecord.HeaderSize {
		return nil, dberrors.Wrap(dberrors.ErrIncompleteRecord, "short header at offset %d", offset)
	}

	rec, _, err := logrecord.Deserialize(header)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, dberrors.ErrIncompleteRecord) {
		return nil, err
	}

	size := int(headerDeclaredSize(header))
	full := make([]byte, size)
	n, ok, err = dm.ReadLog(full, offset)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.ErrIoError, "read log record at offset %d", offset)
	}
	if !ok || n < size {
		return nil, dberrors.Wrap(dberrors.ErrIncompleteRecord, "short record at offset %d", offset)
	}
	rec, _, err = logrecord.Deserialize(full)
	return rec, err
}

func headerDeclaredSize(header []byte) uint32 {
	return uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
}
