package diskmanager

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"coredb/internal/dberrors"
	"coredb/internal/fsync"
)

// Open opens (creating if needed) a data file and a log file backing a
// single store. pageSize must match the page size every caller uses
// (page.Size in production, a smaller value in tests for speed).
func Open(dataPath, logPath string, pageSize int) (*FileDiskManager, error) {
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.ErrIoError, "open data file %s", dataPath)
	}
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		dataFile.Close()
		return nil, dberrors.Wrap(dberrors.ErrIoError, "open log file %s", logPath)
	}

	stat, err := dataFile.Stat()
	if err != nil {
		dataFile.Close()
		logFile.Close()
		return nil, dberrors.Wrap(dberrors.ErrIoError, "stat data file %s", dataPath)
	}

	return &FileDiskManager{
		dataFile:   dataFile,
		logFile:    logFile,
		nextPageID: stat.Size() / int64(pageSize),
		pageSize:   pageSize,
	}, nil
}

func (dm *FileDiskManager) ReadPage(pageID int64, buf []byte) error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if len(buf) != dm.pageSize {
		return dberrors.Wrap(dberrors.ErrIoError, "buffer size %d != page size %d", len(buf), dm.pageSize)
	}

	offset := pageID * int64(dm.pageSize)
	n, err := dm.dataFile.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return dberrors.Wrap(dberrors.ErrIoError, "read page %d", pageID)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (dm *FileDiskManager) WritePage(pageID int64, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if len(buf) != dm.pageSize {
		return dberrors.Wrap(dberrors.ErrIoError, "buffer size %d != page size %d", len(buf), dm.pageSize)
	}

	offset := pageID * int64(dm.pageSize)
	if _, err := dm.dataFile.WriteAt(buf, offset); err != nil {
		return dberrors.Wrap(dberrors.ErrIoError, "write page %d", pageID)
	}
	return nil
}

// AllocatePage hands out a free page id: reused from DeallocatePage when
// available, otherwise the next never-used id. Mirrors the teacher's
// counter-based allocator (storage_engine/disk_manager.AllocatePage),
// extended with a free list since this core's DeletePage contract (§4.B)
// actually reclaims pages.
func (dm *FileDiskManager) AllocatePage() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if n := len(dm.freePageIDs); n > 0 {
		id := dm.freePageIDs[n-1]
		dm.freePageIDs = dm.freePageIDs[:n-1]
		return id, nil
	}

	id := dm.nextPageID
	dm.nextPageID++
	return id, nil
}

func (dm *FileDiskManager) DeallocatePage(pageID int64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.freePageIDs = append(dm.freePageIDs, pageID)
	return nil
}

func (dm *FileDiskManager) ReadLog(buf []byte, offset int64) (int, bool, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	n, err := dm.logFile.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, false, dberrors.Wrap(dberrors.ErrIoError, "read log at offset %d", offset)
	}
	return n, n > 0, nil
}

func (dm *FileDiskManager) WriteLog(buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, err := dm.logFile.Write(buf); err != nil {
		return dberrors.Wrap(dberrors.ErrIoError, "append log")
	}
	return nil
}

func (dm *FileDiskManager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if err := fsync.Fdatasync(dm.dataFile); err != nil {
		return errors.Wrap(err, "sync data file")
	}
	if err := fsync.Fdatasync(dm.logFile); err != nil {
		return errors.Wrap(err, "sync log file")
	}
	return nil
}

func (dm *FileDiskManager) Resync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	stat, err := dm.dataFile.Stat()
	if err != nil {
		return dberrors.Wrap(dberrors.ErrIoError, "stat data file during resync")
	}
	if n := stat.Size() / int64(dm.pageSize); n > dm.nextPageID {
		dm.nextPageID = n
	}
	return nil
}

func (dm *FileDiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	err1 := dm.dataFile.Close()
	err2 := dm.logFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

var _ DiskManager = (*FileDiskManager)(nil)
