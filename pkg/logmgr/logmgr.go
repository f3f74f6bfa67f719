package logmgr

import (
	"time"

	"coredb/internal/dberrors"
	"coredb/internal/logging"
	"coredb/pkg/diskmanager"
	"coredb/pkg/logrecord"

	"github.com/dustin/go-humanize"
)

// DefaultBufferSize matches the teacher's wal_manager segment threshold;
// big enough that a single record never overflows an empty buffer.
const DefaultBufferSize = 4 * 1024 * 1024

// DefaultLogTimeout is how long the flush goroutine waits between
// unforced flush cycles (spec §4.F's log_timeout).
const DefaultLogTimeout = 1 * time.Second

// flushHighWatermark is the fraction of buffer occupancy past which Append
// proactively wakes the flush goroutine instead of waiting for an
// overflow-forced swap or the next timeout tick, shrinking the window of
// unflushed, not-yet-durable log bytes.
const flushHighWatermark = 0.75

// New creates a LogManager over dm and starts its background flush
// goroutine. Call Close to stop it and flush any remaining bytes.
func New(dm diskmanager.DiskManager, bufferSize int, logTimeout time.Duration) *LogManager {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logTimeout <= 0 {
		logTimeout = DefaultLogTimeout
	}
	lm := &LogManager{
		logBuffer:      make([]byte, bufferSize),
		flushBuffer:    make([]byte, bufferSize),
		nextLSN:        1,
		dm:             dm,
		logTimeout:     logTimeout,
		flushRequestCh: make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	lm.wg.Add(1)
	go lm.runFlushLoop()
	return lm
}

// Append serializes rec, assigns it the next LSN, and copies it into the
// active log buffer, swapping buffers first if it doesn't fit. It does
// NOT guarantee durability — call FlushThrough or SyncFlush for that.
func (lm *LogManager) Append(rec *logrecord.Record) (uint64, error) {
	size := rec.Size()
	if size > len(lm.logBuffer) {
		return 0, dberrors.Wrap(dberrors.ErrCorruption, "log record of %d bytes exceeds buffer size %d", size, len(lm.logBuffer))
	}

	lm.mu.Lock()
	if lm.offset+size > len(lm.logBuffer) {
		lm.mu.Unlock()
		if err := lm.SyncFlush(true); err != nil {
			return 0, err
		}
		lm.mu.Lock()
	}

	lsn := lm.nextLSN
	lm.nextLSN++
	data := logrecord.Serialize(rec, uint32(lsn))
	copy(lm.logBuffer[lm.offset:], data)
	lm.offset += len(data)
	occupied := lm.offset
	capacity := len(lm.logBuffer)
	lm.mu.Unlock()

	logging.Debug("logmgr.append", "lsn", lsn, "type", rec.Type.String(), "txn", rec.TxnID)

	if float64(occupied) >= float64(capacity)*flushHighWatermark {
		logging.Debug("logmgr.high_watermark", "occupied", humanize.Bytes(uint64(occupied)), "capacity", humanize.Bytes(uint64(capacity)))
		lm.RequestFlush()
	}
	return lsn, nil
}

// PersistentLSN returns the highest LSN known to be durable on disk.
func (lm *LogManager) PersistentLSN() uint64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.persistentLSN
}

// RequestFlush enqueues a swap-and-flush cycle and returns a waiter for
// the LSN appended most recently at call time.
func (lm *LogManager) RequestFlush() *FlushWaiter {
	lm.mu.Lock()
	waiter := newWaiter(lm.nextLSN - 1)
	lm.pendingWaiters = append(lm.pendingWaiters, waiter)
	lm.mu.Unlock()

	select {
	case lm.flushRequestCh <- struct{}{}:
	default:
		// a flush cycle is already pending; this waiter rides along with it
	}
	return waiter
}

// SyncFlush requests a flush cycle and, if wait is true, blocks until it
// completes (spec §4.F's sync_flush(wait) -> future).
func (lm *LogManager) SyncFlush(wait bool) error {
	waiter := lm.RequestFlush()
	if !wait {
		return nil
	}
	return waiter.Wait()
}

// FlushThrough blocks until persistent_lsn >= lsn, satisfying
// bufferpool.WALFlusher.
func (lm *LogManager) FlushThrough(lsn uint64) error {
	lm.mu.Lock()
	if lm.persistentLSN >= lsn {
		lm.mu.Unlock()
		return nil
	}
	lm.mu.Unlock()
	return lm.SyncFlush(true)
}

// Close stops the flush goroutine after one final flush of any buffered
// bytes.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	if lm.stopped {
		lm.mu.Unlock()
		return nil
	}
	lm.stopped = true
	lm.mu.Unlock()

	close(lm.stopCh)
	lm.wg.Wait()
	return nil
}

func (lm *LogManager) runFlushLoop() {
	defer lm.wg.Done()
	ticker := time.NewTicker(lm.logTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopCh:
			lm.performSwapAndFlush()
			return
		case <-ticker.C:
			lm.performSwapAndFlush()
		case <-lm.flushRequestCh:
			lm.performSwapAndFlush()
		}
	}
}

// performSwapAndFlush swaps logBuffer/flushBuffer under lm.mu, then writes
// and syncs the swapped bytes with the lock released, then resolves any
// waiters whose LSN is now covered.
func (lm *LogManager) performSwapAndFlush() {
	lm.mu.Lock()
	if lm.offset == 0 {
		waiters := lm.pendingWaiters
		lm.pendingWaiters = nil
		lm.mu.Unlock()
		for _, w := range waiters {
			w.resolve(nil)
		}
		return
	}

	lm.logBuffer, lm.flushBuffer = lm.flushBuffer, lm.logBuffer
	flushLen := lm.offset
	tmpLSN := lm.nextLSN - 1
	lm.offset = 0
	waiters := lm.pendingWaiters
	lm.pendingWaiters = nil
	lm.mu.Unlock()

	err := lm.dm.WriteLog(lm.flushBuffer[:flushLen])
	if err == nil {
		err = lm.dm.Sync()
	}
	if err != nil {
		err = dberrors.Wrap(dberrors.ErrIoError, "flush log buffer")
		logging.Error("logmgr.flush_failed", "error", err)
	} else {
		lm.mu.Lock()
		if tmpLSN > lm.persistentLSN {
			lm.persistentLSN = tmpLSN
		}
		lm.mu.Unlock()
		logging.Debug("logmgr.flush", "bytes", humanize.Bytes(uint64(flushLen)), "persistentLSN", tmpLSN)
	}

	for _, w := range waiters {
		w.resolve(err)
	}
}
