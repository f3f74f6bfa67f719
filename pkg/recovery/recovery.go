package recovery

import (
	"coredb/internal/dberrors"
	"coredb/internal/logging"
	"coredb/pkg/bufferpool"
	"coredb/pkg/diskmanager"
	"coredb/pkg/logmgr"
	"coredb/pkg/logrecord"
	"coredb/pkg/page"
	"coredb/pkg/tuplepage"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
)

// New creates a recovery manager over dm and bp. bp must not be shared
// with any concurrent WAL-producing writer: spec §4.G assumes logging is
// disabled for the duration of recovery.
func New(dm diskmanager.DiskManager, bp *bufferpool.BufferPool) (*Manager, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *logrecord.Record]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, dberrors.Wrap(dberrors.ErrIoError, "create recovery record cache")
	}
	return &Manager{dm: dm, bp: bp, recordCache: cache}, nil
}

// Close releases the manager's decoded-record cache.
func (m *Manager) Close() {
	m.recordCache.Close()
}

// Run executes the full redo-then-undo recovery protocol and returns a
// summary. Idempotent: running it again over the same log reapplies no
// redo records and leaves every page in the same state. The undo pass does
// run again for transactions with no COMMIT/ABORT in the log (no
// compensation records are written), so TxnsRolledBack repeats.
func (m *Manager) Run() (Result, error) {
	lsnMapping, activeTxn, redoResult, err := m.redo()
	if err != nil {
		return redoResult, err
	}

	rolledBack, err := m.undo(lsnMapping, activeTxn)
	if err != nil {
		return redoResult, err
	}
	redoResult.TxnsRolledBack = rolledBack

	bytesFlushed, err := m.bp.FlushAllPages()
	if err != nil {
		return redoResult, err
	}
	redoResult.BytesFlushed = bytesFlushed
	if err := m.dm.Resync(); err != nil {
		return redoResult, err
	}
	logging.Info("recovery.complete", "recordsRead", redoResult.RecordsRead, "redoApplied", redoResult.RedoApplied, "rolledBack", rolledBack, "bytesFlushed", humanize.Bytes(uint64(bytesFlushed)))
	return redoResult, nil
}

// redo performs spec §4.G's redo phase: a single sequential pass over
// the log building lsn_mapping and active_txn while idempotently
// reapplying every physical data record whose target page is stale.
func (m *Manager) redo() (map[uint64]int64, map[uint32]uint64, Result, error) {
	reader := logmgr.NewReader(m.dm, logmgr.DefaultBufferSize)
	lsnMapping := make(map[uint64]int64)
	activeTxn := make(map[uint32]uint64)
	result := Result{}

	for {
		rec, offset, err := reader.Next()
		if err != nil {
			return nil, nil, result, err
		}
		if rec == nil {
			break
		}
		result.RecordsRead++
		lsnMapping[uint64(rec.LSN)] = offset

		switch rec.Type {
		case logrecord.TypeBegin:
			activeTxn[rec.TxnID] = uint64(rec.LSN)
		case logrecord.TypeCommit, logrecord.TypeAbort:
			delete(activeTxn, rec.TxnID)
		default:
			if existing, ok := activeTxn[rec.TxnID]; !ok || uint64(rec.LSN) > existing {
				activeTxn[rec.TxnID] = uint64(rec.LSN)
			}
		}

		applied, err := m.redoApply(rec)
		if err != nil {
			return nil, nil, result, err
		}
		if applied {
			result.RedoApplied++
		}
	}

	return lsnMapping, activeTxn, result, nil
}

// redoApply reapplies rec's effect if the target page's LSN shows the
// effect isn't yet durable (page.lsn < record.lsn), then stamps the
// page with record.lsn — the idempotence spec §4.G names.
func (m *Manager) redoApply(rec *logrecord.Record) (bool, error) {
	targetPageID, isPhysical := physicalTarget(rec)
	if !isPhysical {
		return false, nil
	}

	pg, err := m.bp.FetchPage(targetPageID)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = m.bp.UnpinPage(targetPageID, pg.IsDirty)
	}()

	pg.Lock()
	defer pg.Unlock()

	if pg.LSN >= uint64(rec.LSN) {
		return false, nil
	}

	if err := applyForward(pg, rec); err != nil {
		return false, err
	}
	pg.StampLSN(uint64(rec.LSN))
	pg.IsDirty = true
	return true, nil
}

// physicalTarget returns the page a record mutates and whether it names
// one at all (txn-control records don't).
func physicalTarget(rec *logrecord.Record) (int64, bool) {
	switch rec.Type {
	case logrecord.TypeNewPage:
		return rec.PageID, true
	case logrecord.TypeInsert, logrecord.TypeMarkDelete, logrecord.TypeApplyDelete, logrecord.TypeRollbackDelete, logrecord.TypeUpdate:
		return rec.RID.PageID, true
	default:
		return page.Invalid, false
	}
}

// applyForward replays rec's original effect onto pg (redo direction).
func applyForward(pg *page.Page, rec *logrecord.Record) error {
	switch rec.Type {
	case logrecord.TypeNewPage:
		tuplepage.Init(pg)
		return nil
	case logrecord.TypeInsert:
		return tuplepage.InsertAt(pg, rec.RID.Slot, rec.Tuple)
	case logrecord.TypeMarkDelete:
		return tuplepage.MarkDelete(pg, rec.RID.Slot)
	case logrecord.TypeApplyDelete:
		return tuplepage.ApplyDelete(pg, rec.RID.Slot)
	case logrecord.TypeRollbackDelete:
		return tuplepage.RollbackDelete(pg, rec.RID.Slot)
	case logrecord.TypeUpdate:
		ok, err := tuplepage.Update(pg, rec.RID.Slot, rec.NewTuple)
		if err != nil {
			return err
		}
		if !ok {
			return dberrors.Wrap(dberrors.ErrCorruption, "redo update at rid %+v could not rewrite new tuple in place", rec.RID)
		}
		return nil
	default:
		return nil
	}
}

// undo performs spec §4.G's undo phase: for each transaction still
// active at end-of-log, walk its prev_lsn chain backward and apply the
// compensating operation for each record, using lsnMapping to seek.
func (m *Manager) undo(lsnMapping map[uint64]int64, activeTxn map[uint32]uint64) (int, error) {
	for txnID, lastLSN := range activeTxn {
		if err := m.undoChain(txnID, lastLSN, lsnMapping); err != nil {
			return 0, err
		}
	}
	return len(activeTxn), nil
}

func (m *Manager) undoChain(txnID uint32, lastLSN uint64, lsnMapping map[uint64]int64) error {
	lsn := lastLSN
	for lsn != uint64(logrecord.InvalidLSN) {
		rec, err := m.lookupRecord(lsn, lsnMapping)
		if err != nil {
			logging.Warn("recovery.undo_chain_broken", "txn", txnID, "lsn", lsn, "error", err)
			return nil
		}

		if err := m.undoApply(rec); err != nil {
			return err
		}
		lsn = uint64(rec.PrevLSN)
	}
	return nil
}

func (m *Manager) lookupRecord(lsn uint64, lsnMapping map[uint64]int64) (*logrecord.Record, error) {
	if rec, ok := m.recordCache.Get(lsn); ok {
		return rec, nil
	}
	offset, ok := lsnMapping[lsn]
	if !ok {
		return nil, dberrors.Wrap(dberrors.ErrNotFound, "lsn %d missing from lsn_mapping", lsn)
	}
	rec, err := logmgr.ReadAt(m.dm, offset)
	if err != nil {
		return nil, err
	}
	m.recordCache.Set(lsn, rec, int64(rec.Size()))
	m.recordCache.Wait()
	return rec, nil
}

// undoApply applies the compensating operation for rec's original
// effect, per spec §4.G's undo table.
func (m *Manager) undoApply(rec *logrecord.Record) error {
	targetPageID, isPhysical := physicalTarget(rec)
	if !isPhysical || rec.Type == logrecord.TypeNewPage {
		return nil
	}

	pg, err := m.bp.FetchPage(targetPageID)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.bp.UnpinPage(targetPageID, pg.IsDirty)
	}()

	pg.Lock()
	defer pg.Unlock()

	switch rec.Type {
	case logrecord.TypeInsert:
		err = tuplepage.ApplyDelete(pg, rec.RID.Slot)
	case logrecord.TypeMarkDelete:
		err = tuplepage.RollbackDelete(pg, rec.RID.Slot)
	case logrecord.TypeApplyDelete:
		err = tuplepage.InsertAt(pg, rec.RID.Slot, rec.Tuple)
	case logrecord.TypeRollbackDelete:
		err = tuplepage.MarkDelete(pg, rec.RID.Slot)
	case logrecord.TypeUpdate:
		var ok bool
		ok, err = tuplepage.Update(pg, rec.RID.Slot, rec.Tuple)
		if err == nil && !ok {
			err = dberrors.Wrap(dberrors.ErrCorruption, "undo update at rid %+v could not restore old tuple in place", rec.RID)
		}
	}
	if err != nil {
		return err
	}
	pg.IsDirty = true
	return nil
}
