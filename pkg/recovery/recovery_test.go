package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coredb/internal/dberrors"
	"coredb/pkg/bufferpool"
	"coredb/pkg/diskmanager"
	"coredb/pkg/logmgr"
	"coredb/pkg/logrecord"
	"coredb/pkg/rid"
	"coredb/pkg/tuplepage"
)

const testPageSize = 4096
const testTxnID = 1

func openTestDM(t *testing.T) *diskmanager.FileDiskManager {
	t.Helper()
	dir := t.TempDir()
	dm, err := diskmanager.Open(filepath.Join(dir, "data.db"), filepath.Join(dir, "wal.log"), testPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return dm
}

// TestRedoReconstructsACommittedInsertNeverWrittenToDisk simulates a crash
// between the WAL flush and the buffer pool's eventual write-back: the
// page mutation only ever exists in the log.
func TestRedoReconstructsACommittedInsertNeverWrittenToDisk(t *testing.T) {
	dm := openTestDM(t)

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	lm := logmgr.New(dm, logmgr.DefaultBufferSize, time.Hour)
	beginLSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, testTxnID, logrecord.InvalidLSN))
	require.NoError(t, err)
	newPageLSN, err := lm.Append(logrecord.NewNewPageRecord(testTxnID, uint32(beginLSN), -1, pageID))
	require.NoError(t, err)
	insertLSN, err := lm.Append(logrecord.NewTupleRecord(logrecord.TypeInsert, testTxnID, uint32(newPageLSN), rid.RID{PageID: pageID, Slot: 0}, []byte("durable")))
	require.NoError(t, err)
	_, err = lm.Append(logrecord.NewTxnRecord(logrecord.TypeCommit, testTxnID, uint32(insertLSN)))
	require.NoError(t, err)
	require.NoError(t, lm.SyncFlush(true))
	require.NoError(t, lm.Close())

	bp := bufferpool.New(4, dm)
	rm, err := New(dm, bp)
	require.NoError(t, err)
	defer rm.Close()

	result, err := rm.Run()
	require.NoError(t, err)
	assert.Equal(t, 4, result.RecordsRead)
	assert.GreaterOrEqual(t, result.RedoApplied, 2) // NEWPAGE + INSERT
	assert.Zero(t, result.TxnsRolledBack)

	pg, err := bp.FetchPage(pageID)
	require.NoError(t, err)
	defer bp.UnpinPage(pageID, false)

	got, err := tuplepage.Get(pg, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
}

// TestUndoRemovesAnInsertFromATransactionThatNeverCommitted exercises the
// ARIES undo pass: a txn left active at end-of-log (no COMMIT or ABORT)
// must have its effects compensated away.
func TestUndoRemovesAnInsertFromATransactionThatNeverCommitted(t *testing.T) {
	dm := openTestDM(t)

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	lm := logmgr.New(dm, logmgr.DefaultBufferSize, time.Hour)
	beginLSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, testTxnID, logrecord.InvalidLSN))
	require.NoError(t, err)
	newPageLSN, err := lm.Append(logrecord.NewNewPageRecord(testTxnID, uint32(beginLSN), -1, pageID))
	require.NoError(t, err)
	_, err = lm.Append(logrecord.NewTupleRecord(logrecord.TypeInsert, testTxnID, uint32(newPageLSN), rid.RID{PageID: pageID, Slot: 0}, []byte("abandoned")))
	require.NoError(t, err)
	// No commit: this transaction crashed mid-flight.
	require.NoError(t, lm.SyncFlush(true))
	require.NoError(t, lm.Close())

	bp := bufferpool.New(4, dm)
	rm, err := New(dm, bp)
	require.NoError(t, err)
	defer rm.Close()

	result, err := rm.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, result.TxnsRolledBack)

	pg, err := bp.FetchPage(pageID)
	require.NoError(t, err)
	defer bp.UnpinPage(pageID, false)

	_, err = tuplepage.Get(pg, 0)
	assert.ErrorIs(t, err, dberrors.ErrNotFound)
}

// TestRedoReplaysACommittedUpdateThatGrowsTheTuple exercises spec.md
// §4.G's UPDATE redo ("rewrite with old tuple as the forward image" run
// in the forward direction) in the case where the new tuple no longer
// fits the original slot and tuplepage.Update must relocate it within the
// page's free space rather than silently tombstoning it.
func TestRedoReplaysACommittedUpdateThatGrowsTheTuple(t *testing.T) {
	dm := openTestDM(t)
	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	oldTuple := []byte("short")
	newTuple := []byte("a much longer tuple body than the original slot held")

	lm := logmgr.New(dm, logmgr.DefaultBufferSize, time.Hour)
	beginLSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, testTxnID, logrecord.InvalidLSN))
	require.NoError(t, err)
	newPageLSN, err := lm.Append(logrecord.NewNewPageRecord(testTxnID, uint32(beginLSN), -1, pageID))
	require.NoError(t, err)
	insertLSN, err := lm.Append(logrecord.NewTupleRecord(logrecord.TypeInsert, testTxnID, uint32(newPageLSN), rid.RID{PageID: pageID, Slot: 0}, oldTuple))
	require.NoError(t, err)
	_, err = lm.Append(logrecord.NewTxnRecord(logrecord.TypeCommit, testTxnID, uint32(insertLSN)))
	require.NoError(t, err)

	updateTxnID := uint32(testTxnID + 1)
	begin2LSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, updateTxnID, logrecord.InvalidLSN))
	require.NoError(t, err)
	updateLSN, err := lm.Append(logrecord.NewUpdateRecord(updateTxnID, uint32(begin2LSN), rid.RID{PageID: pageID, Slot: 0}, oldTuple, newTuple))
	require.NoError(t, err)
	_, err = lm.Append(logrecord.NewTxnRecord(logrecord.TypeCommit, updateTxnID, uint32(updateLSN)))
	require.NoError(t, err)
	require.NoError(t, lm.SyncFlush(true))
	require.NoError(t, lm.Close())

	bp := bufferpool.New(4, dm)
	rm, err := New(dm, bp)
	require.NoError(t, err)
	defer rm.Close()

	result, err := rm.Run()
	require.NoError(t, err)
	assert.Zero(t, result.TxnsRolledBack)

	pg, err := bp.FetchPage(pageID)
	require.NoError(t, err)
	defer bp.UnpinPage(pageID, false)

	got, err := tuplepage.Get(pg, 0)
	require.NoError(t, err)
	assert.Equal(t, newTuple, got)
}

// TestUndoRestoresALongerOldTupleAfterAShrinkingUpdate exercises the same
// relocate-within-free-space path from the other direction: the update
// that crashed uncommitted shrank the tuple, so undo's compensating
// rewrite (old tuple as the forward image, per spec.md §4.G) must grow
// the slot back rather than silently discarding the restored value.
func TestUndoRestoresALongerOldTupleAfterAShrinkingUpdate(t *testing.T) {
	dm := openTestDM(t)
	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	oldTuple := []byte("the original, considerably longer tuple body")
	newTuple := []byte("short")

	lm := logmgr.New(dm, logmgr.DefaultBufferSize, time.Hour)
	beginLSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, testTxnID, logrecord.InvalidLSN))
	require.NoError(t, err)
	newPageLSN, err := lm.Append(logrecord.NewNewPageRecord(testTxnID, uint32(beginLSN), -1, pageID))
	require.NoError(t, err)
	insertLSN, err := lm.Append(logrecord.NewTupleRecord(logrecord.TypeInsert, testTxnID, uint32(newPageLSN), rid.RID{PageID: pageID, Slot: 0}, oldTuple))
	require.NoError(t, err)
	_, err = lm.Append(logrecord.NewTxnRecord(logrecord.TypeCommit, testTxnID, uint32(insertLSN)))
	require.NoError(t, err)

	updateTxnID := uint32(testTxnID + 1)
	begin2LSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, updateTxnID, logrecord.InvalidLSN))
	require.NoError(t, err)
	_, err = lm.Append(logrecord.NewUpdateRecord(updateTxnID, uint32(begin2LSN), rid.RID{PageID: pageID, Slot: 0}, oldTuple, newTuple))
	require.NoError(t, err)
	// No commit: this update crashed mid-flight and must be undone.
	require.NoError(t, lm.SyncFlush(true))
	require.NoError(t, lm.Close())

	bp := bufferpool.New(4, dm)
	rm, err := New(dm, bp)
	require.NoError(t, err)
	defer rm.Close()

	result, err := rm.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, result.TxnsRolledBack)

	pg, err := bp.FetchPage(pageID)
	require.NoError(t, err)
	defer bp.UnpinPage(pageID, false)

	got, err := tuplepage.Get(pg, 0)
	require.NoError(t, err)
	assert.Equal(t, oldTuple, got)
}

// Running recovery twice over a log that now reflects only committed
// effects must not reapply anything a second time.
func TestRecoveryIsIdempotentAcrossRuns(t *testing.T) {
	dm := openTestDM(t)
	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	lm := logmgr.New(dm, logmgr.DefaultBufferSize, time.Hour)
	beginLSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, testTxnID, logrecord.InvalidLSN))
	require.NoError(t, err)
	newPageLSN, err := lm.Append(logrecord.NewNewPageRecord(testTxnID, uint32(beginLSN), -1, pageID))
	require.NoError(t, err)
	insertLSN, err := lm.Append(logrecord.NewTupleRecord(logrecord.TypeInsert, testTxnID, uint32(newPageLSN), rid.RID{PageID: pageID, Slot: 0}, []byte("x")))
	require.NoError(t, err)
	_, err = lm.Append(logrecord.NewTxnRecord(logrecord.TypeCommit, testTxnID, uint32(insertLSN)))
	require.NoError(t, err)
	require.NoError(t, lm.SyncFlush(true))
	require.NoError(t, lm.Close())

	bp := bufferpool.New(4, dm)
	rm, err := New(dm, bp)
	require.NoError(t, err)
	_, err = rm.Run()
	require.NoError(t, err)
	rm.Close()

	rm2, err := New(dm, bp)
	require.NoError(t, err)
	defer rm2.Close()
	result, err := rm2.Run()
	require.NoError(t, err)
	assert.Zero(t, result.RedoApplied)
}
