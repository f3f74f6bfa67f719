package bufferpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coredb/internal/dberrors"
	"coredb/pkg/diskmanager"
)

const testPageSize = 4096

func newTestPool(t *testing.T, poolSize int) *BufferPool {
	t.Helper()
	dir := t.TempDir()
	dm, err := diskmanager.Open(filepath.Join(dir, "data.db"), filepath.Join(dir, "wal.log"), testPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return New(poolSize, dm)
}

// fakeWAL records every FlushThrough call so a test can assert the
// buffer pool enforces its write-ahead rule before any dirty write-back.
type fakeWAL struct {
	calls []uint64
}

func (f *fakeWAL) FlushThrough(lsn uint64) error {
	f.calls = append(f.calls, lsn)
	return nil
}

func TestNewPageThenFetchPageReturnsSameContent(t *testing.T) {
	bp := newTestPool(t, 4)

	pg, err := bp.NewPage()
	require.NoError(t, err)
	copy(pg.Data, []byte("hello-page"))
	require.NoError(t, bp.UnpinPage(pg.ID, true))

	fetched, err := bp.FetchPage(pg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello-page", string(fetched.Data[:10]))
	require.NoError(t, bp.UnpinPage(fetched.ID, false))
}

func TestFetchPageOfUnknownPageReadsZeroedData(t *testing.T) {
	bp := newTestPool(t, 4)
	pg, err := bp.FetchPage(3)
	require.NoError(t, err)
	for _, b := range pg.Data {
		assert.Zero(t, b)
	}
	require.NoError(t, bp.UnpinPage(pg.ID, false))
}

func TestUnpinUnknownPageReturnsNotFound(t *testing.T) {
	bp := newTestPool(t, 4)
	err := bp.UnpinPage(99, false)
	assert.ErrorIs(t, err, dberrors.ErrNotFound)
}

func TestNewPageFailsWithExhaustedWhenEveryFrameIsPinned(t *testing.T) {
	bp := newTestPool(t, 2)

	p1, err := bp.NewPage()
	require.NoError(t, err)
	p2, err := bp.NewPage()
	require.NoError(t, err)

	_, err = bp.NewPage()
	assert.ErrorIs(t, err, dberrors.ErrExhausted)

	require.NoError(t, bp.UnpinPage(p1.ID, false))
	require.NoError(t, bp.UnpinPage(p2.ID, false))
}

func TestUnpinnedFrameIsEvictedToMakeRoom(t *testing.T) {
	bp := newTestPool(t, 1)

	p1, err := bp.NewPage()
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(p1.ID, true))

	// Pool has exactly one frame; allocating a second page must evict p1.
	p2, err := bp.NewPage()
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(p2.ID, true))

	assert.Nil(t, bp.GetPage(p1.ID))
}

func TestDeletePageFailsWhilePinned(t *testing.T) {
	bp := newTestPool(t, 4)
	pg, err := bp.NewPage()
	require.NoError(t, err)

	err = bp.DeletePage(pg.ID)
	assert.ErrorIs(t, err, dberrors.ErrInUse)

	require.NoError(t, bp.UnpinPage(pg.ID, false))
	require.NoError(t, bp.DeletePage(pg.ID))
	assert.Nil(t, bp.GetPage(pg.ID))
}

func TestFlushPageClearsDirtyBit(t *testing.T) {
	bp := newTestPool(t, 4)
	pg, err := bp.NewPage()
	require.NoError(t, err)
	require.True(t, pg.IsDirty)

	require.NoError(t, bp.FlushPage(pg.ID))
	assert.False(t, pg.IsDirty)
	require.NoError(t, bp.UnpinPage(pg.ID, false))
}

func TestWriteBackCallsFlushThroughBeforeWritingDirtyPage(t *testing.T) {
	bp := newTestPool(t, 4)
	wal := &fakeWAL{}
	bp.SetWAL(wal)

	pg, err := bp.NewPage()
	require.NoError(t, err)
	pg.StampLSN(7)
	pg.IsDirty = true

	require.NoError(t, bp.FlushPage(pg.ID))
	require.Len(t, wal.calls, 1)
	assert.EqualValues(t, 7, wal.calls[0])
	require.NoError(t, bp.UnpinPage(pg.ID, false))
}

func TestFlushAllPagesOnlyTouchesDirtyFrames(t *testing.T) {
	bp := newTestPool(t, 4)

	clean, err := bp.NewPage()
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(clean.ID, false))
	require.NoError(t, bp.FlushPage(clean.ID)) // clears dirty bit from NewPage

	dirty, err := bp.NewPage()
	require.NoError(t, err)
	require.NoError(t, bp.UnpinPage(dirty.ID, true))

	n, err := bp.FlushAllPages()
	require.NoError(t, err)
	assert.EqualValues(t, testPageSize, n) // only the dirty page was written
	assert.False(t, dirty.IsDirty)
}

func TestGetStatsReportsOccupancy(t *testing.T) {
	bp := newTestPool(t, 4)
	pg, err := bp.NewPage()
	require.NoError(t, err)

	stats := bp.GetStats()
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, 1, stats.TotalPages)
	assert.Equal(t, 1, stats.PinnedPages)
	assert.Equal(t, 1, stats.DirtyPages)

	require.NoError(t, bp.UnpinPage(pg.ID, false))
}
