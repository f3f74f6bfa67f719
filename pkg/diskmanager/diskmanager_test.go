package diskmanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPageSize = 64

func openTestManager(t *testing.T) *FileDiskManager {
	t.Helper()
	dir := t.TempDir()
	dm, err := Open(filepath.Join(dir, "data.db"), filepath.Join(dir, "wal.log"), testPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return dm
}

func TestAllocateAssignsSequentialIDsOnFreshFile(t *testing.T) {
	dm := openTestManager(t)

	for want := int64(0); want < 3; want++ {
		got, err := dm.AllocatePage()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestWritePageThenReadPageRoundTrips(t *testing.T) {
	dm := openTestManager(t)
	id, err := dm.AllocatePage()
	require.NoError(t, err)

	want := make([]byte, testPageSize)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, dm.WritePage(id, want))

	got := make([]byte, testPageSize)
	require.NoError(t, dm.ReadPage(id, got))
	require.Equal(t, want, got)
}

func TestReadPageBeyondEOFReturnsZeroedBuffer(t *testing.T) {
	dm := openTestManager(t)
	buf := make([]byte, testPageSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	require.NoError(t, dm.ReadPage(5, buf))
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestDeallocatePageReusesID(t *testing.T) {
	dm := openTestManager(t)
	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, dm.DeallocatePage(id))

	reused, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id, reused)
}

func TestResyncRaisesNextPageIDFromFileSize(t *testing.T) {
	dm := openTestManager(t)

	// Simulate recovery writing a page id beyond the in-memory counter
	// (e.g. a NEWPAGE record replayed for a page allocated after this
	// manager's nextPageID was last computed).
	buf := make([]byte, testPageSize)
	require.NoError(t, dm.WritePage(10, buf))
	require.NoError(t, dm.Resync())

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, int64(11), id)
}

func TestResyncNeverLowersNextPageID(t *testing.T) {
	dm := openTestManager(t)
	for i := 0; i < 5; i++ {
		_, err := dm.AllocatePage()
		require.NoError(t, err)
	}
	require.NoError(t, dm.Resync())

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, int64(5), id)
}

func TestWriteLogThenReadLogRoundTrips(t *testing.T) {
	dm := openTestManager(t)
	require.NoError(t, dm.WriteLog([]byte("first")))
	require.NoError(t, dm.WriteLog([]byte("second")))

	buf := make([]byte, 11)
	n, ok, err := dm.ReadLog(buf, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 11, n)
	require.Equal(t, "firstsecond", string(buf))
}

func TestReadLogAtEOFReportsNotOK(t *testing.T) {
	dm := openTestManager(t)
	buf := make([]byte, 8)
	n, ok, err := dm.ReadLog(buf, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, n)
}
