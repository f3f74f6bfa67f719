package bufferpool

import (
	"sync"

	"coredb/pkg/diskmanager"
	"coredb/pkg/page"
	"coredb/pkg/replacer"
)

// WALFlusher is the seam the buffer pool uses to enforce the write-ahead
// log rule (spec §4.B) without importing the whole log manager package.
// Grounded on the teacher's WALFlushedLSNGetter interface
// (storage_engine/bufferpool/structs.go), generalized from a getter the
// caller must poll into a blocking call that actually forces durability.
type WALFlusher interface {
	// FlushThrough blocks until persistent_lsn >= lsn.
	FlushThrough(lsn uint64) error
}

// BufferPool maps page ids to frames, pins/unpins them, and evicts via a
// clock replacer (spec §4.B). Exactly pool_size frames exist; a frame is
// page-table-mapped, on the free list, or reserved by an in-progress
// FetchPage/NewPage. A frame reserved as an eviction victim keeps its
// page-table mapping until its write-back has landed.
type BufferPool struct {
	mu sync.Mutex

	frames      []*page.Page // index == frameID; nil when free
	pageTable   map[int64]replacer.FrameID
	freeList    []replacer.FrameID
	replacer    *replacer.ClockReplacer
	diskManager diskmanager.DiskManager
	wal         WALFlusher

	poolSize int
}

// Stats is a snapshot of pool occupancy for diagnostics.
type Stats struct {
	TotalPages  int
	PinnedPages int
	DirtyPages  int
	Capacity    int
}
