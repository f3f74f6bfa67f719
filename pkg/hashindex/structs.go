// Package hashindex implements the persistent linear-probing hash table
// of spec §4.C/§4.D: a header page listing block page ids, fixed-slot
// block pages with packed occupied/readable bitmaps, and online doubling
// resize.
//
// Grounded on other_examples/ryogrid-SamehadaDB__hash_table_header_page.go
// (the ordered-list-of-block-page-ids header shape, generalized from a
// fixed [1020]PageID array to a page-resident, growable list since this
// core's header must itself live in a page.Page and survive resize) and
// the teacher's storage_engine/bufferpool latch-then-I/O-outside-lock
// discipline for how operations borrow pages from the buffer pool.
package hashindex

import (
	"sync"

	"coredb/pkg/bufferpool"
)

// Table is a linear-probing hash table keyed by uint64, storing uint64
// values (spec's tests address it as insert(5, 5)-style generic
// key/value pairs; a higher layer is free to encode RIDs into the
// 64-bit value).
type Table struct {
	mu sync.RWMutex // table-wide latch: shared for ops, exclusive for resize

	bp         *bufferpool.BufferPool
	headerPID  int64
	blockSize  int
}

// entrySize is the encoded byte size of one (key, value) slot.
const entrySize = 16
