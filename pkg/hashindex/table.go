package hashindex

import (
	"encoding/binary"

	"coredb/internal/dberrors"
	"coredb/internal/logging"
	"coredb/pkg/bufferpool"
	"coredb/pkg/page"

	"github.com/cespare/xxhash/v2"
)

// New creates an empty table with one block page of blockSize slots.
func New(bp *bufferpool.BufferPool, blockSize int) (*Table, error) {
	if !blockCapacityFits(blockSize) {
		return nil, dberrors.Wrap(dberrors.ErrCorruption, "block_size %d does not fit in a page", blockSize)
	}

	headerPg, err := bp.NewPage()
	if err != nil {
		return nil, err
	}
	InitHeader(headerPg, blockSize)

	blockPg, err := bp.NewPage()
	if err != nil {
		bp.UnpinPage(headerPg.ID, true)
		return nil, err
	}
	InitBlock(blockPg, blockSize)
	if err := AddBlockPageID(headerPg, blockPg.ID); err != nil {
		return nil, err
	}

	t := &Table{bp: bp, headerPID: headerPg.ID, blockSize: blockSize}
	bp.UnpinPage(blockPg.ID, true)
	bp.UnpinPage(headerPg.ID, true)
	return t, nil
}

// Open wraps an existing table rooted at headerPageID.
func Open(bp *bufferpool.BufferPool, headerPageID int64, blockSize int) *Table {
	return &Table{bp: bp, headerPID: headerPageID, blockSize: blockSize}
}

// HeaderPageID returns the page id of this table's current header page
// (it changes across a resize).
func (t *Table) HeaderPageID() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.headerPID
}

func hash(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:])
}

type blockList struct {
	blockSize int
	ids       []int64
}

// loadBlockListLocked reads the header's block_size and block page ids.
// Caller holds t.mu (shared or exclusive).
func (t *Table) loadBlockListLocked() (blockList, error) {
	headerPg, err := t.bp.FetchPage(t.headerPID)
	if err != nil {
		return blockList{}, err
	}
	headerPg.RLock()
	n := NumBlocks(headerPg)
	blockSize := HeaderBlockSize(headerPg)
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i], _ = BlockPageID(headerPg, i)
	}
	headerPg.RUnlock()
	t.bp.UnpinPage(t.headerPID, false)
	return blockList{blockSize: blockSize, ids: ids}, nil
}

// Get returns every value stored under key (spec §4.D).
func (t *Table) Get(key uint64) ([]uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(key)
}

func (t *Table) getLocked(key uint64) ([]uint64, error) {
	bl, err := t.loadBlockListLocked()
	if err != nil {
		return nil, err
	}
	if len(bl.ids) == 0 {
		return nil, nil
	}
	capacity := len(bl.ids) * bl.blockSize
	start := int(hash(key) % uint64(capacity))

	var values []uint64
	curIdx := -1
	var curPg *page.Page

	release := func() {
		if curPg != nil {
			curPg.RUnlock()
			t.bp.UnpinPage(bl.ids[curIdx], false)
			curPg = nil
		}
	}
	defer release()

	for step := 0; step < capacity; step++ {
		li := (start + step) % capacity
		blockIdx, slot := li/bl.blockSize, li%bl.blockSize

		if blockIdx != curIdx {
			release()
			pg, err := t.bp.FetchPage(bl.ids[blockIdx])
			if err != nil {
				return nil, err
			}
			pg.RLock()
			curPg, curIdx = pg, blockIdx
		}

		if !IsOccupied(curPg, bl.blockSize, slot) {
			break
		}
		if IsReadable(curPg, bl.blockSize, slot) && KeyAt(curPg, bl.blockSize, slot) == key {
			values = append(values, ValueAt(curPg, bl.blockSize, slot))
		}
	}
	return values, nil
}

// Insert stores (key, value), rejecting an exact duplicate pair, and
// resizes (once) if the table is full (spec §4.D).
func (t *Table) Insert(key, value uint64) (bool, error) {
	for {
		t.mu.RLock()
		ok, full, numBlocks, err := t.insertAttemptLocked(key, value)
		t.mu.RUnlock()
		if err != nil {
			return false, err
		}
		if !full {
			return ok, nil
		}
		if err := t.resize(numBlocks); err != nil {
			return false, err
		}
		// retry against the freshly resized table
	}
}

// insertAttemptLocked runs under t.mu held at least for reading by the
// caller (Insert takes RLock). resize reinserts through
// insertAttemptLockedInto instead.
func (t *Table) insertAttemptLocked(key, value uint64) (ok bool, full bool, numBlocks int, err error) {
	existing, err := t.getLocked(key)
	if err != nil {
		return false, false, 0, err
	}
	for _, v := range existing {
		if v == value {
			return false, false, 0, nil
		}
	}

	bl, err := t.loadBlockListLocked()
	if err != nil {
		return false, false, 0, err
	}
	if len(bl.ids) == 0 {
		return false, false, 0, dberrors.Wrap(dberrors.ErrCorruption, "hash table has no blocks")
	}
	capacity := len(bl.ids) * bl.blockSize
	start := int(hash(key) % uint64(capacity))

	curIdx := -1
	var curPg *page.Page
	release := func() {
		if curPg != nil {
			curPg.Unlock()
			t.bp.UnpinPage(bl.ids[curIdx], true)
			curPg = nil
		}
	}

	for step := 0; step < capacity; step++ {
		li := (start + step) % capacity
		blockIdx, slot := li/bl.blockSize, li%bl.blockSize

		if blockIdx != curIdx {
			release()
			pg, ferr := t.bp.FetchPage(bl.ids[blockIdx])
			if ferr != nil {
				return false, false, 0, ferr
			}
			pg.Lock()
			curPg, curIdx = pg, blockIdx
		}

		if !IsReadable(curPg, bl.blockSize, slot) {
			Insert(curPg, bl.blockSize, slot, key, value)
			release()
			logging.Debug("hashindex.insert", "key", key, "value", value, "block", bl.ids[blockIdx], "slot", slot)
			return true, false, 0, nil
		}
	}
	release()
	return false, true, len(bl.ids), nil
}

// Remove deletes the (key, value) pair if present.
func (t *Table) Remove(key, value uint64) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bl, err := t.loadBlockListLocked()
	if err != nil {
		return false, err
	}
	if len(bl.ids) == 0 {
		return false, nil
	}
	capacity := len(bl.ids) * bl.blockSize
	start := int(hash(key) % uint64(capacity))

	curIdx := -1
	var curPg *page.Page
	release := func(dirty bool) {
		if curPg != nil {
			curPg.Unlock()
			t.bp.UnpinPage(bl.ids[curIdx], dirty)
			curPg = nil
		}
	}

	for step := 0; step < capacity; step++ {
		li := (start + step) % capacity
		blockIdx, slot := li/bl.blockSize, li%bl.blockSize

		if blockIdx != curIdx {
			release(false)
			pg, ferr := t.bp.FetchPage(bl.ids[blockIdx])
			if ferr != nil {
				return false, ferr
			}
			pg.Lock()
			curPg, curIdx = pg, blockIdx
		}

		if !IsOccupied(curPg, bl.blockSize, slot) {
			release(false)
			return false, nil
		}
		if IsReadable(curPg, bl.blockSize, slot) && KeyAt(curPg, bl.blockSize, slot) == key && ValueAt(curPg, bl.blockSize, slot) == value {
			Remove(curPg, bl.blockSize, slot)
			release(true)
			return true, nil
		}
	}
	release(false)
	return false, nil
}

// resize doubles the table's block count, per spec §4.D: if another
// goroutine already resized past currentNumBlocks, this is a no-op.
func (t *Table) resize(currentNumBlocks int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bl, err := t.loadBlockListLocked()
	if err != nil {
		return err
	}
	if len(bl.ids) != currentNumBlocks {
		return nil // someone else already resized
	}

	entries, err := t.collectAllLocked(bl)
	if err != nil {
		return err
	}

	newNumBlocks := currentNumBlocks * 2
	newHeaderPg, err := t.bp.NewPage()
	if err != nil {
		return err
	}
	InitHeader(newHeaderPg, bl.blockSize)
	newBlockIDs := make([]int64, 0, newNumBlocks)
	for i := 0; i < newNumBlocks; i++ {
		blockPg, berr := t.bp.NewPage()
		if berr != nil {
			t.bp.UnpinPage(newHeaderPg.ID, true)
			return berr
		}
		InitBlock(blockPg, bl.blockSize)
		if aerr := AddBlockPageID(newHeaderPg, blockPg.ID); aerr != nil {
			t.bp.UnpinPage(blockPg.ID, true)
			t.bp.UnpinPage(newHeaderPg.ID, true)
			return aerr
		}
		newBlockIDs = append(newBlockIDs, blockPg.ID)
		t.bp.UnpinPage(blockPg.ID, true)
	}
	t.bp.UnpinPage(newHeaderPg.ID, true)

	oldHeaderPID := t.headerPID
	oldBlockIDs := bl.ids
	t.headerPID = newHeaderPg.ID

	newBL := blockList{blockSize: bl.blockSize, ids: newBlockIDs}
	for _, e := range entries {
		if _, _, _, ierr := t.insertAttemptLockedInto(newBL, e.key, e.value); ierr != nil {
			return ierr
		}
	}

	logging.Info("hashindex.resize", "oldBlocks", currentNumBlocks, "newBlocks", newNumBlocks, "entries", len(entries))

	for _, id := range oldBlockIDs {
		if derr := t.bp.DeletePage(id); derr != nil {
			return derr
		}
	}
	return t.bp.DeletePage(oldHeaderPID)
}

type kv struct {
	key, value uint64
}

// collectAllLocked returns every readable (key, value) pair across bl,
// scanning every slot in every block directly (not a probe-chain walk —
// resize needs every live entry regardless of chain continuity).
func (t *Table) collectAllLocked(bl blockList) ([]kv, error) {
	var out []kv
	for _, id := range bl.ids {
		pg, err := t.bp.FetchPage(id)
		if err != nil {
			return nil, err
		}
		pg.RLock()
		for slot := 0; slot < bl.blockSize; slot++ {
			if IsReadable(pg, bl.blockSize, slot) {
				out = append(out, kv{KeyAt(pg, bl.blockSize, slot), ValueAt(pg, bl.blockSize, slot)})
			}
		}
		pg.RUnlock()
		t.bp.UnpinPage(id, false)
	}
	return out, nil
}

// insertAttemptLockedInto is insertAttemptLocked specialized to a
// blockList the caller already has in hand (used while building the
// resized table, before t.headerPID's new block list is the "current"
// one loadBlockListLocked would fetch from disk — though by the time
// this runs t.headerPID already points at the new header, so the two
// agree; kept separate to avoid an extra header fetch per reinserted
// entry).
func (t *Table) insertAttemptLockedInto(bl blockList, key, value uint64) (ok bool, full bool, numBlocks int, err error) {
	if len(bl.ids) == 0 {
		return false, false, 0, dberrors.Wrap(dberrors.ErrCorruption, "hash table has no blocks")
	}
	capacity := len(bl.ids) * bl.blockSize
	start := int(hash(key) % uint64(capacity))

	curIdx := -1
	var curPg *page.Page
	release := func() {
		if curPg != nil {
			curPg.Unlock()
			t.bp.UnpinPage(bl.ids[curIdx], true)
			curPg = nil
		}
	}

	for step := 0; step < capacity; step++ {
		li := (start + step) % capacity
		blockIdx, slot := li/bl.blockSize, li%bl.blockSize

		if blockIdx != curIdx {
			release()
			pg, ferr := t.bp.FetchPage(bl.ids[blockIdx])
			if ferr != nil {
				return false, false, 0, ferr
			}
			pg.Lock()
			curPg, curIdx = pg, blockIdx
		}

		if !IsReadable(curPg, bl.blockSize, slot) {
			Insert(curPg, bl.blockSize, slot, key, value)
			release()
			return true, false, 0, nil
		}
	}
	release()
	return false, true, len(bl.ids), nil
}
