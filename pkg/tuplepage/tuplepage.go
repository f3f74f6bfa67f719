// Package tuplepage implements the slotted heap page that recovery
// replays INSERT/MARKDELETE/APPLYDELETE/ROLLBACKDELETE/UPDATE log records
// against (spec §3, §4.G).
//
// Records grow forward from the header; the slot directory grows
// backward from the end of the page, exactly as the teacher's
// storage_engine/access/heapfile_manager/heap_page.go lays out its heap
// pages. Trimmed: no FileID/PageType/IsPageFull bookkeeping (this core's
// page.Page already carries ID and Type), and MarkDelete/ApplyDelete are
// split into two steps — a reversible soft delete and an irreversible
// physical one — to give the three distinct WAL delete record types
// (MARKDELETE, APPLYDELETE, ROLLBACKDELETE) real, distinguishable
// behavior instead of collapsing to one DeleteRecord.
package tuplepage

import (
	"encoding/binary"

	"coredb/internal/dberrors"
	"coredb/pkg/page"
	"coredb/pkg/rid"
)

const (
	offRecordEndPtr    = 8  // uint16
	offSlotRegionStart = 10 // uint16
	offNumRows         = 12 // uint16
	offSlotCount       = 14 // uint16

	// HeaderSize is the fixed tuple-page header; records start here.
	HeaderSize = 16

	// SlotSize is one slot directory entry: offset(2) + length(2).
	SlotSize = 4

	// deletedBit marks a slot as soft-deleted within its length field;
	// actual length never needs the top bit since it is well under
	// page.Size.
	deletedBit = uint16(1) << 15
	lengthMask = deletedBit - 1
)

// Init stamps a fresh tuple-page header. LSN (the first 8 bytes) is left
// to the caller/buffer pool convention.
func Init(pg *page.Page) {
	for i := 8; i < page.Size; i++ {
		pg.Data[i] = 0
	}
	binary.LittleEndian.PutUint16(pg.Data[offRecordEndPtr:], HeaderSize)
	binary.LittleEndian.PutUint16(pg.Data[offSlotRegionStart:], page.Size)
	binary.LittleEndian.PutUint16(pg.Data[offNumRows:], 0)
	binary.LittleEndian.PutUint16(pg.Data[offSlotCount:], 0)
	pg.IsDirty = true
}

func recordEndPtr(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[offRecordEndPtr:])
}
func setRecordEndPtr(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offRecordEndPtr:], v)
}
func slotRegionStart(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[offSlotRegionStart:])
}
func setSlotRegionStart(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offSlotRegionStart:], v)
}

// NumRows returns the count of live (non-deleted) slots.
func NumRows(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[offNumRows:])
}
func setNumRows(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offNumRows:], v)
}

// SlotCount returns the total number of slot directory entries,
// including tombstones.
func SlotCount(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[offSlotCount:])
}
func setSlotCount(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offSlotCount:], v)
}

func slotOffset(idx uint16) int {
	return page.Size - int(idx+1)*SlotSize
}

func readSlot(pg *page.Page, idx uint16) (offset, length uint16, deleted bool) {
	so := slotOffset(idx)
	offset = binary.LittleEndian.Uint16(pg.Data[so:])
	raw := binary.LittleEndian.Uint16(pg.Data[so+2:])
	return offset, raw & lengthMask, raw&deletedBit != 0
}

func writeSlot(pg *page.Page, idx uint16, offset, length uint16, deleted bool) {
	so := slotOffset(idx)
	binary.LittleEndian.PutUint16(pg.Data[so:], offset)
	raw := length & lengthMask
	if deleted {
		raw |= deletedBit
	}
	binary.LittleEndian.PutUint16(pg.Data[so+2:], raw)
}

// FreeSpace returns the number of bytes available for a new record plus
// its slot entry, assuming a fresh slot is needed.
func FreeSpace(pg *page.Page) int {
	return int(slotRegionStart(pg)) - int(recordEndPtr(pg))
}

// NextInsertSlot returns the slot a following Insert on pg will use —
// the first true tombstone (a slot ApplyDelete emptied), or a fresh slot
// at the end of the directory if none exists. Exported so a caller that
// must log a record naming the RID an insert will produce (write-ahead
// order requires the log record before the mutation) can compute the
// same slot Insert will choose.
func NextInsertSlot(pg *page.Page) (slot uint16, reused bool) {
	count := SlotCount(pg)
	for i := uint16(0); i < count; i++ {
		if _, length, deleted := readSlot(pg, i); length == 0 && !deleted {
			return i, true
		}
	}
	return count, false
}

// Insert places data into the first available slot (reusing a tombstone
// if one exists) and returns its RID.
func Insert(pg *page.Page, data []byte) (rid.RID, error) {
	length := uint16(len(data))
	if length == 0 {
		return rid.RID{}, dberrors.Wrap(dberrors.ErrCorruption, "insert of empty tuple")
	}

	slot, reused := NextInsertSlot(pg)
	needed := int(length)
	if !reused {
		needed += SlotSize
	}
	if FreeSpace(pg) < needed {
		return rid.RID{}, dberrors.Wrap(dberrors.ErrExhausted, "page %d has no room for %d-byte tuple", pg.ID, length)
	}

	if err := placeAt(pg, slot, data, !reused); err != nil {
		return rid.RID{}, err
	}
	return rid.RID{PageID: pg.ID, Slot: uint32(slot)}, nil
}

// InsertAt is the idempotent form Insert's redo uses: it replays an
// insert at a specific slot, doing nothing if that slot is already
// occupied with data (the effect already durable).
func InsertAt(pg *page.Page, slot uint32, data []byte) error {
	idx := uint16(slot)
	if idx < SlotCount(pg) {
		if _, length, deleted := readSlot(pg, idx); length > 0 || deleted {
			return nil
		}
	}
	grow := idx >= SlotCount(pg)
	return placeAt(pg, idx, data, grow)
}

func placeAt(pg *page.Page, idx uint16, data []byte, grow bool) error {
	length := uint16(len(data))
	offset := recordEndPtr(pg)
	if int(offset)+int(length) > page.Size {
		return dberrors.Wrap(dberrors.ErrExhausted, "page %d out of record space", pg.ID)
	}
	copy(pg.Data[offset:], data)
	setRecordEndPtr(pg, offset+length)
	writeSlot(pg, idx, offset, length, false)

	if grow {
		setSlotRegionStart(pg, slotRegionStart(pg)-SlotSize)
		setSlotCount(pg, idx+1)
	}
	setNumRows(pg, NumRows(pg)+1)
	pg.IsDirty = true
	return nil
}

// Get returns a copy of the tuple at slot, or dberrors.ErrNotFound if the
// slot is out of range, a tombstone, or soft-deleted.
func Get(pg *page.Page, slot uint32) ([]byte, error) {
	idx := uint16(slot)
	if idx >= SlotCount(pg) {
		return nil, dberrors.Wrap(dberrors.ErrNotFound, "slot %d out of range on page %d", slot, pg.ID)
	}
	offset, length, deleted := readSlot(pg, idx)
	if length == 0 || deleted {
		return nil, dberrors.Wrap(dberrors.ErrNotFound, "slot %d deleted or empty on page %d", slot, pg.ID)
	}
	out := make([]byte, length)
	copy(out, pg.Data[offset:offset+length])
	return out, nil
}

// IsDeleted reports whether slot carries the soft-delete bit.
func IsDeleted(pg *page.Page, slot uint32) bool {
	idx := uint16(slot)
	if idx >= SlotCount(pg) {
		return false
	}
	_, _, deleted := readSlot(pg, idx)
	return deleted
}

// MarkDelete sets the soft-delete bit without discarding the tuple's
// bytes, so RollbackDelete can restore visibility during undo.
func MarkDelete(pg *page.Page, slot uint32) error {
	idx := uint16(slot)
	if idx >= SlotCount(pg) {
		return dberrors.Wrap(dberrors.ErrNotFound, "slot %d out of range on page %d", slot, pg.ID)
	}
	offset, length, deleted := readSlot(pg, idx)
	if length == 0 {
		return dberrors.Wrap(dberrors.ErrNotFound, "slot %d already removed on page %d", slot, pg.ID)
	}
	if deleted {
		return nil // idempotent, for redo
	}
	writeSlot(pg, idx, offset, length, true)
	setNumRows(pg, NumRows(pg)-1)
	pg.IsDirty = true
	return nil
}

// RollbackDelete clears the soft-delete bit, undoing a prior MarkDelete.
func RollbackDelete(pg *page.Page, slot uint32) error {
	idx := uint16(slot)
	if idx >= SlotCount(pg) {
		return dberrors.Wrap(dberrors.ErrNotFound, "slot %d out of range on page %d", slot, pg.ID)
	}
	offset, length, deleted := readSlot(pg, idx)
	if length == 0 {
		return dberrors.Wrap(dberrors.ErrNotFound, "slot %d has no tuple to restore on page %d", slot, pg.ID)
	}
	if !deleted {
		return nil // idempotent, for redo
	}
	writeSlot(pg, idx, offset, length, false)
	setNumRows(pg, NumRows(pg)+1)
	pg.IsDirty = true
	return nil
}

// ApplyDelete physically discards the tuple at slot, turning it into a
// true tombstone whose space Insert may reclaim. Irreversible: a
// committed transaction's delete reaching this point cannot be undone.
func ApplyDelete(pg *page.Page, slot uint32) error {
	idx := uint16(slot)
	if idx >= SlotCount(pg) {
		return dberrors.Wrap(dberrors.ErrNotFound, "slot %d out of range on page %d", slot, pg.ID)
	}
	_, length, deleted := readSlot(pg, idx)
	if length == 0 && !deleted {
		return nil // already gone, idempotent for redo
	}
	if !deleted {
		setNumRows(pg, NumRows(pg)-1)
	}
	writeSlot(pg, idx, 0, 0, false)
	pg.IsDirty = true
	return nil
}

// Update replaces the tuple at slot with newData. When newData is no longer
// than the slot's current length it is rewritten in place. When it grows
// past that, the record is relocated into the page's free space region —
// the slot's offset is repointed there and its old bytes become
// unreclaimed garbage (this core never compacts a page) — as long as
// FreeSpace allows it, so the slot index (and therefore the RID) never
// changes. Only when the page has no room for the grown tuple at all is
// the slot tombstoned (via ApplyDelete) and ok returned false: the caller
// must then Insert newData elsewhere and log that as a fresh RID.
func Update(pg *page.Page, slot uint32, newData []byte) (ok bool, err error) {
	idx := uint16(slot)
	if idx >= SlotCount(pg) {
		return false, dberrors.Wrap(dberrors.ErrNotFound, "slot %d out of range on page %d", slot, pg.ID)
	}
	offset, length, deleted := readSlot(pg, idx)
	if length == 0 || deleted {
		return false, dberrors.Wrap(dberrors.ErrNotFound, "slot %d deleted on page %d", slot, pg.ID)
	}
	newLen := uint16(len(newData))
	if newLen <= length {
		copy(pg.Data[offset:], newData)
		writeSlot(pg, idx, offset, newLen, false)
		pg.IsDirty = true
		return true, nil
	}
	if int(newLen) <= FreeSpace(pg) {
		newOffset := recordEndPtr(pg)
		copy(pg.Data[newOffset:], newData)
		setRecordEndPtr(pg, newOffset+newLen)
		writeSlot(pg, idx, newOffset, newLen, false)
		pg.IsDirty = true
		return true, nil
	}
	if err := ApplyDelete(pg, slot); err != nil {
		return false, err
	}
	return false, nil
}
