package hashindex

import (
	"encoding/binary"

	"coredb/pkg/page"
)

// Block page layout, after the 8-byte LSN every page type reserves at
// offset 0 (page.LSNOffset):
//
//	[readable_bitmap][occupied_bitmap][(key,value) slot array]
//
// Bitmaps are packed one bit per slot, high bit first within each byte:
// bit i lives at byte i/8, mask 1<<(7-i%8) (spec §4.C).
const blockDataOffset = 8

func bitmapBytes(blockSize int) int {
	return (blockSize + 7) / 8
}

func readableOffset(blockSize int) int {
	return blockDataOffset
}

func occupiedOffset(blockSize int) int {
	return blockDataOffset + bitmapBytes(blockSize)
}

func slotsOffset(blockSize int) int {
	return occupiedOffset(blockSize) + bitmapBytes(blockSize)
}

// blockCapacityFits reports whether blockSize slots fit in one page.
func blockCapacityFits(blockSize int) bool {
	return slotsOffset(blockSize)+blockSize*entrySize <= page.Size
}

func testBit(pg *page.Page, bitmapOff, slot int) bool {
	b := pg.Data[bitmapOff+slot/8]
	return b&(1<<(7-uint(slot%8))) != 0
}

func setBit(pg *page.Page, bitmapOff, slot int, v bool) {
	idx := bitmapOff + slot/8
	mask := byte(1 << (7 - uint(slot%8)))
	if v {
		pg.Data[idx] |= mask
	} else {
		pg.Data[idx] &^= mask
	}
}

// InitBlock zeroes a fresh block page's bitmaps and slot array.
func InitBlock(pg *page.Page, blockSize int) {
	end := slotsOffset(blockSize) + blockSize*entrySize
	for i := blockDataOffset; i < end; i++ {
		pg.Data[i] = 0
	}
	pg.IsDirty = true
}

// IsOccupied reports whether slot has ever held an entry.
func IsOccupied(pg *page.Page, blockSize, slot int) bool {
	return testBit(pg, occupiedOffset(blockSize), slot)
}

// IsReadable reports whether slot currently holds a live entry.
func IsReadable(pg *page.Page, blockSize, slot int) bool {
	return testBit(pg, readableOffset(blockSize), slot)
}

// KeyAt returns the key stored at slot, valid only if IsOccupied(slot).
func KeyAt(pg *page.Page, blockSize, slot int) uint64 {
	off := slotsOffset(blockSize) + slot*entrySize
	return binary.LittleEndian.Uint64(pg.Data[off:])
}

// ValueAt returns the value stored at slot, valid only if
// IsReadable(slot).
func ValueAt(pg *page.Page, blockSize, slot int) uint64 {
	off := slotsOffset(blockSize) + slot*entrySize + 8
	return binary.LittleEndian.Uint64(pg.Data[off:])
}

// Insert stores (key, value) at slot, setting both bits. Fails (returns
// false) if slot is already readable — spec §4.C.
func Insert(pg *page.Page, blockSize, slot int, key, value uint64) bool {
	if IsReadable(pg, blockSize, slot) {
		return false
	}
	off := slotsOffset(blockSize) + slot*entrySize
	binary.LittleEndian.PutUint64(pg.Data[off:], key)
	binary.LittleEndian.PutUint64(pg.Data[off+8:], value)
	setBit(pg, occupiedOffset(blockSize), slot, true)
	setBit(pg, readableOffset(blockSize), slot, true)
	pg.IsDirty = true
	return true
}

// Remove clears only the readable bit; occupied stays set forever so
// probe chains stay intact (spec §9 open question decision).
func Remove(pg *page.Page, blockSize, slot int) {
	setBit(pg, readableOffset(blockSize), slot, false)
	pg.IsDirty = true
}
