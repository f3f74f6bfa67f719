package hashindex

import (
	"encoding/binary"

	"coredb/internal/dberrors"
	"coredb/pkg/page"
)

// Header page layout, after the 8-byte LSN reserved at offset 0:
//
//	[page_id:4][size:4][num_blocks:4][block_page_ids:4*N]
//
// "size" here is the table's configured block_size (spec §6's naming),
// not to be confused with page.Size. Grounded on
// other_examples/ryogrid-SamehadaDB__hash_table_header_page.go's
// PageId/Size/blockPageIds fields, moved from an in-memory struct into a
// page.Page buffer so it persists through the buffer pool like any
// other page.
const (
	hdrPageID     = 8
	hdrBlockSize  = 12
	hdrNumBlocks  = 16
	hdrBlockIDs   = 20
)

// MaxBlocks is how many block page ids fit in one header page.
const MaxBlocks = (page.Size - hdrBlockIDs) / 4

// InitHeader stamps a fresh, empty header page.
func InitHeader(pg *page.Page, blockSize int) {
	for i := blockDataOffset; i < page.Size; i++ {
		pg.Data[i] = 0
	}
	binary.LittleEndian.PutUint32(pg.Data[hdrPageID:], uint32(pg.ID))
	binary.LittleEndian.PutUint32(pg.Data[hdrBlockSize:], uint32(blockSize))
	binary.LittleEndian.PutUint32(pg.Data[hdrNumBlocks:], 0)
	pg.IsDirty = true
}

// HeaderBlockSize returns the configured slots-per-block for this table.
func HeaderBlockSize(pg *page.Page) int {
	return int(binary.LittleEndian.Uint32(pg.Data[hdrBlockSize:]))
}

// NumBlocks returns the number of block pages currently listed.
func NumBlocks(pg *page.Page) int {
	return int(binary.LittleEndian.Uint32(pg.Data[hdrNumBlocks:]))
}

// BlockPageID returns the page id of the idx'th block, or
// dberrors.ErrNotFound if idx is out of range.
func BlockPageID(pg *page.Page, idx int) (int64, error) {
	if idx < 0 || idx >= NumBlocks(pg) {
		return 0, dberrors.Wrap(dberrors.ErrNotFound, "block index %d out of range", idx)
	}
	off := hdrBlockIDs + idx*4
	return int64(int32(binary.LittleEndian.Uint32(pg.Data[off:]))), nil
}

// AddBlockPageID appends a block page id, growing num_blocks by one.
func AddBlockPageID(pg *page.Page, blockPageID int64) error {
	n := NumBlocks(pg)
	if n >= MaxBlocks {
		return dberrors.Wrap(dberrors.ErrExhausted, "header page full at %d blocks", n)
	}
	off := hdrBlockIDs + n*4
	binary.LittleEndian.PutUint32(pg.Data[off:], uint32(int32(blockPageID)))
	binary.LittleEndian.PutUint32(pg.Data[hdrNumBlocks:], uint32(n+1))
	pg.IsDirty = true
	return nil
}
