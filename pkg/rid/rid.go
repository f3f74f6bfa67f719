// Package rid defines the record identifier shared by the log record,
// recovery, and tuple-page packages: a page id plus a slot index.
package rid

import "encoding/binary"

// Size is the encoded byte length of an RID.
const Size = 12

// RID addresses a single slot on a tuple page.
type RID struct {
	PageID int64
	Slot   uint32
}

// Encode writes the RID's wire form into buf[:Size].
func (r RID) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.PageID))
	binary.LittleEndian.PutUint32(buf[8:12], r.Slot)
}

// Decode reads an RID from buf[:Size].
func Decode(buf []byte) RID {
	return RID{
		PageID: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Slot:   binary.LittleEndian.Uint32(buf[8:12]),
	}
}
