// Package page defines the fixed-size in-memory frame shared by the buffer
// pool, the hash index, and the tuple page: a byte array plus the metadata
// every resident page carries (pin count, dirty flag, last-applied LSN) and
// a reader/writer latch for higher-level callers.
//
// The LSN always lives at the first 8 bytes of Data so the buffer pool can
// read pg.LSN without knowing the page's layout — the convention this core
// keeps from its teacher's page package.
package page

import (
	"encoding/binary"
	"sync"
)

const (
	// Size is the fixed page/frame size in bytes.
	Size = 4096

	// LSNOffset is where every page kind stores its last-applied LSN.
	LSNOffset = 0

	// Invalid is the sentinel page ID meaning "no page".
	Invalid int64 = -1
)

// Type distinguishes page kinds for diagnostics. It lives only in memory:
// the disk manager stores raw page bytes and keeps no type byte. The core
// is otherwise agnostic to layout beyond LSNOffset.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeHashHeader
	TypeHashBlock
	TypeTuple
)

// Page is a resident frame: a fixed Data buffer plus metadata. Content is
// interpreted per Type by the owning component (hashindex, tuplepage).
type Page struct {
	ID       int64
	Data     []byte
	IsDirty  bool
	PinCount int32
	Type     Type
	LSN      uint64 // in-memory, mirrors Data[LSNOffset:]

	mu sync.RWMutex
}

// New allocates a zeroed page frame with the given id and type.
func New(id int64, t Type) *Page {
	return &Page{
		ID:   id,
		Data: make([]byte, Size),
		Type: t,
	}
}

// StampLSN records lsn as the page's last-applied LSN, both in the
// in-memory field and at Data[LSNOffset:], keeping the two in sync per
// the package-level convention.
func (p *Page) StampLSN(lsn uint64) {
	p.LSN = lsn
	binary.LittleEndian.PutUint64(p.Data[LSNOffset:], lsn)
}

func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }
