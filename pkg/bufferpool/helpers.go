package bufferpool

import "coredb/pkg/page"

// GetStats returns a point-in-time snapshot of pool occupancy.
func (bp *BufferPool) GetStats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	stats := Stats{Capacity: bp.poolSize}
	for _, pg := range bp.frames {
		if pg == nil {
			continue
		}
		stats.TotalPages++
		pg.RLock()
		if pg.PinCount > 0 {
			stats.PinnedPages++
		}
		if pg.IsDirty {
			stats.DirtyPages++
		}
		pg.RUnlock()
	}
	return stats
}

// Size returns the number of frames currently holding a page.
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pageTable)
}

// Capacity returns the total number of frames.
func (bp *BufferPool) Capacity() int {
	return bp.poolSize
}

// GetPage returns the resident page for pageID without touching disk or
// pin count, or nil if it isn't resident.
func (bp *BufferPool) GetPage(pageID int64) *page.Page {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if frameID, ok := bp.pageTable[pageID]; ok {
		return bp.frames[frameID]
	}
	return nil
}
