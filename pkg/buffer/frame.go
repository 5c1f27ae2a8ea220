// ABOUTME: Frame bookkeeping for the buffer pool
// ABOUTME: Pin counts, dirty bits and pin history drive eviction

package buffer

import (
	"github.com/jamal-zag/beedb/pkg/storage"
)

// maxPinHistory bounds the per-frame pin timestamp history. LRU-K
// distances beyond this cap degrade to "fewer than K pins".
const maxPinHistory = 64

// FrameInfo carries the replacement-relevant state of one frame.
type FrameInfo struct {
	pageID     storage.PageID // InvalidPageID when unoccupied
	pinCount   uint32
	dirty      bool
	referenced bool // Clock second-chance bit, set when a resident page is re-pinned

	pinHistory []uint64 // pin timestamps, most recent last, capped
	pinTotal   uint64
}

func (f *FrameInfo) occupied() bool {
	return f.pageID != storage.InvalidPageID
}

func (f *FrameInfo) reset() {
	f.pageID = storage.InvalidPageID
	f.pinCount = 0
	f.dirty = false
	f.referenced = false
	f.pinHistory = f.pinHistory[:0]
	f.pinTotal = 0
}

func (f *FrameInfo) recordPin(ts uint64) {
	if len(f.pinHistory) == maxPinHistory {
		copy(f.pinHistory, f.pinHistory[1:])
		f.pinHistory = f.pinHistory[:maxPinHistory-1]
	}
	f.pinHistory = append(f.pinHistory, ts)
	f.pinTotal++
}

// lastPin returns the most recent pin timestamp, 0 if never pinned.
func (f *FrameInfo) lastPin() uint64 {
	if len(f.pinHistory) == 0 {
		return 0
	}
	return f.pinHistory[len(f.pinHistory)-1]
}

// nthRecentPin returns the k-th most recent pin timestamp, or 0 when
// the frame has seen fewer than k pins.
func (f *FrameInfo) nthRecentPin(k int) uint64 {
	if k <= 0 || len(f.pinHistory) < k {
		return 0
	}
	return f.pinHistory[len(f.pinHistory)-k]
}

// PageID returns the page resident in the frame, InvalidPageID when empty.
func (f *FrameInfo) PageID() storage.PageID {
	return f.pageID
}

// PinCount returns the current pin count.
func (f *FrameInfo) PinCount() uint32 {
	return f.pinCount
}

// Dirty reports whether the frame holds unwritten changes.
func (f *FrameInfo) Dirty() bool {
	return f.dirty
}
