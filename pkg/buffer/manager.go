// ABOUTME: Buffer pool manager mapping page ids to in-memory frames
// ABOUTME: Pin/unpin protocol with pluggable victim selection

package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jamal-zag/beedb/internal/metrics"
	"github.com/jamal-zag/beedb/pkg/storage"
)

var (
	// ErrNoFreeFrame indicates no unpinned frame was available for replacement
	ErrNoFreeFrame = errors.New("buffer: no free frame available (all pinned)")

	// ErrPagePinned indicates the eviction candidate is still pinned
	ErrPagePinned = errors.New("buffer: evicted page is pinned")

	// ErrPageNotPinned indicates an unpin of a page with zero pin count
	ErrPageNotPinned = errors.New("buffer: page was not pinned")
)

// PageHandle is a pinned page. The page bytes are only valid until the
// matching Unpin; callers copy what they need to outlive it.
type PageHandle struct {
	ID   storage.PageID
	Data storage.Page

	mgr *Manager
}

// Unpin releases the pin, marking the page dirty when it was modified.
func (h *PageHandle) Unpin(dirty bool) error {
	return h.mgr.Unpin(h.ID, dirty)
}

// Manager keeps a bounded set of frames in memory and enforces the
// pin/unpin protocol. A single latch serializes frame-table access;
// page content is coordinated by pin counts and MVCC, not by the latch.
type Manager struct {
	latch     sync.Mutex
	disk      *storage.DiskManager
	frames    []storage.Page
	infos     []FrameInfo
	pageTable map[storage.PageID]int
	strategy  ReplacementStrategy
	pinSeq    uint64 // process-wide monotonic pin sequence
	evicted   uint64
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewManager creates a buffer pool with the given number of frames.
// A nil strategy defaults to LRU.
func NewManager(disk *storage.DiskManager, frameCount int, strategy ReplacementStrategy, log zerolog.Logger, m *metrics.Metrics) *Manager {
	if frameCount <= 0 {
		frameCount = 16
	}
	if strategy == nil {
		strategy = &LRUStrategy{}
	}
	mgr := &Manager{
		disk:      disk,
		frames:    make([]storage.Page, frameCount),
		infos:     make([]FrameInfo, frameCount),
		pageTable: make(map[storage.PageID]int, frameCount),
		strategy:  strategy,
		log:       log,
		metrics:   m,
	}
	for i := range mgr.frames {
		mgr.frames[i] = make(storage.Page, storage.PageSize)
		mgr.infos[i].reset()
	}
	return mgr
}

// SetReplacementStrategy installs a new victim selection strategy.
func (m *Manager) SetReplacementStrategy(s ReplacementStrategy) {
	m.latch.Lock()
	defer m.latch.Unlock()
	m.strategy = s
}

// Pin makes the page resident, increments its pin count and returns a
// handle to its bytes. On a miss a victim frame is chosen, flushed if
// dirty, and reused.
func (m *Manager) Pin(id storage.PageID) (*PageHandle, error) {
	m.latch.Lock()
	defer m.latch.Unlock()

	m.pinSeq++
	seq := m.pinSeq

	if idx, ok := m.pageTable[id]; ok {
		fi := &m.infos[idx]
		fi.pinCount++
		fi.recordPin(seq)
		fi.referenced = true
		m.strategy.OnPin(idx, seq)
		m.metrics.RecordPin(false)
		return &PageHandle{ID: id, Data: m.frames[idx], mgr: m}, nil
	}

	idx, err := m.takeFrame()
	if err != nil {
		return nil, err
	}

	if err := m.disk.Read(id, m.frames[idx]); err != nil {
		m.infos[idx].reset()
		return nil, err
	}

	fi := &m.infos[idx]
	fi.reset()
	fi.pageID = id
	fi.pinCount = 1
	fi.recordPin(seq)
	m.pageTable[id] = idx
	m.strategy.OnPin(idx, seq)
	m.metrics.RecordPin(true)
	return &PageHandle{ID: id, Data: m.frames[idx], mgr: m}, nil
}

// takeFrame returns the index of a frame ready for reuse, evicting an
// unpinned victim when no frame is free. Caller holds the latch.
func (m *Manager) takeFrame() (int, error) {
	for i := range m.infos {
		if !m.infos[i].occupied() {
			return i, nil
		}
	}

	victim, err := m.strategy.Victim(m.frameInfoViews())
	if err != nil {
		return -1, err
	}
	fi := &m.infos[victim]
	if fi.pinCount > 0 {
		return -1, fmt.Errorf("%w: page %d on frame %d", ErrPagePinned, fi.pageID, victim)
	}
	if fi.dirty {
		if err := m.disk.Write(fi.pageID, m.frames[victim]); err != nil {
			return -1, err
		}
		fi.dirty = false
		m.metrics.RecordFlush()
	}
	m.log.Debug().
		Uint32("page", uint32(fi.pageID)).
		Int("frame", victim).
		Msg("frame evicted")
	delete(m.pageTable, fi.pageID)
	fi.reset()
	m.evicted++
	m.metrics.RecordEviction()
	return victim, nil
}

func (m *Manager) frameInfoViews() []*FrameInfo {
	views := make([]*FrameInfo, len(m.infos))
	for i := range m.infos {
		views[i] = &m.infos[i]
	}
	return views
}

// Unpin decrements the pin count of the page's frame. A true dirty
// flag is ORed into the frame's dirty bit and never cleared here.
func (m *Manager) Unpin(id storage.PageID, dirty bool) error {
	m.latch.Lock()
	defer m.latch.Unlock()

	idx, ok := m.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: page %d is not resident", ErrPageNotPinned, id)
	}
	fi := &m.infos[idx]
	if fi.pinCount == 0 {
		return fmt.Errorf("%w: page %d", ErrPageNotPinned, id)
	}
	fi.pinCount--
	if dirty {
		fi.dirty = true
	}
	return nil
}

// Allocate grows the page file by one page of the given kind and
// returns it pinned.
func (m *Manager) Allocate(kind storage.PageKind) (*PageHandle, error) {
	id, err := m.disk.Allocate(kind)
	if err != nil {
		return nil, err
	}
	return m.Pin(id)
}

// Flush writes every dirty, unpinned frame through to disk and clears
// its dirty bit.
func (m *Manager) Flush() error {
	m.latch.Lock()
	defer m.latch.Unlock()

	for i := range m.infos {
		fi := &m.infos[i]
		if !fi.occupied() || !fi.dirty || fi.pinCount > 0 {
			continue
		}
		if err := m.disk.Write(fi.pageID, m.frames[i]); err != nil {
			return err
		}
		fi.dirty = false
		m.metrics.RecordFlush()
	}
	return nil
}

// EvictedFrames returns the number of successful evictions so far.
func (m *Manager) EvictedFrames() uint64 {
	m.latch.Lock()
	defer m.latch.Unlock()
	return m.evicted
}

// IsResident reports whether the page currently occupies a frame.
func (m *Manager) IsResident(id storage.PageID) bool {
	m.latch.Lock()
	defer m.latch.Unlock()
	_, ok := m.pageTable[id]
	return ok
}

// Close flushes every dirty frame, pinned or not, and releases the pool.
func (m *Manager) Close() error {
	m.latch.Lock()
	defer m.latch.Unlock()

	var firstErr error
	for i := range m.infos {
		fi := &m.infos[i]
		if !fi.occupied() || !fi.dirty {
			continue
		}
		if err := m.disk.Write(fi.pageID, m.frames[i]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fi.dirty = false
		m.metrics.RecordFlush()
	}
	return firstErr
}
