// ABOUTME: Logical table metadata
// ABOUTME: Tracks the in-place and time-travel page chains

package table

import (
	"sync"

	"github.com/jamal-zag/beedb/pkg/storage"
)

// Table is the logical metadata of one table. Records live on two
// singly-linked page chains: the in-place chain holds current
// versions, the time-travel chain holds prior versions created by
// updates and deletes.
type Table struct {
	ID     uint32
	Schema *Schema

	mu                    sync.Mutex
	firstPageID           storage.PageID
	lastPageID            storage.PageID
	firstTimeTravelPageID storage.PageID
	lastTimeTravelPageID  storage.PageID
}

// NewTable creates a table with empty page chains.
func NewTable(id uint32, schema *Schema) *Table {
	return &Table{
		ID:                    id,
		Schema:                schema,
		firstPageID:           storage.InvalidPageID,
		lastPageID:            storage.InvalidPageID,
		firstTimeTravelPageID: storage.InvalidPageID,
		lastTimeTravelPageID:  storage.InvalidPageID,
	}
}

// FirstPageID returns the head of the in-place chain.
func (t *Table) FirstPageID() storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstPageID
}

// LastPageID returns the tail of the in-place chain.
func (t *Table) LastPageID() storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPageID
}

// FirstTimeTravelPageID returns the head of the time-travel chain.
func (t *Table) FirstTimeTravelPageID() storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstTimeTravelPageID
}

// LastTimeTravelPageID returns the tail of the time-travel chain.
func (t *Table) LastTimeTravelPageID() storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTimeTravelPageID
}

// AppendPage records a freshly allocated page as the new tail of the
// in-place chain and returns the previous tail (InvalidPageID when the
// chain was empty) so the caller can link it.
func (t *Table) AppendPage(id storage.PageID) storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.lastPageID
	if t.firstPageID == storage.InvalidPageID {
		t.firstPageID = id
	}
	t.lastPageID = id
	return prev
}

// AppendTimeTravelPage records a new tail of the time-travel chain and
// returns the previous tail.
func (t *Table) AppendTimeTravelPage(id storage.PageID) storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.lastTimeTravelPageID
	if t.firstTimeTravelPageID == storage.InvalidPageID {
		t.firstTimeTravelPageID = id
	}
	t.lastTimeTravelPageID = id
	return prev
}
