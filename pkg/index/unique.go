// ABOUTME: Unique B+Tree index mapping a key to a single page id
// ABOUTME: Put overwrites, point lookups only

package index

import (
	"github.com/jamal-zag/beedb/internal/metrics"
	"github.com/jamal-zag/beedb/pkg/storage"
)

// Unique is an ordered map from signed 64-bit keys to one page id
// each. Writers are serialized externally; readers may not overlap
// writers.
type Unique struct {
	t       tree[storage.PageID]
	metrics *metrics.Metrics
}

// NewUnique creates an empty unique index.
func NewUnique(m *metrics.Metrics) *Unique {
	return &Unique{metrics: m}
}

// Put stores the page id for key, overwriting any previous value.
func (u *Unique) Put(key int64, id storage.PageID) {
	u.t.put(key, func(v *storage.PageID, existed bool) {
		*v = id
	})
	u.metrics.RecordIndexPut(u.t.height)
}

// Get returns the page id stored for key.
func (u *Unique) Get(key int64) (storage.PageID, bool) {
	v := u.t.get(key)
	if v == nil {
		return storage.InvalidPageID, false
	}
	return *v, true
}

// Len returns the number of keys in the index.
func (u *Unique) Len() int {
	return u.t.size
}

// Height returns the current tree height.
func (u *Unique) Height() int {
	return u.t.height
}
