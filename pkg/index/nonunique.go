// ABOUTME: Non-unique B+Tree index mapping a key to a set of page ids
// ABOUTME: Supports inclusive range queries over the leaf chain

package index

import (
	"github.com/jamal-zag/beedb/internal/metrics"
	"github.com/jamal-zag/beedb/pkg/storage"
)

// PageSet is an unordered set of page ids with unique-value semantics.
type PageSet map[storage.PageID]struct{}

// Contains reports membership.
func (s PageSet) Contains(id storage.PageID) bool {
	_, ok := s[id]
	return ok
}

// NonUnique is an ordered map from signed 64-bit keys to sets of page
// ids. Writers are serialized externally.
type NonUnique struct {
	t       tree[PageSet]
	metrics *metrics.Metrics
}

// NewNonUnique creates an empty non-unique index.
func NewNonUnique(m *metrics.Metrics) *NonUnique {
	return &NonUnique{metrics: m}
}

// Put adds the page id to the set stored for key.
func (n *NonUnique) Put(key int64, id storage.PageID) {
	n.t.put(key, func(v *PageSet, existed bool) {
		if !existed {
			*v = make(PageSet, 1)
		}
		(*v)[id] = struct{}{}
	})
	n.metrics.RecordIndexPut(n.t.height)
}

// Get returns the set stored for key. The returned set is shared with
// the index; callers must not modify it.
func (n *NonUnique) Get(key int64) (PageSet, bool) {
	v := n.t.get(key)
	if v == nil {
		return nil, false
	}
	return *v, true
}

// GetRange returns the union of the sets stored for every key in
// [from, to], and whether any key was found.
func (n *NonUnique) GetRange(from, to int64) (PageSet, bool) {
	out := make(PageSet)
	n.t.scanRange(from, to, func(_ int64, v PageSet) {
		for id := range v {
			out[id] = struct{}{}
		}
	})
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Len returns the number of distinct keys in the index.
func (n *NonUnique) Len() int {
	return n.t.size
}

// Height returns the current tree height.
func (n *NonUnique) Height() int {
	return n.t.height
}
