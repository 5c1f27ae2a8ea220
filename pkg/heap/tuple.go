// ABOUTME: Tuple view over a record resident in the buffer pool
// ABOUTME: Valid only while the underlying page stays pinned

package heap

import (
	"github.com/jamal-zag/beedb/pkg/concurrency"
	"github.com/jamal-zag/beedb/pkg/storage"
)

// Tuple is a view of one record: its rid and the raw record bytes
// (MVCC header plus payload) inside a pinned frame. Callers that need
// the data past the matching unpin copy it out first.
type Tuple struct {
	RID    storage.RecordID
	Record []byte
}

// Metadata decodes the tuple's MVCC header.
func (t Tuple) Metadata() concurrency.Metadata {
	return concurrency.DecodeMetadata(t.Record)
}

// Payload returns the tuple's payload bytes, still backed by the frame.
func (t Tuple) Payload() []byte {
	return concurrency.Payload(t.Record)
}

// CopyPayload returns a heap-owned copy of the payload that outlives
// the pin.
func (t Tuple) CopyPayload() []byte {
	p := concurrency.Payload(t.Record)
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
