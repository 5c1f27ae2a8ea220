// ABOUTME: Read, write and scan sets tracked per transaction
// ABOUTME: Replayed by commit-time optimistic validation

package concurrency

import (
	"github.com/jamal-zag/beedb/pkg/storage"
)

// ReadSetItem records one visible read: the in-place rid of the
// logical row and the rid of the version actually read (equal when the
// current version was visible). Validation compares in-place rids.
type ReadSetItem struct {
	InPlaceRID storage.RecordID
	ReadRID    storage.RecordID
}

// WriteType classifies a write-set entry.
type WriteType uint8

const (
	// Inserted is a fresh row created by this transaction.
	Inserted WriteType = iota + 1
	// Updated is an in-place rewrite whose prior version moved to the
	// time-travel chain.
	Updated
	// Deleted is an end-stamped row.
	Deleted
)

// String returns the write type's name.
func (w WriteType) String() string {
	switch w {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// WriteSetItem records one write performed by a transaction.
type WriteSetItem struct {
	TableID       uint32
	InPlaceRID    storage.RecordID
	OldVersionRID storage.RecordID // time-travel copy, MaxRecordID for inserts
	Type          WriteType
	Size          int // written record size, payload only
}

// Predicate evaluates a row payload. A nil Predicate matches every row.
type Predicate func(payload []byte) bool

// ScanSetItem records one predicate scan over a table. At commit time
// the predicate is re-evaluated against concurrently committed writes
// to the table.
type ScanSetItem struct {
	TableID   uint32
	Predicate Predicate
}
