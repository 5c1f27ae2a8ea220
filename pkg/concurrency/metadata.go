// ABOUTME: Per-record MVCC metadata prepended to every stored record
// ABOUTME: Timestamp words transition under a striped lock table

package concurrency

import (
	"encoding/binary"
	"sync"

	"github.com/jamal-zag/beedb/pkg/storage"
)

// MetadataSize is the fixed size of the MVCC header preceding every
// record payload.
const MetadataSize = 32

// Record header layout, offsets relative to the record start:
//
//	[0..8)   original rid
//	[8..16)  begin timestamp
//	[16..24) end timestamp
//	[24..32) next rid in the version chain (MaxRecordID terminates)
const (
	offsetOriginal = 0
	offsetBegin    = 8
	offsetEnd      = 16
	offsetNext     = 24
)

// Metadata is the decoded MVCC header of one record.
type Metadata struct {
	Original    storage.RecordID
	Begin       Timestamp
	End         Timestamp
	NextVersion storage.RecordID
}

// EncodeMetadata writes the header into the first MetadataSize bytes
// of rec.
func EncodeMetadata(rec []byte, m Metadata) {
	binary.LittleEndian.PutUint64(rec[offsetOriginal:], uint64(m.Original))
	binary.LittleEndian.PutUint64(rec[offsetBegin:], uint64(m.Begin))
	binary.LittleEndian.PutUint64(rec[offsetEnd:], uint64(m.End))
	binary.LittleEndian.PutUint64(rec[offsetNext:], uint64(m.NextVersion))
}

// DecodeMetadata reads the header from the first MetadataSize bytes
// of rec.
func DecodeMetadata(rec []byte) Metadata {
	return Metadata{
		Original:    storage.RecordID(binary.LittleEndian.Uint64(rec[offsetOriginal:])),
		Begin:       Timestamp(binary.LittleEndian.Uint64(rec[offsetBegin:])),
		End:         Timestamp(binary.LittleEndian.Uint64(rec[offsetEnd:])),
		NextVersion: storage.RecordID(binary.LittleEndian.Uint64(rec[offsetNext:])),
	}
}

// Payload returns the record bytes after the MVCC header.
func Payload(rec []byte) []byte {
	return rec[MetadataSize:]
}

// Timestamp words sit at arbitrary offsets inside slotted pages, so
// sync/atomic cannot touch them. Transitions instead run under a
// striped lock table keyed by record id; readers of the same record
// take the same stripe and observe promotions atomically.
const timestampStripes = 64

var tsLocks [timestampStripes]sync.Mutex

func stripe(rid storage.RecordID) *sync.Mutex {
	h := uint64(rid)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	return &tsLocks[h%timestampStripes]
}

// LoadTimestamps reads a record's begin and end stamps consistently.
func LoadTimestamps(rid storage.RecordID, rec []byte) (begin, end Timestamp) {
	mu := stripe(rid)
	mu.Lock()
	defer mu.Unlock()
	begin = Timestamp(binary.LittleEndian.Uint64(rec[offsetBegin:]))
	end = Timestamp(binary.LittleEndian.Uint64(rec[offsetEnd:]))
	return begin, end
}

// CompareAndSwapBegin transitions the record's begin stamp from old to
// new; it reports whether the stamp matched.
func CompareAndSwapBegin(rid storage.RecordID, rec []byte, old, new Timestamp) bool {
	return casWord(rid, rec[offsetBegin:offsetBegin+8], old, new)
}

// CompareAndSwapEnd transitions the record's end stamp from old to
// new; it reports whether the stamp matched.
func CompareAndSwapEnd(rid storage.RecordID, rec []byte, old, new Timestamp) bool {
	return casWord(rid, rec[offsetEnd:offsetEnd+8], old, new)
}

func casWord(rid storage.RecordID, word []byte, old, new Timestamp) bool {
	mu := stripe(rid)
	mu.Lock()
	defer mu.Unlock()
	if Timestamp(binary.LittleEndian.Uint64(word)) != old {
		return false
	}
	binary.LittleEndian.PutUint64(word, uint64(new))
	return true
}
