// ABOUTME: Metadata page accessors (page 0 of the page file)
// ABOUTME: Persists the next transaction timestamp across restarts

package storage

import "encoding/binary"

const offsetNextTimestamp = 4 // u64 LE, right after the next-page link

func initMetaPage(p Page) {
	binary.LittleEndian.PutUint64(p[offsetNextTimestamp:], 0)
}

// MetaPage is a view over the engine metadata page.
type MetaPage struct {
	p Page
}

// AsMetaPage interprets page bytes as the metadata page.
func AsMetaPage(p Page) MetaPage {
	return MetaPage{p: p}
}

// NextTimestamp returns the persisted next transaction timestamp.
func (mp MetaPage) NextTimestamp() uint64 {
	return binary.LittleEndian.Uint64(mp.p[offsetNextTimestamp:])
}

// SetNextTimestamp stores the next transaction timestamp.
func (mp MetaPage) SetNextTimestamp(ts uint64) {
	binary.LittleEndian.PutUint64(mp.p[offsetNextTimestamp:], ts)
}
