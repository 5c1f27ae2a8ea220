// ABOUTME: Fixed-size page type shared by disk, buffer and record layers
// ABOUTME: Pages chain through a next-page link in their first bytes

package storage

import (
	"encoding/binary"
)

// PageSize is the fixed size of every page on disk and in memory.
const PageSize = 4096

// PageID identifies a page by its position in the page file.
type PageID uint32

// InvalidPageID is the sentinel for "no page". It terminates page chains.
const InvalidPageID = PageID(^uint32(0))

// PageKind selects the default content written into a freshly
// allocated page.
type PageKind uint8

const (
	// KindRecord is a slotted record page.
	KindRecord PageKind = iota + 1
	// KindMetadata is the engine metadata page (page 0).
	KindMetadata
)

// Byte offsets shared by every page kind.
const (
	offsetNextPage = 0 // u32, InvalidPageID terminates the chain
	pageLinkSize   = 4
)

// Page is one page worth of bytes. It is always exactly PageSize long.
type Page []byte

// NewPage returns a default-initialized page of the given kind.
func NewPage(kind PageKind) Page {
	p := make(Page, PageSize)
	p.Reset(kind)
	return p
}

// Reset rewrites the page as a default-initialized page of the given kind.
func (p Page) Reset(kind PageKind) {
	clear(p)
	p.SetNextPageID(InvalidPageID)
	switch kind {
	case KindRecord:
		initRecordPage(p)
	case KindMetadata:
		initMetaPage(p)
	}
}

// NextPageID returns the id of the next page in this page's chain.
func (p Page) NextPageID() PageID {
	return PageID(binary.LittleEndian.Uint32(p[offsetNextPage:]))
}

// SetNextPageID links this page to its successor.
func (p Page) SetNextPageID(id PageID) {
	binary.LittleEndian.PutUint32(p[offsetNextPage:], uint32(id))
}
