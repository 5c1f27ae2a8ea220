// ABOUTME: Slotted record page layout over raw page bytes
// ABOUTME: Slot directory grows up from the header, records grow down

package storage

import (
	"encoding/binary"
	"fmt"
)

// Record page layout, offsets relative to the page start:
//
//	[0..4)  next page id
//	[4..6)  slot count (u16 LE)
//	[6..8)  free space pointer (u16 LE)
//	[8..)   slot directory, 4 bytes per slot: u16 start, u16 (size<<1 | free)
//
// Records grow downward from PageSize toward the slot directory.
const (
	offsetSlotCount = 4
	offsetFreeSpace = 6
	recordHeader    = 8
	slotEntrySize   = 4
)

func initRecordPage(p Page) {
	binary.LittleEndian.PutUint16(p[offsetSlotCount:], 0)
	binary.LittleEndian.PutUint16(p[offsetFreeSpace:], PageSize)
}

// RecordPage is a slotted-page view over raw page bytes. It never owns
// the bytes; mutations go straight into the underlying frame.
type RecordPage struct {
	p Page
}

// AsRecordPage interprets page bytes as a slotted record page.
func AsRecordPage(p Page) RecordPage {
	return RecordPage{p: p}
}

// SlotCount returns the number of slots in the directory, free ones included.
func (rp RecordPage) SlotCount() uint16 {
	return binary.LittleEndian.Uint16(rp.p[offsetSlotCount:])
}

func (rp RecordPage) setSlotCount(n uint16) {
	binary.LittleEndian.PutUint16(rp.p[offsetSlotCount:], n)
}

func (rp RecordPage) freeSpacePointer() uint16 {
	return binary.LittleEndian.Uint16(rp.p[offsetFreeSpace:])
}

func (rp RecordPage) setFreeSpacePointer(fsp uint16) {
	binary.LittleEndian.PutUint16(rp.p[offsetFreeSpace:], fsp)
}

func (rp RecordPage) slot(i uint16) (start uint16, size uint16, free bool) {
	pos := recordHeader + int(i)*slotEntrySize
	start = binary.LittleEndian.Uint16(rp.p[pos:])
	packed := binary.LittleEndian.Uint16(rp.p[pos+2:])
	return start, packed >> 1, packed&1 == 1
}

func (rp RecordPage) setSlot(i uint16, start, size uint16, free bool) {
	pos := recordHeader + int(i)*slotEntrySize
	packed := size << 1
	if free {
		packed |= 1
	}
	binary.LittleEndian.PutUint16(rp.p[pos:], start)
	binary.LittleEndian.PutUint16(rp.p[pos+2:], packed)
}

// FreeSpace returns the number of bytes between the slot directory and
// the record area. The invariant FreeSpace() >= 0 holds for every
// well-formed page.
func (rp RecordPage) FreeSpace() int {
	return int(rp.freeSpacePointer()) - recordHeader - int(rp.SlotCount())*slotEntrySize
}

// CanFit reports whether a record of the given size can be placed on
// this page, either into a free slot of the same size or into fresh
// space together with a new slot entry.
func (rp RecordPage) CanFit(size int) bool {
	n := rp.SlotCount()
	for i := uint16(0); i < n; i++ {
		if _, slotSize, free := rp.slot(i); free && int(slotSize) == size {
			return true
		}
	}
	return rp.FreeSpace() >= size+slotEntrySize
}

// AllocateRecord reserves space for a record of the given size and
// returns the slot index together with a writable view of the record
// bytes. Free slots of the same size are reused before fresh space is
// carved out. Fails with ErrPageFull when neither fits.
func (rp RecordPage) AllocateRecord(size int) (uint16, []byte, error) {
	n := rp.SlotCount()
	for i := uint16(0); i < n; i++ {
		if start, slotSize, free := rp.slot(i); free && int(slotSize) == size {
			rp.setSlot(i, start, slotSize, false)
			return i, rp.p[start : int(start)+size], nil
		}
	}

	if rp.FreeSpace() < size+slotEntrySize {
		return 0, nil, fmt.Errorf("%w: need %d, have %d", ErrPageFull, size+slotEntrySize, rp.FreeSpace())
	}

	start := rp.freeSpacePointer() - uint16(size)
	rp.setFreeSpacePointer(start)
	rp.setSlot(n, start, uint16(size), false)
	rp.setSlotCount(n + 1)
	return n, rp.p[start : int(start)+size], nil
}

// InsertRecord copies data into a freshly allocated record and returns
// its slot index.
func (rp RecordPage) InsertRecord(data []byte) (uint16, error) {
	slot, buf, err := rp.AllocateRecord(len(data))
	if err != nil {
		return 0, err
	}
	copy(buf, data)
	return slot, nil
}

// Record returns a view of the record bytes in the given slot.
func (rp RecordPage) Record(i uint16) ([]byte, error) {
	if i >= rp.SlotCount() {
		return nil, fmt.Errorf("%w: slot %d of %d", ErrSlotFree, i, rp.SlotCount())
	}
	start, size, free := rp.slot(i)
	if free {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotFree, i)
	}
	return rp.p[start : int(start)+int(size)], nil
}

// RecordSize returns the stored size of the record in the given slot,
// whether or not the slot is free.
func (rp RecordPage) RecordSize(i uint16) int {
	_, size, _ := rp.slot(i)
	return int(size)
}

// IsFree reports whether the given slot holds no record.
func (rp RecordPage) IsFree(i uint16) bool {
	if i >= rp.SlotCount() {
		return true
	}
	_, _, free := rp.slot(i)
	return free
}

// FreeSlot marks the slot free. The record bytes stay in place until
// the slot is reused; the stored size is kept so equal-sized records
// can take the space over.
func (rp RecordPage) FreeSlot(i uint16) error {
	if i >= rp.SlotCount() {
		return fmt.Errorf("%w: slot %d of %d", ErrSlotFree, i, rp.SlotCount())
	}
	start, size, _ := rp.slot(i)
	rp.setSlot(i, start, size, true)
	return nil
}
