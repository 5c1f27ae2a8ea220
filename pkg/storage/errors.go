// ABOUTME: Storage layer error values
// ABOUTME: Disk failures are fatal to the calling operation

package storage

import "errors"

var (
	// ErrDiskIO indicates a failed read, write or seek on the page file
	ErrDiskIO = errors.New("storage: disk i/o failed")

	// ErrPageOutOfRange indicates a read of a page that was never allocated
	ErrPageOutOfRange = errors.New("storage: page id beyond page count")

	// ErrPageFull indicates a record does not fit into a page's free space
	ErrPageFull = errors.New("storage: not enough free space on page")

	// ErrSlotFree indicates an access to a slot that holds no record
	ErrSlotFree = errors.New("storage: slot is free")
)
