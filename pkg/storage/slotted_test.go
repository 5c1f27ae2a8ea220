// ABOUTME: Tests for the slotted record page layout
// ABOUTME: Covers allocation, freeing, slot reuse and the free-space invariant

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestSlottedInsertAndRead(t *testing.T) {
	rp := AsRecordPage(NewPage(KindRecord))

	slot, err := rp.InsertRecord([]byte("first"))
	if err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}
	if slot != 0 {
		t.Errorf("Expected slot 0, got %d", slot)
	}

	slot2, err := rp.InsertRecord([]byte("second"))
	if err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}
	if slot2 != 1 {
		t.Errorf("Expected slot 1, got %d", slot2)
	}

	rec, err := rp.Record(0)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !bytes.Equal(rec, []byte("first")) {
		t.Errorf("Expected first, got %q", rec)
	}
	rec, err = rp.Record(1)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !bytes.Equal(rec, []byte("second")) {
		t.Errorf("Expected second, got %q", rec)
	}
}

func TestSlottedRecordsGrowDownward(t *testing.T) {
	p := NewPage(KindRecord)
	rp := AsRecordPage(p)

	if _, err := rp.InsertRecord(make([]byte, 100)); err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}
	if fsp := rp.freeSpacePointer(); fsp != PageSize-100 {
		t.Errorf("Free space pointer = %d, want %d", fsp, PageSize-100)
	}
	if _, err := rp.InsertRecord(make([]byte, 50)); err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}
	if fsp := rp.freeSpacePointer(); fsp != PageSize-150 {
		t.Errorf("Free space pointer = %d, want %d", fsp, PageSize-150)
	}
}

func TestSlottedFreeSpaceInvariant(t *testing.T) {
	rp := AsRecordPage(NewPage(KindRecord))

	for i := 0; ; i++ {
		before := rp.FreeSpace()
		if before < 0 {
			t.Fatalf("Free space went negative: %d", before)
		}
		_, err := rp.InsertRecord([]byte(fmt.Sprintf("record-%04d", i)))
		if err != nil {
			if !errors.Is(err, ErrPageFull) {
				t.Fatalf("Unexpected error: %v", err)
			}
			if before >= len("record-0000")+slotEntrySize {
				t.Fatalf("ErrPageFull with %d bytes free", before)
			}
			break
		}
		after := rp.FreeSpace()
		if before-after != len("record-0000")+slotEntrySize {
			t.Errorf("Insert %d consumed %d bytes", i, before-after)
		}
	}
}

func TestSlottedFreeAndReuse(t *testing.T) {
	rp := AsRecordPage(NewPage(KindRecord))

	if _, err := rp.InsertRecord([]byte("aaaaaaaa")); err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}
	if _, err := rp.InsertRecord([]byte("bbbbbbbb")); err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}

	if err := rp.FreeSlot(0); err != nil {
		t.Fatalf("FreeSlot failed: %v", err)
	}
	if !rp.IsFree(0) {
		t.Error("Slot 0 should be free")
	}
	if _, err := rp.Record(0); !errors.Is(err, ErrSlotFree) {
		t.Errorf("Expected ErrSlotFree, got %v", err)
	}

	// Same-size record reuses the freed slot without consuming space
	space := rp.FreeSpace()
	slot, err := rp.InsertRecord([]byte("cccccccc"))
	if err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}
	if slot != 0 {
		t.Errorf("Expected reuse of slot 0, got %d", slot)
	}
	if rp.FreeSpace() != space {
		t.Errorf("Slot reuse changed free space from %d to %d", space, rp.FreeSpace())
	}
	rec, err := rp.Record(0)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if string(rec) != "cccccccc" {
		t.Errorf("Expected cccccccc, got %q", rec)
	}
}

func TestRecordIDPacking(t *testing.T) {
	rid := NewRecordID(1234567, 999)
	if rid.PageID() != 1234567 {
		t.Errorf("PageID = %d", rid.PageID())
	}
	if rid.Slot() != 999 {
		t.Errorf("Slot = %d", rid.Slot())
	}
	if rid == MaxRecordID {
		t.Error("Packed rid collides with the sentinel")
	}
	if MaxRecordID.String() != "(none)" {
		t.Errorf("Sentinel renders as %s", MaxRecordID.String())
	}
}
