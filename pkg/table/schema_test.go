// ABOUTME: Tests for schemas and the fixed-width row codec
// ABOUTME: Offsets, padding and type mismatches

package table

import (
	"testing"

	"github.com/jamal-zag/beedb/pkg/storage"
)

func testSchema() *Schema {
	return NewSchema(
		Column{Name: "id", Type: Integer},
		Column{Name: "name", Type: Char, Length: 8},
		Column{Name: "score", Type: Integer},
	)
}

func TestSchemaOffsets(t *testing.T) {
	s := testSchema()
	if s.RowSize() != 24 {
		t.Errorf("RowSize = %d, want 24", s.RowSize())
	}
	wantOffsets := []int{0, 8, 16}
	for i, want := range wantOffsets {
		if got := s.Offset(i); got != want {
			t.Errorf("Offset(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestRowRoundTrip(t *testing.T) {
	s := testSchema()
	in := []Value{NewIntValue(-42), NewCharValue("bee"), NewIntValue(100)}

	row, err := s.EncodeRow(in)
	if err != nil {
		t.Fatalf("EncodeRow failed: %v", err)
	}
	if len(row) != s.RowSize() {
		t.Fatalf("Encoded row is %d bytes", len(row))
	}

	out, err := s.DecodeRow(row)
	if err != nil {
		t.Fatalf("DecodeRow failed: %v", err)
	}
	if out[0].Int != -42 {
		t.Errorf("id = %d", out[0].Int)
	}
	if out[1].Str != "bee" {
		t.Errorf("name = %q, padding not stripped", out[1].Str)
	}
	if out[2].Int != 100 {
		t.Errorf("score = %d", out[2].Int)
	}
}

func TestEncodeRejectsBadRows(t *testing.T) {
	s := testSchema()

	if _, err := s.EncodeRow([]Value{NewIntValue(1)}); err == nil {
		t.Error("Short row accepted")
	}
	if _, err := s.EncodeRow([]Value{NewCharValue("x"), NewCharValue("y"), NewIntValue(1)}); err == nil {
		t.Error("Type mismatch accepted")
	}
	if _, err := s.EncodeRow([]Value{NewIntValue(1), NewCharValue("much too long"), NewIntValue(2)}); err == nil {
		t.Error("Oversized CHAR accepted")
	}
}

func TestTableChains(t *testing.T) {
	tbl := NewTable(3, testSchema())
	if tbl.FirstPageID() != storage.InvalidPageID || tbl.LastPageID() != storage.InvalidPageID {
		t.Fatal("Fresh table has non-empty chain")
	}

	if prev := tbl.AppendPage(10); prev != storage.InvalidPageID {
		t.Errorf("First append returned prev %d", prev)
	}
	if prev := tbl.AppendPage(11); prev != 10 {
		t.Errorf("Second append returned prev %d", prev)
	}
	if tbl.FirstPageID() != 10 || tbl.LastPageID() != 11 {
		t.Errorf("Chain = (%d, %d)", tbl.FirstPageID(), tbl.LastPageID())
	}

	if prev := tbl.AppendTimeTravelPage(20); prev != storage.InvalidPageID {
		t.Errorf("First time-travel append returned prev %d", prev)
	}
	if tbl.FirstTimeTravelPageID() != 20 || tbl.LastTimeTravelPageID() != 20 {
		t.Error("Time-travel chain not tracked")
	}

	// The two chains are independent
	if tbl.LastPageID() != 11 {
		t.Error("Time-travel append moved the in-place chain")
	}
}
