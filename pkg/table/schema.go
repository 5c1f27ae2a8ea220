// ABOUTME: Fixed-width table schemas and row encoding
// ABOUTME: INTEGER and CHAR(n) columns at precomputed offsets

package table

import (
	"encoding/binary"
	"fmt"
)

// ColumnType identifies a column's value type.
type ColumnType uint8

const (
	// Integer is a signed 64-bit integer, 8 bytes on the page.
	Integer ColumnType = iota + 1
	// Char is a fixed-length character column, null-padded to its
	// declared length.
	Char
)

// Column describes one column of a schema.
type Column struct {
	Name   string
	Type   ColumnType
	Length uint16 // declared length, Char only
}

func (c Column) width() uint16 {
	if c.Type == Integer {
		return 8
	}
	return c.Length
}

// Schema is an ordered list of fixed-width columns. Row size and value
// offsets are computed once at construction.
type Schema struct {
	columns []Column
	offsets []uint16
	rowSize uint16
}

// NewSchema builds a schema from its columns.
func NewSchema(columns ...Column) *Schema {
	s := &Schema{
		columns: columns,
		offsets: make([]uint16, len(columns)),
	}
	var off uint16
	for i, c := range columns {
		s.offsets[i] = off
		off += c.width()
	}
	s.rowSize = off
	return s
}

// Columns returns the schema's columns in order.
func (s *Schema) Columns() []Column {
	return s.columns
}

// RowSize returns the fixed encoded size of one row.
func (s *Schema) RowSize() int {
	return int(s.rowSize)
}

// Offset returns the byte offset of column i within an encoded row.
func (s *Schema) Offset(i int) int {
	return int(s.offsets[i])
}

// Value is one column value of a row.
type Value struct {
	Type ColumnType
	Int  int64
	Str  string
}

// NewIntValue creates an integer value.
func NewIntValue(i int64) Value {
	return Value{Type: Integer, Int: i}
}

// NewCharValue creates a character value.
func NewCharValue(s string) Value {
	return Value{Type: Char, Str: s}
}

// EncodeRow encodes values into the schema's fixed row layout. CHAR
// values longer than their column are rejected; shorter ones are
// null-padded.
func (s *Schema) EncodeRow(values []Value) ([]byte, error) {
	if len(values) != len(s.columns) {
		return nil, fmt.Errorf("table: row has %d values, schema has %d columns", len(values), len(s.columns))
	}
	row := make([]byte, s.rowSize)
	for i, v := range values {
		col := s.columns[i]
		if v.Type != col.Type {
			return nil, fmt.Errorf("table: column %s: value type %d, column type %d", col.Name, v.Type, col.Type)
		}
		off := int(s.offsets[i])
		switch col.Type {
		case Integer:
			binary.LittleEndian.PutUint64(row[off:], uint64(v.Int))
		case Char:
			if len(v.Str) > int(col.Length) {
				return nil, fmt.Errorf("table: column %s: value %q exceeds CHAR(%d)", col.Name, v.Str, col.Length)
			}
			copy(row[off:off+int(col.Length)], v.Str)
		}
	}
	return row, nil
}

// DecodeRow decodes an encoded row back into values. CHAR padding is
// stripped.
func (s *Schema) DecodeRow(row []byte) ([]Value, error) {
	if len(row) < int(s.rowSize) {
		return nil, fmt.Errorf("table: row is %d bytes, schema needs %d", len(row), s.rowSize)
	}
	values := make([]Value, len(s.columns))
	for i, col := range s.columns {
		off := int(s.offsets[i])
		switch col.Type {
		case Integer:
			values[i] = NewIntValue(int64(binary.LittleEndian.Uint64(row[off:])))
		case Char:
			raw := row[off : off+int(col.Length)]
			end := len(raw)
			for end > 0 && raw[end-1] == 0 {
				end--
			}
			values[i] = NewCharValue(string(raw[:end]))
		}
	}
	return values, nil
}
