// ABOUTME: Packed MVCC timestamps
// ABOUTME: High 63 bits count, low bit is the committed flag

package concurrency

import "fmt"

// Timestamp packs a monotonically assigned counter into the high 63
// bits and the committed flag into the low bit. An uncommitted stamp
// carries the writing transaction's begin time in its counter and is
// promoted in place at commit.
type Timestamp uint64

// Infinity is the sentinel (time=0, committed) end timestamp of a
// record version that has not been superseded.
const Infinity = Timestamp(1)

// NewTimestamp builds a timestamp from its parts.
func NewTimestamp(time uint64, committed bool) Timestamp {
	ts := Timestamp(time << 1)
	if committed {
		ts |= 1
	}
	return ts
}

// Uncommitted returns the uncommitted form carrying a transaction's
// begin time.
func Uncommitted(txTime uint64) Timestamp {
	return NewTimestamp(txTime, false)
}

// Time returns the counter part.
func (t Timestamp) Time() uint64 {
	return uint64(t) >> 1
}

// Committed reports whether the committed flag is set.
func (t Timestamp) Committed() bool {
	return t&1 == 1
}

// Before orders timestamps by counter only; the committed flag does
// not participate in ordering.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Time() < other.Time()
}

// String renders the stamp for logs and test failures.
func (t Timestamp) String() string {
	if t == Infinity {
		return "inf"
	}
	if t.Committed() {
		return fmt.Sprintf("%d", t.Time())
	}
	return fmt.Sprintf("%d?", t.Time())
}
