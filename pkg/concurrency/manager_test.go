// ABOUTME: Tests for the transaction manager
// ABOUTME: Visibility rules, optimistic validation and rollback

package concurrency

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jamal-zag/beedb/pkg/storage"
)

// fakeStore simulates the record layer in memory.
type fakeStore struct {
	begins   map[storage.RecordID]Timestamp
	ends     map[storage.RecordID]Timestamp
	payloads map[storage.RecordID][]byte
	removed  []storage.RecordID
	restored map[storage.RecordID]storage.RecordID // in-place -> old version
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		begins:   make(map[storage.RecordID]Timestamp),
		ends:     make(map[storage.RecordID]Timestamp),
		payloads: make(map[storage.RecordID][]byte),
		restored: make(map[storage.RecordID]storage.RecordID),
	}
}

func (s *fakeStore) addRecord(rid storage.RecordID, begin, end Timestamp, payload []byte) {
	s.begins[rid] = begin
	s.ends[rid] = end
	s.payloads[rid] = payload
}

func (s *fakeStore) CompareAndSetBegin(rid storage.RecordID, old, new Timestamp) (bool, error) {
	if s.begins[rid] != old {
		return false, nil
	}
	s.begins[rid] = new
	return true, nil
}

func (s *fakeStore) CompareAndSetEnd(rid storage.RecordID, old, new Timestamp) (bool, error) {
	if s.ends[rid] != old {
		return false, nil
	}
	s.ends[rid] = new
	return true, nil
}

func (s *fakeStore) RemoveRow(rid storage.RecordID) error {
	s.removed = append(s.removed, rid)
	delete(s.begins, rid)
	delete(s.ends, rid)
	delete(s.payloads, rid)
	return nil
}

func (s *fakeStore) RestoreRow(inPlace, oldVersion storage.RecordID) error {
	s.restored[inPlace] = oldVersion
	s.payloads[inPlace] = s.payloads[oldVersion]
	s.ends[inPlace] = Infinity
	return nil
}

func (s *fakeStore) ReadPayload(rid storage.RecordID) ([]byte, error) {
	p, ok := s.payloads[rid]
	if !ok {
		return nil, errors.New("no such record")
	}
	return p, nil
}

func newTestManager() (*Manager, *fakeStore) {
	store := newFakeStore()
	return NewManager(store, zerolog.Nop(), nil), store
}

func intPayload(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func TestTimestampMonotonicity(t *testing.T) {
	m, _ := newTestManager()
	var prev uint64
	for i := 0; i < 100; i++ {
		txn := m.NewTransaction(Serializable)
		if ts := txn.BeginTimestamp().Time(); ts <= prev {
			t.Fatalf("Begin timestamp %d not after %d", ts, prev)
		} else {
			prev = ts
		}
		if !txn.BeginTimestamp().Committed() {
			t.Fatal("Begin timestamp must carry the committed flag")
		}
	}
}

func TestVisibilityRules(t *testing.T) {
	m, _ := newTestManager()
	txn := m.NewTransaction(Serializable) // begin time 2
	self := txn.BeginTimestamp().Time()

	cases := []struct {
		name    string
		begin   Timestamp
		end     Timestamp
		visible bool
	}{
		{"committed before, open end", NewTimestamp(self-1, true), Infinity, true},
		{"committed at begin, open end", NewTimestamp(self, true), Infinity, true},
		{"committed after begin", NewTimestamp(self+1, true), Infinity, false},
		{"own uncommitted write", Uncommitted(self), Infinity, true},
		{"foreign uncommitted write", Uncommitted(self + 5), Infinity, false},
		{"ended after begin", NewTimestamp(self-1, true), NewTimestamp(self+1, true), true},
		{"ended at begin", NewTimestamp(self-1, true), NewTimestamp(self, true), false},
		{"foreign uncommitted delete", NewTimestamp(self-1, true), Uncommitted(self + 5), true},
		{"own uncommitted delete", NewTimestamp(self-1, true), Uncommitted(self), false},
	}
	for _, c := range cases {
		if got := IsVisible(txn, c.begin, c.end); got != c.visible {
			t.Errorf("%s: visible = %v, want %v", c.name, got, c.visible)
		}
	}
}

func TestCommitPromotesStamps(t *testing.T) {
	m, store := newTestManager()
	txn := m.NewTransaction(Serializable)
	self := txn.BeginTimestamp().Time()

	rid := storage.NewRecordID(5, 0)
	store.addRecord(rid, Uncommitted(self), Infinity, intPayload(1))
	txn.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: rid, OldVersionRID: storage.MaxRecordID, Type: Inserted, Size: 8})

	if err := m.Commit(txn); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !txn.Committed() {
		t.Fatal("Transaction not marked committed")
	}

	begin := store.begins[rid]
	if !begin.Committed() {
		t.Error("Begin stamp was not promoted")
	}
	if begin.Time() != txn.CommitTimestamp().Time() {
		t.Errorf("Begin time %d, commit time %d", begin.Time(), txn.CommitTimestamp().Time())
	}
}

func TestCommitOnDeadTransaction(t *testing.T) {
	m, _ := newTestManager()
	txn := m.NewTransaction(Serializable)
	if err := m.Abort(txn); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if err := m.Commit(txn); !errors.Is(err, ErrTransactionDisabled) {
		t.Errorf("Expected ErrTransactionDisabled, got %v", err)
	}
	// Abort is idempotent
	if err := m.Abort(txn); err != nil {
		t.Errorf("Second abort failed: %v", err)
	}
}

func TestAbortUndoesWrites(t *testing.T) {
	m, store := newTestManager()
	txn := m.NewTransaction(Serializable)
	self := txn.BeginTimestamp().Time()

	inserted := storage.NewRecordID(1, 0)
	store.addRecord(inserted, Uncommitted(self), Infinity, intPayload(1))
	txn.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: inserted, OldVersionRID: storage.MaxRecordID, Type: Inserted, Size: 8})

	updated := storage.NewRecordID(2, 0)
	oldVersion := storage.NewRecordID(9, 0)
	store.addRecord(updated, Uncommitted(self), Infinity, intPayload(20))
	store.addRecord(oldVersion, NewTimestamp(1, true), Uncommitted(self), intPayload(10))
	txn.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: updated, OldVersionRID: oldVersion, Type: Updated, Size: 8})

	deleted := storage.NewRecordID(3, 0)
	store.addRecord(deleted, NewTimestamp(1, true), Uncommitted(self), intPayload(30))
	txn.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: deleted, OldVersionRID: storage.MaxRecordID, Type: Deleted, Size: 8})

	if err := m.Abort(txn); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if len(store.removed) != 1 || store.removed[0] != inserted {
		t.Errorf("Inserted row was not removed: %v", store.removed)
	}
	if store.restored[updated] != oldVersion {
		t.Error("Updated row was not restored from its old version")
	}
	if store.ends[deleted] != Infinity {
		t.Errorf("Deleted row end stamp = %s", store.ends[deleted])
	}
}

func TestWriteSkewAborts(t *testing.T) {
	m, store := newTestManager()

	ridX := storage.NewRecordID(1, 0)
	ridY := storage.NewRecordID(1, 1)
	store.addRecord(ridX, NewTimestamp(1, true), Infinity, intPayload(0))
	store.addRecord(ridY, NewTimestamp(1, true), Infinity, intPayload(0))

	t1 := m.NewTransaction(Serializable)
	t2 := m.NewTransaction(Serializable)

	// T1 reads X and updates Y; T2 reads Y and updates X.
	t1.AddReadSetItem(ReadSetItem{InPlaceRID: ridX, ReadRID: ridX})
	oldY := storage.NewRecordID(9, 0)
	store.addRecord(oldY, NewTimestamp(1, true), Uncommitted(t1.BeginTimestamp().Time()), intPayload(0))
	t1.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: ridY, OldVersionRID: oldY, Type: Updated, Size: 8})
	store.begins[ridY] = Uncommitted(t1.BeginTimestamp().Time())

	t2.AddReadSetItem(ReadSetItem{InPlaceRID: ridY, ReadRID: ridY})
	oldX := storage.NewRecordID(9, 1)
	store.addRecord(oldX, NewTimestamp(1, true), Uncommitted(t2.BeginTimestamp().Time()), intPayload(0))
	t2.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: ridX, OldVersionRID: oldX, Type: Updated, Size: 8})
	store.begins[ridX] = Uncommitted(t2.BeginTimestamp().Time())

	if err := m.Commit(t1); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}
	err := m.Commit(t2)
	if !errors.Is(err, ErrTransactionAborted) {
		t.Fatalf("Second commit should abort with ErrTransactionAborted, got %v", err)
	}
	if !t2.Aborted() {
		t.Error("T2 not marked aborted")
	}
}

func TestScanSetValidationCatchesPhantoms(t *testing.T) {
	m, store := newTestManager()

	// T1 scans table 1 for payload values > 30.
	t1 := m.NewTransaction(Serializable)
	over30 := func(payload []byte) bool {
		return int64(binary.LittleEndian.Uint64(payload)) > 30
	}
	t1.AddScanSetItem(ScanSetItem{TableID: 1, Predicate: over30})

	// T2 concurrently inserts a row with value 40 and commits.
	t2 := m.NewTransaction(Serializable)
	rid := storage.NewRecordID(4, 0)
	store.addRecord(rid, Uncommitted(t2.BeginTimestamp().Time()), Infinity, intPayload(40))
	t2.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: rid, OldVersionRID: storage.MaxRecordID, Type: Inserted, Size: 8})
	if err := m.Commit(t2); err != nil {
		t.Fatalf("T2 commit failed: %v", err)
	}

	if err := m.Commit(t1); !errors.Is(err, ErrTransactionAborted) {
		t.Fatalf("T1 should abort on the scan-set check, got %v", err)
	}
}

func TestScanSetIgnoresNonMatchingInserts(t *testing.T) {
	m, store := newTestManager()

	t1 := m.NewTransaction(Serializable)
	over30 := func(payload []byte) bool {
		return int64(binary.LittleEndian.Uint64(payload)) > 30
	}
	t1.AddScanSetItem(ScanSetItem{TableID: 1, Predicate: over30})

	// Concurrent insert with value 10 does not match the predicate.
	t2 := m.NewTransaction(Serializable)
	rid := storage.NewRecordID(4, 0)
	store.addRecord(rid, Uncommitted(t2.BeginTimestamp().Time()), Infinity, intPayload(10))
	t2.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: rid, OldVersionRID: storage.MaxRecordID, Type: Inserted, Size: 8})
	if err := m.Commit(t2); err != nil {
		t.Fatalf("T2 commit failed: %v", err)
	}

	if err := m.Commit(t1); err != nil {
		t.Fatalf("T1 should commit, got %v", err)
	}
}

func TestScanSetIgnoresOtherTables(t *testing.T) {
	m, store := newTestManager()

	t1 := m.NewTransaction(Serializable)
	t1.AddScanSetItem(ScanSetItem{TableID: 1, Predicate: nil})

	t2 := m.NewTransaction(Serializable)
	rid := storage.NewRecordID(4, 0)
	store.addRecord(rid, Uncommitted(t2.BeginTimestamp().Time()), Infinity, intPayload(40))
	t2.AddWriteSetItem(WriteSetItem{TableID: 2, InPlaceRID: rid, OldVersionRID: storage.MaxRecordID, Type: Inserted, Size: 8})
	if err := m.Commit(t2); err != nil {
		t.Fatalf("T2 commit failed: %v", err)
	}

	if err := m.Commit(t1); err != nil {
		t.Fatalf("Writes to other tables must not invalidate T1: %v", err)
	}
}

func TestValidationIgnoresEarlierCommits(t *testing.T) {
	m, store := newTestManager()

	// T0 commits an update before T1 begins: no conflict.
	t0 := m.NewTransaction(Serializable)
	rid := storage.NewRecordID(1, 0)
	old := storage.NewRecordID(9, 0)
	store.addRecord(rid, Uncommitted(t0.BeginTimestamp().Time()), Infinity, intPayload(1))
	store.addRecord(old, NewTimestamp(1, true), Uncommitted(t0.BeginTimestamp().Time()), intPayload(0))
	t0.AddWriteSetItem(WriteSetItem{TableID: 1, InPlaceRID: rid, OldVersionRID: old, Type: Updated, Size: 8})
	if err := m.Commit(t0); err != nil {
		t.Fatalf("T0 commit failed: %v", err)
	}

	t1 := m.NewTransaction(Serializable)
	t1.AddReadSetItem(ReadSetItem{InPlaceRID: rid, ReadRID: rid})
	if err := m.Commit(t1); err != nil {
		t.Fatalf("T0 committed before T1 began, no conflict expected: %v", err)
	}
}

func TestNextTimestampPersistence(t *testing.T) {
	m, _ := newTestManager()
	m.NewTransaction(Serializable)
	m.NewTransaction(Serializable)
	saved := m.NextTimestamp()

	m2, _ := newTestManager()
	m2.SetNextTimestamp(saved)
	txn := m2.NewTransaction(Serializable)
	if txn.BeginTimestamp().Time() != saved {
		t.Errorf("Restored manager issued %d, want %d", txn.BeginTimestamp().Time(), saved)
	}

	m3, _ := newTestManager()
	m3.SetNextTimestamp(0) // below the reserved range
	if m3.NextTimestamp() != firstTimestamp {
		t.Errorf("Counter restored below the sentinel range: %d", m3.NextTimestamp())
	}
}
