// ABOUTME: Record layer mapping logical rows onto slotted pages
// ABOUTME: Maintains MVCC version chains across the two table page chains

package heap

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jamal-zag/beedb/pkg/buffer"
	"github.com/jamal-zag/beedb/pkg/concurrency"
	"github.com/jamal-zag/beedb/pkg/storage"
	"github.com/jamal-zag/beedb/pkg/table"
)

// Manager is the table disk manager: it writes rows with their MVCC
// headers into slotted pages, resolves visible versions on read, and
// gives the transaction manager its promotion/rollback surface.
type Manager struct {
	buf *buffer.Manager
	log zerolog.Logger

	// Appends to a page chain mutate the tail page's slot directory,
	// so each chain admits one inserter at a time.
	mu      sync.Mutex
	latches map[uint64]*sync.Mutex
}

// NewManager creates a record layer over the given buffer pool.
func NewManager(buf *buffer.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		buf:     buf,
		log:     log,
		latches: make(map[uint64]*sync.Mutex),
	}
}

// chainLatch returns the insert latch of one table chain.
func (m *Manager) chainLatch(tableID uint32, timeTravel bool) *sync.Mutex {
	key := uint64(tableID) << 1
	if timeTravel {
		key |= 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	latch, ok := m.latches[key]
	if !ok {
		latch = &sync.Mutex{}
		m.latches[key] = latch
	}
	return latch
}

// interface check: the transaction manager drives rollback through us
var _ concurrency.RecordStore = (*Manager)(nil)

// ReadRows resolves the version of every record on the page visible to
// the transaction. Chasing version chains may pin further pages; their
// ids are returned so the caller can unpin them after consuming the
// tuples. Each visible read is recorded in the transaction's read set.
func (m *Manager) ReadRows(h *buffer.PageHandle, txn *concurrency.Transaction) ([]Tuple, []storage.PageID, error) {
	if txn == nil || !txn.Active() {
		return nil, nil, concurrency.ErrTransactionDisabled
	}

	rp := storage.AsRecordPage(h.Data)
	var tuples []Tuple
	var extraPinned []storage.PageID

	n := rp.SlotCount()
	for i := uint16(0); i < n; i++ {
		if rp.IsFree(i) {
			continue
		}
		rec, err := rp.Record(i)
		if err != nil {
			return tuples, extraPinned, err
		}
		rid := storage.NewRecordID(h.ID, i)

		begin, end := concurrency.LoadTimestamps(rid, rec)
		if concurrency.IsVisible(txn, begin, end) {
			tuples = append(tuples, Tuple{RID: rid, Record: rec})
			txn.AddReadSetItem(concurrency.ReadSetItem{InPlaceRID: rid, ReadRID: rid})
			continue
		}

		// Walk the version chain into the time-travel pages until a
		// visible version turns up.
		next := concurrency.DecodeMetadata(rec).NextVersion
		for next != storage.MaxRecordID {
			vh, err := m.buf.Pin(next.PageID())
			if err != nil {
				return tuples, extraPinned, err
			}
			extraPinned = append(extraPinned, vh.ID)

			vrec, err := storage.AsRecordPage(vh.Data).Record(next.Slot())
			if err != nil {
				return tuples, extraPinned, err
			}
			vbegin, vend := concurrency.LoadTimestamps(next, vrec)
			if concurrency.IsVisible(txn, vbegin, vend) {
				tuples = append(tuples, Tuple{RID: next, Record: vrec})
				txn.AddReadSetItem(concurrency.ReadSetItem{InPlaceRID: rid, ReadRID: next})
				break
			}
			next = concurrency.DecodeMetadata(vrec).NextVersion
		}
	}
	return tuples, extraPinned, nil
}

// AddRow inserts a fresh row on the table's in-place chain and records
// the write. The page is unpinned before returning.
func (m *Manager) AddRow(txn *concurrency.Transaction, tbl *table.Table, values []table.Value) (storage.RecordID, error) {
	tup, err := m.addRowPinned(txn, tbl, values)
	if err != nil {
		return storage.MaxRecordID, err
	}
	if err := m.buf.Unpin(tup.RID.PageID(), true); err != nil {
		return storage.MaxRecordID, err
	}
	return tup.RID, nil
}

// AddRowAndGet inserts a fresh row and returns its tuple with the page
// still pinned; the caller unpins (dirty) when done with the view.
func (m *Manager) AddRowAndGet(txn *concurrency.Transaction, tbl *table.Table, values []table.Value) (Tuple, error) {
	return m.addRowPinned(txn, tbl, values)
}

func (m *Manager) addRowPinned(txn *concurrency.Transaction, tbl *table.Table, values []table.Value) (Tuple, error) {
	if txn == nil || !txn.Active() {
		return Tuple{}, concurrency.ErrTransactionDisabled
	}
	payload, err := tbl.Schema.EncodeRow(values)
	if err != nil {
		return Tuple{}, err
	}

	size := concurrency.MetadataSize + len(payload)

	latch := m.chainLatch(tbl.ID, false)
	latch.Lock()
	h, err := m.pageForInsert(tbl, size, false)
	if err != nil {
		latch.Unlock()
		return Tuple{}, err
	}
	slot, rec, err := storage.AsRecordPage(h.Data).AllocateRecord(size)
	latch.Unlock()
	if err != nil {
		h.Unpin(false)
		return Tuple{}, err
	}

	rid := storage.NewRecordID(h.ID, slot)
	concurrency.EncodeMetadata(rec, concurrency.Metadata{
		Original:    rid,
		Begin:       concurrency.Uncommitted(txn.BeginTimestamp().Time()),
		End:         concurrency.Infinity,
		NextVersion: storage.MaxRecordID,
	})
	copy(concurrency.Payload(rec), payload)

	txn.AddWriteSetItem(concurrency.WriteSetItem{
		TableID:       tbl.ID,
		InPlaceRID:    rid,
		OldVersionRID: storage.MaxRecordID,
		Type:          concurrency.Inserted,
		Size:          len(payload),
	})
	m.log.Debug().Str("rid", rid.String()).Uint32("table", tbl.ID).Msg("row inserted")
	return Tuple{RID: rid, Record: rec}, nil
}

// CopyRowToTimeTravel appends a copy of the tuple's current bytes to
// the table's time-travel chain and returns the copy's rid.
func (m *Manager) CopyRowToTimeTravel(txn *concurrency.Transaction, tbl *table.Table, tup Tuple) (storage.RecordID, error) {
	if txn == nil || !txn.Active() {
		return storage.MaxRecordID, concurrency.ErrTransactionDisabled
	}

	latch := m.chainLatch(tbl.ID, true)
	latch.Lock()
	h, err := m.pageForInsert(tbl, len(tup.Record), true)
	if err != nil {
		latch.Unlock()
		return storage.MaxRecordID, err
	}
	slot, rec, err := storage.AsRecordPage(h.Data).AllocateRecord(len(tup.Record))
	latch.Unlock()
	if err != nil {
		h.Unpin(false)
		return storage.MaxRecordID, err
	}
	copy(rec, tup.Record)
	rid := storage.NewRecordID(h.ID, slot)
	if err := h.Unpin(true); err != nil {
		return storage.MaxRecordID, err
	}
	return rid, nil
}

// RemoveRow hard-removes a record by freeing its slot. Used only to
// roll back inserts; version chains are not touched.
func (m *Manager) RemoveRow(rid storage.RecordID) error {
	h, err := m.buf.Pin(rid.PageID())
	if err != nil {
		return err
	}
	if err := storage.AsRecordPage(h.Data).FreeSlot(rid.Slot()); err != nil {
		h.Unpin(false)
		return err
	}
	return h.Unpin(true)
}

// UpdateRow rewrites the row in place, preserving the prior version on
// the time-travel chain. The first writer wins: a row already
// end-stamped by another transaction, or rewritten by another
// transaction that has not committed, fails with ErrWriteConflict.
func (m *Manager) UpdateRow(txn *concurrency.Transaction, tbl *table.Table, rid storage.RecordID, values []table.Value) error {
	if txn == nil || !txn.Active() {
		return concurrency.ErrTransactionDisabled
	}
	payload, err := tbl.Schema.EncodeRow(values)
	if err != nil {
		return err
	}

	h, err := m.buf.Pin(rid.PageID())
	if err != nil {
		return err
	}
	rec, err := storage.AsRecordPage(h.Data).Record(rid.Slot())
	if err != nil {
		h.Unpin(false)
		return err
	}
	if len(rec) != concurrency.MetadataSize+len(payload) {
		h.Unpin(false)
		return fmt.Errorf("heap: record %s is %d bytes, row needs %d", rid, len(rec), concurrency.MetadataSize+len(payload))
	}

	self := concurrency.Uncommitted(txn.BeginTimestamp().Time())
	meta := concurrency.DecodeMetadata(rec)

	// A row this transaction inserted is rewritten directly; there is
	// no committed version to preserve.
	if meta.Begin == self && meta.End == concurrency.Infinity {
		copy(concurrency.Payload(rec), payload)
		return h.Unpin(true)
	}

	if meta.Begin != self && !meta.Begin.Committed() {
		h.Unpin(false)
		return fmt.Errorf("%w: row %s", concurrency.ErrWriteConflict, rid)
	}
	if !concurrency.CompareAndSwapEnd(rid, rec, concurrency.Infinity, self) {
		h.Unpin(false)
		return fmt.Errorf("%w: row %s", concurrency.ErrWriteConflict, rid)
	}

	oldRID, err := m.CopyRowToTimeTravel(txn, tbl, Tuple{RID: rid, Record: rec})
	if err != nil {
		concurrency.CompareAndSwapEnd(rid, rec, self, concurrency.Infinity)
		h.Unpin(true)
		return err
	}

	concurrency.EncodeMetadata(rec, concurrency.Metadata{
		Original:    meta.Original,
		Begin:       self,
		End:         concurrency.Infinity,
		NextVersion: oldRID,
	})
	copy(concurrency.Payload(rec), payload)

	txn.AddWriteSetItem(concurrency.WriteSetItem{
		TableID:       tbl.ID,
		InPlaceRID:    rid,
		OldVersionRID: oldRID,
		Type:          concurrency.Updated,
		Size:          len(payload),
	})
	m.log.Debug().Str("rid", rid.String()).Str("old", oldRID.String()).Msg("row updated")
	return h.Unpin(true)
}

// DeleteRow end-stamps the row for this transaction, preserving the
// prior version on the time-travel chain. First writer wins.
func (m *Manager) DeleteRow(txn *concurrency.Transaction, tbl *table.Table, rid storage.RecordID) error {
	if txn == nil || !txn.Active() {
		return concurrency.ErrTransactionDisabled
	}

	h, err := m.buf.Pin(rid.PageID())
	if err != nil {
		return err
	}
	rec, err := storage.AsRecordPage(h.Data).Record(rid.Slot())
	if err != nil {
		h.Unpin(false)
		return err
	}

	self := concurrency.Uncommitted(txn.BeginTimestamp().Time())
	meta := concurrency.DecodeMetadata(rec)

	if meta.Begin != self && !meta.Begin.Committed() {
		h.Unpin(false)
		return fmt.Errorf("%w: row %s", concurrency.ErrWriteConflict, rid)
	}
	if !concurrency.CompareAndSwapEnd(rid, rec, concurrency.Infinity, self) {
		h.Unpin(false)
		return fmt.Errorf("%w: row %s", concurrency.ErrWriteConflict, rid)
	}

	// A row this transaction inserted has no committed version to
	// preserve on the time-travel chain.
	oldRID := storage.MaxRecordID
	if meta.Begin != self {
		oldRID, err = m.CopyRowToTimeTravel(txn, tbl, Tuple{RID: rid, Record: rec})
		if err != nil {
			concurrency.CompareAndSwapEnd(rid, rec, self, concurrency.Infinity)
			h.Unpin(true)
			return err
		}
		meta = concurrency.DecodeMetadata(rec)
		meta.NextVersion = oldRID
		concurrency.EncodeMetadata(rec, meta)
	}

	txn.AddWriteSetItem(concurrency.WriteSetItem{
		TableID:       tbl.ID,
		InPlaceRID:    rid,
		OldVersionRID: oldRID,
		Type:          concurrency.Deleted,
		Size:          len(rec) - concurrency.MetadataSize,
	})
	m.log.Debug().Str("rid", rid.String()).Msg("row deleted")
	return h.Unpin(true)
}

// pageForInsert returns a pinned page on the requested chain with room
// for size bytes, allocating and linking a fresh page when the tail is
// full or the chain is empty.
func (m *Manager) pageForInsert(tbl *table.Table, size int, timeTravel bool) (*buffer.PageHandle, error) {
	last := tbl.LastPageID()
	if timeTravel {
		last = tbl.LastTimeTravelPageID()
	}

	if last != storage.InvalidPageID {
		h, err := m.buf.Pin(last)
		if err != nil {
			return nil, err
		}
		if storage.AsRecordPage(h.Data).CanFit(size) {
			return h, nil
		}
		if err := h.Unpin(false); err != nil {
			return nil, err
		}
	}

	h, err := m.buf.Allocate(storage.KindRecord)
	if err != nil {
		return nil, err
	}

	var prev storage.PageID
	if timeTravel {
		prev = tbl.AppendTimeTravelPage(h.ID)
	} else {
		prev = tbl.AppendPage(h.ID)
	}
	if prev != storage.InvalidPageID {
		ph, err := m.buf.Pin(prev)
		if err != nil {
			h.Unpin(false)
			return nil, err
		}
		ph.Data.SetNextPageID(h.ID)
		if err := ph.Unpin(true); err != nil {
			h.Unpin(false)
			return nil, err
		}
	}
	m.log.Debug().
		Uint32("table", tbl.ID).
		Uint32("page", uint32(h.ID)).
		Bool("time_travel", timeTravel).
		Msg("table page appended")
	return h, nil
}

// CompareAndSetBegin transitions a record's begin stamp. Part of the
// concurrency.RecordStore surface.
func (m *Manager) CompareAndSetBegin(rid storage.RecordID, old, new concurrency.Timestamp) (bool, error) {
	var ok bool
	err := m.withRecord(rid, func(rec []byte) error {
		ok = concurrency.CompareAndSwapBegin(rid, rec, old, new)
		return nil
	})
	return ok, err
}

// CompareAndSetEnd transitions a record's end stamp.
func (m *Manager) CompareAndSetEnd(rid storage.RecordID, old, new concurrency.Timestamp) (bool, error) {
	var ok bool
	err := m.withRecord(rid, func(rec []byte) error {
		ok = concurrency.CompareAndSwapEnd(rid, rec, old, new)
		return nil
	})
	return ok, err
}

// RestoreRow copies the old version's bytes back over the in-place
// record and resets its end stamp to infinity. Used to roll back
// updates.
func (m *Manager) RestoreRow(inPlace, oldVersion storage.RecordID) error {
	var saved []byte
	err := m.withRecord(oldVersion, func(rec []byte) error {
		saved = make([]byte, len(rec))
		copy(saved, rec)
		return nil
	})
	if err != nil {
		return err
	}

	return m.withRecord(inPlace, func(rec []byte) error {
		if len(rec) != len(saved) {
			return fmt.Errorf("heap: version sizes differ: %d vs %d", len(rec), len(saved))
		}
		copy(rec, saved)
		meta := concurrency.DecodeMetadata(rec)
		meta.End = concurrency.Infinity
		concurrency.EncodeMetadata(rec, meta)
		return nil
	})
}

// ReadPayload returns a heap-owned copy of a record's payload bytes.
func (m *Manager) ReadPayload(rid storage.RecordID) ([]byte, error) {
	var out []byte
	err := m.withRecord(rid, func(rec []byte) error {
		out = make([]byte, len(rec)-concurrency.MetadataSize)
		copy(out, concurrency.Payload(rec))
		return nil
	})
	return out, err
}

// withRecord pins the record's page, runs fn on the record bytes and
// unpins dirty. fn must not retain the slice.
func (m *Manager) withRecord(rid storage.RecordID, fn func(rec []byte) error) error {
	h, err := m.buf.Pin(rid.PageID())
	if err != nil {
		return err
	}
	rec, err := storage.AsRecordPage(h.Data).Record(rid.Slot())
	if err != nil {
		h.Unpin(false)
		return err
	}
	if err := fn(rec); err != nil {
		h.Unpin(false)
		return err
	}
	return h.Unpin(true)
}
