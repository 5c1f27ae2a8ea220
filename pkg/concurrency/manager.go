// ABOUTME: Transaction manager with optimistic serializable validation
// ABOUTME: Issues timestamps, coordinates commit/abort, owns commit history

package concurrency

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jamal-zag/beedb/internal/metrics"
	"github.com/jamal-zag/beedb/pkg/storage"
)

var (
	// ErrTransactionAborted indicates commit validation rejected the
	// transaction; its writes have already been rolled back
	ErrTransactionAborted = errors.New("concurrency: transaction aborted")

	// ErrTransactionDisabled indicates an operation on a transaction
	// that is no longer live
	ErrTransactionDisabled = errors.New("concurrency: no live transaction")

	// ErrWriteConflict indicates the row was already end-stamped by
	// another transaction, or its current version was written by
	// another transaction that has not committed (first writer wins)
	ErrWriteConflict = errors.New("concurrency: write-write conflict")
)

// RecordStore is the record-layer surface the manager drives during
// promotion and rollback. The record layer implements it over the
// buffer pool.
type RecordStore interface {
	// CompareAndSetBegin transitions a record's begin stamp.
	CompareAndSetBegin(rid storage.RecordID, old, new Timestamp) (bool, error)
	// CompareAndSetEnd transitions a record's end stamp.
	CompareAndSetEnd(rid storage.RecordID, old, new Timestamp) (bool, error)
	// RemoveRow hard-removes a record, freeing its slot.
	RemoveRow(rid storage.RecordID) error
	// RestoreRow copies the old version's bytes back over the in-place
	// record and resets its end stamp to infinity.
	RestoreRow(inPlace, oldVersion storage.RecordID) error
	// ReadPayload returns a copy of a record's payload bytes.
	ReadPayload(rid storage.RecordID) ([]byte, error)
}

// firstTimestamp is the initial value of the timestamp counter; 0 and
// 1 are reserved for the sentinels.
const firstTimestamp = 2

// Manager issues begin timestamps and coordinates commit and abort.
// Serializability comes from MVCC visibility plus commit-time
// validation of each transaction's read and scan sets against the
// write sets of concurrently committed transactions.
type Manager struct {
	nextTimestamp atomic.Uint64

	historyMu     sync.RWMutex
	commitHistory map[uint64]*Transaction

	store   RecordStore
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewManager creates a transaction manager over the given record store.
func NewManager(store RecordStore, log zerolog.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		commitHistory: make(map[uint64]*Transaction),
		store:         store,
		log:           log,
		metrics:       m,
	}
	mgr.nextTimestamp.Store(firstTimestamp)
	return mgr
}

// NextTimestamp returns the counter value the next transaction would
// receive. Persisted to the metadata page on shutdown.
func (m *Manager) NextTimestamp() uint64 {
	return m.nextTimestamp.Load()
}

// SetNextTimestamp restores the counter after a restart. Values below
// the initial counter are raised to it.
func (m *Manager) SetNextTimestamp(ts uint64) {
	if ts < firstTimestamp {
		ts = firstTimestamp
	}
	m.nextTimestamp.Store(ts)
}

// NewTransaction begins a transaction at the next timestamp.
func (m *Manager) NewTransaction(isolation IsolationLevel) *Transaction {
	time := m.nextTimestamp.Add(1) - 1
	t := &Transaction{
		beginTS:   NewTimestamp(time, true),
		isolation: isolation,
	}
	m.log.Debug().Uint64("begin_time", time).Msg("transaction started")
	return t
}

// IsVisible reports whether a record version stamped (begin, end) is
// visible to the transaction. A committed version is visible when its
// begin is at or before the transaction's begin and its end is
// infinity, uncommitted, or after the transaction's begin. The
// transaction's own uncommitted writes are visible to itself, and its
// own uncommitted deletes are not.
func IsVisible(t *Transaction, begin, end Timestamp) bool {
	self := t.beginTS.Time()
	if begin.Committed() {
		if begin.Time() > self {
			return false
		}
	} else if begin.Time() != self {
		return false
	}
	if end == Infinity {
		return true
	}
	if !end.Committed() {
		return end.Time() != self
	}
	return end.Time() > self
}

// Commit validates the transaction and promotes its writes. A failed
// validation aborts the transaction and returns ErrTransactionAborted.
func (m *Manager) Commit(t *Transaction) error {
	if t == nil || !t.Active() {
		return ErrTransactionDisabled
	}

	commitTime := m.nextTimestamp.Add(1) - 1
	t.commitTS = NewTimestamp(commitTime, false)

	if check := m.validate(t, commitTime); check != "" {
		m.metrics.RecordValidationFailure(check)
		m.log.Info().
			Uint64("begin_time", t.beginTS.Time()).
			Uint64("commit_time", commitTime).
			Str("check", check).
			Msg("commit validation failed")
		if err := m.Abort(t); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s-set validation failed", ErrTransactionAborted, check)
	}

	uncommitted := Uncommitted(t.beginTS.Time())
	committed := NewTimestamp(commitTime, true)
	for _, w := range t.writeSet {
		m.promote(w, uncommitted, committed)
	}

	m.historyMu.Lock()
	m.commitHistory[commitTime] = t
	m.historyMu.Unlock()

	t.commitTS = committed
	t.state = txCommitted
	t.release()
	m.metrics.RecordTransaction("committed")
	m.log.Debug().
		Uint64("begin_time", t.beginTS.Time()).
		Uint64("commit_time", commitTime).
		Int("writes", len(t.writeSet)).
		Msg("transaction committed")
	return nil
}

// promote flips the uncommitted stamps of one write to the committed
// commit timestamp. The stamps were placed by this transaction, so a
// CAS miss means corruption and is logged rather than unwound.
func (m *Manager) promote(w WriteSetItem, uncommitted, committed Timestamp) {
	switch w.Type {
	case Inserted:
		m.promoteBegin(w.InPlaceRID, uncommitted, committed)
	case Updated:
		m.promoteBegin(w.InPlaceRID, uncommitted, committed)
		m.promoteEnd(w.OldVersionRID, uncommitted, committed)
	case Deleted:
		m.promoteEnd(w.InPlaceRID, uncommitted, committed)
		if w.OldVersionRID != storage.MaxRecordID {
			m.promoteEnd(w.OldVersionRID, uncommitted, committed)
		}
	}
}

func (m *Manager) promoteBegin(rid storage.RecordID, old, new Timestamp) {
	ok, err := m.store.CompareAndSetBegin(rid, old, new)
	if err != nil || !ok {
		m.log.Error().
			Err(err).
			Str("rid", rid.String()).
			Msg("begin stamp promotion failed")
	}
}

func (m *Manager) promoteEnd(rid storage.RecordID, old, new Timestamp) {
	ok, err := m.store.CompareAndSetEnd(rid, old, new)
	if err != nil || !ok {
		m.log.Error().
			Err(err).
			Str("rid", rid.String()).
			Msg("end stamp promotion failed")
	}
}

// validate replays the transaction's read and scan sets against every
// transaction that committed between its begin and commit timestamps.
// It returns "" on success, or the name of the failed check.
func (m *Manager) validate(t *Transaction, commitTime uint64) string {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()

	beginTime := t.beginTS.Time()
	for time, c := range m.commitHistory {
		if time <= beginTime || time >= commitTime {
			continue
		}
		for _, w := range c.writeSet {
			if m.invalidatesRead(t, w) {
				return "write"
			}
			if m.invalidatesScan(t, w) {
				return "scan"
			}
		}
	}
	return ""
}

// invalidatesRead is the write-skew check: a concurrent update or
// delete of a row this transaction read.
func (m *Manager) invalidatesRead(t *Transaction, w WriteSetItem) bool {
	if w.Type != Updated && w.Type != Deleted {
		return false
	}
	for _, r := range t.readSet {
		if r.InPlaceRID == w.InPlaceRID {
			return true
		}
	}
	return false
}

// invalidatesScan is the phantom check: a concurrent write whose pre-
// or post-image changes the outcome of a predicate this transaction
// scanned with.
func (m *Manager) invalidatesScan(t *Transaction, w WriteSetItem) bool {
	for _, s := range t.scanSet {
		if s.TableID != w.TableID {
			continue
		}
		if s.Predicate == nil {
			return true
		}
		switch w.Type {
		case Inserted:
			if m.matches(s.Predicate, w.InPlaceRID) {
				return true
			}
		case Deleted:
			if m.matches(s.Predicate, w.InPlaceRID) {
				return true
			}
		case Updated:
			if m.matches(s.Predicate, w.InPlaceRID) != m.matches(s.Predicate, w.OldVersionRID) {
				return true
			}
		}
	}
	return false
}

// matches evaluates the predicate against a record's payload. An
// unreadable record counts as a match: validation stays conservative.
func (m *Manager) matches(pred Predicate, rid storage.RecordID) bool {
	payload, err := m.store.ReadPayload(rid)
	if err != nil {
		m.log.Warn().Err(err).Str("rid", rid.String()).Msg("scan validation read failed")
		return true
	}
	return pred(payload)
}

// Abort rolls back every write of the transaction in reverse order.
// Aborting an already-aborted transaction is a no-op.
func (m *Manager) Abort(t *Transaction) error {
	if t == nil {
		return ErrTransactionDisabled
	}
	if t.Aborted() {
		return nil
	}
	if t.Committed() {
		return fmt.Errorf("%w: transaction already committed", ErrTransactionDisabled)
	}

	uncommitted := Uncommitted(t.beginTS.Time())
	var firstErr error
	for i := len(t.writeSet) - 1; i >= 0; i-- {
		w := t.writeSet[i]
		var err error
		switch w.Type {
		case Inserted:
			err = m.store.RemoveRow(w.InPlaceRID)
		case Updated:
			err = m.store.RestoreRow(w.InPlaceRID, w.OldVersionRID)
		case Deleted:
			ok, casErr := m.store.CompareAndSetEnd(w.InPlaceRID, uncommitted, Infinity)
			if casErr != nil {
				err = casErr
			} else if !ok {
				err = fmt.Errorf("end stamp of %s was not held by this transaction", w.InPlaceRID)
			}
		}
		if err != nil {
			m.log.Error().Err(err).Str("rid", w.InPlaceRID.String()).Str("type", w.Type.String()).Msg("rollback failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	t.state = txAborted
	t.writeSet = nil
	t.release()
	m.metrics.RecordTransaction("aborted")
	m.log.Debug().Uint64("begin_time", t.beginTS.Time()).Msg("transaction aborted")
	return firstErr
}
