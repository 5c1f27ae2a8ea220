// ABOUTME: Engine façade wiring disk, buffer, record and transaction layers
// ABOUTME: Bootstraps the system pages and exposes the operator surface

package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamal-zag/beedb/internal/logger"
	"github.com/jamal-zag/beedb/internal/metrics"
	"github.com/jamal-zag/beedb/pkg/buffer"
	"github.com/jamal-zag/beedb/pkg/concurrency"
	"github.com/jamal-zag/beedb/pkg/heap"
	"github.com/jamal-zag/beedb/pkg/index"
	"github.com/jamal-zag/beedb/pkg/storage"
	"github.com/jamal-zag/beedb/pkg/table"
)

// System pages of a fresh page file: page 0 is the metadata page,
// pages 1-4 hold the catalog tables (tables, columns, indices,
// statistics). The catalog pages are written by the catalog layer; the
// engine only reserves them and preserves their bytes.
const (
	metaPageID          = storage.PageID(0)
	catalogPageCount    = 4
	bootstrapPageCount  = 1 + catalogPageCount
)

// Engine owns one database: a page file, its buffer pool, the record
// layer and the transaction manager.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	disk    *storage.DiskManager
	buf     *buffer.Manager
	heap    *heap.Manager
	txns    *concurrency.Manager
	metrics *metrics.Metrics

	mu          sync.Mutex
	tables      map[uint32]*table.Table
	indexes     map[uint32][]*tableIndex
	nextTableID uint32
}

// tableIndex maps one integer column to the pages holding matching
// rows. Rows never move between pages (updates are in place), so the
// page set stays valid across updates and deletes.
type tableIndex struct {
	column int
	tree   *index.NonUnique
}

// Row is a heap-owned copy of one visible row, valid past any unpin.
type Row struct {
	RID    storage.RecordID
	Values []table.Value
}

// Open builds an engine from its configuration. Metrics may be nil.
func Open(cfg Config, m *metrics.Metrics) (*Engine, error) {
	lg := logger.NewLogger(logger.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLog})
	root := lg.GetZerolog().With().Str("instance", uuid.NewString()).Logger()
	lg.LogEngineOpen(cfg.Path, cfg.BufferFrames, cfg.Replacement)

	var disk *storage.DiskManager
	var err error
	switch {
	case cfg.Path == "":
		disk = storage.NewMemoryManager(root.With().Str("component", "storage").Logger(), m)
	case cfg.DirectIO:
		disk, err = storage.OpenDirect(cfg.Path, root.With().Str("component", "storage").Logger(), m)
	default:
		disk, err = storage.Open(cfg.Path, root.With().Str("component", "storage").Logger(), m)
	}
	if err != nil {
		return nil, err
	}

	nextTS, err := bootstrap(disk)
	if err != nil {
		disk.Close()
		return nil, err
	}

	strategy := buffer.NewStrategy(buffer.Policy(cfg.Replacement), cfg.LRUKDistance)
	buf := buffer.NewManager(disk, cfg.BufferFrames, strategy, root.With().Str("component", "buffer").Logger(), m)
	hp := heap.NewManager(buf, root.With().Str("component", "heap").Logger())
	txns := concurrency.NewManager(hp, root.With().Str("component", "concurrency").Logger(), m)
	txns.SetNextTimestamp(nextTS)

	return &Engine{
		cfg:         cfg,
		log:         root.With().Str("component", "engine").Logger(),
		disk:        disk,
		buf:         buf,
		heap:        hp,
		txns:        txns,
		metrics:     m,
		tables:      make(map[uint32]*table.Table),
		indexes:     make(map[uint32][]*tableIndex),
		nextTableID: 1,
	}, nil
}

// bootstrap reserves the system pages on a fresh file and returns the
// persisted next transaction timestamp.
func bootstrap(disk *storage.DiskManager) (uint64, error) {
	if disk.CountPages() == 0 {
		if _, err := disk.Allocate(storage.KindMetadata); err != nil {
			return 0, err
		}
		for i := 0; i < catalogPageCount; i++ {
			if _, err := disk.Allocate(storage.KindRecord); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
	if disk.CountPages() < bootstrapPageCount {
		return 0, fmt.Errorf("%w: page file holds %d pages, system pages need %d",
			storage.ErrDiskIO, disk.CountPages(), bootstrapPageCount)
	}
	p := make(storage.Page, storage.PageSize)
	if err := disk.Read(metaPageID, p); err != nil {
		return 0, err
	}
	return storage.AsMetaPage(p).NextTimestamp(), nil
}

// Close persists the transaction timestamp, flushes the buffer pool
// and closes the page file.
func (e *Engine) Close() error {
	h, err := e.buf.Pin(metaPageID)
	if err != nil {
		return err
	}
	storage.AsMetaPage(h.Data).SetNextTimestamp(e.txns.NextTimestamp())
	if err := h.Unpin(true); err != nil {
		return err
	}

	if err := e.buf.Close(); err != nil {
		return err
	}
	e.log.Info().
		Uint32("pages", e.disk.CountPages()).
		Uint64("evicted_frames", e.buf.EvictedFrames()).
		Msg("engine closed")
	return e.disk.Close()
}

// CreateTable registers a table with the given schema and returns it.
func (e *Engine) CreateTable(schema *table.Schema) *table.Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextTableID
	e.nextTableID++
	tbl := table.NewTable(id, schema)
	e.tables[id] = tbl
	e.log.Debug().Uint32("table", id).Int("columns", len(schema.Columns())).Msg("table created")
	return tbl
}

// Table returns a registered table by id.
func (e *Engine) Table(id uint32) (*table.Table, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tbl, ok := e.tables[id]
	return tbl, ok
}

// Begin starts a serializable transaction.
func (e *Engine) Begin() *concurrency.Transaction {
	return e.txns.NewTransaction(concurrency.Serializable)
}

// Commit validates and commits the transaction. A validation failure
// surfaces as concurrency.ErrTransactionAborted with the writes
// already rolled back.
func (e *Engine) Commit(t *concurrency.Transaction) error {
	return e.txns.Commit(t)
}

// Abort rolls the transaction back.
func (e *Engine) Abort(t *concurrency.Transaction) error {
	return e.txns.Abort(t)
}

// CreateIndex registers a page-level index on an integer column of the
// table and returns it. Rows inserted from now on are indexed; create
// indexes before the first insert to cover the whole table.
func (e *Engine) CreateIndex(tbl *table.Table, column int) (*index.NonUnique, error) {
	columns := tbl.Schema.Columns()
	if column < 0 || column >= len(columns) {
		return nil, fmt.Errorf("engine: table %d has no column %d", tbl.ID, column)
	}
	if columns[column].Type != table.Integer {
		return nil, fmt.Errorf("engine: column %s is not an integer column", columns[column].Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ti := &tableIndex{column: column, tree: index.NewNonUnique(e.metrics)}
	e.indexes[tbl.ID] = append(e.indexes[tbl.ID], ti)
	e.log.Debug().Uint32("table", tbl.ID).Str("column", columns[column].Name).Msg("index created")
	return ti.tree, nil
}

// LookupPages returns the pages that may hold rows whose indexed
// column falls in [from, to]. Callers read the pages transactionally
// and filter; the index only narrows the scan.
func (e *Engine) LookupPages(tbl *table.Table, column int, from, to int64) (index.PageSet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ti := range e.indexes[tbl.ID] {
		if ti.column == column {
			return ti.tree.GetRange(from, to)
		}
	}
	return nil, false
}

// Insert adds a row to the table within the transaction and maintains
// the table's indexes.
func (e *Engine) Insert(t *concurrency.Transaction, tbl *table.Table, values []table.Value) (storage.RecordID, error) {
	rid, err := e.heap.AddRow(t, tbl, values)
	if err != nil {
		return rid, err
	}
	e.mu.Lock()
	for _, ti := range e.indexes[tbl.ID] {
		ti.tree.Put(values[ti.column].Int, rid.PageID())
	}
	e.mu.Unlock()
	return rid, nil
}

// Update rewrites the row within the transaction, keeping the prior
// version readable by older snapshots.
func (e *Engine) Update(t *concurrency.Transaction, tbl *table.Table, rid storage.RecordID, values []table.Value) error {
	return e.heap.UpdateRow(t, tbl, rid, values)
}

// Delete removes the row within the transaction; older snapshots keep
// seeing it.
func (e *Engine) Delete(t *concurrency.Transaction, tbl *table.Table, rid storage.RecordID) error {
	return e.heap.DeleteRow(t, tbl, rid)
}

// Scan returns a copy of every visible row matching the predicate (nil
// matches all) and records the scan in the transaction's scan set for
// commit-time validation.
func (e *Engine) Scan(t *concurrency.Transaction, tbl *table.Table, pred func([]table.Value) bool) ([]Row, error) {
	if t == nil || !t.Active() {
		return nil, concurrency.ErrTransactionDisabled
	}

	var payloadPred concurrency.Predicate
	if pred != nil {
		schema := tbl.Schema
		payloadPred = func(payload []byte) bool {
			values, err := schema.DecodeRow(payload)
			if err != nil {
				return true
			}
			return pred(values)
		}
	}
	t.AddScanSetItem(concurrency.ScanSetItem{TableID: tbl.ID, Predicate: payloadPred})

	var rows []Row
	for pageID := tbl.FirstPageID(); pageID != storage.InvalidPageID; {
		h, err := e.buf.Pin(pageID)
		if err != nil {
			return nil, err
		}
		tuples, extra, err := e.heap.ReadRows(h, t)
		if err == nil {
			for _, tup := range tuples {
				values, derr := tbl.Schema.DecodeRow(tup.Payload())
				if derr != nil {
					err = derr
					break
				}
				if pred != nil && !pred(values) {
					continue
				}
				rows = append(rows, Row{RID: tup.RID, Values: values})
			}
		}
		next := h.Data.NextPageID()
		for _, id := range extra {
			if uerr := e.buf.Unpin(id, false); uerr != nil && err == nil {
				err = uerr
			}
		}
		if uerr := h.Unpin(false); uerr != nil && err == nil {
			err = uerr
		}
		if err != nil {
			return nil, err
		}
		pageID = next
	}
	return rows, nil
}

// EvictedFrames exposes the buffer pool's eviction counter.
func (e *Engine) EvictedFrames() uint64 {
	return e.buf.EvictedFrames()
}

// PageCount exposes the size of the page file in pages.
func (e *Engine) PageCount() uint32 {
	return e.disk.CountPages()
}
