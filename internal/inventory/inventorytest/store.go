// Package inventorytest provides an in-memory ledger store for tests.
package inventorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/audit"
	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// Store keeps records, journal, transfers and audit entries in memory. A failed
// transaction restores the state it started from. Unit costs are rounded to
// inventory.CostScale on write, as the unit_cost columns do.
type Store struct {
	mu        sync.Mutex
	Records   map[int64]inventory.Record
	Entries   []inventory.Entry
	Transfers []inventory.TransferRecord
	Audits    []audit.Entry
	// Locks records the id sets passed to LockRecords, in call order.
	Locks  [][]int64
	nextID int64
	Now    func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Records: make(map[int64]inventory.Record),
		Now:     func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) },
	}
}

type snapshot struct {
	records   map[int64]inventory.Record
	entries   int
	transfers int
	audits    int
	nextID    int64
}

func (s *Store) take() snapshot {
	records := make(map[int64]inventory.Record, len(s.Records))
	for id, rec := range s.Records {
		records[id] = rec
	}
	return snapshot{records: records, entries: len(s.Entries), transfers: len(s.Transfers), audits: len(s.Audits), nextID: s.nextID}
}

func (s *Store) restore(snap snapshot) {
	s.Records = snap.records
	s.Entries = s.Entries[:snap.entries]
	s.Transfers = s.Transfers[:snap.transfers]
	s.Audits = s.Audits[:snap.audits]
	s.nextID = snap.nextID
}

// Run executes fn atomically: any error rolls the store back.
func (s *Store) Run(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.take()
	if err := fn(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Tx returns a transactional view. It must only be used inside Run.
func (s *Store) Tx() *Tx {
	return &Tx{store: s}
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return s.Run(func() error { return fn(ctx, s.Tx()) })
}

// Seed inserts a record directly and journals its opening quantity.
func (s *Store) Seed(rec inventory.Record) inventory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	rec.CreatedAt = s.Now()
	rec.UpdatedAt = rec.CreatedAt
	s.Records[rec.ID] = rec
	if !rec.Quantity.IsZero() {
		s.nextID++
		s.Entries = append(s.Entries, inventory.Entry{
			ID:           s.nextID,
			RecordID:     rec.ID,
			Kind:         inventory.EntryPurchase,
			Quantity:     rec.Quantity,
			UnitCost:     rec.UnitCost,
			BalanceAfter: rec.Quantity,
			Reference:    "SEED",
			CreatedAt:    rec.CreatedAt,
		})
	}
	return rec
}

// Record returns the current state of a record.
func (s *Store) Record(id int64) inventory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Records[id]
}

// EntriesFor returns journal rows of one record in insertion order.
func (s *Store) EntriesFor(id int64) []inventory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesFor(id)
}

func (s *Store) entriesFor(id int64) []inventory.Entry {
	var out []inventory.Entry
	for _, e := range s.Entries {
		if e.RecordID == id {
			out = append(out, e)
		}
	}
	return out
}

// GetRecord implements inventory.RepositoryPort.
func (s *Store) GetRecord(ctx context.Context, id int64) (inventory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[id]
	if !ok {
		return inventory.Record{}, shared.ErrNotFound
	}
	return rec, nil
}

// ListRecords implements inventory.RepositoryPort.
func (s *Store) ListRecords(ctx context.Context, filter inventory.RecordFilter) ([]inventory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.Record{}
	for _, rec := range s.Records {
		if filter.Location != "" && rec.Location != filter.Location {
			continue
		}
		if filter.ItemID != 0 && rec.ItemID != filter.ItemID {
			continue
		}
		if filter.ActiveOnly && !rec.Active {
			continue
		}
		if filter.BelowMinimum && !rec.BelowMinimum() {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListRecordIDs returns active record ids in ascending order.
func (s *Store) ListRecordIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int64{}
	for id, rec := range s.Records {
		if rec.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListEntries implements inventory.RepositoryPort.
func (s *Store) ListEntries(ctx context.Context, recordID int64, filter inventory.EntryFilter) ([]inventory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.Entry{}
	for _, e := range s.entriesFor(recordID) {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// JournalBalance implements inventory.RepositoryPort.
func (s *Store) JournalBalance(ctx context.Context, recordID int64) (decimal.Decimal, decimal.Decimal, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[recordID]
	if !ok {
		return decimal.Zero, decimal.Zero, 0, shared.ErrNotFound
	}
	sum := decimal.Zero
	entries := s.entriesFor(recordID)
	for _, e := range entries {
		sum = sum.Add(e.Quantity)
	}
	return rec.Quantity, sum, len(entries), nil
}

// GetTransfer implements inventory.RepositoryPort.
func (s *Store) GetTransfer(ctx context.Context, id int64) (inventory.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Transfers {
		if t.ID == id {
			return t, nil
		}
	}
	return inventory.TransferRecord{}, shared.ErrNotFound
}

// Tx implements inventory.TxRepository against the store.
type Tx struct {
	store *Store
}

func (t *Tx) GetRecordForUpdate(ctx context.Context, id int64) (inventory.Record, error) {
	rec, ok := t.store.Records[id]
	if !ok {
		return inventory.Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (t *Tx) LockRecords(ctx context.Context, ids []int64) (map[int64]inventory.Record, error) {
	t.store.Locks = append(t.store.Locks, append([]int64(nil), ids...))
	out := make(map[int64]inventory.Record, len(ids))
	for _, id := range ids {
		rec, ok := t.store.Records[id]
		if !ok {
			return nil, shared.ErrNotFound
		}
		out[id] = rec
	}
	return out, nil
}

func (t *Tx) FindRecord(ctx context.Context, itemID int64, location inventory.Location) (inventory.Record, error) {
	for _, rec := range t.store.Records {
		if rec.ItemID == itemID && rec.Location == location {
			return rec, nil
		}
	}
	return inventory.Record{}, shared.ErrNotFound
}

func (t *Tx) ActiveRecords(ctx context.Context, location inventory.Location) ([]inventory.Record, error) {
	out := []inventory.Record{}
	for _, rec := range t.store.Records {
		if rec.Location == location && rec.Active {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *Tx) InsertRecord(ctx context.Context, rec inventory.Record) (inventory.Record, error) {
	if _, err := t.FindRecord(ctx, rec.ItemID, rec.Location); err == nil {
		return inventory.Record{}, inventory.ErrDuplicateRecord
	}
	t.store.nextID++
	rec.ID = t.store.nextID
	rec.Active = true
	rec.UnitCost = inventory.RoundCost(rec.UnitCost)
	rec.CreatedAt = t.store.Now()
	rec.UpdatedAt = rec.CreatedAt
	t.store.Records[rec.ID] = rec
	return rec, nil
}

func (t *Tx) UpdateBalance(ctx context.Context, id int64, qty, unitCost decimal.Decimal) error {
	rec, ok := t.store.Records[id]
	if !ok {
		return shared.ErrNotFound
	}
	rec.Quantity = qty
	rec.UnitCost = inventory.RoundCost(unitCost)
	rec.UpdatedAt = t.store.Now()
	t.store.Records[id] = rec
	return nil
}

func (t *Tx) SetActive(ctx context.Context, id int64, active bool) error {
	rec, ok := t.store.Records[id]
	if !ok {
		return shared.ErrNotFound
	}
	rec.Active = active
	t.store.Records[id] = rec
	return nil
}

func (t *Tx) InsertEntry(ctx context.Context, entry inventory.Entry) (inventory.Entry, error) {
	t.store.nextID++
	entry.ID = t.store.nextID
	entry.UnitCost = inventory.RoundCost(entry.UnitCost)
	entry.CreatedAt = t.store.Now()
	t.store.Entries = append(t.store.Entries, entry)
	return entry, nil
}

func (t *Tx) InsertTransfer(ctx context.Context, trf inventory.TransferRecord) (inventory.TransferRecord, error) {
	t.store.nextID++
	trf.ID = t.store.nextID
	trf.CreatedAt = t.store.Now()
	t.store.Transfers = append(t.store.Transfers, trf)
	return trf, nil
}

func (t *Tx) InsertAudit(ctx context.Context, entry audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	t.store.nextID++
	entry.ID = t.store.nextID
	entry.CreatedAt = t.store.Now()
	t.store.Audits = append(t.store.Audits, entry)
	return nil
}
