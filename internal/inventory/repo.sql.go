package inventory

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/audit"
	"github.com/odyssey-erp/stockroom/internal/platform/db"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, id int64) (Record, error)
	LockRecords(ctx context.Context, ids []int64) (map[int64]Record, error)
	FindRecord(ctx context.Context, itemID int64, location Location) (Record, error)
	ActiveRecords(ctx context.Context, location Location) ([]Record, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	UpdateBalance(ctx context.Context, id int64, qty, unitCost decimal.Decimal) error
	SetActive(ctx context.Context, id int64, active bool) error
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	InsertTransfer(ctx context.Context, trf TransferRecord) (TransferRecord, error)
	InsertAudit(ctx context.Context, entry audit.Entry) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other packages can compose ledger writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const recordColumns = `id, item_id, item_name, location, unit, quantity, unit_cost, min_quantity, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var loc string
	err := row.Scan(&rec.ID, &rec.ItemID, &rec.ItemName, &loc, &rec.Unit, &rec.Quantity, &rec.UnitCost, &rec.MinQuantity, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	rec.Location = Location(loc)
	return rec, nil
}

// GetRecord reads a record without locking.
func (r *Repository) GetRecord(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE id=$1`, id))
}

// ListRecords lists records ordered by item and location.
func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.Location != "" {
		add("location = ?", string(filter.Location))
	}
	if filter.ItemID != 0 {
		add("item_id = ?", filter.ItemID)
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "active")
	}
	if filter.BelowMinimum {
		clauses = append(clauses, "min_quantity > 0 AND quantity < min_quantity")
	}
	query := `SELECT ` + recordColumns + ` FROM inventory_records`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY item_name, location, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListEntries returns journal rows for a record in chronological order.
func (r *Repository) ListEntries(ctx context.Context, recordID int64, filter EntryFilter) ([]Entry, error) {
	args := []any{recordID}
	query := `SELECT id, record_id, kind, quantity, unit_cost, balance_after, reference, notes, COALESCE(actor_id, 0), created_at
FROM inventory_entries WHERE record_id=$1`
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.RecordID, &kind, &e.Quantity, &e.UnitCost, &e.BalanceAfter, &e.Reference, &e.Notes, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// JournalBalance reads the record quantity and the journal sum in one statement
// so both come from the same snapshot.
func (r *Repository) JournalBalance(ctx context.Context, recordID int64) (decimal.Decimal, decimal.Decimal, int, error) {
	var recordQty, journalQty decimal.Decimal
	var count int
	err := r.pool.QueryRow(ctx, `SELECT r.quantity, COALESCE(SUM(e.quantity), 0), COUNT(e.id)
FROM inventory_records r
LEFT JOIN inventory_entries e ON e.record_id = r.id
WHERE r.id=$1
GROUP BY r.id, r.quantity`, recordID).Scan(&recordQty, &journalQty, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, decimal.Zero, 0, shared.ErrNotFound
		}
		return decimal.Zero, decimal.Zero, 0, err
	}
	return recordQty, journalQty, count, nil
}

// ListRecordIDs returns ids of active records, used by background verification.
func (r *Repository) ListRecordIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM inventory_records WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetTransfer loads a transfer by id.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (TransferRecord, error) {
	var t TransferRecord
	err := r.pool.QueryRow(ctx, `SELECT id, source_record_id, destination_record_id, quantity, source_unit, COALESCE(actor_id, 0), notes, created_at
FROM stock_transfers WHERE id=$1`, id).Scan(&t.ID, &t.SourceID, &t.DestinationID, &t.Quantity, &t.SourceUnit, &t.ActorID, &t.Notes, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransferRecord{}, shared.ErrNotFound
		}
		return TransferRecord{}, err
	}
	return t, nil
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE id=$1 FOR UPDATE`, id))
}

// LockRecords locks rows in ascending id order so concurrent multi-record
// operations cannot deadlock.
func (r *txRepository) LockRecords(ctx context.Context, ids []int64) (map[int64]Record, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, shared.Detailed(shared.ErrNotFound, "inventory record %d", id)
		}
	}
	return out, nil
}

func (r *txRepository) FindRecord(ctx context.Context, itemID int64, location Location) (Record, error) {
	return scanRecord(r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE item_id=$1 AND location=$2 FOR UPDATE`, itemID, string(location)))
}

func (r *txRepository) ActiveRecords(ctx context.Context, location Location) ([]Record, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE location=$1 AND active ORDER BY id`, string(location))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *txRepository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_records (item_id, item_name, location, unit, quantity, unit_cost, min_quantity, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,NOW(),NOW()) RETURNING id, active, created_at, updated_at`,
		rec.ItemID, rec.ItemName, string(rec.Location), rec.Unit, rec.Quantity, rec.UnitCost, rec.MinQuantity).
		Scan(&rec.ID, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateRecord
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *txRepository) UpdateBalance(ctx context.Context, id int64, qty, unitCost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_records SET quantity=$2, unit_cost=$3, updated_at=NOW() WHERE id=$1`, id, qty, unitCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_records SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	return err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_entries (record_id, kind, quantity, unit_cost, balance_after, reference, notes, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
		entry.RecordID, string(entry.Kind), entry.Quantity, entry.UnitCost, entry.BalanceAfter, entry.Reference, entry.Notes, nullInt(entry.ActorID)).
		Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}

func (r *txRepository) InsertTransfer(ctx context.Context, trf TransferRecord) (TransferRecord, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (source_record_id, destination_record_id, quantity, source_unit, actor_id, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id, created_at`,
		trf.SourceID, trf.DestinationID, trf.Quantity, trf.SourceUnit, nullInt(trf.ActorID), trf.Notes).
		Scan(&trf.ID, &trf.CreatedAt)
	return trf, err
}

func (r *txRepository) InsertAudit(ctx context.Context, entry audit.Entry) error {
	if entry.RemoteAddr == "" {
		entry.RemoteAddr = shared.RemoteAddrFromContext(ctx)
	}
	return audit.Insert(ctx, r.tx, entry)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
