package opname

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/platform/db"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// TxRepository combines session writes with the ledger's transactional operations
// so completion can post adjustments in the same transaction.
type TxRepository interface {
	inventory.TxRepository
	GetSessionForUpdate(ctx context.Context, id int64) (Session, error)
	InsertSession(ctx context.Context, sess Session) (Session, error)
	UpdateSession(ctx context.Context, sess Session) error
	ListLines(ctx context.Context, sessionID int64) ([]Line, error)
	InsertLine(ctx context.Context, line Line) (Line, error)
	UpdateLineCount(ctx context.Context, line Line) error
}

// Repository persists sessions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("opname repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

const sessionColumns = `id, number, session_date, location, status, notes, created_by, completed_by,
started_at, completed_at, cancelled_at, total_items_counted, total_discrepancies, discrepancy_value, created_at, updated_at`

const lineColumns = `id, session_id, record_id, item_name, unit, system_quantity, counted_quantity, difference,
reason, counted_by, counted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var location, status string
	err := row.Scan(&s.ID, &s.Number, &s.Date, &location, &status, &s.Notes, &s.CreatedBy, &s.CompletedBy,
		&s.StartedAt, &s.CompletedAt, &s.CancelledAt, &s.TotalItemsCounted, &s.TotalDiscrepancies, &s.DiscrepancyValue,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, err
	}
	s.Location = inventory.Location(location)
	s.Status = Status(status)
	return s, nil
}

func scanLine(row rowScanner) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.SessionID, &l.RecordID, &l.ItemName, &l.Unit, &l.SystemQuantity, &l.CountedQuantity,
		&l.Difference, &l.Reason, &l.CountedBy, &l.CountedAt)
	return l, err
}

func queryLines(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, sessionID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM opname_lines WHERE session_id=$1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetSession loads a session and its lines.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	sess, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM opname_sessions WHERE id=$1`, id))
	if err != nil {
		return Session{}, err
	}
	sess.Lines, err = queryLines(ctx, r.pool, id)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ListSessions returns session headers without lines.
func (r *Repository) ListSessions(ctx context.Context, filter ListFilter, offset, limit int) ([]Session, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Location != "" {
		args = append(args, string(filter.Location))
		where = append(where, fmt.Sprintf("location=$%d", len(args)))
	}
	sql := `SELECT ` + sessionColumns + ` FROM opname_sessions`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	sql += fmt.Sprintf(" ORDER BY session_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (r *txRepository) GetSessionForUpdate(ctx context.Context, id int64) (Session, error) {
	return scanSession(r.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM opname_sessions WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) InsertSession(ctx context.Context, sess Session) (Session, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO opname_sessions (number, session_date, location, status, notes, created_by,
total_items_counted, total_discrepancies, discrepancy_value, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,0,0,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		sess.Number, sess.Date, string(sess.Location), string(sess.Status), sess.Notes, sess.CreatedBy).
		Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
	return sess, err
}

func (r *txRepository) UpdateSession(ctx context.Context, sess Session) error {
	tag, err := r.tx.Exec(ctx, `UPDATE opname_sessions SET status=$2, completed_by=$3, started_at=$4, completed_at=$5,
cancelled_at=$6, total_items_counted=$7, total_discrepancies=$8, discrepancy_value=$9, updated_at=NOW() WHERE id=$1`,
		sess.ID, string(sess.Status), sess.CompletedBy, sess.StartedAt, sess.CompletedAt, sess.CancelledAt,
		sess.TotalItemsCounted, sess.TotalDiscrepancies, sess.DiscrepancyValue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) ListLines(ctx context.Context, sessionID int64) ([]Line, error) {
	return queryLines(ctx, r.tx, sessionID)
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (Line, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO opname_lines (session_id, record_id, item_name, unit, system_quantity, reason)
VALUES ($1,$2,$3,$4,$5,'') RETURNING id`,
		line.SessionID, line.RecordID, line.ItemName, line.Unit, line.SystemQuantity).Scan(&line.ID)
	return line, err
}

func (r *txRepository) UpdateLineCount(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `UPDATE opname_lines SET counted_quantity=$2, difference=$3, reason=$4, counted_by=$5, counted_at=$6
WHERE id=$1`, line.ID, line.CountedQuantity, line.Difference, line.Reason, line.CountedBy, line.CountedAt)
	return err
}
