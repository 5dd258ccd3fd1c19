package opname

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/audit"
	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

const entitySession = audit.EntityStockOpname

// RepositoryPort abstracts session persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSession(ctx context.Context, id int64) (Session, error)
	ListSessions(ctx context.Context, filter ListFilter, offset, limit int) ([]Session, error)
}

// LedgerPort is the slice of the inventory ledger used to post adjustments.
type LedgerPort interface {
	AdjustTx(ctx context.Context, tx inventory.TxRepository, in inventory.AdjustInput) (inventory.Record, inventory.Entry, error)
	NotifyMovement(ctx context.Context, rec inventory.Record, entry inventory.Entry)
}

type posting struct {
	record inventory.Record
	entry  inventory.Entry
}

// Observer is notified after a session completes.
type Observer interface {
	OpnameCompleted(ctx context.Context, session Session)
}

// Observers notifies every member in order.
type Observers []Observer

func (o Observers) OpnameCompleted(ctx context.Context, session Session) {
	for _, obs := range o {
		obs.OpnameCompleted(ctx, session)
	}
}

// ListResult wraps a page of sessions.
type ListResult struct {
	Rows   []Session         `json:"results"`
	Paging shared.PagingInfo `json:"paging"`
}

// Service coordinates counting sessions.
type Service struct {
	repo     RepositoryPort
	ledger   LedgerPort
	locker   Locker
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. locker and observer may be nil.
func NewService(repo RepositoryPort, ledger LedgerPort, locker Locker, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, locker: locker, observer: observer, logger: logger, now: time.Now}
}

// Create opens a DRAFT session, optionally snapshotting every active record at the location.
func (s *Service) Create(ctx context.Context, in CreateInput) (Session, error) {
	if in.Actor <= 0 {
		return Session{}, shared.ErrActorRequired
	}
	if !in.Location.Valid() {
		return Session{}, ErrInvalidLocation
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var out Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.InsertSession(ctx, Session{
			Number:           sessionNumber(date),
			Date:             date,
			Location:         in.Location,
			Status:           StatusDraft,
			Notes:            strings.TrimSpace(in.Notes),
			CreatedBy:        in.Actor,
			DiscrepancyValue: decimal.Zero,
		})
		if err != nil {
			return err
		}
		if in.AutoPopulate {
			records, err := tx.ActiveRecords(ctx, in.Location)
			if err != nil {
				return err
			}
			for _, rec := range records {
				line, err := tx.InsertLine(ctx, snapshotLine(sess.ID, rec))
				if err != nil {
					return err
				}
				sess.Lines = append(sess.Lines, line)
			}
		}
		out = sess
		return tx.InsertAudit(ctx, audit.Entry{
			Action:      audit.ActionCreate,
			EntityType:  entitySession,
			EntityID:    strconv.FormatInt(sess.ID, 10),
			EntityLabel: sess.Number,
			ActorID:     in.Actor,
			Changes: audit.Changes{}.
				Set("status", string(sess.Status)).
				Set("location", string(sess.Location)).
				Set("lines", len(sess.Lines)),
			Notes: sess.Notes,
		})
	})
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

// AddLine snapshots one more record into a non-terminal session.
func (s *Service) AddLine(ctx context.Context, sessionID, recordID, actor int64) (Line, error) {
	if actor <= 0 {
		return Line{}, shared.ErrActorRequired
	}
	var out Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sess.Status.CanEditLines() {
			return shared.Detailed(ErrSessionClosed, "status %s", sess.Status)
		}
		rec, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.Location != sess.Location {
			return shared.Detailed(ErrLocationMismatch, "record at %s, session covers %s", rec.Location, sess.Location)
		}
		if !rec.Active {
			return inventory.ErrInactiveRecord
		}
		lines, err := tx.ListLines(ctx, sess.ID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.RecordID == recordID {
				return ErrDuplicateLine
			}
		}
		out, err = tx.InsertLine(ctx, snapshotLine(sess.ID, rec))
		if err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Entry{
			Action:      audit.ActionUpdate,
			EntityType:  entitySession,
			EntityID:    strconv.FormatInt(sess.ID, 10),
			EntityLabel: sess.Number,
			ActorID:     actor,
			Changes:     audit.Changes{}.Set("line", rec.Label()).Set("system_quantity", rec.Quantity),
		})
	})
	if err != nil {
		return Line{}, err
	}
	return out, nil
}

// RecordCount stores a physical count. Status does not change.
func (s *Service) RecordCount(ctx context.Context, in RecordCountInput) (Line, error) {
	if in.Actor <= 0 {
		return Line{}, shared.ErrActorRequired
	}
	if in.CountedQuantity.IsNegative() {
		return Line{}, ErrNegativeCount
	}
	var out Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, in.SessionID)
		if err != nil {
			return err
		}
		if !sess.Status.CanEditLines() {
			return shared.Detailed(ErrSessionClosed, "status %s", sess.Status)
		}
		lines, err := tx.ListLines(ctx, sess.ID)
		if err != nil {
			return err
		}
		idx := -1
		for i, l := range lines {
			if l.ID == in.LineID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return shared.Detailed(shared.ErrNotFound, "line %d in session %d", in.LineID, sess.ID)
		}
		line := lines[idx]
		previous := line.CountedQuantity
		now := s.now().UTC()
		actor := in.Actor
		line.CountedQuantity = decimal.NewNullDecimal(in.CountedQuantity)
		line.Difference = decimal.NewNullDecimal(in.CountedQuantity.Sub(line.SystemQuantity))
		line.Reason = strings.TrimSpace(in.Reason)
		line.CountedBy = &actor
		line.CountedAt = &now
		if err := tx.UpdateLineCount(ctx, line); err != nil {
			return err
		}
		out = line
		var old any
		if previous.Valid {
			old = previous.Decimal
		}
		return tx.InsertAudit(ctx, audit.Entry{
			Action:      audit.ActionCount,
			EntityType:  entitySession,
			EntityID:    strconv.FormatInt(sess.ID, 10),
			EntityLabel: sess.Number,
			ActorID:     in.Actor,
			Changes: audit.Diff("counted_quantity", old, in.CountedQuantity).
				Set("line", line.ItemName).
				Set("difference", line.Difference.Decimal),
			Notes: line.Reason,
		})
	})
	if err != nil {
		return Line{}, err
	}
	return out, nil
}

// Start moves a DRAFT session to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, id, actor int64) (Session, error) {
	return s.transition(ctx, id, actor, audit.ActionStart, "", func(sess *Session, now time.Time) error {
		if !sess.Status.CanStart() {
			return shared.Detailed(ErrCannotStart, "status %s", sess.Status)
		}
		sess.Status = StatusInProgress
		sess.StartedAt = &now
		return nil
	})
}

// Cancel abandons a session. No ledger writes happen.
func (s *Service) Cancel(ctx context.Context, id, actor int64, reason string) (Session, error) {
	return s.transition(ctx, id, actor, audit.ActionCancel, reason, func(sess *Session, now time.Time) error {
		if !sess.Status.CanCancel() {
			return shared.Detailed(ErrCannotCancel, "status %s", sess.Status)
		}
		sess.Status = StatusCancelled
		sess.CancelledAt = &now
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id, actor int64, action audit.Action, notes string, apply func(*Session, time.Time) error) (Session, error) {
	if actor <= 0 {
		return Session{}, shared.ErrActorRequired
	}
	var out Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := sess.Status
		if err := apply(&sess, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = sess
		return tx.InsertAudit(ctx, audit.Entry{
			Action:      action,
			EntityType:  entitySession,
			EntityID:    strconv.FormatInt(sess.ID, 10),
			EntityLabel: sess.Number,
			ActorID:     actor,
			Changes:     audit.Diff("status", string(from), string(sess.Status)),
			Notes:       strings.TrimSpace(notes),
		})
	})
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

// Complete posts one ADJUSTMENT per discrepant line and closes the session.
// Everything happens in one transaction; any failing line rolls back the lot.
// Completion is refused while a record no longer holds its snapshot quantity,
// so each adjustment equals the discrepancy the session reports.
func (s *Service) Complete(ctx context.Context, id, actor int64) (Session, error) {
	if actor <= 0 {
		return Session{}, shared.ErrActorRequired
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.OpnameLockKey(id))
		if err != nil {
			return Session{}, err
		}
		defer release()
	}

	var out Session
	var postings []posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.GetSessionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sess.Status.CanComplete() {
			return shared.Detailed(ErrCannotComplete, "status %s", sess.Status)
		}
		lines, err := tx.ListLines(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}
		uncounted := 0
		for _, l := range lines {
			if !l.Counted() {
				uncounted++
			}
		}
		if uncounted > 0 {
			return shared.Detailed(ErrUncountedLines, "%d of %d lines uncounted", uncounted, len(lines))
		}

		sort.Slice(lines, func(i, j int) bool { return lines[i].RecordID < lines[j].RecordID })
		var moved []string
		for _, l := range lines {
			rec, err := tx.GetRecordForUpdate(ctx, l.RecordID)
			if err != nil {
				return shared.Detailed(err, "line %d record %d", l.ID, l.RecordID)
			}
			if !rec.Quantity.Equal(l.SystemQuantity) {
				moved = append(moved, fmt.Sprintf("%d (snapshot %s, now %s)", rec.ID, l.SystemQuantity, rec.Quantity))
			}
		}
		if len(moved) > 0 {
			return shared.Detailed(ErrStockMoved, "records %s", strings.Join(moved, ", "))
		}

		posted := make([]posting, 0, len(lines))
		value := decimal.Zero
		for _, l := range lines {
			diff := l.CountedQuantity.Decimal.Sub(l.SystemQuantity)
			if diff.IsZero() {
				continue
			}
			reason := l.Reason
			if reason == "" {
				reason = "stock opname " + sess.Number
			}
			rec, entry, err := s.ledger.AdjustTx(ctx, tx, inventory.AdjustInput{
				RecordID:    l.RecordID,
				NewQuantity: l.CountedQuantity.Decimal,
				Reason:      reason,
				Reference:   sess.Number,
				Actor:       actor,
			})
			if err != nil {
				return shared.Detailed(err, "line %d record %d", l.ID, l.RecordID)
			}
			if !entry.Quantity.Equal(diff) {
				return shared.Invariantf("line %d posted %s, discrepancy is %s", l.ID, entry.Quantity, diff)
			}
			value = value.Add(diff.Mul(rec.UnitCost))
			posted = append(posted, posting{record: rec, entry: entry})
		}

		now := s.now().UTC()
		from := sess.Status
		sess.Status = StatusCompleted
		sess.CompletedBy = &actor
		sess.CompletedAt = &now
		sess.TotalItemsCounted = len(lines)
		sess.TotalDiscrepancies = len(posted)
		sess.DiscrepancyValue = value
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		sess.Lines = lines
		if err := tx.InsertAudit(ctx, audit.Entry{
			Action:      audit.ActionComplete,
			EntityType:  entitySession,
			EntityID:    strconv.FormatInt(sess.ID, 10),
			EntityLabel: sess.Number,
			ActorID:     actor,
			Changes: audit.Diff("status", string(from), string(sess.Status)).
				Set("total_items_counted", sess.TotalItemsCounted).
				Set("total_discrepancies", sess.TotalDiscrepancies).
				Set("discrepancy_value", sess.DiscrepancyValue),
		}); err != nil {
			return err
		}
		out, postings = sess, posted
		return nil
	})
	if err != nil {
		if shared.IsInvariant(err) {
			s.logger.ErrorContext(ctx, "opname completion invariant violated", slog.Int64("session_id", id), slog.Any("error", err))
		}
		return Session{}, err
	}
	for _, p := range postings {
		s.ledger.NotifyMovement(ctx, p.record, p.entry)
	}
	if s.observer != nil {
		s.observer.OpnameCompleted(ctx, out)
	}
	s.logger.InfoContext(ctx, "stock opname completed",
		slog.String("number", out.Number),
		slog.Int("items", out.TotalItemsCounted),
		slog.Int("discrepancies", out.TotalDiscrepancies),
		slog.String("value", out.DiscrepancyValue.String()))
	return out, nil
}

// Get loads a session with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Session, error) {
	return s.repo.GetSession(ctx, id)
}

// List pages through sessions, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return ListResult{}, shared.NewValidationError("status", "unknown status")
	}
	if filter.Location != "" && !filter.Location.Valid() {
		return ListResult{}, ErrInvalidLocation
	}
	page, size, offset := shared.NormalizePage(filter.Page, filter.PageSize, 20, 100)
	rows, err := s.repo.ListSessions(ctx, filter, offset, size+1)
	if err != nil {
		return ListResult{}, err
	}
	hasNext := len(rows) > size
	if hasNext {
		rows = rows[:size]
	}
	return ListResult{Rows: rows, Paging: shared.NewPagingInfo(page, size, hasNext)}, nil
}

func snapshotLine(sessionID int64, rec inventory.Record) Line {
	return Line{
		SessionID:      sessionID,
		RecordID:       rec.ID,
		ItemName:       rec.ItemName,
		Unit:           rec.Unit,
		SystemQuantity: rec.Quantity,
	}
}

func sessionNumber(date time.Time) string {
	return fmt.Sprintf("SO-%s-%s", date.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
