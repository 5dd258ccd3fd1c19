package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/audit"
	"github.com/odyssey-erp/stockroom/internal/costing"
	"github.com/odyssey-erp/stockroom/internal/shared"
	"github.com/odyssey-erp/stockroom/internal/units"
)

const entityRecord = audit.EntityInventoryRecord

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, id int64) (Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	ListEntries(ctx context.Context, recordID int64, filter EntryFilter) ([]Entry, error)
	JournalBalance(ctx context.Context, recordID int64) (decimal.Decimal, decimal.Decimal, int, error)
	GetTransfer(ctx context.Context, id int64) (TransferRecord, error)
}

// IdempotencyPort guards replayed transfer requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// TransferTolerance bounds the value drift accepted across a transfer.
	TransferTolerance decimal.Decimal
}

// Service owns every write to inventory records and their journal.
type Service struct {
	repo        RepositoryPort
	units       units.Table
	idempotency IdempotencyPort
	observer    Observer
	logger      *slog.Logger
	tolerance   decimal.Decimal
}

// NewService builds Service.
func NewService(repo RepositoryPort, table units.Table, idem IdempotencyPort, observer Observer, logger *slog.Logger, cfg ServiceConfig) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	tolerance := cfg.TransferTolerance
	if !tolerance.IsPositive() {
		tolerance = decimal.RequireFromString("0.01")
	}
	return &Service{repo: repo, units: table, idempotency: idem, observer: observer, logger: logger, tolerance: tolerance}
}

// Units exposes the conversion table the service was built with.
func (s *Service) Units() units.Table {
	return s.units
}

// GetRecord reads one record.
func (s *Service) GetRecord(ctx context.Context, id int64) (Record, error) {
	return s.repo.GetRecord(ctx, id)
}

// ListRecords lists records; BelowMinimum narrows to low-stock rows.
func (s *Service) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	if filter.Location != "" && !filter.Location.Valid() {
		return nil, ErrInvalidLocation
	}
	return s.repo.ListRecords(ctx, filter)
}

// ListEntries returns the journal of one record.
func (s *Service) ListEntries(ctx context.Context, recordID int64, filter EntryFilter) ([]Entry, error) {
	if _, err := s.repo.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, recordID, filter)
}

// VerifyJournal replays the journal of a record and compares it with the
// stored quantity. A mismatch is an invariant violation.
func (s *Service) VerifyJournal(ctx context.Context, recordID int64) (JournalCheck, error) {
	recordQty, journalQty, count, err := s.repo.JournalBalance(ctx, recordID)
	if err != nil {
		return JournalCheck{}, err
	}
	check := JournalCheck{
		RecordID:        recordID,
		RecordQuantity:  recordQty,
		JournalQuantity: journalQty,
		Entries:         count,
		Consistent:      recordQty.Equal(journalQty),
	}
	if !check.Consistent {
		return check, s.violation(ctx, "verify_journal", shared.Invariantf("record %d holds %s but journal sums to %s", recordID, recordQty, journalQty))
	}
	return check, nil
}

// Revalue rebuilds quantity and moving-average cost from the journal. It is
// read-only; drift beyond tolerance is reported, never corrected.
func (s *Service) Revalue(ctx context.Context, recordID int64, tolerance decimal.Decimal) (Revaluation, error) {
	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return Revaluation{}, err
	}
	entries, err := s.repo.ListEntries(ctx, recordID, EntryFilter{})
	if err != nil {
		return Revaluation{}, err
	}
	moves := make([]costing.Movement, 0, len(entries))
	for _, e := range entries {
		moves = append(moves, costing.Movement{
			Quantity: e.Quantity,
			UnitCost: e.UnitCost,
			Receipt:  e.Kind == EntryPurchase || e.Kind == EntryTransfer,
		})
	}
	qty, cost := costing.ReplayMovements(moves)
	out := Revaluation{
		RecordID:         rec.ID,
		StoredQuantity:   rec.Quantity,
		StoredUnitCost:   rec.UnitCost,
		ReplayedQuantity: qty,
		ReplayedUnitCost: cost,
	}
	if len(entries) > 0 && rec.Quantity.IsPositive() {
		out.Drift = !qty.Equal(rec.Quantity) || cost.Sub(rec.UnitCost).Abs().GreaterThan(tolerance)
	} else {
		out.Drift = !qty.Equal(rec.Quantity)
	}
	return out, nil
}

// Onboarded is returned by CreateRecord.
type Onboarded struct {
	Record      Record  `json:"record"`
	Counterpart *Record `json:"counterpart,omitempty"`
}

// CreateRecord introduces an item at a location. An opening quantity is
// journaled as a purchase so the journal replays to the stored balance.
func (s *Service) CreateRecord(ctx context.Context, in CreateRecordInput) (Onboarded, error) {
	if err := requireActor(in.Actor); err != nil {
		return Onboarded{}, err
	}
	in.ItemName = strings.TrimSpace(in.ItemName)
	in.Unit = strings.TrimSpace(strings.ToLower(in.Unit))
	switch {
	case in.ItemID <= 0:
		return Onboarded{}, shared.NewValidationError("kitchen_item_id", "required")
	case in.ItemName == "":
		return Onboarded{}, shared.NewValidationError("item_name", "required")
	case in.Unit == "":
		return Onboarded{}, shared.NewValidationError("unit", "required")
	case !in.Location.Valid():
		return Onboarded{}, ErrInvalidLocation
	case in.Quantity.IsNegative():
		return Onboarded{}, ErrNegativeQuantity
	case in.UnitCost.IsNegative():
		return Onboarded{}, ErrInvalidUnitCost
	case in.MinQuantity.IsNegative():
		return Onboarded{}, shared.NewValidationError("min_quantity", "must not be negative")
	}
	if in.Location == LocationBulk && in.EnsurePair {
		if _, err := s.units.Lookup(in.Unit); err != nil {
			return Onboarded{}, err
		}
	}

	var out Onboarded
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.FindRecord(ctx, in.ItemID, in.Location); err == nil {
			return ErrDuplicateRecord
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		rec, err := tx.InsertRecord(ctx, Record{
			ItemID:      in.ItemID,
			ItemName:    in.ItemName,
			Location:    in.Location,
			Unit:        in.Unit,
			Quantity:    decimal.Zero,
			UnitCost:    RoundCost(in.UnitCost),
			MinQuantity: in.MinQuantity,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, audit.Entry{
			Action:      audit.ActionCreate,
			EntityType:  entityRecord,
			EntityID:    strconv.FormatInt(rec.ID, 10),
			EntityLabel: rec.Label(),
			ActorID:     in.Actor,
			Changes: audit.Changes{}.
				Set("location", string(rec.Location)).
				Set("unit", rec.Unit).
				Set("unit_cost", rec.UnitCost).
				Set("min_quantity", rec.MinQuantity),
		}); err != nil {
			return err
		}
		if in.Quantity.IsPositive() {
			rec, _, err = s.receiveLocked(ctx, tx, rec, ReceiveInput{
				Quantity:  in.Quantity,
				UnitCost:  in.UnitCost,
				SourceRef: "OPENING",
				Notes:     "opening balance",
				Actor:     in.Actor,
			})
			if err != nil {
				return err
			}
		}
		out.Record = rec
		if in.EnsurePair && rec.Location == LocationBulk {
			pair, err := s.ensurePairedLocked(ctx, tx, rec, in.Actor)
			if err != nil {
				return err
			}
			out.Counterpart = &pair
		}
		return nil
	})
	if err != nil {
		return Onboarded{}, s.fail(ctx, "create_record", err)
	}
	return out, nil
}

// EnsurePaired returns the counterpart of a record, creating the PREP side of a
// BULK record when it does not exist yet. Calling it repeatedly is safe.
func (s *Service) EnsurePaired(ctx context.Context, recordID int64, actor int64) (Record, error) {
	if err := requireActor(actor); err != nil {
		return Record{}, err
	}
	var pair Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.Location == LocationPrep {
			bulk, err := tx.FindRecord(ctx, rec.ItemID, LocationBulk)
			if errors.Is(err, shared.ErrNotFound) {
				return ErrNoCounterpart
			}
			pair = bulk
			return err
		}
		pair, err = s.ensurePairedLocked(ctx, tx, rec, actor)
		return err
	})
	if err != nil {
		return Record{}, s.fail(ctx, "ensure_paired", err)
	}
	return pair, nil
}

func (s *Service) ensurePairedLocked(ctx context.Context, tx TxRepository, bulk Record, actor int64) (Record, error) {
	existing, err := tx.FindRecord(ctx, bulk.ItemID, LocationPrep)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Record{}, err
	}
	if !bulk.Active {
		return Record{}, ErrInactiveRecord
	}
	rule, err := s.units.Lookup(bulk.Unit)
	if err != nil {
		return Record{}, err
	}
	prep, err := tx.InsertRecord(ctx, Record{
		ItemID:      bulk.ItemID,
		ItemName:    bulk.ItemName,
		Location:    LocationPrep,
		Unit:        rule.PrepUnit,
		Quantity:    decimal.Zero,
		UnitCost:    RoundCost(rule.PrepUnitCost(bulk.UnitCost)),
		MinQuantity: decimal.Zero,
	})
	if err != nil {
		return Record{}, err
	}
	err = tx.InsertAudit(ctx, audit.Entry{
		Action:      audit.ActionCreate,
		EntityType:  entityRecord,
		EntityID:    strconv.FormatInt(prep.ID, 10),
		EntityLabel: prep.Label(),
		ActorID:     actor,
		Changes: audit.Changes{}.
			Set("location", string(prep.Location)).
			Set("unit", prep.Unit).
			Set("unit_cost", prep.UnitCost),
		Notes: fmt.Sprintf("paired from record %d", bulk.ID),
	})
	return prep, err
}

// Deactivate retires a record. Records are never deleted.
func (s *Service) Deactivate(ctx context.Context, recordID int64, actor int64) (Record, error) {
	if err := requireActor(actor); err != nil {
		return Record{}, err
	}
	var out Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if !rec.Active {
			out = rec
			return nil
		}
		if err := tx.SetActive(ctx, rec.ID, false); err != nil {
			return err
		}
		rec.Active = false
		out = rec
		return tx.InsertAudit(ctx, audit.Entry{
			Action:      audit.ActionDeactivate,
			EntityType:  entityRecord,
			EntityID:    strconv.FormatInt(rec.ID, 10),
			EntityLabel: rec.Label(),
			ActorID:     actor,
			Changes:     audit.Diff("active", true, false),
		})
	})
	if err != nil {
		return Record{}, s.fail(ctx, "deactivate", err)
	}
	return out, nil
}

// Receive adds stock to a record at a unit price using the moving average.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (Record, Entry, error) {
	var rec Record
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, entry, err = s.ReceiveTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Record{}, Entry{}, s.fail(ctx, "receive", err)
	}
	s.NotifyMovement(ctx, rec, entry)
	return rec, entry, nil
}

// ReceiveTx is Receive inside an existing transaction.
func (s *Service) ReceiveTx(ctx context.Context, tx TxRepository, in ReceiveInput) (Record, Entry, error) {
	if err := validateReceive(in); err != nil {
		return Record{}, Entry{}, err
	}
	rec, err := tx.GetRecordForUpdate(ctx, in.RecordID)
	if err != nil {
		return Record{}, Entry{}, err
	}
	return s.receiveLocked(ctx, tx, rec, in)
}

func validateReceive(in ReceiveInput) error {
	if err := requireActor(in.Actor); err != nil {
		return err
	}
	if !in.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	return nil
}

func (s *Service) receiveLocked(ctx context.Context, tx TxRepository, rec Record, in ReceiveInput) (Record, Entry, error) {
	if err := validateReceive(in); err != nil {
		return Record{}, Entry{}, err
	}
	if !rec.Active {
		return Record{}, Entry{}, ErrInactiveRecord
	}
	kind := in.Kind
	if kind == "" {
		kind = EntryPurchase
	}
	inCost := RoundCost(in.UnitCost)
	newCost := RoundCost(costing.ApplyReceipt(rec.Quantity, rec.UnitCost, in.Quantity, inCost))
	newQty := rec.Quantity.Add(in.Quantity)
	if err := tx.UpdateBalance(ctx, rec.ID, newQty, newCost); err != nil {
		return Record{}, Entry{}, err
	}
	entry, err := tx.InsertEntry(ctx, Entry{
		RecordID:     rec.ID,
		Kind:         kind,
		Quantity:     in.Quantity,
		UnitCost:     inCost,
		BalanceAfter: newQty,
		Reference:    in.SourceRef,
		Notes:        in.Notes,
		ActorID:      in.Actor,
	})
	if err != nil {
		return Record{}, Entry{}, err
	}
	action := audit.ActionReceive
	if kind == EntryTransfer {
		action = audit.ActionTransfer
	}
	if err := tx.InsertAudit(ctx, audit.Entry{
		Action:      action,
		EntityType:  entityRecord,
		EntityID:    strconv.FormatInt(rec.ID, 10),
		EntityLabel: rec.Label(),
		ActorID:     in.Actor,
		Changes: audit.Diff("quantity", rec.Quantity, newQty).
			Add("unit_cost", rec.UnitCost, newCost).
			Set("reference", in.SourceRef),
		Notes: in.Notes,
	}); err != nil {
		return Record{}, Entry{}, err
	}
	rec.Quantity = newQty
	rec.UnitCost = newCost
	return rec, entry, nil
}

// Deduct removes stock. Without Override a deduction beyond the balance fails
// with ErrInsufficientStock.
func (s *Service) Deduct(ctx context.Context, in DeductInput) (Record, Entry, error) {
	var rec Record
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, entry, err = s.DeductTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Record{}, Entry{}, s.fail(ctx, "deduct", err)
	}
	s.NotifyMovement(ctx, rec, entry)
	return rec, entry, nil
}

// DeductTx is Deduct inside an existing transaction.
func (s *Service) DeductTx(ctx context.Context, tx TxRepository, in DeductInput) (Record, Entry, error) {
	if err := validateDeduct(in); err != nil {
		return Record{}, Entry{}, err
	}
	rec, err := tx.GetRecordForUpdate(ctx, in.RecordID)
	if err != nil {
		return Record{}, Entry{}, err
	}
	return s.deductLocked(ctx, tx, rec, in)
}

func validateDeduct(in DeductInput) error {
	if err := requireActor(in.Actor); err != nil {
		return err
	}
	if !in.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}

func (s *Service) deductLocked(ctx context.Context, tx TxRepository, rec Record, in DeductInput) (Record, Entry, error) {
	if err := validateDeduct(in); err != nil {
		return Record{}, Entry{}, err
	}
	if !rec.Active {
		return Record{}, Entry{}, ErrInactiveRecord
	}
	if !in.Override && rec.Quantity.LessThan(in.Quantity) {
		return Record{}, Entry{}, insufficient(rec, in.Quantity)
	}
	newQty := rec.Quantity.Sub(in.Quantity)
	if newQty.IsNegative() && !in.Override {
		return Record{}, Entry{}, shared.Invariantf("record %d would hold %s without override", rec.ID, newQty)
	}
	kind := in.Kind
	if kind == "" {
		kind = EntryConsumption
	}
	if err := tx.UpdateBalance(ctx, rec.ID, newQty, rec.UnitCost); err != nil {
		return Record{}, Entry{}, err
	}
	entry, err := tx.InsertEntry(ctx, Entry{
		RecordID:     rec.ID,
		Kind:         kind,
		Quantity:     in.Quantity.Neg(),
		UnitCost:     rec.UnitCost,
		BalanceAfter: newQty,
		Reference:    in.Reference,
		Notes:        in.Reason,
		ActorID:      in.Actor,
	})
	if err != nil {
		return Record{}, Entry{}, err
	}
	if err := tx.InsertAudit(ctx, audit.Entry{
		Action:      actionForKind(kind),
		EntityType:  entityRecord,
		EntityID:    strconv.FormatInt(rec.ID, 10),
		EntityLabel: rec.Label(),
		ActorID:     in.Actor,
		Changes:     audit.Diff("quantity", rec.Quantity, newQty).Set("reference", in.Reference),
		Notes:       in.Reason,
	}); err != nil {
		return Record{}, Entry{}, err
	}
	rec.Quantity = newQty
	return rec, entry, nil
}

// Adjust sets a record to an absolute quantity and journals the signed difference.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (Record, Entry, error) {
	var rec Record
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, entry, err = s.AdjustTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Record{}, Entry{}, s.fail(ctx, "adjust", err)
	}
	s.NotifyMovement(ctx, rec, entry)
	return rec, entry, nil
}

// AdjustTx is Adjust inside an existing transaction.
func (s *Service) AdjustTx(ctx context.Context, tx TxRepository, in AdjustInput) (Record, Entry, error) {
	if err := requireActor(in.Actor); err != nil {
		return Record{}, Entry{}, err
	}
	if in.NewQuantity.IsNegative() {
		return Record{}, Entry{}, ErrNegativeQuantity
	}
	rec, err := tx.GetRecordForUpdate(ctx, in.RecordID)
	if err != nil {
		return Record{}, Entry{}, err
	}
	if !rec.Active {
		return Record{}, Entry{}, ErrInactiveRecord
	}
	diff := in.NewQuantity.Sub(rec.Quantity)
	if diff.IsZero() {
		return Record{}, Entry{}, ErrNoChange
	}
	if err := tx.UpdateBalance(ctx, rec.ID, in.NewQuantity, rec.UnitCost); err != nil {
		return Record{}, Entry{}, err
	}
	entry, err := tx.InsertEntry(ctx, Entry{
		RecordID:     rec.ID,
		Kind:         EntryAdjustment,
		Quantity:     diff,
		UnitCost:     rec.UnitCost,
		BalanceAfter: in.NewQuantity,
		Reference:    in.Reference,
		Notes:        in.Reason,
		ActorID:      in.Actor,
	})
	if err != nil {
		return Record{}, Entry{}, err
	}
	if err := tx.InsertAudit(ctx, audit.Entry{
		Action:      audit.ActionAdjust,
		EntityType:  entityRecord,
		EntityID:    strconv.FormatInt(rec.ID, 10),
		EntityLabel: rec.Label(),
		ActorID:     in.Actor,
		Changes:     audit.Diff("quantity", rec.Quantity, in.NewQuantity).Set("reference", in.Reference),
		Notes:       in.Reason,
	}); err != nil {
		return Record{}, Entry{}, err
	}
	rec.Quantity = in.NewQuantity
	return rec, entry, nil
}

// ReceiveBatch posts a goods receipt. Lines are applied in delivery order
// (line order breaks ties) inside one transaction.
func (s *Service) ReceiveBatch(ctx context.Context, in ReceiptBatchInput) ([]Entry, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidationError("lines", "at least one line required")
	}
	receipts := make([]costing.Receipt, 0, len(in.Lines))
	lines := make(map[int64]ReceiptLine, len(in.Lines))
	idSet := make(map[int64]struct{}, len(in.Lines))
	for i, line := range in.Lines {
		if line.RecordID <= 0 {
			return nil, shared.NewValidationError(fmt.Sprintf("lines[%d].record_id", i), "required")
		}
		if !line.Quantity.IsPositive() {
			return nil, shared.NewValidationError(fmt.Sprintf("lines[%d].quantity", i), "must be greater than zero")
		}
		if line.UnitCost.IsNegative() {
			return nil, shared.NewValidationError(fmt.Sprintf("lines[%d].unit_cost", i), "must not be negative")
		}
		seq := int64(i)
		lines[seq] = line
		idSet[line.RecordID] = struct{}{}
		receipts = append(receipts, costing.Receipt{
			Ref:         strconv.FormatInt(line.RecordID, 10),
			Quantity:    line.Quantity,
			UnitCost:    line.UnitCost,
			DeliveredAt: line.DeliveredAt,
			Sequence:    seq,
		})
	}
	costing.SortChronologically(receipts)
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var entries []Entry
	var touched []Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockRecords(ctx, ids)
		if err != nil {
			return err
		}
		posted := make([]Entry, 0, len(receipts))
		for _, receipt := range receipts {
			line := lines[receipt.Sequence]
			rec := locked[line.RecordID]
			updated, entry, err := s.receiveLocked(ctx, tx, rec, ReceiveInput{
				Quantity:  line.Quantity,
				UnitCost:  line.UnitCost,
				SourceRef: in.Reference,
				Notes:     line.Notes,
				Actor:     in.Actor,
			})
			if err != nil {
				return shared.Detailed(err, "receipt line %d", receipt.Sequence)
			}
			locked[line.RecordID] = updated
			posted = append(posted, entry)
		}
		records := make([]Record, 0, len(ids))
		for _, id := range ids {
			records = append(records, locked[id])
		}
		// Assigned last: a serialization failure replays the whole closure.
		entries, touched = posted, records
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "receive_batch", err)
	}
	for _, entry := range entries {
		s.observer.MovementPosted(ctx, MovementPostedEvent{RecordID: entry.RecordID, Kind: entry.Kind, Quantity: entry.Quantity, Location: locationOf(touched, entry.RecordID)})
	}
	return entries, nil
}

// Consume deducts prep stock on behalf of an external consumer.
func (s *Service) Consume(ctx context.Context, in ConsumeInput) (Record, Entry, error) {
	var rec Record
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := validateDeduct(DeductInput{Quantity: in.Quantity, Actor: in.Actor}); err != nil {
			return err
		}
		locked, err := tx.GetRecordForUpdate(ctx, in.RecordID)
		if err != nil {
			return err
		}
		if locked.Location != LocationPrep {
			return ErrPrepOnly
		}
		rec, entry, err = s.deductLocked(ctx, tx, locked, DeductInput{
			RecordID:  in.RecordID,
			Quantity:  in.Quantity,
			Reason:    in.Notes,
			Reference: in.ItemRef,
			Kind:      EntryConsumption,
			Actor:     in.Actor,
		})
		return err
	})
	if err != nil {
		return Record{}, Entry{}, s.fail(ctx, "consume", err)
	}
	s.NotifyMovement(ctx, rec, entry)
	return rec, entry, nil
}

// NotifyMovement reports a committed journal entry to the observer. Callers
// that post through AdjustTx, ReceiveTx or DeductTx call it after their own
// transaction commits.
func (s *Service) NotifyMovement(ctx context.Context, rec Record, entry Entry) {
	s.observer.MovementPosted(ctx, MovementPostedEvent{RecordID: rec.ID, Location: rec.Location, Kind: entry.Kind, Quantity: entry.Quantity})
}

// fail logs invariant violations at error level and reports them to the observer.
func (s *Service) fail(ctx context.Context, op string, err error) error {
	if shared.IsInvariant(err) {
		return s.violation(ctx, op, err)
	}
	return err
}

func (s *Service) violation(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "inventory invariant violated", slog.String("operation", op), slog.Any("error", err))
	s.observer.InvariantViolated(ctx, op)
	return err
}

func insufficient(rec Record, requested decimal.Decimal) error {
	return shared.Detailed(ErrInsufficientStock, "requested %s %s, available %s, short by %s",
		requested, rec.Unit, rec.Quantity, requested.Sub(rec.Quantity))
}

func actionForKind(kind EntryKind) audit.Action {
	switch kind {
	case EntryTransfer:
		return audit.ActionTransfer
	case EntryAdjustment:
		return audit.ActionAdjust
	case EntryPurchase:
		return audit.ActionReceive
	default:
		return audit.ActionConsume
	}
}

func locationOf(records []Record, id int64) Location {
	for _, rec := range records {
		if rec.ID == id {
			return rec.Location
		}
	}
	return ""
}

func requireActor(actor int64) error {
	if actor <= 0 {
		return shared.ErrActorRequired
	}
	return nil
}
