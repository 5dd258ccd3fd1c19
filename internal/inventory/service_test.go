package inventory_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/audit"
	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockroom/internal/platform/db"
	"github.com/odyssey-erp/stockroom/internal/shared"
	"github.com/odyssey-erp/stockroom/internal/units"
)

const actor int64 = 7

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

type stubIdempotency struct {
	keys      map[string]bool
	deleted   []string
	deleteErr error
}

func (s *stubIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys == nil {
		s.keys = map[string]bool{}
	}
	if s.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[module+":"+key] = true
	return nil
}

func (s *stubIdempotency) Delete(ctx context.Context, key, module string) error {
	s.deleted = append(s.deleted, key)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.keys, module+":"+key)
	return nil
}

type recordingObserver struct {
	transfers  []inventory.TransferPostedEvent
	movements  []inventory.MovementPostedEvent
	violations []string
}

func (o *recordingObserver) TransferPosted(ctx context.Context, evt inventory.TransferPostedEvent) {
	o.transfers = append(o.transfers, evt)
}

func (o *recordingObserver) MovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) {
	o.movements = append(o.movements, evt)
}

func (o *recordingObserver) InvariantViolated(ctx context.Context, op string) {
	o.violations = append(o.violations, op)
}

type fixture struct {
	store    *inventorytest.Store
	idem     *stubIdempotency
	observer *recordingObserver
	svc      *inventory.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := inventorytest.NewStore()
	idem := &stubIdempotency{}
	observer := &recordingObserver{}
	svc := inventory.NewService(store, units.Default(), idem, observer, nil, inventory.ServiceConfig{})
	return fixture{store: store, idem: idem, observer: observer, svc: svc}
}

func (f fixture) seedPair(qtyBulk, costBulk, qtyPrep, costPrep string) (inventory.Record, inventory.Record) {
	bulk := f.store.Seed(inventory.Record{ItemID: 1, ItemName: "Flour", Location: inventory.LocationBulk, Unit: "kg", Quantity: d(qtyBulk), UnitCost: d(costBulk), Active: true})
	prep := f.store.Seed(inventory.Record{ItemID: 1, ItemName: "Flour", Location: inventory.LocationPrep, Unit: "g", Quantity: d(qtyPrep), UnitCost: d(costPrep), Active: true})
	return bulk, prep
}

func totalValue(records ...inventory.Record) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Value())
	}
	return sum
}

func TestTransferConvertsAndConservesValue(t *testing.T) {
	f := newFixture(t)
	bulk, prep := f.seedPair("100", "15000", "2000", "15")
	before := totalValue(bulk, prep)

	res, err := f.svc.Transfer(context.Background(), inventory.TransferInput{
		SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("10"), Notes: "morning prep", Actor: actor,
	})
	require.NoError(t, err)

	src, dst := f.store.Record(bulk.ID), f.store.Record(prep.ID)
	requireDec(t, "90", src.Quantity)
	requireDec(t, "15000", src.UnitCost)
	requireDec(t, "12000", dst.Quantity)
	requireDec(t, "15", dst.UnitCost)
	requireDec(t, "10000", res.DestinationQuantity)
	require.Equal(t, "g", res.DestinationUnit)
	require.True(t, before.Sub(totalValue(src, dst)).Abs().LessThanOrEqual(d("0.01")))

	ref := res.Transfer.Reference()
	require.Equal(t, ref, res.Reference)
	srcEntries := f.store.EntriesFor(bulk.ID)
	dstEntries := f.store.EntriesFor(prep.ID)
	srcLast, dstLast := srcEntries[len(srcEntries)-1], dstEntries[len(dstEntries)-1]
	require.Equal(t, inventory.EntryTransfer, srcLast.Kind)
	require.Equal(t, inventory.EntryTransfer, dstLast.Kind)
	require.Equal(t, ref, srcLast.Reference)
	require.Equal(t, ref, dstLast.Reference)
	requireDec(t, "-10", srcLast.Quantity)
	requireDec(t, "10000", dstLast.Quantity)

	require.Len(t, f.store.Audits, 2)
	for _, a := range f.store.Audits {
		require.Equal(t, audit.ActionTransfer, a.Action)
		require.Equal(t, actor, a.ActorID)
	}
	require.Len(t, f.observer.transfers, 1)
	requireDec(t, "150000", f.observer.transfers[0].Value)
}

func TestTransferIntoEmptyDestinationTakesConvertedCost(t *testing.T) {
	f := newFixture(t)
	bulk, prep := f.seedPair("4", "24000", "0", "0")

	res, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("1.5"), Actor: actor})
	require.NoError(t, err)
	requireDec(t, "1500", res.Destination.Quantity)
	requireDec(t, "24", res.Destination.UnitCost)
	requireDec(t, "2.5", res.Source.Quantity)
	requireDec(t, "96000", totalValue(res.Source, res.Destination))
}

func TestTransferLocksInAscendingOrder(t *testing.T) {
	f := newFixture(t)
	prep := f.store.Seed(inventory.Record{ItemID: 3, ItemName: "Milk", Location: inventory.LocationPrep, Unit: "ml", Active: true})
	bulk := f.store.Seed(inventory.Record{ItemID: 3, ItemName: "Milk", Location: inventory.LocationBulk, Unit: "l", Quantity: d("20"), UnitCost: d("18000"), Active: true})
	require.Greater(t, bulk.ID, prep.ID)

	_, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("2"), Actor: actor})
	require.NoError(t, err)
	require.Equal(t, [][]int64{{prep.ID, bulk.ID}}, f.store.Locks)
}

func TestTransferInsufficientStockLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	bulk, prep := f.seedPair("100", "15000", "0", "0")
	entriesBefore := len(f.store.Entries)

	_, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("150"), Actor: actor})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	v, ok := shared.AsValidation(err)
	require.True(t, ok)
	require.Equal(t, "quantity", v.Field)
	require.Contains(t, err.Error(), "short by 50")

	require.Equal(t, bulk, f.store.Record(bulk.ID))
	require.Equal(t, prep, f.store.Record(prep.ID))
	require.Len(t, f.store.Entries, entriesBefore)
	require.Empty(t, f.store.Transfers)
	require.Empty(t, f.store.Audits)
}

func TestTransferRejectsMismatchedItems(t *testing.T) {
	f := newFixture(t)
	bulk, _ := f.seedPair("100", "15000", "0", "0")
	sugar := f.store.Seed(inventory.Record{ItemID: 2, ItemName: "Sugar", Location: inventory.LocationPrep, Unit: "g", Active: true})

	_, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: bulk.ID, DestinationID: sugar.ID, Quantity: d("1"), Actor: actor})
	require.ErrorIs(t, err, inventory.ErrMismatchedItems)
	v, _ := shared.AsValidation(err)
	require.Equal(t, "kitchen_item_id", v.Field)
	require.Empty(t, f.store.Transfers)
	requireDec(t, "100", f.store.Record(bulk.ID).Quantity)
}

func TestTransferRejectsWrongDirection(t *testing.T) {
	f := newFixture(t)
	bulk, prep := f.seedPair("100", "15000", "500", "15")

	_, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: prep.ID, DestinationID: bulk.ID, Quantity: d("1"), Actor: actor})
	require.ErrorIs(t, err, inventory.ErrInvalidDirection)
}

func TestTransferWithoutConversionRule(t *testing.T) {
	f := newFixture(t)
	bulk := f.store.Seed(inventory.Record{ItemID: 5, ItemName: "Eggs", Location: inventory.LocationBulk, Unit: "crate", Quantity: d("3"), UnitCost: d("50000"), Active: true})
	prep := f.store.Seed(inventory.Record{ItemID: 5, ItemName: "Eggs", Location: inventory.LocationPrep, Unit: "pcs", Active: true})

	_, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("1"), Actor: actor})
	require.ErrorIs(t, err, units.ErrNoConversionRule)
	require.Empty(t, f.store.Transfers)
}

func TestTransferValidatesQuantityFirst(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: 10, DestinationID: 11, Quantity: d("0"), Actor: actor})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: 10, DestinationID: 11, Quantity: d("1")})
	require.ErrorIs(t, err, shared.ErrActorRequired)
}

func TestTransferIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	bulk, prep := f.seedPair("100", "15000", "0", "0")
	in := inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("1"), IdempotencyKey: "abc", Actor: actor}

	_, err := f.svc.Transfer(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Transfer(context.Background(), in)
	require.True(t, shared.IsConflict(err))
	require.Len(t, f.store.Transfers, 1)

	failing := in
	failing.IdempotencyKey = "too-much"
	failing.Quantity = d("1000")
	_, err = f.svc.Transfer(context.Background(), failing)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, []string{"too-much"}, f.idem.deleted)
}

func TestReceiveAppliesMovingAverage(t *testing.T) {
	f := newFixture(t)
	bulk, _ := f.seedPair("10", "100000", "0", "0")

	rec, entry, err := f.svc.Receive(context.Background(), inventory.ReceiveInput{RecordID: bulk.ID, Quantity: d("5"), UnitCost: d("120000"), SourceRef: "PO-1", Actor: actor})
	require.NoError(t, err)
	requireDec(t, "15", rec.Quantity)
	require.True(t, rec.UnitCost.Sub(d("106666.6667")).Abs().LessThan(d("0.001")))
	require.Equal(t, inventory.EntryPurchase, entry.Kind)
	requireDec(t, "15", entry.BalanceAfter)
	require.Equal(t, "PO-1", entry.Reference)
	require.Len(t, f.store.Audits, 1)
	require.Equal(t, audit.ActionReceive, f.store.Audits[0].Action)
}

func TestReceiveRejectsInactiveRecord(t *testing.T) {
	f := newFixture(t)
	bulk, _ := f.seedPair("10", "100", "0", "0")
	_, err := f.svc.Deactivate(context.Background(), bulk.ID, actor)
	require.NoError(t, err)

	_, _, err = f.svc.Receive(context.Background(), inventory.ReceiveInput{RecordID: bulk.ID, Quantity: d("1"), UnitCost: d("1"), Actor: actor})
	require.ErrorIs(t, err, inventory.ErrInactiveRecord)
}

func TestDeductHonoursOverride(t *testing.T) {
	f := newFixture(t)
	_, prep := f.seedPair("0", "0", "50", "15")

	_, _, err := f.svc.Deduct(context.Background(), inventory.DeductInput{RecordID: prep.ID, Quantity: d("60"), Actor: actor})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	requireDec(t, "50", f.store.Record(prep.ID).Quantity)

	rec, entry, err := f.svc.Deduct(context.Background(), inventory.DeductInput{RecordID: prep.ID, Quantity: d("60"), Override: true, Reason: "spoilage", Actor: actor})
	require.NoError(t, err)
	requireDec(t, "-10", rec.Quantity)
	requireDec(t, "15", rec.UnitCost)
	require.Equal(t, inventory.EntryConsumption, entry.Kind)
}

func TestAdjustJournalsSignedDifference(t *testing.T) {
	f := newFixture(t)
	_, prep := f.seedPair("0", "0", "500", "15")

	_, _, err := f.svc.Adjust(context.Background(), inventory.AdjustInput{RecordID: prep.ID, NewQuantity: d("500"), Reason: "recount", Actor: actor})
	require.ErrorIs(t, err, inventory.ErrNoChange)

	rec, entry, err := f.svc.Adjust(context.Background(), inventory.AdjustInput{RecordID: prep.ID, NewQuantity: d("480"), Reason: "recount", Reference: "SO-1", Actor: actor})
	require.NoError(t, err)
	requireDec(t, "480", rec.Quantity)
	requireDec(t, "-20", entry.Quantity)
	require.Equal(t, inventory.EntryAdjustment, entry.Kind)
	require.Equal(t, audit.ActionAdjust, f.store.Audits[len(f.store.Audits)-1].Action)

	_, _, err = f.svc.Adjust(context.Background(), inventory.AdjustInput{RecordID: prep.ID, NewQuantity: d("-1"), Actor: actor})
	require.ErrorIs(t, err, inventory.ErrNegativeQuantity)
}

func TestJournalReplayMatchesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bulk, prep := f.seedPair("100", "15000", "0", "0")

	_, _, err := f.svc.Receive(ctx, inventory.ReceiveInput{RecordID: bulk.ID, Quantity: d("20"), UnitCost: d("16000"), Actor: actor})
	require.NoError(t, err)
	_, err = f.svc.Transfer(ctx, inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("12.5"), Actor: actor})
	require.NoError(t, err)
	_, _, err = f.svc.Consume(ctx, inventory.ConsumeInput{RecordID: prep.ID, Quantity: d("2500"), ItemRef: "recipe:bread", Actor: actor})
	require.NoError(t, err)
	_, _, err = f.svc.Adjust(ctx, inventory.AdjustInput{RecordID: prep.ID, NewQuantity: d("9990"), Reason: "spill", Actor: actor})
	require.NoError(t, err)

	for _, id := range []int64{bulk.ID, prep.ID} {
		check, err := f.svc.VerifyJournal(ctx, id)
		require.NoError(t, err)
		require.True(t, check.Consistent)
	}
	requireDec(t, "107.5", f.store.Record(bulk.ID).Quantity)
	requireDec(t, "9990", f.store.Record(prep.ID).Quantity)
}

func TestVerifyJournalFlagsDrift(t *testing.T) {
	f := newFixture(t)
	bulk, _ := f.seedPair("100", "15000", "0", "0")
	rec := f.store.Records[bulk.ID]
	rec.Quantity = d("99")
	f.store.Records[bulk.ID] = rec

	check, err := f.svc.VerifyJournal(context.Background(), bulk.ID)
	require.True(t, shared.IsInvariant(err))
	require.False(t, check.Consistent)
	require.Equal(t, []string{"verify_journal"}, f.observer.violations)
}

func TestConsumeDrawsFromPrepOnly(t *testing.T) {
	f := newFixture(t)
	bulk, _ := f.seedPair("10", "100", "0", "0")
	_, _, err := f.svc.Consume(context.Background(), inventory.ConsumeInput{RecordID: bulk.ID, Quantity: d("1"), ItemRef: "x", Actor: actor})
	require.ErrorIs(t, err, inventory.ErrPrepOnly)
}

func TestReceiveBatchAppliesChronologically(t *testing.T) {
	f := newFixture(t)
	bulk, _ := f.seedPair("0", "0", "0", "0")
	day := func(n int) time.Time { return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC) }

	entries, err := f.svc.ReceiveBatch(context.Background(), inventory.ReceiptBatchInput{
		Reference: "PO-77",
		Actor:     actor,
		Lines: []inventory.ReceiptLine{
			{RecordID: bulk.ID, Quantity: d("10"), UnitCost: d("200"), DeliveredAt: day(3)},
			{RecordID: bulk.ID, Quantity: d("10"), UnitCost: d("100"), DeliveredAt: day(2)},
		},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	requireDec(t, "100", entries[0].UnitCost)
	requireDec(t, "10", entries[0].BalanceAfter)
	requireDec(t, "200", entries[1].UnitCost)
	requireDec(t, "20", entries[1].BalanceAfter)
	requireDec(t, "150", f.store.Record(bulk.ID).UnitCost)
	require.Equal(t, [][]int64{{bulk.ID}}, f.store.Locks)
}

func TestReceiveBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	bulk, _ := f.seedPair("5", "100", "0", "0")
	_, err := f.svc.ReceiveBatch(context.Background(), inventory.ReceiptBatchInput{
		Reference: "PO-78",
		Actor:     actor,
		Lines: []inventory.ReceiptLine{
			{RecordID: bulk.ID, Quantity: d("10"), UnitCost: d("200")},
			{RecordID: 999, Quantity: d("1"), UnitCost: d("1")},
		},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	requireDec(t, "5", f.store.Record(bulk.ID).Quantity)
	require.Empty(t, f.store.Audits)
}

func TestCreateRecordWithPairing(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.CreateRecord(context.Background(), inventory.CreateRecordInput{
		ItemID: 9, ItemName: "Olive Oil", Location: inventory.LocationBulk, Unit: "L",
		Quantity: d("4"), UnitCost: d("90000"), MinQuantity: d("2"), EnsurePair: true, Actor: actor,
	})
	require.NoError(t, err)
	requireDec(t, "4", out.Record.Quantity)
	require.NotNil(t, out.Counterpart)
	require.Equal(t, "ml", out.Counterpart.Unit)
	requireDec(t, "90", out.Counterpart.UnitCost)
	require.Equal(t, inventory.LocationPrep, out.Counterpart.Location)

	check, err := f.svc.VerifyJournal(context.Background(), out.Record.ID)
	require.NoError(t, err)
	require.Equal(t, 1, check.Entries)

	_, err = f.svc.CreateRecord(context.Background(), inventory.CreateRecordInput{
		ItemID: 9, ItemName: "Olive Oil", Location: inventory.LocationBulk, Unit: "l", Actor: actor,
	})
	require.ErrorIs(t, err, inventory.ErrDuplicateRecord)
}

func TestEnsurePairedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	bulk := f.store.Seed(inventory.Record{ItemID: 4, ItemName: "Rice", Location: inventory.LocationBulk, Unit: "kg", Quantity: d("25"), UnitCost: d("14000"), Active: true})

	first, err := f.svc.EnsurePaired(context.Background(), bulk.ID, actor)
	require.NoError(t, err)
	second, err := f.svc.EnsurePaired(context.Background(), bulk.ID, actor)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "g", first.Unit)
	requireDec(t, "14", first.UnitCost)

	back, err := f.svc.EnsurePaired(context.Background(), first.ID, actor)
	require.NoError(t, err)
	require.Equal(t, bulk.ID, back.ID)

	created := 0
	for _, a := range f.store.Audits {
		if a.Action == audit.ActionCreate {
			created++
		}
	}
	require.Equal(t, 1, created)
}

func TestEnsurePairedErrors(t *testing.T) {
	f := newFixture(t)
	orphan := f.store.Seed(inventory.Record{ItemID: 6, ItemName: "Salt", Location: inventory.LocationPrep, Unit: "g", Active: true})
	_, err := f.svc.EnsurePaired(context.Background(), orphan.ID, actor)
	require.ErrorIs(t, err, inventory.ErrNoCounterpart)

	odd := f.store.Seed(inventory.Record{ItemID: 7, ItemName: "Saffron", Location: inventory.LocationBulk, Unit: "tin", Active: true})
	_, err = f.svc.EnsurePaired(context.Background(), odd.ID, actor)
	require.True(t, errors.Is(err, units.ErrNoConversionRule))
}

func TestListRecordsBelowMinimum(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(inventory.Record{ItemID: 1, ItemName: "Flour", Location: inventory.LocationBulk, Unit: "kg", Quantity: d("1"), MinQuantity: d("5"), Active: true})
	f.store.Seed(inventory.Record{ItemID: 2, ItemName: "Sugar", Location: inventory.LocationBulk, Unit: "kg", Quantity: d("10"), MinQuantity: d("5"), Active: true})

	low, err := f.svc.ListRecords(context.Background(), inventory.RecordFilter{BelowMinimum: true, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "Flour", low[0].ItemName)

	_, err = f.svc.ListRecords(context.Background(), inventory.RecordFilter{Location: "FREEZER"})
	require.ErrorIs(t, err, inventory.ErrInvalidLocation)
}

func TestRevalueReplaysJournalCost(t *testing.T) {
	f := newFixture(t)
	bulk, prep := f.seedPair("100", "15000", "2000", "15")
	ctx := context.Background()

	_, _, err := f.svc.Receive(ctx, inventory.ReceiveInput{RecordID: bulk.ID, Quantity: d("50"), UnitCost: d("18000"), SourceRef: "PO-2", Actor: actor})
	require.NoError(t, err)
	_, err = f.svc.Transfer(ctx, inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("10"), Actor: actor})
	require.NoError(t, err)
	_, _, err = f.svc.Consume(ctx, inventory.ConsumeInput{RecordID: prep.ID, Quantity: d("500"), ItemRef: "ORDER-1", Actor: actor})
	require.NoError(t, err)

	for _, id := range []int64{bulk.ID, prep.ID} {
		rev, err := f.svc.Revalue(ctx, id, d("0.0001"))
		require.NoError(t, err)
		require.Falsef(t, rev.Drift, "record %d: stored %s replayed %s", id, rev.StoredUnitCost, rev.ReplayedUnitCost)
		requireDec(t, f.store.Record(id).Quantity.String(), rev.ReplayedQuantity)
	}

	rec := f.store.Records[bulk.ID]
	rec.UnitCost = d("17500")
	f.store.Records[bulk.ID] = rec
	rev, err := f.svc.Revalue(ctx, bulk.ID, d("0.0001"))
	require.NoError(t, err)
	require.True(t, rev.Drift)
	requireDec(t, "16000", rev.ReplayedUnitCost)
}

func TestTransferKeepsStoredValueAtCostScale(t *testing.T) {
	f := newFixture(t)
	bulk, prep := f.seedPair("50", "15230.7692", "0", "0")
	before := totalValue(bulk, prep)

	res, err := f.svc.Transfer(context.Background(), inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("10"), Actor: actor})
	require.NoError(t, err)

	src, dst := f.store.Record(bulk.ID), f.store.Record(prep.ID)
	requireDec(t, "15.2307692", dst.UnitCost)
	require.True(t, dst.UnitCost.Equal(res.Destination.UnitCost))
	require.True(t, before.Sub(totalValue(src, dst)).Abs().LessThanOrEqual(d("0.01")))
	entries := f.store.EntriesFor(prep.ID)
	requireDec(t, "15.2307692", entries[len(entries)-1].UnitCost)
}

func TestReceiveRoundsCostToCostScale(t *testing.T) {
	f := newFixture(t)
	_, prep := f.seedPair("0", "0", "0", "0")

	rec, entry, err := f.svc.Receive(context.Background(), inventory.ReceiveInput{RecordID: prep.ID, Quantity: d("3"), UnitCost: d("1.00000000000000000049"), Actor: actor})
	require.NoError(t, err)
	requireDec(t, "1", rec.UnitCost)
	requireDec(t, "1", entry.UnitCost)
	requireDec(t, "1", f.store.Record(prep.ID).UnitCost)
}

func TestCostColumnsMatchCostScale(t *testing.T) {
	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)

	columns := regexp.MustCompile(`unit_cost\s+NUMERIC\((\d+),(\d+)\)`).FindAllStringSubmatch(string(schema), -1)
	require.Len(t, columns, 2)
	for _, col := range columns {
		require.Equal(t, strconv.Itoa(int(inventory.CostScale)), col[2], col[0])
	}
}

// replayingRepo replays a transaction the way db.WithTx does after a
// serialization failure: the first commits fail with 40001 and are rolled back.
type replayingRepo struct {
	*inventorytest.Store
	failures int
	attempts int
}

func (r *replayingRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	for {
		r.attempts++
		failCommit := r.attempts <= r.failures
		err := r.Store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
			if err := fn(ctx, tx); err != nil {
				return err
			}
			if failCommit {
				return &pgconn.PgError{Code: "40001"}
			}
			return nil
		})
		if err == nil || !db.Retryable(err) {
			return err
		}
	}
}

func TestReceiveBatchSurvivesSerializationRetry(t *testing.T) {
	store := inventorytest.NewStore()
	repo := &replayingRepo{Store: store, failures: 1}
	observer := &recordingObserver{}
	svc := inventory.NewService(repo, units.Default(), nil, observer, nil, inventory.ServiceConfig{})
	bulk := store.Seed(inventory.Record{ItemID: 1, ItemName: "Flour", Location: inventory.LocationBulk, Unit: "kg", Active: true})
	prep := store.Seed(inventory.Record{ItemID: 1, ItemName: "Flour", Location: inventory.LocationPrep, Unit: "g", Active: true})

	entries, err := svc.ReceiveBatch(context.Background(), inventory.ReceiptBatchInput{
		Reference: "PO-90",
		Actor:     actor,
		Lines: []inventory.ReceiptLine{
			{RecordID: bulk.ID, Quantity: d("4"), UnitCost: d("12000")},
			{RecordID: prep.ID, Quantity: d("500"), UnitCost: d("13")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, repo.attempts)
	require.Len(t, entries, 2)
	require.Len(t, store.EntriesFor(bulk.ID), 1)
	require.Len(t, store.EntriesFor(prep.ID), 1)
	require.Len(t, observer.movements, 2)
	require.Equal(t, inventory.LocationBulk, observer.movements[0].Location)
	require.Equal(t, inventory.LocationPrep, observer.movements[1].Location)
	requireDec(t, "4", store.Record(bulk.ID).Quantity)
}

func TestTransferLogsUnreleasedIdempotencyKey(t *testing.T) {
	var buf bytes.Buffer
	store := inventorytest.NewStore()
	idem := &stubIdempotency{deleteErr: errors.New("redis: connection refused")}
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	svc := inventory.NewService(store, units.Default(), idem, nil, logger, inventory.ServiceConfig{})
	bulk := store.Seed(inventory.Record{ItemID: 1, ItemName: "Flour", Location: inventory.LocationBulk, Unit: "kg", Quantity: d("1"), UnitCost: d("15000"), Active: true})
	prep := store.Seed(inventory.Record{ItemID: 1, ItemName: "Flour", Location: inventory.LocationPrep, Unit: "g", Active: true})

	_, err := svc.Transfer(context.Background(), inventory.TransferInput{SourceID: bulk.ID, DestinationID: prep.ID, Quantity: d("5"), IdempotencyKey: "k-1", Actor: actor})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, []string{"k-1"}, idem.deleted)
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "release idempotency key")
	require.Contains(t, buf.String(), "connection refused")
}
