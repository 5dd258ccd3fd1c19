package inventory

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

const idempotencyModule = "stock-transfer"

// Transfer moves stock from a BULK record to the PREP record of the same item,
// converting quantity and unit cost through the conversion table. Both records
// are locked in ascending id order before any value is computed.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := requireActor(in.Actor); err != nil {
		return TransferResult{}, err
	}
	if !in.Quantity.IsPositive() {
		return TransferResult{}, ErrInvalidQuantity
	}
	if in.SourceID == in.DestinationID {
		return TransferResult{}, ErrSameRecord
	}

	keyed := in.IdempotencyKey != "" && s.idempotency != nil
	if keyed {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			return TransferResult{}, err
		}
	}

	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := []int64{in.SourceID, in.DestinationID}
		if ids[0] > ids[1] {
			ids[0], ids[1] = ids[1], ids[0]
		}
		locked, err := tx.LockRecords(ctx, ids)
		if err != nil {
			return err
		}
		src, dst := locked[in.SourceID], locked[in.DestinationID]

		if src.ItemID != dst.ItemID {
			return shared.Detailed(ErrMismatchedItems, "source item %d, destination item %d", src.ItemID, dst.ItemID)
		}
		if src.Location != LocationBulk || dst.Location != LocationPrep {
			return shared.Detailed(ErrInvalidDirection, "source %s, destination %s", src.Location, dst.Location)
		}
		rule, err := s.units.Lookup(src.Unit)
		if err != nil {
			return err
		}
		if rule.PrepUnit != dst.Unit {
			return shared.Detailed(ErrUnitMismatch, "expected %s, destination uses %s", rule.PrepUnit, dst.Unit)
		}
		if src.Quantity.LessThan(in.Quantity) {
			return insufficient(src, in.Quantity)
		}

		before := src.Value().Add(dst.Value())
		trf, err := tx.InsertTransfer(ctx, TransferRecord{
			SourceID:      src.ID,
			DestinationID: dst.ID,
			Quantity:      in.Quantity,
			SourceUnit:    src.Unit,
			ActorID:       in.Actor,
			Notes:         in.Notes,
		})
		if err != nil {
			return err
		}
		ref := trf.Reference()

		srcAfter, _, err := s.deductLocked(ctx, tx, src, DeductInput{
			RecordID:  src.ID,
			Quantity:  in.Quantity,
			Reason:    in.Notes,
			Reference: ref,
			Kind:      EntryTransfer,
			Actor:     in.Actor,
		})
		if err != nil {
			return err
		}
		dstQty := rule.ToPrep(in.Quantity)
		dstAfter, _, err := s.receiveLocked(ctx, tx, dst, ReceiveInput{
			RecordID:  dst.ID,
			Quantity:  dstQty,
			UnitCost:  rule.PrepUnitCost(src.UnitCost),
			SourceRef: ref,
			Notes:     in.Notes,
			Kind:      EntryTransfer,
			Actor:     in.Actor,
		})
		if err != nil {
			return err
		}

		after := srcAfter.Value().Add(dstAfter.Value())
		if drift := before.Sub(after).Abs(); drift.GreaterThan(s.tolerance) {
			return shared.Invariantf("transfer %s changed held value from %s to %s", ref, before, after)
		}
		result = TransferResult{
			Transfer:            trf,
			Reference:           ref,
			DestinationQuantity: dstQty,
			DestinationUnit:     dst.Unit,
			Source:              srcAfter,
			Destination:         dstAfter,
		}
		return nil
	})
	if err != nil {
		if keyed {
			if derr := s.idempotency.Delete(ctx, in.IdempotencyKey, idempotencyModule); derr != nil {
				s.logger.WarnContext(ctx, "release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", derr))
			}
		}
		return TransferResult{}, s.fail(ctx, "transfer", err)
	}
	s.observer.TransferPosted(ctx, TransferPostedEvent{
		TransferID: result.Transfer.ID,
		ItemID:     result.Source.ItemID,
		Quantity:   in.Quantity,
		Value:      in.Quantity.Mul(result.Source.UnitCost),
	})
	return result, nil
}

// GetTransfer reads a committed transfer.
func (s *Service) GetTransfer(ctx context.Context, id int64) (TransferRecord, error) {
	return s.repo.GetTransfer(ctx, id)
}
