package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferPostedEvent is emitted after a transfer commits.
type TransferPostedEvent struct {
	TransferID int64
	ItemID     int64
	Quantity   decimal.Decimal
	Value      decimal.Decimal
}

// MovementPostedEvent is emitted after a single-sided ledger mutation commits.
type MovementPostedEvent struct {
	RecordID int64
	Location Location
	Kind     EntryKind
	Quantity decimal.Decimal
}

// Observer receives committed ledger events and invariant failures.
type Observer interface {
	TransferPosted(ctx context.Context, evt TransferPostedEvent)
	MovementPosted(ctx context.Context, evt MovementPostedEvent)
	InvariantViolated(ctx context.Context, operation string)
}

type nopObserver struct{}

func (nopObserver) TransferPosted(context.Context, TransferPostedEvent) {}
func (nopObserver) MovementPosted(context.Context, MovementPostedEvent) {}
func (nopObserver) InvariantViolated(context.Context, string)           {}

// Observers fans each event out to every member in order.
type Observers []Observer

func (o Observers) TransferPosted(ctx context.Context, evt TransferPostedEvent) {
	for _, obs := range o {
		obs.TransferPosted(ctx, evt)
	}
}

func (o Observers) MovementPosted(ctx context.Context, evt MovementPostedEvent) {
	for _, obs := range o {
		obs.MovementPosted(ctx, evt)
	}
}

func (o Observers) InvariantViolated(ctx context.Context, operation string) {
	for _, obs := range o {
		obs.InvariantViolated(ctx, operation)
	}
}
