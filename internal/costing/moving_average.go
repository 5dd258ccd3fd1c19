// Package costing implements moving-average unit costing.
package costing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ApplyReceipt returns the weighted-average unit cost after adding inQty units
// at inCost to a holding of curQty units at curCost. With no prior holding the
// incoming cost is taken as-is.
func ApplyReceipt(curQty, curCost, inQty, inCost decimal.Decimal) decimal.Decimal {
	if !curQty.IsPositive() {
		return inCost
	}
	total := curQty.Add(inQty)
	if !total.IsPositive() {
		return inCost
	}
	value := curQty.Mul(curCost).Add(inQty.Mul(inCost))
	return value.Div(total)
}

// Receipt is one incoming delivery for a single stock record.
type Receipt struct {
	Ref         string
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	DeliveredAt time.Time
	Sequence    int64
}

// SortChronologically orders receipts by delivery time, then creation sequence.
func SortChronologically(receipts []Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		a, b := receipts[i], receipts[j]
		if !a.DeliveredAt.Equal(b.DeliveredAt) {
			return a.DeliveredAt.Before(b.DeliveredAt)
		}
		return a.Sequence < b.Sequence
	})
}

// Replay applies receipts in the given order starting from an existing holding
// and returns the resulting quantity and unit cost. Callers sort first.
func Replay(startQty, startCost decimal.Decimal, receipts []Receipt) (decimal.Decimal, decimal.Decimal) {
	qty, cost := startQty, startCost
	for _, r := range receipts {
		cost = ApplyReceipt(qty, cost, r.Quantity, r.UnitCost)
		qty = qty.Add(r.Quantity)
	}
	return qty, cost
}

// Value is quantity times unit cost.
func Value(qty, cost decimal.Decimal) decimal.Decimal {
	return qty.Mul(cost)
}

// Movement is one journaled change to a holding. Receipt marks stock arriving
// at its own price; every other movement leaves the unit cost alone.
type Movement struct {
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
	Receipt  bool
}

// ReplayMovements rebuilds quantity and unit cost from an empty holding.
// A non-receipt movement into an empty holding takes the cost it was booked at.
func ReplayMovements(moves []Movement) (decimal.Decimal, decimal.Decimal) {
	qty, cost := decimal.Zero, decimal.Zero
	for _, m := range moves {
		switch {
		case m.Receipt && m.Quantity.IsPositive():
			cost = ApplyReceipt(qty, cost, m.Quantity, m.UnitCost)
		case !qty.IsPositive():
			cost = m.UnitCost
		}
		qty = qty.Add(m.Quantity)
	}
	return qty, cost
}
