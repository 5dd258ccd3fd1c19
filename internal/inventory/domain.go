package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Location tags the storage tier a record lives in.
type Location string

const (
	// LocationBulk holds large-unit stock (kg, l, packs).
	LocationBulk Location = "BULK"
	// LocationPrep holds small-unit, ready-to-use stock replenished from bulk.
	LocationPrep Location = "PREP"
)

// Valid reports whether the location is known.
func (l Location) Valid() bool {
	return l == LocationBulk || l == LocationPrep
}

// Counterpart returns the paired location.
func (l Location) Counterpart() Location {
	if l == LocationBulk {
		return LocationPrep
	}
	return LocationBulk
}

// CostScale is the number of fractional digits a unit cost is stored with. It
// matches the unit_cost columns of inventory_records and inventory_entries.
const CostScale int32 = 18

// RoundCost rounds a unit cost to CostScale. Every cost is rounded before it is
// written so the value checked in a transaction is the value the store keeps.
func RoundCost(cost decimal.Decimal) decimal.Decimal {
	return cost.Round(CostScale)
}

// Record is the per-item, per-location stock projection.
type Record struct {
	ID          int64           `json:"id"`
	ItemID      int64           `json:"kitchen_item_id"`
	ItemName    string          `json:"item_name"`
	Location    Location        `json:"location"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Value returns quantity × unit cost.
func (r Record) Value() decimal.Decimal {
	return r.Quantity.Mul(r.UnitCost)
}

// Label renders the human readable name used in audit entries.
func (r Record) Label() string {
	return fmt.Sprintf("%s (%s)", r.ItemName, r.Location)
}

// BelowMinimum reports whether stock fell under the reorder threshold.
func (r Record) BelowMinimum() bool {
	return r.MinQuantity.IsPositive() && r.Quantity.LessThan(r.MinQuantity)
}

// EntryKind enumerates journal entry kinds.
type EntryKind string

const (
	EntryPurchase    EntryKind = "PURCHASE"
	EntryTransfer    EntryKind = "TRANSFER"
	EntryAdjustment  EntryKind = "ADJUSTMENT"
	EntryConsumption EntryKind = "CONSUMPTION"
)

// Entry is one append-only journal row for one side of a ledger operation.
type Entry struct {
	ID           int64           `json:"id"`
	RecordID     int64           `json:"record_id"`
	Kind         EntryKind       `json:"kind"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reference    string          `json:"reference"`
	Notes        string          `json:"notes"`
	ActorID      int64           `json:"actor_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TransferRecord stores one bulk→prep movement. Quantity is in the source unit.
type TransferRecord struct {
	ID            int64           `json:"id"`
	SourceID      int64           `json:"source_record_id"`
	DestinationID int64           `json:"destination_record_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	SourceUnit    string          `json:"source_unit"`
	ActorID       int64           `json:"actor_id"`
	Notes         string          `json:"notes"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Reference returns the correlation id shared by both journal sides.
func (t TransferRecord) Reference() string {
	return TransferReference(t.ID)
}

// TransferReference formats the correlation id for a transfer id.
func TransferReference(id int64) string {
	return fmt.Sprintf("TRF-%d", id)
}

// CreateRecordInput onboards an item at a location.
type CreateRecordInput struct {
	ItemID      int64
	ItemName    string
	Location    Location
	Unit        string
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	MinQuantity decimal.Decimal
	EnsurePair  bool
	Actor       int64
}

// ReceiveInput adds stock at a unit price.
type ReceiveInput struct {
	RecordID  int64
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	SourceRef string
	Notes     string
	Kind      EntryKind
	Actor     int64
}

// DeductInput removes stock. Override allows the balance to go negative.
type DeductInput struct {
	RecordID  int64
	Quantity  decimal.Decimal
	Reason    string
	Reference string
	Kind      EntryKind
	Override  bool
	Actor     int64
}

// AdjustInput sets a record to an absolute quantity.
type AdjustInput struct {
	RecordID    int64
	NewQuantity decimal.Decimal
	Reason      string
	Reference   string
	Actor       int64
}

// ReceiptLine is one line of a goods receipt.
type ReceiptLine struct {
	RecordID    int64
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	DeliveredAt time.Time
	Notes       string
}

// ReceiptBatchInput posts a whole purchase-order arrival.
type ReceiptBatchInput struct {
	Reference string
	Lines     []ReceiptLine
	Actor     int64
}

// ConsumeInput deducts prep stock consumed by an external caller.
type ConsumeInput struct {
	RecordID int64
	Quantity decimal.Decimal
	ItemRef  string
	Notes    string
	Actor    int64
}

// TransferInput describes a bulk→prep transfer request.
type TransferInput struct {
	SourceID       int64
	DestinationID  int64
	Quantity       decimal.Decimal
	Notes          string
	IdempotencyKey string
	Actor          int64
}

// TransferResult is returned after a committed transfer.
type TransferResult struct {
	Transfer            TransferRecord  `json:"transfer"`
	Reference           string          `json:"reference"`
	DestinationQuantity decimal.Decimal `json:"destination_quantity"`
	DestinationUnit     string          `json:"destination_unit"`
	Source              Record          `json:"source"`
	Destination         Record          `json:"destination"`
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	Location     Location
	ItemID       int64
	ActiveOnly   bool
	BelowMinimum bool
	Limit        int
	Offset       int
}

// EntryFilter narrows journal listings.
type EntryFilter struct {
	From  time.Time
	To    time.Time
	Kind  EntryKind
	Limit int
}

// JournalCheck reports a journal replay result.
type JournalCheck struct {
	RecordID        int64           `json:"record_id"`
	RecordQuantity  decimal.Decimal `json:"record_quantity"`
	JournalQuantity decimal.Decimal `json:"journal_quantity"`
	Entries         int             `json:"entries"`
	Consistent      bool            `json:"consistent"`
}

// Revaluation compares the stored unit cost with the cost rebuilt from the journal.
type Revaluation struct {
	RecordID         int64           `json:"record_id"`
	StoredQuantity   decimal.Decimal `json:"stored_quantity"`
	StoredUnitCost   decimal.Decimal `json:"stored_unit_cost"`
	ReplayedQuantity decimal.Decimal `json:"replayed_quantity"`
	ReplayedUnitCost decimal.Decimal `json:"replayed_unit_cost"`
	Drift            bool            `json:"drift"`
}
