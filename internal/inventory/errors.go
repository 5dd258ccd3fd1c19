package inventory

import "github.com/odyssey-erp/stockroom/internal/shared"

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = shared.NewValidationError("quantity", "must be greater than zero")
	// ErrNegativeQuantity rejects negative absolute quantities.
	ErrNegativeQuantity = shared.NewValidationError("quantity", "must not be negative")
	// ErrInvalidUnitCost indicates a negative cost.
	ErrInvalidUnitCost = shared.NewValidationError("unit_cost", "must not be negative")
	// ErrInsufficientStock rejects deductions beyond the current balance.
	ErrInsufficientStock = shared.NewValidationError("quantity", "insufficient stock")
	// ErrMismatchedItems rejects transfers between records of different items.
	ErrMismatchedItems = shared.NewValidationError("kitchen_item_id", "source and destination hold different items")
	// ErrInvalidDirection rejects transfers that are not bulk to prep.
	ErrInvalidDirection = shared.NewValidationError("location", "transfers move stock from BULK to PREP")
	// ErrSameRecord rejects a transfer onto itself.
	ErrSameRecord = shared.NewValidationError("destination_record_id", "must differ from source")
	// ErrUnitMismatch rejects a destination whose unit differs from the conversion target.
	ErrUnitMismatch = shared.NewValidationError("unit", "destination unit does not match conversion rule")
	// ErrNoChange rejects adjustments that leave the quantity unchanged.
	ErrNoChange = shared.NewValidationError("new_quantity", "equals current quantity")
	// ErrInactiveRecord rejects mutation of deactivated records.
	ErrInactiveRecord = shared.NewValidationError("record_id", "record is inactive")
	// ErrInvalidLocation rejects unknown locations.
	ErrInvalidLocation = shared.NewValidationError("location", "must be BULK or PREP")
	// ErrDuplicateRecord rejects a second record for the same item and location.
	ErrDuplicateRecord = shared.NewValidationError("kitchen_item_id", "record already exists at location")
	// ErrNoCounterpart is returned when a prep record has no bulk record to pair from.
	ErrNoCounterpart = shared.NewValidationError("record_id", "no bulk counterpart to pair from")
	// ErrPrepOnly rejects consumption against bulk stock.
	ErrPrepOnly = shared.NewValidationError("record_id", "consumption draws from PREP records only")
)
