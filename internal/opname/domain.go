// Package opname runs stock counting sessions and feeds their discrepancies
// back into the inventory ledger.
package opname

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/inventory"
)

// Status represents the lifecycle of a counting session.
type Status string

const (
	StatusDraft      Status = "DRAFT"       // created, lines may be added
	StatusInProgress Status = "IN_PROGRESS" // counting underway
	StatusCompleted  Status = "COMPLETED"   // adjustments posted
	StatusCancelled  Status = "CANCELLED"   // abandoned without ledger writes
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanStart checks if counting can begin.
func (s Status) CanStart() bool {
	return s == StatusDraft
}

// CanComplete checks if the session can post its adjustments.
func (s Status) CanComplete() bool {
	return s == StatusDraft || s == StatusInProgress
}

// CanCancel checks if the session can be abandoned.
func (s Status) CanCancel() bool {
	return s == StatusDraft || s == StatusInProgress
}

// CanEditLines checks if lines and counts may change.
func (s Status) CanEditLines() bool {
	return !s.IsTerminal()
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Session is one counting exercise over a location.
type Session struct {
	ID                 int64              `json:"id"`
	Number             string             `json:"number"`
	Date               time.Time          `json:"date"`
	Location           inventory.Location `json:"location"`
	Status             Status             `json:"status"`
	Notes              string             `json:"notes"`
	CreatedBy          int64              `json:"created_by"`
	CompletedBy        *int64             `json:"completed_by,omitempty"`
	StartedAt          *time.Time         `json:"started_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	TotalItemsCounted  int                `json:"total_items_counted"`
	TotalDiscrepancies int                `json:"total_discrepancies"`
	DiscrepancyValue   decimal.Decimal    `json:"discrepancy_value"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Lines              []Line             `json:"lines,omitempty"`
}

// Line is one counted item. SystemQuantity is frozen when the line is created.
type Line struct {
	ID              int64               `json:"id"`
	SessionID       int64               `json:"session_id"`
	RecordID        int64               `json:"record_id"`
	ItemName        string              `json:"item_name"`
	Unit            string              `json:"unit"`
	SystemQuantity  decimal.Decimal     `json:"system_quantity"`
	CountedQuantity decimal.NullDecimal `json:"counted_quantity"`
	Difference      decimal.NullDecimal `json:"difference"`
	Reason          string              `json:"reason"`
	CountedBy       *int64              `json:"counted_by,omitempty"`
	CountedAt       *time.Time          `json:"counted_at,omitempty"`
}

// Counted reports whether a physical count was recorded.
func (l Line) Counted() bool {
	return l.CountedQuantity.Valid
}

// CreateInput opens a session.
type CreateInput struct {
	Date         time.Time
	Location     inventory.Location
	Notes        string
	AutoPopulate bool
	Actor        int64
}

// RecordCountInput stores a physical count on a line.
type RecordCountInput struct {
	SessionID       int64
	LineID          int64
	CountedQuantity decimal.Decimal
	Reason          string
	Actor           int64
}

// ListFilter narrows session listings.
type ListFilter struct {
	Status   Status
	Location inventory.Location
	Page     int
	PageSize int
}
