package audit

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// Action enumerates the kinds of mutation recorded in the audit log.
type Action string

const (
	ActionCreate     Action = "CREATE"
	ActionUpdate     Action = "UPDATE"
	ActionAdjust     Action = "ADJUST"
	ActionCount      Action = "COUNT"
	ActionApprove    Action = "APPROVE"
	ActionCancel     Action = "CANCEL"
	ActionComplete   Action = "COMPLETE"
	ActionReceive    Action = "RECEIVE"
	ActionTransfer   Action = "TRANSFER"
	ActionConsume    Action = "CONSUME"
	ActionStart      Action = "START"
	ActionDeactivate Action = "DEACTIVATE"
)

// Entity types written by the ledger and opname services.
const (
	EntityInventoryRecord = "inventory_record"
	EntityStockOpname     = "stock_opname"
)

// Valid reports whether the action is known.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionAdjust, ActionCount, ActionApprove, ActionCancel,
		ActionComplete, ActionReceive, ActionTransfer, ActionConsume, ActionStart, ActionDeactivate:
		return true
	}
	return false
}

// Change is one field-level difference.
type Change struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Changes is an ordered diff.
type Changes []Change

// Add appends a change when old and new render differently.
func (c Changes) Add(field string, old, new any) Changes {
	o, n := render(old), render(new)
	if o == n {
		return c
	}
	return append(c, Change{Field: field, Old: o, New: n})
}

// Set appends a change for a field that did not exist before.
func (c Changes) Set(field string, value any) Changes {
	return append(c, Change{Field: field, New: render(value)})
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// Entry is one append-only audit record.
type Entry struct {
	ID          int64     `json:"id"`
	Action      Action    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	EntityLabel string    `json:"entity_label"`
	ActorID     int64     `json:"actor_id"`
	Changes     Changes   `json:"changes"`
	Notes       string    `json:"notes,omitempty"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the fields required for every entry.
func (e Entry) Validate() error {
	if !e.Action.Valid() {
		return fmt.Errorf("audit: unknown action %q", e.Action)
	}
	if e.EntityType == "" || e.EntityID == "" {
		return fmt.Errorf("audit: entity type and id required")
	}
	return nil
}

// Filters narrows audit searches.
type Filters struct {
	From       time.Time
	To         time.Time
	EntityType string
	EntityID   string
	Action     string
	ActorID    int64
	Search     string
	Page       int
	PageSize   int
}

// Result wraps a page of entries.
type Result struct {
	Rows   []Entry           `json:"results"`
	Paging shared.PagingInfo `json:"paging"`
}

// Diff starts a change list with a single field comparison.
func Diff(field string, old, new any) Changes {
	return Changes{}.Add(field, old, new)
}
