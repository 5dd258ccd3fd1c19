package opname

import "github.com/odyssey-erp/stockroom/internal/shared"

var (
	// ErrUncountedLines blocks completion while any line lacks a count.
	ErrUncountedLines = shared.NewValidationError("lines", "uncounted items remain")
	// ErrNoLines blocks completion of an empty session.
	ErrNoLines = shared.NewValidationError("lines", "session has no lines")
	// ErrDuplicateLine rejects a second line for the same record.
	ErrDuplicateLine = shared.NewValidationError("record_id", "record already in session")
	// ErrLocationMismatch rejects lines outside the session location.
	ErrLocationMismatch = shared.NewValidationError("record_id", "record is outside the session location")
	// ErrNegativeCount rejects negative counts.
	ErrNegativeCount = shared.NewValidationError("counted_quantity", "must not be negative")
	// ErrStockMoved blocks completion when a record no longer holds its snapshot quantity.
	ErrStockMoved = shared.NewValidationError("lines", "stock moved since the snapshot; cancel the session and count again")
	// ErrInvalidLocation rejects unknown session scopes.
	ErrInvalidLocation = shared.NewValidationError("location", "must be BULK or PREP")

	// ErrCannotStart is returned when the session is not a draft.
	ErrCannotStart = shared.NewConflictError("session can only start from DRAFT")
	// ErrCannotComplete is returned once the session is terminal.
	ErrCannotComplete = shared.NewConflictError("session can only complete from DRAFT or IN_PROGRESS")
	// ErrCannotCancel is returned once the session is terminal.
	ErrCannotCancel = shared.NewConflictError("session can only be cancelled from DRAFT or IN_PROGRESS")
	// ErrSessionClosed rejects line edits on terminal sessions.
	ErrSessionClosed = shared.NewConflictError("session is closed for edits")
	// ErrCompletionInFlight is returned when another instance holds the completion lock.
	ErrCompletionInFlight = shared.NewConflictError("session completion already in progress")
)
