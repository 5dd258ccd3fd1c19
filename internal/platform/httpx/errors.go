// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Validation failures are keyed by the offending field. Conflicts (state
// transitions that are not allowed) are reported as 400 as well; invariant
// violations surface as 500 and are logged.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if v, ok := shared.AsValidation(err); ok {
		field := v.Field
		if field == "" {
			field = "non_field_errors"
		}
		ValidationProblem(w, err.Error(), map[string]string{field: v.Reason})
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrActorRequired):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case shared.IsConflict(err):
		Problem(w, http.StatusBadRequest, "Conflict", err.Error())
	case shared.IsInvariant(err):
		logError(logger, "invariant violation", err)
		Problem(w, http.StatusInternalServerError, "Invariant Violation", err.Error())
	default:
		logError(logger, "unhandled error", err)
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func logError(logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg, slog.Any("error", err))
}
