package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockroom/internal/audit"
	"github.com/odyssey-erp/stockroom/internal/platform/httpx"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

const dateLayout = "2006-01-02"

// Service defines the audit queries the handler needs.
type Service interface {
	Search(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
}

// Handler serves the read-only audit log.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Search(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// handleHistory lists the trail of one entity, newest first.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filters.EntityType = chi.URLParam(r, "entityType")
	filters.EntityID = chi.URLParam(r, "entityID")
	if !knownEntity(filters.EntityType) {
		httpx.RespondError(w, h.logger, shared.NewValidationError("entityType", "unknown entity type"))
		return
	}
	result, err := h.service.Search(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func knownEntity(entityType string) bool {
	switch entityType {
	case audit.EntityInventoryRecord, audit.EntityStockOpname:
		return true
	}
	return false
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	var filters audit.Filters

	if v := strings.TrimSpace(q.Get("date_from")); v != "" {
		from, err := time.Parse(dateLayout, v)
		if err != nil {
			return audit.Filters{}, shared.NewValidationError("date_from", "expected YYYY-MM-DD")
		}
		filters.From = from
	}
	if v := strings.TrimSpace(q.Get("date_to")); v != "" {
		to, err := time.Parse(dateLayout, v)
		if err != nil {
			return audit.Filters{}, shared.NewValidationError("date_to", "expected YYYY-MM-DD")
		}
		// inclusive of the whole day
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if v := strings.TrimSpace(q.Get("user")); v != "" {
		id, ok := shared.ParseActor(v)
		if !ok {
			return audit.Filters{}, shared.NewValidationError("user", "must be a positive integer")
		}
		filters.ActorID = id
	}
	if v := strings.TrimSpace(q.Get("action_type")); v != "" {
		action := audit.Action(strings.ToUpper(v))
		if !action.Valid() {
			return audit.Filters{}, shared.NewValidationError("action_type", "unknown action")
		}
		filters.Action = string(action)
	}
	filters.EntityType = strings.TrimSpace(q.Get("model_name"))
	filters.Search = strings.TrimSpace(q.Get("search"))

	var err error
	if filters.Page, err = positiveInt(q.Get("page"), "page"); err != nil {
		return audit.Filters{}, err
	}
	if filters.PageSize, err = positiveInt(q.Get("page_size"), "page_size"); err != nil {
		return audit.Filters{}, err
	}
	return filters, nil
}

func positiveInt(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, shared.NewValidationError(field, "must be a positive integer")
	}
	return n, nil
}
