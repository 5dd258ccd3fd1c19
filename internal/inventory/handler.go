package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/platform/httpx"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// IdempotencyHeader lets clients retry a transfer safely.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for the inventory ledger and transfers.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory-records", func(r chi.Router) {
		r.Get("/", h.handleListRecords)
		r.Post("/", h.handleCreateRecord)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetRecord)
			r.Post("/pair", h.handlePair)
			r.Post("/deactivate", h.handleDeactivate)
			r.Post("/adjust", h.handleAdjust)
			r.Get("/journal", h.handleJournal)
			r.Get("/verify", h.handleVerify)
		})
	})
	r.Post("/receipts", h.handleReceipt)
	r.Post("/consumptions", h.handleConsume)
	r.Post("/stock-transfers", h.handleTransfer)
	r.Get("/stock-transfers/{id}", h.handleGetTransfer)
}

type createRecordRequest struct {
	ItemID      int64           `json:"kitchen_item_id" validate:"required,gt=0"`
	ItemName    string          `json:"item_name" validate:"required,max=200"`
	Location    string          `json:"location" validate:"required,oneof=BULK PREP"`
	Unit        string          `json:"unit" validate:"required,max=20"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	EnsurePair  bool            `json:"ensure_pair"`
}

type adjustRequest struct {
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Reason      string          `json:"reason" validate:"required,max=500"`
	Reference   string          `json:"reference" validate:"max=100"`
}

type receiptLineRequest struct {
	RecordID    int64           `json:"record_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	DeliveredAt time.Time       `json:"delivered_at"`
	Notes       string          `json:"notes" validate:"max=500"`
}

type receiptRequest struct {
	Reference string               `json:"reference" validate:"required,max=100"`
	Lines     []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type consumeRequest struct {
	RecordID int64           `json:"record_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
	ItemRef  string          `json:"item_ref" validate:"required,max=100"`
	Notes    string          `json:"notes" validate:"max=500"`
}

type transferRequest struct {
	SourceID      int64           `json:"source_record_id" validate:"required,gt=0"`
	DestinationID int64           `json:"destination_record_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	Notes         string          `json:"notes" validate:"max=500"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, h.logger, err)
		return false
	}
	if err := httpx.Validate(h.validate, target); err != nil {
		httpx.RespondError(w, h.logger, err)
		return false
	}
	return true
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.CreateRecord(r.Context(), CreateRecordInput{
		ItemID:      req.ItemID,
		ItemName:    req.ItemName,
		Location:    Location(req.Location),
		Unit:        req.Unit,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		MinQuantity: req.MinQuantity,
		EnsurePair:  req.EnsurePair,
		Actor:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := RecordFilter{
		Location:     Location(strings.ToUpper(strings.TrimSpace(q.Get("location")))),
		ActiveOnly:   q.Get("include_inactive") != "true",
		BelowMinimum: q.Get("below_minimum") == "true",
	}
	if v := q.Get("kitchen_item_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, h.logger, shared.NewValidationError("kitchen_item_id", "must be a positive integer"))
			return
		}
		filter.ItemID = id
	}
	records, err := h.service.ListRecords(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": records})
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handlePair(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pair, err := h.service.EnsurePaired(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Deactivate(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, entry, err := h.service.Adjust(r.Context(), AdjustInput{
		RecordID:    id,
		NewQuantity: req.NewQuantity,
		Reason:      req.Reason,
		Reference:   req.Reference,
		Actor:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"record": rec, "entry": entry})
}

func (h *Handler) handleJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := EntryFilter{Kind: EntryKind(strings.ToUpper(strings.TrimSpace(q.Get("kind"))))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpx.RespondError(w, h.logger, shared.NewValidationError("limit", "must be a positive integer"))
			return
		}
		filter.Limit = n
	}
	entries, err := h.service.ListEntries(r.Context(), id, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": entries})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	check, err := h.service.VerifyJournal(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]ReceiptLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, ReceiptLine{
			RecordID:    l.RecordID,
			Quantity:    l.Quantity,
			UnitCost:    l.UnitCost,
			DeliveredAt: l.DeliveredAt,
			Notes:       l.Notes,
		})
	}
	entries, err := h.service.ReceiveBatch(r.Context(), ReceiptBatchInput{
		Reference: req.Reference,
		Lines:     lines,
		Actor:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entries": entries})
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, entry, err := h.service.Consume(r.Context(), ConsumeInput{
		RecordID: req.RecordID,
		Quantity: req.Quantity,
		ItemRef:  req.ItemRef,
		Notes:    req.Notes,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"record": rec, "entry": entry})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		SourceID:       req.SourceID,
		DestinationID:  req.DestinationID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
		Actor:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	trf, err := h.service.GetTransfer(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trf)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, h.logger, shared.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}
