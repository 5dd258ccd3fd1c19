package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/stockroom/internal/platform/httpx"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

// CSV exports scan the whole filtered log, so they get their own budget.
const (
	exportLimit  = 10
	exportWindow = time.Minute
)

// MountRoutes registers the audit log listing, per-entity history and CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/audit-log", func(ar chi.Router) {
		ar.Get("/", h.handleList)
		ar.With(exportLimiter()).Get("/export.csv", h.handleExport)
		ar.Get("/{entityType}/{entityID}", h.handleHistory)
	})
}

func exportLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(exportLimit, exportWindow,
		httprate.WithKeyFuncs(exportKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "audit export limit reached, retry later")
		}),
	)
}

// exportKey buckets by actor when the header is present, else by client IP.
func exportKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor > 0 {
		return "actor:" + strconv.FormatInt(actor, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
