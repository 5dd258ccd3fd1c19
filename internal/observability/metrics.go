package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/opname"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transfersTotal    prometheus.Counter
	transferValue     prometheus.Counter
	movementsTotal    *prometheus.CounterVec
	violationsTotal   *prometheus.CounterVec
	opnameCompleted   *prometheus.CounterVec
	opnameDiscrepancy *prometheus.HistogramVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockroom_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transfers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockroom_transfers_total",
		Help: "Jumlah transfer BULK ke PREP yang berhasil diposting.",
	})
	transferValue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockroom_transfer_value_total",
		Help: "Nilai moneter yang dipindahkan lewat transfer.",
	})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_ledger_movements_total",
		Help: "Mutasi ledger per lokasi dan jenis transaksi.",
	}, []string{"location", "kind"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_invariant_violations_total",
		Help: "Pelanggaran invarian yang menggagalkan operasi.",
	}, []string{"operation"})
	opnames := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_opname_completed_total",
		Help: "Sesi stock opname yang selesai per lokasi.",
	}, []string{"location"})
	discrepancies := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockroom_opname_discrepancies",
		Help:    "Jumlah selisih per sesi stock opname.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	}, []string{"location"})
	registry.MustRegister(requests, duration, transfers, transferValue, movements, violations, opnames, discrepancies)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		transfersTotal:    transfers,
		transferValue:     transferValue,
		movementsTotal:    movements,
		violationsTotal:   violations,
		opnameCompleted:   opnames,
		opnameDiscrepancy: discrepancies,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// TransferPosted mencatat transfer yang berhasil.
func (m *Metrics) TransferPosted(_ context.Context, evt inventory.TransferPostedEvent) {
	if m == nil {
		return
	}
	m.transfersTotal.Inc()
	m.transferValue.Add(evt.Value.Abs().InexactFloat64())
}

// MovementPosted mencatat satu mutasi ledger.
func (m *Metrics) MovementPosted(_ context.Context, evt inventory.MovementPostedEvent) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(string(evt.Location), string(evt.Kind)).Inc()
}

// InvariantViolated mencatat operasi yang dibatalkan karena invarian dilanggar.
func (m *Metrics) InvariantViolated(_ context.Context, operation string) {
	if m == nil {
		return
	}
	m.violationsTotal.WithLabelValues(operation).Inc()
}

// OpnameCompleted mencatat sesi stock opname yang selesai.
func (m *Metrics) OpnameCompleted(_ context.Context, sess opname.Session) {
	if m == nil {
		return
	}
	location := string(sess.Location)
	m.opnameCompleted.WithLabelValues(location).Inc()
	m.opnameDiscrepancy.WithLabelValues(location).Observe(float64(sess.TotalDiscrepancies))
}

var (
	_ inventory.Observer = (*Metrics)(nil)
	_ opname.Observer    = (*Metrics)(nil)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
