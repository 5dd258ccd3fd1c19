package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockroom/internal/jobs"
)

// StockLister reads records with filters.
type StockLister interface {
	ListRecords(ctx context.Context, filter inventory.RecordFilter) ([]inventory.Record, error)
}

// LowStockScanJob reports active records sitting below their minimum quantity.
// Reordering is decided elsewhere; the scan only logs and publishes counts.
type LowStockScanJob struct {
	Stock   StockLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the scan handler.
func NewLowStockScanJob(stock StockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Stock: stock, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLowStockScan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	locations := []inventory.Location{inventory.LocationBulk, inventory.LocationPrep}
	if payload.Location != "" {
		loc := inventory.Location(strings.ToUpper(payload.Location))
		if !loc.Valid() {
			return asynq.SkipRetry
		}
		locations = []inventory.Location{loc}
	}

	tracker := j.metrics().Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	_, err := j.Scan(ctx, locations...)
	resultErr = err
	return resultErr
}

// Scan returns the low records per location.
func (j *LowStockScanJob) Scan(ctx context.Context, locations ...inventory.Location) (map[inventory.Location][]inventory.Record, error) {
	logger := j.logger()
	out := make(map[inventory.Location][]inventory.Record, len(locations))
	for _, loc := range locations {
		records, err := j.Stock.ListRecords(ctx, inventory.RecordFilter{Location: loc, ActiveOnly: true, BelowMinimum: true})
		if err != nil {
			logger.Error("list low stock", slog.String("location", string(loc)), slog.Any("error", err))
			return nil, err
		}
		for _, rec := range records {
			logger.Warn("stock below minimum",
				slog.Int64("record_id", rec.ID),
				slog.String("item", rec.Label()),
				slog.String("quantity", rec.Quantity.String()),
				slog.String("min_quantity", rec.MinQuantity.String()),
				slog.String("unit", rec.Unit),
			)
		}
		j.metrics().SetLowStock(string(loc), len(records))
		out[loc] = records
	}
	return out, nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
