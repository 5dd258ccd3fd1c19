package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockroom/internal/jobs"
)

var defaultRevaluationTolerance = decimal.RequireFromString("0.0001")

// Revaluer rebuilds one record's moving-average cost from its journal.
type Revaluer interface {
	Revalue(ctx context.Context, recordID int64, tolerance decimal.Decimal) (inventory.Revaluation, error)
}

// InventoryRevaluationJob replays costs nightly and reports drift. It never
// writes to the ledger.
type InventoryRevaluationJob struct {
	Records  RecordLister
	Revaluer Revaluer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewInventoryRevaluationJob wires dependencies for the revaluation handler.
func NewInventoryRevaluationJob(records RecordLister, revaluer Revaluer, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryRevaluationJob {
	return &InventoryRevaluationJob{Records: records, Revaluer: revaluer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskInventoryRevaluation tasks.
func (j *InventoryRevaluationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Records == nil || j.Revaluer == nil {
		return errors.New("inventory revaluation: handler not configured")
	}
	var payload InventoryRevaluationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tolerance := defaultRevaluationTolerance
	if payload.Tolerance != "" {
		parsed, err := decimal.NewFromString(payload.Tolerance)
		if err != nil || parsed.IsNegative() {
			return asynq.SkipRetry
		}
		tolerance = parsed
	}

	tracker := j.metrics().Track(TaskInventoryRevaluation)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if !payload.ScheduledFor.IsZero() {
		logger = logger.With(slog.String("scheduled_for", payload.ScheduledFor.Format(time.RFC3339)))
	}
	drifted, err := j.Run(ctx, tolerance)
	if err != nil {
		resultErr = err
		logger.Error("inventory revaluation failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().SetCostDrift(len(drifted))
	logger.Info("completed inventory revaluation", slog.Int("drifted", len(drifted)))
	return resultErr
}

// Run revalues every active record and returns those that drifted.
func (j *InventoryRevaluationJob) Run(ctx context.Context, tolerance decimal.Decimal) ([]inventory.Revaluation, error) {
	ids, err := j.Records.ListRecordIDs(ctx)
	if err != nil {
		return nil, err
	}
	logger := j.logger()
	drifted := []inventory.Revaluation{}
	for _, id := range ids {
		rev, err := j.Revaluer.Revalue(ctx, id, tolerance)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", id, err)
		}
		if !rev.Drift {
			continue
		}
		logger.Warn("moving-average cost drift",
			slog.Int64("record_id", rev.RecordID),
			slog.String("stored_quantity", rev.StoredQuantity.String()),
			slog.String("replayed_quantity", rev.ReplayedQuantity.String()),
			slog.String("stored_unit_cost", rev.StoredUnitCost.String()),
			slog.String("replayed_unit_cost", rev.ReplayedUnitCost.String()),
		)
		drifted = append(drifted, rev)
	}
	return drifted, nil
}

func (j *InventoryRevaluationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryRevaluation))
	}
	return slog.Default().With(slog.String("job", TaskInventoryRevaluation))
}

func (j *InventoryRevaluationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
