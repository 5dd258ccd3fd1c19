package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockroom/internal/jobs"
	"github.com/odyssey-erp/stockroom/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RecordLister enumerates the records a sweep should visit.
type RecordLister interface {
	ListRecordIDs(ctx context.Context) ([]int64, error)
}

// JournalVerifier replays one record's journal.
type JournalVerifier interface {
	VerifyJournal(ctx context.Context, recordID int64) (inventory.JournalCheck, error)
}

// IntegrityReport summarises one sweep.
type IntegrityReport struct {
	Checked int
	Drifted []inventory.JournalCheck
}

// JournalIntegrityJob checks that every record's journal replays to its quantity.
type JournalIntegrityJob struct {
	Records  RecordLister
	Verifier JournalVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewJournalIntegrityJob wires dependencies for the integrity handler.
func NewJournalIntegrityJob(records RecordLister, verifier JournalVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *JournalIntegrityJob {
	return &JournalIntegrityJob{Records: records, Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle processes TaskJournalIntegrity tasks. Drift fails the run without retry.
func (j *JournalIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Records == nil || j.Verifier == nil {
		return errors.New("journal integrity: handler not configured")
	}
	var payload JournalIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskJournalIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	report, err := j.Run(ctx, payload.Concurrency)
	if err != nil {
		resultErr = err
		logger.Error("journal integrity sweep failed", slog.Any("error", err))
		return resultErr
	}
	for _, check := range report.Drifted {
		logger.Error("journal drift detected",
			slog.Int64("record_id", check.RecordID),
			slog.String("record_quantity", check.RecordQuantity.String()),
			slog.String("journal_quantity", check.JournalQuantity.String()),
		)
	}
	j.metrics().AddDrift(len(report.Drifted))
	logger.Info("completed journal integrity sweep",
		slog.Int("records", report.Checked),
		slog.Int("drifted", len(report.Drifted)),
		slog.Duration("duration", time.Since(start)),
	)
	if len(report.Drifted) > 0 {
		resultErr = fmt.Errorf("journal integrity: %d records drifted: %w", len(report.Drifted), asynq.SkipRetry)
	}
	return resultErr
}

// Run verifies every record with at most concurrency checks in flight.
func (j *JournalIntegrityJob) Run(ctx context.Context, concurrency int) (IntegrityReport, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	ids, err := j.Records.ListRecordIDs(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}

	var (
		mu      sync.Mutex
		drifted []inventory.JournalCheck
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			check, err := j.Verifier.VerifyJournal(gctx, id)
			switch {
			case err == nil:
				return nil
			case shared.IsInvariant(err):
				mu.Lock()
				drifted = append(drifted, check)
				mu.Unlock()
				return nil
			default:
				return fmt.Errorf("record %d: %w", id, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return IntegrityReport{}, err
	}
	sort.Slice(drifted, func(a, b int) bool { return drifted[a].RecordID < drifted[b].RecordID })
	return IntegrityReport{Checked: len(ids), Drifted: drifted}, nil
}

func (j *JournalIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskJournalIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskJournalIntegrity))
}

func (j *JournalIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
