package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskJournalIntegrity replays every active record's journal against its quantity.
	TaskJournalIntegrity = "inventory:journal_integrity"
	// TaskLowStockScan reports records below their minimum quantity.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskInventoryRevaluation rebuilds moving-average costs from the journal.
	TaskInventoryRevaluation = "inventory:revaluation"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// JournalIntegrityPayload tunes the integrity sweep.
type JournalIntegrityPayload struct {
	Concurrency int `json:"concurrency"`
}

// LowStockScanPayload narrows the scan to one location; empty scans both.
type LowStockScanPayload struct {
	Location string `json:"location"`
}

// InventoryRevaluationPayload carries scheduling metadata.
type InventoryRevaluationPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Tolerance    string    `json:"tolerance"`
}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewJournalIntegrityTask constructs the integrity task.
func NewJournalIntegrityTask(concurrency int) (*asynq.Task, error) {
	return newTask(TaskJournalIntegrity, JournalIntegrityPayload{Concurrency: concurrency})
}

// NewLowStockScanTask constructs the low-stock task.
func NewLowStockScanTask(location string) (*asynq.Task, error) {
	return newTask(TaskLowStockScan, LowStockScanPayload{Location: location})
}

// NewInventoryRevaluationTask constructs an Asynq task for inventory revaluation.
func NewInventoryRevaluationTask(at time.Time, tolerance string) (*asynq.Task, error) {
	return newTask(TaskInventoryRevaluation, InventoryRevaluationPayload{ScheduledFor: at, Tolerance: tolerance})
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}
