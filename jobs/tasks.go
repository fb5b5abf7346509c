package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStockIntegrity replays the stock ledger and reports drift.
	TaskStockIntegrity = "stock:integrity"
	// TaskLowStockScan reports products at or under their minimum stock.
	TaskLowStockScan = "stock:lowstock"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LowStockScanPayload tunes the low-stock scan.
type LowStockScanPayload struct {
	// Limit caps how many products are logged per run. Zero means all.
	Limit int `json:"limit"`
}

// NewStockIntegrityTask constructs the integrity replay task.
func NewStockIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskStockIntegrity, nil)
}

// NewLowStockScanTask constructs the low-stock scan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}
