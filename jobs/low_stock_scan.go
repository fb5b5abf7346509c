package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/partspoint/partspoint/internal/jobs"
	"github.com/partspoint/partspoint/internal/stock"
)

// LowStockScanJob reports products at or under their minimum stock so the
// owner can reorder.
type LowStockScanJob struct {
	Stock   *stock.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the low-stock handler.
func NewLowStockScanJob(stockSvc *stock.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Stock: stockSvc, Logger: logger, Metrics: metrics}
}

// Handle processes low-stock scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics().Track(TaskLowStockScan)
	balances, err := j.Stock.LowStock(ctx)
	if err != nil {
		j.logger().Error("low stock scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().SetLowStock(len(balances))
	logged := 0
	for _, b := range balances {
		if payload.Limit > 0 && logged >= payload.Limit {
			break
		}
		j.logger().Warn("low stock",
			slog.Int64("product_id", b.ProductID),
			slog.String("sku", b.SKU),
			slog.Float64("quantity", b.Quantity),
			slog.Float64("min_stock", b.MinStock))
		logged++
	}
	return tracker.End(nil)
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
