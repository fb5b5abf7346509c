package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/partspoint/partspoint/internal/jobs"
	"github.com/partspoint/partspoint/internal/stock"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StockIntegrityJob replays the movement ledger against stored balances.
type StockIntegrityJob struct {
	Stock   *stock.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockIntegrityJob wires dependencies for the integrity handler.
func NewStockIntegrityJob(stockSvc *stock.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockIntegrityJob {
	return &StockIntegrityJob{Stock: stockSvc, Logger: logger, Metrics: metrics}
}

// Handle processes stock integrity tasks.
func (j *StockIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("stock integrity: handler not configured")
	}
	tracker := j.metrics().Track(TaskStockIntegrity)
	issues, err := j.Stock.CheckIntegrity(ctx)
	if err != nil {
		j.logger().Error("stock integrity replay failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddIntegrityDrift(len(issues))
	if len(issues) == 0 {
		j.logger().Info("stock integrity clean")
	} else {
		for _, issue := range issues {
			j.logger().Warn("stock integrity drift",
				slog.Int64("product_id", issue.ProductID),
				slog.Float64("stored", issue.Stored),
				slog.Float64("replayed", issue.Replayed))
		}
	}
	return tracker.End(nil)
}

func (j *StockIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StockIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
