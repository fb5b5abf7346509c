package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/partspoint/partspoint/internal/shared"
)

// RepositoryPort is the persistence surface the stock service needs.
type RepositoryPort interface {
	WithLedger(ctx context.Context, fn func(ctx context.Context, ledger Ledger) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetBalance(ctx context.Context, productID int64) (ProductBalance, error)
	ListLowStock(ctx context.Context) ([]ProductBalance, error)
	ListReplayedBalances(ctx context.Context) ([]IntegrityIssue, error)
}

// Auditor records posting actions; satisfied by shared.AuditLogger.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder counts ledger writes; satisfied by observability.Metrics.
type Recorder interface {
	MovementWritten(movementType string, n int)
}

// Config tunes stock behaviour.
type Config struct {
	// AllowNegative permits balances below zero on adjustments. Off by
	// default; sale/return postings never allow it regardless.
	AllowNegative bool
	// StatusTTL bounds staleness of the cached stock status.
	StatusTTL time.Duration
	// DefaultMinStock backstops products with no minimum level of their own.
	DefaultMinStock float64
}

// Service implements stock use-cases.
type Service struct {
	repo    RepositoryPort
	cache   *redis.Client
	audit   Auditor
	metrics Recorder
	logger  *slog.Logger
	cfg     Config
}

// SetMetrics attaches a ledger counter sink. Optional.
func (s *Service) SetMetrics(rec Recorder) {
	s.metrics = rec
}

// NewService constructs Service. cache may be nil, which disables status
// caching.
func NewService(repo RepositoryPort, cache *redis.Client, audit Auditor, logger *slog.Logger, cfg Config) *Service {
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Minute
	}
	if cfg.DefaultMinStock <= 0 {
		cfg.DefaultMinStock = 5
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, cfg: cfg}
}

func statusKey(productID int64) string {
	return "stock:status:" + strconv.FormatInt(productID, 10)
}

// Status returns the display status of a product's balance, served from
// Redis when fresh.
func (s *Service) Status(ctx context.Context, productID int64) (StockStatus, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, statusKey(productID)).Result()
		if err == nil {
			var st StockStatus
			if json.Unmarshal([]byte(raw), &st) == nil {
				return st, nil
			}
		}
	}
	balance, err := s.repo.GetBalance(ctx, productID)
	if err != nil {
		return StockStatus{}, err
	}
	minStock := balance.MinStock
	if minStock <= 0 {
		minStock = s.cfg.DefaultMinStock
	}
	st := StatusFor(balance.ProductID, balance.Quantity, minStock)
	if s.cache != nil {
		if raw, err := json.Marshal(st); err == nil {
			if err := s.cache.Set(ctx, statusKey(productID), raw, s.cfg.StatusTTL).Err(); err != nil {
				s.logger.Warn("stock status cache write failed", slog.Int64("product_id", productID), slog.Any("error", err))
			}
		}
	}
	return st, nil
}

// Statuses resolves status badges for several products at once. Lookups run
// concurrently since most of them are cache hits.
func (s *Service) Statuses(ctx context.Context, productIDs []int64) ([]StockStatus, error) {
	statuses := make([]StockStatus, len(productIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range productIDs {
		i, id := i, id
		g.Go(func() error {
			st, err := s.Status(gctx, id)
			if err != nil {
				return err
			}
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Invalidate drops cached statuses after a posting touched the products.
func (s *Service) Invalidate(ctx context.Context, productIDs ...int64) {
	if s.cache == nil || len(productIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, statusKey(id))
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("stock status cache invalidation failed", slog.Any("error", err))
	}
}

// AdjustmentRequest is a manual signed correction to one product's balance.
type AdjustmentRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Delta     float64 `json:"delta" validate:"required"`
	Note      string  `json:"note"`
	ActorID   int64   `json:"-"`
}

// PostAdjustment applies a signed correction atomically: lock, verify the
// resulting balance, update, append an ADJ ledger row.
func (s *Service) PostAdjustment(ctx context.Context, req AdjustmentRequest) (Movement, error) {
	if req.ProductID <= 0 || req.Delta == 0 {
		return Movement{}, fmt.Errorf("%w: product and non-zero delta required", ErrValidation)
	}
	var movement Movement
	err := s.repo.WithLedger(ctx, func(ctx context.Context, ledger Ledger) error {
		locked, err := ledger.LockProducts(ctx, []int64{req.ProductID})
		if err != nil {
			return err
		}
		p := locked[req.ProductID]
		if p.IsBundle {
			return fmt.Errorf("%w: bundle parents hold no stock, adjust the components", ErrValidation)
		}
		newQty := p.Quantity + req.Delta
		if newQty < 0 && !s.cfg.AllowNegative {
			return &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   -req.Delta,
				Available:   p.Quantity,
			}
		}
		if err := ledger.UpdateStock(ctx, p.ID, newQty, p.CostPrice); err != nil {
			return err
		}
		movement = Movement{
			ProductID:    p.ID,
			Type:         MovementAdj,
			Quantity:     req.Delta,
			UnitCost:     p.CostPrice,
			BalanceAfter: newQty,
			RefType:      "adjustment",
			Note:         req.Note,
			CreatedBy:    req.ActorID,
		}
		id, err := ledger.Append(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.Invalidate(ctx, req.ProductID)
	if s.metrics != nil {
		s.metrics.MovementWritten(string(MovementAdj), 1)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  req.ActorID,
			Action:   "stock.adjust",
			Entity:   "product",
			EntityID: strconv.FormatInt(req.ProductID, 10),
			Meta:     map[string]any{"delta": req.Delta, "balance_after": movement.BalanceAfter, "note": req.Note},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	s.logger.Info("stock adjusted",
		slog.Int64("product_id", req.ProductID),
		slog.Float64("delta", req.Delta),
		slog.Float64("balance_after", movement.BalanceAfter))
	return movement, nil
}

// StockCard returns a product's ledger slice oldest-first.
func (s *Service) StockCard(ctx context.Context, productID int64, from, to time.Time, limit int) ([]Movement, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("%w: product required", ErrValidation)
	}
	return s.repo.ListMovements(ctx, MovementFilter{ProductID: productID, From: from, To: to, Limit: limit})
}

// LowStock lists active products at or under their minimum level.
func (s *Service) LowStock(ctx context.Context) ([]ProductBalance, error) {
	return s.repo.ListLowStock(ctx)
}

// CheckIntegrity replays the full ledger per product and reports balances
// that drifted from the stored quantity. A clean system returns an empty
// slice.
func (s *Service) CheckIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	all, err := s.repo.ListReplayedBalances(ctx)
	if err != nil {
		return nil, err
	}
	const epsilon = 1e-6
	var issues []IntegrityIssue
	for _, row := range all {
		if math.Abs(row.Stored-row.Replayed) > epsilon {
			issues = append(issues, row)
		}
	}
	if len(issues) > 0 {
		s.logger.Warn("stock integrity drift detected", slog.Int("products", len(issues)))
	}
	return issues, nil
}
