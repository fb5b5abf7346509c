package purchasing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/partspoint/partspoint/internal/catalog"
	"github.com/partspoint/partspoint/internal/shared"
	"github.com/partspoint/partspoint/internal/stock"
)

// RepositoryPort is the persistence surface the purchasing service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	ListPurchases(ctx context.Context, status Status, limit int) ([]Purchase, error)
}

// IdempotencyGuard deduplicates posting submissions; satisfied by
// shared.IdempotencyStore.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Auditor records posting actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops cached stock statuses after a posting.
type Invalidator interface {
	Invalidate(ctx context.Context, productIDs ...int64)
}

// Recorder counts posted documents and ledger writes; satisfied by
// observability.Metrics.
type Recorder interface {
	DocumentPosted(docType string)
	MovementWritten(movementType string, n int)
}

// Service implements the purchase document lifecycle.
type Service struct {
	repo     RepositoryPort
	idem     IdempotencyGuard
	audit    Auditor
	stock    Invalidator
	metrics  Recorder
	validate *validator.Validate
	logger   *slog.Logger
}

// SetMetrics attaches a posting counter sink. Optional.
func (s *Service) SetMetrics(rec Recorder) {
	s.metrics = rec
}

// NewService constructs Service. idem, audit and stockCache may be nil.
func NewService(repo RepositoryPort, idem IdempotencyGuard, audit Auditor, stockCache Invalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		idem:     idem,
		audit:    audit,
		stock:    stockCache,
		validate: validator.New(),
		logger:   logger,
	}
}

// GetPurchase loads one document.
func (s *Service) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// ListPurchases lists documents.
func (s *Service) ListPurchases(ctx context.Context, status Status, limit int) ([]Purchase, error) {
	return s.repo.ListPurchases(ctx, status, limit)
}

// CreatePurchase creates a DRAFT document with a daily-sequenced number.
// Drafts have no stock effect.
func (s *Service) CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (Purchase, error) {
	if err := s.validate.Struct(req); err != nil {
		return Purchase{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var created Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		now := time.Now()
		seq, err := repo.MaxDocSeq(ctx, shared.DocNoPrefix(shared.DocPrefixPurchase, now))
		if err != nil {
			return err
		}
		p := Purchase{
			DocNo:      shared.FormatDocNo(shared.DocPrefixPurchase, now, seq+1),
			SupplierID: req.SupplierID,
			Status:     StatusDraft,
			Note:       req.Note,
			CreatedBy:  req.ActorID,
			CreatedAt:  now,
		}
		items := make([]PurchaseItem, 0, len(req.Items))
		for _, line := range req.Items {
			if _, err := repo.GetProductInfo(ctx, line.ProductID); err != nil {
				return fmt.Errorf("line product %d: %w", line.ProductID, err)
			}
			lineTotal := line.Quantity * line.UnitCost
			items = append(items, PurchaseItem{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitCost:  line.UnitCost,
				LineTotal: lineTotal,
			})
			p.TotalAmount += lineTotal
		}
		id, err := repo.InsertPurchase(ctx, p)
		if err != nil {
			return err
		}
		if err := repo.InsertItems(ctx, id, items); err != nil {
			return err
		}
		p.ID = id
		p.Items = items
		created = p
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.logger.Info("purchase created", slog.Int64("purchase_id", created.ID), slog.String("doc_no", created.DocNo))
	return created, nil
}

// lineReceipt is one line's resolved stock effect.
type lineReceipt struct {
	receipts []catalog.ComponentReceipt
	parent   *catalog.Product // set for bundle lines; gets an informational row
	stockQty float64
	unitCost float64
}

// PostPurchase applies a draft's stock effect atomically: resolve every line
// to its target products, lock them in ascending id order, receive with
// weighted-average cost updates, append ledger rows, flip the status.
// Posting an already-posted document fails the status guard, so retries
// cannot double-receive.
func (s *Service) PostPurchase(ctx context.Context, purchaseID, actorID int64, idemKey string) (Purchase, error) {
	if idemKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "purchasing"); err != nil {
			return Purchase{}, err
		}
	}
	var posted Purchase
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		p, err := repo.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status != StatusDraft {
			return fmt.Errorf("%w: cannot post %s purchase %s", ErrInvalidState, p.Status, p.DocNo)
		}
		items, err := repo.ListItems(ctx, purchaseID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("%w: purchase %s has no lines", ErrValidation, p.DocNo)
		}

		plan := make([]lineReceipt, 0, len(items))
		productIDs := []int64{}
		for _, item := range items {
			prod, err := repo.GetProductInfo(ctx, item.ProductID)
			if err != nil {
				return fmt.Errorf("line product %d: %w", item.ProductID, err)
			}
			itemsPerUnit := float64(prod.ItemsPerUnit)
			if itemsPerUnit < 1 {
				itemsPerUnit = 1
			}
			stockQty := item.Quantity * itemsPerUnit
			if stockQty <= 0 {
				return fmt.Errorf("%w: non-positive quantity on product %s", ErrValidation, prod.SKU)
			}
			lineTotal := item.LineTotal
			if lineTotal == 0 {
				lineTotal = item.Quantity * item.UnitCost
			}
			unitCost := lineTotal / stockQty

			var line lineReceipt
			line.stockQty = stockQty
			line.unitCost = unitCost
			if prod.IsBundle {
				comps, err := repo.ListComponents(ctx, prod.ID)
				if err != nil {
					return err
				}
				receipts, err := catalog.FanOutReceive(prod, comps, stockQty, lineTotal)
				if err != nil {
					return err
				}
				parent := prod
				line.parent = &parent
				line.receipts = receipts
			} else {
				line.receipts = []catalog.ComponentReceipt{{ProductID: prod.ID, SKU: prod.SKU, Qty: stockQty, UnitCost: unitCost}}
			}
			plan = append(plan, line)
			for _, rc := range line.receipts {
				productIDs = append(productIDs, rc.ProductID)
			}
		}

		ledger := repo.Ledger()
		locked, err := ledger.LockProducts(ctx, productIDs)
		if err != nil {
			return err
		}
		// Running images: several lines may hit the same product.
		balances := make(map[int64]stock.LockedProduct, len(locked))
		for id, img := range locked {
			balances[id] = img
		}

		now := time.Now()
		for _, line := range plan {
			for _, rc := range line.receipts {
				img := balances[rc.ProductID]
				newQty := img.Quantity + rc.Qty
				newCost := img.CostPrice
				// Weighted average absorbs the receipt only when it
				// carries a real cost and the result holds stock.
				if newQty > 0 && rc.UnitCost > 0 {
					newCost = (img.Quantity*img.CostPrice + rc.Qty*rc.UnitCost) / newQty
				}
				if err := ledger.UpdateStock(ctx, rc.ProductID, newQty, newCost); err != nil {
					return err
				}
				if _, err := ledger.Append(ctx, stock.Movement{
					ProductID:    rc.ProductID,
					Type:         stock.MovementIn,
					Quantity:     rc.Qty,
					UnitCost:     rc.UnitCost,
					BalanceAfter: newQty,
					RefType:      "purchase",
					RefID:        p.ID,
					DocNo:        p.DocNo,
					CreatedBy:    actorID,
				}); err != nil {
					return err
				}
				img.Quantity = newQty
				img.CostPrice = newCost
				balances[rc.ProductID] = img
			}
			if line.parent != nil {
				// Informational row for the bundle parent; it owns no
				// stock, so the balance stays zero.
				if _, err := ledger.Append(ctx, stock.Movement{
					ProductID:    line.parent.ID,
					Type:         stock.MovementIn,
					Quantity:     line.stockQty,
					UnitCost:     line.unitCost,
					BalanceAfter: 0,
					RefType:      "purchase",
					RefID:        p.ID,
					DocNo:        p.DocNo,
					Note:         "bundle receipt fan-out",
					CreatedBy:    actorID,
				}); err != nil {
					return err
				}
			}
		}

		if err := repo.SetStatus(ctx, purchaseID, StatusPosted, now); err != nil {
			return err
		}
		p.Status = StatusPosted
		p.PostedAt = &now
		p.Items = items
		posted = p
		touched = productIDs
		return nil
	})
	if err != nil {
		if idemKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Purchase{}, err
	}
	if s.stock != nil {
		s.stock.Invalidate(ctx, touched...)
	}
	if s.metrics != nil {
		s.metrics.DocumentPosted("PURCHASE")
		s.metrics.MovementWritten(string(stock.MovementIn), len(touched))
	}
	s.recordAudit(ctx, actorID, "purchase.post", posted)
	s.logger.Info("purchase posted", slog.Int64("purchase_id", posted.ID), slog.String("doc_no", posted.DocNo))
	return posted, nil
}

// CancelPurchase terminates a document. Drafts flip directly; posted
// documents reverse their recorded receipts with OUT movements under
// CANCEL-{doc_no}, failing whole when any component balance cannot cover
// the reversal.
func (s *Service) CancelPurchase(ctx context.Context, purchaseID, actorID int64, reason string) (Purchase, error) {
	var cancelled Purchase
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		p, err := repo.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		now := time.Now()
		switch p.Status {
		case StatusDraft:
			// No stock effect to reverse.
		case StatusPosted:
			movements, err := repo.ListMovementsByDoc(ctx, p.DocNo)
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(movements))
			for _, m := range movements {
				ids = append(ids, m.ProductID)
			}
			ledger := repo.Ledger()
			locked, err := ledger.LockProducts(ctx, ids)
			if err != nil {
				return err
			}
			balances := make(map[int64]stock.LockedProduct, len(locked))
			for id, img := range locked {
				balances[id] = img
			}
			for _, m := range movements {
				if m.Type != stock.MovementIn {
					continue
				}
				img := balances[m.ProductID]
				if img.IsBundle {
					// Informational row; nothing to reverse.
					continue
				}
				newQty := img.Quantity - m.Quantity
				if newQty < 0 {
					return &stock.InsufficientStockError{
						ProductID:   img.ID,
						ProductName: img.Name,
						Requested:   m.Quantity,
						Available:   img.Quantity,
					}
				}
				if err := ledger.UpdateStock(ctx, m.ProductID, newQty, img.CostPrice); err != nil {
					return err
				}
				if _, err := ledger.Append(ctx, stock.Movement{
					ProductID:    m.ProductID,
					Type:         stock.MovementOut,
					Quantity:     m.Quantity,
					UnitCost:     m.UnitCost,
					BalanceAfter: newQty,
					RefType:      "purchase_cancel",
					RefID:        p.ID,
					DocNo:        "CANCEL-" + p.DocNo,
					Note:         reason,
					CreatedBy:    actorID,
				}); err != nil {
					return err
				}
				img.Quantity = newQty
				balances[m.ProductID] = img
				touched = append(touched, m.ProductID)
			}
		default:
			return fmt.Errorf("%w: cannot cancel %s purchase %s", ErrInvalidState, p.Status, p.DocNo)
		}
		if err := repo.SetStatus(ctx, purchaseID, StatusCancelled, now); err != nil {
			return err
		}
		p.Status = StatusCancelled
		p.CancelledAt = &now
		cancelled = p
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	if s.stock != nil && len(touched) > 0 {
		s.stock.Invalidate(ctx, touched...)
		if s.metrics != nil {
			s.metrics.MovementWritten(string(stock.MovementOut), len(touched))
		}
	}
	s.recordAudit(ctx, actorID, "purchase.cancel", cancelled)
	s.logger.Info("purchase cancelled", slog.Int64("purchase_id", cancelled.ID), slog.String("doc_no", cancelled.DocNo))
	return cancelled, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, p Purchase) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     map[string]any{"doc_no": p.DocNo, "status": string(p.Status), "total": p.TotalAmount},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
