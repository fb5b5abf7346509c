package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/partspoint/partspoint/internal/catalog"
	"github.com/partspoint/partspoint/internal/shared"
	"github.com/partspoint/partspoint/internal/stock"
)

// RepositoryPort is the persistence surface the sales service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
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

// Config tunes sales behaviour.
type Config struct {
	// ReturnWindow bounds how long after posting a sale accepts returns.
	ReturnWindow time.Duration
}

// Service implements the sale and return document lifecycle.
type Service struct {
	repo     RepositoryPort
	idem     IdempotencyGuard
	audit    Auditor
	stock    Invalidator
	metrics  Recorder
	validate *validator.Validate
	logger   *slog.Logger
	cfg      Config
}

// SetMetrics attaches a posting counter sink. Optional.
func (s *Service) SetMetrics(rec Recorder) {
	s.metrics = rec
}

// NewService constructs Service. idem, audit and stockCache may be nil.
func NewService(repo RepositoryPort, idem IdempotencyGuard, audit Auditor, stockCache Invalidator, logger *slog.Logger, cfg Config) *Service {
	if cfg.ReturnWindow <= 0 {
		cfg.ReturnWindow = 7 * 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		idem:     idem,
		audit:    audit,
		stock:    stockCache,
		validate: validator.New(),
		logger:   logger,
		cfg:      cfg,
	}
}

// GetTransaction loads one document.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists documents.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// ListHeldBills lists sales parked at the register.
func (s *Service) ListHeldBills(ctx context.Context) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, TransactionFilter{DocType: DocTypeSale, Status: StatusHold})
}

// DiscardHeld deletes a held bill. Only HOLD sales can be discarded; a
// posted document keeps its ledger trail and must be cancelled instead.
func (s *Service) DiscardHeld(ctx context.Context, transactionID, actorID int64) error {
	var discarded Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.DocType != DocTypeSale {
			return fmt.Errorf("%w: %s is not a sale", ErrValidation, t.DocNo)
		}
		if t.Status != StatusHold {
			return fmt.Errorf("%w: cannot discard %s sale %s", ErrInvalidState, t.Status, t.DocNo)
		}
		if err := repo.DeleteTransaction(ctx, transactionID); err != nil {
			return err
		}
		discarded = t
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "sale.discard", discarded)
	s.logger.Info("held bill discarded", slog.Int64("transaction_id", discarded.ID), slog.String("doc_no", discarded.DocNo))
	return nil
}

// resolvePrice picks the unit price for a sale line.
func resolvePrice(p catalog.Product, priceType string, customPrice float64) (string, float64, error) {
	switch priceType {
	case "", PriceRetail:
		return PriceRetail, p.SellingPrice, nil
	case PriceWholesale:
		if p.WholesalePrice > 0 {
			return PriceWholesale, p.WholesalePrice, nil
		}
		return PriceWholesale, p.SellingPrice, nil
	case PriceCustom:
		if customPrice <= 0 {
			return "", 0, fmt.Errorf("%w: custom price required for %s", ErrValidation, p.SKU)
		}
		return PriceCustom, customPrice, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown price type %q", ErrValidation, priceType)
	}
}

// CreateSale opens a HOLD sale. Lines snapshot the bundle composition at
// write time; the snapshot is what posting and reversal resolve through.
func (s *Service) CreateSale(ctx context.Context, req CreateSaleRequest) (Transaction, error) {
	if err := s.validate.Struct(req); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var created Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		now := time.Now()
		seq, err := repo.MaxDocSeq(ctx, shared.DocNoPrefix(shared.DocPrefixSale, now))
		if err != nil {
			return err
		}
		t := Transaction{
			DocNo:        shared.FormatDocNo(shared.DocPrefixSale, now, seq+1),
			DocType:      DocTypeSale,
			Status:       StatusHold,
			CustomerName: req.CustomerName,
			Note:         req.Note,
			CreatedBy:    req.ActorID,
			CreatedAt:    now,
		}
		items := make([]TransactionItem, 0, len(req.Items))
		for _, line := range req.Items {
			prod, err := repo.GetProductInfo(ctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("line product %d: %w", line.ProductID, err)
			}
			if !prod.IsActive {
				return fmt.Errorf("%w: product %s is inactive", ErrValidation, prod.SKU)
			}
			priceType, unitPrice, err := resolvePrice(prod, line.PriceType, line.CustomPrice)
			if err != nil {
				return err
			}
			item := TransactionItem{
				ProductID: prod.ID,
				Quantity:  line.Quantity,
				UnitPrice: unitPrice,
				CostPrice: prod.CostPrice,
				PriceType: priceType,
				LineTotal: line.Quantity * unitPrice,
			}
			var comps []catalog.Component
			if prod.IsBundle {
				if comps, err = repo.ListComponents(ctx, prod.ID); err != nil {
					return err
				}
				if len(comps) == 0 {
					return fmt.Errorf("%w: bundle %s has no components", ErrValidation, prod.SKU)
				}
				item.BundleItems = catalog.Snapshot(comps)
			}
			// Advisory availability check so the register hears about
			// shortages immediately; posting re-verifies under the lock.
			if available := catalog.EffectiveStock(prod, comps); line.Quantity > available {
				return &stock.InsufficientStockError{
					ProductID:   prod.ID,
					ProductName: prod.Name,
					Requested:   line.Quantity,
					Available:   available,
				}
			}
			items = append(items, item)
			t.TotalAmount += item.LineTotal
		}
		if req.Discount > t.TotalAmount {
			return fmt.Errorf("%w: discount %g exceeds bill total %g", ErrValidation, req.Discount, t.TotalAmount)
		}
		t.DiscountAmount = req.Discount
		t.GrandTotal = t.TotalAmount - req.Discount
		id, err := repo.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		if err := repo.InsertItems(ctx, id, items); err != nil {
			return err
		}
		t.ID = id
		t.Items = items
		created = t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.logger.Info("sale created", slog.Int64("transaction_id", created.ID), slog.String("doc_no", created.DocNo))
	return created, nil
}

// productDelta is one product's aggregated posting effect.
type productDelta struct {
	productID int64
	qty       float64
}

// resolveDeltas aggregates every line's stock effect per product. Sales with
// several lines touching the same component must check sufficiency against
// the combined demand, not line by line.
func resolveDeltas(ctx context.Context, repo TxRepository, items []TransactionItem, skipMissing bool, logger *slog.Logger) ([]productDelta, error) {
	totals := map[int64]float64{}
	for _, item := range items {
		prod, err := repo.GetProductInfo(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, ErrNotFound) && len(item.BundleItems) > 0 {
				// Parent gone but the snapshot still names the
				// components; synthesize a bundle shell so the
				// fan-out works off the snapshot alone.
				prod = catalog.Product{ID: item.ProductID, IsBundle: true}
			} else if errors.Is(err, ErrNotFound) && skipMissing {
				logger.Warn("skipping deleted product during reversal", slog.Int64("product_id", item.ProductID))
				continue
			} else {
				return nil, fmt.Errorf("line product %d: %w", item.ProductID, err)
			}
		}
		var live []catalog.Component
		if prod.IsBundle && len(item.BundleItems) == 0 {
			if live, err = repo.ListComponents(ctx, prod.ID); err != nil {
				return nil, err
			}
		}
		for _, issue := range catalog.FanOutIssue(prod, item.BundleItems, live, item.Quantity) {
			exists, err := repo.ProductExists(ctx, issue.ProductID)
			if err != nil {
				return nil, err
			}
			if !exists {
				if skipMissing {
					logger.Warn("skipping deleted component during reversal", slog.Int64("product_id", issue.ProductID))
					continue
				}
				return nil, fmt.Errorf("%w: component product %d no longer exists", ErrValidation, issue.ProductID)
			}
			totals[issue.ProductID] += issue.Qty
		}
	}
	deltas := make([]productDelta, 0, len(totals))
	for id, qty := range totals {
		deltas = append(deltas, productDelta{productID: id, qty: qty})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].productID < deltas[j].productID })
	return deltas, nil
}

// applyDeltas locks the products in ascending order and applies the
// aggregated effect in the rule's direction, appending one ledger row per
// product.
func applyDeltas(ctx context.Context, repo TxRepository, rule postingRule, deltas []productDelta, refType, docNo string, refID, actorID int64) ([]int64, error) {
	ids := make([]int64, 0, len(deltas))
	for _, d := range deltas {
		ids = append(ids, d.productID)
	}
	ledger := repo.Ledger()
	locked, err := ledger.LockProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	if rule.checksStock {
		for _, d := range deltas {
			img := locked[d.productID]
			if img.Quantity < d.qty {
				return nil, &stock.InsufficientStockError{
					ProductID:   img.ID,
					ProductName: img.Name,
					Requested:   d.qty,
					Available:   img.Quantity,
				}
			}
		}
	}
	for _, d := range deltas {
		img := locked[d.productID]
		newQty := img.Quantity + d.qty
		if rule.direction == stock.MovementOut {
			newQty = img.Quantity - d.qty
		}
		if err := ledger.UpdateStock(ctx, d.productID, newQty, img.CostPrice); err != nil {
			return nil, err
		}
		if _, err := ledger.Append(ctx, stock.Movement{
			ProductID:    d.productID,
			Type:         rule.direction,
			Quantity:     d.qty,
			UnitCost:     img.CostPrice,
			BalanceAfter: newQty,
			RefType:      refType,
			RefID:        refID,
			DocNo:        docNo,
			CreatedBy:    actorID,
		}); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// PostSale applies a held sale's stock effect: resolve lines through their
// snapshots, aggregate per product, lock ascending, verify sufficiency
// against the combined demand, issue, flip the status.
func (s *Service) PostSale(ctx context.Context, transactionID, actorID int64, idemKey string) (Transaction, error) {
	if idemKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "sales"); err != nil {
			return Transaction{}, err
		}
	}
	var posted Transaction
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.DocType != DocTypeSale {
			return fmt.Errorf("%w: %s is not a sale", ErrValidation, t.DocNo)
		}
		if t.Status != StatusHold {
			return fmt.Errorf("%w: cannot post %s sale %s", ErrInvalidState, t.Status, t.DocNo)
		}
		items, err := repo.ListItems(ctx, transactionID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("%w: sale %s has no lines", ErrValidation, t.DocNo)
		}
		deltas, err := resolveDeltas(ctx, repo, items, false, s.logger)
		if err != nil {
			return err
		}
		ids, err := applyDeltas(ctx, repo, postingRules[DocTypeSale], deltas, "sale", t.DocNo, t.ID, actorID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := repo.SetStatus(ctx, transactionID, StatusPosted, now); err != nil {
			return err
		}
		t.Status = StatusPosted
		t.PostedAt = &now
		t.Items = items
		posted = t
		touched = ids
		return nil
	})
	if err != nil {
		if idemKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, idemKey)
		}
		return Transaction{}, err
	}
	if s.stock != nil {
		s.stock.Invalidate(ctx, touched...)
	}
	if s.metrics != nil {
		s.metrics.DocumentPosted(string(DocTypeSale))
		s.metrics.MovementWritten(string(stock.MovementOut), len(touched))
	}
	s.recordAudit(ctx, actorID, "sale.post", posted)
	s.logger.Info("sale posted", slog.Int64("transaction_id", posted.ID), slog.String("doc_no", posted.DocNo))
	return posted, nil
}

// CancelSale terminates a sale. Held bills flip directly; posted sales put
// the issued stock back through the line snapshots, skipping components
// that were hard-deleted since. Payments are voided either way.
func (s *Service) CancelSale(ctx context.Context, transactionID, actorID int64, reason string) (Transaction, error) {
	var cancelled Transaction
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.DocType != DocTypeSale {
			return fmt.Errorf("%w: %s is not a sale", ErrValidation, t.DocNo)
		}
		now := time.Now()
		switch t.Status {
		case StatusHold:
			// Nothing posted, nothing to reverse.
		case StatusPosted:
			items, err := repo.ListItems(ctx, transactionID)
			if err != nil {
				return err
			}
			deltas, err := resolveDeltas(ctx, repo, items, true, s.logger)
			if err != nil {
				return err
			}
			restoreRule := postingRule{direction: stock.MovementIn}
			ids, err := applyDeltas(ctx, repo, restoreRule, deltas, "sale_cancel", "CANCEL-"+t.DocNo, t.ID, actorID)
			if err != nil {
				return err
			}
			touched = ids
		default:
			return fmt.Errorf("%w: cannot cancel %s sale %s", ErrInvalidState, t.Status, t.DocNo)
		}
		if err := repo.VoidPayments(ctx, transactionID); err != nil {
			return err
		}
		if err := repo.SetStatus(ctx, transactionID, StatusCancelled, now); err != nil {
			return err
		}
		t.Status = StatusCancelled
		t.CancelledAt = &now
		cancelled = t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	if s.stock != nil && len(touched) > 0 {
		s.stock.Invalidate(ctx, touched...)
		if s.metrics != nil {
			s.metrics.MovementWritten(string(stock.MovementIn), len(touched))
		}
	}
	s.recordAudit(ctx, actorID, "sale.cancel", cancelled)
	s.logger.Info("sale cancelled", slog.Int64("transaction_id", cancelled.ID), slog.String("doc_no", cancelled.DocNo))
	return cancelled, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, t Transaction) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transaction",
		EntityID: strconv.FormatInt(t.ID, 10),
		Meta:     map[string]any{"doc_no": t.DocNo, "doc_type": string(t.DocType), "status": string(t.Status), "total": t.GrandTotal},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
