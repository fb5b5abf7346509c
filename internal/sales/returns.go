package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/partspoint/partspoint/internal/shared"
	"github.com/partspoint/partspoint/internal/stock"
)

// ReturnableLine reports how much of one sold line can still come back.
type ReturnableLine struct {
	Item       TransactionItem `json:"item"`
	Returned   float64         `json:"returned"`
	Returnable float64         `json:"returnable"`
}

// validateReturnTarget checks the original document inside a transaction:
// it must be a posted sale within the return window around its posting time.
func (s *Service) validateReturnTarget(t Transaction, now time.Time) error {
	if t.DocType != DocTypeSale {
		return fmt.Errorf("%w: can only return against a sale", ErrValidation)
	}
	if t.Status != StatusPosted {
		return fmt.Errorf("%w: original sale %s is %s, not posted", ErrInvalidState, t.DocNo, t.Status)
	}
	if t.PostedAt == nil || now.Sub(*t.PostedAt) > s.cfg.ReturnWindow {
		return fmt.Errorf("%w: sale %s", ErrReturnWindowExpired, t.DocNo)
	}
	return nil
}

// ReturnableLines lists the original sale's lines with their remaining
// returnable quantities.
func (s *Service) ReturnableLines(ctx context.Context, originalID int64) ([]ReturnableLine, error) {
	var out []ReturnableLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransactionForUpdate(ctx, originalID)
		if err != nil {
			return err
		}
		if err := s.validateReturnTarget(t, time.Now()); err != nil {
			return err
		}
		items, err := repo.ListItems(ctx, originalID)
		if err != nil {
			return err
		}
		returned, err := repo.ReturnedQuantities(ctx, originalID)
		if err != nil {
			return err
		}
		for _, item := range items {
			r := returned[item.ID]
			out = append(out, ReturnableLine{
				Item:       item,
				Returned:   r,
				Returnable: item.Quantity - r,
			})
		}
		return nil
	})
	return out, err
}

// CreateReturn opens a HOLD return against a posted sale. Each return line
// must fit inside the original line's quantity net of earlier posted
// returns, so the same goods cannot come back twice. Return lines copy the
// original line's price and cost snapshots and its bundle snapshot, refunding
// at the actual sale price.
func (s *Service) CreateReturn(ctx context.Context, req CreateReturnRequest) (Transaction, error) {
	if err := s.validate.Struct(req); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var created Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		now := time.Now()
		original, err := repo.GetTransactionForUpdate(ctx, req.OriginalTransactionID)
		if err != nil {
			return err
		}
		if err := s.validateReturnTarget(original, now); err != nil {
			return err
		}
		originalItems, err := repo.ListItems(ctx, original.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]TransactionItem, len(originalItems))
		for _, item := range originalItems {
			byID[item.ID] = item
		}
		returned, err := repo.ReturnedQuantities(ctx, original.ID)
		if err != nil {
			return err
		}

		seq, err := repo.MaxDocSeq(ctx, shared.DocNoPrefix(shared.DocPrefixReturn, now))
		if err != nil {
			return err
		}
		t := Transaction{
			DocNo:            shared.FormatDocNo(shared.DocPrefixReturn, now, seq+1),
			DocType:          DocTypeReturn,
			Status:           StatusHold,
			CustomerName:     original.CustomerName,
			RefTransactionID: original.ID,
			Note:             req.Reason,
			CreatedBy:        req.ActorID,
			CreatedAt:        now,
		}
		items := make([]TransactionItem, 0, len(req.Items))
		for _, line := range req.Items {
			orig, ok := byID[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: line %d is not part of sale %s", ErrValidation, line.ItemID, original.DocNo)
			}
			remaining := orig.Quantity - returned[orig.ID]
			if line.Quantity > remaining {
				return fmt.Errorf("%w: line %d has %g returnable, requested %g",
					ErrReturnQuantityExceeded, orig.ID, remaining, line.Quantity)
			}
			items = append(items, TransactionItem{
				ProductID:   orig.ProductID,
				RefItemID:   orig.ID,
				Quantity:    line.Quantity,
				UnitPrice:   orig.UnitPrice,
				CostPrice:   orig.CostPrice,
				PriceType:   orig.PriceType,
				LineTotal:   -line.Quantity * orig.UnitPrice,
				BundleItems: orig.BundleItems,
			})
			t.TotalAmount -= line.Quantity * orig.UnitPrice
		}
		t.GrandTotal = t.TotalAmount
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
	s.logger.Info("return created",
		slog.Int64("transaction_id", created.ID),
		slog.String("doc_no", created.DocNo),
		slog.Int64("original_id", created.RefTransactionID))
	return created, nil
}

// PostReturn receives the returned goods back into stock. Eligibility and
// the no-double-return invariant are re-verified under the document lock:
// the original may have been cancelled or aged out of the window since
// creation, and a competing return posted in between shrinks what this one
// may take.
func (s *Service) PostReturn(ctx context.Context, transactionID, actorID int64, idemKey string) (Transaction, error) {
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
		if t.DocType != DocTypeReturn {
			return fmt.Errorf("%w: %s is not a return", ErrValidation, t.DocNo)
		}
		if t.Status != StatusHold {
			return fmt.Errorf("%w: cannot post %s return %s", ErrInvalidState, t.Status, t.DocNo)
		}
		original, err := repo.GetTransactionForUpdate(ctx, t.RefTransactionID)
		if err != nil {
			return err
		}
		if err := s.validateReturnTarget(original, time.Now()); err != nil {
			return err
		}
		items, err := repo.ListItems(ctx, transactionID)
		if err != nil {
			return err
		}
		originalItems, err := repo.ListItems(ctx, original.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]TransactionItem, len(originalItems))
		for _, item := range originalItems {
			byID[item.ID] = item
		}
		returned, err := repo.ReturnedQuantities(ctx, original.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			orig, ok := byID[item.RefItemID]
			if !ok {
				return fmt.Errorf("%w: line %d is not part of sale %s", ErrValidation, item.RefItemID, original.DocNo)
			}
			if item.Quantity > orig.Quantity-returned[orig.ID] {
				return fmt.Errorf("%w: line %d", ErrReturnQuantityExceeded, orig.ID)
			}
		}

		deltas, err := resolveDeltas(ctx, repo, items, true, s.logger)
		if err != nil {
			return err
		}
		ids, err := applyDeltas(ctx, repo, postingRules[DocTypeReturn], deltas, "return", t.DocNo, t.ID, actorID)
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
		s.metrics.DocumentPosted(string(DocTypeReturn))
		s.metrics.MovementWritten(string(stock.MovementIn), len(touched))
	}
	s.recordAudit(ctx, actorID, "return.post", posted)
	s.logger.Info("return posted", slog.Int64("transaction_id", posted.ID), slog.String("doc_no", posted.DocNo))
	return posted, nil
}

// CancelReturn reverses a posted return, taking the received goods back
// out. This re-opens the original sale's return allowance, so it is meant
// for data-entry mistakes only and is logged loudly.
func (s *Service) CancelReturn(ctx context.Context, transactionID, actorID int64, reason string) (Transaction, error) {
	var cancelled Transaction
	var touched []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.DocType != DocTypeReturn {
			return fmt.Errorf("%w: %s is not a return", ErrValidation, t.DocNo)
		}
		now := time.Now()
		switch t.Status {
		case StatusHold:
			// Nothing posted yet.
		case StatusPosted:
			items, err := repo.ListItems(ctx, transactionID)
			if err != nil {
				return err
			}
			deltas, err := resolveDeltas(ctx, repo, items, false, s.logger)
			if err != nil {
				return err
			}
			takeBack := postingRule{direction: stock.MovementOut, checksStock: true}
			ids, err := applyDeltas(ctx, repo, takeBack, deltas, "return_cancel", "CANCEL-"+t.DocNo, t.ID, actorID)
			if err != nil {
				return err
			}
			touched = ids
		default:
			return fmt.Errorf("%w: cannot cancel %s return %s", ErrInvalidState, t.Status, t.DocNo)
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
			s.metrics.MovementWritten(string(stock.MovementOut), len(touched))
		}
	}
	s.recordAudit(ctx, actorID, "return.cancel", cancelled)
	s.logger.Warn("return cancelled",
		slog.Int64("transaction_id", cancelled.ID),
		slog.String("doc_no", cancelled.DocNo),
		slog.String("reason", reason))
	return cancelled, nil
}
