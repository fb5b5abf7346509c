package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// LockedProduct is a product row image taken under FOR UPDATE. Quantity and
// CostPrice are safe to read-modify-write until the transaction ends.
type LockedProduct struct {
	ID        int64
	SKU       string
	Name      string
	Quantity  float64
	CostPrice float64
	MinStock  float64
	IsBundle  bool
	IsActive  bool
}

// Ledger is the single mutation path for product balances. Posting code runs
// it inside a database transaction: lock, verify, update, append.
type Ledger interface {
	// LockProducts row-locks the given products in ascending id order and
	// returns their current images keyed by id. Ordering is what keeps
	// concurrent postings deadlock-free.
	LockProducts(ctx context.Context, ids []int64) (map[int64]LockedProduct, error)
	// UpdateStock writes a locked product's new balance and average cost.
	UpdateStock(ctx context.Context, productID int64, qty, costPrice float64) error
	// Append writes one ledger row and returns its id.
	Append(ctx context.Context, m Movement) (int64, error)
}

type txLedger struct {
	tx pgx.Tx
}

// NewTxLedger builds a Ledger bound to an open transaction.
func NewTxLedger(tx pgx.Tx) Ledger {
	return &txLedger{tx: tx}
}

func (l *txLedger) LockProducts(ctx context.Context, ids []int64) (map[int64]LockedProduct, error) {
	ordered := make([]int64, 0, len(ids))
	seen := map[int64]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	out := make(map[int64]LockedProduct, len(ordered))
	for _, id := range ordered {
		var p LockedProduct
		err := l.tx.QueryRow(ctx, `SELECT id, sku, name, quantity, cost_price, min_stock, is_bundle, is_active
FROM products WHERE id=$1 FOR UPDATE`, id).
			Scan(&p.ID, &p.SKU, &p.Name, &p.Quantity, &p.CostPrice, &p.MinStock, &p.IsBundle, &p.IsActive)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (l *txLedger) UpdateStock(ctx context.Context, productID int64, qty, costPrice float64) error {
	tag, err := l.tx.Exec(ctx, `UPDATE products SET quantity=$2, cost_price=$3, updated_at=NOW() WHERE id=$1`,
		productID, qty, costPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return nil
}

func (l *txLedger) Append(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, movement_type, quantity, unit_cost, balance_after, ref_type, ref_id, doc_no, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		m.ProductID, string(m.Type), m.Quantity, m.UnitCost, m.BalanceAfter,
		m.RefType, nullInt(m.RefID), m.DocNo, m.Note, nullInt(m.CreatedBy)).Scan(&id)
	return id, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
