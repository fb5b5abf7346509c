package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithLedger runs fn with a transaction-bound ledger inside a
// repeatable-read transaction.
func (r *Repository) WithLedger(ctx context.Context, fn func(ctx context.Context, ledger Ledger) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, NewTxLedger(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// MovementFilter narrows ledger queries.
type MovementFilter struct {
	ProductID int64
	RefType   string
	DocNo     string
	From      time.Time
	To        time.Time
	Limit     int
}

// ListMovements reads ledger rows oldest-first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	query := `SELECT id, product_id, movement_type, quantity, unit_cost, balance_after,
COALESCE(ref_type, ''), COALESCE(ref_id, 0), COALESCE(doc_no, ''), COALESCE(note, ''), COALESCE(created_by, 0), created_at
FROM stock_movements WHERE 1=1`
	args := []any{}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(` AND product_id=$%d`, len(args))
	}
	if filter.RefType != "" {
		args = append(args, filter.RefType)
		query += fmt.Sprintf(` AND ref_type=$%d`, len(args))
	}
	if filter.DocNo != "" {
		args = append(args, filter.DocNo)
		query += fmt.Sprintf(` AND doc_no=$%d`, len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.UnitCost, &m.BalanceAfter,
			&m.RefType, &m.RefID, &m.DocNo, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ProductBalance is a stored balance read for status or integrity checks.
type ProductBalance struct {
	ProductID int64
	SKU       string
	Name      string
	Quantity  float64
	MinStock  float64
}

// GetBalance reads one product's balance. Bundle parents hold no stock of
// their own, so their balance is derived from the components: the number of
// complete sets the children can still assemble.
func (r *Repository) GetBalance(ctx context.Context, productID int64) (ProductBalance, error) {
	var b ProductBalance
	err := r.pool.QueryRow(ctx, `SELECT p.id, p.sku, p.name,
CASE WHEN p.is_bundle THEN COALESCE((
    SELECT MIN(FLOOR(c.quantity / bc.ratio))
    FROM bundle_components bc
    JOIN products c ON c.id = bc.child_id
    WHERE bc.parent_id = p.id AND bc.ratio > 0
), 0) ELSE p.quantity END,
p.min_stock
FROM products p WHERE p.id=$1`, productID).
		Scan(&b.ProductID, &b.SKU, &b.Name, &b.Quantity, &b.MinStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductBalance{}, ErrNotFound
	}
	return b, err
}

// ListLowStock returns active simple products at or under their minimum
// stock level. Bundle parents are excluded since their balance field is not
// authoritative.
func (r *Repository) ListLowStock(ctx context.Context) ([]ProductBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, quantity, min_stock FROM products
WHERE is_active AND NOT is_bundle AND quantity <= min_stock
ORDER BY quantity ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProductBalance
	for rows.Next() {
		var b ProductBalance
		if err := rows.Scan(&b.ProductID, &b.SKU, &b.Name, &b.Quantity, &b.MinStock); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListReplayedBalances replays the whole ledger per simple product and
// returns stored vs replayed balances for products that have any movement.
func (r *Repository) ListReplayedBalances(ctx context.Context) ([]IntegrityIssue, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, p.name, p.quantity,
COALESCE(SUM(CASE m.movement_type WHEN 'OUT' THEN -m.quantity ELSE m.quantity END), 0) AS replayed
FROM products p
LEFT JOIN stock_movements m ON m.product_id = p.id
WHERE NOT p.is_bundle
GROUP BY p.id, p.sku, p.name, p.quantity
ORDER BY p.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IntegrityIssue
	for rows.Next() {
		var issue IntegrityIssue
		if err := rows.Scan(&issue.ProductID, &issue.SKU, &issue.Name, &issue.Stored, &issue.Replayed); err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}
