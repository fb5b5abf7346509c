package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partspoint/partspoint/internal/catalog"
	"github.com/partspoint/partspoint/internal/stock"
)

// Repository persists purchase documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations posting needs. The
// stock ledger it hands out shares the same database transaction, so a
// failing line rolls back document and stock together.
type TxRepository interface {
	InsertPurchase(ctx context.Context, p Purchase) (int64, error)
	InsertItems(ctx context.Context, purchaseID int64, items []PurchaseItem) error
	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	ListItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error)
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	MaxDocSeq(ctx context.Context, docPrefix string) (int, error)
	GetProductInfo(ctx context.Context, id int64) (catalog.Product, error)
	ListComponents(ctx context.Context, parentID int64) ([]catalog.Component, error)
	ListMovementsByDoc(ctx context.Context, docNo string) ([]stock.Movement, error)
	Ledger() stock.Ledger
}

type txRepository struct {
	tx     pgx.Tx
	ledger stock.Ledger
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	if r == nil {
		return errors.New("purchasing repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx, ledger: stock.NewTxLedger(tx)}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *txRepository) Ledger() stock.Ledger {
	return r.ledger
}

func (r *txRepository) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchases (doc_no, supplier_id, status, total_amount, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		p.DocNo, p.SupplierID, string(p.Status), p.TotalAmount, p.Note, nullInt(p.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, purchaseID int64, items []PurchaseItem) error {
	for _, item := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO purchase_items (purchase_id, product_id, quantity, unit_cost, line_total)
VALUES ($1,$2,$3,$4,$5)`, purchaseID, item.ProductID, item.Quantity, item.UnitCost, item.LineTotal); err != nil {
			return err
		}
	}
	return nil
}

const purchaseColumns = `id, doc_no, supplier_id, status, total_amount, COALESCE(note, ''), COALESCE(created_by, 0), created_at, posted_at, cancelled_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.DocNo, &p.SupplierID, &p.Status, &p.TotalAmount, &p.Note, &p.CreatedBy, &p.CreatedAt, &p.PostedAt, &p.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	return p, err
}

func (r *txRepository) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id)
	return scanPurchase(row)
}

func (r *txRepository) ListItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, purchase_id, product_id, quantity, unit_cost, line_total
FROM purchase_items WHERE purchase_id=$1 ORDER BY id ASC`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PurchaseItem
	for rows.Next() {
		var item PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.Quantity, &item.UnitCost, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	var column string
	switch status {
	case StatusPosted:
		column = "posted_at"
	case StatusCancelled:
		column = "cancelled_at"
	default:
		column = "created_at"
	}
	tag, err := r.tx.Exec(ctx, `UPDATE purchases SET status=$2, `+column+`=$3 WHERE id=$1`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) MaxDocSeq(ctx context.Context, docPrefix string) (int, error) {
	var seq int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(SPLIT_PART(doc_no, '-', 3)::int), 0)
FROM purchases WHERE doc_no LIKE $1 || '%'`, docPrefix).Scan(&seq)
	return seq, err
}

func (r *txRepository) GetProductInfo(ctx context.Context, id int64) (catalog.Product, error) {
	var p catalog.Product
	err := r.tx.QueryRow(ctx, `SELECT id, sku, name, quantity, cost_price, min_stock, is_bundle, bundle_type, items_per_purchase_unit, is_active
FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Quantity, &p.CostPrice, &p.MinStock, &p.IsBundle, &p.BundleType, &p.ItemsPerUnit, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, ErrNotFound
	}
	return p, err
}

func (r *txRepository) ListComponents(ctx context.Context, parentID int64) ([]catalog.Component, error) {
	rows, err := r.tx.Query(ctx, `SELECT p.id, p.sku, p.name, p.quantity, bc.ratio
FROM bundle_components bc JOIN products p ON p.id = bc.child_id
WHERE bc.parent_id=$1 ORDER BY p.id ASC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comps []catalog.Component
	for rows.Next() {
		var c catalog.Component
		if err := rows.Scan(&c.Product.ID, &c.Product.SKU, &c.Product.Name, &c.Product.Quantity, &c.Ratio); err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

func (r *txRepository) ListMovementsByDoc(ctx context.Context, docNo string) ([]stock.Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, movement_type, quantity, unit_cost, balance_after, COALESCE(doc_no, '')
FROM stock_movements WHERE doc_no=$1 ORDER BY id ASC`, docNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []stock.Movement
	for rows.Next() {
		var m stock.Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.UnitCost, &m.BalanceAfter, &m.DocNo); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// GetPurchase loads one purchase with its lines.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id)
	p, err := scanPurchase(row)
	if err != nil {
		return Purchase{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_id, product_id, quantity, unit_cost, line_total
FROM purchase_items WHERE purchase_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Purchase{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.Quantity, &item.UnitCost, &item.LineTotal); err != nil {
			return Purchase{}, err
		}
		p.Items = append(p.Items, item)
	}
	return p, rows.Err()
}

// ListPurchases lists documents newest-first, optionally filtered by status.
func (r *Repository) ListPurchases(ctx context.Context, status Status, limit int) ([]Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + purchaseColumns + ` FROM purchases`
	args := []any{}
	if status != "" {
		args = append(args, string(status))
		query += ` WHERE status=$1`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	purchases := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
