package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partspoint/partspoint/internal/catalog"
	"github.com/partspoint/partspoint/internal/stock"
)

// Repository persists transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations posting needs. Its
// stock ledger shares the same database transaction.
type TxRepository interface {
	InsertTransaction(ctx context.Context, t Transaction) (int64, error)
	InsertItems(ctx context.Context, transactionID int64, items []TransactionItem) error
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	ListItems(ctx context.Context, transactionID int64) ([]TransactionItem, error)
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	MaxDocSeq(ctx context.Context, docPrefix string) (int, error)
	GetProductInfo(ctx context.Context, id int64) (catalog.Product, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	ListComponents(ctx context.Context, parentID int64) ([]catalog.Component, error)
	// ReturnedQuantities sums POSTED return lines per original sold line.
	ReturnedQuantities(ctx context.Context, originalID int64) (map[int64]float64, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	VoidPayments(ctx context.Context, transactionID int64) error
	// DeleteTransaction removes a held bill and its lines.
	DeleteTransaction(ctx context.Context, id int64) error
	Ledger() stock.Ledger
}

type txRepository struct {
	tx     pgx.Tx
	ledger stock.Ledger
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
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

const transactionColumns = `id, doc_no, doc_type, status, COALESCE(customer_name, ''), COALESCE(ref_transaction_id, 0),
total_amount, discount_amount, grand_total, COALESCE(note, ''), COALESCE(created_by, 0), created_at, posted_at, cancelled_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.DocNo, &t.DocType, &t.Status, &t.CustomerName, &t.RefTransactionID,
		&t.TotalAmount, &t.DiscountAmount, &t.GrandTotal, &t.Note, &t.CreatedBy, &t.CreatedAt, &t.PostedAt, &t.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transactions
(doc_no, doc_type, status, customer_name, ref_transaction_id, total_amount, discount_amount, grand_total, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		t.DocNo, string(t.DocType), string(t.Status), t.CustomerName, nullInt(t.RefTransactionID),
		t.TotalAmount, t.DiscountAmount, t.GrandTotal, t.Note, nullInt(t.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, transactionID int64, items []TransactionItem) error {
	for _, item := range items {
		var bundleJSON any
		if len(item.BundleItems) > 0 {
			raw, err := json.Marshal(item.BundleItems)
			if err != nil {
				return err
			}
			bundleJSON = raw
		}
		if _, err := r.tx.Exec(ctx, `INSERT INTO transaction_items
(transaction_id, product_id, ref_item_id, quantity, unit_price, cost_price, price_type, line_total, bundle_items)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			transactionID, item.ProductID, nullInt(item.RefItemID), item.Quantity, item.UnitPrice,
			item.CostPrice, item.PriceType, item.LineTotal, bundleJSON); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) DeleteTransaction(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM transaction_items WHERE transaction_id=$1`, id); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM payments WHERE transaction_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM transactions WHERE id=$1`, id)
	return err
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1 FOR UPDATE`, id)
	return scanTransaction(row)
}

func scanItems(rows pgx.Rows) ([]TransactionItem, error) {
	defer rows.Close()
	var items []TransactionItem
	for rows.Next() {
		var item TransactionItem
		var bundleJSON []byte
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.ProductID, &item.RefItemID,
			&item.Quantity, &item.UnitPrice, &item.CostPrice, &item.PriceType, &item.LineTotal, &bundleJSON); err != nil {
			return nil, err
		}
		if len(bundleJSON) > 0 {
			if err := json.Unmarshal(bundleJSON, &item.BundleItems); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const itemColumns = `id, transaction_id, product_id, COALESCE(ref_item_id, 0), quantity, unit_price, cost_price, price_type, line_total, bundle_items`

func (r *txRepository) ListItems(ctx context.Context, transactionID int64) ([]TransactionItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+itemColumns+` FROM transaction_items WHERE transaction_id=$1 ORDER BY id ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
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
	tag, err := r.tx.Exec(ctx, `UPDATE transactions SET status=$2, `+column+`=$3 WHERE id=$1`, id, string(status), at)
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
FROM transactions WHERE doc_no LIKE $1 || '%'`, docPrefix).Scan(&seq)
	return seq, err
}

func (r *txRepository) GetProductInfo(ctx context.Context, id int64) (catalog.Product, error) {
	var p catalog.Product
	err := r.tx.QueryRow(ctx, `SELECT id, sku, name, quantity, cost_price, selling_price, wholesale_price, min_stock, is_bundle, bundle_type, is_active
FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Quantity, &p.CostPrice, &p.SellingPrice, &p.WholesalePrice, &p.MinStock, &p.IsBundle, &p.BundleType, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, ErrNotFound
	}
	return p, err
}

func (r *txRepository) ProductExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id=$1)`, id).Scan(&exists)
	return exists, err
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

func (r *txRepository) ReturnedQuantities(ctx context.Context, originalID int64) (map[int64]float64, error) {
	rows, err := r.tx.Query(ctx, `SELECT ti.ref_item_id, SUM(ti.quantity)
FROM transaction_items ti
JOIN transactions t ON t.id = ti.transaction_id
WHERE t.ref_transaction_id=$1 AND t.doc_type='RETURN' AND t.status='POSTED' AND ti.ref_item_id IS NOT NULL
GROUP BY ti.ref_item_id`, originalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]float64{}
	for rows.Next() {
		var itemID int64
		var qty float64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		out[itemID] = qty
	}
	return out, rows.Err()
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO payments (transaction_id, method, amount, received, change, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		p.TransactionID, p.Method, p.Amount, p.Received, p.Change, p.Status).Scan(&id)
	return id, err
}

func (r *txRepository) VoidPayments(ctx context.Context, transactionID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE payments SET status=$2 WHERE transaction_id=$1 AND status=$3`,
		transactionID, PaymentVoid, PaymentConfirmed)
	return err
}

// GetTransaction loads one transaction with lines and payments.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM transaction_items WHERE transaction_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Transaction{}, err
	}
	t.Items, err = scanItems(rows)
	if err != nil {
		return Transaction{}, err
	}
	payRows, err := r.pool.Query(ctx, `SELECT id, transaction_id, method, amount, received, change, status, created_at
FROM payments WHERE transaction_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Transaction{}, err
	}
	defer payRows.Close()
	for payRows.Next() {
		var p Payment
		if err := payRows.Scan(&p.ID, &p.TransactionID, &p.Method, &p.Amount, &p.Received, &p.Change, &p.Status, &p.CreatedAt); err != nil {
			return Transaction{}, err
		}
		t.Payments = append(t.Payments, p)
	}
	return t, payRows.Err()
}

// TransactionFilter narrows listings.
type TransactionFilter struct {
	DocType DocType
	Status  Status
	From    time.Time
	To      time.Time
	Limit   int
}

// ListTransactions lists documents newest-first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	args := []any{}
	if filter.DocType != "" {
		args = append(args, string(filter.DocType))
		query += fmt.Sprintf(` AND doc_type=$%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status=$%d`, len(args))
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
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	transactions := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
