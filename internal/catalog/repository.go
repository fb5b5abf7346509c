package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, category_id, supplier_id, sku, name, description, compatible_models, unit,
cost_price, selling_price, wholesale_price, quantity, min_stock,
is_bundle, bundle_type, pair_side, bundle_group, items_per_purchase_unit, purchase_unit_name,
is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.CategoryID, &p.SupplierID, &p.SKU, &p.Name, &p.Description, &p.CompatibleModels, &p.Unit,
		&p.CostPrice, &p.SellingPrice, &p.WholesalePrice, &p.Quantity, &p.MinStock,
		&p.IsBundle, &p.BundleType, &p.PairSide, &p.BundleGroup, &p.ItemsPerUnit, &p.PurchaseUnitName,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// GetProduct loads one product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	return scanProduct(row)
}

// GetProductBySKU loads one product by SKU.
func (r *Repository) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku=$1`, sku)
	return scanProduct(row)
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Query      string
	Model      string
	ActiveOnly bool
	Limit      int
	Offset     int
}

func productFilterClause(filter ProductFilter) (string, []any) {
	clause := ` WHERE 1=1`
	args := []any{}
	if filter.ActiveOnly {
		clause += ` AND is_active`
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		n := fmt.Sprintf("$%d", len(args))
		clause += ` AND (name ILIKE ` + n + ` OR sku ILIKE ` + n + ` OR description ILIKE ` + n + `)`
	}
	if filter.Model != "" {
		args = append(args, "%"+filter.Model+"%")
		clause += fmt.Sprintf(` AND compatible_models ILIKE $%d`, len(args))
	}
	return clause, args
}

// CountProducts returns how many products match the filter.
func (r *Repository) CountProducts(ctx context.Context, filter ProductFilter) (int, error) {
	clause, args := productFilterClause(filter)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+clause, args...).Scan(&total)
	return total, err
}

// ListProducts searches products by name/SKU/description and compatible model.
func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	clause, args := productFilterClause(filter)
	query := `SELECT ` + productColumns + ` FROM products` + clause
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY name ASC LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CreateProduct inserts a product and returns its id.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO products
(category_id, supplier_id, sku, name, description, compatible_models, unit,
 cost_price, selling_price, wholesale_price, quantity, min_stock,
 is_bundle, bundle_type, pair_side, bundle_group, items_per_purchase_unit, purchase_unit_name,
 is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NOW(),NOW())
RETURNING id`,
		nullInt(p.CategoryID), nullInt(p.SupplierID), p.SKU, p.Name, p.Description, p.CompatibleModels, p.Unit,
		p.CostPrice, p.SellingPrice, p.WholesalePrice, p.Quantity, p.MinStock,
		p.IsBundle, string(p.BundleType), p.PairSide, p.BundleGroup, p.ItemsPerUnit, p.PurchaseUnitName,
		p.IsActive).Scan(&id)
	if err != nil && strings.Contains(err.Error(), "products_sku_key") {
		return 0, ErrDuplicateSKU
	}
	return id, err
}

// UpdateProduct rewrites a product's catalog attributes. Stock quantity and
// cost price are deliberately excluded: only the posting engine mutates them.
func (r *Repository) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET
category_id=$2, supplier_id=$3, name=$4, description=$5, compatible_models=$6, unit=$7,
selling_price=$8, wholesale_price=$9, min_stock=$10,
is_bundle=$11, bundle_type=$12, pair_side=$13, bundle_group=$14,
items_per_purchase_unit=$15, purchase_unit_name=$16, is_active=$17, updated_at=NOW()
WHERE id=$1`,
		p.ID, nullInt(p.CategoryID), nullInt(p.SupplierID), p.Name, p.Description, p.CompatibleModels, p.Unit,
		p.SellingPrice, p.WholesalePrice, p.MinStock,
		p.IsBundle, string(p.BundleType), p.PairSide, p.BundleGroup,
		p.ItemsPerUnit, p.PurchaseUnitName, p.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertProductBySKU creates or updates a product keyed by SKU and returns it.
// Used by paired-product registration which is idempotent per SKU.
func (r *Repository) UpsertProductBySKU(ctx context.Context, p Product) (Product, error) {
	existing, err := r.GetProductBySKU(ctx, p.SKU)
	switch {
	case errors.Is(err, ErrNotFound):
		id, err := r.CreateProduct(ctx, p)
		if err != nil {
			return Product{}, err
		}
		p.ID = id
		return p, nil
	case err != nil:
		return Product{}, err
	default:
		p.ID = existing.ID
		// Preserve posting-engine owned fields.
		p.Quantity = existing.Quantity
		p.CostPrice = existing.CostPrice
		if err := r.UpdateProduct(ctx, p); err != nil {
			return Product{}, err
		}
		return p, nil
	}
}

// SetActive toggles the soft-delete flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProduct hard-deletes a product. Callers must check HasDocumentHistory
// first; products with history are soft-deleted instead.
func (r *Repository) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM bundle_components WHERE parent_id=$1 OR child_id=$1`, id); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasDocumentHistory reports whether a product appears on any purchase or
// sale line.
func (r *Repository) HasDocumentHistory(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM purchase_items WHERE product_id=$1
UNION ALL
SELECT 1 FROM transaction_items WHERE product_id=$1
LIMIT 1)`, id).Scan(&exists)
	return exists, err
}

// MaxSKUSeq returns the highest numeric suffix among SKUs with the given
// prefix (e.g. "BRK-"), 0 when none exist.
func (r *Repository) MaxSKUSeq(ctx context.Context, prefix string) (int, error) {
	var seq int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(NULLIF(regexp_replace(sku, '^.*-', ''), '')::int), 0)
FROM products WHERE sku LIKE $1 || '%' AND sku ~ ('^' || $1 || '[0-9]+$')`, prefix).Scan(&seq)
	return seq, err
}

// ListComponents loads a bundle parent's adjacency edges with child products.
func (r *Repository) ListComponents(ctx context.Context, parentID int64) ([]Component, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+prefixColumns("p")+`, bc.ratio
FROM bundle_components bc JOIN products p ON p.id = bc.child_id
WHERE bc.parent_id=$1 ORDER BY p.id ASC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comps []Component
	for rows.Next() {
		var c Component
		p := &c.Product
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.SupplierID, &p.SKU, &p.Name, &p.Description, &p.CompatibleModels, &p.Unit,
			&p.CostPrice, &p.SellingPrice, &p.WholesalePrice, &p.Quantity, &p.MinStock,
			&p.IsBundle, &p.BundleType, &p.PairSide, &p.BundleGroup, &p.ItemsPerUnit, &p.PurchaseUnitName,
			&p.IsActive, &p.CreatedAt, &p.UpdatedAt, &c.Ratio); err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

// SetComponents replaces a parent's component edges.
func (r *Repository) SetComponents(ctx context.Context, parentID int64, components []BundleComponent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM bundle_components WHERE parent_id=$1`, parentID); err != nil {
		return err
	}
	for _, c := range components {
		ratio := c.Ratio
		if ratio <= 0 {
			ratio = 1
		}
		if _, err := tx.Exec(ctx, `INSERT INTO bundle_components (parent_id, child_id, ratio) VALUES ($1,$2,$3)`, parentID, c.ChildID, ratio); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListGroupChildren finds non-parent products sharing a bundle group, used to
// re-pair parents to their side children.
func (r *Repository) ListGroupChildren(ctx context.Context, group string, excludeID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE bundle_group=$1 AND id <> $2 AND NOT is_bundle ORDER BY id ASC`, group, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListPairParents lists bundle parents of pair type carrying a bundle group.
func (r *Repository) ListPairParents(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE bundle_type IN ('L-R','F-R') AND bundle_group <> '' AND pair_side = '' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListCompatibleModels returns the raw compatible_models strings of active
// products for popularity counting.
func (r *Repository) ListCompatibleModels(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT compatible_models FROM products WHERE is_active AND compatible_models <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// GetCategory loads one category.
func (r *Repository) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx, `SELECT id, name, prefix, description FROM categories WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Prefix, &c.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrNotFound
	}
	return c, err
}

// ListCategories lists all categories.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, prefix, description FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Prefix, &c.Description); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateCategory inserts a category.
func (r *Repository) CreateCategory(ctx context.Context, c Category) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO categories (name, prefix, description) VALUES ($1,$2,$3) RETURNING id`,
		c.Name, c.Prefix, c.Description).Scan(&id)
	return id, err
}

// GetSupplier loads one supplier.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `SELECT id, name, phone, address, created_at, updated_at FROM suppliers WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Phone, &s.Address, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	return s, err
}

// ListSuppliers lists all suppliers.
func (r *Repository) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, phone, address, created_at, updated_at FROM suppliers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Phone, &s.Address, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

// CreateSupplier inserts a supplier.
func (r *Repository) CreateSupplier(ctx context.Context, s Supplier) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (name, phone, address, created_at, updated_at) VALUES ($1,$2,$3,NOW(),NOW()) RETURNING id`,
		s.Name, s.Phone, s.Address).Scan(&id)
	return id, err
}

func prefixColumns(alias string) string {
	cols := strings.Split(productColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
