package catalog

import (
	"errors"
	"time"
)

// BundleType classifies how a composite product maps onto component stock.
type BundleType string

const (
	// BundleTypeSame is a kit assembled from interchangeable units.
	BundleTypeSame BundleType = "SAME"
	// BundleTypeLeftRight is a left/right pair sold as one catalog line.
	BundleTypeLeftRight BundleType = "L-R"
	// BundleTypeFrontRear is a front/rear pair sold as one catalog line.
	BundleTypeFrontRear BundleType = "F-R"
)

// Pair side markers carried by auto-generated pair children.
const (
	PairSideLeft  = "L"
	PairSideRight = "R"
	PairSideFront = "F"
	PairSideRear  = "R"
)

// Product is a catalog item. A bundle parent owns no stock of its own: its
// sellable quantity is derived from component stock, and the Quantity field
// is not authoritative for bundle parents.
type Product struct {
	ID               int64      `json:"id"`
	CategoryID       int64      `json:"category_id"`
	SupplierID       int64      `json:"supplier_id"`
	SKU              string     `json:"sku"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	CompatibleModels string     `json:"compatible_models"`
	Unit             string     `json:"unit"`
	CostPrice        float64    `json:"cost_price"`
	SellingPrice     float64    `json:"selling_price"`
	WholesalePrice   float64    `json:"wholesale_price"`
	Quantity         float64    `json:"quantity"`
	MinStock         float64    `json:"min_stock"`
	IsBundle         bool       `json:"is_bundle"`
	BundleType       BundleType `json:"bundle_type"`
	PairSide         string     `json:"pair_side,omitempty"`
	BundleGroup      string     `json:"bundle_group,omitempty"`
	ItemsPerUnit     int        `json:"items_per_purchase_unit"`
	PurchaseUnitName string     `json:"purchase_unit_name"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Category groups products and supplies the SKU prefix for auto-generation.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
}

// Supplier is a purchase source.
type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BundleComponent is one parent→child adjacency edge. Ratio is the number of
// child stock units consumed per bundle unit (1 for the common case).
type BundleComponent struct {
	ParentID int64   `json:"parent_id"`
	ChildID  int64   `json:"child_id"`
	Ratio    float64 `json:"ratio"`
}

// Component is a loaded adjacency edge with the child product attached.
type Component struct {
	Product Product `json:"product"`
	Ratio   float64 `json:"ratio"`
}

// SnapshotComponent is a component reference frozen onto a transaction line
// at sale time, so reversals target the exact components used even if the
// bundle composition changes later.
type SnapshotComponent struct {
	ProductID int64   `json:"product_id"`
	SKU       string  `json:"sku"`
	Qty       float64 `json:"qty"`
}

// CreateProductRequest is the payload for product creation. A blank SKU is
// auto-generated from the category prefix plus a sequence.
type CreateProductRequest struct {
	SKU              string  `json:"sku" validate:"omitempty,max=50"`
	Name             string  `json:"name" validate:"required,max=200"`
	Description      string  `json:"description"`
	CategoryID       int64   `json:"category_id" validate:"omitempty,gt=0"`
	SupplierID       int64   `json:"supplier_id" validate:"omitempty,gt=0"`
	CompatibleModels string  `json:"compatible_models"`
	Unit             string  `json:"unit" validate:"omitempty,max=50"`
	CostPrice        float64 `json:"cost_price" validate:"gte=0"`
	SellingPrice     float64 `json:"selling_price" validate:"gte=0"`
	WholesalePrice   float64 `json:"wholesale_price" validate:"gte=0"`
	MinStock         float64 `json:"min_stock" validate:"gte=0"`
	ItemsPerUnit     int     `json:"items_per_purchase_unit" validate:"omitempty,gte=1"`
	PurchaseUnitName string  `json:"purchase_unit_name" validate:"omitempty,max=50"`
}

// UpdateProductRequest carries partial product updates.
type UpdateProductRequest struct {
	Name             *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Description      *string  `json:"description,omitempty"`
	CategoryID       *int64   `json:"category_id,omitempty" validate:"omitempty,gt=0"`
	SupplierID       *int64   `json:"supplier_id,omitempty" validate:"omitempty,gt=0"`
	CompatibleModels *string  `json:"compatible_models,omitempty"`
	SellingPrice     *float64 `json:"selling_price,omitempty" validate:"omitempty,gte=0"`
	WholesalePrice   *float64 `json:"wholesale_price,omitempty" validate:"omitempty,gte=0"`
	MinStock         *float64 `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	ItemsPerUnit     *int     `json:"items_per_purchase_unit,omitempty" validate:"omitempty,gte=1"`
	PurchaseUnitName *string  `json:"purchase_unit_name,omitempty" validate:"omitempty,max=50"`
	IsActive         *bool    `json:"is_active,omitempty"`
}

// RegisterPairRequest registers an L-R or F-R paired product: one bundle
// parent plus two side children sharing a bundle group.
type RegisterPairRequest struct {
	SKU              string  `json:"sku" validate:"required,max=50"`
	Name             string  `json:"name" validate:"required,max=200"`
	BundleType       string  `json:"bundle_type" validate:"required,oneof=L-R F-R"`
	CategoryID       int64   `json:"category_id" validate:"omitempty,gt=0"`
	SupplierID       int64   `json:"supplier_id" validate:"omitempty,gt=0"`
	CostPrice        float64 `json:"cost_price" validate:"gte=0"`
	SellingPrice     float64 `json:"selling_price" validate:"gte=0"`
	WholesalePrice   float64 `json:"wholesale_price" validate:"gte=0"`
	CompatibleModels string  `json:"compatible_models"`
	ItemsPerUnit     int     `json:"items_per_purchase_unit" validate:"omitempty,gte=1"`
	PurchaseUnitName string  `json:"purchase_unit_name" validate:"omitempty,max=50"`
}

var (
	// ErrNotFound indicates a missing catalog record.
	ErrNotFound = errors.New("catalog: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("catalog: invalid input")
	// ErrDuplicateSKU indicates a SKU collision.
	ErrDuplicateSKU = errors.New("catalog: sku already exists")
	// ErrBundleCycle occurs when a product would become its own
	// (transitive) component.
	ErrBundleCycle = errors.New("catalog: bundle component cycle")
	// ErrNotBundle occurs when a bundle operation targets a simple product.
	ErrNotBundle = errors.New("catalog: product is not a bundle")
)
