package stock

import (
	"errors"
	"fmt"
	"time"
)

// MovementType classifies a ledger entry.
type MovementType string

const (
	// MovementIn is a stock receipt (purchase post, cancellation reversal).
	MovementIn MovementType = "IN"
	// MovementOut is a stock issue (sale post, purchase reversal).
	MovementOut MovementType = "OUT"
	// MovementAdj is a signed manual correction.
	MovementAdj MovementType = "ADJ"
)

// Movement is one append-only stock ledger row. Quantity is positive for IN
// and OUT (the type carries the direction) and signed for ADJ. BalanceAfter
// records the product balance right after applying the movement; bundle
// parents get informational rows with BalanceAfter fixed at zero since they
// own no stock.
type Movement struct {
	ID           int64        `json:"id"`
	ProductID    int64        `json:"product_id"`
	Type         MovementType `json:"type"`
	Quantity     float64      `json:"quantity"`
	UnitCost     float64      `json:"unit_cost"`
	BalanceAfter float64      `json:"balance_after"`
	RefType      string       `json:"ref_type,omitempty"`
	RefID        int64        `json:"ref_id,omitempty"`
	DocNo        string       `json:"doc_no,omitempty"`
	Note         string       `json:"note,omitempty"`
	CreatedBy    int64        `json:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SignedQty returns the balance delta this movement applies.
func (m Movement) SignedQty() float64 {
	switch m.Type {
	case MovementOut:
		return -m.Quantity
	default:
		return m.Quantity
	}
}

// Status buckets for the POS product list.
const (
	StatusInStock    = "in_stock"
	StatusLowStock   = "low_stock"
	StatusOutOfStock = "out_of_stock"
)

// StockStatus is the display form of a product's balance.
type StockStatus struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Status    string  `json:"status"`
	Label     string  `json:"label"`
	Color     string  `json:"color"`
}

// StatusFor buckets a quantity against a product's minimum stock level.
func StatusFor(productID int64, qty, minStock float64) StockStatus {
	st := StockStatus{ProductID: productID, Quantity: qty}
	switch {
	case qty <= 0:
		st.Status, st.Label, st.Color = StatusOutOfStock, "สินค้าหมด", "red"
	case qty <= minStock:
		st.Status, st.Label, st.Color = StatusLowStock, "สินค้าใกล้หมด", "orange"
	default:
		st.Status, st.Label, st.Color = StatusInStock, "มีสินค้า", "green"
	}
	return st
}

// InsufficientStockError reports the first product that could not cover a
// requested issue. Postings surface it untruncated so the cashier sees which
// part ran out.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   float64
	Available   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for %s (id %d): requested %g, available %g",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

// IntegrityIssue is one product whose stored balance disagrees with its
// replayed ledger.
type IntegrityIssue struct {
	ProductID int64   `json:"product_id"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Stored    float64 `json:"stored"`
	Replayed  float64 `json:"replayed"`
}

var (
	// ErrNotFound indicates a missing product or movement.
	ErrNotFound = errors.New("stock: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("stock: invalid input")
)
