package purchasing

import (
	"errors"
	"time"
)

// Status is a purchase document lifecycle state.
type Status string

const (
	// StatusDraft documents are editable and have no stock effect.
	StatusDraft Status = "DRAFT"
	// StatusPosted documents have applied their stock effect.
	StatusPosted Status = "POSTED"
	// StatusCancelled documents are terminal.
	StatusCancelled Status = "CANCELLED"
)

// Purchase is a goods-receipt document from a supplier.
type Purchase struct {
	ID          int64          `json:"id"`
	DocNo       string         `json:"doc_no"`
	SupplierID  int64          `json:"supplier_id"`
	Status      Status         `json:"status"`
	TotalAmount float64        `json:"total_amount"`
	Note        string         `json:"note,omitempty"`
	Items       []PurchaseItem `json:"items,omitempty"`
	CreatedBy   int64          `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	PostedAt    *time.Time     `json:"posted_at,omitempty"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
}

// PurchaseItem is one receipt line. Quantity counts purchase units (boxes,
// packs); the stock effect multiplies by the product's items-per-unit
// factor.
type PurchaseItem struct {
	ID         int64   `json:"id"`
	PurchaseID int64   `json:"purchase_id"`
	ProductID  int64   `json:"product_id"`
	Quantity   float64 `json:"quantity"`
	UnitCost   float64 `json:"unit_cost"`
	LineTotal  float64 `json:"line_total"`
}

// CreatePurchaseRequest is the payload for purchase creation.
type CreatePurchaseRequest struct {
	SupplierID int64                 `json:"supplier_id" validate:"required,gt=0"`
	Note       string                `json:"note"`
	Items      []PurchaseItemRequest `json:"items" validate:"required,min=1,dive"`
	ActorID    int64                 `json:"-"`
}

// PurchaseItemRequest is one requested receipt line.
type PurchaseItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
}

var (
	// ErrNotFound indicates a missing purchase.
	ErrNotFound = errors.New("purchasing: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchasing: invalid input")
	// ErrInvalidState indicates a lifecycle transition the document's
	// current status forbids.
	ErrInvalidState = errors.New("purchasing: invalid state transition")
)
