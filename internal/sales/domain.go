package sales

import (
	"errors"
	"time"

	"github.com/partspoint/partspoint/internal/catalog"
	"github.com/partspoint/partspoint/internal/stock"
)

// DocType distinguishes outbound sales from inbound returns. Both share the
// transaction table and lifecycle; only the posting direction differs.
type DocType string

const (
	// DocTypeSale issues stock.
	DocTypeSale DocType = "SALE"
	// DocTypeReturn receives stock back against a posted sale.
	DocTypeReturn DocType = "RETURN"
)

// Status is a transaction lifecycle state. HOLD doubles as the draft state:
// a held bill sits at the register with no stock effect until posted.
type Status string

const (
	StatusHold      Status = "HOLD"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// Price types resolvable on a sale line.
const (
	PriceRetail    = "retail"
	PriceWholesale = "wholesale"
	PriceCustom    = "custom"
)

// postingRule describes how a document type hits stock when posted.
type postingRule struct {
	direction   stock.MovementType
	checksStock bool
}

// postingRules is the per-type decision table. Sales issue stock and must
// verify sufficiency first; returns receive stock and never need to.
var postingRules = map[DocType]postingRule{
	DocTypeSale:   {direction: stock.MovementOut, checksStock: true},
	DocTypeReturn: {direction: stock.MovementIn, checksStock: false},
}

// Transaction is a sale or return document.
type Transaction struct {
	ID               int64             `json:"id"`
	DocNo            string            `json:"doc_no"`
	DocType          DocType           `json:"doc_type"`
	Status           Status            `json:"status"`
	CustomerName     string            `json:"customer_name,omitempty"`
	RefTransactionID int64             `json:"ref_transaction_id,omitempty"`
	TotalAmount      float64           `json:"total_amount"`
	DiscountAmount   float64           `json:"discount_amount,omitempty"`
	GrandTotal       float64           `json:"grand_total"`
	Note             string            `json:"note,omitempty"`
	Items            []TransactionItem `json:"items,omitempty"`
	Payments         []Payment         `json:"payments,omitempty"`
	CreatedBy        int64             `json:"created_by,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	PostedAt         *time.Time        `json:"posted_at,omitempty"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty"`
}

// TransactionItem is one document line. UnitPrice and CostPrice are frozen
// when the line is written, so margins stay reportable after later price
// changes. BundleItems is the component snapshot frozen at the same moment;
// reversals and returns resolve through it so later bundle edits cannot
// corrupt history. RefItemID links a return line back to the sold line it
// refunds.
type TransactionItem struct {
	ID            int64                       `json:"id"`
	TransactionID int64                       `json:"transaction_id"`
	ProductID     int64                       `json:"product_id"`
	RefItemID     int64                       `json:"ref_item_id,omitempty"`
	Quantity      float64                     `json:"quantity"`
	UnitPrice     float64                     `json:"unit_price"`
	CostPrice     float64                     `json:"cost_price"`
	PriceType     string                      `json:"price_type"`
	LineTotal     float64                     `json:"line_total"`
	BundleItems   []catalog.SnapshotComponent `json:"bundle_items,omitempty"`
}

// Payment statuses.
const (
	PaymentConfirmed = "CONFIRMED"
	PaymentVoid      = "VOID"
)

// Payment methods. QR and transfer settle exactly; only cash carries change.
const (
	MethodCash     = "cash"
	MethodQR       = "qr"
	MethodTransfer = "transfer"
)

// Payment is money taken (or refunded) against a transaction. Amount is
// negative for return refunds.
type Payment struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transaction_id"`
	Method        string    `json:"method"`
	Amount        float64   `json:"amount"`
	Received      float64   `json:"received,omitempty"`
	Change        float64   `json:"change,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateSaleRequest is the payload for opening a sale. Discount applies to
// the whole bill.
type CreateSaleRequest struct {
	CustomerName string            `json:"customer_name"`
	Note         string            `json:"note"`
	Discount     float64           `json:"discount" validate:"gte=0"`
	Items        []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	ActorID      int64             `json:"-"`
}

// SaleItemRequest is one requested sale line. CustomPrice is required when
// PriceType is custom and ignored otherwise.
type SaleItemRequest struct {
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	PriceType   string  `json:"price_type" validate:"omitempty,oneof=retail wholesale custom"`
	CustomPrice float64 `json:"custom_price" validate:"gte=0"`
}

// CreateReturnRequest is the payload for opening a return against a posted
// sale.
type CreateReturnRequest struct {
	OriginalTransactionID int64               `json:"original_transaction_id" validate:"required,gt=0"`
	Reason                string              `json:"reason"`
	Items                 []ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
	ActorID               int64               `json:"-"`
}

// ReturnItemRequest refunds part of one sold line.
type ReturnItemRequest struct {
	ItemID   int64   `json:"item_id" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

// PaymentRequest records money taken for a transaction. Amount must be
// positive for sales and negative for return refunds.
type PaymentRequest struct {
	Method   string  `json:"method" validate:"required,oneof=cash qr transfer"`
	Amount   float64 `json:"amount" validate:"required"`
	Received float64 `json:"received" validate:"gte=0"`
	ActorID  int64   `json:"-"`
}

var (
	// ErrNotFound indicates a missing transaction.
	ErrNotFound = errors.New("sales: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("sales: invalid input")
	// ErrInvalidState indicates a lifecycle transition the document's
	// current status forbids.
	ErrInvalidState = errors.New("sales: invalid state transition")
	// ErrReturnWindowExpired indicates the original sale is older than the
	// return window.
	ErrReturnWindowExpired = errors.New("sales: return window expired")
	// ErrReturnQuantityExceeded indicates the return would exceed the
	// originally sold quantity net of earlier returns.
	ErrReturnQuantityExceeded = errors.New("sales: return quantity exceeds sold quantity")
	// ErrInsufficientPayment indicates received cash under the amount due.
	ErrInsufficientPayment = errors.New("sales: received amount below total")
)
