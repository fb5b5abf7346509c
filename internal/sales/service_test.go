package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partspoint/partspoint/internal/catalog"
	"github.com/partspoint/partspoint/internal/shared"
	"github.com/partspoint/partspoint/internal/stock"
)

type fakeRepo struct {
	transactions map[int64]Transaction
	items        map[int64][]TransactionItem
	payments     map[int64][]Payment
	products     map[int64]catalog.Product
	components   map[int64][]catalog.BundleComponent
	movements    []stock.Movement
	nextID       int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		transactions: map[int64]Transaction{},
		items:        map[int64][]TransactionItem{},
		payments:     map[int64][]Payment{},
		products:     map[int64]catalog.Product{},
		components:   map[int64][]catalog.BundleComponent{},
		nextID:       1,
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	productsBefore := map[int64]catalog.Product{}
	for id, p := range f.products {
		productsBefore[id] = p
	}
	transactionsBefore := map[int64]Transaction{}
	for id, t := range f.transactions {
		transactionsBefore[id] = t
	}
	paymentsBefore := map[int64][]Payment{}
	for id, ps := range f.payments {
		paymentsBefore[id] = append([]Payment(nil), ps...)
	}
	movementsBefore := len(f.movements)
	if err := fn(ctx, (*fakeTx)(f)); err != nil {
		f.products = productsBefore
		f.transactions = transactionsBefore
		f.payments = paymentsBefore
		f.movements = f.movements[:movementsBefore]
		return err
	}
	return nil
}

func (f *fakeRepo) GetTransaction(_ context.Context, id int64) (Transaction, error) {
	t, ok := f.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	t.Items = f.items[id]
	t.Payments = f.payments[id]
	return t, nil
}

func (f *fakeRepo) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for _, t := range f.transactions {
		if filter.DocType != "" && t.DocType != filter.DocType {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeTx fakeRepo

func (f *fakeTx) InsertTransaction(_ context.Context, t Transaction) (int64, error) {
	t.ID = f.nextID
	f.nextID++
	f.transactions[t.ID] = t
	return t.ID, nil
}

func (f *fakeTx) InsertItems(_ context.Context, transactionID int64, items []TransactionItem) error {
	for i := range items {
		items[i].ID = f.nextID
		items[i].TransactionID = transactionID
		f.nextID++
	}
	f.items[transactionID] = items
	return nil
}

func (f *fakeTx) GetTransactionForUpdate(_ context.Context, id int64) (Transaction, error) {
	t, ok := f.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeTx) ListItems(_ context.Context, transactionID int64) ([]TransactionItem, error) {
	return f.items[transactionID], nil
}

func (f *fakeTx) SetStatus(_ context.Context, id int64, status Status, at time.Time) error {
	t, ok := f.transactions[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	switch status {
	case StatusPosted:
		t.PostedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
	}
	f.transactions[id] = t
	return nil
}

func (f *fakeTx) MaxDocSeq(_ context.Context, docPrefix string) (int, error) {
	maxSeq := 0
	for _, t := range f.transactions {
		if !strings.HasPrefix(t.DocNo, docPrefix) {
			continue
		}
		if seq, err := shared.DocNoSeq(t.DocNo); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

func (f *fakeTx) GetProductInfo(_ context.Context, id int64) (catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeTx) ProductExists(_ context.Context, id int64) (bool, error) {
	_, ok := f.products[id]
	return ok, nil
}

func (f *fakeTx) ListComponents(_ context.Context, parentID int64) ([]catalog.Component, error) {
	var out []catalog.Component
	for _, edge := range f.components[parentID] {
		child, ok := f.products[edge.ChildID]
		if !ok {
			continue
		}
		out = append(out, catalog.Component{Product: child, Ratio: edge.Ratio})
	}
	return out, nil
}

func (f *fakeTx) ReturnedQuantities(_ context.Context, originalID int64) (map[int64]float64, error) {
	out := map[int64]float64{}
	for id, t := range f.transactions {
		if t.DocType != DocTypeReturn || t.Status != StatusPosted || t.RefTransactionID != originalID {
			continue
		}
		for _, item := range f.items[id] {
			if item.RefItemID != 0 {
				out[item.RefItemID] += item.Quantity
			}
		}
	}
	return out, nil
}

func (f *fakeTx) InsertPayment(_ context.Context, p Payment) (int64, error) {
	p.ID = f.nextID
	f.nextID++
	f.payments[p.TransactionID] = append(f.payments[p.TransactionID], p)
	return p.ID, nil
}

func (f *fakeTx) VoidPayments(_ context.Context, transactionID int64) error {
	for i, p := range f.payments[transactionID] {
		if p.Status == PaymentConfirmed {
			f.payments[transactionID][i].Status = PaymentVoid
		}
	}
	return nil
}

func (f *fakeTx) DeleteTransaction(_ context.Context, id int64) error {
	delete(f.transactions, id)
	delete(f.items, id)
	delete(f.payments, id)
	return nil
}

func (f *fakeTx) Ledger() stock.Ledger {
	return (*fakeLedger)(f)
}

type fakeLedger fakeRepo

func (l *fakeLedger) LockProducts(_ context.Context, ids []int64) (map[int64]stock.LockedProduct, error) {
	out := map[int64]stock.LockedProduct{}
	for _, id := range ids {
		p, ok := l.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %d", stock.ErrNotFound, id)
		}
		out[id] = stock.LockedProduct{
			ID: p.ID, SKU: p.SKU, Name: p.Name,
			Quantity: p.Quantity, CostPrice: p.CostPrice, MinStock: p.MinStock,
			IsBundle: p.IsBundle, IsActive: p.IsActive,
		}
	}
	return out, nil
}

func (l *fakeLedger) UpdateStock(_ context.Context, productID int64, qty, costPrice float64) error {
	p, ok := l.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %d", stock.ErrNotFound, productID)
	}
	p.Quantity = qty
	p.CostPrice = costPrice
	l.products[productID] = p
	return nil
}

func (l *fakeLedger) Append(_ context.Context, m stock.Movement) (int64, error) {
	m.ID = l.nextID
	l.nextID++
	l.movements = append(l.movements, m)
	return m.ID, nil
}

type fakeIdem struct {
	keys map[string]bool
}

func (f *fakeIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdem) Delete(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, &fakeIdem{}, nil, nil, slog.Default(), Config{})
}

type fakeRecorder struct {
	documents []string
	movements map[string]int
}

func (f *fakeRecorder) DocumentPosted(docType string) {
	f.documents = append(f.documents, docType)
}

func (f *fakeRecorder) MovementWritten(movementType string, n int) {
	if f.movements == nil {
		f.movements = map[string]int{}
	}
	f.movements[movementType] += n
}

func simpleProduct(id int64, sku string, qty, retail, wholesale float64) catalog.Product {
	return catalog.Product{ID: id, SKU: sku, Name: sku, Quantity: qty, CostPrice: retail / 2, SellingPrice: retail, WholesalePrice: wholesale, IsActive: true}
}

func TestCreateSaleResolvesPrices(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 80)
	svc := newTestService(repo)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 1},
		{ProductID: 1, Quantity: 2, PriceType: PriceWholesale},
		{ProductID: 1, Quantity: 1, PriceType: PriceCustom, CustomPrice: 95},
	}})
	require.NoError(t, err)
	require.Equal(t, StatusHold, sale.Status)
	require.InDelta(t, 100, sale.Items[0].UnitPrice, 1e-9)
	require.InDelta(t, 80, sale.Items[1].UnitPrice, 1e-9)
	require.InDelta(t, 95, sale.Items[2].UnitPrice, 1e-9)
	// The cost at sale time rides along on every line.
	require.InDelta(t, 50, sale.Items[0].CostPrice, 1e-9)
	require.InDelta(t, 100+160+95, sale.TotalAmount, 1e-9)
	require.InDelta(t, 100+160+95, sale.GrandTotal, 1e-9)
	// Holding has no stock effect.
	require.InDelta(t, 10, repo.products[1].Quantity, 1e-9)
	require.Empty(t, repo.movements)
}

func TestCreateSaleAppliesBillDiscount(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 80)
	svc := newTestService(repo)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Discount: 50,
		Items:    []SaleItemRequest{{ProductID: 1, Quantity: 3}},
	})
	require.NoError(t, err)
	require.InDelta(t, 300, sale.TotalAmount, 1e-9)
	require.InDelta(t, 50, sale.DiscountAmount, 1e-9)
	require.InDelta(t, 250, sale.GrandTotal, 1e-9)

	_, err = svc.CreateSale(context.Background(), CreateSaleRequest{
		Discount: 500,
		Items:    []SaleItemRequest{{ProductID: 1, Quantity: 3}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateSaleBlocksInsufficientStock(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 1, 100, 0)
	svc := newTestService(repo)

	_, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 100},
	}})
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "A", insufficient.ProductName)
	require.InDelta(t, 1, insufficient.Available, 1e-9)
	require.Empty(t, repo.transactions)
}

func TestCreateSaleBlocksInsufficientBundleStock(t *testing.T) {
	repo := newFakeRepo()
	parent := catalog.Product{ID: 10, SKU: "PAIR", Name: "Pair", IsBundle: true, BundleType: catalog.BundleTypeLeftRight, SellingPrice: 500, IsActive: true}
	repo.products[10] = parent
	repo.products[11] = simpleProduct(11, "PAIR-L", 1, 250, 0)
	repo.products[12] = simpleProduct(12, "PAIR-R", 5, 250, 0)
	repo.components[10] = []catalog.BundleComponent{
		{ParentID: 10, ChildID: 11, Ratio: 1},
		{ParentID: 10, ChildID: 12, Ratio: 1},
	}
	svc := newTestService(repo)

	// One left side on hand caps the pair at one complete set.
	_, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 10, Quantity: 2},
	}})
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.InDelta(t, 1, insufficient.Available, 1e-9)
	require.Empty(t, repo.transactions)
}

func TestCreateSaleWholesaleFallsBackToRetail(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 1, PriceType: PriceWholesale},
	}})
	require.NoError(t, err)
	require.InDelta(t, 100, sale.Items[0].UnitPrice, 1e-9)
}

func TestCreateSaleCustomPriceRequired(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 80)
	svc := newTestService(repo)
	_, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 1, PriceType: PriceCustom},
	}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateSaleSnapshotsBundle(t *testing.T) {
	repo := newFakeRepo()
	parent := catalog.Product{ID: 10, SKU: "PAIR", Name: "Pair", IsBundle: true, BundleType: catalog.BundleTypeLeftRight, SellingPrice: 500, IsActive: true}
	repo.products[10] = parent
	repo.products[11] = simpleProduct(11, "PAIR-L", 5, 250, 0)
	repo.products[12] = simpleProduct(12, "PAIR-R", 5, 250, 0)
	repo.components[10] = []catalog.BundleComponent{
		{ParentID: 10, ChildID: 11, Ratio: 1},
		{ParentID: 10, ChildID: 12, Ratio: 1},
	}
	svc := newTestService(repo)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 10, Quantity: 2},
	}})
	require.NoError(t, err)
	require.Len(t, sale.Items[0].BundleItems, 2)
	require.Equal(t, int64(11), sale.Items[0].BundleItems[0].ProductID)
}

func TestPostSaleIssuesStock(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 5, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 3},
	}})
	require.NoError(t, err)

	posted, err := svc.PostSale(context.Background(), sale.ID, 7, "")
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.InDelta(t, 2, repo.products[1].Quantity, 1e-9)
	require.Len(t, repo.movements, 1)
	m := repo.movements[0]
	require.Equal(t, stock.MovementOut, m.Type)
	require.InDelta(t, 3, m.Quantity, 1e-9)
	require.InDelta(t, 2, m.BalanceAfter, 1e-9)
	require.Equal(t, sale.DocNo, m.DocNo)
}

func TestPostSaleChecksAggregateDemand(t *testing.T) {
	repo := newFakeRepo()
	// Two lines of 3 each against 5 on hand: each line alone fits, the
	// aggregate does not.
	repo.products[1] = simpleProduct(1, "A", 5, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 3},
		{ProductID: 1, Quantity: 3},
	}})
	require.NoError(t, err)

	_, err = svc.PostSale(context.Background(), sale.ID, 0, "")
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.InDelta(t, 6, insufficient.Requested, 1e-9)
	require.InDelta(t, 5, repo.products[1].Quantity, 1e-9)
	require.Empty(t, repo.movements)
	stored, _ := repo.GetTransaction(context.Background(), sale.ID)
	require.Equal(t, StatusHold, stored.Status)
}

func TestPostSaleBundleUsesSnapshotNotLiveComposition(t *testing.T) {
	repo := newFakeRepo()
	repo.products[10] = catalog.Product{ID: 10, SKU: "PAIR", Name: "Pair", IsBundle: true, BundleType: catalog.BundleTypeLeftRight, SellingPrice: 500, IsActive: true}
	repo.products[11] = simpleProduct(11, "PAIR-L", 5, 250, 0)
	repo.products[12] = simpleProduct(12, "PAIR-R", 5, 250, 0)
	repo.products[13] = simpleProduct(13, "OTHER", 5, 250, 0)
	repo.components[10] = []catalog.BundleComponent{
		{ParentID: 10, ChildID: 11, Ratio: 1},
		{ParentID: 10, ChildID: 12, Ratio: 1},
	}
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 10, Quantity: 2},
	}})
	require.NoError(t, err)

	// Re-configure the bundle while the bill is on hold.
	repo.components[10] = []catalog.BundleComponent{{ParentID: 10, ChildID: 13, Ratio: 1}}

	_, err = svc.PostSale(context.Background(), sale.ID, 0, "")
	require.NoError(t, err)
	require.InDelta(t, 3, repo.products[11].Quantity, 1e-9)
	require.InDelta(t, 3, repo.products[12].Quantity, 1e-9)
	require.InDelta(t, 5, repo.products[13].Quantity, 1e-9)
}

func TestPostSaleTwiceFailsStatusGuard(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 5, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 1},
	}})
	require.NoError(t, err)
	_, err = svc.PostSale(context.Background(), sale.ID, 0, "")
	require.NoError(t, err)
	_, err = svc.PostSale(context.Background(), sale.ID, 0, "")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, repo.movements, 1)
}

func TestCancelPostedSaleRestoresStockAndVoidsPayments(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 5, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 3},
	}})
	require.NoError(t, err)
	_, err = svc.PostSale(context.Background(), sale.ID, 0, "")
	require.NoError(t, err)
	_, err = svc.RecordPayment(context.Background(), sale.ID, PaymentRequest{Method: MethodCash, Amount: 300, Received: 500})
	require.NoError(t, err)

	cancelled, err := svc.CancelSale(context.Background(), sale.ID, 0, "customer changed mind")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.InDelta(t, 5, repo.products[1].Quantity, 1e-9)

	last := repo.movements[len(repo.movements)-1]
	require.Equal(t, stock.MovementIn, last.Type)
	require.Equal(t, "CANCEL-"+sale.DocNo, last.DocNo)
	require.Equal(t, PaymentVoid, repo.payments[sale.ID][0].Status)
}

func TestCancelPostedSaleSkipsDeletedComponent(t *testing.T) {
	repo := newFakeRepo()
	repo.products[10] = catalog.Product{ID: 10, SKU: "PAIR", Name: "Pair", IsBundle: true, BundleType: catalog.BundleTypeLeftRight, SellingPrice: 500, IsActive: true}
	repo.products[11] = simpleProduct(11, "PAIR-L", 5, 250, 0)
	repo.products[12] = simpleProduct(12, "PAIR-R", 5, 250, 0)
	repo.components[10] = []catalog.BundleComponent{
		{ParentID: 10, ChildID: 11, Ratio: 1},
		{ParentID: 10, ChildID: 12, Ratio: 1},
	}
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 10, Quantity: 2},
	}})
	require.NoError(t, err)
	_, err = svc.PostSale(context.Background(), sale.ID, 0, "")
	require.NoError(t, err)

	// One side got hard-deleted since posting.
	delete(repo.products, 12)

	_, err = svc.CancelSale(context.Background(), sale.ID, 0, "")
	require.NoError(t, err)
	require.InDelta(t, 5, repo.products[11].Quantity, 1e-9)
}

func TestCancelHeldSaleHasNoStockEffect(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 5, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 3},
	}})
	require.NoError(t, err)

	cancelled, err := svc.CancelSale(context.Background(), sale.ID, 0, "")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, repo.movements)
}

func TestRecordPaymentCashComputesChange(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 5, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 3},
	}})
	require.NoError(t, err)

	payment, err := svc.RecordPayment(context.Background(), sale.ID, PaymentRequest{Method: MethodCash, Amount: 300, Received: 1000})
	require.NoError(t, err)
	require.InDelta(t, 700, payment.Change, 1e-9)
	require.Equal(t, PaymentConfirmed, payment.Status)
}

func TestRecordPaymentRejectsShortCash(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 5, 100, 0)
	svc := newTestService(repo)
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{
		{ProductID: 1, Quantity: 3},
	}})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), sale.ID, PaymentRequest{Method: MethodCash, Amount: 300, Received: 200})
	require.ErrorIs(t, err, ErrInsufficientPayment)
}

func TestListHeldBills(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 0)
	svc := newTestService(repo)
	first, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	second, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	_, err = svc.PostSale(context.Background(), second.ID, 0, "")
	require.NoError(t, err)

	held, err := svc.ListHeldBills(context.Background())
	require.NoError(t, err)
	require.Len(t, held, 1)
	require.Equal(t, first.ID, held[0].ID)
}

func TestPostSaleRecordsMetrics(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 0)
	svc := newTestService(repo)
	rec := &fakeRecorder{}
	svc.SetMetrics(rec)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{{ProductID: 1, Quantity: 2}}})
	require.NoError(t, err)
	_, err = svc.PostSale(context.Background(), sale.ID, 0, "")
	require.NoError(t, err)

	require.Equal(t, []string{string(DocTypeSale)}, rec.documents)
	require.Equal(t, 1, rec.movements[string(stock.MovementOut)])
}

func TestDiscardHeldBill(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 0)
	svc := newTestService(repo)
	held, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)

	require.NoError(t, svc.DiscardHeld(context.Background(), held.ID, 0))
	_, err = svc.GetTransaction(context.Background(), held.ID)
	require.ErrorIs(t, err, ErrNotFound)

	posted, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	_, err = svc.PostSale(context.Background(), posted.ID, 0, "")
	require.NoError(t, err)
	err = svc.DiscardHeld(context.Background(), posted.ID, 0)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDocNumbersSequencePerType(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = simpleProduct(1, "A", 10, 100, 0)
	svc := newTestService(repo)
	first, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	second, err := svc.CreateSale(context.Background(), CreateSaleRequest{Items: []SaleItemRequest{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	require.Equal(t, shared.FormatDocNo(shared.DocPrefixSale, time.Now(), 1), first.DocNo)
	require.Equal(t, shared.FormatDocNo(shared.DocPrefixSale, time.Now(), 2), second.DocNo)
}
