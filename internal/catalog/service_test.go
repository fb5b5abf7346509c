package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	nextID     int64
	products   map[int64]Product
	components map[int64][]BundleComponent
	categories map[int64]Category
	suppliers  map[int64]Supplier
	history    map[int64]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:     1,
		products:   map[int64]Product{},
		components: map[int64][]BundleComponent{},
		categories: map[int64]Category{},
		suppliers:  map[int64]Supplier{},
		history:    map[int64]bool{},
	}
}

func (m *memoryRepo) GetProduct(_ context.Context, id int64) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) GetProductBySKU(_ context.Context, sku string) (Product, error) {
	for _, p := range m.products {
		if p.SKU == sku {
			return p, nil
		}
	}
	return Product{}, ErrNotFound
}

func (m *memoryRepo) ListProducts(_ context.Context, f ProductFilter) ([]Product, error) {
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryRepo) CountProducts(_ context.Context, _ ProductFilter) (int, error) {
	return len(m.products), nil
}

func (m *memoryRepo) CreateProduct(_ context.Context, p Product) (int64, error) {
	for _, existing := range m.products {
		if existing.SKU == p.SKU {
			return 0, ErrDuplicateSKU
		}
	}
	p.ID = m.nextID
	m.nextID++
	m.products[p.ID] = p
	return p.ID, nil
}

func (m *memoryRepo) UpdateProduct(_ context.Context, p Product) error {
	if _, ok := m.products[p.ID]; !ok {
		return ErrNotFound
	}
	m.products[p.ID] = p
	return nil
}

func (m *memoryRepo) UpsertProductBySKU(ctx context.Context, p Product) (Product, error) {
	existing, err := m.GetProductBySKU(ctx, p.SKU)
	if err == nil {
		p.ID = existing.ID
		p.Quantity = existing.Quantity
		p.CostPrice = existing.CostPrice
		m.products[p.ID] = p
		return p, nil
	}
	id, err := m.CreateProduct(ctx, p)
	if err != nil {
		return Product{}, err
	}
	p.ID = id
	return p, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	p, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	p.IsActive = active
	m.products[id] = p
	return nil
}

func (m *memoryRepo) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	delete(m.components, id)
	return nil
}

func (m *memoryRepo) HasDocumentHistory(_ context.Context, id int64) (bool, error) {
	return m.history[id], nil
}

func (m *memoryRepo) MaxSKUSeq(_ context.Context, prefix string) (int, error) {
	maxSeq := 0
	for _, p := range m.products {
		if !strings.HasPrefix(p.SKU, prefix) {
			continue
		}
		seq, err := strconv.Atoi(p.SKU[len(prefix):])
		if err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

func (m *memoryRepo) ListComponents(_ context.Context, parentID int64) ([]Component, error) {
	edges := m.components[parentID]
	out := make([]Component, 0, len(edges))
	for _, e := range edges {
		child, ok := m.products[e.ChildID]
		if !ok {
			continue
		}
		out = append(out, Component{Product: child, Ratio: e.Ratio})
	}
	return out, nil
}

func (m *memoryRepo) SetComponents(_ context.Context, parentID int64, components []BundleComponent) error {
	m.components[parentID] = components
	return nil
}

func (m *memoryRepo) ListGroupChildren(_ context.Context, group string, excludeID int64) ([]Product, error) {
	var out []Product
	for _, p := range m.products {
		if p.BundleGroup == group && p.ID != excludeID && !p.IsBundle {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListPairParents(_ context.Context) ([]Product, error) {
	var out []Product
	for _, p := range m.products {
		if (p.BundleType == BundleTypeLeftRight || p.BundleType == BundleTypeFrontRear) && p.BundleGroup != "" && p.PairSide == "" {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListCompatibleModels(_ context.Context) ([]string, error) {
	var out []string
	for _, p := range m.products {
		if p.IsActive && p.CompatibleModels != "" {
			out = append(out, p.CompatibleModels)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetCategory(_ context.Context, id int64) (Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return Category{}, ErrNotFound
	}
	return c, nil
}

func (m *memoryRepo) ListCategories(_ context.Context) ([]Category, error) {
	out := make([]Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryRepo) CreateCategory(_ context.Context, c Category) (int64, error) {
	c.ID = m.nextID
	m.nextID++
	m.categories[c.ID] = c
	return c.ID, nil
}

func (m *memoryRepo) GetSupplier(_ context.Context, id int64) (Supplier, error) {
	s, ok := m.suppliers[id]
	if !ok {
		return Supplier{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryRepo) ListSuppliers(_ context.Context) ([]Supplier, error) {
	out := make([]Supplier, 0, len(m.suppliers))
	for _, s := range m.suppliers {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryRepo) CreateSupplier(_ context.Context, s Supplier) (int64, error) {
	s.ID = m.nextID
	m.nextID++
	m.suppliers[s.ID] = s
	return s.ID, nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, slog.Default())
}

func TestSearchPaginates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	for i := 0; i < 5; i++ {
		_, err := svc.CreateProduct(context.Background(), CreateProductRequest{Name: fmt.Sprintf("Part %d", i)})
		require.NoError(t, err)
	}

	views, pagination, err := svc.Search(context.Background(), "", "", 1, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, 5, pagination.Total)
	require.Equal(t, 3, pagination.TotalPages)

	last, pagination, err := svc.Search(context.Background(), "", "", 3, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	require.Equal(t, 3, pagination.Page)
}

func TestCreateProductGeneratesSKUFromCategoryPrefix(t *testing.T) {
	repo := newMemoryRepo()
	catID, err := repo.CreateCategory(context.Background(), Category{Name: "Brakes", Prefix: "BRK"})
	require.NoError(t, err)
	svc := newTestService(repo)

	first, err := svc.CreateProduct(context.Background(), CreateProductRequest{Name: "Brake pad", CategoryID: catID})
	require.NoError(t, err)
	require.Equal(t, "BRK-0001", first.SKU)
	require.True(t, first.IsActive)
	require.Equal(t, 1, first.ItemsPerUnit)

	second, err := svc.CreateProduct(context.Background(), CreateProductRequest{Name: "Brake shoe", CategoryID: catID})
	require.NoError(t, err)
	require.Equal(t, "BRK-0002", second.SKU)
}

func TestCreateProductWithoutCategoryUsesDefaultPrefix(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	p, err := svc.CreateProduct(context.Background(), CreateProductRequest{Name: "Misc part"})
	require.NoError(t, err)
	require.Equal(t, "PRD-0001", p.SKU)
}

func TestCreateProductRejectsDuplicateSKU(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.CreateProduct(context.Background(), CreateProductRequest{Name: "A", SKU: "X-1"})
	require.NoError(t, err)
	_, err = svc.CreateProduct(context.Background(), CreateProductRequest{Name: "B", SKU: "X-1"})
	require.ErrorIs(t, err, ErrDuplicateSKU)
}

func TestDeleteProductSoftDeletesWhenHistoryExists(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	p, err := svc.CreateProduct(context.Background(), CreateProductRequest{Name: "A", SKU: "X-1"})
	require.NoError(t, err)
	repo.history[p.ID] = true

	hard, err := svc.DeleteProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.False(t, hard)
	stored, err := repo.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)
}

func TestDeleteProductHardDeletesWithoutHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	p, err := svc.CreateProduct(context.Background(), CreateProductRequest{Name: "A", SKU: "X-1"})
	require.NoError(t, err)

	hard, err := svc.DeleteProduct(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, hard)
	_, err = repo.GetProduct(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetBundleComponentsRejectsSelfReference(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	parentID, err := repo.CreateProduct(context.Background(), Product{SKU: "P", Name: "Parent", IsBundle: true, BundleType: BundleTypeSame})
	require.NoError(t, err)

	err = svc.SetBundleComponents(context.Background(), parentID, []BundleComponent{{ParentID: parentID, ChildID: parentID, Ratio: 1}})
	require.ErrorIs(t, err, ErrBundleCycle)
}

func TestSetBundleComponentsRejectsTransitiveCycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	a, _ := repo.CreateProduct(context.Background(), Product{SKU: "A", Name: "A", IsBundle: true, BundleType: BundleTypeSame})
	b, _ := repo.CreateProduct(context.Background(), Product{SKU: "B", Name: "B", IsBundle: true, BundleType: BundleTypeSame})
	c, _ := repo.CreateProduct(context.Background(), Product{SKU: "C", Name: "C"})

	require.NoError(t, svc.SetBundleComponents(context.Background(), a, []BundleComponent{{ParentID: a, ChildID: b, Ratio: 1}}))
	require.NoError(t, svc.SetBundleComponents(context.Background(), b, []BundleComponent{{ParentID: b, ChildID: c, Ratio: 1}}))
	// b -> a would close the loop a -> b -> a.
	err := svc.SetBundleComponents(context.Background(), b, []BundleComponent{{ParentID: b, ChildID: a, Ratio: 1}})
	require.ErrorIs(t, err, ErrBundleCycle)
}

func TestSetBundleComponentsRejectsNonBundleParent(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	id, _ := repo.CreateProduct(context.Background(), Product{SKU: "S", Name: "Simple"})
	err := svc.SetBundleComponents(context.Background(), id, nil)
	require.ErrorIs(t, err, ErrNotBundle)
}

func TestRegisterPairCreatesParentAndSides(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	result, err := svc.RegisterPair(context.Background(), RegisterPairRequest{
		SKU:          "shock-125",
		Name:         "Shock absorber 125",
		BundleType:   "L-R",
		CostPrice:    400,
		SellingPrice: 600,
	})
	require.NoError(t, err)
	require.Equal(t, "SHOCK-125", result.Parent.SKU)
	require.True(t, result.Parent.IsBundle)
	require.Equal(t, BundleTypeLeftRight, result.Parent.BundleType)
	require.Equal(t, "SHOCK-125-L", result.Sides[0].SKU)
	require.Equal(t, "SHOCK-125-R", result.Sides[1].SKU)
	require.InDelta(t, 300, result.Sides[0].SellingPrice, 1e-9)
	require.Equal(t, "SHOCK-125", result.Sides[0].BundleGroup)

	comps, err := repo.ListComponents(context.Background(), result.Parent.ID)
	require.NoError(t, err)
	require.Len(t, comps, 2)
}

func TestRegisterPairIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	req := RegisterPairRequest{SKU: "FORK-110", Name: "Front fork 110", BundleType: "F-R", SellingPrice: 900}

	first, err := svc.RegisterPair(context.Background(), req)
	require.NoError(t, err)
	// Component side stocks survive re-registration.
	side := repo.products[first.Sides[0].ID]
	side.Quantity = 7
	repo.products[side.ID] = side

	second, err := svc.RegisterPair(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Parent.ID, second.Parent.ID)
	require.Equal(t, first.Sides[0].ID, second.Sides[0].ID)
	require.InDelta(t, 7, repo.products[side.ID].Quantity, 1e-9)
	require.Len(t, repo.products, 3)
}

func TestSyncBundlesRelinksDetachedPairs(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	result, err := svc.RegisterPair(context.Background(), RegisterPairRequest{SKU: "MIR-01", Name: "Mirror set", BundleType: "L-R"})
	require.NoError(t, err)
	// Simulate a detached parent.
	repo.components[result.Parent.ID] = nil

	linked, err := svc.SyncBundles(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, linked)
	comps, err := repo.ListComponents(context.Background(), result.Parent.ID)
	require.NoError(t, err)
	require.Len(t, comps, 2)
}

func TestPopularModelsCountsAndSorts(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	_, _ = repo.CreateProduct(context.Background(), Product{SKU: "1", Name: "a", IsActive: true, CompatibleModels: "Wave110, PCX"})
	_, _ = repo.CreateProduct(context.Background(), Product{SKU: "2", Name: "b", IsActive: true, CompatibleModels: "Wave110"})
	_, _ = repo.CreateProduct(context.Background(), Product{SKU: "3", Name: "c", IsActive: true, CompatibleModels: "Click125"})

	models, err := svc.PopularModels(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "Wave110", models[0].Model)
	require.Equal(t, 2, models[0].Count)
}

func TestGetProductReportsEffectiveStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	result, err := svc.RegisterPair(context.Background(), RegisterPairRequest{SKU: "DISC-01", Name: "Disc pair", BundleType: "L-R"})
	require.NoError(t, err)
	for i, qty := range []float64{4, 6} {
		p := repo.products[result.Sides[i].ID]
		p.Quantity = qty
		repo.products[p.ID] = p
	}

	view, err := svc.GetProduct(context.Background(), result.Parent.ID)
	require.NoError(t, err)
	require.InDelta(t, 4, view.EffectiveStock, 1e-9)
	require.Len(t, view.Components, 2)
}
