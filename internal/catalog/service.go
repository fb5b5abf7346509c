package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/partspoint/partspoint/internal/shared"
)

// RepositoryPort is the persistence surface the catalog service needs.
type RepositoryPort interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductBySKU(ctx context.Context, sku string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	CountProducts(ctx context.Context, filter ProductFilter) (int, error)
	CreateProduct(ctx context.Context, p Product) (int64, error)
	UpdateProduct(ctx context.Context, p Product) error
	UpsertProductBySKU(ctx context.Context, p Product) (Product, error)
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteProduct(ctx context.Context, id int64) error
	HasDocumentHistory(ctx context.Context, id int64) (bool, error)
	MaxSKUSeq(ctx context.Context, prefix string) (int, error)
	ListComponents(ctx context.Context, parentID int64) ([]Component, error)
	SetComponents(ctx context.Context, parentID int64, components []BundleComponent) error
	ListGroupChildren(ctx context.Context, group string, excludeID int64) ([]Product, error)
	ListPairParents(ctx context.Context) ([]Product, error)
	ListCompatibleModels(ctx context.Context) ([]string, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, c Category) (int64, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)
	CreateSupplier(ctx context.Context, s Supplier) (int64, error)
}

// Service implements catalog use-cases.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
	}
}

const defaultSKUPrefix = "PRD"

// ProductView is a product enriched with derived stock figures.
type ProductView struct {
	Product
	EffectiveStock float64     `json:"effective_stock"`
	Components     []Component `json:"components,omitempty"`
}

// GetProduct loads a product with its effective stock (and components for
// bundle parents).
func (s *Service) GetProduct(ctx context.Context, id int64) (ProductView, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return ProductView{}, err
	}
	return s.buildView(ctx, p)
}

// GetProductBySKU loads a product by SKU with derived stock.
func (s *Service) GetProductBySKU(ctx context.Context, sku string) (ProductView, error) {
	p, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return ProductView{}, err
	}
	return s.buildView(ctx, p)
}

func (s *Service) buildView(ctx context.Context, p Product) (ProductView, error) {
	view := ProductView{Product: p}
	if p.IsBundle {
		comps, err := s.repo.ListComponents(ctx, p.ID)
		if err != nil {
			return ProductView{}, err
		}
		view.Components = comps
		view.EffectiveStock = EffectiveStock(p, comps)
		return view, nil
	}
	view.EffectiveStock = p.Quantity
	return view, nil
}

// Search finds products by free text and/or vehicle model, one page at a
// time.
func (s *Service) Search(ctx context.Context, query, model string, page, perPage int) ([]ProductView, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	filter := ProductFilter{Query: query, Model: model, ActiveOnly: true, Limit: p.PerPage, Offset: p.Offset()}
	total, err := s.repo.CountProducts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	products, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		v, err := s.buildView(ctx, p)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		views = append(views, v)
	}
	return views, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// CreateProduct creates a simple (non-bundle) product. An empty SKU is
// generated from the category prefix plus the next free sequence.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (Product, error) {
	if err := s.validate.Struct(req); err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sku := strings.TrimSpace(req.SKU)
	if sku == "" {
		generated, err := s.generateSKU(ctx, req.CategoryID)
		if err != nil {
			return Product{}, err
		}
		sku = generated
	} else if _, err := s.repo.GetProductBySKU(ctx, sku); err == nil {
		return Product{}, ErrDuplicateSKU
	} else if !errors.Is(err, ErrNotFound) {
		return Product{}, err
	}

	itemsPerUnit := req.ItemsPerUnit
	if itemsPerUnit <= 0 {
		itemsPerUnit = 1
	}
	p := Product{
		CategoryID:       req.CategoryID,
		SupplierID:       req.SupplierID,
		SKU:              sku,
		Name:             req.Name,
		Description:      req.Description,
		CompatibleModels: req.CompatibleModels,
		Unit:             req.Unit,
		CostPrice:        req.CostPrice,
		SellingPrice:     req.SellingPrice,
		WholesalePrice:   req.WholesalePrice,
		MinStock:         req.MinStock,
		ItemsPerUnit:     itemsPerUnit,
		PurchaseUnitName: req.PurchaseUnitName,
		IsActive:         true,
	}
	id, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return Product{}, err
	}
	p.ID = id
	s.logger.Info("product created", slog.Int64("product_id", id), slog.String("sku", sku))
	return p, nil
}

func (s *Service) generateSKU(ctx context.Context, categoryID int64) (string, error) {
	prefix := defaultSKUPrefix
	if categoryID != 0 {
		cat, err := s.repo.GetCategory(ctx, categoryID)
		if err != nil {
			return "", err
		}
		if cat.Prefix != "" {
			prefix = strings.ToUpper(cat.Prefix)
		}
	}
	seq, err := s.repo.MaxSKUSeq(ctx, prefix+"-")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, seq+1), nil
}

// UpdateProduct applies a partial update.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) (Product, error) {
	if err := s.validate.Struct(req); err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.CategoryID != nil {
		p.CategoryID = *req.CategoryID
	}
	if req.SupplierID != nil {
		p.SupplierID = *req.SupplierID
	}
	if req.CompatibleModels != nil {
		p.CompatibleModels = *req.CompatibleModels
	}
	if req.SellingPrice != nil {
		p.SellingPrice = *req.SellingPrice
	}
	if req.WholesalePrice != nil {
		p.WholesalePrice = *req.WholesalePrice
	}
	if req.MinStock != nil {
		p.MinStock = *req.MinStock
	}
	if req.ItemsPerUnit != nil {
		p.ItemsPerUnit = *req.ItemsPerUnit
	}
	if req.PurchaseUnitName != nil {
		p.PurchaseUnitName = *req.PurchaseUnitName
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// DeleteProduct removes a product. Anything referenced by a purchase or sale
// line is soft-deleted (deactivated) so history stays resolvable; products
// with no document trail are removed outright.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (hard bool, err error) {
	if _, err := s.repo.GetProduct(ctx, id); err != nil {
		return false, err
	}
	hasHistory, err := s.repo.HasDocumentHistory(ctx, id)
	if err != nil {
		return false, err
	}
	if hasHistory {
		if err := s.repo.SetActive(ctx, id, false); err != nil {
			return false, err
		}
		s.logger.Info("product deactivated", slog.Int64("product_id", id))
		return false, nil
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return false, err
	}
	s.logger.Info("product deleted", slog.Int64("product_id", id))
	return true, nil
}

// SetBundleComponents replaces a bundle parent's component list after
// rejecting self-references and transitive cycles.
func (s *Service) SetBundleComponents(ctx context.Context, parentID int64, components []BundleComponent) error {
	parent, err := s.repo.GetProduct(ctx, parentID)
	if err != nil {
		return err
	}
	if !parent.IsBundle {
		return ErrNotBundle
	}
	for _, c := range components {
		if c.ChildID == parentID {
			return ErrBundleCycle
		}
		if _, err := s.repo.GetProduct(ctx, c.ChildID); err != nil {
			return err
		}
		reaches, err := s.reaches(ctx, c.ChildID, parentID, map[int64]bool{})
		if err != nil {
			return err
		}
		if reaches {
			return ErrBundleCycle
		}
	}
	return s.repo.SetComponents(ctx, parentID, components)
}

// reaches walks the component graph from 'from' looking for 'target'.
func (s *Service) reaches(ctx context.Context, from, target int64, seen map[int64]bool) (bool, error) {
	if seen[from] {
		return false, nil
	}
	seen[from] = true
	comps, err := s.repo.ListComponents(ctx, from)
	if err != nil {
		return false, err
	}
	for _, c := range comps {
		if c.Product.ID == target {
			return true, nil
		}
		found, err := s.reaches(ctx, c.Product.ID, target, seen)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// PairResult is the product trio created by RegisterPair.
type PairResult struct {
	Parent Product    `json:"parent"`
	Sides  [2]Product `json:"sides"`
}

// RegisterPair creates (or refreshes) an L-R or F-R paired product: a bundle
// parent under the given SKU plus two side children suffixed with the side
// marker, all sharing a bundle group. Re-registering the same SKU updates
// the trio in place, so the operation is safe to repeat.
func (s *Service) RegisterPair(ctx context.Context, req RegisterPairRequest) (PairResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return PairResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	bundleType := BundleType(req.BundleType)
	sides := [2]string{PairSideLeft, PairSideRight}
	if bundleType == BundleTypeFrontRear {
		sides = [2]string{PairSideFront, PairSideRear}
	}
	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	itemsPerUnit := req.ItemsPerUnit
	if itemsPerUnit <= 0 {
		itemsPerUnit = 1
	}

	base := Product{
		CategoryID:       req.CategoryID,
		SupplierID:       req.SupplierID,
		CompatibleModels: req.CompatibleModels,
		Unit:             "ชิ้น",
		ItemsPerUnit:     itemsPerUnit,
		PurchaseUnitName: req.PurchaseUnitName,
		BundleGroup:      sku,
		IsActive:         true,
	}

	parent := base
	parent.SKU = sku
	parent.Name = req.Name
	parent.IsBundle = true
	parent.BundleType = bundleType
	parent.CostPrice = req.CostPrice
	parent.SellingPrice = req.SellingPrice
	parent.WholesalePrice = req.WholesalePrice
	parent, err := s.repo.UpsertProductBySKU(ctx, parent)
	if err != nil {
		return PairResult{}, err
	}

	var result PairResult
	result.Parent = parent
	edges := make([]BundleComponent, 0, 2)
	for i, side := range sides {
		child := base
		child.SKU = fmt.Sprintf("%s-%s", sku, side)
		child.Name = fmt.Sprintf("%s (%s)", req.Name, side)
		child.PairSide = side
		// A single side sells for half the pair.
		child.CostPrice = req.CostPrice / 2
		child.SellingPrice = req.SellingPrice / 2
		child.WholesalePrice = req.WholesalePrice / 2
		child, err = s.repo.UpsertProductBySKU(ctx, child)
		if err != nil {
			return PairResult{}, err
		}
		result.Sides[i] = child
		edges = append(edges, BundleComponent{ParentID: parent.ID, ChildID: child.ID, Ratio: 1})
	}
	if err := s.repo.SetComponents(ctx, parent.ID, edges); err != nil {
		return PairResult{}, err
	}
	s.logger.Info("pair registered",
		slog.String("sku", sku),
		slog.String("bundle_type", string(bundleType)),
		slog.Int64("parent_id", parent.ID))
	return result, nil
}

// SyncBundles re-links every pair parent to the side children sharing its
// bundle group. Run after imports or manual edits that may have detached
// component edges.
func (s *Service) SyncBundles(ctx context.Context) (linked int, err error) {
	parents, err := s.repo.ListPairParents(ctx)
	if err != nil {
		return 0, err
	}
	for _, parent := range parents {
		children, err := s.repo.ListGroupChildren(ctx, parent.BundleGroup, parent.ID)
		if err != nil {
			return linked, err
		}
		if len(children) != 2 {
			s.logger.Warn("bundle group not pairable",
				slog.String("group", parent.BundleGroup),
				slog.Int("children", len(children)))
			continue
		}
		edges := []BundleComponent{
			{ParentID: parent.ID, ChildID: children[0].ID, Ratio: 1},
			{ParentID: parent.ID, ChildID: children[1].ID, Ratio: 1},
		}
		if err := s.repo.SetComponents(ctx, parent.ID, edges); err != nil {
			return linked, err
		}
		linked++
	}
	s.logger.Info("bundles synced", slog.Int("linked", linked))
	return linked, nil
}

// ModelCount is a vehicle model with its product count.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// PopularModels counts vehicle models across active products' compatibility
// lists and returns the top entries.
func (s *Service) PopularModels(ctx context.Context, limit int) ([]ModelCount, error) {
	raw, err := s.repo.ListCompatibleModels(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, value := range raw {
		for _, model := range strings.Split(value, ",") {
			model = strings.TrimSpace(model)
			if model == "" {
				continue
			}
			counts[model]++
		}
	}
	out := make([]ModelCount, 0, len(counts))
	for model, count := range counts {
		out = append(out, ModelCount{Model: model, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Model < out[j].Model
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Categories lists categories.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateCategory adds a category. The prefix feeds SKU generation and is
// upper-cased for consistency.
func (s *Service) CreateCategory(ctx context.Context, c Category) (Category, error) {
	if c.Name == "" {
		return Category{}, fmt.Errorf("%w: category name required", ErrValidation)
	}
	c.Prefix = strings.ToUpper(strings.TrimSpace(c.Prefix))
	id, err := s.repo.CreateCategory(ctx, c)
	if err != nil {
		return Category{}, err
	}
	c.ID = id
	return c, nil
}

// Suppliers lists suppliers.
func (s *Service) Suppliers(ctx context.Context) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// CreateSupplier adds a supplier.
func (s *Service) CreateSupplier(ctx context.Context, sup Supplier) (Supplier, error) {
	if sup.Name == "" {
		return Supplier{}, fmt.Errorf("%w: supplier name required", ErrValidation)
	}
	id, err := s.repo.CreateSupplier(ctx, sup)
	if err != nil {
		return Supplier{}, err
	}
	sup.ID = id
	return sup, nil
}
