package catalog

import (
	"fmt"
	"math"
)

// EffectiveStock computes the sellable quantity of a product. Simple
// products report their own balance. Bundle parents report the minimum
// number of complete sets their components can fulfil; a bundle without
// components has no sellable stock.
func EffectiveStock(p Product, components []Component) float64 {
	if !p.IsBundle {
		return p.Quantity
	}
	if len(components) == 0 {
		return 0
	}
	min := math.Inf(1)
	for _, c := range components {
		ratio := c.Ratio
		if ratio <= 0 {
			ratio = 1
		}
		sets := math.Floor(c.Product.Quantity / ratio)
		if sets < min {
			min = sets
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// ComponentReceipt is one component's share of a received bundle purchase.
type ComponentReceipt struct {
	ProductID int64
	SKU       string
	Qty       float64
	UnitCost  float64
}

// FanOutReceive distributes stockQty received bundle units (costing
// totalCost in aggregate) across the parent's components. L-R and F-R pairs
// split 1:1 across exactly two sides with cost halved per unit; SAME-type
// kits multiply by each component's per-unit ratio and spread cost evenly
// over the resulting component units.
func FanOutReceive(p Product, components []Component, stockQty, totalCost float64) ([]ComponentReceipt, error) {
	if !p.IsBundle {
		return nil, ErrNotBundle
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: bundle %s has no components", ErrValidation, p.SKU)
	}
	if stockQty <= 0 {
		return nil, fmt.Errorf("%w: non-positive receive quantity", ErrValidation)
	}

	switch p.BundleType {
	case BundleTypeLeftRight, BundleTypeFrontRear:
		if len(components) != 2 {
			return nil, fmt.Errorf("%w: pair bundle %s needs exactly two components, has %d", ErrValidation, p.SKU, len(components))
		}
		unitCost := 0.0
		if totalCost > 0 {
			unitCost = totalCost / stockQty / 2
		}
		out := make([]ComponentReceipt, 0, 2)
		for _, c := range components {
			out = append(out, ComponentReceipt{
				ProductID: c.Product.ID,
				SKU:       c.Product.SKU,
				Qty:       stockQty,
				UnitCost:  unitCost,
			})
		}
		return out, nil
	default:
		var totalUnits float64
		for _, c := range components {
			ratio := c.Ratio
			if ratio <= 0 {
				ratio = 1
			}
			totalUnits += stockQty * ratio
		}
		unitCost := 0.0
		if totalCost > 0 && totalUnits > 0 {
			unitCost = totalCost / totalUnits
		}
		out := make([]ComponentReceipt, 0, len(components))
		for _, c := range components {
			ratio := c.Ratio
			if ratio <= 0 {
				ratio = 1
			}
			out = append(out, ComponentReceipt{
				ProductID: c.Product.ID,
				SKU:       c.Product.SKU,
				Qty:       stockQty * ratio,
				UnitCost:  unitCost,
			})
		}
		return out, nil
	}
}

// ComponentIssue is one product-level decrement resolved from a sold line.
type ComponentIssue struct {
	ProductID int64
	Qty       float64
}

// FanOutIssue resolves the products a sold line depletes. The snapshot taken
// at sale time wins over the live component list so that historical
// documents stay reversible after the bundle is re-configured; the live list
// is only a fallback for legacy lines without a snapshot. Simple products
// deplete themselves.
func FanOutIssue(p Product, snapshot []SnapshotComponent, live []Component, qty float64) []ComponentIssue {
	if !p.IsBundle {
		return []ComponentIssue{{ProductID: p.ID, Qty: qty}}
	}
	if len(snapshot) > 0 {
		out := make([]ComponentIssue, 0, len(snapshot))
		for _, s := range snapshot {
			perUnit := s.Qty
			if perUnit <= 0 {
				perUnit = 1
			}
			out = append(out, ComponentIssue{ProductID: s.ProductID, Qty: qty * perUnit})
		}
		return out
	}
	out := make([]ComponentIssue, 0, len(live))
	for _, c := range live {
		ratio := c.Ratio
		if ratio <= 0 {
			ratio = 1
		}
		out = append(out, ComponentIssue{ProductID: c.Product.ID, Qty: qty * ratio})
	}
	return out
}

// Snapshot freezes the current component list of a bundle for storage on a
// transaction line.
func Snapshot(components []Component) []SnapshotComponent {
	if len(components) == 0 {
		return nil
	}
	out := make([]SnapshotComponent, 0, len(components))
	for _, c := range components {
		ratio := c.Ratio
		if ratio <= 0 {
			ratio = 1
		}
		out = append(out, SnapshotComponent{ProductID: c.Product.ID, SKU: c.Product.SKU, Qty: ratio})
	}
	return out
}
