package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEffectiveStockSimpleProduct(t *testing.T) {
	p := Product{ID: 1, Quantity: 12}
	require.InDelta(t, 12, EffectiveStock(p, nil), 1e-9)
}

func TestEffectiveStockPair(t *testing.T) {
	parent := Product{ID: 1, IsBundle: true, BundleType: BundleTypeLeftRight}
	comps := []Component{
		{Product: Product{ID: 2, Quantity: 5}, Ratio: 1},
		{Product: Product{ID: 3, Quantity: 3}, Ratio: 1},
	}
	require.InDelta(t, 3, EffectiveStock(parent, comps), 1e-9)
}

func TestEffectiveStockSameKitWithRatio(t *testing.T) {
	parent := Product{ID: 1, IsBundle: true, BundleType: BundleTypeSame}
	comps := []Component{
		{Product: Product{ID: 2, Quantity: 9}, Ratio: 4},
	}
	// 9 units at ratio 4 per set gives 2 complete sets.
	require.InDelta(t, 2, EffectiveStock(parent, comps), 1e-9)
}

func TestEffectiveStockBundleWithoutComponents(t *testing.T) {
	parent := Product{ID: 1, IsBundle: true, BundleType: BundleTypeLeftRight, Quantity: 99}
	require.InDelta(t, 0, EffectiveStock(parent, nil), 1e-9)
}

func TestFanOutReceivePairSplitsQtyAndCost(t *testing.T) {
	parent := Product{ID: 1, SKU: "SHOCK-X", IsBundle: true, BundleType: BundleTypeLeftRight}
	comps := []Component{
		{Product: Product{ID: 2, SKU: "SHOCK-X-L"}, Ratio: 1},
		{Product: Product{ID: 3, SKU: "SHOCK-X-R"}, Ratio: 1},
	}
	receipts, err := FanOutReceive(parent, comps, 10, 3000)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	var totalQty, totalValue float64
	for _, rc := range receipts {
		require.InDelta(t, 10, rc.Qty, 1e-9)
		require.InDelta(t, 150, rc.UnitCost, 1e-9)
		totalQty += rc.Qty
		totalValue += rc.Qty * rc.UnitCost
	}
	require.InDelta(t, 20, totalQty, 1e-9)
	require.InDelta(t, 3000, totalValue, 1e-9)
}

func TestFanOutReceivePairRequiresTwoComponents(t *testing.T) {
	parent := Product{ID: 1, SKU: "SHOCK-X", IsBundle: true, BundleType: BundleTypeFrontRear}
	comps := []Component{{Product: Product{ID: 2}, Ratio: 1}}
	_, err := FanOutReceive(parent, comps, 1, 100)
	require.ErrorIs(t, err, ErrValidation)
}

func TestFanOutReceiveSameKit(t *testing.T) {
	parent := Product{ID: 1, SKU: "SPOKE-SET", IsBundle: true, BundleType: BundleTypeSame}
	comps := []Component{{Product: Product{ID: 2, SKU: "SPOKE"}, Ratio: 36}}
	receipts, err := FanOutReceive(parent, comps, 2, 720)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.InDelta(t, 72, receipts[0].Qty, 1e-9)
	require.InDelta(t, 10, receipts[0].UnitCost, 1e-9)
}

func TestFanOutReceiveZeroCostKeepsZeroUnitCost(t *testing.T) {
	parent := Product{ID: 1, SKU: "P", IsBundle: true, BundleType: BundleTypeLeftRight}
	comps := []Component{
		{Product: Product{ID: 2}, Ratio: 1},
		{Product: Product{ID: 3}, Ratio: 1},
	}
	receipts, err := FanOutReceive(parent, comps, 5, 0)
	require.NoError(t, err)
	for _, rc := range receipts {
		require.Zero(t, rc.UnitCost)
	}
}

func TestFanOutReceiveRejectsNonBundle(t *testing.T) {
	_, err := FanOutReceive(Product{ID: 1}, nil, 1, 10)
	require.ErrorIs(t, err, ErrNotBundle)
}

func TestFanOutIssuePrefersSnapshot(t *testing.T) {
	parent := Product{ID: 1, IsBundle: true, BundleType: BundleTypeLeftRight}
	snapshot := []SnapshotComponent{
		{ProductID: 2, SKU: "OLD-L", Qty: 1},
		{ProductID: 3, SKU: "OLD-R", Qty: 1},
	}
	// Live composition has since changed; the snapshot must still win.
	live := []Component{{Product: Product{ID: 9}, Ratio: 1}}
	issues := FanOutIssue(parent, snapshot, live, 2)
	require.Len(t, issues, 2)
	require.Equal(t, int64(2), issues[0].ProductID)
	require.Equal(t, int64(3), issues[1].ProductID)
	require.InDelta(t, 2, issues[0].Qty, 1e-9)
}

func TestFanOutIssueFallsBackToLive(t *testing.T) {
	parent := Product{ID: 1, IsBundle: true, BundleType: BundleTypeSame}
	live := []Component{{Product: Product{ID: 4}, Ratio: 12}}
	issues := FanOutIssue(parent, nil, live, 3)
	require.Len(t, issues, 1)
	require.Equal(t, int64(4), issues[0].ProductID)
	require.InDelta(t, 36, issues[0].Qty, 1e-9)
}

func TestFanOutIssueSimpleProduct(t *testing.T) {
	issues := FanOutIssue(Product{ID: 7}, nil, nil, 5)
	require.Len(t, issues, 1)
	require.Equal(t, int64(7), issues[0].ProductID)
	require.InDelta(t, 5, issues[0].Qty, 1e-9)
}

func TestSnapshotCapturesRatios(t *testing.T) {
	comps := []Component{
		{Product: Product{ID: 2, SKU: "A"}, Ratio: 0},
		{Product: Product{ID: 3, SKU: "B"}, Ratio: 4},
	}
	snap := Snapshot(comps)
	require.Len(t, snap, 2)
	require.InDelta(t, 1, snap[0].Qty, 1e-9)
	require.InDelta(t, 4, snap[1].Qty, 1e-9)
	require.Nil(t, Snapshot(nil))
}
