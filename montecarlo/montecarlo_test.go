package montecarlo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiangshenghai57/loanvalkernel/loan"
	"github.com/jiangshenghai57/loanvalkernel/registry"
	"github.com/jiangshenghai57/loanvalkernel/valtypes"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "manifest.json"), `{
		"models": {"segmentation_tree": {"status": "stub", "version": "0.0"}},
		"curve_variants": {"base": "curves/base.csv"},
		"default_curve_variant": "base"
	}`)
	writeFile(t, filepath.Join(root, "curves", "base.csv"), "leaf_id,month,survival_prob\n1,0,1.0\n1,12,0.95\n1,24,0.9\n")
	writeFile(t, filepath.Join(root, "scenarios", "scenarios.json"), `[
		{"name": "base", "default_mult": 1.0, "prepay_mult": 1.0, "recovery_mult": 1.0},
		{"name": "stress", "default_mult": 2.0, "prepay_mult": 0.7, "recovery_mult": 0.8}
	]`)
	for _, name := range []string{"credit_rates.json", "rate_delta_rates.json", "ltv_rates.json", "loan_size_rates.json"} {
		writeFile(t, filepath.Join(root, "apex2", name), `{"gte0": 1.0}`)
	}
	reg, err := registry.Load(root, "")
	require.NoError(t, err)
	return reg
}

func testLoans() []loan.Loan {
	return []loan.Loan{
		{ID: "L1", UnpaidBalance: 200000, NoteRate: 0.06, OriginalTermMos: 360, RemainingTermMos: 120, LTV: 0.8, CreditScore: 720},
		{ID: "L2", UnpaidBalance: 150000, NoteRate: 0.055, OriginalTermMos: 360, RemainingTermMos: 200, LTV: 0.7, CreditScore: 680},
	}
}

func alwaysLeaf1(loan.Loan) (int, []string) { return 1, nil }

func TestDriver_Run_Deterministic(t *testing.T) {
	reg := testRegistry(t)
	driver := &Driver{
		Reg: reg,
		Cfg: valtypes.SimulationConfig{
			NumDraws: 1, Scenarios: []string{"base"}, IncludeStochastic: false,
			PrepaySource: valtypes.PrepayStub, DiscountRate: 0.05, FlatCDR: 0.04,
		},
	}
	result, err := driver.Run(context.Background(), testLoans(), alwaysLeaf1)
	require.NoError(t, err)
	require.Equal(t, 1, result.DrawsCompleted)
	require.Len(t, result.LoanResults, 2)
	require.Greater(t, result.ExpectedNPV, 0.0)
	require.Equal(t, 350000.0, result.TotalUPB)
	for _, lr := range result.LoanResults {
		require.NotEmpty(t, lr.ExpectedMonthly)
	}
}

func TestDriver_Run_SameSeedIsReproducible(t *testing.T) {
	reg := testRegistry(t)
	seed := uint64(42)
	cfg := valtypes.SimulationConfig{
		NumDraws: 20, Scenarios: []string{"base"}, IncludeStochastic: true,
		Seed: &seed, PrepaySource: valtypes.PrepayStub, DiscountRate: 0.05, FlatCDR: 0.04,
	}
	d1 := &Driver{Reg: reg, Cfg: cfg, PoolSize: 2}
	d2 := &Driver{Reg: reg, Cfg: cfg, PoolSize: 4}

	r1, err := d1.Run(context.Background(), testLoans(), alwaysLeaf1)
	require.NoError(t, err)
	r2, err := d2.Run(context.Background(), testLoans(), alwaysLeaf1)
	require.NoError(t, err)

	require.InDelta(t, r1.ExpectedNPV, r2.ExpectedNPV, 1e-6)
}

func TestDriver_Run_MultiScenarioWeighting(t *testing.T) {
	reg := testRegistry(t)
	cfg := valtypes.SimulationConfig{
		NumDraws: 1, Scenarios: []string{"base", "stress"}, IncludeStochastic: false,
		PrepaySource: valtypes.PrepayStub, DiscountRate: 0.05, FlatCDR: 0.04,
		ScenarioWeights: map[string]float64{"base": 0.7, "stress": 0.3},
	}
	driver := &Driver{Reg: reg, Cfg: cfg}
	result, err := driver.Run(context.Background(), testLoans(), alwaysLeaf1)
	require.NoError(t, err)
	require.Contains(t, result.NPVByScenario, "base")
	require.Contains(t, result.NPVByScenario, "stress")
	require.Less(t, result.NPVByScenario["stress"], result.NPVByScenario["base"])
}

func TestDriver_Run_RejectsUnknownScenario(t *testing.T) {
	reg := testRegistry(t)
	driver := &Driver{Reg: reg, Cfg: valtypes.SimulationConfig{NumDraws: 1, Scenarios: []string{"nope"}}}
	_, err := driver.Run(context.Background(), testLoans(), alwaysLeaf1)
	require.Error(t, err)
}

func TestDriver_Run_CancelledContextReturnsCancelled(t *testing.T) {
	reg := testRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	driver := &Driver{
		Reg: reg,
		Cfg: valtypes.SimulationConfig{NumDraws: 50, Scenarios: []string{"base"}, IncludeStochastic: true,
			PrepaySource: valtypes.PrepayStub, DiscountRate: 0.05, FlatCDR: 0.04},
	}
	result, err := driver.Run(ctx, testLoans(), alwaysLeaf1)
	require.Error(t, err)
	require.True(t, result.Cancelled)
}

func TestDriver_Run_ROEWhenPurchasePriceSet(t *testing.T) {
	reg := testRegistry(t)
	price := 300000.0
	driver := &Driver{
		Reg:           reg,
		PurchasePrice: &price,
		Cfg: valtypes.SimulationConfig{NumDraws: 1, Scenarios: []string{"base"}, IncludeStochastic: false,
			PrepaySource: valtypes.PrepayStub, DiscountRate: 0.05, FlatCDR: 0.04},
	}
	result, err := driver.Run(context.Background(), testLoans(), alwaysLeaf1)
	require.NoError(t, err)
	require.Contains(t, result.ROEByScenario, "base")
	require.Equal(t, &price, result.PurchasePrice)
}

func TestDrawKey_DistinctPerScenarioAndDraw(t *testing.T) {
	a := drawKey(1, 0, 0)
	b := drawKey(1, 0, 1)
	c := drawKey(1, 1, 0)
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
}

func TestRun_RespectsDeadline(t *testing.T) {
	reg := testRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	driver := &Driver{
		Reg: reg,
		Cfg: valtypes.SimulationConfig{NumDraws: 200, Scenarios: []string{"base"}, IncludeStochastic: true,
			PrepaySource: valtypes.PrepayStub, DiscountRate: 0.05, FlatCDR: 0.04},
	}
	_, err := driver.Run(ctx, testLoans(), alwaysLeaf1)
	require.Error(t, err)
}
