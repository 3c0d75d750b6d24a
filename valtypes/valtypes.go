// Package valtypes holds the plain-data result and configuration types
// shared across the kernel's components (spec §3). They carry explicit
// optional fields (pointers) rather than untyped nulls, per §9.
package valtypes

// Scenario is a named stress parameter set (spec §3, §4.3-4.4).
type Scenario struct {
	Name           string         `json:"name"`
	DefaultMult    float64        `json:"default_mult"`
	PrepayMult     float64        `json:"prepay_mult"`
	RecoveryMult   float64        `json:"recovery_mult"`
	TreasuryCurve  *TreasuryCurve `json:"treasury_curve,omitempty"`
	DiscountRate   *float64       `json:"discount_rate,omitempty"` // overrides SimulationConfig.DiscountRate
}

// TreasuryCurve is a piecewise-linear treasury curve with pillar months
// {0,12,24,60} (spec §4.4).
type TreasuryCurve struct {
	PillarMonths []int     `json:"pillar_months"`
	PillarRates  []float64 `json:"pillar_rates"` // decimal, e.g. 0.045
}

// RateAt interpolates the treasury rate at an absolute month index,
// clamping to the first/last pillar outside the defined range.
func (c *TreasuryCurve) RateAt(month int) float64 {
	if c == nil || len(c.PillarMonths) == 0 {
		return 0
	}
	if len(c.PillarMonths) == 1 || month <= c.PillarMonths[0] {
		return c.PillarRates[0]
	}
	last := len(c.PillarMonths) - 1
	if month >= c.PillarMonths[last] {
		return c.PillarRates[last]
	}
	for i := 0; i < last; i++ {
		m0, m1 := c.PillarMonths[i], c.PillarMonths[i+1]
		if month >= m0 && month <= m1 {
			r0, r1 := c.PillarRates[i], c.PillarRates[i+1]
			frac := float64(month-m0) / float64(m1-m0)
			return r0 + frac*(r1-r0)
		}
	}
	return c.PillarRates[last]
}

// PrepaySource selects which decomposition feeds the projector's
// prepayment stream (spec §3, §4.3).
type PrepaySource string

const (
	PrepayStub              PrepaySource = "stub"
	PrepayKMAll              PrepaySource = "km_all"
	PrepayKMWithFlatDefault PrepaySource = "km_with_flat_default"
	PrepayAPEX2              PrepaySource = "apex2"
)

// SimulationConfig controls one Monte Carlo run (spec §3).
type SimulationConfig struct {
	NumDraws           int             `json:"num_draws"`
	Scenarios          []string        `json:"scenarios"`
	IncludeStochastic  bool            `json:"include_stochastic"`
	Seed               *uint64         `json:"seed,omitempty"`
	PrepaySource       PrepaySource    `json:"prepay_source"`
	DiscountRate       float64         `json:"discount_rate"`
	ScenarioWeights    map[string]float64 `json:"scenario_weights,omitempty"`
	ShockSigmaDefault  float64         `json:"shock_sigma_default"`
	ShockSigmaPrepay   float64         `json:"shock_sigma_prepay"`
	ShockRho           float64         `json:"shock_rho"`
	SeasoningRampHorizon int           `json:"seasoning_ramp_horizon"`
	FlatCDR            float64         `json:"flat_cdr"`
	KMDefaultShare     float64         `json:"km_default_share"` // alpha, km_all mode
	ServicingBps       float64         `json:"servicing_bps"`
	RecoveryRate       float64         `json:"recovery_rate"`
	ForeclosureDelayMos int            `json:"foreclosure_delay_months"`
}

// Normalized fills in the spec-mandated defaults: stochastic off forces
// N=1, and a missing ramp horizon defaults to 30 months.
func (c SimulationConfig) Normalized() SimulationConfig {
	out := c
	if !out.IncludeStochastic {
		out.NumDraws = 1
	}
	if out.NumDraws < 1 {
		out.NumDraws = 1
	}
	if out.SeasoningRampHorizon <= 0 {
		out.SeasoningRampHorizon = 30
	}
	if out.ShockSigmaDefault == 0 {
		out.ShockSigmaDefault = 0.15
	}
	if out.ShockRho == 0 {
		out.ShockRho = 0.30
	}
	if out.ShockSigmaPrepay == 0 {
		out.ShockSigmaPrepay = 0.08
	}
	return out
}

// MonthlyCashFlow is one month's projected cash flow for one draw (spec §3).
type MonthlyCashFlow struct {
	Month            int     `json:"month"`
	SurvivalProb     float64 `json:"survival_prob"`
	ScheduledPayment float64 `json:"scheduled_payment"`
	ExpectedPayment  float64 `json:"expected_payment"`
	DelinquencyProb  float64 `json:"delinquency_prob"`
	DefaultProb      float64 `json:"default_prob"`
	ExpectedLoss     float64 `json:"expected_loss"`
	ExpectedRecovery float64 `json:"expected_recovery"`
	ServicingCost    float64 `json:"servicing_cost"`
	NetCashFlow      float64 `json:"net_cash_flow"`
	DiscountFactor   float64 `json:"discount_factor"`
	PresentValue     float64 `json:"present_value"`
	ExpectedPrincipal float64 `json:"expected_principal"`
}

// Percentiles holds the canonical p5/p25/p50/p75/p95 cut points.
type Percentiles struct {
	P5  float64 `json:"p5"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P95 float64 `json:"p95"`
}

// LoanValuationResult is one loan's projection, aggregated across draws (spec §3).
type LoanValuationResult struct {
	LoanID           string              `json:"loan_id"`
	LeafID           int                 `json:"leaf_id"`
	ExpectedPV       float64             `json:"expected_pv"`
	PVByScenario     map[string]float64  `json:"pv_by_scenario"`
	PVDistribution   []float64           `json:"pv_distribution"`
	Percentiles      Percentiles         `json:"percentiles"`
	ExpectedMonthly  []MonthlyCashFlow   `json:"expected_monthly_cash_flows"`
	WALYears         float64             `json:"wal_years"`
	Fallbacks        []string            `json:"fallbacks,omitempty"`
	NumericIncident  string              `json:"numeric_incident,omitempty"`
}

// ModelManifestEntry describes one loaded model artifact (spec §3, §4.1).
type ModelManifestEntry struct {
	Name    string             `json:"name"`
	Version string             `json:"version"`
	Status  string             `json:"status"` // "real" or "stub"
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// ModelManifest is the full set of loaded model artifacts plus the
// selected curve variant, reported on every valuation result.
type ModelManifest struct {
	Models       map[string]ModelManifestEntry `json:"models"`
	CurveVariant string                        `json:"curve_variant"`
}

// PackageValuationResult aggregates loan results to the package level (spec §3).
type PackageValuationResult struct {
	TotalUPB         float64                        `json:"total_upb"`
	PurchasePrice    *float64                       `json:"purchase_price,omitempty"`
	NPVDistribution  []float64                      `json:"npv_distribution"`
	ExpectedNPV      float64                        `json:"expected_npv"`
	NPVByScenario    map[string]float64             `json:"npv_by_scenario"`
	ROEByScenario    map[string]float64             `json:"roe_by_scenario"`
	ROEDistribution  []float64                      `json:"roe_distribution,omitempty"`
	ROEPercentiles   Percentiles                    `json:"roe_percentiles,omitempty"`
	NPVPercentiles   Percentiles                    `json:"npv_percentiles"`
	WALYears         float64                        `json:"wal_years"`
	LoanResults      []LoanValuationResult          `json:"loan_results"`
	Manifest         ModelManifest                  `json:"manifest"`
	DrawsCompleted   int                            `json:"draws_completed"`
	Cancelled        bool                           `json:"cancelled"`
	TimedOut         bool                           `json:"timed_out"`
}

// BidConfig parameterizes the purchase-price ladder (spec §4.6).
type BidConfig struct {
	CenterPrice *float64 `json:"center_price,omitempty"` // defaults to round(UPB*0.90)
	Increment   float64  `json:"increment,omitempty"`    // defaults to 10000
	TargetROE   float64  `json:"target_roe"`
}

// BidRow is one price point on the bid ladder (spec §3, §4.6).
type BidRow struct {
	Price            float64     `json:"price"`
	ExpectedROE      float64     `json:"expected_roe"`
	AnnualizedROE    float64     `json:"annualized_roe"`
	ROEPercentiles   Percentiles `json:"roe_percentiles"`
	ProbROEAboveTarget float64   `json:"prob_roe_above_target"`
}
