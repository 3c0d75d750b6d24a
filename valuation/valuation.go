// Package valuation is the kernel's orchestration layer (spec §4.1-4.6,
// §6): it wires the registry, leaf assigner, hazard decomposer, and
// Monte Carlo driver into the single public entry point the transport
// layer calls, and shapes the final result plus the bid-price ladder.
package valuation

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/jiangshenghai57/loanvalkernel/cashflow"
	"github.com/jiangshenghai57/loanvalkernel/leafassign"
	"github.com/jiangshenghai57/loanvalkernel/loan"
	"github.com/jiangshenghai57/loanvalkernel/montecarlo"
	"github.com/jiangshenghai57/loanvalkernel/registry"
	"github.com/jiangshenghai57/loanvalkernel/valerr"
	"github.com/jiangshenghai57/loanvalkernel/valtypes"
)

// Service is the single stateless facade over one loaded Registry
// (spec §4.1, §9: the Registry handle is the only process-wide state,
// and it is immutable once published).
type Service struct {
	Handle   *registry.Handle
	CFConfig cashflow.Config
	PoolSize int
	Log      *slog.Logger
}

// NewService builds a Service with the cash-flow projector's default
// loss-severity calibration (spec §4.4).
func NewService(h *registry.Handle, log *slog.Logger) *Service {
	return &Service{Handle: h, CFConfig: cashflow.DefaultConfig(), Log: log}
}

func (s *Service) assigner(reg *registry.Registry) montecarlo.LeafOf {
	return func(l loan.Loan) (int, []string) {
		result := leafassign.Assign(reg.Tree(), reg.Rules(), l, s.Log)
		var fallbacks []string
		switch result.Tier {
		case "rules":
			fallbacks = []string{"tree"}
		case "hard_coded":
			fallbacks = []string{"tree", "rules"}
		}
		return result.LeafID, fallbacks
	}
}

// Value runs a full package valuation: leaf assignment, hazard
// decomposition, cash-flow projection, and Monte Carlo aggregation for
// every loan in the package, against the currently published Registry
// (spec §4.1-4.5). purchasePrice, when non-nil, enables the ROE fields
// on the result (spec §4.6).
func (s *Service) Value(ctx context.Context, loans []loan.Loan, cfg valtypes.SimulationConfig, purchasePrice *float64) (valtypes.PackageValuationResult, error) {
	reg := s.Handle.Load()
	if reg == nil {
		return valtypes.PackageValuationResult{}, valerr.New(valerr.MissingArtifact, "no model registry loaded")
	}

	driver := &montecarlo.Driver{
		Reg:           reg,
		Cfg:           cfg,
		CFConfig:      s.CFConfig,
		PurchasePrice: purchasePrice,
		PoolSize:      s.PoolSize,
		Log:           s.Log,
	}
	return driver.Run(ctx, loans, s.assigner(reg))
}

// DefaultCenterPrice implements spec §4.6's bid-ladder default: the
// package's total UPB rounded to the nearest dollar at a 90-cents-on-
// the-dollar clean price.
func DefaultCenterPrice(totalUPB float64) float64 {
	return math.Round(totalUPB * 0.90)
}

// DefaultIncrement is the bid ladder's default price step (spec §4.6).
const DefaultIncrement = 10000.0

// BidLadderSteps is the number of steps on either side of the center
// price (spec §4.6: i in [-10, +10]).
const BidLadderSteps = 10

// BidLadder runs the Monte Carlo valuation exactly once to obtain the
// package's NPV distribution (independent of purchase price, spec
// §4.6's opening line), then re-prices that single fixed distribution
// across the purchase-price ladder via RepriceLadder. This matches
// §1's description of the bid analysis as re-pricing a fixed NPV
// distribution, and avoids re-running the Monte Carlo loop once per
// ladder step.
func (s *Service) BidLadder(ctx context.Context, loans []loan.Loan, cfg valtypes.SimulationConfig, bc valtypes.BidConfig) ([]valtypes.BidRow, error) {
	reg := s.Handle.Load()
	if reg == nil {
		return nil, valerr.New(valerr.MissingArtifact, "no model registry loaded")
	}

	driver := &montecarlo.Driver{
		Reg:      reg,
		Cfg:      cfg,
		CFConfig: s.CFConfig,
		PoolSize: s.PoolSize,
		Log:      s.Log,
	}
	result, err := driver.Run(ctx, loans, s.assigner(reg))
	if err != nil {
		return nil, err
	}

	totalUPB := result.TotalUPB
	center := DefaultCenterPrice(totalUPB)
	if bc.CenterPrice != nil {
		center = *bc.CenterPrice
	}
	increment := bc.Increment
	if increment <= 0 {
		increment = DefaultIncrement
	}

	return RepriceLadder(result.NPVDistribution, result.WALYears, center, increment, bc.TargetROE), nil
}

// RepriceLadder is the pure re-pricing step of spec §4.6: given a
// package NPV distribution already computed (one value per (scenario,
// draw) pair) and its weighted-average life, it recovers ROE
// percentiles and bid-target probabilities across a 21-point price
// ladder without any further simulation. This is the operation
// `run_bid_analysis` exposes at the kernel's external boundary (spec
// §6): a host that already has an NPV distribution from a prior
// valuation call can re-price it directly.
func RepriceLadder(npvDistribution []float64, walYears float64, centerPrice, increment, targetROE float64) []valtypes.BidRow {
	if increment <= 0 {
		increment = DefaultIncrement
	}

	var rows []valtypes.BidRow
	for i := -BidLadderSteps; i <= BidLadderSteps; i++ {
		price := centerPrice + float64(i)*increment
		if price <= 0 {
			continue
		}

		roeDistribution := make([]float64, len(npvDistribution))
		sum := 0.0
		for j, npv := range npvDistribution {
			roe := (npv - price) / price
			roeDistribution[j] = roe
			sum += roe
		}

		expectedROE := 0.0
		if len(roeDistribution) > 0 {
			expectedROE = sum / float64(len(roeDistribution))
		}
		annualizedROE := annualize(expectedROE, walYears)

		probAbove := 0.0
		if len(roeDistribution) > 0 {
			count := 0
			for _, r := range roeDistribution {
				if r >= targetROE {
					count++
				}
			}
			probAbove = float64(count) / float64(len(roeDistribution))
		}

		sorted := append([]float64(nil), roeDistribution...)
		sort.Float64s(sorted)

		rows = append(rows, valtypes.BidRow{
			Price:              price,
			ExpectedROE:        expectedROE,
			AnnualizedROE:      annualizedROE,
			ROEPercentiles:     percentilesOf(sorted),
			ProbROEAboveTarget: probAbove,
		})
	}

	return rows
}

func percentilesOf(sorted []float64) valtypes.Percentiles {
	if len(sorted) == 0 {
		return valtypes.Percentiles{}
	}
	q := func(p float64) float64 { return stat.Quantile(p, stat.LinInterp, sorted, nil) }
	return valtypes.Percentiles{
		P5:  q(0.05),
		P25: q(0.25),
		P50: q(0.50),
		P75: q(0.75),
		P95: q(0.95),
	}
}

// annualize converts a holding-period ROE to an annualized rate using
// the pool's weighted-average life in years, per spec §4.6. A WAL of
// zero (a fully amortized or empty pool) reports the period return
// unannualized rather than dividing by zero.
func annualize(periodROE, walYears float64) float64 {
	if walYears <= 0 {
		return periodROE
	}
	base := 1 + periodROE
	if base <= 0 {
		return -1
	}
	return math.Pow(base, 1/walYears) - 1
}
