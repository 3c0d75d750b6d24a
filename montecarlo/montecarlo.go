// Package montecarlo repeats the cash-flow projector many times per
// scenario under correlated stochastic shocks, aggregates loan results
// to package level, and computes percentiles and ROE (spec §4.5).
package montecarlo

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/jiangshenghai57/loanvalkernel/cashflow"
	"github.com/jiangshenghai57/loanvalkernel/hazard"
	"github.com/jiangshenghai57/loanvalkernel/loan"
	"github.com/jiangshenghai57/loanvalkernel/registry"
	"github.com/jiangshenghai57/loanvalkernel/valerr"
	"github.com/jiangshenghai57/loanvalkernel/valtypes"
)

// PoolSize is the default worker-pool capacity for draw scheduling,
// the CPU count per spec §5, overridable via Driver.PoolSize.
func PoolSize() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// LeafOf resolves a loan's segmentation leaf id and the tier chain that
// produced it (spec §4.2's fallback-logging contract, surfaced on
// LoanValuationResult.Fallbacks).
type LeafOf func(loan.Loan) (leafID int, fallbacks []string)

// Driver runs the Monte Carlo loop described in spec §4.5.
type Driver struct {
	Reg           *registry.Registry
	Cfg           valtypes.SimulationConfig
	CFConfig      cashflow.Config
	PurchasePrice *float64 // when set, ROE fields are populated (spec §4.6)
	PoolSize      int
	Log           *slog.Logger
}

// mcJob is one (scenario, draw) unit of work.
type mcJob struct {
	scenarioIdx int
	scenario    valtypes.Scenario
	draw        int
}

// mcOutcome is one job's aggregated and per-loan result.
type mcOutcome struct {
	scenarioName string
	totalNPV     float64
	perLoan      map[string]loanDrawResult
}

type loanDrawResult struct {
	pv  float64
	wal float64
}

// expandSeed derives a 256-bit ChaCha8 seed from a 64-bit key via a
// splitmix64-style expansion, so every (scenario, draw) pair gets an
// independent, reproducible stream from one run seed (spec §9's
// "counter-based / seekable RNG" design note).
func expandSeed(key uint64) [32]byte {
	var out [32]byte
	x := key
	for i := 0; i < 4; i++ {
		x += 0x9E3779B97F4A7C15
		z := x
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z = z ^ (z >> 31)
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(z >> (uint(b) * 8))
		}
	}
	return out
}

// drawKey derives a deterministic, independent seed for one
// (scenario, draw) pair from the run seed.
func drawKey(seed uint64, scenarioIdx, draw int) uint64 {
	h := seed
	h = h*1099511628211 ^ uint64(scenarioIdx)
	h = h*1099511628211 ^ uint64(draw)
	return h
}

// shockStream produces the per-month common-factor Z draws shared by
// every loan in one (scenario, draw), plus per-loan idiosyncratic
// epsilon draws (spec §4.5). The same Z sequence must be shared within
// a draw; only epsilon is loan-specific.
type shockStream struct {
	z    []float64
	dist distuv.Normal
}

func newShockStream(seed uint64, horizon int) *shockStream {
	seedBytes := expandSeed(seed)
	src := rand.NewChaCha8(seedBytes)
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.New(src)}
	z := make([]float64, horizon+1)
	for t := range z {
		z[t] = dist.Rand()
	}
	return &shockStream{z: z, dist: dist}
}

func (s *shockStream) epsilon() float64 { return s.dist.Rand() }

// shockMultipliers builds the per-month (default,prepay) multiplier
// sequence for one loan in one draw (spec §4.5): each factor is
// exp(sigma*(rho*Z + sqrt(1-rho^2)*eps)), with prepayment loaded with
// the opposite sign of the common factor (rates down -> defaults down,
// prepayments up) and its own, typically smaller, sigma.
func shockMultipliers(cfg valtypes.SimulationConfig, stream *shockStream, horizon int) []cashflow.ShockMultiplier {
	out := make([]cashflow.ShockMultiplier, horizon+1)
	if !cfg.IncludeStochastic {
		for t := range out {
			out[t] = cashflow.ShockMultiplier{DefaultMult: 1, PrepayMult: 1}
		}
		return out
	}
	rho := cfg.ShockRho
	complement := 0.0
	if rho < 1 {
		complement = 1 - rho*rho
	}
	sqrtComplement := math.Sqrt(complement)
	for t := 0; t <= horizon && t < len(stream.z); t++ {
		eps := stream.epsilon()
		common := rho*stream.z[t] + sqrtComplement*eps
		out[t] = cashflow.ShockMultiplier{
			DefaultMult: math.Exp(cfg.ShockSigmaDefault * common),
			PrepayMult:  math.Exp(-cfg.ShockSigmaPrepay * common),
		}
	}
	return out
}

// roughScheduledPayment computes a loan's level payment directly, for
// converting APEX2's multiplier into an extra-principal dollar amount
// before the cash-flow projector has run. It intentionally duplicates cashflow's closed form at the
// package boundary rather than exporting an internal helper, since
// hazard decomposition must run before Project and cannot import it.
func roughScheduledPayment(l loan.Loan) float64 {
	r := l.NoteRate / 12.0
	n := float64(l.RemainingTermMos)
	if n <= 0 {
		return 0
	}
	if r == 0 {
		return l.UnpaidBalance / n
	}
	factor := math.Pow(1+r, n)
	return l.UnpaidBalance * (r * factor) / (factor - 1)
}

func weightOf(cfg valtypes.SimulationConfig, name string) float64 {
	if w, ok := cfg.ScenarioWeights[name]; ok {
		return w
	}
	return 1
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

// Run executes the full Monte Carlo loop for one package: for every
// enabled scenario, for every draw, for every loan, project cash flows
// under independent stochastic shocks, then aggregate to package and
// loan level (spec §4.5, §5). ctx carries the caller's
// cancellation/deadline: in-flight draws finish, no further draws are
// scheduled, and a Cancelled/Timeout result is returned rather than a
// partial aggregate (spec §5, §7).
func (d *Driver) Run(ctx context.Context, loans []loan.Loan, leafOf LeafOf) (valtypes.PackageValuationResult, error) {
	cfg := d.Cfg.Normalized()

	for _, l := range loans {
		if err := l.Validate(); err != nil {
			return valtypes.PackageValuationResult{}, err
		}
	}
	if len(cfg.Scenarios) == 0 {
		return valtypes.PackageValuationResult{}, valerr.New(valerr.InvalidInput, "simulation config lists no scenarios")
	}

	leafByLoan := make(map[string]int, len(loans))
	fallbacksByLoan := make(map[string][]string, len(loans))
	for _, l := range loans {
		leaf, fb := leafOf(l)
		leafByLoan[l.ID] = leaf
		fallbacksByLoan[l.ID] = fb
	}

	horizon := 0
	for _, l := range loans {
		if l.RemainingTermMos > horizon {
			horizon = l.RemainingTermMos
		}
	}

	var jobs []mcJob
	scenarioNames := make([]string, 0, len(cfg.Scenarios))
	for si, name := range cfg.Scenarios {
		sc, ok := d.Reg.Scenario(name)
		if !ok {
			return valtypes.PackageValuationResult{}, valerr.New(valerr.InvalidInput, "unknown scenario "+name)
		}
		scenarioNames = append(scenarioNames, name)
		for draw := 0; draw < cfg.NumDraws; draw++ {
			jobs = append(jobs, mcJob{scenarioIdx: si, scenario: sc, draw: draw})
		}
	}

	outcomes := make([]mcOutcome, len(jobs))

	// expectedMonthly is each loan's deterministic (no-shock) cash-flow
	// sequence under the first enabled scenario — the projector's
	// direct output per spec §8's "setting draws to 1 with stochastic
	// flag false... MUST yield deterministic NPV equal to the
	// projector's direct output" — and is what LoanValuationResult
	// reports as the expected monthly cash-flow sequence (spec §3).
	// Computed once per loan, outside the draw loop, since it does not
	// depend on the stochastic shocks.
	expectedMonthly := make(map[string][]valtypes.MonthlyCashFlow, len(loans))
	if len(scenarioNames) > 0 {
		baseScenario, _ := d.Reg.Scenario(scenarioNames[0])
		for _, l := range loans {
			leafID := leafByLoan[l.ID]
			curve, _ := d.Reg.Survival(leafID)

			discountRate := cfg.DiscountRate
			if baseScenario.DiscountRate != nil {
				discountRate = *baseScenario.DiscountRate
			}
			treasury10y := 0.0
			if baseScenario.TreasuryCurve != nil {
				treasury10y = baseScenario.TreasuryCurve.RateAt(120)
			}

			payment := roughScheduledPayment(l)
			months := hazard.Decompose(l, curve, d.Reg.APEX2(), baseScenario, cfg, l.RemainingTermMos, payment, treasury10y, d.Log)
			res, perr := cashflow.Project(l, months, discountRate, baseScenario.RecoveryMult, d.CFConfig, nil)
			if perr != nil {
				if d.Log != nil {
					d.Log.Error("montecarlo: expected-monthly projection failed", "loan_id", l.ID, "error", perr)
				}
				continue
			}
			expectedMonthly[l.ID] = res.Months
		}
	}

	poolSize := d.PoolSize
	if poolSize <= 0 {
		poolSize = PoolSize()
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return valtypes.PackageValuationResult{}, err
	}
	defer pool.Release()

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	cancelled := false
	completed := 0

	var seed uint64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			done := make(chan error, 1)
			submitErr := pool.Submit(func() {
				defer func() { done <- nil }()
				if gctx.Err() != nil {
					mu.Lock()
					cancelled = true
					mu.Unlock()
					return
				}

				key := drawKey(seed, j.scenarioIdx, j.draw)
				stream := newShockStream(key, horizon)

				perLoan := make(map[string]loanDrawResult, len(loans))
				total := 0.0
				for _, l := range loans {
					leafID := leafByLoan[l.ID]
					curve, _ := d.Reg.Survival(leafID)

					discountRate := cfg.DiscountRate
					if j.scenario.DiscountRate != nil {
						discountRate = *j.scenario.DiscountRate
					}
					treasury10y := 0.0
					if j.scenario.TreasuryCurve != nil {
						treasury10y = j.scenario.TreasuryCurve.RateAt(120)
					}

					payment := roughScheduledPayment(l)
					months := hazard.Decompose(l, curve, d.Reg.APEX2(), j.scenario, cfg, l.RemainingTermMos, payment, treasury10y, d.Log)
					shocks := shockMultipliers(cfg, stream, l.RemainingTermMos)

					res, perr := cashflow.Project(l, months, discountRate, j.scenario.RecoveryMult, d.CFConfig, shocks)
					if perr != nil {
						if d.Log != nil {
							d.Log.Error("montecarlo: loan projection failed", "loan_id", l.ID, "scenario", j.scenario.Name, "draw", j.draw, "error", perr)
						}
						continue
					}
					perLoan[l.ID] = loanDrawResult{pv: res.PresentValue, wal: res.WALYears}
					total += res.PresentValue
				}

				mu.Lock()
				outcomes[i] = mcOutcome{scenarioName: j.scenario.Name, totalNPV: total, perLoan: perLoan}
				completed++
				mu.Unlock()
			})
			if submitErr != nil {
				return submitErr
			}
			return <-done
		})
	}

	runErr := g.Wait()

	mu.Lock()
	n := completed
	wasCancelled := cancelled
	mu.Unlock()

	if runErr != nil {
		return valtypes.PackageValuationResult{}, runErr
	}
	if wasCancelled || ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return valtypes.PackageValuationResult{DrawsCompleted: n, TimedOut: true}, valerr.New(valerr.Timeout, "valuation deadline exceeded")
		}
		return valtypes.PackageValuationResult{DrawsCompleted: n, Cancelled: true}, valerr.New(valerr.Cancelled, "valuation cancelled")
	}

	result := d.aggregate(loans, scenarioNames, cfg, outcomes, leafByLoan, fallbacksByLoan, expectedMonthly)
	result.DrawsCompleted = n
	return result, nil
}

func (d *Driver) aggregate(
	loans []loan.Loan,
	scenarioNames []string,
	cfg valtypes.SimulationConfig,
	outcomes []mcOutcome,
	leafByLoan map[string]int,
	fallbacksByLoan map[string][]string,
	expectedMonthly map[string][]valtypes.MonthlyCashFlow,
) valtypes.PackageValuationResult {
	byScenario := make(map[string][]mcOutcome, len(scenarioNames))
	for _, o := range outcomes {
		byScenario[o.scenarioName] = append(byScenario[o.scenarioName], o)
	}

	weightSum := 0.0
	for _, name := range scenarioNames {
		weightSum += weightOf(cfg, name)
	}
	if weightSum == 0 {
		weightSum = 1
	}

	npvByScenario := make(map[string]float64, len(scenarioNames))
	var npvDistribution []float64
	expectedNPV := 0.0

	for _, name := range scenarioNames {
		group := byScenario[name]
		sum := 0.0
		for _, o := range group {
			sum += o.totalNPV
			npvDistribution = append(npvDistribution, o.totalNPV)
		}
		avg := 0.0
		if len(group) > 0 {
			avg = sum / float64(len(group))
		}
		npvByScenario[name] = avg
		expectedNPV += avg * (weightOf(cfg, name) / weightSum)
	}

	sortedNPV := append([]float64(nil), npvDistribution...)
	sort.Float64s(sortedNPV)

	var roeByScenario map[string]float64
	var roeDistribution []float64
	var roePercentiles valtypes.Percentiles
	if d.PurchasePrice != nil && *d.PurchasePrice > 0 {
		price := *d.PurchasePrice
		roeByScenario = make(map[string]float64, len(scenarioNames))
		for name, npv := range npvByScenario {
			roeByScenario[name] = (npv - price) / price
		}
		for _, npv := range npvDistribution {
			roeDistribution = append(roeDistribution, (npv-price)/price)
		}
		sortedROE := append([]float64(nil), roeDistribution...)
		sort.Float64s(sortedROE)
		roePercentiles = percentilesOf(sortedROE)
	}

	totalUPB := 0.0
	for _, l := range loans {
		totalUPB += l.UnpaidBalance
	}

	loanResults := make([]valtypes.LoanValuationResult, 0, len(loans))
	walWeightedSum := 0.0
	for _, l := range loans {
		pvByScenario := make(map[string]float64, len(scenarioNames))
		var pvDistribution []float64
		walSum, walCount := 0.0, 0
		expectedPV := 0.0

		for _, name := range scenarioNames {
			group := byScenario[name]
			sum := 0.0
			n := 0
			for _, o := range group {
				r, ok := o.perLoan[l.ID]
				if !ok {
					continue
				}
				sum += r.pv
				pvDistribution = append(pvDistribution, r.pv)
				walSum += r.wal
				walCount++
				n++
			}
			avg := 0.0
			if n > 0 {
				avg = sum / float64(n)
			}
			pvByScenario[name] = avg
			expectedPV += avg * (weightOf(cfg, name) / weightSum)
		}

		sortedPV := append([]float64(nil), pvDistribution...)
		sort.Float64s(sortedPV)

		walYears := 0.0
		if walCount > 0 {
			walYears = walSum / float64(walCount)
		}
		walWeightedSum += walYears * l.UnpaidBalance

		loanResults = append(loanResults, valtypes.LoanValuationResult{
			LoanID:          l.ID,
			LeafID:          leafByLoan[l.ID],
			ExpectedPV:      expectedPV,
			PVByScenario:    pvByScenario,
			PVDistribution:  sortedPV,
			Percentiles:     percentilesOf(sortedPV),
			ExpectedMonthly: expectedMonthly[l.ID],
			WALYears:        walYears,
			Fallbacks:       fallbacksByLoan[l.ID],
		})
	}

	packageWAL := 0.0
	if totalUPB > 0 {
		packageWAL = walWeightedSum / totalUPB
	}

	manifest := d.Reg.Manifest()

	return valtypes.PackageValuationResult{
		TotalUPB:        totalUPB,
		PurchasePrice:   d.PurchasePrice,
		NPVDistribution: sortedNPV,
		ExpectedNPV:     expectedNPV,
		NPVByScenario:   npvByScenario,
		ROEByScenario:   roeByScenario,
		ROEDistribution: roeDistribution,
		ROEPercentiles:  roePercentiles,
		NPVPercentiles:  percentilesOf(sortedNPV),
		WALYears:        packageWAL,
		LoanResults:     loanResults,
		Manifest:        manifest,
	}
}
