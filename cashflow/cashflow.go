// Package cashflow projects one loan's monthly cash flows under a
// monthly state machine driven by hazards from package hazard, to the
// loan's remaining term (spec §4.4). It threads a scheduled-amortization
// loan through absorbing default/prepaid states while respecting the
// balance/amortization invariants of spec §8.
package cashflow

import (
	"math"

	financial "github.com/razorpay/go-financial"
	"github.com/razorpay/go-financial/enums/paymentperiod"

	"github.com/jiangshenghai57/loanvalkernel/hazard"
	"github.com/jiangshenghai57/loanvalkernel/loan"
	"github.com/jiangshenghai57/loanvalkernel/valerr"
	"github.com/jiangshenghai57/loanvalkernel/valtypes"
)

// JudicialStates lists the two-letter states whose foreclosure process
// is judicial (a longer timeline), per spec §4.4's "judicial vs
// non-judicial state" foreclosure-delay split. This is this kernel's
// own resolution of an artifact the spec describes but does not
// enumerate (see DESIGN.md).
var JudicialStates = map[string]bool{
	"NY": true, "NJ": true, "FL": true, "IL": true, "OH": true,
	"PA": true, "IN": true, "CT": true, "SC": true, "LA": true,
}

// Config carries the loss-severity and timing parameters the
// projector needs beyond what hazard.Month supplies (spec §4.4).
type Config struct {
	RecoveryRate                float64 // base recovery rate before scenario.recovery_mult
	LiquidationCostBps          float64 // basis points of property value consumed as liquidation cost
	ServicingBps                float64 // annual servicing fee, basis points of balance
	ForeclosureDelayNonJudicial int
	ForeclosureDelayJudicial    int
	Cure30, Roll30              float64 // delinquent30 cure/roll-to-60 probabilities (informational; spec §4.4 state machine)
	Cure60, Roll60              float64 // delinquent60 cure/roll-to-90 probabilities
	Cure90, RollToDefault       float64 // delinquent90 cure/roll-to-default probabilities
}

// DefaultConfig returns the kernel's calibration defaults. The exact
// cure/roll rates and loss-severity parameters are not specified in
// spec.md, and original_source/ carries no files for this pack (see
// DESIGN.md): these values are this kernel's own resolution, chosen to
// be internally consistent (every bucket's cure+roll <= 1).
func DefaultConfig() Config {
	return Config{
		RecoveryRate:                0.65,
		LiquidationCostBps:          600,
		ServicingBps:                25,
		ForeclosureDelayNonJudicial: 8,
		ForeclosureDelayJudicial:    18,
		Cure30:                      0.35, Roll30: 0.20,
		Cure60: 0.20, Roll60: 0.25,
		Cure90: 0.10, RollToDefault: 0.15,
	}
}

// Result is one loan's deterministic (expected-value) projection under
// one scenario, before Monte Carlo shocks are applied (spec §4.4).
type Result struct {
	Months           []valtypes.MonthlyCashFlow
	PresentValue     float64
	WALYears         float64
	ScheduledPayment float64
}

func foreclosureDelay(cfg Config, state string) int {
	if JudicialStates[state] {
		return cfg.ForeclosureDelayJudicial
	}
	return cfg.ForeclosureDelayNonJudicial
}

// scheduledPayment computes the level monthly payment via
// razorpay/go-financial's Pmt, finishing the wiring the teacher's own
// amortization/go.mod declared but never called (amortization.go hand-rolls
// the same formula instead; see DESIGN.md). Pmt is a scalar function;
// the payment-period enum lives in the enums/paymentperiod subpackage.
func scheduledPayment(balance, monthlyRate float64, remainingTerm int) float64 {
	if remainingTerm <= 0 {
		return 0
	}
	if monthlyRate == 0 {
		return balance / float64(remainingTerm)
	}
	pmt := financial.Pmt(monthlyRate, int64(remainingTerm), -balance, 0, paymentperiod.ENDOFPERIOD)
	return math.Abs(pmt)
}

func roundToCent(v float64) float64 {
	return math.Round(v*100) / 100
}

// ShockMultiplier is the Monte Carlo driver's per-month stochastic
// shock applied to this loan's hazards for one draw (spec §4.5).
type ShockMultiplier struct {
	DefaultMult float64
	PrepayMult  float64
}

// Project runs the deterministic state machine for one loan, one
// scenario, to the loan's remaining term, applying the hazard/extra-
// principal schedule from package hazard and discounting at
// discountRateAnnual (spec §4.4). shockMultipliers, when non-nil, must
// be indexable to remainingTerm and scales (defaultMult, prepayMult)
// the hazards for months [1,remainingTerm] — the Monte Carlo driver's
// per-draw stochastic shock hook (spec §4.5); callers doing a pure
// expected-value projection pass nil. recoveryMult is the scenario's
// recovery-severity multiplier (spec §4.3 "Scenario application").
func Project(
	l loan.Loan,
	months []hazard.Month,
	discountRateAnnual float64,
	recoveryMult float64,
	cfg Config,
	shockMultipliers []ShockMultiplier,
) (Result, error) {
	if l.UnpaidBalance <= 0 || l.RemainingTermMos < 1 {
		return Result{}, valerr.New(valerr.InvalidInput, "balance and remaining term must be positive").WithLoan(l.ID)
	}

	remainingTerm := l.RemainingTermMos
	monthlyRate := l.NoteRate / 12.0
	payment := roundToCent(scheduledPayment(l.UnpaidBalance, monthlyRate, remainingTerm))
	discountMonthly := discountRateAnnual / 12.0

	delay := foreclosureDelay(cfg, l.PropertyStateOrDefault())
	pending := make([]float64, remainingTerm+delay+2)

	recoveryRateAdjusted := cfg.RecoveryRate * recoveryMult
	if recoveryRateAdjusted > 1 {
		recoveryRateAdjusted = 1
	}
	recoveryFracOfDefault := 0.0
	if l.LTV > 0 {
		liquidationFrac := cfg.LiquidationCostBps / 10000.0
		recoveryFracOfDefault = (recoveryRateAdjusted - liquidationFrac) / l.LTV
		if recoveryFracOfDefault < 0 {
			recoveryFracOfDefault = 0
		}
	}

	out := make([]valtypes.MonthlyCashFlow, 0, remainingTerm)

	eb := l.UnpaidBalance // expected outstanding balance (pool convention, teacher-style)
	survivalProb := 1.0

	sumPrincipal := 0.0
	walWeightedSum := 0.0

	for t := 1; t <= remainingTerm && eb > 1e-9; t++ {
		hd := months[t].DefaultHazard
		hp := months[t].PrepayHazard
		extra := months[t].ExtraPrincipal
		if shockMultipliers != nil && t < len(shockMultipliers) {
			hd *= shockMultipliers[t].DefaultMult
			hp *= shockMultipliers[t].PrepayMult
			if hd+hp > 1 {
				scale := 1 / (hd + hp)
				hd *= scale
				hp *= scale
			}
		}

		survivalProbAtStart := survivalProb

		interest := eb * monthlyRate
		schedPrincipal := payment - interest
		if schedPrincipal > eb {
			schedPrincipal = eb
		}
		if schedPrincipal < 0 {
			schedPrincipal = 0
		}
		if t == remainingTerm {
			schedPrincipal = eb // final contractual month retires any cent-rounding residual
		}
		schedBal := eb - schedPrincipal

		defaultAmt := hd * schedBal
		prepayAmt := hp * (schedBal - defaultAmt)
		remAfterHazards := schedBal - defaultAmt - prepayAmt
		extraAmt := extra
		if extraAmt > remAfterHazards {
			extraAmt = remAfterHazards
		}
		if extraAmt < 0 {
			extraAmt = 0
		}

		nextEB := remAfterHazards - extraAmt
		if nextEB < 0 {
			nextEB = 0
		}

		pending[t+delay] += defaultAmt
		recoveryCash := pending[t] * recoveryFracOfDefault

		servicingCost := eb * (cfg.ServicingBps / 10000.0) / 12.0
		expectedLoss := defaultAmt * (1 - recoveryRateAdjusted)

		netCashFlow := interest + schedPrincipal + prepayAmt + extraAmt + recoveryCash - expectedLoss - servicingCost
		discountFactor := 1.0 / math.Pow(1+discountMonthly, float64(t))
		pv := netCashFlow * discountFactor

		expectedPrincipal := schedPrincipal + prepayAmt + extraAmt
		sumPrincipal += expectedPrincipal
		walWeightedSum += float64(t) * expectedPrincipal

		out = append(out, valtypes.MonthlyCashFlow{
			Month:             t,
			SurvivalProb:      survivalProbAtStart,
			ScheduledPayment:  payment,
			ExpectedPayment:   interest + schedPrincipal,
			DelinquencyProb:   0, // delinquency buckets are not modelled; always 0
			DefaultProb:       hd,
			ExpectedLoss:      expectedLoss,
			ExpectedRecovery:  recoveryCash,
			ServicingCost:     servicingCost,
			NetCashFlow:       netCashFlow,
			DiscountFactor:    discountFactor,
			PresentValue:      pv,
			ExpectedPrincipal: expectedPrincipal,
		})

		eb = nextEB
		survivalProb = survivalProbAtStart * (1 - hd - hp)
	}

	// Any recovery maturing after the projection horizon is left
	// unbooked: a pool priced at acquisition is not re-underwritten past
	// its own remaining term, so foreclosures entered in the loan's
	// final months simply carry no realized recovery in this result.

	pv := 0.0
	for _, m := range out {
		pv += m.PresentValue
	}

	walYears := 0.0
	if sumPrincipal > 0 {
		walYears = (walWeightedSum / sumPrincipal) / 12.0
	}

	return Result{Months: out, PresentValue: pv, WALYears: walYears, ScheduledPayment: payment}, nil
}
