// Package hazard decomposes a leaf's all-causes survival curve and the
// APEX2 multiplier into the per-month marginal default/prepayment
// hazards the cash-flow projector consumes (spec §4.3).
package hazard

import (
	"log/slog"
	"math"

	"github.com/jiangshenghai57/loanvalkernel/apex2"
	"github.com/jiangshenghai57/loanvalkernel/loan"
	"github.com/jiangshenghai57/loanvalkernel/registry"
	"github.com/jiangshenghai57/loanvalkernel/valtypes"
)

// Month is one month's decomposed hazard/extra-principal output (spec §4.3).
type Month struct {
	DefaultHazard  float64 // h_default[t], always populated
	PrepayHazard   float64 // h_prepay[t], populated unless Mode == apex2
	ExtraPrincipal float64 // dollar amount, populated only when Mode == apex2
}

// AnnualToMonthly implements the glossary's CDR conversion: monthly = 1 - (1-CDR)^(1/12), the same closed form the
// teacher uses for CPR->SMM (amortization.ConvertCPRToSMM).
func AnnualToMonthly(annual float64) float64 {
	if annual <= 0 {
		return 0
	}
	return 1 - math.Pow(1-annual, 1.0/12.0)
}

// seasoningRamp implements spec §4.4's seasoning_ramp(a) = min(a/R, 1).
func seasoningRamp(ageMonths, horizon int) float64 {
	if horizon <= 0 {
		return 1
	}
	r := float64(ageMonths) / float64(horizon)
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// Decompose produces the monthly hazard/extra-principal schedule for a
// loan under a scenario, for months [1, remainingTerm], per the
// decomposition mode selected by cfg.PrepaySource (spec §4.3).
// scheduledPayment is used only in apex2 mode, to convert the extra-principal multiplier
// into a dollar amount (scheduled_payment * (multiplier-1) * ramp).
func Decompose(
	l loan.Loan,
	leafCurve registry.SurvivalCurve,
	tables apex2.Tables,
	scenario valtypes.Scenario,
	cfg valtypes.SimulationConfig,
	remainingTerm int,
	scheduledPayment float64,
	treasuryAt10Y float64,
	log *slog.Logger,
) []Month {
	out := make([]Month, remainingTerm+1) // 1-indexed; index 0 unused

	flatMonthlyCDR := AnnualToMonthly(cfg.FlatCDR)

	for t := 1; t <= remainingTerm; t++ {
		var m Month
		switch cfg.PrepaySource {
		case valtypes.PrepayStub:
			ramp := seasoningRamp(l.AgeMos+t, cfg.SeasoningRampHorizon)
			m.DefaultHazard = flatMonthlyCDR * ramp
			const baseAnnualCPR = 0.06 // typical residential base speed
			m.PrepayHazard = AnnualToMonthly(baseAnnualCPR) * ramp

		case valtypes.PrepayKMAll:
			hKM := kmHazardAt(leafCurve, l.AgeMos+t)
			alpha := cfg.KMDefaultShare
			m.DefaultHazard = alpha * hKM
			m.PrepayHazard = (1 - alpha) * hKM

		case valtypes.PrepayKMWithFlatDefault:
			hKM := kmHazardAt(leafCurve, l.AgeMos+t)
			m.DefaultHazard = flatMonthlyCDR
			prepay := hKM - flatMonthlyCDR
			if prepay < 0 {
				prepay = 0
			}
			m.PrepayHazard = prepay

		case valtypes.PrepayAPEX2:
			m.DefaultHazard = flatMonthlyCDR
			rateDeltaPct := (l.NoteRate*100 - treasuryAt10Y*100)
			if scenario.TreasuryCurve != nil {
				rateDeltaPct = l.NoteRate*100 - scenario.TreasuryCurve.RateAt(l.AgeMos+t)*100
			}
			mult := tables.Multiplier(l.CreditScore, l.HasScore(), rateDeltaPct, l.LTV*100, l.UnpaidBalance)
			ramp := seasoningRamp(l.AgeMos+t, cfg.SeasoningRampHorizon)
			extra := scheduledPayment * (mult - 1) * ramp
			if extra < 0 {
				extra = 0
			}
			m.ExtraPrincipal = extra

		default:
			if log != nil {
				log.Warn("hazard: unknown prepay source, defaulting to stub", "prepay_source", cfg.PrepaySource)
			}
			ramp := seasoningRamp(l.AgeMos+t, cfg.SeasoningRampHorizon)
			m.DefaultHazard = flatMonthlyCDR * ramp
			const baseAnnualCPR = 0.06 // same base speed as stub mode
			m.PrepayHazard = AnnualToMonthly(baseAnnualCPR) * ramp
		}

		m.DefaultHazard *= scenario.DefaultMult
		m.PrepayHazard *= scenario.PrepayMult
		m.ExtraPrincipal *= scenario.PrepayMult

		if m.DefaultHazard < 0 {
			m.DefaultHazard = 0
		}
		if m.PrepayHazard < 0 {
			m.PrepayHazard = 0
		}
		if sum := m.DefaultHazard + m.PrepayHazard; sum > 1 {
			scale := 1 / sum
			m.DefaultHazard *= scale
			m.PrepayHazard *= scale
		}

		out[t] = m
	}
	return out
}

// kmHazardAt returns the leaf's all-causes KM hazard at an absolute
// loan-age month, holding the last tabulated hazard flat past the
// curve's 360-month horizon (the extrapolation semantics past 360
// months are an explicit Open Question in spec §9; holding flat is
// this kernel's resolution, recorded in DESIGN.md).
func kmHazardAt(curve registry.SurvivalCurve, month int) float64 {
	if len(curve) == 0 {
		return 0
	}
	if month < 1 {
		return 0
	}
	if month >= len(curve) {
		month = len(curve) - 1
	}
	return curve.Hazard(month)
}
