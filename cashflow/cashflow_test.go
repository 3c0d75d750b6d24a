package cashflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiangshenghai57/loanvalkernel/hazard"
	"github.com/jiangshenghai57/loanvalkernel/loan"
)

func baseLoan() loan.Loan {
	return loan.Loan{
		ID:               "L1",
		UnpaidBalance:    200000,
		NoteRate:         0.06,
		OriginalTermMos:  360,
		RemainingTermMos: 360,
		LTV:              0.8,
	}
}

func zeroHazardMonths(n int) []hazard.Month {
	return make([]hazard.Month, n+1)
}

func TestProject_ZeroHazard_AmortizesToZero(t *testing.T) {
	l := baseLoan()
	months := zeroHazardMonths(l.RemainingTermMos)
	res, err := Project(l, months, 0.055, 1.0, DefaultConfig(), nil)
	require.NoError(t, err)
	require.Len(t, res.Months, l.RemainingTermMos)
	last := res.Months[len(res.Months)-1]
	require.InDelta(t, 1, last.SurvivalProb, 1e-9) // no hazard, so no exits
	require.Greater(t, res.ScheduledPayment, 0.0)
	require.Greater(t, res.WALYears, 0.0)
}

func TestProject_RejectsNonPositiveBalance(t *testing.T) {
	l := baseLoan()
	l.UnpaidBalance = 0
	_, err := Project(l, zeroHazardMonths(1), 0.05, 1.0, DefaultConfig(), nil)
	require.Error(t, err)
}

func TestProject_SurvivalProbIsNonIncreasing(t *testing.T) {
	l := baseLoan()
	l.RemainingTermMos = 24
	months := make([]hazard.Month, 25)
	for t2 := 1; t2 <= 24; t2++ {
		months[t2] = hazard.Month{DefaultHazard: 0.002, PrepayHazard: 0.01}
	}
	res, err := Project(l, months, 0.05, 1.0, DefaultConfig(), nil)
	require.NoError(t, err)
	prev := 1.0
	for _, m := range res.Months {
		require.LessOrEqual(t, m.SurvivalProb, prev+1e-9)
		prev = m.SurvivalProb
	}
}

func TestProject_HigherDefaultHazardLowersPV(t *testing.T) {
	l := baseLoan()
	l.RemainingTermMos = 60
	low := make([]hazard.Month, 61)
	high := make([]hazard.Month, 61)
	for t2 := 1; t2 <= 60; t2++ {
		low[t2] = hazard.Month{DefaultHazard: 0.001}
		high[t2] = hazard.Month{DefaultHazard: 0.01}
	}
	resLow, err := Project(l, low, 0.05, 1.0, DefaultConfig(), nil)
	require.NoError(t, err)
	resHigh, err := Project(l, high, 0.05, 1.0, DefaultConfig(), nil)
	require.NoError(t, err)
	require.Less(t, resHigh.PresentValue, resLow.PresentValue)
}

func TestForeclosureDelay_JudicialVsNonJudicial(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, cfg.ForeclosureDelayJudicial, foreclosureDelay(cfg, "NY"))
	require.Equal(t, cfg.ForeclosureDelayNonJudicial, foreclosureDelay(cfg, "CA"))
}

func TestProject_ShockMultipliersScaleHazards(t *testing.T) {
	l := baseLoan()
	l.RemainingTermMos = 12
	months := make([]hazard.Month, 13)
	for t2 := 1; t2 <= 12; t2++ {
		months[t2] = hazard.Month{DefaultHazard: 0.005}
	}
	shocks := make([]ShockMultiplier, 13)
	for i := range shocks {
		shocks[i] = ShockMultiplier{DefaultMult: 3.0, PrepayMult: 1.0}
	}
	baseline, err := Project(l, months, 0.05, 1.0, DefaultConfig(), nil)
	require.NoError(t, err)
	shocked, err := Project(l, months, 0.05, 1.0, DefaultConfig(), shocks)
	require.NoError(t, err)
	require.Greater(t, baseline.Months[11].SurvivalProb, shocked.Months[11].SurvivalProb)
}
