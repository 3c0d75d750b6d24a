package valtypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreasuryCurve_RateAt(t *testing.T) {
	c := &TreasuryCurve{
		PillarMonths: []int{0, 12, 24, 60},
		PillarRates:  []float64{0.03, 0.035, 0.04, 0.045},
	}
	require.Equal(t, 0.03, c.RateAt(0))
	require.Equal(t, 0.045, c.RateAt(60))
	require.Equal(t, 0.045, c.RateAt(200)) // clamps past the last pillar
	require.Equal(t, 0.03, c.RateAt(-5))   // clamps before the first pillar

	mid := c.RateAt(18) // halfway between month 12 (0.035) and month 24 (0.04)
	require.InDelta(t, 0.0375, mid, 1e-9)
}

func TestTreasuryCurve_RateAt_Nil(t *testing.T) {
	var c *TreasuryCurve
	require.Equal(t, 0.0, c.RateAt(12))
}

func TestSimulationConfig_Normalized(t *testing.T) {
	cfg := SimulationConfig{IncludeStochastic: false, NumDraws: 500}
	out := cfg.Normalized()
	require.Equal(t, 1, out.NumDraws)
	require.Equal(t, 30, out.SeasoningRampHorizon)
	require.Equal(t, 0.15, out.ShockSigmaDefault)
	require.Equal(t, 0.30, out.ShockRho)
	require.Equal(t, 0.08, out.ShockSigmaPrepay)
}

func TestSimulationConfig_Normalized_PreservesExplicitStochasticDraws(t *testing.T) {
	cfg := SimulationConfig{IncludeStochastic: true, NumDraws: 1000, ShockSigmaDefault: 0.25}
	out := cfg.Normalized()
	require.Equal(t, 1000, out.NumDraws)
	require.Equal(t, 0.25, out.ShockSigmaDefault)
}
