package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSurvivalCurve_Hazard(t *testing.T) {
	c := SurvivalCurve{1.0, 0.98, 0.95, 0.90}
	require.InDelta(t, 0.02, c.Hazard(1), 1e-9)
	require.InDelta(t, 1-0.95/0.98, c.Hazard(2), 1e-9)
	require.Equal(t, 0.0, c.Hazard(0))
	require.Equal(t, 0.0, c.Hazard(10))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func buildArtifactRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "manifest.json"), `{
		"models": {"segmentation_tree": {"status": "real", "version": "1.0", "metrics": {"auc": 0.81}}},
		"curve_variants": {"base": "curves/base.csv"},
		"default_curve_variant": "base"
	}`)
	writeFile(t, filepath.Join(root, "curves", "base.csv"), "leaf_id,month,survival_prob\n1,0,1.0\n1,1,0.99\n1,2,0.97\n")
	writeFile(t, filepath.Join(root, "scenarios", "scenarios.json"), `[
		{"name": "base", "default_mult": 1.0, "prepay_mult": 1.0, "recovery_mult": 1.0}
	]`)
	for _, name := range []string{"credit_rates.json", "rate_delta_rates.json", "ltv_rates.json", "loan_size_rates.json"} {
		writeFile(t, filepath.Join(root, "apex2", name), `{"gte0": 1.0}`)
	}
	return root
}

func TestLoad_FullArtifactSet(t *testing.T) {
	root := buildArtifactRoot(t)
	reg, err := Load(root, "")
	require.NoError(t, err)
	require.Equal(t, "base", reg.CurveVariant())

	curve, ok := reg.Survival(1)
	require.True(t, ok)
	require.InDelta(t, 0.97, curve[2], 1e-9)

	require.Nil(t, reg.Tree())
	require.Nil(t, reg.Rules())

	sc, ok := reg.Scenario("base")
	require.True(t, ok)
	require.Equal(t, 1.0, sc.DefaultMult)

	manifest := reg.Manifest()
	require.Equal(t, "base", manifest.CurveVariant)
	require.Contains(t, manifest.Models, "segmentation_tree")
}

func TestLoad_UnknownCurveVariant(t *testing.T) {
	root := buildArtifactRoot(t)
	_, err := Load(root, "nonexistent")
	require.Error(t, err)
}

func TestHandle_StoreAndLoad(t *testing.T) {
	root := buildArtifactRoot(t)
	reg, err := Load(root, "base")
	require.NoError(t, err)

	var h Handle
	require.Nil(t, h.Load())
	h.Store(reg)
	require.Same(t, reg, h.Load())
}
