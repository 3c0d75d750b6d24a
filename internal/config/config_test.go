package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withWorkingDir(t *testing.T, dir string) {
	t.Helper()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(cwd)) })
}

func TestLoad_Defaults_NoConfigFile(t *testing.T) {
	withWorkingDir(t, t.TempDir())
	os.Unsetenv("OCP_ENV")
	os.Unsetenv("CONFIG_PATH")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 0.055, cfg.DefaultDiscountRate)
	require.Equal(t, 30, cfg.SeasoningRampHorizon)
	require.Equal(t, 500, cfg.DefaultNumDraws)
	require.Equal(t, 8080, cfg.HTTPPort)
}

func TestLoad_LocalConfigFile(t *testing.T) {
	dir := t.TempDir()
	withWorkingDir(t, dir)
	os.Unsetenv("OCP_ENV")
	os.Unsetenv("CONFIG_PATH")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"artifact_root": "/artifacts",
		"default_curve_variant": "conservative",
		"http_port": 9090
	}`), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/artifacts", cfg.ArtifactRoot)
	require.Equal(t, "conservative", cfg.DefaultCurveVariant)
	require.Equal(t, 9090, cfg.HTTPPort)
}

func TestLoad_OCPEnvRedirectsConfigPath(t *testing.T) {
	dir := t.TempDir()
	withWorkingDir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"http_port": 1234}`), 0644))

	os.Setenv("OCP_ENV", "true")
	os.Setenv("CONFIG_PATH", dir+string(os.PathSeparator))
	t.Cleanup(func() {
		os.Unsetenv("OCP_ENV")
		os.Unsetenv("CONFIG_PATH")
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1234, cfg.HTTPPort)
}
