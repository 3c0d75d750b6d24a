// Package config loads the valuation daemon's runtime configuration.
// It generalizes the teacher's config.ReadConfig (an OCP_ENV/CONFIG_PATH
// selected JSON file, decoded into a bare map[string]interface{}) into a
// typed struct backed by spf13/viper, per SPEC_FULL.md §6, so the
// kernel's numeric defaults are validated once at startup instead of
// re-asserted out of an untyped map at every call site.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the valuation daemon's full runtime configuration.
type Config struct {
	ArtifactRoot         string  `mapstructure:"artifact_root"`
	DefaultCurveVariant  string  `mapstructure:"default_curve_variant"`
	DefaultDiscountRate  float64 `mapstructure:"default_discount_rate"`
	SeasoningRampHorizon int     `mapstructure:"seasoning_ramp_horizon"`
	ShockSigmaDefault    float64 `mapstructure:"shock_sigma_default"`
	ShockSigmaPrepay     float64 `mapstructure:"shock_sigma_prepay"`
	ShockRho             float64 `mapstructure:"shock_rho"`
	DefaultNumDraws      int     `mapstructure:"default_num_draws"`
	PoolSize             int     `mapstructure:"pool_size"`
	HTTPPort             int     `mapstructure:"http_port"`
	LogDir               string  `mapstructure:"log_dir"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("default_curve_variant", "")
	v.SetDefault("default_discount_rate", 0.055)
	v.SetDefault("seasoning_ramp_horizon", 30)
	v.SetDefault("shock_sigma_default", 0.15)
	v.SetDefault("shock_sigma_prepay", 0.08)
	v.SetDefault("shock_rho", 0.30)
	v.SetDefault("default_num_draws", 500)
	v.SetDefault("pool_size", 0) // 0 means "use runtime.NumCPU()"
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_dir", "./logs")
}

// Load reads configuration the way the teacher's config.ReadConfig
// does: OCP_ENV selects between a local "./config.json" and a
// CONFIG_PATH-prefixed deployment path, except here viper owns the
// decode/defaulting/env-override instead of a hand-rolled
// map[string]interface{} walk (see DESIGN.md).
func Load() (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigType("json")
	v.SetEnvPrefix("VALKERNEL")
	v.AutomaticEnv()

	configPathFile := "./config.json"
	if ocpEnv := os.Getenv("OCP_ENV"); ocpEnv != "" {
		configPathFile = os.Getenv("CONFIG_PATH") + "config.json"
	}
	v.SetConfigFile(configPathFile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPathFile, err)
		}
		// No config.json on disk: proceed on defaults + environment,
		// matching the daemon's ability to run purely off VALKERNEL_*
		// env vars in a container.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w", err)
	}
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = v.GetString("artifact_root")
	}
	return cfg, nil
}
