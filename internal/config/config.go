// Package config loads and validates the engine run configuration.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/equityrun/internal/errs"
)

// Objective selects the optimizer objective function.
type Objective string

const (
	ObjectiveMaxSharpe           Objective = "max_sharpe"
	ObjectiveMinVariance         Objective = "min_variance"
	ObjectiveMaxQuadraticUtility Objective = "max_quadratic_utility"
	ObjectiveEfficientRisk       Objective = "efficient_risk"
	ObjectiveEfficientReturn     Objective = "efficient_return"
)

// Mode selects long-only or long/short portfolio construction.
type Mode string

const (
	ModeLongOnly  Mode = "long_only"
	ModeLongShort Mode = "long_short"
)

// Frequency selects the rebalance cadence.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// RegimeMethod selects the regime classification signal.
type RegimeMethod string

const (
	RegimeMethodSMA      RegimeMethod = "sma"
	RegimeMethodVIX      RegimeMethod = "vix"
	RegimeMethodCombined RegimeMethod = "combined"
)

// FactorsConfig controls factor score construction.
type FactorsConfig struct {
	ValueWeight    float64 `yaml:"value_weight"`
	QualityWeight  float64 `yaml:"quality_weight"`
	MomentumWeight float64 `yaml:"momentum_weight"`

	UseFactorRegimes bool    `yaml:"use_factor_regimes"`
	TiltStrength     float64 `yaml:"tilt_strength"`
	FFWindowMonths   int     `yaml:"ff_window_months"`
}

// OptimizerConfig controls the Black-Litterman posterior and the solver.
type OptimizerConfig struct {
	Objective    Objective `yaml:"objective"`
	Mode         Mode      `yaml:"mode"`
	LongExposure float64   `yaml:"long_exposure"`
	ShortExposure float64  `yaml:"short_exposure"`

	WeightMin float64 `yaml:"weight_min"`
	WeightMax float64 `yaml:"weight_max"`
	SectorCap float64 `yaml:"sector_cap"`

	RiskAversion    float64 `yaml:"risk_aversion"`
	AlphaScalar     float64 `yaml:"alpha_scalar"`
	RiskFreeRate    float64 `yaml:"risk_free_rate"`
	TargetVol       float64 `yaml:"target_vol"`
	TargetReturn    float64 `yaml:"target_return"`
	MinTargetSharpe float64 `yaml:"min_target_sharpe"`
}

// RegimeConfig controls regime detection and exposure scaling.
type RegimeConfig struct {
	UseAdjustment bool         `yaml:"use_adjustment"`
	Method        RegimeMethod `yaml:"method"`
	IndexSymbol   string       `yaml:"index_symbol"`

	RiskOffExposure float64 `yaml:"risk_off_exposure"`
	CautionExposure float64 `yaml:"caution_exposure"`
	RiskOnExposure  float64 `yaml:"risk_on_exposure"`
}

// MacroConfig controls the CAPE equilibrium scalar.
type MacroConfig struct {
	UseMacro   bool    `yaml:"use_macro"`
	CAPELow    float64 `yaml:"cape_low"`
	CAPEHigh   float64 `yaml:"cape_high"`
	ScalarLow  float64 `yaml:"scalar_low"`
	ScalarHigh float64 `yaml:"scalar_high"`
}

// BacktestConfig controls the walk-forward driver.
type BacktestConfig struct {
	Frequency   Frequency `yaml:"frequency"`
	TopN        int       `yaml:"top_n"`
	MinUniverse int       `yaml:"min_universe"`
	SlippageBps float64   `yaml:"slippage_bps"`
}

// DataConfig holds provider wiring for the optional live data stack.
type DataConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	CacheTTLHours int    `yaml:"cache_ttl_hours"`

	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`

	BreakerMaxFailures  uint32 `yaml:"breaker_max_failures"`
	BreakerCooldownSecs int    `yaml:"breaker_cooldown_secs"`
}

// Config is the immutable run configuration for the engine.
type Config struct {
	Factors   FactorsConfig   `yaml:"factors"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Regime    RegimeConfig    `yaml:"regime"`
	Macro     MacroConfig     `yaml:"macro"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Data      DataConfig      `yaml:"data"`
}

// Default returns the configuration with every option at its documented default.
func Default() Config {
	return Config{
		Factors: FactorsConfig{
			ValueWeight:    0.40,
			QualityWeight:  0.40,
			MomentumWeight: 0.20,
			TiltStrength:   0.5,
			FFWindowMonths: 12,
		},
		Optimizer: OptimizerConfig{
			Objective:     ObjectiveMaxSharpe,
			Mode:          ModeLongOnly,
			LongExposure:  1.0,
			ShortExposure: 0.0,
			WeightMin:     0.0,
			WeightMax:     0.30,
			SectorCap:     0.35,
			RiskAversion:  2.5,
			AlphaScalar:   0.02,
			RiskFreeRate:  0.04,
		},
		Regime: RegimeConfig{
			Method:          RegimeMethodCombined,
			IndexSymbol:     "SPY",
			RiskOffExposure: 0.50,
			CautionExposure: 0.75,
			RiskOnExposure:  1.00,
		},
		Macro: MacroConfig{
			CAPELow:    15,
			CAPEHigh:   35,
			ScalarLow:  1.20,
			ScalarHigh: 0.70,
		},
		Backtest: BacktestConfig{
			Frequency:   FrequencyMonthly,
			TopN:        50,
			MinUniverse: 5,
		},
		Data: DataConfig{
			CacheTTLHours:       24,
			RateLimitPerSec:     5,
			RateLimitBurst:      10,
			BreakerMaxFailures:  5,
			BreakerCooldownSecs: 30,
		},
	}
}

// Load reads a yaml config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every invariant the engine relies on.
func (c Config) Validate() error {
	fw := c.Factors
	if fw.ValueWeight < 0 || fw.QualityWeight < 0 || fw.MomentumWeight < 0 {
		return fmt.Errorf("%w: factor weights must be non-negative", errs.ErrConfigurationInvalid)
	}
	sum := fw.ValueWeight + fw.QualityWeight + fw.MomentumWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("%w: factor weights sum to %.6f, want 1.0", errs.ErrConfigurationInvalid, sum)
	}
	if fw.TiltStrength < 0 || fw.TiltStrength > 1 {
		return fmt.Errorf("%w: tilt_strength %.3f outside [0,1]", errs.ErrConfigurationInvalid, fw.TiltStrength)
	}
	if fw.FFWindowMonths <= 0 {
		return fmt.Errorf("%w: ff_window_months must be positive", errs.ErrConfigurationInvalid)
	}

	opt := c.Optimizer
	switch opt.Objective {
	case ObjectiveMaxSharpe, ObjectiveMinVariance, ObjectiveMaxQuadraticUtility,
		ObjectiveEfficientRisk, ObjectiveEfficientReturn:
	default:
		return fmt.Errorf("%w: unknown objective %q", errs.ErrConfigurationInvalid, opt.Objective)
	}
	if opt.WeightMin > opt.WeightMax {
		return fmt.Errorf("%w: weight_min %.3f exceeds weight_max %.3f", errs.ErrConfigurationInvalid, opt.WeightMin, opt.WeightMax)
	}
	if opt.SectorCap <= 0 {
		return fmt.Errorf("%w: sector_cap must be positive", errs.ErrConfigurationInvalid)
	}
	if opt.RiskAversion <= 0 {
		return fmt.Errorf("%w: risk_aversion must be positive", errs.ErrConfigurationInvalid)
	}
	switch opt.Mode {
	case ModeLongOnly:
		if opt.ShortExposure != 0 {
			return fmt.Errorf("%w: short_exposure must be 0 in long-only mode", errs.ErrConfigurationInvalid)
		}
		if opt.LongExposure <= 0 {
			return fmt.Errorf("%w: long_exposure must be positive", errs.ErrConfigurationInvalid)
		}
	case ModeLongShort:
		if opt.LongExposure <= 0 || opt.ShortExposure <= 0 {
			return fmt.Errorf("%w: long/short mode requires positive long and short exposure", errs.ErrConfigurationInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", errs.ErrConfigurationInvalid, opt.Mode)
	}
	if opt.Objective == ObjectiveEfficientRisk && opt.TargetVol <= 0 {
		return fmt.Errorf("%w: efficient_risk requires positive target_vol", errs.ErrConfigurationInvalid)
	}
	if opt.Objective == ObjectiveEfficientReturn && opt.TargetReturn == 0 {
		return fmt.Errorf("%w: efficient_return requires target_return", errs.ErrConfigurationInvalid)
	}

	reg := c.Regime
	switch reg.Method {
	case RegimeMethodSMA, RegimeMethodVIX, RegimeMethodCombined:
	default:
		return fmt.Errorf("%w: unknown regime method %q", errs.ErrConfigurationInvalid, reg.Method)
	}
	for _, e := range []float64{reg.RiskOffExposure, reg.CautionExposure, reg.RiskOnExposure} {
		if e < 0 || e > 1 {
			return fmt.Errorf("%w: regime exposures must lie in [0,1]", errs.ErrConfigurationInvalid)
		}
	}

	m := c.Macro
	if m.CAPELow >= m.CAPEHigh {
		return fmt.Errorf("%w: cape_low must be below cape_high", errs.ErrConfigurationInvalid)
	}

	bt := c.Backtest
	switch bt.Frequency {
	case FrequencyMonthly, FrequencyQuarterly:
	default:
		return fmt.Errorf("%w: unknown rebalance frequency %q", errs.ErrConfigurationInvalid, bt.Frequency)
	}
	if bt.TopN <= 0 {
		return fmt.Errorf("%w: top_n must be positive", errs.ErrConfigurationInvalid)
	}
	if bt.MinUniverse < 1 {
		return fmt.Errorf("%w: min_universe must be at least 1", errs.ErrConfigurationInvalid)
	}
	if bt.SlippageBps < 0 {
		return fmt.Errorf("%w: slippage_bps must be non-negative", errs.ErrConfigurationInvalid)
	}
	return nil
}

// NetExposure returns the configured net exposure for the optimizer budget.
func (o OptimizerConfig) NetExposure() float64 {
	return o.LongExposure - o.ShortExposure
}
