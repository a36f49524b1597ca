// Package regime classifies the market state at an as-of date from the
// benchmark index trend and the volatility term structure. Every read is
// bounded by the as-of date.
package regime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
)

// Regime is the discrete market-state label.
type Regime int

const (
	Unknown Regime = iota
	RiskOn
	Caution
	RiskOff
)

// String returns the canonical label.
func (r Regime) String() string {
	switch r {
	case RiskOn:
		return "risk_on"
	case Caution:
		return "caution"
	case RiskOff:
		return "risk_off"
	default:
		return "unknown"
	}
}

// smaWindow is the trading-day span of the trend signal.
const smaWindow = 200

// smaLookbackDays gives the provider enough calendar room to return
// smaWindow trading rows.
const smaLookbackDays = 320

// Result carries the classification with its per-signal breakdown.
type Result struct {
	Regime  Regime              `json:"regime"`
	Method  config.RegimeMethod `json:"method"`
	AsOf    time.Time           `json:"as_of"`
	Signals map[string]string   `json:"signals"`
	Close   float64             `json:"close,omitempty"`
	SMA     float64             `json:"sma,omitempty"`
	VIX     data.VIXStructure   `json:"vix,omitempty"`
}

// Detector classifies regimes from provider data.
type Detector struct {
	provider data.MarketDataProvider
	cfg      config.RegimeConfig
	logger   zerolog.Logger
}

// New builds a regime detector.
func New(provider data.MarketDataProvider, cfg config.RegimeConfig) *Detector {
	return &Detector{
		provider: provider,
		cfg:      cfg,
		logger:   log.With().Str("component", "regime").Logger(),
	}
}

// Classify returns the regime at asOf under the requested method.
func (d *Detector) Classify(ctx context.Context, asOf time.Time, method config.RegimeMethod) (Result, error) {
	result := Result{
		Method:  method,
		AsOf:    asOf,
		Signals: make(map[string]string),
	}

	switch method {
	case config.RegimeMethodSMA:
		regime, close, sma := d.smaRegime(ctx, asOf)
		result.Regime = regime
		result.Close = close
		result.SMA = sma
		result.Signals["sma"] = regime.String()
	case config.RegimeMethodVIX:
		regime, vix := d.vixRegime(ctx, asOf)
		result.Regime = regime
		result.VIX = vix
		result.Signals["vix"] = regime.String()
	case config.RegimeMethodCombined:
		smaRegime, close, sma := d.smaRegime(ctx, asOf)
		vixRegime, vix := d.vixRegime(ctx, asOf)
		result.Close = close
		result.SMA = sma
		result.VIX = vix
		result.Signals["sma"] = smaRegime.String()
		result.Signals["vix"] = vixRegime.String()
		result.Regime = combine(smaRegime, vixRegime)
	default:
		return Result{}, fmt.Errorf("unknown regime method %q", method)
	}

	d.logger.Debug().
		Str("method", string(method)).
		Str("regime", result.Regime.String()).
		Time("as_of", asOf).
		Msg("Regime classified")
	return result, nil
}

// combine merges the two signals: a volatility RiskOff always wins, full
// agreement on RiskOn passes through, disagreement is Caution, and a missing
// signal defers to the other.
func combine(sma, vix Regime) Regime {
	switch {
	case sma == Unknown && vix == Unknown:
		return Unknown
	case sma == Unknown:
		return vix
	case vix == Unknown:
		return sma
	case vix == RiskOff:
		return RiskOff
	case sma == RiskOn && vix == RiskOn:
		return RiskOn
	default:
		return Caution
	}
}

func (d *Detector) smaRegime(ctx context.Context, asOf time.Time) (Regime, float64, float64) {
	series, err := d.provider.IndexHistory(ctx, d.cfg.IndexSymbol, asOf, smaLookbackDays)
	if err != nil {
		d.logger.Debug().Err(err).Msg("Index history unavailable for SMA signal")
		return Unknown, 0, 0
	}
	if series.Len() < smaWindow {
		return Unknown, 0, 0
	}

	window := series[series.Len()-smaWindow:]
	var sum float64
	for _, pt := range window {
		sum += pt.Close
	}
	sma := sum / float64(smaWindow)
	last := series.Last().Close

	if last > sma {
		return RiskOn, last, sma
	}
	return RiskOff, last, sma
}

func (d *Detector) vixRegime(ctx context.Context, asOf time.Time) (Regime, data.VIXStructure) {
	vix, err := d.provider.VIXStructure(ctx, asOf)
	if err != nil || !vix.Complete() {
		return Unknown, vix
	}

	switch {
	case vix.VIX9D > vix.VIX30D: // backwardation
		return RiskOff, vix
	case vix.VIX30D > vix.VIX3M:
		return Caution, vix
	default: // contango
		return RiskOn, vix
	}
}

// Exposure returns the configured equity exposure for a regime. Unknown maps
// to the RiskOn exposure.
func Exposure(r Regime, cfg config.RegimeConfig) float64 {
	switch r {
	case RiskOff:
		return cfg.RiskOffExposure
	case Caution:
		return cfg.CautionExposure
	default:
		return cfg.RiskOnExposure
	}
}
