// Package ffregime derives per-factor tilts from trailing Fama-French factor
// returns. A factor running hot relative to its own history gets tilted up,
// a cold factor down, softened by a configurable strength.
package ffregime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/factors"
)

// Adjuster maps trailing HML and RMW behavior onto Value and Quality tilts.
// Momentum has no Fama-French analogue and stays neutral.
type Adjuster struct {
	provider data.MarketDataProvider
	cfg      config.FactorsConfig
	logger   zerolog.Logger
}

// New builds a factor-regime adjuster.
func New(provider data.MarketDataProvider, cfg config.FactorsConfig) *Adjuster {
	return &Adjuster{
		provider: provider,
		cfg:      cfg,
		logger:   log.With().Str("component", "ff_regime").Logger(),
	}
}

var _ factors.RegimeAdjuster = (*Adjuster)(nil)

// Tilts computes the softened per-factor tilts at asOf.
func (a *Adjuster) Tilts(ctx context.Context, asOf time.Time) (factors.Tilts, error) {
	window, err := a.provider.FFFactorWindow(ctx, asOf, a.cfg.FFWindowMonths)
	if err != nil {
		return factors.NeutralTilts(), fmt.Errorf("ff factor window: %w", err)
	}

	tilts := factors.NeutralTilts()
	if hml, ok := window[data.FFHML]; ok {
		tilts.Value = a.soften(rawTilt(trailingZ(hml)))
	}
	if rmw, ok := window[data.FFRMW]; ok {
		tilts.Quality = a.soften(rawTilt(trailingZ(rmw)))
	}

	a.logger.Debug().
		Float64("value_tilt", tilts.Value).
		Float64("quality_tilt", tilts.Quality).
		Time("as_of", asOf).
		Msg("Factor regime tilts")
	return tilts, nil
}

// trailingZ scores the trailing mean against the full-history distribution.
func trailingZ(s data.FFSeries) float64 {
	if len(s.Monthly) == 0 || s.HistStd == 0 || data.IsMissing(s.HistStd) {
		return 0
	}
	return (stat.Mean(s.Monthly, nil) - s.HistMean) / s.HistStd
}

// rawTilt maps a trailing z-score onto the piecewise tilt table.
func rawTilt(z float64) float64 {
	switch {
	case z >= 1.5:
		return 1.30
	case z >= 0.5:
		return 1.15
	case z <= -1.5:
		return 0.70
	case z <= -0.5:
		return 0.85
	default:
		return 1.00
	}
}

func (a *Adjuster) soften(raw float64) float64 {
	return 1 + a.cfg.TiltStrength*(raw-1)
}
