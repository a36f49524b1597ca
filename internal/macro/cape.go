// Package macro maps the Shiller CAPE level to a scalar multiplier on
// equilibrium returns.
package macro

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
)

// Adjuster computes the CAPE equilibrium scalar at an as-of date.
type Adjuster struct {
	provider data.MarketDataProvider
	cfg      config.MacroConfig
	logger   zerolog.Logger
}

// New builds a CAPE adjuster.
func New(provider data.MarketDataProvider, cfg config.MacroConfig) *Adjuster {
	return &Adjuster{
		provider: provider,
		cfg:      cfg,
		logger:   log.With().Str("component", "macro").Logger(),
	}
}

// Scalar returns the equilibrium multiplier for asOf. A missing CAPE reading
// is neutral, never an error.
func (a *Adjuster) Scalar(ctx context.Context, asOf time.Time) float64 {
	cape, err := a.provider.CAPE(ctx, asOf)
	if err != nil {
		a.logger.Debug().Time("as_of", asOf).Msg("CAPE unavailable, scalar neutral")
		return 1.0
	}
	s := ScalarFor(cape, a.cfg)
	a.logger.Debug().Float64("cape", cape).Float64("scalar", s).Msg("CAPE scalar")
	return s
}

// ScalarFor interpolates the scalar for a CAPE level against the configured
// thresholds.
func ScalarFor(cape float64, cfg config.MacroConfig) float64 {
	switch {
	case cape <= cfg.CAPELow:
		return cfg.ScalarLow
	case cape >= cfg.CAPEHigh:
		return cfg.ScalarHigh
	default:
		frac := (cape - cfg.CAPELow) / (cfg.CAPEHigh - cfg.CAPELow)
		return cfg.ScalarLow + frac*(cfg.ScalarHigh-cfg.ScalarLow)
	}
}
