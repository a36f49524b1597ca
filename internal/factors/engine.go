// Package factors computes per-stock Value, Quality, and Momentum z-scores
// and the composite ranking score, with per-ticker audits.
package factors

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/universe"
)

// zClip bounds every standardized factor score.
const zClip = 3.0

// priceLookbackDays covers the two-year window momentum needs.
const priceLookbackDays = 730

// momentumLag is the trading-day offset for 12-month momentum.
const momentumLag = 252

// Tilts scales each z-column before the composite step.
type Tilts struct {
	Value    float64
	Quality  float64
	Momentum float64
}

// NeutralTilts returns the identity tilt.
func NeutralTilts() Tilts { return Tilts{Value: 1, Quality: 1, Momentum: 1} }

// RegimeAdjuster supplies factor tilts for an as-of date.
type RegimeAdjuster interface {
	Tilts(ctx context.Context, asOf time.Time) (Tilts, error)
}

// RawFactors holds the derived per-ticker inputs. Missing components carry
// the missing sentinel.
type RawFactors struct {
	FCFYield      float64 `json:"fcf_yield"`
	EarningsYield float64 `json:"earnings_yield"`
	ROIC          float64 `json:"roic"`
	GrossMargin   float64 `json:"gross_margin"`
	Momentum12M   float64 `json:"momentum_12m"`
}

// TickerScore is the standardized result for one ticker.
type TickerScore struct {
	Ticker           string             `json:"ticker"`
	ZValue           float64            `json:"z_value"`
	ZQuality         float64            `json:"z_quality"`
	ZMomentum        float64            `json:"z_momentum"`
	Total            float64            `json:"total"`
	Parts            map[string]float64 `json:"parts"`
	InsufficientData bool               `json:"insufficient_data"`
}

// ZSpread returns the sample standard deviation of the three z-components,
// the agreement measure behind view confidence.
func (s TickerScore) ZSpread() float64 {
	mean := (s.ZValue + s.ZQuality + s.ZMomentum) / 3
	var sum float64
	for _, z := range []float64{s.ZValue, s.ZQuality, s.ZMomentum} {
		sum += (z - mean) * (z - mean)
	}
	return math.Sqrt(sum / 2)
}

// Audit records everything that went into one ticker's score.
type Audit struct {
	Raw              RawFactors `json:"raw"`
	Imputed          []string   `json:"imputed,omitempty"`
	RawValue         float64    `json:"raw_value"`
	RawQuality       float64    `json:"raw_quality"`
	RawMomentum      float64    `json:"raw_momentum"`
	InsufficientData bool       `json:"insufficient_data"`
}

// Scores is the immutable factor result for one rebalance date.
type Scores struct {
	AsOf     time.Time              `json:"as_of"`
	ByTicker map[string]TickerScore `json:"by_ticker"`
	Audits   map[string]Audit       `json:"audits"`
	Stats    map[string]ColumnStats `json:"stats"`
	Tilts    Tilts                  `json:"tilts"`
	order    []string
}

// Get returns the score for ticker.
func (s Scores) Get(ticker string) (TickerScore, bool) {
	sc, ok := s.ByTicker[ticker]
	return sc, ok
}

// TopN returns the n highest composite scores, ties broken by ticker.
func (s Scores) TopN(n int) []string {
	ranked := make([]string, len(s.order))
	copy(ranked, s.order)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := s.ByTicker[ranked[i]], s.ByTicker[ranked[j]]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Ticker < b.Ticker
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// Engine scores a universe at an as-of date.
type Engine struct {
	provider data.MarketDataProvider
	cfg      config.FactorsConfig
	adjuster RegimeAdjuster
	logger   zerolog.Logger
}

// New builds a factor engine. adjuster may be nil for untilted scores.
func New(provider data.MarketDataProvider, cfg config.FactorsConfig, adjuster RegimeAdjuster) *Engine {
	return &Engine{
		provider: provider,
		cfg:      cfg,
		adjuster: adjuster,
		logger:   log.With().Str("component", "factor_engine").Logger(),
	}
}

// Score computes factor scores for every universe member at asOf. Per-ticker
// data problems never fail the call; affected tickers score zero and are
// flagged in their audit.
func (e *Engine) Score(ctx context.Context, u universe.Universe, asOf time.Time) (Scores, error) {
	n := len(u.Members)
	if n == 0 {
		return Scores{}, fmt.Errorf("score %s: %w", asOf.Format("2006-01-02"), errs.ErrInsufficientUniverse)
	}

	order := u.Tickers()
	raws := make([]RawFactors, n)
	insufficient := make([]bool, n)

	for i, ticker := range order {
		raw, err := e.rawFactors(ctx, ticker, asOf)
		if err != nil {
			e.logger.Debug().Str("ticker", ticker).Err(err).Msg("Raw factors unavailable")
			raws[i] = missingRaw()
			insufficient[i] = true
			continue
		}
		raws[i] = raw
	}

	// Sub-metric columns, excluding tickers with no data at all. Tickers with
	// partial data get the universe median for each absent sub-metric.
	columns := map[string][]float64{
		"fcf_yield":      column(raws, insufficient, func(r RawFactors) float64 { return r.FCFYield }),
		"earnings_yield": column(raws, insufficient, func(r RawFactors) float64 { return r.EarningsYield }),
		"roic":           column(raws, insufficient, func(r RawFactors) float64 { return r.ROIC }),
		"gross_margin":   column(raws, insufficient, func(r RawFactors) float64 { return r.GrossMargin }),
		"momentum_12m":   column(raws, insufficient, func(r RawFactors) float64 { return r.Momentum12M }),
	}
	medians := make(map[string]float64, len(columns))
	for name, col := range columns {
		medians[name] = Median(col)
	}

	audits := make(map[string]Audit, n)
	rawValue := make([]float64, n)
	rawQuality := make([]float64, n)
	rawMomentum := make([]float64, n)
	for i, ticker := range order {
		if insufficient[i] {
			rawValue[i], rawQuality[i], rawMomentum[i] = math.NaN(), math.NaN(), math.NaN()
			audits[ticker] = Audit{Raw: raws[i], InsufficientData: true}
			continue
		}
		filled, imputed := impute(raws[i], medians)
		rawValue[i] = 0.5*filled.FCFYield + 0.5*filled.EarningsYield
		rawQuality[i] = 0.5*filled.ROIC + 0.5*filled.GrossMargin
		rawMomentum[i] = filled.Momentum12M
		audits[ticker] = Audit{
			Raw:         raws[i],
			Imputed:     imputed,
			RawValue:    rawValue[i],
			RawQuality:  rawQuality[i],
			RawMomentum: rawMomentum[i],
		}
	}

	rawValue = Winsorize(rawValue, 0.01, 0.99)
	rawQuality = Winsorize(rawQuality, 0.01, 0.99)
	rawMomentum = Winsorize(rawMomentum, 0.01, 0.99)

	zValue, statsValue := ZScores(rawValue, zClip)
	zQuality, statsQuality := ZScores(rawQuality, zClip)
	zMomentum, statsMomentum := ZScores(rawMomentum, zClip)

	tilts := NeutralTilts()
	if e.adjuster != nil {
		t, err := e.adjuster.Tilts(ctx, asOf)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Factor regime tilts unavailable, staying neutral")
		} else {
			tilts = t
		}
	}

	byTicker := make(map[string]TickerScore, n)
	for i, ticker := range order {
		zv := zValue[i] * tilts.Value
		zq := zQuality[i] * tilts.Quality
		zm := zMomentum[i] * tilts.Momentum
		parts := map[string]float64{
			"value":    e.cfg.ValueWeight * zv,
			"quality":  e.cfg.QualityWeight * zq,
			"momentum": e.cfg.MomentumWeight * zm,
		}
		byTicker[ticker] = TickerScore{
			Ticker:           ticker,
			ZValue:           zv,
			ZQuality:         zq,
			ZMomentum:        zm,
			Total:            parts["value"] + parts["quality"] + parts["momentum"],
			Parts:            parts,
			InsufficientData: insufficient[i],
		}
	}

	return Scores{
		AsOf:     asOf,
		ByTicker: byTicker,
		Audits:   audits,
		Stats: map[string]ColumnStats{
			"value":    statsValue,
			"quality":  statsQuality,
			"momentum": statsMomentum,
		},
		Tilts: tilts,
		order: order,
	}, nil
}

// rawFactors derives the five raw inputs for one ticker.
func (e *Engine) rawFactors(ctx context.Context, ticker string, asOf time.Time) (RawFactors, error) {
	start := asOf.AddDate(0, 0, -priceLookbackDays)
	prices, err := e.provider.Prices(ctx, ticker, start, asOf)
	if err != nil {
		return RawFactors{}, fmt.Errorf("%w: prices: %v", errs.ErrInsufficientData, err)
	}
	if prices.Len() < data.MinPriceRows {
		return RawFactors{}, fmt.Errorf("%w: %d price rows, need %d", errs.ErrInsufficientData, prices.Len(), data.MinPriceRows)
	}

	fund, err := e.provider.Fundamentals(ctx, ticker, asOf)
	if err != nil {
		return RawFactors{}, fmt.Errorf("%w: fundamentals: %v", errs.ErrInsufficientData, err)
	}

	price := prices.Last().Close
	raw := missingRaw()

	if !data.IsMissing(fund.SharesOutstanding) && fund.SharesOutstanding > 0 && price > 0 {
		cap := fund.SharesOutstanding * price
		if !data.IsMissing(fund.FreeCashFlowTTM) {
			raw.FCFYield = fund.FreeCashFlowTTM / cap
		}
		if !data.IsMissing(fund.EBITTTM) {
			raw.EarningsYield = fund.EBITTTM / cap
		}
	}
	if !data.IsMissing(fund.EBITTTM) && !data.IsMissing(fund.TotalAssets) && !data.IsMissing(fund.CurrentLiabilities) {
		denom := fund.TotalAssets - fund.CurrentLiabilities
		if denom > 0 {
			raw.ROIC = fund.EBITTTM / denom
		}
	}
	if !data.IsMissing(fund.GrossProfitTTM) && !data.IsMissing(fund.RevenueTTM) && fund.RevenueTTM != 0 {
		raw.GrossMargin = fund.GrossProfitTTM / fund.RevenueTTM
	}
	if prices.Len() > momentumLag {
		base := prices[prices.Len()-1-momentumLag].Close
		if base > 0 {
			raw.Momentum12M = price/base - 1
		}
	}
	return raw, nil
}

func missingRaw() RawFactors {
	return RawFactors{
		FCFYield:      data.Missing(),
		EarningsYield: data.Missing(),
		ROIC:          data.Missing(),
		GrossMargin:   data.Missing(),
		Momentum12M:   data.Missing(),
	}
}

func column(raws []RawFactors, skip []bool, pick func(RawFactors) float64) []float64 {
	out := make([]float64, 0, len(raws))
	for i, r := range raws {
		if skip[i] {
			continue
		}
		out = append(out, pick(r))
	}
	return out
}

func impute(raw RawFactors, medians map[string]float64) (RawFactors, []string) {
	var imputed []string
	fill := func(v float64, name string) float64 {
		if !data.IsMissing(v) {
			return v
		}
		m := medians[name]
		if data.IsMissing(m) {
			return 0
		}
		imputed = append(imputed, name)
		return m
	}
	out := RawFactors{
		FCFYield:      fill(raw.FCFYield, "fcf_yield"),
		EarningsYield: fill(raw.EarningsYield, "earnings_yield"),
		ROIC:          fill(raw.ROIC, "roic"),
		GrossMargin:   fill(raw.GrossMargin, "gross_margin"),
		Momentum12M:   fill(raw.Momentum12M, "momentum_12m"),
	}
	return out, imputed
}
