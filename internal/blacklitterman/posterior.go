// Package blacklitterman blends a market-cap equilibrium prior with
// factor-implied absolute views into a posterior return distribution.
package blacklitterman

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/errs"
	"github.com/sawpanic/equityrun/internal/factors"
)

// tau scales the uncertainty of the equilibrium prior.
const tau = 0.05

// confidence clamp keeps the Idzorek omega finite on both ends.
const (
	minConfidence = 0.01
	maxConfidence = 0.99
)

// View is an absolute expected-excess-return statement about one ticker.
type View struct {
	Ticker     string  `json:"ticker"`
	Q          float64 `json:"q"`
	Confidence float64 `json:"confidence"`
}

// Prior is the equilibrium block the posterior update starts from.
type Prior struct {
	Tickers       []string
	MarketWeights []float64
	Equilibrium   []float64
	Cov           *mat.SymDense
	Shrunk        bool
}

// Posterior carries the blended mean and covariance in prior ticker order.
type Posterior struct {
	Tickers []string
	Mean    []float64
	Cov     *mat.SymDense
	Views   []View
}

// Model builds priors, views, and posteriors under one optimizer config.
type Model struct {
	cfg    config.OptimizerConfig
	logger zerolog.Logger
}

// New builds a Black-Litterman model.
func New(cfg config.OptimizerConfig) *Model {
	return &Model{
		cfg:    cfg,
		logger: log.With().Str("component", "black_litterman").Logger(),
	}
}

// BuildPrior derives equilibrium excess returns pi = s * delta * Sigma * w_mkt
// from the cap weights of the optimization set. macroScalar is 1 when the
// macro adjustment is disabled.
func (m *Model) BuildPrior(tickers []string, caps map[string]float64, cov *mat.SymDense, shrunk bool, macroScalar float64) (Prior, error) {
	if len(tickers) == 0 {
		return Prior{}, fmt.Errorf("prior: %w", errs.ErrEmptyOptimizationSet)
	}
	n := len(tickers)
	if r, _ := cov.Dims(); r != n {
		return Prior{}, fmt.Errorf("prior: covariance is %dx%d for %d tickers", r, r, n)
	}

	var total float64
	weights := make([]float64, n)
	for i, t := range tickers {
		c := caps[t]
		if c <= 0 || math.IsNaN(c) {
			return Prior{}, fmt.Errorf("prior: market cap for %s: %w", t, errs.ErrDataUnavailable)
		}
		weights[i] = c
		total += c
	}
	for i := range weights {
		weights[i] /= total
	}

	pi := make([]float64, n)
	w := mat.NewVecDense(n, weights)
	var sw mat.VecDense
	sw.MulVec(cov, w)
	for i := 0; i < n; i++ {
		pi[i] = macroScalar * m.cfg.RiskAversion * sw.AtVec(i)
	}

	m.logger.Debug().
		Int("assets", n).
		Bool("shrunk", shrunk).
		Float64("macro_scalar", macroScalar).
		Msg("Equilibrium prior built")
	return Prior{
		Tickers:       tickers,
		MarketWeights: weights,
		Equilibrium:   pi,
		Cov:           cov,
		Shrunk:        shrunk,
	}, nil
}

// BuildViews creates one absolute view per ticker: the composite z-score
// scaled by the asset's volatility and the alpha scalar, with confidence from
// the agreement of the z-components.
func (m *Model) BuildViews(prior Prior, scores factors.Scores) []View {
	views := make([]View, len(prior.Tickers))
	for i, t := range prior.Tickers {
		sigma := math.Sqrt(prior.Cov.At(i, i))
		sc, ok := scores.Get(t)
		if !ok {
			views[i] = View{Ticker: t, Q: 0, Confidence: minConfidence}
			continue
		}
		views[i] = View{
			Ticker:     t,
			Q:          sc.Total * sigma * m.cfg.AlphaScalar,
			Confidence: confidenceFor(sc.ZSpread()),
		}
	}
	return views
}

// confidenceFor maps the z-component spread onto view confidence. Tight
// agreement earns high confidence.
func confidenceFor(d float64) float64 {
	switch {
	case d < 0.5:
		return 0.80
	case d < 1.0:
		return 0.60
	case d < 1.5:
		return 0.40
	default:
		return 0.20
	}
}

// Blend runs the Black-Litterman update with P = I and the Idzorek-style
// diagonal omega, returning the posterior mean and covariance.
func (m *Model) Blend(prior Prior, views []View) (Posterior, error) {
	n := len(prior.Tickers)
	if n == 0 {
		return Posterior{}, fmt.Errorf("posterior: %w", errs.ErrEmptyOptimizationSet)
	}
	if len(views) != n {
		return Posterior{}, fmt.Errorf("posterior: %d views for %d tickers", len(views), n)
	}

	// tauSigma inverse
	tauSigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			tauSigma.Set(i, j, tau*prior.Cov.At(i, j))
		}
	}
	var tauSigmaInv mat.Dense
	if err := tauSigmaInv.Inverse(tauSigma); err != nil {
		return Posterior{}, fmt.Errorf("posterior: invert tau-sigma: %w", errs.ErrCovarianceIllConditioned)
	}

	// omega inverse: omega_i = tau * Sigma_ii * (1 - c) / c
	omegaInv := make([]float64, n)
	q := make([]float64, n)
	for i, v := range views {
		c := v.Confidence
		if c < minConfidence {
			c = minConfidence
		}
		if c > maxConfidence {
			c = maxConfidence
		}
		omega := tau * prior.Cov.At(i, i) * (1 - c) / c
		omegaInv[i] = 1 / omega
		q[i] = v.Q
	}

	// M = [(tauSigma)^-1 + Omega^-1]^-1
	precision := mat.NewDense(n, n, nil)
	precision.CloneFrom(&tauSigmaInv)
	for i := 0; i < n; i++ {
		precision.Set(i, i, precision.At(i, i)+omegaInv[i])
	}
	var blend mat.Dense
	if err := blend.Inverse(precision); err != nil {
		return Posterior{}, fmt.Errorf("posterior: invert precision: %w", errs.ErrCovarianceIllConditioned)
	}

	// mu = M [ (tauSigma)^-1 pi + Omega^-1 q ]
	rhs := mat.NewVecDense(n, nil)
	piVec := mat.NewVecDense(n, prior.Equilibrium)
	var priorTerm mat.VecDense
	priorTerm.MulVec(&tauSigmaInv, piVec)
	for i := 0; i < n; i++ {
		rhs.SetVec(i, priorTerm.AtVec(i)+omegaInv[i]*q[i])
	}
	var mu mat.VecDense
	mu.MulVec(&blend, rhs)

	mean := make([]float64, n)
	for i := 0; i < n; i++ {
		mean[i] = mu.AtVec(i)
	}

	// Sigma_post = Sigma + M, symmetrized against inversion round-off
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			adj := (blend.At(i, j) + blend.At(j, i)) / 2
			cov.SetSym(i, j, prior.Cov.At(i, j)+adj)
		}
	}

	m.logger.Debug().
		Int("views", n).
		Msg("Posterior blended")
	return Posterior{
		Tickers: prior.Tickers,
		Mean:    mean,
		Cov:     cov,
		Views:   views,
	}, nil
}

// Run builds the prior and views and blends them in one step.
func (m *Model) Run(tickers []string, caps map[string]float64, cov *mat.SymDense, shrunk bool, macroScalar float64, scores factors.Scores) (Posterior, error) {
	prior, err := m.BuildPrior(tickers, caps, cov, shrunk, macroScalar)
	if err != nil {
		return Posterior{}, err
	}
	return m.Blend(prior, m.BuildViews(prior, scores))
}
