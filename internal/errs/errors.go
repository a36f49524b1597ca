// Package errs defines the error codes surfaced at the engine boundary.
package errs

import "errors"

var (
	// ErrInsufficientUniverse signals fewer than the minimum tickers survived
	// universe resolution at a rebalance date.
	ErrInsufficientUniverse = errors.New("insufficient universe")

	// ErrInsufficientData signals a ticker lacked the price or fundamental
	// history required for factor computation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrCovarianceIllConditioned signals the covariance could not be made
	// positive semidefinite even after shrinkage.
	ErrCovarianceIllConditioned = errors.New("covariance ill-conditioned")

	// ErrOptimizationFailed signals the solver failed twice at a rebalance
	// date; prior weights are carried forward.
	ErrOptimizationFailed = errors.New("optimization failed")

	// ErrSolverInfeasible signals the constraint set admits no solution.
	ErrSolverInfeasible = errors.New("solver infeasible")

	// ErrConfigurationInvalid signals the run configuration failed validation.
	ErrConfigurationInvalid = errors.New("configuration invalid")

	// ErrProviderUnavailable signals the market data provider is unreachable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrDataUnavailable signals a per-request data miss at the provider.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrEmptyOptimizationSet signals the optimization set had no tickers.
	ErrEmptyOptimizationSet = errors.New("empty optimization set")
)
