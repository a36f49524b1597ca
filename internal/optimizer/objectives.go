package optimizer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/equityrun/internal/config"
)

// objectiveSpec evaluates one objective and its soft constraints on projected
// weights. All objectives are expressed as minimizations.
type objectiveSpec struct {
	kind         config.Objective
	riskFree     float64
	riskAversion float64
	targetVol    float64
	targetReturn float64
}

func (s objectiveSpec) value(x, mu []float64, cov *mat.SymDense) float64 {
	ret := dot(mu, x)
	variance := quadForm(cov, x)

	switch s.kind {
	case config.ObjectiveMinVariance, config.ObjectiveEfficientReturn:
		return variance
	case config.ObjectiveMaxQuadraticUtility:
		return -(ret - 0.5*s.riskAversion*variance)
	case config.ObjectiveEfficientRisk:
		return -ret
	default: // max_sharpe
		stdDev := math.Sqrt(math.Max(variance, 1e-10))
		return -(ret - s.riskFree) / stdDev
	}
}

func (s objectiveSpec) gradient(grad, x, mu []float64, cov *mat.SymDense) {
	n := len(x)
	switch s.kind {
	case config.ObjectiveMinVariance, config.ObjectiveEfficientReturn:
		for i := 0; i < n; i++ {
			grad[i] = 2 * (covRow(cov, i, x) + epsRidge*x[i])
		}
	case config.ObjectiveMaxQuadraticUtility:
		for i := 0; i < n; i++ {
			grad[i] = -mu[i] + s.riskAversion*(covRow(cov, i, x)+epsRidge*x[i])
		}
	case config.ObjectiveEfficientRisk:
		for i := 0; i < n; i++ {
			grad[i] = -mu[i]
		}
	default: // max_sharpe
		excess := dot(mu, x) - s.riskFree
		variance := quadForm(cov, x)
		stdDev := math.Sqrt(math.Max(variance, 1e-10))
		for i := 0; i < n; i++ {
			dVar := 2 * (covRow(cov, i, x) + epsRidge*x[i])
			grad[i] = -mu[i]/stdDev + excess*dVar/(2*stdDev*stdDev*stdDev)
		}
	}
}

// constraintPenalty adds the objective's own soft constraint: the volatility
// ceiling for efficient_risk and the return floor for efficient_return.
func (s objectiveSpec) constraintPenalty(x, mu []float64, cov *mat.SymDense) float64 {
	switch s.kind {
	case config.ObjectiveEfficientRisk:
		variance := quadForm(cov, x)
		limit := s.targetVol * s.targetVol
		if variance > limit {
			over := variance - limit
			return penaltyWeight * over * over
		}
	case config.ObjectiveEfficientReturn:
		ret := dot(mu, x)
		if ret < s.targetReturn {
			short := s.targetReturn - ret
			return penaltyWeight * short * short
		}
	}
	return 0
}

func (s objectiveSpec) addConstraintGradient(grad, x, mu []float64, cov *mat.SymDense) {
	switch s.kind {
	case config.ObjectiveEfficientRisk:
		variance := quadForm(cov, x)
		limit := s.targetVol * s.targetVol
		if variance > limit {
			for i := range grad {
				grad[i] += 2 * penaltyWeight * (variance - limit) * 2 * (covRow(cov, i, x) + epsRidge*x[i])
			}
		}
	case config.ObjectiveEfficientReturn:
		ret := dot(mu, x)
		if ret < s.targetReturn {
			for i := range grad {
				grad[i] += -2 * penaltyWeight * (s.targetReturn - ret) * mu[i]
			}
		}
	}
}

func covRow(cov *mat.SymDense, i int, x []float64) float64 {
	var s float64
	for j := range x {
		s += cov.At(i, j) * x[j]
	}
	return s
}
