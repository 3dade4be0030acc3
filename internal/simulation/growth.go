package simulation

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ReturnSampler draws annual returns for one asset class.
type ReturnSampler interface {
	Draw() float64
}

// GrowthModel is the swappable return-distribution policy. The engine does
// not fix the compounding formula to one distribution; goals can be
// simulated under normal or lognormal return assumptions.
type GrowthModel interface {
	Name() string
	NewSampler(a AssetAssumption, src rand.Source) ReturnSampler
}

// ModelForName resolves a model name from a request. Unknown or empty names
// fall back to the lognormal model, the usual choice for portfolio returns.
func ModelForName(name string) GrowthModel {
	if name == "normal" {
		return NormalModel{}
	}
	return LogNormalModel{}
}

// NormalModel draws annual returns from a normal distribution with the
// asset class's mean and standard deviation.
type NormalModel struct{}

func (NormalModel) Name() string { return "normal" }

func (NormalModel) NewSampler(a AssetAssumption, src rand.Source) ReturnSampler {
	return normalSampler{dist: distuv.Normal{Mu: a.MeanReturn, Sigma: a.StdDev, Src: src}}
}

type normalSampler struct {
	dist distuv.Normal
}

func (s normalSampler) Draw() float64 {
	return s.dist.Rand()
}

// LogNormalModel draws gross return factors from a lognormal distribution
// parameterized so that the arithmetic mean and standard deviation match the
// asset class assumptions. Net returns can never fall below -100%.
type LogNormalModel struct{}

func (LogNormalModel) Name() string { return "lognormal" }

func (LogNormalModel) NewSampler(a AssetAssumption, src rand.Source) ReturnSampler {
	gross := 1.0 + a.MeanReturn
	if gross <= 0 {
		// Degenerate assumption set; a normal draw at least stays defined.
		return normalSampler{dist: distuv.Normal{Mu: a.MeanReturn, Sigma: a.StdDev, Src: src}}
	}

	// Match E[G] = 1+mean and Var[G] = stddev^2 for the gross factor G.
	variance := math.Log(1.0 + (a.StdDev*a.StdDev)/(gross*gross))
	sigma := math.Sqrt(variance)
	mu := math.Log(gross) - variance/2.0

	return logNormalSampler{dist: distuv.LogNormal{Mu: mu, Sigma: sigma, Src: src}}
}

type logNormalSampler struct {
	dist distuv.LogNormal
}

func (s logNormalSampler) Draw() float64 {
	return s.dist.Rand() - 1.0
}
