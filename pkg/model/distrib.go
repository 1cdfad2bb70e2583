package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is a conditional distribution with its parents already fixed.
type Distribution interface {
	Sample(rng *rand.Rand) Value
	Prob(v Value) float64
	LogProb(v Value) float64
}

// Compile-time assertions for the built-in distributions.
var (
	_ Distribution = (*Bernoulli)(nil)
	_ Distribution = (*Categorical)(nil)
	_ Distribution = (*Gaussian)(nil)
	_ Distribution = (*UniformReal)(nil)
	_ Distribution = (*UniformInt)(nil)
	_ Distribution = (*Poisson)(nil)
	_ Distribution = (*Beta)(nil)
	_ Distribution = (*Exponential)(nil)
	_ Distribution = (*Dirac)(nil)
)

// openUnit draws from (0, 1) so quantile functions never see an endpoint.
func openUnit(rng *rand.Rand) float64 {
	for {
		u := rng.Float64()
		if u > 0 {
			return u
		}
	}
}

func expOf(lp float64) float64 { return math.Exp(lp) }

// Bernoulli is a distribution over bool with P(true) = P.
type Bernoulli struct {
	P float64
}

// NewBernoulli validates p and constructs a Bernoulli distribution.
func NewBernoulli(p float64) (*Bernoulli, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, invalidParameter("bernoulli probability %v outside [0, 1]", p)
	}
	return &Bernoulli{P: p}, nil
}

func (d *Bernoulli) Sample(rng *rand.Rand) Value { return rng.Float64() < d.P }

func (d *Bernoulli) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *Bernoulli) LogProb(v Value) float64 {
	b, ok := v.(bool)
	if !ok {
		return math.Inf(-1)
	}
	x := 0.0
	if b {
		x = 1
	}
	return distuv.Bernoulli{P: d.P}.LogProb(x)
}

// Categorical is a finite distribution over arbitrary comparable values.
type Categorical struct {
	values []Value
	probs  []float64
	dist   distuv.Categorical
}

// NewCategorical builds a categorical distribution; weights are normalised.
func NewCategorical(values []Value, weights []float64) (*Categorical, error) {
	if len(values) == 0 || len(values) != len(weights) {
		return nil, invalidParameter("categorical needs one weight per value (got %d values, %d weights)", len(values), len(weights))
	}
	total := 0.0
	for _, w := range weights {
		if math.IsNaN(w) || w < 0 {
			return nil, invalidParameter("categorical weight %v is negative", w)
		}
		total += w
	}
	if total <= 0 || math.IsInf(total, 0) {
		return nil, invalidParameter("categorical weights sum to %v", total)
	}
	probs := make([]float64, len(weights))
	for i, w := range weights {
		probs[i] = w / total
	}
	return &Categorical{
		values: append([]Value(nil), values...),
		probs:  probs,
		dist:   distuv.NewCategorical(probs, nil),
	}, nil
}

func (d *Categorical) Sample(rng *rand.Rand) Value {
	u := rng.Float64()
	acc := 0.0
	for i, p := range d.probs {
		acc += p
		if u < acc {
			return d.values[i]
		}
	}
	return d.values[len(d.values)-1]
}

func (d *Categorical) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *Categorical) LogProb(v Value) float64 {
	for i, candidate := range d.values {
		if candidate == v {
			return d.dist.LogProb(float64(i))
		}
	}
	return math.Inf(-1)
}

// Gaussian is a normal distribution over float64. MeanOf names the parent
// whose value is exactly the mean, when the CPD declares one; conjugate
// samplers rely on it.
type Gaussian struct {
	Mean     float64
	Variance float64
	MeanOf   VarID
}

// NewGaussian validates the variance and constructs a Gaussian.
func NewGaussian(mean, variance float64) (*Gaussian, error) {
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return nil, invalidParameter("gaussian mean %v is not finite", mean)
	}
	if math.IsNaN(variance) || variance <= 0 || math.IsInf(variance, 0) {
		return nil, invalidParameter("non-positive gaussian variance %v", variance)
	}
	return &Gaussian{Mean: mean, Variance: variance}, nil
}

// GaussianAround reads parent from ctx and returns a Gaussian centred on its
// value, recording the parent as the mean.
func GaussianAround(ctx Context, parent Term, variance float64) (*Gaussian, error) {
	raw, err := ctx.Value(parent)
	if err != nil {
		return nil, err
	}
	mean, ok := Float(raw)
	if !ok {
		return nil, invalidParameter("gaussian mean parent %s is not numeric (%v)", parent.ID(), raw)
	}
	g, err := NewGaussian(mean, variance)
	if err != nil {
		return nil, err
	}
	g.MeanOf = parent.ID()
	return g, nil
}

func (d *Gaussian) normal() distuv.Normal {
	return distuv.Normal{Mu: d.Mean, Sigma: math.Sqrt(d.Variance)}
}

func (d *Gaussian) Sample(rng *rand.Rand) Value { return d.normal().Quantile(openUnit(rng)) }

func (d *Gaussian) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *Gaussian) LogProb(v Value) float64 {
	x, ok := Float(v)
	if !ok {
		return math.Inf(-1)
	}
	return d.normal().LogProb(x)
}

// UniformReal is the continuous uniform distribution on [Lo, Hi].
type UniformReal struct {
	Lo, Hi float64
}

// NewUniformReal validates the bounds and constructs the distribution.
func NewUniformReal(lo, hi float64) (*UniformReal, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) || !(lo < hi) {
		return nil, invalidParameter("uniform bounds [%v, %v] are empty or unbounded", lo, hi)
	}
	return &UniformReal{Lo: lo, Hi: hi}, nil
}

func (d *UniformReal) uniform() distuv.Uniform { return distuv.Uniform{Min: d.Lo, Max: d.Hi} }

func (d *UniformReal) Sample(rng *rand.Rand) Value { return d.uniform().Quantile(rng.Float64()) }

func (d *UniformReal) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *UniformReal) LogProb(v Value) float64 {
	x, ok := Float(v)
	if !ok {
		return math.Inf(-1)
	}
	return d.uniform().LogProb(x)
}

// UniformInt is the discrete uniform distribution on {Lo, ..., Hi}.
type UniformInt struct {
	Lo, Hi int
}

// NewUniformInt validates the bounds and constructs the distribution.
func NewUniformInt(lo, hi int) (*UniformInt, error) {
	if lo > hi {
		return nil, invalidParameter("uniform int bounds [%d, %d] are empty", lo, hi)
	}
	return &UniformInt{Lo: lo, Hi: hi}, nil
}

func (d *UniformInt) Sample(rng *rand.Rand) Value { return d.Lo + rng.IntN(d.Hi-d.Lo+1) }

func (d *UniformInt) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *UniformInt) LogProb(v Value) float64 {
	k, ok := Int(v)
	if !ok || k < d.Lo || k > d.Hi {
		return math.Inf(-1)
	}
	return -math.Log(float64(d.Hi - d.Lo + 1))
}

// Poisson is a distribution over non-negative int counts.
type Poisson struct {
	Lambda float64
}

// NewPoisson validates the rate and constructs the distribution.
func NewPoisson(lambda float64) (*Poisson, error) {
	if math.IsNaN(lambda) || lambda <= 0 || math.IsInf(lambda, 0) {
		return nil, invalidParameter("poisson rate %v must be positive", lambda)
	}
	return &Poisson{Lambda: lambda}, nil
}

func (d *Poisson) Sample(rng *rand.Rand) Value {
	dist := distuv.Poisson{Lambda: d.Lambda}
	u := rng.Float64()
	k := 0
	for dist.CDF(float64(k)) <= u {
		k++
	}
	return k
}

func (d *Poisson) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *Poisson) LogProb(v Value) float64 {
	k, ok := Int(v)
	if !ok || k < 0 {
		return math.Inf(-1)
	}
	return distuv.Poisson{Lambda: d.Lambda}.LogProb(float64(k))
}

// Beta is the beta distribution on (0, 1).
type Beta struct {
	Alpha, Beta float64
}

// NewBeta validates the shape parameters and constructs the distribution.
func NewBeta(alpha, beta float64) (*Beta, error) {
	if !(alpha > 0) || !(beta > 0) || math.IsInf(alpha, 0) || math.IsInf(beta, 0) {
		return nil, invalidParameter("beta shapes (%v, %v) must be positive", alpha, beta)
	}
	return &Beta{Alpha: alpha, Beta: beta}, nil
}

func (d *Beta) dist() distuv.Beta { return distuv.Beta{Alpha: d.Alpha, Beta: d.Beta} }

func (d *Beta) Sample(rng *rand.Rand) Value { return d.dist().Quantile(openUnit(rng)) }

func (d *Beta) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *Beta) LogProb(v Value) float64 {
	x, ok := Float(v)
	if !ok || x <= 0 || x >= 1 {
		return math.Inf(-1)
	}
	return d.dist().LogProb(x)
}

// Exponential is the exponential distribution with the given rate.
type Exponential struct {
	Rate float64
}

// NewExponential validates the rate and constructs the distribution.
func NewExponential(rate float64) (*Exponential, error) {
	if math.IsNaN(rate) || rate <= 0 || math.IsInf(rate, 0) {
		return nil, invalidParameter("exponential rate %v must be positive", rate)
	}
	return &Exponential{Rate: rate}, nil
}

func (d *Exponential) dist() distuv.Exponential { return distuv.Exponential{Rate: d.Rate} }

func (d *Exponential) Sample(rng *rand.Rand) Value { return d.dist().Quantile(openUnit(rng)) }

func (d *Exponential) Prob(v Value) float64 { return expOf(d.LogProb(v)) }

func (d *Exponential) LogProb(v Value) float64 {
	x, ok := Float(v)
	if !ok || x < 0 {
		return math.Inf(-1)
	}
	return d.dist().LogProb(x)
}

// Dirac puts all mass on V. Deterministic functions use it.
type Dirac struct {
	V Value
}

// NewDirac constructs a point mass.
func NewDirac(v Value) *Dirac { return &Dirac{V: v} }

func (d *Dirac) Sample(*rand.Rand) Value { return d.V }

func (d *Dirac) Prob(v Value) float64 {
	if v == d.V {
		return 1
	}
	return 0
}

func (d *Dirac) LogProb(v Value) float64 { return math.Log(d.Prob(v)) }
