package sampler

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"relinfer/internal/world"
	"relinfer/pkg/model"
)

// maxRejections bounds the rejection loop before falling back to inverse-CDF
// sampling from the same truncated message.
const maxRejections = 1000

// GibbsVariant samples a seed with a UniformReal prior whose instantiated
// children are all Gaussians centred exactly on the seed. The proposal is the
// Gaussian message from the children truncated to the prior's support, which
// is the exact conditional, so its weight is exact and Metropolis-Hastings
// acceptance is always 1.
type GibbsVariant struct{}

// Name implements Variant.
func (GibbsVariant) Name() string { return "gibbs" }

// Applies implements Variant.
func (GibbsVariant) Applies(seed *model.VarWithDistrib, env Env) bool {
	if isExcluded(env.Excluded, seed.ID()) {
		return false
	}
	_, err := conjugateMessage(seed, env.World)
	return err == nil
}

// New implements Variant.
func (GibbsVariant) New(seed *model.VarWithDistrib, env Env) (Sampler, error) {
	return &gibbsSampler{seed: seed, env: env, block: []model.VarID{seed.ID()}}, nil
}

// message is the prior support plus the Gaussian message N(mean, variance)
// from the children. hasChildren false means the message is flat.
type message struct {
	lo, hi      float64
	mean        float64
	variance    float64
	hasChildren bool
}

func (m message) normal() distuv.Normal {
	return distuv.Normal{Mu: m.mean, Sigma: math.Sqrt(m.variance)}
}

// tail returns the message in coordinates where the interval does not lie
// right of the mean, so CDF differences come from the accurate lower tail.
// sign maps a draw back to the original coordinates.
func (m message) tail() (n distuv.Normal, lo, hi, sign float64) {
	if m.mean < (m.lo+m.hi)/2 {
		return distuv.Normal{Mu: -m.mean, Sigma: math.Sqrt(m.variance)}, -m.hi, -m.lo, -1
	}
	return m.normal(), m.lo, m.hi, 1
}

// logMass is the log probability the message puts on [lo, hi].
func (m message) logMass() float64 {
	n, lo, hi, _ := m.tail()
	return math.Log(n.CDF(hi) - n.CDF(lo))
}

// logWeight is log p(x) - log q(x) for the uniform prior p and truncated
// message q.
func (m message) logWeight(x float64) float64 {
	if !m.hasChildren {
		return 0
	}
	return m.logMass() - math.Log(m.hi-m.lo) - m.normal().LogProb(x)
}

// conjugateMessage builds the message for seed from the children that read
// it. Each child is evaluated at two fixed points inside the prior's support
// and must return, at both, a Gaussian whose mean is that point and whose
// variance does not change. The points do not depend on the seed's current
// value, so Sample and Measure see the same message.
func conjugateMessage(seed *model.VarWithDistrib, w world.World) (message, error) {
	prior, err := seed.Distrib(world.NewReadContext(w))
	if err != nil {
		return message{}, err
	}
	uni, ok := prior.(*model.UniformReal)
	if !ok {
		return message{}, fmt.Errorf("%s prior is %T, not uniform", seed.ID(), prior)
	}
	msg := message{lo: uni.Lo, hi: uni.Hi}
	at := [2]float64{uni.Lo + (uni.Hi-uni.Lo)/3, uni.Lo + 2*(uni.Hi-uni.Lo)/3}

	precision, weighted := 0.0, 0.0
	for _, id := range childrenOf(w, seed.ID()) {
		child, ok := w.Var(id)
		if !ok {
			continue
		}
		variance, linked, err := gaussianLink(child, w, seed.ID(), at)
		if err != nil {
			return message{}, err
		}
		if !linked {
			continue
		}
		raw, _ := w.Value(id)
		y, ok := model.Float(raw)
		if !ok {
			return message{}, fmt.Errorf("child %s value %v is not numeric", id, raw)
		}
		precision += 1 / variance
		weighted += y / variance
	}
	if precision > 0 {
		msg.hasChildren = true
		msg.variance = 1 / precision
		msg.mean = weighted * msg.variance
		if math.IsInf(msg.logMass(), -1) {
			return message{}, fmt.Errorf("message for %s puts no mass on [%v, %v]", seed.ID(), msg.lo, msg.hi)
		}
	}
	return msg, nil
}

// gaussianLink evaluates child with seed set to each value in at. linked is
// false when the CPD never reads seed.
func gaussianLink(child *model.VarWithDistrib, w world.World, seed model.VarID, at [2]float64) (variance float64, linked bool, err error) {
	for i, x := range at {
		rc := world.NewReadContext(w).With(seed, x)
		d, err := child.Distrib(rc)
		if !slices.Contains(rc.Accessed(), seed) {
			if i == 0 {
				return 0, false, nil
			}
			return 0, true, fmt.Errorf("child %s reads %s only for some of its values", child.ID(), seed)
		}
		if err != nil {
			return 0, true, err
		}
		g, ok := d.(*model.Gaussian)
		if !ok || g.MeanOf != seed || g.Mean != x {
			return 0, true, fmt.Errorf("child %s of %s is not a gaussian centred on it", child.ID(), seed)
		}
		if i > 0 && g.Variance != variance {
			return 0, true, fmt.Errorf("variance of child %s depends on %s", child.ID(), seed)
		}
		variance = g.Variance
	}
	return variance, true, nil
}

func childrenOf(w world.World, id model.VarID) []model.VarID {
	if dw, ok := w.(world.Dependents); ok {
		return dw.Children(id)
	}
	var out []model.VarID
	for _, c := range w.Instantiated() {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}

type gibbsSampler struct {
	seed  *model.VarWithDistrib
	env   Env
	block []model.VarID
}

func (s *gibbsSampler) Seed() *model.VarWithDistrib { return s.seed }

func (s *gibbsSampler) Block() []model.VarID { return append([]model.VarID(nil), s.block...) }

func (s *gibbsSampler) Sample() (Result, error) {
	msg, err := conjugateMessage(s.seed, s.env.World)
	if err != nil {
		return Result{}, &model.ModelDefinitionError{Kind: model.ErrNoApplicableSampler, Var: s.seed.ID(), Detail: err.Error()}
	}
	x := s.draw(msg)
	s.env.World.Set(s.seed, x)
	return Result{World: s.env.World, LogWeight: msg.logWeight(x)}, nil
}

func (s *gibbsSampler) draw(msg message) float64 {
	rng := s.env.Rng
	if !msg.hasChildren {
		return distuv.Uniform{Min: msg.lo, Max: msg.hi}.Quantile(rng.Float64())
	}
	n := msg.normal()
	for range maxRejections {
		x := n.Quantile(openUnit(rng.Float64))
		if x >= msg.lo && x <= msg.hi {
			return x
		}
	}
	t, lo, hi, sign := msg.tail()
	a, b := t.CDF(lo), t.CDF(hi)
	x := sign * t.Quantile(a+(b-a)*openUnit(rng.Float64))
	return math.Min(msg.hi, math.Max(msg.lo, x))
}

func (s *gibbsSampler) Measure() (Result, error) {
	if err := requireSupported(s.env.World, s.seed); err != nil {
		return Result{}, err
	}
	msg, err := conjugateMessage(s.seed, s.env.World)
	if err != nil {
		return Result{}, err
	}
	raw, _ := s.env.World.Value(s.seed.ID())
	x, ok := model.Float(raw)
	if !ok {
		return Result{}, fmt.Errorf("%s value %v is not numeric", s.seed.ID(), raw)
	}
	return Result{World: s.env.World, LogWeight: msg.logWeight(x)}, nil
}

func (s *gibbsSampler) Unsample() (Result, error) {
	return unsampleBlock(s)
}

func openUnit(next func() float64) float64 {
	for {
		if u := next(); u > 0 {
			return u
		}
	}
}
