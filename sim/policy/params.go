// Package policy implements the actor-critic model: a pure function from
// observation and parameters to a diagonal Gaussian action distribution and
// a value estimate. Parameter sets are versioned and immutable; the trainer
// clones, updates and republishes them while collectors keep reading their
// own version.
package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// The actor's output layer is shrunk at initialization so the starting
// policy stays close to zero-mean actions.
const actorOutGain = 0.01

// Params is one immutable version of the policy and value parameters.
// Single writer, many readers: nobody mutates a Params after it has been
// shared; updates go through Clone.
type Params struct {
	Version int
	ObsDim  int
	ActDim  int
	Cfg     Config

	Actor  *Net // outputs raw means then raw stds, 2*ActDim wide
	Critic *Net // outputs one value
}

// NewParams initializes version 0 parameters from the rng stream. The draw
// order is fixed: actor first, then critic.
func NewParams(cfg Config, obsDim, actDim int, rng *rand.Rand) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obsDim < 1 {
		return nil, fmt.Errorf("policy obs dim must be >= 1, got %d", obsDim)
	}
	if actDim < 1 {
		return nil, fmt.Errorf("policy act dim must be >= 1, got %d", actDim)
	}
	actorWidths := make([]int, 0, len(cfg.Hidden)+2)
	actorWidths = append(actorWidths, obsDim)
	actorWidths = append(actorWidths, cfg.Hidden...)
	actorWidths = append(actorWidths, 2*actDim)
	criticWidths := make([]int, 0, len(cfg.Hidden)+2)
	criticWidths = append(criticWidths, obsDim)
	criticWidths = append(criticWidths, cfg.Hidden...)
	criticWidths = append(criticWidths, 1)
	return &Params{
		ObsDim: obsDim,
		ActDim: actDim,
		Cfg:    cfg,
		Actor:  NewNet(actorWidths, rng, cfg.InitScale, actorOutGain),
		Critic: NewNet(criticWidths, rng, cfg.InitScale, 1),
	}, nil
}

// Clone deep-copies the parameters, keeping the version; the trainer bumps
// the clone's version before publishing it.
func (p *Params) Clone() *Params {
	return &Params{
		Version: p.Version,
		ObsDim:  p.ObsDim,
		ActDim:  p.ActDim,
		Cfg:     p.Cfg,
		Actor:   p.Actor.Clone(),
		Critic:  p.Critic.Clone(),
	}
}

// Dist runs the actor on a batch of observations (rows x ObsDim) and
// returns the action distribution.
func (p *Params) Dist(X *mat.Dense) *Dist {
	raw, _ := p.Actor.Forward(X)
	means, stds := p.Heads(raw)
	return &Dist{Means: means, Stds: stds}
}

// Heads maps the actor's raw output onto bounded means and stds:
// mean = MeanScale*tanh(rawMean) and
// std = clamp((softplus(rawStd)+MinStd)*VarScale, MinStd, MaxStd).
func (p *Params) Heads(raw *mat.Dense) (means, stds *mat.Dense) {
	rows, _ := raw.Dims()
	means = mat.NewDense(rows, p.ActDim, nil)
	stds = mat.NewDense(rows, p.ActDim, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < p.ActDim; c++ {
			means.Set(r, c, p.Cfg.MeanScale*math.Tanh(raw.At(r, c)))
			pre := (softplus(raw.At(r, p.ActDim+c)) + p.Cfg.MinStd) * p.Cfg.VarScale
			stds.Set(r, c, clampf(pre, p.Cfg.MinStd, p.Cfg.MaxStd))
		}
	}
	return means, stds
}

// HeadBackward converts loss gradients with respect to means and stds into
// the gradient at the actor's raw output. Clamped std entries pass no
// gradient.
func (p *Params) HeadBackward(raw, dMean, dStd *mat.Dense) *mat.Dense {
	rows, cols := raw.Dims()
	dRaw := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < p.ActDim; c++ {
			t := math.Tanh(raw.At(r, c))
			dRaw.Set(r, c, dMean.At(r, c)*p.Cfg.MeanScale*(1-t*t))

			sRaw := raw.At(r, p.ActDim+c)
			pre := (softplus(sRaw) + p.Cfg.MinStd) * p.Cfg.VarScale
			if pre > p.Cfg.MinStd && pre < p.Cfg.MaxStd {
				dRaw.Set(r, p.ActDim+c, dStd.At(r, c)*p.Cfg.VarScale*sigmoid(sRaw))
			}
		}
	}
	return dRaw
}

// Values runs the critic on a batch of observations and returns one value
// per row.
func (p *Params) Values(X *mat.Dense) []float64 {
	out, _ := p.Critic.Forward(X)
	rows, _ := out.Dims()
	vals := make([]float64, rows)
	for r := 0; r < rows; r++ {
		vals[r] = out.At(r, 0)
	}
	return vals
}

// Tensors returns mutable views of every parameter tensor in a fixed order:
// actor layer weights then biases, then critic layer weights then biases.
// Checkpoints and deployment artifacts serialize sections in exactly this
// order.
func (p *Params) Tensors() [][]float64 {
	var out [][]float64
	for _, n := range []*Net{p.Actor, p.Critic} {
		for _, l := range n.Layers {
			out = append(out, l.W.RawMatrix().Data, l.B)
		}
	}
	return out
}

// CheckFinite reports the first non-finite parameter value, if any.
func (p *Params) CheckFinite() error {
	for ti, t := range p.Tensors() {
		for _, v := range t {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("parameter tensor %d contains non-finite value %g", ti, v)
			}
		}
	}
	return nil
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RowDense wraps a single observation as a one-row matrix.
func RowDense(obs []float64) *mat.Dense {
	return mat.NewDense(1, len(obs), append([]float64(nil), obs...))
}
