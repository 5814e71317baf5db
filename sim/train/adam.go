package train

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/loco-sim/loco-sim/sim/policy"
)

// Grads is one full parameter gradient, actor then critic, in the same
// tensor order as policy.Params.Tensors.
type Grads struct {
	Actor  []*policy.LayerGrad
	Critic []*policy.LayerGrad
}

func (g *Grads) tensors() [][]float64 {
	var out [][]float64
	for _, grads := range [][]*policy.LayerGrad{g.Actor, g.Critic} {
		for _, lg := range grads {
			out = append(out, lg.DW.RawMatrix().Data, lg.DB)
		}
	}
	return out
}

// GlobalNorm returns the L2 norm over every gradient entry.
func (g *Grads) GlobalNorm() float64 {
	var sq float64
	for _, t := range g.tensors() {
		sq += floats.Dot(t, t)
	}
	return math.Sqrt(sq)
}

// ClipGlobalNorm rescales the gradient so its global norm is at most max
// and returns the pre-clip norm. max <= 0 disables clipping.
func (g *Grads) ClipGlobalNorm(max float64) float64 {
	norm := g.GlobalNorm()
	if max <= 0 || norm <= max || norm == 0 {
		return norm
	}
	scale := max / norm
	for _, t := range g.tensors() {
		floats.Scale(scale, t)
	}
	return norm
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// Adam holds first and second moment estimates shaped like the parameters.
// From zeroed moments, a zero gradient leaves both moments and the
// parameters bit-identical, so an update carrying no signal is exactly a
// no-op.
type Adam struct {
	lr   float64
	step int
	m    [][]float64
	v    [][]float64
}

// NewAdam allocates zeroed moments matching the parameter shapes.
func NewAdam(p *policy.Params, lr float64) *Adam {
	tensors := p.Tensors()
	a := &Adam{
		lr: lr,
		m:  make([][]float64, len(tensors)),
		v:  make([][]float64, len(tensors)),
	}
	for i, t := range tensors {
		a.m[i] = make([]float64, len(t))
		a.v[i] = make([]float64, len(t))
	}
	return a
}

// Step applies one bias-corrected Adam update in place.
func (a *Adam) Step(p *policy.Params, g *Grads) {
	a.step++
	bc1 := 1 - math.Pow(adamBeta1, float64(a.step))
	bc2 := 1 - math.Pow(adamBeta2, float64(a.step))
	pt := p.Tensors()
	gt := g.tensors()
	for ti := range pt {
		pv, gv, m, v := pt[ti], gt[ti], a.m[ti], a.v[ti]
		for i := range pv {
			m[i] = adamBeta1*m[i] + (1-adamBeta1)*gv[i]
			v[i] = adamBeta2*v[i] + (1-adamBeta2)*gv[i]*gv[i]
			pv[i] -= a.lr * (m[i] / bc1) / (math.Sqrt(v[i]/bc2) + adamEps)
		}
	}
}

// StepCount returns the number of applied updates.
func (a *Adam) StepCount() int { return a.step }

// SetStepCount restores the update counter from a checkpoint.
func (a *Adam) SetStepCount(n int) { a.step = n }

// Moments exposes the moment tensors, in parameter tensor order, for
// checkpoint serialization and restore.
func (a *Adam) Moments() (m, v [][]float64) { return a.m, a.v }

// Restore copies checkpointed moments and the step counter back in.
func (a *Adam) Restore(m, v [][]float64, step int) error {
	if len(m) != len(a.m) || len(v) != len(a.v) {
		return fmt.Errorf("optimizer state holds %d+%d moment tensors, want %d", len(m), len(v), len(a.m))
	}
	for i := range a.m {
		if len(m[i]) != len(a.m[i]) || len(v[i]) != len(a.v[i]) {
			return fmt.Errorf("optimizer moment tensor %d has %d/%d values, want %d", i, len(m[i]), len(v[i]), len(a.m[i]))
		}
		copy(a.m[i], m[i])
		copy(a.v[i], v[i])
	}
	a.step = step
	return nil
}
