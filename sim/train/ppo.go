package train

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/loco-sim/loco-sim/sim/policy"
	"github.com/loco-sim/loco-sim/sim/rollout"
)

// ErrDivergence marks an update that produced a non-finite loss or gradient.
// The trainer aborts on it; the last checkpoint on disk stays untouched.
var ErrDivergence = errors.New("optimization diverged to a non-finite loss")

// UpdateStats aggregates optimizer statistics, averaged over the minibatch
// updates of one iteration.
type UpdateStats struct {
	PolicyLoss float64
	ValueLoss  float64
	Entropy    float64
	KL         float64
	ClipFrac   float64
	GradNorm   float64
}

func (s *UpdateStats) add(o UpdateStats) {
	s.PolicyLoss += o.PolicyLoss
	s.ValueLoss += o.ValueLoss
	s.Entropy += o.Entropy
	s.KL += o.KL
	s.ClipFrac += o.ClipFrac
	s.GradNorm += o.GradNorm
}

func (s *UpdateStats) scale(f float64) {
	s.PolicyLoss *= f
	s.ValueLoss *= f
	s.Entropy *= f
	s.KL *= f
	s.ClipFrac *= f
	s.GradNorm *= f
}

// UpdateParams runs the configured PPO epochs over the batch, mutating p and
// the optimizer moments in place. Minibatch membership is reshuffled each
// epoch from the given stream, so a fixed seed replays the same partitions.
func UpdateParams(p *policy.Params, opt *Adam, b *rollout.Batch, cfg PPOConfig, rng *rand.Rand) (UpdateStats, error) {
	rows := b.Rows()
	if rows%cfg.Minibatches != 0 {
		return UpdateStats{}, fmt.Errorf("minibatches %d do not evenly divide %d transitions", cfg.Minibatches, rows)
	}
	perm := make([]int, rows)
	for i := range perm {
		perm[i] = i
	}
	mbSize := rows / cfg.Minibatches

	var agg UpdateStats
	var updates int
	for epoch := 0; epoch < cfg.UpdateEpochs; epoch++ {
		rng.Shuffle(rows, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		for mb := 0; mb < cfg.Minibatches; mb++ {
			idx := perm[mb*mbSize : (mb+1)*mbSize]
			stats, err := updateMinibatch(p, opt, b, idx, cfg)
			if err != nil {
				return agg, err
			}
			agg.add(stats)
			updates++
		}
	}
	agg.scale(1 / float64(updates))
	return agg, nil
}

// updateMinibatch computes the clipped PPO loss gradient for one minibatch
// and applies a single optimizer step.
func updateMinibatch(p *policy.Params, opt *Adam, b *rollout.Batch, idx []int, cfg PPOConfig) (UpdateStats, error) {
	nb := len(idx)
	X := mat.NewDense(nb, b.ObsDim, nil)
	for k, row := range idx {
		X.SetRow(k, b.ObsRow(row))
	}

	rawActor, actorCache := p.Actor.Forward(X)
	means, stds := p.Heads(rawActor)
	values, criticCache := p.Critic.Forward(X)

	dMean := mat.NewDense(nb, p.ActDim, nil)
	dStd := mat.NewDense(nb, p.ActDim, nil)
	dValue := mat.NewDense(nb, 1, nil)

	inv := 1 / float64(nb)
	logRoot2Pi := 0.5 * math.Log(2*math.Pi)
	var stats UpdateStats
	for k, row := range idx {
		action := b.ActionRow(row)
		adv := b.Advantages[row]
		ret := b.Returns[row]
		vOld := b.Values[row]
		oldLP := b.LogProbs[row]

		var newLP, ent float64
		for d := 0; d < p.ActDim; d++ {
			mu := means.At(k, d)
			sd := stds.At(k, d)
			z := (action[d] - mu) / sd
			newLP += -0.5*z*z - math.Log(sd) - logRoot2Pi
			ent += 0.5 + logRoot2Pi + math.Log(sd)
		}

		ratio := math.Exp(newLP - oldLP)
		clipped := clamp(ratio, 1-cfg.ClipParam, 1+cfg.ClipParam)
		surr := ratio * adv
		surrClipped := clipped * adv
		// gradient flows only through the unclipped branch when it is
		// the binding one
		var coeff float64
		if surr <= surrClipped {
			coeff = -ratio * adv * inv
		}
		stats.PolicyLoss += -math.Min(surr, surrClipped) * inv
		stats.Entropy += ent * inv
		stats.KL += (oldLP - newLP) * inv
		if math.Abs(ratio-1) > cfg.ClipParam {
			stats.ClipFrac += inv
		}

		for d := 0; d < p.ActDim; d++ {
			mu := means.At(k, d)
			sd := stds.At(k, d)
			z := (action[d] - mu) / sd
			dMean.Set(k, d, coeff*z/sd)
			dStd.Set(k, d, coeff*(z*z-1)/sd-cfg.EntropyCoef*inv/sd)
		}

		v := values.At(k, 0)
		vErr := v - ret
		dv := vErr
		loss := vErr * vErr
		if cfg.ClipValueLoss {
			vClip := vOld + clamp(v-vOld, -cfg.ClipParam, cfg.ClipParam)
			vErrClip := vClip - ret
			if vErrClip*vErrClip > loss {
				loss = vErrClip * vErrClip
				dv = 0
				if math.Abs(v-vOld) < cfg.ClipParam {
					dv = vErrClip
				}
			}
		}
		stats.ValueLoss += 0.5 * loss * inv
		dValue.Set(k, 0, cfg.ValueLossCoef*dv*inv)
	}

	total := stats.PolicyLoss + cfg.ValueLossCoef*stats.ValueLoss - cfg.EntropyCoef*stats.Entropy
	if !isFinite(total) {
		return stats, fmt.Errorf("%w: policy=%g value=%g entropy=%g",
			ErrDivergence, stats.PolicyLoss, stats.ValueLoss, stats.Entropy)
	}

	dRaw := p.HeadBackward(rawActor, dMean, dStd)
	g := &Grads{
		Actor:  p.Actor.Backward(actorCache, dRaw),
		Critic: p.Critic.Backward(criticCache, dValue),
	}
	stats.GradNorm = g.ClipGlobalNorm(cfg.MaxGradNorm)
	if !isFinite(stats.GradNorm) {
		return stats, fmt.Errorf("%w: gradient norm %g", ErrDivergence, stats.GradNorm)
	}
	opt.Step(p, g)
	return stats, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
