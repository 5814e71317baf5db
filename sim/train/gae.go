package train

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/loco-sim/loco-sim/sim/rollout"
)

// ComputeAdvantages fills batch.Advantages and batch.Returns with
// generalized advantage estimates. Each instance's horizon is swept
// backwards; a done flag masks both the bootstrap and the accumulator so no
// value leaks across episode boundaries. The final step of an unfinished
// episode bootstraps from the batch's post-horizon value.
func ComputeAdvantages(b *rollout.Batch, gamma, lambda float64) {
	for i := 0; i < b.N; i++ {
		var acc float64
		for t := b.H - 1; t >= 0; t-- {
			row := b.Idx(i, t)
			mask := 1.0
			if b.Dones[row] {
				mask = 0
			}
			next := b.Bootstrap[i]
			if t < b.H-1 {
				next = b.Values[b.Idx(i, t+1)]
			}
			delta := b.Rewards[row] + gamma*next*mask - b.Values[row]
			acc = delta + gamma*lambda*mask*acc
			b.Advantages[row] = acc
			b.Returns[row] = acc + b.Values[row]
		}
	}
}

// NormalizeAdvantages standardizes advantages to zero mean and unit
// deviation in place. A batch with uniform advantages carries no preference
// signal and passes through untouched instead of being divided by a
// vanishing deviation.
func NormalizeAdvantages(adv []float64) {
	if len(adv) < 2 {
		return
	}
	mean := stat.Mean(adv, nil)
	sd := math.Sqrt(stat.PopVariance(adv, nil))
	if sd < 1e-8 {
		return
	}
	for i := range adv {
		adv[i] = (adv[i] - mean) / sd
	}
}
