package policy

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dist is a batched diagonal Gaussian over actions, one row per
// observation.
type Dist struct {
	Means *mat.Dense
	Stds  *mat.Dense
}

// Dim returns the action width.
func (d *Dist) Dim() int {
	_, c := d.Means.Dims()
	return c
}

// Sample draws a stochastic action for one row into out. Sampling is the
// only use of randomness in the model; greedy evaluation goes through Mode.
func (d *Dist) Sample(rng *rand.Rand, row int, out []float64) {
	for c := range out {
		n := distuv.Normal{Mu: d.Means.At(row, c), Sigma: d.Stds.At(row, c), Src: rng}
		out[c] = n.Rand()
	}
}

// Mode writes the deterministic action (the mean) for one row.
func (d *Dist) Mode(row int, out []float64) {
	for c := range out {
		out[c] = d.Means.At(row, c)
	}
}

// LogProb returns the log density of action under one row's distribution.
func (d *Dist) LogProb(row int, action []float64) float64 {
	var sum float64
	for c, a := range action {
		n := distuv.Normal{Mu: d.Means.At(row, c), Sigma: d.Stds.At(row, c)}
		sum += n.LogProb(a)
	}
	return sum
}

// Entropy returns one row's distribution entropy in nats.
func (d *Dist) Entropy(row int) float64 {
	var sum float64
	for c := 0; c < d.Dim(); c++ {
		n := distuv.Normal{Mu: d.Means.At(row, c), Sigma: d.Stds.At(row, c)}
		sum += n.Entropy()
	}
	return sum
}

// KL returns KL(d[row] || other[otherRow]) for diagnostics.
func (d *Dist) KL(row int, other *Dist, otherRow int) float64 {
	var sum float64
	for c := 0; c < d.Dim(); c++ {
		mu1, s1 := d.Means.At(row, c), d.Stds.At(row, c)
		mu2, s2 := other.Means.At(otherRow, c), other.Stds.At(otherRow, c)
		dm := mu1 - mu2
		sum += math.Log(s2/s1) + (s1*s1+dm*dm)/(2*s2*s2) - 0.5
	}
	return sum
}
