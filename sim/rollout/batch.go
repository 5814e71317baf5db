// Package rollout drives horizon-length data collection: it couples the
// batched world, the task and one policy version, records fixed-shape
// trajectory batches and handles partial resets when individual instances
// terminate mid-horizon.
package rollout

// Batch is one trajectory batch of exactly N*H transitions. The shape is
// fixed regardless of how many episodes ended mid-horizon: termination is
// recorded in Dones and masks bootstrapping, never shortens the batch. A
// batch is consumed by exactly one optimizer step, then discarded.
type Batch struct {
	N      int
	H      int
	ObsDim int
	ActDim int

	// ParamsVersion is the single parameter version every transition was
	// collected under.
	ParamsVersion int

	// Flat row-major storage; transition (i, t) lives at row i*H+t.
	Obs     []float64 // normalized observations, ObsDim per row
	Actions []float64 // ActDim per row
	Rewards []float64
	Dones   []bool

	// On-policy caches recorded at collection time.
	LogProbs []float64
	Values   []float64

	// Bootstrap holds the value estimate of each instance's observation
	// after the final step.
	Bootstrap []float64

	// Advantages and Returns are filled during the optimizer's advantage
	// phase.
	Advantages []float64
	Returns    []float64
}

// NewBatch allocates a zeroed batch for n instances over horizon h.
func NewBatch(n, h, obsDim, actDim int) *Batch {
	rows := n * h
	return &Batch{
		N:          n,
		H:          h,
		ObsDim:     obsDim,
		ActDim:     actDim,
		Obs:        make([]float64, rows*obsDim),
		Actions:    make([]float64, rows*actDim),
		Rewards:    make([]float64, rows),
		Dones:      make([]bool, rows),
		LogProbs:   make([]float64, rows),
		Values:     make([]float64, rows),
		Bootstrap:  make([]float64, n),
		Advantages: make([]float64, rows),
		Returns:    make([]float64, rows),
	}
}

// Rows returns the transition count, always N*H.
func (b *Batch) Rows() int { return b.N * b.H }

// Idx returns the row of transition (instance, step).
func (b *Batch) Idx(i, t int) int { return i*b.H + t }

// ObsRow returns the observation slice backing one row.
func (b *Batch) ObsRow(row int) []float64 {
	return b.Obs[row*b.ObsDim : (row+1)*b.ObsDim]
}

// ActionRow returns the action slice backing one row.
func (b *Batch) ActionRow(row int) []float64 {
	return b.Actions[row*b.ActDim : (row+1)*b.ActDim]
}
