package policy

import (
	"fmt"
	"math"
)

const (
	normEps  = 1e-8
	normClip = 10.0
)

// RunningNorm tracks per-dimension observation statistics with Welford's
// online algorithm. The collector updates it during rollouts; frozen
// snapshots travel with checkpoints and deployment artifacts so the same
// normalization applies at evaluation and on the robot.
type RunningNorm struct {
	Count float64
	Mean  []float64
	M2    []float64
}

// NewRunningNorm returns empty statistics for dim-wide observations.
func NewRunningNorm(dim int) *RunningNorm {
	return &RunningNorm{
		Mean: make([]float64, dim),
		M2:   make([]float64, dim),
	}
}

// Dim returns the observation width.
func (r *RunningNorm) Dim() int { return len(r.Mean) }

// Update folds one observation into the statistics.
func (r *RunningNorm) Update(x []float64) {
	r.Count++
	for d, v := range x {
		delta := v - r.Mean[d]
		r.Mean[d] += delta / r.Count
		r.M2[d] += delta * (v - r.Mean[d])
	}
}

// Normalize writes the standardized observation into out, clipped to
// +/-normClip. With fewer than two samples the input passes through
// unchanged.
func (r *RunningNorm) Normalize(x, out []float64) {
	if r.Count < 2 {
		copy(out, x)
		return
	}
	for d, v := range x {
		sd := math.Sqrt(r.M2[d]/r.Count + normEps)
		out[d] = clampf((v-r.Mean[d])/sd, -normClip, normClip)
	}
}

// Clone deep-copies the statistics.
func (r *RunningNorm) Clone() *RunningNorm {
	return &RunningNorm{
		Count: r.Count,
		Mean:  append([]float64(nil), r.Mean...),
		M2:    append([]float64(nil), r.M2...),
	}
}

// Restore overwrites the live statistics from a snapshot in place, so
// existing references stay valid across a checkpoint resume.
func (r *RunningNorm) Restore(s NormStats) error {
	if err := s.Validate(r.Dim()); err != nil {
		return err
	}
	r.Count = s.Count
	copy(r.Mean, s.Mean)
	for d, v := range s.Var {
		r.M2[d] = v * s.Count
	}
	return nil
}

// Stats freezes the statistics into their serialized form.
func (r *RunningNorm) Stats() NormStats {
	s := NormStats{
		Count: r.Count,
		Mean:  append([]float64(nil), r.Mean...),
		Var:   make([]float64, len(r.M2)),
	}
	if r.Count > 0 {
		for d, m2 := range r.M2 {
			s.Var[d] = m2 / r.Count
		}
	}
	return s
}

// NormStats is a frozen normalization snapshot.
type NormStats struct {
	Count float64   `yaml:"count"`
	Mean  []float64 `yaml:"mean"`
	Var   []float64 `yaml:"var"`
}

// Validate checks the snapshot against the expected observation width.
func (s *NormStats) Validate(dim int) error {
	if len(s.Mean) != dim || len(s.Var) != dim {
		return fmt.Errorf("normalization stats cover %d/%d dims, want %d", len(s.Mean), len(s.Var), dim)
	}
	for d, v := range s.Var {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("normalization variance for dim %d is %g", d, v)
		}
	}
	return nil
}

// Normalize applies the frozen statistics exactly like RunningNorm does.
func (s *NormStats) Normalize(x, out []float64) {
	if s.Count < 2 {
		copy(out, x)
		return
	}
	for d, v := range x {
		sd := math.Sqrt(s.Var[d] + normEps)
		out[d] = clampf((v-s.Mean[d])/sd, -normClip, normClip)
	}
}

// Running rebuilds live statistics from a snapshot, for checkpoint resume.
func (s *NormStats) Running() *RunningNorm {
	r := &RunningNorm{
		Count: s.Count,
		Mean:  append([]float64(nil), s.Mean...),
		M2:    make([]float64, len(s.Var)),
	}
	for d, v := range s.Var {
		r.M2[d] = v * s.Count
	}
	return r
}
