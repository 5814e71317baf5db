package sim

import "math"

// State is the batched physical state of N independent instances. It is
// owned exclusively by the World that allocated it and is mutated only by
// World.Step and World.Reset; everything else reads it.
type State struct {
	N  int
	Nq int
	Nv int

	// Qpos and Qvel hold one row per instance.
	Qpos [][]float64
	Qvel [][]float64

	// PrevQpos and PrevQvel hold each instance's coordinates before its
	// most recent control step. Step refreshes them; Reset syncs them to
	// the fresh configuration.
	PrevQpos [][]float64
	PrevQvel [][]float64

	// MassScale holds per-body mass multipliers drawn at reset, one row of
	// len(model.Bodies) per instance.
	MassScale [][]float64

	// Contact is the last control step's contact summary per instance.
	Contact []ContactInfo

	// StepCount counts control steps since the instance's last reset.
	StepCount []int
}

// ContactInfo summarizes ground contact for one instance over one control
// step.
type ContactInfo struct {
	Touching    bool
	Points      int     // contact points touching at the end of the step
	NormalForce float64 // summed normal force at the end of the step, N
}

// NewState allocates a zeroed state for n instances.
func NewState(n, nq, nv, nbodies int) *State {
	s := &State{
		N:         n,
		Nq:        nq,
		Nv:        nv,
		Qpos:      make([][]float64, n),
		Qvel:      make([][]float64, n),
		PrevQpos:  make([][]float64, n),
		PrevQvel:  make([][]float64, n),
		MassScale: make([][]float64, n),
		Contact:   make([]ContactInfo, n),
		StepCount: make([]int, n),
	}
	for i := 0; i < n; i++ {
		s.Qpos[i] = make([]float64, nq)
		s.Qvel[i] = make([]float64, nv)
		s.PrevQpos[i] = make([]float64, nq)
		s.PrevQvel[i] = make([]float64, nv)
		s.MassScale[i] = make([]float64, nbodies)
		for b := range s.MassScale[i] {
			s.MassScale[i][b] = 1
		}
	}
	return s
}

// Clone deep-copies the state.
func (s *State) Clone() *State {
	c := &State{
		N:         s.N,
		Nq:        s.Nq,
		Nv:        s.Nv,
		Qpos:      cloneRows(s.Qpos),
		Qvel:      cloneRows(s.Qvel),
		PrevQpos:  cloneRows(s.PrevQpos),
		PrevQvel:  cloneRows(s.PrevQvel),
		MassScale: cloneRows(s.MassScale),
		Contact:   make([]ContactInfo, len(s.Contact)),
		StepCount: make([]int, len(s.StepCount)),
	}
	copy(c.Contact, s.Contact)
	copy(c.StepCount, s.StepCount)
	return c
}

// InstanceFinite reports whether instance i's coordinates are all finite.
func (s *State) InstanceFinite(i int) bool {
	return allFinite(s.Qpos[i]) && allFinite(s.Qvel[i])
}

func cloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
