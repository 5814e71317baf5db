package sim

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Backend is one robot's physics kernel. Implementations advance a single
// instance; the World drives N of them in lock-step and owns all batching,
// fault recovery and reset bookkeeping.
type Backend interface {
	Name() string
	Nq() int
	Nv() int
	Nu() int
	NumBodies() int
	Timestep() float64
	FrameSkip() int

	// ActuatedJoints names the joint each actuator drives, in action
	// order. Deployment artifacts carry these as the robot-side handles.
	ActuatedJoints() []string

	// Reset writes a fresh start configuration for one instance.
	Reset(qpos, qvel []float64, rng *rand.Rand, jit ResetJitter)

	// Substep advances one physics timestep in place. ctrl has length Nu,
	// massScale length NumBodies.
	Substep(qpos, qvel, ctrl, massScale []float64) (ContactInfo, error)
}

// ResetJitter controls the randomization applied on every instance reset.
type ResetJitter struct {
	QposScale float64 // additive uniform on joint positions
	QvelScale float64 // additive uniform on joint velocities
	MassScale float64 // body masses scaled by 1 +/- this
}

// World advances N independent instances of one Backend in lock-step. It is
// the sole owner and mutator of its State; callers read the state between
// steps and never retain rows across a Step or Reset.
//
// A non-finite instance after a control step is a recoverable fault: the
// instance alone is force-reset and reported, the others are untouched.
type World struct {
	backend Backend
	n       int
	state   *State
	rng     *PartitionedRNG
	jitter  ResetJitter
	faults  int64
}

// NewWorld builds a world of n instances and resets all of them.
func NewWorld(backend Backend, n int, rng *PartitionedRNG, jit ResetJitter) (*World, error) {
	if n < 1 {
		return nil, fmt.Errorf("instance count must be >= 1, got %d", n)
	}
	w := &World{
		backend: backend,
		n:       n,
		state:   NewState(n, backend.Nq(), backend.Nv(), backend.NumBodies()),
		rng:     rng,
		jitter:  jit,
	}
	w.Reset(nil)
	return w, nil
}

// N returns the instance count.
func (w *World) N() int { return w.n }

// Backend returns the physics kernel driving this world.
func (w *World) Backend() Backend { return w.backend }

// State returns the live batched state. Read-only for callers.
func (w *World) State() *State { return w.state }

// Faults returns the number of numerical faults recovered so far.
func (w *World) Faults() int64 { return w.faults }

// ControlDt returns the simulated duration of one Step call.
func (w *World) ControlDt() float64 {
	return w.backend.Timestep() * float64(w.backend.FrameSkip())
}

// Reset re-initializes the instances selected by mask (nil resets all) and
// returns the live state. Each instance draws from its own RNG stream, so
// resetting any subset leaves every other instance's future bit-identical.
func (w *World) Reset(mask []bool) *State {
	for i := 0; i < w.n; i++ {
		if mask == nil || mask[i] {
			w.resetInstance(i)
		}
	}
	return w.state
}

// ResetInstance re-initializes a single instance.
func (w *World) ResetInstance(i int) {
	w.resetInstance(i)
}

func (w *World) resetInstance(i int) {
	st := w.state
	rng := w.rng.ForInstance(SubsystemPhysics, i)
	w.backend.Reset(st.Qpos[i], st.Qvel[i], rng, w.jitter)
	for b := range st.MassScale[i] {
		st.MassScale[i][b] = 1
		if w.jitter.MassScale > 0 {
			st.MassScale[i][b] += uniform(rng, w.jitter.MassScale)
		}
	}
	copy(st.PrevQpos[i], st.Qpos[i])
	copy(st.PrevQvel[i], st.Qvel[i])
	st.Contact[i] = ContactInfo{}
	st.StepCount[i] = 0
}

// Step advances every instance by one control step (FrameSkip substeps).
// actions must hold one row of length Nu per instance. The returned slice
// flags instances that hit a numerical fault and were force-reset; it is
// valid until the next Step call.
func (w *World) Step(actions [][]float64) ([]bool, error) {
	if len(actions) != w.n {
		return nil, fmt.Errorf("got %d action rows for %d instances", len(actions), w.n)
	}
	nu := w.backend.Nu()
	st := w.state
	faults := make([]bool, w.n)
	for i := 0; i < w.n; i++ {
		if len(actions[i]) != nu {
			return nil, fmt.Errorf("instance %d: action dim %d, want %d", i, len(actions[i]), nu)
		}
		copy(st.PrevQpos[i], st.Qpos[i])
		copy(st.PrevQvel[i], st.Qvel[i])

		var info ContactInfo
		var stepErr error
		for s := 0; s < w.backend.FrameSkip(); s++ {
			info, stepErr = w.backend.Substep(st.Qpos[i], st.Qvel[i], actions[i], st.MassScale[i])
			if stepErr != nil {
				break
			}
		}
		if stepErr != nil || !st.InstanceFinite(i) {
			w.faults++
			if stepErr != nil {
				logrus.Warnf("[world] instance %d fault after %d steps: %v; force reset", i, st.StepCount[i], stepErr)
			} else {
				logrus.Warnf("[world] instance %d diverged to non-finite state after %d steps; force reset", i, st.StepCount[i])
			}
			w.resetInstance(i)
			faults[i] = true
			continue
		}
		st.Contact[i] = info
		st.StepCount[i]++
	}
	return faults, nil
}
