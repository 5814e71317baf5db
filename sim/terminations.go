package sim

import (
	"fmt"
	"math"
)

// TerminationSpec selects one episode-ending condition.
//
//	bad_height         base height outside [lower, upper]
//	bad_pitch          |base pitch| beyond limit, rad
//	fast_acceleration  any velocity DOF changed faster than max_accel, 1/s^2
//	cart_range         |cart position| beyond limit, m
//	pole_angle         |pole angle| beyond limit, rad
type TerminationSpec struct {
	Kind     string  `yaml:"kind"`
	Lower    float64 `yaml:"lower"`
	Upper    float64 `yaml:"upper"`
	Limit    float64 `yaml:"limit"`
	MaxAccel float64 `yaml:"max_accel"`
}

var terminationKinds = map[string]bool{
	"bad_height":        true,
	"bad_pitch":         true,
	"fast_acceleration": true,
	"cart_range":        true,
	"pole_angle":        true,
}

// Validate checks the kind and its parameters.
func (t *TerminationSpec) Validate() error {
	if !terminationKinds[t.Kind] {
		return fmt.Errorf("unknown termination kind %q", t.Kind)
	}
	switch t.Kind {
	case "bad_height":
		if t.Lower >= t.Upper {
			return fmt.Errorf("termination %q: band [%g, %g] is inverted", t.Kind, t.Lower, t.Upper)
		}
	case "bad_pitch", "cart_range", "pole_angle":
		if t.Limit <= 0 {
			return fmt.Errorf("termination %q: limit must be positive, got %g", t.Kind, t.Limit)
		}
	case "fast_acceleration":
		if t.MaxAccel <= 0 {
			return fmt.Errorf("termination %q: max_accel must be positive, got %g", t.Kind, t.MaxAccel)
		}
	}
	return nil
}

type termFn func(st *State, i int) bool

// termEngine combines the configured conditions with the episode step
// limit.
type termEngine struct {
	checks   []termFn
	maxSteps int
}

func (e *termEngine) add(fn termFn) {
	e.checks = append(e.checks, fn)
}

func (e *termEngine) terminal(st *State, i int) bool {
	if st.StepCount[i] >= e.maxSteps {
		return true
	}
	for _, fn := range e.checks {
		if fn(st, i) {
			return true
		}
	}
	return false
}

func badHeight(lower, upper float64) termFn {
	return func(st *State, i int) bool {
		z := st.Qpos[i][1]
		return z < lower || z > upper
	}
}

func badPitch(limit float64) termFn {
	return func(st *State, i int) bool {
		return math.Abs(st.Qpos[i][2]) > limit
	}
}

func fastAcceleration(maxAccel, ctrlDt float64) termFn {
	return func(st *State, i int) bool {
		for k, v := range st.Qvel[i] {
			if math.Abs(v-st.PrevQvel[i][k])/ctrlDt > maxAccel {
				return true
			}
		}
		return false
	}
}

func coordBeyond(dof int, limit float64) termFn {
	return func(st *State, i int) bool {
		return math.Abs(st.Qpos[i][dof]) > limit
	}
}
