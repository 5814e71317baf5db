package sim

import (
	"fmt"
	"math"
)

// RewardSpec selects one weighted reward term. Scale multiplies the raw
// term value; penalties use negative scales.
type RewardSpec struct {
	Kind  string  `yaml:"kind"`
	Scale float64 `yaml:"scale"`

	// Sigma is the tolerance of exponential tracking terms.
	Sigma float64 `yaml:"sigma"`
}

// Raw reward term values before scaling:
//
//	tracking_lin_vel   exp(-(vx - cmd)^2 / sigma^2), floating base only
//	forward_vel        base forward velocity, m/s
//	upright            cosine of base pitch
//	alive              1 while the episode continues
//	termination        1 on the step that ends the episode
//	ctrl_cost          sum of squared action inputs
//	joint_vel_cost     sum of squared joint velocities
//	vertical_vel_cost  squared base vertical velocity
//	pitch_vel_cost     squared base pitch rate
//	reach_dist         fingertip distance to the commanded target, m
var rewardKinds = map[string]bool{
	"tracking_lin_vel":  true,
	"forward_vel":       true,
	"upright":           true,
	"alive":             true,
	"termination":       true,
	"ctrl_cost":         true,
	"joint_vel_cost":    true,
	"vertical_vel_cost": true,
	"pitch_vel_cost":    true,
	"reach_dist":        true,
}

// Validate checks the kind and its parameters.
func (r *RewardSpec) Validate() error {
	if !rewardKinds[r.Kind] {
		return fmt.Errorf("unknown reward kind %q", r.Kind)
	}
	if r.Scale == 0 {
		return fmt.Errorf("reward %q: scale must be non-zero", r.Kind)
	}
	if r.Kind == "tracking_lin_vel" && r.Sigma <= 0 {
		return fmt.Errorf("reward %q: sigma must be positive, got %g", r.Kind, r.Sigma)
	}
	return nil
}

// rewardFn computes one raw term for instance i.
type rewardFn func(st *State, i int, action, cmd []float64, terminated bool) float64

type rewardTerm struct {
	name  string
	scale float64
	fn    rewardFn
}

// rewardEngine evaluates a weighted sum of terms and exposes the breakdown
// for metering.
type rewardEngine struct {
	terms []rewardTerm
	names []string
}

func (e *rewardEngine) add(name string, scale float64, fn rewardFn) {
	e.terms = append(e.terms, rewardTerm{name: name, scale: scale, fn: fn})
	e.names = append(e.names, name)
}

func (e *rewardEngine) components() []string { return e.names }

// total evaluates the reward. When comps is non-nil it receives the scaled
// per-term values.
func (e *rewardEngine) total(st *State, i int, action, cmd []float64, terminated bool, comps []float64) float64 {
	var sum float64
	for t, term := range e.terms {
		v := term.scale * term.fn(st, i, action, cmd, terminated)
		if comps != nil {
			comps[t] = v
		}
		sum += v
	}
	return sum
}

// Shared term implementations. Terms that read base coordinates assume the
// floating-base layout (x, z, pitch prefix).

func ctrlCost(st *State, i int, action, cmd []float64, terminated bool) float64 {
	var sum float64
	for _, a := range action {
		sum += a * a
	}
	return sum
}

func aliveTerm(st *State, i int, action, cmd []float64, terminated bool) float64 {
	if terminated {
		return 0
	}
	return 1
}

func terminationTerm(st *State, i int, action, cmd []float64, terminated bool) float64 {
	if terminated {
		return 1
	}
	return 0
}

func trackingLinVel(sigma float64) rewardFn {
	inv := 1 / (sigma * sigma)
	return func(st *State, i int, action, cmd []float64, terminated bool) float64 {
		err := st.Qvel[i][0] - cmd[0]
		return math.Exp(-err * err * inv)
	}
}

func forwardVel(st *State, i int, action, cmd []float64, terminated bool) float64 {
	return st.Qvel[i][0]
}

func uprightTerm(st *State, i int, action, cmd []float64, terminated bool) float64 {
	return math.Cos(st.Qpos[i][2])
}

func jointVelCost(baseDOF int) rewardFn {
	return func(st *State, i int, action, cmd []float64, terminated bool) float64 {
		var sum float64
		for _, v := range st.Qvel[i][baseDOF:] {
			sum += v * v
		}
		return sum
	}
}

func verticalVelCost(st *State, i int, action, cmd []float64, terminated bool) float64 {
	v := st.Qvel[i][1]
	return v * v
}

func pitchVelCost(st *State, i int, action, cmd []float64, terminated bool) float64 {
	w := st.Qvel[i][2]
	return w * w
}
