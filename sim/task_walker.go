package sim

import (
	"fmt"
)

// walkerTask trains planar locomotion: track a commanded forward velocity
// while staying upright. The observation is the proprioceptive state
// (height, pitch, joint angles, all velocities), a foot contact flag, and
// the velocity command.
type walkerTask struct {
	name    string
	model   *Model
	rewards rewardEngine
	terms   termEngine
	obsSpec Spec
	actSpec Spec
}

func buildWalkerTask(spec *TaskSpec) (*TaskBundle, error) {
	m := NewWalkerModel()
	spec.applyPhysics(m)
	backend, err := newChainBackend(m)
	if err != nil {
		return nil, err
	}
	if spec.Command.Dim() != 1 {
		return nil, fmt.Errorf("task %q: walker needs a 1-dim velocity command, got %d dims", spec.Name, spec.Command.Dim())
	}

	t := &walkerTask{name: spec.Name, model: m}
	for _, r := range spec.Rewards {
		switch r.Kind {
		case "tracking_lin_vel":
			t.rewards.add(r.Kind, r.Scale, trackingLinVel(r.Sigma))
		case "forward_vel":
			t.rewards.add(r.Kind, r.Scale, forwardVel)
		case "upright":
			t.rewards.add(r.Kind, r.Scale, uprightTerm)
		case "alive":
			t.rewards.add(r.Kind, r.Scale, aliveTerm)
		case "termination":
			t.rewards.add(r.Kind, r.Scale, terminationTerm)
		case "ctrl_cost":
			t.rewards.add(r.Kind, r.Scale, ctrlCost)
		case "joint_vel_cost":
			t.rewards.add(r.Kind, r.Scale, jointVelCost(m.BaseDOF()))
		case "vertical_vel_cost":
			t.rewards.add(r.Kind, r.Scale, verticalVelCost)
		case "pitch_vel_cost":
			t.rewards.add(r.Kind, r.Scale, pitchVelCost)
		default:
			return nil, fmt.Errorf("task %q: reward %q does not apply to walker", spec.Name, r.Kind)
		}
	}
	for _, c := range spec.Terminations {
		switch c.Kind {
		case "bad_height":
			t.terms.add(badHeight(c.Lower, c.Upper))
		case "bad_pitch":
			t.terms.add(badPitch(c.Limit))
		case "fast_acceleration":
			t.terms.add(fastAcceleration(c.MaxAccel, m.ControlDt()))
		default:
			return nil, fmt.Errorf("task %q: termination %q does not apply to walker", spec.Name, c.Kind)
		}
	}
	t.terms.maxSteps = spec.EpisodeSteps

	t.obsSpec = walkerObsSpec(m)
	t.actSpec = actuatorActSpec(m)
	return &TaskBundle{
		Task:    t,
		Backend: backend,
		Jitter:  spec.jitter(),
		Command: spec.Command,
	}, nil
}

func walkerObsSpec(m *Model) Spec {
	dims := []DimSpec{
		{Name: "base_height", Unit: "m"},
		{Name: "base_pitch", Unit: "rad"},
	}
	for b := 1; b < len(m.Bodies); b++ {
		dims = append(dims, DimSpec{Name: m.Bodies[b].Name + "_pos", Unit: "rad"})
	}
	dims = append(dims,
		DimSpec{Name: "base_vx", Unit: "m/s"},
		DimSpec{Name: "base_vz", Unit: "m/s"},
		DimSpec{Name: "base_pitch_vel", Unit: "rad/s"},
	)
	for b := 1; b < len(m.Bodies); b++ {
		dims = append(dims, DimSpec{Name: m.Bodies[b].Name + "_vel", Unit: "rad/s"})
	}
	dims = append(dims,
		DimSpec{Name: "foot_contact", Unit: "bool"},
		DimSpec{Name: "cmd_forward_vel", Unit: "m/s"},
	)
	return Spec{Dims: dims}
}

// actuatorActSpec labels the action vector from the model's actuators:
// position targets for PD servos, normalized torques otherwise.
func actuatorActSpec(m *Model) Spec {
	dims := make([]DimSpec, len(m.Actuators))
	for i, a := range m.Actuators {
		name := m.Bodies[a.Body].Name
		if a.Kind == ActuatorPD {
			dims[i] = DimSpec{Name: name + "_target", Unit: "rad"}
		} else {
			dims[i] = DimSpec{Name: name + "_torque", Unit: "normalized"}
		}
	}
	return Spec{Dims: dims}
}

func (t *walkerTask) Name() string               { return t.name }
func (t *walkerTask) ObsSpec() Spec              { return t.obsSpec }
func (t *walkerTask) ActSpec() Spec              { return t.actSpec }
func (t *walkerTask) CommandDim() int            { return 1 }
func (t *walkerTask) RewardComponents() []string { return t.rewards.components() }

func (t *walkerTask) Observe(st *State, i int, cmd []float64, out []float64) {
	qpos, qvel := st.Qpos[i], st.Qvel[i]
	k := 0
	out[k] = qpos[1]
	k++
	out[k] = qpos[2]
	k++
	for _, q := range qpos[3:] {
		out[k] = q
		k++
	}
	for _, v := range qvel {
		out[k] = v
		k++
	}
	if st.Contact[i].Touching {
		out[k] = 1
	} else {
		out[k] = 0
	}
	k++
	out[k] = cmd[0]
}

func (t *walkerTask) Reward(st *State, i int, action, cmd []float64, terminated bool, comps []float64) float64 {
	return t.rewards.total(st, i, action, cmd, terminated, comps)
}

func (t *walkerTask) IsTerminal(st *State, i int) bool {
	return t.terms.terminal(st, i)
}
