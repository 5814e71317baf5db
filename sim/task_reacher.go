package sim

import (
	"fmt"
	"math"
)

// reacherTask trains a fixed-base two-link arm to place its fingertip on a
// commanded target point. The target is the command vector; it resamples
// between (and optionally within) episodes.
type reacherTask struct {
	name    string
	model   *Model
	rewards rewardEngine
	terms   termEngine
	obsSpec Spec
	actSpec Spec
}

func buildReacherTask(spec *TaskSpec) (*TaskBundle, error) {
	m := NewReacherModel()
	spec.applyPhysics(m)
	backend, err := newChainBackend(m)
	if err != nil {
		return nil, err
	}
	if spec.Command.Dim() != 2 {
		return nil, fmt.Errorf("task %q: reacher needs a 2-dim target command, got %d dims", spec.Name, spec.Command.Dim())
	}
	reach := m.Bodies[0].Length + m.Bodies[1].Length
	for d, r := range spec.Command.Ranges {
		if math.Max(math.Abs(r.Min), math.Abs(r.Max)) > reach {
			return nil, fmt.Errorf("task %q: command dim %d range [%g, %g] exceeds arm reach %g", spec.Name, d, r.Min, r.Max, reach)
		}
	}

	t := &reacherTask{name: spec.Name, model: m}
	for _, r := range spec.Rewards {
		switch r.Kind {
		case "reach_dist":
			t.rewards.add(r.Kind, r.Scale, reachDist(m))
		case "ctrl_cost":
			t.rewards.add(r.Kind, r.Scale, ctrlCost)
		case "joint_vel_cost":
			t.rewards.add(r.Kind, r.Scale, jointVelCost(0))
		case "alive":
			t.rewards.add(r.Kind, r.Scale, aliveTerm)
		case "termination":
			t.rewards.add(r.Kind, r.Scale, terminationTerm)
		default:
			return nil, fmt.Errorf("task %q: reward %q does not apply to reacher", spec.Name, r.Kind)
		}
	}
	for _, c := range spec.Terminations {
		switch c.Kind {
		case "fast_acceleration":
			t.terms.add(fastAcceleration(c.MaxAccel, m.ControlDt()))
		default:
			return nil, fmt.Errorf("task %q: termination %q does not apply to reacher", spec.Name, c.Kind)
		}
	}
	t.terms.maxSteps = spec.EpisodeSteps

	t.obsSpec = Spec{Dims: []DimSpec{
		{Name: "shoulder_cos", Unit: "unitless"},
		{Name: "shoulder_sin", Unit: "unitless"},
		{Name: "elbow_cos", Unit: "unitless"},
		{Name: "elbow_sin", Unit: "unitless"},
		{Name: "shoulder_vel", Unit: "rad/s"},
		{Name: "elbow_vel", Unit: "rad/s"},
		{Name: "fingertip_x", Unit: "m"},
		{Name: "fingertip_z", Unit: "m"},
		{Name: "cmd_target_x", Unit: "m"},
		{Name: "cmd_target_z", Unit: "m"},
	}}
	t.actSpec = actuatorActSpec(m)
	return &TaskBundle{
		Task:    t,
		Backend: backend,
		Jitter:  spec.jitter(),
		Command: spec.Command,
	}, nil
}

// fingertip computes the arm tip position from the joint angles.
func fingertip(m *Model, qpos []float64) (float64, float64) {
	phi0 := qpos[0] + m.Bodies[0].AxisOffset
	phi1 := phi0 + qpos[1] + m.Bodies[1].AxisOffset
	x := m.Anchor[0] + m.Bodies[0].Length*math.Cos(phi0) + m.Bodies[1].Length*math.Cos(phi1)
	z := m.Anchor[1] + m.Bodies[0].Length*math.Sin(phi0) + m.Bodies[1].Length*math.Sin(phi1)
	return x, z
}

func reachDist(m *Model) rewardFn {
	return func(st *State, i int, action, cmd []float64, terminated bool) float64 {
		x, z := fingertip(m, st.Qpos[i])
		return math.Hypot(x-cmd[0], z-cmd[1])
	}
}

func (t *reacherTask) Name() string               { return t.name }
func (t *reacherTask) ObsSpec() Spec              { return t.obsSpec }
func (t *reacherTask) ActSpec() Spec              { return t.actSpec }
func (t *reacherTask) CommandDim() int            { return 2 }
func (t *reacherTask) RewardComponents() []string { return t.rewards.components() }

func (t *reacherTask) Observe(st *State, i int, cmd []float64, out []float64) {
	qpos, qvel := st.Qpos[i], st.Qvel[i]
	out[0] = math.Cos(qpos[0])
	out[1] = math.Sin(qpos[0])
	out[2] = math.Cos(qpos[1])
	out[3] = math.Sin(qpos[1])
	out[4] = qvel[0]
	out[5] = qvel[1]
	x, z := fingertip(t.model, qpos)
	out[6] = x
	out[7] = z
	out[8] = cmd[0]
	out[9] = cmd[1]
}

func (t *reacherTask) Reward(st *State, i int, action, cmd []float64, terminated bool, comps []float64) float64 {
	return t.rewards.total(st, i, action, cmd, terminated, comps)
}

func (t *reacherTask) IsTerminal(st *State, i int) bool {
	return t.terms.terminal(st, i)
}
