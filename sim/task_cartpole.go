package sim

import (
	"fmt"
)

// cartpoleTask is the classic balance benchmark: keep the pole upright and
// the cart on the rail for as long as possible. It runs without commands.
type cartpoleTask struct {
	name    string
	rewards rewardEngine
	terms   termEngine
	obsSpec Spec
	actSpec Spec
}

func buildCartpoleTask(spec *TaskSpec) (*TaskBundle, error) {
	if spec.Command.Dim() != 0 {
		return nil, fmt.Errorf("task %q: cartpole takes no commands, got %d dims", spec.Name, spec.Command.Dim())
	}
	backend := newCartpoleBackend()

	t := &cartpoleTask{name: spec.Name}
	for _, r := range spec.Rewards {
		switch r.Kind {
		case "alive":
			t.rewards.add(r.Kind, r.Scale, aliveTerm)
		case "termination":
			t.rewards.add(r.Kind, r.Scale, terminationTerm)
		case "ctrl_cost":
			t.rewards.add(r.Kind, r.Scale, ctrlCost)
		default:
			return nil, fmt.Errorf("task %q: reward %q does not apply to cartpole", spec.Name, r.Kind)
		}
	}
	for _, c := range spec.Terminations {
		switch c.Kind {
		case "cart_range":
			t.terms.add(coordBeyond(0, c.Limit))
		case "pole_angle":
			t.terms.add(coordBeyond(1, c.Limit))
		case "fast_acceleration":
			t.terms.add(fastAcceleration(c.MaxAccel, backend.Timestep()*float64(backend.FrameSkip())))
		default:
			return nil, fmt.Errorf("task %q: termination %q does not apply to cartpole", spec.Name, c.Kind)
		}
	}
	t.terms.maxSteps = spec.EpisodeSteps

	t.obsSpec = Spec{Dims: []DimSpec{
		{Name: "cart_pos", Unit: "m"},
		{Name: "cart_vel", Unit: "m/s"},
		{Name: "pole_angle", Unit: "rad"},
		{Name: "pole_vel", Unit: "rad/s"},
	}}
	t.actSpec = Spec{Dims: []DimSpec{
		{Name: "cart_force", Unit: "normalized"},
	}}
	return &TaskBundle{
		Task:    t,
		Backend: backend,
		Jitter:  spec.jitter(),
		Command: spec.Command,
	}, nil
}

func (t *cartpoleTask) Name() string               { return t.name }
func (t *cartpoleTask) ObsSpec() Spec              { return t.obsSpec }
func (t *cartpoleTask) ActSpec() Spec              { return t.actSpec }
func (t *cartpoleTask) CommandDim() int            { return 0 }
func (t *cartpoleTask) RewardComponents() []string { return t.rewards.components() }

func (t *cartpoleTask) Observe(st *State, i int, cmd []float64, out []float64) {
	out[0] = st.Qpos[i][0]
	out[1] = st.Qvel[i][0]
	out[2] = st.Qpos[i][1]
	out[3] = st.Qvel[i][1]
}

func (t *cartpoleTask) Reward(st *State, i int, action, cmd []float64, terminated bool, comps []float64) float64 {
	return t.rewards.total(st, i, action, cmd, terminated, comps)
}

func (t *cartpoleTask) IsTerminal(st *State, i int) bool {
	return t.terms.terminal(st, i)
}
