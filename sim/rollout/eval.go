package rollout

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/loco-sim/loco-sim/sim"
	"github.com/loco-sim/loco-sim/sim/command"
	"github.com/loco-sim/loco-sim/sim/policy"
)

// Evaluate runs greedy episodes under frozen parameters and normalization
// statistics until at least the requested number of episodes finished,
// counting across all instances of the world. The world should be dedicated
// to evaluation; its instances are all reset up front.
func Evaluate(world *sim.World, task sim.Task, src *command.Source, rng *sim.PartitionedRNG, params *policy.Params, stats policy.NormStats, episodes int) (sim.MeterSummary, error) {
	if episodes < 1 {
		return sim.MeterSummary{}, fmt.Errorf("evaluation needs at least one episode, got %d", episodes)
	}
	obsDim := task.ObsSpec().Dim()
	actDim := task.ActSpec().Dim()
	if params.ObsDim != obsDim || params.ActDim != actDim {
		return sim.MeterSummary{}, fmt.Errorf("parameters shaped %dx%d do not fit task %q (%dx%d)",
			params.ObsDim, params.ActDim, task.Name(), obsDim, actDim)
	}
	if nu := world.Backend().Nu(); nu != actDim {
		return sim.MeterSummary{}, fmt.Errorf("task %q declares %d actions but backend %q has %d actuators",
			task.Name(), actDim, world.Backend().Name(), nu)
	}
	if src.Dim() != task.CommandDim() {
		return sim.MeterSummary{}, fmt.Errorf("task %q expects %d command dims but source provides %d",
			task.Name(), task.CommandDim(), src.Dim())
	}
	if err := stats.Validate(obsDim); err != nil {
		return sim.MeterSummary{}, fmt.Errorf("evaluating task %q: %w", task.Name(), err)
	}

	n := world.N()
	world.Reset(nil)
	cmds := make([][]float64, n)
	actions := make([][]float64, n)
	for i := 0; i < n; i++ {
		cmds[i] = make([]float64, src.Dim())
		actions[i] = make([]float64, actDim)
		src.Sample(rng.ForInstance(sim.SubsystemCommand, i), cmds[i])
	}

	x := mat.NewDense(n, obsDim, nil)
	raw := make([]float64, obsDim)
	normed := make([]float64, obsDim)
	epReturn := make([]float64, n)
	epLength := make([]int, n)
	meter := &sim.Meter{}

	for meter.Episodes() < episodes {
		st := world.State()
		for i := 0; i < n; i++ {
			task.Observe(st, i, cmds[i], raw)
			stats.Normalize(raw, normed)
			x.SetRow(i, normed)
		}
		dist := params.Dist(x)
		for i := 0; i < n; i++ {
			dist.Mode(i, actions[i])
		}
		faults, err := world.Step(actions)
		if err != nil {
			return sim.MeterSummary{}, fmt.Errorf("evaluation step: %w", err)
		}
		st = world.State()
		for i := 0; i < n; i++ {
			done := faults[i]
			var reward float64
			if !faults[i] {
				terminated := task.IsTerminal(st, i)
				reward = task.Reward(st, i, actions[i], cmds[i], terminated, nil)
				done = terminated
			}
			epReturn[i] += reward
			epLength[i]++
			if done {
				meter.Record(epReturn[i], epLength[i])
				epReturn[i] = 0
				epLength[i] = 0
				if !faults[i] {
					world.ResetInstance(i)
				}
				src.Sample(rng.ForInstance(sim.SubsystemCommand, i), cmds[i])
			} else {
				src.Step(rng.ForInstance(sim.SubsystemCommand, i), cmds[i])
			}
		}
	}
	return meter.Summary(), nil
}
