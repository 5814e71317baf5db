package rollout

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/loco-sim/loco-sim/sim"
	"github.com/loco-sim/loco-sim/sim/command"
	"github.com/loco-sim/loco-sim/sim/policy"
)

// Mode selects how actions are drawn from the policy distribution.
type Mode int

const (
	// Stochastic samples actions and updates observation statistics; used
	// during training.
	Stochastic Mode = iota
	// Greedy takes the distribution mode and freezes observation
	// statistics; used for evaluation.
	Greedy
)

// Collector runs one world/task pair for fixed horizons and fills trajectory
// batches. It owns the per-instance command state and the episode meters;
// policy parameters are passed per call so the same collector can serve
// successive versions.
type Collector struct {
	world *sim.World
	task  sim.Task
	src   *command.Source
	rng   *sim.PartitionedRNG
	norm  *policy.RunningNorm

	horizon int
	obsDim  int
	actDim  int

	// cmds holds each instance's active command, resampled on episode
	// boundaries and on mid-episode switches.
	cmds [][]float64

	// scratch reused across steps
	actions [][]float64
	raw     []float64
	normed  []float64
	comps   []float64
	x       *mat.Dense

	// per-instance episode accumulators, survive across Collect calls so
	// episodes spanning batch boundaries report full returns
	epReturn []float64
	epLength []int

	meter      *sim.Meter
	components *sim.ComponentMeter
}

// New builds a collector and validates that world, task and command source
// agree on their dimensions.
func New(world *sim.World, task sim.Task, src *command.Source, rng *sim.PartitionedRNG, norm *policy.RunningNorm, horizon int) (*Collector, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("rollout horizon must be >= 1, got %d", horizon)
	}
	obsDim := task.ObsSpec().Dim()
	actDim := task.ActSpec().Dim()
	if nu := world.Backend().Nu(); nu != actDim {
		return nil, fmt.Errorf("task %q declares %d actions but backend %q has %d actuators",
			task.Name(), actDim, world.Backend().Name(), nu)
	}
	if src.Dim() != task.CommandDim() {
		return nil, fmt.Errorf("task %q expects %d command dims but source provides %d",
			task.Name(), task.CommandDim(), src.Dim())
	}
	if norm.Dim() != obsDim {
		return nil, fmt.Errorf("observation normalizer has %d dims but task %q observes %d",
			norm.Dim(), task.Name(), obsDim)
	}
	n := world.N()
	c := &Collector{
		world:      world,
		task:       task,
		src:        src,
		rng:        rng,
		norm:       norm,
		horizon:    horizon,
		obsDim:     obsDim,
		actDim:     actDim,
		cmds:       make([][]float64, n),
		actions:    make([][]float64, n),
		raw:        make([]float64, obsDim),
		normed:     make([]float64, obsDim),
		comps:      make([]float64, len(task.RewardComponents())),
		x:          mat.NewDense(n, obsDim, nil),
		epReturn:   make([]float64, n),
		epLength:   make([]int, n),
		meter:      &sim.Meter{},
		components: sim.NewComponentMeter(task.RewardComponents()),
	}
	for i := 0; i < n; i++ {
		c.cmds[i] = make([]float64, src.Dim())
		c.actions[i] = make([]float64, actDim)
		c.sampleCommand(i)
	}
	return c, nil
}

// Horizon returns the number of steps per instance in each batch.
func (c *Collector) Horizon() int { return c.horizon }

// Meter returns the episode meter; the caller resets it between iterations.
func (c *Collector) Meter() *sim.Meter { return c.meter }

// Components returns the per-term reward meter.
func (c *Collector) Components() *sim.ComponentMeter { return c.components }

// ResetMeters clears both meters, typically at iteration boundaries.
func (c *Collector) ResetMeters() {
	c.meter.Reset()
	c.components.Reset()
}

func (c *Collector) sampleCommand(i int) {
	c.src.Sample(c.rng.ForInstance(sim.SubsystemCommand, i), c.cmds[i])
}

// Collect advances every instance exactly horizon steps under the given
// parameters and returns the filled batch. Instances that terminate or fault
// mid-horizon are reset in place and keep contributing transitions, so the
// batch shape is always N*H. In Stochastic mode the observation normalizer
// is updated from the raw observations; in Greedy mode it is read-only.
func (c *Collector) Collect(params *policy.Params, mode Mode) (*Batch, error) {
	if params.ObsDim != c.obsDim || params.ActDim != c.actDim {
		return nil, fmt.Errorf("parameters shaped %dx%d do not fit task %q (%dx%d)",
			params.ObsDim, params.ActDim, c.task.Name(), c.obsDim, c.actDim)
	}
	n := c.world.N()
	batch := NewBatch(n, c.horizon, c.obsDim, c.actDim)
	batch.ParamsVersion = params.Version

	for t := 0; t < c.horizon; t++ {
		st := c.world.State()
		for i := 0; i < n; i++ {
			c.task.Observe(st, i, c.cmds[i], c.raw)
			if mode == Stochastic {
				c.norm.Update(c.raw)
			}
			c.norm.Normalize(c.raw, c.normed)
			c.x.SetRow(i, c.normed)
			copy(batch.ObsRow(batch.Idx(i, t)), c.normed)
		}

		dist := params.Dist(c.x)
		values := params.Values(c.x)
		for i := 0; i < n; i++ {
			if mode == Stochastic {
				dist.Sample(c.rng.ForInstance(sim.SubsystemPolicy, i), i, c.actions[i])
			} else {
				dist.Mode(i, c.actions[i])
			}
			row := batch.Idx(i, t)
			copy(batch.ActionRow(row), c.actions[i])
			batch.LogProbs[row] = dist.LogProb(i, c.actions[i])
			batch.Values[row] = values[i]
		}

		faults, err := c.world.Step(c.actions)
		if err != nil {
			return nil, fmt.Errorf("rollout step %d: %w", t, err)
		}

		st = c.world.State()
		for i := 0; i < n; i++ {
			row := batch.Idx(i, t)
			done := faults[i]
			var reward float64
			if !faults[i] {
				terminated := c.task.IsTerminal(st, i)
				reward = c.task.Reward(st, i, c.actions[i], c.cmds[i], terminated, c.comps)
				c.components.Add(c.comps)
				done = terminated
			}
			batch.Rewards[row] = reward
			batch.Dones[row] = done
			c.epReturn[i] += reward
			c.epLength[i]++

			if done {
				c.meter.Record(c.epReturn[i], c.epLength[i])
				c.epReturn[i] = 0
				c.epLength[i] = 0
				if !faults[i] {
					// faulted instances were already force reset
					// inside Step
					c.world.ResetInstance(i)
				}
				c.sampleCommand(i)
			} else {
				// may switch the command mid-episode; the next
				// observation sees the new target
				c.src.Step(c.rng.ForInstance(sim.SubsystemCommand, i), c.cmds[i])
			}
		}
	}

	// Bootstrap values for the observation after the final step, with
	// frozen normalizer statistics.
	st := c.world.State()
	for i := 0; i < n; i++ {
		c.task.Observe(st, i, c.cmds[i], c.raw)
		c.norm.Normalize(c.raw, c.normed)
		c.x.SetRow(i, c.normed)
	}
	values := params.Values(c.x)
	copy(batch.Bootstrap, values)

	return batch, nil
}
