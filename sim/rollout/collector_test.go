package rollout

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/loco-sim/loco-sim/sim"
	"github.com/loco-sim/loco-sim/sim/command"
	"github.com/loco-sim/loco-sim/sim/policy"
)

// driftBackend is a one-DOF integrator; faultAtCall injects a NaN on the
// k-th substep (1-based) to exercise fault handling mid-horizon.
type driftBackend struct {
	faultAtCall int
	calls       int
}

func (d *driftBackend) Name() string             { return "drift" }
func (d *driftBackend) Nq() int                  { return 1 }
func (d *driftBackend) Nv() int                  { return 1 }
func (d *driftBackend) Nu() int                  { return 1 }
func (d *driftBackend) NumBodies() int           { return 1 }
func (d *driftBackend) Timestep() float64        { return 0.05 }
func (d *driftBackend) FrameSkip() int           { return 1 }
func (d *driftBackend) ActuatedJoints() []string { return []string{"slider"} }

func (d *driftBackend) Reset(qpos, qvel []float64, rng *rand.Rand, jit sim.ResetJitter) {
	qpos[0] = 0
	qvel[0] = 0
	if jit.QposScale > 0 {
		qpos[0] = (2*rng.Float64() - 1) * jit.QposScale
	}
}

func (d *driftBackend) Substep(qpos, qvel, ctrl, massScale []float64) (sim.ContactInfo, error) {
	d.calls++
	if d.faultAtCall > 0 && d.calls == d.faultAtCall {
		qpos[0] = math.NaN()
	} else {
		qpos[0] += 0.05 * ctrl[0]
	}
	return sim.ContactInfo{}, nil
}

// driftTask pairs with driftBackend: one observed coordinate, constant
// reward, optional step limit that can be scoped to a single instance.
type driftTask struct {
	maxSteps     int
	termInstance int // -1 limits every instance
	actDims      int // 0 means 1
}

func (d *driftTask) Name() string { return "drift" }

func (d *driftTask) ObsSpec() sim.Spec {
	return sim.Spec{Dims: []sim.DimSpec{{Name: "slider_pos", Unit: "m"}}}
}

func (d *driftTask) ActSpec() sim.Spec {
	n := d.actDims
	if n == 0 {
		n = 1
	}
	dims := make([]sim.DimSpec, n)
	for i := range dims {
		dims[i] = sim.DimSpec{Name: "slider_force", Unit: "normalized"}
	}
	return sim.Spec{Dims: dims}
}

func (d *driftTask) CommandDim() int { return 0 }

func (d *driftTask) Observe(st *sim.State, i int, cmd, out []float64) {
	out[0] = st.Qpos[i][0]
}

func (d *driftTask) Reward(st *sim.State, i int, action, cmd []float64, terminated bool, comps []float64) float64 {
	if comps != nil {
		comps[0] = 1
	}
	return 1
}

func (d *driftTask) RewardComponents() []string { return []string{"constant"} }

func (d *driftTask) IsTerminal(st *sim.State, i int) bool {
	if d.maxSteps <= 0 {
		return false
	}
	if d.termInstance >= 0 && i != d.termInstance {
		return false
	}
	return st.StepCount[i] >= d.maxSteps
}

func balanceSpec(episodeSteps int) *sim.TaskSpec {
	return &sim.TaskSpec{
		Name:         "balance",
		Robot:        "cartpole",
		EpisodeSteps: episodeSteps,
		Rewards:      []sim.RewardSpec{{Kind: "alive", Scale: 1.0}},
		Reset:        sim.ResetSpec{QposScale: 0.05, QvelScale: 0.05},
	}
}

func newCartpoleCollector(t *testing.T, n, horizon, episodeSteps int, seed int64) (*Collector, *sim.World, *policy.RunningNorm, sim.Task) {
	t.Helper()
	bundle, err := sim.BuildTask(balanceSpec(episodeSteps))
	if err != nil {
		t.Fatalf("BuildTask: %v", err)
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(seed))
	world, err := sim.NewWorld(bundle.Backend, n, rng, bundle.Jitter)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	src, err := command.NewSource(bundle.Command)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	norm := policy.NewRunningNorm(bundle.Task.ObsSpec().Dim())
	col, err := New(world, bundle.Task, src, rng, norm, horizon)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return col, world, norm, bundle.Task
}

func cartpoleParams(t *testing.T, seed int64) *policy.Params {
	t.Helper()
	p, err := policy.NewParams(policy.DefaultConfig(), 4, 1, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return p
}

func newDriftCollector(t *testing.T, bk *driftBackend, task *driftTask, n, horizon int, seed int64, jit sim.ResetJitter) (*Collector, *sim.World) {
	t.Helper()
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(seed))
	world, err := sim.NewWorld(bk, n, rng, jit)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	src, err := command.NewSource(command.Config{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	norm := policy.NewRunningNorm(1)
	col, err := New(world, task, src, rng, norm, horizon)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return col, world
}

func driftParams(t *testing.T, actDim int) *policy.Params {
	t.Helper()
	p, err := policy.NewParams(policy.DefaultConfig(), 1, actDim, rand.New(rand.NewSource(0)))
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return p
}

func requireSameFloats(t *testing.T, label string, a, b []float64) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("%s: length %d vs %d", label, len(a), len(b))
	}
	for k := range a {
		if a[k] != b[k] {
			t.Fatalf("%s[%d]: %v != %v", label, k, a[k], b[k])
		}
	}
}

func TestNew_ValidatesDimensions(t *testing.T) {
	bundle, err := sim.BuildTask(balanceSpec(100))
	if err != nil {
		t.Fatal(err)
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(0))
	world, err := sim.NewWorld(bundle.Backend, 2, rng, bundle.Jitter)
	if err != nil {
		t.Fatal(err)
	}
	goodSrc, _ := command.NewSource(command.Config{})
	goodNorm := policy.NewRunningNorm(4)

	if _, err := New(world, bundle.Task, goodSrc, rng, goodNorm, 0); err == nil {
		t.Error("zero horizon accepted")
	}

	wideSrc, _ := command.NewSource(command.Config{Ranges: []command.Range{{Min: 0, Max: 1}}})
	if _, err := New(world, bundle.Task, wideSrc, rng, goodNorm, 8); err == nil || !strings.Contains(err.Error(), "command dims") {
		t.Errorf("command dim mismatch: err = %v", err)
	}

	badNorm := policy.NewRunningNorm(3)
	if _, err := New(world, bundle.Task, goodSrc, rng, badNorm, 8); err == nil || !strings.Contains(err.Error(), "normalizer") {
		t.Errorf("normalizer dim mismatch: err = %v", err)
	}

	wideTask := &driftTask{termInstance: -1, actDims: 2}
	driftWorld, err := sim.NewWorld(&driftBackend{}, 2, rng, sim.ResetJitter{})
	if err != nil {
		t.Fatal(err)
	}
	driftNorm := policy.NewRunningNorm(1)
	if _, err := New(driftWorld, wideTask, goodSrc, rng, driftNorm, 8); err == nil || !strings.Contains(err.Error(), "actuators") {
		t.Errorf("actuator mismatch: err = %v", err)
	}
}

func TestCollect_FixedShape(t *testing.T) {
	const (
		n = 4
		h = 8
	)
	col, _, _, _ := newCartpoleCollector(t, n, h, 500, 0)
	params := cartpoleParams(t, 0)
	params.Version = 7

	batch, err := col.Collect(params, Stochastic)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if batch.N != n || batch.H != h || batch.Rows() != n*h {
		t.Errorf("shape = %dx%d (%d rows)", batch.N, batch.H, batch.Rows())
	}
	if batch.ObsDim != 4 || batch.ActDim != 1 {
		t.Errorf("dims = %d/%d, want 4/1", batch.ObsDim, batch.ActDim)
	}
	if len(batch.Obs) != n*h*4 || len(batch.Actions) != n*h || len(batch.Rewards) != n*h {
		t.Error("flat storage sized wrong")
	}
	if len(batch.Bootstrap) != n {
		t.Errorf("bootstrap rows = %d, want %d", len(batch.Bootstrap), n)
	}
	if batch.ParamsVersion != 7 {
		t.Errorf("ParamsVersion = %d, want 7", batch.ParamsVersion)
	}
	if got := batch.Idx(2, 3); got != 2*h+3 {
		t.Errorf("Idx(2,3) = %d, want %d", got, 2*h+3)
	}
}

func TestCollect_StepLimitProducesDoneRows(t *testing.T) {
	const (
		n = 4
		h = 8
	)
	// three-step episodes end twice per instance inside one horizon
	col, _, norm, _ := newCartpoleCollector(t, n, h, 3, 1)
	params := cartpoleParams(t, 1)

	batch, err := col.Collect(params, Stochastic)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	for i := 0; i < n; i++ {
		for s := 0; s < h; s++ {
			wantDone := s == 2 || s == 5
			if got := batch.Dones[batch.Idx(i, s)]; got != wantDone {
				t.Errorf("instance %d step %d: done = %v, want %v", i, s, got, wantDone)
			}
		}
	}
	// the alive term pays every step except the terminal one
	for i := 0; i < n; i++ {
		for s := 0; s < h; s++ {
			want := 1.0
			if s == 2 || s == 5 {
				want = 0
			}
			if got := batch.Rewards[batch.Idx(i, s)]; got != want {
				t.Errorf("instance %d step %d: reward = %g, want %g", i, s, got, want)
			}
		}
	}

	m := col.Meter().Summary()
	if m.Episodes != 2*n {
		t.Errorf("episodes = %d, want %d", m.Episodes, 2*n)
	}
	if m.MeanReturn != 2 || m.MeanLength != 3 {
		t.Errorf("mean return/length = %g/%g, want 2/3", m.MeanReturn, m.MeanLength)
	}
	if norm.Count != float64(n*h) {
		t.Errorf("normalizer saw %g observations, want %d", norm.Count, n*h)
	}
}

func TestCollect_EpisodesSpanBatchBoundaries(t *testing.T) {
	col, _, _, _ := newCartpoleCollector(t, 2, 4, 3, 2)
	params := cartpoleParams(t, 2)

	for round := 0; round < 2; round++ {
		if _, err := col.Collect(params, Stochastic); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
	}

	meter := col.Meter()
	if meter.Episodes() != 4 {
		t.Fatalf("episodes = %d, want 4", meter.Episodes())
	}
	for e, length := range meter.Lengths {
		if length != 3 {
			t.Errorf("episode %d length = %d, want 3", e, length)
		}
	}
	for e, ret := range meter.Returns {
		if ret != 2 {
			t.Errorf("episode %d return = %g, want 2", e, ret)
		}
	}
}

func TestCollect_SameSeedBitIdentical(t *testing.T) {
	colA, _, _, _ := newCartpoleCollector(t, 4, 8, 50, 3)
	colB, _, _, _ := newCartpoleCollector(t, 4, 8, 50, 3)
	paramsA := cartpoleParams(t, 3)
	paramsB := cartpoleParams(t, 3)

	for round := 0; round < 2; round++ {
		a, err := colA.Collect(paramsA, Stochastic)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		b, err := colB.Collect(paramsB, Stochastic)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		requireSameFloats(t, "obs", a.Obs, b.Obs)
		requireSameFloats(t, "actions", a.Actions, b.Actions)
		requireSameFloats(t, "rewards", a.Rewards, b.Rewards)
		requireSameFloats(t, "logprobs", a.LogProbs, b.LogProbs)
		requireSameFloats(t, "values", a.Values, b.Values)
		requireSameFloats(t, "bootstrap", a.Bootstrap, b.Bootstrap)
		for k := range a.Dones {
			if a.Dones[k] != b.Dones[k] {
				t.Fatalf("dones[%d] differ", k)
			}
		}
	}
}

func TestCollect_FaultBecomesDoneWithZeroReward(t *testing.T) {
	const (
		n = 3
		h = 4
	)
	// substep calls run instance-major: call n+2 is instance 1 at step 1
	bk := &driftBackend{faultAtCall: n + 2}
	task := &driftTask{termInstance: -1}
	col, world := newDriftCollector(t, bk, task, n, h, 0, sim.ResetJitter{})
	params := driftParams(t, 1)

	batch, err := col.Collect(params, Stochastic)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	faultRow := batch.Idx(1, 1)
	if !batch.Dones[faultRow] {
		t.Error("faulted transition not marked done")
	}
	if batch.Rewards[faultRow] != 0 {
		t.Errorf("faulted transition reward = %g, want 0", batch.Rewards[faultRow])
	}
	if world.Faults() != 1 {
		t.Errorf("world faults = %d, want 1", world.Faults())
	}

	// only the faulted transition ends an episode
	for i := 0; i < n; i++ {
		for s := 0; s < h; s++ {
			if i == 1 && s == 1 {
				continue
			}
			row := batch.Idx(i, s)
			if batch.Dones[row] {
				t.Errorf("unexpected done at instance %d step %d", i, s)
			}
			if batch.Rewards[row] != 1 {
				t.Errorf("reward at instance %d step %d = %g", i, s, batch.Rewards[row])
			}
		}
	}

	meter := col.Meter()
	if meter.Episodes() != 1 {
		t.Fatalf("episodes = %d, want 1", meter.Episodes())
	}
	if meter.Returns[0] != 1 || meter.Lengths[0] != 2 {
		t.Errorf("fault episode return/length = %g/%d, want 1/2", meter.Returns[0], meter.Lengths[0])
	}

	// the faulted step contributes no reward components
	means := col.Components().Means()
	if means[0] != 1 {
		t.Errorf("component mean = %g, want 1", means[0])
	}
}

func TestCollect_PartialResetLeavesOthersBitIdentical(t *testing.T) {
	const (
		n = 2
		h = 8
	)
	jit := sim.ResetJitter{QposScale: 0.1}
	params := driftParams(t, 1)

	// instance 0 terminates every three steps in A and never in B
	colA, worldA := newDriftCollector(t, &driftBackend{}, &driftTask{maxSteps: 3, termInstance: 0}, n, h, 21, jit)
	colB, _ := newDriftCollector(t, &driftBackend{}, &driftTask{termInstance: -1}, n, h, 21, jit)

	a, err := colA.Collect(params, Greedy)
	if err != nil {
		t.Fatal(err)
	}
	b, err := colB.Collect(params, Greedy)
	if err != nil {
		t.Fatal(err)
	}

	if !a.Dones[a.Idx(0, 2)] || !a.Dones[a.Idx(0, 5)] {
		t.Fatal("instance 0 did not terminate on its step limit")
	}
	for s := 0; s < h; s++ {
		rowA := a.Idx(1, s)
		rowB := b.Idx(1, s)
		if a.Obs[rowA] != b.Obs[rowB] {
			t.Fatalf("step %d: instance 1 observation perturbed by instance 0's resets", s)
		}
		if a.Actions[rowA] != b.Actions[rowB] || a.Rewards[rowA] != b.Rewards[rowB] {
			t.Fatalf("step %d: instance 1 transition perturbed", s)
		}
	}
	if got := worldA.State().StepCount[0]; got != 2 {
		t.Errorf("instance 0 step count after horizon = %d, want 2", got)
	}
}

func TestCollect_GreedyFreezesNormalizer(t *testing.T) {
	col, _, norm, _ := newCartpoleCollector(t, 2, 6, 100, 4)
	params := cartpoleParams(t, 4)

	if _, err := col.Collect(params, Greedy); err != nil {
		t.Fatal(err)
	}
	if norm.Count != 0 {
		t.Errorf("greedy collection advanced normalizer count to %g", norm.Count)
	}

	if _, err := col.Collect(params, Stochastic); err != nil {
		t.Fatal(err)
	}
	if norm.Count != 12 {
		t.Errorf("stochastic collection count = %g, want 12", norm.Count)
	}
}

func TestCollect_BootstrapMatchesFinalValues(t *testing.T) {
	const n = 3
	col, world, norm, task := newCartpoleCollector(t, n, 5, 100, 5)
	params := cartpoleParams(t, 5)

	batch, err := col.Collect(params, Stochastic)
	if err != nil {
		t.Fatal(err)
	}

	raw := make([]float64, 4)
	normed := make([]float64, 4)
	x := mat.NewDense(n, 4, nil)
	for i := 0; i < n; i++ {
		task.Observe(world.State(), i, nil, raw)
		norm.Normalize(raw, normed)
		x.SetRow(i, normed)
	}
	requireSameFloats(t, "bootstrap", batch.Bootstrap, params.Values(x))
}

func TestCollect_RejectsMismatchedParams(t *testing.T) {
	col, _, _, _ := newCartpoleCollector(t, 2, 4, 100, 0)
	wide, err := policy.NewParams(policy.DefaultConfig(), 5, 1, rand.New(rand.NewSource(0)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := col.Collect(wide, Stochastic); err == nil || !strings.Contains(err.Error(), "do not fit") {
		t.Fatalf("err = %v, want a shape complaint", err)
	}
}
