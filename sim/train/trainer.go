package train

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loco-sim/loco-sim/sim"
	"github.com/loco-sim/loco-sim/sim/command"
	"github.com/loco-sim/loco-sim/sim/policy"
	"github.com/loco-sim/loco-sim/sim/rollout"
	"github.com/loco-sim/loco-sim/sim/trace"
)

// Trainer owns one training run. Each iteration passes through three phases
// in order: collect a batch, compute advantages, update the parameters. The
// parameter version equals the number of completed iterations.
type Trainer struct {
	cfg    Config
	key    sim.SimulationKey
	rng    *sim.PartitionedRNG
	task   sim.Task
	world  *sim.World
	coll   *rollout.Collector
	norm   *policy.RunningNorm
	params *policy.Params
	store  *policy.Store
	opt    *Adam

	iteration  int
	lastFaults int64

	// evaluation world, built on first use with streams derived from a
	// child key so eval never perturbs the training streams
	evalTask  sim.Task
	evalWorld *sim.World
	evalSrc   *command.Source
	evalRNG   *sim.PartitionedRNG
}

// New wires a trainer from a validated config. All randomness descends from
// the config seed through named streams, so two trainers with the same
// config produce bit-identical runs.
func New(cfg Config) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bundle, err := sim.BuildTask(&cfg.Task)
	if err != nil {
		return nil, err
	}
	key := sim.NewSimulationKey(cfg.Seed)
	rng := sim.NewPartitionedRNG(key)
	world, err := sim.NewWorld(bundle.Backend, cfg.Instances, rng, bundle.Jitter)
	if err != nil {
		return nil, err
	}
	src, err := command.NewSource(bundle.Command)
	if err != nil {
		return nil, err
	}
	obsDim := bundle.Task.ObsSpec().Dim()
	norm := policy.NewRunningNorm(obsDim)
	coll, err := rollout.New(world, bundle.Task, src, rng, norm, cfg.Horizon)
	if err != nil {
		return nil, err
	}
	params, err := policy.NewParams(cfg.Policy, obsDim, bundle.Task.ActSpec().Dim(), rng.ForSubsystem("init"))
	if err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:    cfg,
		key:    key,
		rng:    rng,
		task:   bundle.Task,
		world:  world,
		coll:   coll,
		norm:   norm,
		params: params,
		store:  policy.NewStore(params),
		opt:    NewAdam(params, cfg.PPO.LearningRate),
	}, nil
}

// Params returns the current parameter version.
func (t *Trainer) Params() *policy.Params { return t.params }

// Store returns the published-parameters store.
func (t *Trainer) Store() *policy.Store { return t.store }

// Iteration returns the number of completed iterations.
func (t *Trainer) Iteration() int { return t.iteration }

// Norm returns the live observation statistics.
func (t *Trainer) Norm() *policy.RunningNorm { return t.norm }

// Restore resumes from a checkpoint, refusing snapshots that do not belong
// to this run's task and architecture.
func (t *Trainer) Restore(base string) error {
	ck, err := LoadCheckpoint(base)
	if err != nil {
		return err
	}
	if ck.Meta.Run.Task.Name != t.cfg.Task.Name || ck.Meta.Run.Task.Robot != t.cfg.Task.Robot {
		return fmt.Errorf("checkpoint belongs to task %q robot %q, config trains %q on %q",
			ck.Meta.Run.Task.Name, ck.Meta.Run.Task.Robot, t.cfg.Task.Name, t.cfg.Task.Robot)
	}
	if ck.Meta.ObsDim != t.params.ObsDim || ck.Meta.ActDim != t.params.ActDim {
		return fmt.Errorf("checkpoint is %dx%d, task needs %dx%d",
			ck.Meta.ObsDim, ck.Meta.ActDim, t.params.ObsDim, t.params.ActDim)
	}
	if !ck.Meta.Run.Policy.Equal(t.cfg.Policy) {
		return fmt.Errorf("checkpoint policy architecture %+v differs from config %+v", ck.Meta.Run.Policy, t.cfg.Policy)
	}
	if ck.Meta.Run.Seed != t.cfg.Seed {
		logrus.Warnf("[train] resuming seed %d run with seed %d config; the combined run is not replayable",
			ck.Meta.Run.Seed, t.cfg.Seed)
	}
	if err := t.norm.Restore(ck.Meta.Norm); err != nil {
		return err
	}
	if err := t.opt.Restore(ck.AdamM, ck.AdamV, ck.Meta.AdamStep); err != nil {
		return err
	}
	t.params = ck.Params
	t.store.Publish(t.params)
	t.iteration = ck.Meta.Iteration
	logrus.Infof("[train] resumed at iteration %d (params version %d, %d optimizer steps)",
		t.iteration, t.params.Version, ck.Meta.AdamStep)
	return nil
}

// Run executes iterations until the configured count, the context is
// cancelled, or the optimizer diverges. Cancellation checkpoints before
// returning; divergence leaves the last checkpoint on disk untouched.
func (t *Trainer) Run(ctx context.Context) error {
	if err := os.MkdirAll(t.cfg.OutDir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	header := &trace.Header{
		Version:   1,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Task:      t.cfg.Task.Name,
		Robot:     t.cfg.Task.Robot,
		Seed:      t.cfg.Seed,
		Instances: t.cfg.Instances,
		Horizon:   t.cfg.Horizon,
	}
	tw, err := trace.NewWriter(header,
		filepath.Join(t.cfg.OutDir, "trace_header.yaml"),
		filepath.Join(t.cfg.OutDir, "trace_data.csv"))
	if err != nil {
		return err
	}
	defer func() { _ = tw.Close() }()

	logrus.Infof("[train] task %q robot %q: %d instances, horizon %d, %d iterations, seed %d",
		t.cfg.Task.Name, t.cfg.Task.Robot, t.cfg.Instances, t.cfg.Horizon, t.cfg.Iterations, t.cfg.Seed)
	logrus.Infof("[train] policy hidden %v: %d obs -> %d actions, %d parameters",
		t.cfg.Policy.Hidden, t.params.ObsDim, t.params.ActDim,
		t.params.Actor.NumParams()+t.params.Critic.NumParams())

	for t.iteration < t.cfg.Iterations {
		select {
		case <-ctx.Done():
			logrus.Warnf("[train] interrupted at iteration %d, checkpointing", t.iteration)
			if _, err := t.checkpoint(); err != nil {
				return err
			}
			return ctx.Err()
		default:
		}

		it := t.iteration
		t.coll.ResetMeters()
		batch, err := t.coll.Collect(t.params, rollout.Stochastic)
		if err != nil {
			return fmt.Errorf("iteration %d collect: %w", it, err)
		}

		ComputeAdvantages(batch, t.cfg.PPO.Gamma, t.cfg.PPO.Lambda)
		if t.cfg.PPO.NormalizeAdvantage {
			NormalizeAdvantages(batch.Advantages)
		}

		next := t.params.Clone()
		next.Version = t.params.Version + 1
		stats, err := UpdateParams(next, t.opt, batch, t.cfg.PPO, t.rng.ForSubsystem("train"))
		if err != nil {
			if errors.Is(err, ErrDivergence) {
				logrus.Errorf("[train] iteration %d aborted: %v (last checkpoint preserved)", it, err)
			}
			return fmt.Errorf("iteration %d update: %w", it, err)
		}
		t.params = next
		t.store.Publish(next)
		t.iteration = it + 1

		faults := t.world.Faults() - t.lastFaults
		t.lastFaults = t.world.Faults()
		summary := t.coll.Meter().Summary()
		logrus.Infof("[iter %04d] episodes=%d return=%.2f p50=%.2f len=%.1f ploss=%.4f vloss=%.4f ent=%.3f kl=%.4f clip=%.2f gnorm=%.3f",
			it, summary.Episodes, summary.MeanReturn, summary.P50Return, summary.MeanLength,
			stats.PolicyLoss, stats.ValueLoss, stats.Entropy, stats.KL, stats.ClipFrac, stats.GradNorm)
		if err := tw.Record(trace.IterationRecord{
			Iteration:     it,
			ParamsVersion: t.params.Version,
			Episodes:      summary.Episodes,
			MeanReturn:    summary.MeanReturn,
			P50Return:     summary.P50Return,
			MeanLength:    summary.MeanLength,
			PolicyLoss:    stats.PolicyLoss,
			ValueLoss:     stats.ValueLoss,
			Entropy:       stats.Entropy,
			KL:            stats.KL,
			ClipFrac:      stats.ClipFrac,
			GradNorm:      stats.GradNorm,
			Faults:        faults,
		}); err != nil {
			return fmt.Errorf("iteration %d: %w", it, err)
		}

		if t.cfg.EvalEvery > 0 && t.iteration%t.cfg.EvalEvery == 0 {
			es, err := t.Evaluate(t.cfg.EvalEpisodes)
			if err != nil {
				return fmt.Errorf("iteration %d eval: %w", it, err)
			}
			logrus.Infof("[eval %04d] episodes=%d return=%.2f p50=%.2f len=%.1f",
				it, es.Episodes, es.MeanReturn, es.P50Return, es.MeanLength)
		}
		if t.cfg.CheckpointEvery > 0 && t.iteration%t.cfg.CheckpointEvery == 0 {
			base, err := t.checkpoint()
			if err != nil {
				return err
			}
			logrus.Infof("[train] checkpoint %s", base)
		}
	}

	base, err := t.checkpoint()
	if err != nil {
		return err
	}
	logrus.Infof("[train] finished %d iterations, final checkpoint %s", t.iteration, base)
	return nil
}

// Evaluate runs greedy episodes under the current parameters on a dedicated
// evaluation world whose randomness never touches the training streams.
func (t *Trainer) Evaluate(episodes int) (sim.MeterSummary, error) {
	if t.evalWorld == nil {
		bundle, err := sim.BuildTask(&t.cfg.Task)
		if err != nil {
			return sim.MeterSummary{}, err
		}
		t.evalRNG = sim.NewPartitionedRNG(t.key.Child("eval"))
		world, err := sim.NewWorld(bundle.Backend, t.cfg.Instances, t.evalRNG, bundle.Jitter)
		if err != nil {
			return sim.MeterSummary{}, err
		}
		src, err := command.NewSource(bundle.Command)
		if err != nil {
			return sim.MeterSummary{}, err
		}
		t.evalTask = bundle.Task
		t.evalWorld = world
		t.evalSrc = src
	}
	return rollout.Evaluate(t.evalWorld, t.evalTask, t.evalSrc, t.evalRNG, t.params, t.norm.Stats(), episodes)
}

func (t *Trainer) checkpoint() (string, error) {
	dir := filepath.Join(t.cfg.OutDir, "checkpoints")
	return SaveCheckpoint(dir, t.iteration, t.cfg, t.params, t.opt, t.norm)
}
