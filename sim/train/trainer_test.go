package train

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted a zero config")
	}
}

func TestNew_WiresTaskDimensions(t *testing.T) {
	tr, err := New(cartpoleRunConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := tr.Params()
	if p.ObsDim != 4 || p.ActDim != 1 {
		t.Errorf("params are %dx%d, want 4x1", p.ObsDim, p.ActDim)
	}
	if p.Version != 0 {
		t.Errorf("fresh params version = %d, want 0", p.Version)
	}
	if tr.Iteration() != 0 {
		t.Errorf("fresh trainer iteration = %d, want 0", tr.Iteration())
	}
	if tr.Store().Load() != p {
		t.Error("store does not publish the initial parameters")
	}
	if tr.Norm().Dim() != 4 {
		t.Errorf("normalizer width = %d, want 4", tr.Norm().Dim())
	}
}

func TestTrainer_RunProducesArtifactsAndCheckpoints(t *testing.T) {
	cfg := cartpoleRunConfig(t.TempDir())
	cfg.EvalEvery = 1
	cfg.EvalEpisodes = 2
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tr.Iteration() != cfg.Iterations {
		t.Errorf("Iteration = %d, want %d", tr.Iteration(), cfg.Iterations)
	}
	if got := tr.Params().Version; got != cfg.Iterations {
		t.Errorf("params version = %d, want one bump per iteration = %d", got, cfg.Iterations)
	}
	if tr.Store().Load() != tr.Params() {
		t.Error("store lags behind the trained parameters")
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutDir, "trace_data.csv"))
	if err != nil {
		t.Fatalf("trace data: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != cfg.Iterations+1 {
		t.Errorf("trace csv has %d lines, want header plus %d records", got, cfg.Iterations)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, "trace_header.yaml")); err != nil {
		t.Errorf("trace header: %v", err)
	}

	base := filepath.Join(cfg.OutDir, "checkpoints", "ckpt_000002")
	meta, err := LoadCheckpointMeta(base)
	if err != nil {
		t.Fatalf("final checkpoint: %v", err)
	}
	if meta.Iteration != 2 || meta.ParamsVersion != 2 {
		t.Errorf("checkpoint records iteration %d version %d, want 2/2", meta.Iteration, meta.ParamsVersion)
	}
	if want := cfg.Iterations * cfg.PPO.UpdateEpochs * cfg.PPO.Minibatches; meta.AdamStep != want {
		t.Errorf("AdamStep = %d, want %d", meta.AdamStep, want)
	}
}

func TestTrainer_FixedSeedRunsAreBitIdentical(t *testing.T) {
	cfgA := cartpoleRunConfig(t.TempDir())
	cfgB := cartpoleRunConfig(t.TempDir())

	trA, err := New(cfgA)
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	trB, err := New(cfgB)
	if err != nil {
		t.Fatalf("New B: %v", err)
	}
	if err := trA.Run(context.Background()); err != nil {
		t.Fatalf("Run A: %v", err)
	}
	if err := trB.Run(context.Background()); err != nil {
		t.Fatalf("Run B: %v", err)
	}

	requireTensorsEqual(t, "twin runs", trA.Params().Tensors(), trB.Params().Tensors())
	if !reflect.DeepEqual(trA.Norm().Stats(), trB.Norm().Stats()) {
		t.Error("twin runs disagree on observation statistics")
	}

	blobA, err := os.ReadFile(filepath.Join(cfgA.OutDir, "checkpoints", "ckpt_000002.bin"))
	if err != nil {
		t.Fatalf("checkpoint A: %v", err)
	}
	blobB, err := os.ReadFile(filepath.Join(cfgB.OutDir, "checkpoints", "ckpt_000002.bin"))
	if err != nil {
		t.Fatalf("checkpoint B: %v", err)
	}
	if !bytes.Equal(blobA, blobB) {
		t.Error("twin runs wrote different checkpoint blobs")
	}
}

func TestTrainer_CancelledRunCheckpointsBeforeReturning(t *testing.T) {
	cfg := cartpoleRunConfig(t.TempDir())
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = tr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if tr.Iteration() != 0 {
		t.Errorf("Iteration = %d, want 0 before the first collect", tr.Iteration())
	}
	if _, err := LoadCheckpoint(filepath.Join(cfg.OutDir, "checkpoints", "ckpt_000000")); err != nil {
		t.Errorf("interrupt checkpoint: %v", err)
	}
}

func TestTrainer_RestoreResumesAndFinishes(t *testing.T) {
	cfgA := cartpoleRunConfig(t.TempDir())
	trA, err := New(cfgA)
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	if err := trA.Run(context.Background()); err != nil {
		t.Fatalf("Run A: %v", err)
	}
	base := filepath.Join(cfgA.OutDir, "checkpoints", "ckpt_000002")

	cfgB := cartpoleRunConfig(t.TempDir())
	cfgB.Iterations = 3
	trB, err := New(cfgB)
	if err != nil {
		t.Fatalf("New B: %v", err)
	}
	if err := trB.Restore(base); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if trB.Iteration() != 2 {
		t.Errorf("resumed iteration = %d, want 2", trB.Iteration())
	}
	if trB.Params().Version != 2 {
		t.Errorf("resumed params version = %d, want 2", trB.Params().Version)
	}
	requireTensorsEqual(t, "restored tensors", trA.Params().Tensors(), trB.Params().Tensors())

	if err := trB.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if trB.Iteration() != 3 {
		t.Errorf("finished iteration = %d, want 3", trB.Iteration())
	}
	if trB.Params().Version != 3 {
		t.Errorf("finished params version = %d, want 3", trB.Params().Version)
	}
	if _, err := os.Stat(filepath.Join(cfgB.OutDir, "checkpoints", "ckpt_000003.bin")); err != nil {
		t.Errorf("final checkpoint of the resumed run: %v", err)
	}
}

func TestTrainer_RestoreRefusesForeignCheckpoints(t *testing.T) {
	cfgA := cartpoleRunConfig(t.TempDir())
	trA, err := New(cfgA)
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	if err := trA.Run(context.Background()); err != nil {
		t.Fatalf("Run A: %v", err)
	}
	base := filepath.Join(cfgA.OutDir, "checkpoints", "ckpt_000002")

	t.Run("different task name", func(t *testing.T) {
		cfg := cartpoleRunConfig(t.TempDir())
		cfg.Task.Name = "cartpole-hold"
		tr, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := tr.Restore(base); err == nil || !strings.Contains(err.Error(), "belongs to task") {
			t.Fatalf("err = %v, want task mismatch", err)
		}
	})

	t.Run("different architecture", func(t *testing.T) {
		cfg := cartpoleRunConfig(t.TempDir())
		cfg.Policy.Hidden = []int{16}
		tr, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := tr.Restore(base); err == nil || !strings.Contains(err.Error(), "architecture") {
			t.Fatalf("err = %v, want architecture mismatch", err)
		}
	})

	t.Run("different seed resumes with a warning", func(t *testing.T) {
		cfg := cartpoleRunConfig(t.TempDir())
		cfg.Seed = 9
		tr, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := tr.Restore(base); err != nil {
			t.Fatalf("seed change must not refuse the checkpoint: %v", err)
		}
	})
}

func TestTrainer_EvaluateIsDeterministicAcrossTrainers(t *testing.T) {
	cfg := cartpoleRunConfig(t.TempDir())
	trA, err := New(cfg)
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	trB, err := New(cfg)
	if err != nil {
		t.Fatalf("New B: %v", err)
	}

	sA, err := trA.Evaluate(3)
	if err != nil {
		t.Fatalf("Evaluate A: %v", err)
	}
	sB, err := trB.Evaluate(3)
	if err != nil {
		t.Fatalf("Evaluate B: %v", err)
	}
	if sA != sB {
		t.Errorf("evaluations diverged:\n%+v\n%+v", sA, sB)
	}
	if sA.Episodes < 3 {
		t.Errorf("Episodes = %d, want at least 3", sA.Episodes)
	}
	if sA.MeanLength < 1 || sA.MeanLength > float64(cfg.Task.EpisodeSteps) {
		t.Errorf("MeanLength = %v, want within (0, %d]", sA.MeanLength, cfg.Task.EpisodeSteps)
	}
}
