// Package train implements the optimizer loop: collect a batch, compute
// advantages, update the parameters with clipped PPO, and keep checkpoints
// so interrupted runs resume where they stopped. The loop is strictly
// sequential and deterministic for a fixed seed.
package train

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loco-sim/loco-sim/sim"
	"github.com/loco-sim/loco-sim/sim/policy"
)

// PPOConfig groups the optimizer hyperparameters.
type PPOConfig struct {
	Gamma              float64 `yaml:"gamma"`
	Lambda             float64 `yaml:"lambda"`
	LearningRate       float64 `yaml:"learning_rate"`
	ClipParam          float64 `yaml:"clip_param"`
	ValueLossCoef      float64 `yaml:"value_loss_coef"`
	EntropyCoef        float64 `yaml:"entropy_coef"`
	MaxGradNorm        float64 `yaml:"max_grad_norm"` // 0 disables clipping
	UpdateEpochs       int     `yaml:"update_epochs"`
	Minibatches        int     `yaml:"minibatches"`
	NormalizeAdvantage bool    `yaml:"normalize_advantage"`
	ClipValueLoss      bool    `yaml:"clip_value_loss"`
}

// Validate checks every hyperparameter range.
func (c *PPOConfig) Validate() error {
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("ppo: gamma must be in (0, 1], got %g", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("ppo: lambda must be in [0, 1], got %g", c.Lambda)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("ppo: learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.ClipParam <= 0 {
		return fmt.Errorf("ppo: clip_param must be positive, got %g", c.ClipParam)
	}
	if c.ValueLossCoef < 0 {
		return fmt.Errorf("ppo: value_loss_coef must be >= 0, got %g", c.ValueLossCoef)
	}
	if c.EntropyCoef < 0 {
		return fmt.Errorf("ppo: entropy_coef must be >= 0, got %g", c.EntropyCoef)
	}
	if c.MaxGradNorm < 0 {
		return fmt.Errorf("ppo: max_grad_norm must be >= 0, got %g", c.MaxGradNorm)
	}
	if c.UpdateEpochs < 1 {
		return fmt.Errorf("ppo: update_epochs must be >= 1, got %d", c.UpdateEpochs)
	}
	if c.Minibatches < 1 {
		return fmt.Errorf("ppo: minibatches must be >= 1, got %d", c.Minibatches)
	}
	return nil
}

// Config is the complete description of one training run, parsed from a
// single YAML file.
type Config struct {
	Task sim.TaskSpec `yaml:"task"`

	Instances  int   `yaml:"instances"`
	Horizon    int   `yaml:"horizon"`
	Iterations int   `yaml:"iterations"`
	Seed       int64 `yaml:"seed"`

	Policy policy.Config `yaml:"policy"`
	PPO    PPOConfig     `yaml:"ppo"`

	OutDir          string `yaml:"out_dir"`
	CheckpointEvery int    `yaml:"checkpoint_every"` // 0 = final checkpoint only
	EvalEvery       int    `yaml:"eval_every"`       // 0 = no periodic evaluation
	EvalEpisodes    int    `yaml:"eval_episodes"`
}

// DefaultConfig returns the baseline hyperparameters. Task, iterations and
// output directory always come from the run's YAML file.
func DefaultConfig() Config {
	return Config{
		Instances:  16,
		Horizon:    128,
		Iterations: 500,
		Seed:       0,
		Policy:     policy.DefaultConfig(),
		PPO: PPOConfig{
			Gamma:              0.99,
			Lambda:             0.95,
			LearningRate:       3e-4,
			ClipParam:          0.2,
			ValueLossCoef:      1.0,
			EntropyCoef:        0.001,
			MaxGradNorm:        0.5,
			UpdateEpochs:       4,
			Minibatches:        4,
			NormalizeAdvantage: true,
			ClipValueLoss:      true,
		},
		OutDir:          "runs/latest",
		CheckpointEvery: 50,
		EvalEvery:       0,
		EvalEpisodes:    10,
	}
}

// Validate checks the whole run description, including the cross-field
// constraint that minibatches evenly split each iteration's transitions.
func (c *Config) Validate() error {
	if err := c.Task.Validate(); err != nil {
		return err
	}
	if c.Instances < 1 {
		return fmt.Errorf("instances must be >= 1, got %d", c.Instances)
	}
	if c.Horizon < 1 {
		return fmt.Errorf("horizon must be >= 1, got %d", c.Horizon)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be >= 1, got %d", c.Iterations)
	}
	if c.Seed < 0 {
		return fmt.Errorf("seed must be non-negative, got %d", c.Seed)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.PPO.Validate(); err != nil {
		return err
	}
	if rows := c.Instances * c.Horizon; rows%c.PPO.Minibatches != 0 {
		return fmt.Errorf("minibatches %d must evenly divide the %d transitions per iteration (%d instances x %d horizon)",
			c.PPO.Minibatches, rows, c.Instances, c.Horizon)
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir must be set")
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint_every must be >= 0, got %d", c.CheckpointEvery)
	}
	if c.EvalEvery < 0 {
		return fmt.Errorf("eval_every must be >= 0, got %d", c.EvalEvery)
	}
	if c.EvalEvery > 0 && c.EvalEpisodes < 1 {
		return fmt.Errorf("eval_episodes must be >= 1 when eval_every is set, got %d", c.EvalEpisodes)
	}
	return nil
}

// Digest returns a short hex fingerprint of the canonical YAML encoding.
// Deployment artifacts record it so a policy can be traced back to the
// exact run config that produced it.
func (c *Config) Digest() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ParseConfig reads a run description from YAML, over the defaults. Unknown
// fields are rejected so typos surface before any compute is spent.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing training config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and validates a run description file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening training config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseConfig(f)
}
