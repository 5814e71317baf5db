// Package command generates the per-instance command vectors that steer a
// policy during training: target velocities for locomotion, goal positions
// for reaching. Commands are resampled stochastically so the policy learns
// to follow changing targets within one episode.
package command

import (
	"fmt"
	"math/rand"
)

// Range bounds one command dimension.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Config describes a command source. An empty Ranges list means the task
// runs without commands.
type Config struct {
	Ranges []Range `yaml:"ranges"`

	// SwitchProb is the per-control-step probability of resampling the
	// command mid-episode.
	SwitchProb float64 `yaml:"switch_prob"`

	// ZeroProb is the probability that a freshly sampled command is all
	// zeros, teaching the policy to stand still.
	ZeroProb float64 `yaml:"zero_prob"`
}

// Dim returns the command vector width.
func (c *Config) Dim() int { return len(c.Ranges) }

// Validate checks ranges and probabilities.
func (c *Config) Validate() error {
	for i, r := range c.Ranges {
		if r.Min > r.Max {
			return fmt.Errorf("command range %d: min %g > max %g", i, r.Min, r.Max)
		}
	}
	if c.SwitchProb < 0 || c.SwitchProb > 1 {
		return fmt.Errorf("switch_prob must be in [0, 1], got %g", c.SwitchProb)
	}
	if c.ZeroProb < 0 || c.ZeroProb > 1 {
		return fmt.Errorf("zero_prob must be in [0, 1], got %g", c.ZeroProb)
	}
	return nil
}

// Source draws command vectors from a validated Config. Callers supply the
// RNG so each instance can keep its own stream.
type Source struct {
	cfg Config
}

// NewSource validates cfg and returns a Source for it.
func NewSource(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{cfg: cfg}, nil
}

// Dim returns the command vector width.
func (s *Source) Dim() int { return s.cfg.Dim() }

// Sample draws a fresh command into out, which must have Dim elements.
func (s *Source) Sample(rng *rand.Rand, out []float64) {
	if s.Dim() == 0 {
		return
	}
	if s.cfg.ZeroProb > 0 && rng.Float64() < s.cfg.ZeroProb {
		for d := range out {
			out[d] = 0
		}
		return
	}
	for d, r := range s.cfg.Ranges {
		out[d] = r.Min + rng.Float64()*(r.Max-r.Min)
	}
}

// Step resamples out with probability SwitchProb and reports whether it did.
// Sources without dimensions never touch the RNG.
func (s *Source) Step(rng *rand.Rand, out []float64) bool {
	if s.Dim() == 0 || s.cfg.SwitchProb == 0 {
		return false
	}
	if rng.Float64() >= s.cfg.SwitchProb {
		return false
	}
	s.Sample(rng, out)
	return true
}
