package policy

import "fmt"

// Config describes the actor-critic network architecture and the Gaussian
// head shaping. The same Config must be used to rebuild a network from a
// checkpoint or deployment artifact.
type Config struct {
	// Hidden lists the widths of the fully connected hidden layers shared
	// by neither head; actor and critic are separate networks of this
	// shape.
	Hidden []int `yaml:"hidden"`

	// MeanScale bounds the action mean: mean = MeanScale * tanh(raw).
	MeanScale float64 `yaml:"mean_scale"`

	// Std head: std = clamp((softplus(raw) + MinStd) * VarScale,
	// MinStd, MaxStd).
	MinStd   float64 `yaml:"min_std"`
	MaxStd   float64 `yaml:"max_std"`
	VarScale float64 `yaml:"var_scale"`

	// InitScale multiplies the fan-in uniform weight initialization. The
	// actor's output layer is additionally shrunk so early policies stay
	// near the mean.
	InitScale float64 `yaml:"init_scale"`
}

// DefaultConfig returns the architecture used by the shipped task presets.
func DefaultConfig() Config {
	return Config{
		Hidden:    []int{64, 64},
		MeanScale: 1.0,
		MinStd:    0.01,
		MaxStd:    1.0,
		VarScale:  1.0,
		InitScale: 1.0,
	}
}

// Equal reports whether two configs build the same network, for checkpoint
// and artifact compatibility checks.
func (c Config) Equal(other Config) bool {
	if len(c.Hidden) != len(other.Hidden) {
		return false
	}
	for i, h := range c.Hidden {
		if h != other.Hidden[i] {
			return false
		}
	}
	return c.MeanScale == other.MeanScale &&
		c.MinStd == other.MinStd &&
		c.MaxStd == other.MaxStd &&
		c.VarScale == other.VarScale &&
		c.InitScale == other.InitScale
}

// Validate fails fast on an unusable architecture.
func (c *Config) Validate() error {
	if len(c.Hidden) == 0 {
		return fmt.Errorf("policy needs at least one hidden layer")
	}
	for i, h := range c.Hidden {
		if h < 1 {
			return fmt.Errorf("policy hidden layer %d has width %d", i, h)
		}
	}
	if c.MeanScale <= 0 {
		return fmt.Errorf("policy mean_scale must be positive, got %g", c.MeanScale)
	}
	if c.MinStd <= 0 {
		return fmt.Errorf("policy min_std must be positive, got %g", c.MinStd)
	}
	if c.MaxStd <= c.MinStd {
		return fmt.Errorf("policy max_std %g must exceed min_std %g", c.MaxStd, c.MinStd)
	}
	if c.VarScale <= 0 {
		return fmt.Errorf("policy var_scale must be positive, got %g", c.VarScale)
	}
	if c.InitScale <= 0 {
		return fmt.Errorf("policy init_scale must be positive, got %g", c.InitScale)
	}
	return nil
}
