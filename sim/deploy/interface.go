// Package deploy turns trained parameters into self-contained artifacts a
// robot runtime can load, and validates them against the target robot's
// declared interface before anything is written.
package deploy

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loco-sim/loco-sim/sim"
)

// ErrMismatch marks a disagreement between a trained policy and a robot's
// declared interface. Export refuses to produce an artifact on it.
var ErrMismatch = errors.New("robot interface mismatch")

// RobotInterface is the tensor contract between a policy artifact and the
// robot runtime: what the policy reads, what it writes, and how often it is
// queried. Robot firmware ships its own copy of this document; export
// refuses to produce an artifact for a mismatched one.
type RobotInterface struct {
	Robot      string   `yaml:"robot"`
	ControlDt  float64  `yaml:"control_dt"` // seconds between policy queries
	Joints     []string `yaml:"joints"`     // actuated joint handles, action order
	Obs        sim.Spec `yaml:"obs"`
	Act        sim.Spec `yaml:"act"`
	CommandDim int      `yaml:"command_dim"`
}

// InterfaceFor derives the robot interface a task's policies are trained
// against.
func InterfaceFor(task sim.Task, backend sim.Backend) *RobotInterface {
	return &RobotInterface{
		Robot:      backend.Name(),
		ControlDt:  backend.Timestep() * float64(backend.FrameSkip()),
		Joints:     backend.ActuatedJoints(),
		Obs:        task.ObsSpec(),
		Act:        task.ActSpec(),
		CommandDim: task.CommandDim(),
	}
}

// Validate fails fast on an incomplete interface.
func (ri *RobotInterface) Validate() error {
	if ri.Robot == "" {
		return fmt.Errorf("robot interface: robot name must not be empty")
	}
	if ri.ControlDt <= 0 {
		return fmt.Errorf("robot interface %q: control_dt must be positive, got %g", ri.Robot, ri.ControlDt)
	}
	if len(ri.Joints) == 0 {
		return fmt.Errorf("robot interface %q: at least one actuated joint is required", ri.Robot)
	}
	if ri.Obs.Dim() == 0 {
		return fmt.Errorf("robot interface %q: observation spec is empty", ri.Robot)
	}
	if ri.Act.Dim() == 0 {
		return fmt.Errorf("robot interface %q: action spec is empty", ri.Robot)
	}
	if ri.CommandDim < 0 {
		return fmt.Errorf("robot interface %q: command_dim must be >= 0, got %d", ri.Robot, ri.CommandDim)
	}
	return nil
}

// Check verifies that a policy trained against ri can drive a robot
// declaring want. Everything the policy and the runtime exchange must agree
// exactly: dimension order, names, units, joints and control timing.
func (ri *RobotInterface) Check(want *RobotInterface) error {
	if ri.Robot != want.Robot {
		return fmt.Errorf("%w: policy trained for robot %q, target declares %q", ErrMismatch, ri.Robot, want.Robot)
	}
	if math.Abs(ri.ControlDt-want.ControlDt) > 1e-9 {
		return fmt.Errorf("%w: robot %q: policy expects control_dt %g, target runs %g", ErrMismatch, ri.Robot, ri.ControlDt, want.ControlDt)
	}
	if d := specDiff(ri.Obs, want.Obs); d != "" {
		return fmt.Errorf("%w: robot %q observation layout: %s", ErrMismatch, ri.Robot, d)
	}
	if d := specDiff(ri.Act, want.Act); d != "" {
		return fmt.Errorf("%w: robot %q action layout: %s", ErrMismatch, ri.Robot, d)
	}
	if ri.CommandDim != want.CommandDim {
		return fmt.Errorf("%w: robot %q: policy uses %d command dims, target declares %d", ErrMismatch, ri.Robot, ri.CommandDim, want.CommandDim)
	}
	if len(ri.Joints) != len(want.Joints) {
		return fmt.Errorf("%w: robot %q: policy drives %d joints, target declares %d", ErrMismatch, ri.Robot, len(ri.Joints), len(want.Joints))
	}
	for i, j := range ri.Joints {
		if j != want.Joints[i] {
			return fmt.Errorf("%w: robot %q joint %d: policy drives %q, target declares %q", ErrMismatch, ri.Robot, i, j, want.Joints[i])
		}
	}
	return nil
}

// specDiff names the first disagreement between two tensor specs, or returns
// an empty string when they match.
func specDiff(got, want sim.Spec) string {
	if got.Dim() != want.Dim() {
		return fmt.Sprintf("%d dims, target declares %d", got.Dim(), want.Dim())
	}
	for i, d := range got.Dims {
		w := want.Dims[i]
		if d.Name != w.Name {
			return fmt.Sprintf("dim %d is %q, target declares %q", i, d.Name, w.Name)
		}
		if d.Unit != w.Unit {
			return fmt.Sprintf("dim %d (%s) uses unit %q, target declares %q", i, d.Name, d.Unit, w.Unit)
		}
	}
	return ""
}

// LoadRobotInterface reads a robot interface declaration, rejecting unknown
// fields.
func LoadRobotInterface(path string) (*RobotInterface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading robot interface: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var ri RobotInterface
	if err := decoder.Decode(&ri); err != nil {
		return nil, fmt.Errorf("parsing robot interface %s: %w", path, err)
	}
	if err := ri.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ri, nil
}
