package sim

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/loco-sim/loco-sim/sim/command"
)

// DimSpec labels one observation or action dimension.
type DimSpec struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
}

// Spec is a fixed tensor interface: an ordered list of labelled dimensions.
// Specs are set at task construction and never change during a run; the
// deployment exporter compares them against the target robot's declared
// interface.
type Spec struct {
	Dims []DimSpec `yaml:"dims"`
}

// Dim returns the tensor width.
func (s Spec) Dim() int { return len(s.Dims) }

// Equal reports whether two specs agree in order, names and units.
func (s Spec) Equal(other Spec) bool {
	if len(s.Dims) != len(other.Dims) {
		return false
	}
	for i, d := range s.Dims {
		if d != other.Dims[i] {
			return false
		}
	}
	return true
}

// Task defines one robot problem: what the policy observes, how actions are
// scored and when an episode ends. Implementations are stateless with
// respect to instances; all per-instance data lives in the World's State and
// in the command vectors owned by the caller.
type Task interface {
	Name() string
	ObsSpec() Spec
	ActSpec() Spec

	// CommandDim is the width of the command vector appended to every
	// observation. Zero for tasks without commands.
	CommandDim() int

	// Observe writes instance i's observation (including command dims)
	// into out, which has ObsSpec().Dim() elements.
	Observe(st *State, i int, cmd []float64, out []float64)

	// Reward scores the control step that moved instance i into the
	// current state. action is the raw policy output, terminated reports
	// whether this step ended the episode. When comps is non-nil it
	// receives the per-component values in RewardComponents order.
	Reward(st *State, i int, action, cmd []float64, terminated bool, comps []float64) float64

	// RewardComponents names the weighted reward terms.
	RewardComponents() []string

	// IsTerminal reports whether instance i's episode is over, including
	// the episode step limit.
	IsTerminal(st *State, i int) bool
}

// TaskBundle is a fully wired task: the Task logic, the physics backend it
// runs on, and the reset/command randomization from the task spec.
type TaskBundle struct {
	Task    Task
	Backend Backend
	Jitter  ResetJitter
	Command command.Config
}

type taskBuilder func(*TaskSpec) (*TaskBundle, error)

var taskBuilders = map[string]taskBuilder{
	"walker":   buildWalkerTask,
	"reacher":  buildReacherTask,
	"cartpole": buildCartpoleTask,
}

// TaskKinds returns the registered robot names, sorted.
func TaskKinds() []string {
	kinds := make([]string, 0, len(taskBuilders))
	for k := range taskBuilders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// BuildTask validates spec and wires the task it describes.
func BuildTask(spec *TaskSpec) (*TaskBundle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return taskBuilders[spec.Robot](spec)
}

// TaskSpec is the YAML description of a trainable task. Unknown fields are
// rejected at load time.
type TaskSpec struct {
	Name         string            `yaml:"name"`
	Robot        string            `yaml:"robot"`
	EpisodeSteps int               `yaml:"episode_steps"`
	Rewards      []RewardSpec      `yaml:"rewards"`
	Terminations []TerminationSpec `yaml:"terminations"`
	Command      command.Config    `yaml:"command"`
	Reset        ResetSpec         `yaml:"reset"`
	Physics      PhysicsSpec       `yaml:"physics"`
}

// ResetSpec scales the per-reset randomization.
type ResetSpec struct {
	QposScale float64 `yaml:"qpos_scale"`
	QvelScale float64 `yaml:"qvel_scale"`
	MassScale float64 `yaml:"mass_scale"`
}

// PhysicsSpec overrides model integration settings. Zero values keep the
// model defaults.
type PhysicsSpec struct {
	Timestep  float64 `yaml:"timestep"`
	FrameSkip int     `yaml:"frame_skip"`
}

// Validate fails fast on any inconsistency, before a single simulation step
// runs.
func (t *TaskSpec) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name must not be empty")
	}
	if _, ok := taskBuilders[t.Robot]; !ok {
		return fmt.Errorf("task %q: unknown robot %q (valid: %v)", t.Name, t.Robot, TaskKinds())
	}
	if t.EpisodeSteps <= 0 {
		return fmt.Errorf("task %q: episode_steps must be positive, got %d", t.Name, t.EpisodeSteps)
	}
	if len(t.Rewards) == 0 {
		return fmt.Errorf("task %q: at least one reward term is required", t.Name)
	}
	for i := range t.Rewards {
		if err := t.Rewards[i].Validate(); err != nil {
			return fmt.Errorf("task %q reward %d: %w", t.Name, i, err)
		}
	}
	for i := range t.Terminations {
		if err := t.Terminations[i].Validate(); err != nil {
			return fmt.Errorf("task %q termination %d: %w", t.Name, i, err)
		}
	}
	if err := t.Command.Validate(); err != nil {
		return fmt.Errorf("task %q command: %w", t.Name, err)
	}
	if t.Reset.QposScale < 0 || t.Reset.QvelScale < 0 || t.Reset.MassScale < 0 {
		return fmt.Errorf("task %q: reset scales must be non-negative", t.Name)
	}
	if t.Physics.Timestep < 0 {
		return fmt.Errorf("task %q: physics timestep must be positive when set, got %g", t.Name, t.Physics.Timestep)
	}
	if t.Physics.FrameSkip < 0 {
		return fmt.Errorf("task %q: physics frame_skip must be positive when set, got %d", t.Name, t.Physics.FrameSkip)
	}
	return nil
}

// jitter converts the reset spec into world jitter.
func (t *TaskSpec) jitter() ResetJitter {
	return ResetJitter{
		QposScale: t.Reset.QposScale,
		QvelScale: t.Reset.QvelScale,
		MassScale: t.Reset.MassScale,
	}
}

// applyPhysics copies any integration overrides onto a chain model.
func (t *TaskSpec) applyPhysics(m *Model) {
	if t.Physics.Timestep > 0 {
		m.Timestep = t.Physics.Timestep
	}
	if t.Physics.FrameSkip > 0 {
		m.FrameSkip = t.Physics.FrameSkip
	}
}

// ParseTaskSpec decodes a strict-YAML task spec and validates it.
func ParseTaskSpec(data []byte) (*TaskSpec, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var spec TaskSpec
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing task spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadTaskSpec reads and parses a task spec file.
func LoadTaskSpec(path string) (*TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task spec: %w", err)
	}
	spec, err := ParseTaskSpec(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}
