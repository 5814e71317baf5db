package deploy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loco-sim/loco-sim/sim"
	"github.com/loco-sim/loco-sim/sim/command"
)

func walkerBundle(t *testing.T) *sim.TaskBundle {
	t.Helper()
	spec := sim.TaskSpec{
		Name:         "walker-velocity",
		Robot:        "walker",
		EpisodeSteps: 1000,
		Rewards: []sim.RewardSpec{
			{Kind: "tracking_lin_vel", Scale: 1.0, Sigma: 0.25},
			{Kind: "upright", Scale: 0.5},
		},
		Terminations: []sim.TerminationSpec{
			{Kind: "bad_height", Lower: 0.55, Upper: 1.4},
		},
		Command: command.Config{
			Ranges:     []command.Range{{Min: -0.5, Max: 1.5}},
			SwitchProb: 0.002,
		},
		Reset: sim.ResetSpec{QposScale: 0.05, QvelScale: 0.05},
	}
	bundle, err := sim.BuildTask(&spec)
	if err != nil {
		t.Fatalf("BuildTask: %v", err)
	}
	return bundle
}

// testInterface is a small self-consistent declaration for mismatch tests.
func testInterface() *RobotInterface {
	return &RobotInterface{
		Robot:     "cartpole",
		ControlDt: 0.02,
		Joints:    []string{"slider"},
		Obs: sim.Spec{Dims: []sim.DimSpec{
			{Name: "cart_pos", Unit: "m"},
			{Name: "cart_vel", Unit: "m/s"},
		}},
		Act:        sim.Spec{Dims: []sim.DimSpec{{Name: "slide_force", Unit: "n"}}},
		CommandDim: 0,
	}
}

func TestInterfaceFor_Walker(t *testing.T) {
	bundle := walkerBundle(t)
	ri := InterfaceFor(bundle.Task, bundle.Backend)

	if ri.Robot != "walker" {
		t.Errorf("Robot = %q, want walker", ri.Robot)
	}
	if ri.ControlDt != 0.02 {
		t.Errorf("ControlDt = %v, want 0.02", ri.ControlDt)
	}
	wantJoints := []string{"left_thigh", "left_shin", "left_foot", "right_thigh", "right_shin", "right_foot"}
	if len(ri.Joints) != len(wantJoints) {
		t.Fatalf("Joints = %v, want %v", ri.Joints, wantJoints)
	}
	for i, j := range wantJoints {
		if ri.Joints[i] != j {
			t.Errorf("Joints[%d] = %q, want %q", i, ri.Joints[i], j)
		}
	}
	if ri.Obs.Dim() != 19 || ri.Act.Dim() != 6 {
		t.Errorf("specs are %dx%d, want 19x6", ri.Obs.Dim(), ri.Act.Dim())
	}
	if ri.CommandDim != 1 {
		t.Errorf("CommandDim = %d, want 1", ri.CommandDim)
	}
	if err := ri.Validate(); err != nil {
		t.Errorf("derived interface invalid: %v", err)
	}
}

// TestInterfaceFor_MatchesShippedWalkerDeclaration pins the example robot
// declaration to the training-side interface: if either drifts, export
// would refuse real firmware files.
func TestInterfaceFor_MatchesShippedWalkerDeclaration(t *testing.T) {
	bundle := walkerBundle(t)
	trained := InterfaceFor(bundle.Task, bundle.Backend)

	declared, err := LoadRobotInterface(filepath.Join("..", "..", "examples", "walker-robot.yaml"))
	if err != nil {
		t.Fatalf("LoadRobotInterface: %v", err)
	}
	if err := trained.Check(declared); err != nil {
		t.Errorf("trained-vs-declared: %v", err)
	}
	if err := declared.Check(trained); err != nil {
		t.Errorf("declared-vs-trained: %v", err)
	}
}

func TestRobotInterface_Validate_RejectsIncompleteDeclarations(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RobotInterface)
		wantErr string
	}{
		{"empty robot", func(ri *RobotInterface) { ri.Robot = "" }, "robot name"},
		{"zero control dt", func(ri *RobotInterface) { ri.ControlDt = 0 }, "control_dt"},
		{"no joints", func(ri *RobotInterface) { ri.Joints = nil }, "joint"},
		{"empty obs", func(ri *RobotInterface) { ri.Obs = sim.Spec{} }, "observation spec"},
		{"empty act", func(ri *RobotInterface) { ri.Act = sim.Spec{} }, "action spec"},
		{"negative command dim", func(ri *RobotInterface) { ri.CommandDim = -1 }, "command_dim"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ri := testInterface()
			tc.mutate(ri)
			err := ri.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestRobotInterface_Check_FlagsEachMismatch(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RobotInterface)
		wantErr string
	}{
		{"robot name", func(ri *RobotInterface) { ri.Robot = "hopper" }, "target declares"},
		{"control dt", func(ri *RobotInterface) { ri.ControlDt = 0.04 }, "control_dt"},
		{"obs width", func(ri *RobotInterface) { ri.Obs.Dims = ri.Obs.Dims[:1] }, "observation layout"},
		{"obs name", func(ri *RobotInterface) { ri.Obs.Dims[0].Name = "cart_position" }, "observation layout"},
		{"obs unit", func(ri *RobotInterface) { ri.Obs.Dims[1].Unit = "mm/s" }, "unit"},
		{"act name", func(ri *RobotInterface) { ri.Act.Dims[0].Name = "force" }, "action layout"},
		{"command dim", func(ri *RobotInterface) { ri.CommandDim = 1 }, "command dims"},
		{"joint count", func(ri *RobotInterface) { ri.Joints = append(ri.Joints, "extra") }, "joints"},
		{"joint name", func(ri *RobotInterface) { ri.Joints[0] = "rail" }, "joint 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trained := testInterface()
			declared := testInterface()
			tc.mutate(declared)
			err := trained.Check(declared)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
			if !errors.Is(err, ErrMismatch) {
				t.Errorf("err = %v, want ErrMismatch", err)
			}
		})
	}
}

func TestRobotInterface_Check_AcceptsItselfAndTinyDtSlack(t *testing.T) {
	trained := testInterface()
	declared := testInterface()
	if err := trained.Check(declared); err != nil {
		t.Fatalf("identical interfaces rejected: %v", err)
	}
	declared.ControlDt += 1e-12
	if err := trained.Check(declared); err != nil {
		t.Fatalf("sub-nanosecond control_dt difference rejected: %v", err)
	}
}

func TestLoadRobotInterface_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.yaml")
	doc := `
robot: cartpole
control_dt: 0.02
firmware_version: 2
joints: [slider]
obs:
  dims:
    - { name: cart_pos, unit: m }
act:
  dims:
    - { name: slide_force, unit: n }
command_dim: 0
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("writing declaration: %v", err)
	}
	_, err := LoadRobotInterface(path)
	if err == nil || !strings.Contains(err.Error(), "firmware_version") {
		t.Fatalf("err = %v, want unknown field rejection", err)
	}
}

func TestLoadRobotInterface_RejectsInvalidDeclarations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.yaml")
	doc := `
robot: cartpole
control_dt: 0
joints: [slider]
obs:
  dims:
    - { name: cart_pos, unit: m }
act:
  dims:
    - { name: slide_force, unit: n }
command_dim: 0
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("writing declaration: %v", err)
	}
	_, err := LoadRobotInterface(path)
	if err == nil || !strings.Contains(err.Error(), "control_dt") {
		t.Fatalf("err = %v, want control_dt validation error", err)
	}
}

func TestLoadRobotInterface_MissingFile(t *testing.T) {
	if _, err := LoadRobotInterface(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("loading a nonexistent declaration succeeded")
	}
}
