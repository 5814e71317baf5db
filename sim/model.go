package sim

import (
	"fmt"
	"math"
)

// Model describes a planar articulated robot as a tree of rigid bodies.
// Bodies are stored in topological order: Bodies[0] is the root, and every
// other body attaches to an earlier body through a hinge joint.
//
// Generalized coordinate layout (Nq == Nv, no quaternions in the plane):
//   - floating base: qpos[0]=x, qpos[1]=z, qpos[2]=root pitch, then one
//     hinge angle per body 1..len(Bodies)-1.
//   - fixed base: one hinge angle per body, body 0 hinging off the world
//     anchor.
//
// A body's absolute axis angle is parentAngle + AxisOffset + hingeAngle, so
// the home pose is all-zero hinge angles with AxisOffset carrying the
// geometry.
type Model struct {
	Name         string
	FloatingBase bool
	Anchor       [2]float64 // world attachment point for fixed-base models
	Bodies       []Body
	Actuators    []Actuator

	Gravity   float64 // magnitude, m/s^2
	Timestep  float64 // physics substep, seconds
	FrameSkip int     // physics substeps per control step

	Ground *GroundModel // nil disables ground contact

	// InitQpos is the home configuration written by Reset before jitter is
	// applied. Length Nq. Nil means all zeros.
	InitQpos []float64
}

// Body is one rigid segment of the tree. Its local axis runs from the joint
// toward the tip.
type Body struct {
	Name       string
	Parent     int     // index into Bodies, -1 for the root
	Attach     float64 // distance along the parent axis from parent joint to this joint
	AxisOffset float64 // fixed angle added between parent axis and this axis, rad
	Mass       float64 // kg
	Length     float64 // joint-to-tip, m
	COM        float64 // joint-to-center-of-mass along the axis, m
	Inertia    float64 // about the COM, kg m^2

	Joint Joint

	// ContactTip and ContactJoint mark the tip and the joint anchor as
	// ground contact points (toe and heel of a foot segment).
	ContactTip   bool
	ContactJoint bool
}

// Joint is the hinge connecting a body to its parent. The root body of a
// floating-base model has no hinge; its Joint fields are ignored except
// Damping and Armature, which apply to the base pitch degree of freedom.
type Joint struct {
	Armature float64 // reflected rotor inertia added to the diagonal
	Damping  float64 // viscous, N m s/rad
	Limited  bool
	Lower    float64 // rad
	Upper    float64 // rad

	// Range violations are resisted by a spring-damper. Required when
	// Limited is set; tune against the joint's reflected inertia and the
	// model timestep.
	LimitSpring float64 // N m/rad
	LimitDamper float64 // N m s/rad
}

// GroundModel is a penalty-based ground plane at z=0.
type GroundModel struct {
	Stiffness float64 // normal spring, N/m
	Damping   float64 // normal damper, N s/m
	Friction  float64 // Coulomb coefficient
	TangentK  float64 // tangential damper before the Coulomb cap, N s/m
}

// Nv returns the number of velocity degrees of freedom.
func (m *Model) Nv() int {
	if m.FloatingBase {
		return 3 + len(m.Bodies) - 1
	}
	return len(m.Bodies)
}

// Nq returns the number of position coordinates. Planar models carry no
// quaternions, so Nq always equals Nv.
func (m *Model) Nq() int { return m.Nv() }

// Nu returns the number of actuated inputs.
func (m *Model) Nu() int { return len(m.Actuators) }

// BaseDOF returns the number of unactuated base degrees of freedom.
func (m *Model) BaseDOF() int {
	if m.FloatingBase {
		return 3
	}
	return 0
}

// JointDOF maps a body index to its hinge's index in qpos/qvel, or -1 for
// the root of a floating base (whose pitch lives at index 2).
func (m *Model) JointDOF(body int) int {
	if m.FloatingBase {
		if body == 0 {
			return -1
		}
		return 2 + body
	}
	return body
}

// ControlDt returns the duration of one control step.
func (m *Model) ControlDt() float64 {
	return m.Timestep * float64(m.FrameSkip)
}

// JointNames returns the actuated joint names in actuator order.
func (m *Model) JointNames() []string {
	names := make([]string, len(m.Actuators))
	for i, a := range m.Actuators {
		names[i] = m.Bodies[a.Body].Name
	}
	return names
}

// Validate checks structural and numerical sanity. It must pass before a
// World is built from the model.
func (m *Model) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("model name must not be empty")
	}
	if len(m.Bodies) == 0 {
		return fmt.Errorf("model %q has no bodies", m.Name)
	}
	if m.Timestep <= 0 {
		return fmt.Errorf("model %q: timestep must be positive, got %g", m.Name, m.Timestep)
	}
	if m.FrameSkip < 1 {
		return fmt.Errorf("model %q: frame_skip must be >= 1, got %d", m.Name, m.FrameSkip)
	}
	if m.Gravity < 0 {
		return fmt.Errorf("model %q: gravity must be non-negative, got %g", m.Name, m.Gravity)
	}
	for i, b := range m.Bodies {
		if b.Name == "" {
			return fmt.Errorf("model %q: body %d has no name", m.Name, i)
		}
		if i == 0 && b.Parent != -1 {
			return fmt.Errorf("model %q: root body %q must have parent -1, got %d", m.Name, b.Name, b.Parent)
		}
		if i > 0 && (b.Parent < 0 || b.Parent >= i) {
			return fmt.Errorf("model %q: body %q parent %d is not an earlier body", m.Name, b.Name, b.Parent)
		}
		if b.Mass <= 0 {
			return fmt.Errorf("model %q: body %q mass must be positive, got %g", m.Name, b.Name, b.Mass)
		}
		if b.Length <= 0 {
			return fmt.Errorf("model %q: body %q length must be positive, got %g", m.Name, b.Name, b.Length)
		}
		if b.COM < 0 || b.COM > b.Length {
			return fmt.Errorf("model %q: body %q com %g outside [0, %g]", m.Name, b.Name, b.COM, b.Length)
		}
		if b.Inertia <= 0 {
			return fmt.Errorf("model %q: body %q inertia must be positive, got %g", m.Name, b.Name, b.Inertia)
		}
		if b.Joint.Limited {
			if b.Joint.Lower >= b.Joint.Upper {
				return fmt.Errorf("model %q: body %q joint limits [%g, %g] are inverted", m.Name, b.Name, b.Joint.Lower, b.Joint.Upper)
			}
			if b.Joint.LimitSpring <= 0 {
				return fmt.Errorf("model %q: body %q is limited but has no limit spring", m.Name, b.Name)
			}
		}
	}
	for i := range m.Actuators {
		if err := m.Actuators[i].validate(m, i); err != nil {
			return err
		}
	}
	if m.Ground != nil {
		if m.Ground.Stiffness <= 0 || m.Ground.Damping < 0 {
			return fmt.Errorf("model %q: ground stiffness/damping invalid (%g, %g)", m.Name, m.Ground.Stiffness, m.Ground.Damping)
		}
		if m.Ground.Friction < 0 {
			return fmt.Errorf("model %q: ground friction must be non-negative, got %g", m.Name, m.Ground.Friction)
		}
	}
	if m.InitQpos != nil && len(m.InitQpos) != m.Nq() {
		return fmt.Errorf("model %q: init_qpos length %d, want %d", m.Name, len(m.InitQpos), m.Nq())
	}
	return nil
}

// rodInertia returns the rotational inertia of a uniform rod about its center.
func rodInertia(mass, length float64) float64 {
	return mass * length * length / 12.0
}

const (
	walkerTorsoLen = 0.6
	walkerThighLen = 0.45
	walkerShinLen  = 0.5
	walkerFootLen  = 0.2
	walkerKneeBend = -0.05
	// Base height that puts the toes just at the ground with the home
	// knee bend.
	walkerInitHeight = 0.958
)

// NewWalkerModel builds the planar walker: a torso on a floating base with
// two legs of thigh, shin and foot. All six leg joints are PD-actuated. In
// the home pose the torso points up, legs hang down with a slight knee bend,
// and the feet point forward with heel and toe contact points.
func NewWalkerModel() *Model {
	bodies := []Body{
		{
			Name: "torso", Parent: -1, AxisOffset: math.Pi / 2,
			Mass: 10.0, Length: walkerTorsoLen, COM: walkerTorsoLen / 2,
			Inertia: rodInertia(10.0, walkerTorsoLen),
			Joint:   Joint{Armature: 0.01},
		},
	}
	for _, side := range []string{"left", "right"} {
		hipParent := 0
		thigh := len(bodies)
		bodies = append(bodies, Body{
			Name: side + "_thigh", Parent: hipParent, Attach: 0, AxisOffset: -math.Pi,
			Mass: 4.0, Length: walkerThighLen, COM: walkerThighLen / 2,
			Inertia: rodInertia(4.0, walkerThighLen),
			Joint: Joint{Armature: 0.01, Damping: 0.1, Limited: true, Lower: -0.8, Upper: 1.2,
				LimitSpring: 400, LimitDamper: 8},
		})
		bodies = append(bodies, Body{
			Name: side + "_shin", Parent: thigh, Attach: walkerThighLen,
			Mass: 2.5, Length: walkerShinLen, COM: walkerShinLen / 2,
			Inertia: rodInertia(2.5, walkerShinLen),
			Joint: Joint{Armature: 0.01, Damping: 0.1, Limited: true, Lower: -2.6, Upper: 0,
				LimitSpring: 400, LimitDamper: 8},
		})
		bodies = append(bodies, Body{
			Name: side + "_foot", Parent: thigh + 1, Attach: walkerShinLen, AxisOffset: math.Pi / 2,
			Mass: 1.0, Length: walkerFootLen, COM: walkerFootLen / 2,
			Inertia: rodInertia(1.0, walkerFootLen),
			Joint: Joint{Armature: 0.01, Damping: 0.1, Limited: true, Lower: -0.8, Upper: 0.8,
				LimitSpring: 400, LimitDamper: 8},
			ContactTip: true, ContactJoint: true,
		})
	}

	actuators := make([]Actuator, 0, 6)
	for i := 1; i < len(bodies); i++ {
		actuators = append(actuators, Actuator{
			Body: i, Kind: ActuatorPD,
			Kp: 80, Kd: 2, TorqueLimit: 60,
			CtrlLower: bodies[i].Joint.Lower, CtrlUpper: bodies[i].Joint.Upper,
		})
	}

	m := &Model{
		Name:         "walker",
		FloatingBase: true,
		Bodies:       bodies,
		Actuators:    actuators,
		Gravity:      9.81,
		Timestep:     0.005,
		FrameSkip:    4,
		Ground: &GroundModel{
			Stiffness: 12000, Damping: 200, Friction: 1.0, TangentK: 150,
		},
	}
	init := make([]float64, m.Nq())
	init[1] = walkerInitHeight
	init[4] = walkerKneeBend // left knee
	init[7] = walkerKneeBend // right knee
	m.InitQpos = init
	return m
}

// NewReacherModel builds a fixed-base two-link arm with direct torque
// actuators. The plane is horizontal, so in-plane gravity is zero and there
// is no ground contact.
func NewReacherModel() *Model {
	const (
		upperLen = 0.12
		lowerLen = 0.12
	)
	return &Model{
		Name:         "reacher",
		FloatingBase: false,
		Anchor:       [2]float64{0, 0},
		Bodies: []Body{
			{
				Name: "shoulder", Parent: -1,
				Mass: 0.5, Length: upperLen, COM: upperLen / 2,
				Inertia: rodInertia(0.5, upperLen),
				Joint:   Joint{Armature: 0.002, Damping: 0.02},
			},
			{
				Name: "elbow", Parent: 0, Attach: upperLen,
				Mass: 0.35, Length: lowerLen, COM: lowerLen / 2,
				Inertia: rodInertia(0.35, lowerLen),
				Joint: Joint{Armature: 0.002, Damping: 0.02, Limited: true, Lower: -3.0, Upper: 3.0,
					LimitSpring: 2, LimitDamper: 0.05},
			},
		},
		Actuators: []Actuator{
			{Body: 0, Kind: ActuatorTorque, Gear: 0.05, TorqueLimit: 0.5, CtrlLower: -1, CtrlUpper: 1},
			{Body: 1, Kind: ActuatorTorque, Gear: 0.05, TorqueLimit: 0.5, CtrlLower: -1, CtrlUpper: 1},
		},
		Gravity:   0,
		Timestep:  0.01,
		FrameSkip: 2,
	}
}
