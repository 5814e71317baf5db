package sim

import "fmt"

// ActuatorKind selects how a control input maps to joint torque.
type ActuatorKind string

const (
	// ActuatorTorque scales the control directly: tau = gear * ctrl.
	ActuatorTorque ActuatorKind = "torque"

	// ActuatorPD runs a position servo: the control is a target angle and
	// tau = kp*(target - q) - kd*qvel.
	ActuatorPD ActuatorKind = "position"
)

// Actuator drives one hinge joint. Torque output is always clamped to
// [-TorqueLimit, TorqueLimit] when the limit is positive.
type Actuator struct {
	Body int // body index whose hinge this actuator drives
	Kind ActuatorKind

	Gear float64 // torque mode only

	Kp float64 // position mode only
	Kd float64

	TorqueLimit float64

	// Control inputs are clamped to [CtrlLower, CtrlUpper] before use.
	CtrlLower float64
	CtrlUpper float64
}

// Torque computes the joint torque for control input ctrl given the joint's
// current angle and velocity.
func (a *Actuator) Torque(ctrl, q, qvel float64) float64 {
	ctrl = clamp(ctrl, a.CtrlLower, a.CtrlUpper)
	var tau float64
	switch a.Kind {
	case ActuatorPD:
		tau = a.Kp*(ctrl-q) - a.Kd*qvel
	default:
		tau = a.Gear * ctrl
	}
	if a.TorqueLimit > 0 {
		tau = clamp(tau, -a.TorqueLimit, a.TorqueLimit)
	}
	return tau
}

func (a *Actuator) validate(m *Model, i int) error {
	if a.Body <= 0 && m.FloatingBase {
		return fmt.Errorf("model %q: actuator %d drives body %d, which has no hinge", m.Name, i, a.Body)
	}
	if a.Body < 0 || a.Body >= len(m.Bodies) {
		return fmt.Errorf("model %q: actuator %d drives unknown body %d", m.Name, i, a.Body)
	}
	switch a.Kind {
	case ActuatorTorque:
		if a.Gear == 0 {
			return fmt.Errorf("model %q: torque actuator %d has zero gear", m.Name, i)
		}
	case ActuatorPD:
		if a.Kp <= 0 {
			return fmt.Errorf("model %q: position actuator %d needs kp > 0, got %g", m.Name, i, a.Kp)
		}
		if a.Kd < 0 {
			return fmt.Errorf("model %q: position actuator %d needs kd >= 0, got %g", m.Name, i, a.Kd)
		}
	default:
		return fmt.Errorf("model %q: actuator %d has unknown kind %q", m.Name, i, a.Kind)
	}
	if a.CtrlLower >= a.CtrlUpper {
		return fmt.Errorf("model %q: actuator %d ctrl range [%g, %g] is inverted", m.Name, i, a.CtrlLower, a.CtrlUpper)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
