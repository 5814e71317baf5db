package sim

import (
	"math"
	"math/rand"
)

// Cartpole dynamics constants. The classic benchmark values: a 1 kg cart on
// a frictionless rail balancing a 0.1 kg pole of half-length 0.5 m.
const (
	cartpoleGravity   = 9.81
	cartpoleMassCart  = 1.0
	cartpoleMassPole  = 0.1
	cartpoleHalfPole  = 0.5
	cartpoleForceMax  = 10.0
	cartpoleTimestep  = 0.02
	cartpoleFrameSkip = 1
)

// cartpoleBackend is the closed-form cart-pole. Coordinates are qpos=[x,
// theta], qvel=[xdot, thetadot]; the single control is a force in
// [-cartpoleForceMax, cartpoleForceMax] scaled from a [-1, 1] input.
type cartpoleBackend struct{}

func newCartpoleBackend() *cartpoleBackend { return &cartpoleBackend{} }

func (c *cartpoleBackend) Name() string      { return "cartpole" }
func (c *cartpoleBackend) Nq() int           { return 2 }
func (c *cartpoleBackend) Nv() int           { return 2 }
func (c *cartpoleBackend) Nu() int           { return 1 }
func (c *cartpoleBackend) NumBodies() int    { return 2 }
func (c *cartpoleBackend) Timestep() float64 { return cartpoleTimestep }
func (c *cartpoleBackend) FrameSkip() int    { return cartpoleFrameSkip }

func (c *cartpoleBackend) ActuatedJoints() []string { return []string{"cart"} }

func (c *cartpoleBackend) Reset(qpos, qvel []float64, rng *rand.Rand, jit ResetJitter) {
	for k := range qpos {
		qpos[k] = 0
		if jit.QposScale > 0 {
			qpos[k] = uniform(rng, jit.QposScale)
		}
	}
	for k := range qvel {
		qvel[k] = 0
		if jit.QvelScale > 0 {
			qvel[k] = uniform(rng, jit.QvelScale)
		}
	}
}

func (c *cartpoleBackend) Substep(qpos, qvel, ctrl, massScale []float64) (ContactInfo, error) {
	massCart := cartpoleMassCart * massScale[0]
	massPole := cartpoleMassPole * massScale[1]
	totalMass := massCart + massPole
	poleMassLength := massPole * cartpoleHalfPole

	force := clamp(ctrl[0], -1, 1) * cartpoleForceMax
	cosTheta := math.Cos(qpos[1])
	sinTheta := math.Sin(qpos[1])

	temp := (force + poleMassLength*qvel[1]*qvel[1]*sinTheta) / totalMass
	thetaAcc := (cartpoleGravity*sinTheta - cosTheta*temp) /
		(cartpoleHalfPole * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	qpos[0] += cartpoleTimestep * qvel[0]
	qvel[0] += cartpoleTimestep * xAcc
	qpos[1] += cartpoleTimestep * qvel[1]
	qvel[1] += cartpoleTimestep * thetaAcc

	return ContactInfo{}, nil
}
