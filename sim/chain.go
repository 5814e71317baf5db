package sim

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// chainBackend advances a planar articulated tree with exact rigid-body
// dynamics. Per substep it runs forward kinematics, assembles the joint-space
// mass matrix from per-body Jacobians, accumulates gravity, Coriolis,
// damping, limit, actuator and ground forces, solves M qacc = tau by
// Cholesky factorization and integrates with semi-implicit Euler.
//
// Planar trees keep the body angular Jacobians constant (an angular rate is
// a plain sum of ancestor hinge rates), so the velocity-product term reduces
// to the translational centripetal accelerations, which the kinematics pass
// computes recursively.
type chainBackend struct {
	model *Model
	nv    int
	nb    int

	// angDOFs lists, per body, the velocity indices whose rates rotate the
	// body: base pitch plus every hinge on the root path including its own.
	angDOFs [][]int
	// pivotBody maps an angular velocity index to the body whose joint
	// anchor is the rotation pivot.
	pivotBody []int

	contacts []contactPoint

	// Kinematics scratch, one slot per body.
	phi, omega       []float64
	jointX, jointZ   []float64
	jointVX, jointVZ []float64
	jointBX, jointBZ []float64
	comX, comZ       []float64
	comVX, comVZ     []float64
	comBX, comBZ     []float64
	tipX, tipZ       []float64
	tipVX, tipVZ     []float64

	// Dynamics scratch.
	mtx       []float64 // nv x nv accumulation, upper triangle used
	sym       *mat.SymDense
	chol      mat.Cholesky
	tauData   []float64
	tau       *mat.VecDense
	acc       *mat.VecDense
	jx, jz    []float64 // Jacobian columns for the body being assembled
	activeBuf []int
}

type contactPoint struct {
	body  int
	atTip bool
}

func newChainBackend(m *Model) (*chainBackend, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	nv := m.Nv()
	nb := len(m.Bodies)
	c := &chainBackend{
		model:     m,
		nv:        nv,
		nb:        nb,
		angDOFs:   make([][]int, nb),
		pivotBody: make([]int, nv),
		mtx:       make([]float64, nv*nv),
		sym:       mat.NewSymDense(nv, nil),
		tauData:   make([]float64, nv),
		acc:       mat.NewVecDense(nv, nil),
		jx:        make([]float64, nv),
		jz:        make([]float64, nv),
		activeBuf: make([]int, 0, nv),
	}
	for _, buf := range []*[]float64{
		&c.phi, &c.omega,
		&c.jointX, &c.jointZ, &c.jointVX, &c.jointVZ, &c.jointBX, &c.jointBZ,
		&c.comX, &c.comZ, &c.comVX, &c.comVZ, &c.comBX, &c.comBZ,
		&c.tipX, &c.tipZ, &c.tipVX, &c.tipVZ,
	} {
		*buf = make([]float64, nb)
	}
	c.tau = mat.NewVecDense(nv, c.tauData)

	for i := range c.pivotBody {
		c.pivotBody[i] = -1
	}
	for b := 0; b < nb; b++ {
		var dofs []int
		if parent := m.Bodies[b].Parent; parent >= 0 {
			dofs = append(dofs, c.angDOFs[parent]...)
		} else if m.FloatingBase {
			dofs = append(dofs, 2)
			c.pivotBody[2] = 0
		}
		if j := m.JointDOF(b); j >= 0 {
			dofs = append(dofs, j)
			c.pivotBody[j] = b
		}
		c.angDOFs[b] = dofs

		if m.Bodies[b].ContactJoint {
			c.contacts = append(c.contacts, contactPoint{body: b, atTip: false})
		}
		if m.Bodies[b].ContactTip {
			c.contacts = append(c.contacts, contactPoint{body: b, atTip: true})
		}
	}
	return c, nil
}

func (c *chainBackend) Name() string      { return c.model.Name }
func (c *chainBackend) Nq() int           { return c.model.Nq() }
func (c *chainBackend) Nv() int           { return c.nv }
func (c *chainBackend) Nu() int           { return c.model.Nu() }
func (c *chainBackend) NumBodies() int    { return c.nb }
func (c *chainBackend) Timestep() float64 { return c.model.Timestep }
func (c *chainBackend) FrameSkip() int    { return c.model.FrameSkip }

func (c *chainBackend) ActuatedJoints() []string {
	names := make([]string, len(c.model.Actuators))
	for i, a := range c.model.Actuators {
		names[i] = c.model.Bodies[a.Body].Name
	}
	return names
}

// Reset writes the home configuration plus jitter into qpos and qvel.
// Base x and z are never jittered; penetration depth at spawn stays fixed.
func (c *chainBackend) Reset(qpos, qvel []float64, rng *rand.Rand, jit ResetJitter) {
	for k := range qpos {
		if c.model.InitQpos != nil {
			qpos[k] = c.model.InitQpos[k]
		} else {
			qpos[k] = 0
		}
	}
	for k := range qvel {
		qvel[k] = 0
	}
	if jit.QposScale > 0 {
		for k := range qpos {
			if c.model.FloatingBase && k < 2 {
				continue
			}
			qpos[k] += uniform(rng, jit.QposScale)
		}
	}
	if jit.QvelScale > 0 {
		for k := range qvel {
			if c.model.FloatingBase && k < 2 {
				continue
			}
			qvel[k] += uniform(rng, jit.QvelScale)
		}
	}
}

// Substep advances one physics timestep in place. The returned ContactInfo
// reflects forces measured during this substep.
func (c *chainBackend) Substep(qpos, qvel, ctrl, massScale []float64) (ContactInfo, error) {
	m := c.model
	c.kinematics(qpos, qvel)

	for k := range c.mtx {
		c.mtx[k] = 0
	}
	for k := range c.tauData {
		c.tauData[k] = 0
	}

	floating := m.FloatingBase
	for b := 0; b < c.nb; b++ {
		body := &m.Bodies[b]
		ms := massScale[b]
		mass := ms * body.Mass
		inertia := ms * body.Inertia

		active := c.pointJacobian(b, c.comX[b], c.comZ[b], floating)

		// Inertia: translational through the COM Jacobian, rotational
		// through the constant angular rows.
		for ai := 0; ai < len(active); ai++ {
			k := active[ai]
			for aj := ai; aj < len(active); aj++ {
				l := active[aj]
				c.mtx[k*c.nv+l] += mass * (c.jx[k]*c.jx[l] + c.jz[k]*c.jz[l])
			}
		}
		ang := c.angDOFs[b]
		for ai := 0; ai < len(ang); ai++ {
			k := ang[ai]
			for aj := ai; aj < len(ang); aj++ {
				c.mtx[k*c.nv+ang[aj]] += inertia
			}
		}

		// Gravity and the velocity-product (centripetal) bias share the
		// same projection.
		fx := -mass * c.comBX[b]
		fz := -mass * (m.Gravity + c.comBZ[b])
		for _, k := range active {
			c.tauData[k] += c.jx[k]*fx + c.jz[k]*fz
		}
	}

	// Hinge-local forces: damping, range springs, actuation.
	for b := 0; b < c.nb; b++ {
		j := m.JointDOF(b)
		joint := &m.Bodies[b].Joint
		if j < 0 {
			if floating && joint.Damping > 0 {
				c.tauData[2] -= joint.Damping * qvel[2]
			}
			continue
		}
		c.tauData[j] -= joint.Damping * qvel[j]
		if joint.Limited {
			if q := qpos[j]; q < joint.Lower {
				c.tauData[j] += joint.LimitSpring*(joint.Lower-q) - joint.LimitDamper*qvel[j]
			} else if q > joint.Upper {
				c.tauData[j] += joint.LimitSpring*(joint.Upper-q) - joint.LimitDamper*qvel[j]
			}
		}
	}
	for ai := range m.Actuators {
		a := &m.Actuators[ai]
		j := m.JointDOF(a.Body)
		c.tauData[j] += a.Torque(ctrl[ai], qpos[j], qvel[j])
	}

	var info ContactInfo
	if m.Ground != nil {
		info = c.applyGround(floating)
	}

	// Armature keeps the factorization positive definite even for
	// stretched singular poses.
	for b := 0; b < c.nb; b++ {
		arm := m.Bodies[b].Joint.Armature
		if arm == 0 {
			continue
		}
		j := m.JointDOF(b)
		if j < 0 {
			if floating {
				c.mtx[2*c.nv+2] += arm
			}
			continue
		}
		c.mtx[j*c.nv+j] += arm
	}

	for i := 0; i < c.nv; i++ {
		for j := i; j < c.nv; j++ {
			c.sym.SetSym(i, j, c.mtx[i*c.nv+j])
		}
	}
	if ok := c.chol.Factorize(c.sym); !ok {
		return info, fmt.Errorf("mass matrix of %q lost positive definiteness", m.Name)
	}
	if err := c.chol.SolveVecTo(c.acc, c.tau); err != nil {
		return info, fmt.Errorf("solving %q dynamics: %w", m.Name, err)
	}

	dt := m.Timestep
	for k := 0; k < c.nv; k++ {
		qvel[k] += dt * c.acc.AtVec(k)
		qpos[k] += dt * qvel[k]
	}
	return info, nil
}

// kinematics fills the per-body position, velocity and bias-acceleration
// scratch from the generalized coordinates.
func (c *chainBackend) kinematics(qpos, qvel []float64) {
	m := c.model
	for b := 0; b < c.nb; b++ {
		body := &m.Bodies[b]
		var px, pz, vx, vz, bx, bz, phiP, omgP float64
		if p := body.Parent; p >= 0 {
			d := body.Attach
			dirX, dirZ := cosSin(c.phi[p])
			px = c.jointX[p] + d*dirX
			pz = c.jointZ[p] + d*dirZ
			vx = c.jointVX[p] - d*c.omega[p]*dirZ
			vz = c.jointVZ[p] + d*c.omega[p]*dirX
			w2 := c.omega[p] * c.omega[p]
			bx = c.jointBX[p] - d*w2*dirX
			bz = c.jointBZ[p] - d*w2*dirZ
			phiP = c.phi[p]
			omgP = c.omega[p]
		} else if m.FloatingBase {
			px, pz = qpos[0], qpos[1]
			vx, vz = qvel[0], qvel[1]
		} else {
			px, pz = m.Anchor[0], m.Anchor[1]
		}
		c.jointX[b], c.jointZ[b] = px, pz
		c.jointVX[b], c.jointVZ[b] = vx, vz
		c.jointBX[b], c.jointBZ[b] = bx, bz

		phi := phiP + body.AxisOffset
		omg := omgP
		if j := m.JointDOF(b); j >= 0 {
			phi += qpos[j]
			omg += qvel[j]
		} else if m.FloatingBase {
			phi += qpos[2]
			omg += qvel[2]
		}
		c.phi[b], c.omega[b] = phi, omg

		dirX, dirZ := cosSin(phi)
		w2 := omg * omg
		cc := body.COM
		c.comX[b] = px + cc*dirX
		c.comZ[b] = pz + cc*dirZ
		c.comVX[b] = vx - cc*omg*dirZ
		c.comVZ[b] = vz + cc*omg*dirX
		c.comBX[b] = bx - cc*w2*dirX
		c.comBZ[b] = bz - cc*w2*dirZ

		l := body.Length
		c.tipX[b] = px + l*dirX
		c.tipZ[b] = pz + l*dirZ
		c.tipVX[b] = vx - l*omg*dirZ
		c.tipVZ[b] = vz + l*omg*dirX
	}
}

// pointJacobian fills c.jx/c.jz for a point attached to body b and returns
// the velocity indices with non-zero columns. The returned slice aliases an
// internal buffer valid until the next call.
func (c *chainBackend) pointJacobian(b int, px, pz float64, floating bool) []int {
	ang := c.angDOFs[b]
	active := c.activeBuf[:0]
	if floating {
		c.jx[0], c.jz[0] = 1, 0
		c.jx[1], c.jz[1] = 0, 1
		active = append(active, 0, 1)
	}
	for _, k := range ang {
		pivot := c.pivotBody[k]
		c.jx[k] = -(pz - c.jointZ[pivot])
		c.jz[k] = px - c.jointX[pivot]
		active = append(active, k)
	}
	return active
}

// applyGround evaluates the penalty contact model at every registered
// contact point and projects the forces into joint space.
func (c *chainBackend) applyGround(floating bool) ContactInfo {
	g := c.model.Ground
	var info ContactInfo
	for _, cp := range c.contacts {
		var px, pz, vx, vz float64
		if cp.atTip {
			px, pz = c.tipX[cp.body], c.tipZ[cp.body]
			vx, vz = c.tipVX[cp.body], c.tipVZ[cp.body]
		} else {
			px, pz = c.jointX[cp.body], c.jointZ[cp.body]
			vx, vz = c.jointVX[cp.body], c.jointVZ[cp.body]
		}
		if pz >= 0 {
			continue
		}
		fn := g.Stiffness*(-pz) - g.Damping*vz
		if fn <= 0 {
			continue
		}
		ft := -g.TangentK * vx
		limit := g.Friction * fn
		ft = clamp(ft, -limit, limit)

		active := c.pointJacobian(cp.body, px, pz, floating)
		for _, k := range active {
			c.tauData[k] += c.jx[k]*ft + c.jz[k]*fn
		}
		info.Touching = true
		info.Points++
		info.NormalForce += fn
	}
	return info
}

func cosSin(phi float64) (float64, float64) {
	return math.Cos(phi), math.Sin(phi)
}

func uniform(rng *rand.Rand, scale float64) float64 {
	return (2*rng.Float64() - 1) * scale
}
