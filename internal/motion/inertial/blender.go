// Package inertial removes pose discontinuities by decaying the captured
// offset with damped springs instead of cross-fading two animations.
package inertial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/anim"
)

// Config tunes the springs.
type Config struct {
	BlendDuration    float64 // seconds until IsBlending reports false
	DampingRatio     float64 // 1 = critical
	NaturalFrequency float64 // ω, rad/s; higher converges faster
}

// DefaultConfig is a critically damped 0.5 s blend at ω = 10, long enough for
// a unit offset to fall below 5% before IsBlending turns false.
func DefaultConfig() Config {
	return Config{BlendDuration: 0.5, DampingRatio: 1.0, NaturalFrequency: 10.0}
}

// BoneState is the spring state of one bone during a skeletal blend. The
// initial values are fixed at blend start; the offsets are recomputed from
// them in closed form every update.
type BoneState struct {
	InitialPosition    mgl64.Vec3
	InitialPositionVel mgl64.Vec3
	InitialRotation    mgl64.Vec3 // axis * angle
	InitialRotationVel mgl64.Vec3

	PositionOffset   mgl64.Vec3
	PositionVelocity mgl64.Vec3
	RotationOffset   mgl64.Vec3 // axis * angle
	AngularVelocity  mgl64.Vec3
}

// Blender holds one character's blend state. Not safe for concurrent use.
type Blender struct {
	cfg Config

	// Root-only blend.
	springPosition mgl64.Vec3
	springVelocity mgl64.Vec3
	positionOffset mgl64.Vec3
	velocityOffset mgl64.Vec3

	bones     []BoneState
	blendTime float64
}

// New returns an idle blender.
func New(cfg Config) *Blender {
	return &Blender{cfg: cfg, blendTime: cfg.BlendDuration}
}

// Config returns the tuning.
func (b *Blender) Config() Config { return b.cfg }

// SetConfig replaces the tuning. An active blend keeps running under it.
func (b *Blender) SetConfig(cfg Config) { b.cfg = cfg }

// StartBlend starts a root-only blend from the current to the target state.
func (b *Blender) StartBlend(curPos, curVel, tgtPos, tgtVel mgl64.Vec3) {
	b.springPosition = curPos.Sub(tgtPos)
	b.springVelocity = curVel.Sub(tgtVel)
	b.positionOffset = b.springPosition
	b.velocityOffset = b.springVelocity
	b.bones = b.bones[:0]
	b.blendTime = 0
}

// StartSkeletalBlend captures the per-bone offset from target back to
// current. posVels and angVels seed the spring velocities and may be nil, in
// which case the springs start at rest.
func (b *Blender) StartSkeletalBlend(current, target anim.SkeletonPose, posVels, angVels []mgl64.Vec3) {
	n := min(len(current), len(target))
	if cap(b.bones) < n {
		b.bones = make([]BoneState, n)
	}
	b.bones = b.bones[:n]

	for i := 0; i < n; i++ {
		s := BoneState{
			InitialPosition: current[i].Translation.Sub(target[i].Translation),
			InitialRotation: RotationDelta(current[i].Rotation, target[i].Rotation),
		}
		if i < len(posVels) {
			s.InitialPositionVel = posVels[i]
		}
		if i < len(angVels) {
			s.InitialRotationVel = angVels[i]
		}
		s.PositionOffset = s.InitialPosition
		s.PositionVelocity = s.InitialPositionVel
		s.RotationOffset = s.InitialRotation
		s.AngularVelocity = s.InitialRotationVel
		b.bones[i] = s
	}
	b.springPosition, b.springVelocity = mgl64.Vec3{}, mgl64.Vec3{}
	b.positionOffset, b.velocityOffset = mgl64.Vec3{}, mgl64.Vec3{}
	b.blendTime = 0
}

// RotationDelta returns the rotation taking to onto from, as axis * angle.
// The axis is only recovered when sin(angle/2) > 1e-6; deltas near a full
// turn are numerically fragile and are not remapped to the short way round.
func RotationDelta(from, to mgl64.Quat) mgl64.Vec3 {
	q := from.Mul(to.Inverse())
	angle := 2 * math.Acos(mgl64.Clamp(q.W, -1, 1))
	sinHalf := math.Sin(angle / 2)
	if sinHalf <= 1e-6 {
		return mgl64.Vec3{}
	}
	return q.V.Mul(angle / sinHalf)
}

// Update advances every spring to the new blend time. Once the blend has run
// its duration the offsets are cleared.
func (b *Blender) Update(dt float64) {
	if !b.IsBlending() {
		b.positionOffset, b.velocityOffset = mgl64.Vec3{}, mgl64.Vec3{}
		for i := range b.bones {
			b.bones[i].PositionOffset = mgl64.Vec3{}
			b.bones[i].PositionVelocity = mgl64.Vec3{}
			b.bones[i].RotationOffset = mgl64.Vec3{}
			b.bones[i].AngularVelocity = mgl64.Vec3{}
		}
		return
	}
	b.blendTime += dt
	t := b.blendTime

	b.positionOffset, b.velocityOffset = b.decayVec3(b.springPosition, b.springVelocity, t)
	for i := range b.bones {
		s := &b.bones[i]
		s.PositionOffset, s.PositionVelocity = b.decayVec3(s.InitialPosition, s.InitialPositionVel, t)
		s.RotationOffset, s.AngularVelocity = b.decayVec3(s.InitialRotation, s.InitialRotationVel, t)
	}
}

func (b *Blender) decayVec3(x0, v0 mgl64.Vec3, t float64) (x, v mgl64.Vec3) {
	for i := 0; i < 3; i++ {
		x[i], v[i] = Spring(x0[i], v0[i], b.cfg.NaturalFrequency, b.cfg.DampingRatio, t)
	}
	return x, v
}

// Spring evaluates a damped spring released at x0 with velocity v0, after t
// seconds. With zeta = 1 it is the critically damped
// x(t) = (A + Bt)e^(−ωt), A = x0, B = v0 + ωx0.
func Spring(x0, v0, omega, zeta, t float64) (x, v float64) {
	switch {
	case zeta < 1:
		a := zeta * omega
		wd := omega * math.Sqrt(1-zeta*zeta)
		s := (v0 + a*x0) / wd
		decay := math.Exp(-a * t)
		c, sn := math.Cos(wd*t), math.Sin(wd*t)
		x = decay * (x0*c + s*sn)
		v = decay * (v0*c - (a*s+x0*wd)*sn)
	case zeta > 1:
		root := omega * math.Sqrt(zeta*zeta-1)
		r1 := -zeta*omega + root
		r2 := -zeta*omega - root
		c2 := (v0 - r1*x0) / (r2 - r1)
		c1 := x0 - c2
		e1, e2 := math.Exp(r1*t), math.Exp(r2*t)
		x = c1*e1 + c2*e2
		v = r1*c1*e1 + r2*c2*e2
	default:
		decay := math.Exp(-omega * t)
		a := x0
		bb := v0 + omega*x0
		x = (a + bb*t) * decay
		v = (bb - omega*(a+bb*t)) * decay
	}
	return x, v
}

// ApplyToPose adds the current bone offsets to pose. Blender state is not
// touched, so calling it more than once per frame is safe.
func (b *Blender) ApplyToPose(pose anim.SkeletonPose) {
	if !b.IsBlending() {
		return
	}
	n := min(len(pose), len(b.bones))
	for i := 0; i < n; i++ {
		s := &b.bones[i]
		pose[i].Translation = pose[i].Translation.Add(s.PositionOffset)
		if angle := s.RotationOffset.Len(); angle > 1e-6 {
			offset := mgl64.QuatRotate(angle, s.RotationOffset.Mul(1/angle))
			pose[i].Rotation = offset.Mul(pose[i].Rotation).Normalize()
		}
	}
}

// PositionOffset is the root-only position offset.
func (b *Blender) PositionOffset() mgl64.Vec3 { return b.positionOffset }

// VelocityOffset is the root-only velocity offset.
func (b *Blender) VelocityOffset() mgl64.Vec3 { return b.velocityOffset }

// BoneStates returns the per-bone spring state. The slice aliases the
// blender and is only valid until the next Start or Update.
func (b *Blender) BoneStates() []BoneState { return b.bones }

// IsBlending reports whether the blend time is still below the duration.
func (b *Blender) IsBlending() bool { return b.blendTime < b.cfg.BlendDuration }

// IsSkeletal reports whether the last blend was a skeletal one.
func (b *Blender) IsSkeletal() bool { return len(b.bones) > 0 }

// Progress is blendTime/duration clamped to [0,1].
func (b *Blender) Progress() float64 {
	if b.cfg.BlendDuration <= 0 {
		return 1
	}
	return math.Min(1, b.blendTime/b.cfg.BlendDuration)
}

// Reset drops all offsets and marks the blend complete.
func (b *Blender) Reset() {
	b.springPosition, b.springVelocity = mgl64.Vec3{}, mgl64.Vec3{}
	b.positionOffset, b.velocityOffset = mgl64.Vec3{}, mgl64.Vec3{}
	b.bones = b.bones[:0]
	b.blendTime = b.cfg.BlendDuration
}
