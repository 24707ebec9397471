// Package features encodes poses and root trajectories as fixed-size feature
// vectors and compares them.
package features

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Capacity limits for the fixed-size encodings.
const (
	MaxTrajectorySamples = 8
	MaxFeatureBones      = 8
)

// Numerical guards shared by extraction and cost code.
const (
	// MinVectorLength is the length below which a direction is treated as undefined.
	MinVectorLength = 0.001
	// TrajectoryAlignWindow is the largest time offset gap at which two samples are compared.
	TrajectoryAlignWindow = 0.15
)

// TrajectorySample is one root state relative to the current instant.
type TrajectorySample struct {
	TimeOffset float64    // seconds, negative = past
	Position   mgl64.Vec3 // relative to the current root position
	Velocity   mgl64.Vec3
	Facing     mgl64.Vec3 // unit, horizontal
}

// Trajectory is an ordered, fixed-capacity list of samples. It is a value
// type: copies never share storage.
type Trajectory struct {
	Samples [MaxTrajectorySamples]TrajectorySample
	Count   int
}

// AddSample appends s and reports false once the trajectory is full.
func (t *Trajectory) AddSample(s TrajectorySample) bool {
	if t.Count >= MaxTrajectorySamples {
		return false
	}
	t.Samples[t.Count] = s
	t.Count++
	return true
}

// Slice returns the populated samples. The slice aliases t.
func (t *Trajectory) Slice() []TrajectorySample {
	return t.Samples[:t.Count]
}

// Clear drops all samples.
func (t *Trajectory) Clear() { t.Count = 0 }

// BoneFeature is a feature bone's model-space position and velocity.
type BoneFeature struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
}

// HeadingFeature describes which way a bone points relative to the direction
// of travel. Used for strafe matching.
type HeadingFeature struct {
	Direction         mgl64.Vec3 // unit heading
	MovementDirection mgl64.Vec3
	AngleDifference   float64 // signed radians from Direction to MovementDirection
}

// PoseFeatures summarises one pose for matching.
type PoseFeatures struct {
	Bones               [MaxFeatureBones]BoneFeature
	BoneCount           int
	RootVelocity        mgl64.Vec3 // horizontal
	RootAngularVelocity float64    // yaw rate, rad/s
	LeftFootPhase       float64    // [0,1), optional
	RightFootPhase      float64    // [0,1), optional
	Heading             HeadingFeature
}

// MotionEnergy is |root velocity| plus the summed feature bone speeds.
func (p *PoseFeatures) MotionEnergy() float64 {
	e := p.RootVelocity.Len()
	for i := 0; i < p.BoneCount; i++ {
		e += p.Bones[i].Velocity.Len()
	}
	return e
}

// horizontal zeroes the Y component.
func horizontal(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v[0], 0, v[2]}
}

// unitOr returns v normalised, or fallback when v is shorter than minLen.
func unitOr(v mgl64.Vec3, minLen float64, fallback mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l <= minLen {
		return fallback
	}
	return v.Mul(1 / l)
}
