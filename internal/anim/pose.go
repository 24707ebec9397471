package anim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BonePose is a decomposed local transform.
type BonePose struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
	Scale       mgl64.Vec3
}

// SkeletonPose holds one BonePose per joint, indexed like Skeleton.Joints.
type SkeletonPose []BonePose

// IdentityBonePose returns a transform that changes nothing.
func IdentityBonePose() BonePose {
	return BonePose{
		Rotation: mgl64.QuatIdent(),
		Scale:    mgl64.Vec3{1, 1, 1},
	}
}

// NewBonePose builds a pose from a translation and rotation with unit scale.
func NewBonePose(t mgl64.Vec3, r mgl64.Quat) BonePose {
	return BonePose{Translation: t, Rotation: r, Scale: mgl64.Vec3{1, 1, 1}}
}

// Matrix returns T * R * S.
func (b BonePose) Matrix() mgl64.Mat4 {
	scale := b.Scale
	if scale == (mgl64.Vec3{}) {
		scale = mgl64.Vec3{1, 1, 1}
	}
	t := mgl64.Translate3D(b.Translation[0], b.Translation[1], b.Translation[2])
	return t.Mul4(b.Rotation.Normalize().Mat4()).Mul4(mgl64.Scale3D(scale[0], scale[1], scale[2]))
}

// Clone returns an independent copy.
func (p SkeletonPose) Clone() SkeletonPose {
	if p == nil {
		return nil
	}
	out := make(SkeletonPose, len(p))
	copy(out, p)
	return out
}

// Translation extracts the translation column of a transform.
func Translation(m mgl64.Mat4) mgl64.Vec3 {
	return m.Col(3).Vec3()
}

// Forward extracts the local +Z axis of a transform.
func Forward(m mgl64.Mat4) mgl64.Vec3 {
	return m.Col(2).Vec3()
}

// StripYaw removes the outer rotation about +Y from q using a swing-twist
// split (q = twist * swing) and returns the swing.
func StripYaw(q mgl64.Quat) mgl64.Quat {
	twist := mgl64.Quat{W: q.W, V: mgl64.Vec3{0, q.V.Y(), 0}}
	l := twist.Len()
	if l < 1e-9 {
		// 180 degree swing; no well defined twist.
		return q
	}
	twist = twist.Scale(1 / l)
	return twist.Conjugate().Mul(q).Normalize()
}

// YawAngle returns the heading of q about +Y, measured from +Z towards +X.
func YawAngle(q mgl64.Quat) float64 {
	f := q.Rotate(mgl64.Vec3{0, 0, 1})
	if math.Abs(f.X()) < 1e-9 && math.Abs(f.Z()) < 1e-9 {
		return 0
	}
	return math.Atan2(f.X(), f.Z())
}
