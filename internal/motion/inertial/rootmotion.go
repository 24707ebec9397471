package inertial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// RootMotionConfig selects which root channels are extracted.
type RootMotionConfig struct {
	ExtractTranslation bool
	ExtractRotation    bool
	TranslationScale   float64
	RotationScale      float64
}

// DefaultRootMotionConfig extracts both channels unscaled.
func DefaultRootMotionConfig() RootMotionConfig {
	return RootMotionConfig{
		ExtractTranslation: true,
		ExtractRotation:    true,
		TranslationScale:   1,
		RotationScale:      1,
	}
}

// RootMotionExtractor turns successive root transforms into per-frame
// horizontal translation and yaw deltas.
type RootMotionExtractor struct {
	cfg RootMotionConfig

	prevPosition mgl64.Vec3
	prevRotation mgl64.Quat
	hasReference bool

	deltaTranslation mgl64.Vec3
	deltaYaw         float64
}

// NewRootMotionExtractor returns an extractor with no reference frame.
func NewRootMotionExtractor(cfg RootMotionConfig) *RootMotionExtractor {
	return &RootMotionExtractor{cfg: cfg, prevRotation: mgl64.QuatIdent()}
}

// Update computes the deltas from the previous root transform. The first call
// only records the reference.
func (r *RootMotionExtractor) Update(position mgl64.Vec3, rotation mgl64.Quat) {
	if !r.hasReference {
		r.SetReference(position, rotation)
		return
	}

	r.deltaTranslation = mgl64.Vec3{}
	if r.cfg.ExtractTranslation {
		d := position.Sub(r.prevPosition)
		r.deltaTranslation = mgl64.Vec3{d[0], 0, d[2]}.Mul(r.cfg.TranslationScale)
	}

	r.deltaYaw = 0
	if r.cfg.ExtractRotation {
		delta := rotation.Mul(r.prevRotation.Inverse())
		angle := 2 * math.Acos(mgl64.Clamp(delta.W, -1, 1))
		if math.Abs(angle) > 0.001 && math.Abs(delta.V[1]) > 0.001 {
			// Project the rotation axis onto +Y.
			r.deltaYaw = angle * (delta.V[1] / math.Sin(angle/2)) * r.cfg.RotationScale
		}
	}

	r.prevPosition = position
	r.prevRotation = rotation
}

// SetReference restarts extraction from the given transform.
func (r *RootMotionExtractor) SetReference(position mgl64.Vec3, rotation mgl64.Quat) {
	r.prevPosition = position
	r.prevRotation = rotation
	r.hasReference = true
	r.deltaTranslation = mgl64.Vec3{}
	r.deltaYaw = 0
}

// DeltaTranslation is the last horizontal translation delta.
func (r *RootMotionExtractor) DeltaTranslation() mgl64.Vec3 { return r.deltaTranslation }

// DeltaYaw is the last yaw delta in radians, positive turning +Z toward +X.
func (r *RootMotionExtractor) DeltaYaw() float64 { return r.deltaYaw }

// Reset forgets the reference frame.
func (r *RootMotionExtractor) Reset() {
	r.hasReference = false
	r.deltaTranslation = mgl64.Vec3{}
	r.deltaYaw = 0
}
