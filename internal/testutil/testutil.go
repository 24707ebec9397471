// Package testutil provides shared test utilities and fixtures.
//
// Fixtures build a small humanoid rig and procedural clips so package tests
// can exercise extraction, indexing and matching without asset files.
package testutil

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/anim"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVec3Near fails the test if any component of got differs from want by
// more than delta.
func AssertVec3Near(t testing.TB, want, got mgl64.Vec3, delta float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		if math.Abs(want[i]-got[i]) > delta {
			t.Errorf("vec3 = %v, want %v (±%g)", got, want, delta)
			return
		}
	}
}

// Skeleton returns the humanoid test rig: Hips root with feet at
// (∓0.2, -0.9, 0), a spine and two hands.
func Skeleton() *anim.Skeleton {
	return anim.NewHumanoidSkeleton()
}

// IdleClip is a looping clip with no root motion and still feet.
func IdleClip(skel *anim.Skeleton, duration float64) *anim.KeyframeClip {
	return anim.LocomotionClip(skel, anim.LocomotionSpec{Name: "idle", Duration: duration})
}

// WalkClip travels straight along +Z at speed with bobbing feet.
func WalkClip(skel *anim.Skeleton, speed, duration float64) *anim.KeyframeClip {
	return anim.LocomotionClip(skel, anim.LocomotionSpec{
		Name:       "walk",
		Duration:   duration,
		Velocity:   mgl64.Vec3{0, 0, speed},
		StepHeight: 0.1,
		StepSwing:  0.15,
	})
}

// InPlaceWalkClip animates the feet without moving the root, like mocap
// captured on a treadmill.
func InPlaceWalkClip(skel *anim.Skeleton, duration float64) *anim.KeyframeClip {
	return anim.LocomotionClip(skel, anim.LocomotionSpec{
		Name:       "treadmill",
		Duration:   duration,
		StepHeight: 0.1,
		StepSwing:  0.15,
	})
}

// StrafeClip travels along +X while facing +Z.
func StrafeClip(skel *anim.Skeleton, speed, duration float64) *anim.KeyframeClip {
	return anim.LocomotionClip(skel, anim.LocomotionSpec{
		Name:       "strafe",
		Duration:   duration,
		Velocity:   mgl64.Vec3{speed, 0, 0},
		StepHeight: 0.08,
		StepSwing:  0.1,
	})
}

// HoldThenWalkClip stands still for hold seconds, then walks for move seconds.
func HoldThenWalkClip(skel *anim.Skeleton, hold, move, speed float64) *anim.KeyframeClip {
	return anim.LocomotionClip(skel, anim.LocomotionSpec{
		Name:       "hold-then-walk",
		Duration:   hold + move,
		Hold:       hold,
		Velocity:   mgl64.Vec3{0, 0, speed},
		StepHeight: 0.1,
		StepSwing:  0.15,
	})
}
