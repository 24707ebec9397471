package main

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/motion/database"
)

// clipLibrary is the procedural locomotion set the simulator indexes.
func clipLibrary(skel *anim.Skeleton) []database.ClipSpec {
	loco := func(name string, duration float64, vel mgl64.Vec3, turn float64) *anim.KeyframeClip {
		return anim.LocomotionClip(skel, anim.LocomotionSpec{
			Name:       name,
			Duration:   duration,
			Velocity:   vel,
			TurnRate:   turn,
			StepHeight: 0.1,
			StepSwing:  0.15,
		})
	}
	return []database.ClipSpec{
		{
			Name:    "idle",
			Clip:    anim.LocomotionClip(skel, anim.LocomotionSpec{Name: "idle", Duration: 2}),
			Looping: true,
			Tags:    []string{"idle"},
		},
		{Name: "walk", Clip: loco("walk", 1.2, mgl64.Vec3{0, 0, 1.5}, 0), Looping: true, Tags: []string{"walk"}},
		{Name: "jog", Clip: loco("jog", 0.8, mgl64.Vec3{0, 0, 3.5}, 0), Looping: true, Tags: []string{"run"}},
		{Name: "turn_left", Clip: loco("turn_left", 1.6, mgl64.Vec3{0, 0, 1.5}, -1.2), Looping: true, Tags: []string{"walk", "turn"}},
		{Name: "turn_right", Clip: loco("turn_right", 1.6, mgl64.Vec3{0, 0, 1.5}, 1.2), Looping: true, Tags: []string{"walk", "turn"}},
		{Name: "strafe_left", Clip: loco("strafe_left", 1.2, mgl64.Vec3{-1.5, 0, 0}, 0), Looping: true, Tags: []string{"strafe"}},
		{Name: "strafe_right", Clip: loco("strafe_right", 1.2, mgl64.Vec3{1.5, 0, 0}, 0), Looping: true, Tags: []string{"strafe"}},
		{
			Name: "start_walk",
			Clip: anim.LocomotionClip(skel, anim.LocomotionSpec{
				Name:       "start_walk",
				Duration:   1.3,
				Hold:       0.3,
				Velocity:   mgl64.Vec3{0, 0, 1.5},
				StepHeight: 0.1,
				StepSwing:  0.15,
			}),
			Tags: []string{"walk", "start"},
		},
	}
}
