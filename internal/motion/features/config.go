package features

import "github.com/banshee-data/motionmatch/internal/anim"

// HeadingAxis selects which local axis of the heading bone counts as forward.
type HeadingAxis int

const (
	HeadingAxisZ HeadingAxis = iota // default forward
	HeadingAxisX
	HeadingAxisY
)

// ComponentStrip removes components from the extracted heading.
type ComponentStrip int

const (
	StripNone ComponentStrip = iota
	StripY                   // horizontal heading
	StripXZ                  // vertical heading
)

// Config drives extraction and carries the cost weights.
type Config struct {
	FeatureBoneNames      []string
	TrajectorySampleTimes []float64 // seconds, negative = past

	TrajectoryWeight float64 // scales the whole trajectory term
	PoseWeight       float64 // scales the whole pose term

	BonePositionWeight       float64
	BoneVelocityWeight       float64
	TrajectoryPositionWeight float64
	TrajectoryVelocityWeight float64
	TrajectoryFacingWeight   float64
	RootVelocityWeight       float64
	AngularVelocityWeight    float64
	PhaseWeight              float64

	HeadingWeight   float64 // 0 disables heading extraction and cost
	HeadingBoneName string
	HeadingAxis     HeadingAxis
	HeadingStrip    ComponentStrip
	StrafeMode      bool
}

// DefaultConfig is LocomotionConfig.
func DefaultConfig() Config { return LocomotionConfig() }

// LocomotionConfig tracks feet and hips.
func LocomotionConfig() Config {
	return Config{
		FeatureBoneNames:         []string{anim.JointLeftFoot, anim.JointRightFoot, anim.JointHips},
		TrajectorySampleTimes:    []float64{-0.2, -0.1, 0.1, 0.2, 0.4, 0.6},
		TrajectoryWeight:         2.0,
		PoseWeight:               1.0,
		BonePositionWeight:       1.0,
		BoneVelocityWeight:       0.5,
		TrajectoryPositionWeight: 1.0,
		TrajectoryVelocityWeight: 0.5,
		TrajectoryFacingWeight:   0.3,
		RootVelocityWeight:       0.5,
		AngularVelocityWeight:    0.3,
		PhaseWeight:              0.2,
		HeadingBoneName:          anim.JointHips,
		HeadingAxis:              HeadingAxisZ,
		HeadingStrip:             StripY,
	}
}

// LocomotionWithStrafeConfig enables the heading channel for strafing sets.
func LocomotionWithStrafeConfig() Config {
	c := LocomotionConfig()
	c.HeadingWeight = 1.5
	c.StrafeMode = true
	return c
}

// FullBodyConfig adds hands and spine to the locomotion bones.
func FullBodyConfig() Config {
	c := LocomotionConfig()
	c.FeatureBoneNames = append(c.FeatureBoneNames, anim.JointLeftHand, anim.JointRightHand, anim.JointSpine)
	return c
}

// Trajectory returns the per-sample trajectory weights.
func (c Config) Trajectory() TrajectoryWeights {
	return TrajectoryWeights{
		Position: c.TrajectoryPositionWeight,
		Velocity: c.TrajectoryVelocityWeight,
		Facing:   c.TrajectoryFacingWeight,
	}
}

// Pose returns the pose term weights.
func (c Config) Pose() PoseWeights {
	return PoseWeights{
		BonePosition:    c.BonePositionWeight,
		BoneVelocity:    c.BoneVelocityWeight,
		RootVelocity:    c.RootVelocityWeight,
		AngularVelocity: c.AngularVelocityWeight,
		Phase:           c.PhaseWeight,
	}
}

// Clone deep-copies the slices so the result shares nothing with c.
func (c Config) Clone() Config {
	c.FeatureBoneNames = append([]string(nil), c.FeatureBoneNames...)
	c.TrajectorySampleTimes = append([]float64(nil), c.TrajectorySampleTimes...)
	return c
}
