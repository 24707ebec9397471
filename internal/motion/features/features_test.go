package features

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/testutil"
)

func TestNewExtractorResolvesBones(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()

	t.Run("locomotion preset", func(t *testing.T) {
		e := NewExtractor(skel, LocomotionConfig())
		assert.Equal(t, []int{2, 3, 0}, e.BoneIndices())
		assert.Equal(t, 0, e.RootIndex())
		assert.Equal(t, 0, e.HeadingIndex())
	})

	t.Run("missing bone omitted", func(t *testing.T) {
		cfg := LocomotionConfig()
		cfg.FeatureBoneNames = []string{"Tail", anim.JointLeftFoot}
		e := NewExtractor(skel, cfg)
		assert.Equal(t, []int{2}, e.BoneIndices())
	})

	t.Run("mixamo prefix", func(t *testing.T) {
		rig := testutil.Skeleton()
		for i := range rig.Joints {
			rig.Joints[i].Name = "mixamorig:" + rig.Joints[i].Name
		}
		e := NewExtractor(rig, LocomotionConfig())
		assert.Equal(t, 0, e.RootIndex())
		assert.Empty(t, e.BoneIndices(), "feature bones are matched by exact name")
	})

	t.Run("falls back to first parentless joint", func(t *testing.T) {
		rig := &anim.Skeleton{Joints: []anim.Joint{
			{Name: "Armature", Parent: anim.NoParent, Local: anim.IdentityBonePose()},
		}}
		e := NewExtractor(rig, LocomotionConfig())
		assert.Equal(t, 0, e.RootIndex())
	})
}

func TestExtractFromPose(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()
	e := NewExtractor(skel, LocomotionConfig())
	lf := skel.FindJoint(anim.JointLeftFoot)
	yAxis := mgl64.Vec3{0, 1, 0}

	prev := skel.Pose()
	cur := prev.Clone()
	cur[lf].Translation = cur[lf].Translation.Add(mgl64.Vec3{0.1, 0, 0})
	cur[0].Translation = cur[0].Translation.Add(mgl64.Vec3{0, 0.05, 0.2})

	f := e.ExtractFromPose(skel, cur, prev, 0.1)
	require.Equal(t, 3, f.BoneCount)

	// Bone order follows the config: feet, then hips. Positions are relative
	// to the root on the ground, so root travel does not show up in them.
	testutil.AssertVec3Near(t, mgl64.Vec3{-0.1, 0.15, 0}, f.Bones[0].Position, 1e-9)
	testutil.AssertVec3Near(t, mgl64.Vec3{1, 0.5, 0}, f.Bones[0].Velocity, 1e-9)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 1.05, 0}, f.Bones[2].Position, 1e-9)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0.5, 0}, f.Bones[2].Velocity, 1e-9)

	// Root velocity drops the vertical component.
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 2}, f.RootVelocity, 1e-9)
	assert.Zero(t, f.RootAngularVelocity)

	t.Run("turning root", func(t *testing.T) {
		turned := cur.Clone()
		turned[0].Rotation = mgl64.QuatRotate(0.1, yAxis)
		ft := e.ExtractFromPose(skel, turned, prev, 0.1)
		assert.InDelta(t, 1.0, ft.RootAngularVelocity, 1e-6)

		// Bone features do not depend on which way the character faces.
		testutil.AssertVec3Near(t, f.Bones[0].Position, ft.Bones[0].Position, 1e-9)
		testutil.AssertVec3Near(t, f.Bones[0].Velocity, ft.Bones[0].Velocity, 1e-9)

		// World travel along +Z is seen from the new facing.
		testutil.AssertVec3Near(t, mgl64.Vec3{-2 * math.Sin(0.1), 0, 2 * math.Cos(0.1)}, ft.RootVelocity, 1e-9)
	})

	t.Run("negative turn", func(t *testing.T) {
		cur2 := cur.Clone()
		cur2[0].Rotation = mgl64.QuatRotate(-0.1, yAxis)
		f := e.ExtractFromPose(skel, cur2, prev, 0.1)
		assert.InDelta(t, -1.0, f.RootAngularVelocity, 1e-6)
	})

	t.Run("no previous pose", func(t *testing.T) {
		f := e.ExtractFromPose(skel, cur, nil, 0.1)
		assert.Equal(t, mgl64.Vec3{}, f.Bones[0].Velocity)
		assert.Equal(t, mgl64.Vec3{}, f.RootVelocity)
		assert.Zero(t, f.RootAngularVelocity)
	})

	t.Run("non-positive dt", func(t *testing.T) {
		f := e.ExtractFromPose(skel, cur, prev, 0)
		assert.Equal(t, mgl64.Vec3{}, f.Bones[0].Velocity)
	})
}

func TestExtractHeading(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()
	e := NewExtractor(skel, LocomotionWithStrafeConfig())
	pose := skel.Pose()

	// Facing +Z while moving +X is a quarter-turn strafe.
	h := e.ExtractHeading(skel, pose, mgl64.Vec3{1, 0, 0})
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 1}, h.Direction, 1e-9)
	assert.InDelta(t, math.Pi/2, h.AngleDifference, 1e-9)

	assert.InDelta(t, 0.0, h.StrafeCost(mgl64.Vec3{1, 0, 0}, 1), 1e-9)
	assert.InDelta(t, math.Pi/2, h.StrafeCost(mgl64.Vec3{0, 0, 1}, 1), 1e-9)
	assert.Zero(t, h.StrafeCost(mgl64.Vec3{}, 1))

	other := HeadingFeature{Direction: mgl64.Vec3{0, 0, -1}}
	assert.InDelta(t, 2.0, h.Cost(other, 1), 1e-9)
}

func TestExtractFromClip(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()
	e := NewExtractor(skel, LocomotionConfig())

	t.Run("walk root velocity", func(t *testing.T) {
		walk := testutil.WalkClip(skel, 2, 1)
		f := e.ExtractFromClip(walk, skel, 0.5)
		testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 2}, f.RootVelocity, 1e-6)
		assert.InDelta(t, 0.0, f.RootAngularVelocity, 1e-9)
	})

	t.Run("zero duration clip", func(t *testing.T) {
		empty := &anim.KeyframeClip{Name: "empty"}
		assert.Equal(t, PoseFeatures{}, e.ExtractFromClip(empty, skel, 0))
		assert.Equal(t, Trajectory{}, e.ExtractTrajectoryFromClip(empty, skel, 0))
	})
}

func TestExtractTrajectoryFromClip(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()
	cfg := LocomotionConfig()
	e := NewExtractor(skel, cfg)
	walk := testutil.WalkClip(skel, 2, 1)

	// 0.9 + 0.6 wraps past the end of the clip; the path stays straight.
	for _, at := range []float64{0, 0.5, 0.9} {
		traj := e.ExtractTrajectoryFromClip(walk, skel, at)
		require.Equal(t, len(cfg.TrajectorySampleTimes), traj.Count)
		for i, s := range traj.Slice() {
			assert.Equal(t, cfg.TrajectorySampleTimes[i], s.TimeOffset)
			testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 2 * s.TimeOffset}, s.Position, 1e-6)
			testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 2}, s.Velocity, 1e-6)
			testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 1}, s.Facing, 1e-9)
		}
	}
}

func TestExtractTrajectoryFromTurningClip(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()
	e := NewExtractor(skel, LocomotionConfig())
	turn := anim.LocomotionClip(skel, anim.LocomotionSpec{
		Name:     "turn",
		Duration: 2,
		Velocity: mgl64.Vec3{0, 0, 1},
		TurnRate: 0.5,
	})

	traj := e.ExtractTrajectoryFromClip(turn, skel, 1)
	for _, s := range traj.Slice() {
		yaw := 0.5 * s.TimeOffset
		testutil.AssertVec3Near(t, mgl64.Vec3{math.Sin(yaw), 0, math.Cos(yaw)}, s.Facing, 1e-6)
	}
	// Future samples curve towards +X in the character frame.
	last := traj.Samples[traj.Count-1]
	assert.Greater(t, last.Position.X(), 0.0)
	assert.Greater(t, last.Position.Z(), 0.0)
}

func TestSignedYaw(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, math.Pi/2, SignedYaw(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{1, 0, 0}), 1e-12)
	assert.InDelta(t, -math.Pi/2, SignedYaw(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{-1, 0, 0}), 1e-12)
	assert.Zero(t, SignedYaw(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}))
	assert.InDelta(t, math.Pi/4, FacingYaw(mgl64.Vec3{1, 0, 1}), 1e-12)
}

func TestTrajectoryCost(t *testing.T) {
	t.Parallel()
	w := LocomotionConfig().Trajectory()

	var a Trajectory
	a.AddSample(TrajectorySample{TimeOffset: 0.1, Position: mgl64.Vec3{0, 0, 0.2}, Velocity: mgl64.Vec3{0, 0, 2}, Facing: mgl64.Vec3{0, 0, 1}})
	a.AddSample(TrajectorySample{TimeOffset: 0.4, Position: mgl64.Vec3{0, 0, 0.8}, Velocity: mgl64.Vec3{0, 0, 2}, Facing: mgl64.Vec3{0, 0, 1}})

	assert.Zero(t, a.Cost(&a, w))

	t.Run("opposite facing", func(t *testing.T) {
		b := a
		for i := range b.Slice() {
			b.Samples[i].Facing = mgl64.Vec3{0, 0, -1}
		}
		assert.InDelta(t, 2*w.Facing, a.Cost(&b, w), 1e-9)
	})

	t.Run("degenerate facing contributes nothing", func(t *testing.T) {
		b := a
		b.Samples[0].Facing = mgl64.Vec3{}
		b.Samples[1].Facing = mgl64.Vec3{}
		c := a.Cost(&b, w)
		assert.False(t, math.IsNaN(c))
		assert.Zero(t, c)
	})

	t.Run("samples outside alignment window are skipped", func(t *testing.T) {
		var far Trajectory
		far.AddSample(TrajectorySample{TimeOffset: 1.0, Position: mgl64.Vec3{5, 0, 5}})
		assert.Zero(t, a.Cost(&far, w))
	})

	t.Run("empty", func(t *testing.T) {
		var empty Trajectory
		assert.Zero(t, a.Cost(&empty, w))
	})

	t.Run("capacity", func(t *testing.T) {
		var full Trajectory
		for i := 0; i < MaxTrajectorySamples; i++ {
			require.True(t, full.AddSample(TrajectorySample{}))
		}
		assert.False(t, full.AddSample(TrajectorySample{}))
		assert.Equal(t, MaxTrajectorySamples, full.Count)
	})

	t.Run("identity normalization matches raw cost", func(t *testing.T) {
		b := a
		b.Samples[1].Position = mgl64.Vec3{0.3, 0, 0.5}
		norm := IdentityNormalization()
		assert.InDelta(t, a.Cost(&b, w), a.NormalizedCost(&b, &norm, w), 1e-12)
	})
}

func TestPoseCost(t *testing.T) {
	t.Parallel()
	w := LocomotionConfig().Pose()

	var a PoseFeatures
	a.BoneCount = 2
	a.Bones[0] = BoneFeature{Position: mgl64.Vec3{-0.2, 0.1, 0}}
	a.Bones[1] = BoneFeature{Position: mgl64.Vec3{0.2, 0.1, 0}}
	a.RootVelocity = mgl64.Vec3{0, 0, 1}
	a.LeftFootPhase = 0.95

	assert.Zero(t, a.Cost(&a, w))

	b := a
	b.Bones[0].Position = mgl64.Vec3{-0.2, 0.1, 0.4}
	b.RootAngularVelocity = 2
	b.LeftFootPhase = 0.05

	want := (0.4*w.BonePosition)/2 + 2*w.AngularVelocity + 0.1*w.Phase
	assert.InDelta(t, want, a.Cost(&b, w), 1e-9)

	norm := IdentityNormalization()
	assert.InDelta(t, a.Cost(&b, w), a.NormalizedCost(&b, &norm, w), 1e-12)

	scaled := IdentityNormalization()
	scaled.RootAngularVelocity.StdDev = 2
	assert.InDelta(t, want-w.AngularVelocity, a.NormalizedCost(&b, &scaled, w), 1e-9)
}

func TestPhaseDiff(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.1, PhaseDiff(0.95, 0.05), 1e-12)
	assert.InDelta(t, 0.5, PhaseDiff(0, 0.5), 1e-12)
	assert.Zero(t, PhaseDiff(0.3, 0.3))
}

func TestWelfordMatchesBatchStatistics(t *testing.T) {
	t.Parallel()
	xs := []float64{0.5, 1.5, 2.25, 10, -3, 4.75, 4.75, 0}

	var w Welford
	for _, x := range xs {
		w.Add(x)
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	got := w.Stats()
	assert.InDelta(t, mean, got.Mean, 1e-12)
	assert.InDelta(t, std, got.StdDev, 1e-12)
}

func TestStdDevFloor(t *testing.T) {
	t.Parallel()
	var b NormalizationBuilder
	var p PoseFeatures
	p.BoneCount = 1
	var traj Trajectory
	traj.AddSample(TrajectorySample{Position: mgl64.Vec3{1, 0, 0}})
	for i := 0; i < 10; i++ {
		b.Add(&p, &traj)
	}
	n := b.Build()
	require.True(t, n.Computed)

	assert.Equal(t, 1.0, n.TrajectoryPosition[0].Mean)
	all := []Stats{n.RootVelocity, n.RootAngularVelocity}
	all = append(all, n.TrajectoryPosition[:]...)
	all = append(all, n.TrajectoryVelocity[:]...)
	all = append(all, n.BonePosition[:]...)
	all = append(all, n.BoneVelocity[:]...)
	for _, s := range all {
		assert.GreaterOrEqual(t, s.StdDev, MinStdDev)
	}
}

func TestWrapTime(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.5, WrapTime(1.5, 1), 1e-12)
	assert.InDelta(t, 0.75, WrapTime(-0.25, 1), 1e-12)
	assert.InDelta(t, 0.0, WrapTime(1, 1), 1e-12)
	assert.Equal(t, 3.0, WrapTime(3, 0))
}

func TestPresets(t *testing.T) {
	t.Parallel()
	assert.Zero(t, LocomotionConfig().HeadingWeight)
	assert.Equal(t, 1.5, LocomotionWithStrafeConfig().HeadingWeight)
	assert.Len(t, FullBodyConfig().FeatureBoneNames, 6)

	// Clones never share slices with the source.
	c := LocomotionConfig()
	d := c.Clone()
	d.FeatureBoneNames[0] = "changed"
	assert.Equal(t, anim.JointLeftFoot, c.FeatureBoneNames[0])
}
