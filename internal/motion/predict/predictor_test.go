package predict

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/testutil"
)

// snappy disables input smoothing so tests can check the kinematics exactly.
func snappy() Config {
	c := DefaultConfig()
	c.InputSmoothing = 0
	return c
}

func sampleAt(t *testing.T, traj features.Trajectory, offset float64) features.TrajectorySample {
	t.Helper()
	for _, s := range traj.Slice() {
		if s.TimeOffset == offset {
			return s
		}
	}
	t.Fatalf("no sample at offset %v", offset)
	return features.TrajectorySample{}
}

func TestPredictorAtRest(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	traj := p.GenerateTrajectory()
	require.Equal(t, 8, traj.Count)
	for _, s := range traj.Slice() {
		assert.Equal(t, mgl64.Vec3{}, s.Position)
		assert.Equal(t, mgl64.Vec3{}, s.Velocity)
		assert.Equal(t, mgl64.Vec3{0, 0, 1}, s.Facing)
	}
}

func TestPredictorClosedFormAcceleration(t *testing.T) {
	t.Parallel()
	cfg := snappy()
	cfg.SampleTimes = []float64{0.2, 1.0}
	p := New(cfg)

	p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 1}, 1, 0.1)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 1}, p.CurrentVelocity(), 1e-9)

	traj := p.GenerateTrajectory()

	// Still accelerating at 0.2s: v = 1 + 10*0.2.
	s := sampleAt(t, traj, 0.2)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 3}, s.Velocity, 1e-9)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 0.4}, s.Position, 1e-9)

	// Target speed reached after 0.5s, constant afterwards.
	s = sampleAt(t, traj, 1.0)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 6}, s.Velocity, 1e-9)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 4.75}, s.Position, 1e-9)
}

func TestPredictorDecelerationRate(t *testing.T) {
	t.Parallel()
	p := New(snappy())
	for i := 0; i < 10; i++ {
		p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 1}, 1, 0.1)
	}
	require.InDelta(t, 6.0, p.CurrentVelocity().Len(), 1e-9)

	p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{}, 0, 0.1)
	assert.InDelta(t, 4.5, p.CurrentVelocity().Len(), 1e-9)
}

func TestPredictorSmoothing(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	p := New(cfg)
	p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{1, 0, 0}, 1, 0.1)

	want := 1 - math.Exp(-0.1/cfg.InputSmoothing)
	assert.InDelta(t, want, p.SmoothedInput().X(), 1e-12)
}

func TestPredictorFacingTurn(t *testing.T) {
	t.Parallel()
	cfg := snappy()
	cfg.TurnSpeed = 90
	cfg.SampleTimes = []float64{0.1, 0.6, 1.0}
	p := New(cfg)
	p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{1, 0, 0}, 1, 0.1)
	traj := p.GenerateTrajectory()

	for _, tc := range []struct {
		offset float64
		deg    float64
	}{
		{0.1, 9},
		{0.6, 54},
		{1.0, 90},
	} {
		a := mgl64.DegToRad(tc.deg)
		testutil.AssertVec3Near(t, mgl64.Vec3{math.Sin(a), 0, math.Cos(a)}, sampleAt(t, traj, tc.offset).Facing, 1e-9)
	}

	t.Run("capped at the input direction", func(t *testing.T) {
		cfg := cfg
		cfg.SampleTimes = []float64{2.0}
		p := New(cfg)
		p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{-1, 0, 0}, 1, 0.1)
		testutil.AssertVec3Near(t, mgl64.Vec3{-1, 0, 0}, p.GenerateTrajectory().Samples[0].Facing, 1e-9)
	})
}

func TestPredictorStrafeLocksFacing(t *testing.T) {
	t.Parallel()
	p := New(snappy())
	p.SetStrafeMode(true)
	p.SetStrafeFacing(mgl64.Vec3{0, 0, 2})
	p.Update(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{1, 0, 0}, 1, 0.1)

	assert.True(t, p.StrafeMode())
	assert.Equal(t, mgl64.Vec3{0, 0, 1}, p.CurrentFacing())
	traj := p.GenerateTrajectory()
	for _, s := range traj.Slice() {
		if s.TimeOffset > 0 {
			assert.Equal(t, mgl64.Vec3{0, 0, 1}, s.Facing)
		}
	}

	p.SetStrafeFacing(mgl64.Vec3{})
	assert.Equal(t, mgl64.Vec3{0, 0, 1}, p.StrafeFacing())
}

func TestPredictorHistory(t *testing.T) {
	t.Parallel()
	p := New(snappy())
	const dt = 1.0 / 60
	pos := mgl64.Vec3{}
	for i := 0; i < 120; i++ {
		p.Update(pos, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 1}, 0.5, dt)
		pos = pos.Add(p.CurrentVelocity().Mul(dt))
	}

	for _, h := range p.history {
		assert.GreaterOrEqual(t, h.at, p.now-p.cfg.HistoryDuration)
	}
	assert.LessOrEqual(t, len(p.history), 61)

	// At steady speed the past samples sit behind the character.
	traj := p.GenerateTrajectory()
	s := sampleAt(t, traj, -0.2)
	assert.InDelta(t, -3*0.2, s.Position.Z(), 0.06)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 3}, s.Velocity, 1e-6)
	testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 1}, s.Facing, 1e-9)
}

func TestPredictorAngularVelocity(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	assert.Zero(t, p.CurrentAngularVelocity())

	p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{}, 0, 0.1)
	p.Update(mgl64.Vec3{}, mgl64.Vec3{math.Sin(0.1), 0, math.Cos(0.1)}, mgl64.Vec3{}, 0, 0.1)
	assert.InDelta(t, 1.0, p.CurrentAngularVelocity(), 1e-9)
}

func TestPredictorIgnoresDegenerateFacing(t *testing.T) {
	t.Parallel()
	p := New(DefaultConfig())
	p.Update(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{}, 0, 0.1)
	p.Update(mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{}, 0, 0.1)
	assert.Equal(t, mgl64.Vec3{1, 0, 0}, p.CurrentFacing())
}

func TestPredictorReset(t *testing.T) {
	t.Parallel()
	p := New(snappy())
	p.Update(mgl64.Vec3{1, 0, 1}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 1}, 1, 0.1)
	p.Reset()

	assert.Equal(t, mgl64.Vec3{}, p.CurrentVelocity())
	assert.Equal(t, mgl64.Vec3{}, p.SmoothedInput())
	assert.Empty(t, p.history)

	s := sampleAt(t, p.GenerateTrajectory(), -0.1)
	assert.Equal(t, mgl64.Vec3{}, s.Position)
}
