package database

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/fsutil"
	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/motion/kdtree"
	"github.com/banshee-data/motionmatch/internal/testutil"
	"github.com/banshee-data/motionmatch/internal/timeutil"
)

func newLocomotionDB(t *testing.T) *Database {
	t.Helper()
	skel := testutil.Skeleton()
	db := New(skel, features.LocomotionConfig())
	db.SetClock(timeutil.NewMockClock(time.Unix(0, 0)))
	require.Equal(t, 0, db.AddClip(ClipSpec{Name: "idle", Clip: testutil.IdleClip(skel, 2), Looping: true, Tags: []string{"idle"}}))
	require.Equal(t, 1, db.AddClip(ClipSpec{Name: "walk", Clip: testutil.WalkClip(skel, 2, 1), Looping: true, Tags: []string{"walk"}}))
	return db
}

func TestBuild(t *testing.T) {
	t.Parallel()
	db := newLocomotionDB(t)
	assert.False(t, db.Built())

	require.NoError(t, db.Build(DefaultBuildOptions()))
	require.True(t, db.Built())

	// 30 Hz over [0, duration] inclusive.
	assert.Equal(t, 61, db.Clip(0).PoseCount)
	assert.Equal(t, 31, db.Clip(1).PoseCount)
	assert.Equal(t, 92, db.PoseCount())

	stats := db.Stats()
	assert.Equal(t, 92, stats.TotalPoses)
	assert.Equal(t, 2, stats.TotalClips)
	assert.Zero(t, stats.PrunedPoses)
	assert.InDelta(t, 3.0, stats.TotalDuration, 1e-12)
	assert.Zero(t, stats.BuildDuration, "mock clock does not move during a build")
	assert.NotEmpty(t, stats.BuildID)

	require.NotNil(t, db.Tree())
	assert.Equal(t, db.PoseCount(), db.Tree().Size())
	assert.True(t, db.Normalization().Computed)

	t.Run("clip ranges are contiguous", func(t *testing.T) {
		for ci := 0; ci < db.ClipCount(); ci++ {
			idx := db.PosesFromClip(ci)
			require.Len(t, idx, db.Clip(ci).PoseCount)
			for k, i := range idx {
				assert.Equal(t, db.Clip(ci).StartPoseIndex+k, i)
				assert.Equal(t, ci, db.Pose(i).ClipIndex)
			}
		}
		assert.Equal(t, db.Clip(0).PoseCount, db.Clip(1).StartPoseIndex)
		assert.Nil(t, db.PosesFromClip(7))
	})

	t.Run("poses inherit clip tags", func(t *testing.T) {
		assert.Equal(t, db.PosesFromClip(1), db.PosesWithTag("walk"))
		assert.Empty(t, db.PosesWithTag("jump"))
		p := db.Pose(0)
		assert.True(t, p.HasTag("idle"))
		assert.True(t, p.CanTransitionFrom)
		assert.True(t, p.CanTransitionTo)
	})

	t.Run("walk features", func(t *testing.T) {
		p := db.Pose(db.Clip(1).StartPoseIndex + 15)
		assert.InDelta(t, 0.5, p.Time, 1e-12)
		assert.InDelta(t, 0.5, p.NormalizedTime, 1e-12)
		testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 2}, p.Features.RootVelocity, 1e-6)
		assert.InDelta(t, 2.0, db.Clip(1).StrideLength, 1e-9)
		assert.Zero(t, db.Clip(0).StrideLength)

		// The first sample uses a forward difference so it is not static.
		first := db.Pose(db.Clip(1).StartPoseIndex)
		testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 2}, first.Features.RootVelocity, 1e-6)
	})

	t.Run("loop boundaries", func(t *testing.T) {
		walk := db.PosesFromClip(1)
		assert.True(t, db.Pose(walk[0]).IsLoopBoundary)
		assert.True(t, db.Pose(walk[len(walk)-1]).IsLoopBoundary)
		assert.False(t, db.Pose(walk[15]).IsLoopBoundary)
	})

	t.Run("clips cannot be added after build", func(t *testing.T) {
		assert.Equal(t, -1, db.AddClip(ClipSpec{Name: "late", Clip: testutil.IdleClip(db.Skeleton(), 1)}))
		assert.Equal(t, 2, db.ClipCount())
	})
}

func TestBuildPrunesStaticPoses(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()
	build := func(prune bool) *Database {
		db := New(skel, features.LocomotionConfig())
		db.AddClip(ClipSpec{Name: "hold", Clip: testutil.HoldThenWalkClip(skel, 5, 1, 2)})
		opts := DefaultBuildOptions()
		opts.PruneStaticPoses = prune
		opts.StaticThreshold = 0.01
		require.NoError(t, db.Build(opts))
		return db
	}

	full := build(false)
	pruned := build(true)
	require.Less(t, pruned.PoseCount(), full.PoseCount())
	assert.Equal(t, full.PoseCount()-pruned.PoseCount(), pruned.Stats().PrunedPoses)
	require.NotZero(t, pruned.PoseCount())

	for i := 0; i < pruned.PoseCount(); i++ {
		assert.GreaterOrEqual(t, pruned.Pose(i).Time, 5.0, "static pose %d survived pruning", i)
	}
	assert.Equal(t, pruned.PoseCount(), pruned.Clip(0).PoseCount)
	assert.Zero(t, pruned.Clip(0).StartPoseIndex)
	assert.Equal(t, pruned.PoseCount(), pruned.Tree().Size())
}

func TestLocomotionSpeedOverride(t *testing.T) {
	t.Parallel()
	skel := testutil.Skeleton()
	db := New(skel, features.LocomotionConfig())
	db.AddClip(ClipSpec{Name: "treadmill", Clip: testutil.InPlaceWalkClip(skel, 1), Looping: true, LocomotionSpeed: 1.5})
	require.NoError(t, db.Build(DefaultBuildOptions()))

	for i := 0; i < db.PoseCount(); i++ {
		p := db.Pose(i)
		testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 1.5}, p.Features.RootVelocity, 1e-12)
		for _, s := range p.Trajectory.Slice() {
			testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 1.5}, s.Velocity, 1e-9)
			testutil.AssertVec3Near(t, mgl64.Vec3{0, 0, 1.5 * s.TimeOffset}, s.Position, 1e-9)
		}
	}
	assert.InDelta(t, 1.5, db.Clip(0).StrideLength, 1e-12)
}

func TestBuildEdgeCases(t *testing.T) {
	t.Parallel()

	t.Run("zero duration clip adds no poses", func(t *testing.T) {
		skel := testutil.Skeleton()
		db := New(skel, features.LocomotionConfig())
		db.AddClip(ClipSpec{Name: "empty", Clip: &anim.KeyframeClip{Name: "empty"}})
		db.AddClip(ClipSpec{Name: "idle", Clip: testutil.IdleClip(skel, 1)})
		require.NoError(t, db.Build(DefaultBuildOptions()))
		assert.Zero(t, db.Clip(0).PoseCount)
		assert.Equal(t, 31, db.Clip(1).PoseCount)
		assert.Zero(t, db.Clip(1).StartPoseIndex)
	})

	t.Run("min pose interval", func(t *testing.T) {
		skel := testutil.Skeleton()
		db := New(skel, features.LocomotionConfig())
		db.AddClip(ClipSpec{Name: "idle", Clip: testutil.IdleClip(skel, 1), SampleRate: 60})
		opts := DefaultBuildOptions()
		opts.MinPoseInterval = 0.25
		require.NoError(t, db.Build(opts))
		assert.Equal(t, 5, db.PoseCount())
	})

	t.Run("no tree", func(t *testing.T) {
		db := newLocomotionDB(t)
		opts := DefaultBuildOptions()
		opts.BuildKDTree = false
		require.NoError(t, db.Build(opts))
		assert.Nil(t, db.Tree())
	})

	t.Run("no skeleton", func(t *testing.T) {
		db := New(nil, features.LocomotionConfig())
		assert.ErrorIs(t, db.Build(DefaultBuildOptions()), ErrNoSkeleton)
	})

	t.Run("nil clip is rejected", func(t *testing.T) {
		db := New(testutil.Skeleton(), features.LocomotionConfig())
		assert.Equal(t, -1, db.AddClip(ClipSpec{Name: "missing"}))
	})

	t.Run("clear", func(t *testing.T) {
		db := newLocomotionDB(t)
		require.NoError(t, db.Build(DefaultBuildOptions()))
		db.Clear()
		assert.False(t, db.Built())
		assert.Zero(t, db.PoseCount())
		assert.Zero(t, db.ClipCount())
		assert.Equal(t, Stats{}, db.Stats())
		assert.Nil(t, db.Pose(0))
	})
}

func TestPoseToKDPoint(t *testing.T) {
	t.Parallel()
	db := New(testutil.Skeleton(), features.LocomotionConfig())

	var traj features.Trajectory
	traj.AddSample(features.TrajectorySample{TimeOffset: -0.1, Position: mgl64.Vec3{0, 0, -0.3}, Velocity: mgl64.Vec3{0, 0, 3}})
	traj.AddSample(features.TrajectorySample{TimeOffset: 0.1, Position: mgl64.Vec3{0.3, 0, 0.4}, Velocity: mgl64.Vec3{4, 0, 0}})
	pf := features.PoseFeatures{RootVelocity: mgl64.Vec3{1, 0, 2}, RootAngularVelocity: 0.5}

	// An unbuilt database normalises with identity statistics.
	got := db.PoseToKDPoint(&traj, &pf)
	want := [kdtree.Dim]float64{0.3, 3, 0.5, 4}
	want[12], want[14], want[15] = 1, 2, 0.5
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12, "slot %d", i)
	}

	t.Run("built statistics", func(t *testing.T) {
		db := newLocomotionDB(t)
		require.NoError(t, db.Build(DefaultBuildOptions()))
		n := db.Normalization()
		got := db.PoseToKDPoint(&traj, &pf)
		assert.InDelta(t, n.TrajectoryPosition[0].Normalize(0.3), got[0], 1e-12)
		assert.InDelta(t, n.TrajectoryVelocity[1].Normalize(4), got[3], 1e-12)
		assert.Zero(t, got[4], "slots beyond the trajectory stay zero")

		// Root velocity is scaled, not shifted, so its direction survives.
		assert.InDelta(t, 2*got[12], got[14], 1e-12)
		assert.InDelta(t, n.RootAngularVelocity.Normalize(0.5), got[15], 1e-12)
	})
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewFileStore(fsutil.NewMemoryFileSystem(), "/cache")
	opts := DefaultBuildOptions()

	original := newLocomotionDB(t)
	require.NoError(t, original.Build(opts))
	require.NoError(t, original.SaveCache(store, "locomotion", opts))

	restored := newLocomotionDB(t)
	require.NoError(t, restored.LoadCache(store, "locomotion", opts))
	require.True(t, restored.Built())
	assert.True(t, restored.Stats().FromCache)
	assert.Equal(t, original.Stats().BuildID, restored.Stats().BuildID)

	if diff := cmp.Diff(original.poses, restored.poses, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("poses differ after cache round trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(original.clips, restored.clips, cmpopts.EquateEmpty(), cmpopts.IgnoreUnexported(Clip{})); diff != "" {
		t.Errorf("clips differ after cache round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, original.norm, restored.norm)
	assert.NotNil(t, restored.Source(1), "clip sources survive a load")

	q := original.PoseToKDPoint(&original.Pose(40).Trajectory, &original.Pose(40).Features)
	assert.Equal(t, original.Tree().FindKNearest(q, 8), restored.Tree().FindKNearest(q, 8))
}

func TestCacheValidation(t *testing.T) {
	t.Parallel()
	opts := DefaultBuildOptions()

	t.Run("missing", func(t *testing.T) {
		store := NewFileStore(fsutil.NewMemoryFileSystem(), "/cache")
		db := newLocomotionDB(t)
		assert.ErrorIs(t, db.LoadCache(store, "nope", opts), ErrCacheMiss)
	})

	t.Run("save requires a build", func(t *testing.T) {
		store := NewFileStore(fsutil.NewMemoryFileSystem(), "/cache")
		assert.ErrorIs(t, newLocomotionDB(t).SaveCache(store, "x", opts), ErrNotBuilt)
	})

	t.Run("fingerprint mismatch rebuilds", func(t *testing.T) {
		store := NewFileStore(fsutil.NewMemoryFileSystem(), "/cache")
		db := newLocomotionDB(t)
		loaded, err := db.BuildOrLoad(store, "lib", opts)
		require.NoError(t, err)
		assert.False(t, loaded, "first run builds")

		again := newLocomotionDB(t)
		loaded, err = again.BuildOrLoad(store, "lib", opts)
		require.NoError(t, err)
		assert.True(t, loaded, "identical setup loads the cache")

		changed := newLocomotionDB(t)
		changed.AddClip(ClipSpec{Name: "strafe", Clip: testutil.StrafeClip(changed.Skeleton(), 1, 1)})
		err = changed.LoadCache(store, "lib", opts)
		require.True(t, errors.Is(err, ErrCacheMismatch), "got %v", err)
		assert.False(t, changed.Built(), "a stale cache is never served")

		loaded, err = changed.BuildOrLoad(store, "lib", opts)
		require.NoError(t, err)
		assert.False(t, loaded)
		assert.Equal(t, 3, changed.Stats().TotalClips)
	})

	t.Run("build options are part of the fingerprint", func(t *testing.T) {
		db := newLocomotionDB(t)
		other := opts
		other.PruneStaticPoses = true
		assert.NotEqual(t, db.Fingerprint(opts), db.Fingerprint(other))
		assert.Equal(t, db.Fingerprint(opts), newLocomotionDB(t).Fingerprint(opts))
	})

	t.Run("corrupt blob", func(t *testing.T) {
		db := newLocomotionDB(t)
		store := &memStore{entries: map[string]*CacheEntry{
			"bad": {Name: "bad", Fingerprint: db.Fingerprint(opts), Blob: []byte("not gzip")},
		}}
		err := db.LoadCache(store, "bad", opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gzip")
		assert.False(t, db.Built())
	})
}

type memStore struct {
	entries map[string]*CacheEntry
}

func (m *memStore) SaveCache(e *CacheEntry) error {
	m.entries[e.Name] = e
	return nil
}

func (m *memStore) LoadCache(name string) (*CacheEntry, error) {
	e, ok := m.entries[name]
	if !ok {
		return nil, ErrCacheMiss
	}
	return e, nil
}
