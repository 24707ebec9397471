package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionmatch/internal/fsutil"
	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/testutil"
)

func TestRegistryAcquireShares(t *testing.T) {
	t.Parallel()
	reg, err := NewRegistry(0)
	require.NoError(t, err)
	defer reg.Close()

	skel := testutil.Skeleton()
	specs := []ClipSpec{
		{Name: "idle", Clip: testutil.IdleClip(skel, 1), Looping: true},
		{Name: "walk", Clip: testutil.WalkClip(skel, 2, 1), Looping: true},
	}
	store := NewFileStore(fsutil.NewMemoryFileSystem(), "/caches")
	opts := DefaultBuildOptions()

	a, shared, err := reg.Acquire(skel, features.LocomotionConfig(), specs, store, "crowd", opts)
	require.NoError(t, err)
	assert.False(t, shared)
	require.True(t, a.Built())

	b, shared, err := reg.Acquire(skel, features.LocomotionConfig(), specs, store, "crowd", opts)
	require.NoError(t, err)
	assert.True(t, shared)
	assert.Same(t, a, b)

	got, ok := reg.Lookup(a.Fingerprint(opts))
	require.True(t, ok)
	assert.Same(t, a, got)

	// A different clip set is a different entry.
	c, shared, err := reg.Acquire(skel, features.LocomotionConfig(), specs[:1], nil, "idle-only", opts)
	require.NoError(t, err)
	assert.False(t, shared)
	assert.NotSame(t, a, c)
	assert.Equal(t, 1, c.ClipCount())
}

func TestRegistryErrors(t *testing.T) {
	t.Parallel()
	reg, err := NewRegistry(2)
	require.NoError(t, err)
	defer reg.Close()

	_, _, err = reg.Acquire(nil, features.LocomotionConfig(), nil, nil, "x", DefaultBuildOptions())
	assert.ErrorIs(t, err, ErrNoSkeleton)

	_, err = reg.Publish(New(testutil.Skeleton(), features.LocomotionConfig()), DefaultBuildOptions())
	assert.ErrorIs(t, err, ErrNotBuilt)

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
}
