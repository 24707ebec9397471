package database

import (
	"errors"
	"slices"
	"time"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/motion/features"
)

// Build defaults.
const (
	DefaultSampleRate         = 30.0
	DefaultLoopBoundaryMargin = 0.1
	DefaultStaticThreshold    = 0.01

	// InPlaceSpeedThreshold is the extracted root speed below which a clip
	// with a locomotion speed is treated as captured in place.
	InPlaceSpeedThreshold = 0.3
)

var (
	// ErrNotBuilt is returned by operations that need a built database.
	ErrNotBuilt = errors.New("motion database not built")
	// ErrNoSkeleton is returned by Build when the database has no skeleton.
	ErrNoSkeleton = errors.New("motion database has no skeleton")
	// ErrCacheMismatch means a stored cache was built from different clips or settings.
	ErrCacheMismatch = errors.New("motion database cache fingerprint mismatch")
	// ErrCacheMiss means the store holds no cache under the requested name.
	ErrCacheMiss = errors.New("motion database cache not found")
)

// ClipSpec registers a clip with the database.
type ClipSpec struct {
	Name            string
	Clip            anim.Clip
	Looping         bool
	SampleRate      float64 // poses per second, 0 uses BuildOptions.DefaultSampleRate
	LocomotionSpeed float64 // forward speed for in-place clips, 0 disables the override
	CostBias        float64
	Tags            []string
}

// Clip is the indexed form of a registered clip. StrideLength and the pose
// range are filled in by Build.
type Clip struct {
	Name            string
	Duration        float64
	Looping         bool
	SampleRate      float64
	LocomotionSpeed float64
	CostBias        float64
	Tags            []string
	StrideLength    float64
	StartPoseIndex  int
	PoseCount       int

	source anim.Clip
}

// Pose is one indexed sample. ClipIndex refers into the database's clip
// arena.
type Pose struct {
	ClipIndex      int
	Time           float64
	NormalizedTime float64
	Features       features.PoseFeatures
	Trajectory     features.Trajectory
	Tags           []string
	CostBias       float64

	IsLoopBoundary    bool
	CanTransitionFrom bool
	CanTransitionTo   bool
}

// HasTag reports whether the pose carries tag.
func (p *Pose) HasTag(tag string) bool {
	return slices.Contains(p.Tags, tag)
}

// BuildOptions control how clips are sampled and indexed.
type BuildOptions struct {
	DefaultSampleRate  float64
	MinPoseInterval    float64 // seconds, raises the sampling interval when larger
	LoopBoundaryMargin float64 // seconds from either edge of a looping clip
	PruneStaticPoses   bool
	StaticThreshold    float64 // motion energy below which a pose is static
	BuildKDTree        bool
}

// DefaultBuildOptions samples at 30 Hz, keeps static poses and builds the
// KD-tree.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		DefaultSampleRate:  DefaultSampleRate,
		LoopBoundaryMargin: DefaultLoopBoundaryMargin,
		StaticThreshold:    DefaultStaticThreshold,
		BuildKDTree:        true,
	}
}

// Stats summarises the last build.
type Stats struct {
	TotalPoses    int
	TotalClips    int
	PrunedPoses   int
	TotalDuration float64 // sum of clip durations, seconds
	BuildDuration time.Duration
	BuildID       string
	FromCache     bool
}
