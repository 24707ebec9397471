// Package database indexes animation clips into a read-only pose database
// with normalisation statistics and a KD-tree for candidate retrieval.
//
// A Database is filled with AddClip, built once with Build (or restored from
// a cache), and from then on only read. A built database may be shared by
// any number of controllers.
package database

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/motion"
	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/motion/kdtree"
	"github.com/banshee-data/motionmatch/internal/timeutil"
)

// kdTrajectorySlots is how many trajectory samples feed the KD point.
const kdTrajectorySlots = 6

// Database holds clips, their sampled poses and the search index.
type Database struct {
	skel      *anim.Skeleton
	cfg       features.Config
	extractor *features.Extractor
	clock     timeutil.Clock

	clips []Clip
	poses []Pose
	norm  features.Normalization
	tree  *kdtree.Tree

	built bool
	stats Stats
}

// New returns an empty database for skel using cfg for feature extraction.
func New(skel *anim.Skeleton, cfg features.Config) *Database {
	return &Database{
		skel:      skel,
		cfg:       cfg.Clone(),
		extractor: features.NewExtractor(skel, cfg),
		clock:     timeutil.RealClock{},
		norm:      features.IdentityNormalization(),
	}
}

// SetClock replaces the clock used to time builds.
func (d *Database) SetClock(c timeutil.Clock) { d.clock = c }

// AddClip registers spec and returns its clip index. Sampling is deferred to
// Build. Clips cannot be added to a built database; it returns -1.
func (d *Database) AddClip(spec ClipSpec) int {
	if d.built {
		motion.Opsf("cannot add clip %q to a built database", spec.Name)
		return -1
	}
	if spec.Clip == nil {
		motion.Opsf("clip %q has no animation, skipping", spec.Name)
		return -1
	}
	d.clips = append(d.clips, Clip{
		Name:            spec.Name,
		Duration:        spec.Clip.Duration(),
		Looping:         spec.Looping,
		SampleRate:      spec.SampleRate,
		LocomotionSpeed: spec.LocomotionSpeed,
		CostBias:        spec.CostBias,
		Tags:            append([]string(nil), spec.Tags...),
		source:          spec.Clip,
	})
	return len(d.clips) - 1
}

// Build samples every registered clip, computes normalisation statistics and
// builds the KD-tree. Building again discards the previous index.
func (d *Database) Build(opts BuildOptions) error {
	if d.skel == nil {
		return ErrNoSkeleton
	}
	start := d.clock.Now()
	d.built = false
	d.poses = d.poses[:0]
	d.tree = nil

	for ci := range d.clips {
		d.indexClip(ci, opts)
	}
	sampled := len(d.poses)

	if opts.PruneStaticPoses {
		d.pruneStatic(opts.StaticThreshold)
	}
	d.recomputeRanges()

	var nb features.NormalizationBuilder
	for i := range d.poses {
		nb.Add(&d.poses[i].Features, &d.poses[i].Trajectory)
	}
	d.norm = nb.Build()

	if opts.BuildKDTree {
		d.tree = kdtree.Build(d.kdPoints())
	}

	d.built = true
	d.stats = Stats{
		TotalPoses:    len(d.poses),
		TotalClips:    len(d.clips),
		PrunedPoses:   sampled - len(d.poses),
		TotalDuration: d.totalDuration(),
		BuildDuration: d.clock.Since(start),
		BuildID:       uuid.New().String(),
	}
	motion.Diagf("database built: clips=%d poses=%d pruned=%d kdtree=%v in %v",
		d.stats.TotalClips, d.stats.TotalPoses, d.stats.PrunedPoses, d.tree.Built(), d.stats.BuildDuration)
	return nil
}

func (d *Database) indexClip(ci int, opts BuildOptions) {
	c := &d.clips[ci]
	c.Duration = c.source.Duration()
	if c.Duration <= 0 {
		motion.Opsf("clip %q has zero duration, no poses indexed", c.Name)
		return
	}

	rate := c.SampleRate
	if rate <= 0 {
		rate = opts.DefaultSampleRate
	}
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	interval := math.Max(1/rate, opts.MinPoseInterval)
	count := int(c.Duration/interval) + 1

	overridden := false
	for i := 0; i < count; i++ {
		t := math.Min(float64(i)*interval, c.Duration)
		pf := d.extractor.ExtractFromClip(c.source, d.skel, t)
		traj := d.extractor.ExtractTrajectoryFromClip(c.source, d.skel, t)
		if c.LocomotionSpeed > 0 && pf.RootVelocity.Len() < InPlaceSpeedThreshold {
			applyLocomotionSpeed(&pf, &traj, c.LocomotionSpeed)
			overridden = true
		}
		d.poses = append(d.poses, Pose{
			ClipIndex:         ci,
			Time:              t,
			NormalizedTime:    t / c.Duration,
			Features:          pf,
			Trajectory:        traj,
			Tags:              append([]string(nil), c.Tags...),
			CostBias:          c.CostBias,
			IsLoopBoundary:    c.Looping && (t < opts.LoopBoundaryMargin || t > c.Duration-opts.LoopBoundaryMargin),
			CanTransitionFrom: true,
			CanTransitionTo:   true,
		})
	}

	if overridden {
		c.StrideLength = c.LocomotionSpeed * c.Duration
	} else {
		start := d.extractor.RootPosition(c.source, d.skel, 0)
		end := d.extractor.RootPosition(c.source, d.skel, c.Duration)
		c.StrideLength = math.Hypot(end[0]-start[0], end[2]-start[2])
	}
	motion.Tracef("indexed clip %q: poses=%d interval=%.4fs stride=%.3f", c.Name, count, interval, c.StrideLength)
}

// applyLocomotionSpeed rewrites an in-place sample as forward travel at speed
// along each sample's facing.
func applyLocomotionSpeed(pf *features.PoseFeatures, traj *features.Trajectory, speed float64) {
	for i := range traj.Slice() {
		s := &traj.Samples[i]
		s.Velocity = s.Facing.Mul(speed)
		s.Position = s.Facing.Mul(speed * s.TimeOffset)
	}
	pf.RootVelocity = mgl64.Vec3{0, 0, speed}
}

func (d *Database) pruneStatic(threshold float64) {
	kept := d.poses[:0]
	for _, p := range d.poses {
		if p.Features.MotionEnergy() >= threshold {
			kept = append(kept, p)
		}
	}
	clear(d.poses[len(kept):])
	d.poses = kept
}

// recomputeRanges rebuilds the contiguous per-clip pose ranges. Poses are
// appended clip by clip, so each clip's poses stay adjacent after pruning.
func (d *Database) recomputeRanges() {
	for ci := range d.clips {
		d.clips[ci].StartPoseIndex = 0
		d.clips[ci].PoseCount = 0
	}
	for _, p := range d.poses {
		d.clips[p.ClipIndex].PoseCount++
	}
	next := 0
	for ci := range d.clips {
		d.clips[ci].StartPoseIndex = next
		next += d.clips[ci].PoseCount
	}
}

func (d *Database) kdPoints() []kdtree.Point {
	points := make([]kdtree.Point, len(d.poses))
	for i := range d.poses {
		points[i] = kdtree.Point{
			Coords: d.PoseToKDPoint(&d.poses[i].Trajectory, &d.poses[i].Features),
			Index:  i,
		}
	}
	return points
}

// PoseToKDPoint encodes a trajectory and pose as a KD-tree point: the
// position and velocity magnitudes of the first six trajectory samples,
// the root velocity scaled by its standard deviation, and the root yaw rate.
func (d *Database) PoseToKDPoint(traj *features.Trajectory, pf *features.PoseFeatures) [kdtree.Dim]float64 {
	var out [kdtree.Dim]float64
	norm := &d.norm
	n := min(traj.Count, kdTrajectorySlots)
	for i := 0; i < n; i++ {
		pos := traj.Samples[i].Position.Len()
		vel := traj.Samples[i].Velocity.Len()
		if norm.Computed {
			pos = norm.TrajectoryPosition[i].Normalize(pos)
			vel = norm.TrajectoryVelocity[i].Normalize(vel)
		}
		out[2*i] = pos
		out[2*i+1] = vel
	}

	rv := pf.RootVelocity
	ang := pf.RootAngularVelocity
	if norm.Computed {
		rv = mgl64.Vec3{
			norm.RootVelocity.Scale(rv[0]),
			norm.RootVelocity.Scale(rv[1]),
			norm.RootVelocity.Scale(rv[2]),
		}
		ang = norm.RootAngularVelocity.Normalize(ang)
	}
	out[12], out[13], out[14] = rv[0], rv[1], rv[2]
	out[15] = ang
	return out
}

func (d *Database) totalDuration() float64 {
	total := 0.0
	for _, c := range d.clips {
		total += c.Duration
	}
	return total
}

// Built reports whether Build or LoadCache has completed.
func (d *Database) Built() bool { return d.built }

// Skeleton returns the skeleton the database extracts against.
func (d *Database) Skeleton() *anim.Skeleton { return d.skel }

// FeatureConfig returns a copy of the extraction config.
func (d *Database) FeatureConfig() features.Config { return d.cfg.Clone() }

// Extractor returns the database's feature extractor.
func (d *Database) Extractor() *features.Extractor { return d.extractor }

// PoseCount returns the number of indexed poses.
func (d *Database) PoseCount() int { return len(d.poses) }

// Pose returns the pose at index i, or nil when out of range. The pose must
// not be modified.
func (d *Database) Pose(i int) *Pose {
	if i < 0 || i >= len(d.poses) {
		return nil
	}
	return &d.poses[i]
}

// ClipCount returns the number of registered clips.
func (d *Database) ClipCount() int { return len(d.clips) }

// Clip returns the clip at index i, or nil when out of range. The clip must
// not be modified.
func (d *Database) Clip(i int) *Clip {
	if i < 0 || i >= len(d.clips) {
		return nil
	}
	return &d.clips[i]
}

// Source returns the animation registered for clip i.
func (d *Database) Source(i int) anim.Clip {
	if i < 0 || i >= len(d.clips) {
		return nil
	}
	return d.clips[i].source
}

// FindClip returns the index of the first clip called name, or -1.
func (d *Database) FindClip(name string) int {
	for i := range d.clips {
		if d.clips[i].Name == name {
			return i
		}
	}
	return -1
}

// Normalization returns the per-channel statistics of the last build.
func (d *Database) Normalization() *features.Normalization { return &d.norm }

// Tree returns the KD-tree, or nil when it was not built.
func (d *Database) Tree() *kdtree.Tree { return d.tree }

// PosesFromClip returns the indices of clip ci's poses.
func (d *Database) PosesFromClip(ci int) []int {
	c := d.Clip(ci)
	if c == nil {
		return nil
	}
	out := make([]int, 0, c.PoseCount)
	for i := c.StartPoseIndex; i < c.StartPoseIndex+c.PoseCount; i++ {
		out = append(out, i)
	}
	return out
}

// PosesWithTag returns the indices of every pose carrying tag.
func (d *Database) PosesWithTag(tag string) []int {
	var out []int
	for i := range d.poses {
		if d.poses[i].HasTag(tag) {
			out = append(out, i)
		}
	}
	return out
}

// Stats returns a summary of the last build.
func (d *Database) Stats() Stats { return d.stats }

// Clear removes every clip and pose and marks the database unbuilt.
func (d *Database) Clear() {
	d.clips = nil
	d.poses = nil
	d.tree = nil
	d.norm = features.IdentityNormalization()
	d.built = false
	d.stats = Stats{}
}

// fingerprintInput is everything a build result depends on.
type fingerprintInput struct {
	Version  int
	Joints   []string
	Features features.Config
	Options  BuildOptions
	Clips    []fingerprintClip
}

type fingerprintClip struct {
	Name            string
	Duration        float64
	Looping         bool
	SampleRate      float64
	LocomotionSpeed float64
	CostBias        float64
	Tags            []string
}

// Fingerprint identifies the clip metadata, skeleton, feature config and
// build options. A cache is only valid for an identical fingerprint.
func (d *Database) Fingerprint(opts BuildOptions) string {
	in := fingerprintInput{Version: cacheVersion, Features: d.cfg, Options: opts}
	if d.skel != nil {
		for _, j := range d.skel.Joints {
			in.Joints = append(in.Joints, j.Name)
		}
	}
	for _, c := range d.clips {
		in.Clips = append(in.Clips, fingerprintClip{
			Name:            c.Name,
			Duration:        c.source.Duration(),
			Looping:         c.Looping,
			SampleRate:      c.SampleRate,
			LocomotionSpeed: c.LocomotionSpeed,
			CostBias:        c.CostBias,
			Tags:            c.Tags,
		})
	}
	b, err := json.Marshal(in)
	if err != nil {
		// NaN or Inf in a tunable; fall back to the printed form.
		b = []byte(fmt.Sprintf("%+v", in))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
