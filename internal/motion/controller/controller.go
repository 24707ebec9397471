// Package controller drives one character: it predicts the player's path,
// plays the current clip, periodically searches the motion database and
// decides whether to switch, hiding each switch with an inertial blend.
package controller

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/motion"
	"github.com/banshee-data/motionmatch/internal/motion/database"
	"github.com/banshee-data/motionmatch/internal/motion/debug"
	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/motion/inertial"
	"github.com/banshee-data/motionmatch/internal/motion/matching"
	"github.com/banshee-data/motionmatch/internal/motion/predict"
)

var up = mgl64.Vec3{0, 1, 0}

// PlaybackState is the clip currently playing.
type PlaybackState struct {
	ClipIndex        int
	Time             float64
	NormalizedTime   float64
	MatchedPoseIndex int
	TimeSinceMatch   float64 // +Inf before the first committed match
	Playing          bool
	Finished         bool // a one-shot clamped at its end, waiting to hand over
}

// Stats describe the most recent searches.
type Stats struct {
	LastMatchCost      float64
	LastCurrentCost    float64 // cost of staying on the playing pose
	LastTrajectoryCost float64
	LastPoseCost       float64
	LastHeadingCost    float64
	PosesSearched      int
	Searches           int
	Transitions        int
	MatchesThisSecond  int
	CurrentClipName    string
	CurrentClipTime    float64
}

// Controller is per-character state. It is not safe for concurrent use; the
// database it searches may be shared.
type Controller struct {
	cfg Config

	skel      *anim.Skeleton
	db        *database.Database
	matcher   *matching.Matcher
	extractor *features.Extractor
	predictor *predict.Predictor
	blender   *inertial.Blender
	recorder  *debug.Recorder
	rootIndex int
	elapsed   float64

	playback     PlaybackState
	currentPose  anim.SkeletonPose
	previousPose anim.SkeletonPose

	queryPose       features.PoseFeatures
	queryTrajectory features.Trajectory // world directions
	localTrajectory features.Trajectory // character frame

	strafeMode    bool
	desiredFacing mgl64.Vec3
	forceSearch   bool

	timeSinceLastSearch  float64
	matchCountTimer      float64
	matchCountThisSecond int
	stats                Stats
}

// New returns a controller without a skeleton or database.
func New(cfg Config) *Controller {
	cfg = cfg.clone()
	return &Controller{
		cfg:           cfg,
		predictor:     predict.New(cfg.Predictor),
		blender:       inertial.New(cfg.Blend),
		rootIndex:     -1,
		playback:      PlaybackState{ClipIndex: matching.NoPose, MatchedPoseIndex: matching.NoPose},
		desiredFacing: mgl64.Vec3{0, 0, 1},
		stats:         Stats{LastMatchCost: math.Inf(1), LastCurrentCost: math.Inf(1)},
	}
}

// SetSkeleton creates an empty database for skel. Clips added before are
// discarded.
func (c *Controller) SetSkeleton(skel *anim.Skeleton) {
	c.skel = skel
	c.db = database.New(skel, c.cfg.Features)
	c.attach()
	motion.Diagf("controller skeleton set: joints=%d", len(skel.Joints))
}

// UseDatabase makes the controller search an already built, possibly shared,
// database.
func (c *Controller) UseDatabase(db *database.Database) error {
	if db == nil || !db.Built() {
		return database.ErrNotBuilt
	}
	c.skel = db.Skeleton()
	c.db = db
	c.cfg.Features = db.FeatureConfig()
	// Query slots must line up with the database's KD and normalisation slots.
	c.cfg.Predictor.SampleTimes = append([]float64(nil), c.cfg.Features.TrajectorySampleTimes...)
	c.predictor = predict.New(c.cfg.Predictor)
	c.predictor.SetStrafeMode(c.strafeMode)
	c.predictor.SetStrafeFacing(c.desiredFacing)
	c.attach()
	c.start()
	return nil
}

func (c *Controller) attach() {
	c.matcher = matching.New(c.db)
	c.extractor = features.NewExtractor(c.skel, c.cfg.Features)
	c.extractor.SetStrafeMode(c.strafeMode)
	c.rootIndex = c.extractor.RootIndex()
	c.currentPose = nil
	c.previousPose = nil
}

// AddClip registers a clip with the database and returns its index, or -1
// without a skeleton.
func (c *Controller) AddClip(spec database.ClipSpec) int {
	if c.db == nil {
		motion.Opsf("cannot add clip %q before a skeleton is set", spec.Name)
		return -1
	}
	return c.db.AddClip(spec)
}

// BuildDatabase builds the database and starts playback on its first pose.
func (c *Controller) BuildDatabase(opts database.BuildOptions) error {
	if c.db == nil {
		return database.ErrNoSkeleton
	}
	if err := c.db.Build(opts); err != nil {
		return err
	}
	c.start()
	return nil
}

// BuildDatabaseCached is BuildDatabase through database.BuildOrLoad.
func (c *Controller) BuildDatabaseCached(store database.CacheStore, name string, opts database.BuildOptions) (loaded bool, err error) {
	if c.db == nil {
		return false, database.ErrNoSkeleton
	}
	loaded, err = c.db.BuildOrLoad(store, name, opts)
	if err != nil {
		return false, err
	}
	c.start()
	return loaded, nil
}

// start resets per-character state and plays pose 0.
func (c *Controller) start() {
	c.predictor.Reset()
	c.blender.Reset()
	c.forceSearch = false
	c.elapsed = 0
	c.timeSinceLastSearch = 0
	c.matchCountTimer = 0
	c.matchCountThisSecond = 0
	c.stats = Stats{LastMatchCost: math.Inf(1), LastCurrentCost: math.Inf(1)}
	c.playback = PlaybackState{ClipIndex: matching.NoPose, MatchedPoseIndex: matching.NoPose}

	first := c.db.Pose(0)
	if first == nil {
		motion.Opsf("database has no poses, controller idle")
		return
	}
	c.playback = PlaybackState{
		ClipIndex:        first.ClipIndex,
		Time:             first.Time,
		NormalizedTime:   first.NormalizedTime,
		MatchedPoseIndex: 0,
		TimeSinceMatch:   math.Inf(1),
		Playing:          true,
	}
	c.stats.CurrentClipName = c.db.Clip(first.ClipIndex).Name
	c.updatePose()
	motion.Diagf("controller started on %q with %d poses", c.stats.CurrentClipName, c.db.PoseCount())
}

func (c *Controller) ready() bool {
	return c.db != nil && c.db.Built() && c.db.Clip(c.playback.ClipIndex) != nil
}

// Update advances the character by dt. position and facing are the
// character's world state; inputDirection and inputMagnitude are the desired
// movement. Before a database is built it does nothing.
func (c *Controller) Update(position, facing, inputDirection mgl64.Vec3, inputMagnitude, dt float64) {
	if !c.ready() {
		return
	}
	if dt < 0 {
		dt = 0
	}

	c.elapsed += dt
	c.predictor.Update(position, facing, inputDirection, inputMagnitude, dt)
	if c.cfg.UseInertialBlending {
		c.blender.Update(dt)
	}
	c.advancePlayback(dt)
	c.updatePose()
	c.extractQueryFeatures()

	c.timeSinceLastSearch += dt
	c.playback.TimeSinceMatch += dt
	c.matchCountTimer += dt
	if c.matchCountTimer >= 1 {
		c.stats.MatchesThisSecond = c.matchCountThisSecond
		c.matchCountThisSecond = 0
		c.matchCountTimer = 0
	}

	search := c.forceSearch || c.timeSinceLastSearch >= c.cfg.SearchInterval
	if !search {
		local := c.toLocal(c.predictor.GenerateTrajectory())
		if p := c.db.Pose(c.playingPose()); p != nil &&
			local.Cost(&p.Trajectory, c.cfg.Features.Trajectory()) > c.cfg.ForceSearchThreshold {
			search = true
		}
	}
	if search {
		c.performSearch()
		c.forceSearch = false
		c.timeSinceLastSearch = 0
	}
}

func (c *Controller) advancePlayback(dt float64) {
	clip := c.db.Clip(c.playback.ClipIndex)
	if !c.playback.Playing || clip == nil {
		return
	}
	c.playback.Time += dt
	if clip.Looping {
		c.playback.Time = features.WrapTime(c.playback.Time, clip.Duration)
	} else if c.playback.Time >= clip.Duration {
		c.playback.Time = clip.Duration
		c.playback.Finished = true
		c.forceSearch = true
	}
	if clip.Duration > 0 {
		c.playback.NormalizedTime = c.playback.Time / clip.Duration
	}
	c.stats.CurrentClipTime = c.playback.Time
}

// updatePose samples the playing clip without root travel and removes any
// yaw baked into the root; the character's own transform supplies both.
func (c *Controller) updatePose() {
	src := c.db.Source(c.playback.ClipIndex)
	if src == nil {
		return
	}
	c.currentPose = anim.SamplePose(src, c.skel, c.playback.Time, true)
	if c.rootIndex >= 0 && c.rootIndex < len(c.currentPose) {
		c.currentPose[c.rootIndex].Rotation = anim.StripYaw(c.currentPose[c.rootIndex].Rotation)
	}
}

// extractQueryFeatures encodes the playing pose with the root motion taken
// from the predictor, which reflects the player's intent.
func (c *Controller) extractQueryFeatures() {
	src := c.db.Source(c.playback.ClipIndex)
	if src == nil {
		return
	}
	c.queryPose = c.extractor.ExtractFromClip(src, c.skel, c.playback.Time)
	c.queryPose.RootVelocity = c.predictor.CurrentVelocity()
	c.queryPose.RootAngularVelocity = c.predictor.CurrentAngularVelocity()
}

// toLocalRotation maps world directions into the predictor's facing frame.
func (c *Controller) toLocalRotation() mgl64.Quat {
	f := c.predictor.CurrentFacing()
	if (mgl64.Vec2{f[0], f[2]}).Len() <= 0.01 {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatRotate(-features.FacingYaw(f), up)
}

func (c *Controller) toLocal(traj features.Trajectory) features.Trajectory {
	q := c.toLocalRotation()
	for i := range traj.Slice() {
		s := &traj.Samples[i]
		s.Position = q.Rotate(s.Position)
		s.Velocity = q.Rotate(s.Velocity)
		s.Facing = q.Rotate(s.Facing)
	}
	return traj
}

// playingPose is the pose of the playing clip closest to the playback time,
// or NoPose.
func (c *Controller) playingPose() int {
	clip := c.db.Clip(c.playback.ClipIndex)
	if clip == nil {
		return matching.NoPose
	}
	best, bestGap := matching.NoPose, math.Inf(1)
	for i := clip.StartPoseIndex; i < clip.StartPoseIndex+clip.PoseCount; i++ {
		if gap := math.Abs(c.db.Pose(i).Time - c.playback.Time); gap < bestGap {
			best, bestGap = i, gap
		}
	}
	return best
}

func (c *Controller) performSearch() {
	c.queryTrajectory = c.predictor.GenerateTrajectory()
	c.localTrajectory = c.toLocal(c.queryTrajectory)
	toLocal := c.toLocalRotation()
	query := c.queryPose
	query.RootVelocity = toLocal.Rotate(query.RootVelocity)

	opts := c.cfg.Search.Clone()
	opts.CurrentPoseIndex = c.playback.MatchedPoseIndex
	opts.CurrentClipIndex = c.playback.ClipIndex
	opts.StrafeMode = c.strafeMode
	if c.strafeMode {
		c.applyStrafeOptions(&opts, toLocal)
	}
	if c.playback.Finished {
		// The played-out tail would win on continuity and hold the last frame.
		opts.ExcludeEndedClip = true
		opts.EndedClipIndex = c.playback.ClipIndex
		opts.EndedClipFrom = c.playback.Time - c.cfg.SameClipMinTimeJump
		opts.CurrentClipIndex = matching.NoPose
	}

	match := c.matcher.FindBestMatch(&c.localTrajectory, &query, opts)
	c.stats.Searches++
	c.stats.PosesSearched = c.db.PoseCount()
	if !match.Valid {
		motion.Tracef("search found no valid pose")
		return
	}

	// Staying put is scored without the reselect penalty.
	current := math.Inf(1)
	if i := c.playingPose(); i != matching.NoPose {
		stay := opts
		stay.CurrentPoseIndex = matching.NoPose
		current = c.matcher.ComputeCost(i, &c.localTrajectory, &query, stay).Cost
	}

	commit, reason := c.decide(match, current)
	motion.Tracef("search: pose=%d cost=%.4f current=%.4f commit=%v (%s)", match.PoseIndex, match.Cost, current, commit, reason)
	if c.recorder.IsEnabled() {
		p := c.db.Pose(match.PoseIndex)
		c.recorder.Record(debug.SearchRecord{
			Time:           c.elapsed,
			PoseIndex:      match.PoseIndex,
			FromClip:       c.stats.CurrentClipName,
			ToClip:         c.db.Clip(p.ClipIndex).Name,
			ToClipTime:     p.Time,
			Cost:           match.Cost,
			CurrentCost:    current,
			TrajectoryCost: match.TrajectoryCost,
			PoseCost:       match.PoseCost,
			HeadingCost:    match.HeadingCost,
			BiasCost:       match.BiasCost,
			Committed:      commit,
			Reason:         reason,
			StrafeMode:     c.strafeMode,
			RequiredTags:   opts.RequiredTags,
			Query:          c.localTrajectory,
			Matched:        p.Trajectory,
		})
	}
	if commit {
		c.transitionTo(match)
		c.matchCountThisSecond++
		c.stats.Transitions++
		if c.cfg.OnPoseMatched != nil {
			c.cfg.OnPoseMatched(match)
		}
	}

	c.stats.LastMatchCost = match.Cost
	c.stats.LastCurrentCost = current
	c.stats.LastTrajectoryCost = match.TrajectoryCost
	c.stats.LastPoseCost = match.PoseCost
	c.stats.LastHeadingCost = match.HeadingCost
}

// applyStrafeOptions aims the heading term at the desired facing and, when
// the predicted motion is mostly sideways, restricts candidates to strafes.
func (c *Controller) applyStrafeOptions(opts *matching.SearchOptions, toLocal mgl64.Quat) {
	opts.DesiredFacing = toLocal.Rotate(c.desiredFacing)
	opts.DesiredMovement = toLocal.Rotate(c.predictor.CurrentVelocity())
	if hw := c.cfg.Features.HeadingWeight; hw > 0 {
		opts.HeadingWeight = 2 * hw
	} else {
		opts.HeadingWeight = 1.5
	}

	for _, s := range c.localTrajectory.Slice() {
		if s.TimeOffset <= 0 {
			continue
		}
		v := s.Velocity
		if v.Len() > c.cfg.StrafeMinSpeed && math.Abs(v[0]) > math.Abs(v[2])*c.cfg.StrafeSidewaysRatio {
			opts.RequiredTags = append(opts.RequiredTags, StrafeTag)
		}
		break
	}
}

// decide applies the transition policy to the best match.
func (c *Controller) decide(match matching.MatchResult, current float64) (bool, string) {
	p := c.db.Pose(match.PoseIndex)
	clip := c.db.Clip(c.playback.ClipIndex)
	since := c.playback.TimeSinceMatch

	switch {
	case c.playback.Finished:
		if p.ClipIndex != c.playback.ClipIndex && since < c.cfg.MinDwellTime {
			return false, "dwelling"
		}
		return true, "clip finished"
	case p.ClipIndex != c.playback.ClipIndex:
		if since > c.cfg.MaxDwellTime {
			return true, "max dwell exceeded"
		}
		if since < c.cfg.MinDwellTime {
			return false, "dwelling"
		}
		if cheaper(match.Cost, current, c.cfg.TransitionCostRatio) {
			return true, "cheaper clip"
		}
		return false, "not enough improvement"
	case clip != nil && !clip.Looping:
		if math.Abs(p.Time-c.playback.Time) > c.cfg.SameClipMinTimeJump && cheaper(match.Cost, current, c.cfg.SameClipCostRatio) {
			return true, "time jump"
		}
		return false, "same clip"
	default:
		return false, "same looping clip"
	}
}

// cheaper reports whether cost undercuts current by the fraction 1-ratio.
// Biases can push costs below zero, so the margin is taken from |current|.
func cheaper(cost, current, ratio float64) bool {
	if math.IsInf(current, 1) {
		return !math.IsInf(cost, 1)
	}
	return cost < current-math.Abs(current)*(1-ratio)
}

func (c *Controller) transitionTo(match matching.MatchResult) {
	c.previousPose = c.currentPose.Clone()
	p := c.db.Pose(match.PoseIndex)
	from := c.stats.CurrentClipName

	c.playback = PlaybackState{
		ClipIndex:        p.ClipIndex,
		Time:             p.Time,
		NormalizedTime:   p.NormalizedTime,
		MatchedPoseIndex: match.PoseIndex,
		Playing:          true,
	}
	c.stats.CurrentClipName = c.db.Clip(p.ClipIndex).Name
	c.stats.CurrentClipTime = p.Time
	c.updatePose()

	if c.cfg.UseInertialBlending && len(c.previousPose) > 0 && len(c.currentPose) > 0 {
		c.blender.StartSkeletalBlend(c.previousPose, c.currentPose, nil, nil)
	}
	motion.Diagf("transition %q -> %q at t=%.3f cost=%.4f", from, c.stats.CurrentClipName, p.Time, match.Cost)
}

// CurrentPose returns the playing pose with any active blend offset applied.
func (c *Controller) CurrentPose() anim.SkeletonPose {
	pose := c.currentPose.Clone()
	if c.cfg.UseInertialBlending && c.blender.IsBlending() && len(pose) > 0 {
		c.blender.ApplyToPose(pose)
	}
	return pose
}

// ApplyToSkeleton writes CurrentPose into skel's joints.
func (c *Controller) ApplyToSkeleton(skel *anim.Skeleton) {
	if skel == nil || len(c.currentPose) == 0 {
		return
	}
	skel.ApplyPose(c.CurrentPose())
}

// SetRecorder attaches a search recorder; nil detaches it.
func (c *Controller) SetRecorder(r *debug.Recorder) { c.recorder = r }

// Elapsed is the total time passed to Update since the database was built.
func (c *Controller) Elapsed() float64 { return c.elapsed }

// ForceSearch makes the next Update search regardless of the interval.
func (c *Controller) ForceSearch() { c.forceSearch = true }

// SetRequiredTags replaces the tags every candidate must carry.
func (c *Controller) SetRequiredTags(tags []string) {
	c.cfg.Search.RequiredTags = append([]string(nil), tags...)
}

// SetExcludedTags replaces the tags no candidate may carry.
func (c *Controller) SetExcludedTags(tags []string) {
	c.cfg.Search.ExcludedTags = append([]string(nil), tags...)
}

// SetStrafeMode locks the predicted facing to the desired facing and
// enables heading matching. Changing the mode forces a search.
func (c *Controller) SetStrafeMode(on bool) {
	if c.strafeMode == on {
		return
	}
	c.strafeMode = on
	if c.extractor != nil {
		c.extractor.SetStrafeMode(on)
	}
	c.predictor.SetStrafeMode(on)
	c.forceSearch = true
	motion.Diagf("strafe mode %v", on)
}

// StrafeMode reports whether strafe mode is on.
func (c *Controller) StrafeMode() bool { return c.strafeMode }

// SetDesiredFacing sets the world facing held while strafing.
func (c *Controller) SetDesiredFacing(f mgl64.Vec3) {
	c.desiredFacing = f
	c.predictor.SetStrafeFacing(f)
}

// SetUseInertialBlending toggles blending. Turning it off drops any active blend.
func (c *Controller) SetUseInertialBlending(on bool) {
	c.cfg.UseInertialBlending = on
	if !on {
		c.blender.Reset()
	}
}

// IsBlending reports whether a transition blend is active.
func (c *Controller) IsBlending() bool {
	return c.cfg.UseInertialBlending && c.blender.IsBlending()
}

// Playback returns the playback state.
func (c *Controller) Playback() PlaybackState { return c.playback }

// Stats returns search statistics.
func (c *Controller) Stats() Stats { return c.stats }

// Database returns the searched database, or nil before SetSkeleton.
func (c *Controller) Database() *database.Database { return c.db }

// QueryTrajectory is the last predicted trajectory, directions in world space.
func (c *Controller) QueryTrajectory() features.Trajectory { return c.queryTrajectory }

// LocalQueryTrajectory is the last searched trajectory in the character frame.
func (c *Controller) LocalQueryTrajectory() features.Trajectory { return c.localTrajectory }

// QueryPose is the last extracted query pose, root velocity in world space.
func (c *Controller) QueryPose() features.PoseFeatures { return c.queryPose }

// LastMatchedTrajectory is the stored trajectory of the matched pose, or an
// empty trajectory.
func (c *Controller) LastMatchedTrajectory() features.Trajectory {
	if c.db == nil {
		return features.Trajectory{}
	}
	if p := c.db.Pose(c.playback.MatchedPoseIndex); p != nil {
		return p.Trajectory
	}
	return features.Trajectory{}
}
