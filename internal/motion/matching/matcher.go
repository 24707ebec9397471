// Package matching ranks database poses against a query trajectory and pose.
package matching

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/motion"
	"github.com/banshee-data/motionmatch/internal/motion/database"
	"github.com/banshee-data/motionmatch/internal/motion/features"
)

// NoPose marks an absent pose or clip index in SearchOptions.
const NoPose = -1

// ReselectPenalty is added to candidates from the currently matched clip that
// lie within MinTimeSinceLastSelect of the matched pose.
const ReselectPenalty = 1000.0

// DefaultKDTreeCandidates is used when SearchOptions.KDTreeCandidates is not positive.
const DefaultKDTreeCandidates = 64

// SearchOptions carry the per-search weights, filters and continuity context.
type SearchOptions struct {
	TrajectoryWeight float64
	PoseWeight       float64
	HeadingWeight    float64 // 0 disables the heading term

	RequiredTags        []string // all must be present
	ExcludedTags        []string // none may be present
	AllowLoopBoundaries bool

	// ExcludeEndedClip drops poses of EndedClipIndex at or after
	// EndedClipFrom, the tail of a one-shot that has played out.
	ExcludeEndedClip bool
	EndedClipIndex   int
	EndedClipFrom    float64

	// Continuity context. NoPose when nothing is playing.
	CurrentPoseIndex       int
	CurrentClipIndex       int
	MinTimeSinceLastSelect float64
	ContinuingPoseCostBias float64 // added when the candidate is from CurrentClipIndex
	LoopingCostBias        float64 // added when the candidate's clip loops

	StrafeMode         bool
	StrafeFacingWeight float64
	DesiredFacing      mgl64.Vec3 // character frame
	DesiredMovement    mgl64.Vec3 // character frame

	UseKDTree        bool
	KDTreeCandidates int
	MaxCandidates    int // caps brute-force evaluations when > 0
}

// DefaultSearchOptions returns context-free options with the KD-tree enabled.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TrajectoryWeight:       1,
		PoseWeight:             1,
		AllowLoopBoundaries:    true,
		CurrentPoseIndex:       NoPose,
		CurrentClipIndex:       NoPose,
		MinTimeSinceLastSelect: 0.1,
		ContinuingPoseCostBias: -0.3,
		LoopingCostBias:        -0.1,
		StrafeFacingWeight:     2,
		DesiredFacing:          mgl64.Vec3{0, 0, 1},
		UseKDTree:              true,
		KDTreeCandidates:       DefaultKDTreeCandidates,
	}
}

// Clone deep-copies the tag slices.
func (o SearchOptions) Clone() SearchOptions {
	o.RequiredTags = append([]string(nil), o.RequiredTags...)
	o.ExcludedTags = append([]string(nil), o.ExcludedTags...)
	return o
}

// MatchResult is a ranked candidate. Cost is the sum of the breakdown terms.
type MatchResult struct {
	PoseIndex      int
	Cost           float64
	TrajectoryCost float64
	PoseCost       float64
	HeadingCost    float64
	BiasCost       float64
	Valid          bool
}

// NoMatch is the sentinel for an empty or unbuilt database.
func NoMatch() MatchResult {
	return MatchResult{PoseIndex: NoPose, Cost: math.Inf(1)}
}

// Matcher searches one database. It holds no per-search state and may be
// used from several goroutines once the database is built.
type Matcher struct {
	db         *database.Database
	cfg        features.Config
	trajectory features.TrajectoryWeights
	pose       features.PoseWeights
}

// New returns a matcher over db.
func New(db *database.Database) *Matcher {
	cfg := db.FeatureConfig()
	return &Matcher{
		db:         db,
		cfg:        cfg,
		trajectory: cfg.Trajectory(),
		pose:       cfg.Pose(),
	}
}

// Database returns the searched database.
func (m *Matcher) Database() *database.Database { return m.db }

// FindBestMatch returns the lowest-cost pose passing the filters in opts.
func (m *Matcher) FindBestMatch(traj *features.Trajectory, pose *features.PoseFeatures, opts SearchOptions) MatchResult {
	best := NoMatch()
	evaluated := m.search(traj, pose, opts, func(r MatchResult) {
		if r.Cost < best.Cost {
			best = r
		}
	})
	motion.Tracef("search: evaluated=%d best=%d cost=%.4f (traj=%.4f pose=%.4f heading=%.4f bias=%.4f)",
		evaluated, best.PoseIndex, best.Cost, best.TrajectoryCost, best.PoseCost, best.HeadingCost, best.BiasCost)
	return best
}

// FindTopMatches returns up to n filtered candidates in ascending cost.
func (m *Matcher) FindTopMatches(traj *features.Trajectory, pose *features.PoseFeatures, n int, opts SearchOptions) []MatchResult {
	if n <= 0 {
		return nil
	}
	var all []MatchResult
	m.search(traj, pose, opts, func(r MatchResult) { all = append(all, r) })
	slices.SortStableFunc(all, func(a, b MatchResult) int {
		switch {
		case a.Cost < b.Cost:
			return -1
		case a.Cost > b.Cost:
			return 1
		}
		return 0
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// search evaluates candidates and reports each one passing the filters. KD
// candidates are ranked by exact cost; when none of them pass the filters
// the search falls back to a full scan.
func (m *Matcher) search(traj *features.Trajectory, pose *features.PoseFeatures, opts SearchOptions, visit func(MatchResult)) int {
	if m.db == nil || !m.db.Built() || m.db.PoseCount() == 0 {
		return 0
	}

	if tree := m.db.Tree(); opts.UseKDTree && tree.Built() {
		k := opts.KDTreeCandidates
		if k <= 0 {
			k = DefaultKDTreeCandidates
		}
		q := m.db.PoseToKDPoint(traj, pose)
		evaluated := 0
		for _, nb := range tree.FindKNearest(q, k) {
			if !m.PassesFilters(m.db.Pose(nb.Index), opts) {
				continue
			}
			visit(m.ComputeCost(nb.Index, traj, pose, opts))
			evaluated++
		}
		if evaluated > 0 {
			return evaluated
		}
		motion.Tracef("no KD candidate passed the filters, scanning all %d poses", m.db.PoseCount())
	}

	evaluated := 0
	for i := 0; i < m.db.PoseCount(); i++ {
		if opts.MaxCandidates > 0 && evaluated >= opts.MaxCandidates {
			break
		}
		if !m.PassesFilters(m.db.Pose(i), opts) {
			continue
		}
		visit(m.ComputeCost(i, traj, pose, opts))
		evaluated++
	}
	return evaluated
}

// PassesFilters applies the loop-boundary, tag and transition filters.
func (m *Matcher) PassesFilters(p *database.Pose, opts SearchOptions) bool {
	if p == nil {
		return false
	}
	if !opts.AllowLoopBoundaries && p.IsLoopBoundary {
		return false
	}
	if opts.ExcludeEndedClip && p.ClipIndex == opts.EndedClipIndex && p.Time >= opts.EndedClipFrom {
		return false
	}
	for _, tag := range opts.RequiredTags {
		if !p.HasTag(tag) {
			return false
		}
	}
	for _, tag := range opts.ExcludedTags {
		if p.HasTag(tag) {
			return false
		}
	}
	return p.CanTransitionTo
}

// ComputeCost scores pose i against the query. The cost depends on the
// continuity context in opts and is not symmetric.
func (m *Matcher) ComputeCost(i int, traj *features.Trajectory, pose *features.PoseFeatures, opts SearchOptions) MatchResult {
	p := m.db.Pose(i)
	if p == nil {
		return NoMatch()
	}
	clip := m.db.Clip(p.ClipIndex)
	norm := m.db.Normalization()

	r := MatchResult{PoseIndex: i, Valid: true}
	r.TrajectoryCost = traj.NormalizedCost(&p.Trajectory, norm, m.trajectory) * opts.TrajectoryWeight * m.cfg.TrajectoryWeight
	r.PoseCost = pose.NormalizedCost(&p.Features, norm, m.pose) * opts.PoseWeight * m.cfg.PoseWeight

	if opts.HeadingWeight > 0 {
		if opts.StrafeMode {
			r.HeadingCost = p.Features.Heading.StrafeCost(opts.DesiredMovement, opts.HeadingWeight) +
				features.FacingCost(p.Features.Heading.Direction, opts.DesiredFacing)*opts.StrafeFacingWeight
		} else {
			r.HeadingCost = pose.Heading.Cost(p.Features.Heading, opts.HeadingWeight)
		}
	}

	r.BiasCost = p.CostBias
	if opts.CurrentClipIndex != NoPose && p.ClipIndex == opts.CurrentClipIndex {
		r.BiasCost += opts.ContinuingPoseCostBias
	}
	if clip != nil && clip.Looping {
		r.BiasCost += opts.LoopingCostBias
	}
	if cur := m.db.Pose(opts.CurrentPoseIndex); cur != nil && cur.ClipIndex == p.ClipIndex &&
		math.Abs(cur.Time-p.Time) < opts.MinTimeSinceLastSelect {
		r.BiasCost += ReselectPenalty
	}

	r.Cost = r.TrajectoryCost + r.PoseCost + r.HeadingCost + r.BiasCost
	return r
}
