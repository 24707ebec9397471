package features

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// TrajectoryWeights scale the per-sample trajectory terms.
type TrajectoryWeights struct {
	Position float64
	Velocity float64
	Facing   float64
}

// PoseWeights scale the pose terms.
type PoseWeights struct {
	BonePosition    float64
	BoneVelocity    float64
	RootVelocity    float64
	AngularVelocity float64
	Phase           float64
}

// Cost compares two trajectories sample by sample. Each sample of t is paired
// with the other sample nearest in time offset; pairs further apart than
// TrajectoryAlignWindow are skipped. The result is the mean pair cost.
func (t *Trajectory) Cost(other *Trajectory, w TrajectoryWeights) float64 {
	return t.cost(other, w, nil)
}

// NormalizedCost is Cost with position and velocity distances scaled by the
// per-slot standard deviations in norm.
func (t *Trajectory) NormalizedCost(other *Trajectory, norm *Normalization, w TrajectoryWeights) float64 {
	if norm == nil || !norm.Computed {
		return t.cost(other, w, nil)
	}
	return t.cost(other, w, norm)
}

func (t *Trajectory) cost(other *Trajectory, w TrajectoryWeights, norm *Normalization) float64 {
	if t.Count == 0 || other.Count == 0 {
		return 0
	}
	total := 0.0
	pairs := 0
	for i := 0; i < t.Count; i++ {
		s1 := &t.Samples[i]
		j, gap := other.nearestOffset(s1.TimeOffset)
		if gap >= TrajectoryAlignWindow {
			continue
		}
		s2 := &other.Samples[j]

		posDiff := s1.Position.Sub(s2.Position).Len()
		velDiff := s1.Velocity.Sub(s2.Velocity).Len()
		if norm != nil {
			posDiff = norm.TrajectoryPosition[i].Scale(posDiff)
			velDiff = norm.TrajectoryVelocity[i].Scale(velDiff)
		}
		total += posDiff*w.Position + velDiff*w.Velocity + FacingCost(s1.Facing, s2.Facing)*w.Facing
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

// nearestOffset returns the index of the sample closest to offset and the gap.
func (t *Trajectory) nearestOffset(offset float64) (int, float64) {
	best := 0
	bestGap := math.Abs(offset - t.Samples[0].TimeOffset)
	for j := 1; j < t.Count; j++ {
		if gap := math.Abs(offset - t.Samples[j].TimeOffset); gap < bestGap {
			best, bestGap = j, gap
		}
	}
	return best, bestGap
}

// FacingCost is 1 - dot of the two unit directions: 0 aligned, 2 opposed.
// Degenerate inputs contribute nothing.
func FacingCost(a, b mgl64.Vec3) float64 {
	la, lb := a.Len(), b.Len()
	if la <= MinVectorLength || lb <= MinVectorLength {
		return 0
	}
	return 1 - a.Dot(b)/(la*lb)
}

// PhaseDiff is the wrap-aware distance between two phases in [0,1).
func PhaseDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	return math.Min(d, 1-d)
}

// Cost compares two poses: averaged bone terms plus root velocity, yaw rate
// and foot phase terms.
func (p *PoseFeatures) Cost(other *PoseFeatures, w PoseWeights) float64 {
	return p.cost(other, w, nil)
}

// NormalizedCost is Cost with each distance scaled by its channel's
// standard deviation in norm.
func (p *PoseFeatures) NormalizedCost(other *PoseFeatures, norm *Normalization, w PoseWeights) float64 {
	if norm == nil || !norm.Computed {
		return p.cost(other, w, nil)
	}
	return p.cost(other, w, norm)
}

func (p *PoseFeatures) cost(other *PoseFeatures, w PoseWeights, norm *Normalization) float64 {
	total := 0.0
	n := min(p.BoneCount, other.BoneCount)
	for i := 0; i < n; i++ {
		posDiff := p.Bones[i].Position.Sub(other.Bones[i].Position).Len()
		velDiff := p.Bones[i].Velocity.Sub(other.Bones[i].Velocity).Len()
		if norm != nil {
			posDiff = norm.BonePosition[i].Scale(posDiff)
			velDiff = norm.BoneVelocity[i].Scale(velDiff)
		}
		total += posDiff*w.BonePosition + velDiff*w.BoneVelocity
	}
	if n > 0 {
		total /= float64(n)
	}

	rootDiff := p.RootVelocity.Sub(other.RootVelocity).Len()
	angDiff := math.Abs(p.RootAngularVelocity - other.RootAngularVelocity)
	if norm != nil {
		rootDiff = norm.RootVelocity.Scale(rootDiff)
		angDiff = norm.RootAngularVelocity.Scale(angDiff)
	}
	total += rootDiff * w.RootVelocity
	total += angDiff * w.AngularVelocity

	total += PhaseDiff(p.LeftFootPhase, other.LeftFootPhase) * w.Phase
	total += PhaseDiff(p.RightFootPhase, other.RightFootPhase) * w.Phase
	return total
}

// Cost is 1 - dot between the two heading directions, scaled by weight.
func (h HeadingFeature) Cost(other HeadingFeature, weight float64) float64 {
	return FacingCost(h.Direction, other.Direction) * weight
}

// StrafeCost measures how far the angle between this heading and
// desiredMovement is from the heading's own recorded strafe angle.
func (h HeadingFeature) StrafeCost(desiredMovement mgl64.Vec3, weight float64) float64 {
	ml, hl := desiredMovement.Len(), h.Direction.Len()
	if ml < MinVectorLength || hl < MinVectorLength {
		return 0
	}
	dot := mgl64.Clamp(h.Direction.Dot(desiredMovement)/(ml*hl), -1, 1)
	return math.Abs(math.Acos(dot)-math.Abs(h.AngleDifference)) * weight
}
