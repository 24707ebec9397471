package features

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/motion"
)

// ClipSampleDelta is the finite-difference step used when sampling clips.
const ClipSampleDelta = 1.0 / 60.0

const mixamoPrefix = "mixamorig:"

var (
	forward = mgl64.Vec3{0, 0, 1}
	up      = mgl64.Vec3{0, 1, 0}
)

// Extractor turns poses and clips into PoseFeatures and Trajectories for one
// skeleton. It is immutable after construction apart from the strafe flag.
type Extractor struct {
	cfg          Config
	boneIndices  []int
	rootIndex    int
	headingIndex int
	strafeMode   bool
}

// NewExtractor resolves cfg's bone names against skel. Names that cannot be
// found are logged and left out.
func NewExtractor(skel *anim.Skeleton, cfg Config) *Extractor {
	e := &Extractor{cfg: cfg.Clone(), rootIndex: -1, headingIndex: -1, strafeMode: cfg.StrafeMode}
	if skel == nil {
		return e
	}

	for _, name := range e.cfg.FeatureBoneNames {
		if len(e.boneIndices) == MaxFeatureBones {
			motion.Opsf("feature bone limit %d reached, ignoring %q", MaxFeatureBones, name)
			break
		}
		idx := skel.FindJoint(name)
		if idx < 0 {
			motion.Opsf("feature bone %q not found in skeleton", name)
			continue
		}
		e.boneIndices = append(e.boneIndices, idx)
	}

	e.rootIndex = findWithPrefix(skel, anim.JointHips)
	if e.rootIndex < 0 {
		e.rootIndex = skel.RootIndex()
	}
	if e.rootIndex < 0 {
		motion.Opsf("skeleton has no root joint")
	}

	e.headingIndex = findWithPrefix(skel, e.cfg.HeadingBoneName)
	if e.headingIndex < 0 {
		e.headingIndex = e.rootIndex
	}

	motion.Diagf("feature extractor ready: bones=%d root=%d heading=%d",
		len(e.boneIndices), e.rootIndex, e.headingIndex)
	return e
}

func findWithPrefix(skel *anim.Skeleton, name string) int {
	if name == "" {
		return -1
	}
	if idx := skel.FindJoint(name); idx >= 0 {
		return idx
	}
	return skel.FindJoint(mixamoPrefix + name)
}

// Config returns a copy of the extraction config.
func (e *Extractor) Config() Config { return e.cfg.Clone() }

// BoneIndices returns the resolved feature bone joints in config order.
func (e *Extractor) BoneIndices() []int { return append([]int(nil), e.boneIndices...) }

// RootIndex returns the resolved root joint, or -1.
func (e *Extractor) RootIndex() int { return e.rootIndex }

// HeadingIndex returns the resolved heading joint, or -1.
func (e *Extractor) HeadingIndex() int { return e.headingIndex }

// SetStrafeMode toggles heading extraction for live queries.
func (e *Extractor) SetStrafeMode(on bool) { e.strafeMode = on }

// StrafeMode reports whether heading extraction is forced on.
func (e *Extractor) StrafeMode() bool { return e.strafeMode }

// worldTransform composes pose[idx] with its parent chain.
func worldTransform(skel *anim.Skeleton, pose anim.SkeletonPose, idx int) mgl64.Mat4 {
	if idx < 0 || idx >= len(pose) {
		return mgl64.Ident4()
	}
	m := pose[idx].Matrix()
	for p := skel.Joints[idx].Parent; p >= 0 && p < len(pose); p = skel.Joints[p].Parent {
		m = pose[p].Matrix().Mul4(m)
	}
	return m
}

// flatFacing returns the horizontal unit +Z axis of m, or +Z when degenerate.
func flatFacing(m mgl64.Mat4) mgl64.Vec3 {
	return unitOr(horizontal(anim.Forward(m)), 0.01, forward)
}

// SignedYaw returns the signed angle from a to b about +Y. Positive turns +Z
// towards +X. Both inputs are expected horizontal.
func SignedYaw(a, b mgl64.Vec3) float64 {
	la, lb := a.Len(), b.Len()
	if la <= MinVectorLength || lb <= MinVectorLength {
		return 0
	}
	angle := math.Acos(mgl64.Clamp(a.Dot(b)/(la*lb), -1, 1))
	if a[2]*b[0]-a[0]*b[2] < 0 {
		angle = -angle
	}
	return angle
}

// characterFrame returns the root's ground position and the rotation taking
// world directions into the root's facing frame (facing = +Z).
func (e *Extractor) characterFrame(skel *anim.Skeleton, pose anim.SkeletonPose) (mgl64.Vec3, mgl64.Mat4, mgl64.Quat) {
	if e.rootIndex < 0 || e.rootIndex >= len(pose) {
		return mgl64.Vec3{}, mgl64.Ident4(), mgl64.QuatIdent()
	}
	root := worldTransform(skel, pose, e.rootIndex)
	toLocal := mgl64.QuatRotate(-FacingYaw(flatFacing(root)), up)
	return horizontal(anim.Translation(root)), root, toLocal
}

// ExtractFromPose encodes current, using previous and dt for velocities.
// Bone positions and all directions are expressed in the character frame:
// relative to the root on the ground plane, rotated so the root faces +Z.
// A nil previous pose or non-positive dt leaves velocities at zero.
func (e *Extractor) ExtractFromPose(skel *anim.Skeleton, current, previous anim.SkeletonPose, dt float64) PoseFeatures {
	var f PoseFeatures
	if skel == nil || len(current) == 0 {
		return f
	}
	hasPrev := len(previous) > 0 && dt > 0

	origin, root, toLocal := e.characterFrame(skel, current)
	var prevOrigin mgl64.Vec3
	var prevRoot mgl64.Mat4
	var prevToLocal mgl64.Quat
	if hasPrev {
		prevOrigin, prevRoot, prevToLocal = e.characterFrame(skel, previous)
	}

	f.BoneCount = len(e.boneIndices)
	for i, idx := range e.boneIndices {
		pos := toLocal.Rotate(anim.Translation(worldTransform(skel, current, idx)).Sub(origin))
		f.Bones[i].Position = pos
		if hasPrev {
			prev := prevToLocal.Rotate(anim.Translation(worldTransform(skel, previous, idx)).Sub(prevOrigin))
			f.Bones[i].Velocity = pos.Sub(prev).Mul(1 / dt)
		}
	}

	if e.rootIndex >= 0 && e.rootIndex < len(current) && hasPrev {
		f.RootVelocity = toLocal.Rotate(origin.Sub(prevOrigin).Mul(1 / dt))
		// Yaw rate is the signed turn between the flattened facings.
		f.RootAngularVelocity = SignedYaw(flatFacing(prevRoot), flatFacing(root)) / dt
	}

	if e.cfg.HeadingWeight > 0 || e.strafeMode {
		f.Heading = e.extractHeading(skel, current, toLocal, f.RootVelocity)
	}
	return f
}

// ExtractHeading reads the heading bone's configured axis, in the character
// frame, and relates it to movement given in that frame.
func (e *Extractor) ExtractHeading(skel *anim.Skeleton, pose anim.SkeletonPose, movement mgl64.Vec3) HeadingFeature {
	_, _, toLocal := e.characterFrame(skel, pose)
	return e.extractHeading(skel, pose, toLocal, movement)
}

func (e *Extractor) extractHeading(skel *anim.Skeleton, pose anim.SkeletonPose, toLocal mgl64.Quat, movement mgl64.Vec3) HeadingFeature {
	h := HeadingFeature{Direction: forward}
	if e.headingIndex < 0 || e.headingIndex >= len(pose) {
		return h
	}
	m := worldTransform(skel, pose, e.headingIndex)
	var dir mgl64.Vec3
	switch e.cfg.HeadingAxis {
	case HeadingAxisX:
		dir = m.Col(0).Vec3()
	case HeadingAxisY:
		dir = m.Col(1).Vec3()
	default:
		dir = m.Col(2).Vec3()
	}
	dir = toLocal.Rotate(dir)
	switch e.cfg.HeadingStrip {
	case StripY:
		dir[1] = 0
	case StripXZ:
		dir[0], dir[2] = 0, 0
	}
	h.Direction = unitOr(dir, MinVectorLength, forward)
	h.MovementDirection = movement
	if movement.Len() > MinVectorLength {
		h.AngleDifference = SignedYaw(h.Direction, movement.Normalize())
	}
	return h
}

// RootPosition samples clip at t and returns the root's world translation.
func (e *Extractor) RootPosition(clip anim.Clip, skel *anim.Skeleton, t float64) mgl64.Vec3 {
	if clip == nil || skel == nil || e.rootIndex < 0 {
		return mgl64.Vec3{}
	}
	scratch := skel.Clone()
	clip.Sample(t, scratch, false)
	return anim.Translation(worldTransform(scratch, scratch.Pose(), e.rootIndex))
}

// ExtractFromClip samples clip at t and one step earlier and encodes the
// result. Within one step of the start the pair shifts forward so the first
// sample still carries the clip's motion. Zero-length clips yield empty
// features.
func (e *Extractor) ExtractFromClip(clip anim.Clip, skel *anim.Skeleton, t float64) PoseFeatures {
	if clip == nil || skel == nil || clip.Duration() <= 0 {
		return PoseFeatures{}
	}
	prevT := t - ClipSampleDelta
	if prevT < 0 {
		prevT = math.Max(0, t)
		t = math.Min(prevT+ClipSampleDelta, clip.Duration())
	}
	scratch := skel.Clone()
	clip.Sample(t, scratch, false)
	current := scratch.Pose()
	clip.Sample(prevT, scratch, false)
	previous := scratch.Pose()
	return e.ExtractFromPose(skel, current, previous, t-prevT)
}

// ExtractTrajectoryFromClip samples the root around t at the configured
// offsets. Sample times outside the clip wrap around, and the root path is
// unrolled by whole-cycle displacements so travel stays continuous across the
// seam. Samples are expressed in the character frame at t: positions relative
// to the root on the ground plane, directions rotated so the root faces +Z.
func (e *Extractor) ExtractTrajectoryFromClip(clip anim.Clip, skel *anim.Skeleton, t float64) Trajectory {
	var traj Trajectory
	if clip == nil || skel == nil || e.rootIndex < 0 || clip.Duration() <= 0 {
		return traj
	}
	scratch := skel.Clone()
	duration := clip.Duration()
	rootAt := func(at float64) mgl64.Mat4 {
		clip.Sample(at, scratch, false)
		return worldTransform(scratch, scratch.Pose(), e.rootIndex)
	}
	cycle := horizontal(anim.Translation(rootAt(duration)).Sub(anim.Translation(rootAt(0))))
	unrolled := func(at float64) (mgl64.Vec3, mgl64.Mat4) {
		m := rootAt(WrapTime(at, duration))
		laps := math.Floor(at / duration)
		return horizontal(anim.Translation(m)).Add(cycle.Mul(laps)), m
	}

	ref, refM := unrolled(t)
	toLocal := mgl64.QuatRotate(-FacingYaw(flatFacing(refM)), up)
	for _, offset := range e.cfg.TrajectorySampleTimes {
		pos, m := unrolled(t + offset)
		ahead, _ := unrolled(t + offset + ClipSampleDelta)
		if !traj.AddSample(TrajectorySample{
			TimeOffset: offset,
			Position:   toLocal.Rotate(pos.Sub(ref)),
			Velocity:   toLocal.Rotate(ahead.Sub(pos).Mul(1 / ClipSampleDelta)),
			Facing:     toLocal.Rotate(flatFacing(m)),
		}) {
			break
		}
	}
	return traj
}

// FacingYaw is the yaw of a horizontal direction, zero for +Z and positive
// towards +X.
func FacingYaw(f mgl64.Vec3) float64 {
	return math.Atan2(f[0], f[2])
}

// WrapTime folds t into [0, duration).
func WrapTime(t, duration float64) float64 {
	if duration <= 0 {
		return t
	}
	t = math.Mod(t, duration)
	if t < 0 {
		t += duration
	}
	return t
}
