package anim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Joint names used by the humanoid rig and the default feature bone lists.
const (
	JointHips      = "Hips"
	JointSpine     = "Spine"
	JointLeftFoot  = "LeftFoot"
	JointRightFoot = "RightFoot"
	JointLeftHand  = "LeftHand"
	JointRightHand = "RightHand"
)

// NewHumanoidSkeleton returns a minimal rig: hips at 1 m, a spine, two feet
// and two hands. Bind inverses are filled from the rest pose.
func NewHumanoidSkeleton() *Skeleton {
	id := mgl64.QuatIdent()
	s := &Skeleton{Joints: []Joint{
		{Name: JointHips, Parent: NoParent, Local: NewBonePose(mgl64.Vec3{0, 1, 0}, id)},
		{Name: JointSpine, Parent: 0, Local: NewBonePose(mgl64.Vec3{0, 0.2, 0}, id)},
		{Name: JointLeftFoot, Parent: 0, Local: NewBonePose(mgl64.Vec3{-0.2, -0.9, 0}, id)},
		{Name: JointRightFoot, Parent: 0, Local: NewBonePose(mgl64.Vec3{0.2, -0.9, 0}, id)},
		{Name: JointLeftHand, Parent: 1, Local: NewBonePose(mgl64.Vec3{-0.4, 0.3, 0}, id)},
		{Name: JointRightHand, Parent: 1, Local: NewBonePose(mgl64.Vec3{0.4, 0.3, 0}, id)},
	}}
	for i, g := range s.GlobalTransforms() {
		s.Joints[i].InverseBind = g.Inv()
	}
	return s
}

// LocomotionSpec describes a procedural locomotion cycle.
type LocomotionSpec struct {
	Name       string
	Duration   float64    // seconds
	Velocity   mgl64.Vec3 // root travel per second in the character frame
	TurnRate   float64    // yaw rate in rad/s, positive turns +Z towards +X
	StepHeight float64    // peak foot lift
	StepSwing  float64    // fore-aft foot swing amplitude
	Hold       float64    // seconds of stillness before motion starts
	FrameRate  float64    // keyframes per second, 30 when zero
}

// LocomotionClip bakes spec into keyframes for skel's root and feet.
// Joints missing from skel are skipped.
func LocomotionClip(skel *Skeleton, spec LocomotionSpec) *KeyframeClip {
	rate := spec.FrameRate
	if rate <= 0 {
		rate = 30
	}
	root := skel.FindJoint(JointHips)
	if root < 0 {
		root = skel.RootIndex()
	}
	clip := &KeyframeClip{Name: spec.Name, Length: spec.Duration, Root: root}
	if spec.Duration <= 0 || root < 0 {
		return clip
	}

	frames := int(spec.Duration*rate) + 1
	if frames < 2 {
		frames = 2
	}
	times := make([]float64, frames)
	for f := range times {
		times[f] = math.Min(float64(f)/rate, spec.Duration)
	}
	times[frames-1] = spec.Duration

	cycle := spec.Duration - spec.Hold
	up := mgl64.Vec3{0, 1, 0}
	bindRoot := skel.Joints[root].Local

	rootTr := Track{Joint: root, Times: times,
		Translations: make([]mgl64.Vec3, frames),
		Rotations:    make([]mgl64.Quat, frames)}
	pos := bindRoot.Translation
	prev := 0.0
	for f, t := range times {
		active := math.Max(0, t-spec.Hold)
		dt := active - prev
		prev = active
		yaw := spec.TurnRate * active
		// Midpoint heading keeps turning arcs close to the analytic circle.
		heading := mgl64.QuatRotate(spec.TurnRate*(active-dt/2), up)
		pos = pos.Add(heading.Rotate(spec.Velocity).Mul(dt))
		rootTr.Translations[f] = pos
		rootTr.Rotations[f] = mgl64.QuatRotate(yaw, up).Mul(bindRoot.Rotation)
	}
	clip.Tracks = append(clip.Tracks, rootTr)

	for side, name := range []string{JointLeftFoot, JointRightFoot} {
		j := skel.FindJoint(name)
		if j < 0 {
			continue
		}
		bind := skel.Joints[j].Local.Translation
		tr := Track{Joint: j, Times: times, Translations: make([]mgl64.Vec3, frames)}
		for f, t := range times {
			active := math.Max(0, t-spec.Hold)
			phase := 0.0
			if cycle > 0 {
				phase = 2*math.Pi*active/cycle + float64(side)*math.Pi
			}
			lift := 0.0
			swing := 0.0
			if active > 0 {
				lift = spec.StepHeight * math.Max(0, math.Sin(phase))
				swing = spec.StepSwing * math.Sin(phase)
			}
			tr.Translations[f] = bind.Add(mgl64.Vec3{0, lift, swing})
		}
		clip.Tracks = append(clip.Tracks, tr)
	}
	return clip
}
