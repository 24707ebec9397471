package anim

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// Clip is a time-sampleable animation.
type Clip interface {
	// Duration is the clip length in seconds.
	Duration() float64
	// RootBoneIndex is the joint carrying root motion, or -1.
	RootBoneIndex() int
	// Sample writes the pose at t into skel's joint local transforms. With
	// stripRootMotion the root keeps its horizontal translation from t=0.
	Sample(t float64, skel *Skeleton, stripRootMotion bool)
}

// SamplePose samples clip into a scratch copy of skel and returns the pose.
// skel is not modified.
func SamplePose(clip Clip, skel *Skeleton, t float64, stripRootMotion bool) SkeletonPose {
	scratch := skel.Clone()
	clip.Sample(t, scratch, stripRootMotion)
	return scratch.Pose()
}

// Track animates one joint. Times are ascending; Translations and Rotations
// are either empty (channel not animated) or the same length as Times.
type Track struct {
	Joint        int
	Times        []float64
	Translations []mgl64.Vec3
	Rotations    []mgl64.Quat
}

// KeyframeClip is a clip defined by per-joint keyframe tracks, linearly
// interpolated for translation and slerped for rotation.
type KeyframeClip struct {
	Name   string
	Length float64
	Root   int
	Tracks []Track
}

// Duration implements Clip.
func (c *KeyframeClip) Duration() float64 { return c.Length }

// RootBoneIndex implements Clip.
func (c *KeyframeClip) RootBoneIndex() int { return c.Root }

// Sample implements Clip.
func (c *KeyframeClip) Sample(t float64, skel *Skeleton, stripRootMotion bool) {
	if skel == nil {
		return
	}
	if t < 0 {
		t = 0
	}
	if c.Length > 0 && t > c.Length {
		t = c.Length
	}
	for i := range c.Tracks {
		tr := &c.Tracks[i]
		if tr.Joint < 0 || tr.Joint >= len(skel.Joints) || len(tr.Times) == 0 {
			continue
		}
		local := &skel.Joints[tr.Joint].Local
		if len(tr.Translations) == len(tr.Times) {
			local.Translation = tr.translationAt(t)
			if stripRootMotion && tr.Joint == c.Root {
				start := tr.Translations[0]
				local.Translation[0] = start[0]
				local.Translation[2] = start[2]
			}
		}
		if len(tr.Rotations) == len(tr.Times) {
			local.Rotation = tr.rotationAt(t)
		}
	}
}

// segment returns the keyframe pair bracketing t and the blend factor.
func (tr *Track) segment(t float64) (int, int, float64) {
	n := len(tr.Times)
	if t <= tr.Times[0] {
		return 0, 0, 0
	}
	if t >= tr.Times[n-1] {
		return n - 1, n - 1, 0
	}
	hi := sort.SearchFloat64s(tr.Times, t)
	lo := hi - 1
	span := tr.Times[hi] - tr.Times[lo]
	if span <= 0 {
		return hi, hi, 0
	}
	return lo, hi, (t - tr.Times[lo]) / span
}

func (tr *Track) translationAt(t float64) mgl64.Vec3 {
	lo, hi, f := tr.segment(t)
	a, b := tr.Translations[lo], tr.Translations[hi]
	return a.Add(b.Sub(a).Mul(f))
}

func (tr *Track) rotationAt(t float64) mgl64.Quat {
	lo, hi, f := tr.segment(t)
	if lo == hi {
		return tr.Rotations[lo]
	}
	return mgl64.QuatSlerp(tr.Rotations[lo], tr.Rotations[hi], f)
}
