// Package anim holds the skeleton, pose and clip types the motion matching
// engine reads from and writes into. Asset loading lives elsewhere; clips here
// are anything that can be sampled at a time.
package anim

import (
	"github.com/go-gl/mathgl/mgl64"
)

// NoParent marks a joint at the top of the hierarchy.
const NoParent = -1

// Joint is one node of the skeleton hierarchy.
type Joint struct {
	Name        string
	Parent      int        // index into Skeleton.Joints, NoParent for roots
	InverseBind mgl64.Mat4 // bind-pose inverse, carried for skinning consumers
	Local       BonePose   // current local transform
}

// Skeleton is an ordered joint list where parents precede children.
type Skeleton struct {
	Joints []Joint
}

// FindJoint returns the index of the named joint, or -1.
func (s *Skeleton) FindJoint(name string) int {
	if s == nil {
		return -1
	}
	for i := range s.Joints {
		if s.Joints[i].Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a copy whose joints can be sampled into without touching s.
func (s *Skeleton) Clone() *Skeleton {
	out := &Skeleton{Joints: make([]Joint, len(s.Joints))}
	copy(out.Joints, s.Joints)
	return out
}

// Pose snapshots the local transforms of every joint.
func (s *Skeleton) Pose() SkeletonPose {
	pose := make(SkeletonPose, len(s.Joints))
	for i := range s.Joints {
		pose[i] = s.Joints[i].Local
	}
	return pose
}

// ApplyPose writes pose into the joint local transforms. Extra entries on
// either side are ignored.
func (s *Skeleton) ApplyPose(pose SkeletonPose) {
	n := min(len(pose), len(s.Joints))
	for i := 0; i < n; i++ {
		s.Joints[i].Local = pose[i]
	}
}

// GlobalTransforms composes every joint with its parent chain.
func (s *Skeleton) GlobalTransforms() []mgl64.Mat4 {
	globals := make([]mgl64.Mat4, len(s.Joints))
	for i := range s.Joints {
		local := s.Joints[i].Local.Matrix()
		p := s.Joints[i].Parent
		if p >= 0 && p < i {
			globals[i] = globals[p].Mul4(local)
		} else {
			globals[i] = local
		}
	}
	return globals
}

// RootIndex returns the first parentless joint, or -1 for an empty skeleton.
func (s *Skeleton) RootIndex() int {
	for i := range s.Joints {
		if s.Joints[i].Parent < 0 {
			return i
		}
	}
	return -1
}
