package controller

import (
	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/motion/inertial"
	"github.com/banshee-data/motionmatch/internal/motion/matching"
	"github.com/banshee-data/motionmatch/internal/motion/predict"
)

// StrafeTag is required of candidates while strafing sideways.
const StrafeTag = "strafe"

// Config tunes a Controller. It is copied on construction.
type Config struct {
	Features  features.Config
	Predictor predict.Config
	Blend     inertial.Config
	Search    matching.SearchOptions

	SearchInterval       float64 // seconds between periodic searches
	ForceSearchThreshold float64 // trajectory cost of the playing pose that forces a search

	// Transition policy.
	MinDwellTime        float64 // seconds on a clip before a cost-driven switch
	MaxDwellTime        float64 // seconds after which any different clip is taken
	TransitionCostRatio float64 // a different clip must cost below current × ratio
	SameClipMinTimeJump float64 // seconds; smaller jumps within a non-looping clip are ignored
	SameClipCostRatio   float64

	// Strafe tag selection: sideways speed must exceed forward speed × ratio.
	StrafeMinSpeed      float64
	StrafeSidewaysRatio float64

	UseInertialBlending bool

	// OnPoseMatched is called after every committed transition.
	OnPoseMatched func(matching.MatchResult)
}

// DefaultConfig returns locomotion tuning. The predictor samples the same
// offsets as the feature trajectories so KD points line up slot for slot.
func DefaultConfig() Config {
	fc := features.DefaultConfig()
	pc := predict.DefaultConfig()
	pc.SampleTimes = append([]float64(nil), fc.TrajectorySampleTimes...)
	return Config{
		Features:             fc,
		Predictor:            pc,
		Blend:                inertial.DefaultConfig(),
		Search:               matching.DefaultSearchOptions(),
		SearchInterval:       0.1,
		ForceSearchThreshold: 2.0,
		MinDwellTime:         0.5,
		MaxDwellTime:         1.0,
		TransitionCostRatio:  0.8,
		SameClipMinTimeJump:  0.2,
		SameClipCostRatio:    0.5,
		StrafeMinSpeed:       0.5,
		StrafeSidewaysRatio:  0.7,
		UseInertialBlending:  true,
	}
}

// clone deep-copies the slices.
func (c Config) clone() Config {
	c.Features = c.Features.Clone()
	c.Predictor.SampleTimes = append([]float64(nil), c.Predictor.SampleTimes...)
	c.Search = c.Search.Clone()
	return c
}
