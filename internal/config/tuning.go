package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/motionmatch/internal/motion/controller"
	"github.com/banshee-data/motionmatch/internal/motion/database"
	"github.com/banshee-data/motionmatch/internal/motion/features"
	"github.com/banshee-data/motionmatch/internal/motion/inertial"
	"github.com/banshee-data/motionmatch/internal/motion/matching"
	"github.com/banshee-data/motionmatch/internal/motion/predict"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Feature presets accepted by feature_preset.
const (
	PresetLocomotion       = "locomotion"
	PresetLocomotionStrafe = "locomotion_strafe"
	PresetFullBody         = "full_body"
)

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* methods supply the defaults.
type TuningConfig struct {
	// Feature params
	FeaturePreset    *string  `json:"feature_preset,omitempty"`
	TrajectoryWeight *float64 `json:"trajectory_weight,omitempty"`
	PoseWeight       *float64 `json:"pose_weight,omitempty"`
	HeadingWeight    *float64 `json:"heading_weight,omitempty"`

	// Database build params
	SampleRate         *float64 `json:"sample_rate,omitempty"`
	MinPoseInterval    *float64 `json:"min_pose_interval,omitempty"`
	LoopBoundaryMargin *float64 `json:"loop_boundary_margin,omitempty"`
	PruneStaticPoses   *bool    `json:"prune_static_poses,omitempty"`
	StaticThreshold    *float64 `json:"static_threshold,omitempty"`
	BuildKDTree        *bool    `json:"build_kd_tree,omitempty"`

	// Search params
	UseKDTree              *bool    `json:"use_kd_tree,omitempty"`
	KDTreeCandidates       *int     `json:"kd_tree_candidates,omitempty"`
	ContinuingPoseCostBias *float64 `json:"continuing_pose_cost_bias,omitempty"`
	LoopingCostBias        *float64 `json:"looping_cost_bias,omitempty"`
	MinTimeSinceLastSelect *string  `json:"min_time_since_last_select,omitempty"` // duration string like "100ms"

	// Predictor params
	MaxSpeed        *float64 `json:"max_speed,omitempty"`
	Acceleration    *float64 `json:"acceleration,omitempty"`
	Deceleration    *float64 `json:"deceleration,omitempty"`
	TurnSpeed       *float64 `json:"turn_speed,omitempty"` // deg/s
	HistoryDuration *string  `json:"history_duration,omitempty"`
	InputSmoothing  *string  `json:"input_smoothing,omitempty"`

	// Blend params
	BlendDuration       *string  `json:"blend_duration,omitempty"`
	DampingRatio        *float64 `json:"damping_ratio,omitempty"`
	NaturalFrequency    *float64 `json:"natural_frequency,omitempty"`
	UseInertialBlending *bool    `json:"use_inertial_blending,omitempty"`

	// Controller params
	SearchInterval       *string  `json:"search_interval,omitempty"`
	ForceSearchThreshold *float64 `json:"force_search_threshold,omitempty"`
	MinDwellTime         *string  `json:"min_dwell_time,omitempty"`
	MaxDwellTime         *string  `json:"max_dwell_time,omitempty"`
	TransitionCostRatio  *float64 `json:"transition_cost_ratio,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		FeaturePreset:          ptrString(PresetLocomotion),
		TrajectoryWeight:       ptrFloat64(2.0),
		PoseWeight:             ptrFloat64(1.0),
		HeadingWeight:          ptrFloat64(0),
		SampleRate:             ptrFloat64(database.DefaultSampleRate),
		MinPoseInterval:        ptrFloat64(0),
		LoopBoundaryMargin:     ptrFloat64(database.DefaultLoopBoundaryMargin),
		PruneStaticPoses:       ptrBool(false),
		StaticThreshold:        ptrFloat64(database.DefaultStaticThreshold),
		BuildKDTree:            ptrBool(true),
		UseKDTree:              ptrBool(true),
		KDTreeCandidates:       ptrInt(matching.DefaultKDTreeCandidates),
		ContinuingPoseCostBias: ptrFloat64(-0.3),
		LoopingCostBias:        ptrFloat64(-0.1),
		MinTimeSinceLastSelect: ptrString("100ms"),
		MaxSpeed:               ptrFloat64(6.0),
		Acceleration:           ptrFloat64(10.0),
		Deceleration:           ptrFloat64(15.0),
		TurnSpeed:              ptrFloat64(360.0),
		HistoryDuration:        ptrString("1s"),
		InputSmoothing:         ptrString("100ms"),
		BlendDuration:          ptrString("500ms"),
		DampingRatio:           ptrFloat64(1.0),
		NaturalFrequency:       ptrFloat64(10.0),
		UseInertialBlending:    ptrBool(true),
		SearchInterval:         ptrString("100ms"),
		ForceSearchThreshold:   ptrFloat64(2.0),
		MinDwellTime:           ptrString("500ms"),
		MaxDwellTime:           ptrString("1s"),
		TransitionCostRatio:    ptrFloat64(0.8),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/mmsim/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/motion/controller/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.FeaturePreset != nil {
		switch *c.FeaturePreset {
		case "", PresetLocomotion, PresetLocomotionStrafe, PresetFullBody:
		default:
			return fmt.Errorf("unknown feature_preset %q", *c.FeaturePreset)
		}
	}

	for name, v := range map[string]*float64{
		"trajectory_weight":    c.TrajectoryWeight,
		"pose_weight":          c.PoseWeight,
		"heading_weight":       c.HeadingWeight,
		"min_pose_interval":    c.MinPoseInterval,
		"loop_boundary_margin": c.LoopBoundaryMargin,
		"static_threshold":     c.StaticThreshold,
		"max_speed":            c.MaxSpeed,
		"acceleration":         c.Acceleration,
		"deceleration":         c.Deceleration,
		"turn_speed":           c.TurnSpeed,
		"damping_ratio":        c.DampingRatio,
		"natural_frequency":    c.NaturalFrequency,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %f", *c.SampleRate)
	}
	if c.KDTreeCandidates != nil && *c.KDTreeCandidates <= 0 {
		return fmt.Errorf("kd_tree_candidates must be positive, got %d", *c.KDTreeCandidates)
	}
	if c.TransitionCostRatio != nil {
		if *c.TransitionCostRatio <= 0 || *c.TransitionCostRatio > 1 {
			return fmt.Errorf("transition_cost_ratio must be in (0, 1], got %f", *c.TransitionCostRatio)
		}
	}

	for name, v := range map[string]*string{
		"min_time_since_last_select": c.MinTimeSinceLastSelect,
		"history_duration":           c.HistoryDuration,
		"input_smoothing":            c.InputSmoothing,
		"blend_duration":             c.BlendDuration,
		"search_interval":            c.SearchInterval,
		"min_dwell_time":             c.MinDwellTime,
		"max_dwell_time":             c.MaxDwellTime,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.GetMinDwellTime() > c.GetMaxDwellTime() {
		return fmt.Errorf("min_dwell_time %s exceeds max_dwell_time %s", c.GetMinDwellTime(), c.GetMaxDwellTime())
	}

	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetFeaturePreset returns the feature_preset value or the default.
func (c *TuningConfig) GetFeaturePreset() string {
	if c.FeaturePreset == nil || *c.FeaturePreset == "" {
		return PresetLocomotion
	}
	return *c.FeaturePreset
}

// GetKDTreeCandidates returns the kd_tree_candidates value or the default.
func (c *TuningConfig) GetKDTreeCandidates() int {
	if c.KDTreeCandidates == nil {
		return matching.DefaultKDTreeCandidates
	}
	return *c.KDTreeCandidates
}

// GetSearchInterval returns search_interval, 100ms by default.
func (c *TuningConfig) GetSearchInterval() time.Duration {
	return durationOr(c.SearchInterval, 100*time.Millisecond)
}

// GetMinDwellTime returns min_dwell_time, 500ms by default.
func (c *TuningConfig) GetMinDwellTime() time.Duration {
	return durationOr(c.MinDwellTime, 500*time.Millisecond)
}

// GetMaxDwellTime returns max_dwell_time, 1s by default.
func (c *TuningConfig) GetMaxDwellTime() time.Duration {
	return durationOr(c.MaxDwellTime, time.Second)
}

// GetBlendDuration returns blend_duration, 500ms by default.
func (c *TuningConfig) GetBlendDuration() time.Duration {
	return durationOr(c.BlendDuration, 500*time.Millisecond)
}

// GetUseInertialBlending returns the use_inertial_blending value or the default.
func (c *TuningConfig) GetUseInertialBlending() bool {
	return boolOr(c.UseInertialBlending, true)
}

// GetPruneStaticPoses returns the prune_static_poses value or the default.
func (c *TuningConfig) GetPruneStaticPoses() bool {
	return boolOr(c.PruneStaticPoses, false)
}

// FeatureConfig resolves the preset and applies the weight overrides.
func (c *TuningConfig) FeatureConfig() features.Config {
	var fc features.Config
	switch c.GetFeaturePreset() {
	case PresetLocomotionStrafe:
		fc = features.LocomotionWithStrafeConfig()
	case PresetFullBody:
		fc = features.FullBodyConfig()
	default:
		fc = features.LocomotionConfig()
	}
	fc.TrajectoryWeight = floatOr(c.TrajectoryWeight, fc.TrajectoryWeight)
	fc.PoseWeight = floatOr(c.PoseWeight, fc.PoseWeight)
	fc.HeadingWeight = floatOr(c.HeadingWeight, fc.HeadingWeight)
	return fc
}

// BuildOptions returns the database build options.
func (c *TuningConfig) BuildOptions() database.BuildOptions {
	o := database.DefaultBuildOptions()
	o.DefaultSampleRate = floatOr(c.SampleRate, o.DefaultSampleRate)
	o.MinPoseInterval = floatOr(c.MinPoseInterval, o.MinPoseInterval)
	o.LoopBoundaryMargin = floatOr(c.LoopBoundaryMargin, o.LoopBoundaryMargin)
	o.PruneStaticPoses = c.GetPruneStaticPoses()
	o.StaticThreshold = floatOr(c.StaticThreshold, o.StaticThreshold)
	o.BuildKDTree = boolOr(c.BuildKDTree, o.BuildKDTree)
	return o
}

// SearchOptions returns context-free search options.
func (c *TuningConfig) SearchOptions() matching.SearchOptions {
	o := matching.DefaultSearchOptions()
	o.UseKDTree = boolOr(c.UseKDTree, o.UseKDTree)
	o.KDTreeCandidates = c.GetKDTreeCandidates()
	o.ContinuingPoseCostBias = floatOr(c.ContinuingPoseCostBias, o.ContinuingPoseCostBias)
	o.LoopingCostBias = floatOr(c.LoopingCostBias, o.LoopingCostBias)
	o.MinTimeSinceLastSelect = durationOr(c.MinTimeSinceLastSelect, 100*time.Millisecond).Seconds()
	return o
}

// PredictorConfig returns predictor tuning sampling the feature offsets.
func (c *TuningConfig) PredictorConfig() predict.Config {
	p := predict.DefaultConfig()
	p.SampleTimes = append([]float64(nil), c.FeatureConfig().TrajectorySampleTimes...)
	p.MaxSpeed = floatOr(c.MaxSpeed, p.MaxSpeed)
	p.Acceleration = floatOr(c.Acceleration, p.Acceleration)
	p.Deceleration = floatOr(c.Deceleration, p.Deceleration)
	p.TurnSpeed = floatOr(c.TurnSpeed, p.TurnSpeed)
	p.HistoryDuration = durationOr(c.HistoryDuration, time.Second).Seconds()
	p.InputSmoothing = durationOr(c.InputSmoothing, 100*time.Millisecond).Seconds()
	return p
}

// BlendConfig returns the inertial blender tuning.
func (c *TuningConfig) BlendConfig() inertial.Config {
	b := inertial.DefaultConfig()
	b.BlendDuration = c.GetBlendDuration().Seconds()
	b.DampingRatio = floatOr(c.DampingRatio, b.DampingRatio)
	b.NaturalFrequency = floatOr(c.NaturalFrequency, b.NaturalFrequency)
	return b
}

// ControllerConfig assembles the full controller tuning.
func (c *TuningConfig) ControllerConfig() controller.Config {
	cc := controller.DefaultConfig()
	cc.Features = c.FeatureConfig()
	cc.Predictor = c.PredictorConfig()
	cc.Blend = c.BlendConfig()
	cc.Search = c.SearchOptions()
	cc.SearchInterval = c.GetSearchInterval().Seconds()
	cc.ForceSearchThreshold = floatOr(c.ForceSearchThreshold, cc.ForceSearchThreshold)
	cc.MinDwellTime = c.GetMinDwellTime().Seconds()
	cc.MaxDwellTime = c.GetMaxDwellTime().Seconds()
	cc.TransitionCostRatio = floatOr(c.TransitionCostRatio, cc.TransitionCostRatio)
	cc.UseInertialBlending = c.GetUseInertialBlending()
	return cc
}
