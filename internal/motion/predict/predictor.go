// Package predict turns raw movement input into a short root trajectory: the
// recent past from recorded history and the near future from closed-form
// kinematics.
package predict

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/motion/features"
)

// Config tunes a Predictor. It is copied on construction.
type Config struct {
	SampleTimes     []float64 // seconds, negative = past
	MaxSpeed        float64   // m/s at full input, should exceed the fastest clip
	Acceleration    float64   // m/s² when speeding up
	Deceleration    float64   // m/s² when slowing down
	TurnSpeed       float64   // deg/s
	HistoryDuration float64   // seconds of history retained
	InputSmoothing  float64   // time constant, seconds
}

// DefaultConfig returns the standard locomotion tuning.
func DefaultConfig() Config {
	return Config{
		SampleTimes:     []float64{-0.3, -0.2, -0.1, 0.1, 0.2, 0.4, 0.6, 1.0},
		MaxSpeed:        6.0,
		Acceleration:    10.0,
		Deceleration:    15.0,
		TurnSpeed:       360.0,
		HistoryDuration: 1.0,
		InputSmoothing:  0.1,
	}
}

// historyEntry is one recorded root state.
type historyEntry struct {
	position mgl64.Vec3
	velocity mgl64.Vec3
	facing   mgl64.Vec3
	at       float64
}

// Predictor smooths input, integrates a velocity toward it and predicts the
// root path. It is per-character state and not safe for concurrent use.
type Predictor struct {
	cfg Config

	position      mgl64.Vec3
	velocity      mgl64.Vec3
	facing        mgl64.Vec3
	smoothedInput mgl64.Vec3
	now           float64

	strafe       bool
	strafeFacing mgl64.Vec3

	history []historyEntry
}

var (
	forward = mgl64.Vec3{0, 0, 1}
	up      = mgl64.Vec3{0, 1, 0}
)

// New returns a Predictor at rest facing +Z.
func New(cfg Config) *Predictor {
	cfg.SampleTimes = append([]float64(nil), cfg.SampleTimes...)
	return &Predictor{cfg: cfg, facing: forward, strafeFacing: forward}
}

// Config returns a copy of the tuning.
func (p *Predictor) Config() Config {
	c := p.cfg
	c.SampleTimes = append([]float64(nil), c.SampleTimes...)
	return c
}

// Update records the character state for this frame and moves the predicted
// velocity toward direction*magnitude*MaxSpeed.
func (p *Predictor) Update(position, facing, direction mgl64.Vec3, magnitude, dt float64) {
	p.now += dt
	p.position = position

	if flat := (mgl64.Vec3{facing[0], 0, facing[2]}); flat.Len() > 0.01 {
		p.facing = flat.Normalize()
	}

	target := direction.Mul(magnitude)
	k := 1 - math.Exp(-dt/math.Max(0.001, p.cfg.InputSmoothing))
	p.smoothedInput = p.smoothedInput.Add(target.Sub(p.smoothedInput).Mul(k))

	targetVel := p.smoothedInput.Mul(p.cfg.MaxSpeed)
	diff := targetVel.Sub(p.velocity)
	if l := diff.Len(); l > features.MinVectorLength {
		step := p.rate(targetVel) * dt
		if l <= step {
			p.velocity = targetVel
		} else {
			p.velocity = p.velocity.Add(diff.Mul(step / l))
		}
	}

	p.history = append(p.history, historyEntry{
		position: p.position,
		velocity: p.velocity,
		facing:   p.facing,
		at:       p.now,
	})
	p.prune()
}

// rate picks acceleration when the target is faster than the current speed.
func (p *Predictor) rate(targetVel mgl64.Vec3) float64 {
	if targetVel.Len() > p.velocity.Len() {
		return p.cfg.Acceleration
	}
	return p.cfg.Deceleration
}

func (p *Predictor) prune() {
	cutoff := p.now - p.cfg.HistoryDuration
	drop := 0
	for drop < len(p.history) && p.history[drop].at < cutoff {
		drop++
	}
	if drop > 0 {
		p.history = append(p.history[:0], p.history[drop:]...)
	}
}

// GenerateTrajectory samples the configured offsets. Positions are relative
// to the current position; directions stay in world space.
func (p *Predictor) GenerateTrajectory() features.Trajectory {
	var traj features.Trajectory
	for _, offset := range p.cfg.SampleTimes {
		var s features.TrajectorySample
		if offset <= 0 {
			s = p.historySample(offset)
		} else {
			s = p.predict(offset)
		}
		s.TimeOffset = offset
		if !traj.AddSample(s) {
			break
		}
	}
	return traj
}

func (p *Predictor) predict(offset float64) features.TrajectorySample {
	targetVel := p.smoothedInput.Mul(p.cfg.MaxSpeed)
	diff := targetVel.Sub(p.velocity)

	timeToTarget := 0.0
	if l := diff.Len(); l > features.MinVectorLength {
		if r := p.rate(targetVel); r > 0 {
			timeToTarget = l / r
		} else {
			timeToTarget = math.Inf(1)
		}
	}

	var vel, disp mgl64.Vec3
	switch {
	case timeToTarget > 0 && offset <= timeToTarget:
		vel = p.velocity.Add(diff.Mul(offset / timeToTarget))
		disp = p.velocity.Add(vel).Mul(0.5 * offset)
	case timeToTarget > 0:
		vel = targetVel
		disp = p.velocity.Add(targetVel).Mul(0.5 * timeToTarget).
			Add(targetVel.Mul(offset - timeToTarget))
	default:
		vel = targetVel
		disp = targetVel.Mul(offset)
	}

	return features.TrajectorySample{
		Position: disp,
		Velocity: vel,
		Facing:   p.predictFacing(offset),
	}
}

// predictFacing turns toward the smoothed input at TurnSpeed, never past it.
// In strafe mode the locked facing is used unchanged.
func (p *Predictor) predictFacing(offset float64) mgl64.Vec3 {
	if p.strafe {
		return p.strafeFacing
	}
	if p.smoothedInput.Len() <= 0.1 {
		return p.facing
	}
	target := mgl64.Vec3{p.smoothedInput[0], 0, p.smoothedInput[2]}
	if target.Len() <= features.MinVectorLength {
		return p.facing
	}
	remaining := features.SignedYaw(p.facing, target.Normalize())
	if math.Abs(remaining) <= 0.01 {
		return p.facing
	}
	turn := mgl64.DegToRad(p.cfg.TurnSpeed) * offset
	progress := math.Min(1, turn/math.Abs(remaining))
	return mgl64.QuatRotate(remaining*progress, up).Rotate(p.facing)
}

// historySample interpolates the recorded state at now+offset.
func (p *Predictor) historySample(offset float64) features.TrajectorySample {
	if len(p.history) == 0 {
		return features.TrajectorySample{Velocity: p.velocity, Facing: p.facing}
	}
	at := p.now + offset

	before, after := -1, -1
	for i := range p.history {
		if p.history[i].at <= at {
			before = i
		}
		if after < 0 && p.history[i].at >= at {
			after = i
		}
	}

	entry := func(h historyEntry) features.TrajectorySample {
		return features.TrajectorySample{
			Position: h.position.Sub(p.position),
			Velocity: h.velocity,
			Facing:   h.facing,
		}
	}
	switch {
	case before < 0:
		return entry(p.history[after])
	case after < 0:
		return entry(p.history[before])
	}

	a, b := p.history[before], p.history[after]
	k := 0.0
	if span := b.at - a.at; span > features.MinVectorLength {
		k = (at - a.at) / span
	}
	pos := a.position.Add(b.position.Sub(a.position).Mul(k))
	facing := a.facing.Add(b.facing.Sub(a.facing).Mul(k))
	if facing.Len() > features.MinVectorLength {
		facing = facing.Normalize()
	} else {
		facing = b.facing
	}
	return features.TrajectorySample{
		Position: pos.Sub(p.position),
		Velocity: a.velocity.Add(b.velocity.Sub(a.velocity).Mul(k)),
		Facing:   facing,
	}
}

// CurrentVelocity is the integrated velocity.
func (p *Predictor) CurrentVelocity() mgl64.Vec3 { return p.velocity }

// CurrentFacing is the locked facing in strafe mode, otherwise the last
// observed facing.
func (p *Predictor) CurrentFacing() mgl64.Vec3 {
	if p.strafe {
		return p.strafeFacing
	}
	return p.facing
}

// SmoothedInput is the filtered input vector.
func (p *Predictor) SmoothedInput() mgl64.Vec3 { return p.smoothedInput }

// CurrentAngularVelocity is the signed yaw rate between the last two history
// entries, positive turning +Z toward +X.
func (p *Predictor) CurrentAngularVelocity() float64 {
	n := len(p.history)
	if n < 2 {
		return 0
	}
	a, b := p.history[n-2], p.history[n-1]
	dt := b.at - a.at
	if dt <= 0 {
		return 0
	}
	return features.SignedYaw(a.facing, b.facing) / dt
}

// SetStrafeMode locks the predicted facing to the strafe facing.
func (p *Predictor) SetStrafeMode(on bool) { p.strafe = on }

// StrafeMode reports whether the facing is locked.
func (p *Predictor) StrafeMode() bool { return p.strafe }

// SetStrafeFacing sets the locked facing. Degenerate directions are ignored.
func (p *Predictor) SetStrafeFacing(f mgl64.Vec3) {
	if f.Len() > features.MinVectorLength {
		p.strafeFacing = f.Normalize()
	}
}

// StrafeFacing returns the locked facing.
func (p *Predictor) StrafeFacing() mgl64.Vec3 { return p.strafeFacing }

// Reset clears history, velocity and smoothing, as after a teleport. Facing
// and strafe settings are kept.
func (p *Predictor) Reset() {
	p.history = p.history[:0]
	p.velocity = mgl64.Vec3{}
	p.smoothedInput = mgl64.Vec3{}
	p.now = 0
}
