package features

import "math"

// MinStdDev floors every channel's standard deviation so constant channels
// do not blow up when divided through.
const MinStdDev = 1e-3

// Stats holds the mean and standard deviation of one feature channel.
type Stats struct {
	Mean   float64
	StdDev float64
}

// IdentityStats leaves values unchanged.
func IdentityStats() Stats { return Stats{Mean: 0, StdDev: 1} }

// Normalize returns (v - mean) / stddev.
func (s Stats) Normalize(v float64) float64 {
	return (v - s.Mean) / s.stdDev()
}

// Scale returns v / stddev. Used for distances, which have no meaningful mean offset.
func (s Stats) Scale(v float64) float64 {
	return v / s.stdDev()
}

func (s Stats) stdDev() float64 {
	if s.StdDev <= 0 {
		return 1
	}
	return s.StdDev
}

// Welford accumulates a running mean and variance in a single pass.
type Welford struct {
	N    int
	Mean float64
	M2   float64
}

// Add folds x into the running statistics.
func (w *Welford) Add(x float64) {
	w.N++
	delta := x - w.Mean
	w.Mean += delta / float64(w.N)
	w.M2 += delta * (x - w.Mean)
}

// Stats returns the population statistics with the stddev floor applied.
func (w *Welford) Stats() Stats {
	if w.N == 0 {
		return Stats{StdDev: MinStdDev}
	}
	sd := math.Sqrt(w.M2 / float64(w.N))
	return Stats{Mean: w.Mean, StdDev: math.Max(sd, MinStdDev)}
}

// Normalization holds per-channel statistics over a whole database. Magnitude
// channels: trajectory position/velocity per slot, bone position/velocity per
// bone, root velocity, root angular velocity.
type Normalization struct {
	TrajectoryPosition  [MaxTrajectorySamples]Stats
	TrajectoryVelocity  [MaxTrajectorySamples]Stats
	BonePosition        [MaxFeatureBones]Stats
	BoneVelocity        [MaxFeatureBones]Stats
	RootVelocity        Stats
	RootAngularVelocity Stats
	Computed            bool
}

// IdentityNormalization returns statistics that leave every channel unchanged.
func IdentityNormalization() Normalization {
	var n Normalization
	for i := range n.TrajectoryPosition {
		n.TrajectoryPosition[i] = IdentityStats()
		n.TrajectoryVelocity[i] = IdentityStats()
	}
	for i := range n.BonePosition {
		n.BonePosition[i] = IdentityStats()
		n.BoneVelocity[i] = IdentityStats()
	}
	n.RootVelocity = IdentityStats()
	n.RootAngularVelocity = IdentityStats()
	n.Computed = true
	return n
}

// NormalizationBuilder accumulates Welford statistics for every channel.
type NormalizationBuilder struct {
	trajPos [MaxTrajectorySamples]Welford
	trajVel [MaxTrajectorySamples]Welford
	bonePos [MaxFeatureBones]Welford
	boneVel [MaxFeatureBones]Welford
	rootVel Welford
	angVel  Welford
}

// Add folds one pose's features into the statistics.
func (b *NormalizationBuilder) Add(p *PoseFeatures, t *Trajectory) {
	for i := 0; i < t.Count; i++ {
		b.trajPos[i].Add(t.Samples[i].Position.Len())
		b.trajVel[i].Add(t.Samples[i].Velocity.Len())
	}
	for i := 0; i < p.BoneCount; i++ {
		b.bonePos[i].Add(p.Bones[i].Position.Len())
		b.boneVel[i].Add(p.Bones[i].Velocity.Len())
	}
	b.rootVel.Add(p.RootVelocity.Len())
	b.angVel.Add(p.RootAngularVelocity)
}

// Build returns the finished, immutable statistics.
func (b *NormalizationBuilder) Build() Normalization {
	var n Normalization
	for i := range n.TrajectoryPosition {
		n.TrajectoryPosition[i] = b.trajPos[i].Stats()
		n.TrajectoryVelocity[i] = b.trajVel[i].Stats()
	}
	for i := range n.BonePosition {
		n.BonePosition[i] = b.bonePos[i].Stats()
		n.BoneVelocity[i] = b.boneVel[i].Stats()
	}
	n.RootVelocity = b.rootVel.Stats()
	n.RootAngularVelocity = b.angVel.Stats()
	n.Computed = true
	return n
}
