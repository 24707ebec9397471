// Package debug records motion matching search decisions for tuning.
// The Recorder keeps the most recent searches in a fixed ring so a long
// session never grows memory; reports read them back oldest first.
package debug

import (
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/motionmatch/internal/motion/features"
)

// DefaultCapacity holds about a minute of searches at 10 Hz.
const DefaultCapacity = 600

// SearchRecord is one search and what the controller did with it.
type SearchRecord struct {
	Seq  uint64
	Time float64 // controller time, seconds

	PoseIndex      int
	FromClip       string
	ToClip         string
	ToClipTime     float64
	Cost           float64
	CurrentCost    float64
	TrajectoryCost float64
	PoseCost       float64
	HeadingCost    float64
	BiasCost       float64

	Committed bool
	Reason    string

	StrafeMode   bool
	RequiredTags []string

	Query   features.Trajectory // character frame
	Matched features.Trajectory
}

// Summary aggregates the recorded searches.
type Summary struct {
	Searches    int
	Commits     int
	CommitRate  float64 // commits per search
	MeanCost    float64
	MedianCost  float64
	P95Cost     float64
	MaxCost     float64
	ClipChanges int
}

// Recorder is a bounded ring of search records. It starts disabled; while
// disabled Record is a no-op. Not safe for concurrent use.
type Recorder struct {
	enabled bool
	records []SearchRecord
	head    int // next write position
	size    int
	seq     uint64
}

// NewRecorder creates a disabled recorder holding up to capacity records.
func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Recorder{records: make([]SearchRecord, capacity)}
}

// SetEnabled controls whether Record stores anything.
func (r *Recorder) SetEnabled(enabled bool) { r.enabled = enabled }

// IsEnabled reports whether the recorder is storing records.
func (r *Recorder) IsEnabled() bool { return r != nil && r.enabled }

// Record stores rec, overwriting the oldest record when full, and returns its
// sequence number. It returns 0 when disabled.
func (r *Recorder) Record(rec SearchRecord) uint64 {
	if !r.IsEnabled() {
		return 0
	}
	r.seq++
	rec.Seq = r.seq
	rec.RequiredTags = slices.Clone(rec.RequiredTags)
	r.records[r.head] = rec
	r.head = (r.head + 1) % len(r.records)
	if r.size < len(r.records) {
		r.size++
	}
	return rec.Seq
}

// Size is the number of stored records.
func (r *Recorder) Size() int { return r.size }

// Capacity is the ring size.
func (r *Recorder) Capacity() int { return len(r.records) }

// Previous returns the record n steps back; Previous(1) is the newest.
func (r *Recorder) Previous(n int) (SearchRecord, bool) {
	if n < 1 || n > r.size {
		return SearchRecord{}, false
	}
	return r.records[(r.head-n+len(r.records))%len(r.records)], true
}

// All returns the stored records oldest first.
func (r *Recorder) All() []SearchRecord {
	if r.size == 0 {
		return nil
	}
	out := make([]SearchRecord, r.size)
	for i := range out {
		out[i] = r.records[(r.head-r.size+i+len(r.records))%len(r.records)]
	}
	return out
}

// Commits returns the committed records oldest first.
func (r *Recorder) Commits() []SearchRecord {
	var out []SearchRecord
	for _, rec := range r.All() {
		if rec.Committed {
			out = append(out, rec)
		}
	}
	return out
}

// Clear drops all records. Sequence numbers keep increasing.
func (r *Recorder) Clear() {
	clear(r.records)
	r.head, r.size = 0, 0
}

// Summarize computes cost statistics over the stored records.
func (r *Recorder) Summarize() Summary {
	all := r.All()
	s := Summary{Searches: len(all)}
	if len(all) == 0 {
		return s
	}
	costs := make([]float64, 0, len(all))
	for _, rec := range all {
		costs = append(costs, rec.Cost)
		if rec.Committed {
			s.Commits++
			if rec.FromClip != rec.ToClip {
				s.ClipChanges++
			}
		}
	}
	slices.Sort(costs)
	s.CommitRate = float64(s.Commits) / float64(len(all))
	s.MeanCost = stat.Mean(costs, nil)
	s.MedianCost = stat.Quantile(0.5, stat.Empirical, costs, nil)
	s.P95Cost = stat.Quantile(0.95, stat.Empirical, costs, nil)
	s.MaxCost = costs[len(costs)-1]
	return s
}
