package monitor

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionmatch/internal/motion/debug"
	"github.com/banshee-data/motionmatch/internal/motion/features"
)

func line(speed float64) features.Trajectory {
	var traj features.Trajectory
	for _, off := range []float64{-0.2, -0.1, 0.1, 0.2, 0.4, 0.6} {
		traj.AddSample(features.TrajectorySample{
			TimeOffset: off,
			Position:   mgl64.Vec3{0, 0, speed * off},
			Velocity:   mgl64.Vec3{0, 0, speed},
			Facing:     mgl64.Vec3{0, 0, 1},
		})
	}
	return traj
}

func recorder(t *testing.T) *debug.Recorder {
	t.Helper()
	r := debug.NewRecorder(64)
	r.SetEnabled(true)
	for i := 0; i < 30; i++ {
		rec := debug.SearchRecord{
			Time:        float64(i) * 0.1,
			FromClip:    "idle",
			ToClip:      "idle",
			Cost:        1 / float64(i+1),
			CurrentCost: math.Inf(1),
			Query:       line(2),
			Matched:     line(1.8),
		}
		if i%10 == 3 {
			rec.Committed = true
			rec.ToClip = "walk"
		}
		r.Record(rec)
	}
	return r
}

func TestTrajectoryPlot(t *testing.T) {
	rec, ok := recorder(t).Previous(1)
	require.True(t, ok)

	p, err := TrajectoryPlot(rec)
	require.NoError(t, err)
	assert.Contains(t, p.Title.Text, "idle -> idle")

	path := filepath.Join(t.TempDir(), "plot.png")
	require.NoError(t, SaveTrajectoryPlot(rec, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = TrajectoryPlot(debug.SearchRecord{})
	assert.NoError(t, err, "empty trajectories still plot the origin")
}

func TestRenderCostTimeline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderCostTimeline(&buf, "session", recorder(t).All()))

	html := buf.String()
	assert.True(t, strings.Contains(html, "<html"), "expected an HTML document")
	assert.Contains(t, html, "session")
	assert.Contains(t, html, "Transitions by target clip")
	assert.Contains(t, html, `"walk"`)
	assert.NotContains(t, html, "Inf")
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	files, err := WriteReport(dir, "session", recorder(t), 2)
	require.NoError(t, err)

	// Three commits recorded, capped at two plots.
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "cost_timeline.html"), files[0])
	for _, f := range files {
		_, err := os.Stat(f)
		assert.NoError(t, err)
	}

	files, err = WriteReport(filepath.Join(t.TempDir(), "empty"), "empty", debug.NewRecorder(4), 0)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
