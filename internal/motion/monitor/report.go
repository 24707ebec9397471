// Package monitor renders recorded search decisions: top-down PNG plots of
// query against matched trajectories and an HTML cost timeline.
package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/motionmatch/internal/motion/debug"
	"github.com/banshee-data/motionmatch/internal/motion/features"
)

// DefaultMaxPlots caps the trajectory PNGs written by WriteReport.
const DefaultMaxPlots = 8

var (
	queryColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	matchedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// trajectoryXYs projects the samples onto the ground plane, X across and Z up
// the page.
func trajectoryXYs(traj *features.Trajectory) plotter.XYs {
	pts := make(plotter.XYs, 0, traj.Count)
	for _, s := range traj.Slice() {
		pts = append(pts, plotter.XY{X: s.Position[0], Y: s.Position[2]})
	}
	return pts
}

// TrajectoryPlot builds a top-down plot of rec's query and matched
// trajectories.
func TrajectoryPlot(rec debug.SearchRecord) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Search %d: %s -> %s (cost %.3f)", rec.Seq, rec.FromClip, rec.ToClip, rec.Cost)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	for _, series := range []struct {
		name string
		traj features.Trajectory
		c    color.Color
	}{
		{"query", rec.Query, queryColor},
		{"matched", rec.Matched, matchedColor},
	} {
		pts := trajectoryXYs(&series.traj)
		if len(pts) == 0 {
			continue
		}
		line, scatter, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("%s trajectory: %w", series.name, err)
		}
		line.Color = series.c
		line.Width = vg.Points(1.5)
		scatter.GlyphStyle.Color = series.c
		p.Add(line, scatter)
		p.Legend.Add(series.name, line, scatter)
	}

	// The character stands at the origin.
	origin, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return nil, err
	}
	origin.GlyphStyle.Radius = vg.Points(4)
	p.Add(origin)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SaveTrajectoryPlot writes TrajectoryPlot(rec) as a PNG.
func SaveTrajectoryPlot(rec debug.SearchRecord, path string) error {
	p, err := TrajectoryPlot(rec)
	if err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// costValue maps non-finite costs to the echarts gap marker.
func costValue(v float64) opts.LineData {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}

// RenderCostTimeline writes an HTML page with the cost of every recorded
// search over time and the committed transitions per target clip.
func RenderCostTimeline(w io.Writer, title string, records []debug.SearchRecord) error {
	xs := make([]string, 0, len(records))
	best := make([]opts.LineData, 0, len(records))
	current := make([]opts.LineData, 0, len(records))
	trajectory := make([]opts.LineData, 0, len(records))
	commits := make(map[string]int)
	for _, rec := range records {
		xs = append(xs, fmt.Sprintf("%.2f", rec.Time))
		best = append(best, costValue(rec.Cost))
		current = append(current, costValue(rec.CurrentCost))
		trajectory = append(trajectory, costValue(rec.TrajectoryCost))
		if rec.Committed {
			commits[rec.ToClip]++
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("searches=%d", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cost"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(xs).
		AddSeries("best", best).
		AddSeries("current", current).
		AddSeries("trajectory", trajectory)

	clips := make([]string, 0, len(commits))
	for name := range commits {
		clips = append(clips, name)
	}
	sort.Strings(clips)
	bars := make([]opts.BarData, 0, len(clips))
	for _, name := range clips {
		bars = append(bars, opts.BarData{Value: commits[name]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Transitions by target clip"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(clips).AddSeries("commits", bars,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render cost timeline: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteReport writes cost_timeline.html and one PNG per committed transition,
// newest first up to maxPlots, into dir. It returns the written paths.
func WriteReport(dir, title string, rec *debug.Recorder, maxPlots int) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if maxPlots <= 0 {
		maxPlots = DefaultMaxPlots
	}

	var written []string
	htmlPath := filepath.Join(dir, "cost_timeline.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", htmlPath, err)
	}
	if err := RenderCostTimeline(f, title, rec.All()); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", htmlPath, err)
	}
	written = append(written, htmlPath)

	commits := rec.Commits()
	for i := len(commits) - 1; i >= 0 && len(written) <= maxPlots; i-- {
		c := commits[i]
		path := filepath.Join(dir, fmt.Sprintf("transition_%05d.png", c.Seq))
		if err := SaveTrajectoryPlot(c, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
