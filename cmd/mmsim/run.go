package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/motionmatch/internal/anim"
	"github.com/banshee-data/motionmatch/internal/config"
	"github.com/banshee-data/motionmatch/internal/db"
	"github.com/banshee-data/motionmatch/internal/fsutil"
	"github.com/banshee-data/motionmatch/internal/motion"
	"github.com/banshee-data/motionmatch/internal/motion/controller"
	"github.com/banshee-data/motionmatch/internal/motion/database"
	"github.com/banshee-data/motionmatch/internal/motion/debug"
	"github.com/banshee-data/motionmatch/internal/motion/monitor"
	"github.com/banshee-data/motionmatch/internal/timeutil"
)

type runOptions struct {
	ConfigPath string
	DBPath     string
	CacheDir   string
	CacheName  string
	Script     string
	Duration   float64
	FrameRate  float64
	ReportDir  string
	MaxPlots   int
	Characters int
	Realtime   bool
	Verbose    bool
}

// clock paces --realtime runs.
var clock timeutil.Clock = timeutil.RealClock{}

// maxCatchUpSteps bounds the frames run after a stalled tick.
const maxCatchUpSteps = 4

type runResult struct {
	Stats     controller.Stats
	Summary   debug.Summary
	Distance  float64
	Loaded    bool
	Sharing   int // controllers searching the shared database
	SessionID string
	Files     []string
}

func parseRunFlags(args []string) (runOptions, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var o runOptions
	fs.StringVar(&o.ConfigPath, "config", "", "Tuning config JSON (defaults built in)")
	fs.StringVar(&o.DBPath, "db", "", "SQLite database for caches and sessions")
	fs.StringVar(&o.CacheDir, "cache-dir", "", "Directory for file caches (ignored with --db)")
	fs.StringVar(&o.CacheName, "cache", "locomotion", "Cache name")
	fs.StringVar(&o.Script, "script", "stop-go", fmt.Sprintf("Input script: %v", scriptNames()))
	fs.Float64Var(&o.Duration, "duration", 10, "Simulated seconds")
	fs.Float64Var(&o.FrameRate, "fps", 60, "Simulation frame rate")
	fs.StringVar(&o.ReportDir, "report", "", "Write an HTML/PNG report to this directory")
	fs.IntVar(&o.MaxPlots, "max-plots", monitor.DefaultMaxPlots, "Trajectory plots in the report")
	fs.IntVar(&o.Characters, "characters", 1, "Characters sharing one database")
	fs.BoolVar(&o.Realtime, "realtime", false, "Pace frames at wall-clock speed")
	fs.BoolVar(&o.Verbose, "v", false, "Log database builds and transitions")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.Duration <= 0 || o.FrameRate <= 0 {
		return o, errors.New("--duration and --fps must be positive")
	}
	if o.Characters < 1 {
		return o, errors.New("--characters must be at least 1")
	}
	if _, err := lookupScript(o.Script); err != nil {
		return o, err
	}
	return o, nil
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// character is one simulated controller and its world state.
type character struct {
	ctrl     *controller.Controller
	position mgl64.Vec3
	facing   mgl64.Vec3
	distance float64
}

// step feeds one frame of script input and integrates the root motion.
func (c *character) step(drive script, dt float64) {
	in := drive(c.ctrl.Elapsed())
	if in.Strafe != c.ctrl.StrafeMode() {
		c.ctrl.SetStrafeMode(in.Strafe)
	}
	if in.Strafe {
		c.ctrl.SetDesiredFacing(in.Facing)
	}
	c.ctrl.Update(c.position, c.facing, in.Direction, in.Magnitude, dt)

	vel := c.ctrl.QueryPose().RootVelocity
	step := vel.Mul(dt)
	c.position = c.position.Add(step)
	c.distance += step.Len()
	if in.Strafe {
		c.facing = in.Facing
	} else if flat := (mgl64.Vec3{vel[0], 0, vel[2]}); flat.Len() > 0.1 {
		c.facing = flat.Normalize()
	}
}

// runSimulation drives o.Characters controllers through the chosen script.
// Only the first is recorded.
func runSimulation(o runOptions, logOut io.Writer) (*runResult, error) {
	tuning, err := loadTuning(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	drive, err := lookupScript(o.Script)
	if err != nil {
		return nil, err
	}

	writers := motion.LogWriters{Ops: logOut}
	if o.Verbose {
		writers.Diag = logOut
	}
	motion.SetLogWriters(writers)

	var store database.CacheStore
	var sqlDB *db.DB
	switch {
	case o.DBPath != "":
		sqlDB, err = db.NewDB(o.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		defer sqlDB.Close()
		store = sqlDB
	case o.CacheDir != "":
		store = database.NewFileStore(fsutil.OSFileSystem{}, o.CacheDir)
	}

	registry, err := database.NewRegistry(database.DefaultRegistrySize)
	if err != nil {
		return nil, err
	}
	defer registry.Close()

	cfg := tuning.ControllerConfig()
	skel := anim.NewHumanoidSkeleton()
	start := time.Now()
	shared, _, err := registry.Acquire(skel, cfg.Features, clipLibrary(skel), store, o.CacheName, tuning.BuildOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to build motion database: %w", err)
	}
	bs := shared.Stats()
	log.Printf("database ready in %v: clips=%d poses=%d cached=%v", time.Since(start).Round(time.Millisecond), shared.ClipCount(), shared.PoseCount(), bs.FromCache)
	if bs.PrunedPoses > 0 {
		log.Printf("pruned %d static poses", bs.PrunedPoses)
	}

	crowd := make([]*character, max(o.Characters, 1))
	for i := range crowd {
		ctrl := controller.New(cfg)
		if err := ctrl.UseDatabase(shared); err != nil {
			return nil, err
		}
		// Side by side, one metre apart.
		crowd[i] = &character{ctrl: ctrl, position: mgl64.Vec3{float64(i), 0, 0}, facing: forward}
	}

	rec := debug.NewRecorder(debug.DefaultCapacity)
	rec.SetEnabled(o.ReportDir != "" || sqlDB != nil)
	crowd[0].ctrl.SetRecorder(rec)

	var (
		dt     = 1 / o.FrameRate
		frames = int(math.Round(o.Duration * o.FrameRate))
	)
	frame := func() {
		for _, c := range crowd {
			c.step(drive, dt)
		}
	}

	if o.Realtime {
		stepDur := time.Duration(dt * float64(time.Second))
		ticker := clock.NewTicker(stepDur)
		defer ticker.Stop()
		pace := timeutil.NewFixedStep(clock, stepDur, maxCatchUpSteps)
		for i := 0; i < frames; {
			<-ticker.C()
			for n := pace.Steps(); n > 0 && i < frames; n-- {
				frame()
				i++
			}
		}
	} else {
		for i := 0; i < frames; i++ {
			frame()
		}
	}

	lead := crowd[0]
	res := &runResult{
		Stats:    lead.ctrl.Stats(),
		Summary:  rec.Summarize(),
		Distance: lead.distance,
		Loaded:   bs.FromCache,
	}
	for _, c := range crowd {
		if c.ctrl.Database() == shared {
			res.Sharing++
		}
	}
	if sqlDB != nil {
		s, err := sqlDB.SaveSession(o.Script, o.CacheName, rec)
		if err != nil {
			return nil, err
		}
		res.SessionID = s.SessionID
	}
	if o.ReportDir != "" {
		res.Files, err = monitor.WriteReport(o.ReportDir, "mmsim "+o.Script, rec, o.MaxPlots)
		if err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
	}
	return res, nil
}

func handleRun(args []string) {
	o, err := parseRunFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid run options: %v", err)
	}
	res, err := runSimulation(o, os.Stderr)
	if err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	fmt.Printf("script=%s duration=%.1fs distance=%.2fm characters=%d\n", o.Script, o.Duration, res.Distance, res.Sharing)
	fmt.Printf("searches=%d transitions=%d last_clip=%s last_cost=%.4f\n",
		res.Stats.Searches, res.Stats.Transitions, res.Stats.CurrentClipName, res.Stats.LastMatchCost)
	if res.Summary.Searches > 0 {
		fmt.Printf("recorded=%d commits=%d clip_changes=%d median_cost=%.4f p95_cost=%.4f\n",
			res.Summary.Searches, res.Summary.Commits, res.Summary.ClipChanges, res.Summary.MedianCost, res.Summary.P95Cost)
	}
	if res.SessionID != "" {
		fmt.Printf("session=%s\n", res.SessionID)
	}
	for _, f := range res.Files {
		fmt.Printf("wrote %s\n", f)
	}
}
