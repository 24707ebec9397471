package main

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// input is the stick state for one frame.
type input struct {
	Direction mgl64.Vec3 // world XZ
	Magnitude float64    // 0..1
	Strafe    bool
	Facing    mgl64.Vec3 // desired facing while strafing
}

// script maps controller time to stick input.
type script func(t float64) input

var forward = mgl64.Vec3{0, 0, 1}

var scripts = map[string]script{
	// Stand, walk, jog, stop.
	"stop-go": func(t float64) input {
		switch {
		case t < 1:
			return input{Direction: forward}
		case t < 4:
			return input{Direction: forward, Magnitude: 0.45}
		case t < 7:
			return input{Direction: forward, Magnitude: 1}
		default:
			return input{Direction: forward}
		}
	},
	// Walk a circle of roughly constant curvature.
	"circle": func(t float64) input {
		a := 0.6 * t
		return input{Direction: mgl64.Vec3{math.Sin(a), 0, math.Cos(a)}, Magnitude: 0.45}
	},
	// Alternate diagonal legs every two seconds.
	"zigzag": func(t float64) input {
		x := 0.7
		if int(t/2)%2 == 1 {
			x = -x
		}
		return input{Direction: mgl64.Vec3{x, 0, 0.7}.Normalize(), Magnitude: 0.6}
	},
	// Face +Z while sidestepping right then left.
	"strafe": func(t float64) input {
		dir := mgl64.Vec3{1, 0, 0}
		if int(t/3)%2 == 1 {
			dir = mgl64.Vec3{-1, 0, 0}
		}
		return input{Direction: dir, Magnitude: 0.45, Strafe: true, Facing: forward}
	},
}

func scriptNames() []string {
	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupScript(name string) (script, error) {
	s, ok := scripts[name]
	if !ok {
		return nil, fmt.Errorf("unknown script %q (have %v)", name, scriptNames())
	}
	return s, nil
}
