// Package rebuild assigns live voxels to a target silhouette by colour and
// animates them into place as a bottom-up wave.
package rebuild

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"

	"voxelstorm.ai/internal/sim/voxel"
)

type Params struct {
	FloorY float64

	Blend    float64       // fraction of the remaining distance closed per frame
	WaveBand float64       // height of one activation band
	WaveStep time.Duration // delay added per band
}

func DefaultParams() Params {
	return Params{
		FloorY:   -12,
		Blend:    0.12,
		WaveBand: 15,
		WaveStep: 800 * time.Millisecond,
	}
}

const (
	exactMatch  = 0.01 // colour distance that ends the candidate scan
	convergedSq = 0.01 // squared distance at which a voxel snaps
)

// Target is where one source voxel is headed.
type Target struct {
	Dest   mgl64.Vec3
	Delay  time.Duration
	Rubble bool
}

// ColorDistance is a luma-weighted RGB distance.
func ColorDistance(a, b colorful.Color) float64 {
	dr := (a.R - b.R) * 0.30
	dg := (a.G - b.G) * 0.59
	db := (a.B - b.B) * 0.11
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// Plan holds one target per source voxel, indexed like the source slice.
type Plan struct {
	Targets []Target
	p       Params
}

// Match greedily pairs each destination, in order, with the closest untaken
// source colour. Sources left over become rubble that stays where it is.
// Destinations beyond the source count are dropped.
func Match(sources []*voxel.Voxel, dest []voxel.Data, p Params) *Plan {
	plan := &Plan{Targets: make([]Target, len(sources)), p: p}
	taken := make([]bool, len(sources))

	for _, d := range dest {
		best, bestDist := -1, math.Inf(1)
		for i, v := range sources {
			if taken[i] {
				continue
			}
			dist := ColorDistance(v.Color, d.Color)
			if dist < bestDist {
				best, bestDist = i, dist
				if dist < exactMatch {
					break
				}
			}
		}
		if best < 0 {
			break
		}
		taken[best] = true
		plan.Targets[best] = Target{Dest: d.Pos(), Delay: p.delay(d.Y)}
	}

	for i, v := range sources {
		if !taken[i] {
			plan.Targets[i] = Target{Dest: v.Pos, Rubble: true}
		}
	}
	return plan
}

func (p Params) delay(y float64) time.Duration {
	bands := math.Max(0, (y-p.FloorY)/p.WaveBand)
	return time.Duration(bands * float64(p.WaveStep))
}

// Matched counts non-rubble targets.
func (pl *Plan) Matched() int {
	n := 0
	for _, t := range pl.Targets {
		if !t.Rubble {
			n++
		}
	}
	return n
}

// Step advances every activated voxel one frame toward its target and reports
// whether all matched voxels are active and converged.
func (pl *Plan) Step(voxels []*voxel.Voxel, elapsed time.Duration) bool {
	done := true
	for i, v := range voxels {
		if i >= len(pl.Targets) {
			break
		}
		t := pl.Targets[i]
		if t.Rubble {
			continue
		}
		if elapsed < t.Delay {
			done = false
			continue
		}

		v.Pos = v.Pos.Add(t.Dest.Sub(v.Pos).Mul(pl.p.Blend))
		v.Rot = v.Rot.Sub(v.Rot.Mul(pl.p.Blend))
		v.Grid = voxel.Round(v.Pos)
		v.PrevGrid = v.Grid
		v.Vel = mgl64.Vec3{}

		if d := t.Dest.Sub(v.Pos); d.Dot(d) > convergedSq {
			done = false
			continue
		}
		v.Pos = t.Dest
		v.Rot = mgl64.Vec3{}
		v.AngVel = mgl64.Vec3{}
		v.Grid = voxel.Round(v.Pos)
		v.PrevGrid = v.Grid
	}
	return done
}
