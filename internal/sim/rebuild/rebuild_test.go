package rebuild

import (
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"

	"voxelstorm.ai/internal/sim/voxel"
)

func src(colors ...uint32) []*voxel.Voxel {
	out := make([]*voxel.Voxel, len(colors))
	for i, c := range colors {
		cell := voxel.Vec3i{X: i, Y: -11}
		out[i] = &voxel.Voxel{ID: i, Pos: cell.Vec3(), Grid: cell, PrevGrid: cell, Color: voxel.FromHex(c)}
	}
	return out
}

func TestColorDistance(t *testing.T) {
	white, black := voxel.FromHex(0xFFFFFF), voxel.FromHex(0x000000)
	if d := ColorDistance(white, white); d != 0 {
		t.Fatalf("self distance = %v", d)
	}
	want := math.Sqrt(0.30*0.30 + 0.59*0.59 + 0.11*0.11)
	if d := ColorDistance(white, black); d < want-1e-9 || d > want+1e-9 {
		t.Fatalf("white/black distance = %v want %v", d, want)
	}
	g := ColorDistance(voxel.FromHex(0x00FF00), black)
	b := ColorDistance(voxel.FromHex(0x0000FF), black)
	if g <= b {
		t.Fatalf("green should weigh more than blue: %v <= %v", g, b)
	}
}

func TestMatch_AccountsForEverySource(t *testing.T) {
	sources := src(voxel.HexDark, voxel.HexWhite, voxel.HexGold, voxel.HexGreen, voxel.HexBlack)
	dest := []voxel.Data{
		{X: 0, Y: 0, Z: 0, Color: voxel.FromHex(voxel.HexGold)},
		{X: 0, Y: 1, Z: 0, Color: voxel.FromHex(voxel.HexWhite)},
		{X: 0, Y: 2, Z: 0, Color: voxel.FromHex(voxel.HexBlack)},
	}
	plan := Match(sources, dest, DefaultParams())

	if len(plan.Targets) != len(sources) {
		t.Fatalf("targets=%d sources=%d", len(plan.Targets), len(sources))
	}
	if plan.Matched() != len(dest) {
		t.Fatalf("matched=%d want %d", plan.Matched(), len(dest))
	}
	claimed := map[mgl64.Vec3]int{}
	rubble := 0
	for i, tg := range plan.Targets {
		if tg.Rubble {
			rubble++
			if tg.Dest != sources[i].Pos || tg.Delay != 0 {
				t.Fatalf("rubble %d should stay put: %+v", i, tg)
			}
			continue
		}
		claimed[tg.Dest]++
	}
	if rubble != len(sources)-len(dest) {
		t.Fatalf("rubble=%d want %d", rubble, len(sources)-len(dest))
	}
	for d, n := range claimed {
		if n != 1 {
			t.Fatalf("destination %v claimed %d times", d, n)
		}
	}
	if plan.Targets[2].Rubble || plan.Targets[2].Dest != dest[0].Pos() {
		t.Fatalf("exact gold source should take the first gold slot: %+v", plan.Targets[2])
	}
	if plan.Targets[1].Rubble || plan.Targets[1].Dest != dest[1].Pos() {
		t.Fatalf("white source should take the white slot: %+v", plan.Targets[1])
	}
	if plan.Targets[4].Rubble || plan.Targets[4].Dest != dest[2].Pos() {
		t.Fatalf("black source should take the black slot: %+v", plan.Targets[4])
	}
}

func TestMatch_MoreTargetsThanSources(t *testing.T) {
	sources := src(voxel.HexWhite)
	dest := []voxel.Data{{Y: 3, Color: voxel.FromHex(voxel.HexWhite)}, {Y: 4, Color: voxel.FromHex(voxel.HexWhite)}}
	plan := Match(sources, dest, DefaultParams())
	if plan.Matched() != 1 || plan.Targets[0].Dest != dest[0].Pos() {
		t.Fatalf("unexpected plan %+v", plan.Targets)
	}
}

func TestDelay_BottomUpWave(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		y    float64
		want time.Duration
	}{
		{-20, 0},
		{-12, 0},
		{3, 800 * time.Millisecond},
		{18, 1600 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.delay(tc.y); got != tc.want {
			t.Fatalf("delay(%v) = %v want %v", tc.y, got, tc.want)
		}
	}
}

func TestStep_WaitsForDelayThenConverges(t *testing.T) {
	sources := src(voxel.HexWhite)
	sources[0].Rot = mgl64.Vec3{1, -1, 0.5}
	sources[0].Vel = mgl64.Vec3{1, 1, 1}
	dest := []voxel.Data{{X: 4, Y: 3, Z: -2, Color: voxel.FromHex(voxel.HexWhite)}}
	plan := Match(sources, dest, DefaultParams())
	v := sources[0]

	if plan.Step(sources, 0) {
		t.Fatalf("should not finish before the delay elapses")
	}
	if v.Pos != (mgl64.Vec3{0, -11, 0}) {
		t.Fatalf("voxel moved before activation: %v", v.Pos)
	}

	frames := 0
	for !plan.Step(sources, time.Second) {
		frames++
		if frames > 200 {
			t.Fatalf("never converged, pos=%v", v.Pos)
		}
		if v.Vel != (mgl64.Vec3{}) {
			t.Fatalf("velocity not cleared: %v", v.Vel)
		}
		if v.PrevGrid != v.Grid {
			t.Fatalf("prev grid should follow grid")
		}
	}
	if v.Pos != dest[0].Pos() || v.Rot != (mgl64.Vec3{}) {
		t.Fatalf("not snapped: pos=%v rot=%v", v.Pos, v.Rot)
	}
	if v.Grid != (voxel.Vec3i{X: 4, Y: 3, Z: -2}) {
		t.Fatalf("grid=%+v", v.Grid)
	}
}

func TestStep_IdentityRebuild(t *testing.T) {
	sources := src(voxel.HexDark, voxel.HexWhite, voxel.HexDark, voxel.HexGold)
	var dest []voxel.Data
	before := make([]mgl64.Vec3, len(sources))
	for i, v := range sources {
		before[i] = v.Pos
		dest = append(dest, voxel.Data{X: v.Pos[0], Y: v.Pos[1], Z: v.Pos[2], Color: v.Color})
	}
	plan := Match(sources, dest, DefaultParams())
	if plan.Matched() != len(sources) {
		t.Fatalf("identity rebuild produced rubble: matched=%d", plan.Matched())
	}
	if !plan.Step(sources, time.Second) {
		t.Fatalf("identity rebuild should converge on the first active frame")
	}
	after := make([]mgl64.Vec3, len(sources))
	for i, v := range sources {
		after[i] = v.Pos
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("identity rebuild displaced voxels (-before +after):\n%s", diff)
	}
}
