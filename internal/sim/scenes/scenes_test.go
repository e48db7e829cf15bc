package scenes

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelstorm.ai/internal/sim/voxel"
)

func TestNames(t *testing.T) {
	want := []string{"cat", "eagle", "rabbit", "terrain", "twins", "watertank"}
	if diff := cmp.Diff(want, Names()); diff != "" {
		t.Fatalf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Unknown(t *testing.T) {
	if _, err := Build("dragon", -12); !errors.Is(err, ErrUnknownScene) {
		t.Fatalf("err=%v want ErrUnknownScene", err)
	}
}

func TestBuild_Counts(t *testing.T) {
	cases := map[string]int{
		"eagle":     7*5*5 + 3*3*3 + 2,
		"cat":       6*4*10 + 4*4*3,
		"rabbit":    5*4*7 + 3*3*3 + 6,
		"twins":     2 * (6*4*10 + 4*4*3),
		"watertank": 7 * 7 * 7,
		"terrain":   30*30 + 6*6,
	}
	for name, want := range cases {
		data, err := Build(name, -12)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(data) != want {
			t.Fatalf("%s: %d voxels want %d", name, len(data), want)
		}
	}
}

func TestBuild_RestsOnFloorAndIsUnique(t *testing.T) {
	for _, name := range Names() {
		data, err := Build(name, -12)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		seen := map[voxel.Vec3i]bool{}
		minY := data[0].Y
		for _, d := range data {
			c := voxel.Round(d.Pos())
			if seen[c] {
				t.Fatalf("%s: duplicate cell %+v", name, c)
			}
			seen[c] = true
			minY = min(minY, d.Y)
		}
		if minY != -11 {
			t.Fatalf("%s: lowest layer at %v want -11", name, minY)
		}
	}
}

func TestBuild_WaterTankOverridesInterior(t *testing.T) {
	data, err := Build("watertank", -12)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[voxel.Type]int{}
	for _, d := range data {
		counts[d.Type]++
		if d.Type == voxel.Water && d.Color != voxel.FromHex(voxel.HexWater) {
			t.Fatalf("water cell with colour %s", d.Color.Hex())
		}
	}
	if counts[voxel.Water] != 125 || counts[voxel.Solid] != 343-125 {
		t.Fatalf("counts=%v", counts)
	}
}

func TestBuild_CentredOnXZ(t *testing.T) {
	data, err := Build("terrain", -12)
	if err != nil {
		t.Fatal(err)
	}
	lo, hi := data[0], data[0]
	for _, d := range data {
		lo.X, hi.X = min(lo.X, d.X), max(hi.X, d.X)
		lo.Z, hi.Z = min(lo.Z, d.Z), max(hi.Z, d.Z)
	}
	if lo.X != -14 || hi.X != 15 || lo.Z != -14 || hi.Z != 15 {
		t.Fatalf("terrain spans x[%v,%v] z[%v,%v]", lo.X, hi.X, lo.Z, hi.Z)
	}
}
