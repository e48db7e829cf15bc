package voxel

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"
)

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) Vec3() mgl64.Vec3 { return mgl64.Vec3{float64(v.X), float64(v.Y), float64(v.Z)} }

func (v Vec3i) Add(dx, dy, dz int) Vec3i { return Vec3i{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz} }

// Round snaps a continuous position to its grid cell. Halves round up.
func Round(p mgl64.Vec3) Vec3i {
	return Vec3i{X: roundHalfUp(p[0]), Y: roundHalfUp(p[1]), Z: roundHalfUp(p[2])}
}

func roundHalfUp(f float64) int { return int(math.Floor(f + 0.5)) }

// Type is the matter phase of a voxel. Solid is immutable and never touched by
// the fluid simulator.
type Type uint8

const (
	Solid Type = iota
	Water
	Snow
	Hail
	Steam
)

var typeNames = [...]string{
	Solid: "solid",
	Water: "water",
	Snow:  "snow",
	Hail:  "hail",
	Steam: "steam",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func (t Type) IsFluid() bool { return t != Solid }

// ParseType maps a type tag to a Type. The empty tag is Solid.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Solid, nil
	}
	for i, n := range typeNames {
		if n == s {
			return Type(i), nil
		}
	}
	return Solid, fmt.Errorf("unknown voxel type %q", s)
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Types lists every phase in declaration order.
func Types() []Type { return []Type{Solid, Water, Snow, Hail, Steam} }

// Neighbors records which of the six axis-adjacent cells were occupied on the
// last fluid tick.
type Neighbors uint8

const (
	NeighborPosX Neighbors = 1 << iota
	NeighborNegX
	NeighborPosY
	NeighborNegY
	NeighborPosZ
	NeighborNegZ
)

func (n Neighbors) Has(f Neighbors) bool { return n&f != 0 }

// Voxel is one simulated particle.
//
// Pos is the continuous visual position used by dismantle/rebuild and by the
// renderer outside fluid mode. Grid is the fluid simulator's authoritative cell;
// PrevGrid is only kept to interpolate Pos between ticks.
type Voxel struct {
	ID int

	Pos      mgl64.Vec3
	Grid     Vec3i
	PrevGrid Vec3i

	Vel    mgl64.Vec3
	Rot    mgl64.Vec3
	AngVel mgl64.Vec3

	Color colorful.Color
	Type  Type

	Neighbors Neighbors
	Pressure  int
}

// SnapToGrid copies the grid cell into the continuous position.
func (v *Voxel) SnapToGrid() { v.Pos = v.Grid.Vec3() }

// Data is one record of an input layout (scene load or rebuild silhouette).
type Data struct {
	X, Y, Z float64
	Color   colorful.Color
	Type    Type
}

func (d Data) Pos() mgl64.Vec3 { return mgl64.Vec3{d.X, d.Y, d.Z} }
