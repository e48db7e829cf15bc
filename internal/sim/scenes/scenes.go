// Package scenes builds the preset voxel layouts shipped with the engine.
package scenes

import (
	"errors"
	"fmt"
	"sort"

	"voxelstorm.ai/internal/sim/voxel"
)

var ErrUnknownScene = errors.New("unknown scene")

type generator func(b *builder, o voxel.Vec3i)

var presets = map[string]generator{
	"eagle":     eagle,
	"cat":       cat,
	"rabbit":    rabbit,
	"twins":     twins,
	"watertank": waterTank,
	"terrain":   terrain,
}

// Names lists the presets in sorted order.
func Names() []string {
	out := make([]string, 0, len(presets))
	for n := range presets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build lays out a preset centred on x/z with its lowest layer resting on
// floorY+1.
func Build(name string, floorY int) ([]voxel.Data, error) {
	gen, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScene, name)
	}
	b := newBuilder()
	gen(b, voxel.Vec3i{})
	return b.place(floorY + 1), nil
}

func eagle(b *builder, o voxel.Vec3i) {
	b.box(o, 7, 5, 5, voxel.HexDark, voxel.Solid)
	b.box(o.Add(2, 5, 1), 3, 3, 3, voxel.HexWhite, voxel.Solid)
	b.box(o.Add(3, 6, 4), 1, 1, 2, voxel.HexGold, voxel.Solid)
}

func cat(b *builder, o voxel.Vec3i) {
	b.box(o, 6, 4, 10, voxel.HexDark, voxel.Solid)
	b.box(o.Add(1, 4, 7), 4, 4, 3, voxel.HexLight, voxel.Solid)
	b.set(o.Add(2, 6, 9), voxel.HexBlack, voxel.Solid)
	b.set(o.Add(3, 6, 9), voxel.HexBlack, voxel.Solid)
}

func rabbit(b *builder, o voxel.Vec3i) {
	b.box(o, 5, 4, 7, voxel.HexWhite, voxel.Solid)
	b.box(o.Add(1, 4, 4), 3, 3, 3, voxel.HexWhite, voxel.Solid)
	b.pillar(o.Add(1, 7, 4), 3, voxel.HexWhite)
	b.pillar(o.Add(3, 7, 4), 3, voxel.HexWhite)
}

func twins(b *builder, o voxel.Vec3i) {
	cat(b, o)
	cat(b, o.Add(12, 0, 0))
}

func waterTank(b *builder, o voxel.Vec3i) {
	b.box(o, 7, 7, 7, voxel.HexGlass, voxel.Solid)
	b.box(o.Add(1, 1, 1), 5, 5, 5, voxel.HexWater, voxel.Water)
}

func terrain(b *builder, o voxel.Vec3i) {
	b.box(o, 30, 1, 30, voxel.HexGrass, voxel.Solid)
	b.box(o.Add(10, 1, 10), 6, 1, 6, voxel.HexWater, voxel.Water)
}

type cell struct {
	hex uint32
	t   voxel.Type
}

// builder keeps first-write order while letting later writes replace the
// contents of a cell.
type builder struct {
	order []voxel.Vec3i
	cells map[voxel.Vec3i]cell
}

func newBuilder() *builder {
	return &builder{cells: map[voxel.Vec3i]cell{}}
}

func (b *builder) set(p voxel.Vec3i, hex uint32, t voxel.Type) {
	if _, ok := b.cells[p]; !ok {
		b.order = append(b.order, p)
	}
	b.cells[p] = cell{hex: hex, t: t}
}

func (b *builder) box(o voxel.Vec3i, w, h, d int, hex uint32, t voxel.Type) {
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			for z := 0; z < d; z++ {
				b.set(o.Add(x, y, z), hex, t)
			}
		}
	}
}

func (b *builder) pillar(o voxel.Vec3i, height int, hex uint32) {
	for i := 0; i < height; i++ {
		b.set(o.Add(0, i, 0), hex, voxel.Solid)
	}
}

func (b *builder) place(baseY int) []voxel.Data {
	if len(b.order) == 0 {
		return nil
	}
	lo, hi := b.order[0], b.order[0]
	for _, p := range b.order {
		lo.X, hi.X = min(lo.X, p.X), max(hi.X, p.X)
		lo.Y = min(lo.Y, p.Y)
		lo.Z, hi.Z = min(lo.Z, p.Z), max(hi.Z, p.Z)
	}
	dx := -(lo.X + hi.X) / 2
	dz := -(lo.Z + hi.Z) / 2
	dy := baseY - lo.Y

	out := make([]voxel.Data, 0, len(b.order))
	for _, p := range b.order {
		c := b.cells[p]
		out = append(out, voxel.Data{
			X:     float64(p.X + dx),
			Y:     float64(p.Y + dy),
			Z:     float64(p.Z + dz),
			Color: voxel.FromHex(c.hex),
			Type:  c.t,
		})
	}
	return out
}
