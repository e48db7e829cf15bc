// Package render derives per-instance visuals from simulation state and
// defines the adapter boundary that consumes them.
package render

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"

	"voxelstorm.ai/internal/sim/voxel"
)

// Instance is one drawable box.
type Instance struct {
	ID    int
	Type  voxel.Type
	Pos   mgl64.Vec3
	Rot   mgl64.Vec3 // Euler XYZ, radians
	Scale mgl64.Vec3
	Color colorful.Color
}

// Matrix composes translate * rotX * rotY * rotZ * scale.
func (in Instance) Matrix() mgl64.Mat4 {
	m := mgl64.Translate3D(in.Pos[0], in.Pos[1], in.Pos[2])
	m = m.Mul4(mgl64.HomogRotate3DX(in.Rot[0]))
	m = m.Mul4(mgl64.HomogRotate3DY(in.Rot[1]))
	m = m.Mul4(mgl64.HomogRotate3DZ(in.Rot[2]))
	return m.Mul4(mgl64.Scale3D(in.Scale[0], in.Scale[1], in.Scale[2]))
}

// Frame is everything an adapter receives for one rendered frame. Instances
// holds Visible entries; Capacity is the fixed upper bound decided at load.
type Frame struct {
	Seq       uint64
	Mode      string
	Alpha     float64
	Visible   int
	Capacity  int
	Instances []Instance

	// Viewport as last reported through Resize; zero when unknown.
	Width, Height int
}

// Adapter consumes frames. Implementations must not retain the frame after
// Render returns.
type Adapter interface {
	Render(f *Frame)
}

type AdapterFunc func(f *Frame)

func (fn AdapterFunc) Render(f *Frame) { fn(f) }

// Env carries the frame-wide inputs to Derive.
type Env struct {
	Fluid       bool
	Alpha       float64
	Temperature float64
	Time        time.Duration
	Rand        func() float64
}

const (
	waterBase    = 0.85
	waveHeight   = 0.12
	waveFreq     = 0.6
	wavePerMilli = 0.003
	joined       = 1.05
	reach        = 0.95
	reachShift   = 0.05
	stretchOver  = 0.4
	foamSpeed    = 0.8
	foamMix      = 0.4
)

// Derive computes the visual instance for one voxel.
func Derive(v *voxel.Voxel, env Env) Instance {
	in := Instance{ID: v.ID, Type: v.Type, Rot: v.Rot, Pos: v.Pos, Scale: mgl64.Vec3{1, 1, 1}}

	if v.Type == voxel.Solid {
		in.Color = v.Color
		return in
	}
	if env.Fluid {
		in.Pos, in.Scale = fluidShape(v, env)
	}

	var iceScale bool
	in.Color, iceScale = fluidColor(v, env.Temperature)
	if iceScale {
		in.Scale = mgl64.Vec3{1, 1, 1}
	}
	return in
}

func fluidShape(v *voxel.Voxel, env Env) (mgl64.Vec3, mgl64.Vec3) {
	prev, cur := v.PrevGrid.Vec3(), v.Grid.Vec3()
	pos := prev.Add(cur.Sub(prev).Mul(env.Alpha))

	switch {
	case v.Type == voxel.Steam || voxel.Boiling(env.Temperature):
		s := 0.5
		if env.Rand != nil {
			s += env.Rand() * 0.3
		}
		return pos, mgl64.Vec3{s, s, s}
	case v.Type == voxel.Snow:
		return pos, mgl64.Vec3{0.9, 0.7, 0.9}
	case v.Type == voxel.Hail:
		return pos, mgl64.Vec3{0.5, 0.5, 0.5}
	}

	n := v.Neighbors
	scale := mgl64.Vec3{waterBase, waterBase, waterBase}
	if !n.Has(voxel.NeighborPosY) {
		ms := float64(env.Time) / float64(time.Millisecond)
		pos[1] += math.Sin(pos[0]*waveFreq+pos[2]*waveFreq*0.5+ms*wavePerMilli) * waveHeight
	}

	axes := [3][2]voxel.Neighbors{
		{voxel.NeighborPosX, voxel.NeighborNegX},
		{voxel.NeighborPosY, voxel.NeighborNegY},
		{voxel.NeighborPosZ, voxel.NeighborNegZ},
	}
	for i, ax := range axes {
		plus, minus := n.Has(ax[0]), n.Has(ax[1])
		switch {
		case plus && minus:
			scale[i] = joined
		case plus:
			scale[i] = reach
			pos[i] += reachShift
		case minus:
			scale[i] = reach
			pos[i] -= reachShift
		}
	}

	if vy := math.Abs(v.Vel[1]); vy > stretchOver {
		scale[1] = math.Min(1.5, 0.8+vy)
		scale[0] *= 0.7
		scale[2] *= 0.7
	}
	return pos, scale
}

// fluidColor picks the tint for a non-solid voxel. The second result asks for
// a unit scale, used when everything renders as ice.
func fluidColor(v *voxel.Voxel, celsius float64) (colorful.Color, bool) {
	switch v.Type {
	case voxel.Snow:
		return voxel.ColorSnow, false
	case voxel.Hail:
		return voxel.ColorHail, false
	}
	switch {
	case voxel.Freezing(celsius):
		return voxel.ColorIce, true
	case voxel.Boiling(celsius) || v.Type == voxel.Steam:
		return voxel.ColorSteam, false
	case celsius < 20:
		return voxel.ColorIce.BlendRgb(voxel.ColorWater, celsius/20), false
	}

	c := voxel.ColorWater
	if v.Pressure > 0 {
		c = c.BlendRgb(voxel.ColorDeepWater, math.Min(float64(v.Pressure)*0.08, 0.7))
	}
	if celsius > 80 {
		c = c.BlendRgb(voxel.ColorSteam, (celsius-80)/20)
	}
	speed := math.Abs(v.Vel[0]) + math.Abs(v.Vel[1]) + math.Abs(v.Vel[2])
	if speed > foamSpeed {
		c = c.BlendRgb(voxel.ColorFoam, foamMix)
	}
	return c, false
}

// Fill derives every voxel into f, reusing its instance slice, and clips to
// capacity.
func (f *Frame) Fill(voxels []*voxel.Voxel, env Env) {
	n := len(voxels)
	if f.Capacity > 0 && n > f.Capacity {
		n = f.Capacity
	}
	if cap(f.Instances) < n {
		f.Instances = make([]Instance, n)
	}
	f.Instances = f.Instances[:n]
	for i := 0; i < n; i++ {
		f.Instances[i] = Derive(voxels[i], env)
	}
	f.Visible = n
	f.Alpha = env.Alpha
}
