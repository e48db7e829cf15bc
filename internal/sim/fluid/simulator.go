package fluid

import (
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstorm.ai/internal/sim/spatial"
	"voxelstorm.ai/internal/sim/voxel"
)

// Stats summarises one tick.
type Stats struct {
	Tick        uint64
	Spawned     int
	Frozen      int
	Moved       int
	MaxPressure int
	Counts      map[voxel.Type]int
}

type Simulator struct {
	p   Params
	rng *rand.Rand

	index  *spatial.Index
	fluids []*voxel.Voxel

	weatherCounter int
	tick           uint64
}

func NewSimulator(p Params, rng *rand.Rand) *Simulator {
	return &Simulator{
		p:     p,
		rng:   rng,
		index: spatial.NewIndex(1024),
	}
}

func (s *Simulator) Params() Params { return s.p }

// Index exposes the occupancy map as left by the last tick.
func (s *Simulator) Index() *spatial.Index { return s.index }

func (s *Simulator) Ticks() uint64 { return s.tick }

// lateral scan order for flow: axes first, then diagonals
var flowDirs = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

// Step advances the fluid model by one logical tick.
func (s *Simulator) Step(st *voxel.Store) Stats {
	s.tick++
	stats := Stats{Tick: s.tick}
	stats.Spawned = s.spawnWeather(st)

	s.index.Rebuild(st.All())
	s.fluids = s.fluids[:0]
	for _, v := range st.All() {
		if v.Type.IsFluid() {
			s.fluids = append(s.fluids, v)
		}
	}
	s.rng.Shuffle(len(s.fluids), func(i, j int) {
		s.fluids[i], s.fluids[j] = s.fluids[j], s.fluids[i]
	})

	for _, v := range s.fluids {
		frozen := s.applyPhase(v, st.Temperature)

		v.PrevGrid = v.Grid
		s.index.Remove(v.Grid)

		v.Pressure = s.pressure(v.Grid)
		v.Neighbors = s.neighbors(v.Grid)
		if v.Pressure > stats.MaxPressure {
			stats.MaxPressure = v.Pressure
		}

		if frozen {
			v.Vel = mgl64.Vec3{}
			stats.Frozen++
			s.index.Insert(v)
			continue
		}

		s.move(v)
		if v.Grid != v.PrevGrid {
			stats.Moved++
		}
		s.index.Insert(v)
	}

	stats.Counts = st.Counts()
	return stats
}

// applyPhase reports whether the voxel froze in place, otherwise it runs the
// phase table to a fixed point. Freezing only applies to water with at least
// two occupied cells among +x, -x and -y.
func (s *Simulator) applyPhase(v *voxel.Voxel, celsius float64) bool {
	if v.Type == voxel.Water && voxel.Freezing(celsius) && s.freezeSupport(v.Grid) >= 2 {
		return true
	}
	v.Type = v.Type.Settle(celsius, s.rng.Float64, s.p.HailChance)
	return false
}

func (s *Simulator) freezeSupport(c voxel.Vec3i) int {
	n := 0
	if s.index.Has(c.X+1, c.Y, c.Z) {
		n++
	}
	if s.index.Has(c.X-1, c.Y, c.Z) {
		n++
	}
	if s.index.Has(c.X, c.Y-1, c.Z) {
		n++
	}
	return n
}

// pressure counts contiguous water cells directly above c, capped.
func (s *Simulator) pressure(c voxel.Vec3i) int {
	p := 0
	for y := c.Y + 1; p < s.p.MaxPressure; y++ {
		above, ok := s.index.At(c.X, y, c.Z)
		if !ok || above.Type != voxel.Water {
			break
		}
		p++
	}
	return p
}

func (s *Simulator) neighbors(c voxel.Vec3i) voxel.Neighbors {
	var n voxel.Neighbors
	if s.index.Has(c.X+1, c.Y, c.Z) {
		n |= voxel.NeighborPosX
	}
	if s.index.Has(c.X-1, c.Y, c.Z) {
		n |= voxel.NeighborNegX
	}
	if s.index.Has(c.X, c.Y+1, c.Z) {
		n |= voxel.NeighborPosY
	}
	if s.index.Has(c.X, c.Y-1, c.Z) {
		n |= voxel.NeighborNegY
	}
	if s.index.Has(c.X, c.Y, c.Z+1) {
		n |= voxel.NeighborPosZ
	}
	if s.index.Has(c.X, c.Y, c.Z-1) {
		n |= voxel.NeighborNegZ
	}
	return n
}

// occupied treats the floor and everything outside the hash range as solid.
func (s *Simulator) occupied(x, y, z int) bool {
	if y <= s.p.FloorY || !spatial.InRange(x, y, z) {
		return true
	}
	return s.index.Has(x, y, z)
}

func (s *Simulator) jitter(scale float64) float64 { return (s.rng.Float64() - 0.5) * scale }

func (s *Simulator) move(v *voxel.Voxel) {
	g := v.Grid

	// Vertical.
	if v.Type == voxel.Steam {
		v.Vel[1] += s.p.SteamLift
		v.Vel[0] += s.jitter(s.p.SteamJitter)
		v.Vel[2] += s.jitter(s.p.SteamJitter)
	} else {
		v.Vel[1] -= s.p.Gravity
		if v.Vel[1] < -s.p.TerminalVelocity {
			v.Vel[1] = -s.p.TerminalVelocity
		}
	}

	nextY := g.Y
	if math.Abs(v.Vel[1]) >= s.p.MoveThresholdY {
		nextY += sign(v.Vel[1])
	}

	collidedY := false
	switch {
	case nextY <= s.p.FloorY:
		nextY = s.p.FloorY + 1
		collidedY = true
		if v.Type == voxel.Hail {
			v.Vel[1] *= -0.6
			v.Vel[0] += s.jitter(0.5)
			v.Vel[2] += s.jitter(0.5)
		} else {
			v.Vel[1] = 0
		}
	case nextY > spatial.Max:
		nextY = g.Y
		collidedY = true
		v.Vel[1] = 0
	default:
		if blocked, ok := s.index.At(g.X, nextY, g.Z); ok {
			if v.Type != voxel.Steam && blocked.Type == voxel.Water {
				force := s.p.PressureForce
				if v.Pressure > 0 {
					force += float64(v.Pressure) * 0.15
				}
				spread := math.Abs(v.Vel[1]) * force
				if s.rng.Float64() > 0.5 {
					v.Vel[0] += s.jitter(spread)
				} else {
					v.Vel[2] += s.jitter(spread)
				}
			}
			nextY = g.Y
			collidedY = true
			if v.Type == voxel.Hail {
				v.Vel[1] *= -0.5
				v.Vel[0] += s.jitter(0.4)
				v.Vel[2] += s.jitter(0.4)
			} else {
				v.Vel[1] = 0
			}
		}
	}

	// Horizontal forces.
	switch v.Type {
	case voxel.Water:
		v.Vel[0] *= s.p.MomentumRetain
		v.Vel[2] *= s.p.MomentumRetain
		if collidedY || s.index.Has(g.X, g.Y-1, g.Z) {
			s.flow(v)
		}
	case voxel.Hail:
		v.Vel[0] *= s.p.HailFriction
		v.Vel[2] *= s.p.HailFriction
	}

	// Horizontal integration.
	nextX, nextZ := g.X, g.Z
	if math.Abs(v.Vel[0]) > s.p.MoveThresholdXZ {
		nextX += sign(v.Vel[0])
	}
	if math.Abs(v.Vel[2]) > s.p.MoveThresholdXZ {
		nextZ += sign(v.Vel[2])
	}
	if nextX != g.X || nextZ != g.Z {
		if !spatial.InRange(nextX, nextY, nextZ) || s.index.Has(nextX, nextY, nextZ) {
			v.Vel[0] *= -0.5
			v.Vel[2] *= -0.5
			nextX, nextZ = g.X, g.Z
		}
	}

	v.Grid = voxel.Vec3i{X: nextX, Y: nextY, Z: nextZ}
}

// flow pushes resting or pressurised water sideways, preferring a direction
// that drops into a hole over one that is merely open.
func (s *Simulator) flow(v *voxel.Voxel) {
	g := v.Grid
	if v.Pressure > 0 {
		dir := -1.0
		if s.rng.Float64() > 0.5 {
			dir = 1
		}
		boost := 0.5 + 0.2*float64(v.Pressure)
		if s.rng.Float64() > 0.5 {
			v.Vel[0] += dir * boost
		} else {
			v.Vel[2] += dir * boost
		}
	}

	best := -1
	for i, d := range flowDirs {
		if !s.occupied(g.X+d[0], g.Y-1, g.Z+d[1]) {
			best = i
			break
		}
		if best < 0 && !s.occupied(g.X+d[0], g.Y, g.Z+d[1]) {
			best = i
		}
	}
	if best < 0 {
		return
	}
	speed := 0.15 + 0.05*float64(v.Pressure)
	v.Vel[0] += float64(flowDirs[best][0]) * speed
	v.Vel[2] += float64(flowDirs[best][1]) * speed
}

func sign(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	}
	return 0
}
