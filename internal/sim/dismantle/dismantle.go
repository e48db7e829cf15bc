// Package dismantle scatters a structure into tumbling debris.
package dismantle

import (
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstorm.ai/internal/sim/voxel"
)

type Params struct {
	FloorY float64

	Gravity     float64 // per frame
	Bounce      float64 // vy multiplier on floor contact
	Friction    float64 // vx,vz multiplier on floor contact
	SpinDamping float64 // angular multiplier on floor contact

	Lateral float64 // width of the initial vx,vz band
	Lift    float64 // upper bound of the initial vy
	Spin    float64 // width of the initial angular band
}

func DefaultParams() Params {
	return Params{
		FloorY:      -12,
		Gravity:     0.025,
		Bounce:      -0.5,
		Friction:    0.9,
		SpinDamping: 0.8,
		Lateral:     0.8,
		Lift:        0.5,
		Spin:        0.2,
	}
}

// Scatter snapshots every voxel onto its grid cell and hands it a random
// launch velocity and spin.
func Scatter(voxels []*voxel.Voxel, p Params, rng *rand.Rand) {
	band := func(w float64) float64 { return (rng.Float64() - 0.5) * w }
	for _, v := range voxels {
		v.Pos = v.Grid.Vec3()
		v.Vel = mgl64.Vec3{band(p.Lateral), rng.Float64() * p.Lift, band(p.Lateral)}
		v.AngVel = mgl64.Vec3{band(p.Spin), band(p.Spin), band(p.Spin)}
	}
}

// Step integrates one frame of ballistic motion. Debris never comes to rest on
// its own; the caller leaves the mode to stop it.
func Step(voxels []*voxel.Voxel, p Params) {
	rest := p.FloorY + 0.5
	for _, v := range voxels {
		v.Vel[1] -= p.Gravity
		v.Pos = v.Pos.Add(v.Vel)
		v.Rot = v.Rot.Add(v.AngVel)

		if v.Pos[1] < rest {
			v.Pos[1] = rest
			v.Vel[1] *= p.Bounce
			v.Vel[0] *= p.Friction
			v.Vel[2] *= p.Friction
			v.AngVel = v.AngVel.Mul(p.SpinDamping)
		}
	}
}
