package voxel

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/samber/lo"
)

// Store is the authoritative voxel collection plus the two ambient scalars.
// Growth is append-only and bounded by the render capacity fixed at load.
type Store struct {
	voxels   []*Voxel
	capacity int

	Temperature   float64 // °C
	Precipitation float64 // 0..100
}

func NewStore(capacity int) *Store {
	return &Store{capacity: capacity, Temperature: 20}
}

// Reset replaces the collection and fixes a new capacity.
func (s *Store) Reset(voxels []*Voxel, capacity int) {
	if capacity < len(voxels) {
		capacity = len(voxels)
	}
	s.voxels = voxels
	s.capacity = capacity
}

func (s *Store) All() []*Voxel { return s.voxels }
func (s *Store) Len() int      { return len(s.voxels) }
func (s *Store) Capacity() int { return s.capacity }

func (s *Store) Get(id int) *Voxel {
	if id < 0 || id >= len(s.voxels) {
		return nil
	}
	return s.voxels[id]
}

// Spawn appends a resting voxel at a grid cell. It returns nil when the store
// is at capacity.
func (s *Store) Spawn(cell Vec3i, t Type) *Voxel {
	if s.capacity > 0 && len(s.voxels) >= s.capacity {
		return nil
	}
	v := &Voxel{
		ID:       len(s.voxels),
		Pos:      cell.Vec3(),
		Grid:     cell,
		PrevGrid: cell,
		Color:    SpawnColor(t),
		Type:     t,
	}
	s.voxels = append(s.voxels, v)
	return v
}

// Counts tallies live voxels per phase.
func (s *Store) Counts() map[Type]int {
	return lo.CountValuesBy(s.voxels, func(v *Voxel) Type { return v.Type })
}

// FromData materialises a layout, assigning index-stable IDs.
func FromData(data []Data) []*Voxel {
	out := make([]*Voxel, len(data))
	for i, d := range data {
		cell := Round(d.Pos())
		out[i] = &Voxel{
			ID:       i,
			Pos:      mgl64.Vec3{d.X, d.Y, d.Z},
			Grid:     cell,
			PrevGrid: cell,
			Color:    d.Color,
			Type:     d.Type,
		}
	}
	return out
}
