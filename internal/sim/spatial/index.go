package spatial

import "voxelstorm.ai/internal/sim/voxel"

// Key packing: each axis is biased by Offset and masked to Bits, then the
// three fields are concatenated x | y<<10 | z<<20.
const (
	Bits   = 10
	Offset = 1 << (Bits - 1)
	Min    = -Offset
	Max    = Offset - 1

	mask = 1<<Bits - 1
)

type Key uint32

func Pack(x, y, z int) Key {
	return Key((x+Offset)&mask) |
		Key((y+Offset)&mask)<<Bits |
		Key((z+Offset)&mask)<<(2*Bits)
}

func PackCell(c voxel.Vec3i) Key { return Pack(c.X, c.Y, c.Z) }

func Unpack(k Key) (x, y, z int) {
	x = int(k&mask) - Offset
	y = int((k>>Bits)&mask) - Offset
	z = int((k>>(2*Bits))&mask) - Offset
	return x, y, z
}

// InRange reports whether a cell packs without aliasing.
func InRange(x, y, z int) bool {
	return x >= Min && x <= Max && y >= Min && y <= Max && z >= Min && z <= Max
}

func InRangeCell(c voxel.Vec3i) bool { return InRange(c.X, c.Y, c.Z) }

// Index maps grid cells to the voxel occupying them. Lookups on a missing
// cell, or one outside the packable range, report unoccupied.
type Index struct {
	cells map[Key]*voxel.Voxel
}

func NewIndex(sizeHint int) *Index {
	return &Index{cells: make(map[Key]*voxel.Voxel, sizeHint)}
}

func (ix *Index) Reset() { clear(ix.cells) }

// Rebuild clears the index and inserts every voxel at its grid cell. Later
// voxels win when two share a cell.
func (ix *Index) Rebuild(voxels []*voxel.Voxel) {
	ix.Reset()
	for _, v := range voxels {
		ix.cells[PackCell(v.Grid)] = v
	}
}

func (ix *Index) Put(c voxel.Vec3i, v *voxel.Voxel) { ix.cells[PackCell(c)] = v }

// Insert places v at its own grid cell.
func (ix *Index) Insert(v *voxel.Voxel) { ix.Put(v.Grid, v) }

func (ix *Index) Remove(c voxel.Vec3i) { delete(ix.cells, PackCell(c)) }

func (ix *Index) Has(x, y, z int) bool {
	_, ok := ix.At(x, y, z)
	return ok
}

func (ix *Index) At(x, y, z int) (*voxel.Voxel, bool) {
	if !InRange(x, y, z) {
		return nil, false
	}
	v, ok := ix.cells[Pack(x, y, z)]
	return v, ok
}

func (ix *Index) Len() int { return len(ix.cells) }
