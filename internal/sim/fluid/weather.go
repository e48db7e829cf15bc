package fluid

import "voxelstorm.ai/internal/sim/voxel"

// spawnWeather drops one precipitation particle every SpawnInterval ticks.
// Snow arrives as two stacked cells.
func (s *Simulator) spawnWeather(st *voxel.Store) int {
	if st.Precipitation <= 0 || voxel.Boiling(st.Temperature) {
		return 0
	}
	s.weatherCounter++
	if s.weatherCounter < SpawnInterval(st.Precipitation) {
		return 0
	}
	s.weatherCounter = 0

	area := s.p.SpawnArea
	cell := voxel.Vec3i{
		X: s.rng.IntN(area*2) - area,
		Y: s.p.SpawnAltitude,
		Z: s.rng.IntN(area*2) - area,
	}

	t := PrecipitationType(st.Temperature)
	n := 0
	if st.Spawn(cell, t) != nil {
		n++
	}
	if t == voxel.Snow && st.Spawn(cell.Add(0, 1, 0), t) != nil {
		n++
	}
	return n
}

// PrecipitationType picks the falling phase for the current air temperature.
func PrecipitationType(celsius float64) voxel.Type {
	switch {
	case voxel.Freezing(celsius):
		return voxel.Snow
	case voxel.HailBand(celsius):
		return voxel.Hail
	default:
		return voxel.Water
	}
}
