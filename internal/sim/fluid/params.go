package fluid

// Params are the stylised constants of the fluid/weather model.
type Params struct {
	FloorY int

	Gravity          float64
	TerminalVelocity float64
	SteamLift        float64
	SteamJitter      float64

	MoveThresholdY  float64 // |vy| at which a voxel steps one cell vertically
	MoveThresholdXZ float64 // |vx|,|vz| beyond which a voxel steps horizontally

	MomentumRetain float64
	HailFriction   float64
	PressureForce  float64
	MaxPressure    int
	HailChance     float64

	SpawnArea     int
	SpawnAltitude int
}

func DefaultParams() Params {
	return Params{
		FloorY:           -12,
		Gravity:          0.2,
		TerminalVelocity: 1.2,
		SteamLift:        0.08,
		SteamJitter:      0.4,
		MoveThresholdY:   0.5,
		MoveThresholdXZ:  0.3,
		MomentumRetain:   0.94,
		HailFriction:     0.9,
		PressureForce:    0.6,
		MaxPressure:      10,
		HailChance:       0.01,
		SpawnArea:        24,
		SpawnAltitude:    30,
	}
}

// SpawnInterval is the number of ticks between weather spawns at a given
// precipitation intensity.
func SpawnInterval(intensity float64) int {
	n := 15 - int(intensity/8)
	if n < 1 {
		n = 1
	}
	return n
}
