package voxel

// Temperature bands driving every phase change (°C).
const (
	FreezeC = 0
	HailC   = 15
	BoilC   = 100
)

func Freezing(c float64) bool { return c <= FreezeC }
func HailBand(c float64) bool { return c > FreezeC && c < HailC }
func Boiling(c float64) bool  { return c >= BoilC }

type transition struct {
	from Type
	to   Type
	// roll is only drawn for probabilistic rules so a seeded source stays
	// aligned with the rules that actually fire.
	when func(c float64, roll func() float64, hailChance float64) bool
}

// Evaluated in order; the first matching rule for a type wins.
var transitions = []transition{
	{from: Snow, to: Water, when: func(c float64, _ func() float64, _ float64) bool { return c > FreezeC }},
	{from: Hail, to: Water, when: func(c float64, _ func() float64, _ float64) bool { return c > HailC }},
	{from: Water, to: Snow, when: func(c float64, _ func() float64, _ float64) bool { return Freezing(c) }},
	{from: Water, to: Hail, when: func(c float64, roll func() float64, p float64) bool { return HailBand(c) && roll() < p }},
	{from: Water, to: Steam, when: func(c float64, _ func() float64, _ float64) bool { return Boiling(c) }},
	{from: Steam, to: Water, when: func(c float64, _ func() float64, _ float64) bool { return !Boiling(c) }},
}

// Next applies one step of the phase table. Solid never changes.
func (t Type) Next(celsius float64, roll func() float64, hailChance float64) Type {
	for _, tr := range transitions {
		if tr.from != t {
			continue
		}
		if tr.when(celsius, roll, hailChance) {
			return tr.to
		}
	}
	return t
}

// Settle applies Next until the phase stops changing, so a snow voxel dropped
// into boiling air ends the tick as steam rather than water. The table has no
// cycles at a fixed temperature; the bound is a guard.
func (t Type) Settle(celsius float64, roll func() float64, hailChance float64) Type {
	for i := 0; i < len(typeNames); i++ {
		n := t.Next(celsius, roll, hailChance)
		if n == t {
			break
		}
		t = n
	}
	return t
}
