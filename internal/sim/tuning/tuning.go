package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voxelstorm.ai/internal/sim/dismantle"
	"voxelstorm.ai/internal/sim/fluid"
	"voxelstorm.ai/internal/sim/rebuild"
)

type Tuning struct {
	TickRateHz  float64 `yaml:"tick_rate_hz"`
	FrameRateHz float64 `yaml:"frame_rate_hz"`
	MaxTickDebt int     `yaml:"max_tick_debt"`
	Seed        uint64  `yaml:"seed"`

	FloorY           int     `yaml:"floor_y"`
	Gravity          float64 `yaml:"gravity"`
	TerminalVelocity float64 `yaml:"terminal_velocity"`
	MomentumRetain   float64 `yaml:"momentum_retain"`
	PressureForce    float64 `yaml:"pressure_force"`
	MaxPressure      int     `yaml:"max_pressure"`
	HailChance       float64 `yaml:"hail_chance"`

	Weather   Weather   `yaml:"weather"`
	Rebuild   Rebuild   `yaml:"rebuild"`
	Dismantle Dismantle `yaml:"dismantle"`
	Render    Render    `yaml:"render"`
	Ambient   Ambient   `yaml:"ambient"`
}

type Weather struct {
	SpawnArea     int `yaml:"spawn_area"`
	SpawnAltitude int `yaml:"spawn_altitude"`
}

type Rebuild struct {
	Blend      float64 `yaml:"blend"`
	WaveBand   float64 `yaml:"wave_band"`
	WaveStepMs int     `yaml:"wave_step_ms"`
}

type Dismantle struct {
	Gravity float64 `yaml:"gravity"`
}

type Render struct {
	CapacityHeadroom int `yaml:"capacity_headroom"`
	MinCapacity      int `yaml:"min_capacity"`
}

type Ambient struct {
	Temperature   float64 `yaml:"temperature"`
	Precipitation float64 `yaml:"precipitation"`
}

// Defaults returns the built-in values every file is decoded over.
func Defaults() Tuning {
	fp := fluid.DefaultParams()
	rp := rebuild.DefaultParams()
	dp := dismantle.DefaultParams()
	return Tuning{
		TickRateHz:  30,
		FrameRateHz: 60,
		MaxTickDebt: 8,

		FloorY:           fp.FloorY,
		Gravity:          fp.Gravity,
		TerminalVelocity: fp.TerminalVelocity,
		MomentumRetain:   fp.MomentumRetain,
		PressureForce:    fp.PressureForce,
		MaxPressure:      fp.MaxPressure,
		HailChance:       fp.HailChance,

		Weather: Weather{SpawnArea: fp.SpawnArea, SpawnAltitude: fp.SpawnAltitude},
		Rebuild: Rebuild{
			Blend:      rp.Blend,
			WaveBand:   rp.WaveBand,
			WaveStepMs: int(rp.WaveStep / time.Millisecond),
		},
		Dismantle: Dismantle{Gravity: dp.Gravity},
		Render:    Render{CapacityHeadroom: 15000, MinCapacity: 30000},
		Ambient:   Ambient{Temperature: 20},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be > 0, got %v", t.TickRateHz))
	}
	if t.FrameRateHz <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate_hz must be > 0, got %v", t.FrameRateHz))
	}
	if t.MaxPressure < 0 {
		errs = append(errs, fmt.Errorf("max_pressure must be >= 0, got %d", t.MaxPressure))
	}
	if t.HailChance < 0 || t.HailChance > 1 {
		errs = append(errs, fmt.Errorf("hail_chance must be in [0,1], got %v", t.HailChance))
	}
	if t.Weather.SpawnArea <= 0 {
		errs = append(errs, fmt.Errorf("weather.spawn_area must be > 0, got %d", t.Weather.SpawnArea))
	}
	if t.Rebuild.Blend <= 0 || t.Rebuild.Blend > 1 {
		errs = append(errs, fmt.Errorf("rebuild.blend must be in (0,1], got %v", t.Rebuild.Blend))
	}
	if t.Rebuild.WaveBand <= 0 {
		errs = append(errs, fmt.Errorf("rebuild.wave_band must be > 0, got %v", t.Rebuild.WaveBand))
	}
	if t.Render.MinCapacity < 0 || t.Render.CapacityHeadroom < 0 {
		errs = append(errs, errors.New("render capacities must be >= 0"))
	}
	return errors.Join(errs...)
}

func (t Tuning) FluidParams() fluid.Params {
	p := fluid.DefaultParams()
	p.FloorY = t.FloorY
	p.Gravity = t.Gravity
	p.TerminalVelocity = t.TerminalVelocity
	p.MomentumRetain = t.MomentumRetain
	p.PressureForce = t.PressureForce
	p.MaxPressure = t.MaxPressure
	p.HailChance = t.HailChance
	p.SpawnArea = t.Weather.SpawnArea
	p.SpawnAltitude = t.Weather.SpawnAltitude
	return p
}

func (t Tuning) RebuildParams() rebuild.Params {
	return rebuild.Params{
		FloorY:   float64(t.FloorY),
		Blend:    t.Rebuild.Blend,
		WaveBand: t.Rebuild.WaveBand,
		WaveStep: time.Duration(t.Rebuild.WaveStepMs) * time.Millisecond,
	}
}

func (t Tuning) DismantleParams() dismantle.Params {
	p := dismantle.DefaultParams()
	p.FloorY = float64(t.FloorY)
	p.Gravity = t.Dismantle.Gravity
	return p
}

// Capacity is the fixed render capacity for a layout of n voxels.
func (t Tuning) Capacity(n int) int {
	return max(n+t.Render.CapacityHeadroom, t.Render.MinCapacity)
}

func (t Tuning) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / t.FrameRateHz)
}
