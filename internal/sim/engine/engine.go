// Package engine owns the voxel population and drives it through the four
// simulation modes one rendered frame at a time.
package engine

import (
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/samber/lo"

	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/dismantle"
	"voxelstorm.ai/internal/sim/fluid"
	"voxelstorm.ai/internal/sim/rebuild"
	"voxelstorm.ai/internal/sim/render"
	"voxelstorm.ai/internal/sim/scheduler"
	"voxelstorm.ai/internal/sim/tuning"
	"voxelstorm.ai/internal/sim/voxel"
)

// Mode is the engine's single active state.
type Mode uint8

const (
	Stable Mode = iota
	Dismantling
	Rebuilding
	Fluid
)

var modeNames = [...]string{
	Stable:      "STABLE",
	Dismantling: "DISMANTLING",
	Rebuilding:  "REBUILDING",
	Fluid:       "FLUID",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "UNKNOWN"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// jitterSpread is the full width of the lightness offset given to solid
// colours on load.
const jitterSpread = 0.1

// Engine is single-writer: every method must be called from the goroutine
// that drives Frame.
type Engine struct {
	tun  tuning.Tuning
	clk  clock.Clock
	rng  *rand.Rand
	seed uint64

	store *voxel.Store
	sim   *fluid.Simulator
	sched *scheduler.FixedStep

	mode         Mode
	plan         *rebuild.Plan
	rebuildStart time.Time

	autoRotate bool
	dirty      bool
	closed     bool
	started    time.Time
	lastCount  int
	frame      render.Frame

	OnStateChange func(Mode)
	OnCountChange func(int)
	OnTick        func(fluid.Stats)
}

// New builds an empty engine. A zero tuning seed seeds from the clock.
func New(t tuning.Tuning, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	seed := t.Seed
	if seed == 0 {
		seed = uint64(clk.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	e := &Engine{
		tun:     t,
		clk:     clk,
		rng:     rng,
		seed:    seed,
		store:   voxel.NewStore(t.Capacity(0)),
		sim:     fluid.NewSimulator(t.FluidParams(), rng),
		sched:   scheduler.NewFixedStep(t.TickRateHz, t.MaxTickDebt),
		started: clk.Now(),
	}
	e.store.Temperature = t.Ambient.Temperature
	e.store.Precipitation = t.Ambient.Precipitation
	return e
}

func (e *Engine) Mode() Mode                      { return e.mode }
func (e *Engine) Store() *voxel.Store             { return e.store }
func (e *Engine) Tuning() tuning.Tuning           { return e.tun }
func (e *Engine) Count() int                      { return e.store.Len() }
func (e *Engine) Capacity() int                   { return e.store.Capacity() }
func (e *Engine) Ticks() uint64                   { return e.sim.Ticks() }
func (e *Engine) Seed() uint64                    { return e.seed }
func (e *Engine) Temperature() float64            { return e.store.Temperature }
func (e *Engine) Precipitation() float64          { return e.store.Precipitation }
func (e *Engine) AutoRotate() bool                { return e.autoRotate }
func (e *Engine) Closed() bool                    { return e.closed }
func (e *Engine) Scheduler() *scheduler.FixedStep { return e.sched }

func (e *Engine) setMode(m Mode) {
	e.mode = m
	if e.OnStateChange != nil {
		e.OnStateChange(m)
	}
}

func (e *Engine) notifyCount() {
	e.lastCount = e.store.Len()
	if e.OnCountChange != nil {
		e.OnCountChange(e.lastCount)
	}
}

// Load replaces the population. Solid colours other than glass get a small
// random lightness offset. The engine returns to STABLE.
func (e *Engine) Load(data []voxel.Data) {
	if e.closed {
		return
	}
	vs := voxel.FromData(data)
	glass := voxel.ToHex(voxel.ColorGlass)
	for _, v := range vs {
		if v.Type == voxel.Solid && voxel.ToHex(v.Color) != glass {
			v.Color = voxel.JitterLightness(v.Color, e.rng, jitterSpread)
		}
	}
	e.store.Reset(vs, e.tun.Capacity(len(vs)))
	e.frame.Capacity = e.store.Capacity()
	e.plan = nil
	e.sched.Reset()
	e.dirty = true

	e.notifyCount()
	e.setMode(Stable)
}

// Dismantle scatters the structure. It only acts from STABLE.
func (e *Engine) Dismantle() bool {
	if e.closed || e.mode != Stable {
		return false
	}
	dismantle.Scatter(e.store.All(), e.tun.DismantleParams(), e.rng)
	e.setMode(Dismantling)
	return true
}

// Rebuild matches the live population to a silhouette and starts the
// assembly wave. It is a no-op while already rebuilding.
func (e *Engine) Rebuild(targets []voxel.Data) bool {
	if e.closed || e.mode == Rebuilding {
		return false
	}
	if e.mode == Fluid {
		e.snapAll()
	}
	e.plan = rebuild.Match(e.store.All(), targets, e.tun.RebuildParams())
	e.rebuildStart = e.clk.Now()
	e.setMode(Rebuilding)
	return true
}

// ToggleFluid enters FLUID from any other mode, or leaves it for STABLE.
func (e *Engine) ToggleFluid() {
	if e.closed {
		return
	}
	if e.mode == Fluid {
		e.snapAll()
		e.setMode(Stable)
		return
	}
	for _, v := range e.store.All() {
		v.PrevGrid = v.Grid
		v.Pressure = 0
		if v.Type.IsFluid() {
			v.Vel = mgl64.Vec3{}
		}
	}
	e.plan = nil
	e.sched.Reset()
	e.setMode(Fluid)
}

func (e *Engine) snapAll() {
	for _, v := range e.store.All() {
		v.SnapToGrid()
	}
}

func (e *Engine) SetTemperature(c float64)   { e.store.Temperature = c }
func (e *Engine) SetPrecipitation(p float64) { e.store.Precipitation = p }

func (e *Engine) SetAutoRotate(enabled bool) {
	e.autoRotate = enabled
	e.dirty = true
}

// Resize records the viewport size reported by the host.
func (e *Engine) Resize(width, height int) {
	e.frame.Width, e.frame.Height = width, height
	e.dirty = true
}

// Close stops the scheduler; later commands and frames do nothing.
func (e *Engine) Close() {
	e.sched.Stop()
	e.closed = true
}

// Frame advances the active mode by dt of wall time and returns the frame to
// draw, or nil when nothing changed.
func (e *Engine) Frame(dt time.Duration) *render.Frame {
	if e.closed {
		return nil
	}
	alpha := 0.0
	switch e.mode {
	case Fluid:
		_, alpha = e.sched.Advance(dt, e.tick)
	case Dismantling:
		e.sched.Reset()
		dismantle.Step(e.store.All(), e.tun.DismantleParams())
	case Rebuilding:
		e.sched.Reset()
		if e.plan.Step(e.store.All(), e.clk.Since(e.rebuildStart)) {
			e.plan = nil
			e.setMode(Stable)
		}
	default:
		e.sched.Reset()
		if !e.autoRotate && !e.dirty {
			return nil
		}
	}
	e.draw(alpha)
	return &e.frame
}

func (e *Engine) tick() {
	stats := e.sim.Step(e.store)
	if e.OnTick != nil {
		e.OnTick(stats)
	}
}

func (e *Engine) draw(alpha float64) {
	if e.store.Len() != e.lastCount {
		e.notifyCount()
	}
	e.frame.Seq++
	e.frame.Mode = e.mode.String()
	e.frame.Capacity = e.store.Capacity()
	e.frame.Fill(e.store.All(), render.Env{
		Fluid:       e.mode == Fluid,
		Alpha:       alpha,
		Temperature: e.store.Temperature,
		Time:        e.clk.Since(e.started),
		Rand:        e.rng.Float64,
	})
	e.dirty = false
}

// Export snapshots the current visual state in the shareable layout format.
func (e *Engine) Export() []protocol.ExportVoxel {
	return protocol.Export(e.store.All())
}

// UniqueColors lists the distinct voxel colours in first-seen order.
func (e *Engine) UniqueColors() []string {
	return lo.Uniq(lo.Map(e.store.All(), func(v *voxel.Voxel, _ int) string {
		return v.Color.Clamped().Hex()
	}))
}
