package engine

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"

	"voxelstorm.ai/internal/sim/fluid"
	"voxelstorm.ai/internal/sim/scenes"
	"voxelstorm.ai/internal/sim/tuning"
	"voxelstorm.ai/internal/sim/voxel"
)

type recorder struct {
	modes  []Mode
	counts []int
	ticks  []fluid.Stats
}

func newTestEngine(t *testing.T) (*Engine, *clock.Mock, *recorder) {
	t.Helper()
	tun := tuning.Defaults()
	tun.Seed = 11
	mock := clock.NewMock()
	e := New(tun, mock)
	rec := &recorder{}
	e.OnStateChange = func(m Mode) { rec.modes = append(rec.modes, m) }
	e.OnCountChange = func(n int) { rec.counts = append(rec.counts, n) }
	e.OnTick = func(s fluid.Stats) { rec.ticks = append(rec.ticks, s) }
	return e, mock, rec
}

func loadScene(t *testing.T, e *Engine, name string) []voxel.Data {
	t.Helper()
	data, err := scenes.Build(name, e.Tuning().FloorY)
	if err != nil {
		t.Fatal(err)
	}
	e.Load(data)
	return data
}

func TestLoad_NotifiesAndFixesCapacity(t *testing.T) {
	e, _, rec := newTestEngine(t)
	data := loadScene(t, e, "watertank")

	if e.Mode() != Stable || len(rec.modes) != 1 || rec.modes[0] != Stable {
		t.Fatalf("modes=%v", rec.modes)
	}
	if len(rec.counts) != 1 || rec.counts[0] != len(data) {
		t.Fatalf("counts=%v want [%d]", rec.counts, len(data))
	}
	if e.Capacity() != 30000 {
		t.Fatalf("capacity=%d", e.Capacity())
	}
	for i, v := range e.Store().All() {
		if v.Type != voxel.Solid {
			continue
		}
		if v.Color != data[i].Color {
			t.Fatalf("glass voxel %d should keep its colour", i)
		}
	}

	f := e.Frame(16 * time.Millisecond)
	if f == nil || f.Visible != len(data) || f.Mode != "STABLE" {
		t.Fatalf("first frame after load: %+v", f)
	}
	if e.Frame(16*time.Millisecond) != nil {
		t.Fatalf("idle STABLE frame should not redraw")
	}
	e.SetAutoRotate(true)
	if e.Frame(16*time.Millisecond) == nil {
		t.Fatalf("auto-rotate should redraw every frame")
	}
}

func TestLoad_JittersSolidLightness(t *testing.T) {
	e, _, _ := newTestEngine(t)
	data := loadScene(t, e, "eagle")
	changed := 0
	for i, v := range e.Store().All() {
		_, _, l0 := data[i].Color.Hsl()
		_, _, l1 := v.Color.Hsl()
		if math.Abs(l1-l0) > jitterSpread/2+1e-9 {
			t.Fatalf("voxel %d lightness moved %v", i, l1-l0)
		}
		if v.Color != data[i].Color {
			changed++
		}
	}
	if changed == 0 {
		t.Fatalf("no solid colour was jittered")
	}
}

func TestDismantle_OnlyFromStableAndIdempotent(t *testing.T) {
	e, _, rec := newTestEngine(t)
	loadScene(t, e, "cat")

	if !e.Dismantle() {
		t.Fatalf("dismantle from STABLE refused")
	}
	snap := make([][2]mgl64.Vec3, e.Count())
	for i, v := range e.Store().All() {
		snap[i] = [2]mgl64.Vec3{v.Pos, v.Vel}
	}
	if e.Dismantle() {
		t.Fatalf("second dismantle should be a no-op")
	}
	for i, v := range e.Store().All() {
		if v.Pos != snap[i][0] || v.Vel != snap[i][1] {
			t.Fatalf("voxel %d disturbed by repeated dismantle", i)
		}
	}
	if got := rec.modes[len(rec.modes)-1]; got != Dismantling || len(rec.modes) != 2 {
		t.Fatalf("modes=%v", rec.modes)
	}

	e.ToggleFluid()
	if e.Dismantle() {
		t.Fatalf("dismantle from FLUID should be refused")
	}
}

func TestRebuild_AssemblesAndReturnsToStable(t *testing.T) {
	e, mock, rec := newTestEngine(t)
	data := loadScene(t, e, "eagle")
	e.Dismantle()
	for i := 0; i < 30; i++ {
		mock.Add(16 * time.Millisecond)
		e.Frame(16 * time.Millisecond)
	}

	if !e.Rebuild(data) {
		t.Fatalf("rebuild refused")
	}
	if e.Rebuild(data) {
		t.Fatalf("rebuild while rebuilding should be a no-op")
	}

	for i := 0; e.Mode() == Rebuilding; i++ {
		if i > 2000 {
			t.Fatalf("rebuild never finished")
		}
		mock.Add(16 * time.Millisecond)
		e.Frame(16 * time.Millisecond)
	}
	if rec.modes[len(rec.modes)-1] != Stable {
		t.Fatalf("modes=%v", rec.modes)
	}

	want := map[voxel.Vec3i]bool{}
	for _, d := range data {
		want[voxel.Round(d.Pos())] = true
	}
	for _, v := range e.Store().All() {
		if !want[v.Grid] || v.Pos != v.Grid.Vec3() {
			t.Fatalf("voxel %d ended at %v (grid %+v)", v.ID, v.Pos, v.Grid)
		}
		delete(want, v.Grid)
	}
	if len(want) != 0 {
		t.Fatalf("%d destinations left empty", len(want))
	}
}

func TestRebuild_WaitsForWave(t *testing.T) {
	e, mock, _ := newTestEngine(t)
	e.Load([]voxel.Data{{X: 0, Y: 18, Z: 0, Color: voxel.ColorSnow}})
	e.Rebuild([]voxel.Data{{X: 5, Y: 18, Z: 0, Color: voxel.ColorSnow}})

	mock.Add(time.Second)
	e.Frame(16 * time.Millisecond)
	if v := e.Store().Get(0); v.Pos[0] != 0 {
		t.Fatalf("voxel started before its 1.6s delay: %v", v.Pos)
	}
	mock.Add(time.Second)
	e.Frame(16 * time.Millisecond)
	if v := e.Store().Get(0); v.Pos[0] == 0 {
		t.Fatalf("voxel should move once the delay passed")
	}
}

func TestToggleFluid_EnterAndLeave(t *testing.T) {
	e, _, rec := newTestEngine(t)
	loadScene(t, e, "watertank")
	for _, v := range e.Store().All() {
		v.Vel = mgl64.Vec3{1, 1, 1}
		v.Pressure = 4
	}

	e.ToggleFluid()
	if e.Mode() != Fluid {
		t.Fatalf("mode=%s", e.Mode())
	}
	for _, v := range e.Store().All() {
		if v.PrevGrid != v.Grid || v.Pressure != 0 {
			t.Fatalf("voxel %d not reset on entry", v.ID)
		}
		if v.Type.IsFluid() && v.Vel != (mgl64.Vec3{}) {
			t.Fatalf("fluid voxel %d kept velocity", v.ID)
		}
		if !v.Type.IsFluid() && v.Vel != (mgl64.Vec3{1, 1, 1}) {
			t.Fatalf("solid voxel %d velocity touched", v.ID)
		}
	}

	f := e.Frame(100 * time.Millisecond)
	if len(rec.ticks) != 3 {
		t.Fatalf("100ms at 30Hz should run 3 ticks, ran %d", len(rec.ticks))
	}
	if f == nil || f.Alpha < 0 || f.Alpha >= 1 || f.Mode != "FLUID" {
		t.Fatalf("fluid frame %+v", f)
	}

	e.ToggleFluid()
	if e.Mode() != Stable {
		t.Fatalf("mode=%s", e.Mode())
	}
	for _, v := range e.Store().All() {
		if v.Pos != v.Grid.Vec3() {
			t.Fatalf("voxel %d not snapped on exit: %v vs %+v", v.ID, v.Pos, v.Grid)
		}
	}
}

func TestFluid_SettlesOnFloor(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Load([]voxel.Data{{X: 0, Y: 5, Z: 0, Color: voxel.ColorWater, Type: voxel.Water}})
	e.ToggleFluid()
	tick := e.Scheduler().Tick()
	v := e.Store().Get(0)
	floor := e.Tuning().FloorY

	for i := 0; i < 100 && !(v.Grid.Y == floor+1 && v.Vel[1] == 0); i++ {
		e.Frame(tick)
	}
	if v.Grid.Y != floor+1 || v.Vel[1] != 0 {
		t.Fatalf("grid=%+v vel=%v", v.Grid, v.Vel)
	}
}

func TestFluid_BoilingAndWeatherCount(t *testing.T) {
	e, _, rec := newTestEngine(t)
	loadScene(t, e, "terrain")
	base := e.Count()
	e.ToggleFluid()
	tick := e.Scheduler().Tick()

	e.SetPrecipitation(100)
	for i := 0; i < 30; i++ {
		e.Frame(tick)
	}
	if e.Count() <= base {
		t.Fatalf("weather should have spawned voxels, count=%d", e.Count())
	}
	if rec.counts[len(rec.counts)-1] != e.Count() {
		t.Fatalf("count notifications %v do not end at %d", rec.counts, e.Count())
	}

	e.SetTemperature(100)
	e.Frame(tick)
	for _, v := range e.Store().All() {
		if v.Type.IsFluid() && v.Type != voxel.Steam {
			t.Fatalf("voxel %d is %s after a boiling tick", v.ID, v.Type)
		}
	}
}

func TestExportAndUniqueColors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Load([]voxel.Data{
		{X: 0, Y: 0, Z: 0, Color: voxel.ColorGlass},
		{X: 1, Y: 0, Z: 0, Color: voxel.ColorWater, Type: voxel.Water},
		{X: 2, Y: 0, Z: 0, Color: voxel.ColorWater, Type: voxel.Water},
	})
	ex := e.Export()
	if len(ex) != 3 || ex[1].Type != "water" || ex[2].X != 2 || ex[0].C != "#e0f2fe" {
		t.Fatalf("export %+v", ex)
	}
	got := e.UniqueColors()
	if len(got) != 2 || got[0] != "#e0f2fe" || got[1] != "#3b82f6" {
		t.Fatalf("unique colours %v", got)
	}
}

func TestClose(t *testing.T) {
	e, _, rec := newTestEngine(t)
	loadScene(t, e, "rabbit")
	e.Close()
	if f := e.Frame(time.Second); f != nil {
		t.Fatalf("frame after close")
	}
	if e.Dismantle() || e.Rebuild(nil) {
		t.Fatalf("commands after close should be ignored")
	}
	e.ToggleFluid()
	if e.Mode() != Stable || len(rec.modes) != 1 {
		t.Fatalf("modes after close %v", rec.modes)
	}
	if !e.Scheduler().Stopped() {
		t.Fatalf("scheduler not stopped")
	}
}
