package term

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/go-gl/mathgl/mgl64"

	"voxelstorm.ai/internal/sim/render"
	"voxelstorm.ai/internal/sim/voxel"
)

func newScreen(t *testing.T) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatal(err)
	}
	screen.SetSize(80, 25)
	t.Cleanup(screen.Fini)
	return screen
}

func frameOf(ins ...render.Instance) *render.Frame {
	return &render.Frame{Seq: 7, Mode: "FLUID", Visible: len(ins), Capacity: 100, Instances: ins}
}

func TestProject(t *testing.T) {
	r := NewRenderer(newScreen(t), -12)
	r.SpanY = 24
	col, row, ok := r.Project(0, -12, 80, 25)
	if !ok || col != 40 || row != 23 {
		t.Fatalf("floor origin at col=%d row=%d ok=%v", col, row, ok)
	}
	col, row, ok = r.Project(3, -2, 80, 25)
	if !ok || col != 46 || row != 13 {
		t.Fatalf("col=%d row=%d ok=%v", col, row, ok)
	}
	if _, _, ok := r.Project(0, 100, 80, 25); ok {
		t.Fatalf("above the view should not project")
	}
}

func TestRender_NearestZWins(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, -12)
	r.SpanY = 24

	far := render.Instance{Pos: mgl64.Vec3{0, -12, -5}, Color: voxel.ColorWater}
	near := render.Instance{Pos: mgl64.Vec3{0, -12, 5}, Color: voxel.ColorSnow}
	r.Render(frameOf(near, far))

	mainc, _, style, _ := screen.GetContent(40, 23)
	if mainc != glyph {
		t.Fatalf("cell rune %q", mainc)
	}
	fg, _, _ := style.Decompose()
	if fg != toTcell(voxel.ColorSnow) {
		t.Fatalf("nearest voxel should win, fg=%v", fg)
	}
}

func TestRender_StatusLine(t *testing.T) {
	screen := newScreen(t)
	r := NewRenderer(screen, -12)
	r.OnState("FLUID")
	r.SetStatus("20.0C")
	r.Render(frameOf(render.Instance{Pos: mgl64.Vec3{1000, 0, 0}}))

	var b strings.Builder
	for x := 0; x < 80; x++ {
		c, _, _, _ := screen.GetContent(x, 24)
		b.WriteRune(c)
	}
	line := b.String()
	if !strings.Contains(line, "FLUID") || !strings.Contains(line, "1/100") || !strings.Contains(line, "20.0C") {
		t.Fatalf("status %q", line)
	}
}
