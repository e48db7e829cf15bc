// Package term draws frames as a side view on a terminal screen.
package term

import (
	"fmt"
	"math"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"

	"voxelstorm.ai/internal/sim/render"
)

const glyph = '█'

// Renderer projects instances onto the x/y plane: x to columns, y to rows.
// Where several voxels share a cell the one with the greatest z is drawn.
// The bottom row is a status line.
type Renderer struct {
	screen tcell.Screen

	floorY float64
	// SpanY is the world height mapped onto the drawable rows.
	SpanY float64

	mu     sync.Mutex
	mode   string
	count  int
	status string

	depth []float64
}

func NewRenderer(screen tcell.Screen, floorY int) *Renderer {
	return &Renderer{screen: screen, floorY: float64(floorY), SpanY: 48, mode: "STABLE"}
}

func (r *Renderer) OnState(mode string) {
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
}

func (r *Renderer) OnCount(n int) {
	r.mu.Lock()
	r.count = n
	r.mu.Unlock()
}

// SetStatus replaces the free-form part of the status line.
func (r *Renderer) SetStatus(s string) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Project maps a world position to a screen cell for a w×h screen.
func (r *Renderer) Project(x, y float64, w, h int) (col, row int, ok bool) {
	rows := h - 1
	if w <= 0 || rows <= 0 {
		return 0, 0, false
	}
	scale := float64(rows) / r.SpanY
	col = w/2 + int(math.Round(x*scale*2))
	row = rows - 1 - int(math.Round((y-r.floorY)*scale))
	return col, row, col >= 0 && col < w && row >= 0 && row < rows
}

func (r *Renderer) Render(f *render.Frame) {
	w, h := r.screen.Size()
	r.screen.Clear()

	if n := w * h; cap(r.depth) < n {
		r.depth = make([]float64, n)
	} else {
		r.depth = r.depth[:n]
	}
	for i := range r.depth {
		r.depth[i] = math.Inf(-1)
	}

	for _, in := range f.Instances[:f.Visible] {
		col, row, ok := r.Project(in.Pos[0], in.Pos[1], w, h)
		if !ok {
			continue
		}
		i := row*w + col
		if in.Pos[2] <= r.depth[i] {
			continue
		}
		r.depth[i] = in.Pos[2]
		r.screen.SetContent(col, row, glyph, nil, tcell.StyleDefault.Foreground(toTcell(in.Color)))
	}

	r.mu.Lock()
	line := fmt.Sprintf(" %s  %d/%d voxels  frame %d", r.mode, f.Visible, f.Capacity, f.Seq)
	if r.status != "" {
		line += "  " + r.status
	}
	r.mu.Unlock()
	drawText(r.screen, 0, h-1, w, line, tcell.StyleDefault.Reverse(true))

	r.screen.Show()
}

func toTcell(c colorful.Color) tcell.Color {
	cr, cg, cb := c.Clamped().RGB255()
	return tcell.NewRGBColor(int32(cr), int32(cg), int32(cb))
}

func drawText(s tcell.Screen, x, y, w int, text string, style tcell.Style) {
	col := x
	for _, ch := range text {
		if col >= w {
			return
		}
		s.SetContent(col, y, ch, nil, style)
		col++
	}
	for ; col < w; col++ {
		s.SetContent(col, y, ' ', nil, style)
	}
}
