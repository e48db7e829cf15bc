package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/session"
)

const (
	tempStep   = 5
	precipStep = 10
)

// controls tracks the values the keyboard steps so the status line can show
// them without reading engine state off the loop goroutine.
type controls struct {
	temp       float64
	precip     float64
	autoRotate bool

	scenes []string
	scene  int
}

// command maps a key press to a session command. quit is set for the exit
// keys; ok is false for keys with no binding.
func (c *controls) command(ev *tcell.EventKey) (cmd session.Command, ok, quit bool) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return cmd, false, true
	case tcell.KeyRune:
	default:
		return cmd, false, false
	}

	switch ev.Rune() {
	case 'q':
		return cmd, false, true
	case 'd':
		cmd.Op = protocol.OpDismantle
	case 'r':
		cmd.Op = protocol.OpRebuild
	case 'f':
		cmd.Op = protocol.OpToggleFluid
	case '+', '=':
		c.temp = protocol.ClampTemperature(c.temp + tempStep)
		cmd = session.Command{Op: protocol.OpSetTemperature, Value: c.temp}
	case '-', '_':
		c.temp = protocol.ClampTemperature(c.temp - tempStep)
		cmd = session.Command{Op: protocol.OpSetTemperature, Value: c.temp}
	case ']':
		c.precip = protocol.ClampPrecipitation(c.precip + precipStep)
		cmd = session.Command{Op: protocol.OpSetPrecipitation, Value: c.precip}
	case '[':
		c.precip = protocol.ClampPrecipitation(c.precip - precipStep)
		cmd = session.Command{Op: protocol.OpSetPrecipitation, Value: c.precip}
	case 'a':
		c.autoRotate = !c.autoRotate
		cmd = session.Command{Op: protocol.OpSetAutoRotate, Enabled: c.autoRotate}
	case 'n':
		if len(c.scenes) == 0 {
			return cmd, false, false
		}
		c.scene = (c.scene + 1) % len(c.scenes)
		cmd = session.Command{Op: protocol.OpLoadScene, Scene: c.scenes[c.scene]}
	default:
		return cmd, false, false
	}
	return cmd, true, false
}

func (c *controls) status() string {
	rot := "off"
	if c.autoRotate {
		rot = "on"
	}
	return fmt.Sprintf("%.0f°C  precip %.0f%%  rotate %s  [d]ismantle [r]ebuild [f]luid +/- temp [ ] precip [n]ext [q]uit",
		c.temp, c.precip, rot)
}
