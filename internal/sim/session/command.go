package session

import (
	"fmt"

	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/voxel"
)

// Command is one engine command as queued into a session.
type Command struct {
	Op      string
	Value   float64
	Enabled bool
	Scene   string
	Width   int
	Height  int
	Voxels  []voxel.Data

	// Reply, when set, receives the result without blocking the loop; give
	// it a buffer of one.
	Reply chan<- Result
}

type Result struct {
	Accepted bool
	Code     string
	Message  string
}

func reject(code, msg string) Result { return Result{Code: code, Message: msg} }
func ignored(msg string) Result      { return Result{Message: msg} }

// CommandFromMsg converts a CMD message. Voxels are decoded from the export
// format; the schema check has already happened at the transport.
func CommandFromMsg(m protocol.CmdMsg) (Command, error) {
	cmd := Command{
		Op:      m.Op,
		Value:   m.Value,
		Enabled: m.Enabled,
		Scene:   m.Scene,
		Width:   m.Width,
		Height:  m.Height,
	}
	if len(m.Voxels) > 0 {
		data, err := protocol.ToData(m.Voxels)
		if err != nil {
			return cmd, fmt.Errorf("cmd voxels: %w", err)
		}
		cmd.Voxels = data
	}
	return cmd, nil
}
