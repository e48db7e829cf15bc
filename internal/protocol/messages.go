package protocol

import (
	"voxelstorm.ai/internal/sim/render"
)

// SUBSCRIBE (client -> server)
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// EveryNFrames thins the frame stream; 0 and 1 both mean every frame.
	EveryNFrames int  `json:"every_n_frames,omitempty"`
	Instances    bool `json:"instances,omitempty"`
}

// FRAME (server -> client)
type FrameMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Seq             uint64         `json:"seq"`
	Mode            string         `json:"mode"`
	Alpha           float64        `json:"alpha"`
	Visible         int            `json:"visible"`
	Capacity        int            `json:"capacity"`
	Instances       []InstanceWire `json:"instances,omitempty"`
}

type InstanceWire struct {
	ID    int        `json:"id"`
	Type  string     `json:"type"`
	Pos   [3]float64 `json:"pos"`
	Rot   [3]float64 `json:"rot"`
	Scale [3]float64 `json:"scale"`
	Color string     `json:"c"`
}

// NewFrameMsg copies a frame into wire form. Instances are only included
// when asked for; the header alone is enough for status displays.
func NewFrameMsg(f *render.Frame, withInstances bool) FrameMsg {
	m := FrameMsg{
		Type:            TypeFrame,
		ProtocolVersion: Version,
		Seq:             f.Seq,
		Mode:            f.Mode,
		Alpha:           f.Alpha,
		Visible:         f.Visible,
		Capacity:        f.Capacity,
	}
	if !withInstances {
		return m
	}
	m.Instances = make([]InstanceWire, len(f.Instances))
	for i, in := range f.Instances {
		m.Instances[i] = InstanceWire{
			ID:    in.ID,
			Type:  in.Type.String(),
			Pos:   [3]float64{round2(in.Pos[0]), round2(in.Pos[1]), round2(in.Pos[2])},
			Rot:   [3]float64{round2(in.Rot[0]), round2(in.Rot[1]), round2(in.Rot[2])},
			Scale: [3]float64{round2(in.Scale[0]), round2(in.Scale[1]), round2(in.Scale[2])},
			Color: in.Color.Clamped().Hex(),
		}
	}
	return m
}

// STATE (server -> client)
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Mode            string `json:"mode"`
}

// COUNT (server -> client)
type CountMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Count           int    `json:"count"`
}

// Command ops carried by CMD.
const (
	OpLoadScene        = "LOAD_SCENE"
	OpLoad             = "LOAD"
	OpDismantle        = "DISMANTLE"
	OpRebuild          = "REBUILD"
	OpToggleFluid      = "TOGGLE_FLUID"
	OpSetTemperature   = "SET_TEMPERATURE"
	OpSetPrecipitation = "SET_PRECIPITATION"
	OpSetAutoRotate    = "SET_AUTO_ROTATE"
	OpResize           = "RESIZE"
)

// CMD (client -> server)
type CmdMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	ID              string        `json:"id,omitempty"`
	Op              string        `json:"op"`
	Value           float64       `json:"value,omitempty"`
	Enabled         bool          `json:"enabled,omitempty"`
	Scene           string        `json:"scene,omitempty"`
	Width           int           `json:"width,omitempty"`
	Height          int           `json:"height,omitempty"`
	Voxels          []ExportVoxel `json:"voxels,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Ambient limits enforced at the command boundary.
const (
	MinTemperature   = -50
	MaxTemperature   = 150
	MinPrecipitation = 0
	MaxPrecipitation = 100
)

func ClampTemperature(c float64) float64 {
	return min(max(c, MinTemperature), MaxTemperature)
}

func ClampPrecipitation(p float64) float64 {
	return min(max(p, MinPrecipitation), MaxPrecipitation)
}

// BootstrapResponse is served at GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	Mode            string    `json:"mode"`
	Count           int       `json:"count"`
	Scenes          []string  `json:"scenes"`
	Ops             []string  `json:"ops"`
	Params          SimParams `json:"params"`
}

type SimParams struct {
	TickRateHz       float64    `json:"tick_rate_hz"`
	FrameRateHz      float64    `json:"frame_rate_hz"`
	FloorY           int        `json:"floor_y"`
	TemperatureRange [2]float64 `json:"temperature_range"`
	PrecipRange      [2]float64 `json:"precipitation_range"`
}

// Ops lists every CMD op in a stable order.
func Ops() []string {
	return []string{
		OpLoadScene, OpLoad, OpDismantle, OpRebuild, OpToggleFluid,
		OpSetTemperature, OpSetPrecipitation, OpSetAutoRotate, OpResize,
	}
}
