package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"voxelstorm.ai/internal/sim/voxel"
)

// ExportVoxel is one record of the shareable layout format.
type ExportVoxel struct {
	ID   int     `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	C    string  `json:"c"`
	Type string  `json:"type,omitempty"`
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

// Export captures the current visual state of every voxel.
func Export(voxels []*voxel.Voxel) []ExportVoxel {
	out := make([]ExportVoxel, len(voxels))
	for i, v := range voxels {
		out[i] = ExportVoxel{
			ID:   i,
			X:    round2(v.Pos[0]),
			Y:    round2(v.Pos[1]),
			Z:    round2(v.Pos[2]),
			C:    v.Color.Clamped().Hex(),
			Type: v.Type.String(),
		}
	}
	return out
}

func MarshalExport(e []ExportVoxel) ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// ToData converts exported records back into layout input.
func ToData(e []ExportVoxel) ([]voxel.Data, error) {
	out := make([]voxel.Data, len(e))
	for i, r := range e {
		c, err := voxel.ParseHex(r.C)
		if err != nil {
			return nil, fmt.Errorf("voxel %d: %w", i, err)
		}
		t, err := voxel.ParseType(r.Type)
		if err != nil {
			return nil, fmt.Errorf("voxel %d: %w", i, err)
		}
		out[i] = voxel.Data{X: r.X, Y: r.Y, Z: r.Z, Color: c, Type: t}
	}
	return out, nil
}

// ParseLayout validates a layout document against the layout schema and
// decodes it.
func ParseLayout(b []byte) ([]voxel.Data, error) {
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	if err := ValidateLayout(doc); err != nil {
		return nil, err
	}
	var recs []ExportVoxel
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	return ToData(recs)
}
