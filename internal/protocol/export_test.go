package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"

	"voxelstorm.ai/internal/sim/voxel"
)

func TestExport_RoundsAndTags(t *testing.T) {
	vs := []*voxel.Voxel{
		{ID: 0, Pos: mgl64.Vec3{1.006, -11.994, 0.123}, Color: voxel.FromHex(voxel.HexDark), Type: voxel.Solid},
		{ID: 1, Pos: mgl64.Vec3{0, 3, 0}, Color: voxel.ColorWater, Type: voxel.Water},
	}
	got := Export(vs)
	want := []ExportVoxel{
		{ID: 0, X: 1.01, Y: -11.99, Z: 0.12, C: "#4a3728", Type: "solid"},
		{ID: 1, X: 0, Y: 3, Z: 0, C: "#3b82f6", Type: "water"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Export mismatch (-want +got):\n%s", diff)
	}

	raw, err := MarshalExport(got)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "\n  {\n    \"id\": 0,") {
		t.Fatalf("export should be indented by two spaces:\n%s", raw)
	}
}

func TestParseLayout(t *testing.T) {
	data, err := ParseLayout([]byte(`[{"x":1,"y":2,"z":3,"c":"#ffffff"},{"x":0,"y":0,"z":0,"c":"#3B82F6","type":"WATER"}]`))
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	if len(data) != 2 || data[0].Type != voxel.Solid || data[1].Type != voxel.Water {
		t.Fatalf("unexpected data %+v", data)
	}
	if voxel.ToHex(data[1].Color) != voxel.HexWater {
		t.Fatalf("colour lost: %s", data[1].Color.Hex())
	}

	if _, err := ParseLayout([]byte(`[{"x":1,"y":2}]`)); err == nil {
		t.Fatalf("missing fields accepted")
	}
	if _, err := ParseLayout([]byte(`{"x":1}`)); err == nil {
		t.Fatalf("non-array accepted")
	}
	if _, err := ParseLayout([]byte(`not json`)); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestExport_ReimportIsStable(t *testing.T) {
	vs := []*voxel.Voxel{
		{Pos: mgl64.Vec3{4, 5, 6}, Color: voxel.FromHex(voxel.HexGrass), Type: voxel.Solid},
		{Pos: mgl64.Vec3{-1, 0, 2}, Color: voxel.ColorHail, Type: voxel.Hail},
	}
	raw, err := MarshalExport(Export(vs))
	if err != nil {
		t.Fatal(err)
	}
	data, err := ParseLayout(raw)
	if err != nil {
		t.Fatalf("exported layout does not re-import: %v", err)
	}
	for i, d := range data {
		if d.Pos() != vs[i].Pos || d.Type != vs[i].Type || voxel.ToHex(d.Color) != voxel.ToHex(vs[i].Color) {
			t.Fatalf("voxel %d changed on re-import: %+v", i, d)
		}
	}
}

func TestClamp(t *testing.T) {
	if ClampTemperature(-80) != -50 || ClampTemperature(500) != 150 || ClampTemperature(21) != 21 {
		t.Fatalf("temperature clamp")
	}
	if ClampPrecipitation(-1) != 0 || ClampPrecipitation(101) != 100 {
		t.Fatalf("precipitation clamp")
	}
}

func TestDecodeBase(t *testing.T) {
	b, _ := json.Marshal(CmdMsg{Type: TypeCmd, ProtocolVersion: Version, Op: OpDismantle})
	m, err := DecodeBase(b)
	if err != nil || m.Type != TypeCmd || m.ProtocolVersion != Version {
		t.Fatalf("DecodeBase = %+v, %v", m, err)
	}
}
