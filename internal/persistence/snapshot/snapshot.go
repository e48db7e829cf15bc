package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/voxel"
)

const Version = 1

// ModeFluid is the header mode of a snapshot taken mid-simulation.
const ModeFluid = "FLUID"

type Header struct {
	Version   int    `json:"version"`
	Scene     string `json:"scene,omitempty"`
	Mode      string `json:"mode"`
	Tick      uint64 `json:"tick"`
	Count     int    `json:"count"`
	CreatedAt int64  `json:"created_at_unix_ms"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed          uint64  `json:"seed"`
	Temperature   float64 `json:"temperature"`
	Precipitation float64 `json:"precipitation"`
	Capacity      int     `json:"capacity"`

	Voxels []VoxelV1 `json:"voxels"`
}

type VoxelV1 struct {
	ID    int        `json:"id"`
	Pos   [3]float64 `json:"pos"`
	Grid  [3]int     `json:"grid"`
	Vel   [3]float64 `json:"vel"`
	Color string     `json:"c"`
	Type  string     `json:"type"`
}

// Capture copies the store into a snapshot. The header's Count is filled in.
func Capture(h Header, st *voxel.Store, seed uint64) SnapshotV1 {
	h.Version = Version
	h.Count = st.Len()
	snap := SnapshotV1{
		Header:        h,
		Seed:          seed,
		Temperature:   st.Temperature,
		Precipitation: st.Precipitation,
		Capacity:      st.Capacity(),
		Voxels:        make([]VoxelV1, st.Len()),
	}
	for i, v := range st.All() {
		snap.Voxels[i] = VoxelV1{
			ID:    v.ID,
			Pos:   v.Pos,
			Grid:  v.Grid.ToArray(),
			Vel:   v.Vel,
			Color: v.Color.Clamped().Hex(),
			Type:  v.Type.String(),
		}
	}
	return snap
}

// Layout converts the snapshot into the shareable export format. In a fluid
// snapshot the grid cell is authoritative for non-solid voxels; their Pos
// still holds the last stable position.
func (s SnapshotV1) Layout() []protocol.ExportVoxel {
	solid := voxel.Solid.String()
	out := make([]protocol.ExportVoxel, len(s.Voxels))
	for i, v := range s.Voxels {
		pos := v.Pos
		if s.Header.Mode == ModeFluid && v.Type != solid {
			pos = [3]float64{float64(v.Grid[0]), float64(v.Grid[1]), float64(v.Grid[2])}
		}
		out[i] = protocol.ExportVoxel{ID: v.ID, X: pos[0], Y: pos[1], Z: pos[2], C: v.Color, Type: v.Type}
	}
	return out
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, enc.Close()) }()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer func() { err = errors.Join(err, bw.Flush()) }()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
