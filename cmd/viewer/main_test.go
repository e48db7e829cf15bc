package main

import (
	"os"
	"path/filepath"
	"testing"

	"voxelstorm.ai/internal/protocol"
)

func TestInitialCommand(t *testing.T) {
	cmd, err := initialCommand("cat", "")
	if err != nil || cmd.Op != protocol.OpLoadScene || cmd.Scene != "cat" {
		t.Fatalf("cmd=%+v err=%v", cmd, err)
	}

	path := filepath.Join(t.TempDir(), "layout.json")
	if err := os.WriteFile(path, []byte(`[{"x":0,"y":1,"z":0,"c":"#ff0000"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd, err = initialCommand("cat", path)
	if err != nil || cmd.Op != protocol.OpLoad || len(cmd.Voxels) != 1 || cmd.Voxels[0].Y != 1 {
		t.Fatalf("cmd=%+v err=%v", cmd, err)
	}

	if _, err := initialCommand("", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("missing layout accepted")
	}
}
