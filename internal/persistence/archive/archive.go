// Package archive keeps the snapshot directory bounded by moving older
// snapshots into per-day archive directories.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"voxelstorm.ai/internal/persistence/snapshot"
)

const suffix = ".snap.zst"

// Entry is a snapshot file named <unix-ms>.snap.zst.
type Entry struct {
	Path string
	At   int64
}

// Meta is one line of a day's index.jsonl.
type Meta struct {
	Snapshot   string `json:"snapshot"`
	Scene      string `json:"scene,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Tick       uint64 `json:"tick"`
	Count      int    `json:"count"`
	CreatedAt  string `json:"created_at"`
	ArchivedAt string `json:"archived_at"`
}

// List returns the snapshots in dir, oldest first. Files that do not follow
// the naming scheme are skipped. A missing dir is not an error.
func List(dir string) ([]Entry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		at, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Path: filepath.Join(dir, name), At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out, nil
}

// Latest returns the newest snapshot path in dir, or "".
func Latest(dir string) string {
	ents, err := List(dir)
	if err != nil || len(ents) == 0 {
		return ""
	}
	return ents[len(ents)-1].Path
}

// Prune keeps the newest keep snapshots in snapDir and moves the rest to
// archiveDir/<YYYY-MM-DD>/, by the UTC day each was taken. It returns the
// archived paths. keep <= 0 disables pruning.
func Prune(snapDir, archiveDir string, keep int, now time.Time) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := List(snapDir)
	if err != nil || len(ents) <= keep {
		return nil, err
	}

	var moved []string
	var errs error
	for _, e := range ents[:len(ents)-keep] {
		day := time.UnixMilli(e.At).UTC().Format("2006-01-02")
		dst, err := archiveOne(e.Path, filepath.Join(archiveDir, day), now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("archive %s: %w", filepath.Base(e.Path), err))
			continue
		}
		moved = append(moved, dst)
	}
	return moved, errs
}

func archiveOne(src, dayDir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return "", err
	}
	meta := Meta{Snapshot: filepath.Base(src), ArchivedAt: now.UTC().Format(time.RFC3339)}
	// An unreadable header still gets archived; the index line is just thinner.
	if h, err := snapshot.ReadHeader(src); err == nil {
		meta.Scene = h.Scene
		meta.Mode = h.Mode
		meta.Tick = h.Tick
		meta.Count = h.Count
		meta.CreatedAt = time.UnixMilli(h.CreatedAt).UTC().Format(time.RFC3339)
	}

	dst := filepath.Join(dayDir, meta.Snapshot)
	if err := move(src, dst); err != nil {
		return "", err
	}
	return dst, appendIndex(filepath.Join(dayDir, "index.jsonl"), meta)
}

func appendIndex(path string, meta Meta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// move renames, falling back to copy and remove across filesystems.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
