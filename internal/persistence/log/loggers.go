package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/zstd"

	"voxelstorm.ai/internal/sim/fluid"
	"voxelstorm.ai/internal/sim/voxel"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	clk     clock.Clock

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		clk:     clock.New(),
	}
}

// WithClock swaps the clock used to pick the hourly file.
func (w *JSONLZstdWriter) WithClock(clk clock.Clock) *JSONLZstdWriter {
	w.clk = clk
	return w
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.clk.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickEntry is one fluid tick as written to the tick log.
type TickEntry struct {
	Tick          uint64         `json:"tick"`
	At            int64          `json:"at_unix_ms"`
	Temperature   float64        `json:"temperature"`
	Precipitation float64        `json:"precipitation"`
	Count         int            `json:"count"`
	Spawned       int            `json:"spawned,omitempty"`
	Frozen        int            `json:"frozen,omitempty"`
	Moved         int            `json:"moved"`
	MaxPressure   int            `json:"max_pressure"`
	Types         map[string]int `json:"types,omitempty"`
}

// NewTickEntry flattens simulator stats and the ambient scalars.
func NewTickEntry(s fluid.Stats, st *voxel.Store, atUnixMs int64) TickEntry {
	e := TickEntry{
		Tick:          s.Tick,
		At:            atUnixMs,
		Temperature:   st.Temperature,
		Precipitation: st.Precipitation,
		Count:         st.Len(),
		Spawned:       s.Spawned,
		Frozen:        s.Frozen,
		Moved:         s.Moved,
		MaxPressure:   s.MaxPressure,
	}
	if len(s.Counts) > 0 {
		e.Types = make(map[string]int, len(s.Counts))
		for t, n := range s.Counts {
			e.Types[t.String()] = n
		}
	}
	return e
}

// EventEntry records an engine-level event: a mode change, an accepted
// command or an export.
type EventEntry struct {
	At     int64  `json:"at_unix_ms"`
	Kind   string `json:"kind"`
	Mode   string `json:"mode,omitempty"`
	Op     string `json:"op,omitempty"`
	Count  int    `json:"count,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// TickLogger writes one JSONL entry per fluid tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(v TickEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                { return l.w.Close() }

// EventLogger writes event JSONL entries (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *EventLogger) WriteEvent(v EventEntry) error { return l.w.Write(v) }
func (l *EventLogger) Close() error                  { return l.w.Close() }

// ReadJSONL decodes every line of a .jsonl.zst file into fn.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
