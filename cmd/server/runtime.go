package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"voxelstorm.ai/internal/persistence/archive"
	"voxelstorm.ai/internal/persistence/indexdb"
	persistlog "voxelstorm.ai/internal/persistence/log"
	"voxelstorm.ai/internal/persistence/snapshot"
	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/engine"
	"voxelstorm.ai/internal/sim/session"
	"voxelstorm.ai/internal/sim/tuning"
)

type runtimeSinks struct {
	tickLog  *persistlog.TickLogger
	eventLog *persistlog.EventLogger
	idx      *indexdb.SQLiteIndex
}

func openSinks(dataDir string, disableDB, disableLog bool, tune tuning.Tuning, logger *zap.SugaredLogger) (*runtimeSinks, error) {
	s := &runtimeSinks{}
	if !disableLog {
		s.tickLog = persistlog.NewTickLogger(dataDir)
		s.eventLog = persistlog.NewEventLogger(dataDir)
	}
	if !disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "voxelstorm.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		s.idx = idx
		digest, err := idx.UpsertTuning(tune)
		if err != nil {
			logger.Warnw("index: upsert tuning", "err", err)
		} else {
			logger.Infow("index ready", "tuning_digest", digest)
		}
	}
	return s, nil
}

func (s *runtimeSinks) ticks() []session.TickSink {
	var out []session.TickSink
	if s.tickLog != nil {
		out = append(out, s.tickLog)
	}
	if s.idx != nil {
		out = append(out, s.idx)
	}
	return out
}

func (s *runtimeSinks) events() []session.EventSink {
	var out []session.EventSink
	if s.eventLog != nil {
		out = append(out, s.eventLog)
	}
	if s.idx != nil {
		out = append(out, s.idx)
	}
	return out
}

func (s *runtimeSinks) Close() error {
	var err error
	if s.tickLog != nil {
		err = multierr.Append(err, s.tickLog.Close())
	}
	if s.eventLog != nil {
		err = multierr.Append(err, s.eventLog.Close())
	}
	if s.idx != nil {
		err = multierr.Append(err, s.idx.Close())
	}
	return err
}

type startupSource struct {
	Scene    string
	Layout   string
	Snapshot string
}

// loadInitial populates the session before Run: snapshot, then layout file,
// then scene preset.
func loadInitial(sess *session.Session, src startupSource, logger *zap.SugaredLogger) error {
	switch {
	case src.Snapshot != "":
		snap, err := snapshot.ReadSnapshot(src.Snapshot)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		data, err := protocol.ToData(snap.Layout())
		if err != nil {
			return fmt.Errorf("snapshot layout: %w", err)
		}
		for _, cmd := range []session.Command{
			{Op: protocol.OpLoad, Voxels: data},
			{Op: protocol.OpSetTemperature, Value: snap.Temperature},
			{Op: protocol.OpSetPrecipitation, Value: snap.Precipitation},
		} {
			if res := sess.Apply(cmd); !res.Accepted {
				return fmt.Errorf("%s: %s", cmd.Op, res.Message)
			}
		}
		if snap.Header.Mode == engine.Fluid.String() {
			sess.Apply(session.Command{Op: protocol.OpToggleFluid})
		}
		logger.Infow("resumed from snapshot", "path", filepath.Base(src.Snapshot), "tick", snap.Header.Tick, "count", len(data))
	case src.Layout != "":
		b, err := os.ReadFile(src.Layout)
		if err != nil {
			return err
		}
		data, err := protocol.ParseLayout(b)
		if err != nil {
			return err
		}
		if res := sess.Apply(session.Command{Op: protocol.OpLoad, Voxels: data}); !res.Accepted {
			return fmt.Errorf("load layout: %s", res.Message)
		}
		logger.Infow("layout loaded", "path", src.Layout, "count", len(data))
	default:
		if res := sess.Apply(session.Command{Op: protocol.OpLoadScene, Scene: src.Scene}); !res.Accepted {
			return fmt.Errorf("load scene: %s", res.Message)
		}
		logger.Infow("scene loaded", "scene", src.Scene, "count", sess.Engine().Count())
	}
	return nil
}

// writeExitSnapshot captures the engine after Run has returned.
func writeExitSnapshot(dataDir string, sess *session.Session, idx *indexdb.SQLiteIndex) (string, error) {
	e := sess.Engine()
	now := time.Now()
	snap := snapshot.Capture(snapshot.Header{
		Scene:     sess.Scene(),
		Mode:      e.Mode().String(),
		Tick:      e.Ticks(),
		CreatedAt: now.UnixMilli(),
	}, e.Store(), e.Seed())
	path := filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", now.UnixMilli()))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	idx.RecordSnapshot(path, snap)
	return path, nil
}

func latestSnapshot(dataDir string) string {
	return archive.Latest(filepath.Join(dataDir, "snapshots"))
}

// pruneSnapshots archives all but the newest keep snapshots.
func pruneSnapshots(dataDir string, keep int, logger *zap.SugaredLogger) error {
	moved, err := archive.Prune(filepath.Join(dataDir, "snapshots"), filepath.Join(dataDir, "archives"), keep, time.Now())
	if len(moved) > 0 {
		logger.Infow("snapshots archived", "n", len(moved), "keep", keep)
	}
	return err
}
