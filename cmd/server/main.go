package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"voxelstorm.ai/internal/logging"
	"voxelstorm.ai/internal/sim/render"
	"voxelstorm.ai/internal/sim/session"
	"voxelstorm.ai/internal/sim/tuning"
	"voxelstorm.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite tick/event index")
		disableLog = flag.Bool("disable_tick_log", false, "disable the compressed tick/event JSONL logs")

		scene      = flag.String("scene", "eagle", "scene preset to load at start")
		layoutPath = flag.String("layout", "", "layout JSON to load instead of -scene")
		snapPath   = flag.String("snapshot", "", "snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the newest snapshot in the data dir when -snapshot is empty")
		exportExit = flag.Bool("export_on_exit", true, "write a compressed snapshot on shutdown")
		keepSnaps  = flag.Int("keep_snapshots", 20, "snapshots kept in <data>/snapshots; older ones move to <data>/archives (0 keeps all)")

		logLevel = flag.String("log_level", "info", "debug, info, warn or error")
		logFile  = flag.String("log_file", "", "also write logs to this rotating file")
		logDev   = flag.Bool("log_dev", false, "human-readable console logs")
	)
	flag.Parse()

	logger, closeLog, err := logging.New(logging.Config{Level: *logLevel, File: *logFile, Development: *logDev})
	if err != nil {
		os.Stderr.WriteString("logging: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = closeLog() }()
	logger = logger.Named("server")

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Infow("tuning not found; using defaults", "path", tp)
		tune = tuning.Defaults()
	}

	sinks, err := openSinks(*dataDir, *disableDB, *disableLog, tune, logger)
	if err != nil {
		logger.Fatalf("open sinks: %v", err)
	}

	obs := observer.NewServer(tune, logger.Named("observer"))
	sess := session.New(session.Config{
		Tuning:     tune,
		Logger:     logger.Named("session"),
		Adapters:   []render.Adapter{obs},
		TickSinks:  sinks.ticks(),
		EventSinks: sinks.events(),
	})
	obs.Bind(sess)

	start := startupSource{Scene: *scene, Layout: *layoutPath, Snapshot: *snapPath}
	if start.Snapshot == "" && *loadLatest {
		start.Snapshot = latestSnapshot(*dataDir)
	}
	if err := loadInitial(sess, start, logger); err != nil {
		logger.Fatalf("initial load: %v", err)
	}

	mux := http.NewServeMux()
	obs.Routes(mux)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sess.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Infow("listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	runErr := g.Wait()
	if runErr != nil {
		logger.Errorw("server stopped with error", "err", runErr)
	}

	if *exportExit {
		path, err := writeExitSnapshot(*dataDir, sess, sinks.idx)
		if err != nil {
			logger.Errorw("exit snapshot", "err", err)
		} else {
			logger.Infow("exit snapshot written", "path", path)
		}
		if err := pruneSnapshots(*dataDir, *keepSnaps, logger); err != nil {
			logger.Warnw("snapshot pruning", "err", err)
		}
	}

	if err := multierr.Combine(sinks.Close(), runErr); err != nil {
		logger.Errorw("shutdown", "err", err)
		_ = closeLog()
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
