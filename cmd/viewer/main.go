// Command viewer runs a session locally and draws it in the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelstorm.ai/internal/logging"
	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/render"
	"voxelstorm.ai/internal/sim/scenes"
	"voxelstorm.ai/internal/sim/session"
	"voxelstorm.ai/internal/sim/tuning"
	"voxelstorm.ai/internal/transport/term"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		scene      = flag.String("scene", "eagle", "scene preset to load at start")
		layoutPath = flag.String("layout", "", "layout JSON to load instead of -scene")
		logFile    = flag.String("log_file", "", "write logs to this rotating file")
		logLevel   = flag.String("log_level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	// The terminal belongs to the renderer; logs only go to the file.
	logger, closeLog, err := logging.New(logging.Config{Level: *logLevel, File: *logFile, Out: io.Discard})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(2)
	}
	defer func() { _ = closeLog() }()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "tuning:", err)
			os.Exit(2)
		}
		tune = tuning.Defaults()
	}

	if err := run(tune, *scene, *layoutPath, logger.Named("viewer")); err != nil {
		_ = closeLog()
		fmt.Fprintln(os.Stderr, "viewer:", err)
		os.Exit(1)
	}
}

func run(tune tuning.Tuning, scene, layoutPath string, logger *zap.SugaredLogger) error {
	first, err := initialCommand(scene, layoutPath)
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("screen init: %w", err)
	}
	defer screen.Fini()

	r := term.NewRenderer(screen, tune.FloorY)
	sess := session.New(session.Config{
		Tuning:   tune,
		Logger:   logger.Named("session"),
		Adapters: []render.Adapter{r},
	})
	if res := sess.Apply(first); !res.Accepted {
		return fmt.Errorf("initial load: %s %s", res.Code, res.Message)
	}

	names := scenes.Names()
	ctl := &controls{
		temp:   sess.Engine().Temperature(),
		precip: sess.Engine().Precipitation(),
		scenes: names,
		scene:  max(slices.Index(names, scene), 0),
	}
	r.SetStatus(ctl.status())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-quit:
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sess.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer sess.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sess.Done():
				return nil
			case ev := <-events:
				if !handle(ev, ctl, sess, r, screen, logger) {
					return nil
				}
			}
		}
	})
	return g.Wait()
}

// handle applies one terminal event and reports whether the viewer should
// keep running.
func handle(ev tcell.Event, ctl *controls, sess *session.Session, r *term.Renderer, screen tcell.Screen, logger *zap.SugaredLogger) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		w, h := ev.Size()
		submit(sess, session.Command{Op: protocol.OpResize, Width: w, Height: h}, logger)
		screen.Sync()
	case *tcell.EventKey:
		cmd, ok, quit := ctl.command(ev)
		if quit {
			return false
		}
		if ok {
			submit(sess, cmd, logger)
			r.SetStatus(ctl.status())
		}
	}
	return true
}

func submit(sess *session.Session, cmd session.Command, logger *zap.SugaredLogger) {
	if err := sess.Submit(cmd); err != nil {
		logger.Warnw("command dropped", "op", cmd.Op, "err", err)
	}
}

func initialCommand(scene, layoutPath string) (session.Command, error) {
	if layoutPath == "" {
		return session.Command{Op: protocol.OpLoadScene, Scene: scene}, nil
	}
	b, err := os.ReadFile(layoutPath)
	if err != nil {
		return session.Command{}, err
	}
	data, err := protocol.ParseLayout(b)
	if err != nil {
		return session.Command{}, err
	}
	return session.Command{Op: protocol.OpLoad, Voxels: data}, nil
}
