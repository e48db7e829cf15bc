// Package session owns an engine and drives it from a single goroutine:
// frames on a clock ticker, commands from a buffered inbox, and
// notifications out to adapters and persistence sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	persistlog "voxelstorm.ai/internal/persistence/log"
	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/engine"
	"voxelstorm.ai/internal/sim/fluid"
	"voxelstorm.ai/internal/sim/render"
	"voxelstorm.ai/internal/sim/scenes"
	"voxelstorm.ai/internal/sim/tuning"
	"voxelstorm.ai/internal/sim/voxel"
)

var (
	ErrStopped = errors.New("session stopped")
	ErrBusy    = errors.New("command inbox full")
)

// Listener is implemented by adapters that also want mode and count changes.
type Listener interface {
	OnState(mode string)
	OnCount(n int)
}

type TickSink interface {
	WriteTick(persistlog.TickEntry) error
}

type EventSink interface {
	WriteEvent(persistlog.EventEntry) error
}

type Config struct {
	Tuning tuning.Tuning
	Clock  clock.Clock
	Logger *zap.SugaredLogger

	Adapters   []render.Adapter
	TickSinks  []TickSink
	EventSinks []EventSink

	InboxSize int
}

type call struct {
	fn   func(*engine.Engine)
	done chan struct{}
}

type Session struct {
	eng      *engine.Engine
	clk      clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration

	adapters   []render.Adapter
	listeners  []Listener
	tickSinks  []TickSink
	eventSinks []EventSink

	inbox chan Command
	calls chan call

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	scene  string
	layout []voxel.Data

	sinkFailures int
}

func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	s := &Session{
		eng:        engine.New(cfg.Tuning, cfg.Clock),
		clk:        cfg.Clock,
		log:        cfg.Logger,
		interval:   cfg.Tuning.FrameInterval(),
		adapters:   cfg.Adapters,
		tickSinks:  cfg.TickSinks,
		eventSinks: cfg.EventSinks,
		inbox:      make(chan Command, cfg.InboxSize),
		calls:      make(chan call),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, a := range cfg.Adapters {
		if l, ok := a.(Listener); ok {
			s.listeners = append(s.listeners, l)
		}
	}
	s.eng.OnStateChange = s.onState
	s.eng.OnCountChange = s.onCount
	s.eng.OnTick = s.onTick
	return s
}

// Engine is only safe to touch before Run starts or from inside Do.
func (s *Session) Engine() *engine.Engine { return s.eng }

func (s *Session) Scene() string { return s.scene }

// Run drives the frame loop until ctx is cancelled or Stop is called. The
// engine is closed on return.
func (s *Session) Run(ctx context.Context) error {
	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()
	defer close(s.done)
	defer s.eng.Close()

	last := s.clk.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case cmd := <-s.inbox:
			res := s.Apply(cmd)
			if cmd.Reply != nil {
				select {
				case cmd.Reply <- res:
				default:
				}
			}
		case c := <-s.calls:
			c.fn(s.eng)
			close(c.done)
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if f := s.eng.Frame(dt); f != nil {
				for _, a := range s.adapters {
					a.Render(f)
				}
			}
		}
	}
}

func (s *Session) Stop() { s.stopOnce.Do(func() { close(s.stop) }) }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Submit queues a command without blocking.
func (s *Session) Submit(cmd Command) error {
	select {
	case <-s.done:
		return ErrStopped
	case <-s.stop:
		return ErrStopped
	default:
	}
	select {
	case s.inbox <- cmd:
		return nil
	default:
		return ErrBusy
	}
}

// Do runs fn on the loop goroutine between frames and waits for it.
func (s *Session) Do(ctx context.Context, fn func(*engine.Engine)) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case s.calls <- c:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.done
	return nil
}

// Export captures the current layout from the loop goroutine.
func (s *Session) Export(ctx context.Context) ([]protocol.ExportVoxel, error) {
	var out []protocol.ExportVoxel
	err := s.Do(ctx, func(e *engine.Engine) { out = e.Export() })
	return out, err
}

// Apply executes a command synchronously. Callers must own the engine, i.e.
// not run it concurrently with Run.
func (s *Session) Apply(cmd Command) Result {
	res := s.execute(cmd)
	if res.Accepted {
		s.event(persistlog.EventEntry{Kind: "cmd", Op: cmd.Op, Detail: cmd.detail()})
	} else {
		s.log.Debugw("command not applied", "op", cmd.Op, "code", res.Code, "reason", res.Message)
	}
	return res
}

func (s *Session) execute(cmd Command) Result {
	e := s.eng
	switch cmd.Op {
	case protocol.OpLoadScene:
		data, err := scenes.Build(cmd.Scene, e.Tuning().FloorY)
		if err != nil {
			return reject(protocol.ErrUnknownScene, err.Error())
		}
		s.scene, s.layout = cmd.Scene, data
		e.Load(data)
	case protocol.OpLoad:
		if len(cmd.Voxels) == 0 {
			return reject(protocol.ErrBadRequest, "LOAD needs voxels")
		}
		s.scene, s.layout = "", cmd.Voxels
		e.Load(cmd.Voxels)
	case protocol.OpDismantle:
		if !e.Dismantle() {
			return ignored("dismantle only acts from STABLE, mode is " + e.Mode().String())
		}
	case protocol.OpRebuild:
		targets := cmd.Voxels
		if len(targets) == 0 {
			targets = s.layout
		}
		if len(targets) == 0 {
			return reject(protocol.ErrBadRequest, "no layout to rebuild")
		}
		if !e.Rebuild(targets) {
			return ignored("already rebuilding")
		}
	case protocol.OpToggleFluid:
		e.ToggleFluid()
	case protocol.OpSetTemperature:
		e.SetTemperature(protocol.ClampTemperature(cmd.Value))
	case protocol.OpSetPrecipitation:
		e.SetPrecipitation(protocol.ClampPrecipitation(cmd.Value))
	case protocol.OpSetAutoRotate:
		e.SetAutoRotate(cmd.Enabled)
	case protocol.OpResize:
		if cmd.Width < 0 || cmd.Height < 0 {
			return reject(protocol.ErrBadRequest, "negative viewport")
		}
		e.Resize(cmd.Width, cmd.Height)
	default:
		return reject(protocol.ErrUnknownCommand, fmt.Sprintf("unknown op %q", cmd.Op))
	}
	return Result{Accepted: true}
}

func (s *Session) onState(m engine.Mode) {
	mode := m.String()
	for _, l := range s.listeners {
		l.OnState(mode)
	}
	s.event(persistlog.EventEntry{Kind: "mode", Mode: mode, Count: s.eng.Count()})
}

func (s *Session) onCount(n int) {
	for _, l := range s.listeners {
		l.OnCount(n)
	}
}

func (s *Session) onTick(st fluid.Stats) {
	if len(s.tickSinks) == 0 {
		return
	}
	entry := persistlog.NewTickEntry(st, s.eng.Store(), s.clk.Now().UnixMilli())
	var err error
	for _, sink := range s.tickSinks {
		err = multierr.Append(err, sink.WriteTick(entry))
	}
	s.sinkError("tick", err)
}

func (s *Session) event(e persistlog.EventEntry) {
	if len(s.eventSinks) == 0 {
		return
	}
	e.At = s.clk.Now().UnixMilli()
	var err error
	for _, sink := range s.eventSinks {
		err = multierr.Append(err, sink.WriteEvent(e))
	}
	s.sinkError("event", err)
}

// sinkError logs the first few failures and then every 1000th.
func (s *Session) sinkError(kind string, err error) {
	if err == nil {
		return
	}
	s.sinkFailures++
	if s.sinkFailures <= 5 || s.sinkFailures%1000 == 0 {
		s.log.Warnw("sink write failed", "kind", kind, "failures", s.sinkFailures, "err", err)
	}
}

func (c Command) detail() string {
	switch c.Op {
	case protocol.OpLoadScene:
		return c.Scene
	case protocol.OpLoad, protocol.OpRebuild:
		if len(c.Voxels) == 0 {
			return ""
		}
		return strconv.Itoa(len(c.Voxels))
	case protocol.OpSetTemperature, protocol.OpSetPrecipitation:
		return strconv.FormatFloat(c.Value, 'f', -1, 64)
	case protocol.OpSetAutoRotate:
		return strconv.FormatBool(c.Enabled)
	case protocol.OpResize:
		return fmt.Sprintf("%dx%d", c.Width, c.Height)
	}
	return ""
}
