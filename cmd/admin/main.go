// Command admin inspects layouts, snapshots and the tick index, and runs
// headless simulations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"voxelstorm.ai/internal/persistence/indexdb"
	"voxelstorm.ai/internal/persistence/snapshot"
	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/engine"
	"voxelstorm.ai/internal/sim/fluid"
	"voxelstorm.ai/internal/sim/scenes"
	"voxelstorm.ai/internal/sim/tuning"
	"voxelstorm.ai/internal/sim/voxel"
)

const (
	flagDB     = "db"
	flagOut    = "out"
	flagLimit  = "limit"
	flagKind   = "kind"
	flagScene  = "scene"
	flagTicks  = "ticks"
	flagTemp   = "temperature"
	flagPrecip = "precipitation"
	flagSeed   = "seed"
	flagTuning = "tuning"
	flagJSON   = "json"
	defaultDB  = "./data/index/voxelstorm.sqlite"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "admin:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	dbFlag := &cli.StringFlag{Name: flagDB, Value: defaultDB, Usage: "sqlite index `FILE`"}
	return &cli.App{
		Name:      "admin",
		Usage:     "voxelstorm maintenance tools",
		Writer:    out,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:   "scenes",
				Usage:  "list scene presets and their voxel counts",
				Action: scenesAction,
			},
			{
				Name:      "validate",
				Usage:     "check a layout JSON file against the layout schema",
				ArgsUsage: "<layout.json>",
				Action:    validateAction,
			},
			{
				Name:      "export",
				Usage:     "convert a snapshot into layout JSON",
				ArgsUsage: "<snapshot.snap.zst>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Usage: "write to `FILE` instead of stdout"},
				},
				Action: exportAction,
			},
			{
				Name:  "simulate",
				Usage: "run fluid ticks headless and print statistics",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagScene, Value: "watertank", Usage: "scene preset"},
					&cli.IntFlag{Name: flagTicks, Value: 300, Usage: "fluid ticks to run"},
					&cli.Float64Flag{Name: flagTemp, Value: 20, Usage: "ambient temperature in °C"},
					&cli.Float64Flag{Name: flagPrecip, Value: 0, Usage: "precipitation 0..100"},
					&cli.Uint64Flag{Name: flagSeed, Value: 1, Usage: "rng seed"},
					&cli.StringFlag{Name: flagTuning, Usage: "tuning `FILE` (defaults when empty)"},
					&cli.BoolFlag{Name: flagJSON, Usage: "print the final summary as JSON"},
				},
				Action: simulateAction,
			},
			{
				Name:   "ticks",
				Usage:  "show recent tick rows from the index",
				Flags:  []cli.Flag{dbFlag, &cli.IntFlag{Name: flagLimit, Value: 20}},
				Action: ticksAction,
			},
			{
				Name:   "events",
				Usage:  "show engine events from the index",
				Flags:  []cli.Flag{dbFlag, &cli.StringFlag{Name: flagKind, Usage: "mode or cmd; all when empty"}},
				Action: eventsAction,
			},
			{
				Name:   "snapshots",
				Usage:  "list snapshots recorded in the index",
				Flags:  []cli.Flag{dbFlag},
				Action: snapshotsAction,
			},
		},
	}
}

func scenesAction(c *cli.Context) error {
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENE\tVOXELS\tFLUID")
	for _, name := range scenes.Names() {
		data, err := scenes.Build(name, tuning.Defaults().FloorY)
		if err != nil {
			return err
		}
		fluidN := lo.CountBy(data, func(d voxel.Data) bool { return d.Type.IsFluid() })
		fmt.Fprintf(tw, "%s\t%d\t%d\n", name, len(data), fluidN)
	}
	return tw.Flush()
}

func validateAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("validate: want exactly one layout file")
	}
	b, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	data, err := protocol.ParseLayout(b)
	if err != nil {
		return err
	}
	colours := lo.Uniq(lo.Map(data, func(d voxel.Data, _ int) string { return d.Color.Hex() }))
	fmt.Fprintf(c.App.Writer, "ok: %d voxels, %d colours\n", len(data), len(colours))
	return nil
}

func exportAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("export: want exactly one snapshot file")
	}
	snap, err := snapshot.ReadSnapshot(c.Args().First())
	if err != nil {
		return err
	}
	b, err := protocol.MarshalExport(snap.Layout())
	if err != nil {
		return err
	}
	if p := c.String(flagOut); p != "" {
		return os.WriteFile(p, append(b, '\n'), 0o644)
	}
	_, err = fmt.Fprintln(c.App.Writer, string(b))
	return err
}

type simSummary struct {
	Scene       string         `json:"scene"`
	Ticks       uint64         `json:"ticks"`
	Count       int            `json:"count"`
	Spawned     int            `json:"spawned"`
	Frozen      int            `json:"frozen"`
	MaxPressure int            `json:"max_pressure"`
	Types       map[string]int `json:"types"`
	Elapsed     string         `json:"elapsed"`
}

func simulateAction(c *cli.Context) error {
	tune := tuning.Defaults()
	if p := c.String(flagTuning); p != "" {
		var err error
		if tune, err = tuning.Load(p); err != nil {
			return err
		}
	}
	tune.Seed = c.Uint64(flagSeed)
	sum, err := simulate(tune, c.String(flagScene), c.Int(flagTicks), c.Float64(flagTemp), c.Float64(flagPrecip))
	if err != nil {
		return err
	}
	if c.Bool(flagJSON) {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scene\t%s\nticks\t%d\nvoxels\t%d\nspawned\t%d\nfrozen\t%d\nmax pressure\t%d\n",
		sum.Scene, sum.Ticks, sum.Count, sum.Spawned, sum.Frozen, sum.MaxPressure)
	names := lo.Keys(sum.Types)
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(tw, "  %s\t%d\n", n, sum.Types[n])
	}
	fmt.Fprintf(tw, "elapsed\t%s\n", sum.Elapsed)
	return tw.Flush()
}

// simulate runs the engine in FLUID on a mock clock, one tick per frame.
func simulate(tune tuning.Tuning, scene string, ticks int, temp, precip float64) (simSummary, error) {
	data, err := scenes.Build(scene, tune.FloorY)
	if err != nil {
		return simSummary{}, err
	}
	e := engine.New(tune, clock.NewMock())
	sum := simSummary{Scene: scene}
	e.OnTick = func(s fluid.Stats) {
		sum.Spawned += s.Spawned
		sum.Frozen += s.Frozen
		sum.MaxPressure = max(sum.MaxPressure, s.MaxPressure)
	}
	e.Load(data)
	e.SetTemperature(protocol.ClampTemperature(temp))
	e.SetPrecipitation(protocol.ClampPrecipitation(precip))
	e.ToggleFluid()

	start := time.Now()
	step := e.Scheduler().Tick()
	for i := 0; i < ticks; i++ {
		e.Frame(step)
	}
	sum.Elapsed = time.Since(start).Round(time.Millisecond).String()
	sum.Ticks = e.Ticks()
	sum.Count = e.Count()
	sum.Types = lo.MapKeys(e.Store().Counts(), func(_ int, t voxel.Type) string { return t.String() })
	return sum, nil
}

func openIndex(c *cli.Context) (*indexdb.SQLiteIndex, error) {
	p := c.String(flagDB)
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("index %s: %w", p, err)
	}
	return indexdb.OpenSQLite(p)
}

func ticksAction(c *cli.Context) error {
	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()
	rows, err := idx.RecentTicks(context.Background(), c.Int(flagLimit))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tAT\tTEMP\tPRECIP\tCOUNT\tMOVED\tFROZEN\tSPAWNED\tPRESSURE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%.0f\t%d\t%d\t%d\t%d\t%d\n",
			r.Tick, time.UnixMilli(r.At).UTC().Format(time.RFC3339), r.Temperature, r.Precipitation,
			r.Count, r.Moved, r.Frozen, r.Spawned, r.MaxPressure)
	}
	return tw.Flush()
}

func eventsAction(c *cli.Context) error {
	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()
	rows, err := idx.Events(context.Background(), c.String(flagKind))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tKIND\tMODE\tOP\tDETAIL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			time.UnixMilli(r.At).UTC().Format(time.RFC3339), r.Kind, r.Mode, r.Op, r.Detail)
	}
	return tw.Flush()
}

func snapshotsAction(c *cli.Context) error {
	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()
	rows, err := idx.Snapshots(context.Background())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSCENE\tMODE\tTICK\tCOUNT\tPATH")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339), r.Scene, r.Mode, r.Tick, r.Count, r.Path)
	}
	return tw.Flush()
}
