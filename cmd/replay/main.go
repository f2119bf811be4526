package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	persistlog "hydronet/internal/persistence/log"
	"hydronet/internal/persistence/snapshot"
	"hydronet/internal/sim/tuning"
	"hydronet/internal/sim/world"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

type options struct {
	snapPath   string
	worldDir   string
	tuningPath string
	ticks      uint64
	fromTick   uint64
	toTick     uint64
	verify     bool
}

var errStop = errors.New("stop")

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.snapPath, "snapshot", "", "path to .snap.zst")
	fs.StringVar(&o.worldDir, "world_dir", "", "world dir holding events/ (default: parent of the snapshot's directory)")
	fs.StringVar(&o.tuningPath, "tuning", "./configs/tuning.yaml", "tuning.yaml used by the live run (device catalog, discovery delay)")
	fs.Uint64Var(&o.ticks, "ticks", 0, "step this many ticks offline instead of replaying the tick log")
	fs.Uint64Var(&o.fromTick, "from_tick", 0, "start verifying from tick (inclusive, optional)")
	fs.Uint64Var(&o.toTick, "to_tick", 0, "stop at tick (inclusive, optional)")
	fs.BoolVar(&o.verify, "verify", true, "compare state digests against the tick log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.snapPath == "" {
		return fmt.Errorf("missing -snapshot")
	}

	snap, err := snapshot.ReadSnapshot(o.snapPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	fmt.Fprintf(out, "snapshot v%d world=%s tick=%d seed=%d devices=%d next_network_id=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Seed, len(snap.Devices), snap.NextNetworkID)

	tune, err := tuning.Load(o.tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load tuning: %w", err)
		}
		tune = tuning.Defaults()
	}
	cfg := world.ConfigFromSnapshot(world.ConfigFromTuning(snap.Header.WorldID, snap.Seed, tune), snap)
	w := world.New(cfg, log.New(io.Discard, "", 0))
	if err := w.ImportSnapshot(snap); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}

	if o.ticks > 0 {
		for i := uint64(0); i < o.ticks; i++ {
			printEntry(out, w.StepOnce())
		}
		return nil
	}

	worldDir := o.worldDir
	if worldDir == "" {
		worldDir = filepath.Dir(filepath.Dir(o.snapPath))
	}
	startTick := w.CurrentTick()
	verifyFrom := o.fromTick
	if verifyFrom == 0 {
		verifyFrom = startTick
	}

	var checked uint64
	err = persistlog.ReadTicks(worldDir, func(entry world.TickLogEntry) error {
		if entry.Tick < startTick {
			return nil
		}
		if o.toTick != 0 && entry.Tick > o.toTick {
			return errStop
		}
		if entry.Tick != w.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d", w.CurrentTick(), entry.Tick)
		}
		cmds := make([]world.Command, 0, len(entry.Events))
		for _, ev := range entry.Events {
			cmds = append(cmds, ev.Command())
		}
		got := w.StepOnce(cmds...)
		if got.Tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", got.Tick, entry.Tick)
		}
		printEntry(out, got)
		if o.verify && got.Tick >= verifyFrom {
			checked++
			if got.Digest != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", got.Tick, got.Digest, entry.Digest)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	fmt.Fprintf(out, "replay ok: checked=%d ticks (from snapshot tick=%d)\n", checked, snap.Header.Tick)
	return nil
}

func printEntry(out io.Writer, e world.TickLogEntry) {
	fmt.Fprintf(out, "tick=%d networks=%d devices=%d volume=%.3f moved=%.3f transfers=%d\n",
		e.Tick, e.Networks, e.Devices, e.TotalVolume, e.Moved, e.Transfers)
}
