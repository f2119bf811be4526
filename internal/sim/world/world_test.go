package world

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"hydronet/internal/observerproto"
	"hydronet/internal/persistence/snapshot"
	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
	"hydronet/internal/sim/tuning"
)

func testConfig(delay int) WorldConfig {
	return WorldConfig{
		ID:                  "test",
		TickRateHz:          1000,
		TickDT:              1,
		Seed:                1337,
		Flow:                fluid.DefaultParams(),
		Catalog:             devices.DefaultCatalog(),
		DiscoveryDelayTicks: delay,
		PruneEveryTicks:     10,
		AquiferRegionSize:   16,
		AquiferMinPermille:  1000,
	}
}

func newTestWorld(t *testing.T, delay int) *World {
	t.Helper()
	return New(testConfig(delay), log.New(io.Discard, "", 0))
}

func place(t *testing.T, w *World, k devices.Kind, x int) devices.Device {
	t.Helper()
	d, err := w.PlaceDevice(k, fluid.Pos{X: x}, fluid.Down, nil)
	if err != nil {
		t.Fatalf("PlaceDevice(%s, x=%d): %v", k, x, err)
	}
	return d
}

func nonEmpty(w *World) int {
	n := 0
	for _, nw := range w.Networks().Networks() {
		if !nw.Empty() {
			n++
		}
	}
	return n
}

func TestDiscoveryWaitsForDelay(t *testing.T) {
	w := newTestWorld(t, 1)
	for x := 0; x < 3; x++ {
		place(t, w, devices.KindPipe, x)
	}
	if w.PendingDiscoveries() != 3 {
		t.Fatalf("pending=%d, want 3", w.PendingDiscoveries())
	}

	w.StepOnce()
	if got := nonEmpty(w); got != 0 {
		t.Fatalf("networks after first tick=%d, want 0", got)
	}
	w.StepOnce()
	if got := nonEmpty(w); got != 1 {
		t.Fatalf("networks after second tick=%d, want 1", got)
	}
	d, _ := w.Device(fluid.Pos{X: 2})
	nw, ok := w.Networks().NetworkOf(d)
	if !ok || nw.Len() != 3 {
		t.Fatalf("network of last pipe=%v,%v", nw, ok)
	}
}

func TestValveTogglesSplitAndMerge(t *testing.T) {
	w := newTestWorld(t, 0)
	left := place(t, w, devices.KindPipe, 0)
	place(t, w, devices.KindValve, 1)
	right := place(t, w, devices.KindPipe, 2)
	if left.NetworkID() == 0 || left.NetworkID() != right.NetworkID() {
		t.Fatalf("open valve: left=%d right=%d, want one network", left.NetworkID(), right.NetworkID())
	}

	if _, err := w.SetValve(fluid.Pos{X: 1}, false); err != nil {
		t.Fatalf("close valve: %v", err)
	}
	if left.NetworkID() == right.NetworkID() {
		t.Fatalf("closed valve left both sides in network %d", left.NetworkID())
	}

	// A closed valve keeps the sides apart through settlement too.
	left.AddFluid(80)
	for i := 0; i < 20; i++ {
		w.StepOnce()
	}
	if right.Volume() != 0 {
		t.Fatalf("fluid crossed a closed valve: right=%v", right.Volume())
	}

	nws, err := w.SetValve(fluid.Pos{X: 1}, true)
	if err != nil {
		t.Fatalf("open valve: %v", err)
	}
	if left.NetworkID() != right.NetworkID() {
		t.Fatalf("reopened valve: left=%d right=%d", left.NetworkID(), right.NetworkID())
	}
	if len(nws) != 1 || nws[0].Len() != 3 {
		t.Fatalf("rebuild result=%v", nws)
	}
}

func TestRemoveSplitsLine(t *testing.T) {
	w := newTestWorld(t, 0)
	for x := 0; x < 5; x++ {
		place(t, w, devices.KindPipe, x)
	}
	nws, err := w.RemoveDevice(fluid.Pos{X: 2})
	if err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	if len(nws) != 2 || nws[0].Len() != 2 || nws[1].Len() != 2 {
		t.Fatalf("rebuilt=%v, want two halves", nws)
	}
	if _, ok := w.Device(fluid.Pos{X: 2}); ok {
		t.Fatalf("device still in grid")
	}
	if _, err := w.RemoveDevice(fluid.Pos{X: 2}); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("second remove err=%v, want ErrNoDevice", err)
	}
}

func TestEditErrors(t *testing.T) {
	w := newTestWorld(t, 0)
	place(t, w, devices.KindPipe, 0)
	if _, err := w.PlaceDevice(devices.KindTank, fluid.Pos{}, fluid.Down, nil); !errors.Is(err, ErrOccupied) {
		t.Fatalf("err=%v, want ErrOccupied", err)
	}
	if _, err := w.PlaceDevice("BUCKET", fluid.Pos{X: 9}, fluid.Down, nil); err == nil {
		t.Fatalf("unknown kind accepted")
	}
	if _, err := w.SetValve(fluid.Pos{}, false); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("err=%v, want ErrWrongKind", err)
	}
	if err := w.SetPump(fluid.Pos{X: 5}, false); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err=%v, want ErrNoDevice", err)
	}

	res := w.Apply(Command{Kind: CmdRemove, Pos: fluid.Pos{X: 7}})
	if res.Err == "" {
		t.Fatalf("Apply on empty cell succeeded")
	}
	entry := w.StepOnce()
	if len(entry.Events) != 1 || entry.Events[0].OK || entry.Events[0].Kind != CmdRemove {
		t.Fatalf("events=%+v", entry.Events)
	}
}

func TestPlaceRejectsInvalidConnectors(t *testing.T) {
	w := newTestWorld(t, 0)
	pos := fluid.Pos{X: 4}
	for _, conns := range [][]fluid.Direction{
		{fluid.Direction(0xff)},
		{fluid.East, fluid.Direction(6)},
	} {
		if _, err := w.PlaceDevice(devices.KindPipe, pos, fluid.Down, conns); err == nil {
			t.Fatalf("connectors %v accepted", conns)
		}
		if _, ok := w.grid[pos]; ok {
			t.Fatalf("rejected place left a device at %v", pos)
		}
	}

	dev, err := w.PlaceDevice(devices.KindPipe, pos, fluid.Down, []fluid.Direction{fluid.East, fluid.West})
	if err != nil {
		t.Fatalf("PlaceDevice: %v", err)
	}
	if got := dev.(*devices.Pipe).Connectors(); len(got) != 2 {
		t.Fatalf("connectors=%v, want [West East]", got)
	}
}

func TestWellToPumpConservesFluid(t *testing.T) {
	w := newTestWorld(t, 0)
	place(t, w, devices.KindWell, 0)
	for x := 1; x < 4; x++ {
		place(t, w, devices.KindPipe, x)
	}
	pump := place(t, w, devices.KindPump, 4).(*devices.Pump)

	for i := 0; i < 200; i++ {
		w.StepOnce()
		for _, p := range w.positions() {
			d := w.grid[p]
			if d.Volume() < 0 || d.Volume() > d.Capacity()+1e-9 {
				t.Fatalf("tick %d: %s at %v volume=%v", i, d.Kind(), p, d.Volume())
			}
		}
	}
	m := w.Metrics()
	if m.Counters.Produced <= 0 || m.Counters.Extracted <= 0 {
		t.Fatalf("counters=%+v, want production and extraction", m.Counters)
	}
	if pump.Extracted() != m.Counters.Extracted {
		t.Fatalf("pump extracted=%v, counter=%v", pump.Extracted(), m.Counters.Extracted)
	}
	if diff := m.Counters.Produced - m.Counters.Extracted - m.TotalVolume; math.Abs(diff) > 1e-6 {
		t.Fatalf("produced-extracted-volume=%v, want 0", diff)
	}
	if m.Tick != 200 || m.Devices != 5 {
		t.Fatalf("metrics tick=%d devices=%d", m.Tick, m.Devices)
	}
}

func TestSnapshotRoundTripKeepsDigest(t *testing.T) {
	a := newTestWorld(t, 1)
	a.Apply(Command{Kind: CmdPlace, Device: devices.KindWell, Pos: fluid.Pos{}})
	for x := 1; x < 4; x++ {
		a.Apply(Command{Kind: CmdPlace, Device: devices.KindPipe, Pos: fluid.Pos{X: x}})
	}
	a.Apply(Command{Kind: CmdPlace, Device: devices.KindValve, Pos: fluid.Pos{X: 4}})
	a.Apply(Command{Kind: CmdPlace, Device: devices.KindTank, Pos: fluid.Pos{X: 5}})
	for i := 0; i < 30; i++ {
		a.StepOnce()
	}
	a.StepOnce(Command{Kind: CmdValve, Pos: fluid.Pos{X: 4}, On: false})
	for i := 0; i < 5; i++ {
		a.StepOnce()
	}

	snap := a.ExportSnapshot(a.CurrentTick() - 1)
	b := newTestWorld(t, 1)
	if err := b.ImportSnapshot(snap); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	if b.CurrentTick() != a.CurrentTick() {
		t.Fatalf("tick=%d, want %d", b.CurrentTick(), a.CurrentTick())
	}
	if b.Networks().NextID() != a.Networks().NextID() {
		t.Fatalf("next id=%d, want %d", b.Networks().NextID(), a.Networks().NextID())
	}
	for _, p := range a.positions() {
		da, db := a.grid[p], b.grid[p]
		if db == nil || da.Kind() != db.Kind() || da.Volume() != db.Volume() || da.NetworkID() != db.NetworkID() {
			t.Fatalf("device at %v differs after import", p)
		}
	}
	for i := 0; i < 5; i++ {
		ea, eb := a.StepOnce(), b.StepOnce()
		if ea.Digest != eb.Digest {
			t.Fatalf("tick %d digest differs after import", ea.Tick)
		}
	}

	bad := snap
	bad.Header.Version = 99
	if err := newTestWorld(t, 1).ImportSnapshot(bad); err == nil {
		t.Fatalf("accepted unknown snapshot version")
	}
}

func TestConfigFromSnapshotPinsWorldParams(t *testing.T) {
	src := testConfig(1)
	src.Seed = 99
	src.Flow.Damping = 0.25
	snap := New(src, nil).ExportSnapshot(0)

	base := testConfig(3)
	base.ID = ""
	cfg := ConfigFromSnapshot(base, snap)
	if cfg.ID != "test" || cfg.Seed != 99 || cfg.Flow.Damping != 0.25 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.DiscoveryDelayTicks != 3 {
		t.Fatalf("DiscoveryDelayTicks=%d, want base value 3", cfg.DiscoveryDelayTicks)
	}
}

func TestConfigFromTuning(t *testing.T) {
	tune := tuning.Defaults()
	cfg := ConfigFromTuning("w", 5, tune)
	if cfg.ID != "w" || cfg.Seed != 5 || cfg.TickRateHz != tune.TickRateHz {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Flow != tune.FlowParams() || cfg.Catalog != tune.Catalog() {
		t.Fatalf("flow/catalog not taken from tuning")
	}
	if cfg.AquiferRegionSize != tune.WorldGen.AquiferRegionSize {
		t.Fatalf("AquiferRegionSize=%d", cfg.AquiferRegionSize)
	}
}

func TestSameEditsSameDigests(t *testing.T) {
	run := func() []string {
		w := newTestWorld(t, 1)
		cmds := []Command{
			{Kind: CmdPlace, Device: devices.KindWell, Pos: fluid.Pos{}},
			{Kind: CmdPlace, Device: devices.KindPipe, Pos: fluid.Pos{X: 1}},
			{Kind: CmdPlace, Device: devices.KindPipe, Pos: fluid.Pos{X: 1, Y: 1}},
			{Kind: CmdPlace, Device: devices.KindPump, Pos: fluid.Pos{X: 2}},
		}
		var out []string
		out = append(out, w.StepOnce(cmds...).Digest)
		for i := 0; i < 40; i++ {
			var cmd []Command
			if i == 20 {
				cmd = append(cmd, Command{Kind: CmdPump, Pos: fluid.Pos{X: 2}, On: false})
			}
			out = append(out, w.StepOnce(cmd...).Digest)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d digest differs", i)
		}
	}
}

type captureLogger struct{ entries []TickLogEntry }

func (c *captureLogger) WriteTick(e TickLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func TestTickLogAndPeriodicSnapshots(t *testing.T) {
	cfg := testConfig(0)
	cfg.SnapshotEveryTicks = 5
	w := New(cfg, log.New(io.Discard, "", 0))
	logs := &captureLogger{}
	w.SetTickLogger(logs)
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)

	w.StepOnce(Command{Kind: CmdPlace, Device: devices.KindTank, Pos: fluid.Pos{}})
	for i := 0; i < 10; i++ {
		w.StepOnce()
	}
	if len(logs.entries) != 11 {
		t.Fatalf("entries=%d, want 11", len(logs.entries))
	}
	first := logs.entries[0]
	if len(first.Events) != 1 || !first.Events[0].OK || first.Events[0].Device != "TANK" {
		t.Fatalf("first entry events=%+v", first.Events)
	}
	if len(sink) != 2 {
		t.Fatalf("snapshots=%d, want 2 (ticks 5 and 10)", len(sink))
	}
	if s := <-sink; s.Header.Tick != 5 || len(s.Devices) != 1 {
		t.Fatalf("snapshot tick=%d devices=%d", s.Header.Tick, len(s.Devices))
	}
}

func TestRunLoopServesCommandsAndObservers(t *testing.T) {
	w := newTestWorld(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	out := make(chan []byte, 8)
	w.ObserverJoin() <- ObserverJoinRequest{SessionID: "O1", Out: out, IncludeDevices: true}

	res, err := w.Submit(ctx, Command{Kind: CmdPlace, Device: devices.KindPipe, Pos: fluid.Pos{}})
	if err != nil {
		t.Fatalf("Submit place: %v", err)
	}
	if len(res.Networks) != 1 {
		t.Fatalf("place result=%+v", res)
	}
	if _, err := w.Submit(ctx, Command{Kind: CmdValve, Pos: fluid.Pos{}}); err == nil {
		t.Fatalf("valve on a pipe should fail, err=%v", err)
	}
	if _, err := w.RequestSnapshot(ctx); err == nil {
		t.Fatalf("snapshot without a sink should fail")
	}

	var msg observerproto.TickMsg
	for {
		select {
		case b, ok := <-out:
			if !ok {
				t.Fatalf("observer channel closed")
			}
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatalf("decode tick: %v", err)
			}
		case <-ctx.Done():
			t.Fatalf("no TICK with a network: %v", ctx.Err())
		}
		if len(msg.Networks) == 1 && len(msg.DeviceStates) == 1 {
			break
		}
	}
	if msg.Type != "TICK" || msg.DeviceStates[0].Kind != "PIPE" {
		t.Fatalf("tick msg=%+v", msg)
	}

	w.Stop()
	w.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := <-out; ok {
		// Drain; the loop closes observer channels on exit.
		for range out {
		}
	}
}
