package world

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
	"hydronet/internal/sim/world/io/digestcodec"
)

// StepOnce applies cmds and advances the world by a single tick using the
// same ordering as the server loop. It is intended for replays and tests.
func (w *World) StepOnce(cmds ...Command) TickLogEntry {
	return w.step(cmds)
}

// step order: edits -> device updates -> due discoveries -> settlement ->
// prune -> snapshot -> metrics -> tick log -> observers.
func (w *World) step(cmds []Command) TickLogEntry {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	dt := w.cfg.TickDT

	for _, cmd := range cmds {
		w.Apply(cmd)
	}

	w.updateDevices(dt)

	if len(w.pending) > 0 {
		_, span := w.tracer.Start(context.Background(), "world.discover")
		ran := w.runDueDiscoveries(nowTick)
		span.SetAttributes(attribute.Int64("tick", int64(nowTick)), attribute.Int("passes", ran))
		span.End()
	}

	ts := w.nets.Tick(dt)
	w.counters.Moved += ts.Moved
	w.counters.Transfers += uint64(ts.Transfers)

	if every := w.cfg.PruneEveryTicks; every > 0 && nowTick%uint64(every) == 0 {
		w.counters.Pruned += uint64(w.nets.Prune())
	}

	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			select {
			case w.snapshotSink <- w.ExportSnapshot(nowTick):
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	totalVolume, totalCapacity := w.totals()
	entry := TickLogEntry{
		Tick:        nowTick,
		Events:      w.events,
		Failures:    w.failures,
		Devices:     len(w.grid),
		Networks:    w.nets.Len(),
		Intents:     ts.Intents,
		Transfers:   ts.Transfers,
		Moved:       ts.Moved,
		TotalVolume: totalVolume,
		Digest:      w.stateDigest(nowTick),
	}
	w.events = nil
	w.failures = nil

	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.Printf("tick log: %v", err)
		}
	}
	w.stepObservers(entry)

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.metrics.Store(WorldMetrics{
		Tick:               nextTick,
		Devices:            len(w.grid),
		Networks:           w.nets.Len(),
		Observers:          len(w.observers),
		PendingDiscoveries: len(w.pending),
		TotalVolume:        totalVolume,
		TotalCapacity:      totalCapacity,
		Intents:            ts.Intents,
		Transfers:          ts.Transfers,
		Moved:              ts.Moved,
		Counters:           w.counters,
		QueueDepths: QueueDepths{
			Commands: len(w.cmds),
			Join:     len(w.observerJoin),
			Leave:    len(w.observerLeave),
		},
		StepMS: stepMS,
	})
	return entry
}

// updateDevices runs sources and sinks before settlement, in position order.
func (w *World) updateDevices(dt float64) {
	for _, p := range w.positions() {
		switch d := w.grid[p].(type) {
		case *devices.Well:
			before := d.Produced()
			d.Update(dt)
			w.counters.Produced += d.Produced() - before
		case *devices.Pump:
			before := d.Extracted()
			d.Update(dt)
			w.counters.Extracted += d.Extracted() - before
		case fluid.Updater:
			d.Update(dt)
		}
	}
}

func (w *World) totals() (volume, capacity float64) {
	for _, p := range w.positions() {
		d := w.grid[p]
		volume += d.Volume()
		capacity += d.Capacity()
	}
	return volume, capacity
}

// stateDigest hashes the tick and every device's kind, position, network
// and volume in position order. Two runs fed the same edits must agree.
func (w *World) stateDigest(nowTick uint64) string {
	d := digestcodec.NewWriter(sha256.New())
	d.U64(nowTick)
	d.U64(w.nets.NextID())
	for _, p := range w.positions() {
		dev := w.grid[p]
		d.String(string(dev.Kind()))
		d.I64(int64(p.X))
		d.I64(int64(p.Y))
		d.I64(int64(p.Z))
		d.U64(dev.NetworkID())
		d.F64(dev.Volume())
	}
	return hex.EncodeToString(d.Sum())
}
