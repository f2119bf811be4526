package world

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"hydronet/internal/persistence/snapshot"
	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
)

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	_, span := w.tracer.Start(context.Background(), "world.snapshot.export")
	defer span.End()

	snap := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Tick: nowTick},
		Seed:     w.cfg.Seed,
		TickRate: w.cfg.TickRateHz,
		TickDT:   w.cfg.TickDT,
		Flow: snapshot.FlowV1{
			BaseConductance: w.cfg.Flow.BaseConductance,
			MaxFlowPerTick:  w.cfg.Flow.MaxFlowPerTick,
			Damping:         w.cfg.Flow.Damping,
		},
		AquiferRegionSize:  w.cfg.AquiferRegionSize,
		AquiferMinPermille: w.cfg.AquiferMinPermille,
		NextNetworkID:      w.nets.NextID(),
		Counters: snapshot.CountersV1{
			Produced:          w.counters.Produced,
			Extracted:         w.counters.Extracted,
			Moved:             w.counters.Moved,
			Transfers:         w.counters.Transfers,
			DiscoveryFailures: w.counters.DiscoveryFailures,
		},
	}
	for _, p := range w.positions() {
		s := devices.Export(w.grid[p])
		snap.Devices = append(snap.Devices, snapshot.DeviceV1{
			Kind:      string(s.Kind),
			Pos:       s.Pos.ToArray(),
			Facing:    uint8(s.Facing),
			Volume:    s.Volume,
			Demand:    s.Demand,
			NetworkID: s.NetworkID,
			Open:      s.Open,
			Active:    s.Active,
			Counter:   s.Counter,
			Sealed:    s.Sealed,
		})
	}
	span.SetAttributes(attribute.Int64("tick", int64(nowTick)), attribute.Int("devices", len(snap.Devices)))
	return snap
}

// ImportSnapshot replaces the world state with snap. Devices rejoin the
// networks they were stored in, registered under their stored ids; a
// discovery pass is then scheduled for each of them to reconcile links.
// Call it before Run.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	grid := make(map[fluid.Pos]devices.Device, len(snap.Devices))
	for _, dv := range snap.Devices {
		kind, ok := devices.ParseKind(dv.Kind)
		if !ok {
			return fmt.Errorf("snapshot device at %v: unknown kind %q", dv.Pos, dv.Kind)
		}
		pos := fluid.Pos{X: dv.Pos[0], Y: dv.Pos[1], Z: dv.Pos[2]}
		if _, dup := grid[pos]; dup {
			return fmt.Errorf("snapshot device at %v: %w", dv.Pos, ErrOccupied)
		}
		d, err := devices.Restore(devices.State{
			Kind:      kind,
			Pos:       pos,
			Facing:    fluid.Direction(dv.Facing),
			Volume:    dv.Volume,
			Demand:    dv.Demand,
			NetworkID: dv.NetworkID,
			Open:      dv.Open,
			Active:    dv.Active,
			Counter:   dv.Counter,
			Sealed:    dv.Sealed,
		}, w.cfg.Catalog, w.aquiferAt(pos))
		if err != nil {
			return err
		}
		grid[pos] = d
	}

	w.nets.Clear()
	w.grid = grid
	w.order = nil
	w.pending = nil
	for _, p := range w.positions() {
		d := w.grid[p]
		if id := d.NetworkID(); id != 0 {
			w.nets.Join(d, w.nets.GetOrCreate(id))
		}
	}
	w.nets.SetNextID(snap.NextNetworkID)

	w.counters = Counters{
		Produced:          snap.Counters.Produced,
		Extracted:         snap.Counters.Extracted,
		Moved:             snap.Counters.Moved,
		Transfers:         snap.Counters.Transfers,
		DiscoveryFailures: snap.Counters.DiscoveryFailures,
	}
	w.tick.Store(snap.Header.Tick + 1)
	for _, p := range w.positions() {
		w.scheduleDiscovery(p)
	}
	return nil
}

// ConfigFromSnapshot overlays the parameters a snapshot pins (seed, tick
// rate, flow, aquifer generation) on base. Scheduling knobs and the device
// catalog stay as configured.
func ConfigFromSnapshot(base WorldConfig, snap snapshot.SnapshotV1) WorldConfig {
	cfg := base
	if snap.Header.WorldID != "" {
		cfg.ID = snap.Header.WorldID
	}
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	if snap.TickDT > 0 {
		cfg.TickDT = snap.TickDT
	}
	cfg.Seed = snap.Seed
	cfg.Flow = fluid.Params{
		BaseConductance: snap.Flow.BaseConductance,
		MaxFlowPerTick:  snap.Flow.MaxFlowPerTick,
		Damping:         snap.Flow.Damping,
	}
	if snap.AquiferRegionSize > 0 {
		cfg.AquiferRegionSize = snap.AquiferRegionSize
	}
	cfg.AquiferMinPermille = snap.AquiferMinPermille
	return cfg
}

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	if w == nil || w.admin == nil {
		return 0, errors.New("admin snapshot not available")
	}
	resp := make(chan adminSnapshotResp, 1)
	select {
	case w.admin <- adminSnapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case w.snapshotSink <- w.ExportSnapshot(snapTick):
		default:
			errStr = "snapshot sink busy"
		}
	}
	for _, r := range reqs {
		r.Resp <- adminSnapshotResp{Tick: snapTick, Err: errStr}
	}
}
