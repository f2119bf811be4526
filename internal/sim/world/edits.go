package world

import (
	"context"
	"fmt"

	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
	"hydronet/internal/sim/world/logic/ids"
)

type CommandKind string

const (
	CmdPlace  CommandKind = "PLACE"
	CmdRemove CommandKind = "REMOVE"
	CmdValve  CommandKind = "VALVE"
	CmdPump   CommandKind = "PUMP"
)

// Command is one world edit. Commands sent to the loop are applied at the
// next tick boundary, in receive order.
type Command struct {
	Kind CommandKind
	Pos  fluid.Pos

	// PLACE
	Device     devices.Kind
	Facing     fluid.Direction
	Connectors []fluid.Direction // pipes only; empty keeps every face

	// VALVE: open. PUMP: active.
	On bool

	Resp chan CommandResult
}

type CommandResult struct {
	Tick uint64
	// Networks touched by the edit, ascending.
	Networks []uint64
	Err      string

	err error
}

// Submit hands cmd to the world loop and waits until it has been applied.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) Submit(ctx context.Context, cmd Command) (CommandResult, error) {
	resp := make(chan CommandResult, 1)
	cmd.Resp = resp
	select {
	case w.cmds <- cmd:
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.err != nil {
			return r, r.err
		}
		return r, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// Apply runs cmd immediately. Call it only from the loop goroutine, or
// before Run starts (layouts, tests).
func (w *World) Apply(cmd Command) CommandResult {
	var (
		nws []*fluid.Network
		err error
	)
	switch cmd.Kind {
	case CmdPlace:
		_, err = w.PlaceDevice(cmd.Device, cmd.Pos, cmd.Facing, cmd.Connectors)
		if d, ok := w.grid[cmd.Pos]; ok && err == nil {
			if nw, ok := w.nets.NetworkOf(d); ok {
				nws = append(nws, nw)
			}
		}
	case CmdRemove:
		nws, err = w.RemoveDevice(cmd.Pos)
	case CmdValve:
		nws, err = w.SetValve(cmd.Pos, cmd.On)
	case CmdPump:
		err = w.SetPump(cmd.Pos, cmd.On)
	default:
		err = fmt.Errorf("unknown command %q", cmd.Kind)
	}

	ev := RecordedEvent{Kind: cmd.Kind, Pos: cmd.Pos.ToArray(), On: cmd.On, OK: err == nil}
	if cmd.Kind == CmdPlace {
		ev.Device = string(cmd.Device)
		ev.Facing = cmd.Facing.String()
		for _, d := range cmd.Connectors {
			ev.Connectors = append(ev.Connectors, d.String())
		}
	}
	res := CommandResult{Tick: w.tick.Load(), Networks: sortedNetworkIDs(nws)}
	if err != nil {
		ev.Error = err.Error()
		res.Err = err.Error()
		res.err = err
	}
	w.events = append(w.events, ev)
	if cmd.Resp != nil {
		cmd.Resp <- res
	}
	return res
}

// Command rebuilds the edit an event was recorded from, for replay. Names
// that do not parse map to an invalid direction so the edit fails again the
// same way.
func (e RecordedEvent) Command() Command {
	c := Command{
		Kind: e.Kind,
		Pos:  fluid.Pos{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]},
		On:   e.On,
	}
	if e.Kind != CmdPlace {
		return c
	}
	c.Device = devices.Kind(e.Device)
	if e.Facing != "" {
		c.Facing = parseRecordedDirection(e.Facing)
	}
	for _, s := range e.Connectors {
		c.Connectors = append(c.Connectors, parseRecordedDirection(s))
	}
	return c
}

func parseRecordedDirection(s string) fluid.Direction {
	if d, ok := fluid.ParseDirection(s); ok {
		return d
	}
	return fluid.Direction(0xff)
}

// PlaceDevice puts a new device into an empty cell. It stays isolated
// until its discovery pass runs DiscoveryDelayTicks later, giving the
// neighbours a tick to settle.
func (w *World) PlaceDevice(kind devices.Kind, pos fluid.Pos, facing fluid.Direction, connectors []fluid.Direction) (devices.Device, error) {
	if _, ok := w.grid[pos]; ok {
		return nil, fmt.Errorf("place %v: %w", pos.ToArray(), ErrOccupied)
	}
	if !facing.Valid() {
		return nil, fmt.Errorf("place %v: invalid facing %d", pos.ToArray(), facing)
	}
	for _, c := range connectors {
		if !c.Valid() {
			return nil, fmt.Errorf("place %v: invalid connector %d", pos.ToArray(), c)
		}
	}
	dev, err := devices.New(kind, pos, facing, w.cfg.Catalog, w.aquiferAt(pos))
	if err != nil {
		return nil, fmt.Errorf("place %v: %w", pos.ToArray(), err)
	}
	if p, ok := dev.(*devices.Pipe); ok && len(connectors) > 0 {
		p.SetConnectors(connectors...)
	}
	w.grid[pos] = dev
	w.order = nil
	w.scheduleDiscovery(pos)
	return dev, nil
}

// RemoveDevice takes the device out of the grid and its network, then
// rebuilds what is left of that network so a cut line splits in two. The
// removed device's fluid is lost.
func (w *World) RemoveDevice(pos fluid.Pos) ([]*fluid.Network, error) {
	dev, ok := w.grid[pos]
	if !ok {
		return nil, fmt.Errorf("remove %v: %w", pos.ToArray(), ErrNoDevice)
	}
	nw, inNetwork := w.nets.NetworkOf(dev)
	w.nets.Leave(dev)
	delete(w.grid, pos)
	w.order = nil
	w.dropPending(pos)

	if !inNetwork {
		return nil, nil
	}
	if nw.Empty() {
		w.nets.Delete(nw)
		return nil, nil
	}
	return w.disc.Rebuild(nw), nil
}

// SetValve opens or closes the valve at pos and rebuilds the network it
// sits in, so closing splits and opening merges.
func (w *World) SetValve(pos fluid.Pos, open bool) ([]*fluid.Network, error) {
	v, ok := w.grid[pos].(*devices.Valve)
	if !ok {
		return nil, w.kindError("valve", pos)
	}
	if v.Open() == open {
		if nw, ok := w.nets.NetworkOf(v); ok {
			return []*fluid.Network{nw}, nil
		}
		return nil, nil
	}
	v.SetOpen(open)
	if nw, ok := w.nets.NetworkOf(v); ok {
		return w.disc.Rebuild(nw), nil
	}
	// Still waiting for its first discovery pass; that pass will see the
	// new state.
	return nil, nil
}

func (w *World) SetPump(pos fluid.Pos, active bool) error {
	p, ok := w.grid[pos].(*devices.Pump)
	if !ok {
		return w.kindError("pump", pos)
	}
	p.SetActive(active)
	return nil
}

func (w *World) kindError(want string, pos fluid.Pos) error {
	d, ok := w.grid[pos]
	if !ok {
		return fmt.Errorf("%s %v: %w", want, pos.ToArray(), ErrNoDevice)
	}
	return fmt.Errorf("%s %v: %w (found %s)", want, pos.ToArray(), ErrWrongKind, ids.DeviceID(string(d.Kind()), pos.ToArray()))
}

func (w *World) scheduleDiscovery(pos fluid.Pos) {
	if w.cfg.DiscoveryDelayTicks <= 0 {
		w.discover(pos)
		return
	}
	w.pending = append(w.pending, pendingDiscovery{pos: pos, due: w.tick.Load() + uint64(w.cfg.DiscoveryDelayTicks)})
}

func (w *World) dropPending(pos fluid.Pos) {
	out := w.pending[:0]
	for _, p := range w.pending {
		if p.pos != pos {
			out = append(out, p)
		}
	}
	w.pending = out
}

func (w *World) discover(pos fluid.Pos) {
	if dev, ok := w.grid[pos]; ok {
		w.disc.SafeDiscover(dev)
	}
}

// runDueDiscoveries runs every pending pass due at or before nowTick, in
// the order they were scheduled, and returns how many ran.
func (w *World) runDueDiscoveries(nowTick uint64) int {
	if len(w.pending) == 0 {
		return 0
	}
	var due []fluid.Pos
	keep := w.pending[:0]
	for _, p := range w.pending {
		if p.due <= nowTick {
			due = append(due, p.pos)
			continue
		}
		keep = append(keep, p)
	}
	w.pending = keep
	for _, pos := range due {
		w.discover(pos)
	}
	return len(due)
}

// PendingDiscoveries is the number of devices still waiting for their pass.
func (w *World) PendingDiscoveries() int { return len(w.pending) }
