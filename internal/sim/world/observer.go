package world

import (
	"encoding/json"

	"hydronet/internal/observerproto"
	"hydronet/internal/sim/fluid"
)

// ObserverJoinRequest registers a read-only observer session that receives
// one TICK message per tick on Out.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte

	Networks       []uint64
	IncludeDevices bool
	MaxDevices     int
}

// ObserverSubscribeRequest updates an existing session's subscription.
type ObserverSubscribeRequest struct {
	SessionID string

	Networks       []uint64
	IncludeDevices bool
	MaxDevices     int
}

type observerClient struct {
	id  string
	out chan []byte
	cfg observerCfg
}

type observerCfg struct {
	networks       map[uint64]bool // nil: all
	includeDevices bool
	maxDevices     int
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func newObserverCfg(networks []uint64, includeDevices bool, maxDevices int) observerCfg {
	cfg := observerCfg{includeDevices: includeDevices, maxDevices: clampInt(maxDevices, 1, 65536, 4096)}
	if len(networks) > 0 {
		cfg.networks = make(map[uint64]bool, len(networks))
		for _, id := range networks {
			cfg.networks[id] = true
		}
	}
	return cfg
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	// Replace existing session id if any.
	if old := w.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	w.observers[req.SessionID] = &observerClient{
		id:  req.SessionID,
		out: req.Out,
		cfg: newObserverCfg(req.Networks, req.IncludeDevices, req.MaxDevices),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.cfg = newObserverCfg(req.Networks, req.IncludeDevices, req.MaxDevices)
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.out)
}

func (w *World) closeObservers() {
	for id := range w.observers {
		w.handleObserverLeave(id)
	}
}

func (w *World) stepObservers(entry TickLogEntry) {
	if len(w.observers) == 0 {
		return
	}
	nws := w.nets.Networks()
	var events []observerproto.Event
	for _, e := range entry.Events {
		events = append(events, observerproto.Event{Kind: string(e.Kind), Pos: e.Pos, OK: e.OK, Detail: e.Error})
	}
	for _, f := range entry.Failures {
		events = append(events, observerproto.Event{Kind: "DISCOVERY_FAILED", Pos: f.Pos, Detail: f.Reason})
	}

	for _, c := range w.observers {
		msg := observerproto.TickMsg{
			Type:            observerproto.TypeTick,
			ProtocolVersion: observerproto.Version,
			Tick:            entry.Tick,
			Devices:         entry.Devices,
			TotalVolume:     entry.TotalVolume,
			Transfers:       entry.Transfers,
			Moved:           entry.Moved,
			Networks:        []observerproto.NetworkState{},
			Events:          events,
		}
		for _, nw := range nws {
			if nw.Empty() || (c.cfg.networks != nil && !c.cfg.networks[nw.ID()]) {
				continue
			}
			msg.Networks = append(msg.Networks, observerproto.NetworkState{
				ID:       nw.ID(),
				Members:  nw.Len(),
				Volume:   nw.TotalVolume(),
				Capacity: nw.TotalCapacity(),
			})
			if c.cfg.includeDevices {
				msg.DeviceStates = w.appendDeviceStates(msg.DeviceStates, nw, c.cfg.maxDevices)
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		sendLatest(c.out, b)
	}
}

func (w *World) appendDeviceStates(out []observerproto.DeviceState, nw *fluid.Network, limit int) []observerproto.DeviceState {
	for _, p := range nw.Positions() {
		if len(out) >= limit {
			break
		}
		d, ok := w.grid[p]
		if !ok {
			continue
		}
		out = append(out, observerproto.DeviceState{
			Kind:      string(d.Kind()),
			Pos:       p.ToArray(),
			NetworkID: nw.ID(),
			Volume:    d.Volume(),
			Pressure:  d.Pressure(),
		})
	}
	return out
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
