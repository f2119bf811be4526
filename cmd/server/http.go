package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"hydronet/internal/protocol"
	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/layout"
	"hydronet/internal/sim/world"
	"hydronet/internal/transport/observer"
)

type routesConfig struct {
	WorldID     string
	EnableAdmin bool
	Index       runtimeIndex
	Log         *log.Logger
}

func newMux(w *world.World, cfg routesConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	metrics := metricsHandler(w, cfg.WorldID, cfg.Index)
	mux.HandleFunc("/metrics", metrics)
	mux.HandleFunc("/v1/metrics", metrics)

	obsSrv := observer.NewServer(w, cfg.Log)
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observe", obsSrv.WSHandler())

	if !cfg.EnableAdmin {
		cfg.Log.Printf("admin endpoints disabled (HYDRONET_ENABLE_ADMIN_HTTP=false)")
		return mux
	}
	// Local-only admin endpoints. Edits go through the world loop like any
	// other command and are recorded in the tick log.
	mux.HandleFunc("/v1/admin/place", editHandler(w, protocol.TypePlace))
	mux.HandleFunc("/v1/admin/remove", editHandler(w, protocol.TypeRemove))
	mux.HandleFunc("/v1/admin/valve", editHandler(w, protocol.TypeValve))
	mux.HandleFunc("/v1/admin/pump", editHandler(w, protocol.TypePump))
	mux.HandleFunc("/v1/admin/state", func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := struct {
			WorldID string             `json:"world_id"`
			Tick    uint64             `json:"tick"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{
			WorldID: cfg.WorldID,
			Tick:    w.CurrentTick(),
			Metrics: w.Metrics(),
		}
		writeJSON(rw, http.StatusOK, resp)
	})
	mux.HandleFunc("/v1/admin/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		tick, err := w.RequestSnapshot(ctx)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
	})
	mux.HandleFunc("/v1/admin/failures", func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if cfg.Index == nil {
			http.Error(rw, "index disabled", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		fails, err := cfg.Index.RecentFailures(r.Context(), limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"failures": fails})
	})
	return mux
}

func editHandler(w *world.World, typ string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			writeEdit(rw, http.StatusBadRequest, protocol.EditResponse{Code: protocol.ErrProtoBadRequest, Error: err.Error()})
			return
		}
		var req protocol.EditRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeEdit(rw, http.StatusBadRequest, protocol.EditResponse{Code: protocol.ErrProtoBadRequest, Error: "bad json"})
			return
		}
		if req.Type == "" {
			req.Type = typ
		}
		if req.Type != typ {
			writeEdit(rw, http.StatusBadRequest, protocol.EditResponse{Code: protocol.ErrProtoBadRequest, Error: fmt.Sprintf("type %q on %s endpoint", req.Type, typ)})
			return
		}
		cmds, err := editCommands(req)
		if err != nil {
			writeEdit(rw, http.StatusBadRequest, protocol.EditResponse{Code: protocol.ErrBadRequest, Error: err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		var resp protocol.EditResponse
		for _, c := range cmds {
			res, err := w.Submit(ctx, c)
			resp.Tick = res.Tick
			resp.Networks = res.Networks
			if err != nil {
				code, status := editErrorCode(err)
				resp.Code = code
				resp.Error = err.Error()
				writeEdit(rw, status, resp)
				return
			}
		}
		resp.OK = true
		writeEdit(rw, http.StatusOK, resp)
	}
}

func editCommands(req protocol.EditRequest) ([]world.Command, error) {
	switch req.Type {
	case protocol.TypePlace:
		return layout.Placement{
			Kind:       req.Kind,
			Pos:        req.Pos,
			Facing:     req.Facing,
			Connectors: req.Connectors,
		}.Commands()
	case protocol.TypeRemove, protocol.TypeValve, protocol.TypePump:
		return []world.Command{{
			Kind: world.CommandKind(req.Type),
			Pos:  fluid.Pos{X: req.Pos[0], Y: req.Pos[1], Z: req.Pos[2]},
			On:   req.On,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown edit type %q", req.Type)
	}
}

func editErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, world.ErrOccupied):
		return protocol.ErrOccupied, http.StatusConflict
	case errors.Is(err, world.ErrNoDevice):
		return protocol.ErrNotFound, http.StatusNotFound
	case errors.Is(err, world.ErrWrongKind):
		return protocol.ErrWrongKind, http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrBusy, http.StatusServiceUnavailable
	default:
		return protocol.ErrInternal, http.StatusInternalServerError
	}
}

func writeEdit(rw http.ResponseWriter, status int, resp protocol.EditResponse) {
	writeJSON(rw, status, resp)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func metricsHandler(w *world.World, worldID string, idx runtimeIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		gauge := func(name, help string, format string, v any) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
			fmt.Fprintf(rw, "%s{world=%q} "+format+"\n", name, worldID, v)
		}
		counter := func(name, help string, format string, v any) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s counter\n", name)
			fmt.Fprintf(rw, "%s{world=%q} "+format+"\n", name, worldID, v)
		}

		gauge("hydronet_world_tick", "Current world tick.", "%d", tick)
		gauge("hydronet_world_devices", "Placed devices.", "%d", m.Devices)
		gauge("hydronet_world_networks", "Non-empty fluid networks.", "%d", m.Networks)
		gauge("hydronet_world_observers", "Connected observers.", "%d", m.Observers)
		gauge("hydronet_world_pending_discoveries", "Devices waiting for their discovery pass.", "%d", m.PendingDiscoveries)
		gauge("hydronet_world_total_volume", "Fluid held by all devices.", "%.6f", m.TotalVolume)
		gauge("hydronet_world_total_capacity", "Capacity of all devices.", "%.6f", m.TotalCapacity)
		gauge("hydronet_tick_intents", "Flow intents proposed in the last tick.", "%d", m.Intents)
		gauge("hydronet_tick_transfers", "Transfers committed in the last tick.", "%d", m.Transfers)
		gauge("hydronet_tick_moved", "Volume moved in the last tick.", "%.6f", m.Moved)
		gauge("hydronet_world_step_ms", "Last tick step duration in milliseconds.", "%.3f", m.StepMS)

		counter("hydronet_produced_total", "Volume injected by wells.", "%.6f", m.Counters.Produced)
		counter("hydronet_extracted_total", "Volume extracted by pumps.", "%.6f", m.Counters.Extracted)
		counter("hydronet_moved_total", "Volume moved between devices.", "%.6f", m.Counters.Moved)
		counter("hydronet_transfers_total", "Committed transfers.", "%d", m.Counters.Transfers)
		counter("hydronet_discovery_failures_total", "Discovery passes that panicked and were dropped.", "%d", m.Counters.DiscoveryFailures)
		counter("hydronet_networks_pruned_total", "Empty networks removed from the registry.", "%d", m.Counters.Pruned)

		fmt.Fprintf(rw, "# HELP hydronet_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE hydronet_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "hydronet_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "commands", m.QueueDepths.Commands)
		fmt.Fprintf(rw, "hydronet_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "hydronet_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.QueueDepths.Leave)

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP hydronet_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE hydronet_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "hydronet_index_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP hydronet_index_dropped_total Records dropped because the index writer was behind.\n")
			fmt.Fprintf(rw, "# TYPE hydronet_index_dropped_total counter\n")
			fmt.Fprintf(rw, "hydronet_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
			fmt.Fprintf(rw, "hydronet_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
			fmt.Fprintf(rw, "hydronet_index_dropped_total{kind=%q} %d\n", "snapshot_state", s.DropSnapshotStateTotal)
		}
	}
}
