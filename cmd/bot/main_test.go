package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"hydronet/internal/protocol"
	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
	"hydronet/internal/sim/tuning"
	"hydronet/internal/sim/world"
	"hydronet/internal/transport/observer"
)

func TestBotFollowsTicksAndCyclesValve(t *testing.T) {
	tune := tuning.Defaults()
	tune.TickRateHz = 200
	tune.DiscoveryDelayTicks = 0
	w := world.New(world.ConfigFromTuning("bot", 1, tune), log.New(io.Discard, "", 0))
	if _, err := w.PlaceDevice(devices.KindPipe, fluid.Pos{}, fluid.Down, nil); err != nil {
		t.Fatalf("place: %v", err)
	}

	var mu sync.Mutex
	var edits []protocol.EditRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observe", observer.NewServer(w, nil).WSHandler())
	mux.HandleFunc("/v1/admin/valve", func(rw http.ResponseWriter, r *http.Request) {
		var req protocol.EditRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		edits = append(edits, req)
		mu.Unlock()
		_ = json.NewEncoder(rw).Encode(protocol.EditResponse{OK: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var logs bytes.Buffer
	err := run(ctx, options{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe",
		AdminURL: srv.URL,
		Every:    1,
		Valve:    &[3]int{0, 0, 0},
		Cycle:    1,
		MaxTicks: 3,
	}, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := strings.Count(logs.String(), "tick="); n < 3 {
		t.Fatalf("summary lines=%d\n%s", n, logs.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(edits) != 3 {
		t.Fatalf("valve edits=%d, want 3", len(edits))
	}
	if edits[0].On || !edits[1].On || edits[2].On {
		t.Fatalf("valve should alternate close/open/close: %+v", edits)
	}
	if edits[0].Type != protocol.TypeValve || edits[0].Pos != [3]int{0, 0, 0} {
		t.Fatalf("edit=%+v", edits[0])
	}
}
