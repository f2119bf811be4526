package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hydronet/internal/persistence/indexdb"
	"hydronet/internal/persistence/snapshot"
	"hydronet/internal/protocol"
	"hydronet/internal/sim/world"
)

func seedIndex(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.WriteTick(world.TickLogEntry{
		Tick:    12,
		Digest:  "d12",
		Devices: 2,
		Events: []world.RecordedEvent{
			{Kind: world.CmdPlace, Pos: [3]int{1, 0, 0}, Device: "PIPE", OK: true},
			{Kind: world.CmdRemove, Pos: [3]int{7, 0, 0}, Error: "no device"},
		},
		Failures: []world.DiscoveryFailure{{Tick: 12, Pos: [3]int{1, 0, 0}, Reason: "panic"}},
	})
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: snapshot.Version, WorldID: "w", Tick: 20},
		NextNetworkID: 3,
		Devices: []snapshot.DeviceV1{
			{Kind: "PIPE", NetworkID: 2, Volume: 4},
			{Kind: "PIPE", Pos: [3]int{1, 0, 0}, NetworkID: 2, Volume: 6},
		},
	}
	idx.RecordSnapshot("/data/20.snap.zst", snap)
	idx.RecordSnapshotState(snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return dbPath
}

func TestDBQueries(t *testing.T) {
	dbPath := seedIndex(t)

	cases := []struct {
		query string
		extra []string
		want  string
	}{
		{query: "snapshots", want: `"next_network_id":3`},
		{query: "networks", want: `"network_id":2,"members":2,"volume":10`},
		{query: "ticks", want: `"digest":"d12"`},
		{query: "events", extra: []string{"-pos", "7,0,0"}, want: `"error":"no device"`},
		{query: "failures", want: `"reason":"panic"`},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		args := append([]string{"db", "-db", dbPath}, tc.extra...)
		args = append(args, tc.query)
		if err := run(args, &out); err != nil {
			t.Fatalf("%s: %v", tc.query, err)
		}
		if !strings.Contains(out.String(), tc.want) {
			t.Fatalf("%s output=%s, want %s", tc.query, out.String(), tc.want)
		}
	}

	var out bytes.Buffer
	if err := run([]string{"db", "-db", dbPath, "events", "-pos", "7,0,0"}, &out); err != nil {
		t.Fatalf("events: %v", err)
	}
	if n := strings.Count(out.String(), "\n"); n != 2 {
		t.Fatalf("flags after the query are ignored, want both events; got %d lines", n)
	}
}

func TestDBUnknownQueryIsUsageError(t *testing.T) {
	dbPath := seedIndex(t)
	err := run([]string{"db", "-db", dbPath, "pipes"}, io.Discard)
	if !errors.Is(err, errUsage) {
		t.Fatalf("err=%v, want usage error", err)
	}
	if err := run([]string{"db"}, io.Discard); !errors.Is(err, errUsage) {
		t.Fatalf("missing -world: err=%v", err)
	}
}

func TestEditPostsProtocolRequest(t *testing.T) {
	var got protocol.EditRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(rw).Encode(protocol.EditResponse{OK: true, Tick: 5, Networks: []uint64{1}})
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run([]string{"place", "-url", srv.URL, "-pos", "1,2,3", "-kind", "pipe", "-connectors", "west, east"}, &out)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if path != "/v1/admin/place" {
		t.Fatalf("path=%q", path)
	}
	if got.Type != protocol.TypePlace || got.Kind != "PIPE" || got.Pos != [3]int{1, 2, 3} {
		t.Fatalf("request=%+v", got)
	}
	if len(got.Connectors) != 2 || got.Connectors[0] != "WEST" || got.Connectors[1] != "EAST" {
		t.Fatalf("connectors=%v", got.Connectors)
	}
	if !strings.Contains(out.String(), `"ok":true`) {
		t.Fatalf("output=%s", out.String())
	}

	if err := run([]string{"place", "-url", srv.URL, "-pos", "1,2,3"}, io.Discard); !errors.Is(err, errUsage) {
		t.Fatalf("place without kind: err=%v", err)
	}
	if err := run([]string{"valve", "-url", srv.URL, "-pos", "1,2"}, io.Discard); !errors.Is(err, errUsage) {
		t.Fatalf("bad pos: err=%v", err)
	}
}

func TestEditReportsServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(rw).Encode(protocol.EditResponse{Code: protocol.ErrOccupied, Error: "occupied"})
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run([]string{"remove", "-url", srv.URL, "-pos", "0,0,0"}, &out)
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(out.String(), protocol.ErrOccupied) {
		t.Fatalf("output=%s", out.String())
	}
}

func TestSnapshotsListsTicksInOrder(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "worlds", "w", "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"300.snap.zst", "20.snap.zst", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(snaps, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	var out bytes.Buffer
	if err := run([]string{"snapshots", "-data", dir, "-world", "w"}, &out); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if out.String() != "20\n300\n" {
		t.Fatalf("output=%q", out.String())
	}
}
