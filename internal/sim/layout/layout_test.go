package layout

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
	"hydronet/internal/sim/world"
)

func newWorld() *world.World {
	return world.New(world.WorldConfig{
		ID:                 "layout",
		TickRateHz:         20,
		TickDT:             1,
		Flow:               fluid.DefaultParams(),
		Catalog:            devices.DefaultCatalog(),
		AquiferRegionSize:  16,
		AquiferMinPermille: 1000,
	}, log.New(io.Discard, "", 0))
}

func TestParseExpandsLinesAndToggles(t *testing.T) {
	l, err := Parse([]byte(`
lines:
  - from: [0, 0, 0]
    to: [3, 0, 0]
  - kind: tank
    from: [0, 0, 5]
    to: [0, 0, 3]
devices:
  - kind: valve
    pos: [4, 0, 0]
    open: false
  - kind: pipe
    pos: [5, 0, 0]
    connectors: [west, east]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cmds, err := l.Commands()
	if err != nil {
		t.Fatalf("Commands: %v", err)
	}
	// 4 pipes + 3 tanks + valve place + valve toggle + pipe.
	if len(cmds) != 10 {
		t.Fatalf("commands=%d, want 10", len(cmds))
	}
	if cmds[4].Device != devices.KindTank || cmds[4].Pos != (fluid.Pos{Z: 5}) || cmds[6].Pos != (fluid.Pos{Z: 3}) {
		t.Fatalf("reverse line=%+v..%+v", cmds[4], cmds[6])
	}
	if cmds[8].Kind != world.CmdValve || cmds[8].On {
		t.Fatalf("valve toggle=%+v", cmds[8])
	}
	if got := cmds[9].Connectors; len(got) != 2 || got[0] != fluid.West || got[1] != fluid.East {
		t.Fatalf("connectors=%v", got)
	}
}

func TestParseRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"kind":      "devices:\n  - kind: BOILER\n    pos: [0,0,0]\n",
		"facing":    "devices:\n  - kind: PIPE\n    facing: SIDEWAYS\n",
		"diagonal":  "lines:\n  - from: [0,0,0]\n    to: [2,2,0]\n",
		"open pump": "devices:\n  - kind: PUMP\n    open: true\n",
		"conn tank": "devices:\n  - kind: TANK\n    connectors: [UP]\n",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyBuildsNetwork(t *testing.T) {
	w := newWorld()
	l := Layout{Lines: []Line{{From: [3]int{0, 0, 0}, To: [3]int{4, 0, 0}}}}
	n, err := Apply(w, l)
	if err != nil || n != 5 {
		t.Fatalf("Apply=%d,%v", n, err)
	}
	w.StepOnce()
	var members int
	for _, nw := range w.Networks().Networks() {
		if !nw.Empty() {
			members += nw.Len()
		}
	}
	if members != 5 {
		t.Fatalf("members=%d, want 5", members)
	}
}

func TestApplyJoinsFailures(t *testing.T) {
	w := newWorld()
	l := Layout{Devices: []Placement{
		{Kind: "PIPE", Pos: [3]int{0, 0, 0}},
		{Kind: "TANK", Pos: [3]int{0, 0, 0}},
	}}
	n, err := Apply(w, l)
	if n != 1 || err == nil || !strings.Contains(err.Error(), "occupied") {
		t.Fatalf("Apply=%d,%v", n, err)
	}
}

func TestLoadShippedLayout(t *testing.T) {
	l, err := Load(filepath.Join("..", "..", "..", "configs", "layout.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := newWorld()
	if _, err := Apply(w, l); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("missing file err=%v", err)
	}
}
