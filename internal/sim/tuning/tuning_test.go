package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := `
tick_rate_hz: 10
flow:
  base_conductance: 0.5
devices:
  tank:
    capacity: 5000
    conductance: 2
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 10 || tu.Flow.BaseConductance != 0.5 {
		t.Fatalf("tick_rate_hz=%d base_conductance=%v", tu.TickRateHz, tu.Flow.BaseConductance)
	}
	if tu.Flow.MaxFlowPerTick != Defaults().Flow.MaxFlowPerTick {
		t.Fatalf("max_flow_per_tick=%v, want default", tu.Flow.MaxFlowPerTick)
	}
	if got := tu.Catalog().Tank; got.Capacity != 5000 || got.Conductance != 2 {
		t.Fatalf("tank spec=%+v", got)
	}
	if got := tu.Catalog().Pipe.Capacity; got != 100 {
		t.Fatalf("pipe capacity=%v, want default 100", got)
	}
	if tu.FlowParams().BaseConductance != 0.5 {
		t.Fatalf("FlowParams not derived from tuning")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := "flow:\n  damping: 3\ndevices:\n  pipe:\n    capacity: 0\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"flow.damping", "devices.pipe.capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v, want not-exist", err)
	}
}
