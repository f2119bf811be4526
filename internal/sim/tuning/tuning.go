package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`
	// Seconds of simulated time per tick, passed to settlement as dt.
	TickDT float64 `yaml:"tick_dt"`

	Flow FlowTuning `yaml:"flow"`

	DiscoveryDelayTicks int `yaml:"discovery_delay_ticks"`
	PruneEveryTicks     int `yaml:"prune_every_ticks"`
	SnapshotEveryTicks  int `yaml:"snapshot_every_ticks"`

	Devices  DeviceTuning   `yaml:"devices"`
	WorldGen WorldGenTuning `yaml:"worldgen"`
}

type FlowTuning struct {
	BaseConductance float64 `yaml:"base_conductance"`
	MaxFlowPerTick  float64 `yaml:"max_flow_per_tick"`
	Damping         float64 `yaml:"damping"`
}

type DeviceSpec struct {
	Capacity    float64 `yaml:"capacity"`
	Conductance float64 `yaml:"conductance"`
	Rate        float64 `yaml:"rate,omitempty"`
	Demand      float64 `yaml:"demand,omitempty"`
}

type DeviceTuning struct {
	Pipe  DeviceSpec `yaml:"pipe"`
	Tank  DeviceSpec `yaml:"tank"`
	Valve DeviceSpec `yaml:"valve"`
	Well  DeviceSpec `yaml:"well"`
	Pump  DeviceSpec `yaml:"pump"`
}

type WorldGenTuning struct {
	AquiferRegionSize  int `yaml:"aquifer_region_size"`
	AquiferMinPermille int `yaml:"aquifer_min_permille"`
}

func Defaults() Tuning {
	p := fluid.DefaultParams()
	cat := devices.DefaultCatalog()
	spec := func(s devices.Spec) DeviceSpec {
		return DeviceSpec{Capacity: s.Capacity, Conductance: s.Conductance, Rate: s.Rate, Demand: s.Demand}
	}
	return Tuning{
		TickRateHz: 20,
		TickDT:     1,
		Flow: FlowTuning{
			BaseConductance: p.BaseConductance,
			MaxFlowPerTick:  p.MaxFlowPerTick,
			Damping:         p.Damping,
		},
		DiscoveryDelayTicks: 1,
		PruneEveryTicks:     100,
		SnapshotEveryTicks:  6000,
		Devices: DeviceTuning{
			Pipe:  spec(cat.Pipe),
			Tank:  spec(cat.Tank),
			Valve: spec(cat.Valve),
			Well:  spec(cat.Well),
			Pump:  spec(cat.Pump),
		},
		WorldGen: WorldGenTuning{
			AquiferRegionSize:  16,
			AquiferMinPermille: 100,
		},
	}
}

// Load reads a tuning file over Defaults(); keys missing from the file keep
// their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be in 1..1000, got %d", t.TickRateHz))
	}
	if !finite(t.TickDT) || t.TickDT < 0 {
		errs = append(errs, fmt.Errorf("tick_dt must be >= 0"))
	}
	if !finite(t.Flow.BaseConductance) || t.Flow.BaseConductance < 0 {
		errs = append(errs, fmt.Errorf("flow.base_conductance must be >= 0"))
	}
	if !finite(t.Flow.MaxFlowPerTick) || t.Flow.MaxFlowPerTick < 0 {
		errs = append(errs, fmt.Errorf("flow.max_flow_per_tick must be >= 0"))
	}
	if !finite(t.Flow.Damping) || t.Flow.Damping < 0 || t.Flow.Damping > 1 {
		errs = append(errs, fmt.Errorf("flow.damping must be in [0,1]"))
	}
	if t.DiscoveryDelayTicks < 0 {
		errs = append(errs, fmt.Errorf("discovery_delay_ticks must be >= 0"))
	}
	for name, s := range map[string]DeviceSpec{
		"pipe": t.Devices.Pipe, "tank": t.Devices.Tank, "valve": t.Devices.Valve,
		"well": t.Devices.Well, "pump": t.Devices.Pump,
	} {
		if !finite(s.Capacity) || s.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("devices.%s.capacity must be > 0", name))
		}
		if !finite(s.Conductance) || s.Conductance < 0 {
			errs = append(errs, fmt.Errorf("devices.%s.conductance must be >= 0", name))
		}
		if !finite(s.Rate) || s.Rate < 0 {
			errs = append(errs, fmt.Errorf("devices.%s.rate must be >= 0", name))
		}
	}
	if t.WorldGen.AquiferRegionSize <= 0 {
		errs = append(errs, fmt.Errorf("worldgen.aquifer_region_size must be > 0"))
	}
	if t.WorldGen.AquiferMinPermille < 0 || t.WorldGen.AquiferMinPermille > 1000 {
		errs = append(errs, fmt.Errorf("worldgen.aquifer_min_permille must be in 0..1000"))
	}
	return errors.Join(errs...)
}

func (t Tuning) FlowParams() fluid.Params {
	return fluid.Params{
		BaseConductance: t.Flow.BaseConductance,
		MaxFlowPerTick:  t.Flow.MaxFlowPerTick,
		Damping:         t.Flow.Damping,
	}
}

func (t Tuning) Catalog() devices.Catalog {
	spec := func(s DeviceSpec) devices.Spec {
		return devices.Spec{Capacity: s.Capacity, Conductance: s.Conductance, Rate: s.Rate, Demand: s.Demand}
	}
	return devices.Catalog{
		Pipe:  spec(t.Devices.Pipe),
		Tank:  spec(t.Devices.Tank),
		Valve: spec(t.Devices.Valve),
		Well:  spec(t.Devices.Well),
		Pump:  spec(t.Devices.Pump),
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
