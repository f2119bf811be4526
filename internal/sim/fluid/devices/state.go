package devices

import (
	"fmt"

	"hydronet/internal/sim/fluid"
)

// State is the persisted form of one placed device.
type State struct {
	Kind      Kind
	Pos       fluid.Pos
	Facing    fluid.Direction
	Volume    float64
	Demand    float64
	NetworkID uint64

	// Kind specific.
	Open    bool
	Active  bool
	Counter float64 // produced (wells) or extracted (pumps)
	Sealed  uint8   // pipe faces without a connector, bit per Direction
}

func Export(d Device) State {
	s := State{
		Kind:      d.Kind(),
		Pos:       d.Pos(),
		Facing:    d.DefaultOutFacing(),
		Volume:    d.Volume(),
		NetworkID: d.NetworkID(),
	}
	switch v := d.(type) {
	case *Pipe:
		for _, f := range fluid.Directions {
			if !v.HasConnectorAt(v.Pos(), f) {
				s.Sealed |= 1 << f
			}
		}
	case *Valve:
		s.Open = v.Open()
	case *Well:
		s.Counter = v.Produced()
	case *Pump:
		s.Active = v.Active()
		s.Demand = v.Demand()
		s.Counter = v.Extracted()
	}
	return s
}

// Restore rebuilds a device from its persisted state. The network id is
// carried over as-is; the caller re-registers it with the Manager.
func Restore(s State, cat Catalog, aquifer float64) (Device, error) {
	d, err := New(s.Kind, s.Pos, s.Facing, cat, aquifer)
	if err != nil {
		return nil, fmt.Errorf("restore %v: %w", s.Pos.ToArray(), err)
	}
	switch v := d.(type) {
	case *Pipe:
		if s.Sealed != 0 {
			var open []fluid.Direction
			for _, f := range fluid.Directions {
				if s.Sealed&(1<<f) == 0 {
					open = append(open, f)
				}
			}
			v.SetConnectors(open...)
		}
		v.SetVolume(s.Volume)
	case *Tank:
		v.SetVolume(s.Volume)
	case *Valve:
		v.SetOpen(s.Open)
		v.SetVolume(s.Volume)
	case *Well:
		v.SetProduced(s.Counter)
		v.SetVolume(s.Volume)
	case *Pump:
		v.SetActive(s.Active)
		v.SetDemand(s.Demand)
		v.SetExtracted(s.Counter)
		v.SetVolume(s.Volume)
	}
	d.SetNetworkID(s.NetworkID)
	return d, nil
}
