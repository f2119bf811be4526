// Package devices holds the concrete fluid device kinds placed in the world:
// pipes, tanks, valves, wells and pumps. Each one is a fluid.Device built on
// fluid.Base and adds only the behaviour its kind needs.
package devices

import (
	"fmt"
	"sort"
	"strings"

	"hydronet/internal/sim/fluid"
)

type Kind string

const (
	KindPipe  Kind = "PIPE"
	KindTank  Kind = "TANK"
	KindValve Kind = "VALVE"
	KindWell  Kind = "WELL"
	KindPump  Kind = "PUMP"
)

func Kinds() []Kind {
	out := []Kind{KindPipe, KindTank, KindValve, KindWell, KindPump}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Device is a fluid.Device that knows its kind.
type Device interface {
	fluid.Device
	Kind() Kind
}

// Spec holds the per-kind constants. Rate is per tick at dt=1 (injection for
// wells, extraction for pumps); Demand is the pump's target fill.
type Spec struct {
	Capacity    float64
	Conductance float64
	Rate        float64
	Demand      float64
}

type Catalog struct {
	Pipe  Spec
	Tank  Spec
	Valve Spec
	Well  Spec
	Pump  Spec
}

func DefaultCatalog() Catalog {
	return Catalog{
		Pipe:  Spec{Capacity: 100, Conductance: 1},
		Tank:  Spec{Capacity: 1000, Conductance: 1},
		Valve: Spec{Capacity: 50, Conductance: 1},
		Well:  Spec{Capacity: 200, Conductance: 1, Rate: 4},
		Pump:  Spec{Capacity: 100, Conductance: 1, Rate: 5, Demand: 100},
	}
}

func (c Catalog) Spec(k Kind) (Spec, bool) {
	switch k {
	case KindPipe:
		return c.Pipe, true
	case KindTank:
		return c.Tank, true
	case KindValve:
		return c.Valve, true
	case KindWell:
		return c.Well, true
	case KindPump:
		return c.Pump, true
	default:
		return Spec{}, false
	}
}

// New builds a device of kind k. aquifer is the water richness of the
// chunk the device sits in; only wells use it.
func New(k Kind, pos fluid.Pos, facing fluid.Direction, cat Catalog, aquifer float64) (Device, error) {
	spec, ok := cat.Spec(k)
	if !ok {
		return nil, fmt.Errorf("unknown device kind %q", k)
	}
	base := fluid.NewBase(pos, facing, spec.Capacity, spec.Conductance)
	switch k {
	case KindPipe:
		return NewPipe(base), nil
	case KindTank:
		return &Tank{Base: base}, nil
	case KindValve:
		return &Valve{Base: base, open: true}, nil
	case KindWell:
		return &Well{Base: base, rate: spec.Rate, aquifer: clamp01(aquifer)}, nil
	default:
		p := &Pump{Base: base, rate: spec.Rate, target: spec.Demand, active: true}
		p.SetDemand(spec.Demand)
		return p, nil
	}
}

// Pipe is a passive conduit. It is also the block in its own cell and
// declares which faces carry connectors.
type Pipe struct {
	fluid.Base

	connectors [6]bool
	linked     [6]bool
}

func NewPipe(base fluid.Base) *Pipe {
	p := &Pipe{Base: base}
	for i := range p.connectors {
		p.connectors[i] = true
	}
	return p
}

func (p *Pipe) Kind() Kind { return KindPipe }

// SetConnectors replaces the connector mask; faces not listed are sealed.
func (p *Pipe) SetConnectors(faces ...fluid.Direction) {
	p.connectors = [6]bool{}
	for _, d := range faces {
		if d.Valid() {
			p.connectors[d] = true
		}
	}
}

func (p *Pipe) Connectors() []fluid.Direction {
	var out []fluid.Direction
	for _, d := range fluid.Directions {
		if p.connectors[d] {
			out = append(out, d)
		}
	}
	return out
}

func (p *Pipe) HasConnectorAt(pos fluid.Pos, d fluid.Direction) bool {
	return pos == p.Pos() && d.Valid() && p.connectors[d]
}

// Conductance is zero on sealed faces.
func (p *Pipe) Conductance(d fluid.Direction) float64 {
	if !d.Valid() || !p.connectors[d] {
		return 0
	}
	return p.Base.Conductance(d)
}

func (p *Pipe) NetworkAt(pos fluid.Pos) (uint64, bool) {
	if pos != p.Pos() || p.NetworkID() == 0 {
		return 0, false
	}
	return p.NetworkID(), true
}

// DidConnectAt only records the face for rendering.
func (p *Pipe) DidConnectAt(pos fluid.Pos, d fluid.Direction) {
	if pos == p.Pos() && d.Valid() {
		p.linked[d] = true
	}
}

func (p *Pipe) Linked(d fluid.Direction) bool { return d.Valid() && p.linked[d] }

type Tank struct {
	fluid.Base
}

func (t *Tank) Kind() Kind { return KindTank }

// Valve is a shutoff valve. While closed it refuses new joins and blocks
// settlement through its faces.
type Valve struct {
	fluid.Base

	open bool
}

func (v *Valve) Kind() Kind        { return KindValve }
func (v *Valve) Open() bool        { return v.open }
func (v *Valve) SetOpen(open bool) { v.open = open }

func (v *Valve) AllowsFluidPassage(pos fluid.Pos, from, to fluid.Direction) bool {
	return v.open && pos == v.Pos() && from != to
}

// Well injects fresh fluid each tick, scaled by the aquifer under it.
type Well struct {
	fluid.Base

	rate     float64
	aquifer  float64
	produced float64
}

func (w *Well) Kind() Kind            { return KindWell }
func (w *Well) Aquifer() float64      { return w.aquifer }
func (w *Well) Produced() float64     { return w.produced }
func (w *Well) SetProduced(v float64) { w.produced = v }

func (w *Well) Update(dt float64) {
	if !(dt > 0) {
		return
	}
	before := w.Volume()
	w.AddFluid(w.rate * w.aquifer * dt)
	w.produced += w.Volume() - before
}

// Pump pulls fluid towards itself by holding a demand and drains it into
// an external container each tick. When switched off its demand relaxes.
type Pump struct {
	fluid.Base

	rate      float64
	target    float64
	active    bool
	extracted float64
}

func (p *Pump) Kind() Kind             { return KindPump }
func (p *Pump) Active() bool           { return p.active }
func (p *Pump) Extracted() float64     { return p.extracted }
func (p *Pump) SetExtracted(v float64) { p.extracted = v }

func (p *Pump) SetActive(active bool) {
	p.active = active
	if active {
		p.SetDemand(p.target)
	}
}

func (p *Pump) Update(dt float64) {
	if !p.active || !(dt > 0) {
		return
	}
	before := p.Volume()
	p.RemoveFluid(p.rate * dt)
	p.extracted += before - p.Volume()
}

func (p *Pump) AfterFlowStep(damping float64) {
	if p.active {
		return
	}
	d := p.Demand() * damping
	if d < 0.5 {
		d = 0
	}
	p.SetDemand(d)
}

func clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
