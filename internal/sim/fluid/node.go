package fluid

import "math"

// Node is anything that stores fluid and takes part in settlement.
type Node interface {
	Volume() float64
	Capacity() float64
	// Conductance is the openness of one face, 0 meaning sealed.
	Conductance(d Direction) float64
	// Pressure drives flow direction: round(volume - demand).
	Pressure() float64
	// AddFluid and RemoveFluid clamp to [0, capacity]; amount <= 0 is a no-op.
	AddFluid(amount float64)
	RemoveFluid(amount float64)
	// AfterFlowStep runs once per tick after settlement, on every member.
	AfterFlowStep(damping float64)
}

// Device is a Node that lives at a grid position and belongs to at most one
// Network. NetworkID is a lookup key into the Manager, 0 when unattached.
type Device interface {
	Node
	Pos() Pos
	NetworkID() uint64
	SetNetworkID(id uint64)
	DefaultOutFacing() Direction
}

// Block is the placed-block side of a cell. It lets discovery gate
// adjacency and find networks without a live Device.
type Block interface {
	HasConnectorAt(p Pos, d Direction) bool
	NetworkAt(p Pos) (uint64, bool)
	DidConnectAt(p Pos, d Direction)
}

// Gate is implemented by devices that can block passage, e.g. shutoff
// valves. A gate is authoritative for both discovery and settlement.
type Gate interface {
	AllowsFluidPassage(p Pos, from, to Direction) bool
}

// Updater is implemented by devices that gain or lose fluid on their own
// (wells, pumps). The host calls it once per tick before settlement.
type Updater interface {
	Update(dt float64)
}

// Vessel is the storage half of a Node. Devices embed it and override
// what they need.
type Vessel struct {
	volume   float64
	capacity float64
	demand   float64

	// Per-face conductance; NaN-free, never negative.
	faces [6]float64
}

func NewVessel(capacity, conductance float64) Vessel {
	v := Vessel{capacity: nonNeg(capacity)}
	for i := range v.faces {
		v.faces[i] = nonNeg(conductance)
	}
	return v
}

func (v *Vessel) Volume() float64   { return v.volume }
func (v *Vessel) Capacity() float64 { return v.capacity }
func (v *Vessel) Demand() float64   { return v.demand }

func (v *Vessel) Conductance(d Direction) float64 {
	if !d.Valid() {
		return 0
	}
	return v.faces[d]
}

func (v *Vessel) SetConductance(d Direction, c float64) {
	if !d.Valid() {
		return
	}
	v.faces[d] = nonNeg(c)
}

// SetDemand sets the target fill level subtracted from volume in Pressure.
func (v *Vessel) SetDemand(demand float64) {
	if math.IsNaN(demand) || math.IsInf(demand, 0) {
		return
	}
	v.demand = demand
}

func (v *Vessel) Pressure() float64 {
	return math.Round(v.volume - v.demand)
}

func (v *Vessel) AddFluid(amount float64) {
	if !(amount > 0) {
		return
	}
	v.volume = clamp(v.volume+amount, 0, v.capacity)
}

func (v *Vessel) RemoveFluid(amount float64) {
	if !(amount > 0) {
		return
	}
	v.volume = clamp(v.volume-amount, 0, v.capacity)
}

// SetVolume restores a stored volume, clamped to capacity.
func (v *Vessel) SetVolume(volume float64) {
	if math.IsNaN(volume) {
		return
	}
	v.volume = clamp(volume, 0, v.capacity)
}

func (v *Vessel) AfterFlowStep(damping float64) {}

// Base is a Vessel that also knows where it is and which network it is in.
type Base struct {
	Vessel

	pos       Pos
	networkID uint64
	facing    Direction
}

func NewBase(pos Pos, facing Direction, capacity, conductance float64) Base {
	if !facing.Valid() {
		facing = Down
	}
	return Base{
		Vessel: NewVessel(capacity, conductance),
		pos:    pos,
		facing: facing,
	}
}

func (b *Base) Pos() Pos                    { return b.pos }
func (b *Base) NetworkID() uint64           { return b.networkID }
func (b *Base) SetNetworkID(id uint64)      { b.networkID = id }
func (b *Base) DefaultOutFacing() Direction { return b.facing }

func giveCap(n Node) float64 {
	return math.Max(0, n.Volume())
}

func receiveCap(n Node) float64 {
	return math.Max(0, n.Capacity()-n.Volume())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNeg(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
