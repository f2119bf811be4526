package fluid

import "math"

// Params are the settlement constants shared by every network.
type Params struct {
	BaseConductance float64
	MaxFlowPerTick  float64
	Damping         float64
}

func DefaultParams() Params {
	return Params{
		BaseConductance: 0.25,
		MaxFlowPerTick:  50,
		Damping:         0.9,
	}
}

// Network is a connected set of devices that settle fluid among
// themselves. It owns membership; devices only hold its id.
type Network struct {
	id    uint64
	nodes map[Pos]Device
}

func newNetwork(id uint64) *Network {
	return &Network{id: id, nodes: map[Pos]Device{}}
}

func (n *Network) ID() uint64 { return n.id }

func (n *Network) Len() int {
	if n == nil {
		return 0
	}
	return len(n.nodes)
}

func (n *Network) Empty() bool { return n.Len() == 0 }

func (n *Network) Member(p Pos) (Device, bool) {
	d, ok := n.nodes[p]
	return d, ok
}

func (n *Network) Has(p Pos) bool {
	_, ok := n.nodes[p]
	return ok
}

// Positions returns member positions in lexicographic order.
func (n *Network) Positions() []Pos {
	if n.Len() == 0 {
		return nil
	}
	out := make([]Pos, 0, len(n.nodes))
	for p := range n.nodes {
		out = append(out, p)
	}
	SortPositions(out)
	return out
}

func (n *Network) TotalVolume() float64 {
	var sum float64
	for _, d := range n.nodes {
		sum += d.Volume()
	}
	return sum
}

func (n *Network) TotalCapacity() float64 {
	var sum float64
	for _, d := range n.nodes {
		sum += d.Capacity()
	}
	return sum
}

// StepStats summarises one settlement step.
type StepStats struct {
	Intents   int
	Transfers int
	Moved     float64
}

func (s *StepStats) add(o StepStats) {
	s.Intents += o.Intents
	s.Transfers += o.Transfers
	s.Moved += o.Moved
}

type edge struct {
	from Pos
	to   Pos
}

// Step runs one propose/commit/relax settlement pass. All intents are
// computed from the state at the start of the step; commit re-clamps each
// one because a node may sit on several edges.
func (n *Network) Step(dt float64, p Params) StepStats {
	var st StepStats
	if n.Len() == 0 {
		return st
	}
	if math.IsNaN(dt) || dt < 0 {
		dt = 0
	}
	order := n.Positions()

	// Phase 1: propose.
	intents := map[edge]float64{}
	var seq []edge
	for _, a := range order {
		na := n.nodes[a]
		for _, dir := range Directions {
			b := a.Offset(dir)
			nb, ok := n.nodes[b]
			if !ok {
				continue
			}
			// Each undirected edge once, from its lexicographically smaller end.
			if b.Compare(a) < 0 {
				continue
			}
			if !faceOpen(na, dir) || !faceOpen(nb, dir.Opposite()) {
				continue
			}
			pa, pb := na.Pressure(), nb.Pressure()
			if pa == pb {
				continue
			}
			from, to, fromPos, toPos, d := na, nb, a, b, dir
			if pb > pa {
				from, to, fromPos, toPos, d = nb, na, b, a, dir.Opposite()
			}
			g := p.BaseConductance * 0.5 * (from.Conductance(d) + to.Conductance(d.Opposite()))
			proposed := math.Min(math.Abs(pa-pb)*g*dt, p.MaxFlowPerTick*dt)
			amount := math.Min(proposed, math.Min(giveCap(from), receiveCap(to)))
			if !(amount > 0) {
				continue
			}
			e := edge{from: fromPos, to: toPos}
			if _, seen := intents[e]; !seen {
				seq = append(seq, e)
			}
			intents[e] += amount
		}
	}
	st.Intents = len(seq)

	// Phase 2: commit.
	for _, e := range seq {
		from, to := n.nodes[e.from], n.nodes[e.to]
		amount := math.Min(intents[e], math.Min(giveCap(from), receiveCap(to)))
		if !(amount > 0) {
			continue
		}
		from.RemoveFluid(amount)
		to.AddFluid(amount)
		st.Transfers++
		st.Moved += amount
	}

	// Phase 3: relax.
	for _, pos := range order {
		n.nodes[pos].AfterFlowStep(p.Damping)
	}
	return st
}

// faceOpen reports whether fluid may cross face d of dev during settlement.
// A block face without a connector is closed, as it is for discovery.
func faceOpen(dev Device, d Direction) bool {
	if blk, ok := dev.(Block); ok && !blk.HasConnectorAt(dev.Pos(), d) {
		return false
	}
	return gatePasses(dev, d)
}

// gatePasses reports whether fluid may cross face d of dev. Non-gates always
// pass; a gate passes when it lets fluid through d towards any other face.
func gatePasses(dev Device, d Direction) bool {
	g, ok := dev.(Gate)
	if !ok {
		return true
	}
	pos := dev.Pos()
	for _, o := range Directions {
		if o == d {
			continue
		}
		if g.AllowsFluidPassage(pos, d, o) || g.AllowsFluidPassage(pos, o, d) {
			return true
		}
	}
	return false
}
