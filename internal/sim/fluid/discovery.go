package fluid

import (
	"fmt"
	"log"
)

// Grid is the host's view of the voxel world. Both lookups return nil when
// the cell is empty or not loaded.
type Grid interface {
	DeviceAt(p Pos) Device
	BlockAt(p Pos) Block
}

// CompatibleFunc decides whether dev, currently in current, may move into
// target. Reserved for fluid-type matching; the default accepts everything.
type CompatibleFunc func(dev Device, current, target *Network) bool

func AlwaysCompatible(Device, *Network, *Network) bool { return true }

// Discovery builds and merges networks as devices appear in the grid. It is
// the context every discovery call runs in and, like Manager, is driven from
// a single goroutine.
type Discovery struct {
	nets       *Manager
	grid       Grid
	log        *log.Logger
	compatible CompatibleFunc
	onFailure  func(pos Pos, reason string)

	failures uint64
}

func NewDiscovery(nets *Manager, grid Grid, logger *log.Logger) *Discovery {
	if logger == nil {
		logger = log.Default()
	}
	return &Discovery{
		nets:       nets,
		grid:       grid,
		log:        logger,
		compatible: AlwaysCompatible,
	}
}

func (d *Discovery) SetCompatible(fn CompatibleFunc) {
	if fn == nil {
		fn = AlwaysCompatible
	}
	d.compatible = fn
}

// OnFailure registers fn to be called after each dropped discovery pass.
func (d *Discovery) OnFailure(fn func(pos Pos, reason string)) { d.onFailure = fn }

// Failures counts discovery passes that panicked and were dropped.
func (d *Discovery) Failures() uint64 { return d.failures }

// IsConnectedTowards reports whether dev touches a fluid-carrying neighbour
// on dir. An explicit connector declaration on the neighbour's block wins;
// without one, any device in the cell counts as connected.
func (d *Discovery) IsConnectedTowards(dev Device, dir Direction) bool {
	if dev == nil || !dir.Valid() {
		return false
	}
	pos := dev.Pos()
	if own := d.grid.BlockAt(pos); own != nil && !own.HasConnectorAt(pos, dir) {
		return false
	}
	if !gatePasses(dev, dir) {
		return false
	}
	np := pos.Offset(dir)
	nb := d.grid.DeviceAt(np)
	if nb != nil && !gatePasses(nb, dir.Opposite()) {
		return false
	}
	if blk := d.grid.BlockAt(np); blk != nil {
		return blk.HasConnectorAt(np, dir.Opposite())
	}
	return nb != nil
}

// TryConnect tries to put dev and its neighbour on dir into one network.
// It adopts the neighbour's network when there is a compatible one, else
// makes sure dev has a network and asks a network-less neighbour to
// connect back.
func (d *Discovery) TryConnect(dev Device, dir Direction) bool {
	if !d.IsConnectedTowards(dev, dir) {
		return false
	}
	np := dev.Pos().Offset(dir)
	if target := d.neighbourNetwork(np); target != nil {
		if !d.canJoin(dev, target) {
			return false
		}
		d.nets.Join(dev, target)
		d.flood(target, d.fanOut(dev, target, nil))
		return true
	}
	if _, ok := d.nets.NetworkOf(dev); !ok {
		d.nets.Join(dev, d.nets.CreateNetwork())
	}
	nb := d.grid.DeviceAt(np)
	if nb == nil {
		return false
	}
	if _, ok := d.nets.NetworkOf(nb); ok {
		return false
	}
	return d.TryConnect(nb, dir.Opposite())
}

// CreateJoinAndDiscover is the one-shot entry point run for a device after
// it has been placed and its neighbours had a tick to load. It joins the
// first compatible neighbour network found (initial direction first), else
// keeps or creates its own, and then spreads that network to everything it
// is connected to.
func (d *Discovery) CreateJoinAndDiscover(dev Device, initial Direction) *Network {
	if dev == nil {
		return nil
	}
	var target *Network
	for _, dir := range directionsFrom(initial) {
		if !d.IsConnectedTowards(dev, dir) {
			continue
		}
		nw := d.neighbourNetwork(dev.Pos().Offset(dir))
		if nw == nil || !d.canJoin(dev, nw) {
			continue
		}
		target = nw
		break
	}
	if target == nil {
		if own, ok := d.nets.NetworkOf(dev); ok {
			target = own
		} else {
			target = d.nets.CreateNetwork()
		}
	}
	d.nets.Join(dev, target)
	d.flood(target, d.fanOut(dev, target, nil))
	return target
}

// JoinAndSpread moves dev into nw (entering through its entry face) and
// keeps going through connected neighbours. A branch stops at a member
// that is already in nw, at an incompatible member, and at a closed gate.
func (d *Discovery) JoinAndSpread(dev Device, nw *Network, entry Direction) {
	if dev == nil || nw == nil {
		return
	}
	d.flood(nw, []hop{{dev: dev, entry: entry}})
}

// SafeDiscover runs CreateJoinAndDiscover for a freshly placed device and
// turns any panic from inconsistent neighbour state into a logged, counted
// failure. The device stays isolated until another event rediscovers it.
func (d *Discovery) SafeDiscover(dev Device) (nw *Network, ok bool) {
	if dev == nil {
		return nil, false
	}
	pos := dev.Pos()
	defer func() {
		if r := recover(); r != nil {
			d.failures++
			reason := fmt.Sprint(r)
			d.log.Printf("fluid: discovery at %v failed: %s", pos.ToArray(), reason)
			if d.onFailure != nil {
				d.onFailure(pos, reason)
			}
			nw, ok = nil, false
		}
	}()
	return d.CreateJoinAndDiscover(dev, dev.DefaultOutFacing()), true
}

// Rebuild dissolves nw and rediscovers its former members, so a network cut
// in two (device removed, valve closed) ends up as two networks. It returns
// the networks the members ended up in, ordered by id.
func (d *Discovery) Rebuild(nw *Network) []*Network {
	if nw == nil {
		return nil
	}
	var members []Device
	for _, p := range nw.Positions() {
		dev := nw.nodes[p]
		members = append(members, dev)
		d.nets.Leave(dev)
	}
	d.nets.Delete(nw)

	seen := map[uint64]bool{}
	var out []*Network
	for _, dev := range members {
		if cur, ok := d.nets.NetworkOf(dev); ok {
			if !seen[cur.ID()] {
				seen[cur.ID()] = true
				out = append(out, cur)
			}
			continue
		}
		got, ok := d.SafeDiscover(dev)
		if !ok || seen[got.ID()] {
			continue
		}
		seen[got.ID()] = true
		out = append(out, got)
	}
	sortNetworks(out)
	return out
}

type hop struct {
	dev   Device
	entry Direction
}

func (d *Discovery) flood(nw *Network, queue []hop) {
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if !d.admit(h.dev, nw, h.entry) {
			continue
		}
		d.nets.Join(h.dev, nw)
		pos := h.dev.Pos()
		if blk := d.grid.BlockAt(pos); blk != nil {
			blk.DidConnectAt(pos, h.entry)
		}
		queue = d.fanOut(h.dev, nw, queue)
	}
}

func (d *Discovery) fanOut(dev Device, nw *Network, queue []hop) []hop {
	pos := dev.Pos()
	for _, dir := range Directions {
		if !d.IsConnectedTowards(dev, dir) {
			continue
		}
		nb := d.grid.DeviceAt(pos.Offset(dir))
		if nb == nil || (nb.NetworkID() == nw.ID() && nw.Has(nb.Pos())) {
			continue
		}
		queue = append(queue, hop{dev: nb, entry: dir.Opposite()})
	}
	return queue
}

func (d *Discovery) admit(dev Device, nw *Network, entry Direction) bool {
	if dev.NetworkID() == nw.ID() && nw.Has(dev.Pos()) {
		return false
	}
	if !gatePasses(dev, entry) {
		return false
	}
	return d.canJoin(dev, nw)
}

func (d *Discovery) canJoin(dev Device, target *Network) bool {
	cur, ok := d.nets.NetworkOf(dev)
	if !ok || cur == target {
		return true
	}
	return d.compatible(dev, cur, target)
}

// neighbourNetwork finds the network of the cell at np, through its device
// if it has one and otherwise through its block.
func (d *Discovery) neighbourNetwork(np Pos) *Network {
	if nb := d.grid.DeviceAt(np); nb != nil {
		if nw, ok := d.nets.NetworkOf(nb); ok {
			return nw
		}
	}
	if blk := d.grid.BlockAt(np); blk != nil {
		if id, ok := blk.NetworkAt(np); ok && id != 0 {
			return d.nets.GetOrCreate(id)
		}
	}
	return nil
}
