package fluid

import "sort"

// Manager is the session-scoped registry of live networks. It is not safe
// for concurrent use; the host world drives it from its loop goroutine.
type Manager struct {
	params   Params
	nextID   uint64
	networks map[uint64]*Network
}

func NewManager(p Params) *Manager {
	return &Manager{
		params:   p,
		nextID:   1,
		networks: map[uint64]*Network{},
	}
}

func (m *Manager) Params() Params { return m.params }

func (m *Manager) SetParams(p Params) { m.params = p }

// CreateNetwork registers a new empty network under a fresh id. The caller
// is expected to join its seed device right away.
func (m *Manager) CreateNetwork() *Network {
	id := m.nextID
	m.nextID++
	nw := newNetwork(id)
	m.networks[id] = nw
	return nw
}

// GetOrCreate returns the network registered under id, creating an empty
// one when the id is unknown (e.g. a stored reference from a previous
// session). id 0 means "no network" and gets a fresh id.
func (m *Manager) GetOrCreate(id uint64) *Network {
	if id == 0 {
		return m.CreateNetwork()
	}
	if nw, ok := m.networks[id]; ok {
		return nw
	}
	nw := newNetwork(id)
	m.networks[id] = nw
	if id >= m.nextID {
		m.nextID = id + 1
	}
	return nw
}

// Delete deregisters nw. Members are not evicted.
func (m *Manager) Delete(nw *Network) {
	if nw == nil {
		return
	}
	if cur, ok := m.networks[nw.id]; ok && cur == nw {
		delete(m.networks, nw.id)
	}
}

func (m *Manager) Network(id uint64) (*Network, bool) {
	if id == 0 {
		return nil, false
	}
	nw, ok := m.networks[id]
	return nw, ok
}

// NetworkOf resolves a device's back reference.
func (m *Manager) NetworkOf(dev Device) (*Network, bool) {
	if dev == nil {
		return nil, false
	}
	return m.Network(dev.NetworkID())
}

func (m *Manager) Len() int { return len(m.networks) }

func (m *Manager) NextID() uint64 { return m.nextID }

// SetNextID moves the allocator forward; it never moves it back.
func (m *Manager) SetNextID(id uint64) {
	if id > m.nextID {
		m.nextID = id
	}
}

// Networks returns the registered networks in ascending id order.
func (m *Manager) Networks() []*Network {
	ids := make([]uint64, 0, len(m.networks))
	for id := range m.networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Network, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.networks[id])
	}
	return out
}

// TickStats aggregates one Manager tick.
type TickStats struct {
	Stepped int
	StepStats
}

// Tick steps every non-empty network once, in id order.
func (m *Manager) Tick(dt float64) TickStats {
	var ts TickStats
	for _, nw := range m.Networks() {
		if nw.Empty() {
			continue
		}
		ts.Stepped++
		ts.add(nw.Step(dt, m.params))
	}
	return ts
}

// Prune deletes empty networks and returns how many were removed.
func (m *Manager) Prune() int {
	n := 0
	for id, nw := range m.networks {
		if nw.Empty() {
			delete(m.networks, id)
			n++
		}
	}
	return n
}

// Clear drops every network; used at session end.
func (m *Manager) Clear() {
	m.networks = map[uint64]*Network{}
	m.nextID = 1
}

// Join makes dev a member of nw, leaving its previous network first.
func (m *Manager) Join(dev Device, nw *Network) {
	if dev == nil || nw == nil {
		return
	}
	if cur, ok := m.NetworkOf(dev); ok && cur != nw {
		m.Leave(dev)
	}
	nw.nodes[dev.Pos()] = dev
	dev.SetNetworkID(nw.id)
}

// Leave removes dev from its network and clears its back reference.
func (m *Manager) Leave(dev Device) {
	if dev == nil {
		return
	}
	if nw, ok := m.NetworkOf(dev); ok {
		pos := dev.Pos()
		if cur, in := nw.nodes[pos]; in && cur == dev {
			delete(nw.nodes, pos)
		}
	}
	dev.SetNetworkID(0)
}

func sortNetworks(nws []*Network) {
	sort.Slice(nws, func(i, j int) bool { return nws[i].id < nws[j].id })
}
