package fluid

import (
	"io"
	"log"
	"math"
	"testing"
)

type testDevice struct {
	Base
	relaxed int
}

func (d *testDevice) AfterFlowStep(damping float64) { d.relaxed++ }

func newTestDevice(p Pos, capacity, volume float64) *testDevice {
	d := &testDevice{Base: NewBase(p, Down, capacity, 1)}
	d.SetVolume(volume)
	return d
}

// testValve is a gate that is either fully open or fully shut.
type testValve struct {
	Base
	open bool
}

func (v *testValve) AllowsFluidPassage(p Pos, from, to Direction) bool {
	return v.open && from != to
}

// testBlock declares connectors only on the listed faces.
type testBlock struct {
	faces     map[Direction]bool
	networkID uint64
	connected []Direction
}

func (b *testBlock) HasConnectorAt(p Pos, d Direction) bool { return b.faces[d] }

func (b *testBlock) NetworkAt(p Pos) (uint64, bool) { return b.networkID, b.networkID != 0 }

func (b *testBlock) DidConnectAt(p Pos, d Direction) { b.connected = append(b.connected, d) }

// blockDevice is a device that is also the block in its own cell.
type blockDevice struct {
	Base
	testBlock
}

type panicBlock struct{}

func (panicBlock) HasConnectorAt(Pos, Direction) bool { panic("block state corrupted") }
func (panicBlock) NetworkAt(Pos) (uint64, bool)       { return 0, false }
func (panicBlock) DidConnectAt(Pos, Direction)        {}

type testGrid struct {
	devices map[Pos]Device
	blocks  map[Pos]Block
}

func newTestGrid() *testGrid {
	return &testGrid{devices: map[Pos]Device{}, blocks: map[Pos]Block{}}
}

func (g *testGrid) DeviceAt(p Pos) Device { return g.devices[p] }

func (g *testGrid) BlockAt(p Pos) Block {
	if b, ok := g.blocks[p]; ok {
		return b
	}
	return nil
}

func (g *testGrid) put(d Device) Device {
	g.devices[d.Pos()] = d
	return d
}

func newTestDiscovery(t *testing.T, g Grid) (*Manager, *Discovery) {
	t.Helper()
	m := NewManager(DefaultParams())
	return m, NewDiscovery(m, g, log.New(io.Discard, "", 0))
}

func networkOf(t *testing.T, m *Manager, d Device) *Network {
	t.Helper()
	nw, ok := m.NetworkOf(d)
	if !ok {
		t.Fatalf("device at %v has no network (id=%d)", d.Pos(), d.NetworkID())
	}
	return nw
}

func nonEmptyNetworks(m *Manager) int {
	n := 0
	for _, nw := range m.Networks() {
		if !nw.Empty() {
			n++
		}
	}
	return n
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// linkAll builds a network out of devs without going through discovery.
func linkAll(m *Manager, devs ...Device) *Network {
	nw := m.CreateNetwork()
	for _, d := range devs {
		m.Join(d, nw)
	}
	return nw
}
