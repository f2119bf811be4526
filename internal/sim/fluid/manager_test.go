package fluid

import "testing"

func TestManagerAllocatesMonotonicIDs(t *testing.T) {
	m := NewManager(DefaultParams())
	a := m.CreateNetwork()
	b := m.CreateNetwork()
	if a.ID() != 1 || b.ID() != 2 {
		t.Fatalf("ids=%d,%d, want 1,2", a.ID(), b.ID())
	}
	m.Delete(a)
	if c := m.CreateNetwork(); c.ID() != 3 {
		t.Fatalf("id after delete=%d, want 3 (ids are never reused)", c.ID())
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager(DefaultParams())
	nw := m.GetOrCreate(42)
	if nw.ID() != 42 || !nw.Empty() {
		t.Fatalf("GetOrCreate(42)=%d empty=%v", nw.ID(), nw.Empty())
	}
	if again := m.GetOrCreate(42); again != nw {
		t.Fatalf("GetOrCreate is not idempotent")
	}
	if m.NextID() != 43 {
		t.Fatalf("NextID=%d, want 43", m.NextID())
	}
	if fresh := m.CreateNetwork(); fresh.ID() != 43 {
		t.Fatalf("next created id=%d, want 43", fresh.ID())
	}
	// Lower unseen ids are honoured without moving the allocator back.
	if low := m.GetOrCreate(7); low.ID() != 7 || m.NextID() != 44 {
		t.Fatalf("GetOrCreate(7)=%d next=%d", low.ID(), m.NextID())
	}
	if zero := m.GetOrCreate(0); zero.ID() != 44 {
		t.Fatalf("GetOrCreate(0)=%d, want a fresh id", zero.ID())
	}
}

func TestManagerDeleteKeepsMemberReferences(t *testing.T) {
	m := NewManager(DefaultParams())
	d := newTestDevice(Pos{}, 10, 0)
	nw := linkAll(m, d)
	m.Delete(nw)
	if _, ok := m.Network(nw.ID()); ok {
		t.Fatalf("network still registered")
	}
	if d.NetworkID() != nw.ID() {
		t.Fatalf("Delete must not evict members")
	}
	if _, ok := m.NetworkOf(d); ok {
		t.Fatalf("stale reference must not resolve")
	}
}

func TestManagerTickSkipsEmptyNetworks(t *testing.T) {
	m := NewManager(Params{BaseConductance: 1, MaxFlowPerTick: 100, Damping: 1})
	m.CreateNetwork()
	a := newTestDevice(Pos{X: 0}, 100, 60)
	b := newTestDevice(Pos{X: 1}, 100, 20)
	linkAll(m, a, b)
	m.CreateNetwork()

	ts := m.Tick(1)
	if ts.Stepped != 1 || ts.Transfers != 1 || !almostEqual(ts.Moved, 40) {
		t.Fatalf("tick=%+v", ts)
	}
	if a.relaxed != 1 {
		t.Fatalf("relaxed=%d, want 1", a.relaxed)
	}
}

func TestManagerPruneAndClear(t *testing.T) {
	m := NewManager(DefaultParams())
	m.CreateNetwork()
	linkAll(m, newTestDevice(Pos{}, 10, 0))
	m.CreateNetwork()

	if n := m.Prune(); n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if m.Len() != 1 {
		t.Fatalf("len=%d, want 1", m.Len())
	}
	m.Clear()
	if m.Len() != 0 || m.NextID() != 1 {
		t.Fatalf("after Clear len=%d next=%d", m.Len(), m.NextID())
	}
}

func TestManagerJoinMovesBetweenNetworks(t *testing.T) {
	m := NewManager(DefaultParams())
	d := newTestDevice(Pos{X: 3}, 10, 0)
	first := linkAll(m, d)
	second := m.CreateNetwork()

	m.Join(d, second)
	if first.Has(d.Pos()) || !second.Has(d.Pos()) || d.NetworkID() != second.ID() {
		t.Fatalf("join did not move membership: first=%v second=%v id=%d", first.Has(d.Pos()), second.Has(d.Pos()), d.NetworkID())
	}
	m.Join(d, second)
	if second.Len() != 1 {
		t.Fatalf("rejoin duplicated membership: len=%d", second.Len())
	}
	m.Leave(d)
	if second.Len() != 0 || d.NetworkID() != 0 {
		t.Fatalf("leave: len=%d id=%d", second.Len(), d.NetworkID())
	}
}
