package world

import (
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"hydronet/internal/persistence/snapshot"
	"hydronet/internal/sim/fluid"
	"hydronet/internal/sim/fluid/devices"
	"hydronet/internal/sim/tuning"
	"hydronet/internal/sim/world/logic/ids"
	"hydronet/internal/sim/world/terrain/gen"
)

var (
	ErrOccupied  = errors.New("cell occupied")
	ErrNoDevice  = errors.New("no device at position")
	ErrWrongKind = errors.New("wrong device kind")
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	// Simulated seconds per tick.
	TickDT float64
	Seed   int64

	Flow    fluid.Params
	Catalog devices.Catalog

	DiscoveryDelayTicks int
	PruneEveryTicks     int
	SnapshotEveryTicks  int

	AquiferRegionSize  int
	AquiferMinPermille int
}

// ConfigFromTuning builds the config for a fresh world.
func ConfigFromTuning(id string, seed int64, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                  id,
		TickRateHz:          t.TickRateHz,
		TickDT:              t.TickDT,
		Seed:                seed,
		Flow:                t.FlowParams(),
		Catalog:             t.Catalog(),
		DiscoveryDelayTicks: t.DiscoveryDelayTicks,
		PruneEveryTicks:     t.PruneEveryTicks,
		SnapshotEveryTicks:  t.SnapshotEveryTicks,
		AquiferRegionSize:   t.WorldGen.AquiferRegionSize,
		AquiferMinPermille:  t.WorldGen.AquiferMinPermille,
	}
}

// World is a single-threaded authoritative simulation of the devices placed
// in one voxel grid. All state must be accessed only from the world loop
// goroutine; other goroutines go through the request channels.
type World struct {
	cfg    WorldConfig
	log    *log.Logger
	tracer trace.Tracer

	tick atomic.Uint64

	grid  map[fluid.Pos]devices.Device
	order []fluid.Pos // sorted grid keys, nil when stale

	nets    *fluid.Manager
	disc    *fluid.Discovery
	pending []pendingDiscovery

	// Filled while a tick runs and by Apply between ticks; drained into the
	// next tick log entry.
	events   []RecordedEvent
	failures []DiscoveryFailure

	counters Counters

	cmds          chan Command
	admin         chan adminSnapshotReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once

	observers map[string]*observerClient

	// Optional (may be nil).
	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Value // WorldMetrics
}

type pendingDiscovery struct {
	pos fluid.Pos
	due uint64
}

// Counters are world-lifetime totals carried across snapshots.
type Counters struct {
	Produced          float64 `json:"produced"`
	Extracted         float64 `json:"extracted"`
	Moved             float64 `json:"moved"`
	Transfers         uint64  `json:"transfers"`
	DiscoveryFailures uint64  `json:"discovery_failures"`
	Pruned            uint64  `json:"pruned"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick        uint64             `json:"tick"`
	Events      []RecordedEvent    `json:"events,omitempty"`
	Failures    []DiscoveryFailure `json:"failures,omitempty"`
	Devices     int                `json:"devices"`
	Networks    int                `json:"networks"`
	Intents     int                `json:"intents"`
	Transfers   int                `json:"transfers"`
	Moved       float64            `json:"moved"`
	TotalVolume float64            `json:"total_volume"`
	Digest      string             `json:"digest"`
}

// RecordedEvent is one applied (or rejected) world edit.
type RecordedEvent struct {
	Kind       CommandKind `json:"kind"`
	Pos        [3]int      `json:"pos"`
	Device     string      `json:"device,omitempty"`
	Facing     string      `json:"facing,omitempty"`
	Connectors []string    `json:"connectors,omitempty"`
	On         bool        `json:"on,omitempty"`
	OK         bool        `json:"ok"`
	Error      string      `json:"error,omitempty"`
}

type DiscoveryFailure struct {
	Tick   uint64 `json:"tick"`
	Pos    [3]int `json:"pos"`
	Reason string `json:"reason"`
}

func New(cfg WorldConfig, logger *log.Logger) *World {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	w := &World{
		cfg:           cfg,
		log:           logger,
		tracer:        otel.Tracer("hydronet/world"),
		grid:          map[fluid.Pos]devices.Device{},
		nets:          fluid.NewManager(cfg.Flow),
		cmds:          make(chan Command, 1024),
		admin:         make(chan adminSnapshotReq, 8),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	w.disc = fluid.NewDiscovery(w.nets, w, logger)
	w.disc.OnFailure(w.recordFailure)
	return w
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Config() WorldConfig { return w.cfg }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Networks exposes the registry for read-only inspection from the loop
// goroutine (tests, replay).
func (w *World) Networks() *fluid.Manager { return w.nets }

// DeviceAt and BlockAt make World the fluid.Grid that discovery walks.
func (w *World) DeviceAt(p fluid.Pos) fluid.Device {
	d, ok := w.grid[p]
	if !ok {
		return nil
	}
	return d
}

func (w *World) BlockAt(p fluid.Pos) fluid.Block {
	if b, ok := w.grid[p].(fluid.Block); ok {
		return b
	}
	return nil
}

// Device returns the concrete device at p.
func (w *World) Device(p fluid.Pos) (devices.Device, bool) {
	d, ok := w.grid[p]
	return d, ok
}

func (w *World) positions() []fluid.Pos {
	if w.order == nil {
		w.order = make([]fluid.Pos, 0, len(w.grid))
		for p := range w.grid {
			w.order = append(w.order, p)
		}
		fluid.SortPositions(w.order)
	}
	return w.order
}

func (w *World) aquiferAt(p fluid.Pos) float64 {
	return gen.AquiferAt(w.cfg.Seed, p.X, p.Z, w.cfg.AquiferRegionSize, w.cfg.AquiferMinPermille)
}

func (w *World) recordFailure(p fluid.Pos, reason string) {
	w.counters.DiscoveryFailures++
	name := ids.FormatPos(p.ToArray())
	if d, ok := w.grid[p]; ok {
		name = ids.DeviceID(string(d.Kind()), p.ToArray())
	}
	w.log.Printf("discovery dropped %s: %s", name, reason)
	w.failures = append(w.failures, DiscoveryFailure{Tick: w.tick.Load(), Pos: p.ToArray(), Reason: reason})
}

func sortedNetworkIDs(nws []*fluid.Network) []uint64 {
	ids := make([]uint64, 0, len(nws))
	for _, nw := range nws {
		ids = append(ids, nw.ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
