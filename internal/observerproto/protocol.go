package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the subscription.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Only stream these networks. Empty means all of them.
	Networks []uint64 `json:"networks,omitempty"`

	// Per-device state for the streamed networks, capped at MaxDevices.
	IncludeDevices bool `json:"include_devices,omitempty"`
	MaxDevices     int  `json:"max_devices,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	DeviceKinds     []string    `json:"device_kinds"`
}

type WorldParams struct {
	TickRateHz          int        `json:"tick_rate_hz"`
	TickDT              float64    `json:"tick_dt"`
	Seed                int64      `json:"seed"`
	DiscoveryDelayTicks int        `json:"discovery_delay_ticks"`
	Flow                FlowParams `json:"flow"`
}

type FlowParams struct {
	BaseConductance float64 `json:"base_conductance"`
	MaxFlowPerTick  float64 `json:"max_flow_per_tick"`
	Damping         float64 `json:"damping"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Devices     int     `json:"devices"`
	TotalVolume float64 `json:"total_volume"`
	Transfers   int     `json:"transfers"`
	Moved       float64 `json:"moved"`

	Networks     []NetworkState `json:"networks"`
	DeviceStates []DeviceState  `json:"device_states,omitempty"`
	Events       []Event        `json:"events,omitempty"`
}

type NetworkState struct {
	ID       uint64  `json:"id"`
	Members  int     `json:"members"`
	Volume   float64 `json:"volume"`
	Capacity float64 `json:"capacity"`
}

type DeviceState struct {
	Kind      string  `json:"kind"`
	Pos       [3]int  `json:"pos"`
	NetworkID uint64  `json:"network_id"`
	Volume    float64 `json:"volume"`
	Pressure  float64 `json:"pressure"`
}

// Event reports one world edit or a dropped discovery pass.
type Event struct {
	Kind   string `json:"kind"`
	Pos    [3]int `json:"pos"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}
