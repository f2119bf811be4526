package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Devices            int `json:"devices"`
	Networks           int `json:"networks"`
	Observers          int `json:"observers"`
	PendingDiscoveries int `json:"pending_discoveries"`

	TotalVolume   float64 `json:"total_volume"`
	TotalCapacity float64 `json:"total_capacity"`

	// Last tick only.
	Intents   int     `json:"intents"`
	Transfers int     `json:"transfers"`
	Moved     float64 `json:"moved"`

	Counters Counters `json:"counters"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Commands int `json:"commands"`
	Join     int `json:"observer_join"`
	Leave    int `json:"observer_leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m, _ := w.metrics.Load().(WorldMetrics)
	return m
}
