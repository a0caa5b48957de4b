package metrics

import "sync"

// Counter names. Each becomes an `event` label on the exported counter.
const (
	WSConnections    = "ws_connections"
	RoomsCreated     = "rooms_created"
	MessagesRouted   = "messages_routed"
	RoutingMisses    = "routing_miss"
	DeliveryFailures = "delivery_failure"

	DropReasonRateLimited = "rate_limited"
	DropReasonQueueFull   = "queue_drop_oldest"

	FramesProcessed   = "frames_processed"
	FallbackInference = "fallback_inference"
	ImageDecodeErrors = "image_decode_error"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type exists to keep relay and pipeline accounting testable while still
// being scrapeable via the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
