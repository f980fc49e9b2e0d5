package espresso

import (
	"sort"
	"sync"
	"time"
)

// MetricsSnapshot represents a point-in-time snapshot of all metrics
type MetricsSnapshot struct {
	// Broadcast counters
	BroadcastsTotal   int `json:"broadcasts_total"`
	BroadcastsSuccess int `json:"broadcasts_success"`
	BroadcastsFailed  int `json:"broadcasts_failed"`

	// Broadcast latency (milliseconds, send to last node reply)
	LatencyAvgMs float64 `json:"latency_avg_ms"`
	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	LatencyP99Ms float64 `json:"latency_p99_ms"`
	LatencyMinMs float64 `json:"latency_min_ms"`
	LatencyMaxMs float64 `json:"latency_max_ms"`

	// In-flight broadcasts
	PendingDepth    int `json:"pending_depth"`
	PendingMaxDepth int `json:"pending_max_depth"`

	// Object lifecycle
	ObjectsCreated int `json:"objects_created"`
	ObjectsDeleted int `json:"objects_deleted"`
	ObjectsLive    int `json:"objects_live"`

	// Attached compute nodes
	NodesAttached int `json:"nodes_attached"`

	// Time window
	WindowSeconds float64 `json:"window_seconds"`

	// Timestamp
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is a thread-safe metrics collector for the Coordinator
type Metrics struct {
	mu sync.RWMutex

	// Configuration
	maxLatencySamples int
	windowSeconds     float64

	// Counters
	broadcastsTotal   int
	broadcastsSuccess int
	broadcastsFailed  int
	objectsCreated    int
	objectsDeleted    int
	nodesAttached     int

	// In-flight tracking
	pendingDepth    int
	pendingMaxDepth int

	// Latency samples (circular buffer via slice)
	latencies []float64
}

// NewMetrics creates a new Metrics instance
func NewMetrics(maxLatencySamples int, windowSeconds float64) *Metrics {
	if maxLatencySamples <= 0 {
		maxLatencySamples = 1000
	}
	if windowSeconds <= 0 {
		windowSeconds = 60.0
	}

	return &Metrics{
		maxLatencySamples: maxLatencySamples,
		windowSeconds:     windowSeconds,
		latencies:         make([]float64, 0, maxLatencySamples),
	}
}

// StartBroadcast starts tracking a broadcast.
// Returns start timestamp for the later EndBroadcast() call
func (m *Metrics) StartBroadcast() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.broadcastsTotal++
	m.pendingDepth++
	if m.pendingDepth > m.pendingMaxDepth {
		m.pendingMaxDepth = m.pendingDepth
	}

	return time.Now()
}

// EndBroadcast ends tracking a broadcast.
// Returns latency in milliseconds
func (m *Metrics) EndBroadcast(startTime time.Time, success bool) float64 {
	latencyMs := float64(time.Since(startTime).Microseconds()) / 1000.0

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pendingDepth--

	if success {
		m.broadcastsSuccess++
	} else {
		m.broadcastsFailed++
	}

	// Store latency sample (circular buffer)
	if len(m.latencies) >= m.maxLatencySamples {
		// Remove oldest (shift left)
		m.latencies = m.latencies[1:]
	}
	m.latencies = append(m.latencies, latencyMs)

	return latencyMs
}

// RecordObjectCreated records a successful object creation broadcast
func (m *Metrics) RecordObjectCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objectsCreated++
}

// RecordObjectDeleted records a successful object deletion broadcast
func (m *Metrics) RecordObjectDeleted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objectsDeleted++
}

// RecordNodeAttached records a compute node joining
func (m *Metrics) RecordNodeAttached() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodesAttached++
}

// RecordNodeDetached records a compute node leaving
func (m *Metrics) RecordNodeDetached() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nodesAttached > 0 {
		m.nodesAttached--
	}
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		BroadcastsTotal:   m.broadcastsTotal,
		BroadcastsSuccess: m.broadcastsSuccess,
		BroadcastsFailed:  m.broadcastsFailed,
		PendingDepth:      m.pendingDepth,
		PendingMaxDepth:   m.pendingMaxDepth,
		ObjectsCreated:    m.objectsCreated,
		ObjectsDeleted:    m.objectsDeleted,
		ObjectsLive:       m.objectsCreated - m.objectsDeleted,
		NodesAttached:     m.nodesAttached,
		WindowSeconds:     m.windowSeconds,
		Timestamp:         time.Now(),
	}

	// Calculate latency percentiles
	if len(m.latencies) > 0 {
		latencies := make([]float64, len(m.latencies))
		copy(latencies, m.latencies)
		sort.Float64s(latencies)

		n := len(latencies)
		snapshot.LatencyMinMs = latencies[0]
		snapshot.LatencyMaxMs = latencies[n-1]

		// Calculate average
		sum := 0.0
		for _, v := range latencies {
			sum += v
		}
		snapshot.LatencyAvgMs = sum / float64(n)

		// Calculate percentiles
		snapshot.LatencyP50Ms = latencies[n*50/100]
		snapshot.LatencyP95Ms = latencies[n*95/100]
		snapshot.LatencyP99Ms = latencies[n*99/100]
	}

	return snapshot
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.broadcastsTotal = 0
	m.broadcastsSuccess = 0
	m.broadcastsFailed = 0
	m.objectsCreated = 0
	m.objectsDeleted = 0
	m.nodesAttached = 0
	m.pendingDepth = 0
	m.pendingMaxDepth = 0
	m.latencies = make([]float64, 0, m.maxLatencySamples)
}
