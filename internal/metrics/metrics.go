// Package metrics tracks per-connection counters observed by netconn,
// server and client: bytes moved, drops by reason, and latency samples.
package metrics

import (
	"sync"
	"time"
)

// ConnectionMetrics accumulates counters for a single peer connection.
// A nil *ConnectionMetrics is valid and every method is a no-op on it, so
// callers can wire it in optionally without branching.
type ConnectionMetrics struct {
	mu sync.RWMutex

	bytesSent     int64
	bytesReceived int64
	drops         map[string]int64
	latencies     []time.Duration
	maxLatencies  int
}

// New constructs an empty ConnectionMetrics tracker. maxLatencySamples
// bounds the retained latency history; non-positive falls back to 128.
func New(maxLatencySamples int) *ConnectionMetrics {
	if maxLatencySamples <= 0 {
		maxLatencySamples = 128
	}
	return &ConnectionMetrics{
		drops:        make(map[string]int64),
		maxLatencies: maxLatencySamples,
	}
}

// ObserveSend records an outgoing datagram's size.
func (m *ConnectionMetrics) ObserveSend(payloadBytes int) {
	if m == nil || payloadBytes <= 0 {
		return
	}
	m.mu.Lock()
	m.bytesSent += int64(payloadBytes)
	m.mu.Unlock()
}

// ObserveReceive records an incoming datagram's size.
func (m *ConnectionMetrics) ObserveReceive(payloadBytes int) {
	if m == nil || payloadBytes <= 0 {
		return
	}
	m.mu.Lock()
	m.bytesReceived += int64(payloadBytes)
	m.mu.Unlock()
}

// ObserveDrop increments the counter for a drop reason, e.g. "duplicate",
// "out_of_window", "protocol_id_mismatch", "overflow".
func (m *ConnectionMetrics) ObserveDrop(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

// ObserveLatency appends a round-trip latency sample, evicting the oldest
// sample once the retained history exceeds maxLatencySamples.
func (m *ConnectionMetrics) ObserveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	if len(m.latencies) > m.maxLatencies {
		m.latencies = m.latencies[len(m.latencies)-m.maxLatencies:]
	}
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of the accumulated counters.
type Snapshot struct {
	BytesSent     int64
	BytesReceived int64
	Drops         map[string]int64
	LatencySamples []time.Duration
}

// Snapshot returns a defensive copy of the current counters.
func (m *ConnectionMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	drops := make(map[string]int64, len(m.drops))
	for k, v := range m.drops {
		drops[k] = v
	}
	latencies := make([]time.Duration, len(m.latencies))
	copy(latencies, m.latencies)

	return Snapshot{
		BytesSent:      m.bytesSent,
		BytesReceived:  m.bytesReceived,
		Drops:          drops,
		LatencySamples: latencies,
	}
}
