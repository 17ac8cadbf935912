package client

import (
	"sync"
	"time"
)

// ewmaWeight is the smoothing factor for the latency moving average
const ewmaWeight = 0.2

// Metrics keeps lightweight request statistics. The numbers are advisory,
// surfaced for diagnostics; nothing in the client branches on them.
type Metrics struct {
	mu          sync.Mutex
	requests    int64
	errors      int64
	avgLatency  time.Duration
	lastLatency time.Duration
}

// MetricsSnapshot is a point-in-time copy of the client metrics
type MetricsSnapshot struct {
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	AverageLatency time.Duration `json:"averageLatency"`
	LastLatency    time.Duration `json:"lastLatency"`
}

func (m *Metrics) record(latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	if failed {
		m.errors++
	}
	m.lastLatency = latency
	if m.avgLatency == 0 {
		m.avgLatency = latency
		return
	}
	m.avgLatency = time.Duration(float64(m.avgLatency)*(1-ewmaWeight) + float64(latency)*ewmaWeight)
}

// Snapshot returns a copy of the current counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Requests:       m.requests,
		Errors:         m.errors,
		AverageLatency: m.avgLatency,
		LastLatency:    m.lastLatency,
	}
}
