// Package stats accumulates named event counters for the transport
// layer and mirrors them into Prometheus.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter names recorded by the transport layer.
const (
	BytesReceived          = "bytes_received"
	BytesSent              = "bytes_sent"
	MessagesReceived       = "messages_received"
	MessagesInvalidVersion = "messages_invalid_version"
	MessagesMalformed      = "messages_malformed"
	MessagesUnroutable     = "messages_unroutable"
	SendQueueDrops         = "send_queue_drops"
)

// Sink receives counter increments. Components record events through
// this interface only; the Registry below is the production sink.
type Sink interface {
	Add(name string, delta int64)
}

// Registry is an in-memory name-to-value counter table whose increments
// are mirrored into a Prometheus counter vector. All methods are safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]int64
	vec      *prometheus.CounterVec
}

// NewRegistry creates a Registry and registers its counter vector with
// reg. A nil reg skips Prometheus registration.
//
// Postcondition: Returns a Registry with every counter at zero.
func NewRegistry(reg prometheus.Registerer) *Registry {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stormfell",
		Subsystem: "transport",
		Name:      "events_total",
		Help:      "Transport layer event counts by name.",
	}, []string{"name"})
	if reg != nil {
		reg.MustRegister(vec)
	}
	return &Registry{
		counters: make(map[string]int64),
		vec:      vec,
	}
}

// Add increments the named counter by delta.
//
// Precondition: delta must be >= 0.
func (r *Registry) Add(name string, delta int64) {
	r.mu.Lock()
	r.counters[name] += delta
	r.mu.Unlock()
	r.vec.WithLabelValues(name).Add(float64(delta))
}

// Get returns the current value of the named counter, or zero if it was
// never incremented.
func (r *Registry) Get(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// Snapshot returns a copy of every counter.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counters))
	for name, v := range r.counters {
		out[name] = v
	}
	return out
}
