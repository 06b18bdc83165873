// Package metrics defines the Prometheus collectors for replica coordination.
// Collectors live on a Metrics value registered against an injected
// Registerer, so several nodes can run in one process (tests) without
// colliding on the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for replica sub-operations.
const (
	OutcomeAck     = "ack"
	OutcomeFailure = "failure"
)

// Metrics bundles the node's collectors.
type Metrics struct {
	ReplicaOps      *prometheus.CounterVec
	QuorumDecisions *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StreamedRecords prometheus.Counter
	SkippedRecords  prometheus.Counter
	InflightPooled  prometheus.Gauge
}

// New creates the collectors and registers them on reg (the default
// registerer when nil). Already registered collectors are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ReplicaOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynakv",
			Name:      "replica_operations_total",
			Help:      "Replica sub-operations by operation, target and outcome.",
		}, []string{"op", "target", "outcome"}),
		QuorumDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynakv",
			Name:      "quorum_decisions_total",
			Help:      "Coordinated requests by operation and whether the quorum was met.",
		}, []string{"op", "result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dynakv",
			Name:      "coordinated_request_duration_seconds",
			Help:      "Latency of coordinated requests, fan-out included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		StreamedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynakv",
			Name:      "range_streamed_records_total",
			Help:      "Records written to range scan streams.",
		}),
		SkippedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynakv",
			Name:      "range_skipped_records_total",
			Help:      "Stored entries left out of range scans because they could not be decoded.",
		}),
		InflightPooled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dynakv",
			Name:      "pooled_requests_inflight",
			Help:      "Requests currently holding a worker pool slot.",
		}),
	}

	var err error
	if m.ReplicaOps, err = register(reg, m.ReplicaOps); err != nil {
		return nil, err
	}
	if m.QuorumDecisions, err = register(reg, m.QuorumDecisions); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = register(reg, m.RequestDuration); err != nil {
		return nil, err
	}
	if m.StreamedRecords, err = register(reg, m.StreamedRecords); err != nil {
		return nil, err
	}
	if m.SkippedRecords, err = register(reg, m.SkippedRecords); err != nil {
		return nil, err
	}
	if m.InflightPooled, err = register(reg, m.InflightPooled); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveReplica counts one replica sub-operation.
func (m *Metrics) ObserveReplica(op string, local bool, err error) {
	target := "remote"
	if local {
		target = "local"
	}
	outcome := OutcomeAck
	if err != nil {
		outcome = OutcomeFailure
	}
	m.ReplicaOps.WithLabelValues(op, target, outcome).Inc()
}

// ObserveQuorum counts one coordinated request and its latency.
func (m *Metrics) ObserveQuorum(op string, met bool, started time.Time) {
	result := "met"
	if !met {
		result = "not_met"
	}
	m.QuorumDecisions.WithLabelValues(op, result).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
