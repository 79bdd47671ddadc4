package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsReceived *prometheus.CounterVec
	commandsRejected *prometheus.CounterVec
	commandsExecuted *prometheus.CounterVec
	pendingCommands  *prometheus.GaugeVec
	drainDuration    prometheus.Histogram
	publishFailures  prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.GaugeVec, prometheus.Histogram, prometheus.Counter) {
	rec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "participant_commands_received_total",
			Help: "Participant commands received while connected",
		},
		[]string{"command"},
	)
	rej := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "participant_commands_rejected_total",
			Help: "Participant commands rejected by validation",
		},
		[]string{"command"},
	)
	exe := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "participant_commands_executed_total",
			Help: "Queued participant commands executed, by terminal status",
		},
		[]string{"command", "status"},
	)
	pend := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "participant_pending_commands",
			Help: "Commands waiting for the next tick",
		},
		[]string{"device"},
	)
	drain := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "participant_drain_duration_seconds",
			Help:    "Time spent draining the command queue of one device",
			Buckets: prometheus.DefBuckets,
		},
	)
	fail := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "participant_publish_failures_total",
			Help: "Responses and events that could not be published",
		},
	)
	return rec, rej, exe, pend, drain, fail
}

func init() {
	commandsReceived, commandsRejected, commandsExecuted, pendingCommands, drainDuration, publishFailures = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers protocol metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandsReceived, commandsRejected, commandsExecuted, pendingCommands, drainDuration, publishFailures)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandsReceived, commandsRejected, commandsExecuted, pendingCommands, drainDuration, publishFailures = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
