package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridsingularity/d3a/core/events"
	coremetrics "github.com/gridsingularity/d3a/core/metrics"
)

// PromSink records command outcomes, ledger snapshots and lifecycle changes
// as Prometheus metrics.
type PromSink struct {
	commands  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	ledger    *prometheus.GaugeVec
	connected *prometheus.GaugeVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participant_command_outcomes_total",
		Help: "Participant command outcomes by device, stage and status",
	}, []string{"device", "command", "stage", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "participant_command_latency_seconds",
		Help:    "Time between command receipt and execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"device", "command"})
	ledger := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "device_ledger_energy_kwh",
		Help: "Ledger quantities of the current slot",
	}, []string{"device", "quantity"})
	connected := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "participant_connected",
		Help: "1 while an external participant trades for the device",
	}, []string{"device"})

	var err error
	if commands, err = register(reg, commands); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if ledger, err = register(reg, ledger); err != nil {
		return nil, err
	}
	if connected, err = register(reg, connected); err != nil {
		return nil, err
	}
	return &PromSink{commands: commands, latency: latency, ledger: ledger, connected: connected}, nil
}

// register returns the collector already registered under the same
// descriptor when there is one.
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

// RecordCommand counts the outcome and observes execution latency.
func (s *PromSink) RecordCommand(ev events.CommandEvent) error {
	s.commands.WithLabelValues(ev.Device, ev.Command, ev.Stage, ev.Status).Inc()
	if ev.Stage == "execution" && ev.Duration > 0 {
		s.latency.WithLabelValues(ev.Device, ev.Command).Observe(ev.Duration.Seconds())
	}
	return nil
}

// RecordLedger exposes the snapshot quantities as gauges.
func (s *PromSink) RecordLedger(ev events.LedgerEvent) error {
	for q, v := range map[string]float64{
		"energy_to_sell": ev.EnergyToSell,
		"energy_to_buy":  ev.EnergyToBuy,
		"offered_sell":   ev.OfferedSell,
		"pledged_sell":   ev.PledgedSell,
		"offered_buy":    ev.OfferedBuy,
		"pledged_buy":    ev.PledgedBuy,
	} {
		s.ledger.WithLabelValues(ev.Device, q).Set(v)
	}
	return nil
}

// RecordLifecycle tracks the connection flag of the device.
func (s *PromSink) RecordLifecycle(ev events.LifecycleEvent) error {
	v := 0.0
	if ev.Connected {
		v = 1
	}
	s.connected.WithLabelValues(ev.Device).Set(v)
	return nil
}
