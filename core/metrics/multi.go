package metrics

import "github.com/gridsingularity/d3a/core/events"

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCommand forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordCommand(ev events.CommandEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordCommand(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordLedger forwards ledger snapshots when supported by the sink.
func (m *MultiSink) RecordLedger(ev events.LedgerEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(LedgerRecorder); ok {
			if err := rec.RecordLedger(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordLifecycle forwards lifecycle events when supported by the sink.
func (m *MultiSink) RecordLifecycle(ev events.LifecycleEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(LifecycleRecorder); ok {
			if err := rec.RecordLifecycle(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
