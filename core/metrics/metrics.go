package metrics

import "github.com/gridsingularity/d3a/core/events"

// Sink records participant command outcomes.
type Sink interface {
	RecordCommand(ev events.CommandEvent) error
}

// LedgerRecorder is implemented by sinks able to record ledger snapshots.
type LedgerRecorder interface {
	RecordLedger(ev events.LedgerEvent) error
}

// LifecycleRecorder is implemented by sinks able to record device state
// changes.
type LifecycleRecorder interface {
	RecordLifecycle(ev events.LifecycleEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCommand(events.CommandEvent) error     { return nil }
func (NopSink) RecordLedger(events.LedgerEvent) error       { return nil }
func (NopSink) RecordLifecycle(events.LifecycleEvent) error { return nil }
