package metrics

import (
	"errors"
	"testing"

	"github.com/gridsingularity/d3a/core/events"
)

type recordSink struct {
	count int
	err   error
}

func (r *recordSink) RecordCommand(events.CommandEvent) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordLedger(events.LedgerEvent) error {
	r.count++
	return nil
}

// commandOnly does not implement the optional recorders.
type commandOnly struct{ count int }

func (c *commandOnly) RecordCommand(events.CommandEvent) error {
	c.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &commandOnly{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordCommand(events.CommandEvent{}); err != nil {
		t.Fatalf("record command: %v", err)
	}
	if err := m.RecordLedger(events.LedgerEvent{}); err != nil {
		t.Fatalf("record ledger: %v", err)
	}
	if err := m.RecordLifecycle(events.LifecycleEvent{}); err != nil {
		t.Fatalf("record lifecycle: %v", err)
	}
	if s1.count != 2 || s2.count != 1 {
		t.Fatalf("events not forwarded: %d %d", s1.count, s2.count)
	}
}

func TestMultiSinkStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	if err := NewMultiSink(s1, s2).RecordCommand(events.CommandEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s2.count != 0 {
		t.Fatalf("second sink must not be called")
	}
}
