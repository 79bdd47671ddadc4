package metrics

import (
	"context"

	"github.com/gridsingularity/d3a/core/events"
	"github.com/gridsingularity/d3a/core/journal"
	coremetrics "github.com/gridsingularity/d3a/core/metrics"
	"github.com/gridsingularity/d3a/core/protocol"
	"github.com/gridsingularity/d3a/infra/logger"
)

// StartEventCollector subscribes to the protocol buses and forwards events
// to sink. Command events are appended to store when it is non-nil.
// It stops when the context is canceled or every bus is closed; the
// returned channel is closed once the collector has exited.
func StartEventCollector(ctx context.Context, buses protocol.Buses, sink coremetrics.Sink, store journal.Store, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	var (
		cmds      <-chan events.CommandEvent
		ledger    <-chan events.LedgerEvent
		lifecycle <-chan events.LifecycleEvent
	)
	if buses.Commands != nil {
		cmds = buses.Commands.Subscribe()
	}
	if buses.Ledger != nil {
		ledger = buses.Ledger.Subscribe()
	}
	if buses.Lifecycle != nil {
		lifecycle = buses.Lifecycle.Subscribe()
	}
	ledgerRec, _ := sink.(coremetrics.LedgerRecorder)
	lifecycleRec, _ := sink.(coremetrics.LifecycleRecorder)

	go func() {
		defer close(done)
		defer func() {
			if cmds != nil {
				buses.Commands.Unsubscribe(cmds)
			}
			if ledger != nil {
				buses.Ledger.Unsubscribe(ledger)
			}
			if lifecycle != nil {
				buses.Lifecycle.Unsubscribe(lifecycle)
			}
		}()
		for cmds != nil || ledger != nil || lifecycle != nil {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-cmds:
				if !ok {
					cmds = nil
					continue
				}
				if err := sink.RecordCommand(ev); err != nil {
					log.Warnf("record command: %v", err)
				}
				if store != nil {
					if err := store.Append(ctx, journal.FromEvent(ev)); err != nil {
						log.Errorf("journal append: %v", err)
					}
				}
			case ev, ok := <-ledger:
				if !ok {
					ledger = nil
					continue
				}
				if ledgerRec != nil {
					if err := ledgerRec.RecordLedger(ev); err != nil {
						log.Warnf("record ledger: %v", err)
					}
				}
			case ev, ok := <-lifecycle:
				if !ok {
					lifecycle = nil
					continue
				}
				if lifecycleRec != nil {
					if err := lifecycleRec.RecordLifecycle(ev); err != nil {
						log.Warnf("record lifecycle: %v", err)
					}
				}
			}
		}
	}()
	return done
}
